// Package crawler holds the domain model of the wine-list pipeline (jobs,
// checkpoints, entities, candidates) and the ports its adapters implement.
package crawler
