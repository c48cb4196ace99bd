// Package workflow drives one entity through the discovery, download,
// extraction and save stages.
package workflow

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// Outcome is the result a stage handler reports to the transition table.
type Outcome string

// Stage outcomes.
const (
	OutcomeSkip     Outcome = "skip"
	OutcomeNoSite   Outcome = "no_site"
	OutcomeHasSite  Outcome = "has_site"
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeSaved    Outcome = "saved"
)

// ErrInvalidTransition is returned when an outcome is not defined for a stage.
var ErrInvalidTransition = errors.New("invalid workflow transition")

// Start returns the initial state for an entity.
func Start(entityID string) crawler.StageState {
	return crawler.StageState{Stage: crawler.StageProcessEntity, EntityID: entityID}
}

// Next is the transition table. It is pure: the returned state is a new value
// and the input is left untouched.
func Next(state crawler.StageState, outcome Outcome) (crawler.StageState, error) {
	next := state.Clone()
	s := &next.Scratch

	switch state.Stage {
	case crawler.StageProcessEntity:
		switch outcome {
		case OutcomeSkip:
			s.Skipped = true
			next.Stage = crawler.StageSave
		case OutcomeNoSite:
			s.HasSite = false
			next.Stage = crawler.StageSearchFallback
		case OutcomeHasSite:
			s.HasSite = true
			next.Stage = crawler.StageCrawlSite
		default:
			return state, invalid(state.Stage, outcome)
		}

	case crawler.StageCrawlSite:
		switch outcome {
		case OutcomeFound:
			next.Stage = crawler.StageDownload
		case OutcomeNotFound:
			if s.FallbackAttempted {
				s.Status = notFoundStatus(s.HasSite)
				next.Stage = crawler.StageSave
				break
			}
			next.Stage = crawler.StageSearchFallback
		default:
			return state, invalid(state.Stage, outcome)
		}

	case crawler.StageSearchFallback:
		switch outcome {
		case OutcomeFound:
			s.FallbackAttempted = true
			next.Stage = crawler.StageDownload
		case OutcomeNotFound:
			s.FallbackAttempted = true
			s.Status = notFoundStatus(s.HasSite)
			next.Stage = crawler.StageSave
		default:
			return state, invalid(state.Stage, outcome)
		}

	case crawler.StageDownload:
		switch outcome {
		case OutcomeSuccess:
			next.Stage = crawler.StageExtract
		case OutcomeFailure:
			if s.FallbackAttempted {
				s.Status = crawler.CrawlStatusDownloadFailed
				next.Stage = crawler.StageSave
				break
			}
			s.Candidate = nil
			next.Stage = crawler.StageSearchFallback
		default:
			return state, invalid(state.Stage, outcome)
		}

	case crawler.StageExtract:
		switch outcome {
		case OutcomeSuccess:
			s.Status = crawler.CrawlStatusArtifactFound
		case OutcomeFailure:
			s.Status = crawler.CrawlStatusDownloadFailed
		default:
			return state, invalid(state.Stage, outcome)
		}
		next.Stage = crawler.StageSave

	case crawler.StageSave:
		if outcome != OutcomeSaved {
			return state, invalid(state.Stage, outcome)
		}
		next.Stage = crawler.StageDone

	default:
		return state, invalid(state.Stage, outcome)
	}
	return next, nil
}

func notFoundStatus(hasSite bool) crawler.CrawlStatus {
	if hasSite {
		return crawler.CrawlStatusSiteSearchedNotFound
	}
	return crawler.CrawlStatusNoSourceURL
}

func invalid(stage crawler.Stage, outcome Outcome) error {
	return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, outcome, stage)
}
