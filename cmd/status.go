package cmd

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/jobs"
)

const defaultStatusLimit = 10

// newStatusCmd creates the 'crawl-status' subcommand.
func newStatusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "crawl-status [job-id]",
		Short: "Shows recent jobs or one job's progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				report, err := a.Jobs().Status(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("crawl-status: %w", err)
				}
				printJobDetail(out, report)
				return nil
			}
			list, err := a.Jobs().Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("crawl-status: %w", err)
			}
			printJobTable(out, list)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultStatusLimit, "number of recent jobs to list")
	return cmd
}

func printJobSummary(w io.Writer, job crawler.Job) {
	c := job.Counters
	fmt.Fprintf(w, "Job %s %s: seen=%d found=%d not_found=%d failed=%d skipped=%d\n",
		job.ID, job.Status, c.Seen, c.Succeeded, c.NotFound, c.Failed, c.Skipped)
	if job.ErrorText != "" {
		fmt.Fprintf(w, "  error: %s\n", job.ErrorText)
	}
}

func printJobTable(w io.Writer, list []jobs.Report) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No jobs yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSCOPE\tPROCESSED\tFOUND\tPAGE\tINDEX")
	for _, report := range list {
		job := report.Job
		page, index := "-", "-"
		if cp := report.Checkpoint; cp != nil {
			page, index = strconv.Itoa(cp.Page), strconv.Itoa(cp.NextIndex)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			job.ID,
			job.Status,
			job.Scope.String(),
			job.Counters.Processed(),
			job.Counters.Succeeded,
			page,
			index,
		)
	}
	_ = tw.Flush()
}

func printJobDetail(w io.Writer, report jobs.Report) {
	job := report.Job
	printJobSummary(w, job)
	fmt.Fprintf(w, "  scope:    %s\n", job.Scope.String())
	fmt.Fprintf(w, "  created:  %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Fprintf(w, "  started:  %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		fmt.Fprintf(w, "  finished: %s\n", job.FinishedAt.Format(time.RFC3339))
	}
	cp := report.Checkpoint
	if cp == nil {
		fmt.Fprintln(w, "  checkpoint: none")
		return
	}
	pages := "?"
	if cp.TotalPages > 0 {
		pages = fmt.Sprint(cp.TotalPages)
	}
	fmt.Fprintf(w, "  checkpoint: page %d of %s, index %d of %d", cp.Page, pages, cp.NextIndex, len(cp.Entities))
	if inflight := cp.InFlightIndices(); len(inflight) > 0 {
		fmt.Fprintf(w, ", in flight %v", inflight)
	}
	fmt.Fprintln(w)
}
