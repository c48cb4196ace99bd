package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/jobs"
)

type crawlOptions struct {
	scope  string
	resume string
	entity string
	force  bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls a listing scope, one entity, or resumes a job",
		Long: `Starts a job over the configured listing, limited to --scope (a
distinction such as 3, 2, 1, gourmand or all) or to a single --entity given
by ID or name. --resume continues a paused or failed job from its checkpoint.
Interrupting the command pauses the job after in-flight entities finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.scope, "scope", "", "listing distinction to crawl (default from config)")
	cmd.Flags().StringVar(&opts.resume, "resume", "", "job ID to resume")
	cmd.Flags().StringVar(&opts.entity, "entity", "", "crawl only this entity (ID or name)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "recrawl entities that already have a wine list")
	cmd.MarkFlagsMutuallyExclusive("resume", "scope")
	cmd.MarkFlagsMutuallyExclusive("resume", "entity")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	runOpts := jobs.Options{Force: opts.force}

	var job crawler.Job
	switch {
	case opts.resume != "":
		job, err = a.Jobs().Resume(ctx, opts.resume, runOpts)
	case opts.entity != "":
		entity, ferr := a.Jobs().FindEntity(ctx, opts.entity)
		if ferr != nil {
			return fmt.Errorf("resolve entity: %w", ferr)
		}
		scope := a.Scope(opts.scope)
		scope.EntityID = entity.ID
		job, err = a.Jobs().Start(ctx, scope, runOpts)
	default:
		job, err = a.Jobs().Start(ctx, a.Scope(opts.scope), runOpts)
	}
	if job.ID != "" {
		printJobSummary(cmd.OutOrStdout(), job)
	}
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if job.Status == crawler.JobStatusPaused {
		fmt.Fprintf(cmd.OutOrStdout(), "Paused. Resume with: winerank crawl --resume %s\n", job.ID)
	}
	return nil
}
