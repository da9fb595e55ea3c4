package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3u-dvr/internal/config"
	"github.com/m3u-dvr/pkg/logger"
)

var (
	flagForce  bool
	flagDryRun bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one cleanup pass and exit",
	Long: `Finalizes finished and zombie jobs, deletes ghost records and prunes
dangling files older than cleanup.dangling_age. With --force every job is
finalized regardless of age or status; running workers are stopped first.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&flagForce, "force", false, "finalize every job, ignoring age and status")
	sweepCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "only list what would be cleaned")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	applyLogLevel(cfg.Server.LogLevel)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if flagDryRun {
		candidates, err := a.sweeper.FindCandidates(ctx, flagForce)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			fmt.Fprintf(cmd.OutOrStdout(), "%-7s %-12s %s\n", c.Reason, c.Job.Kind, c.Job.RecordingID)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d candidate(s)\n", len(candidates))
		return nil
	}

	report, err := a.sweeper.Sweep(ctx, flagForce)
	if err != nil {
		return err
	}
	dangling, err := a.sweeper.DeleteOldDanglingJobs(ctx, cfg.Cleanup.DanglingAge)
	if err != nil {
		logger.Warnf("⚠️ Dangling prune failed: %v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "candidates=%d finalized=%d deleted=%d failed=%d\n",
		len(report.Candidates), report.Finalized, report.Deleted, report.Failed)
	for class, n := range dangling {
		fmt.Fprintf(cmd.OutOrStdout(), "dangling %s=%d\n", class, n)
	}
	return nil
}
