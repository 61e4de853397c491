package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mpharvest/pkg/logger"
	"mpharvest/pkg/statsapi"
	"mpharvest/pkg/updater"
)

var (
	// Stats command flags
	statsDryRun     bool
	statsDays       int
	statsRefreshAge int
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Backfill and refresh article reading counts",
	Long: `Fetch reading counts from the stats provider and write them back.

Two selections are combined: articles from the trailing window that
never got counts, and every article published exactly the configured
number of days ago, whose counts are refreshed unconditionally before
the platform stops serving them.`,
	Example: `  # Run the daily update
  mpharvest stats

  # See what would be updated without spending API credit
  mpharvest stats --dry-run

  # Scan 14 days back instead of the configured window
  mpharvest stats --days 14`,
	Run: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().BoolVar(&statsDryRun, "dry-run", false, "list candidates without calling the provider")
	statsCmd.Flags().IntVar(&statsDays, "days", 0, "trailing days to scan for missing counts (overrides config)")
	statsCmd.Flags().IntVar(&statsRefreshAge, "refresh-age", -1, "age in days of the day refreshed unconditionally (overrides config)")
}

func runStats(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	if statsDays > 0 {
		cfg.Update.DaysToCheck = statsDays
	}
	if statsRefreshAge >= 0 {
		cfg.Update.RefreshAgeDays = statsRefreshAge
	}
	if !statsDryRun && cfg.StatsAPI.Key == "" {
		fatal("no stats API key configured", fmt.Errorf("set one with 'mpharvest auth set-key' or MPHARVEST_STATS_KEY"))
	}

	st, err := openStore(cfg)
	if err != nil {
		fatal("failed to open database", err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stats := statsapi.NewClient(cfg.StatsAPI.BaseURL, cfg.StatsAPI.Key, cfg.StatsAPI.VerifyCode,
		cfg.StatsAPI.Timeout.Std(), cfg.StatsAPI.MinInterval.Std(), logger.GetLogger())
	u := updater.New(st, stats, cfg.Update, logger.GetLogger())

	result, err := u.Run(ctx, statsDryRun)
	if err != nil {
		fatal("reading-count update failed", err)
	}

	if statsDryRun {
		fmt.Printf("Dry run: %d candidates\n", result.Candidates)
		return
	}
	fmt.Printf("Update finished: %d updated, %d failed of %d candidates\n",
		result.Updated, result.Failed, result.Candidates)
}
