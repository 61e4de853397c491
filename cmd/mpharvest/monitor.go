package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mpharvest/pkg/logger"
	"mpharvest/pkg/monitor"
	"mpharvest/pkg/session"
)

var monitorWarnHours int

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check the cached session's remaining lifetime",
	Long: `Check how much lifetime the cached session has left on both clocks,
the cookie lifetime and the longer token lifetime. Intended for cron:
the exit code is non-zero when the session is expiring, expired, or
missing, so a wrapper can alert before a scheduled crawl would block
on an interactive login.`,
	Example: `  # Hourly cron check
  mpharvest monitor || notify-send "mpharvest session needs a re-login"

  # Warn a full day ahead
  mpharvest monitor --warn-hours 24`,
	Run: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().IntVar(&monitorWarnHours, "warn-hours", 12, "hours before expiry at which a clock counts as expiring")
}

func runMonitor(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	cache := session.NewCache(cfg.Session.CacheFile)
	mon := monitor.New(cache,
		time.Duration(cfg.Session.MaxAgeHours)*time.Hour,
		time.Duration(cfg.Session.TokenMaxAgeHours)*time.Hour,
		time.Duration(monitorWarnHours)*time.Hour,
		nil, logger.GetLogger())

	report, err := mon.Check(context.Background())
	if err != nil {
		fatal("session check failed", err)
	}

	if report.CookieStatus == monitor.StatusMissing {
		fmt.Println("No cached session, run 'mpharvest auth login'")
		os.Exit(1)
	}

	fmt.Printf("Session age: %s\n", report.Age.Round(time.Minute))
	fmt.Printf("  cookie: %-8s %s remaining\n", report.CookieStatus, remaining(report.CookieRemains))
	fmt.Printf("  token:  %-8s %s remaining\n", report.TokenStatus, remaining(report.TokenRemains))

	if report.NeedsAttention() {
		os.Exit(1)
	}
}

func remaining(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	return d.Round(time.Minute).String()
}
