package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mpharvest/pkg/logger"
	"mpharvest/pkg/statsapi"
	"mpharvest/pkg/store"
	"mpharvest/pkg/updater"
)

var (
	// Theme command flags
	themeID     int64
	themeDryRun bool
	themeYear   int
	themeActive bool
)

// themeCmd groups theme subcommands
var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Manage themed campaign periods",
	Long: `Themes group articles by publication period. When a theme's end
date is tomorrow, the update subcommand refreshes reading counts for
every article published inside the theme's date range.`,
}

var themeUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh reading counts for a closing theme",
	Long: `Refresh reading counts for every article inside a theme's period.

Without --id, the active theme whose end date falls on tomorrow is
selected. If no theme is closing, the command exits without doing
anything.`,
	Example: `  # Run the nightly theme check
  mpharvest theme update

  # Force a specific theme regardless of its end date
  mpharvest theme update --id 3`,
	Run: runThemeUpdate,
}

var themeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active themes",
	Run:   runThemeList,
}

var themeAddCmd = &cobra.Command{
	Use:   "add <name> <start-date> <end-date>",
	Short: "Add a theme",
	Long:  `Add a theme with dates in YYYY-MM-DD form.`,
	Example: `  mpharvest theme add "Spring Festival" 2026-02-10 2026-02-24
  mpharvest theme add "Summer Reading" 2026-07-01 2026-08-31 --year 2026`,
	Args: cobra.ExactArgs(3),
	Run:  runThemeAdd,
}

func init() {
	rootCmd.AddCommand(themeCmd)
	themeCmd.AddCommand(themeUpdateCmd)
	themeCmd.AddCommand(themeListCmd)
	themeCmd.AddCommand(themeAddCmd)

	themeUpdateCmd.Flags().Int64Var(&themeID, "id", 0, "update a specific theme instead of the one ending tomorrow")
	themeUpdateCmd.Flags().BoolVar(&themeDryRun, "dry-run", false, "list candidates without calling the provider")

	themeAddCmd.Flags().IntVar(&themeYear, "year", 0, "campaign year (defaults to the start date's year)")
	themeAddCmd.Flags().BoolVar(&themeActive, "active", true, "whether the theme is active")
}

func runThemeUpdate(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load configuration", err)
	}
	if !themeDryRun && cfg.StatsAPI.Key == "" {
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

	var (
		result *updater.Result
		theme  *store.Theme
	)
	if themeID > 0 {
		result, theme, err = u.RunThemeByID(ctx, themeID, themeDryRun)
	} else {
		result, theme, err = u.RunTheme(ctx, themeDryRun)
	}
	if err != nil {
		fatal("theme update failed", err)
	}
	if theme == nil {
		fmt.Println("No theme ending tomorrow, nothing to do")
		return
	}

	if themeDryRun {
		fmt.Printf("Dry run: theme %q (%s to %s), %d candidates\n",
			theme.Name, theme.StartDate, theme.EndDate, result.Candidates)
		return
	}
	fmt.Printf("Theme %q finished: %d updated, %d failed of %d candidates\n",
		theme.Name, result.Updated, result.Failed, result.Candidates)
}

func runThemeList(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		fatal("failed to open database", err)
	}
	defer st.Close()

	themes, err := st.ListActiveThemes(context.Background())
	if err != nil {
		fatal("failed to list themes", err)
	}
	if len(themes) == 0 {
		fmt.Println("No active themes")
		return
	}

	for _, t := range themes {
		fmt.Printf("  %3d  %-24s %s to %s (year %d)\n", t.ID, t.Name, t.StartDate, t.EndDate, t.Year)
	}
}

func runThemeAdd(cmd *cobra.Command, args []string) {
	name, startDate, endDate := args[0], args[1], args[2]

	start, err := time.ParseInLocation(store.DateLayout, startDate, time.Local)
	if err != nil {
		fatal("invalid start date", err)
	}
	if _, err := time.ParseInLocation(store.DateLayout, endDate, time.Local); err != nil {
		fatal("invalid end date", err)
	}
	if endDate < startDate {
		fatal("invalid period", fmt.Errorf("end date %s is before start date %s", endDate, startDate))
	}

	year := themeYear
	if year == 0 {
		year = start.Year()
	}

	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		fatal("failed to open database", err)
	}
	defer st.Close()

	theme := &store.Theme{
		Year:      year,
		Name:      name,
		StartDate: startDate,
		EndDate:   endDate,
		Active:    themeActive,
	}
	if err := st.AddTheme(context.Background(), theme); err != nil {
		fatal("failed to add theme", err)
	}

	fmt.Printf("Added theme %q (%s to %s)\n", name, startDate, endDate)
}
