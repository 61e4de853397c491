package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mpharvest/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage mpharvest configuration files.

Configuration is loaded from, in order of priority:
  - Command line flags (highest priority)
  - Environment variables (MPHARVEST_ prefix)
  - Configuration file
  - Default values (lowest priority)`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is created in the current directory as 'mpharvest.yaml' unless
a different path is given with the --config flag.`,
	Run: runConfigInit,
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the merged configuration from all sources. The stats API key is
masked.`,
	Run: runConfigShow,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Run:   runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	configPath := configFile
	if configPath == "" {
		configPath = "mpharvest.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(os.Stderr, "Configuration file already exists: %s\n", configPath)
		fmt.Fprintln(os.Stderr, "\nTo overwrite, first remove the existing file:")
		fmt.Fprintf(os.Stderr, "  rm %s\n", configPath)
		os.Exit(1)
	}

	exampleConfig := `# mpharvest configuration file
#
# Every option can also be set through environment variables prefixed
# with MPHARVEST_, for example MPHARVEST_DB_PATH or MPHARVEST_STATS_KEY.

database:
  # SQLite database file
  path: "mpharvest.db"

# Third-party reading stats provider
stats_api:
  base_url: "http://www.dsfdsf.cn"

  # API key. Leave empty to use the system keyring
  # ('mpharvest auth set-key') or MPHARVEST_STATS_KEY.
  key: ""

  # Optional verification code some plans require
  verify_code: ""

  timeout: 30s

  # Minimum spacing between stats requests
  min_interval: 200ms

session:
  # Where the login session is cached between runs
  cache_file: ""

  # How long the cached cookies stay usable
  max_age_hours: 90

  # How long the platform token stays usable (outlives the cookies)
  token_max_age_hours: 96

  # Interactive login attempts before giving up
  login_attempts: 3

crawl:
  # Account names to crawl
  accounts: []

  # Optional file with one account name per line, '#' starts a comment
  accounts_file: ""

  # How many days back from today to collect
  crawl_days: 7

  # Cap per account, 0 means no cap
  max_articles_per_account: 0

  # Listing page size
  page_size: 5

  # Courtesy delays, randomized within [min, max]
  item_delay_min: 2s
  item_delay_max: 5s
  account_delay_min: 10s
  account_delay_max: 20s

update:
  enabled: true

  # Trailing days to scan for articles without counts
  days_to_check: 7

  # Articles published exactly this many days ago get refreshed
  refresh_age_days: 6

  batch_size: 20
  max_retries: 3

logging:
  # debug, info, warn, error
  level: "info"

  # Log file path, empty logs to the console only
  file: ""
`

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		fatal("failed to create configuration file", err)
	}

	fmt.Printf("Configuration file created: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the file and list the accounts to crawl")
	fmt.Println("2. Run 'mpharvest config validate' to check it")
	fmt.Println("3. Run 'mpharvest auth login' to cache a session")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	displayCfg := *cfg
	displayCfg.StatsAPI.Key = maskSecret(displayCfg.StatsAPI.Key)
	displayCfg.StatsAPI.VerifyCode = maskSecret(displayCfg.StatsAPI.VerifyCode)

	data, err := yaml.Marshal(&displayCfg)
	if err != nil {
		fatal("failed to format configuration", err)
	}

	fmt.Print(string(data))
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	if _, err := config.Load(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration is invalid:\n%v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid")
}

// maskSecret keeps the ends of a secret visible for identification.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
