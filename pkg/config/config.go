package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads from YAML either as a duration
// string ("30s", "200ms") or as a bare number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n float64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = Duration(time.Duration(n * float64(time.Second)))
	return nil
}

// Config holds all configuration options for the harvester
type Config struct {
	// Database settings
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Stats API settings
	StatsAPI StatsAPIConfig `yaml:"stats_api" json:"stats_api"`

	// Session settings
	Session SessionConfig `yaml:"session" json:"session"`

	// Crawl settings
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Reading-count update settings
	Update UpdateConfig `yaml:"update" json:"update"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// StatsAPIConfig holds settings for the third-party reading stats endpoint
type StatsAPIConfig struct {
	BaseURL    string   `yaml:"base_url" json:"base_url"`
	Key        string   `yaml:"key" json:"key"`
	VerifyCode string   `yaml:"verify_code" json:"verify_code"`
	Timeout    Duration `yaml:"timeout" json:"timeout"`
	// MinInterval is the minimum spacing between stats requests
	MinInterval Duration `yaml:"min_interval" json:"min_interval"`
}

// SessionConfig holds login session settings
type SessionConfig struct {
	CacheFile string `yaml:"cache_file" json:"cache_file"`
	// MaxAgeHours is how long a cached login session stays usable
	MaxAgeHours int `yaml:"max_age_hours" json:"max_age_hours"`
	// TokenMaxAgeHours is how long the platform token stays usable.
	// The token outlives the cookies, so the two ages differ.
	TokenMaxAgeHours int `yaml:"token_max_age_hours" json:"token_max_age_hours"`
	LoginAttempts    int `yaml:"login_attempts" json:"login_attempts"`
}

// CrawlConfig holds article crawl settings
type CrawlConfig struct {
	Accounts     []string `yaml:"accounts" json:"accounts"`
	AccountsFile string   `yaml:"accounts_file" json:"accounts_file"`
	// CrawlDays is how many days back from today to collect
	CrawlDays int `yaml:"crawl_days" json:"crawl_days"`
	// MaxArticlesPerAccount caps articles collected per account (0 means no cap)
	MaxArticlesPerAccount int `yaml:"max_articles_per_account" json:"max_articles_per_account"`
	PageSize              int `yaml:"page_size" json:"page_size"`
	// Courtesy delays between requests, randomized within [Min, Max]
	ItemDelayMin    Duration `yaml:"item_delay_min" json:"item_delay_min"`
	ItemDelayMax    Duration `yaml:"item_delay_max" json:"item_delay_max"`
	AccountDelayMin Duration `yaml:"account_delay_min" json:"account_delay_min"`
	AccountDelayMax Duration `yaml:"account_delay_max" json:"account_delay_max"`
}

// UpdateConfig holds reading-count update settings
type UpdateConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// DaysToCheck is how many trailing days to scan for missing counts
	DaysToCheck int `yaml:"days_to_check" json:"days_to_check"`
	// RefreshAgeDays selects the day whose counts are refreshed unconditionally
	RefreshAgeDays int `yaml:"refresh_age_days" json:"refresh_age_days"`
	BatchSize      int `yaml:"batch_size" json:"batch_size"`
	MaxRetries     int `yaml:"max_retries" json:"max_retries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "mpharvest.db",
		},
		StatsAPI: StatsAPIConfig{
			BaseURL:     "http://www.dsfdsf.cn",
			Timeout:     Duration(30 * time.Second),
			MinInterval: Duration(200 * time.Millisecond),
		},
		Session: SessionConfig{
			CacheFile:        defaultCacheFile(),
			MaxAgeHours:      90,
			TokenMaxAgeHours: 96,
			LoginAttempts:    3,
		},
		Crawl: CrawlConfig{
			CrawlDays:             7,
			MaxArticlesPerAccount: 0,
			PageSize:              5,
			ItemDelayMin:          Duration(2 * time.Second),
			ItemDelayMax:          Duration(5 * time.Second),
			AccountDelayMin:       Duration(10 * time.Second),
			AccountDelayMax:       Duration(20 * time.Second),
		},
		Update: UpdateConfig{
			Enabled:        true,
			DaysToCheck:    7,
			RefreshAgeDays: 6,
			BatchSize:      20,
			MaxRetries:     3,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

func defaultCacheFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mpharvest-session.json"
	}
	return filepath.Join(home, ".config", "mpharvest", "session.json")
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if path := os.Getenv("MPHARVEST_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if key := os.Getenv("MPHARVEST_STATS_KEY"); key != "" {
		c.StatsAPI.Key = key
	}
	if code := os.Getenv("MPHARVEST_STATS_VERIFY_CODE"); code != "" {
		c.StatsAPI.VerifyCode = code
	}
	if base := os.Getenv("MPHARVEST_STATS_BASE_URL"); base != "" {
		c.StatsAPI.BaseURL = base
	}
	if cache := os.Getenv("MPHARVEST_SESSION_CACHE"); cache != "" {
		c.Session.CacheFile = cache
	}
	if accounts := os.Getenv("MPHARVEST_ACCOUNTS"); accounts != "" {
		c.Crawl.Accounts = splitList(accounts)
	}
	if file := os.Getenv("MPHARVEST_ACCOUNTS_FILE"); file != "" {
		c.Crawl.AccountsFile = file
	}
	if days := os.Getenv("MPHARVEST_CRAWL_DAYS"); days != "" {
		var val int
		fmt.Sscanf(days, "%d", &val)
		if val > 0 {
			c.Crawl.CrawlDays = val
		}
	}
	if level := os.Getenv("MPHARVEST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".mpharvest.yaml",
		".mpharvest.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "mpharvest", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "mpharvest", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".mpharvest.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// LoadAccounts resolves the account list, merging the inline list with the
// accounts file if one is configured. Blank lines and lines starting with
// '#' in the file are skipped.
func (c *Config) LoadAccounts() ([]string, error) {
	seen := make(map[string]bool)
	var accounts []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		accounts = append(accounts, name)
	}

	for _, name := range c.Crawl.Accounts {
		add(strings.TrimSpace(name))
	}

	if c.Crawl.AccountsFile != "" {
		f, err := os.Open(c.Crawl.AccountsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open accounts file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			add(line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read accounts file: %w", err)
		}
	}

	return accounts, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database path is required"))
	}

	if c.StatsAPI.BaseURL == "" {
		errs = append(errs, errors.New("stats API base URL is required"))
	}
	if c.StatsAPI.MinInterval < 0 {
		errs = append(errs, errors.New("stats API min interval cannot be negative"))
	}

	if c.Session.MaxAgeHours <= 0 {
		errs = append(errs, errors.New("session max age must be positive"))
	}
	if c.Session.TokenMaxAgeHours < c.Session.MaxAgeHours {
		errs = append(errs, errors.New("token max age cannot be shorter than session max age"))
	}
	if c.Session.LoginAttempts <= 0 {
		errs = append(errs, errors.New("login attempts must be positive"))
	}

	if c.Crawl.CrawlDays <= 0 {
		errs = append(errs, errors.New("crawl days must be positive"))
	}
	if c.Crawl.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.Crawl.MaxArticlesPerAccount < 0 {
		errs = append(errs, errors.New("max articles per account cannot be negative"))
	}
	if c.Crawl.ItemDelayMax < c.Crawl.ItemDelayMin {
		errs = append(errs, errors.New("item delay max cannot be below item delay min"))
	}
	if c.Crawl.AccountDelayMax < c.Crawl.AccountDelayMin {
		errs = append(errs, errors.New("account delay max cannot be below account delay min"))
	}

	if c.Update.DaysToCheck <= 0 {
		errs = append(errs, errors.New("days to check must be positive"))
	}
	if c.Update.RefreshAgeDays < 0 {
		errs = append(errs, errors.New("refresh age days cannot be negative"))
	}
	if c.Update.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Update.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: Environment variables > .env file > Config file > Defaults
func Load(configPath string) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".mpharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
