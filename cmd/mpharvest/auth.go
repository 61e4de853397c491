package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"mpharvest/pkg/session"
)

// authCmd groups credential subcommands
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the cached session and the stats API key",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and cache a fresh session",
	Long: `Prompt for a console token and cookie header, validate them against
the platform, and cache the session for later runs. Any existing cached
session is replaced.`,
	Run: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the cached session",
	Run:   runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cached session's age",
	Run:   runAuthStatus,
}

var authSetKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the stats API key in the system keyring",
	Run:   runAuthSetKey,
}

var authDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key",
	Short: "Remove the stats API key from the system keyring",
	Run:   runAuthDeleteKey,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authSetKeyCmd)
	authCmd.AddCommand(authDeleteKeyCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	mgr, _ := newSession(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cred, err := mgr.InvalidateAndReauth(ctx)
	if err != nil {
		fatal("login failed", err)
	}

	fmt.Printf("Session cached at %s (issued %s)\n",
		cfg.Session.CacheFile, cred.IssuedAt.Format("2006-01-02 15:04:05"))
}

func runAuthLogout(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	cache := session.NewCache(cfg.Session.CacheFile)
	if !cache.Exists() {
		fmt.Println("No cached session")
		return
	}
	if err := cache.Delete(); err != nil {
		fatal("failed to delete cached session", err)
	}
	fmt.Println("Cached session deleted")
}

func runAuthStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	cache := session.NewCache(cfg.Session.CacheFile)
	cred, err := cache.Load()
	if err != nil {
		fatal("failed to read cached session", err)
	}
	if cred == nil {
		fmt.Println("No cached session, run 'mpharvest auth login'")
		return
	}

	fmt.Printf("Session cached at %s\n", cfg.Session.CacheFile)
	fmt.Printf("  issued: %s\n", cred.IssuedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  age:    %s\n", cred.Age().Round(time.Second))
	if cred.Expired(time.Duration(cfg.Session.MaxAgeHours) * time.Hour) {
		fmt.Println("  state:  expired, next run will prompt for login")
	} else {
		fmt.Println("  state:  valid")
	}
}

func runAuthSetKey(cmd *cobra.Command, args []string) {
	fmt.Print("Stats API key: ")

	var key string
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			fatal("failed to read key", err)
		}
		key = string(raw)
	} else {
		// piped input
		if _, err := fmt.Fscanln(os.Stdin, &key); err != nil {
			fatal("failed to read key", err)
		}
	}

	key = strings.TrimSpace(key)
	if key == "" {
		fatal("empty key", fmt.Errorf("nothing to store"))
	}

	if err := keyring.Set(keyringService, keyringUser, key); err != nil {
		fatal("failed to store key in keyring", err)
	}
	fmt.Println("Stats API key stored in system keyring")
}

func runAuthDeleteKey(cmd *cobra.Command, args []string) {
	if err := keyring.Delete(keyringService, keyringUser); err != nil {
		if err == keyring.ErrNotFound {
			fmt.Println("No stored key")
			return
		}
		fatal("failed to delete key", err)
	}
	fmt.Println("Stats API key removed from system keyring")
}
