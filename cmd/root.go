package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cookiePath string
	cfgFile    string
)

var rootCmd = &cobra.Command{
	Use:   "healthsync",
	Short: "A tool to sync health platform activities into a local workout log",
	Long: `Healthsync pulls activities from your health platform account and keeps a
local workout log up to date, respecting quiet hours, daily quotas and
failure backoff.

It provides an interactive terminal interface with structured logging.`,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync scheduler",
	Long: `Run the sync scheduler in the foreground until interrupted.

Syncs happen on the configured interval, skipping quiet hours and backing
off after consecutive failures.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")
		return runDaemon(jsonMode)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync right now",
	Long: `Fetch recent activities and store new workouts immediately.

Manual syncs still count against the daily quota and are refused during
quiet hours.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")
		return runSyncOnce(jsonMode)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")
		return runStatus(jsonMode)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Update the sync configuration",
	Long: `Change sync settings. Only the flags you pass are changed; the rest
keep their current values. With no flags, prints the active configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")
		return runConfig(cmd, jsonMode)
	},
}

var resetDayCmd = &cobra.Command{
	Use:   "reset-day",
	Short: "Reset the daily sync counters",
	Long:  `Clear today's sync count and the consecutive failure counter.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")
		return runResetDay(jsonMode)
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Import a historical range of activities",
	Long: `Fetch activities for an explicit date range and store them, bypassing
the scheduler's interval, quota and quiet hours.

Already-synced activities are skipped, so backfilling an overlapping range
is safe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		until, _ := cmd.Flags().GetString("until")
		jsonMode, _ := cmd.Flags().GetBool("json")
		return runBackfill(jsonMode, since, until)
	},
}

var workoutsCmd = &cobra.Command{
	Use:   "workouts",
	Short: "List stored workouts",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")
		return runWorkouts(jsonMode)
	},
}

// getConfigValue returns the flag value if non-empty, otherwise returns the viper config value
func getConfigValue(flagValue, viperKey string) string {
	if flagValue != "" {
		return flagValue
	}
	return viper.GetString(viperKey)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Viper defaults
	viper.SetDefault("db_path", "~/.healthsync/db")
	viper.SetDefault("cookie_path", "~/.healthsync/hub-cookie.json")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.healthsync/healthsync.yaml)")
	rootCmd.PersistentFlags().String("db_path", "", "Path to the local workout database (default: ~/.healthsync/db)")
	rootCmd.PersistentFlags().StringVar(&cookiePath, "cookie-path", "", "Path to cookie file (default: ~/.healthsync/hub-cookie.json)")
	rootCmd.PersistentFlags().Bool("json", false, "Output structured JSON logs instead of interactive mode")

	// Bind environment variables
	viper.BindEnv("username", "HS_HUB_USERNAME")
	viper.BindEnv("password", "HS_HUB_PASSWORD")
	viper.BindEnv("cookie_path", "HS_HUB_COOKIE_PATH")
	viper.BindEnv("db_path", "HS_DB_PATH")
	viper.BindEnv("hub_url", "HS_HUB_URL")
	viper.BindEnv("log_level", "LOG_LEVEL")

	// Config command flags
	configCmd.Flags().Bool("enabled", true, "Enable or disable background sync")
	configCmd.Flags().Int("interval", 0, "Minutes between scheduled syncs")
	configCmd.Flags().Int("max-per-day", 0, "Maximum syncs per day")
	configCmd.Flags().Int("quiet-start", -1, "Quiet hours start (0-23)")
	configCmd.Flags().Int("quiet-end", -1, "Quiet hours end (0-23)")
	configCmd.Flags().Bool("battery-backoff", true, "Back off after consecutive failures")
	configCmd.Flags().Bool("sync-on-foreground", true, "Sync when the app comes to the foreground")
	configCmd.Flags().Bool("sync-on-background", false, "Sync when the app goes to the background")

	// Backfill command flags
	backfillCmd.Flags().String("since", "4w", "Backfill activities since this date (e.g., '2026-01-01', '30d', '4w')")
	backfillCmd.Flags().String("until", "", "Backfill activities until this date (optional)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(resetDayCmd)
	rootCmd.AddCommand(workoutsCmd)
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in ~/.healthsync/ directory with name "healthsync" (without extension).
		viper.AddConfigPath(filepath.Join(home, ".healthsync"))
		viper.SetConfigName("healthsync")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in silently (logging is via LOG_LEVEL env var)
	viper.ReadInConfig()
}
