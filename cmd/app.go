package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eikrem/healthsync/hs"
	"github.com/eikrem/healthsync/hub"
	"github.com/eikrem/healthsync/pkg/output"
	"github.com/eikrem/healthsync/store"
)

// app bundles the wired-up collaborators every command needs.
type app struct {
	out       *output.OutputLogger
	store     *store.Store
	provider  *hub.Client
	processor *hs.Processor
	scheduler *hs.Scheduler
}

// newApp wires output, storage, the hub client and the scheduler together.
// The caller must call close when done.
func newApp(jsonMode bool) (*app, func(), error) {
	out, err := output.New(jsonMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up output: %w", err)
	}

	db, err := store.Open(viper.GetString("db_path"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	provider, err := hub.New(
		viper.GetString("username"),
		viper.GetString("password"),
		getConfigValue(cookiePath, "cookie_path"),
	)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create hub client: %w", err)
	}

	processor, err := hs.NewProcessor(db, db, out.Component("processor"), "hub")
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create processor: %w", err)
	}

	scheduler, err := hs.NewScheduler(provider, processor, db, out.Component("scheduler"))
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	a := &app{out: out, store: db, provider: provider, processor: processor, scheduler: scheduler}
	closeFn := func() {
		a.scheduler.Cleanup()
		if err := a.store.Close(); err != nil {
			a.out.Warn("failed to close database", "error", err.Error())
		}
	}
	return a, closeFn, nil
}

// runDaemon runs the scheduler until SIGINT or SIGTERM.
func runDaemon(jsonMode bool) error {
	a, closeApp, err := newApp(jsonMode)
	if err != nil {
		return err
	}
	defer closeApp()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.scheduler.Start(ctx)

	st := a.scheduler.Status()
	if !st.IsRunning {
		a.out.Error("Scheduler did not start; check that sync is enabled and credentials are valid")
		return fmt.Errorf("scheduler not running")
	}

	a.out.Status("Sync scheduler running, next sync at %s", output.FormatTime(st.NextSyncTime))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	a.out.Progress("Received %s, shutting down", sig)
	a.scheduler.Stop()
	return nil
}

// runSyncOnce performs one manual sync and reports the outcome.
func runSyncOnce(jsonMode bool) error {
	a, closeApp, err := newApp(jsonMode)
	if err != nil {
		return err
	}
	defer closeApp()

	a.out.Progress("Syncing activities from the hub...")

	res, err := a.scheduler.SyncNow(context.Background())
	if err != nil {
		if errors.Is(err, hs.ErrRateLimited) {
			a.out.Error("Sync refused: %v", err)
			return err
		}
		a.out.LogAndShowError(err, "Sync failed: %v", err)
		return err
	}

	a.out.SyncSummary(res.Synced, res.Duplicates, res.Dropped, res.Failed)
	return nil
}

// runBackfill fetches and stores an explicit historical range, bypassing the
// scheduler's rate limits. Dedup still applies.
func runBackfill(jsonMode bool, sinceStr, untilStr string) error {
	since, until, err := validateAndParseDates(untilStr, sinceStr)
	if err != nil {
		return err
	}

	a, closeApp, err := newApp(jsonMode)
	if err != nil {
		return err
	}
	defer closeApp()

	a.out.Progress("Backfilling activities from %s to %s",
		since.Format("2006-01-02"), until.Format("2006-01-02"))

	ctx := context.Background()
	activities, err := a.provider.FetchActivities(ctx, since, until)
	if err != nil {
		a.out.LogAndShowError(err, "Backfill failed: %v", err)
		return err
	}

	res := a.processor.Process(ctx, activities)
	a.out.SyncSummary(res.Synced, res.Duplicates, res.Dropped, res.Failed)
	return nil
}

// runStatus prints run status and configuration.
func runStatus(jsonMode bool) error {
	a, closeApp, err := newApp(jsonMode)
	if err != nil {
		return err
	}
	defer closeApp()

	st := a.scheduler.Status()
	cfg := a.scheduler.Config()

	count, err := a.store.WorkoutCount()
	if err != nil {
		return fmt.Errorf("failed to count workouts: %w", err)
	}

	a.out.FailureBanner(st.LastError, st.ConsecutiveFailures)

	a.out.StatusTable("Sync status", []output.StatusRow{
		{Label: "Last sync", Value: output.FormatTime(st.LastSyncTime)},
		{Label: "Next sync", Value: output.FormatTime(st.NextSyncTime)},
		{Label: "Syncs today", Value: fmt.Sprintf("%d / %d", st.TotalSyncsToday, cfg.MaxSyncsPerDay)},
		{Label: "Consecutive failures", Value: strconv.Itoa(st.ConsecutiveFailures)},
		{Label: "Activities synced", Value: strconv.Itoa(st.TotalActivitiesSynced)},
		{Label: "Workouts stored", Value: strconv.Itoa(count)},
	})

	quiet := fmt.Sprintf("%02d:00 - %02d:00", cfg.QuietHoursStart, cfg.QuietHoursEnd)
	a.out.StatusTable("Configuration", []output.StatusRow{
		{Label: "Enabled", Value: strconv.FormatBool(cfg.Enabled)},
		{Label: "Interval", Value: fmt.Sprintf("%d min", cfg.IntervalMinutes)},
		{Label: "Quiet hours", Value: quiet},
		{Label: "Battery backoff", Value: strconv.FormatBool(cfg.BatteryOptimization)},
		{Label: "Sync on foreground", Value: strconv.FormatBool(cfg.SyncOnForeground)},
		{Label: "Sync on background", Value: strconv.FormatBool(cfg.SyncOnBackground)},
	})

	return nil
}

// runConfig applies the config flags the user actually passed, leaving the
// rest untouched, then shows the resulting configuration.
func runConfig(cmd *cobra.Command, jsonMode bool) error {
	a, closeApp, err := newApp(jsonMode)
	if err != nil {
		return err
	}
	defer closeApp()

	cfg := a.scheduler.Config()
	changed := false

	if cmd.Flags().Changed("enabled") {
		cfg.Enabled, _ = cmd.Flags().GetBool("enabled")
		changed = true
	}
	if cmd.Flags().Changed("interval") {
		cfg.IntervalMinutes, _ = cmd.Flags().GetInt("interval")
		changed = true
	}
	if cmd.Flags().Changed("max-per-day") {
		cfg.MaxSyncsPerDay, _ = cmd.Flags().GetInt("max-per-day")
		changed = true
	}
	if cmd.Flags().Changed("quiet-start") {
		cfg.QuietHoursStart, _ = cmd.Flags().GetInt("quiet-start")
		changed = true
	}
	if cmd.Flags().Changed("quiet-end") {
		cfg.QuietHoursEnd, _ = cmd.Flags().GetInt("quiet-end")
		changed = true
	}
	if cmd.Flags().Changed("battery-backoff") {
		cfg.BatteryOptimization, _ = cmd.Flags().GetBool("battery-backoff")
		changed = true
	}
	if cmd.Flags().Changed("sync-on-foreground") {
		cfg.SyncOnForeground, _ = cmd.Flags().GetBool("sync-on-foreground")
		changed = true
	}
	if cmd.Flags().Changed("sync-on-background") {
		cfg.SyncOnBackground, _ = cmd.Flags().GetBool("sync-on-background")
		changed = true
	}

	if changed {
		if err := a.scheduler.UpdateConfiguration(cfg); err != nil {
			a.out.LogAndShowError(err, "Invalid configuration: %v", err)
			return err
		}
		a.out.Status("Configuration updated")
	}

	quiet := fmt.Sprintf("%02d:00 - %02d:00", cfg.QuietHoursStart, cfg.QuietHoursEnd)
	a.out.StatusTable("Configuration", []output.StatusRow{
		{Label: "Enabled", Value: strconv.FormatBool(cfg.Enabled)},
		{Label: "Interval", Value: fmt.Sprintf("%d min", cfg.IntervalMinutes)},
		{Label: "Max syncs per day", Value: strconv.Itoa(cfg.MaxSyncsPerDay)},
		{Label: "Quiet hours", Value: quiet},
		{Label: "Battery backoff", Value: strconv.FormatBool(cfg.BatteryOptimization)},
		{Label: "Sync on foreground", Value: strconv.FormatBool(cfg.SyncOnForeground)},
		{Label: "Sync on background", Value: strconv.FormatBool(cfg.SyncOnBackground)},
	})
	return nil
}

// runResetDay clears the daily counters.
func runResetDay(jsonMode bool) error {
	a, closeApp, err := newApp(jsonMode)
	if err != nil {
		return err
	}
	defer closeApp()

	if err := a.scheduler.ResetDay(); err != nil {
		a.out.LogAndShowError(err, "Failed to reset daily counters")
		return err
	}
	a.out.Status("Daily sync counters reset")
	return nil
}

// runWorkouts lists stored workouts, newest first.
func runWorkouts(jsonMode bool) error {
	a, closeApp, err := newApp(jsonMode)
	if err != nil {
		return err
	}
	defer closeApp()

	workouts, err := a.store.Workouts()
	if err != nil {
		return fmt.Errorf("failed to list workouts: %w", err)
	}
	sort.Slice(workouts, func(i, j int) bool {
		return workouts[i].StartTime.After(workouts[j].StartTime)
	})

	if jsonMode {
		return a.out.JSON(workouts)
	}

	if len(workouts) == 0 {
		a.out.Progress("No workouts stored yet, run 'healthsync sync' first")
		return nil
	}

	rows := make([]output.StatusRow, 0, len(workouts))
	for _, w := range workouts {
		start := w.StartTime
		rows = append(rows, output.StatusRow{
			Label: start.Local().Format("2006-01-02 15:04"),
			Value: fmt.Sprintf("%-16s %3d min  %4d kcal", w.Sport, w.DurationMinutes, w.Calories),
		})
	}
	a.out.StatusTable(fmt.Sprintf("Workouts (%d)", len(workouts)), rows)
	return nil
}
