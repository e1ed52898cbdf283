package hs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fetchLookback bounds how far back a sync fetches when no previous sync
// time is recorded.
const fetchLookback = 7 * 24 * time.Hour

// fetchOverlap is subtracted from the last sync time so records the provider
// surfaced late are still picked up. Dedup filters the overlap.
const fetchOverlap = time.Hour

// Scheduler drives recurring background syncs against the health provider.
// State is guarded by a mutex; a single timer goroutine fires ticks, and only
// one sync cycle is ever in flight.
type Scheduler struct {
	provider  HealthProvider
	processor *Processor
	kv        KeyValue
	logger    Logger
	now       func() time.Time

	mu      sync.Mutex
	cfg     Configuration
	status  RunStatus
	running bool
	syncing bool
	stopCh  chan struct{}
	timer   *time.Timer
}

// NewScheduler loads the persisted configuration and run status and returns
// a stopped scheduler.
func NewScheduler(provider HealthProvider, processor *Processor, kv KeyValue, logger Logger) (*Scheduler, error) {
	cfg, err := LoadConfiguration(kv)
	if err != nil {
		return nil, err
	}
	status, err := LoadRunStatus(kv)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		provider:  provider,
		processor: processor,
		kv:        kv,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
		status:    status,
	}, nil
}

// Start installs the recurring sync timer. When sync is disabled or the
// provider is not connected this is a logged skip, not an error. Setup
// failures are recorded in the run status instead of being returned.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.logger.Info("background sync disabled, not starting")
		return
	}
	if !s.provider.IsConnected(ctx) {
		s.logger.Info("health provider not connected, skipping background sync")
		return
	}

	s.cancelTimerLocked()
	next := NextSyncTime(s.cfg, s.status, s.now())
	s.status.IsRunning = true
	s.status.NextSyncTime = &next
	s.running = true
	s.scheduleLocked(next)
	s.persistStatusLocked()
	s.logger.Info("background sync started",
		"interval_minutes", s.cfg.IntervalMinutes,
		"next_sync", next.Format(time.RFC3339))
}

// Stop cancels the pending timer and clears the next sync time. Safe to call
// when already stopped. An in-flight sync is allowed to complete but will
// not re-arm the timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasRunning := s.running
	s.cancelTimerLocked()
	s.status.IsRunning = false
	s.status.NextSyncTime = nil
	if wasRunning {
		s.persistStatusLocked()
		s.logger.Info("background sync stopped")
	}
}

// Cleanup releases the scheduler's timer. Identical to Stop; callers use it
// on shutdown.
func (s *Scheduler) Cleanup() {
	s.Stop()
}

// SyncNow runs a manually triggered sync cycle. It fails with ErrSyncInProgress
// when a cycle is already in flight and with ErrRateLimited when the daily
// quota is exhausted or the current time is inside quiet hours. Transient
// failures are recorded in the run status and returned to the caller.
func (s *Scheduler) SyncNow(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	now := s.now()
	s.maybeResetDayLocked(now)
	if s.syncing {
		s.mu.Unlock()
		return SyncResult{}, ErrSyncInProgress
	}
	if !CanPerformSync(s.cfg, s.status, now) {
		s.mu.Unlock()
		return SyncResult{}, fmt.Errorf("%w: %s", ErrRateLimited, s.rateLimitReason(now))
	}
	s.syncing = true
	s.mu.Unlock()

	res, err := s.runSync(ctx)

	s.mu.Lock()
	s.syncing = false
	s.applyResultLocked(res, err)
	if s.running {
		s.rearmLocked()
	}
	s.persistStatusLocked()
	s.mu.Unlock()

	if err != nil {
		return SyncResult{}, err
	}
	return res, nil
}

// OnForeground triggers an opportunistic sync when foreground syncing is
// enabled and the last sync is older than one interval. Failures are logged,
// never surfaced to the caller.
func (s *Scheduler) OnForeground(ctx context.Context) {
	s.mu.Lock()
	enabled := s.cfg.SyncOnForeground
	s.mu.Unlock()
	s.lifecycleSync(ctx, enabled, "foreground")
}

// OnBackground is the background-transition counterpart of OnForeground.
func (s *Scheduler) OnBackground(ctx context.Context) {
	s.mu.Lock()
	enabled := s.cfg.SyncOnBackground
	s.mu.Unlock()
	s.lifecycleSync(ctx, enabled, "background")
}

// ResetDay clears the daily counters and persists the status. Invoked by
// callers at a day boundary; the daemon also calls it when a tick lands on a
// new calendar day.
func (s *Scheduler) ResetDay() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.ResetDay()
	return SaveRunStatus(s.kv, s.status)
}

// Status returns a snapshot of the current run status.
func (s *Scheduler) Status() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Clone()
}

// Config returns the active configuration.
func (s *Scheduler) Config() Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfiguration validates, persists, and applies new settings. A
// running scheduler is re-armed so the new interval takes effect immediately.
func (s *Scheduler) UpdateConfiguration(cfg Configuration) error {
	if err := SaveConfiguration(s.kv, cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.running {
		s.cancelTimerLocked()
		s.running = true
		s.rearmLocked()
		s.persistStatusLocked()
	}
	return nil
}

// tick handles one timer firing. Unlike SyncNow, every failure here is
// swallowed: an unattended background tick must never crash the process.
func (s *Scheduler) tick(stop chan struct{}) {
	ctx := context.Background()

	s.mu.Lock()
	if !s.running || s.stopCh != stop {
		// Stopped, or superseded by a newer timer, between firing and here.
		s.mu.Unlock()
		return
	}
	now := s.now()
	s.maybeResetDayLocked(now)
	if s.syncing {
		// A manual sync is in flight; only one cycle may run at a time.
		s.logger.Debug("scheduled sync skipped", "reason", "sync already in progress")
		s.rearmLocked()
		s.persistStatusLocked()
		s.mu.Unlock()
		return
	}
	if !CanPerformSync(s.cfg, s.status, now) {
		s.logger.Debug("scheduled sync skipped", "reason", s.rateLimitReason(now))
		s.rearmLocked()
		s.persistStatusLocked()
		s.mu.Unlock()
		return
	}
	s.syncing = true
	s.mu.Unlock()

	res, err := s.runSync(ctx)

	s.mu.Lock()
	s.syncing = false
	s.applyResultLocked(res, err)
	if s.running && s.stopCh == stop {
		s.rearmLocked()
	}
	s.persistStatusLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("scheduled sync failed", "error", err)
	} else {
		s.logger.Info("scheduled sync completed",
			"synced", res.Synced, "duplicates", res.Duplicates, "dropped", res.Dropped)
	}
}

// runSync performs one fetch-dedup-transform-store cycle. Called without the
// lock held; mutual exclusion is enforced by the syncing flag.
func (s *Scheduler) runSync(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	var since time.Time
	if s.status.LastSyncTime != nil {
		since = s.status.LastSyncTime.Add(-fetchOverlap)
	} else {
		since = s.now().Add(-fetchLookback)
	}
	s.mu.Unlock()

	until := s.now()
	batch, err := s.provider.FetchActivities(ctx, since, until)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to fetch activities: %w", err)
	}

	res := s.processor.Process(ctx, batch)
	res.Timestamp = until
	return res, nil
}

func (s *Scheduler) lifecycleSync(ctx context.Context, enabled bool, transition string) {
	if !enabled {
		return
	}

	s.mu.Lock()
	interval := time.Duration(s.cfg.IntervalMinutes) * time.Minute
	last := s.status.LastSyncTime
	now := s.now()
	s.mu.Unlock()

	if last != nil && now.Sub(*last) <= interval {
		return
	}

	s.logger.Debug("lifecycle sync triggered", "transition", transition)
	if _, err := s.SyncNow(ctx); err != nil {
		s.logger.Debug("lifecycle sync did not run", "transition", transition, "error", err)
	}
}

// applyResultLocked folds a completed sync attempt into the run status.
func (s *Scheduler) applyResultLocked(res SyncResult, err error) {
	if err != nil {
		s.status.ConsecutiveFailures++
		s.status.LastError = err.Error()
		return
	}
	t := res.Timestamp
	s.status.LastSyncTime = &t
	s.status.TotalSyncsToday++
	s.status.TotalActivitiesSynced += res.Synced
	s.status.ConsecutiveFailures = 0
	s.status.LastError = ""
}

// rearmLocked recomputes the next sync time and replaces the pending timer.
func (s *Scheduler) rearmLocked() {
	s.cancelTimerLocked()
	s.running = true
	next := NextSyncTime(s.cfg, s.status, s.now())
	s.status.NextSyncTime = &next
	s.scheduleLocked(next)
}

// scheduleLocked installs a one-shot timer firing at next. Each timer gets
// its own stop channel so a stale completion can never re-arm a stopped or
// superseded scheduler.
func (s *Scheduler) scheduleLocked(next time.Time) {
	delay := next.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	stop := make(chan struct{})
	timer := time.NewTimer(delay)
	s.stopCh = stop
	s.timer = timer

	go func() {
		select {
		case <-timer.C:
			s.tick(stop)
		case <-stop:
			timer.Stop()
		}
	}()
}

// cancelTimerLocked stops the pending timer, if any, and marks the scheduler
// not running.
func (s *Scheduler) cancelTimerLocked() {
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.running = false
}

// maybeResetDayLocked resets the daily counters when now falls on a
// different calendar day than the last sync.
func (s *Scheduler) maybeResetDayLocked(now time.Time) {
	if s.status.LastSyncTime == nil {
		return
	}
	ly, lm, ld := s.status.LastSyncTime.Date()
	ny, nm, nd := now.Date()
	if ly != ny || lm != nm || ld != nd {
		s.status.ResetDay()
		s.logger.Debug("day boundary crossed, daily counters reset")
	}
}

func (s *Scheduler) rateLimitReason(now time.Time) string {
	if s.status.TotalSyncsToday >= s.cfg.MaxSyncsPerDay {
		return fmt.Sprintf("daily quota of %d syncs reached", s.cfg.MaxSyncsPerDay)
	}
	if s.cfg.InQuietHours(now.Hour()) {
		return fmt.Sprintf("inside quiet hours (%02d:00-%02d:00)", s.cfg.QuietHoursStart, s.cfg.QuietHoursEnd)
	}
	return "not rate limited"
}

func (s *Scheduler) persistStatusLocked() {
	if err := SaveRunStatus(s.kv, s.status); err != nil {
		s.status.LastError = err.Error()
		s.logger.Warn("failed to persist run status", "error", err)
	}
}
