package hs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, provider *MockProvider) (*Scheduler, *MockWorkoutLog, *MockKeyValue) {
	t.Helper()
	workouts := &MockWorkoutLog{}
	kv := NewMockKeyValue()
	processor, err := NewProcessor(workouts, kv, &MockLogger{}, "hub")
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	s, err := NewScheduler(provider, processor, kv, &MockLogger{})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	// Noon, well outside the default quiet hours.
	s.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return s, workouts, kv
}

func TestStart_SkipsWhenProviderDisconnected(t *testing.T) {
	provider := &MockProvider{Connected: false}
	s, _, _ := newTestScheduler(t, provider)

	s.Start(context.Background())

	st := s.Status()
	if st.IsRunning {
		t.Error("scheduler must stay stopped when provider is disconnected")
	}
	if st.NextSyncTime != nil {
		t.Error("no next sync time expected when start was skipped")
	}
}

func TestStart_SkipsWhenDisabled(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, kv := newTestScheduler(t, provider)
	cfg := DefaultConfiguration()
	cfg.Enabled = false
	if err := SaveConfiguration(kv, cfg); err != nil {
		t.Fatal(err)
	}
	s.cfg = cfg

	s.Start(context.Background())
	if s.Status().IsRunning {
		t.Error("scheduler must stay stopped when sync is disabled")
	}
}

func TestStart_SchedulesNextSync(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)
	defer s.Stop()

	s.Start(context.Background())

	st := s.Status()
	if !st.IsRunning {
		t.Fatal("expected scheduler running")
	}
	want := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	if st.NextSyncTime == nil || !st.NextSyncTime.Equal(want) {
		t.Errorf("NextSyncTime = %v, want %v", st.NextSyncTime, want)
	}

	// The persisted snapshot reflects the running state.
	persisted, _, err := s.kv.Get(statusKey)
	if err != nil || persisted == "" {
		t.Error("run status must be persisted on start")
	}
}

func TestStart_QuietHoursEndToEnd(t *testing.T) {
	// Starting at 21:30 with interval 60 and quiet hours 22-06: the nominal
	// 22:30 slot is quiet, so the scheduled sync snaps to 06:00 next day.
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)
	defer s.Stop()
	s.now = func() time.Time { return time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC) }

	s.Start(context.Background())

	want := time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)
	st := s.Status()
	if st.NextSyncTime == nil || !st.NextSyncTime.Equal(want) {
		t.Errorf("NextSyncTime = %v, want %v", st.NextSyncTime, want)
	}
}

func TestStop_Idempotent(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)

	s.Start(context.Background())
	s.Stop()
	s.Stop() // second stop is a no-op, must not panic

	st := s.Status()
	if st.IsRunning {
		t.Error("expected stopped scheduler")
	}
	if st.NextSyncTime != nil {
		t.Error("Stop must clear NextSyncTime")
	}
}

func TestStop_WithoutStart(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)
	s.Stop() // never started, must not panic
}

func TestSyncNow_Success(t *testing.T) {
	provider := &MockProvider{
		Connected:  true,
		Activities: []Activity{testActivity("a-1", time.Now()), testActivity("a-2", time.Now())},
	}
	s, workouts, _ := newTestScheduler(t, provider)
	s.status.ConsecutiveFailures = 2
	s.status.LastError = "previous failure"

	res, err := s.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() error = %v", err)
	}
	if res.Synced != 2 {
		t.Errorf("Synced = %d, want 2", res.Synced)
	}
	if len(workouts.Stored()) != 2 {
		t.Errorf("stored %d workouts, want 2", len(workouts.Stored()))
	}

	st := s.Status()
	if st.TotalSyncsToday != 1 {
		t.Errorf("TotalSyncsToday = %d, want 1", st.TotalSyncsToday)
	}
	if st.TotalActivitiesSynced != 2 {
		t.Errorf("TotalActivitiesSynced = %d, want 2", st.TotalActivitiesSynced)
	}
	if st.ConsecutiveFailures != 0 {
		t.Error("success must reset ConsecutiveFailures")
	}
	if st.LastError != "" {
		t.Error("success must clear LastError")
	}
	if st.LastSyncTime == nil {
		t.Error("success must record LastSyncTime")
	}
}

func TestSyncNow_RateLimitedByQuota(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)
	s.cfg.MaxSyncsPerDay = 2
	s.status.TotalSyncsToday = 2
	last := s.now() // same day, so the day-boundary reset stays out of the way
	s.status.LastSyncTime = &last

	_, err := s.SyncNow(context.Background())
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
	if provider.Calls() != 0 {
		t.Error("rate-limited sync must not fetch")
	}
}

func TestSyncNow_RateLimitedByQuietHours(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)
	s.now = func() time.Time { return time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC) }

	_, err := s.SyncNow(context.Background())
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
}

func TestSyncNow_FetchFailureIsRecordedAndReturned(t *testing.T) {
	provider := &MockProvider{Connected: true, FetchErr: fmt.Errorf("connection reset")}
	s, _, _ := newTestScheduler(t, provider)

	_, err := s.SyncNow(context.Background())
	if err == nil {
		t.Fatal("expected fetch failure to be returned to the caller")
	}

	st := s.Status()
	if st.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", st.ConsecutiveFailures)
	}
	if st.LastError == "" {
		t.Error("LastError must record the failure")
	}
	if st.TotalSyncsToday != 0 {
		t.Error("failed sync must not count against the daily quota")
	}
}

func TestSyncNow_MutualExclusion(t *testing.T) {
	block := make(chan struct{})
	provider := &MockProvider{Connected: true, FetchBlock: block}
	s, _, _ := newTestScheduler(t, provider)
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.SyncNow(ctx)
		firstDone <- err
	}()

	// Wait until the first sync is inside the provider fetch.
	deadline := time.After(2 * time.Second)
	for provider.Calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("first sync never reached the provider")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	_, err := s.SyncNow(ctx)
	if !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("second SyncNow error = %v, want ErrSyncInProgress", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first SyncNow error = %v", err)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider fetched %d times, want 1", provider.Calls())
	}
}

func TestSyncNow_DayBoundaryResetsCounters(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)
	yesterday := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	s.status.LastSyncTime = &yesterday
	s.status.TotalSyncsToday = 24
	s.cfg.MaxSyncsPerDay = 24

	// Quota was exhausted yesterday; a sync on the new day must go through.
	res, err := s.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() error = %v", err)
	}
	if res.Timestamp.IsZero() {
		t.Error("expected a completed sync result")
	}
	if got := s.Status().TotalSyncsToday; got != 1 {
		t.Errorf("TotalSyncsToday = %d, want 1 after day reset", got)
	}
}

func TestOnForeground_TriggersWhenStale(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)
	stale := s.now().Add(-2 * time.Hour)
	s.status.LastSyncTime = &stale

	s.OnForeground(context.Background())
	if provider.Calls() != 1 {
		t.Errorf("provider fetched %d times, want 1", provider.Calls())
	}
}

func TestOnForeground_SkipsWhenRecent(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)
	recent := s.now().Add(-10 * time.Minute)
	s.status.LastSyncTime = &recent

	s.OnForeground(context.Background())
	if provider.Calls() != 0 {
		t.Error("recent sync must suppress the foreground trigger")
	}
}

func TestOnForeground_SkipsWhenDisabled(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)
	s.cfg.SyncOnForeground = false

	s.OnForeground(context.Background())
	if provider.Calls() != 0 {
		t.Error("foreground sync disabled, provider must not be called")
	}
}

func TestOnBackground_GatedByConfig(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)

	// Disabled by default.
	s.OnBackground(context.Background())
	if provider.Calls() != 0 {
		t.Error("background sync disabled by default")
	}

	s.cfg.SyncOnBackground = true
	s.OnBackground(context.Background())
	if provider.Calls() != 1 {
		t.Errorf("provider fetched %d times, want 1", provider.Calls())
	}
}

func TestOnForeground_SwallowsFailures(t *testing.T) {
	provider := &MockProvider{Connected: true, FetchErr: fmt.Errorf("connection reset")}
	s, _, _ := newTestScheduler(t, provider)

	// Must not panic or propagate; failure lands in the status.
	s.OnForeground(context.Background())
	if s.Status().ConsecutiveFailures != 1 {
		t.Error("lifecycle failure must still be recorded in the status")
	}
}

func TestResetDay(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, kv := newTestScheduler(t, provider)
	s.status.TotalSyncsToday = 10
	s.status.ConsecutiveFailures = 3

	if err := s.ResetDay(); err != nil {
		t.Fatalf("ResetDay() error = %v", err)
	}
	st := s.Status()
	if st.TotalSyncsToday != 0 || st.ConsecutiveFailures != 0 {
		t.Errorf("status after reset = %+v, want zero daily counters", st)
	}

	// The reset must be persisted, not just in memory.
	loaded, err := LoadRunStatus(kv)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.TotalSyncsToday != 0 {
		t.Error("persisted status must reflect the reset")
	}
}

func TestUpdateConfiguration(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, kv := newTestScheduler(t, provider)

	cfg := DefaultConfiguration()
	cfg.IntervalMinutes = 15
	if err := s.UpdateConfiguration(cfg); err != nil {
		t.Fatalf("UpdateConfiguration() error = %v", err)
	}
	if s.Config().IntervalMinutes != 15 {
		t.Error("new configuration must be applied")
	}
	loaded, err := LoadConfiguration(kv)
	if err != nil || loaded.IntervalMinutes != 15 {
		t.Error("new configuration must be persisted")
	}

	bad := DefaultConfiguration()
	bad.MaxSyncsPerDay = -1
	if err := s.UpdateConfiguration(bad); err == nil {
		t.Error("invalid configuration must be rejected")
	}
}

func TestTick_RunsScheduledSync(t *testing.T) {
	provider := &MockProvider{
		Connected:  true,
		Activities: []Activity{testActivity("a-1", time.Now())},
	}
	s, workouts, _ := newTestScheduler(t, provider)
	defer s.Stop()
	s.cfg.IntervalMinutes = 60

	s.Start(context.Background())

	// Fire the pending timer by hand instead of waiting an hour.
	s.mu.Lock()
	stop := s.stopCh
	s.timer.Stop()
	s.mu.Unlock()
	s.tick(stop)

	if provider.Calls() != 1 {
		t.Fatalf("provider fetched %d times, want 1", provider.Calls())
	}
	if len(workouts.Stored()) != 1 {
		t.Errorf("stored %d workouts, want 1", len(workouts.Stored()))
	}
	st := s.Status()
	if st.TotalSyncsToday != 1 {
		t.Errorf("TotalSyncsToday = %d, want 1", st.TotalSyncsToday)
	}
	if st.NextSyncTime == nil {
		t.Error("tick must reschedule the next sync")
	}
}

func TestTick_FailureIsSwallowedAndRescheduled(t *testing.T) {
	provider := &MockProvider{Connected: true, FetchErr: fmt.Errorf("connection reset")}
	s, _, _ := newTestScheduler(t, provider)
	defer s.Stop()

	s.Start(context.Background())
	s.mu.Lock()
	stop := s.stopCh
	s.timer.Stop()
	s.mu.Unlock()
	s.tick(stop) // must not panic or propagate

	st := s.Status()
	if st.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", st.ConsecutiveFailures)
	}
	if st.NextSyncTime == nil {
		t.Error("failed tick must still reschedule")
	}
	// Backoff doubles the delay after the first failure.
	want := s.now().Add(2 * time.Hour)
	if !st.NextSyncTime.Equal(want) {
		t.Errorf("NextSyncTime = %v, want %v (2x backoff)", st.NextSyncTime, want)
	}
}

func TestTick_SkipsWhileManualSyncInFlight(t *testing.T) {
	block := make(chan struct{})
	provider := &MockProvider{Connected: true, FetchBlock: block}
	s, _, _ := newTestScheduler(t, provider)
	defer s.Stop()
	ctx := context.Background()

	s.Start(ctx)
	s.mu.Lock()
	stop := s.stopCh
	s.timer.Stop()
	s.mu.Unlock()

	manualDone := make(chan error, 1)
	go func() {
		_, err := s.SyncNow(ctx)
		manualDone <- err
	}()

	// Wait until the manual sync is inside the provider fetch.
	deadline := time.After(2 * time.Second)
	for provider.Calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("manual sync never reached the provider")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// A timer tick firing now must not start a second fetch.
	s.tick(stop)
	if provider.Calls() != 1 {
		t.Fatalf("provider fetched %d times during manual sync, want 1", provider.Calls())
	}
	if s.Status().NextSyncTime == nil {
		t.Error("skipped tick must still reschedule")
	}

	close(block)
	if err := <-manualDone; err != nil {
		t.Fatalf("manual SyncNow error = %v", err)
	}
	if got := s.Status().TotalSyncsToday; got != 1 {
		t.Errorf("TotalSyncsToday = %d, want 1 (no double-applied result)", got)
	}
}

func TestTick_StaleTimerCannotResurrectStoppedScheduler(t *testing.T) {
	provider := &MockProvider{Connected: true}
	s, _, _ := newTestScheduler(t, provider)

	s.Start(context.Background())
	s.mu.Lock()
	stop := s.stopCh
	s.mu.Unlock()

	s.Stop()
	s.tick(stop) // a tick dispatched before Stop must be a no-op now

	st := s.Status()
	if st.IsRunning || st.NextSyncTime != nil {
		t.Error("stale tick must not resurrect a stopped scheduler")
	}
	if provider.Calls() != 0 {
		t.Error("stale tick must not sync")
	}
}
