package hs

import (
	"encoding/json"
	"fmt"
	"time"
)

const statusKey = "healthsync/status"

// RunStatus tracks the scheduler's own run statistics. It is persisted as a
// JSON blob in the key-value store and mutated only by the scheduler; other
// readers get snapshots and must tolerate staleness.
type RunStatus struct {
	IsRunning             bool       `json:"isRunning"`
	LastSyncTime          *time.Time `json:"lastSyncTime"`
	NextSyncTime          *time.Time `json:"nextSyncTime"`
	ConsecutiveFailures   int        `json:"consecutiveFailures"`
	LastError             string     `json:"lastError,omitempty"`
	TotalSyncsToday       int        `json:"totalSyncsToday"`
	TotalActivitiesSynced int        `json:"totalActivitiesSynced"`
}

// ResetDay clears the daily counters. Invoked explicitly by callers, and by
// the scheduler when a sync attempt lands on a new calendar day.
func (st *RunStatus) ResetDay() {
	st.TotalSyncsToday = 0
	st.ConsecutiveFailures = 0
}

// Clone returns a copy that shares no pointers with the original.
func (st RunStatus) Clone() RunStatus {
	out := st
	if st.LastSyncTime != nil {
		t := *st.LastSyncTime
		out.LastSyncTime = &t
	}
	if st.NextSyncTime != nil {
		t := *st.NextSyncTime
		out.NextSyncTime = &t
	}
	return out
}

// LoadRunStatus reads the persisted run status. IsRunning is always reset to
// false on load: a process restart implies no job is active.
func LoadRunStatus(kv KeyValue) (RunStatus, error) {
	raw, ok, err := kv.Get(statusKey)
	if err != nil {
		return RunStatus{}, fmt.Errorf("failed to read run status: %w", err)
	}
	if !ok {
		return RunStatus{}, nil
	}

	var st RunStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return RunStatus{}, fmt.Errorf("failed to decode run status: %w", err)
	}
	st.IsRunning = false
	return st, nil
}

// SaveRunStatus persists the run status.
func SaveRunStatus(kv KeyValue, st RunStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode run status: %w", err)
	}
	if err := kv.Set(statusKey, string(data)); err != nil {
		return fmt.Errorf("failed to write run status: %w", err)
	}
	return nil
}
