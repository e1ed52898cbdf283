package hs

import (
	"context"
	"sync"
	"time"
)

// MockProvider implements HealthProvider for testing
type MockProvider struct {
	mu          sync.Mutex
	Connected   bool
	Activities  []Activity
	FetchErr    error
	FetchCalls  int
	FetchBlock  chan struct{} // when non-nil, FetchActivities blocks until closed
	FetchRanges [][2]time.Time
}

func (m *MockProvider) IsConnected(ctx context.Context) bool {
	return m.Connected
}

func (m *MockProvider) FetchActivities(ctx context.Context, since, until time.Time) ([]Activity, error) {
	m.mu.Lock()
	m.FetchCalls++
	m.FetchRanges = append(m.FetchRanges, [2]time.Time{since, until})
	block := m.FetchBlock
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	return m.Activities, nil
}

func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FetchCalls
}

// MockWorkoutLog implements WorkoutLog for testing
type MockWorkoutLog struct {
	mu       sync.Mutex
	Workouts []Workout
	Err      error
	ErrFor   map[string]error // per-ID store failures
}

func (m *MockWorkoutLog) LogWorkout(ctx context.Context, w Workout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if err, ok := m.ErrFor[w.ID]; ok {
		return err
	}
	m.Workouts = append(m.Workouts, w)
	return nil
}

func (m *MockWorkoutLog) Stored() []Workout {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Workout, len(m.Workouts))
	copy(out, m.Workouts)
	return out
}

// MockKeyValue implements KeyValue for testing
type MockKeyValue struct {
	mu       sync.Mutex
	Values   map[string]string
	GetErr   error
	SetErr   error
	SetCalls []string
}

func NewMockKeyValue() *MockKeyValue {
	return &MockKeyValue{Values: make(map[string]string)}
}

func (m *MockKeyValue) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", false, m.GetErr
	}
	v, ok := m.Values[key]
	return v, ok, nil
}

func (m *MockKeyValue) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls = append(m.SetCalls, key)
	if m.SetErr != nil {
		return m.SetErr
	}
	m.Values[key] = value
	return nil
}

// MockLogger implements Logger for testing
type MockLogger struct {
	mu         sync.Mutex
	InfoCalls  []LogCall
	DebugCalls []LogCall
	WarnCalls  []LogCall
	ErrorCalls []LogCall
}

type LogCall struct {
	Message string
	Args    []any
}

func (m *MockLogger) Debug(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DebugCalls = append(m.DebugCalls, LogCall{Message: msg, Args: args})
}

func (m *MockLogger) Info(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoCalls = append(m.InfoCalls, LogCall{Message: msg, Args: args})
}

func (m *MockLogger) Warn(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WarnCalls = append(m.WarnCalls, LogCall{Message: msg, Args: args})
}

func (m *MockLogger) Error(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCalls = append(m.ErrorCalls, LogCall{Message: msg, Args: args})
}

// testActivity returns a valid one-hour run starting at the given time.
func testActivity(uuid string, start time.Time) Activity {
	return Activity{
		UUID:           uuid,
		TypeCode:       1002,
		StartTime:      start,
		DurationMillis: 3600000,
		Calories:       650.4,
		DistanceMeters: 10500,
		AvgHeartRate:   155,
	}
}
