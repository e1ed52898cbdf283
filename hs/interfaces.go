package hs

import (
	"context"
	"time"
)

// HealthProvider abstracts the remote health platform for testing.
type HealthProvider interface {
	IsConnected(ctx context.Context) bool
	FetchActivities(ctx context.Context, since, until time.Time) ([]Activity, error)
}

// WorkoutLog is the downstream sink accepted workouts are written to.
type WorkoutLog interface {
	LogWorkout(ctx context.Context, w Workout) error
}

// KeyValue abstracts durable string storage for configuration and run status.
type KeyValue interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Logger interface abstracts structured logging for testing.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Activity is a raw record as returned by the health provider.
type Activity struct {
	UUID           string
	TypeCode       int
	StartTime      time.Time
	DurationMillis int64
	Calories       float64
	DistanceMeters float64 // 0 when the provider didn't report distance
	AvgHeartRate   int     // 0 when the provider didn't report heart rate
}

// Workout is the normalized record written to the workout log.
type Workout struct {
	ID              string    `json:"id"`
	Sport           string    `json:"sport"`
	StartTime       time.Time `json:"startTime"`
	DurationMinutes int       `json:"durationMinutes"`
	Calories        int       `json:"calories"`
	DistanceKm      float64   `json:"distanceKm,omitempty"`
	AvgHeartRate    int       `json:"avgHeartRate,omitempty"`
	Source          string    `json:"source"`
}

// SyncResult summarizes one completed sync cycle.
type SyncResult struct {
	Synced     int       // newly stored workouts
	Duplicates int       // records already processed in an earlier run
	Dropped    int       // records under one minute after conversion
	Failed     int       // records that could not be transformed or stored
	Timestamp  time.Time // when the cycle completed
}
