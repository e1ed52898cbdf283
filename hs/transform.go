package hs

import (
	"errors"
	"fmt"
	"math"
)

// Sport categories used by the workout log.
const (
	SportWalking  = "walking"
	SportRunning  = "running"
	SportCycling  = "cycling"
	SportSwimming = "swimming"
	SportHiking   = "hiking"
	SportYoga     = "yoga"
	SportStrength = "strength"
	SportFitness  = "general_fitness"
	SportOther    = "other"
)

// errShortDuration marks records under one minute after conversion. They are
// dropped silently, not counted as failures.
var errShortDuration = errors.New("duration under one minute")

// sportByTypeCode maps the hub's numeric exercise type codes to our sport
// taxonomy.
var sportByTypeCode = map[int]string{
	1001:  SportWalking,
	1002:  SportRunning,
	11007: SportCycling,
	13001: SportHiking,
	14001: SportSwimming,
	15003: SportYoga,
	10004: SportStrength,
}

// SportForTypeCode resolves a provider type code to a sport category.
// Unmapped codes in the 10000+ range are gym-style exercises and land in the
// general-fitness bucket; everything else falls back to "other".
func SportForTypeCode(code int) string {
	if sport, ok := sportByTypeCode[code]; ok {
		return sport
	}
	if code >= 10000 {
		return SportFitness
	}
	return SportOther
}

// TransformActivity converts a raw provider activity into a workout record.
// Duration is converted to whole minutes; records converting to zero minutes
// return errShortDuration. Calories are rounded and clamped non-negative.
func TransformActivity(a Activity, source string) (Workout, error) {
	if a.UUID == "" {
		return Workout{}, fmt.Errorf("activity has no id")
	}
	if a.DurationMillis < 0 {
		return Workout{}, fmt.Errorf("activity %s has negative duration %d", a.UUID, a.DurationMillis)
	}

	minutes := int(a.DurationMillis / 60000)
	if minutes < 1 {
		return Workout{}, errShortDuration
	}

	calories := int(math.Round(a.Calories))
	if calories < 0 {
		calories = 0
	}

	return Workout{
		ID:              a.UUID,
		Sport:           SportForTypeCode(a.TypeCode),
		StartTime:       a.StartTime,
		DurationMinutes: minutes,
		Calories:        calories,
		DistanceKm:      a.DistanceMeters / 1000,
		AvgHeartRate:    a.AvgHeartRate,
		Source:          source,
	}, nil
}
