package domain

// Global plausibility bounds applied to every activity type.
const (
	MinDurationMinutes = 1.0
	MaxDurationMinutes = 1440.0
	MinDistanceKm      = 0.01
	MaxDistanceKm      = 500.0
	MinSpeedKmh        = 0.5
	MaxPastDays        = 365
)

// Heuristic thresholds that only ever produce warnings.
const (
	fastRunSpeedKmh   = 20.0
	fastRunDistanceKm = 10.0
	walkLikeRunKmh    = 6.0
)

// Per-type caps. A type missing from a table has no additional cap for that
// measure; a present zero is a real cap (workout distance).
var (
	maxDurationByType = map[ActivityType]float64{
		ActivityRun:     480,
		ActivityWalk:    600,
		ActivityWorkout: 180,
		ActivityBike:    600,
		ActivitySwim:    240,
	}

	maxDistanceByType = map[ActivityType]float64{
		ActivityRun:     100,
		ActivityWalk:    80,
		ActivityWorkout: 0,
		ActivityBike:    500,
		ActivitySwim:    50,
	}

	maxSpeedByType = map[ActivityType]float64{
		ActivityRun:  25,
		ActivityWalk: 8,
		ActivityBike: 60,
		ActivitySwim: 10,
	}

	maxPaceByType = map[ActivityType]float64{
		ActivityRun:  20,
		ActivityWalk: 30,
	}

	// typicalSpeedByType feeds duration estimation when only distance was supplied.
	typicalSpeedByType = map[ActivityType]float64{
		ActivityRun:  10,
		ActivityWalk: 5,
		ActivityHike: 4,
		ActivityBike: 20,
		ActivitySwim: 2,
	}
)

const defaultTypicalSpeedKmh = 6.0

// distanceBasedTypes are scored primarily from distance.
var distanceBasedTypes = map[ActivityType]struct{}{
	ActivityRun:  {},
	ActivityWalk: {},
	ActivityBike: {},
}
