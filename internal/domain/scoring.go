package domain

import "math"

// ReferenceBodyMassKg is the fixed body mass used by the calorie model.
const ReferenceBodyMassKg = 70.0

const (
	workoutMET = 6.0
	defaultMET = 5.0
)

// ActivityScore is the outcome of scoring a validated activity.
type ActivityScore struct {
	CaloriesEstimate int
	PointsEarned     int
}

// ScoreActivity estimates calories with the MET model and converts them to
// points at one point per 10 kcal, with a floor of one point.
func ScoreActivity(t ActivityType, distanceKm, durationMinutes float64) ActivityScore {
	calories := EstimateCalories(t, distanceKm, durationMinutes)
	return ActivityScore{
		CaloriesEstimate: calories,
		PointsEarned:     PointsForCalories(calories),
	}
}

// EstimateCalories returns kcal rounded to the nearest integer.
func EstimateCalories(t ActivityType, distanceKm, durationMinutes float64) int {
	hours := durationMinutes / 60
	var kcal float64
	switch t {
	case ActivityRun:
		kcal = ReferenceBodyMassKg * distanceKm
	case ActivityWalk:
		kcal = ReferenceBodyMassKg * distanceKm * 0.5
	case ActivityWorkout:
		kcal = workoutMET * ReferenceBodyMassKg * hours
	default:
		kcal = defaultMET * ReferenceBodyMassKg * hours
	}
	return int(math.Round(kcal))
}

// PointsForCalories converts calories to points.
func PointsForCalories(calories int) int {
	points := int(math.Round(float64(calories) / 10))
	if points < 1 {
		return 1
	}
	return points
}

// EstimateDurationMinutes derives a duration from distance using the typical
// speed for the activity type.
func EstimateDurationMinutes(t ActivityType, distanceKm float64) float64 {
	speed, ok := typicalSpeedByType[t]
	if !ok {
		speed = defaultTypicalSpeedKmh
	}
	return math.Round(distanceKm / speed * 60)
}
