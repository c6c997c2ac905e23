package strava

import (
	"strconv"

	"example.com/fittrack/internal/domain"
)

var sportTypes = map[string]domain.ActivityType{
	"Run":                           domain.ActivityRun,
	"TrailRun":                      domain.ActivityRun,
	"VirtualRun":                    domain.ActivityRun,
	"Walk":                          domain.ActivityWalk,
	"Hike":                          domain.ActivityHike,
	"Ride":                          domain.ActivityBike,
	"EBikeRide":                     domain.ActivityBike,
	"VirtualRide":                   domain.ActivityBike,
	"MountainBikeRide":              domain.ActivityBike,
	"GravelRide":                    domain.ActivityBike,
	"EMountainBikeRide":             domain.ActivityBike,
	"Swim":                          domain.ActivitySwim,
	"Yoga":                          domain.ActivityYoga,
	"WeightTraining":                domain.ActivityWorkout,
	"Workout":                       domain.ActivityWorkout,
	"Crossfit":                      domain.ActivityWorkout,
	"HighIntensityIntervalTraining": domain.ActivityWorkout,
	"Pilates":                       domain.ActivityWorkout,
}

// MapActivityType translates Strava's sport_type, falling back to the legacy type field.
func MapActivityType(sportType, legacyType string) domain.ActivityType {
	if t, ok := sportTypes[sportType]; ok {
		return t
	}
	if t, ok := sportTypes[legacyType]; ok {
		return t
	}
	return domain.ActivityOther
}

// ToImportItem converts a Strava activity into an import candidate.
func ToImportItem(a Activity) domain.ImportItem {
	start := a.StartDateLocal
	if start.IsZero() {
		start = a.StartDate
	}
	seconds := a.MovingTime
	if seconds <= 0 {
		seconds = a.ElapsedTime
	}
	return domain.ImportItem{
		ExternalID: strconv.FormatInt(a.ID, 10),
		Candidate: domain.Candidate{
			ActivityType:    string(MapActivityType(a.SportType, a.Type)),
			DistanceKm:      a.Distance / 1000,
			DurationMinutes: float64(seconds) / 60,
			Date:            domain.FormatDate(start),
			Title:           a.Name,
		},
	}
}
