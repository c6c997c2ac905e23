package domain

import (
	"strings"
	"time"
)

// ActivityType is the enumerated exercise category understood by the scoring engine.
type ActivityType string

const (
	ActivityRun     ActivityType = "run"
	ActivityWalk    ActivityType = "walk"
	ActivityWorkout ActivityType = "workout"
	ActivityBike    ActivityType = "bike"
	ActivitySwim    ActivityType = "swim"
	ActivityHike    ActivityType = "hike"
	ActivityYoga    ActivityType = "yoga"
	ActivityOther   ActivityType = "other"
)

// ActivityTypes lists every accepted type in display order.
var ActivityTypes = []ActivityType{
	ActivityRun,
	ActivityWalk,
	ActivityWorkout,
	ActivityBike,
	ActivitySwim,
	ActivityHike,
	ActivityYoga,
	ActivityOther,
}

// ParseActivityType normalises raw input and reports whether it names a known type.
func ParseActivityType(raw string) (ActivityType, bool) {
	t := ActivityType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range ActivityTypes {
		if t == known {
			return t, true
		}
	}
	return t, false
}

const (
	// SourceManual marks activities entered by the user.
	SourceManual = "manual"
)

// Candidate is a submitted activity before validation. Date is kept raw so
// unparsable input surfaces as a validation error instead of a decode failure.
type Candidate struct {
	ActivityType    string
	DistanceKm      float64
	DurationMinutes float64
	Date            string
	Title           string
}

// Activity is the persisted, scored activity record.
type Activity struct {
	ID                string
	TenantID          string
	UserID            string
	ActivityType      ActivityType
	Title             string
	DistanceKm        float64
	DurationMinutes   float64
	DurationEstimated bool
	Date              time.Time
	Source            string
	ExternalID        string
	CaloriesEstimate  int
	PointsEarned      int
	SpeedKmh          *float64
	PaceMinPerKm      *float64
	CreatedAt         time.Time
}

// Cursor models the pagination token.
type Cursor struct {
	Date      time.Time
	CreatedAt time.Time
	ID        string
}

// CalendarDay aggregates a user's credited activities for one calendar day.
type CalendarDay struct {
	Date            time.Time
	Activities      int
	Points          int
	DistanceKm      float64
	DurationMinutes float64
}
