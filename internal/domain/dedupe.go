package domain

import (
	"math"
	"time"
)

// DuplicateDistanceTolerance is the relative distance difference under which
// two same-day, same-type activities are treated as the same session.
const DuplicateDistanceTolerance = 0.05

// IsLikelyDuplicate reports whether candidate matches existing on calendar
// date, type and distance within DuplicateDistanceTolerance. It is the
// fallback used when the provider identifier does not match.
func IsLikelyDuplicate(existing Activity, t ActivityType, date time.Time, distanceKm float64) bool {
	if existing.ActivityType != t {
		return false
	}
	if !Day(existing.Date).Equal(Day(date)) {
		return false
	}
	return withinTolerance(existing.DistanceKm, distanceKm, DuplicateDistanceTolerance)
}

// sameSourceRecords reports whether both activities carry their own identifier
// from the same source. Such records are told apart by identifier alone.
func sameSourceRecords(existing, incoming Activity) bool {
	return existing.ExternalID != "" && incoming.ExternalID != "" && existing.Source == incoming.Source
}

func withinTolerance(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	ref := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= tolerance*ref
}
