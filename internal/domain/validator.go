package domain

import (
	"fmt"
	"strings"
	"time"
)

// Metrics holds values derived from distance and duration.
type Metrics struct {
	SpeedKmh     float64
	PaceMinPerKm float64
}

// ValidationResult reports whether a candidate may be persisted. Errors block
// persistence and scoring; warnings are advisory and travel with the accepted
// activity.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Metrics  *Metrics
}

// ValidatorOption customises a Validator.
type ValidatorOption func(*Validator)

// WithClock overrides the time source used for future and stale date checks.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator applies the quality-control rules to candidates. It holds no
// mutable state and is safe for concurrent use.
type Validator struct {
	now func() time.Time
}

// NewValidator constructs a Validator using the wall clock unless overridden.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Today returns the calendar date the future-date rule measures against.
func (v *Validator) Today() time.Time {
	return Day(v.now())
}

// Validate checks c against type, date, duration, distance and speed rules.
// Rules append to the result without short-circuiting, except a missing type
// which returns immediately.
func (v *Validator) Validate(c Candidate) ValidationResult {
	r := &ValidationResult{}

	if strings.TrimSpace(c.ActivityType) == "" {
		r.addError("activity type is required")
		return r.finish()
	}

	t, known := ParseActivityType(c.ActivityType)
	if !known {
		r.addError(fmt.Sprintf("invalid activity type %q: must be one of %s", c.ActivityType, joinTypes()))
	}

	v.checkDate(r, c.Date)
	checkDuration(r, t, c.DistanceKm, c.DurationMinutes)
	checkDistance(r, t, c.DistanceKm)
	checkSpeed(r, t, c.DistanceKm, c.DurationMinutes)
	checkMissingInputs(r, t, c.DistanceKm, c.DurationMinutes)

	return r.finish()
}

func (v *Validator) checkDate(r *ValidationResult, raw string) {
	date, err := ParseDate(raw)
	if err != nil {
		r.addError(fmt.Sprintf("invalid date %q: expected YYYY-MM-DD", raw))
		return
	}
	today := v.Today()
	if date.After(today) {
		r.addError("date cannot be in the future")
		return
	}
	if date.Before(today.AddDate(0, 0, -MaxPastDays)) {
		r.addWarning("date is more than one year ago")
	}
}

func checkDuration(r *ValidationResult, t ActivityType, distance, duration float64) {
	switch {
	case duration < 0:
		r.addError("duration cannot be negative")
		return
	case duration == 0 && distance == 0:
		r.addError("either duration or distance is required")
		return
	case duration == 0:
		return
	}

	if duration < MinDurationMinutes {
		r.addError(fmt.Sprintf("duration must be at least %.0f minute", MinDurationMinutes))
	}
	if duration > MaxDurationMinutes {
		r.addError(fmt.Sprintf("duration cannot exceed %.0f minutes (24 hours)", MaxDurationMinutes))
	}
	if limit, ok := maxDurationByType[t]; ok && duration > limit {
		r.addError(fmt.Sprintf("duration of %.0f minutes exceeds the %.0f minute maximum for %s", duration, limit, t))
	}
}

func checkDistance(r *ValidationResult, t ActivityType, distance float64) {
	if distance < 0 {
		r.addError("distance cannot be negative")
		return
	}
	if distance == 0 {
		return
	}
	if distance < MinDistanceKm {
		r.addWarning(fmt.Sprintf("distance below %.2f km is unusually small", MinDistanceKm))
	}
	if distance > MaxDistanceKm {
		r.addError(fmt.Sprintf("distance cannot exceed %.0f km", MaxDistanceKm))
	}
	if limit, ok := maxDistanceByType[t]; ok && distance > limit {
		r.addError(fmt.Sprintf("distance of %.2f km exceeds the %.0f km maximum for %s", distance, limit, t))
	}
}

func checkSpeed(r *ValidationResult, t ActivityType, distance, duration float64) {
	if distance <= 0 || duration <= 0 {
		return
	}

	speed := distance / (duration / 60)
	pace := duration / distance
	r.Metrics = &Metrics{SpeedKmh: speed, PaceMinPerKm: pace}

	if limit, ok := maxSpeedByType[t]; ok && speed > limit {
		r.addError(fmt.Sprintf("speed of %.1f km/h exceeds the %.0f km/h maximum for %s", speed, limit, t))
	}
	if speed < MinSpeedKmh {
		r.addWarning(fmt.Sprintf("speed of %.2f km/h is unusually slow", speed))
	}
	if limit, ok := maxPaceByType[t]; ok && pace > limit {
		r.addWarning(fmt.Sprintf("pace of %.1f min/km is slower than expected for %s", pace, t))
	}

	switch t {
	case ActivityWorkout:
		r.addWarning("workout activities usually do not record distance")
	case ActivityRun:
		if speed > fastRunSpeedKmh && distance > fastRunDistanceKm {
			r.addWarning(fmt.Sprintf("average speed of %.1f km/h over %.1f km is exceptional, please verify data", speed, distance))
		}
	case ActivityWalk:
		if speed > walkLikeRunKmh {
			r.addWarning(fmt.Sprintf("walking speed of %.1f km/h looks like running", speed))
		}
	}
}

func checkMissingInputs(r *ValidationResult, t ActivityType, distance, duration float64) {
	if distance > 0 && duration == 0 {
		r.addWarning("no duration recorded, duration will be estimated from distance")
	}
	if duration > 0 && distance == 0 {
		if _, ok := distanceBasedTypes[t]; ok {
			r.addWarning(fmt.Sprintf("no distance recorded for %s, distance-based points will be zero", t))
		}
	}
}

func (r *ValidationResult) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}

func (r *ValidationResult) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *ValidationResult) finish() ValidationResult {
	r.Valid = len(r.Errors) == 0
	if r.Errors == nil {
		r.Errors = []string{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	return *r
}

func joinTypes() string {
	names := make([]string, len(ActivityTypes))
	for i, t := range ActivityTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
