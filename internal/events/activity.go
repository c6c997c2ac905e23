// Package events defines the payloads published through the outbox.
package events

import "time"

const (
	// TypeActivityLogged is emitted when an activity is accepted and credited.
	TypeActivityLogged = "activity.logged"
	// TypeProgressUpdated is emitted whenever a user's points or streak change.
	TypeProgressUpdated = "progress.updated"
)

// ActivityLogged represents an accepted, scored activity.
type ActivityLogged struct {
	ActivityID       string    `json:"activity_id"`
	TenantID         string    `json:"tenant_id"`
	UserID           string    `json:"user_id"`
	ActivityType     string    `json:"activity_type"`
	ActivityDate     string    `json:"activity_date"`
	DistanceKm       float64   `json:"distance_km"`
	DurationMinutes  float64   `json:"duration_minutes"`
	CaloriesEstimate int       `json:"calories_estimate"`
	PointsEarned     int       `json:"points_earned"`
	Source           string    `json:"source"`
	ExternalID       string    `json:"external_id,omitempty"`
	LoggedAt         time.Time `json:"logged_at"`
}

// ProgressUpdated carries the user's progress after a credit was applied.
type ProgressUpdated struct {
	TenantID         string    `json:"tenant_id"`
	UserID           string    `json:"user_id"`
	Points           int       `json:"points"`
	Streak           int       `json:"streak"`
	LongestStreak    int       `json:"longest_streak"`
	LastActivityDate string    `json:"last_activity_date,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}
