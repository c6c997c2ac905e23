package api

import (
	"time"

	"example.com/fittrack/internal/domain"
)

// ActivityView exposes a stored activity.
type ActivityView struct {
	ActivityID        string    `json:"activity_id"`
	UserID            string    `json:"user_id"`
	ActivityType      string    `json:"activity_type"`
	Title             string    `json:"title,omitempty"`
	DistanceKm        float64   `json:"distance_km"`
	DurationMinutes   float64   `json:"duration_minutes"`
	DurationEstimated bool      `json:"duration_estimated"`
	Date              string    `json:"date"`
	Source            string    `json:"source"`
	ExternalID        string    `json:"external_id,omitempty"`
	CaloriesEstimate  int       `json:"calories_estimate"`
	PointsEarned      int       `json:"points_earned"`
	SpeedKmh          *float64  `json:"speed_kmh,omitempty"`
	PaceMinPerKm      *float64  `json:"pace_min_per_km,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ProgressView exposes a user's points and streak.
type ProgressView struct {
	UserID           string  `json:"user_id"`
	Points           int     `json:"points"`
	Streak           int     `json:"streak"`
	LongestStreak    int     `json:"longest_streak"`
	LastActivityDate *string `json:"last_activity_date"`
}

// MetricsView carries derived speed and pace.
type MetricsView struct {
	SpeedKmh     float64 `json:"speed_kmh"`
	PaceMinPerKm float64 `json:"pace_min_per_km"`
}

// ValidationView is the body of POST /v1/activities/validate.
type ValidationView struct {
	Valid    bool         `json:"valid"`
	Errors   []string     `json:"errors"`
	Warnings []string     `json:"warnings"`
	Metrics  *MetricsView `json:"metrics,omitempty"`
}

// RejectionResponse is returned with 422 when a candidate fails validation.
type RejectionResponse struct {
	Type     string   `json:"type"`
	Detail   string   `json:"detail"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// LogActivityResponse describes an accepted activity.
type LogActivityResponse struct {
	Activity ActivityView `json:"activity"`
	Progress ProgressView `json:"progress"`
	Warnings []string     `json:"warnings"`
	Replay   bool         `json:"idempotent_replay"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ImportItemView reports one import item's outcome, in request order.
type ImportItemView struct {
	Index        int      `json:"index"`
	ExternalID   string   `json:"external_id,omitempty"`
	Status       string   `json:"status"`
	ActivityID   string   `json:"activity_id,omitempty"`
	PointsEarned int      `json:"points_earned"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// ImportResponse summarises a bulk import or provider sync.
type ImportResponse struct {
	Source       string           `json:"source"`
	Imported     int              `json:"imported"`
	Duplicates   int              `json:"duplicates"`
	Rejected     int              `json:"rejected"`
	Failed       int              `json:"failed"`
	PointsEarned int              `json:"points_earned"`
	Items        []ImportItemView `json:"items"`
	Progress     ProgressView     `json:"progress"`
}

// CalendarDayView is one heat-map cell.
type CalendarDayView struct {
	Date            string  `json:"date"`
	Activities      int     `json:"activities"`
	Points          int     `json:"points"`
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes float64 `json:"duration_minutes"`
}

// CalendarResponse is the body of GET /v1/progress/calendar.
type CalendarResponse struct {
	From string            `json:"from"`
	To   string            `json:"to"`
	Days []CalendarDayView `json:"days"`
}

// ConnectResponse carries the provider authorisation URL.
type ConnectResponse struct {
	Provider     string `json:"provider"`
	AuthorizeURL string `json:"authorize_url"`
}

// ConnectionView confirms a completed provider connection.
type ConnectionView struct {
	Provider  string `json:"provider"`
	AthleteID string `json:"athlete_id,omitempty"`
	Connected bool   `json:"connected"`
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:        a.ID,
		UserID:            a.UserID,
		ActivityType:      string(a.ActivityType),
		Title:             a.Title,
		DistanceKm:        a.DistanceKm,
		DurationMinutes:   a.DurationMinutes,
		DurationEstimated: a.DurationEstimated,
		Date:              domain.FormatDate(a.Date),
		Source:            a.Source,
		ExternalID:        a.ExternalID,
		CaloriesEstimate:  a.CaloriesEstimate,
		PointsEarned:      a.PointsEarned,
		SpeedKmh:          a.SpeedKmh,
		PaceMinPerKm:      a.PaceMinPerKm,
		CreatedAt:         a.CreatedAt,
	}
}

func toProgressView(p domain.UserProgress) ProgressView {
	view := ProgressView{
		UserID:        p.UserID,
		Points:        p.Points,
		Streak:        p.Streak,
		LongestStreak: p.LongestStreak,
	}
	if p.LastActivityDate != nil {
		d := domain.FormatDate(*p.LastActivityDate)
		view.LastActivityDate = &d
	}
	return view
}

func toValidationView(r domain.ValidationResult) ValidationView {
	view := ValidationView{Valid: r.Valid, Errors: nonNil(r.Errors), Warnings: nonNil(r.Warnings)}
	if r.Metrics != nil {
		view.Metrics = &MetricsView{SpeedKmh: r.Metrics.SpeedKmh, PaceMinPerKm: r.Metrics.PaceMinPerKm}
	}
	return view
}

func toImportResponse(r *domain.ImportReport) ImportResponse {
	resp := ImportResponse{
		Source:       r.Source,
		Imported:     r.Imported,
		Duplicates:   r.Duplicates,
		Rejected:     r.Rejected,
		Failed:       r.Failed,
		PointsEarned: r.PointsEarned,
		Items:        make([]ImportItemView, len(r.Items)),
		Progress:     toProgressView(r.Progress),
	}
	for i, item := range r.Items {
		resp.Items[i] = ImportItemView{
			Index:        i,
			ExternalID:   item.ExternalID,
			Status:       string(item.Status),
			ActivityID:   item.ActivityID,
			PointsEarned: item.PointsEarned,
			Errors:       item.Errors,
			Warnings:     item.Warnings,
			Reason:       item.Reason,
		}
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
