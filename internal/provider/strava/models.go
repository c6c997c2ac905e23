package strava

import "time"

// Activity is the subset of a Strava summary activity the importer reads.
type Activity struct {
	ID             int64     `json:"id"`
	Athlete        Athlete   `json:"athlete"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	SportType      string    `json:"sport_type"`
	StartDate      time.Time `json:"start_date"`
	StartDateLocal time.Time `json:"start_date_local"`
	Timezone       string    `json:"timezone"`
	Distance       float64   `json:"distance"`     // meters
	MovingTime     int       `json:"moving_time"`  // seconds
	ElapsedTime    int       `json:"elapsed_time"` // seconds
	Manual         bool      `json:"manual"`
}

// Athlete represents a Strava athlete (minimal info in activity response)
type Athlete struct {
	ID int64 `json:"id"`
}
