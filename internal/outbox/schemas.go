package outbox

import "example.com/fittrack/internal/events"

const activityLoggedSchema = `{
  "type": "object",
  "title": "ActivityLogged",
  "properties": {
    "activity_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_type": {"type": "string", "enum": ["run", "walk", "workout", "bike", "swim", "hike", "yoga", "other"]},
    "activity_date": {"type": "string", "format": "date"},
    "distance_km": {"type": "number", "minimum": 0},
    "duration_minutes": {"type": "number", "minimum": 0},
    "calories_estimate": {"type": "integer", "minimum": 0},
    "points_earned": {"type": "integer", "minimum": 1},
    "source": {"type": "string"},
    "external_id": {"type": "string"},
    "logged_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "tenant_id", "user_id", "activity_type", "activity_date", "points_earned", "source", "logged_at"],
  "additionalProperties": false
}`

const progressUpdatedSchema = `{
  "type": "object",
  "title": "ProgressUpdated",
  "properties": {
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "points": {"type": "integer", "minimum": 0},
    "streak": {"type": "integer", "minimum": 0},
    "longest_streak": {"type": "integer", "minimum": 0},
    "last_activity_date": {"type": "string", "format": "date"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["tenant_id", "user_id", "points", "streak", "longest_streak", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeActivityLogged:  {Schema: activityLoggedSchema},
	events.TypeProgressUpdated: {Schema: progressUpdatedSchema},
}
