package api

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/fittrack/internal/domain"
)

// ActivityRequest is the payload for POST /v1/activities and /v1/activities/validate.
// Business rules live in the domain validator; tags here only bound the request shape.
type ActivityRequest struct {
	ActivityType    string  `json:"activity_type" validate:"max=32"`
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes float64 `json:"duration_minutes"`
	Date            string  `json:"date" validate:"max=40"`
	Title           string  `json:"title" validate:"max=200"`
}

func (r ActivityRequest) candidate() domain.Candidate {
	return domain.Candidate{
		ActivityType:    r.ActivityType,
		DistanceKm:      r.DistanceKm,
		DurationMinutes: r.DurationMinutes,
		Date:            r.Date,
		Title:           strings.TrimSpace(r.Title),
	}
}

// ImportItemRequest is one activity in a bulk import.
type ImportItemRequest struct {
	ExternalID string `json:"external_id" validate:"omitempty,max=64"`
	ActivityRequest
}

// ImportRequest is the payload for POST /v1/imports.
type ImportRequest struct {
	Source string              `json:"source" validate:"required,alphanum,max=32,ne=manual"`
	Items  []ImportItemRequest `json:"items" validate:"required,min=1,max=1000,dive"`
}

func (r ImportRequest) items() []domain.ImportItem {
	out := make([]domain.ImportItem, len(r.Items))
	for i, item := range r.Items {
		out[i] = domain.ImportItem{ExternalID: strings.TrimSpace(item.ExternalID), Candidate: item.candidate()}
	}
	return out
}

type listQuery struct {
	Limit  int    `validate:"min=1,max=100"`
	Cursor string `validate:"max=512"`
}

type calendarQuery struct {
	From string `validate:"omitempty,datetime=2006-01-02"`
	To   string `validate:"omitempty,datetime=2006-01-02"`
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// formatValidationError flattens validator errors into one readable message.
func formatValidationError(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		messages = append(messages, fieldErrorMessage(fe))
	}
	return strings.Join(messages, "; ")
}

func fieldErrorMessage(fe validator.FieldError) string {
	field := fieldNames[fe.Field()]
	if field == "" {
		field = strings.ToLower(fe.Field())
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Kind().String() == "slice" {
			return fmt.Sprintf("%s must contain at least %s entries", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		switch fe.Kind().String() {
		case "string":
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		case "slice":
			return fmt.Sprintf("%s must contain at most %s entries", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must be a date formatted YYYY-MM-DD", field)
	case "alphanum":
		return fmt.Sprintf("%s must be alphanumeric", field)
	case "ne":
		return fmt.Sprintf("%s cannot be %q", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

var fieldNames = map[string]string{
	"ActivityType": "activity_type",
	"ExternalID":   "external_id",
	"Title":        "title",
	"Date":         "date",
	"Source":       "source",
	"Items":        "items",
	"Limit":        "limit",
	"Cursor":       "cursor",
	"From":         "from",
	"To":           "to",
}
