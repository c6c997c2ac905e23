// Package domain defines the activity quality-control and scoring engine and
// the workflows that persist its results.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/fittrack/internal/observability"
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrImportInProgress is returned when another import holds the user's lock.
	ErrImportInProgress = errors.New("an import is already running for this user")
	// ErrSyncCooldown is returned when a provider sync was requested too soon after the previous one.
	ErrSyncCooldown = errors.New("provider sync requested too soon")
	// ErrProviderNotConfigured is returned when no provider is wired for the requested name.
	ErrProviderNotConfigured = errors.New("activity provider not configured")
	// ErrProviderFetch wraps failures talking to an external provider.
	ErrProviderFetch = errors.New("provider request failed")
	// ErrConnectionNotFound is returned when the user has not connected the provider.
	ErrConnectionNotFound = errors.New("provider connection not found")
	// ErrInvalidRange is returned for calendar queries with an inverted or oversized range.
	ErrInvalidRange = errors.New("invalid date range")
	// ErrIdempotencyConflict is returned by stores when a concurrent request
	// already persisted an activity under the same idempotency key.
	ErrIdempotencyConflict = errors.New("idempotency key already used")
)

// MaxCalendarDays bounds a single calendar query.
const MaxCalendarDays = 366

// ActivityRepository captures read-side persistence operations.
type ActivityRepository interface {
	FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*Activity, error)
	Get(ctx context.Context, tenantID, activityID string) (*Activity, error)
	ListByUser(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
	Calendar(ctx context.Context, tenantID, userID string, from, to time.Time) ([]CalendarDay, error)
}

// ProgressRepository owns UserProgress. UpdateProgress serialises updates per
// user: fn runs while the user's progress is locked and everything written
// through tx commits atomically, or not at all when fn returns an error.
type ProgressRepository interface {
	GetUserProgress(ctx context.Context, tenantID, userID string) (UserProgress, error)
	UpdateProgress(ctx context.Context, tenantID, userID string, fn func(ctx context.Context, tx ProgressTx) error) error
}

// ProgressTx is the unit of work handed to UpdateProgress callbacks.
type ProgressTx interface {
	Progress() UserProgress
	HasExternalID(ctx context.Context, source, externalID string) (bool, error)
	ActivitiesOn(ctx context.Context, day time.Time) ([]Activity, error)
	InsertActivity(ctx context.Context, activity Activity, idempotencyKey string) error
	SaveProgress(ctx context.Context, progress UserProgress) error
}

// Repository is the full storage collaborator.
type Repository interface {
	ActivityRepository
	ProgressRepository
}

// Locker provides short-lived per-user mutual exclusion across instances.
// Acquire returns an ownership token; Release only drops the key while it
// still holds that token.
type Locker interface {
	Acquire(ctx context.Context, subject, action string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, subject, action, token string) error
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithValidator overrides the default Validator.
func WithValidator(v *Validator) ServiceOption {
	return func(s *Service) { s.validator = v }
}

// WithLocker enables cross-instance import locking.
func WithLocker(l Locker) ServiceOption {
	return func(s *Service) { s.locker = l }
}

// WithProvider registers an external activity provider.
func WithProvider(p ActivityProvider) ServiceOption {
	return func(s *Service) { s.providers[p.Name()] = p }
}

// WithConnections sets the provider connection store used by SyncProvider.
func WithConnections(c ConnectionRepository) ServiceOption {
	return func(s *Service) { s.connections = c }
}

// WithNow overrides the clock used for record timestamps.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the service logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithImportLockTTL bounds how long an import may hold the user's lock.
func WithImportLockTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.importLockTTL = ttl }
}

// WithSyncCooldown sets the minimum spacing between provider syncs per user.
func WithSyncCooldown(d time.Duration) ServiceOption {
	return func(s *Service) { s.syncCooldown = d }
}

// Service orchestrates activity workflows.
type Service struct {
	repo          Repository
	validator     *Validator
	locker        Locker
	providers     map[string]ActivityProvider
	connections   ConnectionRepository
	now           func() time.Time
	logger        *log.Logger
	importLockTTL time.Duration
	syncCooldown  time.Duration
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:          repo,
		validator:     NewValidator(),
		providers:     make(map[string]ActivityProvider),
		now:           time.Now,
		logger:        log.New(log.Writer(), "[activity] ", log.LstdFlags),
		importLockTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate runs quality control without persisting anything.
func (s *Service) Validate(c Candidate) ValidationResult {
	return s.validator.Validate(c)
}

// LogActivityInput captures a manual submission from the API layer.
type LogActivityInput struct {
	TenantID       string
	UserID         string
	Candidate      Candidate
	Source         string
	IdempotencyKey string
}

// LogActivityResult carries the validation outcome and, when accepted, the
// stored activity and the user's updated progress.
type LogActivityResult struct {
	Validation ValidationResult
	Activity   *Activity
	Progress   *UserProgress
	Replay     bool
}

// Accepted reports whether the activity was persisted.
func (r *LogActivityResult) Accepted() bool {
	return r.Activity != nil
}

// LogActivity validates, scores and persists a single activity. Rejected
// candidates are returned with a nil Activity and never touch storage.
func (s *Service) LogActivity(ctx context.Context, input LogActivityInput) (*LogActivityResult, error) {
	if replay, err := s.replay(ctx, input); err != nil || replay != nil {
		return replay, err
	}

	validation := s.validator.Validate(input.Candidate)
	observability.RecordValidation(input.Candidate.ActivityType, validation.Valid, len(validation.Warnings))
	if !validation.Valid {
		return &LogActivityResult{Validation: validation}, nil
	}

	source := input.Source
	if source == "" {
		source = SourceManual
	}
	activity := s.buildActivity(input.TenantID, input.UserID, source, "", input.Candidate, validation)

	var progress UserProgress
	err := s.repo.UpdateProgress(ctx, input.TenantID, input.UserID, func(ctx context.Context, tx ProgressTx) error {
		if err := tx.InsertActivity(ctx, activity, input.IdempotencyKey); err != nil {
			return err
		}
		progress = AdvanceProgress(tx.Progress(), activity.PointsEarned, activity.Date)
		progress.UpdatedAt = activity.CreatedAt
		return tx.SaveProgress(ctx, progress)
	})
	if errors.Is(err, ErrIdempotencyConflict) {
		if replay, replayErr := s.replay(ctx, input); replayErr != nil || replay != nil {
			return replay, replayErr
		}
	}
	if err != nil {
		return nil, fmt.Errorf("persist activity: %w", err)
	}

	observability.RecordPointsAwarded(string(activity.ActivityType), activity.Source, activity.PointsEarned)
	return &LogActivityResult{Validation: validation, Activity: &activity, Progress: &progress}, nil
}

// replay returns the stored result for a previously used idempotency key, or
// nil when the key is unused.
func (s *Service) replay(ctx context.Context, input LogActivityInput) (*LogActivityResult, error) {
	if input.IdempotencyKey == "" {
		return nil, nil
	}
	existing, err := s.repo.FindByIdempotency(ctx, input.TenantID, input.UserID, input.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	progress, err := s.repo.GetUserProgress(ctx, input.TenantID, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	return &LogActivityResult{
		Validation: ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}},
		Activity:   existing,
		Progress:   &progress,
		Replay:     true,
	}, nil
}

// buildActivity turns an accepted candidate into a scored record.
func (s *Service) buildActivity(tenantID, userID, source, externalID string, c Candidate, validation ValidationResult) Activity {
	t, _ := ParseActivityType(c.ActivityType)
	date, _ := ParseDate(c.Date)

	duration := c.DurationMinutes
	estimated := false
	if duration == 0 && c.DistanceKm > 0 {
		duration = EstimateDurationMinutes(t, c.DistanceKm)
		estimated = true
	}
	score := ScoreActivity(t, c.DistanceKm, duration)

	activity := Activity{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		UserID:            userID,
		ActivityType:      t,
		Title:             c.Title,
		DistanceKm:        c.DistanceKm,
		DurationMinutes:   duration,
		DurationEstimated: estimated,
		Date:              date,
		Source:            source,
		ExternalID:        externalID,
		CaloriesEstimate:  score.CaloriesEstimate,
		PointsEarned:      score.PointsEarned,
		CreatedAt:         s.now().UTC(),
	}
	if m := validation.Metrics; m != nil {
		speed, pace := m.SpeedKmh, m.PaceMinPerKm
		activity.SpeedKmh = &speed
		activity.PaceMinPerKm = &pace
	}
	return activity
}

// GetActivity fetches by ID.
func (s *Service) GetActivity(ctx context.Context, tenantID, activityID string) (*Activity, error) {
	activity, err := s.repo.Get(ctx, tenantID, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

// ListActivitiesByUser fetches activities newest first with cursor pagination.
func (s *Service) ListActivitiesByUser(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return s.repo.ListByUser(ctx, tenantID, userID, cursor, limit)
}

// GetProgress returns the user's current points and streak.
func (s *Service) GetProgress(ctx context.Context, tenantID, userID string) (UserProgress, error) {
	return s.repo.GetUserProgress(ctx, tenantID, userID)
}

// ActivityCalendar returns per-day totals between from and to inclusive.
func (s *Service) ActivityCalendar(ctx context.Context, tenantID, userID string, from, to time.Time) ([]CalendarDay, error) {
	from, to = Day(from), Day(to)
	if to.Before(from) || to.Sub(from) > MaxCalendarDays*24*time.Hour {
		return nil, ErrInvalidRange
	}
	return s.repo.Calendar(ctx, tenantID, userID, from, to)
}

// Today returns the current calendar date as the validator sees it, so
// default date ranges agree with the future-date rule.
func (s *Service) Today() time.Time {
	return s.validator.Today()
}
