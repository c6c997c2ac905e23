// Package memory provides an in-process storage collaborator for local
// development and tests. It is not shared between instances.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/observability"
)

// Store keeps activities, progress and provider connections in memory.
type Store struct {
	mu          sync.RWMutex
	activities  map[string]domain.Activity
	idempotency map[string]string
	progress    map[string]domain.UserProgress
	connections map[string]domain.ProviderConnection

	locksMu   sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		activities:  make(map[string]domain.Activity),
		idempotency: make(map[string]string),
		progress:    make(map[string]domain.UserProgress),
		connections: make(map[string]domain.ProviderConnection),
		userLocks:   make(map[string]*sync.Mutex),
	}
}

func userKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

// FindByIdempotency implements domain.ActivityRepository.
func (s *Store) FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*domain.Activity, error) {
	if idempotencyKey == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idempotency[userKey(tenantID, userID)+"/"+idempotencyKey]
	if !ok {
		return nil, nil
	}
	a := s.activities[id]
	return &a, nil
}

// Get implements domain.ActivityRepository.
func (s *Store) Get(ctx context.Context, tenantID, activityID string) (*domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.activities[activityID]
	if !ok || a.TenantID != tenantID {
		return nil, nil
	}
	return &a, nil
}

// ListByUser implements domain.ActivityRepository, newest first.
func (s *Store) ListByUser(ctx context.Context, tenantID, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	s.mu.RLock()
	all := make([]domain.Activity, 0)
	for _, a := range s.activities {
		if a.TenantID == tenantID && a.UserID == userID {
			all = append(all, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return newer(all[i], all[j]) })

	results := make([]domain.Activity, 0, limit)
	for _, a := range all {
		if cursor != nil && !newer(domain.Activity{Date: cursor.Date, CreatedAt: cursor.CreatedAt, ID: cursor.ID}, a) {
			continue
		}
		results = append(results, a)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{Date: last.Date, CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// newer orders by (date, created_at, id) descending.
func newer(a, b domain.Activity) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Calendar implements domain.ActivityRepository.
func (s *Store) Calendar(ctx context.Context, tenantID, userID string, from, to time.Time) ([]domain.CalendarDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	days := make(map[time.Time]*domain.CalendarDay)
	for _, a := range s.activities {
		if a.TenantID != tenantID || a.UserID != userID || a.Date.Before(from) || a.Date.After(to) {
			continue
		}
		d, ok := days[a.Date]
		if !ok {
			d = &domain.CalendarDay{Date: a.Date}
			days[a.Date] = d
		}
		d.Activities++
		d.Points += a.PointsEarned
		d.DistanceKm += a.DistanceKm
		d.DurationMinutes += a.DurationMinutes
	}

	out := make([]domain.CalendarDay, 0, len(days))
	for _, d := range days {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// GetUserProgress implements domain.ProgressRepository. Users without history
// get zero-valued progress.
func (s *Store) GetUserProgress(ctx context.Context, tenantID, userID string) (domain.UserProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progressLocked(tenantID, userID), nil
}

func (s *Store) progressLocked(tenantID, userID string) domain.UserProgress {
	if p, ok := s.progress[userKey(tenantID, userID)]; ok {
		return p
	}
	return domain.UserProgress{TenantID: tenantID, UserID: userID}
}

func (s *Store) userLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.userLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[key] = l
	}
	return l
}

// UpdateProgress implements domain.ProgressRepository. Writes are staged on
// the transaction and applied only when fn succeeds.
func (s *Store) UpdateProgress(ctx context.Context, tenantID, userID string, fn func(ctx context.Context, tx domain.ProgressTx) error) error {
	key := userKey(tenantID, userID)
	lock := s.userLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	tx := &progressTx{store: s, tenantID: tenantID, userID: userID, progress: s.progressLocked(tenantID, userID)}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *progressTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(tx.tenantID, tx.userID)
	for _, st := range tx.staged {
		if st.idempotencyKey == "" {
			continue
		}
		if _, exists := s.idempotency[key+"/"+st.idempotencyKey]; exists {
			return domain.ErrIdempotencyConflict
		}
	}
	for _, st := range tx.staged {
		s.activities[st.activity.ID] = st.activity
		if st.idempotencyKey != "" {
			s.idempotency[key+"/"+st.idempotencyKey] = st.activity.ID
		}
		observability.RecordActivityPersisted(st.activity.CreatedAt)
	}
	if tx.saved != nil {
		s.progress[key] = *tx.saved
	}
	return nil
}

type stagedActivity struct {
	activity       domain.Activity
	idempotencyKey string
}

type progressTx struct {
	store    *Store
	tenantID string
	userID   string
	progress domain.UserProgress
	staged   []stagedActivity
	saved    *domain.UserProgress
}

func (t *progressTx) Progress() domain.UserProgress {
	if t.saved != nil {
		return *t.saved
	}
	return t.progress
}

func (t *progressTx) HasExternalID(ctx context.Context, source, externalID string) (bool, error) {
	for _, st := range t.staged {
		if st.activity.Source == source && st.activity.ExternalID == externalID {
			return true, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, a := range t.store.activities {
		if a.TenantID == t.tenantID && a.UserID == t.userID && a.Source == source && a.ExternalID == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (t *progressTx) ActivitiesOn(ctx context.Context, day time.Time) ([]domain.Activity, error) {
	day = domain.Day(day)
	var out []domain.Activity
	t.store.mu.RLock()
	for _, a := range t.store.activities {
		if a.TenantID == t.tenantID && a.UserID == t.userID && a.Date.Equal(day) {
			out = append(out, a)
		}
	}
	t.store.mu.RUnlock()
	for _, st := range t.staged {
		if st.activity.Date.Equal(day) {
			out = append(out, st.activity)
		}
	}
	return out, nil
}

func (t *progressTx) InsertActivity(ctx context.Context, activity domain.Activity, idempotencyKey string) error {
	t.staged = append(t.staged, stagedActivity{activity: activity, idempotencyKey: idempotencyKey})
	return nil
}

func (t *progressTx) SaveProgress(ctx context.Context, progress domain.UserProgress) error {
	progress.TenantID = t.tenantID
	progress.UserID = t.userID
	t.saved = &progress
	return nil
}

// GetConnection implements domain.ConnectionRepository.
func (s *Store) GetConnection(ctx context.Context, tenantID, userID, provider string) (*domain.ProviderConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[userKey(tenantID, userID)+"/"+provider]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

// SaveConnection implements domain.ConnectionRepository, preserving the sync watermark.
func (s *Store) SaveConnection(ctx context.Context, conn domain.ProviderConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey(conn.TenantID, conn.UserID) + "/" + conn.Provider
	now := time.Now().UTC()
	if existing, ok := s.connections[key]; ok {
		conn.CreatedAt = existing.CreatedAt
		if conn.LastSyncedAt == nil {
			conn.LastSyncedAt = existing.LastSyncedAt
		}
	} else if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	s.connections[key] = conn
	return nil
}

// MarkSynced implements domain.ConnectionRepository.
func (s *Store) MarkSynced(ctx context.Context, tenantID, userID, provider string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey(tenantID, userID) + "/" + provider
	conn, ok := s.connections[key]
	if !ok {
		return domain.ErrConnectionNotFound
	}
	at = at.UTC()
	conn.LastSyncedAt = &at
	conn.UpdatedAt = time.Now().UTC()
	s.connections[key] = conn
	return nil
}
