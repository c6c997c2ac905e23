package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"example.com/fittrack/internal/observability"
)

// ImportItem is one externally sourced activity awaiting import.
type ImportItem struct {
	ExternalID string
	Candidate  Candidate
}

// ImportInput describes a bulk import request.
type ImportInput struct {
	TenantID string
	UserID   string
	Source   string
	Items    []ImportItem
}

// ImportStatus is the per-item outcome of an import.
type ImportStatus string

const (
	ImportStatusImported  ImportStatus = "imported"
	ImportStatusDuplicate ImportStatus = "duplicate"
	ImportStatusRejected  ImportStatus = "rejected"
	ImportStatusFailed    ImportStatus = "failed"
)

// ImportItemResult reports what happened to one item, in request order.
type ImportItemResult struct {
	ExternalID   string
	Status       ImportStatus
	ActivityID   string
	PointsEarned int
	Errors       []string
	Warnings     []string
	Reason       string
}

// ImportReport summarises a bulk import. Items committed before a failure stay committed.
type ImportReport struct {
	Source       string
	Imported     int
	Duplicates   int
	Rejected     int
	Failed       int
	PointsEarned int
	Items        []ImportItemResult
	Progress     UserProgress
}

const importLockAction = "import"

// ImportActivities deduplicates, validates, scores and persists a batch of
// external activities. Accepted items are grouped by calendar day and each day
// is committed in its own transaction in chronological order, so streak
// transitions do not depend on the order the provider returned records in.
func (s *Service) ImportActivities(ctx context.Context, input ImportInput) (*ImportReport, error) {
	if s.locker != nil {
		token, ok, err := s.locker.Acquire(ctx, lockSubject(input.TenantID, input.UserID), importLockAction, s.importLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire import lock: %w", err)
		}
		if !ok {
			return nil, ErrImportInProgress
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), lockSubject(input.TenantID, input.UserID), importLockAction, token); err != nil {
				s.logger.Printf("release import lock (user=%s): %v", input.UserID, err)
			}
		}()
	}

	report := &ImportReport{
		Source: input.Source,
		Items:  make([]ImportItemResult, len(input.Items)),
	}

	type pending struct {
		index    int
		activity Activity
	}
	var accepted []pending
	seen := make(map[string]struct{}, len(input.Items))

	for i, item := range input.Items {
		res := &report.Items[i]
		res.ExternalID = item.ExternalID

		if item.ExternalID != "" {
			if _, dup := seen[item.ExternalID]; dup {
				res.Status = ImportStatusDuplicate
				res.Reason = "repeated within batch"
				continue
			}
			seen[item.ExternalID] = struct{}{}
		}

		validation := s.validator.Validate(item.Candidate)
		observability.RecordValidation(item.Candidate.ActivityType, validation.Valid, len(validation.Warnings))
		res.Errors = validation.Errors
		res.Warnings = validation.Warnings
		if !validation.Valid {
			res.Status = ImportStatusRejected
			continue
		}
		accepted = append(accepted, pending{
			index:    i,
			activity: s.buildActivity(input.TenantID, input.UserID, input.Source, item.ExternalID, item.Candidate, validation),
		})
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].activity.Date.Before(accepted[j].activity.Date)
	})

	for start := 0; start < len(accepted); {
		end := start
		for end < len(accepted) && accepted[end].activity.Date.Equal(accepted[start].activity.Date) {
			end++
		}
		day := accepted[start:end]

		statuses := make([]ImportStatus, len(day))
		reasons := make([]string, len(day))
		err := s.repo.UpdateProgress(ctx, input.TenantID, input.UserID, func(ctx context.Context, tx ProgressTx) error {
			sameDay, err := tx.ActivitiesOn(ctx, day[0].activity.Date)
			if err != nil {
				return err
			}
			var credits []Credit
			for k, p := range day {
				statuses[k], reasons[k] = "", ""
				dup, reason, err := isDuplicate(ctx, tx, p.activity, sameDay)
				if err != nil {
					return err
				}
				if dup {
					statuses[k], reasons[k] = ImportStatusDuplicate, reason
					continue
				}
				if err := tx.InsertActivity(ctx, p.activity, ""); err != nil {
					return err
				}
				sameDay = append(sameDay, p.activity)
				statuses[k] = ImportStatusImported
				credits = append(credits, Credit{Date: p.activity.Date, Points: p.activity.PointsEarned})
			}
			if len(credits) == 0 {
				return nil
			}
			progress := AdvanceProgressBatch(tx.Progress(), credits)
			progress.UpdatedAt = s.now().UTC()
			return tx.SaveProgress(ctx, progress)
		})

		for k, p := range day {
			res := &report.Items[p.index]
			if err != nil {
				res.Status = ImportStatusFailed
				res.Reason = err.Error()
				continue
			}
			res.Status = statuses[k]
			res.Reason = reasons[k]
			if res.Status == ImportStatusImported {
				res.ActivityID = p.activity.ID
				res.PointsEarned = p.activity.PointsEarned
				observability.RecordPointsAwarded(string(p.activity.ActivityType), p.activity.Source, p.activity.PointsEarned)
			}
		}
		if err != nil {
			s.logger.Printf("import day %s failed (user=%s): %v", FormatDate(day[0].activity.Date), input.UserID, err)
		}
		start = end
	}

	for _, res := range report.Items {
		observability.RecordImportItem(input.Source, string(res.Status))
		switch res.Status {
		case ImportStatusImported:
			report.Imported++
			report.PointsEarned += res.PointsEarned
		case ImportStatusDuplicate:
			report.Duplicates++
		case ImportStatusRejected:
			report.Rejected++
		case ImportStatusFailed:
			report.Failed++
		}
	}

	progress, err := s.repo.GetUserProgress(ctx, input.TenantID, input.UserID)
	if err != nil {
		return report, fmt.Errorf("load progress: %w", err)
	}
	report.Progress = progress
	return report, nil
}

func isDuplicate(ctx context.Context, tx ProgressTx, a Activity, sameDay []Activity) (bool, string, error) {
	if a.ExternalID != "" {
		exists, err := tx.HasExternalID(ctx, a.Source, a.ExternalID)
		if err != nil {
			return false, "", err
		}
		if exists {
			return true, "external id already imported", nil
		}
	}
	for _, existing := range sameDay {
		if sameSourceRecords(existing, a) {
			continue
		}
		if IsLikelyDuplicate(existing, a.ActivityType, a.Date, a.DistanceKm) {
			return true, "matches an existing activity on the same day", nil
		}
	}
	return false, "", nil
}

const syncLockAction = "provider_sync"

// SyncProvider pulls new activities from the user's connected provider and
// imports them. The sync watermark only advances when no item failed.
func (s *Service) SyncProvider(ctx context.Context, tenantID, userID, providerName string) (*ImportReport, error) {
	provider, ok := s.providers[providerName]
	if !ok || s.connections == nil {
		return nil, ErrProviderNotConfigured
	}

	conn, err := s.connections.GetConnection(ctx, tenantID, userID, providerName)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, ErrConnectionNotFound
	}

	var cooldownToken string
	if s.locker != nil && s.syncCooldown > 0 {
		token, ok, err := s.locker.Acquire(ctx, lockSubject(tenantID, userID), syncLockAction+":"+providerName, s.syncCooldown)
		if err != nil {
			return nil, fmt.Errorf("acquire sync cooldown: %w", err)
		}
		if !ok {
			return nil, ErrSyncCooldown
		}
		cooldownToken = token
	}

	var since time.Time
	if conn.LastSyncedAt != nil {
		since = *conn.LastSyncedAt
	}
	startedAt := s.now().UTC()

	items, err := provider.FetchActivities(ctx, *conn, since)
	if err != nil {
		s.releaseSyncCooldown(ctx, tenantID, userID, providerName, cooldownToken)
		return nil, fmt.Errorf("fetch %s activities: %w: %w", providerName, ErrProviderFetch, err)
	}

	report, err := s.ImportActivities(ctx, ImportInput{
		TenantID: tenantID,
		UserID:   userID,
		Source:   providerName,
		Items:    items,
	})
	if err != nil {
		if errors.Is(err, ErrImportInProgress) {
			s.releaseSyncCooldown(ctx, tenantID, userID, providerName, cooldownToken)
		}
		return report, err
	}

	if report.Failed == 0 {
		if err := s.connections.MarkSynced(ctx, tenantID, userID, providerName, startedAt); err != nil {
			return report, fmt.Errorf("advance sync watermark: %w", err)
		}
	}
	s.logger.Printf("%s sync (user=%s): fetched=%d imported=%d duplicates=%d rejected=%d failed=%d",
		providerName, userID, len(items), report.Imported, report.Duplicates, report.Rejected, report.Failed)
	return report, nil
}

func (s *Service) releaseSyncCooldown(ctx context.Context, tenantID, userID, providerName, token string) {
	if s.locker == nil || s.syncCooldown <= 0 {
		return
	}
	if err := s.locker.Release(context.WithoutCancel(ctx), lockSubject(tenantID, userID), syncLockAction+":"+providerName, token); err != nil {
		s.logger.Printf("release sync cooldown (user=%s): %v", userID, err)
	}
}

func lockSubject(tenantID, userID string) string {
	return tenantID + ":" + userID
}
