package domain

import (
	"sort"
	"time"
)

// UserProgress is a user's points and streak state. It is owned by the
// storage collaborator and updated only through AdvanceProgress.
type UserProgress struct {
	TenantID         string
	UserID           string
	Points           int
	Streak           int
	LongestStreak    int
	LastActivityDate *time.Time
	UpdatedAt        time.Time
}

// AdvanceProgress credits points and applies the streak transition for one
// activity date:
//
//	same day as the last credited day -> streak unchanged
//	the following day                 -> streak + 1
//	anything else, or no history      -> streak = 1
//
// The input is not modified.
func AdvanceProgress(p UserProgress, pointsEarned int, activityDate time.Time) UserProgress {
	day := Day(activityDate)
	next := p
	next.Points += pointsEarned

	switch {
	case p.LastActivityDate == nil:
		next.Streak = 1
	case day.Equal(Day(*p.LastActivityDate)):
		if next.Streak == 0 {
			next.Streak = 1
		}
	case day.Equal(nextDay(Day(*p.LastActivityDate))):
		next.Streak++
	default:
		next.Streak = 1
	}

	if next.Streak > next.LongestStreak {
		next.LongestStreak = next.Streak
	}
	next.LastActivityDate = &day
	return next
}

// Credit is a scored activity waiting to be applied to a user's progress.
type Credit struct {
	Date   time.Time
	Points int
}

// AdvanceProgressBatch applies credits in chronological order, running the
// streak transition once per distinct day regardless of arrival order.
func AdvanceProgressBatch(p UserProgress, credits []Credit) UserProgress {
	if len(credits) == 0 {
		return p
	}

	perDay := make(map[time.Time]int, len(credits))
	for _, c := range credits {
		perDay[Day(c.Date)] += c.Points
	}
	days := make([]time.Time, 0, len(perDay))
	for d := range perDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	for _, d := range days {
		p = AdvanceProgress(p, perDay[d], d)
	}
	return p
}
