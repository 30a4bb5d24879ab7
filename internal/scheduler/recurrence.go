package scheduler

import (
	"time"

	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

// NextOccurrence advances a recurring schedule by one calendar interval.
// Calendar arithmetic (AddDate) is used rather than fixed durations so monthly
// schedules land on the same day of month across DST and month-length changes.
// Returns false for "once" or an unknown recurrence.
func NextOccurrence(current time.Time, recurrence string) (time.Time, bool) {
	switch recurrence {
	case models.RecurrenceDaily:
		return current.AddDate(0, 0, 1), true
	case models.RecurrenceWeekly:
		return current.AddDate(0, 0, 7), true
	case models.RecurrenceMonthly:
		return current.AddDate(0, 1, 0), true
	default:
		return time.Time{}, false
	}
}

// Occurrences expands a schedule into every run time from start through
// endDate inclusive. Non-recurring schedules yield just the start.
func Occurrences(start time.Time, recurrence string, endDate time.Time) []time.Time {
	runs := []time.Time{start}
	for {
		next, ok := NextOccurrence(runs[len(runs)-1], recurrence)
		if !ok || next.After(endDate) {
			return runs
		}
		runs = append(runs, next)
	}
}
