package circulation

import (
	"time"
)

// DefaultLoanPeriodDays is the loan period applied when a borrow command
// does not specify one.
const DefaultLoanPeriodDays = 30

// DefaultDailyFineRate is the fine charged per calendar day a loan is
// returned past its due date.
const DefaultDailyFineRate = 0.5

const dayDuration = 24 * time.Hour

// DateOf truncates a time to its UTC calendar day. All circulation date
// math (due dates, overdue detection, fines) happens on calendar days.
func DateOf(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a time as its UTC calendar day, e.g. "2026-08-29".
func FormatDate(t time.Time) string {
	return DateOf(t).Format(time.DateOnly)
}

// ParseDate parses a "YYYY-MM-DD" string into a UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}

	return t.UTC(), nil
}

// DaysLate returns the number of whole calendar days asOf lies past dueOn,
// or 0 when asOf is on or before the due date.
func DaysLate(dueOn time.Time, asOf time.Time) int {
	due := DateOf(dueOn)
	at := DateOf(asOf)

	if !at.After(due) {
		return 0
	}

	return int(at.Sub(due) / dayDuration)
}

// IsOverdue reports whether a loan due on dueOn is overdue as of asOf.
// A loan becomes overdue on the first day after its due date.
func IsOverdue(dueOn time.Time, asOf time.Time) bool {
	return DateOf(asOf).After(DateOf(dueOn))
}

// FineFor computes the fine for a loan due on dueOn and returned (or
// previewed) as of asOf. The fine always reflects actual elapsed overdue
// days at that moment, never the overdue sweep's bookkeeping lag, and is
// exactly 0 for a return on or before the due date.
func FineFor(dueOn time.Time, asOf time.Time, dailyRate float64) float64 {
	return float64(DaysLate(dueOn, asOf)) * dailyRate
}
