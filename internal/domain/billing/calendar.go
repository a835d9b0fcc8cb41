package billing

import (
	"fmt"
	"time"

	"github.com/rentbill/backend/internal/domain/shared"
)

// DateOf truncates t to midnight UTC of its calendar day, keeping the
// year/month/day as observed in t's own location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	// Day 0 of the next month normalises to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// CalculateDueDate maps (year, month, dueDay) to a concrete due date.
// A dueDay past the end of the month clamps to the month's last day.
func CalculateDueDate(year int, month time.Month, dueDay int) (time.Time, error) {
	if dueDay < 1 || dueDay > 31 {
		return time.Time{}, shared.NewDomainError(shared.CodeInvalidArgument,
			fmt.Sprintf("due day must be between 1 and 31, got %d", dueDay))
	}
	if month < time.January || month > time.December {
		return time.Time{}, shared.NewDomainError(shared.CodeInvalidArgument,
			fmt.Sprintf("month must be between 1 and 12, got %d", month))
	}
	day := min(dueDay, DaysInMonth(year, month))
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// CalculatePaymentPeriod returns the first and last calendar day of the due
// date's month.
func CalculatePaymentPeriod(dueDate time.Time) (periodStart, periodEnd time.Time) {
	y, m := dueDate.Year(), dueDate.Month()
	periodStart = time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	periodEnd = time.Date(y, m, DaysInMonth(y, m), 0, 0, 0, 0, time.UTC)
	return periodStart, periodEnd
}

// daysBetween returns the signed number of calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
