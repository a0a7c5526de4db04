// Package recurrence computes next billing occurrences for subscription rules.
//
// Rules are tagged variants: IntervalRule advances a fixed number of
// days/weeks/months/years from the last generated date, InvoiceDayRule
// anchors billing to a day of the month. Month resolution clamps to the
// month's real length and the clamp is recomputed per month, so a day-31
// rule never permanently loses the 31st after passing through February.
package recurrence

import (
	"errors"
	"time"
)

// Unit is the step unit for interval rules.
type Unit string

const (
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months"
	UnitYears  Unit = "years"
)

// LastDayOfMonth is the sentinel invoice day meaning "last day of the month".
const LastDayOfMonth = -1

var (
	ErrInvalidInterval   = errors.New("invalid_interval")
	ErrInvalidUnit       = errors.New("invalid_unit")
	ErrInvalidInvoiceDay = errors.New("invalid_invoice_day")
)

// Rule is a recurrence rule variant.
type Rule interface {
	isRule()
	Validate() error
}

// IntervalRule advances by Every units from the last generated date.
type IntervalRule struct {
	Every int
	Unit  Unit
}

func (IntervalRule) isRule() {}

func (r IntervalRule) Validate() error {
	if r.Every <= 0 {
		return ErrInvalidInterval
	}
	switch r.Unit {
	case UnitDays, UnitWeeks, UnitMonths, UnitYears:
		return nil
	default:
		return ErrInvalidUnit
	}
}

// InvoiceDayRule bills on a fixed day of the month, -1 meaning the last day.
type InvoiceDayRule struct {
	Day int
}

func (InvoiceDayRule) isRule() {}

func (r InvoiceDayRule) Validate() error {
	if r.Day == LastDayOfMonth {
		return nil
	}
	if r.Day < 1 || r.Day > 31 {
		return ErrInvalidInvoiceDay
	}
	return nil
}

// Next returns the next occurrence strictly after the reference date.
// The reference is lastGenerated when set, anchor otherwise. For month
// arithmetic the day-of-month always re-derives from the rule (or the
// anchor for interval rules), never from a previously clamped output.
func Next(rule Rule, anchor time.Time, lastGenerated *time.Time) (time.Time, error) {
	if err := rule.Validate(); err != nil {
		return time.Time{}, err
	}

	ref := anchor.UTC()
	if lastGenerated != nil && lastGenerated.After(ref) {
		ref = lastGenerated.UTC()
	}

	switch r := rule.(type) {
	case IntervalRule:
		return nextInterval(r, anchor.UTC(), ref), nil
	case InvoiceDayRule:
		return nextInvoiceDay(r, ref), nil
	default:
		return time.Time{}, ErrInvalidUnit
	}
}

func nextInterval(r IntervalRule, anchor, ref time.Time) time.Time {
	switch r.Unit {
	case UnitDays:
		return ref.AddDate(0, 0, r.Every)
	case UnitWeeks:
		return ref.AddDate(0, 0, 7*r.Every)
	case UnitYears:
		return ref.AddDate(r.Every, 0, 0)
	default: // UnitMonths
		return addMonthsClamped(ref, r.Every, anchor.Day())
	}
}

// addMonthsClamped moves ref forward by months, re-clamping the anchor day
// against each target month so short months do not shift the schedule.
func addMonthsClamped(ref time.Time, months, anchorDay int) time.Time {
	year, month, _ := ref.Date()
	target := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	day := ClampDay(target.Year(), target.Month(), anchorDay)
	hour, min, sec := ref.Clock()
	return time.Date(target.Year(), target.Month(), day, hour, min, sec, ref.Nanosecond(), time.UTC)
}

func nextInvoiceDay(r InvoiceDayRule, ref time.Time) time.Time {
	year, month, _ := ref.Date()

	day := ClampDay(year, month, r.Day)
	candidate := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if candidate.After(truncateToDay(ref)) {
		return candidate
	}

	next := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	day = ClampDay(next.Year(), next.Month(), r.Day)
	return time.Date(next.Year(), next.Month(), day, 0, 0, 0, 0, time.UTC)
}

// ClampDay resolves a requested day-of-month against the month's real
// length. Idempotent: clamping an already valid day returns it unchanged.
func ClampDay(year int, month time.Month, day int) int {
	last := daysIn(year, month)
	if day == LastDayOfMonth || day > last {
		return last
	}
	if day < 1 {
		return 1
	}
	return day
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func truncateToDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
