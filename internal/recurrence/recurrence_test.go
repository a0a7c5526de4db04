package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIntervalRuleValidation(t *testing.T) {
	_, err := Next(IntervalRule{Every: 0, Unit: UnitDays}, date(2024, 1, 1), nil)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = Next(IntervalRule{Every: 1, Unit: "fortnights"}, date(2024, 1, 1), nil)
	assert.ErrorIs(t, err, ErrInvalidUnit)
}

func TestInvoiceDayValidation(t *testing.T) {
	_, err := Next(InvoiceDayRule{Day: 0}, date(2024, 1, 1), nil)
	assert.ErrorIs(t, err, ErrInvalidInvoiceDay)

	_, err = Next(InvoiceDayRule{Day: 32}, date(2024, 1, 1), nil)
	assert.ErrorIs(t, err, ErrInvalidInvoiceDay)

	_, err = Next(InvoiceDayRule{Day: LastDayOfMonth}, date(2024, 1, 1), nil)
	assert.NoError(t, err)
}

func TestIntervalUnits(t *testing.T) {
	anchor := date(2024, 1, 10)

	got, err := Next(IntervalRule{Every: 3, Unit: UnitDays}, anchor, nil)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 1, 13), got)

	got, err = Next(IntervalRule{Every: 2, Unit: UnitWeeks}, anchor, nil)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 1, 24), got)

	got, err = Next(IntervalRule{Every: 1, Unit: UnitYears}, anchor, nil)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 1, 10), got)
}

func TestIntervalAdvancesFromLastGenerated(t *testing.T) {
	anchor := date(2024, 1, 1)
	last := date(2024, 3, 5)

	got, err := Next(IntervalRule{Every: 10, Unit: UnitDays}, anchor, &last)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 3, 15), got)
}

func TestMonthIntervalClampsWithoutDrift(t *testing.T) {
	anchor := date(2024, 1, 31)

	first, err := Next(IntervalRule{Every: 1, Unit: UnitMonths}, anchor, nil)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 29), first, "leap-year February clamps to 29")

	second, err := Next(IntervalRule{Every: 1, Unit: UnitMonths}, anchor, &first)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 3, 31), second, "clamp must not carry over into March")
}

func TestMonthIntervalNonLeapFebruary(t *testing.T) {
	anchor := date(2023, 1, 30)

	first, err := Next(IntervalRule{Every: 1, Unit: UnitMonths}, anchor, nil)
	require.NoError(t, err)
	assert.Equal(t, date(2023, 2, 28), first)
}

func TestInvoiceDayCurrentMonthWhenAhead(t *testing.T) {
	got, err := Next(InvoiceDayRule{Day: 20}, date(2024, 1, 5), nil)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 1, 20), got)
}

func TestInvoiceDayRollsToNextMonth(t *testing.T) {
	got, err := Next(InvoiceDayRule{Day: 1}, date(2024, 1, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 1), got, "same-day resolution belongs to next month")

	got, err = Next(InvoiceDayRule{Day: 5}, date(2024, 1, 10), nil)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 5), got)
}

func TestInvoiceDayFebruaryClamp(t *testing.T) {
	for _, day := range []int{29, 30, 31} {
		got, err := Next(InvoiceDayRule{Day: day}, date(2023, 2, 1), nil)
		require.NoError(t, err)
		assert.Equal(t, date(2023, 2, 28), got, "day %d must clamp to end of February", day)

		// The clamp does not follow the rule into March.
		following, err := Next(InvoiceDayRule{Day: day}, got, &got)
		require.NoError(t, err)
		assert.Equal(t, date(2023, 3, ClampDay(2023, time.March, day)), following)
	}
}

func TestInvoiceDayLastDaySentinel(t *testing.T) {
	got, err := Next(InvoiceDayRule{Day: LastDayOfMonth}, date(2024, 2, 10), nil)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 29), got)

	got, err = Next(InvoiceDayRule{Day: LastDayOfMonth}, date(2024, 4, 30), nil)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 5, 31), got)
}

func TestSequenceStrictlyIncreasing(t *testing.T) {
	rules := []Rule{
		IntervalRule{Every: 1, Unit: UnitMonths},
		IntervalRule{Every: 9, Unit: UnitDays},
		InvoiceDayRule{Day: 31},
		InvoiceDayRule{Day: LastDayOfMonth},
	}

	for _, rule := range rules {
		anchor := date(2023, 12, 31)
		last := anchor
		for i := 0; i < 36; i++ {
			next, err := Next(rule, anchor, &last)
			require.NoError(t, err)
			assert.True(t, next.After(last), "occurrence %d for %#v must advance (%v -> %v)", i, rule, last, next)
			last = next
		}
	}
}

func TestMonthlySequenceEvenlySpaced(t *testing.T) {
	anchor := date(2024, 1, 15)
	last := anchor
	for i := 0; i < 24; i++ {
		next, err := Next(IntervalRule{Every: 1, Unit: UnitMonths}, anchor, &last)
		require.NoError(t, err)
		assert.Equal(t, 15, next.Day(), "mid-month anchor never shifts")
		last = next
	}
	assert.Equal(t, date(2026, 1, 15), last)
}

func TestClampDayIdempotent(t *testing.T) {
	clamped := ClampDay(2023, time.February, 31)
	assert.Equal(t, 28, clamped)
	assert.Equal(t, clamped, ClampDay(2023, time.February, clamped))

	assert.Equal(t, 31, ClampDay(2024, time.January, LastDayOfMonth))
	assert.Equal(t, 1, ClampDay(2024, time.January, 0))
}
