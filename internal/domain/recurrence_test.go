package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestNewRecurrence_Daily(t *testing.T) {
	r, err := NewRecurrence(FrequencyDaily, "08:00", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 8, r.Hour)
	assert.Equal(t, 0, r.Minute)
	assert.Equal(t, "08:00", r.TimeOfDay())
	assert.Equal(t, "Daily at 08:00", r.Describe())
}

func TestNewRecurrence_Weekly(t *testing.T) {
	r, err := NewRecurrence(FrequencyWeekly, "17:30", strp("monday"), nil)
	require.NoError(t, err)

	assert.Equal(t, "Weekly on monday at 17:30", r.Describe())
}

func TestNewRecurrence_Monthly(t *testing.T) {
	r, err := NewRecurrence(FrequencyMonthly, "06:15", nil, intp(31))
	require.NoError(t, err)

	assert.Equal(t, "Monthly on day 31 at 06:15", r.Describe())
}

func TestNewRecurrence_DiscriminantViolations(t *testing.T) {
	cases := []struct {
		name      string
		frequency Frequency
		dow       *string
		dom       *int
	}{
		{"daily with day_of_week", FrequencyDaily, strp("monday"), nil},
		{"daily with day_of_month", FrequencyDaily, nil, intp(1)},
		{"weekly without day_of_week", FrequencyWeekly, nil, nil},
		{"weekly with day_of_month", FrequencyWeekly, strp("monday"), intp(5)},
		{"monthly without day_of_month", FrequencyMonthly, nil, nil},
		{"monthly with day_of_week", FrequencyMonthly, strp("friday"), intp(5)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRecurrence(tc.frequency, "08:00", tc.dow, tc.dom)
			assert.ErrorIs(t, err, ErrInvalidRecurrence)
		})
	}
}

func TestNewRecurrence_BadValues(t *testing.T) {
	_, err := NewRecurrence(FrequencyWeekly, "08:00", strp("someday"), nil)
	assert.ErrorIs(t, err, ErrInvalidRecurrence)

	_, err = NewRecurrence(FrequencyMonthly, "08:00", nil, intp(0))
	assert.ErrorIs(t, err, ErrInvalidRecurrence)

	_, err = NewRecurrence(FrequencyMonthly, "08:00", nil, intp(32))
	assert.ErrorIs(t, err, ErrInvalidRecurrence)

	_, err = NewRecurrence("hourly", "08:00", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRecurrence)

	_, err = NewRecurrence(FrequencyDaily, "25:00", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRecurrence)

	_, err = NewRecurrence(FrequencyDaily, "8am", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRecurrence)
}

func TestNextAfter_Daily(t *testing.T) {
	r, err := NewRecurrence(FrequencyDaily, "08:00", nil, nil)
	require.NoError(t, err)

	// Before today's fire time.
	from := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	next, err := r.NextAfter(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), next)

	// Exactly at the fire time rolls to the next day.
	next, err = r.NextAfter(next)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC), next)
}

func TestNextAfter_Weekly(t *testing.T) {
	r, err := NewRecurrence(FrequencyWeekly, "08:00", strp("monday"), nil)
	require.NoError(t, err)

	// 2026-03-10 is a Tuesday; next Monday is 2026-03-16.
	from := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	next, err := r.NextAfter(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC), next)
}

func TestNextAfter_MonthlySkipsShortMonths(t *testing.T) {
	r, err := NewRecurrence(FrequencyMonthly, "08:00", nil, intp(31))
	require.NoError(t, err)

	// February has no day 31, so from the January fire time the
	// schedule jumps straight to March.
	from := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	next, err := r.NextAfter(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 31, 8, 0, 0, 0, time.UTC), next)
}

func TestNextAfter_MonthlyDay30SkipsFebruary(t *testing.T) {
	r, err := NewRecurrence(FrequencyMonthly, "00:30", nil, intp(30))
	require.NoError(t, err)

	from := time.Date(2026, 1, 30, 0, 30, 0, 0, time.UTC)
	next, err := r.NextAfter(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 30, 0, 30, 0, 0, time.UTC), next)
}

func TestValidate_ZeroValue_Fails(t *testing.T) {
	var r Recurrence
	assert.ErrorIs(t, r.Validate(), ErrInvalidRecurrence)
}
