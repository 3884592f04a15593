package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Frequency is the cadence of a recurrence rule.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ValidFrequency checks if a string is a valid recurrence frequency.
func ValidFrequency(s string) bool {
	switch Frequency(s) {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// ErrInvalidRecurrence indicates a recurrence rule whose discriminant fields
// do not match its frequency, or a malformed time of day.
var ErrInvalidRecurrence = errors.New("invalid recurrence")

// weekdayNumbers maps canonical lowercase weekday names to cron day-of-week
// numbers (0 = Sunday).
var weekdayNumbers = map[string]int{
	"sunday":    0,
	"monday":    1,
	"tuesday":   2,
	"wednesday": 3,
	"thursday":  4,
	"friday":    5,
	"saturday":  6,
}

// recurrenceParser accepts the five-field cron specs rendered by cronSpec.
var recurrenceParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Recurrence is a validated schedule cadence: a frequency, a time of day,
// and exactly one of DayOfWeek (weekly) or DayOfMonth (monthly); daily rules
// carry neither. Construct via NewRecurrence; a hand-built value may violate
// the discriminant and should be checked with Validate before use.
//
// The rule carries no on/off state; activation lives on ScheduledReport.
type Recurrence struct {
	Frequency  Frequency `json:"frequency"`
	Hour       int       `json:"hour"`
	Minute     int       `json:"minute"`
	DayOfWeek  *string   `json:"day_of_week,omitempty"`
	DayOfMonth *int      `json:"day_of_month,omitempty"`
}

// NewRecurrence builds a validated recurrence rule. timeOfDay is "HH:MM"
// (24h). The discriminant is enforced strictly: a weekly rule must carry
// dayOfWeek and no dayOfMonth, a monthly rule the reverse, and a daily rule
// neither. Violations fail with ErrInvalidRecurrence naming the offending
// field.
func NewRecurrence(frequency Frequency, timeOfDay string, dayOfWeek *string, dayOfMonth *int) (Recurrence, error) {
	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return Recurrence{}, err
	}

	r := Recurrence{Frequency: frequency, Hour: hour, Minute: minute}

	switch frequency {
	case FrequencyDaily:
		if dayOfWeek != nil {
			return Recurrence{}, fmt.Errorf("%w: daily rule must not carry day_of_week", ErrInvalidRecurrence)
		}
		if dayOfMonth != nil {
			return Recurrence{}, fmt.Errorf("%w: daily rule must not carry day_of_month", ErrInvalidRecurrence)
		}
	case FrequencyWeekly:
		if dayOfMonth != nil {
			return Recurrence{}, fmt.Errorf("%w: weekly rule must not carry day_of_month", ErrInvalidRecurrence)
		}
		if dayOfWeek == nil {
			return Recurrence{}, fmt.Errorf("%w: weekly rule requires day_of_week", ErrInvalidRecurrence)
		}
		day := strings.ToLower(*dayOfWeek)
		if _, ok := weekdayNumbers[day]; !ok {
			return Recurrence{}, fmt.Errorf("%w: unknown day_of_week %q", ErrInvalidRecurrence, *dayOfWeek)
		}
		r.DayOfWeek = &day
	case FrequencyMonthly:
		if dayOfWeek != nil {
			return Recurrence{}, fmt.Errorf("%w: monthly rule must not carry day_of_week", ErrInvalidRecurrence)
		}
		if dayOfMonth == nil {
			return Recurrence{}, fmt.Errorf("%w: monthly rule requires day_of_month", ErrInvalidRecurrence)
		}
		if *dayOfMonth < 1 || *dayOfMonth > 31 {
			return Recurrence{}, fmt.Errorf("%w: day_of_month %d out of range [1,31]", ErrInvalidRecurrence, *dayOfMonth)
		}
		day := *dayOfMonth
		r.DayOfMonth = &day
	default:
		return Recurrence{}, fmt.Errorf("%w: unknown frequency %q", ErrInvalidRecurrence, frequency)
	}

	return r, nil
}

// parseTimeOfDay parses "HH:MM" in 24h form.
func parseTimeOfDay(s string) (hour, minute int, err error) {
	t, parseErr := time.Parse("15:04", s)
	if parseErr != nil {
		return 0, 0, fmt.Errorf("%w: time_of_day %q is not HH:MM", ErrInvalidRecurrence, s)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate re-checks the discriminant invariant on a rule that was not built
// through NewRecurrence (e.g. deserialized from a request body or the DB).
func (r Recurrence) Validate() error {
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("%w: time of day %02d:%02d out of range", ErrInvalidRecurrence, r.Hour, r.Minute)
	}

	var dayOfWeek *string
	if r.DayOfWeek != nil {
		dayOfWeek = r.DayOfWeek
	}
	_, err := NewRecurrence(r.Frequency, r.TimeOfDay(), dayOfWeek, r.DayOfMonth)
	return err
}

// TimeOfDay renders the rule's firing time as "HH:MM".
func (r Recurrence) TimeOfDay() string {
	return fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
}

// Describe renders the canonical human phrase for the rule:
// "Daily at 08:00", "Weekly on monday at 08:00", "Monthly on day 31 at 08:00".
func (r Recurrence) Describe() string {
	switch r.Frequency {
	case FrequencyWeekly:
		day := ""
		if r.DayOfWeek != nil {
			day = *r.DayOfWeek
		}
		return fmt.Sprintf("Weekly on %s at %s", day, r.TimeOfDay())
	case FrequencyMonthly:
		day := 0
		if r.DayOfMonth != nil {
			day = *r.DayOfMonth
		}
		return fmt.Sprintf("Monthly on day %d at %s", day, r.TimeOfDay())
	default:
		return fmt.Sprintf("Daily at %s", r.TimeOfDay())
	}
}

// cronSpec renders the rule as a five-field cron expression.
func (r Recurrence) cronSpec() string {
	switch r.Frequency {
	case FrequencyWeekly:
		dow := 0
		if r.DayOfWeek != nil {
			dow = weekdayNumbers[*r.DayOfWeek]
		}
		return fmt.Sprintf("%d %d * * %d", r.Minute, r.Hour, dow)
	case FrequencyMonthly:
		dom := 1
		if r.DayOfMonth != nil {
			dom = *r.DayOfMonth
		}
		return fmt.Sprintf("%d %d %d * *", r.Minute, r.Hour, dom)
	default:
		return fmt.Sprintf("%d %d * * *", r.Minute, r.Hour)
	}
}

// NextAfter computes the next firing time strictly after from, in from's
// location. Calendar arithmetic is delegated to the cron library; for a
// monthly rule on day 29, 30 or 31, months lacking that day are skipped to
// the next month that has it, so a schedule for "the 31st" never silently
// fires on the 28th of February.
func (r Recurrence) NextAfter(from time.Time) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}
	sched, err := recurrenceParser.Parse(r.cronSpec())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err)
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no firing time after %s", ErrInvalidRecurrence, from)
	}
	return next, nil
}
