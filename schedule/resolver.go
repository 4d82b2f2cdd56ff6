package schedule

import (
	"fmt"
	"time"

	"github.com/mohitkumar/autoflow/model"
	"golang.org/x/exp/slices"
)

// DefaultMaxDays bounds how far past the requested instant the resolver will
// search for an allowed window.
const DefaultMaxDays = 400

// Resolver turns a requested wait into an absolute dispatch instant that
// honors a workflow's send rules.
type Resolver struct {
	location        *time.Location
	holidays        HolidayCalendar
	immediateBypass bool
	maxDays         int
}

type Option func(*Resolver)

func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) {
		if loc != nil {
			r.location = loc
		}
	}
}

func WithHolidays(h HolidayCalendar) Option {
	return func(r *Resolver) {
		if h != nil {
			r.holidays = h
		}
	}
}

// WithImmediateBypass controls whether zero-minute waits skip the window rules.
func WithImmediateBypass(bypass bool) Option {
	return func(r *Resolver) { r.immediateBypass = bypass }
}

func WithMaxDays(days int) Option {
	return func(r *Resolver) {
		if days > 0 {
			r.maxDays = days
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		location:        time.UTC,
		holidays:        NoHolidays{},
		immediateBypass: true,
		maxDays:         DefaultMaxDays,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Location() *time.Location {
	return r.location
}

// Resolve returns reference + minutes pushed forward into the first instant
// whose weekday, hour and date satisfy rules.
func (r *Resolver) Resolve(minutes int, reference time.Time, rules model.SendRules) (time.Time, error) {
	if minutes < 0 {
		return time.Time{}, model.ConfigurationError{Message: fmt.Sprintf("negative delay %d minutes", minutes)}
	}
	candidate := reference.Add(time.Duration(minutes) * time.Minute)
	if minutes == 0 && r.immediateBypass {
		return candidate, nil
	}
	if err := ValidateSendRules(rules); err != nil {
		return time.Time{}, err
	}

	c := candidate.In(r.location)
	limit := c.AddDate(0, 0, r.maxDays)
	start := rules.BusinessHours.StartHour
	end := rules.BusinessHours.EndHour
	for {
		if c.After(limit) {
			return time.Time{}, model.ConfigurationError{
				Message: fmt.Sprintf("no allowed dispatch window within %d days of %s", r.maxDays, candidate.Format(time.RFC3339)),
			}
		}
		if !slices.Contains(rules.DaysOfWeek, int(c.Weekday())) {
			c = r.atHour(c.AddDate(0, 0, 1), 0)
			continue
		}
		if rules.SkipHolidays && r.holidays.IsHoliday(c) {
			c = c.AddDate(0, 0, 1)
			continue
		}
		if c.Before(r.atHour(c, start)) {
			c = r.atHour(c, start)
			continue
		}
		if end < 24 && !c.Before(r.atHour(c, end)) {
			c = r.atHour(c.AddDate(0, 0, 1), start)
			continue
		}
		return c, nil
	}
}

func (r *Resolver) atHour(t time.Time, hour int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, 0, 0, 0, r.location)
}

// ValidateSendRules reports rules under which no instant can ever be allowed.
func ValidateSendRules(rules model.SendRules) error {
	if len(rules.DaysOfWeek) == 0 {
		return model.ConfigurationError{Message: "send rules allow no weekday"}
	}
	for _, d := range rules.DaysOfWeek {
		if d < 0 || d > 6 {
			return model.ConfigurationError{Message: fmt.Sprintf("weekday %d out of range 0-6", d)}
		}
	}
	bh := rules.BusinessHours
	if bh.StartHour < 0 || bh.EndHour > 24 || bh.StartHour >= bh.EndHour {
		return model.ConfigurationError{Message: fmt.Sprintf("invalid business hours %d-%d", bh.StartHour, bh.EndHour)}
	}
	return nil
}
