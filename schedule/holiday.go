package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/gb"
	"github.com/rickar/cal/v2/us"
)

type HolidayCalendar interface {
	IsHoliday(t time.Time) bool
}

type NoHolidays struct{}

func (NoHolidays) IsHoliday(time.Time) bool {
	return false
}

// DateSet is a fixed list of calendar dates, compared in the location of the
// instant being checked.
type DateSet map[string]struct{}

func NewDateSet(dates ...string) (DateSet, error) {
	ds := make(DateSet, len(dates))
	for _, d := range dates {
		t, err := time.Parse("2006-01-02", strings.TrimSpace(d))
		if err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", d, err)
		}
		ds[t.Format("2006-01-02")] = struct{}{}
	}
	return ds, nil
}

func (ds DateSet) IsHoliday(t time.Time) bool {
	_, ok := ds[t.Format("2006-01-02")]
	return ok
}

type regionalCalendar struct {
	bc *cal.BusinessCalendar
}

// NewRegionalCalendar returns the public holidays of a region, observed
// dates included.
func NewRegionalCalendar(region string) (HolidayCalendar, error) {
	bc := cal.NewBusinessCalendar()
	switch strings.ToLower(region) {
	case "us":
		bc.AddHoliday(us.Holidays...)
	case "gb", "uk":
		bc.AddHoliday(gb.Holidays...)
	default:
		return nil, fmt.Errorf("unsupported holiday region %q", region)
	}
	return &regionalCalendar{bc: bc}, nil
}

func (rc *regionalCalendar) IsHoliday(t time.Time) bool {
	actual, observed, _ := rc.bc.IsHoliday(t)
	return actual || observed
}

type anyOf []HolidayCalendar

// AnyOf reports a holiday when any of calendars does.
func AnyOf(calendars ...HolidayCalendar) HolidayCalendar {
	return anyOf(calendars)
}

func (a anyOf) IsHoliday(t time.Time) bool {
	for _, c := range a {
		if c != nil && c.IsHoliday(t) {
			return true
		}
	}
	return false
}
