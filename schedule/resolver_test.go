package schedule

import (
	"math/rand"
	"testing"
	"time"

	"github.com/mohitkumar/autoflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weekdays = model.SendRules{
	BusinessHours: model.BusinessHours{StartHour: 8, EndHour: 20},
	DaysOfWeek:    []int{1, 2, 3, 4, 5},
}

func TestResolveFridayEveningRollsToMonday(t *testing.T) {
	r := NewResolver()
	friday := time.Date(2024, 1, 5, 18, 0, 0, 0, time.UTC)
	require.Equal(t, time.Friday, friday.Weekday())

	got, err := r.Resolve(1440, friday, weekdays)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.Monday, got.Weekday())
}

func TestResolveImmediateIgnoresWindow(t *testing.T) {
	r := NewResolver()
	sunday := time.Date(2024, 1, 7, 2, 0, 0, 0, time.UTC)
	require.Equal(t, time.Sunday, sunday.Weekday())

	got, err := r.Resolve(0, sunday, weekdays)
	require.NoError(t, err)
	assert.Equal(t, sunday, got)

	// rules that could never be satisfied are not consulted either
	got, err = r.Resolve(0, sunday, model.SendRules{})
	require.NoError(t, err)
	assert.Equal(t, sunday, got)
}

func TestResolveImmediateWithoutBypass(t *testing.T) {
	r := NewResolver(WithImmediateBypass(false))
	sunday := time.Date(2024, 1, 7, 2, 0, 0, 0, time.UTC)

	got, err := r.Resolve(0, sunday, weekdays)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC), got)
}

func TestResolveWindowBranches(t *testing.T) {
	r := NewResolver()
	for name, tc := range map[string]struct {
		ref     time.Time
		minutes int
		want    time.Time
	}{
		"inside window stays": {
			ref: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), minutes: 30,
			want: time.Date(2024, 1, 8, 9, 30, 0, 0, time.UTC),
		},
		"before start clamps same day": {
			ref: time.Date(2024, 1, 9, 5, 0, 0, 0, time.UTC), minutes: 60,
			want: time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC),
		},
		"at end hour moves to next morning": {
			ref: time.Date(2024, 1, 9, 19, 0, 0, 0, time.UTC), minutes: 60,
			want: time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC),
		},
		"saturday moves to monday start": {
			ref: time.Date(2024, 1, 6, 11, 0, 0, 0, time.UTC), minutes: 5,
			want: time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC),
		},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := r.Resolve(tc.minutes, tc.ref, weekdays)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveSkipsHolidays(t *testing.T) {
	holidays, err := NewDateSet("2024-01-08", "2024-01-09")
	require.NoError(t, err)
	r := NewResolver(WithHolidays(holidays))
	rules := weekdays
	rules.SkipHolidays = true

	friday := time.Date(2024, 1, 5, 18, 0, 0, 0, time.UTC)
	got, err := r.Resolve(1440, friday, rules)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), got)

	rules.SkipHolidays = false
	got, err = r.Resolve(1440, friday, rules)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC), got)
}

func TestResolveHonorsLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	r := NewResolver(WithLocation(loc))
	// 12:00 UTC on a Monday is 07:00 local, before the window opens
	ref := time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)
	got, err := r.Resolve(1, ref, weekdays)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 1, 8, 8, 0, 0, 0, loc)))
}

func TestResolveConfigurationErrors(t *testing.T) {
	r := NewResolver()
	ref := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	for name, rules := range map[string]model.SendRules{
		"no weekdays":        {BusinessHours: model.BusinessHours{StartHour: 8, EndHour: 20}},
		"inverted hours":     {BusinessHours: model.BusinessHours{StartHour: 20, EndHour: 8}, DaysOfWeek: []int{1}},
		"weekday overflow":   {BusinessHours: model.BusinessHours{StartHour: 8, EndHour: 20}, DaysOfWeek: []int{7}},
		"hours out of range": {BusinessHours: model.BusinessHours{StartHour: 8, EndHour: 25}, DaysOfWeek: []int{1}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(10, ref, rules)
			require.Error(t, err)
			assert.IsType(t, model.ConfigurationError{}, err)
		})
	}

	_, err := r.Resolve(-1, ref, weekdays)
	assert.IsType(t, model.ConfigurationError{}, err)
}

func TestResolveIterationBound(t *testing.T) {
	everyDay := AnyOf(holidayFunc(func(time.Time) bool { return true }))
	r := NewResolver(WithHolidays(everyDay), WithMaxDays(30))
	rules := weekdays
	rules.SkipHolidays = true

	_, err := r.Resolve(10, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), rules)
	require.Error(t, err)
	assert.IsType(t, model.ConfigurationError{}, err)
}

func TestResolveProperties(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	holidays, err := NewDateSet("2024-03-01", "2024-03-04", "2024-12-25")
	require.NoError(t, err)
	r := NewResolver(WithHolidays(holidays))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2000; i++ {
		start := rnd.Intn(23)
		end := start + 1 + rnd.Intn(24-start)
		var days []int
		for d := 0; d < 7; d++ {
			if rnd.Intn(2) == 0 {
				days = append(days, d)
			}
		}
		if len(days) == 0 {
			days = []int{rnd.Intn(7)}
		}
		rules := model.SendRules{
			BusinessHours: model.BusinessHours{StartHour: start, EndHour: end},
			DaysOfWeek:    days,
			SkipHolidays:  rnd.Intn(2) == 0,
		}
		ref := base.Add(time.Duration(rnd.Intn(365*24*60)) * time.Minute)

		same, err := r.Resolve(0, ref, rules)
		require.NoError(t, err)
		require.Equal(t, ref, same)

		minutes := 1 + rnd.Intn(10000)
		got, err := r.Resolve(minutes, ref, rules)
		require.NoError(t, err)
		candidate := ref.Add(time.Duration(minutes) * time.Minute)
		require.False(t, got.Before(candidate), "resolved %s before candidate %s", got, candidate)
		require.Contains(t, days, int(got.Weekday()))
		require.GreaterOrEqual(t, got.Hour(), start)
		require.Less(t, got.Hour(), end)
		if rules.SkipHolidays {
			require.False(t, holidays.IsHoliday(got))
		}
	}
}

func TestRegionalCalendar(t *testing.T) {
	c, err := NewRegionalCalendar("us")
	require.NoError(t, err)
	assert.True(t, c.IsHoliday(time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)))
	assert.False(t, c.IsHoliday(time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)))

	_, err = NewRegionalCalendar("atlantis")
	assert.Error(t, err)
}

type holidayFunc func(time.Time) bool

func (f holidayFunc) IsHoliday(t time.Time) bool { return f(t) }
