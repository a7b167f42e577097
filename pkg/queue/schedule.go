package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule determines when a trigger fires.
// Next receives a time already converted to the trigger's location and
// returns the zero time when there is no future fire time.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// cronSchedule wraps a parsed standard cron expression.
type cronSchedule struct {
	spec     string
	schedule cron.Schedule
}

func (s cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

func (s cronSchedule) String() string {
	return s.spec
}

// Cron parses a standard 5-field cron expression ("0 9 * * 1-5") or a
// descriptor such as "@daily" or "@every 1h30m". Fields are evaluated in the
// location of the time passed to Next.
func Cron(spec string) (Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("%w: empty cron expression", ErrInvalidSchedule)
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}
	return cronSchedule{spec: spec, schedule: sched}, nil
}

// MustCron is like Cron but panics on an invalid expression.
// Use it for expressions fixed at compile time.
func MustCron(spec string) Schedule {
	s, err := Cron(spec)
	if err != nil {
		panic(err)
	}
	return s
}

type interval time.Duration

func (i interval) Next(from time.Time) time.Time {
	if i <= 0 {
		return time.Time{}
	}
	return from.Add(time.Duration(i))
}

func (i interval) String() string { return "every " + time.Duration(i).String() }

// wallClock fires at hour:minute local time, every day or on one weekday.
// Candidates are rebuilt from the calendar date, so the wall clock holds
// across DST changes; a time inside a skipped hour is normalized forward.
type wallClock struct {
	hour, minute int
	weekly       bool
	weekday      time.Weekday
}

func (w wallClock) Next(from time.Time) time.Time {
	y, m, d := from.Date()
	for offset := 0; offset <= 7; offset++ {
		at := time.Date(y, m, d+offset, w.hour, w.minute, 0, 0, from.Location())
		if w.weekly && at.Weekday() != w.weekday {
			continue
		}
		if at.After(from) {
			return at
		}
	}
	return time.Time{}
}

func (w wallClock) String() string {
	if w.weekly {
		return fmt.Sprintf("weekly on %s at %02d:%02d", w.weekday, w.hour, w.minute)
	}
	return fmt.Sprintf("daily at %02d:%02d", w.hour, w.minute)
}

type hourly int

func (h hourly) Next(from time.Time) time.Time {
	y, m, d := from.Date()
	at := time.Date(y, m, d, from.Hour(), int(h), 0, 0, from.Location())
	if !at.After(from) {
		at = at.Add(time.Hour)
	}
	return at
}

func (h hourly) String() string { return fmt.Sprintf("hourly at :%02d", int(h)) }

// EveryInterval fires every d after the previous fire. A non-positive d never fires.
func EveryInterval(d time.Duration) Schedule { return interval(d) }

// EveryMinutes fires every n minutes.
func EveryMinutes(n int) Schedule { return interval(time.Duration(n) * time.Minute) }

// HourlyAt fires at the given minute of every hour.
func HourlyAt(minute int) Schedule { return hourly(minute) }

// DailyAt fires once a day at the wall-clock time.
func DailyAt(hour, minute int) Schedule { return wallClock{hour: hour, minute: minute} }

// WeeklyOn fires once a week on weekday at the wall-clock time.
func WeeklyOn(weekday time.Weekday, hour, minute int) Schedule {
	return wallClock{hour: hour, minute: minute, weekly: true, weekday: weekday}
}
