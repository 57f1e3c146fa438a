package lifecycle

import (
	"fmt"
	"ms-booking/internal/models"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ParseDate validates a calendar date in YYYY-MM-DD form.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(value))
}

// ParseTimeOfDay accepts HH:MM and the HH:MM:SS form Postgres returns for
// time columns. Only the clock fields of the result are meaningful.
func ParseTimeOfDay(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	layout := TimeLayout
	if strings.Count(value, ":") == 2 {
		layout = "15:04:05"
	}
	return time.Parse(layout, value)
}

// Combine joins a calendar date and a wall-clock time of day into one
// instant in loc.
func Combine(date, timeOfDay string, loc *time.Location) (time.Time, error) {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid event date %q: %w", date, err)
	}
	clock, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q: %w", timeOfDay, err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, loc), nil
}

// EventStart is the scheduled start instant of the request.
func (e *Engine) EventStart(r *models.Request) (time.Time, error) {
	return Combine(r.EventDate, r.StartTime, e.policy.Location)
}

// EventEnd is the scheduled end instant. An end time at or before the start
// time means the event runs past midnight.
func (e *Engine) EventEnd(r *models.Request) (time.Time, error) {
	start, err := e.EventStart(r)
	if err != nil {
		return time.Time{}, err
	}
	end, err := Combine(r.EventDate, r.EndTime, e.policy.Location)
	if err != nil {
		return time.Time{}, err
	}
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return end, nil
}
