// Package cron parses standard 5-field cron expressions
// (minute hour day-of-month month day-of-week) and computes fire times.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type field struct {
	name string
	min  int
	max  int
}

var fields = [5]field{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Schedule is a parsed cron expression. Each field is a bitset of the
// allowed values; all five fields must match for a time to fire.
type Schedule struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64
}

// Parse parses a 5-field cron expression. It returns an error for a wrong
// field count, out-of-range values, inverted ranges, or zero steps.
func Parse(expr string) (Schedule, error) {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("cron expression %q: expected 5 fields, got %d", expr, len(parts))
	}

	var sets [5]uint64
	for i, part := range parts {
		set, err := parseField(part, fields[i])
		if err != nil {
			return Schedule{}, fmt.Errorf("cron expression %q: %w", expr, err)
		}
		sets[i] = set
	}

	return Schedule{
		minute: sets[0],
		hour:   sets[1],
		dom:    sets[2],
		month:  sets[3],
		dow:    sets[4],
	}, nil
}

// Validate reports whether expr is a well-formed 5-field cron expression.
func Validate(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

func parseField(part string, f field) (uint64, error) {
	var set uint64
	for _, segment := range strings.Split(part, ",") {
		seg, err := parseSegment(segment, f)
		if err != nil {
			return 0, err
		}
		set |= seg
	}
	if set == 0 {
		return 0, fmt.Errorf("%s field %q matches nothing", f.name, part)
	}
	return set, nil
}

func parseSegment(segment string, f field) (uint64, error) {
	base := segment
	step := 1
	if idx := strings.Index(segment, "/"); idx >= 0 {
		base = segment[:idx]
		n, err := strconv.Atoi(segment[idx+1:])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%s field: invalid step in %q", f.name, segment)
		}
		step = n
	}

	lo, hi := f.min, f.max
	switch {
	case base == "*":
		// full range
	case strings.Contains(base, "-"):
		rangeParts := strings.SplitN(base, "-", 2)
		a, errA := strconv.Atoi(rangeParts[0])
		b, errB := strconv.Atoi(rangeParts[1])
		if errA != nil || errB != nil {
			return 0, fmt.Errorf("%s field: invalid range %q", f.name, segment)
		}
		if a < f.min || b > f.max || a > b {
			return 0, fmt.Errorf("%s field: range %q out of %d-%d", f.name, segment, f.min, f.max)
		}
		lo, hi = a, b
	default:
		n, err := strconv.Atoi(base)
		if err != nil {
			return 0, fmt.Errorf("%s field: invalid value %q", f.name, segment)
		}
		if n < f.min || n > f.max {
			return 0, fmt.Errorf("%s field: value %d out of %d-%d", f.name, n, f.min, f.max)
		}
		lo, hi = n, n
	}

	var set uint64
	for v := lo; v <= hi; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}

func (s Schedule) matches(t time.Time) bool {
	return s.minute&(1<<uint(t.Minute())) != 0 &&
		s.hour&(1<<uint(t.Hour())) != 0 &&
		s.dom&(1<<uint(t.Day())) != 0 &&
		s.month&(1<<uint(t.Month())) != 0 &&
		s.dow&(1<<uint(t.Weekday())) != 0
}

// Next returns the first time strictly after t at which the schedule fires,
// or the zero time if none is found within five years (an impossible
// day-of-month/month combination such as "0 0 31 2 *").
func (s Schedule) Next(t time.Time) time.Time {
	// Start at the next whole minute; cron has minute resolution.
	next := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)

	for !next.After(limit) {
		if s.matches(next) {
			return next
		}
		next = next.Add(time.Minute)
	}
	return time.Time{}
}
