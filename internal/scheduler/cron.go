package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpr is a parsed 5-field cron expression (minute, hour, day-of-month,
// month, day-of-week). Each field is a bitset of allowed values.
type CronExpr struct {
	minutes     uint64
	hours       uint64
	daysOfMonth uint64
	months      uint64
	daysOfWeek  uint64
	raw         string
}

type field struct {
	name     string
	min, max int
}

var fields = [5]field{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// ParseCron parses a standard 5-field cron expression. Fields accept *,
// */n, n, n-m, n-m/s and comma-separated lists. Day-of-week 7 is Sunday.
func ParseCron(expr string) (*CronExpr, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(parts))
	}
	var sets [5]uint64
	for i, f := range fields {
		set, err := parseField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("%s field: %w", f.name, err)
		}
		sets[i] = set
	}
	if sets[4]&(1<<7) != 0 {
		sets[4] |= 1
	}
	return &CronExpr{
		minutes:     sets[0],
		hours:       sets[1],
		daysOfMonth: sets[2],
		months:      sets[3],
		daysOfWeek:  sets[4],
		raw:         expr,
	}, nil
}

func (c *CronExpr) String() string { return c.raw }

// Matches reports whether t, truncated to the minute, is a firing time.
func (c *CronExpr) Matches(t time.Time) bool {
	return has(c.minutes, t.Minute()) &&
		has(c.hours, t.Hour()) &&
		has(c.daysOfMonth, t.Day()) &&
		has(c.months, int(t.Month())) &&
		has(c.daysOfWeek, int(t.Weekday()))
}

func has(set uint64, v int) bool { return set&(1<<uint(v)) != 0 }

func parseField(s string, lo, hi int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(s, ",") {
		from, to, step, err := parseRange(part, lo, hi)
		if err != nil {
			return 0, err
		}
		for v := from; v <= to; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func parseRange(part string, lo, hi int) (from, to, step int, err error) {
	step = 1
	base := part
	if i := strings.IndexByte(part, '/'); i >= 0 {
		base = part[:i]
		step, err = strconv.Atoi(part[i+1:])
		if err != nil || step <= 0 {
			return 0, 0, 0, fmt.Errorf("invalid step: %s", part)
		}
	}

	switch {
	case base == "*":
		from, to = lo, hi
	case strings.Contains(base, "-"):
		bounds := strings.SplitN(base, "-", 2)
		if from, err = strconv.Atoi(bounds[0]); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range start: %s", bounds[0])
		}
		if to, err = strconv.Atoi(bounds[1]); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range end: %s", bounds[1])
		}
	default:
		if from, err = strconv.Atoi(base); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid value: %s", base)
		}
		to = from
		if step > 1 {
			to = hi
		}
	}

	if from < lo || to > hi || from > to {
		return 0, 0, 0, fmt.Errorf("%s out of range %d-%d", part, lo, hi)
	}
	return from, to, step, nil
}
