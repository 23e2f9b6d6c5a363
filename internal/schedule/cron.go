package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldBounds define the legal value range per cron field, in field order:
// minute, hour, day-of-month, month, day-of-week (Sunday = 0).
var fieldBounds = [5]struct{ min, max int }{
	{0, 59},
	{0, 23},
	{1, 31},
	{1, 12},
	{0, 6},
}

// cronExpr holds the parsed member sets of a five-field expression.
type cronExpr struct {
	minute map[int]bool
	hour   map[int]bool
	dom    map[int]bool
	month  map[int]bool
	dow    map[int]bool
}

func parseExpression(expr string) (*cronExpr, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression %q: want 5 fields, got %d", expr, len(fields))
	}

	sets := make([]map[int]bool, 5)
	for i, f := range fields {
		set, err := parseField(f, fieldBounds[i].min, fieldBounds[i].max)
		if err != nil {
			return nil, fmt.Errorf("cron expression %q field %d: %w", expr, i+1, err)
		}
		sets[i] = set
	}
	return &cronExpr{
		minute: sets[0],
		hour:   sets[1],
		dom:    sets[2],
		month:  sets[3],
		dow:    sets[4],
	}, nil
}

// parseField expands one cron field into its member set.
//
// Grammar: "*" | number | "a-b" | "base/n" | comma-list of any of these.
// Step bases that are "*" or empty anchor at the field minimum; a numeric or
// range base anchors the step there instead.
func parseField(field string, min, max int) (map[int]bool, error) {
	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty list element")
		}
		if err := expandPart(part, min, max, set); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func expandPart(part string, min, max int, out map[int]bool) error {
	if strings.Contains(part, "/") {
		pieces := strings.SplitN(part, "/", 2)
		step, err := strconv.Atoi(pieces[1])
		if err != nil || step <= 0 {
			return fmt.Errorf("bad step in %q", part)
		}
		lo, hi := min, max
		base := pieces[0]
		switch {
		case base == "" || base == "*":
			// field minimum
		case strings.Contains(base, "-"):
			lo, hi, err = parseRange(base, min, max)
			if err != nil {
				return err
			}
		default:
			lo, err = parseNumber(base, min, max)
			if err != nil {
				return err
			}
		}
		for v := lo; v <= hi; v += step {
			out[v] = true
		}
		return nil
	}

	if part == "*" {
		for v := min; v <= max; v++ {
			out[v] = true
		}
		return nil
	}

	if strings.Contains(part, "-") {
		lo, hi, err := parseRange(part, min, max)
		if err != nil {
			return err
		}
		for v := lo; v <= hi; v++ {
			out[v] = true
		}
		return nil
	}

	v, err := parseNumber(part, min, max)
	if err != nil {
		return err
	}
	out[v] = true
	return nil
}

func parseRange(s string, min, max int) (int, int, error) {
	pieces := strings.SplitN(s, "-", 2)
	lo, err := parseNumber(pieces[0], min, max)
	if err != nil {
		return 0, 0, err
	}
	hi, err := parseNumber(pieces[1], min, max)
	if err != nil {
		return 0, 0, err
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("range %q is inverted", s)
	}
	return lo, hi, nil
}

func parseNumber(s string, min, max int) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("value %d out of range %d-%d", v, min, max)
	}
	return v, nil
}

// matches reports whether the expression fires at the given minute.
//
// Day-of-month and day-of-week are combined with AND. This deliberately
// diverges from traditional cron (which ORs them when both are restricted);
// existing stored expressions rely on the AND reading.
func (c *cronExpr) matches(minute, hour, dom, month, dow int) bool {
	return c.month[month] &&
		c.dom[dom] &&
		c.dow[dow] &&
		c.hour[hour] &&
		c.minute[minute]
}
