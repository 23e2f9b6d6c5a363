package schedule

import "time"

// searchHorizon bounds the forward search for cron matches. Expressions with
// no occurrence inside the horizon are treated as "never fires".
const searchHorizon = 366 * 24 * time.Hour

// NextRun computes the next trigger time for a schedule strictly after the
// reference time. The second return value is false when the schedule will
// never fire again (expired one-shots, unsatisfiable cron expressions).
//
// Interval schedules are a pure forward offset from the reference time; they
// do not catch up missed ticks.
func NextRun(s Schedule, after time.Time) (time.Time, bool) {
	switch s.Type {
	case KindOnce:
		at := time.UnixMilli(s.At)
		if at.After(after) {
			return at, true
		}
		return time.Time{}, false

	case KindInterval:
		ms := unitMillis(s.Unit)
		if s.Every <= 0 || ms == 0 {
			return time.Time{}, false
		}
		return after.Add(time.Duration(int64(s.Every)*ms) * time.Millisecond), true

	case KindCron:
		expr, err := parseExpression(s.Expression)
		if err != nil {
			return time.Time{}, false
		}
		return nextCron(expr, after)

	default:
		return time.Time{}, false
	}
}

// NextRunMillis is NextRun for callers that store unix-ms timestamps.
// It returns nil when the schedule will never fire again.
func NextRunMillis(s Schedule, after time.Time) *int64 {
	t, ok := NextRun(s, after)
	if !ok {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// nextCron walks forward at one-minute granularity starting at the minute
// after the reference time (seconds truncated), bounded by the search horizon.
func nextCron(expr *cronExpr, after time.Time) (time.Time, bool) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(searchHorizon)
	for !t.After(limit) {
		if expr.matches(t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())) {
			return t, true
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, false
}
