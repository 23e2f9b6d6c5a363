package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the schedule union.
type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindOnce     Kind = "once"
)

// Unit is the interval unit.
type Unit string

const (
	UnitMinutes Unit = "minutes"
	UnitHours   Unit = "hours"
	UnitDays    Unit = "days"
	UnitWeeks   Unit = "weeks"
)

// Schedule is a tagged union: exactly one variant is active, selected by Type.
//
// JSON shape:
//
//	{"type":"cron","expression":"*/5 * * * *"}
//	{"type":"interval","every":2,"unit":"hours"}
//	{"type":"once","at":1767225600000}
type Schedule struct {
	Type Kind `json:"type"`

	// cron
	Expression string `json:"expression,omitempty"`

	// interval
	Every int  `json:"every,omitempty"`
	Unit  Unit `json:"unit,omitempty"`

	// once; unix milliseconds
	At int64 `json:"at,omitempty"`
}

// Validate checks that the active variant is well formed.
func (s Schedule) Validate() error {
	switch s.Type {
	case KindCron:
		if strings.TrimSpace(s.Expression) == "" {
			return errors.New("cron schedule requires an expression")
		}
		_, err := parseExpression(s.Expression)
		return err
	case KindInterval:
		if s.Every <= 0 {
			return errors.New("interval schedule requires every > 0")
		}
		if unitMillis(s.Unit) == 0 {
			return fmt.Errorf("unknown interval unit %q", s.Unit)
		}
		return nil
	case KindOnce:
		if s.At <= 0 {
			return errors.New("once schedule requires a timestamp")
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

func unitMillis(u Unit) int64 {
	switch u {
	case UnitMinutes:
		return int64(time.Minute / time.Millisecond)
	case UnitHours:
		return int64(time.Hour / time.Millisecond)
	case UnitDays:
		return 24 * int64(time.Hour/time.Millisecond)
	case UnitWeeks:
		return 7 * 24 * int64(time.Hour/time.Millisecond)
	default:
		return 0
	}
}

// Millis converts a time to unix milliseconds.
func Millis(t time.Time) int64 { return t.UnixMilli() }
