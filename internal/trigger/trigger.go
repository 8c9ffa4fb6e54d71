// Package trigger computes the next eligible run time for a job schedule.
//
// Schedules come in three shapes: fixed interval, daily-at-time, and
// weekly-at-day-and-time. The shapes are a tagged variant consumed
// exhaustively by NextRun, so "which fields are valid together" is enforced
// by construction instead of convention.
package trigger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	KindInterval Kind = iota
	KindDaily
	KindWeekly
)

func (k Kind) String() string {
	switch k {
	case KindInterval:
		return "interval"
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Schedule is the rule determining eligible run times.
//
// Every is meaningful only for KindInterval; Hour/Minute for KindDaily and
// KindWeekly; Weekday for KindWeekly. Construct through Interval/Daily/Weekly
// and validate before storing; NextRun assumes a valid schedule.
type Schedule struct {
	Kind    Kind
	Every   time.Duration
	Weekday time.Weekday
	Hour    int
	Minute  int
}

func Interval(every time.Duration) Schedule {
	return Schedule{Kind: KindInterval, Every: every}
}

func Daily(hour, minute int) Schedule {
	return Schedule{Kind: KindDaily, Hour: hour, Minute: minute}
}

func Weekly(weekday time.Weekday, hour, minute int) Schedule {
	return Schedule{Kind: KindWeekly, Weekday: weekday, Hour: hour, Minute: minute}
}

// Validate rejects malformed schedules. Jobs are validated at creation time;
// a stored schedule is always valid.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindInterval:
		if s.Every <= 0 {
			return fmt.Errorf("interval must be > 0, got %s", s.Every)
		}
		if s.Every < time.Second {
			return fmt.Errorf("interval must be at least 1s, got %s", s.Every)
		}
		return nil
	case KindDaily, KindWeekly:
		if s.Hour < 0 || s.Hour > 23 {
			return fmt.Errorf("hour out of range: %d", s.Hour)
		}
		if s.Minute < 0 || s.Minute > 59 {
			return fmt.Errorf("minute out of range: %d", s.Minute)
		}
		if s.Kind == KindWeekly && (s.Weekday < time.Sunday || s.Weekday > time.Saturday) {
			return fmt.Errorf("weekday out of range: %d", int(s.Weekday))
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule kind %d", int(s.Kind))
	}
}

func (s Schedule) String() string {
	switch s.Kind {
	case KindInterval:
		return fmt.Sprintf("every %s", s.Every)
	case KindDaily:
		return fmt.Sprintf("daily at %02d:%02d", s.Hour, s.Minute)
	case KindWeekly:
		return fmt.Sprintf("weekly on %s at %02d:%02d", s.Weekday, s.Hour, s.Minute)
	default:
		return s.Kind.String()
	}
}

// cronSpec renders daily/weekly schedules as standard 5-field cron specs so
// next-occurrence math (month boundaries, DST wall-clock jumps) stays in the
// cron library instead of hand-rolled date arithmetic.
func (s Schedule) cronSpec() string {
	switch s.Kind {
	case KindDaily:
		return fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
	case KindWeekly:
		return fmt.Sprintf("%d %d * * %d", s.Minute, s.Hour, int(s.Weekday))
	default:
		return ""
	}
}

// NextRun computes the earliest future run time for a schedule.
//
// Interval semantics: a never-run job fires immediately; otherwise the next
// run is lastRun+Every, coalesced to now when that slot is already in the
// past. Missed ticks are never queued for catch-up, so a stalled process
// resumes with a single run instead of a backlog.
//
// Daily/weekly semantics: the next occurrence of the configured wall-clock
// slot strictly after now, in now's location.
//
// The schedule must have passed Validate; NextRun panics on an unknown kind
// because that is a programming error, not an input error.
func NextRun(s Schedule, now time.Time, lastRun time.Time) time.Time {
	switch s.Kind {
	case KindInterval:
		if lastRun.IsZero() {
			return now
		}
		next := lastRun.Add(s.Every)
		if !next.After(now) {
			return now
		}
		return next
	case KindDaily, KindWeekly:
		sched, err := cron.ParseStandard(s.cronSpec())
		if err != nil {
			// Unreachable for a validated schedule.
			panic(fmt.Sprintf("trigger: bad cron spec %q: %v", s.cronSpec(), err))
		}
		return sched.Next(now)
	default:
		panic(fmt.Sprintf("trigger: unknown schedule kind %d", int(s.Kind)))
	}
}

// ---- Wire format ----

// scheduleWire is the JSON shape used by the store and the control API:
//
//	{"kind":"interval","every":"5m"}
//	{"kind":"daily","hour":9,"minute":0}
//	{"kind":"weekly","weekday":"monday","hour":9,"minute":0}
type scheduleWire struct {
	Kind    string `json:"kind"`
	Every   string `json:"every,omitempty"`
	Weekday string `json:"weekday,omitempty"`
	Hour    int    `json:"hour,omitempty"`
	Minute  int    `json:"minute,omitempty"`
}

func (s Schedule) MarshalJSON() ([]byte, error) {
	w := scheduleWire{Kind: s.Kind.String(), Hour: s.Hour, Minute: s.Minute}
	switch s.Kind {
	case KindInterval:
		w.Every = s.Every.String()
		w.Hour = 0
		w.Minute = 0
	case KindWeekly:
		w.Weekday = strings.ToLower(s.Weekday.String())
	}
	return json.Marshal(w)
}

func (s *Schedule) UnmarshalJSON(data []byte) error {
	var w scheduleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(w.Kind)) {
	case "interval":
		d, err := time.ParseDuration(strings.TrimSpace(w.Every))
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", w.Every, err)
		}
		*s = Interval(d)
	case "daily":
		*s = Daily(w.Hour, w.Minute)
	case "weekly":
		wd, err := ParseWeekday(w.Weekday)
		if err != nil {
			return err
		}
		*s = Weekly(wd, w.Hour, w.Minute)
	default:
		return fmt.Errorf("unknown schedule kind %q", w.Kind)
	}
	return nil
}

// ParseWeekday accepts full names and the usual 3-letter abbreviations.
func ParseWeekday(v string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "sun", "sunday":
		return time.Sunday, nil
	case "mon", "monday":
		return time.Monday, nil
	case "tue", "tuesday":
		return time.Tuesday, nil
	case "wed", "wednesday":
		return time.Wednesday, nil
	case "thu", "thursday":
		return time.Thursday, nil
	case "fri", "friday":
		return time.Friday, nil
	case "sat", "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("invalid weekday %q", v)
	}
}
