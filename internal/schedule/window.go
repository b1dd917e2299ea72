package schedule

import (
	"time"
)

// Delivery windows, in minutes relative to the scheduled UTC time.
const (
	OnTimeWindow  = 10
	CatchUpWindow = 180
)

// Decision is the outcome of evaluating one record against "now".
type Decision int

const (
	Due Decision = iota
	NotScheduledToday
	AlreadySentToday
	TimeNotYet
	MissingConfig
)

// Reason is the machine-readable skip reason reported for a decision.
func (d Decision) Reason() string {
	switch d {
	case Due:
		return "due"
	case NotScheduledToday:
		return "not_scheduled_day"
	case AlreadySentToday:
		return "already_sent_today"
	case TimeNotYet:
		return "time_mismatch"
	case MissingConfig:
		return "missing_settings"
	}
	return "unknown"
}

func (d Decision) String() string {
	return d.Reason()
}

// Evaluation carries a Decision together with the values it was derived from.
type Evaluation struct {
	Decision Decision
	// Reason refines the decision, e.g. "missing_utc_time" for a legacy record.
	Reason        string
	Today         string
	CurrentTime   Clock
	ScheduledTime Clock
	DiffMinutes   int
	// CatchUp is set when the record is due only because of the late window.
	CatchUp bool
}

// IsDue decides whether record should be delivered at now.
func IsDue(now time.Time, record Record) Decision {
	return Evaluate(now, record).Decision
}

// Evaluate is IsDue with the intermediate values exposed for reporting.
// It has no side effects; identical inputs always give identical results.
func Evaluate(now time.Time, record Record) Evaluation {
	now = now.UTC()
	ev := Evaluation{
		Today:       now.Format(DateLayout),
		CurrentTime: ClockOf(now),
	}

	if len(record.Recipients()) == 0 || len(record.Weekdays) == 0 {
		return ev.with(MissingConfig, "missing_settings")
	}
	utc := record.UTCTime()
	if utc == "" {
		return ev.with(MissingConfig, "missing_utc_time")
	}
	scheduled, err := ParseClock(utc)
	if err != nil {
		return ev.with(MissingConfig, "invalid_utc_time")
	}
	ev.ScheduledTime = scheduled

	if !record.Weekdays.Contains(now.Weekday()) {
		return ev.with(NotScheduledToday, "")
	}
	// Must run before the window check: a record satisfied today is never re-timed.
	if record.SentDate() == ev.Today {
		return ev.with(AlreadySentToday, "")
	}

	// Same-day subtraction; a target just before midnight is not reachable from the next day.
	diff := ev.CurrentTime.Minutes() - scheduled.Minutes()
	late := diff > 0
	if diff < 0 {
		diff = -diff
	}
	ev.DiffMinutes = diff

	if diff <= OnTimeWindow || (late && diff <= CatchUpWindow) {
		ev.CatchUp = diff > OnTimeWindow
		return ev.with(Due, "")
	}
	return ev.with(TimeNotYet, "")
}

func (e Evaluation) with(d Decision, reason string) Evaluation {
	e.Decision = d
	if reason == "" {
		reason = d.Reason()
	}
	e.Reason = reason
	return e
}
