package scheduler

import (
	"time"

	"dailybrief/internal/schedule"
)

// Status is the per-user outcome of one pass.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is one user's line in a RunReport.
type Outcome struct {
	UserID          string `json:"userId"`
	Status          Status `json:"status"`
	Reason          string `json:"reason,omitempty"`
	SentTo          string `json:"sentTo,omitempty"`
	SentDate        string `json:"sentDate,omitempty"`
	LastSentDate    string `json:"lastSentDate,omitempty"`
	CatchUp         bool   `json:"catchUp,omitempty"`
	Error           string `json:"error,omitempty"`
	CurrentTime     string `json:"currentTime,omitempty"`
	ScheduledTime   string `json:"scheduledTime,omitempty"`
	TimeDiffMinutes *int   `json:"timeDiffMinutes,omitempty"`
}

// String renders the outcome as sent, skipped:<reason> or failed:<error>.
func (o Outcome) String() string {
	switch o.Status {
	case StatusSkipped:
		return "skipped:" + o.Reason
	case StatusFailed:
		return "failed:" + o.Error
	}
	return string(o.Status)
}

// RunReport summarises one pass. It is returned to the invoker and kept in memory only.
type RunReport struct {
	Processed  int       `json:"processed"`
	Sent       int       `json:"sent"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Results    []Outcome `json:"results"`
}

func newReport(started time.Time) *RunReport {
	return &RunReport{StartedAt: started, Results: []Outcome{}}
}

func (r *RunReport) add(o Outcome) {
	r.Processed++
	switch o.Status {
	case StatusSent:
		r.Sent++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	}
	r.Results = append(r.Results, o)
}

// FailedUsers lists the users whose delivery failed.
func (r *RunReport) FailedUsers() []string {
	var out []string
	for _, o := range r.Results {
		if o.Status == StatusFailed {
			out = append(out, o.UserID)
		}
	}
	return out
}

func skippedOutcome(rec schedule.Record, ev schedule.Evaluation) Outcome {
	o := Outcome{UserID: rec.UserID, Status: StatusSkipped, Reason: ev.Reason}
	switch ev.Decision {
	case schedule.AlreadySentToday:
		o.LastSentDate = rec.SentDate()
	case schedule.TimeNotYet:
		diff := ev.DiffMinutes
		o.CurrentTime = ev.CurrentTime.String()
		o.ScheduledTime = ev.ScheduledTime.String()
		o.TimeDiffMinutes = &diff
	}
	return o
}

func sentOutcome(rec schedule.Record, ev schedule.Evaluation) Outcome {
	return Outcome{
		UserID:   rec.UserID,
		Status:   StatusSent,
		SentTo:   rec.DeliveryEmail,
		SentDate: ev.Today,
		CatchUp:  ev.CatchUp,
	}
}

func failedOutcome(rec schedule.Record, msg string) Outcome {
	return Outcome{UserID: rec.UserID, Status: StatusFailed, Error: msg}
}
