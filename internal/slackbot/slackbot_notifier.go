package slackbot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dailybrief/internal/scheduler"

	"github.com/sizzlei/slack-notificator"
	"github.com/slack-go/slack"
	log "github.com/sirupsen/logrus"
)

const (
	colorGood    = "good"
	colorWarning = "warning"
	colorDanger  = "danger"

	maxListedFailures = 10
)

// Notifier posts a summary of every delivery pass to a Slack channel.
type Notifier struct {
	channel      string
	onlyFailures bool
	send         func(channel, text string, attachment slack.Attachment) error
}

// NewNotifier creates a Notifier using a bot token.
func NewNotifier(botToken, channel string, onlyFailures bool) (*Notifier, error) {
	if botToken == "" || channel == "" {
		return nil, errors.New("slack bot token and channel are required")
	}
	return &Notifier{
		channel:      channel,
		onlyFailures: onlyFailures,
		send: func(channel, text string, attachment slack.Attachment) error {
			api := slacknotificator.GetClient(botToken)
			return api.SetChannel(channel).SendAttachment(text, attachment)
		},
	}, nil
}

// NotifyRun implements scheduler.Notifier.
func (n *Notifier) NotifyRun(ctx context.Context, report *scheduler.RunReport) error {
	if report == nil || report.Processed == 0 {
		return nil
	}
	if n.onlyFailures && report.Failed == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text, attachment := buildRunAttachment(report)
	if err := n.send(n.channel, text, attachment); err != nil {
		return fmt.Errorf("slack post to %s: %w", n.channel, err)
	}
	log.Debugf("[Slack] run summary posted to %s", n.channel)
	return nil
}

func buildRunAttachment(r *scheduler.RunReport) (string, slack.Attachment) {
	color := colorGood
	switch {
	case r.Failed > 0 && r.Sent == 0:
		color = colorDanger
	case r.Failed > 0:
		color = colorWarning
	}

	text := fmt.Sprintf("Daily briefing run: %d sent, %d failed", r.Sent, r.Failed)
	attachment := slack.Attachment{
		Color:    color,
		Title:    "Briefing delivery pass " + r.StartedAt.Format("2006-01-02 15:04 UTC"),
		Fallback: text,
		Fields: []slack.AttachmentField{
			{Title: "Processed", Value: fmt.Sprint(r.Processed), Short: true},
			{Title: "Sent", Value: fmt.Sprint(r.Sent), Short: true},
			{Title: "Skipped", Value: fmt.Sprint(r.Skipped), Short: true},
			{Title: "Failed", Value: fmt.Sprint(r.Failed), Short: true},
			{Title: "Duration", Value: r.FinishedAt.Sub(r.StartedAt).String(), Short: true},
		},
	}

	var failures []string
	for _, o := range r.Results {
		if o.Status != scheduler.StatusFailed {
			continue
		}
		if len(failures) == maxListedFailures {
			failures = append(failures, fmt.Sprintf("...and %d more", r.Failed-maxListedFailures))
			break
		}
		failures = append(failures, fmt.Sprintf("`%s`: %s", o.UserID, o.Error))
	}
	if len(failures) > 0 {
		attachment.Text = strings.Join(failures, "\n")
		attachment.MarkdownIn = []string{"text"}
	}
	return text, attachment
}
