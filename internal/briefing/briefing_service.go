package briefing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dailybrief/internal/schedule"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// InputStore is the persistence the briefing service reads from.
type InputStore interface {
	GetCalendarSettings(ctx context.Context, userID string) (*CalendarSettings, error)
	GetActiveNotes(ctx context.Context, userID string) ([]string, error)
	GetRecentEmails(ctx context.Context, userID string, limit int) ([]Email, error)
	EnsureInboundHash(ctx context.Context, userID string) (string, error)
}

// Service gathers a user's inputs and composes their briefing.
type Service struct {
	store         InputStore
	events        EventSource
	generator     Generator
	inboundDomain string
}

// NewService creates a new Service.
func NewService(store InputStore, events EventSource, generator Generator, inboundDomain string) *Service {
	return &Service{
		store:         store,
		events:        events,
		generator:     generator,
		inboundDomain: inboundDomain,
	}
}

// Gather collects calendar events, notes and recent emails for rec in parallel.
// Any source failing fails the whole gather.
func (s *Service) Gather(ctx context.Context, rec schedule.Record, now time.Time) (*Input, error) {
	cs, err := s.store.GetCalendarSettings(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("calendar settings: %w", err)
	}

	in := &Input{
		Timezone:      rec.Timezone,
		LookaheadDays: cs.DaysInAdvance,
		Now:           now,
	}
	if in.Timezone == "" {
		in.Timezone = "UTC"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := s.events.Events(gctx, rec.UserID, Selection{
			Calendars: cs.SelectedCalendars,
			Days:      cs.DaysInAdvance,
			Timezone:  in.Timezone,
			Now:       now,
		})
		if err != nil {
			return fmt.Errorf("calendar events: %w", err)
		}
		in.Events = events
		return nil
	})
	g.Go(func() error {
		notes, err := s.store.GetActiveNotes(gctx, rec.UserID)
		if err != nil {
			return fmt.Errorf("notes: %w", err)
		}
		in.Notes = notes
		return nil
	})
	g.Go(func() error {
		emails, err := s.store.GetRecentEmails(gctx, rec.UserID, maxPromptEmails)
		if err != nil {
			return fmt.Errorf("emails: %w", err)
		}
		in.Emails = emails
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// Compose gathers inputs, generates the markdown and fills subject and reply-to.
func (s *Service) Compose(ctx context.Context, rec schedule.Record, now time.Time) (*Briefing, error) {
	in, err := s.Gather(ctx, rec, now)
	if err != nil {
		return nil, err
	}

	content, err := s.generator.Generate(ctx, SystemPrompt, BuildPrompt(*in))
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	replyTo, err := s.replyTo(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("reply-to: %w", err)
	}

	log.Debugf("[Briefing] composed for %s (%d events, %d notes, %d emails)",
		rec.UserID, len(in.Events), len(in.Notes), len(in.Emails))
	return &Briefing{
		Content: content,
		Subject: Subject(now, rec.Location()),
		ReplyTo: replyTo,
	}, nil
}

// Subject is the dated briefing subject in the user's zone.
func Subject(now time.Time, loc *time.Location) string {
	return "Your Daily Briefing - " + now.In(loc).Format("Monday, January 2, 2006")
}

// replyTo builds <local-part>-<hash>@<domain> so replies land in the user's inbox feed.
func (s *Service) replyTo(ctx context.Context, rec schedule.Record) (string, error) {
	if s.inboundDomain == "" {
		return "", nil
	}
	hash := rec.InboundEmailHash.String
	if !rec.InboundEmailHash.Valid || hash == "" {
		var err error
		if hash, err = s.store.EnsureInboundHash(ctx, rec.UserID); err != nil {
			return "", err
		}
	}

	prefix := "user"
	if recipients := rec.Recipients(); len(recipients) > 0 {
		if at := strings.Index(recipients[0], "@"); at > 0 {
			prefix = recipients[0][:at]
		}
	}
	return fmt.Sprintf("%s-%s@%s", prefix, hash, s.inboundDomain), nil
}
