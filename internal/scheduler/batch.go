package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dailybrief/internal/briefing"
	"dailybrief/internal/mailer"
	"dailybrief/internal/schedule"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned when another pass holds the run lock.
var ErrRunInProgress = errors.New("briefing run already in progress")

// ScheduleStore is the part of the schedule store a pass needs.
type ScheduleStore interface {
	GetEnabledSchedules(ctx context.Context) ([]schedule.Record, error)
	ClaimDelivery(ctx context.Context, userID, day, token string, now, until time.Time) (bool, error)
	ExtendClaim(ctx context.Context, userID, token string, until time.Time) (bool, error)
	MarkSent(ctx context.Context, userID, day string) error
	ReleaseClaim(ctx context.Context, userID, token string) error
}

// Composer produces a user's briefing.
type Composer interface {
	Compose(ctx context.Context, rec schedule.Record, now time.Time) (*briefing.Briefing, error)
}

// Locker guards a whole pass across instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// Notifier is told about every finished pass.
type Notifier interface {
	NotifyRun(ctx context.Context, report *RunReport) error
}

// Options tunes a Runner. Zero values take the defaults below.
type Options struct {
	Workers     int
	UserTimeout time.Duration
	ClaimTTL    time.Duration
	LockKey     string
	LockTTL     time.Duration
}

const (
	DefaultWorkers     = 4
	DefaultUserTimeout = 2 * time.Minute
	// DefaultClaimTTL is how long a claim is held once sending starts. The window is
	// checked in whole minutes, so one extra minute keeps the hold past the last second
	// at which the user can still be due.
	DefaultClaimTTL = (schedule.OnTimeWindow + schedule.CatchUpWindow + 1) * time.Minute
	DefaultLockKey  = "dailybrief:send-briefings"
	DefaultLockTTL  = 15 * time.Minute

	commitTimeout = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.UserTimeout <= 0 {
		o.UserTimeout = DefaultUserTimeout
	}
	if o.ClaimTTL < DefaultClaimTTL {
		o.ClaimTTL = DefaultClaimTTL
	}
	if o.LockKey == "" {
		o.LockKey = DefaultLockKey
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	return o
}

// Runner drives one complete delivery pass over all enabled users.
type Runner struct {
	store     ScheduleStore
	composer  Composer
	sender    mailer.Sender
	locker    Locker
	notifiers []Notifier
	opts      Options
	now       func() time.Time

	running sync.Mutex

	mu   sync.RWMutex
	last *RunReport
}

// NewRunner creates a Runner. locker may be nil.
func NewRunner(store ScheduleStore, composer Composer, sender mailer.Sender, locker Locker, opts Options, notifiers ...Notifier) *Runner {
	return &Runner{
		store:     store,
		composer:  composer,
		sender:    sender,
		locker:    locker,
		notifiers: notifiers,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// LastReport returns the report of the most recent completed pass, or nil.
func (r *Runner) LastReport() *RunReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Plan evaluates every record at now. It performs no I/O.
func Plan(records []schedule.Record, now time.Time) []schedule.Evaluation {
	evals := make([]schedule.Evaluation, len(records))
	for i, rec := range records {
		evals[i] = schedule.Evaluate(now, rec)
	}
	return evals
}

// Run executes one pass. Only a failure to list schedules (or a held run lock) is
// returned as an error; per-user failures are recorded in the report.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	if !r.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.running.Unlock()

	if r.locker != nil {
		unlock, ok, err := r.locker.TryLock(ctx, r.opts.LockKey, r.opts.LockTTL)
		switch {
		case err != nil:
			log.Warnf("[Scheduler] run lock unavailable, relying on per-user claims: %v", err)
		case !ok:
			log.Info("[Scheduler] another instance holds the run lock, skipping this pass")
			return nil, ErrRunInProgress
		default:
			defer unlock()
		}
	}

	now := r.now().UTC()
	report := newReport(now)

	records, err := r.store.GetEnabledSchedules(ctx)
	if err != nil {
		log.Errorf("[ERROR] [Scheduler] failed to fetch enabled schedules: %v", err)
		return nil, fmt.Errorf("fetch schedules: %w", err)
	}

	if len(records) == 0 {
		log.Info("[Scheduler] no users with email scheduling enabled")
		report.Message = "No users with email scheduling enabled"
		r.finish(ctx, report)
		return report, nil
	}
	log.Infof("[Scheduler] found %d users with email scheduling enabled", len(records))

	evals := Plan(records, now)
	outcomes := make([]Outcome, len(records))

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i := range records {
		rec, ev := records[i], evals[i]
		if ev.Decision != schedule.Due {
			log.WithFields(log.Fields{"user_id": rec.UserID, "reason": ev.Reason}).Debug("[Scheduler] skipped")
			outcomes[i] = skippedOutcome(rec, ev)
			continue
		}
		g.Go(func() error {
			outcomes[i] = r.deliver(ctx, rec, ev, now)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		report.add(o)
	}
	r.finish(ctx, report)
	log.Infof("[Scheduler] pass complete: processed=%d sent=%d skipped=%d failed=%d",
		report.Processed, report.Sent, report.Skipped, report.Failed)
	return report, nil
}

// deliver claims, composes, sends and commits one due user. It never panics.
func (r *Runner) deliver(ctx context.Context, rec schedule.Record, ev schedule.Evaluation, now time.Time) (out Outcome) {
	logger := log.WithFields(log.Fields{"user_id": rec.UserID, "scheduled": ev.ScheduledTime.String(), "diff": ev.DiffMinutes})

	uctx, cancel := context.WithTimeout(ctx, r.opts.UserTimeout)
	defer cancel()

	// Compose runs under a short lease; a pass that dies before sending frees the user
	// for the next pass.
	token := uuid.NewString()
	claimAt := r.now().UTC()
	claimed, err := r.store.ClaimDelivery(uctx, rec.UserID, ev.Today, token, claimAt, claimAt.Add(r.opts.UserTimeout+commitTimeout))
	if err != nil {
		logger.Errorf("[Scheduler] claim failed: %v", err)
		return failedOutcome(rec, errorText(err))
	}
	if !claimed {
		logger.Info("[Scheduler] delivery already claimed or sent by another run")
		return Outcome{UserID: rec.UserID, Status: StatusSkipped, Reason: "claimed_elsewhere"}
	}

	sent := false
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("[Scheduler] panic while delivering: %v", p)
			if !sent {
				r.release(ctx, rec.UserID, token)
			}
			out = failedOutcome(rec, fmt.Sprintf("panic: %v", p))
		}
	}()

	if ev.CatchUp {
		logger.Warnf("[Scheduler] catch-up send, %d minutes late", ev.DiffMinutes)
	}

	b, err := r.composer.Compose(uctx, rec, now)
	if err != nil {
		logger.Errorf("[Scheduler] compose failed: %v", err)
		r.release(ctx, rec.UserID, token)
		return failedOutcome(rec, errorText(err))
	}

	held, err := r.store.ExtendClaim(uctx, rec.UserID, token, r.now().UTC().Add(r.opts.ClaimTTL))
	if err != nil {
		logger.Errorf("[Scheduler] extend claim failed: %v", err)
		r.release(ctx, rec.UserID, token)
		return failedOutcome(rec, errorText(err))
	}
	if !held {
		logger.Warn("[Scheduler] claim expired and was taken by another run, not sending")
		return Outcome{UserID: rec.UserID, Status: StatusSkipped, Reason: "claimed_elsewhere"}
	}

	err = r.sender.Send(uctx, mailer.Message{
		To:       rec.Recipients(),
		ReplyTo:  b.ReplyTo,
		Subject:  b.Subject,
		Markdown: b.Content,
	})
	if err != nil {
		logger.Errorf("[Scheduler] send failed: %v", err)
		r.release(ctx, rec.UserID, token)
		return failedOutcome(rec, errorText(err))
	}
	sent = true

	// Commit even if the user's budget ran out during the send.
	mctx, mcancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer mcancel()
	if err := r.store.MarkSent(mctx, rec.UserID, ev.Today); err != nil {
		// The claim stays in place until it expires, so no other pass resends today.
		logger.Errorf("[Scheduler] briefing sent but marker not saved: %v", err)
		return failedOutcome(rec, errorText(err))
	}

	logger.Infof("[Scheduler] sent briefing to %s for %s", rec.DeliveryEmail, ev.Today)
	return sentOutcome(rec, ev)
}

func (r *Runner) release(ctx context.Context, userID, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := r.store.ReleaseClaim(rctx, userID, token); err != nil {
		log.WithField("user_id", userID).Warnf("[Scheduler] release claim failed: %v", err)
	}
}

func (r *Runner) finish(ctx context.Context, report *RunReport) {
	report.FinishedAt = r.now().UTC()

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	for _, n := range r.notifiers {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		if err := n.NotifyRun(nctx, report); err != nil {
			log.Warnf("[Scheduler] run notification failed: %v", err)
		}
		cancel()
	}
}

func errorText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}
