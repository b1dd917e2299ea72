package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dailybrief/internal/briefing"
	"dailybrief/internal/mailer"
	"dailybrief/internal/schedule"
)

// Tuesday 08:03 UTC
var runNow = time.Date(2026, time.October, 20, 8, 3, 0, 0, time.UTC)

type claim struct {
	token   string
	expires time.Time
}

// memoryStore mimics the conditional updates of schedule.Store.
type memoryStore struct {
	mu       sync.Mutex
	records  []schedule.Record
	claims   map[string]claim
	fetchErr error
	markErr    error
	releaseErr error
	marks      int
	releases int
}

func newMemoryStore(records ...schedule.Record) *memoryStore {
	return &memoryStore{records: records, claims: map[string]claim{}}
}

func (m *memoryStore) GetEnabledSchedules(context.Context) ([]schedule.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return append([]schedule.Record(nil), m.records...), nil
}

func (m *memoryStore) ClaimDelivery(_ context.Context, userID, day, token string, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.UserID != userID {
			continue
		}
		if rec.SentDate() == day {
			return false, nil
		}
		if c, ok := m.claims[userID]; ok && !c.expires.Before(now) {
			return false, nil
		}
		m.claims[userID] = claim{token: token, expires: until}
		return true, nil
	}
	return false, nil
}

func (m *memoryStore) ExtendClaim(_ context.Context, userID, token string, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[userID]
	if !ok || c.token != token {
		return false, nil
	}
	m.claims[userID] = claim{token: token, expires: until}
	return true, nil
}

func (m *memoryStore) MarkSent(_ context.Context, userID, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.marks++
	for i := range m.records {
		if m.records[i].UserID == userID {
			m.records[i].LastBriefingSentDate = sql.NullString{String: day, Valid: true}
		}
	}
	delete(m.claims, userID)
	return nil
}

func (m *memoryStore) ReleaseClaim(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releaseErr != nil {
		return m.releaseErr
	}
	if c, ok := m.claims[userID]; ok && c.token == token {
		delete(m.claims, userID)
		m.releases++
	}
	return nil
}

type fakeComposer struct {
	failFor  map[string]error
	panicFor string
	block    bool
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeComposer) Compose(ctx context.Context, rec schedule.Record, now time.Time) (*briefing.Briefing, error) {
	f.calls.Add(1)
	if rec.UserID == f.panicFor {
		panic("generator exploded")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.failFor[rec.UserID]; err != nil {
		return nil, err
	}
	return &briefing.Briefing{Content: "# Daily Briefing", Subject: briefing.Subject(now, time.UTC), ReplyTo: rec.UserID + "-hash@inbound.test"}, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type recordingNotifier struct {
	reports []*RunReport
	err     error
}

func (n *recordingNotifier) NotifyRun(_ context.Context, r *RunReport) error {
	n.reports = append(n.reports, r)
	return n.err
}

func dueRecord(id string) schedule.Record {
	return schedule.Record{
		UserID:          id,
		Weekdays:        schedule.Weekdays{1, 2, 3, 4, 5},
		DeliveryTime:    "08:00",
		DeliveryTimeUTC: sql.NullString{String: "08:00", Valid: true},
		Timezone:        "UTC",
		DeliveryEmail:   id + "@example.com",
	}
}

func newTestRunner(store ScheduleStore, composer Composer, sender mailer.Sender, opts Options, notifiers ...Notifier) *Runner {
	r := NewRunner(store, composer, sender, nil, opts, notifiers...)
	r.now = func() time.Time { return runNow }
	return r
}

func TestPlan_IsPure(t *testing.T) {
	late := dueRecord("late")
	late.DeliveryTimeUTC.String = "04:00"
	sent := dueRecord("sent")
	sent.LastBriefingSentDate = sql.NullString{String: "2026-10-20", Valid: true}
	records := []schedule.Record{dueRecord("due"), late, sent}

	first := Plan(records, runNow)
	second := Plan(records, runNow)
	want := []schedule.Decision{schedule.Due, schedule.TimeNotYet, schedule.AlreadySentToday}
	for i := range records {
		if first[i].Decision != want[i] || first[i] != second[i] {
			t.Fatalf("record %d: want %v, got %v / %v", i, want[i], first[i].Decision, second[i].Decision)
		}
	}
}

func TestRun_MixedOutcomes(t *testing.T) {
	legacy := dueRecord("legacy")
	legacy.DeliveryTimeUTC = sql.NullString{}
	weekend := dueRecord("weekend")
	weekend.Weekdays = schedule.Weekdays{0, 6}
	late := dueRecord("late")
	late.DeliveryTimeUTC.String = "04:30"
	already := dueRecord("already")
	already.LastBriefingSentDate = sql.NullString{String: "2026-10-20", Valid: true}

	store := newMemoryStore(dueRecord("ok"), legacy, weekend, late, already)
	sender := &fakeSender{}
	notifier := &recordingNotifier{err: errors.New("slack down")}
	runner := newTestRunner(store, &fakeComposer{}, sender, Options{}, notifier)

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed != 5 || report.Sent != 1 || report.Skipped != 4 || report.Failed != 0 {
		t.Fatalf("unexpected counts %+v", report)
	}

	want := []string{"sent", "skipped:missing_utc_time", "skipped:not_scheduled_day", "skipped:time_mismatch", "skipped:already_sent_today"}
	for i, w := range want {
		if got := report.Results[i].String(); got != w {
			t.Fatalf("result %d: want %q, got %q", i, w, got)
		}
	}
	if r := report.Results[3]; r.TimeDiffMinutes == nil || *r.TimeDiffMinutes != 213 || r.ScheduledTime != "04:30" {
		t.Fatalf("unexpected time_mismatch detail %+v", r)
	}
	if report.Results[4].LastSentDate != "2026-10-20" {
		t.Fatalf("want lastSentDate on already-sent skip, got %+v", report.Results[4])
	}
	if report.Results[0].SentTo != "ok@example.com" || report.Results[0].SentDate != "2026-10-20" {
		t.Fatalf("unexpected sent outcome %+v", report.Results[0])
	}

	if sender.count() != 1 || sender.sent[0].ReplyTo != "ok-hash@inbound.test" || sender.sent[0].IsTest {
		t.Fatalf("unexpected sends %+v", sender.sent)
	}
	if store.records[0].SentDate() != "2026-10-20" {
		t.Fatal("marker not written after send")
	}
	if len(notifier.reports) != 1 || runner.LastReport() != report {
		t.Fatal("report not published to notifier and LastReport")
	}
}

func TestRun_BatchIsolation(t *testing.T) {
	store := newMemoryStore(dueRecord("a"), dueRecord("b"), dueRecord("c"), dueRecord("d"))
	composer := &fakeComposer{failFor: map[string]error{"b": errors.New("llm unavailable")}, panicFor: "c"}
	sender := &fakeSender{}

	report, err := newTestRunner(store, composer, sender, Options{Workers: 2}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed != 4 || report.Sent != 2 || report.Failed != 2 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if got := report.Results[1].String(); got != "failed:llm unavailable" {
		t.Fatalf("want llm failure, got %q", got)
	}
	if got := report.Results[2].String(); !strings.HasPrefix(got, "failed:panic") {
		t.Fatalf("want panic failure, got %q", got)
	}
	if report.Results[0].Status != StatusSent || report.Results[3].Status != StatusSent {
		t.Fatalf("healthy users affected: %+v", report.Results)
	}
	if store.records[1].SentDate() != "" || store.records[2].SentDate() != "" {
		t.Fatal("failed users must keep an empty marker")
	}
	if store.releases != 2 {
		t.Fatalf("want both failed claims released, got %d", store.releases)
	}
	if got := report.FailedUsers(); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("unexpected failed users %v", got)
	}
}

func TestRun_FailedUserRetriedOnNextPass(t *testing.T) {
	store := newMemoryStore(dueRecord("a"))
	sender := &fakeSender{err: errors.New("smtp 451")}
	runner := newTestRunner(store, &fakeComposer{}, sender, Options{})

	report, err := runner.Run(context.Background())
	if err != nil || report.Failed != 1 {
		t.Fatalf("want one failure, got %+v (%v)", report, err)
	}

	sender.err = nil
	runner.now = func() time.Time { return runNow.Add(30 * time.Minute) }
	report, err = runner.Run(context.Background())
	if err != nil || report.Sent != 1 {
		t.Fatalf("want catch-up send, got %+v (%v)", report, err)
	}
	if !report.Results[0].CatchUp {
		t.Fatal("want catch-up flag on late send")
	}
}

func TestRun_Timeout(t *testing.T) {
	store := newMemoryStore(dueRecord("slow"), dueRecord("fast"))
	composer := &blockingFor{user: "slow"}
	report, err := newTestRunner(store, composer, &fakeSender{}, Options{UserTimeout: 20 * time.Millisecond}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Results[0].String(); got != "failed:timeout" {
		t.Fatalf("want failed:timeout, got %q", got)
	}
	if report.Results[1].Status != StatusSent {
		t.Fatalf("fast user affected: %+v", report.Results[1])
	}
}

type blockingFor struct {
	user string
}

func (b *blockingFor) Compose(ctx context.Context, rec schedule.Record, now time.Time) (*briefing.Briefing, error) {
	if rec.UserID == b.user {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &briefing.Briefing{Content: "ok", Subject: "s"}, nil
}

func TestRun_MarkSentFailureKeepsClaim(t *testing.T) {
	store := newMemoryStore(dueRecord("a"))
	store.markErr = errors.New("deadlock found")
	sender := &fakeSender{}
	runner := newTestRunner(store, &fakeComposer{}, sender, Options{})

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Results[0].String(); got != "failed:deadlock found" {
		t.Fatalf("want mark failure, got %q", got)
	}

	// A second pass within the window must not resend while the claim is held.
	store.markErr = nil
	runner.now = func() time.Time { return runNow.Add(5 * time.Minute) }
	report, err = runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Results[0].String(); got != "skipped:claimed_elsewhere" {
		t.Fatalf("want claimed_elsewhere, got %q", got)
	}
	if sender.count() != 1 {
		t.Fatalf("want exactly one send, got %d", sender.count())
	}
}

func TestRun_ClaimHeldThroughLastDueMinute(t *testing.T) {
	store := newMemoryStore(dueRecord("a"))
	store.markErr = errors.New("deadlock found")
	sender := &fakeSender{}
	runner := newTestRunner(store, &fakeComposer{}, sender, Options{})

	// First due second of an 08:00 slot, with the marker write failing after the send.
	runner.now = func() time.Time { return time.Date(2026, time.October, 20, 7, 50, 0, 300_000_000, time.UTC) }
	report, err := runner.Run(context.Background())
	if err != nil || report.Failed != 1 || sender.count() != 1 {
		t.Fatalf("want one send with a failed marker, got %+v (%v)", report, err)
	}

	// 11:00:30 still reads as 11:00, the last minute of the catch-up window.
	store.markErr = nil
	runner.now = func() time.Time { return time.Date(2026, time.October, 20, 11, 0, 30, 0, time.UTC) }
	report, err = runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Results[0].String(); got != "skipped:claimed_elsewhere" {
		t.Fatalf("want claimed_elsewhere at the window edge, got %q", got)
	}
	if sender.count() != 1 {
		t.Fatalf("want exactly one send on 2026-10-20, got %d", sender.count())
	}
}

func TestRun_AbandonedClaimFreedForNextPass(t *testing.T) {
	store := newMemoryStore(dueRecord("a"))
	store.releaseErr = errors.New("connection reset")
	composer := &fakeComposer{failFor: map[string]error{"a": errors.New("llm unavailable")}}
	sender := &fakeSender{}
	runner := newTestRunner(store, composer, sender, Options{})

	// The failed pass cannot release its claim, like a pass killed while composing.
	report, err := runner.Run(context.Background())
	if err != nil || report.Failed != 1 {
		t.Fatalf("want one failure, got %+v (%v)", report, err)
	}

	store.releaseErr = nil
	delete(composer.failFor, "a")
	runner.now = func() time.Time { return runNow.Add(time.Minute) }
	report, _ = runner.Run(context.Background())
	if got := report.Results[0].String(); got != "skipped:claimed_elsewhere" {
		t.Fatalf("want claim still leased, got %q", got)
	}

	runner.now = func() time.Time { return runNow.Add(DefaultUserTimeout + commitTimeout + time.Second) }
	report, err = runner.Run(context.Background())
	if err != nil || report.Sent != 1 {
		t.Fatalf("want retry once the lease ran out, got %+v (%v)", report, err)
	}
	if sender.count() != 1 {
		t.Fatalf("want exactly one send, got %d", sender.count())
	}
}

// stealingComposer hands the user's claim to another run while composing.
type stealingComposer struct {
	store *memoryStore
}

func (c *stealingComposer) Compose(_ context.Context, rec schedule.Record, now time.Time) (*briefing.Briefing, error) {
	c.store.mu.Lock()
	c.store.claims[rec.UserID] = claim{token: "other-run", expires: now.Add(time.Hour)}
	c.store.mu.Unlock()
	return &briefing.Briefing{Content: "ok", Subject: "s"}, nil
}

func TestRun_LostClaimIsNotSent(t *testing.T) {
	store := newMemoryStore(dueRecord("a"))
	sender := &fakeSender{}
	report, err := newTestRunner(store, &stealingComposer{store: store}, sender, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Results[0].String(); got != "skipped:claimed_elsewhere" {
		t.Fatalf("want claimed_elsewhere, got %q", got)
	}
	if sender.count() != 0 || store.claims["a"].token != "other-run" {
		t.Fatal("a lost claim must neither send nor be released")
	}
}

func TestOptions_ClaimTTLFloor(t *testing.T) {
	if got := (Options{ClaimTTL: time.Minute}).withDefaults().ClaimTTL; got != DefaultClaimTTL {
		t.Fatalf("want hold raised to %v, got %v", DefaultClaimTTL, got)
	}
	if DefaultClaimTTL <= (schedule.OnTimeWindow+schedule.CatchUpWindow)*time.Minute+59*time.Second {
		t.Fatalf("hold %v ends inside the last due minute", DefaultClaimTTL)
	}
}

func TestRun_ConcurrentRunnersSendOnce(t *testing.T) {
	store := newMemoryStore(dueRecord("a"), dueRecord("b"), dueRecord("c"))
	sender := &fakeSender{}
	composer := &fakeComposer{delay: 5 * time.Millisecond}

	// Two instances sharing one store, as two overlapping invocations would.
	runners := []*Runner{
		newTestRunner(store, composer, sender, Options{}),
		newTestRunner(store, composer, sender, Options{}),
	}
	var wg sync.WaitGroup
	reports := make([]*RunReport, len(runners))
	for i, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := r.Run(context.Background())
			if err != nil {
				t.Errorf("Run: %v", err)
				return
			}
			reports[i] = rep
		}()
	}
	wg.Wait()

	if sender.count() != 3 {
		t.Fatalf("want each user sent exactly once, got %d sends", sender.count())
	}
	if total := reports[0].Sent + reports[1].Sent; total != 3 {
		t.Fatalf("want 3 sent across runs, got %d", total)
	}
	if store.marks != 3 {
		t.Fatalf("want 3 markers, got %d", store.marks)
	}
}

func TestRun_OverlapInProcess(t *testing.T) {
	store := newMemoryStore(dueRecord("a"))
	composer := &fakeComposer{block: true}
	runner := newTestRunner(store, composer, &fakeSender{}, Options{UserTimeout: 200 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = runner.Run(context.Background())
	}()
	for composer.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	if _, err := runner.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("want ErrRunInProgress, got %v", err)
	}
	<-done
}

func TestRun_StoreErrorIsFatal(t *testing.T) {
	store := newMemoryStore()
	store.fetchErr = errors.New("connection refused")
	notifier := &recordingNotifier{}
	report, err := newTestRunner(store, &fakeComposer{}, &fakeSender{}, Options{}, notifier).Run(context.Background())
	if err == nil || report != nil {
		t.Fatalf("want fatal error without report, got %+v (%v)", report, err)
	}
	if len(notifier.reports) != 0 {
		t.Fatal("no report should be published on store failure")
	}
}

func TestRun_NoRecords(t *testing.T) {
	report, err := newTestRunner(newMemoryStore(), &fakeComposer{}, &fakeSender{}, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed != 0 || report.Sent != 0 || len(report.Results) != 0 || report.Message == "" {
		t.Fatalf("unexpected empty report %+v", report)
	}
}

type stubLocker struct {
	ok       bool
	err      error
	unlocked bool
}

func (s *stubLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return func() { s.unlocked = true }, s.ok, s.err
}

func TestRun_RunLock(t *testing.T) {
	store := newMemoryStore(dueRecord("a"))

	busy := &stubLocker{ok: false}
	r := NewRunner(store, &fakeComposer{}, &fakeSender{}, busy, Options{})
	r.now = func() time.Time { return runNow }
	if _, err := r.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("want ErrRunInProgress, got %v", err)
	}

	broken := &stubLocker{err: errors.New("redis: connection refused")}
	r = NewRunner(store, &fakeComposer{}, &fakeSender{}, broken, Options{})
	r.now = func() time.Time { return runNow }
	report, err := r.Run(context.Background())
	if err != nil || report.Sent != 1 {
		t.Fatalf("want degraded run to send, got %+v (%v)", report, err)
	}

	free := &stubLocker{ok: true}
	r = NewRunner(newMemoryStore(dueRecord("b")), &fakeComposer{}, &fakeSender{}, free, Options{})
	r.now = func() time.Time { return runNow }
	if _, err := r.Run(context.Background()); err != nil || !free.unlocked {
		t.Fatalf("want lock released after run (err=%v)", err)
	}
}
