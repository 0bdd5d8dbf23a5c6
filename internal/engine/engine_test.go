package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"assignx/internal/config"
	"assignx/internal/db"
	"assignx/internal/domain"
	"assignx/internal/engine"
	"assignx/internal/engine/auth"
	"assignx/internal/gateway"
	"assignx/internal/lifecycle"
	"assignx/internal/migrate"
	"assignx/internal/repo"
)

const (
	admin        = "admin"
	client       = "c1"
	intermediary = "i1"
	worker1      = "w1"
	worker2      = "w2"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sent struct {
	Recipient string
	Type      string
}

type recorder struct {
	mu    sync.Mutex
	notes []sent
}

func (r *recorder) Notify(_ context.Context, recipientID, eventType string, _ map[string]any) {
	r.mu.Lock()
	r.notes = append(r.notes, sent{Recipient: recipientID, Type: eventType})
	r.mu.Unlock()
}

func (r *recorder) has(recipient, eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notes {
		if n.Recipient == recipient && n.Type == eventType {
			return true
		}
	}
	return false
}

type ports struct {
	mu       sync.Mutex
	armed    []domain.Timer
	disarmed []string
}

func (p *ports) Arm(_ context.Context, t domain.Timer) error {
	p.mu.Lock()
	p.armed = append(p.armed, t)
	p.mu.Unlock()
	return nil
}

func (p *ports) Disarm(_ context.Context, id string) error {
	p.mu.Lock()
	p.disarmed = append(p.disarmed, id)
	p.mu.Unlock()
	return nil
}

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Clock   *clock
	Sandbox *gateway.Sandbox
	Notes   *recorder
	Ports   *ports
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)

	cfg := config.Default()
	eng := engine.New(conn, cfg)
	clk := &clock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	eng.Now = clk.Now
	sandbox := gateway.NewSandbox("test-secret")
	eng.Gateway = sandbox
	notes := &recorder{}
	eng.Notifier = notes
	p := &ports{}
	eng.Timers = p

	ctx := context.Background()
	for _, a := range []domain.Actor{
		{ID: admin, Role: domain.RoleAdmin},
		{ID: client, Role: domain.RoleClient},
		{ID: "c2", Role: domain.RoleClient},
		{ID: intermediary, Role: domain.RoleIntermediary},
	} {
		_, err := eng.BootstrapActor(ctx, a)
		require.NoError(t, err)
	}
	for _, id := range []string{worker1, worker2} {
		_, err := eng.RegisterWorker(ctx, domain.Worker{ID: id, Name: id, Available: true, MaxConcurrent: 2}, intermediary)
		require.NoError(t, err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: clk, Sandbox: sandbox, Notes: notes, Ports: p}
}

func (env testEnv) submit(t *testing.T) domain.Project {
	t.Helper()
	p, err := env.Engine.SubmitProject(env.Ctx, engine.SubmitProjectOptions{
		ActorID:        client,
		IntermediaryID: intermediary,
		ServiceType:    domain.ServiceReport,
		Subject:        "Market analysis",
		WordCount:      3000,
		Deadline:       env.Clock.Now().Add(14 * 24 * time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	return p
}

func (env testEnv) quoted(t *testing.T, amount int64) (domain.Project, domain.Quote) {
	t.Helper()
	p := env.submit(t)
	_, err := env.Engine.StartAnalysis(env.Ctx, p.ID, intermediary)
	require.NoError(t, err)
	q, err := env.Engine.IssueQuote(env.Ctx, p.ID, amount, "", intermediary)
	require.NoError(t, err)
	return p, q
}

func (env testEnv) capture(t *testing.T, projectID string, q domain.Quote, paymentRef string) domain.SettlementPreview {
	t.Helper()
	pay, err := env.Engine.RequestPayment(env.Ctx, projectID, client)
	require.NoError(t, err)
	sig := env.Sandbox.SignCapture(pay.OrderRef, paymentRef)
	preview, err := env.Engine.CapturePayment(env.Ctx, projectID, q.ID, paymentRef, sig)
	require.NoError(t, err)
	return preview
}

func (env testEnv) paid(t *testing.T, amount int64) domain.Project {
	t.Helper()
	p, q := env.quoted(t, amount)
	env.capture(t, p.ID, q, "pay_"+p.Number)
	return p
}

func (env testEnv) inProgress(t *testing.T, amount int64) (domain.Project, domain.Assignment) {
	t.Helper()
	p := env.paid(t, amount)
	a, err := env.Engine.Assign(env.Ctx, p.ID, worker1, intermediary)
	require.NoError(t, err)
	_, err = env.Engine.StartWork(env.Ctx, p.ID, worker1)
	require.NoError(t, err)
	return p, a
}

func (env testEnv) delivered(t *testing.T, amount int64) domain.Project {
	t.Helper()
	p, _ := env.inProgress(t, amount)
	_, err := env.Engine.SubmitForQC(env.Ctx, p.ID, []string{"s3://drafts/report-v1.docx"}, "", worker1)
	require.NoError(t, err)
	_, err = env.Engine.RecordQCDecision(env.Ctx, p.ID, engine.DecisionApprove, "", intermediary)
	require.NoError(t, err)
	p, err = env.Engine.Deliver(env.Ctx, p.ID, nil, intermediary)
	require.NoError(t, err)
	return p
}

func (env testEnv) project(t *testing.T, id string) domain.Project {
	t.Helper()
	p, err := env.Engine.GetProject(env.Ctx, id)
	require.NoError(t, err)
	return p
}

func (env testEnv) projectLedgerTotal(t *testing.T, id string) int64 {
	t.Helper()
	total, err := env.Engine.Repo.LedgerTotal(env.Ctx, nil, id)
	require.NoError(t, err)
	return total
}

func TestRoundTripAutoApproval(t *testing.T) {
	env := newTestEnv(t)
	p := env.delivered(t, 250000)
	assert.Equal(t, lifecycle.StatusDelivered, p.Status)
	assert.Equal(t, int64(162500), p.WorkerPayout)
	assert.Equal(t, int64(37500), p.IntermediaryCommission)
	assert.Equal(t, int64(50000), p.PlatformFee)
	assert.True(t, env.Notes.has(client, "project.delivered"))

	require.Len(t, env.Ports.armed, 1)
	timerID := env.Ports.armed[0].ID
	assert.Equal(t, env.Clock.Now().Add(72*time.Hour).Format(time.RFC3339), env.Ports.armed[0].FireAt)

	n, err := env.Engine.FireDueTimers(env.Ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, lifecycle.StatusDelivered, env.project(t, p.ID).Status)

	env.Clock.Advance(71 * time.Hour)
	n, err = env.Engine.FireDueTimers(env.Ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.Clock.Advance(time.Hour)
	n, err = env.Engine.FireDueTimers(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p = env.project(t, p.ID)
	assert.Equal(t, lifecycle.StatusAutoApproved, p.Status)
	require.NotNil(t, p.CompletedAt)

	credits, err := env.Engine.ListLedger(env.Ctx, repo.LedgerFilters{ProjectID: p.ID})
	require.NoError(t, err)
	var settled int64
	byReason := map[string]domain.LedgerEntry{}
	for _, e := range credits {
		byReason[e.Reason] = e
		if e.Reason != domain.LedgerCapture {
			settled += e.Amount
		}
	}
	assert.Equal(t, int64(250000), settled)
	assert.Equal(t, int64(-250000), byReason[domain.LedgerCapture].Amount)
	assert.Equal(t, worker1, byReason[domain.LedgerSettlementWorker].OwnerID)
	assert.Equal(t, intermediary, byReason[domain.LedgerSettlementIntermediary].OwnerID)
	assert.Equal(t, domain.PlatformOwnerID, byReason[domain.LedgerSettlementPlatform].OwnerID)
	assert.Zero(t, env.projectLedgerTotal(t, p.ID))

	w, err := env.Engine.GetWorker(env.Ctx, worker1)
	require.NoError(t, err)
	assert.Zero(t, w.ActiveCount)

	fired, err := env.Engine.FireTimer(env.Ctx, p.ID, timerID)
	require.NoError(t, err)
	assert.False(t, fired, "a fired timer does not fire twice")

	_, err = env.Engine.Settle(env.Ctx, p.ID, intermediary)
	assert.ErrorIs(t, err, engine.ErrAlreadySettled)
	assert.True(t, env.Notes.has(worker1, "project.auto_approved"))
}

func TestClientApprovalSettlesOnce(t *testing.T) {
	env := newTestEnv(t)
	p := env.delivered(t, 101)
	done, err := env.Engine.ApproveDelivery(env.Ctx, p.ID, client)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, done.Project.Status)
	require.Len(t, done.Ledger, 3)
	var sum int64
	for _, e := range done.Ledger {
		sum += e.Amount
	}
	assert.Equal(t, int64(101), sum)
	assert.Equal(t, []string{env.Ports.armed[0].ID}, env.Ports.disarmed)

	_, err = env.Engine.Settle(env.Ctx, p.ID, admin)
	assert.ErrorIs(t, err, engine.ErrAlreadySettled)
	assert.Zero(t, env.projectLedgerTotal(t, p.ID))
}

func TestRevisionLoopLateTimerIsNoop(t *testing.T) {
	env := newTestEnv(t)
	p := env.delivered(t, 120000)
	first := env.Ports.armed[0]

	env.Clock.Advance(time.Hour)
	rv, err := env.Engine.RequestRevision(env.Ctx, p.ID, "cite sources", client)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleClient, rv.RequesterRole)
	_, err = env.Engine.StartRevision(env.Ctx, p.ID, worker1)
	require.NoError(t, err)
	_, err = env.Engine.SubmitForQC(env.Ctx, p.ID, []string{"s3://drafts/report-v2.docx"}, "added citations", worker1)
	require.NoError(t, err)
	_, err = env.Engine.StartQCReview(env.Ctx, p.ID, intermediary)
	require.NoError(t, err)
	assert.True(t, env.Notes.has(worker1, "qc.started"))
	_, err = env.Engine.RecordQCDecision(env.Ctx, p.ID, engine.DecisionApprove, "", intermediary)
	require.NoError(t, err)
	env.Clock.Advance(time.Hour)
	p, err = env.Engine.Deliver(env.Ctx, p.ID, nil, intermediary)
	require.NoError(t, err)
	assert.Equal(t, 1, p.RevisionCount)

	require.Len(t, env.Ports.armed, 2)
	second := env.Ports.armed[1]
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, env.Clock.Now().Add(72*time.Hour).Format(time.RFC3339), second.FireAt)

	// the old instance comes due first and must not approve the redelivery
	env.Clock.Advance(71 * time.Hour)
	fired, err := env.Engine.FireTimer(env.Ctx, p.ID, first.ID)
	require.NoError(t, err)
	assert.False(t, fired)
	fired, err = env.Engine.FireTimer(env.Ctx, p.ID, second.ID)
	require.NoError(t, err)
	assert.False(t, fired, "not due yet")
	assert.Equal(t, lifecycle.StatusDelivered, env.project(t, p.ID).Status)

	env.Clock.Advance(time.Hour)
	fired, err = env.Engine.FireTimer(env.Ctx, p.ID, second.ID)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, lifecycle.StatusAutoApproved, env.project(t, p.ID).Status)

	delivered, err := env.Engine.ListDeliverables(env.Ctx, p.ID, domain.DeliverableDelivery)
	require.NoError(t, err)
	require.Len(t, delivered, 2)
	assert.Equal(t, "s3://drafts/report-v2.docx", delivered[1].Ref)
	assert.Equal(t, 2, delivered[1].Round)
}

func TestStaleQuoteRejected(t *testing.T) {
	env := newTestEnv(t)
	p, old := env.quoted(t, 90000)
	current, err := env.Engine.IssueQuote(env.Ctx, p.ID, 95000, "scope grew", intermediary)
	require.NoError(t, err)

	quotes, err := env.Engine.ListQuotes(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, domain.QuoteSuperseded, quotes[0].State)
	assert.Equal(t, domain.QuoteActive, quotes[1].State)

	pay, err := env.Engine.RequestPayment(env.Ctx, p.ID, client)
	require.NoError(t, err)
	assert.Equal(t, int64(95000), pay.Amount)
	before := env.project(t, p.ID)

	_, err = env.Engine.CapturePayment(env.Ctx, p.ID, old.ID, "pay_1", env.Sandbox.SignCapture(pay.OrderRef, "pay_1"))
	assert.ErrorIs(t, err, engine.ErrStaleQuote)
	after := env.project(t, p.ID)
	assert.Equal(t, before, after)

	preview, err := env.Engine.CapturePayment(env.Ctx, p.ID, current.ID, "pay_1", env.Sandbox.SignCapture(pay.OrderRef, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, int64(95000), preview.ClientQuote)
}

func TestCaptureIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p, q := env.quoted(t, 250000)
	pay, err := env.Engine.RequestPayment(env.Ctx, p.ID, client)
	require.NoError(t, err)
	again, err := env.Engine.RequestPayment(env.Ctx, p.ID, client)
	require.NoError(t, err)
	assert.Equal(t, pay.ID, again.ID, "re-requesting returns the open order")

	sig := env.Sandbox.SignCapture(pay.OrderRef, "pay_abc")
	first, err := env.Engine.CapturePayment(env.Ctx, p.ID, q.ID, "pay_abc", sig)
	require.NoError(t, err)
	assert.False(t, first.AlreadyPaid)

	second, err := env.Engine.CapturePayment(env.Ctx, p.ID, q.ID, "pay_abc", sig)
	require.NoError(t, err)
	assert.True(t, second.AlreadyPaid)
	second.AlreadyPaid = false
	assert.Equal(t, first, second)

	_, err = env.Engine.CapturePayment(env.Ctx, p.ID, q.ID, "pay_other", env.Sandbox.SignCapture(pay.OrderRef, "pay_other"))
	assert.ErrorIs(t, err, engine.ErrAlreadyPaid)

	entries, err := env.Engine.ListLedger(env.Ctx, repo.LedgerFilters{ProjectID: p.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-250000), entries[0].Amount)
	assert.Equal(t, lifecycle.StatusPaid, env.project(t, p.ID).Status)
}

func TestCaptureUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	p, q := env.quoted(t, 250000)
	pay, err := env.Engine.RequestPayment(env.Ctx, p.ID, client)
	require.NoError(t, err)
	sig := env.Sandbox.SignCapture(pay.OrderRef, "pay_race")

	var mu sync.Mutex
	var fresh, replays int
	g, ctx := errgroup.WithContext(env.Ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			preview, err := env.Engine.CapturePayment(ctx, p.ID, q.ID, "pay_race", sig)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if preview.AlreadyPaid {
				replays++
			} else {
				fresh++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 7, replays)

	entries, err := env.Engine.ListLedger(env.Ctx, repo.LedgerFilters{ProjectID: p.ID})
	require.NoError(t, err)
	var captures int
	for _, e := range entries {
		if e.Reason == domain.LedgerCapture {
			captures++
		}
	}
	assert.Equal(t, 1, captures)
	assert.Equal(t, lifecycle.StatusPaid, env.project(t, p.ID).Status)
}

func TestCaptureBadSignatureKeepsProjectPayable(t *testing.T) {
	env := newTestEnv(t)
	p, q := env.quoted(t, 50000)
	pay, err := env.Engine.RequestPayment(env.Ctx, p.ID, client)
	require.NoError(t, err)

	_, err = env.Engine.CapturePayment(env.Ctx, p.ID, q.ID, "pay_x", "forged")
	assert.ErrorIs(t, err, engine.ErrPaymentVerification)
	assert.Equal(t, lifecycle.StatusPaymentPending, env.project(t, p.ID).Status)
	payments, err := env.Engine.ListPayments(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, 1, payments[0].FailedAttempts)
	assert.Equal(t, domain.PaymentPending, payments[0].State)
	assert.True(t, env.Notes.has(client, "payment.failed"))

	_, err = env.Engine.CapturePayment(env.Ctx, p.ID, q.ID, "pay_x", env.Sandbox.SignCapture(pay.OrderRef, "pay_x"))
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusPaid, env.project(t, p.ID).Status)
}

func TestIllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	p := env.submit(t)
	before := env.project(t, p.ID)

	_, err := env.Engine.IssueQuote(env.Ctx, p.ID, 1000, "", intermediary)
	assert.ErrorIs(t, err, engine.ErrIllegalTransition)
	_, err = env.Engine.Deliver(env.Ctx, p.ID, []string{"x"}, intermediary)
	assert.ErrorIs(t, err, engine.ErrIllegalTransition)
	_, err = env.Engine.ApproveDelivery(env.Ctx, p.ID, client)
	assert.ErrorIs(t, err, engine.ErrIllegalTransition)
	_, err = env.Engine.Assign(env.Ctx, p.ID, worker1, intermediary)
	assert.ErrorIs(t, err, engine.ErrIllegalTransition)
	_, err = env.Engine.Refund(env.Ctx, p.ID, 1000, intermediary)
	assert.ErrorIs(t, err, engine.ErrIllegalTransition)
	_, err = env.Engine.Settle(env.Ctx, p.ID, intermediary)
	assert.ErrorIs(t, err, engine.ErrIllegalTransition)
	_, err = env.Engine.StartRevision(env.Ctx, p.ID, admin)
	var te *lifecycle.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, lifecycle.StatusSubmitted, te.From)
	assert.Equal(t, lifecycle.EventStartRevision, te.Event)

	assert.Equal(t, before, env.project(t, p.ID))
	w, err := env.Engine.GetWorker(env.Ctx, worker1)
	require.NoError(t, err)
	assert.Zero(t, w.ActiveCount, "a rejected assign takes no slot")
}

func TestAssignCapacityUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RegisterWorker(env.Ctx, domain.Worker{ID: "solo", Available: true, MaxConcurrent: 1}, intermediary)
	require.NoError(t, err)
	var projects []domain.Project
	for i := 0; i < 5; i++ {
		projects = append(projects, env.paid(t, 10000))
	}

	var mu sync.Mutex
	var wins, full int
	g, ctx := errgroup.WithContext(env.Ctx)
	for _, p := range projects {
		id := p.ID
		g.Go(func() error {
			_, err := env.Engine.Assign(ctx, id, "solo", intermediary)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, engine.ErrWorkerAtCapacity):
				full++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, wins)
	assert.Equal(t, 4, full)

	w, err := env.Engine.GetWorker(env.Ctx, "solo")
	require.NoError(t, err)
	assert.Equal(t, 1, w.ActiveCount)
}

func TestAssignChecks(t *testing.T) {
	env := newTestEnv(t)
	p := env.paid(t, 10000)

	require.NoError(t, env.Engine.Blacklist(env.Ctx, intermediary, worker2, "missed deadlines", intermediary))
	_, err := env.Engine.Assign(env.Ctx, p.ID, worker2, intermediary)
	assert.ErrorIs(t, err, engine.ErrWorkerBlacklisted)
	require.NoError(t, env.Engine.Unblacklist(env.Ctx, intermediary, worker2, intermediary))

	_, err = env.Engine.SetWorkerAvailability(env.Ctx, worker2, false, worker2)
	require.NoError(t, err)
	_, err = env.Engine.Assign(env.Ctx, p.ID, worker2, intermediary)
	assert.ErrorIs(t, err, engine.ErrWorkerUnavailable)

	a, err := env.Engine.Assign(env.Ctx, p.ID, worker1, intermediary)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentActive, a.State)
	assert.True(t, env.Notes.has(worker1, "assignment.created"))
}

func TestDeclineAndReassign(t *testing.T) {
	env := newTestEnv(t)
	p := env.paid(t, 10000)
	a, err := env.Engine.Assign(env.Ctx, p.ID, worker1, intermediary)
	require.NoError(t, err)

	declined, err := env.Engine.DeclineAssignment(env.Ctx, a.ID, "too busy", worker1)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusAssigning, declined.Status)
	assert.Nil(t, declined.WorkerID)
	w1, err := env.Engine.GetWorker(env.Ctx, worker1)
	require.NoError(t, err)
	assert.Zero(t, w1.ActiveCount)

	a, err = env.Engine.Assign(env.Ctx, p.ID, worker1, intermediary)
	require.NoError(t, err)
	_, err = env.Engine.StartWork(env.Ctx, p.ID, worker1)
	require.NoError(t, err)

	next, err := env.Engine.Reassign(env.Ctx, a.ID, worker2, "quality", intermediary)
	require.NoError(t, err)
	assert.Equal(t, worker2, next.WorkerID)
	p = env.project(t, p.ID)
	assert.Equal(t, lifecycle.StatusAssigned, p.Status)
	require.NotNil(t, p.WorkerID)
	assert.Equal(t, worker2, *p.WorkerID)

	w1, err = env.Engine.GetWorker(env.Ctx, worker1)
	require.NoError(t, err)
	assert.Zero(t, w1.ActiveCount)
	w2, err := env.Engine.GetWorker(env.Ctx, worker2)
	require.NoError(t, err)
	assert.Equal(t, 1, w2.ActiveCount)
	assert.True(t, env.Notes.has(worker1, "assignment.reassigned"))
	assert.True(t, env.Notes.has(worker2, "assignment.created"))

	history, err := env.Engine.ListAssignments(env.Ctx, p.ID, "")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.AssignmentDeclined, history[0].State)
	assert.Equal(t, domain.AssignmentReassigned, history[1].State)
	assert.Equal(t, domain.AssignmentActive, history[2].State)
}

func TestQCRejectResumesWork(t *testing.T) {
	env := newTestEnv(t)
	p, _ := env.inProgress(t, 10000)
	_, err := env.Engine.SubmitForQC(env.Ctx, p.ID, nil, "", worker1)
	assert.ErrorIs(t, err, engine.ErrNoDeliverables)
	_, err = env.Engine.SubmitForQC(env.Ctx, p.ID, []string{"draft.docx"}, "", worker1)
	require.NoError(t, err)

	p, err = env.Engine.RecordQCDecision(env.Ctx, p.ID, engine.DecisionReject, "formatting", intermediary)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusInProgress, p.Status)
	assert.Equal(t, 1, p.QCRejectionCount)
	assert.Zero(t, p.RevisionCount)
	assert.True(t, env.Notes.has(worker1, "qc.rejected"))

	revisions, err := env.Engine.ListRevisions(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, revisions, 1)
	assert.Equal(t, domain.RoleIntermediary, revisions[0].RequesterRole)

	_, err = env.Engine.RecordQCDecision(env.Ctx, p.ID, "maybe", "", intermediary)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestCancelAndRefund(t *testing.T) {
	t.Run("work started keeps penalty", func(t *testing.T) {
		env := newTestEnv(t)
		p, _ := env.inProgress(t, 250000)
		cancelled, err := env.Engine.Cancel(env.Ctx, p.ID, "client changed plans", client)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusCancelled, cancelled.Status)
		assert.Equal(t, string(lifecycle.StatusInProgress), cancelled.CancelledFrom)
		w, err := env.Engine.GetWorker(env.Ctx, worker1)
		require.NoError(t, err)
		assert.Zero(t, w.ActiveCount)

		_, err = env.Engine.Refund(env.Ctx, p.ID, 250001, intermediary)
		assert.ErrorIs(t, err, engine.ErrInvalidAmount)

		res, err := env.Engine.Refund(env.Ctx, p.ID, 250000, intermediary)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusRefunded, res.Project.Status)
		assert.Equal(t, int64(175000), res.Refund.ClientRefund)
		assert.Equal(t, int64(50000), res.Refund.WorkerRetained)
		assert.Equal(t, int64(25000), res.Refund.IntermediaryRetained)
		assert.Zero(t, env.projectLedgerTotal(t, p.ID))
	})

	t.Run("unclaimed project needs its client or an admin", func(t *testing.T) {
		env := newTestEnv(t)
		p, err := env.Engine.SubmitProject(env.Ctx, engine.SubmitProjectOptions{
			ActorID:     client,
			ServiceType: domain.ServiceReport,
			Subject:     "Unclaimed",
			WordCount:   1000,
			Deadline:    env.Clock.Now().Add(7 * 24 * time.Hour).Format(time.RFC3339),
		})
		require.NoError(t, err)
		require.Empty(t, p.IntermediaryID)

		_, err = env.Engine.Cancel(env.Ctx, p.ID, "", intermediary)
		var forbidden auth.ForbiddenError
		require.ErrorAs(t, err, &forbidden)
		assert.Equal(t, lifecycle.StatusSubmitted, env.project(t, p.ID).Status)

		cancelled, err := env.Engine.Cancel(env.Ctx, p.ID, "found help elsewhere", client)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusCancelled, cancelled.Status)
	})

	t.Run("before work is a full reversal", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.paid(t, 80000)
		_, err := env.Engine.Cancel(env.Ctx, p.ID, "", intermediary)
		require.NoError(t, err)
		res, err := env.Engine.Refund(env.Ctx, p.ID, 80000, admin)
		require.NoError(t, err)
		assert.Equal(t, int64(80000), res.Refund.ClientRefund)
		require.Len(t, res.Ledger, 1)
		assert.Zero(t, env.projectLedgerTotal(t, p.ID))

		_, err = env.Engine.Refund(env.Ctx, p.ID, 80000, admin)
		assert.ErrorIs(t, err, engine.ErrIllegalTransition)
	})

	t.Run("unpaid project has nothing to refund", func(t *testing.T) {
		env := newTestEnv(t)
		p, _ := env.quoted(t, 5000)
		_, err := env.Engine.RequestPayment(env.Ctx, p.ID, client)
		require.NoError(t, err)
		_, err = env.Engine.Cancel(env.Ctx, p.ID, "", client)
		require.NoError(t, err)
		payments, err := env.Engine.ListPayments(env.Ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentFailed, payments[0].State)
		_, err = env.Engine.Refund(env.Ctx, p.ID, 5000, intermediary)
		assert.ErrorIs(t, err, engine.ErrIllegalTransition)
	})

	t.Run("delivered work cannot be cancelled", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.delivered(t, 5000)
		_, err := env.Engine.Cancel(env.Ctx, p.ID, "", client)
		assert.ErrorIs(t, err, engine.ErrIllegalTransition)
	})
}

func TestQuoteAmountValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.submit(t)
	_, err := env.Engine.StartAnalysis(env.Ctx, p.ID, intermediary)
	require.NoError(t, err)
	_, err = env.Engine.IssueQuote(env.Ctx, p.ID, 0, "", intermediary)
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
	_, err = env.Engine.IssueQuote(env.Ctx, p.ID, env.Engine.Config.Pricing.MaxQuote+1, "", intermediary)
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
	assert.Equal(t, lifecycle.StatusAnalyzing, env.project(t, p.ID).Status)
}

func TestRoleEnforcement(t *testing.T) {
	env := newTestEnv(t)
	p := env.submit(t)

	_, err := env.Engine.StartAnalysis(env.Ctx, p.ID, worker1)
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, auth.PermProjectAnalyze, forbidden.Permission)
	assert.Equal(t, domain.RoleWorker, forbidden.Role)

	_, err = env.Engine.StartAnalysis(env.Ctx, p.ID, "stranger")
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, "unknown", forbidden.Role)
	assert.Equal(t, lifecycle.StatusSubmitted, env.project(t, p.ID).Status)

	p, q := env.quoted(t, 1000)
	_, err = env.Engine.RequestPayment(env.Ctx, p.ID, "c2")
	assert.ErrorContains(t, err, "payment.request:own")
	_, err = env.Engine.RequestPayment(env.Ctx, p.ID, client)
	require.NoError(t, err)
	assert.NotEmpty(t, q.ID)
}

func TestSubmitProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	base := engine.SubmitProjectOptions{
		ActorID:     client,
		ServiceType: domain.ServiceProofreading,
		Subject:     "Thesis chapter",
		WordCount:   8000,
		Deadline:    env.Clock.Now().Add(48 * time.Hour).Format(time.RFC3339),
	}
	bad := base
	bad.WordCount = 0
	_, err := env.Engine.SubmitProject(env.Ctx, bad)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	bad = base
	bad.Deadline = env.Clock.Now().Add(-time.Hour).Format(time.RFC3339)
	_, err = env.Engine.SubmitProject(env.Ctx, bad)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	bad = base
	bad.ServiceType = "ghostwriting"
	_, err = env.Engine.SubmitProject(env.Ctx, bad)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	draft := base
	draft.Draft = true
	p, err := env.Engine.SubmitProject(env.Ctx, draft)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusDraft, p.Status)
	assert.Equal(t, "AX-00001", p.Number)
	p, err = env.Engine.SubmitDraft(env.Ctx, p.Number, client)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusSubmitted, p.Status)

	// unowned projects are claimed on analysis
	p, err = env.Engine.StartAnalysis(env.Ctx, p.ID, intermediary)
	require.NoError(t, err)
	assert.Equal(t, intermediary, p.IntermediaryID)

	next, err := env.Engine.SubmitProject(env.Ctx, base)
	require.NoError(t, err)
	assert.Equal(t, "AX-00002", next.Number)
}

func TestSummaryAndEvents(t *testing.T) {
	env := newTestEnv(t)
	p := env.delivered(t, 250000)
	s, err := env.Engine.Summary(env.Ctx, p.Number)
	require.NoError(t, err)
	assert.Equal(t, p.ID, s.Project.ID)
	require.NotNil(t, s.ActiveQuote)
	assert.Equal(t, domain.QuoteAccepted, s.ActiveQuote.State)
	require.NotNil(t, s.Payment)
	assert.Equal(t, domain.PaymentCaptured, s.Payment.State)
	require.NotNil(t, s.Assignment)
	require.NotNil(t, s.Timer)
	assert.Equal(t, int64(-250000), s.LedgerTotal)
	assert.ElementsMatch(t, []string{"auto_approve", "client_approve", "request_revision"}, s.Allowed)
	require.Len(t, s.Deliverables, 1)

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{ProjectID: p.ID, Type: "project.status_changed"})
	require.NoError(t, err)
	// submit is a creation, then analyze, quote, request_payment, capture,
	// assign, start_work, submit_for_qc, start_qc, approve_qc, deliver
	assert.Len(t, evts, 10)
}

func TestEventsAfterPagesForward(t *testing.T) {
	env := newTestEnv(t)
	p := env.submit(t)
	start, err := env.Engine.LatestEventID(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Positive(t, start)

	_, err = env.Engine.StartAnalysis(env.Ctx, p.ID, intermediary)
	require.NoError(t, err)

	evts, err := env.Engine.EventsAfter(env.Ctx, p.ID, start, 0)
	require.NoError(t, err)
	require.NotEmpty(t, evts)
	for i, ev := range evts {
		assert.Greater(t, ev.ID, start)
		if i > 0 {
			assert.Greater(t, ev.ID, evts[i-1].ID)
		}
	}
	last, err := env.Engine.LatestEventID(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, evts[len(evts)-1].ID, last)

	none, err := env.Engine.EventsAfter(env.Ctx, p.ID, last, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAPIKeyListAndRevoke(t *testing.T) {
	env := newTestEnv(t)
	raw, key, err := env.Engine.CreateAPIKey(env.Ctx, client, "laptop", client)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	_, err = env.Engine.ListAPIKeys(env.Ctx, client, "c2")
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	keys, err := env.Engine.ListAPIKeys(env.Ctx, client, client)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)

	require.ErrorAs(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID, "c2"), &forbidden)
	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID, client))
	assert.ErrorIs(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID, admin), repo.ErrNotFound)

	keys, err = env.Engine.ListAPIKeys(env.Ctx, client, admin)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStatusCounts(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t)
	env.submit(t)
	env.paid(t, 100000)

	counts, err := env.Engine.StatusCounts(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[string(lifecycle.StatusSubmitted)])
	assert.Equal(t, 1, counts[string(lifecycle.StatusPaid)])
}
