package ghostask

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/windrunne/6ix-app/internal/app/clock"
	"github.com/windrunne/6ix-app/internal/app/domain/ghostask"
	"github.com/windrunne/6ix-app/internal/app/domain/notification"
	"github.com/windrunne/6ix-app/internal/app/ratelimit"
	"github.com/windrunne/6ix-app/internal/app/services/notifications"
	"github.com/windrunne/6ix-app/internal/app/storage/memory"
	"github.com/windrunne/6ix-app/internal/errors"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	clk   *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewMemoryLimiter(clk)
	notifier := notifications.New(store, clk, nil)
	return &fixture{
		svc:   New(store, limiter, notifier, clk, nil),
		store: store,
		clk:   clk,
	}
}

func (f *fixture) create(t *testing.T, sender, recipient string) ghostask.Ask {
	t.Helper()
	ask, err := f.svc.Create(context.Background(), sender, recipient, "are you going to the show on friday?")
	if err != nil {
		t.Fatalf("create %s -> %s: %v", sender, recipient, err)
	}
	return ask
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	ask := f.create(t, "alice", "bob")
	if ask.Status != ghostask.StatusPending {
		t.Fatalf("status = %s, want pending", ask.Status)
	}
	if ask.Unlocked {
		t.Fatal("new ask should start locked")
	}
	if ask.PersuasionAttempts != 0 {
		t.Fatalf("attempts = %d, want 0", ask.PersuasionAttempts)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, "alice", "alice", "hey"); errors.CodeOf(err) != errors.CodeInvalidRequest {
		t.Fatalf("self ask: code = %q, want invalid_request", errors.CodeOf(err))
	}
	if _, err := f.svc.Create(ctx, "bob", "carol", "   "); errors.CodeOf(err) != errors.CodeInvalidRequest {
		t.Fatalf("blank message: code = %q, want invalid_request", errors.CodeOf(err))
	}

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := f.svc.Create(ctx, "dave", "erin", string(long)); errors.CodeOf(err) != errors.CodeInvalidRequest {
		t.Fatalf("long message: code = %q, want invalid_request", errors.CodeOf(err))
	}
}

func TestCreateDailyQuota(t *testing.T) {
	f := newFixture(t)

	f.create(t, "alice", "b1")
	f.create(t, "alice", "b2")
	f.create(t, "alice", "b3")

	_, err := f.svc.Create(context.Background(), "alice", "b4", "one more")
	if errors.CodeOf(err) != errors.CodeRateLimited {
		t.Fatalf("code = %q, want rate_limited", errors.CodeOf(err))
	}
}

func TestUnlockWithinWindowThenSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ask := f.create(t, "alice", "bob")

	unlocked, err := f.svc.NotifyUnlockEvent(ctx, ask.ID, ask.CreatedAt.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !unlocked {
		t.Fatal("event inside the window should unlock")
	}

	// A second event is a no-op, not an error.
	unlocked, err = f.svc.NotifyUnlockEvent(ctx, ask.ID, ask.CreatedAt.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("second unlock: %v", err)
	}
	if unlocked {
		t.Fatal("already unlocked ask should report false")
	}

	result, err := f.svc.AttemptSend(ctx, ask.ID, "alice")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Forced {
		t.Fatal("unlocked send should not be forced")
	}
	if result.Ask.Status != ghostask.StatusSent || result.Ask.SentAt == nil {
		t.Fatalf("ask = %+v, want sent with sent_at", result.Ask)
	}

	got, err := f.store.ListNotifications(ctx, "bob", true)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(got) != 1 || got[0].Type != notification.TypeGhostAsk {
		t.Fatalf("recipient should get one ghost_ask notification, got %v", got)
	}
	if got[0].SenderRef != notification.SenderAnonymous {
		t.Fatalf("sender ref = %q, want anonymous", got[0].SenderRef)
	}
}

func TestUnlockOutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ask := f.create(t, "alice", "bob")

	unlocked, err := f.svc.NotifyUnlockEvent(ctx, ask.ID, ask.CreatedAt.Add(7*time.Minute))
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if unlocked {
		t.Fatal("event outside the window must not unlock")
	}

	_, err = f.svc.AttemptSend(ctx, ask.ID, "alice")
	svcErr, ok := errors.AsService(err)
	if !ok || svcErr.Code != errors.CodeThresholdNotMet {
		t.Fatalf("locked send: want threshold_not_met, got %v", err)
	}
	if svcErr.Attempts != 1 || svcErr.Threshold != 10 {
		t.Fatalf("attempts/threshold = %d/%d, want 1/10", svcErr.Attempts, svcErr.Threshold)
	}
}

func TestPersuasionThresholdForcesSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ask := f.create(t, "alice", "bob")

	for i := 1; i <= 9; i++ {
		_, err := f.svc.AttemptSend(ctx, ask.ID, "alice")
		svcErr, ok := errors.AsService(err)
		if !ok || svcErr.Code != errors.CodeThresholdNotMet {
			t.Fatalf("attempt %d: want threshold_not_met, got %v", i, err)
		}
		if svcErr.Attempts != i {
			t.Fatalf("attempt %d: counter = %d", i, svcErr.Attempts)
		}
	}

	result, err := f.svc.AttemptSend(ctx, ask.ID, "alice")
	if err != nil {
		t.Fatalf("tenth attempt: %v", err)
	}
	if !result.Forced {
		t.Fatal("tenth attempt should force the send")
	}
	if result.Ask.Status != ghostask.StatusSent {
		t.Fatalf("status = %s, want sent", result.Ask.Status)
	}

	_, err = f.svc.AttemptSend(ctx, ask.ID, "alice")
	if errors.CodeOf(err) != errors.CodeAlreadyResolved {
		t.Fatalf("send after sent: code = %q, want already_resolved", errors.CodeOf(err))
	}
}

func TestForceSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ask := f.create(t, "alice", "bob")

	_, err := f.svc.ForceSend(ctx, ask.ID, "alice")
	if errors.CodeOf(err) != errors.CodeThresholdNotMet {
		t.Fatalf("below threshold: code = %q, want threshold_not_met", errors.CodeOf(err))
	}

	for i := 0; i < 9; i++ {
		if _, err := f.svc.AttemptSend(ctx, ask.ID, "alice"); err == nil {
			t.Fatal("locked attempt below threshold should fail")
		}
	}

	// Counter sits at 9; an explicit force still requires the threshold.
	_, err = f.svc.ForceSend(ctx, ask.ID, "alice")
	if errors.CodeOf(err) != errors.CodeThresholdNotMet {
		t.Fatalf("at 9 attempts: code = %q, want threshold_not_met", errors.CodeOf(err))
	}
}

func TestForceSendIgnoresUnlockState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ask := f.create(t, "alice", "bob")
	unlocked, err := f.svc.NotifyUnlockEvent(ctx, ask.ID, ask.CreatedAt.Add(time.Minute))
	if err != nil || !unlocked {
		t.Fatalf("unlock: unlocked=%v err=%v", unlocked, err)
	}

	// Force is gated on the counter alone; unlocked asks go out through
	// the regular send path.
	_, err = f.svc.ForceSend(ctx, ask.ID, "alice")
	svcErr, ok := errors.AsService(err)
	if !ok || svcErr.Code != errors.CodeThresholdNotMet {
		t.Fatalf("force on unlocked ask: want threshold_not_met, got %v", err)
	}
	if svcErr.Attempts != 0 || svcErr.Threshold != 10 {
		t.Fatalf("attempts/threshold = %d/%d, want 0/10", svcErr.Attempts, svcErr.Threshold)
	}

	result, err := f.svc.AttemptSend(ctx, ask.ID, "alice")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Forced || result.Ask.Status != ghostask.StatusSent {
		t.Fatalf("result = %+v, want plain send", result)
	}
}

func TestSenderOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ask := f.create(t, "alice", "bob")

	if _, err := f.svc.AttemptSend(ctx, ask.ID, "mallory"); errors.CodeOf(err) != errors.CodeForbidden {
		t.Fatalf("attempt by stranger: code = %q, want forbidden", errors.CodeOf(err))
	}
	if _, err := f.svc.ForceSend(ctx, ask.ID, "bob"); errors.CodeOf(err) != errors.CodeForbidden {
		t.Fatalf("force by recipient: code = %q, want forbidden", errors.CodeOf(err))
	}
	if _, err := f.svc.AttemptSend(ctx, "no-such-id", "alice"); errors.CodeOf(err) != errors.CodeNotFound {
		t.Fatalf("missing ask: code = %q, want not_found", errors.CodeOf(err))
	}
}

func TestConcurrentAttemptSendOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ask := f.create(t, "alice", "bob")
	if _, err := f.svc.NotifyUnlockEvent(ctx, ask.ID, ask.CreatedAt.Add(time.Minute)); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	// Stay below the 20/hour send quota so every caller reaches the CAS.
	const callers = 8
	results := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.AttemptSend(ctx, ask.ID, "alice")
			results[i] = err
		}(i)
	}
	wg.Wait()

	sent, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			sent++
		case errors.CodeOf(err) == errors.CodeAlreadyResolved:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if sent != 1 || conflicts != callers-1 {
		t.Fatalf("sent = %d, conflicts = %d, want 1 and %d", sent, conflicts, callers-1)
	}

	// Exactly one delivery means exactly one recipient notification.
	got, err := f.store.ListNotifications(ctx, "bob", true)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want exactly 1", len(got))
	}
}

func TestSendQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, "alice", "bob")
	second := f.create(t, "alice", "carol")

	// 10 locked attempts force the first ask out.
	for i := 0; i < 10; i++ {
		res, err := f.svc.AttemptSend(ctx, first.ID, "alice")
		if i < 9 && errors.CodeOf(err) != errors.CodeThresholdNotMet {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if i == 9 && (err != nil || !res.Forced) {
			t.Fatalf("attempt 10: err=%v forced=%v", err, res.Forced)
		}
	}

	// 10 more send attempts exhaust the hourly cap of 20.
	third := f.create(t, "alice", "dave")
	for i := 0; i < 9; i++ {
		if _, err := f.svc.AttemptSend(ctx, second.ID, "alice"); errors.CodeOf(err) != errors.CodeThresholdNotMet {
			t.Fatalf("attempt %d on second ask: %v", i, err)
		}
	}
	if _, err := f.svc.AttemptSend(ctx, third.ID, "alice"); errors.CodeOf(err) != errors.CodeThresholdNotMet {
		t.Fatalf("20th send attempt: %v", err)
	}

	_, err := f.svc.AttemptSend(ctx, third.ID, "alice")
	if errors.CodeOf(err) != errors.CodeRateLimited {
		t.Fatalf("21st send attempt: code = %q, want rate_limited", errors.CodeOf(err))
	}
}
