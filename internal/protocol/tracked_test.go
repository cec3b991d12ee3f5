package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTrackedTakeOnce(t *testing.T) {
	tracked, _ := NewTracked(7, NewMessage("hi"))

	pkt, ok := tracked.Take()
	if !ok {
		t.Fatal("Expected first Take to succeed")
	}
	if pkt.Text() != "hi" {
		t.Errorf("Expected 'hi', got %q", pkt.Text())
	}

	if _, ok := tracked.Take(); ok {
		t.Error("Expected second Take to fail")
	}
	if tracked.Recipient != 7 {
		t.Errorf("Expected recipient 7, got %d", tracked.Recipient)
	}
}

func TestTrackedConfirm(t *testing.T) {
	tracked, confirmation := NewTracked(1, NewMessage("hi"))

	if _, err := confirmation.Outcome(); !errors.Is(err, ErrChannelEmpty) {
		t.Fatalf("Expected ErrChannelEmpty before publishing, got %v", err)
	}
	if err := tracked.Confirm(); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	outcome, err := confirmation.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if outcome != OutcomeConfirmed {
		t.Errorf("Expected CONFIRMED, got %s", outcome)
	}

	// The outcome is sticky.
	outcome, err = confirmation.Outcome()
	if err != nil || outcome != OutcomeConfirmed {
		t.Errorf("Expected cached CONFIRMED, got %s, %v", outcome, err)
	}
}

func TestTrackedSinglePublish(t *testing.T) {
	tracked, confirmation := NewTracked(1, NewImage(nil))

	if err := tracked.Fail(); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if err := tracked.Confirm(); !errors.Is(err, ErrChannelDead) {
		t.Errorf("Expected ErrChannelDead on second publish, got %v", err)
	}

	outcome, err := confirmation.Outcome()
	if err != nil {
		t.Fatalf("Outcome failed: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Errorf("Expected FAILED, got %s", outcome)
	}
}

func TestTrackedAbandoned(t *testing.T) {
	tracked, confirmation := NewTracked(1, NewMessage("hi"))
	confirmation.Abandon()
	confirmation.Abandon()

	if err := tracked.Confirm(); !errors.Is(err, ErrChannelDead) {
		t.Errorf("Expected ErrChannelDead after abandon, got %v", err)
	}
}

func TestTrackedDrop(t *testing.T) {
	tracked, confirmation := NewTracked(1, NewMessage("hi"))
	tracked.Drop()
	tracked.Drop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := confirmation.Wait(ctx); !errors.Is(err, ErrChannelDead) {
		t.Errorf("Expected ErrChannelDead after drop, got %v", err)
	}
	if err := tracked.Fail(); !errors.Is(err, ErrChannelDead) {
		t.Errorf("Expected ErrChannelDead publishing after drop, got %v", err)
	}
}

func TestConfirmationWaitCancelled(t *testing.T) {
	_, confirmation := NewTracked(1, NewMessage("hi"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := confirmation.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestConfirmationConcurrentWaiters(t *testing.T) {
	for round := 0; round < 100; round++ {
		tracked, confirmation := NewTracked(1, NewMessage("hi"))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)

		const waiters = 8
		outcomes := make([]Outcome, waiters)
		errs := make([]error, waiters)
		var wg sync.WaitGroup
		for i := 0; i < waiters; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes[i], errs[i] = confirmation.Wait(ctx)
			}()
		}

		if err := tracked.Confirm(); err != nil {
			t.Fatalf("Confirm failed: %v", err)
		}
		wg.Wait()
		cancel()

		for i := 0; i < waiters; i++ {
			if errs[i] != nil || outcomes[i] != OutcomeConfirmed {
				t.Fatalf("Round %d waiter %d: expected CONFIRMED, got %s, %v", round, i, outcomes[i], errs[i])
			}
		}
	}
}
