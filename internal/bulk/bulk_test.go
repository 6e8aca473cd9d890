package bulk

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoll_StallExample(t *testing.T) {
	tr := NewTracker()
	op := tr.Begin(3)

	// One acknowledgement lands before each of the first two polls, then nothing.
	for i := 1; i <= 7; i++ {
		if i <= 2 {
			tr.Decrement(1)
		}
		done, ok := op.poll(5)
		if i < 7 && done {
			t.Fatalf("finished early at poll %d", i)
		}
		if i == 7 {
			if !done || ok {
				t.Fatalf("poll 7: done=%v ok=%v, want stall failure", done, ok)
			}
		}
	}
	if op.Remaining() != 1 {
		t.Fatalf("remaining=%d", op.Remaining())
	}
	if op.Polls() != 7 {
		t.Fatalf("polls=%d", op.Polls())
	}
}

func TestPoll_ProgressResetsStalls(t *testing.T) {
	tr := NewTracker()
	op := tr.Begin(10)
	for i := 0; i < 4; i++ {
		if done, _ := op.poll(5); done {
			t.Fatalf("done at stall %d", i)
		}
	}
	tr.Decrement(1)
	for i := 0; i < 5; i++ {
		if done, _ := op.poll(5); done {
			t.Fatalf("stall counter not reset")
		}
	}
	if done, ok := op.poll(5); !done || ok {
		t.Fatalf("expected failure after 5 stable polls")
	}
}

func TestPoll_ZeroIsSuccess(t *testing.T) {
	tr := NewTracker()
	op := tr.Begin(2)
	tr.Decrement(5)
	if tr.Remaining() != 0 {
		t.Fatalf("counter went to %d", tr.Remaining())
	}
	if done, ok := op.poll(5); !done || !ok {
		t.Fatalf("done=%v ok=%v", done, ok)
	}
}

func TestAwait_CompletesWhenFed(t *testing.T) {
	tr := NewTracker()
	op := tr.Begin(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	acks := make(chan int)
	go tr.Feed(ctx, acks)
	go func() {
		for i := 0; i < 4; i++ {
			acks <- 1
			time.Sleep(2 * time.Millisecond)
		}
	}()

	ok, err := op.Await(ctx, Policy{PollInterval: time.Millisecond, MaxStableStalls: 1000})
	if err != nil || !ok {
		t.Fatalf("Await=%v,%v", ok, err)
	}
}

func TestAwait_EmptyBatchSucceedsImmediately(t *testing.T) {
	op := NewTracker().Begin(0)
	ok, err := op.Await(context.Background(), Policy{PollInterval: time.Hour, MaxStableStalls: 1})
	if !ok || err != nil {
		t.Fatalf("Await=%v,%v", ok, err)
	}
}

func TestAwait_StallsOut(t *testing.T) {
	op := NewTracker().Begin(3)
	start := time.Now()
	ok, err := op.Await(context.Background(), Policy{PollInterval: time.Millisecond, MaxStableStalls: 3})
	if ok || err != nil {
		t.Fatalf("Await=%v,%v want false,nil", ok, err)
	}
	if op.Polls() != 3 {
		t.Fatalf("polls=%d", op.Polls())
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("took too long")
	}
}

func TestAwait_Cancel(t *testing.T) {
	op := NewTracker().Begin(3)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	ok, err := op.Await(ctx, Policy{PollInterval: time.Millisecond, MaxStableStalls: 1 << 30})
	if ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("Await=%v,%v", ok, err)
	}
}

func TestFeed_StopsOnClose(t *testing.T) {
	tr := NewTracker()
	tr.Begin(5)
	acks := make(chan int, 3)
	acks <- 2
	acks <- 1
	close(acks)
	tr.Feed(context.Background(), acks)
	if tr.Remaining() != 2 {
		t.Fatalf("remaining=%d", tr.Remaining())
	}
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	if p.PollInterval != time.Second || p.MaxStableStalls != 5 {
		t.Fatalf("defaults=%+v", p)
	}
}
