package jobs

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestScheduler_AddRejectsBadSpec(t *testing.T) {
	s := NewScheduler(zerolog.New(io.Discard))
	if err := s.Add("broken", "not a schedule", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestScheduler_RunsJob(t *testing.T) {
	s := NewScheduler(zerolog.New(io.Discard))
	var runs atomic.Int32
	if err := s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Start()
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if runs.Load() == 0 {
		t.Fatal("expected job to run at least once")
	}
}

func TestScheduler_RunLogsFailureAndRecovers(t *testing.T) {
	s := NewScheduler(zerolog.New(io.Discard))
	// run must return normally when the job fails.
	s.run("failing", func(context.Context) error { return errors.New("boom") })
}

func TestScheduler_RunPassesDeadline(t *testing.T) {
	s := NewScheduler(zerolog.New(io.Discard))
	var hasDeadline bool
	s.run("deadline", func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})
	if !hasDeadline {
		t.Fatal("expected job context to carry a deadline")
	}
}
