package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/tgmonitor/internal/testutil"
)

func TestCycleRunsAllTasksDespiteFailure(t *testing.T) {
	var ok atomic.Int32
	r := New(time.Hour, time.Second, testutil.Logger(),
		Task{Name: "bad", Run: func(context.Context) error { return errors.New("boom") }},
		Task{Name: "good", Run: func(context.Context) error { ok.Add(1); return nil }},
	)
	r.Cycle(context.Background())
	if ok.Load() != 1 {
		t.Errorf("good task ran %d times", ok.Load())
	}
}

func TestCycleAppliesTimeout(t *testing.T) {
	r := New(time.Hour, 50*time.Millisecond, testutil.Logger(),
		Task{Name: "slow", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)
	start := time.Now()
	r.Cycle(context.Background())
	if time.Since(start) > time.Second {
		t.Error("cycle timeout not applied")
	}
}

func TestRunStartsImmediatelyAndTicks(t *testing.T) {
	var n atomic.Int32
	r := New(20*time.Millisecond, 10*time.Millisecond, testutil.Logger(),
		Task{Name: "count", Run: func(context.Context) error { n.Add(1); return nil }},
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	testutil.Eventually(t, 2*time.Second, func() bool { return n.Load() >= 3 }, "runner ticks")
	cancel()
	<-done
}
