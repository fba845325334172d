package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_Wait(t *testing.T) {
	r := New(context.Background(), 4, 0, nil)
	var ran atomic.Int32
	for range 10 {
		r.Submit("count", func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	r.Wait()
	if ran.Load() != 10 {
		t.Errorf("ran %d jobs, want 10", ran.Load())
	}
	if s := r.Stats(); s.Completed != 10 || s.InFlight != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	r := New(context.Background(), 2, 0, nil)
	var cur, peak atomic.Int32
	for range 8 {
		r.Submit("busy", func(context.Context) error {
			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			cur.Add(-1)
			return nil
		})
	}
	r.Wait()
	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d, want <= 2", peak.Load())
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := New(context.Background(), 1, 10*time.Millisecond, nil)
	r.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r.Wait()
	if s := r.Stats(); s.Failed != 1 {
		t.Errorf("stats = %+v, want one failure", s)
	}
}

func TestRunner_ErrorsAndPanics(t *testing.T) {
	r := New(context.Background(), 2, 0, nil)
	r.Submit("err", func(context.Context) error { return errors.New("boom") })
	r.Submit("panic", func(context.Context) error { panic("oops") })
	r.Submit("ok", func(context.Context) error { return nil })
	r.Wait()
	if s := r.Stats(); s.Failed != 2 || s.Completed != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRunner_OutlivesParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	r := New(parent, 1, 0, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var holdErr error
	r.Submit("hold", func(ctx context.Context) error {
		close(started)
		<-release
		holdErr = ctx.Err()
		return holdErr
	})
	<-started
	cancel()

	var ran atomic.Bool
	r.Submit("after signal", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	close(release)

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if !r.Drain(ctx) {
		t.Fatal("jobs did not finish")
	}
	if holdErr != nil {
		t.Errorf("running job saw %v after parent cancel", holdErr)
	}
	if !ran.Load() {
		t.Error("job submitted after parent cancel never ran")
	}
	if s := r.Stats(); s.Completed != 2 || s.Failed != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRunner_DrainTimeoutCancels(t *testing.T) {
	r := New(context.Background(), 1, 0, nil)
	started := make(chan struct{})
	r.Submit("stuck", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, done := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer done()
	if r.Drain(ctx) {
		t.Error("Drain reported success for a stuck job")
	}
	if s := r.Stats(); s.InFlight != 0 || s.Failed != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRunner_DropsWhenBacklogFull(t *testing.T) {
	r := New(context.Background(), 1, 0, nil)
	release := make(chan struct{})
	limit := 1 + QueueFactor
	for range limit + 3 {
		r.Submit("wait", func(context.Context) error {
			<-release
			return nil
		})
	}
	if s := r.Stats(); s.InFlight != int64(limit) || s.Dropped != 3 {
		t.Errorf("stats = %+v, want %d in flight and 3 dropped", s, limit)
	}
	close(release)
	r.Wait()
	if s := r.Stats(); s.Completed != int64(limit) {
		t.Errorf("completed = %d, want %d", s.Completed, limit)
	}
}
