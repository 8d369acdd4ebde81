package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRunsDetached(t *testing.T) {
	r := NewRunner(context.Background())
	var ran atomic.Bool
	done := make(chan struct{})
	r.Go("probe", func(ctx context.Context) {
		ran.Store(true)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	if !ran.Load() {
		t.Error("task did not execute")
	}
	r.Shutdown(time.Second)
}

func TestPanicDoesNotEscape(t *testing.T) {
	r := NewRunner(context.Background())
	r.Go("boom", func(ctx context.Context) {
		panic("task failure")
	})
	// Shutdown waits for the goroutine; a leaked panic would fail the test
	// process, not this assertion.
	r.Shutdown(time.Second)
}

func TestShutdownCancelsTasks(t *testing.T) {
	r := NewRunner(context.Background())
	var cancelled atomic.Bool
	started := make(chan struct{})
	r.Go("waiter", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})
	<-started
	r.Shutdown(time.Second)
	if !cancelled.Load() {
		t.Error("task context not cancelled on shutdown")
	}
}

func TestShutdownGraceElapses(t *testing.T) {
	r := NewRunner(context.Background())
	release := make(chan struct{})
	r.Go("stuck", func(ctx context.Context) {
		<-release
	})
	start := time.Now()
	r.Shutdown(20 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown hung for %s", elapsed)
	}
	close(release)
}

func TestParentCancellationPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	r := NewRunner(parent)
	done := make(chan struct{})
	r.Go("child", func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("parent cancellation did not reach task")
	}
}
