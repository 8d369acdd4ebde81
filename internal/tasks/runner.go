package tasks

import (
	"context"
	"log"
	"sync"
	"time"
)

// Runner executes fire-and-forget side effects (notifications,
// fan-out) on detached goroutines. Panics and errors are captured
// and logged here; nothing propagates back to the submitter.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner builds a Runner whose tasks are cancelled when the parent
// context ends.
func NewRunner(parent context.Context) *Runner {
	ctx, cancel := context.WithCancel(parent)
	return &Runner{ctx: ctx, cancel: cancel}
}

// Go runs fn on its own goroutine. The name only appears in logs.
func (r *Runner) Go(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("tasks: %s panicked: %v", name, rec)
			}
		}()
		fn(r.ctx)
	}()
}

// Shutdown cancels outstanding tasks and waits up to grace for them
// to finish.
func (r *Runner) Shutdown(grace time.Duration) {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("tasks: shutdown grace of %s elapsed with tasks still running", grace)
	}
}
