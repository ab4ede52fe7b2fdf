// Package tasks supervises fire-and-forget background work.
//
// Every task runs under the group's context, and its error or panic is logged
// and counted. Callers never observe task failures directly.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"campaignengine/internal/metrics"
)

// Func is a unit of background work
type Func func(ctx context.Context) error

// Group runs background tasks and tracks them until shutdown
type Group struct {
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New creates a task group
func New(log *zap.Logger) *Group {
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go starts fn in the background. It returns false once the group is shutting down.
func (g *Group) Go(name string, fn Func) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.log.Warn("Task rejected, group is shutting down", zap.String("task", name))
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		g.run(name, fn)
	}()
	return true
}

// After starts fn once delay has elapsed
func (g *Group) After(name string, delay time.Duration, fn Func) bool {
	return g.Go(name, func(ctx context.Context) error {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled before start: %w", ctx.Err())
		case <-timer.C:
		}
		return fn(ctx)
	})
}

// Wait blocks until every started task, including tasks started by other tasks, has returned
func (g *Group) Wait() {
	g.wg.Wait()
}

// Shutdown stops accepting tasks and waits for running ones.
// When ctx expires first the remaining tasks are cancelled.
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		<-done
		return ctx.Err()
	}
}

func (g *Group) run(name string, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BackgroundTaskFailuresTotal.WithLabelValues(name).Inc()
			g.log.Error("Background task panicked",
				zap.String("task", name),
				zap.Any("panic", r))
		}
	}()

	if err := fn(g.ctx); err != nil {
		metrics.BackgroundTaskFailuresTotal.WithLabelValues(name).Inc()
		g.log.Error("Background task failed",
			zap.String("task", name),
			zap.Error(err))
	}
}
