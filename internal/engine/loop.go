// Package engine provides the fixed-timestep loop and the simulation facade.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Loop defaults.
const (
	DefaultTickRate  = 20
	DefaultFrameRate = 60
	DefaultMaxFrame  = 1000 * time.Millisecond
)

// Loop converts variable frame times into a whole number of fixed ticks.
// Leftover time carries over; render receives how far the next tick has progressed.
type Loop struct {
	FixedDt   time.Duration // Simulated time per tick
	MaxFrame  time.Duration // Clamp on elapsed time per frame
	FrameRate int           // Driver callbacks per second for Start

	update func(dt time.Duration)
	render func(alpha float64)

	acc   time.Duration
	last  time.Time
	ticks atomic.Uint64

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLoop creates a stopped loop. tickRate <= 0 means DefaultTickRate.
// Either callback may be nil.
func NewLoop(update func(dt time.Duration), render func(alpha float64), tickRate int) *Loop {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	return &Loop{
		FixedDt:   time.Second / time.Duration(tickRate),
		MaxFrame:  DefaultMaxFrame,
		FrameRate: DefaultFrameRate,
		update:    update,
		render:    render,
	}
}

// Reset sets the reference time for the next Frame and clears carried-over time.
func (l *Loop) Reset(now time.Time) {
	l.last = now
	l.acc = 0
}

// Frame processes one driver callback at time now. It fires as many fixed ticks as
// the accumulated time allows, then renders exactly once.
// Frame is not safe for concurrent use; Start calls it from a single goroutine.
func (l *Loop) Frame(now time.Time) {
	elapsed := now.Sub(l.last)
	l.last = now
	if elapsed < 0 {
		elapsed = 0
	}
	if l.MaxFrame > 0 && elapsed > l.MaxFrame {
		elapsed = l.MaxFrame
	}
	l.acc += elapsed

	for l.acc >= l.FixedDt {
		if l.update != nil {
			l.update(l.FixedDt)
		}
		l.ticks.Add(1)
		l.acc -= l.FixedDt
	}

	if l.render != nil {
		l.render(l.Alpha())
	}
}

// Alpha returns the fraction of a tick currently accumulated, in [0,1).
func (l *Loop) Alpha() float64 {
	return float64(l.acc) / float64(l.FixedDt)
}

// Ticks returns the number of fixed updates fired so far.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// Running reports whether Start has been called without a matching Stop.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Start drives Frame from a ticker at FrameRate until Stop or ctx is done.
// Calling Start on a running loop does nothing.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running.Load() {
		return
	}

	rate := l.FrameRate
	if rate <= 0 {
		rate = DefaultFrameRate
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	l.running.Store(true)
	l.Reset(time.Now())

	slog.Info("simulation loop started",
		"tick_rate_hz", int(time.Second/l.FixedDt),
		"frame_rate_hz", rate,
	)

	go l.run(ctx, time.Second/time.Duration(rate), l.done)
}

func (l *Loop) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.running.Store(false)
			return
		case now := <-ticker.C:
			// A callback already queued when Stop was requested must not run.
			if !l.running.Load() {
				return
			}
			l.Frame(now)
		}
	}
}

// Stop halts the driver and waits for the in-flight frame to finish.
// Calling Stop on a stopped loop does nothing.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return
	}
	l.running.Store(false)
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil

	slog.Info("simulation loop stopped", "ticks", l.Ticks())
}
