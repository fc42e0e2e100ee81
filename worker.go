package mt79

import (
	"context"
	"sync"
	"time"
)

// worker runs fn on its own goroutine each time it is scheduled. It can be
// parked with disable, which waits for a running fn to return.
type worker struct {
	mu        sync.Mutex
	cond      sync.Cond
	fn        func()
	scheduled bool
	running   bool
	disabled  bool
	stopped   bool
	done      chan struct{}
}

func (w *worker) start(fn func()) {
	w.fn = fn
	w.cond.L = &w.mu
	w.done = make(chan struct{})
	go w.run()
}

func (w *worker) run() {
	defer close(w.done)
	w.mu.Lock()
	for {
		for !w.stopped && (w.disabled || !w.scheduled) {
			w.cond.Wait()
		}
		if w.stopped {
			w.mu.Unlock()
			return
		}
		w.scheduled = false
		w.running = true
		w.mu.Unlock()
		w.fn()
		w.mu.Lock()
		w.running = false
		w.cond.Broadcast()
	}
}

func (w *worker) schedule() {
	w.mu.Lock()
	w.scheduled = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// disable parks the worker and waits for a running fn to finish. Schedules
// issued while disabled run after enable.
func (w *worker) disable() {
	w.mu.Lock()
	w.disabled = true
	for w.running {
		w.cond.Wait()
	}
	w.mu.Unlock()
}

func (w *worker) enable() {
	w.mu.Lock()
	w.disabled = false
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *worker) stop() {
	if w.done == nil {
		return
	}
	w.mu.Lock()
	w.stopped = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}

// loop calls fn until fn reports it is done or the loop is stopped. fn
// returns the delay before its next run.
type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startLoop(parent context.Context, first time.Duration, fn func(ctx context.Context) (next time.Duration, ok bool)) *loop {
	ctx, cancel := context.WithCancel(parent)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(l.done)
		timer := time.NewTimer(first)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			next, ok := fn(ctx)
			if !ok {
				return
			}
			timer.Reset(next)
		}
	}()
	return l
}

// finished reports whether fn ended the loop.
func (l *loop) finished() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// stop cancels the loop and waits for a running fn to return.
func (l *loop) stop() {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

// gate admits concurrent handlers until closed. close waits for admitted
// handlers to leave.
type gate struct {
	mu     sync.RWMutex
	closed bool
}

func (g *gate) enter() bool {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return false
	}
	return true
}

func (g *gate) leave() { g.mu.RUnlock() }

func (g *gate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *gate) open() {
	g.mu.Lock()
	g.closed = false
	g.mu.Unlock()
}
