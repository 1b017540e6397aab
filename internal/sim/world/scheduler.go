package world

import (
	"context"
	"time"

	"outpost.ai/internal/sim/economy"
)

// fire is one production tick delivered to the world loop. gen identifies the
// handle that produced it so fires from a replaced handle can be dropped.
type fire struct {
	Key economy.ProductionKey
	Gen uint64
}

type timerHandle struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler runs one ticker goroutine per production key. It is owned by the
// world loop goroutine and is not safe for concurrent use.
type Scheduler struct {
	out     chan<- fire
	running map[economy.ProductionKey]*timerHandle
	nextGen uint64
}

func NewScheduler(out chan<- fire) *Scheduler {
	return &Scheduler{out: out, running: map[economy.ProductionKey]*timerHandle{}}
}

// Sync stops handles whose key is not desired and starts handles for desired
// keys that are not running. Handles present in both are left untouched.
func (s *Scheduler) Sync(desired map[economy.ProductionKey]struct{}) (started, stopped int) {
	for k, h := range s.running {
		if _, ok := desired[k]; ok {
			continue
		}
		h.cancel()
		delete(s.running, k)
		stopped++
	}
	for k := range desired {
		if _, ok := s.running[k]; ok {
			continue
		}
		s.start(k)
		started++
	}
	return started, stopped
}

func (s *Scheduler) start(k economy.ProductionKey) {
	s.nextGen++
	ctx, cancel := context.WithCancel(context.Background())
	h := &timerHandle{gen: s.nextGen, cancel: cancel, done: make(chan struct{})}
	s.running[k] = h

	interval := time.Duration(k.IntervalMs) * time.Millisecond
	go func(gen uint64) {
		defer close(h.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case s.out <- fire{Key: k, Gen: gen}:
				case <-ctx.Done():
					return
				}
			}
		}
	}(h.gen)
}

// Current reports whether f came from the handle currently running for its key.
func (s *Scheduler) Current(f fire) bool {
	h, ok := s.running[f.Key]
	return ok && h.gen == f.Gen
}

func (s *Scheduler) Running() int { return len(s.running) }

func (s *Scheduler) Keys() []economy.ProductionKey {
	out := make([]economy.ProductionKey, 0, len(s.running))
	for k := range s.running {
		out = append(out, k)
	}
	return out
}

// StopAll cancels every handle and waits for the ticker goroutines to exit.
func (s *Scheduler) StopAll() {
	for k, h := range s.running {
		h.cancel()
		<-h.done
		delete(s.running, k)
	}
}
