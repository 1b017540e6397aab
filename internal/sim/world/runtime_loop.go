package world

import (
	"context"
	"time"

	"outpost.ai/internal/sim/economy"
)

func (w *World) Run(ctx context.Context) error {
	var decay <-chan time.Time
	if w.cfg.DecayPeriod > 0 {
		t := time.NewTicker(w.cfg.DecayPeriod)
		defer t.Stop()
		decay = t.C
	}
	defer w.sched.StopAll()

	w.syncScheduler()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.inbox:
			w.handleCommand(req)
		case f := <-w.fires:
			w.handleFire(f)
		case <-decay:
			w.handleDecay()
		case req := <-w.catalog:
			w.handleCatalog(req)
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// handleFire applies one production tick. Fires from a handle that has since
// been cancelled or replaced are dropped.
func (w *World) handleFire(f fire) {
	if !w.sched.Current(f) {
		w.staleFires++
		w.publishMetrics()
		return
	}
	next, ev, ok := economy.Produce(w.State(), f.Key.BuildingID, f.Key.Resource)
	if !ok {
		return
	}
	w.productionFires++
	w.commit(next, []economy.Event{ev})
}

func (w *World) handleDecay() {
	cur := w.State()
	if cur.Collapsed {
		return
	}
	next, collapsed := economy.DecayStability(cur)
	var evs []economy.Event
	if collapsed {
		w.log.Printf("session %s collapsed", next.Session)
		evs = append(evs, economy.CollapseEvent())
	}
	w.commit(next, evs)
}

// commit publishes next as the current state, resyncs production timers and
// emits evs.
func (w *World) commit(next economy.State, evs []economy.Event) {
	w.state.Store(&next)
	w.syncScheduler()
	w.emit(next.Session, evs)
	w.publishMetrics()
}

func (w *World) syncScheduler() {
	w.sched.Sync(economy.ProductionKeys(w.State(), w.cfg.Rules.DefaultIntervalMs))
}
