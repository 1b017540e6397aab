package world

import (
	"sync"

	"outpost.ai/internal/sim/economy"
)

// Event is an economy event stamped with its session, a per-world sequence
// number and wall-clock time.
type Event struct {
	economy.Event
	Session string `json:"session"`
	Seq     uint64 `json:"seq"`
	UnixMS  int64  `json:"unix_ms"`
}

// CommandRecord is the audit record of one processed command.
type CommandRecord struct {
	Session    string `json:"session"`
	UnixMS     int64  `json:"unix_ms"`
	Source     string `json:"source,omitempty"`
	Command    string `json:"command"`
	BuildingID string `json:"building_id,omitempty"`
	Resource   string `json:"resource,omitempty"`
	Amount     int    `json:"amount,omitempty"`
	Slot       int    `json:"slot,omitempty"`
	OK         bool   `json:"ok"`
	Code       string `json:"code,omitempty"`
}

// broadcaster fans events out to subscribers. Delivery never blocks the
// world loop: a subscriber whose buffer is full misses the event.
type broadcaster struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]chan Event
	dropped uint64
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: map[uint64]chan Event{}}
}

func (b *broadcaster) subscribe(buf int) (uint64, <-chan Event) {
	if buf <= 0 {
		buf = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	ch := make(chan Event, buf)
	b.subs[b.nextID] = ch
	return b.nextID, ch
}

func (b *broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
		}
	}
}

func (b *broadcaster) stats() (subscribers int, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs), b.dropped
}

// Subscribe registers an observer. The returned channel is closed by
// Unsubscribe.
func (w *World) Subscribe(buf int) (uint64, <-chan Event) { return w.hub.subscribe(buf) }

func (w *World) Unsubscribe(id uint64) { w.hub.unsubscribe(id) }

// emit stamps and fans out events produced by one transition.
func (w *World) emit(session string, evs []economy.Event) {
	for _, e := range evs {
		w.seq++
		ev := Event{Event: e, Session: session, Seq: w.seq, UnixMS: w.now().UnixMilli()}
		for _, l := range w.eventLoggers {
			if err := l.WriteEvent(ev); err != nil {
				w.log.Printf("event logger: %v", err)
			}
		}
		w.hub.publish(ev)
	}
}
