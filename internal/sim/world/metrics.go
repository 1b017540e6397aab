package world

// WorldMetrics is a thread-safe read-only view of key runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Session   string `json:"session"`
	Stability int    `json:"stability"`
	Collapsed bool   `json:"collapsed"`

	Buildings          int `json:"buildings"`
	UnlockedBuildings  int `json:"unlocked_buildings"`
	ProducingBuildings int `json:"producing_buildings"`
	Occupants          int `json:"occupants"`
	ProductionTimers   int `json:"production_timers"`

	CommandsTotal    uint64 `json:"commands_total"`
	CommandsRejected uint64 `json:"commands_rejected"`
	ProductionFires  uint64 `json:"production_fires"`
	StaleFires       uint64 `json:"stale_fires"`
	Reconciles       uint64 `json:"reconciles"`
	Resets           uint64 `json:"resets"`
	EventsEmitted    uint64 `json:"events_emitted"`

	Subscribers   int    `json:"subscribers"`
	EventsDropped uint64 `json:"events_dropped"`

	QueueDepths QueueDepths `json:"queue_depths"`
}

type QueueDepths struct {
	Inbox   int `json:"inbox"`
	Fires   int `json:"fires"`
	Catalog int `json:"catalog"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	m, ok := w.metrics.Load().(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) publishMetrics() {
	s := w.State()
	m := WorldMetrics{
		Session:          s.Session,
		Stability:        s.Stability,
		Collapsed:        s.Collapsed,
		Buildings:        len(s.Buildings),
		ProductionTimers: w.sched.Running(),
		CommandsTotal:    w.commandsTotal,
		CommandsRejected: w.commandsRejected,
		ProductionFires:  w.productionFires,
		StaleFires:       w.staleFires,
		Reconciles:       w.reconciles,
		Resets:           w.resets,
		EventsEmitted:    w.seq,
		QueueDepths: QueueDepths{
			Inbox:   len(w.inbox),
			Fires:   len(w.fires),
			Catalog: len(w.catalog),
		},
	}
	for _, b := range s.Buildings {
		if !b.Locked {
			m.UnlockedBuildings++
		}
		if b.Producing() {
			m.ProducingBuildings++
		}
		m.Occupants += b.Occupancy
	}
	m.Subscribers, m.EventsDropped = w.hub.stats()
	w.metrics.Store(m)
}
