package world

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"outpost.ai/internal/sim/catalogs"
	"outpost.ai/internal/sim/economy"
)

type WorldConfig struct {
	Rules economy.Rules
	// DecayPeriod is the stability decay interval; 0 disables decay.
	DecayPeriod time.Duration

	InboxSize int
	FireSize  int
}

// World is the single-threaded owner of the economy state. All mutation
// happens on the Run goroutine; State and Metrics are safe from any goroutine.
type World struct {
	cfg WorldConfig
	log *log.Logger
	now func() time.Time

	defs   map[string]economy.Definition
	digest string

	state   atomic.Pointer[economy.State]
	metrics atomic.Value

	sched *Scheduler
	hub   *broadcaster

	inbox   chan commandReq
	fires   chan fire
	catalog chan catalogReq
	stop    chan struct{}

	seq uint64

	commandsTotal    uint64
	commandsRejected uint64
	productionFires  uint64
	staleFires       uint64
	reconciles       uint64
	resets           uint64

	eventLoggers    []EventLogger
	commandLoggers  []CommandLogger
	catalogRecorder []CatalogRecorder
}

type EventLogger interface {
	WriteEvent(ev Event) error
}

type CommandLogger interface {
	WriteCommand(rec CommandRecord) error
}

// CatalogRecorder is told about every catalog the world reconciles against
// after startup.
type CatalogRecorder interface {
	RecordCatalog(snap catalogs.Snapshot)
}

// New builds a world whose first session is created from cat.
func New(cfg WorldConfig, cat catalogs.Snapshot, logger *log.Logger) *World {
	if cfg.Rules.DefaultIntervalMs <= 0 {
		cfg.Rules.DefaultIntervalMs = economy.DefaultRules().DefaultIntervalMs
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.FireSize <= 0 {
		cfg.FireSize = 1024
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[world] ", log.LstdFlags)
	}
	w := &World{
		cfg:     cfg,
		log:     logger,
		now:     time.Now,
		defs:    cat.Defs,
		digest:  cat.Digest,
		hub:     newBroadcaster(),
		inbox:   make(chan commandReq, cfg.InboxSize),
		fires:   make(chan fire, cfg.FireSize),
		catalog: make(chan catalogReq, 4),
		stop:    make(chan struct{}),
	}
	w.sched = NewScheduler(w.fires)
	w.logWarnings(cat)

	s := economy.NewState(newSessionID(), w.defs, cfg.Rules)
	s.CatalogDigest = w.digest
	w.state.Store(&s)
	w.publishMetrics()
	return w
}

func (w *World) AddEventLogger(l EventLogger)     { w.eventLoggers = append(w.eventLoggers, l) }
func (w *World) AddCommandLogger(l CommandLogger) { w.commandLoggers = append(w.commandLoggers, l) }
func (w *World) AddCatalogRecorder(r CatalogRecorder) {
	w.catalogRecorder = append(w.catalogRecorder, r)
}

// State returns the current immutable snapshot. Callers must not write to
// the maps it holds.
func (w *World) State() economy.State {
	return *w.state.Load()
}

// ImportState resumes a previously exported session. The imported state is
// reconciled against the world's current catalog; buildings the session had
// already unlocked stay unlocked. Call before Run.
func (w *World) ImportState(s economy.State) error {
	if s.Session == "" {
		return fmt.Errorf("import state: empty session id")
	}
	if s.Currencies == nil || s.Materials == nil {
		return fmt.Errorf("import state: missing pools")
	}
	rules := w.cfg.Rules
	rules.PreserveUnlocks = true
	next := economy.Reconcile(s, w.defs, rules)
	next.CatalogDigest = w.digest
	w.state.Store(&next)
	w.publishMetrics()
	return nil
}

func (w *World) Rules() economy.Rules { return w.cfg.Rules }

// CatalogDigest is the digest of the catalog the current state was
// reconciled against.
func (w *World) CatalogDigest() string { return w.State().CatalogDigest }

func (w *World) logWarnings(cat catalogs.Snapshot) {
	for _, warn := range cat.Warnings {
		w.log.Printf("catalog %s: %s", cat.Source, warn)
	}
}

func newSessionID() string { return uuid.NewString() }
