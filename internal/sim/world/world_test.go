package world

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/catalogs"
	"outpost.ai/internal/sim/economy"
)

const never = 3600 * 1000

func testCatalog(intervalMs int) catalogs.Snapshot {
	return catalogs.Snapshot{
		Digest: "digest-1",
		Source: "test",
		Defs: map[string]economy.Definition{
			"habUnit": {
				ID: "habUnit", Name: "HAB UNIT", MaxOccupancy: 6,
				UpgradeRequirements: map[economy.ResourceKey]int{economy.Social: 10, economy.Money: 10},
				Emissions:           map[economy.ResourceKey]economy.Emission{economy.Social: {BaseAmount: 1, IntervalMs: intervalMs}},
			},
			"mine": {
				ID: "mine", Name: "MINE", MaxOccupancy: 4, Locked: true,
				Emissions: map[economy.ResourceKey]economy.Emission{economy.Materials: {BaseAmount: 2}},
				UnlockCondition: &economy.UnlockCondition{
					Buildings: map[string]economy.BuildingLevel{"habUnit": {Level: 2}},
				},
			},
		},
	}
}

func newTestWorld(t *testing.T, rules economy.Rules, cat catalogs.Snapshot) *World {
	t.Helper()
	w := New(WorldConfig{Rules: rules}, cat, log.New(io.Discard, "", 0))
	t.Cleanup(w.sched.StopAll)
	return w
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) WriteEvent(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) kinds() []economy.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]economy.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type commandRecorder struct{ recs []CommandRecord }

func (r *commandRecorder) WriteCommand(rec CommandRecord) error {
	r.recs = append(r.recs, rec)
	return nil
}

func TestWorld_OccupantStartsProductionTimer(t *testing.T) {
	rules := economy.DefaultRules()
	rules.StartingCurrencies = map[economy.ResourceKey]int{economy.Social: 100}
	w := newTestWorld(t, rules, testCatalog(never))
	if w.sched.Running() != 0 {
		t.Fatalf("no timers expected before occupants, got %d", w.sched.Running())
	}

	res := w.applyCommand(Command{Name: protocol.CmdAddOccupant, BuildingID: "habUnit"})
	if !res.OK {
		t.Fatalf("add occupant: %+v", res)
	}
	keys := w.sched.Keys()
	if len(keys) != 1 {
		t.Fatalf("timers=%v", keys)
	}
	want := economy.ProductionKey{BuildingID: "habUnit", Resource: economy.Social, IntervalMs: never, BaseAmount: 1}
	if keys[0] != want {
		t.Fatalf("key=%+v want %+v", keys[0], want)
	}

	// A second occupant leaves the timer set unchanged.
	gen := w.sched.running[want].gen
	w.applyCommand(Command{Name: protocol.CmdAddOccupant, BuildingID: "habUnit"})
	if w.sched.running[want].gen != gen {
		t.Fatalf("timer restarted on unrelated change")
	}

	w.handleFire(fire{Key: want, Gen: gen})
	if got := w.State().Buildings["habUnit"].Accumulated[economy.Social]; got != 2 {
		t.Fatalf("accumulated=%d want 2", got)
	}
	if got := w.State().Currencies[economy.Social]; got != 80 {
		t.Fatalf("social=%d, production must not credit pools directly", got)
	}
}

func TestWorld_StaleFiresDropped(t *testing.T) {
	w := newTestWorld(t, economy.DefaultRules(), testCatalog(never))
	w.applyCommand(Command{Name: protocol.CmdAddOccupant, BuildingID: "habUnit"})
	oldKey := w.sched.Keys()[0]
	oldFire := fire{Key: oldKey, Gen: w.sched.running[oldKey].gen}

	// Changing the interval replaces the handle.
	w.handleCatalog(catalogReq{Snap: testCatalog(never - 1)})
	if w.sched.Current(oldFire) {
		t.Fatalf("old handle should be gone")
	}
	w.handleFire(oldFire)
	if n := len(w.State().Buildings["habUnit"].Accumulated); n != 0 {
		t.Fatalf("stale fire produced output")
	}
	if w.Metrics().StaleFires != 1 {
		t.Fatalf("stale fires=%d", w.Metrics().StaleFires)
	}

	newKey := w.sched.Keys()[0]
	w.handleFire(fire{Key: newKey, Gen: w.sched.running[newKey].gen - 1})
	if w.Metrics().StaleFires != 2 {
		t.Fatalf("outdated generation should be dropped")
	}
}

func TestWorld_CatalogReconcile(t *testing.T) {
	w := newTestWorld(t, economy.DefaultRules(), testCatalog(never))
	rec := &eventRecorder{}
	w.AddEventLogger(rec)
	w.applyCommand(Command{Name: protocol.CmdAddOccupant, BuildingID: "habUnit"})

	cat := testCatalog(never)
	cat.Digest = "digest-2"
	delete(cat.Defs, "mine")
	hab := cat.Defs["habUnit"]
	hab.MaxOccupancy = 8
	cat.Defs["habUnit"] = hab
	w.handleCatalog(catalogReq{Snap: cat})

	s := w.State()
	if s.CatalogDigest != "digest-2" {
		t.Fatalf("digest=%s", s.CatalogDigest)
	}
	if _, ok := s.Buildings["mine"]; ok {
		t.Fatalf("mine should be dropped")
	}
	if b := s.Buildings["habUnit"]; b.Occupancy != 1 || b.MaxOccupancy != 8 {
		t.Fatalf("habUnit=%+v", b)
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != economy.EventCatalogReconciled {
		t.Fatalf("events=%v", kinds)
	}
}

type catalogLog struct{ digests []string }

func (c *catalogLog) RecordCatalog(snap catalogs.Snapshot) { c.digests = append(c.digests, snap.Digest) }

func TestWorld_CatalogRecorderSeesAppliedCatalog(t *testing.T) {
	w := newTestWorld(t, economy.DefaultRules(), testCatalog(never))
	rec := &catalogLog{}
	w.AddCatalogRecorder(rec)

	cat := testCatalog(never)
	cat.Digest = "digest-2"
	cat.Raw = []byte(`{}`)
	w.handleCatalog(catalogReq{Snap: cat})

	if len(rec.digests) != 1 || rec.digests[0] != "digest-2" {
		t.Fatalf("recorded=%v", rec.digests)
	}
}

func TestWorld_DecayCollapseAndReset(t *testing.T) {
	rules := economy.DefaultRules()
	rules.StartingStability = 2
	w := newTestWorld(t, rules, testCatalog(never))
	id, sub := w.Subscribe(16)
	defer w.Unsubscribe(id)

	w.applyCommand(Command{Name: protocol.CmdAddOccupant, BuildingID: "habUnit"})
	if w.sched.Running() != 1 {
		t.Fatalf("timers=%d", w.sched.Running())
	}
	session := w.State().Session

	w.handleDecay()
	w.handleDecay()
	s := w.State()
	if !s.Collapsed || s.Stability != 0 {
		t.Fatalf("state=%+v", s)
	}
	if w.sched.Running() != 0 {
		t.Fatalf("production should stop on collapse")
	}
	select {
	case ev := <-sub:
		if ev.Kind != economy.EventCollapse || ev.Session != session {
			t.Fatalf("event=%+v", ev)
		}
	default:
		t.Fatalf("no collapse event delivered")
	}

	w.handleDecay()
	if w.State().Stability != 0 {
		t.Fatalf("decay below zero")
	}

	res := w.applyCommand(Command{Name: protocol.CmdCollect, BuildingID: "habUnit"})
	if res.Code != protocol.ErrCollapsed {
		t.Fatalf("res=%+v", res)
	}

	res = w.applyCommand(Command{Name: protocol.CmdReset})
	if !res.OK {
		t.Fatalf("reset: %+v", res)
	}
	s = w.State()
	if s.Collapsed || s.Stability != 2 || s.Session == session {
		t.Fatalf("reset state=%+v", s)
	}
	if s.CatalogDigest != "digest-1" || s.Buildings["habUnit"].Occupancy != 0 {
		t.Fatalf("reset should rebuild from the catalog: %+v", s.Buildings["habUnit"])
	}
}

func TestWorld_UnknownBuildingSuggestion(t *testing.T) {
	w := newTestWorld(t, economy.DefaultRules(), testCatalog(never))
	cmds := &commandRecorder{}
	w.AddCommandLogger(cmds)

	res := w.applyCommand(Command{Name: protocol.CmdAddOccupant, BuildingID: "habunit", Source: "c1"})
	if res.OK || res.Code != protocol.ErrUnknownBuilding {
		t.Fatalf("res=%+v", res)
	}
	if !strings.Contains(res.Message, `did you mean "habUnit"`) {
		t.Fatalf("message=%q", res.Message)
	}

	res = w.applyCommand(Command{Name: protocol.CmdAddOccupant, BuildingID: "spaceport"})
	if strings.Contains(res.Message, "did you mean") {
		t.Fatalf("unexpected suggestion: %q", res.Message)
	}

	res = w.applyCommand(Command{Name: "TELEPORT"})
	if res.Code != protocol.ErrBadRequest {
		t.Fatalf("res=%+v", res)
	}

	if len(cmds.recs) != 3 || cmds.recs[0].Source != "c1" || cmds.recs[0].Code != protocol.ErrUnknownBuilding {
		t.Fatalf("records=%+v", cmds.recs)
	}
	m := w.Metrics()
	if m.CommandsTotal != 3 || m.CommandsRejected != 3 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestWorld_UnlockFlow(t *testing.T) {
	w := newTestWorld(t, economy.DefaultRules(), testCatalog(never))
	rec := &eventRecorder{}
	w.AddEventLogger(rec)

	if res := w.applyCommand(Command{Name: protocol.CmdUnlock, BuildingID: "mine"}); res.Code != protocol.ErrUnlockUnmet {
		t.Fatalf("res=%+v", res)
	}

	// Fund and level habUnit to 2.
	adj := w.State()
	adj.Currencies = adj.Currencies.Clone()
	adj.Currencies[economy.Social] = 100
	adj.Currencies[economy.Money] = 100
	w.commit(adj, nil)
	steps := []Command{
		{Name: protocol.CmdAddOccupant, BuildingID: "habUnit"},
		{Name: protocol.CmdContribute, BuildingID: "habUnit", Resource: "social", Amount: 10},
		{Name: protocol.CmdContribute, BuildingID: "habUnit", Resource: "money", Amount: 10},
		{Name: protocol.CmdLevelUp, BuildingID: "habUnit"},
		{Name: protocol.CmdUnlock, BuildingID: "mine"},
	}
	for _, c := range steps {
		if res := w.applyCommand(c); !res.OK {
			t.Fatalf("%s: %+v", c.Name, res)
		}
	}
	if w.State().Buildings["mine"].Locked {
		t.Fatalf("mine still locked")
	}
	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != economy.EventLevelUp || kinds[1] != economy.EventUnlock {
		t.Fatalf("events=%v", kinds)
	}
	if rec.events[1].Seq != rec.events[0].Seq+1 {
		t.Fatalf("sequence numbers not contiguous: %+v", rec.events)
	}
}

func TestWorld_SubmitBusy(t *testing.T) {
	w := New(WorldConfig{Rules: economy.DefaultRules(), InboxSize: 1}, testCatalog(never), log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// Queued but never answered: the outcome is unknown, not busy.
	res, err := w.Submit(ctx, Command{Name: protocol.CmdCollect, BuildingID: "habUnit"})
	if !errors.Is(err, context.DeadlineExceeded) || res.Code != protocol.ErrOutcomeUnknown {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	res, err = w.Submit(context.Background(), Command{Name: protocol.CmdCollect, BuildingID: "habUnit"})
	if err != nil || res.Code != protocol.ErrEngineBusy {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestWorld_RunProducesAndCollects(t *testing.T) {
	w := New(WorldConfig{Rules: economy.DefaultRules()}, testCatalog(5), log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	res, err := w.Submit(ctx, Command{Name: protocol.CmdAddOccupant, BuildingID: "habUnit"})
	if err != nil || !res.OK {
		t.Fatalf("add occupant: %+v %v", res, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.State().Buildings["habUnit"].Accumulated[economy.Social] == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no production within deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	before := w.State().Currencies[economy.Social]
	res, err = w.Submit(ctx, Command{Name: protocol.CmdCollect, BuildingID: "habUnit"})
	if err != nil || !res.OK {
		t.Fatalf("collect: %+v %v", res, err)
	}
	if w.State().Currencies[economy.Social] <= before {
		t.Fatalf("collect did not credit social")
	}
	if w.Metrics().ProductionFires == 0 {
		t.Fatalf("metrics not updated")
	}
}

type stubProvider struct {
	mu   sync.Mutex
	snap catalogs.Snapshot
	hits int
}

func (p *stubProvider) Fetch(ctx context.Context) (catalogs.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hits++
	return p.snap, nil
}

func TestWorld_RefreshSkipsUnchangedDigest(t *testing.T) {
	w := New(WorldConfig{Rules: economy.DefaultRules()}, testCatalog(never), log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	p := &stubProvider{snap: testCatalog(never)}
	w.refreshOnce(ctx, p)
	if w.Metrics().Reconciles != 0 {
		t.Fatalf("same digest should not reconcile")
	}

	next := testCatalog(never)
	next.Digest = "digest-2"
	p.mu.Lock()
	p.snap = next
	p.mu.Unlock()
	w.refreshOnce(ctx, p)
	if w.Metrics().Reconciles != 1 || w.CatalogDigest() != "digest-2" {
		t.Fatalf("metrics=%+v digest=%s", w.Metrics(), w.CatalogDigest())
	}
}

func TestStateMessage(t *testing.T) {
	w := newTestWorld(t, economy.DefaultRules(), testCatalog(never))
	msg := StateMessage(w.State(), "q1")
	if msg.Type != protocol.TypeState || msg.Ref != "q1" || len(msg.Buildings) != 2 {
		t.Fatalf("msg=%+v", msg)
	}
	if msg.Buildings[0].ID != "habUnit" || msg.Buildings[1].ID != "mine" {
		t.Fatalf("order=%s,%s", msg.Buildings[0].ID, msg.Buildings[1].ID)
	}
	if msg.Currencies["social"] != 10 || len(msg.Buildings[0].Items) != economy.DefaultItemSlots {
		t.Fatalf("msg=%+v", msg)
	}
	if msg.Buildings[1].CanUnlock {
		t.Fatalf("mine should not be unlockable yet")
	}
}

func TestWorld_ImportStateKeepsUnlocks(t *testing.T) {
	w := newTestWorld(t, economy.DefaultRules(), testCatalog(never))

	prev := w.State()
	prev.Session = "resumed"
	prev.Buildings = map[string]economy.Building{}
	for id, b := range w.State().Buildings {
		prev.Buildings[id] = b
	}
	mine := prev.Buildings["mine"].Clone()
	mine.Locked = false
	mine.Occupancy = 2
	prev.Buildings["mine"] = mine

	if err := w.ImportState(prev); err != nil {
		t.Fatalf("import: %v", err)
	}
	got := w.State()
	if got.Session != "resumed" || got.CatalogDigest != "digest-1" {
		t.Fatalf("session=%s digest=%s", got.Session, got.CatalogDigest)
	}
	if got.Buildings["mine"].Locked || got.Buildings["mine"].Occupancy != 2 {
		t.Fatalf("mine=%+v", got.Buildings["mine"])
	}
	if w.Metrics().Occupants != 2 {
		t.Fatalf("metrics=%+v", w.Metrics())
	}

	if err := w.ImportState(economy.State{}); err == nil {
		t.Fatalf("expected error for empty state")
	}
}
