package main

import (
	"os"
	"path/filepath"
	"testing"

	persistlog "outpost.ai/internal/persistence/log"
	"outpost.ai/internal/sim/economy"
	"outpost.ai/internal/sim/world"
)

func TestReadEvents_FiltersAndOrders(t *testing.T) {
	dataDir := t.TempDir()
	l := persistlog.NewEventLogger(dataDir)
	evs := []world.Event{
		{Event: economy.Event{Kind: economy.EventProduction, BuildingID: "mine"}, Session: "s1", Seq: 2, UnixMS: 20},
		{Event: economy.Event{Kind: economy.EventProduction, BuildingID: "habUnit"}, Session: "s1", Seq: 1, UnixMS: 10},
		{Event: economy.Event{Kind: economy.EventCollapse}, Session: "s1", Seq: 3, UnixMS: 30},
		{Event: economy.Event{Kind: economy.EventReset}, Session: "s2", Seq: 4, UnixMS: 40},
	}
	for _, ev := range evs {
		if err := l.WriteEvent(ev); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	dir := filepath.Join(dataDir, "events")
	all, err := readEvents(dir, eventFilter{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(all) != 4 || all[0].Seq != 1 || all[3].Seq != 4 {
		t.Fatalf("events=%+v", all)
	}

	prod, err := readEvents(dir, eventFilter{Kind: "PRODUCTION"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(prod) != 2 || prod[0].BuildingID != "habUnit" {
		t.Fatalf("production=%+v", prod)
	}

	s2, err := readEvents(dir, eventFilter{Session: "s2"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(s2) != 1 || s2[0].Kind != economy.EventReset {
		t.Fatalf("session s2=%+v", s2)
	}
}

func TestLatestSnapshot_PicksNewest(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"5.snap.zst", "40.snap.zst", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got := filepath.Base(latestSnapshot(dir)); got != "40.snap.zst" {
		t.Fatalf("latest=%s", got)
	}
}
