package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	persistlog "outpost.ai/internal/persistence/log"
	"outpost.ai/internal/persistence/snapshot"
	"outpost.ai/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "recent":
			recentCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	for _, sub := range []string{"snapshots", "events", "commands", "index"} {
		entries, err := os.ReadDir(filepath.Join(*dataDir, sub))
		if err != nil {
			continue
		}
		for _, e := range entries {
			fmt.Println(filepath.Join(sub, e.Name()))
		}
	}
}

type buildingSummary struct {
	ID          string         `json:"id"`
	Category    string         `json:"category"`
	Level       int            `json:"level"`
	Occupancy   int            `json:"occupancy"`
	Locked      bool           `json:"locked"`
	ProgressPct int            `json:"upgrade_progress_pct"`
	Accumulated map[string]int `json:"accumulated,omitempty"`
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "state export path (optional; defaults to latest)")
	full := fs.Bool("full", false, "print the whole export instead of a summary")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = latestSnapshot(filepath.Join(*dataDir, "snapshots"))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or POST /admin/v1/snapshot first")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	if *full {
		printJSON(snap)
		return
	}

	out := struct {
		Path       string            `json:"path"`
		Header     snapshot.Header   `json:"header"`
		Stability  int               `json:"stability"`
		Collapsed  bool              `json:"collapsed"`
		Currencies map[string]int    `json:"currencies"`
		Materials  map[string]int    `json:"materials"`
		Buildings  []buildingSummary `json:"buildings"`
	}{
		Path:       path,
		Header:     snap.Header,
		Stability:  snap.Stability,
		Collapsed:  snap.Collapsed,
		Currencies: snap.Currencies,
		Materials:  snap.Materials,
	}
	for _, b := range snap.Buildings {
		out.Buildings = append(out.Buildings, buildingSummary{
			ID:          b.ID,
			Category:    b.Category,
			Level:       b.Level,
			Occupancy:   b.Occupancy,
			Locked:      b.Locked,
			ProgressPct: b.UpgradeProgressPct,
			Accumulated: b.Accumulated,
		})
	}
	printJSON(out)
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "", "event kind filter (e.g. PRODUCTION, COLLAPSE)")
	building := fs.String("building", "", "building id filter")
	session := fs.String("session", "", "session id filter")
	limit := fs.Int("limit", 0, "print at most the last N matching events (0 = all)")
	_ = fs.Parse(args)

	evs, err := readEvents(filepath.Join(*dataDir, "events"), eventFilter{
		Kind:     strings.ToUpper(strings.TrimSpace(*kind)),
		Building: strings.TrimSpace(*building),
		Session:  strings.TrimSpace(*session),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
	if *limit > 0 && len(evs) > *limit {
		evs = evs[len(evs)-*limit:]
	}
	for _, ev := range evs {
		printJSON(ev)
	}
}

type eventFilter struct {
	Kind     string
	Building string
	Session  string
}

func (f eventFilter) match(ev world.Event) bool {
	if f.Kind != "" && string(ev.Kind) != f.Kind {
		return false
	}
	if f.Building != "" && ev.BuildingID != f.Building {
		return false
	}
	if f.Session != "" && ev.Session != f.Session {
		return false
	}
	return true
}

// readEvents loads every logged event under dir matching f, ordered by
// time, then sequence number.
func readEvents(dir string, f eventFilter) ([]world.Event, error) {
	files, err := persistlog.Files(dir, "events")
	if err != nil {
		return nil, err
	}
	var out []world.Event
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(line []byte) error {
			var ev world.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			if f.match(ev) {
				out = append(out, ev)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UnixMS != out[j].UnixMS {
			return out[i].UnixMS < out[j].UnixMS
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func latestSnapshot(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestMS int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		ms, err := strconv.ParseInt(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || ms > bestMS {
			bestMS = ms
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
