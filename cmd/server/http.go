package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"outpost.ai/internal/persistence/snapshot"
	"outpost.ai/internal/sim/world"
	"outpost.ai/internal/transport/ws"
)

type httpDeps struct {
	World       *world.World
	Index       runtimeIndex
	Logger      *log.Logger
	SnapshotDir string
	Limits      ws.Limits
	EnableAdmin bool
	EnablePprof bool
}

func newMux(d httpDeps) *http.ServeMux {
	w := d.World
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w.Metrics())
	})
	mux.HandleFunc("/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(world.StateMessage(w.State(), ""))
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(w, d.Logger, d.Limits).Handler())

	if d.EnableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				Session       string             `json:"session"`
				CatalogDigest string             `json:"catalog_digest"`
				Metrics       world.WorldMetrics `json:"metrics"`
			}{
				Session:       w.State().Session,
				CatalogDigest: w.CatalogDigest(),
				Metrics:       w.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			path, err := writeStateSnapshot(d.SnapshotDir, w, d.Index)
			if err != nil {
				rw.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "path": path})
		})
		mux.HandleFunc("/admin/v1/events", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			if d.Index == nil {
				http.Error(rw, "index disabled", http.StatusServiceUnavailable)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			rows, err := d.Index.RecentEvents(ctx, strings.TrimSpace(r.URL.Query().Get("building")), limit)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"events": rows})
		})
	} else if d.Logger != nil {
		d.Logger.Printf("admin endpoints disabled (OUTPOST_ENABLE_ADMIN_HTTP=false)")
	}
	if d.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// writeMetrics renders m in the Prometheus text exposition format.
func writeMetrics(rw http.ResponseWriter, m world.WorldMetrics) {
	collapsed := 0
	if m.Collapsed {
		collapsed = 1
	}
	fmt.Fprintf(rw, "# HELP outpost_stability Current settlement stability (0..100).\n")
	fmt.Fprintf(rw, "# TYPE outpost_stability gauge\n")
	fmt.Fprintf(rw, "outpost_stability{session=%q} %d\n", m.Session, m.Stability)

	fmt.Fprintf(rw, "# HELP outpost_collapsed Whether the session has collapsed.\n")
	fmt.Fprintf(rw, "# TYPE outpost_collapsed gauge\n")
	fmt.Fprintf(rw, "outpost_collapsed{session=%q} %d\n", m.Session, collapsed)

	fmt.Fprintf(rw, "# HELP outpost_buildings Building counts by state.\n")
	fmt.Fprintf(rw, "# TYPE outpost_buildings gauge\n")
	fmt.Fprintf(rw, "outpost_buildings{state=%q} %d\n", "total", m.Buildings)
	fmt.Fprintf(rw, "outpost_buildings{state=%q} %d\n", "unlocked", m.UnlockedBuildings)
	fmt.Fprintf(rw, "outpost_buildings{state=%q} %d\n", "producing", m.ProducingBuildings)

	fmt.Fprintf(rw, "# HELP outpost_occupants Total occupants across buildings.\n")
	fmt.Fprintf(rw, "# TYPE outpost_occupants gauge\n")
	fmt.Fprintf(rw, "outpost_occupants %d\n", m.Occupants)

	fmt.Fprintf(rw, "# HELP outpost_production_timers Running production timers.\n")
	fmt.Fprintf(rw, "# TYPE outpost_production_timers gauge\n")
	fmt.Fprintf(rw, "outpost_production_timers %d\n", m.ProductionTimers)

	fmt.Fprintf(rw, "# HELP outpost_commands_total Processed commands.\n")
	fmt.Fprintf(rw, "# TYPE outpost_commands_total counter\n")
	fmt.Fprintf(rw, "outpost_commands_total{result=%q} %d\n", "accepted", m.CommandsTotal-m.CommandsRejected)
	fmt.Fprintf(rw, "outpost_commands_total{result=%q} %d\n", "rejected", m.CommandsRejected)

	fmt.Fprintf(rw, "# HELP outpost_production_fires_total Production timer fires.\n")
	fmt.Fprintf(rw, "# TYPE outpost_production_fires_total counter\n")
	fmt.Fprintf(rw, "outpost_production_fires_total{result=%q} %d\n", "applied", m.ProductionFires)
	fmt.Fprintf(rw, "outpost_production_fires_total{result=%q} %d\n", "stale", m.StaleFires)

	fmt.Fprintf(rw, "# HELP outpost_catalog_reconciles_total Catalog snapshots applied.\n")
	fmt.Fprintf(rw, "# TYPE outpost_catalog_reconciles_total counter\n")
	fmt.Fprintf(rw, "outpost_catalog_reconciles_total %d\n", m.Reconciles)

	fmt.Fprintf(rw, "# HELP outpost_resets_total Session resets.\n")
	fmt.Fprintf(rw, "# TYPE outpost_resets_total counter\n")
	fmt.Fprintf(rw, "outpost_resets_total %d\n", m.Resets)

	fmt.Fprintf(rw, "# HELP outpost_events_total Events emitted and dropped for slow subscribers.\n")
	fmt.Fprintf(rw, "# TYPE outpost_events_total counter\n")
	fmt.Fprintf(rw, "outpost_events_total{result=%q} %d\n", "emitted", m.EventsEmitted)
	fmt.Fprintf(rw, "outpost_events_total{result=%q} %d\n", "dropped", m.EventsDropped)

	fmt.Fprintf(rw, "# HELP outpost_subscribers Connected event subscribers.\n")
	fmt.Fprintf(rw, "# TYPE outpost_subscribers gauge\n")
	fmt.Fprintf(rw, "outpost_subscribers %d\n", m.Subscribers)

	fmt.Fprintf(rw, "# HELP outpost_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE outpost_queue_depth gauge\n")
	fmt.Fprintf(rw, "outpost_queue_depth{queue=%q} %d\n", "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "outpost_queue_depth{queue=%q} %d\n", "fires", m.QueueDepths.Fires)
	fmt.Fprintf(rw, "outpost_queue_depth{queue=%q} %d\n", "catalog", m.QueueDepths.Catalog)
}

// writeStateSnapshot exports the current state to dir/<unix_ms>.snap.zst.
func writeStateSnapshot(dir string, w *world.World, idx runtimeIndex) (string, error) {
	now := time.Now().UnixMilli()
	snap := snapshot.FromState(w.State(), now)
	path := filepath.Join(dir, fmt.Sprintf("%d.snap.zst", now))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	if idx != nil {
		idx.RecordSnapshot(path, snap)
	}
	return path, nil
}

func latestSnapshot(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		if _, err := strconv.ParseInt(strings.TrimSuffix(e.Name(), ".snap.zst"), 10, 64); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return ""
	}
	sort.Slice(names, func(i, j int) bool {
		a, _ := strconv.ParseInt(strings.TrimSuffix(names[i], ".snap.zst"), 10, 64)
		b, _ := strconv.ParseInt(strings.TrimSuffix(names[j], ".snap.zst"), 10, 64)
		return a < b
	})
	return filepath.Join(dir, names[len(names)-1])
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
