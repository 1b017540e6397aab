package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "outpost.ai/internal/persistence/log"
	"outpost.ai/internal/persistence/snapshot"
	"outpost.ai/internal/sim/catalogs"
	"outpost.ai/internal/sim/tuning"
	"outpost.ai/internal/sim/world"
	"outpost.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		schemaDir  = flag.String("schemas", "./schemas", "json schema directory (empty to skip catalog validation)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		catalogURL = flag.String("catalog_url", "", "catalog service base url (empty: bundled catalog only)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event/command index")

		snapPath      = flag.String("snapshot", "", "path to a state export to resume (optional)")
		loadLatest    = flag.Bool("load_latest_snapshot", false, "resume the latest export in the data dir when -snapshot is empty")
		snapshotEvery = flag.Duration("snapshot_every", 0, "periodic state export interval (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	bundledPath := filepath.Join(*configDir, "buildings.json")
	bundled := &catalogs.FileProvider{Path: bundledPath}
	if sd := strings.TrimSpace(*schemaDir); sd != "" {
		schema, err := catalogs.CompileSchema(filepath.Join(sd, "catalog.schema.json"))
		if err != nil {
			logger.Fatalf("catalog schema: %v", err)
		}
		bundled.Schema = schema
	}
	provider := catalogs.Provider(bundled)
	if u := strings.TrimSpace(*catalogURL); u != "" {
		hp, err := catalogs.NewHTTPProvider(u)
		if err != nil {
			logger.Fatalf("catalog url: %v", err)
		}
		provider = &catalogs.FallbackProvider{
			Primary: hp,
			Bundled: bundled,
			Logger:  log.New(os.Stdout, "[catalog] ", log.LstdFlags),
		}
		logger.Printf("catalog service: %s", hp.Endpoint())
	}

	ctx, cancel := signalContext()
	defer cancel()

	fctx, fcancel := context.WithTimeout(ctx, 30*time.Second)
	cat, err := provider.Fetch(fctx)
	fcancel()
	if err != nil {
		logger.Fatalf("load catalog: %v", err)
	}

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalog("buildings", cat.Digest, cat.Raw); err != nil {
			logger.Printf("index backend: upsert catalog: %v", err)
		}
	}

	w := world.New(world.WorldConfig{
		Rules:       tune.Rules(),
		DecayPeriod: tune.DecayPeriod(),
	}, cat, log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))

	snapDir := filepath.Join(*dataDir, "snapshots")
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(snapDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if err := w.ImportState(snap.ToState()); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed session=%s from %s", snap.Header.Session, filepath.Base(snapshotToLoad))
	}

	eventLog := persistlog.NewEventLogger(*dataDir)
	commandLog := persistlog.NewCommandLogger(*dataDir)
	defer eventLog.Close()
	defer commandLog.Close()
	w.AddEventLogger(eventLog)
	w.AddCommandLogger(commandLog)
	if idx != nil {
		w.AddEventLogger(idx)
		w.AddCommandLogger(idx)
		w.AddCatalogRecorder(idx)
	}

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()
	go w.RefreshCatalog(ctx, provider, tune.RefreshPeriod())

	if *snapshotEvery > 0 {
		go func() {
			t := time.NewTicker(*snapshotEvery)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if _, err := writeStateSnapshot(snapDir, w, idx); err != nil {
						logger.Printf("snapshot write: %v", err)
					}
				}
			}
		}()
	}

	mux := newMux(httpDeps{
		World:       w,
		Index:       idx,
		Logger:      logger,
		SnapshotDir: snapDir,
		Limits: ws.Limits{
			CommandsPerSec: tune.RateLimits.CommandsPerSec,
			Burst:          tune.RateLimits.Burst,
		},
		EnableAdmin: envBool("OUTPOST_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		EnablePprof: envBool("OUTPOST_ENABLE_PPROF_HTTP", false),
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (session=%s buildings=%d)", *addr, w.State().Session, len(w.State().Buildings))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
