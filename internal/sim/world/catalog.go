package world

import (
	"context"
	"errors"
	"time"

	"outpost.ai/internal/sim/catalogs"
	"outpost.ai/internal/sim/economy"
)

type catalogReq struct {
	Snap catalogs.Snapshot
	Resp chan struct{}
}

// ApplyCatalog hands snap to the world loop, which reconciles the current
// state against it. It returns once the new state is published.
func (w *World) ApplyCatalog(ctx context.Context, snap catalogs.Snapshot) error {
	if snap.Defs == nil {
		return errors.New("empty catalog snapshot")
	}
	req := catalogReq{Snap: snap, Resp: make(chan struct{}, 1)}
	select {
	case w.catalog <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stop:
		return ErrStopped
	}
	select {
	case <-req.Resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stop:
		return ErrStopped
	}
}

func (w *World) handleCatalog(req catalogReq) {
	defer func() {
		if req.Resp != nil {
			select {
			case req.Resp <- struct{}{}:
			default:
			}
		}
	}()
	w.logWarnings(req.Snap)

	w.defs = req.Snap.Defs
	w.digest = req.Snap.Digest
	w.reconciles++

	next := economy.Reconcile(w.State(), w.defs, w.cfg.Rules)
	next.CatalogDigest = w.digest
	w.log.Printf("catalog %s reconciled: %d buildings digest=%.12s", req.Snap.Source, len(next.Buildings), w.digest)
	for _, r := range w.catalogRecorder {
		r.RecordCatalog(req.Snap)
	}
	w.commit(next, []economy.Event{{Kind: economy.EventCatalogReconciled, Amount: len(next.Buildings), Stability: next.Stability}})
}

// RefreshCatalog polls p every period and applies snapshots whose digest
// differs from the current one. It returns when ctx is done.
func (w *World) RefreshCatalog(ctx context.Context, p catalogs.Provider, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-t.C:
			w.refreshOnce(ctx, p)
		}
	}
}

func (w *World) refreshOnce(ctx context.Context, p catalogs.Provider) {
	fctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	snap, err := p.Fetch(fctx)
	if err != nil {
		w.log.Printf("catalog refresh: %v", err)
		return
	}
	if snap.Digest == w.CatalogDigest() {
		return
	}
	if err := w.ApplyCatalog(ctx, snap); err != nil && !errors.Is(err, context.Canceled) {
		w.log.Printf("catalog apply: %v", err)
	}
}
