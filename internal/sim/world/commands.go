package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/economy"
)

// Command is one engine command as submitted by a client.
type Command struct {
	Name       string
	BuildingID string
	Resource   string
	Amount     int
	Slot       int
	// Source identifies the submitter for the audit log.
	Source string
}

type commandReq struct {
	Cmd  Command
	Resp chan economy.Result
}

var ErrStopped = errors.New("world stopped")

// Submit queues cmd for the world loop and waits for its result. A full inbox
// yields an E_ENGINE_BUSY result instead of blocking. If ctx ends after cmd
// was queued, the result carries E_OUTCOME_UNKNOWN alongside ctx.Err().
func (w *World) Submit(ctx context.Context, cmd Command) (economy.Result, error) {
	req := commandReq{Cmd: cmd, Resp: make(chan economy.Result, 1)}
	select {
	case w.inbox <- req:
	case <-ctx.Done():
		return economy.Result{}, ctx.Err()
	case <-w.stop:
		return economy.Result{}, ErrStopped
	default:
		return economy.Result{OK: false, Code: protocol.ErrEngineBusy, Message: "command queue full"}, nil
	}
	select {
	case res := <-req.Resp:
		return res, nil
	case <-ctx.Done():
		return economy.Result{OK: false, Code: protocol.ErrOutcomeUnknown, Message: "command queued, no reply yet"}, ctx.Err()
	case <-w.stop:
		return economy.Result{}, ErrStopped
	}
}

func (w *World) handleCommand(req commandReq) {
	res := w.applyCommand(req.Cmd)
	if req.Resp != nil {
		select {
		case req.Resp <- res:
		default:
		}
	}
}

// applyCommand runs cmd against the current state and commits the result.
func (w *World) applyCommand(cmd Command) economy.Result {
	w.commandsTotal++
	cur := w.State()

	var (
		next economy.State
		res  economy.Result
	)
	if cmd.Name == protocol.CmdReset {
		next, res = w.resetState()
	} else {
		next, res = w.dispatch(cur, cmd)
	}
	if !res.OK {
		w.commandsRejected++
		if res.Code == protocol.ErrUnknownBuilding {
			if s := suggest(cmd.BuildingID, cur.Buildings); s != "" {
				res.Message = fmt.Sprintf("%s (did you mean %q?)", res.Message, s)
			}
		}
	}
	w.recordCommand(next.Session, cmd, res)
	if res.OK {
		w.commit(next, res.Events)
	} else {
		w.publishMetrics()
	}
	return res
}

func (w *World) dispatch(s economy.State, cmd Command) (economy.State, economy.Result) {
	rules := w.cfg.Rules
	switch cmd.Name {
	case protocol.CmdAddOccupant:
		return economy.AddOccupant(s, cmd.BuildingID, rules)
	case protocol.CmdContribute:
		return economy.Contribute(s, cmd.BuildingID, economy.ResourceKey(cmd.Resource), cmd.Amount)
	case protocol.CmdCraftItem:
		return economy.CraftItem(s, cmd.BuildingID, cmd.Slot)
	case protocol.CmdLevelUp:
		return economy.LevelUp(s, cmd.BuildingID)
	case protocol.CmdUnlock:
		return economy.Unlock(s, cmd.BuildingID, rules)
	case protocol.CmdCollect:
		return economy.Collect(s, cmd.BuildingID)
	case protocol.CmdAdjustStability:
		return economy.AdjustStability(s, cmd.Amount)
	default:
		return s, economy.Result{OK: false, Code: protocol.ErrBadRequest, Message: fmt.Sprintf("unknown command %q", cmd.Name)}
	}
}

func (w *World) resetState() (economy.State, economy.Result) {
	w.resets++
	next := economy.NewState(newSessionID(), w.defs, w.cfg.Rules)
	next.CatalogDigest = w.digest
	return next, economy.Result{OK: true, Events: []economy.Event{{Kind: economy.EventReset, Stability: next.Stability}}}
}

func (w *World) recordCommand(session string, cmd Command, res economy.Result) {
	if len(w.commandLoggers) == 0 {
		return
	}
	rec := CommandRecord{
		Session:    session,
		UnixMS:     w.now().UnixMilli(),
		Source:     cmd.Source,
		Command:    cmd.Name,
		BuildingID: cmd.BuildingID,
		Resource:   cmd.Resource,
		Amount:     cmd.Amount,
		Slot:       cmd.Slot,
		OK:         res.OK,
		Code:       res.Code,
	}
	for _, l := range w.commandLoggers {
		if err := l.WriteCommand(rec); err != nil {
			w.log.Printf("command logger: %v", err)
		}
	}
}

// suggest returns the known id closest to id by edit distance, or "" when
// nothing is close enough.
func suggest(id string, buildings map[string]economy.Building) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	ids := make([]string, 0, len(buildings))
	for k := range buildings {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	best, bestDist := "", -1
	for _, k := range ids {
		d := levenshtein.ComputeDistance(strings.ToLower(id), strings.ToLower(k))
		if bestDist < 0 || d < bestDist {
			best, bestDist = k, d
		}
	}
	limit := len(id) / 3
	if limit < 2 {
		limit = 2
	}
	if bestDist < 0 || bestDist > limit {
		return ""
	}
	return best
}
