package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/catalogs"
	"outpost.ai/internal/sim/economy"
	"outpost.ai/internal/sim/world"
)

func startServer(t *testing.T, limits Limits) (*world.World, string) {
	t.Helper()
	cat := catalogs.Snapshot{
		Digest: "d1",
		Defs: map[string]economy.Definition{
			"habUnit": {
				ID: "habUnit", Name: "HAB UNIT", MaxOccupancy: 6,
				UpgradeRequirements: map[economy.ResourceKey]int{economy.Social: 10},
				Emissions:           map[economy.ResourceKey]economy.Emission{economy.Social: {BaseAmount: 1, IntervalMs: 3600 * 1000}},
			},
		},
	}
	logger := log.New(io.Discard, "", 0)
	w := world.New(world.WorldConfig{Rules: economy.DefaultRules()}, cat, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	srv := httptest.NewServer(NewServer(w, logger, limits).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return w, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, hello protocol.HelloMsg) (*websocket.Conn, protocol.WelcomeMsg) {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	hello.Type = protocol.TypeHello
	if hello.ProtocolVersion == "" {
		hello.ProtocolVersion = protocol.Version
	}
	if err := c.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	readJSON(t, c, &welcome)
	return c, welcome
}

func readJSON(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func command(id, name, building string) protocol.CommandMsg {
	return protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		ID:              id,
		Command:         name,
		BuildingID:      building,
	}
}

func TestServer_HelloCommandQuery(t *testing.T) {
	w, url := startServer(t, Limits{})
	c, welcome := dial(t, url, protocol.HelloMsg{ClientName: "test"})

	if welcome.Type != protocol.TypeWelcome || welcome.ConnectionID == "" {
		t.Fatalf("welcome=%+v", welcome)
	}
	if welcome.SessionID != w.State().Session || welcome.CatalogDigest != "d1" || welcome.Buildings != 1 {
		t.Fatalf("welcome=%+v", welcome)
	}

	if err := c.WriteJSON(command("c1", protocol.CmdAddOccupant, "habUnit")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var res protocol.ResultMsg
	readJSON(t, c, &res)
	if res.Type != protocol.TypeResult || res.Ref != "c1" || !res.OK {
		t.Fatalf("result=%+v", res)
	}

	if err := c.WriteJSON(command("c2", protocol.CmdAddOccupant, "habUnt")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readJSON(t, c, &res)
	if res.OK || res.Code != protocol.ErrUnknownBuilding || !strings.Contains(res.Message, "habUnit") {
		t.Fatalf("result=%+v", res)
	}

	if err := c.WriteJSON(protocol.QueryMsg{Type: protocol.TypeQuery, ProtocolVersion: protocol.Version, ID: "q1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var st protocol.StateMsg
	readJSON(t, c, &st)
	if st.Type != protocol.TypeState || st.Ref != "q1" || len(st.Buildings) != 1 || st.Buildings[0].Occupancy != 1 {
		t.Fatalf("state=%+v", st)
	}
	if st.Currencies["social"] != 0 {
		t.Fatalf("social=%d, want occupant cost deducted", st.Currencies["social"])
	}
}

func TestServer_RejectsBadVersionAndType(t *testing.T) {
	_, url := startServer(t, Limits{})
	c, _ := dial(t, url, protocol.HelloMsg{})

	msg := command("c1", protocol.CmdCollect, "habUnit")
	msg.ProtocolVersion = "0.1"
	if err := c.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	var res protocol.ResultMsg
	readJSON(t, c, &res)
	if res.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("result=%+v", res)
	}

	if err := c.WriteJSON(map[string]string{"type": "PING", "protocol_version": protocol.Version}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readJSON(t, c, &res)
	if res.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("result=%+v", res)
	}
}

func TestServer_HandshakeRequiresHello(t *testing.T) {
	_, url := startServer(t, Limits{})
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.WriteJSON(command("c1", protocol.CmdCollect, "habUnit")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Fatalf("expected close after non-HELLO first message")
	}
}

func TestServer_RateLimit(t *testing.T) {
	_, url := startServer(t, Limits{CommandsPerSec: 0.001, Burst: 1})
	c, _ := dial(t, url, protocol.HelloMsg{})

	var res protocol.ResultMsg
	if err := c.WriteJSON(command("c1", protocol.CmdCollect, "habUnit")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readJSON(t, c, &res)
	if !res.OK {
		t.Fatalf("first command should pass: %+v", res)
	}
	if err := c.WriteJSON(command("c2", protocol.CmdCollect, "habUnit")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readJSON(t, c, &res)
	if res.OK || res.Code != protocol.ErrRateLimit || res.Ref != "c2" {
		t.Fatalf("result=%+v", res)
	}
}

func TestServer_EventStream(t *testing.T) {
	_, url := startServer(t, Limits{})
	c, _ := dial(t, url, protocol.HelloMsg{Events: true})

	if err := c.WriteJSON(command("r1", protocol.CmdReset, "")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var sawResult, sawEvent bool
	for i := 0; i < 2; i++ {
		var m map[string]any
		readJSON(t, c, &m)
		switch m["type"] {
		case protocol.TypeResult:
			sawResult = m["ok"] == true
		case protocol.TypeEvent:
			sawEvent = m["kind"] == string(economy.EventReset)
		}
	}
	if !sawResult || !sawEvent {
		t.Fatalf("result=%v event=%v", sawResult, sawEvent)
	}
}

func TestServer_TimedOutCommandReportsUnknownOutcome(t *testing.T) {
	cat := catalogs.Snapshot{
		Digest: "d1",
		Defs:   map[string]economy.Definition{"habUnit": {ID: "habUnit", Name: "HAB UNIT"}},
	}
	logger := log.New(io.Discard, "", 0)
	// The world loop is never started, so queued commands get no reply.
	w := world.New(world.WorldConfig{Rules: economy.DefaultRules()}, cat, logger)
	srv := httptest.NewServer(NewServer(w, logger, Limits{SubmitTimeout: 50 * time.Millisecond}).Handler())
	t.Cleanup(srv.Close)

	c, _ := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"), protocol.HelloMsg{ClientName: "t"})
	cmd := protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, ID: "c1", Command: protocol.CmdAddOccupant, BuildingID: "habUnit"}
	if err := c.WriteJSON(cmd); err != nil {
		t.Fatalf("write: %v", err)
	}
	var res protocol.ResultMsg
	readJSON(t, c, &res)
	if res.OK || res.Ref != "c1" || res.Code != protocol.ErrOutcomeUnknown {
		t.Fatalf("result=%+v", res)
	}
}
