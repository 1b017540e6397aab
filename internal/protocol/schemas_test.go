package protocol_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"outpost.ai/internal/protocol"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// asAny round-trips v through JSON so the validator sees plain maps.
func asAny(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateSamples(t *testing.T) {
	hello := compileSchema(t, "hello.schema.json")
	command := compileSchema(t, "command.schema.json")
	result := compileSchema(t, "result.schema.json")
	event := compileSchema(t, "event.schema.json")

	samples := []struct {
		name   string
		schema *jsonschema.Schema
		msg    any
	}{
		{"hello", hello, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "bot1", Events: true}},
		{"contribute", command, protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, ID: "c1", Command: protocol.CmdContribute, BuildingID: "habUnit", Resource: "money", Amount: 5}},
		{"reset", command, protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, ID: "c2", Command: protocol.CmdReset}},
		{"craft", command, protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, ID: "c3", Command: protocol.CmdCraftItem, BuildingID: "habUnit", Slot: 2}},
		{"result", result, protocol.ResultMsg{Type: protocol.TypeResult, Ref: "c1", OK: false, Code: protocol.ErrNoResource, Message: "no money available"}},
		{"event", event, protocol.EventMsg{Type: protocol.TypeEvent, Kind: "PRODUCTION", Session: "s1", Seq: 1, UnixMS: 1700000000000, BuildingID: "habUnit", Resource: "social", Amount: 6, Stability: 90}},
	}
	for _, tc := range samples {
		if err := tc.schema.Validate(asAny(t, tc.msg)); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
	}
}

func TestSchemas_RejectMalformed(t *testing.T) {
	command := compileSchema(t, "command.schema.json")

	bad := []string{
		`{"type":"COMMAND","protocol_version":"1.0","id":"x","command":"TELEPORT"}`,
		`{"type":"COMMAND","protocol_version":"1.0","id":"x","command":"CONTRIBUTE","building_id":"habUnit"}`,
		`{"type":"COMMAND","protocol_version":"1.0","id":"x","command":"LEVEL_UP"}`,
	}
	for _, raw := range bad {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := command.Validate(v); err == nil {
			t.Fatalf("expected validation error for %s", raw)
		}
	}
}

func TestSchemas_BundledCatalog(t *testing.T) {
	catalog := compileSchema(t, "catalog.schema.json")

	raw, err := os.ReadFile(filepath.Join("..", "..", "configs", "buildings.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := catalog.Validate(doc); err != nil {
		t.Fatalf("bundled catalog: %v", err)
	}

	var bad any
	_ = json.Unmarshal([]byte(`{"habUnit":{"name":"HAB","maxOccupancy":"six"}}`), &bad)
	if err := catalog.Validate(bad); err == nil {
		t.Fatalf("expected error for string maxOccupancy")
	}
}
