// Package catalogs loads building catalogs from the bundled file or the
// remote catalog service and decodes them into economy definitions.
package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"outpost.ai/internal/sim/economy"
)

// Building categories used by the catalog service.
const (
	CategoryWellbeing  = "wellbeing"
	CategoryResources  = "resources"
	CategoryProcessing = "processing"
	CategoryOthers     = "others"
)

// Snapshot is one decoded catalog. Defs is never mutated after construction.
type Snapshot struct {
	Defs     map[string]economy.Definition
	Digest   string
	Source   string
	Warnings []DecodeWarning
	// Raw is the document the snapshot was decoded from.
	Raw []byte
}

// Categories groups building ids by category, each list sorted.
func (s Snapshot) Categories() map[string][]string {
	out := map[string][]string{}
	for id, d := range s.Defs {
		out[d.Category] = append(out[d.Category], id)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}

// IDs returns every building id in sorted order.
func (s Snapshot) IDs() []string {
	out := make([]string, 0, len(s.Defs))
	for id := range s.Defs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Parse decodes raw into a Snapshot. When schema is non-nil the document is
// validated first and a violation fails the whole document.
func Parse(raw []byte, source string, schema *jsonschema.Schema) (Snapshot, error) {
	if schema != nil {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Snapshot{}, fmt.Errorf("%s: %w", source, err)
		}
		if err := schema.Validate(doc); err != nil {
			return Snapshot{}, fmt.Errorf("%s: %w", source, err)
		}
	}
	defs, warnings, err := Decode(raw)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", source, err)
	}
	return Snapshot{Defs: defs, Digest: sha256Hex(raw), Source: source, Warnings: warnings, Raw: raw}, nil
}

// Load reads and validates a catalog file. schemaPath may be empty to skip
// validation.
func Load(path, schemaPath string) (Snapshot, error) {
	var schema *jsonschema.Schema
	if schemaPath != "" {
		s, err := CompileSchema(schemaPath)
		if err != nil {
			return Snapshot{}, err
		}
		schema = s
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	return Parse(raw, "file:"+path, schema)
}

func CompileSchema(path string) (*jsonschema.Schema, error) {
	s, err := jsonschema.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	return s, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
