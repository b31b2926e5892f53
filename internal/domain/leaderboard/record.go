// Package leaderboard models the competition leaderboard file and the
// normalization that turns the runner's raw output into the published one.
package leaderboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Field names of the leaderboard schema.
const (
	// PrimaryMetric ranks entries and decides which ones are published.
	PrimaryMetric = "Weighted-F1"
	// AnonymousLabel replaces description values equal to "NONE".
	AnonymousLabel = "Anonymous"
	// PredictionsPath is the dependency holding an entry's prediction bundle.
	PredictionsPath = "predictions.json"

	keyLeaderboard = "leaderboard"
	keyScores      = "scores"
	keySubmission  = "submission"
	keyDescription = "description"
	keyBundle      = "bundle"
)

// Record is a leaderboard file. Top-level keys other than "leaderboard"
// are kept verbatim.
type Record struct {
	Entries []Entry
	extra   map[string]json.RawMessage
}

// Entry is one submission. It is kept as a generic object so fields the
// pipeline does not know about survive a round trip. Numbers are decoded as
// json.Number and re-encoded with their original literal.
type Entry map[string]any

// Dependency links a bundle to an upstream bundle.
type Dependency struct {
	ChildPath  string
	ParentUUID string
}

// UnmarshalJSON decodes a leaderboard file.
func (r *Record) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	raw, ok := top[keyLeaderboard]
	if !ok {
		return fmt.Errorf("missing %q", keyLeaderboard)
	}
	delete(top, keyLeaderboard)

	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&entries); err != nil {
		return fmt.Errorf("%s: %w", keyLeaderboard, err)
	}
	r.Entries = entries
	r.extra = top
	return nil
}

// MarshalJSON encodes the record with its passthrough keys.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.extra)+1)
	for k, v := range r.extra {
		out[k] = v
	}
	entries := r.Entries
	if entries == nil {
		entries = []Entry{}
	}
	out[keyLeaderboard] = entries
	return marshalNoEscape(out)
}

// Extra returns a passthrough top-level value, e.g. "config".
func (r *Record) Extra(key string) (json.RawMessage, bool) {
	v, ok := r.extra[key]
	return v, ok
}

// Score returns the primary metric when it is a finite floating-point JSON
// literal. Pending jobs report a string placeholder instead, and integer
// literals such as 0 or 1 are not scores.
func (e Entry) Score() (float64, bool) {
	scores, ok := e[keyScores].(map[string]any)
	if !ok {
		return 0, false
	}
	v := scores[PrimaryMetric]
	if n, ok := v.(json.Number); ok && !strings.ContainsAny(n.String(), ".eE") {
		return 0, false
	}
	return number(v)
}

// Submission returns the submission object, or nil.
func (e Entry) Submission() map[string]any {
	sub, _ := e[keySubmission].(map[string]any)
	return sub
}

// BundleID returns bundle.id, or "".
func (e Entry) BundleID() string {
	bundle, _ := e[keyBundle].(map[string]any)
	id, _ := bundle["id"].(string)
	return id
}

// Dependencies returns bundle.dependencies. Malformed items are skipped.
func (e Entry) Dependencies() []Dependency {
	bundle, _ := e[keyBundle].(map[string]any)
	items, _ := bundle["dependencies"].([]any)
	deps := make([]Dependency, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		child, _ := m["child_path"].(string)
		parent, _ := m["parent_uuid"].(string)
		deps = append(deps, Dependency{ChildPath: child, ParentUUID: parent})
	}
	return deps
}

// Predictions returns the parent bundle of the predictions dependency.
func (e Entry) Predictions() (string, bool) {
	for _, d := range e.Dependencies() {
		if d.ChildPath == PredictionsPath && d.ParentUUID != "" {
			return d.ParentUUID, true
		}
	}
	return "", false
}

// LastUpdated returns bundle.metadata.last_updated in unix seconds.
func (e Entry) LastUpdated() (int64, bool) {
	bundle, _ := e[keyBundle].(map[string]any)
	meta, _ := bundle["metadata"].(map[string]any)
	f, ok := number(meta["last_updated"])
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	default:
		return 0, false
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
