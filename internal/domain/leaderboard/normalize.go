package leaderboard

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Stats summarizes one normalization.
type Stats struct {
	Total      int
	Kept       int
	Dropped    int
	Anonymized int
}

// Normalize rewrites rec in place into its publishable form:
//   - entries without a numeric primary metric are dropped
//   - submission descriptions are anonymized and flattened into submission
//   - entries are ordered by primary metric, highest first, ties keeping
//     their input order
//
// Normalizing an already normalized record changes nothing.
func Normalize(rec *Record) (Stats, error) {
	st := Stats{Total: len(rec.Entries)}
	kept := make([]Entry, 0, len(rec.Entries))
	for i, e := range rec.Entries {
		if _, ok := e.Score(); !ok {
			st.Dropped++
			continue
		}
		n, err := anonymize(e)
		if err != nil {
			return Stats{}, fmt.Errorf("%w: entry %d: %w", ErrMalformed, i, err)
		}
		st.Anonymized += n
		kept = append(kept, e)
	}

	slices.SortStableFunc(kept, func(a, b Entry) int {
		sa, _ := a.Score()
		sb, _ := b.Score()
		return cmp.Compare(sb, sa)
	})

	rec.Entries = kept
	st.Kept = len(kept)
	return st, nil
}

// anonymize parses submission.description, replaces "NONE" values with
// AnonymousLabel, copies every description key into submission and
// re-encodes description with the rewritten values. It returns the number
// of rewritten values.
func anonymize(e Entry) (int, error) {
	sub := e.Submission()
	if sub == nil {
		return 0, fmt.Errorf("missing %s", keySubmission)
	}
	raw, ok := sub[keyDescription].(string)
	if !ok {
		return 0, fmt.Errorf("missing %s.%s", keySubmission, keyDescription)
	}

	var desc map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&desc); err != nil {
		return 0, fmt.Errorf("%s.%s: %w", keySubmission, keyDescription, err)
	}
	if desc == nil || dec.More() {
		return 0, fmt.Errorf("%s.%s: not a single object", keySubmission, keyDescription)
	}

	rewritten := 0
	for k, v := range desc {
		if s, ok := v.(string); ok && strings.EqualFold(s, "NONE") {
			desc[k] = AnonymousLabel
			rewritten++
		}
		sub[k] = desc[k]
	}

	encoded, err := marshalNoEscape(desc)
	if err != nil {
		return 0, err
	}
	sub[keyDescription] = string(bytes.TrimSpace(encoded))
	return rewritten, nil
}
