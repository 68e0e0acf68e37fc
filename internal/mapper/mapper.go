// Package mapper translates raw source field names into the canonical trace
// schema according to a dataset's field mapping. Mapping is a pure function:
// no side effects, no failure mode. Absent source fields are simply omitted;
// unmapped source fields are preserved in the extra-attribute bag.
package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"

	"traceimport/internal/trace"
)

// FieldMapping is an ordered table from canonical field name to source field
// name, e.g. entity_id -> taxi_id. Order follows the dataset configuration;
// when two entries name the same canonical field the first one wins.
type FieldMapping struct {
	entries []entry
}

type entry struct {
	Canonical string
	Source    string
}

// New builds a mapping from (canonical, source) pairs in order.
func New(pairs ...[2]string) *FieldMapping {
	m := &FieldMapping{}
	for _, p := range pairs {
		m.entries = append(m.entries, entry{Canonical: p[0], Source: p[1]})
	}
	return m
}

// Len returns the number of mapping entries.
func (m *FieldMapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// sourceSet returns the set of source field names consumed by the mapping.
func (m *FieldMapping) sourceSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.entries))
	for _, e := range m.entries {
		set[e.Source] = struct{}{}
	}
	return set
}

// UnmarshalJSON decodes a JSON object while preserving key order, which the
// default map decoding would lose. Keys are canonical names, values the
// source column they map from.
func (m *FieldMapping) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	return m.decode(dec)
}

func (m *FieldMapping) decode(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("field_mapping must be a JSON object")
	}
	m.entries = m.entries[:0]
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)
		var val string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("field_mapping[%q]: %w", key, err)
		}
		m.entries = append(m.entries, entry{Canonical: key, Source: val})
	}
	_, err = dec.Token() // closing '}'
	return err
}

// MarshalJSON encodes the mapping as an object in entry order.
func (m *FieldMapping) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range m.entries {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, _ := json.Marshal(e.Canonical)
		v, _ := json.Marshal(e.Source)
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}

// Map applies the field mapping to a raw record.
//
// With a non-empty mapping, each (canonical, source) entry whose source field
// is present in the record fills the canonical slot exactly once; every raw
// field not consumed by the mapping lands in the extra bag. With a nil or
// empty mapping, raw keys that already are canonical names pass through
// unchanged and everything else goes to extras.
func Map(raw trace.RawRecord, m *FieldMapping) trace.MappedRecord {
	out := trace.MappedRecord{
		Number: raw.Number,
		Fields: make(map[string]string, len(trace.CanonicalFields)),
		Extra:  trace.Attrs{},
	}

	if m.Len() == 0 {
		for i, k := range raw.Keys {
			if trace.IsCanonicalField(k) {
				if _, dup := out.Fields[k]; !dup {
					out.Fields[k] = raw.Values[i]
					continue
				}
			}
			out.Extra[k] = trace.String(raw.Values[i])
		}
		return out
	}

	for _, e := range m.entries {
		if _, taken := out.Fields[e.Canonical]; taken {
			continue
		}
		if v, ok := raw.Get(e.Source); ok {
			out.Fields[e.Canonical] = v
		}
	}

	consumed := m.sourceSet()
	for i, k := range raw.Keys {
		if _, ok := consumed[k]; ok {
			continue
		}
		out.Extra[k] = trace.String(raw.Values[i])
	}
	return out
}
