package trace

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// AttrKind enumerates the closed set of attribute value types.
type AttrKind uint8

const (
	AttrNull AttrKind = iota
	AttrString
	AttrNumber
	AttrBool
)

// AttrValue is a small closed variant for leftover source fields: string,
// number, bool, or null. It replaces a loosely typed map[string]any so the
// attribute bag stays reflection-free and round-trips through JSON without
// surprises.
type AttrValue struct {
	kind AttrKind
	str  string
	num  float64
	b    bool
}

func Null() AttrValue            { return AttrValue{kind: AttrNull} }
func String(s string) AttrValue  { return AttrValue{kind: AttrString, str: s} }
func Number(f float64) AttrValue { return AttrValue{kind: AttrNumber, num: f} }
func Bool(b bool) AttrValue      { return AttrValue{kind: AttrBool, b: b} }

// Kind returns the variant tag.
func (v AttrValue) Kind() AttrKind { return v.kind }

// AsString returns the string payload; ok is false for non-string kinds.
func (v AttrValue) AsString() (string, bool) { return v.str, v.kind == AttrString }

// AsNumber returns the numeric payload; ok is false for non-number kinds.
func (v AttrValue) AsNumber() (float64, bool) { return v.num, v.kind == AttrNumber }

// AsBool returns the bool payload; ok is false for non-bool kinds.
func (v AttrValue) AsBool() (bool, bool) { return v.b, v.kind == AttrBool }

// MarshalJSON encodes the variant as its natural JSON form.
func (v AttrValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case AttrString:
		return json.Marshal(v.str)
	case AttrNumber:
		return json.Marshal(v.num)
	case AttrBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar into the matching variant. Arrays and
// objects are rejected: the bag is flat by design.
func (v *AttrValue) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		*v = Null()
		return nil
	}
	switch b[0] {
	case 'n':
		*v = Null()
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case 't', 'f':
		var bv bool
		if err := json.Unmarshal(b, &bv); err != nil {
			return err
		}
		*v = Bool(bv)
		return nil
	case '[', '{':
		return fmt.Errorf("attr value must be a scalar, got %c", b[0])
	default:
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("attr value: %w", err)
		}
		*v = Number(f)
		return nil
	}
}

// Attrs is the extra-attribute bag attached to mapped records and persisted
// points.
type Attrs map[string]AttrValue

// EncodeJSON serializes the bag for storage. A nil or empty bag encodes as
// "{}" so the stored column is never NULL.
func (a Attrs) EncodeJSON() (string, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeAttrs parses a stored JSON bag.
func DecodeAttrs(s string) (Attrs, error) {
	if s == "" {
		return Attrs{}, nil
	}
	var a Attrs
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, err
	}
	return a, nil
}

// SortedKeys returns the bag's keys in deterministic order, mainly for tests
// and stable logging.
func (a Attrs) SortedKeys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
