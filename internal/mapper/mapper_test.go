package mapper

import (
	"encoding/json"
	"testing"

	"traceimport/internal/trace"
)

func raw(kv ...string) trace.RawRecord {
	r := trace.RawRecord{Number: 1}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Keys = append(r.Keys, kv[i])
		r.Values = append(r.Values, kv[i+1])
	}
	return r
}

func TestMapWithMapping(t *testing.T) {
	t.Parallel()

	m := New(
		[2]string{trace.FieldEntityID, "taxi_id"},
		[2]string{trace.FieldLongitude, "lon"},
		[2]string{trace.FieldLatitude, "lat"},
		[2]string{trace.FieldTimestamp, "time"},
	)
	got := Map(raw(
		"taxi_id", "366",
		"time", "2008-02-02 15:36:08",
		"lon", "116.51172",
		"lat", "39.92123",
		"operator", "beijing-taxi",
	), m)

	want := map[string]string{
		trace.FieldEntityID:  "366",
		trace.FieldTimestamp: "2008-02-02 15:36:08",
		trace.FieldLongitude: "116.51172",
		trace.FieldLatitude:  "39.92123",
	}
	for k, v := range want {
		if got.Fields[k] != v {
			t.Errorf("Fields[%q] = %q, want %q", k, got.Fields[k], v)
		}
	}
	if len(got.Fields) != len(want) {
		t.Errorf("len(Fields) = %d, want %d", len(got.Fields), len(want))
	}
	op, ok := got.Extra["operator"].AsString()
	if !ok || op != "beijing-taxi" {
		t.Errorf("Extra[operator] = %v %v, want preserved string", op, ok)
	}
	if _, leaked := got.Extra["taxi_id"]; leaked {
		t.Error("consumed source field leaked into Extra")
	}
}

func TestMapAbsentSourceFieldOmitted(t *testing.T) {
	t.Parallel()

	m := New(
		[2]string{trace.FieldEntityID, "taxi_id"},
		[2]string{trace.FieldSpeed, "speed_kmh"},
	)
	got := Map(raw("taxi_id", "7"), m)

	if _, ok := got.Fields[trace.FieldSpeed]; ok {
		t.Error("absent source field produced a canonical entry")
	}
	if got.Fields[trace.FieldEntityID] != "7" {
		t.Errorf("entity_id = %q, want 7", got.Fields[trace.FieldEntityID])
	}
}

func TestMapFirstEntryWins(t *testing.T) {
	t.Parallel()

	m := New(
		[2]string{trace.FieldEntityID, "taxi_id"},
		[2]string{trace.FieldEntityID, "driver_id"},
	)
	got := Map(raw("driver_id", "b", "taxi_id", "a"), m)
	if got.Fields[trace.FieldEntityID] != "a" {
		t.Errorf("entity_id = %q, want first mapping entry to win", got.Fields[trace.FieldEntityID])
	}
}

func TestMapEmptyMappingPassthrough(t *testing.T) {
	t.Parallel()

	got := Map(raw(
		trace.FieldLongitude, "116.5",
		trace.FieldLatitude, "39.9",
		"junk", "x",
	), nil)

	if got.Fields[trace.FieldLongitude] != "116.5" {
		t.Errorf("canonical key not passed through: %v", got.Fields)
	}
	if _, ok := got.Extra["junk"]; !ok {
		t.Error("non-canonical key not preserved in Extra")
	}
}

func TestFieldMappingJSONRoundTrip(t *testing.T) {
	t.Parallel()

	in := []byte(`{"entity_id":"taxi_id","timestamp":"time","longitude":"lon","latitude":"lat"}`)
	var m FieldMapping
	if err := json.Unmarshal(in, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Len() != 4 {
		t.Fatalf("Len = %d, want 4", m.Len())
	}
	out, err := json.Marshal(&m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// Entry order survives the round trip.
	if string(out) != string(in) {
		t.Errorf("round trip = %s, want %s", out, in)
	}
}

func TestFieldMappingRejectsNonObject(t *testing.T) {
	t.Parallel()

	var m FieldMapping
	if err := json.Unmarshal([]byte(`["entity_id"]`), &m); err == nil {
		t.Error("array accepted as field_mapping")
	}
}
