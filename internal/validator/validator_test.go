package validator

import (
	"testing"
	"time"

	"traceimport/internal/trace"
)

func mapped(fields map[string]string) trace.MappedRecord {
	return trace.MappedRecord{Number: 1, Fields: fields, Extra: trace.Attrs{}}
}

func TestValidateCoordinatesRange(t *testing.T) {
	t.Parallel()

	v := New(Config{})
	tests := []struct {
		name     string
		lon, lat float64
		wantErrs int
	}{
		{"zero", 0, 0, 0},
		{"boundary max", 180, 90, 0},
		{"boundary min", -180, -90, 0},
		{"lon just outside", 180.0000001, 0, 1},
		{"lat just outside", 0, -90.0000001, 1},
		{"both outside", 999, 99, 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			errs := v.ValidateCoordinates(tt.lon, tt.lat)
			if len(errs) != tt.wantErrs {
				t.Fatalf("ValidateCoordinates(%g, %g) = %d errors, want %d: %v",
					tt.lon, tt.lat, len(errs), tt.wantErrs, errs)
			}
			for _, e := range errs {
				if e.Type != trace.CoordinateError {
					t.Errorf("error type = %s, want %s", e.Type, trace.CoordinateError)
				}
			}
		})
	}
}

func TestValidateCoordinatesBounds(t *testing.T) {
	t.Parallel()

	paris := &BoundingBox{MinLon: 2.25, MinLat: 48.82, MaxLon: 2.42, MaxLat: 48.90}
	v := New(Config{Bounds: paris})

	if errs := v.ValidateCoordinates(2.35, 48.85); len(errs) != 0 {
		t.Fatalf("inside box rejected: %v", errs)
	}
	errs := v.ValidateCoordinates(13.40, 52.52) // Berlin
	if len(errs) != 1 || errs[0].Type != trace.BoundsError {
		t.Fatalf("outside box = %v, want one BOUNDS_ERROR", errs)
	}

	// Once the hard range fails, the box is not consulted.
	errs = v.ValidateCoordinates(999, 48.85)
	if len(errs) != 1 || errs[0].Type != trace.CoordinateError {
		t.Fatalf("out-of-range = %v, want one COORDINATE_ERROR", errs)
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2008-02-02 15:36:08", time.Date(2008, 2, 2, 15, 36, 8, 0, time.UTC), true},
		{"2008-02-02T15:36:08", time.Date(2008, 2, 2, 15, 36, 8, 0, time.UTC), true},
		{"2008-02-02 15:36:08.250", time.Date(2008, 2, 2, 15, 36, 8, 250000000, time.UTC), true},
		// Day-first wins for ambiguous dates.
		{"03/04/2024 10:00:00", time.Date(2024, 4, 3, 10, 0, 0, 0, time.UTC), true},
		// Month-first is the fallback for dates day-first cannot parse.
		{"02/28/2024 10:00:00", time.Date(2024, 2, 28, 10, 0, 0, 0, time.UTC), true},
		{"yesterday", time.Time{}, false},
		{"", time.Time{}, false},
		{"2008-13-40 99:99:99", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseTimestamp(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseTimestamp(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidateSpeed(t *testing.T) {
	t.Parallel()

	v := New(Config{SpeedThresholdKmh: 150})

	if _, warn, ok := v.ValidateSpeed(60); !ok || warn != "" {
		t.Fatalf("plausible speed: ok=%v warn=%q", ok, warn)
	}
	if _, warn, ok := v.ValidateSpeed(151); !ok || warn == "" {
		t.Fatalf("implausible speed: ok=%v warn=%q, want warning", ok, warn)
	}
	serr, _, ok := v.ValidateSpeed(-5)
	if ok || serr.Type != trace.ValidationErr {
		t.Fatalf("negative speed: ok=%v type=%s, want rejection with VALIDATION_ERROR", ok, serr.Type)
	}
}

func TestValidatePointAccept(t *testing.T) {
	t.Parallel()

	v := New(Config{})
	out := v.ValidatePoint(mapped(map[string]string{
		trace.FieldLongitude: "116.51172",
		trace.FieldLatitude:  "39.92123",
		trace.FieldTimestamp: "2008-02-02 15:36:08",
		trace.FieldSpeed:     "42.5",
		trace.FieldHeading:   "270",
	}))
	if !out.Accepted || len(out.Errors) != 0 || len(out.Warnings) != 0 {
		t.Fatalf("clean record: accepted=%v errors=%v warnings=%v", out.Accepted, out.Errors, out.Warnings)
	}
	if out.Longitude != 116.51172 || out.Latitude != 39.92123 {
		t.Errorf("coordinates = (%g, %g)", out.Longitude, out.Latitude)
	}
	if out.Speed == nil || *out.Speed != 42.5 {
		t.Errorf("speed = %v, want 42.5", out.Speed)
	}
	if out.Heading == nil || *out.Heading != 270 {
		t.Errorf("heading = %v, want 270", out.Heading)
	}
	if out.Altitude != nil || out.Accuracy != nil {
		t.Errorf("absent optionals should be nil: alt=%v acc=%v", out.Altitude, out.Accuracy)
	}
}

func TestValidatePointRejections(t *testing.T) {
	t.Parallel()

	v := New(Config{})
	tests := []struct {
		name     string
		fields   map[string]string
		wantType trace.ErrorType
	}{
		{
			"missing coordinates",
			map[string]string{trace.FieldTimestamp: "2008-02-02 15:36:08"},
			trace.CoordinateError,
		},
		{
			"non-numeric coordinates",
			map[string]string{
				trace.FieldLongitude: "east",
				trace.FieldLatitude:  "39.9",
				trace.FieldTimestamp: "2008-02-02 15:36:08",
			},
			trace.CoordinateError,
		},
		{
			"out of range longitude",
			map[string]string{
				trace.FieldLongitude: "999.0",
				trace.FieldLatitude:  "39.92123",
				trace.FieldTimestamp: "2008-02-02 15:46:08",
			},
			trace.CoordinateError,
		},
		{
			"missing timestamp",
			map[string]string{
				trace.FieldLongitude: "116.5",
				trace.FieldLatitude:  "39.9",
			},
			trace.TimestampError,
		},
		{
			"unparseable timestamp",
			map[string]string{
				trace.FieldLongitude: "116.5",
				trace.FieldLatitude:  "39.9",
				trace.FieldTimestamp: "not-a-time",
			},
			trace.TimestampError,
		},
		{
			"negative speed",
			map[string]string{
				trace.FieldLongitude: "116.5",
				trace.FieldLatitude:  "39.9",
				trace.FieldTimestamp: "2008-02-02 15:36:08",
				trace.FieldSpeed:     "-1",
			},
			trace.ValidationErr,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := v.ValidatePoint(mapped(tt.fields))
			if out.Accepted {
				t.Fatal("record accepted, want rejection")
			}
			found := false
			for _, e := range out.Errors {
				if e.Type == tt.wantType {
					found = true
				}
			}
			if !found {
				t.Fatalf("errors = %v, want type %s", out.Errors, tt.wantType)
			}
		})
	}
}

func TestStrictModePromotesWarnings(t *testing.T) {
	t.Parallel()

	fields := map[string]string{
		trace.FieldLongitude: "116.51172",
		trace.FieldLatitude:  "39.92123",
		trace.FieldTimestamp: "2008-02-02 15:36:08",
		trace.FieldSpeed:     "500",
	}

	permissive := New(Config{}).ValidatePoint(mapped(fields))
	if !permissive.Accepted {
		t.Fatalf("permissive mode rejected: %v", permissive.Errors)
	}
	if len(permissive.Warnings) == 0 {
		t.Fatal("permissive mode produced no warnings")
	}

	strict := New(Config{StrictMode: true}).ValidatePoint(mapped(fields))
	if strict.Accepted {
		t.Fatal("strict mode accepted a record with warnings")
	}
	found := false
	for _, e := range strict.Errors {
		if e.Type == trace.ValidationErr {
			found = true
		}
	}
	if !found {
		t.Fatalf("strict errors = %v, want VALIDATION_ERROR", strict.Errors)
	}
}

// Everything permissive mode rejects, strict mode rejects too.
func TestStrictIsMonotonic(t *testing.T) {
	t.Parallel()

	cases := []map[string]string{
		{trace.FieldLongitude: "999", trace.FieldLatitude: "39.9", trace.FieldTimestamp: "2008-02-02 15:36:08"},
		{trace.FieldLongitude: "116.5", trace.FieldLatitude: "39.9", trace.FieldTimestamp: "bogus"},
		{trace.FieldLongitude: "116.5", trace.FieldLatitude: "39.9", trace.FieldTimestamp: "2008-02-02 15:36:08", trace.FieldSpeed: "-3"},
	}
	perm := New(Config{})
	strict := New(Config{StrictMode: true})
	for i, fields := range cases {
		if perm.ValidatePoint(mapped(fields)).Accepted {
			t.Fatalf("case %d: permissive accepted a hard error", i)
		}
		if strict.ValidatePoint(mapped(fields)).Accepted {
			t.Fatalf("case %d: strict accepted what permissive rejects", i)
		}
	}
}

func TestBoundsPolicyByMode(t *testing.T) {
	t.Parallel()

	beijing := &BoundingBox{MinLon: 116.25, MinLat: 39.80, MaxLon: 116.60, MaxLat: 40.05}
	outside := map[string]string{
		trace.FieldLongitude: "121.47", // Shanghai
		trace.FieldLatitude:  "31.23",
		trace.FieldTimestamp: "2008-02-02 15:36:08",
	}

	perm := New(Config{Bounds: beijing}).ValidatePoint(mapped(outside))
	if !perm.Accepted || len(perm.Warnings) == 0 {
		t.Fatalf("permissive out-of-bounds: accepted=%v warnings=%v, want accepted with flag",
			perm.Accepted, perm.Warnings)
	}

	strict := New(Config{Bounds: beijing, StrictMode: true}).ValidatePoint(mapped(outside))
	if strict.Accepted {
		t.Fatal("strict out-of-bounds accepted")
	}
	if strict.Errors[0].Type != trace.BoundsError {
		t.Fatalf("strict error type = %s, want %s", strict.Errors[0].Type, trace.BoundsError)
	}
}
