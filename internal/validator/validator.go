// Package validator implements the stateless rule engine that checks mapped
// records: coordinate ranges, an optional geographic bounding box, multi-
// format timestamp parsing, and speed plausibility. Each check is exposed
// individually; ValidatePoint composes them into an accept/reject decision
// under a strict or permissive policy.
package validator

import (
	"strconv"
	"strings"
	"time"

	"traceimport/internal/trace"
)

// DefaultSpeedThresholdKmh is the plausibility ceiling applied when the
// configuration does not override it. Domain profiles tune it down (150 for
// taxi fleets, 120 for general consumer GPS).
const DefaultSpeedThresholdKmh = 200

// timestampLayouts is the ordered list of accepted formats; the first layout
// that parses wins. Go's parser accepts a fractional second after the seconds
// field even when the layout omits it, so the ISO variants cover fractions.
// Day-first is tried before month-first, which decides ambiguous dates like
// 03/04/2024; callers with month-first data should not rely on the fallback.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
}

// BoundingBox is a [minLon, minLat, maxLon, maxLat] area-of-interest filter.
type BoundingBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Contains reports whether the point lies inside the box (inclusive).
func (b BoundingBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Config carries the validation policy for one import run.
type Config struct {
	// StrictMode promotes warnings to rejections.
	StrictMode bool

	// Bounds, when non-nil, requires containment in addition to the hard
	// WGS84 range. Violations reject in strict mode and flag in
	// permissive mode.
	Bounds *BoundingBox

	// SpeedThresholdKmh is the plausibility ceiling; zero means the
	// default. Speeds above it produce a warning, never an error.
	SpeedThresholdKmh float64
}

func (c Config) speedThreshold() float64 {
	if c.SpeedThresholdKmh > 0 {
		return c.SpeedThresholdKmh
	}
	return DefaultSpeedThresholdKmh
}

// Outcome is the structured result of validating one mapped record.
// Accepted implies Longitude/Latitude are within WGS84 range and Timestamp is
// a valid instant.
type Outcome struct {
	Accepted bool
	Errors   []trace.RecordError
	Warnings []string

	Longitude float64
	Latitude  float64
	Timestamp time.Time
	Speed     *float64
	Heading   *float64
	Altitude  *float64
	Accuracy  *float64
}

// Validator applies a fixed Config to mapped records. It is stateless and
// safe for concurrent use.
type Validator struct {
	cfg Config
}

// New returns a Validator for the given configuration.
func New(cfg Config) *Validator { return &Validator{cfg: cfg} }

// ValidateCoordinates checks the hard WGS84 range and, when the range holds,
// the configured bounding box. Range violations carry COORDINATE_ERROR;
// bounding-box violations carry BOUNDS_ERROR so operators can tell bad data
// from out-of-area data. The box is not consulted once the hard range failed.
func (v *Validator) ValidateCoordinates(lon, lat float64) []trace.RecordError {
	var errs []trace.RecordError
	if lon < -180 || lon > 180 {
		errs = append(errs, trace.Errf(trace.CoordinateError, trace.FieldLongitude,
			"longitude %g out of valid range [-180, 180]", lon))
	}
	if lat < -90 || lat > 90 {
		errs = append(errs, trace.Errf(trace.CoordinateError, trace.FieldLatitude,
			"latitude %g out of valid range [-90, 90]", lat))
	}
	if len(errs) == 0 && v.cfg.Bounds != nil && !v.cfg.Bounds.Contains(lon, lat) {
		errs = append(errs, trace.Errf(trace.BoundsError, "",
			"coordinates (%g, %g) outside allowed bounds", lon, lat))
	}
	return errs
}

// ParseTimestamp tries the configured layouts in order; the first match wins.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ValidateSpeed checks one parsed speed value. Negative speed is a hard
// error; implausibly high speed is a warning.
func (v *Validator) ValidateSpeed(speed float64) (trace.RecordError, string, bool) {
	if speed < 0 {
		return trace.Errf(trace.ValidationErr, trace.FieldSpeed,
			"negative speed: %g", speed), "", false
	}
	if thr := v.cfg.speedThreshold(); speed > thr {
		return trace.RecordError{}, "speed " + strconv.FormatFloat(speed, 'g', -1, 64) +
			" km/h exceeds threshold " + strconv.FormatFloat(thr, 'g', -1, 64), true
	}
	return trace.RecordError{}, "", true
}

// ValidatePoint runs the full rule set over a mapped record.
//
// Policy: any error rejects regardless of mode. Warnings alone accept in
// permissive mode (surfaced as validation flags) and reject in strict mode,
// where they are promoted into a single VALIDATION_ERROR. Bounding-box
// violations count as errors in strict mode and as warnings otherwise.
func (v *Validator) ValidatePoint(m trace.MappedRecord) Outcome {
	var out Outcome

	lonStr, lonOK := m.Get(trace.FieldLongitude)
	latStr, latOK := m.Get(trace.FieldLatitude)
	if !lonOK || !latOK {
		out.Errors = append(out.Errors, trace.Errf(trace.CoordinateError, "",
			"missing longitude or latitude"))
		return out
	}

	lon, lonErr := strconv.ParseFloat(lonStr, 64)
	lat, latErr := strconv.ParseFloat(latStr, 64)
	if lonErr != nil || latErr != nil {
		out.Errors = append(out.Errors, trace.Errf(trace.CoordinateError, "",
			"invalid coordinate format: lon=%q, lat=%q", lonStr, latStr))
		return out
	}
	out.Longitude = lon
	out.Latitude = lat

	for _, ce := range v.ValidateCoordinates(lon, lat) {
		if ce.Type == trace.BoundsError && !v.cfg.StrictMode {
			out.Warnings = append(out.Warnings, ce.Message)
			continue
		}
		out.Errors = append(out.Errors, ce)
	}

	tsStr, tsOK := m.Get(trace.FieldTimestamp)
	if !tsOK {
		out.Errors = append(out.Errors, trace.Errf(trace.TimestampError, trace.FieldTimestamp,
			"missing timestamp"))
	} else if ts, ok := ParseTimestamp(tsStr); ok {
		out.Timestamp = ts
	} else {
		out.Errors = append(out.Errors, trace.Errf(trace.TimestampError, trace.FieldTimestamp,
			"unable to parse timestamp: %q", tsStr))
	}

	if s, ok := m.Get(trace.FieldSpeed); ok {
		if speed, err := strconv.ParseFloat(s, 64); err != nil {
			out.Warnings = append(out.Warnings, "invalid speed format: "+s)
		} else if serr, warn, ok := v.ValidateSpeed(speed); !ok {
			out.Errors = append(out.Errors, serr)
		} else {
			if warn != "" {
				out.Warnings = append(out.Warnings, warn)
			}
			out.Speed = &speed
		}
	}

	out.Heading = v.optionalNumber(m, trace.FieldHeading, &out)
	out.Altitude = v.optionalNumber(m, trace.FieldAltitude, &out)
	out.Accuracy = v.optionalNumber(m, trace.FieldAccuracy, &out)

	out.Accepted = len(out.Errors) == 0
	if out.Accepted && v.cfg.StrictMode && len(out.Warnings) > 0 {
		out.Accepted = false
		out.Errors = append(out.Errors, trace.Errf(trace.ValidationErr, "",
			"%s", strings.Join(out.Warnings, "; ")))
	}
	return out
}

// optionalNumber parses a non-required numeric field; a bad value becomes a
// warning and the field is dropped.
func (v *Validator) optionalNumber(m trace.MappedRecord, field string, out *Outcome) *float64 {
	s, ok := m.Get(field)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		out.Warnings = append(out.Warnings, "invalid "+field+" format: "+s)
		return nil
	}
	return &f
}
