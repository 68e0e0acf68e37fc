// Package trace defines the core value types flowing through the import
// pipeline: raw and mapped records, attribute bags, GPS points, and the
// per-record error taxonomy. It is intentionally small and dependency-free so
// that every other package (mapper, validator, store, pipeline) can share the
// same vocabulary without glue code.
package trace

import (
	"strings"
	"time"
)

// Canonical field names recognized by the import schema. A field mapping
// translates source column names onto these; anything else lands in the
// record's extra-attribute bag.
const (
	FieldEntityID  = "entity_id"
	FieldTimestamp = "timestamp"
	FieldLongitude = "longitude"
	FieldLatitude  = "latitude"
	FieldSpeed     = "speed"
	FieldHeading   = "heading"
	FieldAltitude  = "altitude"
	FieldAccuracy  = "accuracy"
)

// CanonicalFields lists every canonical field name in schema order.
var CanonicalFields = []string{
	FieldEntityID,
	FieldTimestamp,
	FieldLongitude,
	FieldLatitude,
	FieldSpeed,
	FieldHeading,
	FieldAltitude,
	FieldAccuracy,
}

// IsCanonicalField reports whether name is one of the canonical schema slots.
func IsCanonicalField(name string) bool {
	switch name {
	case FieldEntityID, FieldTimestamp, FieldLongitude, FieldLatitude,
		FieldSpeed, FieldHeading, FieldAltitude, FieldAccuracy:
		return true
	}
	return false
}

// RawRecord is one parsed line/row as read from the source, before field
// mapping. Keys and Values are aligned and preserve source order. Number is
// the 1-based physical line (or row) index within the current source unit;
// blank lines advance the number but never produce a RawRecord.
type RawRecord struct {
	Number int
	Keys   []string
	Values []string
}

// Get returns the value for the first occurrence of key.
func (r RawRecord) Get(key string) (string, bool) {
	for i, k := range r.Keys {
		if k == key {
			return r.Values[i], true
		}
	}
	return "", false
}

// Joined reassembles the record into a single delimited string for error
// logging. It is not guaranteed to be byte-identical to the source line
// (quoting is lost), only faithful enough for diagnostics. A zero delimiter
// means ','.
func (r RawRecord) Joined(delim rune) string {
	if delim == 0 {
		delim = ','
	}
	return strings.Join(r.Values, string(delim))
}

// MappedRecord is the output of field mapping: canonical fields that matched
// the mapping (still raw strings at this point) plus everything else as an
// extra-attribute bag.
type MappedRecord struct {
	Number int
	Fields map[string]string
	Extra  Attrs
}

// Get returns the canonical field value and whether it is present and
// non-empty.
func (m MappedRecord) Get(name string) (string, bool) {
	v, ok := m.Fields[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// GPSPoint is one accepted, normalized GPS fix ready for persistence.
// Uniqueness is on (DatasetID, EntityID, Timestamp); the store skips
// duplicates on conflict rather than overwriting. Points are append-only
// from the pipeline's perspective: once committed they are never mutated.
type GPSPoint struct {
	DatasetID string
	EntityID  string
	Timestamp time.Time
	Longitude float64
	Latitude  float64

	// Optional measurements; nil when absent from the source.
	Speed    *float64
	Heading  *float64
	Altitude *float64
	Accuracy *float64

	// Extra carries source fields not consumed by the mapping.
	Extra Attrs

	// IsValid is false when the point was accepted with warnings
	// (permissive mode); ValidationFlags then records why.
	IsValid         bool
	ValidationFlags []string
}

// Key returns the logical uniqueness key as a single string, used for
// in-batch duplicate detection.
func (p GPSPoint) Key() string {
	return p.DatasetID + "\x00" + p.EntityID + "\x00" + p.Timestamp.UTC().Format(time.RFC3339Nano)
}

// maxRawData caps the raw line stored with a validation error so that a
// pathological input line cannot bloat the error log.
const maxRawData = 500

// ValidationError is the durable per-record error log entry linked to an
// import job. Append-only; created only for rejected records.
type ValidationError struct {
	JobID        string
	RecordNumber int
	RawData      string
	Type         ErrorType
	Message      string
	FieldName    string
}

// NewValidationError builds a log entry from a record error, truncating the
// raw line to a bounded length.
func NewValidationError(jobID string, recordNumber int, rawData string, err RecordError) ValidationError {
	if len(rawData) > maxRawData {
		rawData = rawData[:maxRawData]
	}
	return ValidationError{
		JobID:        jobID,
		RecordNumber: recordNumber,
		RawData:      rawData,
		Type:         err.Type,
		Message:      err.Message,
		FieldName:    err.Field,
	}
}
