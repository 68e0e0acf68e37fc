// Package config models the JSON import spec: which dataset, which source,
// which format profile with what overrides, which store, and the runtime
// knobs. Decoding is plain encoding/json into typed structs; a separate
// linter (Validate) reports static problems before anything touches storage.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"traceimport/internal/mapper"
	"traceimport/internal/pipeline"
	"traceimport/internal/reader"
	"traceimport/internal/validator"
)

// Spec is one import run, as authored in the JSON config file.
type Spec struct {
	// Job labels the run in logs and metrics.
	Job string `json:"job"`

	Dataset    Dataset    `json:"dataset"`
	Source     Source     `json:"source"`
	Format     Format     `json:"format"`
	Validation Validation `json:"validation"`
	Storage    Storage    `json:"storage"`
	Runtime    Runtime    `json:"runtime"`
}

// Dataset identifies the target dataset and its source-to-canonical field
// mapping.
type Dataset struct {
	ID           string              `json:"id"`
	FieldMapping mapper.FieldMapping `json:"field_mapping"`
}

// Source selects what to import: a single file or a directory of files.
type Source struct {
	// Kind is "file" or "directory".
	Kind string `json:"kind"`
	Path string `json:"path"`

	// Pattern globs files for directory sources (default "*.txt").
	Pattern string `json:"pattern"`

	// MaxFiles caps a directory run; 0 means no cap.
	MaxFiles int `json:"max_files"`
}

// Format selects a built-in profile and optional overrides on top of it.
// Pointer fields distinguish "absent" from a zero override.
type Format struct {
	// Profile is one of pipeline.ProfileNames (default "csv").
	Profile string `json:"profile"`

	Delimiter    string   `json:"delimiter"`
	HasHeader    *bool    `json:"has_header"`
	SkipHeader   *bool    `json:"skip_header"`
	FieldNames   []string `json:"field_names"`
	Encoding     string   `json:"encoding"`
	MinFields    *int     `json:"min_fields"`
	StrictQuotes bool     `json:"strict_quotes"`
}

// Validation overrides the profile's validation policy.
type Validation struct {
	StrictMode bool `json:"strict_mode"`

	// Bounds is [minLon, minLat, maxLon, maxLat]; empty keeps the
	// profile's box, explicit null/empty-with-clear=true removes it.
	Bounds []float64 `json:"bounds"`

	// ClearBounds removes the profile's bounding box.
	ClearBounds bool `json:"clear_bounds"`

	SpeedThresholdKmh float64 `json:"speed_threshold_kmh"`
}

// Storage selects the backend.
type Storage struct {
	// Kind is a registered store backend: "postgres", "sqlite", "mysql".
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`

	// Bootstrap creates the schema before importing.
	Bootstrap bool `json:"bootstrap"`
}

// Runtime holds the operational knobs. Zero values fall back to environment
// variables (TRACEIMPORT_WORKERS, TRACEIMPORT_BATCH_SIZE) and then defaults.
type Runtime struct {
	Workers   int `json:"workers"`
	BatchSize int `json:"batch_size"`

	// MetricsBackend is "" (none) or "prompush".
	MetricsBackend string `json:"metrics_backend"`
	PushgatewayURL string `json:"pushgateway_url"`
}

// Load reads and decodes a spec file.
func Load(path string) (Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return Spec{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	var s Spec
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Spec{}, fmt.Errorf("config %s: %w", path, err)
	}
	return s, nil
}

// EffectiveWorkers resolves the worker count: spec, env, then 4.
func (r Runtime) EffectiveWorkers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return getenvInt("TRACEIMPORT_WORKERS", 4)
}

// EffectiveBatchSize resolves the batch size: spec, env, then the writer's
// default.
func (r Runtime) EffectiveBatchSize() int {
	if r.BatchSize > 0 {
		return r.BatchSize
	}
	return getenvInt("TRACEIMPORT_BATCH_SIZE", 0)
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Profile materializes the format profile: the named built-in plus the import
// spec's format and validation overrides and the dataset field mapping.
func (s Spec) Profile() (pipeline.FormatProfile, error) {
	name := s.Format.Profile
	if name == "" {
		name = "csv"
	}
	p, err := pipeline.ProfileByName(name)
	if err != nil {
		return pipeline.FormatProfile{}, err
	}

	if s.Format.Delimiter != "" {
		r := []rune(s.Format.Delimiter)
		if len(r) != 1 {
			return pipeline.FormatProfile{}, fmt.Errorf("config: delimiter must be one character, got %q", s.Format.Delimiter)
		}
		p.Reader.Delimiter = r[0]
	}
	if s.Format.HasHeader != nil {
		p.Reader.HasHeader = *s.Format.HasHeader
	}
	if s.Format.SkipHeader != nil {
		p.Reader.SkipHeader = *s.Format.SkipHeader
	}
	if len(s.Format.FieldNames) > 0 {
		p.Reader.FieldNames = s.Format.FieldNames
	}
	if s.Format.Encoding != "" {
		p.Reader.Encoding = s.Format.Encoding
	}
	if s.Format.StrictQuotes {
		p.Reader.StrictQuotes = true
	}
	if s.Format.MinFields != nil {
		p.MinFields = *s.Format.MinFields
	}

	if s.Dataset.FieldMapping.Len() > 0 {
		fm := s.Dataset.FieldMapping
		p.Mapping = &fm
	}

	p.Validation.StrictMode = s.Validation.StrictMode
	if s.Validation.ClearBounds {
		p.Validation.Bounds = nil
	}
	if len(s.Validation.Bounds) == 4 {
		b := s.Validation.Bounds
		p.Validation.Bounds = &validator.BoundingBox{
			MinLon: b[0], MinLat: b[1], MaxLon: b[2], MaxLat: b[3],
		}
	}
	if s.Validation.SpeedThresholdKmh > 0 {
		p.Validation.SpeedThresholdKmh = s.Validation.SpeedThresholdKmh
	}
	return p, nil
}

// ReaderOptions is a convenience for tools that only need the reader half of
// the profile.
func (s Spec) ReaderOptions() (reader.Options, error) {
	p, err := s.Profile()
	if err != nil {
		return reader.Options{}, err
	}
	return p.Reader, nil
}
