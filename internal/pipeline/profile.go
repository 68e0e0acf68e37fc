// Package pipeline orchestrates a full import: read, map, validate, batch,
// persist, with per-record error capture and durable job checkpoints.
package pipeline

import (
	"fmt"
	"sort"

	"traceimport/internal/mapper"
	"traceimport/internal/reader"
	"traceimport/internal/trace"
	"traceimport/internal/validator"
)

// FormatProfile bundles everything format-specific about a trace source:
// reader options, the structural minimum, field mapping, validation policy,
// and how the entity id is derived. Formats are data, not subclasses; a new
// source format is a new profile value, not new code.
type FormatProfile struct {
	Name string

	Reader reader.Options

	// MinFields rejects rows with fewer fields as FORMAT_ERROR before any
	// parsing. Zero disables the check.
	MinFields int

	// EntityFromFilename derives the entity id from the source file name
	// (base name without extension) instead of the entity_id field. The
	// convention of per-entity files ("1.txt" holds taxi 1).
	EntityFromFilename bool

	Mapping *mapper.FieldMapping

	Validation validator.Config
}

// TDrive is the profile for the classic Beijing taxi trace release: headerless
// CSV lines of taxi id, timestamp, longitude, latitude; one file per taxi;
// urban bounding box; taxi-plausible speed ceiling.
func TDrive() FormatProfile {
	return FormatProfile{
		Name: "tdrive",
		Reader: reader.Options{
			FieldNames: []string{
				trace.FieldEntityID,
				trace.FieldTimestamp,
				trace.FieldLongitude,
				trace.FieldLatitude,
			},
			TrimSpace: true,
		},
		MinFields:          4,
		EntityFromFilename: true,
		Validation: validator.Config{
			Bounds:            &validator.BoundingBox{MinLon: 116.25, MinLat: 39.80, MaxLon: 116.60, MaxLat: 40.05},
			SpeedThresholdKmh: 150,
		},
	}
}

// TDriveWide is TDrive with the bounding box widened to the full Beijing
// municipal area, for datasets that include airport and suburban trips.
func TDriveWide() FormatProfile {
	p := TDrive()
	p.Name = "tdrive-wide"
	p.Validation.Bounds = &validator.BoundingBox{MinLon: 115.4, MinLat: 39.4, MaxLon: 117.5, MaxLat: 41.1}
	return p
}

// GenericCSV is the profile for header-carrying CSV exports: field names come
// from the header row, the entity id from the mapped entity_id column, and
// validation applies only the hard WGS84 rules unless configured otherwise.
func GenericCSV() FormatProfile {
	return FormatProfile{
		Name: "csv",
		Reader: reader.Options{
			HasHeader: true,
			TrimSpace: true,
		},
		MinFields: 3,
	}
}

// profiles maps profile names to constructors for config-driven selection.
var profiles = map[string]func() FormatProfile{
	"tdrive":      TDrive,
	"tdrive-wide": TDriveWide,
	"csv":         GenericCSV,
}

// ProfileByName returns a named built-in profile.
func ProfileByName(name string) (FormatProfile, error) {
	f, ok := profiles[name]
	if !ok {
		return FormatProfile{}, fmt.Errorf("unknown format profile %q", name)
	}
	return f(), nil
}

// ProfileNames lists the built-in profile names.
func ProfileNames() []string {
	out := make([]string, 0, len(profiles))
	for k := range profiles {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
