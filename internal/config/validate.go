// Static validation / linting of decoded Specs. Checks return a list of
// issues (errors and warnings) instead of failing on the first problem, so a
// CLI can surface everything wrong with a config at once.
package config

import (
	"fmt"
	"strings"

	"traceimport/internal/pipeline"
)

// IssueSeverity grades a configuration finding.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single finding. Path is a dotted path into the config
// ("storage.kind", "validation.bounds").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements error so an Issue can be treated as one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is of error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate lints a Spec without mutating it. Callers decide whether warnings
// are fatal.
func Validate(s Spec) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "job",
			Message:  "job is empty; metrics and logs will use the default label",
		})
	}
	if strings.TrimSpace(s.Dataset.ID) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "dataset.id",
			Message:  "dataset.id must not be empty",
		})
	}

	issues = append(issues, validateSource(s.Source)...)
	issues = append(issues, validateFormat(s.Format)...)
	issues = append(issues, validateValidation(s.Validation)...)
	issues = append(issues, validateStorage(s.Storage)...)
	issues = append(issues, validateRuntime(s.Runtime)...)
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue
	switch s.Kind {
	case "file", "directory":
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  "source.kind must be \"file\" or \"directory\"",
		})
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q", s.Kind),
		})
	}
	if strings.TrimSpace(s.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.path",
			Message:  "source.path must not be empty",
		})
	}
	if s.Kind == "file" && s.Pattern != "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.pattern",
			Message:  "pattern is ignored for file sources",
		})
	}
	if s.MaxFiles < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.max_files",
			Message:  "max_files must not be negative",
		})
	}
	return issues
}

func validateFormat(f Format) []Issue {
	var issues []Issue
	if f.Profile != "" {
		if _, err := pipeline.ProfileByName(f.Profile); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "format.profile",
				Message:  fmt.Sprintf("%v (known: %v)", err, pipeline.ProfileNames()),
			})
		}
	}
	if f.Delimiter != "" && len([]rune(f.Delimiter)) != 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "format.delimiter",
			Message:  fmt.Sprintf("delimiter must be a single character, got %q", f.Delimiter),
		})
	}
	if f.HasHeader != nil && *f.HasHeader && len(f.FieldNames) > 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "format.field_names",
			Message:  "field_names are ignored when the header row names the columns",
		})
	}
	if f.MinFields != nil && *f.MinFields < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "format.min_fields",
			Message:  "min_fields must not be negative",
		})
	}
	return issues
}

func validateValidation(v Validation) []Issue {
	var issues []Issue
	switch len(v.Bounds) {
	case 0, 4:
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "validation.bounds",
			Message:  fmt.Sprintf("bounds must be [minLon, minLat, maxLon, maxLat], got %d values", len(v.Bounds)),
		})
	}
	if len(v.Bounds) == 4 {
		if v.Bounds[0] > v.Bounds[2] || v.Bounds[1] > v.Bounds[3] {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "validation.bounds",
				Message:  "bounds min must not exceed max",
			})
		}
		if v.ClearBounds {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "validation.clear_bounds",
				Message:  "clear_bounds is ignored when bounds are set",
			})
		}
	}
	if v.SpeedThresholdKmh < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "validation.speed_threshold_kmh",
			Message:  "speed threshold must not be negative",
		})
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.dsn",
			Message:  "storage.dsn must not be empty",
		})
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue
	if r.Workers < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.workers",
			Message:  "workers must not be negative",
		})
	}
	if r.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.batch_size",
			Message:  "batch_size must not be negative",
		})
	}
	switch r.MetricsBackend {
	case "", "prompush":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.metrics_backend",
			Message:  fmt.Sprintf("unknown metrics backend %q (known: prompush)", r.MetricsBackend),
		})
	}
	if r.MetricsBackend == "prompush" && strings.TrimSpace(r.PushgatewayURL) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.pushgateway_url",
			Message:  "pushgateway_url is required for the prompush backend",
		})
	}
	return issues
}
