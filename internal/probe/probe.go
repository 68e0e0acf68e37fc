// Package probe implements a dry-run sampler for trace files: it reads the
// first N records through the same reader/mapper/validator chain the import
// uses and reports field coverage, a suggested canonical mapping, and
// rejection counts. Nothing is written anywhere; probing a file is always
// safe.
package probe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"traceimport/internal/mapper"
	"traceimport/internal/pipeline"
	"traceimport/internal/reader"
	"traceimport/internal/trace"
	"traceimport/internal/validator"
)

// Options configures a probe run.
type Options struct {
	Path string

	// Samples caps the number of records examined (default 1000).
	Samples int

	// Profile names a built-in format profile; empty picks "csv" for
	// .csv files and "tdrive" otherwise.
	Profile string

	// Delimiter overrides the profile's field separator when non-zero.
	Delimiter rune

	Strict bool
}

// FieldStat summarizes one observed source field.
type FieldStat struct {
	Name     string
	NonEmpty int
	Example  string
}

// Report is the outcome of a probe run.
type Report struct {
	Path     string
	Profile  string
	Sampled  int
	Accepted int
	Warned   int
	Rejected map[trace.ErrorType]int

	Fields    []FieldStat
	Suggested [][2]string // (canonical, source) pairs not already canonical
}

// fieldSynonyms maps common source column names to canonical fields, used
// for the suggested mapping.
var fieldSynonyms = map[string]string{
	"taxi_id":    trace.FieldEntityID,
	"driver_id":  trace.FieldEntityID,
	"vehicle_id": trace.FieldEntityID,
	"device_id":  trace.FieldEntityID,
	"id":         trace.FieldEntityID,
	"time":       trace.FieldTimestamp,
	"datetime":   trace.FieldTimestamp,
	"date_time":  trace.FieldTimestamp,
	"ts":         trace.FieldTimestamp,
	"lon":        trace.FieldLongitude,
	"lng":        trace.FieldLongitude,
	"x":          trace.FieldLongitude,
	"lat":        trace.FieldLatitude,
	"y":          trace.FieldLatitude,
	"velocity":   trace.FieldSpeed,
	"speed_kmh":  trace.FieldSpeed,
	"bearing":    trace.FieldHeading,
	"course":     trace.FieldHeading,
	"alt":        trace.FieldAltitude,
	"elevation":  trace.FieldAltitude,
	"hdop":       trace.FieldAccuracy,
	"precision":  trace.FieldAccuracy,
}

// Run samples the file and builds a Report.
func Run(opts Options) (*Report, error) {
	if opts.Samples <= 0 {
		opts.Samples = 1000
	}
	profName := opts.Profile
	if profName == "" {
		if strings.EqualFold(filepath.Ext(opts.Path), ".csv") {
			profName = "csv"
		} else {
			profName = "tdrive"
		}
	}
	prof, err := pipeline.ProfileByName(profName)
	if err != nil {
		return nil, err
	}
	if opts.Delimiter != 0 {
		prof.Reader.Delimiter = opts.Delimiter
	}
	prof.Validation.StrictMode = opts.Strict

	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := reader.New(f, prof.Reader)
	if err != nil {
		return nil, err
	}
	v := validator.New(prof.Validation)

	rep := &Report{
		Path:     opts.Path,
		Profile:  profName,
		Rejected: make(map[trace.ErrorType]int),
	}
	stats := map[string]*FieldStat{}
	var order []string

	for rep.Sampled < opts.Samples {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if _, ok := err.(*reader.FormatError); ok {
			rep.Sampled++
			rep.Rejected[trace.FormatError]++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", opts.Path, err)
		}
		rep.Sampled++

		for i, k := range rec.Keys {
			st, ok := stats[k]
			if !ok {
				st = &FieldStat{Name: k}
				stats[k] = st
				order = append(order, k)
			}
			if val := rec.Values[i]; val != "" {
				st.NonEmpty++
				if st.Example == "" {
					st.Example = val
				}
			}
		}

		if prof.MinFields > 0 && len(rec.Values) < prof.MinFields {
			rep.Rejected[trace.FormatError]++
			continue
		}
		out := v.ValidatePoint(mapper.Map(rec, prof.Mapping))
		switch {
		case !out.Accepted:
			for _, e := range out.Errors {
				rep.Rejected[e.Type]++
			}
		case len(out.Warnings) > 0:
			rep.Warned++
			rep.Accepted++
		default:
			rep.Accepted++
		}
	}

	for _, name := range order {
		rep.Fields = append(rep.Fields, *stats[name])
		if canon, ok := fieldSynonyms[strings.ToLower(name)]; ok && !trace.IsCanonicalField(name) {
			rep.Suggested = append(rep.Suggested, [2]string{canon, name})
		}
	}
	return rep, nil
}

// Render formats the report for terminal output.
func (r *Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "file:    %s\n", r.Path)
	fmt.Fprintf(&b, "profile: %s\n", r.Profile)
	fmt.Fprintf(&b, "sampled: %d  accepted: %d (with warnings: %d)\n", r.Sampled, r.Accepted, r.Warned)

	if len(r.Rejected) > 0 {
		types := make([]string, 0, len(r.Rejected))
		for t := range r.Rejected {
			types = append(types, string(t))
		}
		sort.Strings(types)
		b.WriteString("rejections:\n")
		for _, t := range types {
			fmt.Fprintf(&b, "  %-18s %d\n", t, r.Rejected[trace.ErrorType(t)])
		}
	}

	b.WriteString("fields:\n")
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "  %-16s non_empty=%-7d example=%q\n", f.Name, f.NonEmpty, f.Example)
	}

	if len(r.Suggested) > 0 {
		b.WriteString("suggested field_mapping:\n")
		b.WriteString("  {\n")
		for i, p := range r.Suggested {
			comma := ","
			if i == len(r.Suggested)-1 {
				comma = ""
			}
			fmt.Fprintf(&b, "    %q: %q%s\n", p[0], p[1], comma)
		}
		b.WriteString("  }\n")
	}
	return b.String()
}
