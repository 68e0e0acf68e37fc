// Package reader implements a streaming, line-oriented delimited reader for
// mobility trace files. It never buffers the whole input and tolerates the
// messiness of real-world exports: unknown encodings, UTF BOMs, unescaped
// quotes, blank lines, and variable field counts.
//
// Blank lines are skipped silently: they advance the physical line number
// (so error logs point at the right line) but are never surfaced as records.
package reader

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"traceimport/internal/trace"
)

// Options configures the reader. All fields are optional; zero values give a
// comma-delimited, trimmed, headerless reader that names columns positionally.
type Options struct {
	// Delimiter is the field separator. Zero means ','.
	Delimiter rune

	// SkipHeader consumes the first row without surfacing it as a record.
	// The skipped row is available via Header but is not interpreted.
	SkipHeader bool

	// HasHeader consumes the first row and uses its cells as the field
	// names for every following record. Implies the row is skipped.
	HasHeader bool

	// FieldNames names columns positionally when the input has no header.
	// Columns beyond the list are named col_N.
	FieldNames []string

	// TrimSpace trims ASCII whitespace from each field value.
	TrimSpace bool

	// StrictQuotes enforces RFC 4180 quoting. The default is lazy: bare
	// and unterminated quotes are taken literally, which suits messy
	// exports. Strict mode surfaces them as per-row FormatErrors.
	StrictQuotes bool

	// Encoding selects the input byte encoding: "", "utf-8", "utf8",
	// "latin-1", "iso-8859-1", or "windows-1252". UTF BOMs are honored
	// and stripped in all cases.
	Encoding string
}

func (o Options) delimiter() rune {
	if o.Delimiter != 0 {
		return o.Delimiter
	}
	return ','
}

// FormatError marks a row the container format could not parse; callers log
// it against the offending line and continue with the next record. Raw holds
// the offending line's content when it is still within the capture window.
type FormatError struct {
	Line int
	Raw  string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Reader streams RawRecords from a delimited byte stream.
type Reader struct {
	opt    Options
	cr     *csv.Reader
	capt   *lineCapture
	header []string
	names  []string
	first  bool
}

// New wraps r with the configured decoding and CSV parsing. The CSV layer is
// deliberately lenient (lazy quotes, variable field count); structural
// enforcement happens downstream where it can be logged per record.
func New(r io.Reader, opt Options) (*Reader, error) {
	dec, err := decoderFor(opt.Encoding)
	if err != nil {
		return nil, err
	}
	capt := newLineCapture(transform.NewReader(r, dec))
	cr := csv.NewReader(capt)
	cr.Comma = opt.delimiter()
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = !opt.StrictQuotes
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	return &Reader{opt: opt, cr: cr, capt: capt, first: true}, nil
}

// decoderFor resolves the encoding name to a transformer. The BOM override
// lets a UTF-8/UTF-16 byte-order mark win over the declared encoding, which
// is the common failure mode of re-exported files.
func decoderFor(name string) (transform.Transformer, error) {
	var enc encoding.Encoding
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		enc = unicode.UTF8
	case "latin-1", "iso-8859-1":
		enc = charmap.ISO8859_1
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return unicode.BOMOverride(enc.NewDecoder()), nil
}

// Header returns the consumed header row, if any. Valid after the first call
// to Next.
func (r *Reader) Header() []string { return r.header }

// Next returns the next non-blank record. It returns io.EOF at end of input,
// a *FormatError for rows the container format rejects, and other errors
// verbatim for infrastructure failures (I/O).
func (r *Reader) Next() (trace.RawRecord, error) {
	if r.first {
		r.first = false
		if r.opt.HasHeader || r.opt.SkipHeader {
			row, err := r.cr.Read()
			if err == io.EOF {
				return trace.RawRecord{}, io.EOF
			}
			if err != nil {
				return trace.RawRecord{}, fmt.Errorf("read header: %w", err)
			}
			r.header = trimAll(row)
			if r.opt.HasHeader {
				r.names = r.header
			}
		}
		if r.names == nil {
			r.names = r.opt.FieldNames
		}
	}

	for {
		row, err := r.cr.Read()
		if err == io.EOF {
			return trace.RawRecord{}, io.EOF
		}
		line := r.line()
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return trace.RawRecord{}, &FormatError{
					Line: pe.Line,
					Raw:  r.capt.raw(pe.Line),
					Err:  pe.Err,
				}
			}
			return trace.RawRecord{}, err
		}
		if isBlank(row) {
			continue
		}

		rec := trace.RawRecord{
			Number: line,
			Keys:   make([]string, len(row)),
			Values: make([]string, len(row)),
		}
		for i, val := range row {
			if r.opt.TrimSpace {
				val = strings.TrimSpace(val)
			}
			rec.Keys[i] = r.keyFor(i)
			rec.Values[i] = val
		}
		return rec, nil
	}
}

// line reports the physical line of the row just read. FieldPos is only
// valid immediately after a successful Read.
func (r *Reader) line() int {
	defer func() { _ = recover() }()
	line, _ := r.cr.FieldPos(0)
	return line
}

// keyFor names column idx from the header/field names, synthesizing col_N
// for unnamed trailing columns.
func (r *Reader) keyFor(idx int) string {
	if idx < len(r.names) && r.names[idx] != "" {
		return r.names[idx]
	}
	return fmt.Sprintf("col_%d", idx)
}

// isBlank reports whether the row is an all-whitespace line. encoding/csv
// already drops truly empty lines; this catches lines of spaces or tabs.
func isBlank(row []string) bool {
	if len(row) > 1 {
		return false
	}
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

const (
	// captureLimit caps the bytes kept per line; error logs truncate the
	// raw content anyway.
	captureLimit = 512

	// captureWindow is how many lines are kept behind the read-ahead
	// frontier. The csv layer buffers at most a few KB ahead of the row it
	// reports errors for, so the offending line is always still inside.
	captureWindow = 4096
)

// lineCapture remembers recently consumed input lines so parse failures can
// be reported with the offending line's content. It sits between the decoder
// and the csv layer and sees every byte exactly once.
type lineCapture struct {
	r    io.Reader
	line int
	buf  []byte
	kept map[int]string
}

func newLineCapture(r io.Reader) *lineCapture {
	return &lineCapture{r: r, line: 1, kept: make(map[int]string)}
}

func (c *lineCapture) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	for _, b := range p[:n] {
		if b == '\n' {
			c.kept[c.line] = string(bytes.TrimSuffix(c.buf, []byte{'\r'}))
			delete(c.kept, c.line-captureWindow)
			c.line++
			c.buf = c.buf[:0]
			continue
		}
		if len(c.buf) < captureLimit {
			c.buf = append(c.buf, b)
		}
	}
	return n, err
}

// raw returns the content of line n, or "" when it has left the window. The
// line still being accumulated (no newline yet, e.g. at EOF) is served from
// the working buffer.
func (c *lineCapture) raw(n int) string {
	if n == c.line {
		return string(bytes.TrimSuffix(c.buf, []byte{'\r'}))
	}
	return c.kept[n]
}
