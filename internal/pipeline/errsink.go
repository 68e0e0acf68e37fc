package pipeline

import (
	"context"
	"log"
	"sort"
	"strconv"
	"strings"

	"traceimport/internal/trace"
)

// errLogSamples is how many rejections per error type are logged verbatim;
// further ones are only counted and show up in the end-of-run summary.
const errLogSamples = 5

// defaultSinkCap is the buffered-entry flush threshold.
const defaultSinkCap = 500

// Appender is the slice of storage the sink needs.
type Appender interface {
	AppendValidationErrors(ctx context.Context, errs []trace.ValidationError) error
}

// ErrorSink collects per-record rejections for one job: it buffers durable
// log entries, flushes them to storage in batches, keeps per-type counts, and
// logs only the first few samples of each type so a garbage file cannot flood
// the log. Owned by a single import; not safe for concurrent use.
type ErrorSink struct {
	app   Appender
	jobID string
	cap   int

	buf    []trace.ValidationError
	counts map[trace.ErrorType]int64
	total  int64
}

// NewErrorSink creates a sink flushing every capacity entries (defaultSinkCap
// when capacity <= 0).
func NewErrorSink(app Appender, jobID string, capacity int) *ErrorSink {
	if capacity <= 0 {
		capacity = defaultSinkCap
	}
	return &ErrorSink{
		app:    app,
		jobID:  jobID,
		cap:    capacity,
		buf:    make([]trace.ValidationError, 0, capacity),
		counts: make(map[trace.ErrorType]int64),
	}
}

// Record buffers one rejected record with all of its errors. The raw line is
// truncated to a bounded length before buffering. The sink flushes itself
// when the buffer fills; flush failures are logged, never fatal — losing
// error-log rows must not fail an otherwise healthy import.
func (s *ErrorSink) Record(ctx context.Context, recordNumber int, raw string, errs ...trace.RecordError) {
	for _, e := range errs {
		s.total++
		s.counts[e.Type]++
		if s.counts[e.Type] <= errLogSamples {
			log.Printf("job %s: record %d: %v", s.jobID, recordNumber, e)
		}
		s.buf = append(s.buf, trace.NewValidationError(s.jobID, recordNumber, raw, e))
	}
	if len(s.buf) >= s.cap {
		s.Flush(ctx)
	}
}

// Flush persists the buffered entries. Best-effort: on storage failure the
// entries are dropped with a log line and the import continues.
func (s *ErrorSink) Flush(ctx context.Context) {
	if len(s.buf) == 0 {
		return
	}
	if err := s.app.AppendValidationErrors(ctx, s.buf); err != nil {
		log.Printf("job %s: dropping %d error-log rows: %v", s.jobID, len(s.buf), err)
	}
	s.buf = s.buf[:0]
}

// Total returns the number of recorded errors across all types.
func (s *ErrorSink) Total() int64 { return s.total }

// Count returns the number of recorded errors of one type.
func (s *ErrorSink) Count(t trace.ErrorType) int64 { return s.counts[t] }

// Summary renders the per-type counts as "TYPE=N TYPE=N", sorted by type, for
// the end-of-run log line. Empty when nothing was rejected.
func (s *ErrorSink) Summary() string {
	if s.total == 0 {
		return ""
	}
	types := make([]string, 0, len(s.counts))
	for t := range s.counts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, t+"="+strconv.FormatInt(s.counts[trace.ErrorType(t)], 10))
	}
	return strings.Join(parts, " ")
}
