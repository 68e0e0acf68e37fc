// Package batch implements the buffered point writer sitting between the
// pipeline and storage. It groups accepted points into fixed-size batches,
// drops duplicates within a batch before they reach the database, retries
// transient flush failures with bounded backoff, and emits one progress line
// per successful flush with running totals and instantaneous rows/sec.
package batch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zeebo/xxh3"

	"traceimport/internal/metrics"
	"traceimport/internal/trace"
)

// DefaultSize is the flush threshold when the caller does not set one.
const DefaultSize = 1000

const (
	flushAttempts = 3
	retryBackoff  = 250 * time.Millisecond
)

// sleepFn is a test seam for the retry backoff.
var sleepFn = sleepCtx

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Inserter is the slice of storage the writer needs.
type Inserter interface {
	InsertPoints(ctx context.Context, pts []trace.GPSPoint) (inserted, conflicts int64, err error)
}

// Writer buffers points up to a batch size and flushes them through an
// Inserter. Not safe for concurrent use; each import owns its Writer.
type Writer struct {
	ins     Inserter
	size    int
	jobName string

	buf  []trace.GPSPoint
	seen map[uint64]struct{}

	inserted   int64
	conflicts  int64
	duplicates int64
	batches    int64

	start     time.Time
	lastFlush time.Time
	lastTotal int64
}

// NewWriter creates a Writer flushing every size points (DefaultSize when
// size <= 0). jobName labels progress logs and metrics.
func NewWriter(ins Inserter, size int, jobName string) *Writer {
	if size <= 0 {
		size = DefaultSize
	}
	now := time.Now()
	return &Writer{
		ins:       ins,
		size:      size,
		jobName:   jobName,
		buf:       make([]trace.GPSPoint, 0, size),
		seen:      make(map[uint64]struct{}, size),
		start:     now,
		lastFlush: now,
	}
}

// Add buffers one point, flushing when the batch fills. flushed reports
// whether a flush happened, so the caller can checkpoint at batch boundaries.
// A point whose uniqueness key was already buffered in the current batch is
// dropped silently and counted as an in-batch duplicate.
func (w *Writer) Add(ctx context.Context, p trace.GPSPoint) (flushed bool, err error) {
	h := xxh3.HashString(p.Key())
	if _, dup := w.seen[h]; dup {
		w.duplicates++
		return false, nil
	}
	w.seen[h] = struct{}{}
	w.buf = append(w.buf, p)

	if len(w.buf) < w.size {
		return false, nil
	}
	return true, w.Flush(ctx)
}

// Flush writes the buffered batch. It retries transient failures up to
// flushAttempts times with doubling backoff, then gives up with the last
// error. Flushing an empty buffer is a no-op, so Flush is idempotent and
// safe to call again after the final Add.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}

	var (
		lastErr error
		backoff = retryBackoff
	)
	for attempt := 1; attempt <= flushAttempts; attempt++ {
		inserted, conflicts, err := w.ins.InsertPoints(ctx, w.buf)
		if err == nil {
			w.finishFlush(inserted, conflicts)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("batch: flush attempt %d/%d failed rows=%d err=%v",
			attempt, flushAttempts, len(w.buf), err)
		if attempt < flushAttempts {
			if serr := sleepFn(ctx, backoff); serr != nil {
				return serr
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("flush failed after %d attempts: %w", flushAttempts, lastErr)
}

func (w *Writer) finishFlush(inserted, conflicts int64) {
	n := len(w.buf)
	w.buf = w.buf[:0]
	clear(w.seen)

	w.inserted += inserted
	w.conflicts += conflicts
	w.batches++
	metrics.RecordBatches(w.jobName, 1)
	metrics.RecordRecords(w.jobName, "inserted", inserted)
	metrics.RecordRecords(w.jobName, "conflicts", conflicts)

	now := time.Now()
	sinceLast := now.Sub(w.lastFlush)
	rps := float64(0)
	if sinceLast > 0 {
		rps = float64(w.inserted-w.lastTotal) / sinceLast.Seconds()
	}
	log.Printf("batch #%d: rps=%.0f rows=%d inserted=%d conflicts=%d total_inserted=%d elapsed=%s",
		w.batches, rps, n, inserted, conflicts, w.inserted,
		now.Sub(w.start).Truncate(time.Millisecond))
	w.lastFlush = now
	w.lastTotal = w.inserted
}

// Pending returns the number of buffered, unflushed points.
func (w *Writer) Pending() int { return len(w.buf) }

// Inserted returns the total rows reported inserted across flushes.
func (w *Writer) Inserted() int64 { return w.inserted }

// Conflicts returns the total rows skipped by storage as already present.
func (w *Writer) Conflicts() int64 { return w.conflicts }

// Duplicates returns the points dropped by in-batch deduplication.
func (w *Writer) Duplicates() int64 { return w.duplicates }

// Batches returns the number of successful flushes.
func (w *Writer) Batches() int64 { return w.batches }
