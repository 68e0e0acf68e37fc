package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"traceimport/internal/batch"
	"traceimport/internal/job"
	"traceimport/internal/mapper"
	"traceimport/internal/metrics"
	"traceimport/internal/reader"
	"traceimport/internal/source"
	"traceimport/internal/store"
	"traceimport/internal/trace"
	"traceimport/internal/validator"
)

// Pipeline runs imports against one dataset, one store, one format profile.
// A Pipeline value is immutable after construction and safe to share across
// concurrent file imports; all per-file state lives in ImportFile locals.
type Pipeline struct {
	store     store.Store
	profile   FormatProfile
	datasetID string
	batchSize int
	jobName   string

	validate *validator.Validator
}

// Option tweaks pipeline construction.
type Option func(*Pipeline)

// WithBatchSize overrides the flush threshold (default batch.DefaultSize).
func WithBatchSize(n int) Option {
	return func(p *Pipeline) { p.batchSize = n }
}

// WithJobName sets the metrics/log label (default "traceimport").
func WithJobName(name string) Option {
	return func(p *Pipeline) {
		if name != "" {
			p.jobName = name
		}
	}
}

// New builds a Pipeline for datasetID using profile and st.
func New(st store.Store, profile FormatProfile, datasetID string, opts ...Option) (*Pipeline, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("pipeline: dataset id must not be empty")
	}
	p := &Pipeline{
		store:     st,
		profile:   profile,
		datasetID: datasetID,
		jobName:   "traceimport",
		validate:  validator.New(profile.Validation),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ImportFile runs one source through the pipeline. It always returns the job
// (in a terminal state) so callers can inspect counters even on failure; the
// error is non-nil when the run did not complete.
//
// Per-record failures are logged and counted, never fatal. Fatal conditions
// are: the source cannot be opened, the byte stream breaks mid-file, a batch
// cannot be flushed after retries, or the caller cancels (observed at batch
// boundaries, terminal status "cancelled").
func (p *Pipeline) ImportFile(ctx context.Context, src source.Source) (*job.Job, error) {
	started := time.Now()
	j := job.New(src.Name(), p.datasetID)
	if err := p.store.SaveJob(ctx, j); err != nil {
		return j, fmt.Errorf("create job: %w", err)
	}

	jj, err := p.runFile(ctx, j, src)
	metrics.RecordStep(p.jobName, "import_file", err, time.Since(started))
	return jj, err
}

func (p *Pipeline) runFile(ctx context.Context, j *job.Job, src source.Source) (*job.Job, error) {
	_ = j.Start()
	if err := p.store.SaveJob(ctx, j); err != nil {
		return p.fail(ctx, j, fmt.Errorf("checkpoint job: %w", err))
	}

	rc, err := src.Open(ctx)
	if err != nil {
		return p.fail(ctx, j, err)
	}
	defer rc.Close()

	r, err := reader.New(rc, p.profile.Reader)
	if err != nil {
		return p.fail(ctx, j, err)
	}

	w := batch.NewWriter(p.store, p.batchSize, p.jobName)
	sink := NewErrorSink(p.store, j.ID, 0)
	defaultEntity := ""
	if p.profile.EntityFromFilename {
		defaultEntity = source.EntityFromName(src.Name())
	}

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		var fe *reader.FormatError
		if errors.As(err, &fe) {
			j.RecordFailure()
			sink.Record(ctx, fe.Line, fe.Raw,
				trace.Errf(trace.FormatError, "", "unparseable row: %v", fe.Err))
			continue
		}
		if err != nil {
			return p.fail(ctx, j, fmt.Errorf("read source: %w", err))
		}

		flushed, err := p.processRecord(ctx, rec, defaultEntity, w, sink, j)
		if err != nil {
			if ctx.Err() != nil {
				return p.cancel(ctx, j)
			}
			return p.fail(ctx, j, err)
		}
		if flushed {
			sink.Flush(ctx)
			if ctx.Err() != nil {
				return p.cancel(ctx, j)
			}
			if err := p.store.SaveJob(ctx, j); err != nil {
				return p.fail(ctx, j, fmt.Errorf("checkpoint job: %w", err))
			}
		}
	}

	if err := w.Flush(ctx); err != nil {
		if ctx.Err() != nil {
			return p.cancel(ctx, j)
		}
		return p.fail(ctx, j, fmt.Errorf("final flush: %w", err))
	}
	sink.Flush(ctx)

	_ = j.Complete()
	if err := p.store.SaveJob(ctx, j); err != nil {
		return j, fmt.Errorf("save final job: %w", err)
	}

	metrics.RecordRecords(p.jobName, "processed", j.Processed)
	metrics.RecordRecords(p.jobName, "accepted", j.Successful)
	metrics.RecordRecords(p.jobName, "rejected", j.Failed)
	summary := sink.Summary()
	if summary == "" {
		summary = "none"
	}
	log.Printf("job %s: file=%s processed=%d successful=%d failed=%d inserted=%d conflicts=%d dupes=%d batches=%d duration=%s errors: %s",
		j.ID, j.Filename, j.Processed, j.Successful, j.Failed,
		w.Inserted(), w.Conflicts(), w.Duplicates(), w.Batches(),
		j.Duration().Truncate(time.Millisecond), summary)
	return j, nil
}

// processRecord takes one raw record through mapping, validation, and the
// batch writer. Returned errors are fatal (storage); everything record-level
// is absorbed into the sink and counters. A panic while handling the record
// is confined to that record and logged as UNKNOWN_ERROR.
func (p *Pipeline) processRecord(ctx context.Context, rec trace.RawRecord, defaultEntity string,
	w *batch.Writer, sink *ErrorSink, j *job.Job) (flushed bool, err error) {

	raw := rec.Joined(p.profile.Reader.Delimiter)

	defer func() {
		if r := recover(); r != nil {
			j.RecordFailure()
			sink.Record(ctx, rec.Number, raw,
				trace.Errf(trace.UnknownError, "", "record processing panic: %v", r))
			flushed, err = false, nil
		}
	}()

	if p.profile.MinFields > 0 && len(rec.Values) < p.profile.MinFields {
		j.RecordFailure()
		sink.Record(ctx, rec.Number, raw,
			trace.Errf(trace.FormatError, "", "expected at least %d fields, got %d",
				p.profile.MinFields, len(rec.Values)))
		return false, nil
	}

	m := mapper.Map(rec, p.profile.Mapping)

	entity, ok := m.Get(trace.FieldEntityID)
	if !ok || p.profile.EntityFromFilename {
		entity = defaultEntity
	}
	if entity == "" {
		j.RecordFailure()
		sink.Record(ctx, rec.Number, raw,
			trace.Errf(trace.ValidationErr, trace.FieldEntityID, "missing entity id"))
		return false, nil
	}

	out := p.validate.ValidatePoint(m)
	if !out.Accepted {
		j.RecordFailure()
		sink.Record(ctx, rec.Number, raw, out.Errors...)
		return false, nil
	}

	pt := trace.GPSPoint{
		DatasetID:       p.datasetID,
		EntityID:        entity,
		Timestamp:       out.Timestamp,
		Longitude:       out.Longitude,
		Latitude:        out.Latitude,
		Speed:           out.Speed,
		Heading:         out.Heading,
		Altitude:        out.Altitude,
		Accuracy:        out.Accuracy,
		Extra:           m.Extra,
		IsValid:         len(out.Warnings) == 0,
		ValidationFlags: out.Warnings,
	}
	flushed, err = w.Add(ctx, pt)
	if err != nil {
		return flushed, fmt.Errorf("write batch: %w", err)
	}
	j.RecordSuccess()
	return flushed, nil
}

// fail moves the job to failed, best-effort persists it, and returns the
// original error. Persisting uses a context detached from the caller's so a
// cancelled run can still record its fate.
func (p *Pipeline) fail(ctx context.Context, j *job.Job, cause error) (*job.Job, error) {
	_ = j.Fail(cause.Error())
	p.saveFinal(ctx, j)
	return j, cause
}

func (p *Pipeline) cancel(ctx context.Context, j *job.Job) (*job.Job, error) {
	cause := ctx.Err()
	_ = j.Cancel()
	p.saveFinal(ctx, j)
	return j, cause
}

func (p *Pipeline) saveFinal(ctx context.Context, j *job.Job) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.store.SaveJob(saveCtx, j); err != nil {
		log.Printf("job %s: save terminal state %s: %v", j.ID, j.Status, err)
	}
}
