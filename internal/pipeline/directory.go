package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"traceimport/internal/job"
	"traceimport/internal/metrics"
	"traceimport/internal/source"
)

// Summary aggregates a multi-file import run.
type Summary struct {
	BatchID         string
	TotalFiles      int
	SuccessfulFiles int
	FailedFiles     int
	TotalPoints     int64
	FailedPoints    int64
	Duration        time.Duration
}

// ImportDirectory imports every file under dir matching pattern (default
// "*.txt"), up to maxFiles when positive, using at most workers concurrent
// file imports.
func (p *Pipeline) ImportDirectory(ctx context.Context, dir, pattern string, maxFiles, workers int) (Summary, error) {
	files, err := source.List(dir, pattern, maxFiles)
	if err != nil {
		return Summary{}, err
	}
	if len(files) == 0 {
		return Summary{}, fmt.Errorf("no files matching %q under %s", pattern, dir)
	}
	srcs := make([]source.Source, len(files))
	for i, f := range files {
		srcs[i] = f
	}
	return p.ImportSources(ctx, srcs, workers)
}

// ImportSources imports srcs with a bounded worker pool. Files are isolated:
// one failing file is counted and the rest proceed. The run as a whole errors
// only on cancellation or when every file failed.
func (p *Pipeline) ImportSources(ctx context.Context, srcs []source.Source, workers int) (Summary, error) {
	if workers <= 0 {
		workers = 4
	}
	started := time.Now()
	sum := Summary{
		BatchID:    uuid.NewString(),
		TotalFiles: len(srcs),
	}
	log.Printf("batch %s: importing %d files workers=%d dataset=%s profile=%s",
		sum.BatchID, len(srcs), workers, p.datasetID, p.profile.Name)

	results := make(chan *job.Job)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for j := range results {
			sum.TotalPoints += j.Successful
			sum.FailedPoints += j.Failed
			if j.Status == job.StatusCompleted {
				sum.SuccessfulFiles++
			} else {
				sum.FailedFiles++
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, src := range srcs {
		src := src
		g.Go(func() error {
			j, err := p.ImportFile(gctx, src)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("batch %s: file %s failed: %v", sum.BatchID, src.Name(), err)
			}
			select {
			case results <- j:
			case <-gctx.Done():
				return gctx.Err()
			}
			// File isolation: only cancellation stops the group.
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	gerr := g.Wait()
	close(results)
	<-done

	sum.Duration = time.Since(started)
	metrics.RecordStep(p.jobName, "import_directory", gerr, sum.Duration)
	log.Printf("batch %s: done files=%d ok=%d failed=%d points=%d rejected=%d duration=%s",
		sum.BatchID, sum.TotalFiles, sum.SuccessfulFiles, sum.FailedFiles,
		sum.TotalPoints, sum.FailedPoints, sum.Duration.Truncate(time.Millisecond))

	if gerr != nil {
		return sum, gerr
	}
	if sum.SuccessfulFiles == 0 {
		return sum, fmt.Errorf("batch %s: all %d files failed", sum.BatchID, sum.TotalFiles)
	}
	return sum, nil
}
