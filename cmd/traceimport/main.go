// Command traceimport runs a mobility-trace import described by a JSON spec:
// one file or a directory of files, through mapping, validation, and batched
// loading into the configured store.
//
// Usage:
//
//	traceimport -config import.json
//	traceimport -config import.json -validate   # lint the import spec and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"traceimport/internal/config"
	"traceimport/internal/metrics"
	"traceimport/internal/metrics/prompush"
	"traceimport/internal/pipeline"
	"traceimport/internal/source"
	"traceimport/internal/store"
	_ "traceimport/internal/store/all"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to the JSON import spec (required)")
		validateOnly = flag.Bool("validate", false, "lint the import spec and exit without importing")
		verbose      = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "traceimport: -config is required")
		flag.Usage()
		os.Exit(2)
	}
	if *verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	if err := run(*configPath, *validateOnly); err != nil {
		log.Fatalf("traceimport: %v", err)
	}
}

func run(configPath string, validateOnly bool) error {
	spec, err := config.Load(configPath)
	if err != nil {
		return err
	}

	issues := config.Validate(spec)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("import spec has errors")
	}
	if validateOnly {
		fmt.Println("import spec ok")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobName := spec.Job
	if jobName == "" {
		jobName = "traceimport"
	}
	if spec.Runtime.MetricsBackend == "prompush" {
		b, err := prompush.NewBackend(jobName, spec.Runtime.PushgatewayURL)
		if err != nil {
			return err
		}
		metrics.SetBackend(b)
		defer func() {
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics push: %v", err)
			}
		}()
	}

	st, err := store.New(ctx, store.Config{Kind: spec.Storage.Kind, DSN: spec.Storage.DSN})
	if err != nil {
		return err
	}
	defer st.Close()

	if spec.Storage.Bootstrap {
		if err := st.Bootstrap(ctx); err != nil {
			return err
		}
	}

	profile, err := spec.Profile()
	if err != nil {
		return err
	}
	p, err := pipeline.New(st, profile, spec.Dataset.ID,
		pipeline.WithBatchSize(spec.Runtime.EffectiveBatchSize()),
		pipeline.WithJobName(jobName),
	)
	if err != nil {
		return err
	}

	switch spec.Source.Kind {
	case "file":
		j, err := p.ImportFile(ctx, source.File{Path: spec.Source.Path})
		if err != nil {
			return fmt.Errorf("import %s (job %s): %w", spec.Source.Path, j.ID, err)
		}
		fmt.Printf("job %s: %s processed=%d successful=%d failed=%d\n",
			j.ID, j.Status, j.Processed, j.Successful, j.Failed)
		return nil

	case "directory":
		sum, err := p.ImportDirectory(ctx, spec.Source.Path, spec.Source.Pattern,
			spec.Source.MaxFiles, spec.Runtime.EffectiveWorkers())
		if err != nil {
			return err
		}
		fmt.Printf("batch %s: files=%d ok=%d failed=%d points=%d rejected=%d duration=%s\n",
			sum.BatchID, sum.TotalFiles, sum.SuccessfulFiles, sum.FailedFiles,
			sum.TotalPoints, sum.FailedPoints, sum.Duration)
		return nil

	default:
		return fmt.Errorf("unsupported source kind %q", spec.Source.Kind)
	}
}
