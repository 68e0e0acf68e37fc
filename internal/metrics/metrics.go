// Package metrics is a small, backend-agnostic facade for operational metrics
// from the import pipeline. It exposes a narrow Backend interface with a
// global, pluggable implementation that defaults to a no-op, so call sites
// never need to check whether metrics are configured. Concrete systems live
// in subpackages (prompush); the core pipeline depends only on this package.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveDuration records a latency-style value.
	ObserveDuration(name string, value float64, labels Labels)
	// Flush pushes collected metrics if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)      {}
func (nopBackend) ObserveDuration(string, float64, Labels) {}
func (nopBackend) Flush() error                            { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the current one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error { return backend.Flush() }

// RecordStep measures one pipeline step: latency plus a success/failure count.
func RecordStep(jobName, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": jobName, "step": step, "status": status}
	backend.IncCounter("traceimport_step_total", 1, lbls)
	backend.ObserveDuration("traceimport_step_duration_seconds", d.Seconds(), lbls)
}

// RecordRecords increments a record-level counter for the given kind.
// Kinds mirror the job summary fields: "processed", "accepted", "rejected",
// "inserted", "conflicts".
func RecordRecords(jobName, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("traceimport_records_total", float64(delta), Labels{
		"job":  jobName,
		"kind": kind,
	})
}

// RecordBatches increments the flushed-batch counter.
func RecordBatches(jobName string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("traceimport_batches_total", float64(delta), Labels{
		"job": jobName,
	})
}
