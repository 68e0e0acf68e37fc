package metrics

import (
	"errors"
	"testing"
	"time"
)

type recordingBackend struct {
	counters  map[string]float64
	labels    map[string]Labels
	durations map[string]float64
	flushed   int
}

func newRecording() *recordingBackend {
	return &recordingBackend{
		counters:  map[string]float64{},
		labels:    map[string]Labels{},
		durations: map[string]float64{},
	}
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.counters[name] += delta
	r.labels[name] = labels
}

func (r *recordingBackend) ObserveDuration(name string, value float64, labels Labels) {
	r.durations[name] = value
}

func (r *recordingBackend) Flush() error {
	r.flushed++
	return nil
}

func withBackend(t *testing.T, b Backend) {
	t.Helper()
	old := backend
	SetBackend(b)
	t.Cleanup(func() { backend = old })
}

func TestRecordStep(t *testing.T) {
	rec := newRecording()
	withBackend(t, rec)

	RecordStep("run1", "import_file", nil, 2*time.Second)
	if rec.counters["traceimport_step_total"] != 1 {
		t.Errorf("step counter = %g", rec.counters["traceimport_step_total"])
	}
	if rec.labels["traceimport_step_total"]["status"] != "success" {
		t.Errorf("labels = %v", rec.labels["traceimport_step_total"])
	}
	if rec.durations["traceimport_step_duration_seconds"] != 2 {
		t.Errorf("duration = %g", rec.durations["traceimport_step_duration_seconds"])
	}

	RecordStep("run1", "import_file", errors.New("boom"), time.Second)
	if rec.labels["traceimport_step_total"]["status"] != "failure" {
		t.Errorf("failure labels = %v", rec.labels["traceimport_step_total"])
	}
}

func TestRecordRecordsSkipsNonPositive(t *testing.T) {
	rec := newRecording()
	withBackend(t, rec)

	RecordRecords("run1", "inserted", 0)
	RecordRecords("run1", "inserted", -3)
	if len(rec.counters) != 0 {
		t.Errorf("counters = %v, want none for non-positive deltas", rec.counters)
	}

	RecordRecords("run1", "inserted", 7)
	if rec.counters["traceimport_records_total"] != 7 {
		t.Errorf("records counter = %g", rec.counters["traceimport_records_total"])
	}
}

func TestNopBackendIsSafe(t *testing.T) {
	withBackend(t, nopBackend{})
	RecordStep("x", "y", nil, 0)
	RecordRecords("x", "k", 1)
	RecordBatches("x", 1)
	if err := Flush(); err != nil {
		t.Fatal(err)
	}
}

func TestSetBackendNilKeepsCurrent(t *testing.T) {
	rec := newRecording()
	withBackend(t, rec)
	SetBackend(nil)
	RecordBatches("x", 2)
	if rec.counters["traceimport_batches_total"] != 2 {
		t.Error("nil SetBackend replaced the backend")
	}
}
