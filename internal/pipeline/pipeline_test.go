package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"traceimport/internal/job"
	"traceimport/internal/mapper"
	"traceimport/internal/pipeline"
	"traceimport/internal/source"
	"traceimport/internal/store/sqlite"
	"traceimport/internal/trace"
)

func testStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportFileTDrive(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	dir := t.TempDir()
	// Line 2 has a broken timestamp, line 3 an out-of-range longitude.
	path := writeFile(t, dir, "366.txt",
		"366,2008-02-02 15:36:08,116.51172,39.92123\n"+
			"366,not-a-time,116.51172,39.92123\n"+
			"366,2008-02-02 15:46:08,999.0,39.92123\n")

	p, err := pipeline.New(s, pipeline.TDrive(), "tdrive")
	if err != nil {
		t.Fatal(err)
	}
	j, err := p.ImportFile(context.Background(), source.File{Path: path})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s", j.Status)
	}
	if j.Processed != 3 || j.Successful != 1 || j.Failed != 2 {
		t.Fatalf("counters = %d/%d/%d, want 3/1/2", j.Processed, j.Successful, j.Failed)
	}
	if j.Total != 3 {
		t.Errorf("total = %d", j.Total)
	}

	ctx := context.Background()
	for _, tc := range []struct {
		typ  trace.ErrorType
		want int64
	}{
		{trace.TimestampError, 1},
		{trace.CoordinateError, 1},
	} {
		n, err := s.CountErrors(ctx, j.ID, tc.typ)
		if err != nil {
			t.Fatal(err)
		}
		if n != tc.want {
			t.Errorf("%s count = %d, want %d", tc.typ, n, tc.want)
		}
	}

	// The persisted checkpoint matches the returned job.
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusCompleted || got.Successful != 1 {
		t.Errorf("persisted job = %s %d", got.Status, got.Successful)
	}
}

func TestImportFileEntityFromFilename(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	dir := t.TempDir()
	// The first column says 999 but the file name wins for T-Drive data.
	path := writeFile(t, dir, "42.txt",
		"999,2008-02-02 15:36:08,116.51172,39.92123\n")

	p, err := pipeline.New(s, pipeline.TDrive(), "tdrive")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.ImportFile(context.Background(), source.File{Path: path}); err != nil {
		t.Fatal(err)
	}

	pts := []trace.GPSPoint{{
		DatasetID: "tdrive", EntityID: "42",
		Timestamp: mustTime(t, "2008-02-02 15:36:08"),
		Longitude: 116.51172, Latitude: 39.92123,
	}}
	_, conflicts, err := s.InsertPoints(context.Background(), pts)
	if err != nil {
		t.Fatal(err)
	}
	if conflicts != 1 {
		t.Errorf("conflicts = %d, want the imported point stored under entity 42", conflicts)
	}
}

func TestImportFileBlankAndShortLines(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "7.txt",
		"7,2008-02-02 15:36:08,116.51172,39.92123\n"+
			"\n"+
			"7,2008-02-02 15:37:08\n"+ // short row
			"7,2008-02-02 15:38:08,116.52,39.93\n")

	p, err := pipeline.New(s, pipeline.TDrive(), "tdrive")
	if err != nil {
		t.Fatal(err)
	}
	j, err := p.ImportFile(context.Background(), source.File{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	// The blank line is invisible: 3 processed, not 4.
	if j.Processed != 3 || j.Successful != 2 || j.Failed != 1 {
		t.Fatalf("counters = %d/%d/%d, want 3/2/1", j.Processed, j.Successful, j.Failed)
	}
	n, err := s.CountErrors(context.Background(), j.ID, trace.FormatError)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("FORMAT_ERROR count = %d, want 1", n)
	}
}

func TestImportFileCSVWithHeaderAndMapping(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "export.csv",
		"taxi_id,time,lon,lat,operator\n"+
			"366,2008-02-02 15:36:08,116.51172,39.92123,btc\n"+
			"367,2008-02-02 15:36:09,116.52,39.93,btc\n")

	prof := pipeline.GenericCSV()
	prof.Mapping = tdriveCSVMapping()

	p, err := pipeline.New(s, prof, "csv-ds")
	if err != nil {
		t.Fatal(err)
	}
	j, err := p.ImportFile(context.Background(), source.File{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if j.Processed != 2 || j.Successful != 2 {
		t.Fatalf("counters = %d/%d", j.Processed, j.Successful)
	}

	// Replaying one row shows it was stored under its mapped entity id.
	_, conflicts, err := s.InsertPoints(context.Background(), []trace.GPSPoint{{
		DatasetID: "csv-ds", EntityID: "366",
		Timestamp: mustTime(t, "2008-02-02 15:36:08"),
		Longitude: 116.51172, Latitude: 39.92123,
	}})
	if err != nil {
		t.Fatal(err)
	}
	if conflicts != 1 {
		t.Errorf("conflicts = %d, want row present", conflicts)
	}
}

func TestImportFileOpenFailure(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	p, err := pipeline.New(s, pipeline.TDrive(), "tdrive")
	if err != nil {
		t.Fatal(err)
	}
	j, err := p.ImportFile(context.Background(), source.File{Path: "/does/not/exist/1.txt"})
	if err == nil {
		t.Fatal("import of missing file succeeded")
	}
	if j == nil || j.Status != job.StatusFailed {
		t.Fatalf("job = %+v, want failed", j)
	}
	if j.ErrorMessage == "" {
		t.Error("empty error message on failed job")
	}
}

// cancellingStore cancels the import's context from inside the first point
// insert, the way an operator interrupt lands mid-flush.
type cancellingStore struct {
	*sqlite.Store
	cancel context.CancelFunc
}

func (c *cancellingStore) InsertPoints(ctx context.Context, pts []trace.GPSPoint) (int64, int64, error) {
	c.cancel()
	return 0, 0, ctx.Err()
}

func TestImportFileCancelledDuringFlush(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "9.txt",
		"9,2008-02-02 15:36:08,116.51172,39.92123\n"+
			"9,2008-02-02 15:37:08,116.52,39.93\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := pipeline.New(&cancellingStore{Store: s, cancel: cancel},
		pipeline.TDrive(), "tdrive", pipeline.WithBatchSize(1))
	if err != nil {
		t.Fatal(err)
	}
	j, err := p.ImportFile(ctx, source.File{Path: path})
	if err == nil {
		t.Fatal("cancelled import reported success")
	}
	if j.Status != job.StatusCancelled {
		t.Fatalf("status = %s (error %q), want %s", j.Status, j.ErrorMessage, job.StatusCancelled)
	}

	// The terminal state is persisted even though the run's context is gone.
	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusCancelled {
		t.Errorf("persisted status = %s, want %s", got.Status, job.StatusCancelled)
	}
}

func TestImportSourcesIsolatesFailures(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "1.txt", "1,2008-02-02 15:36:08,116.51172,39.92123\n")
	writeFile(t, dir, "3.txt", "3,2008-02-02 15:36:08,116.52,39.93\n")

	srcs := []source.Source{
		source.File{Path: filepath.Join(dir, "1.txt")},
		source.File{Path: filepath.Join(dir, "2.txt")}, // missing
		source.File{Path: filepath.Join(dir, "3.txt")},
	}

	p, err := pipeline.New(s, pipeline.TDrive(), "tdrive")
	if err != nil {
		t.Fatal(err)
	}
	sum, err := p.ImportSources(context.Background(), srcs, 2)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if sum.TotalFiles != 3 || sum.SuccessfulFiles != 2 || sum.FailedFiles != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.TotalPoints != 2 {
		t.Errorf("points = %d, want 2", sum.TotalPoints)
	}
	if sum.BatchID == "" {
		t.Error("empty batch id")
	}
}

func TestImportDirectory(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "1.txt", "1,2008-02-02 15:36:08,116.51172,39.92123\n")
	writeFile(t, dir, "2.txt", "2,2008-02-02 15:36:08,116.52,39.93\n")
	writeFile(t, dir, "notes.md", "not a trace\n")

	p, err := pipeline.New(s, pipeline.TDrive(), "tdrive", pipeline.WithBatchSize(1))
	if err != nil {
		t.Fatal(err)
	}
	sum, err := p.ImportDirectory(context.Background(), dir, "*.txt", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalFiles != 2 || sum.SuccessfulFiles != 2 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestImportDirectoryMaxFiles(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "1.txt", "1,2008-02-02 15:36:08,116.51172,39.92123\n")
	writeFile(t, dir, "2.txt", "2,2008-02-02 15:36:08,116.52,39.93\n")
	writeFile(t, dir, "3.txt", "3,2008-02-02 15:36:08,116.53,39.94\n")

	p, err := pipeline.New(s, pipeline.TDrive(), "tdrive")
	if err != nil {
		t.Fatal(err)
	}
	sum, err := p.ImportDirectory(context.Background(), dir, "*.txt", 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalFiles != 2 {
		t.Fatalf("total files = %d, want capped at 2", sum.TotalFiles)
	}
}

func TestImportDirectoryEmpty(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	p, err := pipeline.New(s, pipeline.TDrive(), "tdrive")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.ImportDirectory(context.Background(), t.TempDir(), "*.txt", 0, 1); err == nil {
		t.Fatal("empty directory produced no error")
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func tdriveCSVMapping() *mapper.FieldMapping {
	return mapper.New(
		[2]string{trace.FieldEntityID, "taxi_id"},
		[2]string{trace.FieldTimestamp, "time"},
		[2]string{trace.FieldLongitude, "lon"},
		[2]string{trace.FieldLatitude, "lat"},
	)
}
