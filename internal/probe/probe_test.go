package probe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"traceimport/internal/trace"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunTDriveSample(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "1.txt",
		"1,2008-02-02 15:36:08,116.51172,39.92123\n"+
			"1,bogus,116.51172,39.92123\n"+
			"1,2008-02-02 15:46:08,999.0,39.92123\n")

	rep, err := Run(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Profile != "tdrive" {
		t.Errorf("profile = %s, want tdrive inferred from extension", rep.Profile)
	}
	if rep.Sampled != 3 || rep.Accepted != 1 {
		t.Fatalf("sampled=%d accepted=%d", rep.Sampled, rep.Accepted)
	}
	if rep.Rejected[trace.TimestampError] != 1 || rep.Rejected[trace.CoordinateError] != 1 {
		t.Errorf("rejections = %v", rep.Rejected)
	}

	out := rep.Render()
	for _, want := range []string{"sampled: 3", "TIMESTAMP_ERROR", "entity_id"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestRunSuggestsMapping(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "export.csv",
		"taxi_id,time,lon,lat\n366,2008-02-02 15:36:08,116.5,39.9\n")

	rep, err := Run(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Profile != "csv" {
		t.Errorf("profile = %s", rep.Profile)
	}

	want := map[string]string{
		"taxi_id": trace.FieldEntityID,
		"time":    trace.FieldTimestamp,
		"lon":     trace.FieldLongitude,
		"lat":     trace.FieldLatitude,
	}
	got := map[string]string{}
	for _, p := range rep.Suggested {
		got[p[1]] = p[0]
	}
	for src, canon := range want {
		if got[src] != canon {
			t.Errorf("suggestion for %s = %q, want %q", src, got[src], canon)
		}
	}
	if !strings.Contains(rep.Render(), "suggested field_mapping") {
		t.Error("render missing mapping suggestion")
	}
}

func TestRunSampleCap(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("1,2008-02-02 15:36:08,116.5,39.9\n")
	}
	path := writeFile(t, "1.txt", b.String())

	rep, err := Run(Options{Path: path, Samples: 10})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Sampled != 10 {
		t.Errorf("sampled = %d, want capped at 10", rep.Sampled)
	}
}

func TestRunMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Run(Options{Path: "/no/such/file.txt"}); err == nil {
		t.Fatal("missing file accepted")
	}
}
