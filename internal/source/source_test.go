package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestEntityFromName(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"1.txt", "1"},
		{"data/taxis/366.txt", "366"},
		{"/abs/path/42.csv", "42"},
		{"noext", "noext"},
		{"weird.name.txt", "weird.name"},
	}
	for _, tt := range tests {
		if got := EntityFromName(tt.in); got != tt.want {
			t.Errorf("EntityFromName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "1.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := File{Path: path}
	if f.Name() != path {
		t.Errorf("Name = %q", f.Name())
	}
	rc, err := f.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "hello" {
		t.Errorf("content = %q", b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Open(ctx); err == nil {
		t.Error("open with cancelled context succeeded")
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"3.txt", "1.txt", "2.txt", "readme.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := List(dir, "*.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %v, want 3 (directories and non-matches skipped)", files)
	}
	// Sorted by name for deterministic runs.
	for i, want := range []string{"1.txt", "2.txt", "3.txt"} {
		if filepath.Base(files[i].Path) != want {
			t.Fatalf("files[%d] = %s, want %s", i, files[i].Path, want)
		}
	}

	capped, err := List(dir, "*.txt", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 2 {
		t.Fatalf("capped files = %d, want 2", len(capped))
	}

	// Default pattern is *.txt.
	deflt, err := List(dir, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(deflt) != 3 {
		t.Fatalf("default pattern files = %d, want 3", len(deflt))
	}
}
