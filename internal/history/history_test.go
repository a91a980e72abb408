package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"readback/api/internal/content"
)

func TestRepoLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "history")
	svc := New(dir)

	if err := svc.Ensure("readback"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := svc.Ensure("readback"); err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	first := content.List{content.Text("a"), content.Image("u1")}
	c1, err := svc.Commit(first, "editor", "Save 2 items")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if c1.Hash == "" || c1.Items != 2 || c1.Added != 2 || c1.Removed != 0 {
		t.Fatalf("unexpected first commit: %+v", c1)
	}

	second := content.List{content.Image("u1"), content.Text("b")}
	c2, err := svc.Commit(second, "editor", "Save 2 items")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if c2.Added != 1 || c2.Removed != 1 {
		t.Fatalf("unexpected diff counts: %+v", c2)
	}

	log, err := svc.Log(10)
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("expected 3 revisions including the baseline, got %d", len(log))
	}
	if log[0].Hash != c2.Hash || log[2].Message != "Initialize document" {
		t.Fatalf("unexpected log order: %+v", log)
	}

	limited, err := svc.Log(1)
	if err != nil {
		t.Fatalf("Log(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 revision, got %d", len(limited))
	}

	got, info, err := svc.ContentAt(c1.Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if !got.Equal(first) {
		t.Fatalf("ContentAt() = %+v, want %+v", got, first)
	}
	if info.Hash != c1.Hash {
		t.Fatalf("ContentAt() commit = %s, want %s", info.Hash, c1.Hash)
	}
}

func TestContentAtUnknownHash(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.Ensure("readback"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	_, _, err := svc.ContentAt("deadbee")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentCommits(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.Ensure("readback"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Commit(content.List{content.Text(fmt.Sprintf("item %d", i))}, "editor", "save")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}

	log, err := svc.Log(0)
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if len(log) != 9 {
		t.Fatalf("expected 9 revisions, got %d", len(log))
	}
}

func TestDiffCountsDuplicates(t *testing.T) {
	from := content.List{content.Text("x"), content.Text("x"), content.Text("y")}
	to := content.List{content.Text("x"), content.Text("z")}
	added, removed := Diff(from, to)
	if added != 1 || removed != 2 {
		t.Fatalf("Diff() = (%d, %d), want (1, 2)", added, removed)
	}
}
