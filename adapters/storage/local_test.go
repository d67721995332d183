package storage_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Skryldev/imgconv/adapters/storage"
	apperrors "github.com/Skryldev/imgconv/errors"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := storage.NewLocal(root, 0o600)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Put(ctx, "out/a.webp", strings.NewReader("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err := s.Exists(ctx, "out/a.webp")
	if err != nil || !ok {
		t.Fatalf("Exists: %v %v", ok, err)
	}
	rc, err := s.Get(ctx, filepath.Join(root, "out", "a.webp"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "payload" {
		t.Errorf("content %q", got)
	}

	entries, _ := os.ReadDir(filepath.Join(root, "out"))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
	fi, _ := os.Stat(filepath.Join(root, "out", "a.webp"))
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("mode %v", fi.Mode().Perm())
	}

	if err := s.Delete(ctx, "out/a.webp"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(ctx, "out/a.webp"); ok {
		t.Error("file still exists after Delete")
	}
	if _, err := s.Get(ctx, "out/a.webp"); !apperrors.IsKind(err, apperrors.KindIO) {
		t.Errorf("Get missing: %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestLocalPutFailureLeavesNothing(t *testing.T) {
	root := t.TempDir()
	s, _ := storage.NewLocal(root, 0)
	err := s.Put(context.Background(), "x.png", failingReader{})
	if !apperrors.IsKind(err, apperrors.KindIO) {
		t.Fatalf("got %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("partial output left behind: %v", entries)
	}
}
