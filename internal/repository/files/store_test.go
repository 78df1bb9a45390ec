package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSave(t *testing.T) {
	s := newTestStore(t)

	f, err := s.Save(context.Background(), "../../Notes.MD", "", strings.NewReader("# hello"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := uuid.Parse(f.ID); err != nil {
		t.Errorf("id is not a uuid: %q", f.ID)
	}
	if f.OriginalName != "Notes.MD" || f.Size != 7 {
		t.Errorf("unexpected file: %+v", f)
	}
	if filepath.Dir(f.Path) != s.Dir() || filepath.Ext(f.Path) != ".md" {
		t.Errorf("unexpected path: %s", f.Path)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil || string(data) != "# hello" {
		t.Errorf("content = %q, %v", data, err)
	}
}

func TestSave_MimeFromExtension(t *testing.T) {
	s := newTestStore(t)

	f, err := s.Save(context.Background(), "doc.pdf", "application/octet-stream", strings.NewReader("%PDF"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if f.MimeType != "application/pdf" {
		t.Errorf("mime = %q", f.MimeType)
	}
}

func TestSave_TooLarge(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Save(context.Background(), "big.txt", "text/plain", strings.NewReader("0123456789"), 5)
	if !errors.Is(err, domain.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	entries, _ := os.ReadDir(s.Dir())
	for _, e := range entries {
		if e.Name() != metaDir {
			t.Errorf("partial upload left behind: %s", e.Name())
		}
	}
	if metas, _ := os.ReadDir(filepath.Join(s.Dir(), metaDir)); len(metas) != 0 {
		t.Errorf("metadata written for rejected upload: %v", metas)
	}
}

func TestSave_EmptyName(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save(context.Background(), "  ", "", strings.NewReader("x"), 0); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestFindDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, err := s.Save(ctx, "a.txt", "text/plain", strings.NewReader("abc"), 0)
	if err != nil {
		t.Fatal(err)
	}
	path, err := s.Find(f.ID)
	if err != nil || path != f.Path {
		t.Fatalf("Find = %q, %v", path, err)
	}
	if err := s.Delete(f.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(f.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Find("../etc/passwd"); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for non-uuid id, got %v", err)
	}
}

func TestLookup_KeepsOriginalName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, "Quarterly Report.PDF", "", strings.NewReader("%PDF-1.4"), 0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Lookup(saved.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != saved {
		t.Errorf("Lookup = %+v, want %+v", got, saved)
	}

	if err := s.Delete(saved.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(s.metaPath(saved.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("metadata left behind: %v", err)
	}
	if _, err := s.Lookup(saved.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestLookup_WithoutMetadata(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.Save(context.Background(), "notes.txt", "text/plain", strings.NewReader("hi"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(s.metaPath(saved.ID)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Lookup(saved.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.OriginalName != filepath.Base(saved.Path) || !strings.HasPrefix(got.MimeType, "text/plain") {
		t.Errorf("unexpected fallback %+v", got)
	}
}

func TestSafeExt(t *testing.T) {
	tests := map[string]string{
		"a.txt":         ".txt",
		"a.DOCX":        ".docx",
		"noext":         "",
		"a.tar.gz":      ".gz",
		"a.we!rd":       "",
		"a.verylongext": "",
	}
	for in, want := range tests {
		if got := safeExt(in); got != want {
			t.Errorf("safeExt(%q) = %q, want %q", in, got, want)
		}
	}
}
