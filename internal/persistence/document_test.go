package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/domain"
)

type sample struct {
	Names []string `json:"names"`
}

func TestJSONDocument_SaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	doc, err := NewJSONDocument(path, false, zap.NewNop())
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if err := doc.Save(sample{Names: []string{"a", "b"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var got sample
	if err := doc.Load(&got); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Names) != 2 || got.Names[1] != "b" {
		t.Fatalf("unexpected contents %#v", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != documentPerms {
		t.Fatalf("expected perms %o, got %o", documentPerms, info.Mode().Perm())
	}
}

func TestJSONDocument_MissingFileIsEmpty(t *testing.T) {
	doc, _ := NewJSONDocument(filepath.Join(t.TempDir(), "absent.json"), false, zap.NewNop())
	var got sample
	if err := doc.Load(&got); err != nil {
		t.Fatalf("expected nil error for missing file, got %v", err)
	}
	if got.Names != nil {
		t.Fatalf("expected untouched value, got %#v", got)
	}
}

func TestJSONDocument_CorruptFileIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	doc, _ := NewJSONDocument(path, false, zap.NewNop())

	var got sample
	err := doc.Load(&got)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "{not json" {
		t.Fatalf("corrupt file must be left in place, got %q", raw)
	}
}

func TestJSONDocument_CorruptFileRecovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	doc, _ := NewJSONDocument(path, true, zap.NewNop())
	doc.now = func() time.Time { return time.Unix(1700000000, 0) }

	var got sample
	if err := doc.Load(&got); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected original file moved, stat err=%v", err)
	}
	entries, _ := os.ReadDir(dir)
	found := false
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".corrupt-1700000000") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected corrupt copy next to the store, got %v", entries)
	}
}
