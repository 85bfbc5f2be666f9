package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spec-kit/ticketdesk/internal/domain"
)

func TestLoadCatalog_DefaultIsValid(t *testing.T) {
	c, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	if got := strings.Join(c.CategoryKeys(), ","); got != "general,cheater,unban,kit" {
		t.Fatalf("unexpected categories %s", got)
	}
	if got := strings.Join(c.BucketKeys(), ","); got != "cheater,general,appeal,kit,frivolous" {
		t.Fatalf("unexpected buckets %s", got)
	}
	if c.DefaultArchiveBucket != "general" || c.NoteDisplayLimit != DefaultNoteDisplayLimit {
		t.Fatalf("unexpected defaults %q %d", c.DefaultArchiveBucket, c.NoteDisplayLimit)
	}
	if key, ok := c.BucketForDestination("archive-kit"); !ok || key != "kit" {
		t.Fatalf("expected archive-kit to map to kit, got %q %v", key, ok)
	}
	if _, ok := c.BucketForDestination("routing-kit"); ok {
		t.Fatal("routing destination must not resolve to a bucket")
	}
}

func TestLoadCatalog_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	raw := `
categories:
  - key: billing
    destination: r-billing
archive_buckets:
  - key: done
    destination: a-done
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cat, ok := c.Category("billing")
	if !ok || cat.Label != "billing" {
		t.Fatalf("expected label to default to key, got %#v", cat)
	}
	if c.DefaultArchiveBucket != "done" {
		t.Fatalf("expected first bucket as default, got %q", c.DefaultArchiveBucket)
	}
}

func TestParseCatalog_Rejects(t *testing.T) {
	cases := map[string]string{
		"overlapping destinations": `
categories: [{key: a, destination: shared}]
archive_buckets: [{key: b, destination: shared}]`,
		"duplicate category": `
categories: [{key: a, destination: x}, {key: a, destination: y}]
archive_buckets: [{key: b, destination: z}]`,
		"missing routing destination": `
categories: [{key: a}]
archive_buckets: [{key: b, destination: z}]`,
		"unknown default bucket": `
default_archive_bucket: nope
categories: [{key: a, destination: x}]
archive_buckets: [{key: b, destination: z}]`,
		"external id not in form": `
categories: [{key: a, destination: x, external_id_field: steamid, fields: [{key: issue}]}]
archive_buckets: [{key: b, destination: z}]`,
		"no buckets": `
categories: [{key: a, destination: x}]`,
		"key with separator": `
categories: [{key: "a:b", destination: x}]
archive_buckets: [{key: b, destination: z}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(raw)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCategory_NormalizeFields(t *testing.T) {
	c, _ := LoadCatalog("")
	cat, _ := c.Category("general")

	got, err := cat.NormalizeFields(map[string]string{
		"steamid": " 76561198000000000 ",
		"issue":   "cannot join",
		"extra":   "dropped",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got["steamid"] != "76561198000000000" || got["issue"] != "cannot join" {
		t.Fatalf("unexpected values %#v", got)
	}
	if _, ok := got["extra"]; ok {
		t.Fatal("unknown field kept")
	}

	var v *domain.ValidationError
	if _, err := cat.NormalizeFields(map[string]string{"issue": "x"}); !errors.As(err, &v) || v.Field != "steamid" {
		t.Fatalf("expected missing steamid validation error, got %v", err)
	}
	if _, err := cat.NormalizeFields(map[string]string{"steamid": strings.Repeat("1", 18), "issue": "x"}); !errors.As(err, &v) {
		t.Fatalf("expected max length validation error, got %v", err)
	}
}
