package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticketdesk/internal/domain"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// DefaultNoteDisplayLimit matches the gateway's per-field character limit.
const DefaultNoteDisplayLimit = 1024

// Catalog is the single source of truth for ticket categories and archive buckets.
// Every component reads categories and buckets from here.
type Catalog struct {
	StaffMention         string          `yaml:"staff_mention"`
	DefaultArchiveBucket string          `yaml:"default_archive_bucket"`
	NoteDisplayLimit     int             `yaml:"note_display_limit"`
	Categories           []Category      `yaml:"categories"`
	ArchiveBuckets       []ArchiveBucket `yaml:"archive_buckets"`

	categoryIndex map[string]int
	bucketIndex   map[string]int
	archiveDests  map[string]string
}

// Category describes one ticket type and the form that opens it.
type Category struct {
	Key             string      `yaml:"key"`
	Label           string      `yaml:"label"`
	Destination     string      `yaml:"destination"`
	ExternalIDField string      `yaml:"external_id_field"`
	Notice          string      `yaml:"notice"`
	Fields          []FormField `yaml:"fields"`
}

// FormField is one input of a category form.
type FormField struct {
	Key         string `yaml:"key"`
	Label       string `yaml:"label"`
	Placeholder string `yaml:"placeholder"`
	Multiline   bool   `yaml:"multiline"`
	Required    bool   `yaml:"required"`
	MaxLength   int    `yaml:"max_length"`
}

// ArchiveBucket is a destination for closed tickets.
type ArchiveBucket struct {
	Key         string `yaml:"key"`
	Label       string `yaml:"label"`
	Destination string `yaml:"destination"`
}

// LoadCatalog reads the catalog from path, or the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	raw := defaultCatalog
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		raw = data
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the catalog and builds its lookup indexes.
func (c *Catalog) Validate() error {
	if c.NoteDisplayLimit <= 0 {
		c.NoteDisplayLimit = DefaultNoteDisplayLimit
	}
	if len(c.Categories) == 0 {
		return errors.New("catalog: at least one category required")
	}
	if len(c.ArchiveBuckets) == 0 {
		return errors.New("catalog: at least one archive bucket required")
	}

	c.categoryIndex = make(map[string]int, len(c.Categories))
	routing := make(map[string]string, len(c.Categories))
	for i, cat := range c.Categories {
		if cat.Key == "" {
			return fmt.Errorf("catalog: category %d has no key", i)
		}
		if strings.ContainsAny(cat.Key, ": ") {
			return fmt.Errorf("catalog: category key %q must not contain ':' or spaces", cat.Key)
		}
		if _, dup := c.categoryIndex[cat.Key]; dup {
			return fmt.Errorf("catalog: duplicate category %q", cat.Key)
		}
		if cat.Destination == "" {
			return fmt.Errorf("catalog: category %q has no destination", cat.Key)
		}
		if cat.Label == "" {
			c.Categories[i].Label = cat.Key
		}
		fieldKeys := make(map[string]struct{}, len(cat.Fields))
		for _, f := range cat.Fields {
			if f.Key == "" {
				return fmt.Errorf("catalog: category %q has a field without key", cat.Key)
			}
			if _, dup := fieldKeys[f.Key]; dup {
				return fmt.Errorf("catalog: category %q repeats field %q", cat.Key, f.Key)
			}
			fieldKeys[f.Key] = struct{}{}
		}
		if cat.ExternalIDField != "" {
			if _, ok := fieldKeys[cat.ExternalIDField]; !ok {
				return fmt.Errorf("catalog: category %q external id field %q is not a form field", cat.Key, cat.ExternalIDField)
			}
		}
		c.categoryIndex[cat.Key] = i
		routing[cat.Destination] = cat.Key
	}

	c.bucketIndex = make(map[string]int, len(c.ArchiveBuckets))
	c.archiveDests = make(map[string]string, len(c.ArchiveBuckets))
	for i, b := range c.ArchiveBuckets {
		if b.Key == "" {
			return fmt.Errorf("catalog: archive bucket %d has no key", i)
		}
		if strings.ContainsAny(b.Key, ": ") {
			return fmt.Errorf("catalog: archive bucket key %q must not contain ':' or spaces", b.Key)
		}
		if _, dup := c.bucketIndex[b.Key]; dup {
			return fmt.Errorf("catalog: duplicate archive bucket %q", b.Key)
		}
		if b.Destination == "" {
			return fmt.Errorf("catalog: archive bucket %q has no destination", b.Key)
		}
		if cat, clash := routing[b.Destination]; clash {
			return fmt.Errorf("catalog: archive bucket %q shares destination with category %q", b.Key, cat)
		}
		if b.Label == "" {
			c.ArchiveBuckets[i].Label = b.Key
		}
		c.bucketIndex[b.Key] = i
		c.archiveDests[b.Destination] = b.Key
	}

	if c.DefaultArchiveBucket == "" {
		c.DefaultArchiveBucket = c.ArchiveBuckets[0].Key
	}
	if _, ok := c.bucketIndex[c.DefaultArchiveBucket]; !ok {
		return fmt.Errorf("catalog: default archive bucket %q is not defined", c.DefaultArchiveBucket)
	}
	return nil
}

// Category returns the category with key.
func (c *Catalog) Category(key string) (Category, bool) {
	i, ok := c.categoryIndex[key]
	if !ok {
		return Category{}, false
	}
	return c.Categories[i], true
}

// Bucket returns the archive bucket with key.
func (c *Catalog) Bucket(key string) (ArchiveBucket, bool) {
	i, ok := c.bucketIndex[key]
	if !ok {
		return ArchiveBucket{}, false
	}
	return c.ArchiveBuckets[i], true
}

// BucketForDestination reports which bucket, if any, parks channels at dest.
func (c *Catalog) BucketForDestination(dest string) (string, bool) {
	key, ok := c.archiveDests[dest]
	return key, ok
}

// CategoryKeys lists category keys in catalog order.
func (c *Catalog) CategoryKeys() []string {
	keys := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		keys = append(keys, cat.Key)
	}
	return keys
}

// BucketKeys lists archive bucket keys in catalog order.
func (c *Catalog) BucketKeys() []string {
	keys := make([]string, 0, len(c.ArchiveBuckets))
	for _, b := range c.ArchiveBuckets {
		keys = append(keys, b.Key)
	}
	return keys
}

// NormalizeFields trims the submitted answers, drops unknown keys and enforces
// the category's required and length rules.
func (cat Category) NormalizeFields(submitted map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(cat.Fields))
	for _, f := range cat.Fields {
		val := strings.TrimSpace(submitted[f.Key])
		if val == "" {
			if f.Required {
				return nil, domain.NewValidationError(f.Key, "is required")
			}
			continue
		}
		if f.MaxLength > 0 && utf8.RuneCountInString(val) > f.MaxLength {
			return nil, domain.NewValidationError(f.Key, fmt.Sprintf("must be at most %d characters", f.MaxLength))
		}
		out[f.Key] = val
	}
	return out, nil
}
