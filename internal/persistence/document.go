package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/domain"
)

const documentPerms = 0o600

// JSONDocument is a single JSON file replaced atomically on every save.
type JSONDocument struct {
	path           string
	recoverCorrupt bool
	logger         *zap.Logger
	now            func() time.Time
}

// NewJSONDocument prepares a document at path, creating its directory.
func NewJSONDocument(path string, recoverCorrupt bool, logger *zap.Logger) (*JSONDocument, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}
	return &JSONDocument{path: path, recoverCorrupt: recoverCorrupt, logger: logger, now: time.Now}, nil
}

// Path returns the file location.
func (d *JSONDocument) Path() string {
	return d.path
}

// Load decodes the document into v. A missing or empty file leaves v untouched.
// An undecodable file fails with domain.ErrStoreUnavailable unless recovery is
// enabled, in which case it is moved aside and v is left untouched.
func (d *JSONDocument) Load(v any) error {
	raw, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		d.logger.Error("store file unreadable", zap.String("path", d.path), zap.Error(err))
		return fmt.Errorf("%w: read %s: %v", domain.ErrStoreUnavailable, d.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		if !d.recoverCorrupt {
			d.logger.Error("store file corrupt; refusing reads and writes",
				zap.String("path", d.path), zap.Error(err))
			return fmt.Errorf("%w: decode %s: %v", domain.ErrStoreUnavailable, d.path, err)
		}
		aside := fmt.Sprintf("%s.corrupt-%d", d.path, d.now().Unix())
		if renameErr := os.Rename(d.path, aside); renameErr != nil {
			d.logger.Error("store file corrupt and could not be moved aside",
				zap.String("path", d.path), zap.Error(renameErr))
			return fmt.Errorf("%w: move corrupt %s: %v", domain.ErrStoreUnavailable, d.path, renameErr)
		}
		d.logger.Warn("store file corrupt; moved aside and starting empty",
			zap.String("path", d.path), zap.String("moved_to", aside), zap.Error(err))
	}
	return nil
}

// Save encodes v and atomically replaces the file.
func (d *JSONDocument) Save(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.path, err)
	}
	if err := atomic.WriteFile(d.path, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrStoreUnavailable, d.path, err)
	}
	// atomic.WriteFile leaves permissions of new files to the temp file defaults
	if err := os.Chmod(d.path, documentPerms); err != nil {
		return fmt.Errorf("chmod %s: %w", d.path, err)
	}
	return nil
}
