// Package attachment stores generated files on disk and records them as
// Attachment rows linked to an entity.
package attachment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/blockyard/internal/models"
	"gorm.io/gorm"
)

// Store writes attachment files under a root directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("attachment: create dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Save writes data to disk and inserts its Attachment row using db, which may
// be a transaction. The file is removed again when the insert fails. When db is
// a transaction that later rolls back, the caller removes the file with Remove.
func (s *Store) Save(db *gorm.DB, entityType string, entityID uint, filename, contentType string, data []byte) (*models.Attachment, error) {
	rel, size, sum, err := s.write(entityType, filename, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	a := models.Attachment{
		EntityType:  entityType,
		EntityID:    entityID,
		Filename:    filename,
		Path:        rel,
		ContentType: contentType,
		Size:        size,
		SHA256:      sum,
	}
	if err := db.Create(&a).Error; err != nil {
		os.Remove(filepath.Join(s.dir, rel))
		return nil, fmt.Errorf("attachment: record %s/%d %s: %w", entityType, entityID, filename, err)
	}
	return &a, nil
}

// Open opens a stored attachment for reading. The caller closes the file.
func (s *Store) Open(a *models.Attachment) (*os.File, error) {
	f, err := os.Open(filepath.Join(s.dir, a.Path))
	if err != nil {
		return nil, fmt.Errorf("attachment: open %s: %w", a.Path, err)
	}
	return f, nil
}

// Remove deletes the stored file of a. A file that is already gone is not an
// error.
func (s *Store) Remove(a *models.Attachment) error {
	err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(a.Path)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("attachment: remove %s: %w", a.Path, err)
	}
	return nil
}

// List returns the attachments of one entity, oldest first.
func List(db *gorm.DB, entityType string, entityID uint) ([]models.Attachment, error) {
	var out []models.Attachment
	if err := db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("attachment: list %s/%d: %w", entityType, entityID, err)
	}
	return out, nil
}

// write streams r into <dir>/<entityType>/<uuid>_<filename> through a temp
// file, hashing on the way, then renames it into place.
func (s *Store) write(entityType, filename string, r io.Reader) (string, int64, string, error) {
	sub := filepath.Join(s.dir, sanitize(entityType))
	if err := os.MkdirAll(sub, 0o750); err != nil {
		return "", 0, "", fmt.Errorf("attachment: create dir %s: %w", sub, err)
	}
	name := uuid.NewString() + "_" + sanitize(filepath.Base(filename))
	full := filepath.Join(sub, name)
	tmp := full + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, "", fmt.Errorf("attachment: create %s: %w", tmp, err)
	}
	h := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, h))
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", 0, "", fmt.Errorf("attachment: write %s: %w", full, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", 0, "", fmt.Errorf("attachment: rename %s: %w", full, err)
	}

	rel, err := filepath.Rel(s.dir, full)
	if err != nil {
		return "", 0, "", fmt.Errorf("attachment: rel path %s: %w", full, err)
	}
	return filepath.ToSlash(rel), size, hex.EncodeToString(h.Sum(nil)), nil
}

// sanitize keeps a file name component free of path separators.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" || s == "." {
		return "file"
	}
	return s
}
