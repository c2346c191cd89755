// Package sessionfile keeps the admin Session Record in a single JSON file,
// for deployments that do not want the SQLite database.
package sessionfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dukerupert/carecall/internal/model"
)

// Store reads and writes one record file, replacing it wholesale on every write.
type Store struct {
	path   string
	logger *slog.Logger
}

func New(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the record file location.
func (s *Store) Path() string {
	return s.path
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrPersistence, err)
}

// Write replaces the record file. The new content is written to a temporary
// file in the same directory and renamed over the old one, so a reader never
// sees a half-written record.
func (s *Store) Write(rec model.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return persistErr("encode session record", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return persistErr("create temp session file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return persistErr("write session file", err)
	}
	if err := tmp.Close(); err != nil {
		return persistErr("close session file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return persistErr("replace session file", err)
	}
	return nil
}

// Read returns the stored record. A missing file or undecodable content is
// reported as no record.
func (s *Store) Read() (*model.SessionRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("read session file", err)
	}

	var rec model.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("ignoring corrupt session file", "path", s.path, "error", err)
		return nil, nil
	}
	return &rec, nil
}

// Delete removes the record file. A missing file is not an error.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return persistErr("delete session file", err)
	}
	return nil
}
