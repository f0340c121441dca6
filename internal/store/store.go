// Package store provides the durable JSON object stores backing the
// member and proposal ledgers. Each store is a plain in-memory map with
// an explicit load/save boundary: saves atomically overwrite the whole
// file, and a corrupt file at load time is preserved under a backup
// name instead of being silently discarded.
package store

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/bytedance/sonic"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"
)

// ErrCorrupt marks a store file that could not be decoded. Startup must
// halt on it; the operator confirms the data loss via `agora store
// accept-corrupt` before the bot will bootstrap an empty store.
var ErrCorrupt = errors.New("store file is corrupt")

const backupTimeLayout = "20060102-150405"

// CorruptError carries the location of the preserved backup so the
// operator can inspect it.
type CorruptError struct {
	Path   string
	Backup string
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("store file %s is corrupt (backup preserved at %s): %v", e.Path, e.Backup, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// Store is an in-memory ledger of records keyed by platform snowflake,
// persisted as a single JSON object-of-objects file.
type Store[T any] struct {
	path     string
	logger   *zap.Logger
	validate func(*T) error
	records  map[snowflake.ID]*T
}

// New creates an empty store bound to the given file. The optional
// validate hook runs once per record at load time; a validation failure
// is treated the same as a corrupt file.
func New[T any](path string, validate func(*T) error, logger *zap.Logger) *Store[T] {
	return &Store[T]{
		path:     path,
		logger:   logger.Named("store"),
		validate: validate,
		records:  make(map[snowflake.ID]*T),
	}
}

// Get looks up a record. Absence is an ordinary branch, not an error.
func (s *Store[T]) Get(id snowflake.ID) (*T, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Add inserts a record. It is a no-op if the id is already present.
func (s *Store[T]) Add(id snowflake.ID, rec *T) {
	if _, ok := s.records[id]; ok {
		return
	}

	s.records[id] = rec
}

// Remove deletes a record. It is a no-op if the id is absent.
func (s *Store[T]) Remove(id snowflake.ID) {
	delete(s.records, id)
}

// Keys returns all record ids in ascending order.
func (s *Store[T]) Keys() []snowflake.ID {
	return slices.Sorted(maps.Keys(s.records))
}

// Len returns the number of records.
func (s *Store[T]) Len() int {
	return len(s.records)
}

// Each calls fn for every record in ascending id order. fn may mutate
// the record in place but must not add or remove records.
func (s *Store[T]) Each(fn func(id snowflake.ID, rec *T)) {
	for _, id := range s.Keys() {
		fn(id, s.records[id])
	}
}

// Save atomically overwrites the store file with the current in-memory
// state by writing a temporary file and renaming it into place.
func (s *Store[T]) Save() error {
	data, err := sonic.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store %s: %w", s.path, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store %s: %w", s.path, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace store %s: %w", s.path, err)
	}

	s.logger.Debug("Store saved",
		zap.String("path", s.path),
		zap.Int("records", len(s.records)))

	return nil
}

// Load replaces the in-memory state with the file contents, discarding
// any uncommitted mutations. A missing file bootstraps an empty store.
// A file that fails to decode or validate is copied to a timestamped
// backup and reported as a CorruptError; the original stays in place so
// every subsequent start keeps refusing until the operator intervenes.
func (s *Store[T]) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.records = make(map[snowflake.ID]*T)
		s.logger.Info("Store file missing, bootstrapping empty store", zap.String("path", s.path))

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read store %s: %w", s.path, err)
	}

	records := make(map[snowflake.ID]*T)
	if err := sonic.Unmarshal(data, &records); err != nil {
		return s.quarantine(data, err)
	}

	if s.validate != nil {
		for id, rec := range records {
			if err := s.validate(rec); err != nil {
				return s.quarantine(data, fmt.Errorf("record %s: %w", id, err))
			}
		}
	}

	s.records = records
	s.logger.Info("Store loaded",
		zap.String("path", s.path),
		zap.Int("records", len(s.records)))

	return nil
}

// quarantine preserves the unreadable file under a timestamped backup
// name and returns the fail-safe error.
func (s *Store[T]) quarantine(data []byte, cause error) error {
	backup := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().Format(backupTimeLayout))
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return fmt.Errorf("failed to back up corrupt store %s: %w", s.path, err)
	}

	s.logger.Error("Store file is corrupt, refusing to start",
		zap.String("path", s.path),
		zap.String("backup", backup),
		zap.Error(cause))

	return &CorruptError{Path: s.path, Backup: backup, Err: cause}
}

// AcceptCorrupt discards a store file after verifying it really is
// undecodable, moving it aside so the next start bootstraps an empty
// store. It refuses to touch a healthy file.
func AcceptCorrupt[T any](path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read store %s: %w", path, err)
	}

	records := make(map[snowflake.ID]*T)
	if err := sonic.Unmarshal(data, &records); err == nil {
		return "", fmt.Errorf("store %s decodes cleanly, refusing to discard it", path)
	}

	discarded := fmt.Sprintf("%s.discarded-%s", path, time.Now().Format(backupTimeLayout))
	if err := os.Rename(path, discarded); err != nil {
		return "", fmt.Errorf("failed to discard store %s: %w", path, err)
	}

	return discarded, nil
}
