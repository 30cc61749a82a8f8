package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/apperr"
	"github.com/mobiledetail/backend/internal/models"
)

// JSONStore keeps the records in a single JSON array file, the metadata.json
// layout the frontend reads directly.
//
// All access goes through mu, and writes replace the file with a rename so a
// reader never sees a partial array.
type JSONStore struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

// NewJSONStore opens the store at path, creating its directory. Records
// written before IDs existed get one assigned here. A corrupt file is left
// untouched and reported by LoadAll and every mutation.
func NewJSONStore(path string, log zerolog.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &apperr.StorageIOError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	s := &JSONStore{path: path, log: log.With().Str("store", "json").Logger()}
	if err := s.backfillIDs(); err != nil {
		var corrupt *apperr.CorruptStoreError
		if !errors.As(err, &corrupt) {
			return nil, err
		}
		s.log.Error().Err(err).Msg("metadata file is corrupt; reads will return an empty gallery and writes will fail until it is repaired")
	}
	return s, nil
}

func (s *JSONStore) LoadAll(ctx context.Context) ([]models.ImageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *JSONStore) Append(ctx context.Context, rec models.ImageRecord) (models.ImageRecord, error) {
	rec, err := prepare(rec)
	if err != nil {
		return rec, err
	}
	err = s.mutate(ctx, func(records []models.ImageRecord) ([]models.ImageRecord, error) {
		for i := range records {
			if records[i].ID == rec.ID {
				return nil, apperr.Invalid("id", "Duplicate image id "+rec.ID)
			}
		}
		out := make([]models.ImageRecord, 0, len(records)+1)
		out = append(out, rec)
		return append(out, records...), nil
	})
	if err != nil {
		return models.ImageRecord{}, err
	}
	return rec, nil
}

func (s *JSONStore) Update(ctx context.Context, ref Ref, patch models.ImagePatch) (Change, error) {
	if err := patch.Validate(); err != nil {
		return Change{}, err
	}
	var change Change
	err := s.mutate(ctx, func(records []models.ImageRecord) ([]models.ImageRecord, error) {
		pos, err := ref.resolve(records)
		if err != nil {
			return nil, err
		}
		updated := patch.Apply(records[pos])
		if err := updated.Validate(); err != nil {
			return nil, err
		}
		change = Change{Previous: records[pos], Current: updated}
		records[pos] = updated
		return records, nil
	})
	if err != nil {
		return Change{}, err
	}
	return change, nil
}

func (s *JSONStore) Remove(ctx context.Context, ref Ref) (models.ImageRecord, error) {
	var removed models.ImageRecord
	err := s.mutate(ctx, func(records []models.ImageRecord) ([]models.ImageRecord, error) {
		pos, err := ref.resolve(records)
		if err != nil {
			return nil, err
		}
		removed = records[pos]
		return append(records[:pos:pos], records[pos+1:]...), nil
	})
	if err != nil {
		return models.ImageRecord{}, err
	}
	return removed, nil
}

func (s *JSONStore) Close() error { return nil }

// mutate runs fn on the current records under the lock and persists the result.
func (s *JSONStore) mutate(ctx context.Context, fn func([]models.ImageRecord) ([]models.ImageRecord, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	next, err := fn(records)
	if err != nil {
		return err
	}
	return s.write(next)
}

func (s *JSONStore) read() ([]models.ImageRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.ImageRecord{}, nil
	}
	if err != nil {
		return nil, &apperr.StorageIOError{Op: "read", Path: s.path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []models.ImageRecord{}, nil
	}

	var records []models.ImageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &apperr.CorruptStoreError{Path: s.path, Err: err}
	}
	if records == nil {
		// a literal "null"
		return nil, &apperr.CorruptStoreError{Path: s.path, Err: errors.New("metadata is not an array")}
	}
	for i := range records {
		if records[i].BeforeImage == "" {
			return nil, &apperr.CorruptStoreError{Path: s.path, Err: fmt.Errorf("record %d has no beforeImage", i)}
		}
		if records[i].Tags == nil {
			records[i].Tags = []string{}
		}
	}
	return records, nil
}

// write replaces the file atomically: temp file in the same directory, fsync, rename.
func (s *JSONStore) write(records []models.ImageRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &apperr.StorageIOError{Op: "create", Path: dir, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return &apperr.StorageIOError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return &apperr.StorageIOError{Op: "sync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &apperr.StorageIOError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return &apperr.StorageIOError{Op: "chmod", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return &apperr.StorageIOError{Op: "rename", Path: s.path, Err: err}
	}
	return nil
}

// backfillIDs assigns IDs to records that predate them, oldest first so the
// IDs sort in creation order.
func (s *JSONStore) backfillIDs() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	changed := 0
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ID == "" {
			records[i].ID = NewID()
			changed++
		}
	}
	if changed == 0 {
		return nil
	}
	if err := s.write(records); err != nil {
		return err
	}
	s.log.Info().Int("records", changed).Msg("assigned ids to legacy metadata records")
	return nil
}
