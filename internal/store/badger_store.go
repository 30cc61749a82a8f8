package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/apperr"
	"github.com/mobiledetail/backend/internal/models"
)

var (
	recordPrefix = []byte("record/")
	idPrefix     = []byte("id/")
	sequenceKey  = []byte("meta/sequence")
)

// BadgerStore keeps one key per record, "record/<seq>" with seq a big-endian
// insertion counter, plus an "id/<ID>" entry pointing at that key. Iterating
// the record keys in reverse yields the most recently appended first,
// whatever the IDs look like.
type BadgerStore struct {
	db   *badger.DB
	seq  *badger.Sequence
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

// NewBadgerStore opens (or creates) the database directory. Badger holds a
// directory lock, so a second process opening the same path fails here.
func NewBadgerStore(path string, log zerolog.Logger) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, &apperr.StorageIOError{Op: "mkdir", Path: path, Err: err}
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &apperr.StorageIOError{Op: "open", Path: path, Err: err}
	}
	seq, err := db.GetSequence(sequenceKey, 64)
	if err != nil {
		_ = db.Close()
		return nil, &apperr.StorageIOError{Op: "sequence", Path: path, Err: err}
	}
	return &BadgerStore{db: db, seq: seq, path: path, log: log.With().Str("store", "badger").Logger()}, nil
}

func (s *BadgerStore) LoadAll(ctx context.Context) ([]models.ImageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []models.ImageRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		records, _, err = s.scan(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BadgerStore) Append(ctx context.Context, rec models.ImageRecord) (models.ImageRecord, error) {
	rec, err := prepare(rec)
	if err != nil {
		return rec, err
	}
	if err := ctx.Err(); err != nil {
		return models.ImageRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.seq.Next()
	if err != nil {
		return models.ImageRecord{}, &apperr.StorageIOError{Op: "sequence", Path: s.path, Err: err}
	}
	key := recordKey(n)

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(idKey(rec.ID)); err == nil {
			return apperr.Invalid("id", "Duplicate image id "+rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return &apperr.StorageIOError{Op: "get", Path: rec.ID, Err: err}
		}
		if err := txn.Set(idKey(rec.ID), key); err != nil {
			return &apperr.StorageIOError{Op: "set", Path: rec.ID, Err: err}
		}
		return s.put(txn, key, rec)
	})
	if err != nil {
		return models.ImageRecord{}, err
	}
	return rec, nil
}

func (s *BadgerStore) Update(ctx context.Context, ref Ref, patch models.ImagePatch) (Change, error) {
	if err := patch.Validate(); err != nil {
		return Change{}, err
	}
	if err := ctx.Err(); err != nil {
		return Change{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var change Change
	err := s.db.Update(func(txn *badger.Txn) error {
		records, keys, err := s.scan(txn)
		if err != nil {
			return err
		}
		pos, err := ref.resolve(records)
		if err != nil {
			return err
		}
		updated := patch.Apply(records[pos])
		if err := updated.Validate(); err != nil {
			return err
		}
		change = Change{Previous: records[pos], Current: updated}
		return s.put(txn, keys[pos], updated)
	})
	if err != nil {
		return Change{}, err
	}
	return change, nil
}

func (s *BadgerStore) Remove(ctx context.Context, ref Ref) (models.ImageRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.ImageRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed models.ImageRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		records, keys, err := s.scan(txn)
		if err != nil {
			return err
		}
		pos, err := ref.resolve(records)
		if err != nil {
			return err
		}
		removed = records[pos]
		if err := txn.Delete(keys[pos]); err != nil {
			return &apperr.StorageIOError{Op: "delete", Path: removed.ID, Err: err}
		}
		if err := txn.Delete(idKey(removed.ID)); err != nil {
			return &apperr.StorageIOError{Op: "delete", Path: removed.ID, Err: err}
		}
		return nil
	})
	if err != nil {
		return models.ImageRecord{}, err
	}
	return removed, nil
}

func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	if s.seq != nil {
		if err := s.seq.Release(); err != nil {
			s.log.Warn().Err(err).Msg("failed to release sequence")
		}
	}
	return s.db.Close()
}

// scan reads every record with its key, newest first.
func (s *BadgerStore) scan(txn *badger.Txn) ([]models.ImageRecord, [][]byte, error) {
	records := []models.ImageRecord{}
	var keys [][]byte

	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = recordPrefix
	it := txn.NewIterator(opts)
	defer it.Close()

	// Reverse iteration has to start past the last key carrying the prefix.
	seek := append(append([]byte{}, recordPrefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	for it.Seek(seek); it.ValidForPrefix(recordPrefix); it.Next() {
		item := it.Item()
		var rec models.ImageRecord
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
		if err != nil {
			return nil, nil, &apperr.CorruptStoreError{Path: fmt.Sprintf("%s:%x", s.path, item.Key()), Err: err}
		}
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
		records = append(records, rec)
		keys = append(keys, item.KeyCopy(nil))
	}
	return records, keys, nil
}

func (s *BadgerStore) put(txn *badger.Txn, key []byte, rec models.ImageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := txn.Set(key, data); err != nil {
		return &apperr.StorageIOError{Op: "set", Path: rec.ID, Err: err}
	}
	return nil
}

func recordKey(n uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], n)
	return key
}

func idKey(id string) []byte {
	return append(append([]byte{}, idPrefix...), id...)
}
