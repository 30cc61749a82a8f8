// Package store persists the ordered gallery metadata, newest record first.
package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid"

	"github.com/mobiledetail/backend/internal/apperr"
	"github.com/mobiledetail/backend/internal/models"
)

// MetadataStore is the single source of truth for ImageRecords.
//
// Every mutation is a whole read-modify-write executed atomically with
// respect to other mutations on the same store, and a failed mutation leaves
// the persisted data unchanged.
type MetadataStore interface {
	// LoadAll returns all records, newest first. A missing or empty store is
	// an empty slice; unparsable data is an *apperr.CorruptStoreError.
	LoadAll(ctx context.Context) ([]models.ImageRecord, error)
	// Append validates rec, assigns an ID when it has none and inserts it at index 0.
	Append(ctx context.Context, rec models.ImageRecord) (models.ImageRecord, error)
	// Update applies patch to the referenced record and returns it as it was
	// before and after the change.
	Update(ctx context.Context, ref Ref, patch models.ImagePatch) (Change, error)
	// Remove deletes the referenced record and returns it. Later records shift down by one.
	Remove(ctx context.Context, ref Ref) (models.ImageRecord, error)
	Close() error
}

// Change is the result of an Update.
type Change struct {
	Previous models.ImageRecord
	Current  models.ImageRecord
}

// Ref addresses a record by position, by ID, or by ID with the position the
// caller last saw it at.
type Ref struct {
	ID       string
	Index    int
	hasIndex bool
}

// At addresses the record currently at index i.
func At(i int) Ref { return Ref{Index: i, hasIndex: true} }

// ByID addresses the record with the given ID wherever it currently is.
func ByID(id string) Ref { return Ref{ID: id} }

// ByIDAt addresses the record with the given ID and fails with
// apperr.ErrStaleIndex when it is no longer at index i.
func ByIDAt(id string, i int) Ref { return Ref{ID: id, Index: i, hasIndex: true} }

func (r Ref) String() string {
	switch {
	case r.ID != "" && r.hasIndex:
		return fmt.Sprintf("id=%s index=%d", r.ID, r.Index)
	case r.ID != "":
		return "id=" + r.ID
	default:
		return fmt.Sprintf("index=%d", r.Index)
	}
}

// Valid reports whether the ref addresses anything at all.
func (r Ref) Valid() bool { return r.ID != "" || r.hasIndex }

// resolve finds the position the ref points at in records.
func (r Ref) resolve(records []models.ImageRecord) (int, error) {
	if r.ID != "" {
		pos := -1
		for i := range records {
			if records[i].ID == r.ID {
				pos = i
				break
			}
		}
		if pos < 0 {
			return -1, fmt.Errorf("image %s: %w", r.ID, apperr.ErrNotFound)
		}
		if r.hasIndex && r.Index != pos {
			return -1, fmt.Errorf("image %s expected at %d, found at %d: %w", r.ID, r.Index, pos, apperr.ErrStaleIndex)
		}
		return pos, nil
	}
	if !r.hasIndex {
		return -1, apperr.Invalid("index", "Invalid index")
	}
	if r.Index < 0 || r.Index >= len(records) {
		return -1, &apperr.IndexOutOfRangeError{Index: r.Index, Length: len(records)}
	}
	return r.Index, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-ordered record ID.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// prepare readies a record for insertion.
func prepare(rec models.ImageRecord) (models.ImageRecord, error) {
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = models.FormatTimestamp(time.Now())
	}
	return rec, nil
}

// Copy appends every record of src to dst so dst ends up in the same order.
// It returns the number of records copied.
func Copy(ctx context.Context, dst, src MetadataStore) (int, error) {
	records, err := src.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load source: %w", err)
	}
	for i := len(records) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return len(records) - 1 - i, err
		}
		if _, err := dst.Append(ctx, records[i]); err != nil {
			return len(records) - 1 - i, fmt.Errorf("append %s: %w", records[i].ID, err)
		}
	}
	return len(records), nil
}
