package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobiledetail/backend/internal/apperr"
	"github.com/mobiledetail/backend/internal/config"
	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/internal/store"
)

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

type failingStore struct {
	store.MetadataStore
	err error
}

func (f *failingStore) Append(context.Context, models.ImageRecord) (models.ImageRecord, error) {
	return models.ImageRecord{}, f.err
}

func (f *failingStore) Update(context.Context, store.Ref, models.ImagePatch) (store.Change, error) {
	return store.Change{}, f.err
}

type fakeMirror struct {
	mu       sync.Mutex
	uploaded []string
	deleted  []string
}

func (m *fakeMirror) MediaEnabled() bool { return true }

func (m *fakeMirror) UploadMedia(_ context.Context, key string, body io.Reader, _ string) error {
	if _, err := io.ReadAll(body); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaded = append(m.uploaded, key)
	return nil
}

func (m *fakeMirror) DeleteMedia(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return nil
}

func testStorageConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		UploadsDir:         t.TempDir(),
		UploadsURLPrefix:   "/uploads",
		UploadMaxImageSize: 1 << 20,
	}
}

func newGalleryFixture(t *testing.T) (*GalleryService, *StorageService, store.MetadataStore) {
	t.Helper()
	cfg := testStorageConfig(t)
	files, err := NewStorageService(cfg)
	require.NoError(t, err)
	st, err := store.NewJSONStore(filepath.Join(cfg.UploadsDir, "metadata.json"), zerolog.Nop())
	require.NoError(t, err)
	return NewGalleryService(st, files, nil, zerolog.Nop()), files, st
}

func uploadedFiles(t *testing.T, files *StorageService) []string {
	t.Helper()
	list, err := files.ListFiles("metadata.json")
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, f := range list {
		names = append(names, f.Key)
	}
	return names
}

func TestGalleryUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("stores files and prepends the record", func(t *testing.T) {
		svc, files, st := newGalleryFixture(t)

		first, err := svc.Upload(ctx, UploadInput{Title: "first", Before: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		require.NoError(t, err)

		rec, err := svc.Upload(ctx, UploadInput{
			Section:  "slider",
			Category: "ceramic",
			Title:    "Coated",
			Tags:     "ceramic, ,gloss ",
			Before:   &ImageUpload{Filename: "before.png", Data: pngBytes},
			After:    &ImageUpload{Filename: "after.jpg", Data: jpegBytes},
		})
		require.NoError(t, err)

		assert.Equal(t, models.SectionSlider, rec.Section)
		assert.Equal(t, models.CategoryCeramic, rec.Category)
		assert.Equal(t, []string{"ceramic", "gloss"}, rec.Tags)
		assert.Regexp(t, `^/uploads/[0-9a-f-]{36}\.png$`, rec.BeforeImage)
		assert.Regexp(t, `^/uploads/[0-9a-f-]{36}\.jpg$`, rec.AfterImage)
		assert.True(t, files.Exists(rec.BeforeImage))
		assert.True(t, files.Exists(rec.AfterImage))

		records, err := st.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, rec.ID, records[0].ID)
		assert.Equal(t, first.ID, records[1].ID)
	})

	t.Run("defaults section and category", func(t *testing.T) {
		svc, _, _ := newGalleryFixture(t)
		rec, err := svc.Upload(ctx, UploadInput{Before: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		require.NoError(t, err)
		assert.Equal(t, models.SectionGallery, rec.Section)
		assert.Equal(t, models.CategoryExterior, rec.Category)
		assert.Equal(t, "", rec.AfterImage)
		assert.Equal(t, []string{}, rec.Tags)
	})

	t.Run("missing before image leaves everything unchanged", func(t *testing.T) {
		svc, files, st := newGalleryFixture(t)

		_, err := svc.Upload(ctx, UploadInput{Title: "x", After: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Equal(t, "No before image uploaded", apperr.PublicMessage(err, ""))

		records, err := st.LoadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.Empty(t, uploadedFiles(t, files))
	})

	t.Run("invalid category is rejected before staging", func(t *testing.T) {
		svc, files, _ := newGalleryFixture(t)
		_, err := svc.Upload(ctx, UploadInput{Category: "boats", Before: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Empty(t, uploadedFiles(t, files))
	})

	t.Run("non image after file discards the staged before file", func(t *testing.T) {
		svc, files, _ := newGalleryFixture(t)
		_, err := svc.Upload(ctx, UploadInput{
			Before: &ImageUpload{Filename: "a.png", Data: pngBytes},
			After:  &ImageUpload{Filename: "notes.txt", Data: []byte("just some text")},
		})
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Empty(t, uploadedFiles(t, files))
	})

	t.Run("failed append removes staged files", func(t *testing.T) {
		cfg := testStorageConfig(t)
		files, err := NewStorageService(cfg)
		require.NoError(t, err)
		inner, err := store.NewJSONStore(filepath.Join(cfg.UploadsDir, "metadata.json"), zerolog.Nop())
		require.NoError(t, err)
		boom := &apperr.StorageIOError{Op: "write", Path: "metadata.json", Err: errors.New("disk full")}
		svc := NewGalleryService(&failingStore{MetadataStore: inner, err: boom}, files, nil, zerolog.Nop())

		_, err = svc.Upload(ctx, UploadInput{
			Before: &ImageUpload{Filename: "a.png", Data: pngBytes},
			After:  &ImageUpload{Filename: "b.jpg", Data: jpegBytes},
		})
		assert.ErrorIs(t, err, apperr.ErrStorageIO)
		assert.Empty(t, uploadedFiles(t, files))
	})

	t.Run("mirrors staged files when enabled", func(t *testing.T) {
		cfg := testStorageConfig(t)
		files, err := NewStorageService(cfg)
		require.NoError(t, err)
		st, err := store.NewJSONStore(filepath.Join(cfg.UploadsDir, "metadata.json"), zerolog.Nop())
		require.NoError(t, err)
		mirror := &fakeMirror{}
		svc := NewGalleryService(st, files, mirror, zerolog.Nop())

		rec, err := svc.Upload(ctx, UploadInput{Before: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		require.NoError(t, err)
		require.Len(t, mirror.uploaded, 1)
		assert.Equal(t, "/uploads/"+mirror.uploaded[0], rec.BeforeImage)

		_, err = svc.Delete(ctx, store.ByID(rec.ID))
		require.NoError(t, err)
		assert.Equal(t, mirror.uploaded, mirror.deleted)
	})
}

func TestGalleryEdit(t *testing.T) {
	ctx := context.Background()

	t.Run("resubmitted fields change, others stay", func(t *testing.T) {
		svc, _, st := newGalleryFixture(t)
		orig, err := svc.Upload(ctx, UploadInput{Title: "old", Description: "keep", Tags: "a,b", Before: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		require.NoError(t, err)

		title := "new"
		empty := ""
		_, err = svc.Edit(ctx, EditInput{Ref: store.At(0), Title: &title, Category: &empty})
		require.NoError(t, err)

		records, err := st.LoadAll(ctx)
		require.NoError(t, err)
		got := records[0]
		assert.Equal(t, "new", got.Title)
		assert.Equal(t, "keep", got.Description)
		assert.Equal(t, []string{"a", "b"}, got.Tags)
		assert.Equal(t, orig.Category, got.Category)
		assert.Equal(t, orig.CreatedAt, got.CreatedAt)
		assert.Equal(t, orig.BeforeImage, got.BeforeImage)
	})

	t.Run("replacement image keeps the old file on disk", func(t *testing.T) {
		svc, files, _ := newGalleryFixture(t)
		orig, err := svc.Upload(ctx, UploadInput{Before: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		require.NoError(t, err)

		updated, err := svc.Edit(ctx, EditInput{Ref: store.ByID(orig.ID), Before: &ImageUpload{Filename: "c.jpg", Data: jpegBytes}})
		require.NoError(t, err)

		assert.NotEqual(t, orig.BeforeImage, updated.BeforeImage)
		assert.True(t, files.Exists(updated.BeforeImage))
		assert.True(t, files.Exists(orig.BeforeImage))
	})

	t.Run("out of range index", func(t *testing.T) {
		svc, files, st := newGalleryFixture(t)
		_, err := svc.Upload(ctx, UploadInput{Before: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		require.NoError(t, err)
		before, err := os.ReadFile(filepath.Join(files.Root(), "metadata.json"))
		require.NoError(t, err)

		title := "x"
		_, err = svc.Edit(ctx, EditInput{Ref: store.At(3), Title: &title, After: &ImageUpload{Filename: "b.png", Data: pngBytes}})
		assert.ErrorIs(t, err, apperr.ErrIndexOutOfRange)
		assert.Equal(t, "Invalid index", apperr.PublicMessage(err, ""))

		after, err := os.ReadFile(filepath.Join(files.Root(), "metadata.json"))
		require.NoError(t, err)
		assert.Equal(t, before, after)
		records, err := st.LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, uploadedFiles(t, files), len(records[0].ImagePaths()))
	})

	t.Run("missing reference", func(t *testing.T) {
		svc, _, _ := newGalleryFixture(t)
		_, err := svc.Edit(ctx, EditInput{})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestGalleryDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes record and files", func(t *testing.T) {
		svc, files, st := newGalleryFixture(t)
		keep, err := svc.Upload(ctx, UploadInput{Title: "keep", Before: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		require.NoError(t, err)
		gone, err := svc.Upload(ctx, UploadInput{
			Title:  "gone",
			Before: &ImageUpload{Filename: "b.png", Data: pngBytes},
			After:  &ImageUpload{Filename: "c.jpg", Data: jpegBytes},
		})
		require.NoError(t, err)

		removed, err := svc.Delete(ctx, store.At(0))
		require.NoError(t, err)
		assert.Equal(t, gone.ID, removed.ID)
		assert.False(t, files.Exists(gone.BeforeImage))
		assert.False(t, files.Exists(gone.AfterImage))
		assert.True(t, files.Exists(keep.BeforeImage))

		records, err := st.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, keep.ID, records[0].ID)
	})

	t.Run("missing files do not fail the delete", func(t *testing.T) {
		svc, files, st := newGalleryFixture(t)
		rec, err := svc.Upload(ctx, UploadInput{Before: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		require.NoError(t, err)
		abs, err := files.AbsPath(rec.BeforeImage)
		require.NoError(t, err)
		require.NoError(t, os.Remove(abs))

		_, err = svc.Delete(ctx, store.At(0))
		require.NoError(t, err)
		records, err := st.LoadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("out of range keeps the store", func(t *testing.T) {
		svc, _, st := newGalleryFixture(t)
		_, err := svc.Upload(ctx, UploadInput{Before: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		require.NoError(t, err)

		_, err = svc.Delete(ctx, store.At(1))
		assert.ErrorIs(t, err, apperr.ErrIndexOutOfRange)
		records, err := st.LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("repeated positional delete hits an invalidated index", func(t *testing.T) {
		svc, files, st := newGalleryFixture(t)
		for _, name := range []string{"a.png", "b.png"} {
			_, err := svc.Upload(ctx, UploadInput{Before: &ImageUpload{Filename: name, Data: pngBytes}})
			require.NoError(t, err)
		}

		_, err := svc.Delete(ctx, store.At(1))
		require.NoError(t, err)
		before, err := os.ReadFile(filepath.Join(files.Root(), "metadata.json"))
		require.NoError(t, err)

		_, err = svc.Delete(ctx, store.At(1))
		assert.ErrorIs(t, err, apperr.ErrIndexOutOfRange)
		assert.Equal(t, "Invalid index", apperr.PublicMessage(err, ""))

		after, err := os.ReadFile(filepath.Join(files.Root(), "metadata.json"))
		require.NoError(t, err)
		assert.Equal(t, before, after)
		records, err := st.LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 1)
		assert.Len(t, uploadedFiles(t, files), 1)
	})
}

func TestGalleryLifecycle(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		tags     string
		wantTags []string
	}{
		{name: "duplicate tags are kept", tags: "a, b, b", wantTags: []string{"a", "b", "b"}},
		{name: "blank entries are dropped", tags: " ,a,, ", wantTags: []string{"a"}},
		{name: "no tags", tags: "", wantTags: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, files, st := newGalleryFixture(t)

			rec, err := svc.Upload(ctx, UploadInput{
				Title:  "Full detail",
				Tags:   tt.tags,
				Before: &ImageUpload{Filename: "before.png", Data: pngBytes},
				After:  &ImageUpload{Filename: "after.jpg", Data: jpegBytes},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantTags, rec.Tags)

			tags := []string{"x"}
			edited, err := svc.Edit(ctx, EditInput{Ref: store.At(0), Tags: &tags})
			require.NoError(t, err)
			assert.Equal(t, []string{"x"}, edited.Tags)
			assert.Equal(t, "Full detail", edited.Title)
			assert.Equal(t, rec.BeforeImage, edited.BeforeImage)

			_, err = svc.Delete(ctx, store.At(0))
			require.NoError(t, err)

			records, err := st.LoadAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, records)
			assert.False(t, files.Exists(rec.BeforeImage))
			assert.False(t, files.Exists(rec.AfterImage))
			assert.Empty(t, uploadedFiles(t, files))

			_, err = svc.Delete(ctx, store.At(0))
			assert.ErrorIs(t, err, apperr.ErrIndexOutOfRange)
		})
	}
}

func TestGalleryList(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by section and category", func(t *testing.T) {
		svc, _, _ := newGalleryFixture(t)
		_, err := svc.Upload(ctx, UploadInput{Section: "gallery", Category: "interior", Before: &ImageUpload{Filename: "a.png", Data: pngBytes}})
		require.NoError(t, err)
		_, err = svc.Upload(ctx, UploadInput{Section: "slider", Category: "interior", Before: &ImageUpload{Filename: "b.png", Data: pngBytes}})
		require.NoError(t, err)
		_, err = svc.Upload(ctx, UploadInput{Section: "gallery", Category: "wheels", Before: &ImageUpload{Filename: "c.png", Data: pngBytes}})
		require.NoError(t, err)

		assert.Len(t, svc.List(ctx, ListFilter{}), 3)
		assert.Len(t, svc.List(ctx, ListFilter{Section: models.SectionGallery}), 2)
		assert.Len(t, svc.List(ctx, ListFilter{Category: models.CategoryInterior}), 2)
		assert.Len(t, svc.List(ctx, ListFilter{Section: models.SectionSlider, Category: models.CategoryWheels}), 0)
	})

	t.Run("corrupt store serves an empty list", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "metadata.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		st, err := store.NewJSONStore(path, zerolog.Nop())
		require.NoError(t, err)
		svc := NewGalleryService(st, nil, nil, zerolog.Nop())

		got := svc.List(ctx, ListFilter{})
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}
