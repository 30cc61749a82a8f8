package services

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mobiledetail/backend/internal/apperr"
	"github.com/mobiledetail/backend/internal/metrics"
	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/internal/store"
)

// ImageFileStore is the part of StorageService the gallery needs.
type ImageFileStore interface {
	SaveImage(ctx context.Context, originalName string, data []byte) (*StoredFile, error)
	Remove(ctx context.Context, publicPath string, mode RemoveMode) error
}

// MediaMirror copies stored images to a bucket. Optional.
type MediaMirror interface {
	MediaEnabled() bool
	UploadMedia(ctx context.Context, key string, body io.Reader, ctype string) error
	DeleteMedia(ctx context.Context, key string) error
}

// ImageUpload is one submitted file.
type ImageUpload struct {
	Filename string
	Data     []byte
}

// UploadInput is the form submitted to create a record.
type UploadInput struct {
	Section     string
	Category    string
	Title       string
	Description string
	Tags        string
	Before      *ImageUpload
	After       *ImageUpload
}

// EditInput addresses a record and carries the resubmitted fields. Nil
// fields, and empty section or category, leave the record unchanged.
type EditInput struct {
	Ref         store.Ref
	Section     *string
	Category    *string
	Title       *string
	Description *string
	Tags        *[]string
	Before      *ImageUpload
	After       *ImageUpload
}

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	Section  models.Section
	Category models.Category
}

// GalleryService runs the upload, edit and delete flows: stage image files,
// commit the metadata change, and remove the staged files if the commit fails.
type GalleryService struct {
	store  store.MetadataStore
	files  ImageFileStore
	mirror MediaMirror
	log    zerolog.Logger
	now    func() time.Time
}

func NewGalleryService(st store.MetadataStore, files ImageFileStore, mirror MediaMirror, log zerolog.Logger) *GalleryService {
	return &GalleryService{
		store:  st,
		files:  files,
		mirror: mirror,
		log:    log.With().Str("service", "gallery").Logger(),
		now:    time.Now,
	}
}

// Upload stores the submitted images and inserts a new record at the front.
func (s *GalleryService) Upload(ctx context.Context, in UploadInput) (rec models.ImageRecord, err error) {
	defer func() { metrics.ObserveGallery("upload", err) }()

	if in.Before == nil || len(in.Before.Data) == 0 {
		return rec, apperr.Invalid("beforeImage", "No before image uploaded")
	}
	section, err := models.ParseSection(in.Section)
	if err != nil {
		return rec, err
	}
	category, err := models.ParseCategory(in.Category)
	if err != nil {
		return rec, err
	}

	before, after, err := s.stage(ctx, in.Before, in.After)
	if err != nil {
		return rec, err
	}

	rec = models.ImageRecord{
		Section:     section,
		Category:    category,
		Title:       in.Title,
		Description: in.Description,
		Tags:        models.ParseTags(in.Tags),
		BeforeImage: before.PublicPath,
		CreatedAt:   models.FormatTimestamp(s.now()),
	}
	if after != nil {
		rec.AfterImage = after.PublicPath
	}

	rec, err = s.store.Append(ctx, rec)
	if err != nil {
		s.discard(ctx, before, after)
		return models.ImageRecord{}, err
	}

	s.log.Info().Str("id", rec.ID).Str("section", string(rec.Section)).Str("category", string(rec.Category)).Msg("image uploaded")
	s.mirrorUpload(ctx, before, after)
	return rec, nil
}

// Edit applies the resubmitted fields and any replacement images to the
// referenced record. Files the record no longer points at are left on disk
// for the orphan sweep.
func (s *GalleryService) Edit(ctx context.Context, in EditInput) (rec models.ImageRecord, err error) {
	defer func() { metrics.ObserveGallery("edit", err) }()

	if !in.Ref.Valid() {
		return rec, apperr.Invalid("index", "Invalid index")
	}

	var patch models.ImagePatch
	if in.Section != nil && strings.TrimSpace(*in.Section) != "" {
		section, err := models.ParseSection(*in.Section)
		if err != nil {
			return rec, err
		}
		patch.Section = &section
	}
	if in.Category != nil && strings.TrimSpace(*in.Category) != "" {
		category, err := models.ParseCategory(*in.Category)
		if err != nil {
			return rec, err
		}
		patch.Category = &category
	}
	patch.Title = in.Title
	patch.Description = in.Description
	if in.Tags != nil {
		tags := models.NormalizeTags(*in.Tags)
		patch.Tags = &tags
	}

	before, after, err := s.stage(ctx, in.Before, in.After)
	if err != nil {
		return rec, err
	}
	if before != nil {
		patch.BeforeImage = &before.PublicPath
	}
	if after != nil {
		patch.AfterImage = &after.PublicPath
	}

	change, err := s.store.Update(ctx, in.Ref, patch)
	if err != nil {
		s.discard(ctx, before, after)
		return rec, err
	}

	if replaced := models.Replaced(change.Previous, change.Current); len(replaced) > 0 {
		s.log.Warn().
			Str("warning", "orphan_resource").
			Str("id", change.Current.ID).
			Strs("paths", replaced).
			Msg("edit replaced images; old files left for the orphan sweep")
	}
	s.log.Info().Str("id", change.Current.ID).Str("ref", in.Ref.String()).Msg("image edited")
	s.mirrorUpload(ctx, before, after)
	return change.Current, nil
}

// Delete removes the referenced record, then its files. File removal is best
// effort: once the record is gone the delete has succeeded.
func (s *GalleryService) Delete(ctx context.Context, ref store.Ref) (removed models.ImageRecord, err error) {
	defer func() { metrics.ObserveGallery("delete", err) }()

	if !ref.Valid() {
		return removed, apperr.Invalid("index", "Invalid index")
	}
	removed, err = s.store.Remove(ctx, ref)
	if err != nil {
		return models.ImageRecord{}, err
	}

	cleanupCtx := context.WithoutCancel(ctx)
	for _, p := range removed.ImagePaths() {
		if err := s.files.Remove(cleanupCtx, p, IgnoreIfAbsent); err != nil {
			s.log.Warn().
				Err(err).
				Str("warning", "orphan_resource").
				Str("id", removed.ID).
				Str("path", p).
				Msg("failed to remove image file of deleted record")
		}
		s.mirrorDelete(cleanupCtx, p)
	}

	s.log.Info().Str("id", removed.ID).Str("ref", ref.String()).Msg("image deleted")
	return removed, nil
}

// List returns the records matching filter, newest first. An unreadable
// store is logged and served as an empty gallery.
func (s *GalleryService) List(ctx context.Context, filter ListFilter) []models.ImageRecord {
	records, err := s.store.LoadAll(ctx)
	metrics.ObserveGallery("list", err)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load gallery metadata, serving empty list")
		return []models.ImageRecord{}
	}
	if filter.Section == "" && filter.Category == "" {
		return records
	}

	out := make([]models.ImageRecord, 0, len(records))
	for _, r := range records {
		if filter.Section != "" && r.Section != filter.Section {
			continue
		}
		if filter.Category != "" && r.Category != filter.Category {
			continue
		}
		out = append(out, r)
	}
	return out
}

// stage writes the submitted images concurrently. Either both land or
// neither does.
func (s *GalleryService) stage(ctx context.Context, before, after *ImageUpload) (*StoredFile, *StoredFile, error) {
	var beforeFile, afterFile *StoredFile

	g, gctx := errgroup.WithContext(ctx)
	if before != nil && len(before.Data) > 0 {
		g.Go(func() error {
			f, err := s.files.SaveImage(gctx, before.Filename, before.Data)
			beforeFile = f
			return err
		})
	}
	if after != nil && len(after.Data) > 0 {
		g.Go(func() error {
			f, err := s.files.SaveImage(gctx, after.Filename, after.Data)
			afterFile = f
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.discard(ctx, beforeFile, afterFile)
		return nil, nil, err
	}
	return beforeFile, afterFile, nil
}

// discard removes staged files after a failed commit.
func (s *GalleryService) discard(ctx context.Context, staged ...*StoredFile) {
	ctx = context.WithoutCancel(ctx)
	for _, f := range staged {
		if f == nil {
			continue
		}
		if err := s.files.Remove(ctx, f.PublicPath, IgnoreIfAbsent); err != nil {
			s.log.Warn().
				Err(err).
				Str("warning", "orphan_resource").
				Str("path", f.PublicPath).
				Msg("failed to remove staged image after failed commit")
		}
	}
}

func (s *GalleryService) mirrorUpload(ctx context.Context, staged ...*StoredFile) {
	if s.mirror == nil || !s.mirror.MediaEnabled() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, f := range staged {
		if f == nil {
			continue
		}
		if err := s.mirrorFile(ctx, f); err != nil {
			s.log.Warn().Err(err).Str("key", f.Key).Msg("failed to mirror image to s3")
		}
	}
}

func (s *GalleryService) mirrorFile(ctx context.Context, f *StoredFile) error {
	fh, err := os.Open(f.AbsPath)
	if err != nil {
		return err
	}
	defer fh.Close()
	return s.mirror.UploadMedia(ctx, f.Key, fh, f.ContentType)
}

func (s *GalleryService) mirrorDelete(ctx context.Context, publicPath string) {
	if s.mirror == nil || !s.mirror.MediaEnabled() {
		return
	}
	key := publicPath[strings.LastIndex(publicPath, "/")+1:]
	if err := s.mirror.DeleteMedia(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to delete mirrored image")
	}
}

