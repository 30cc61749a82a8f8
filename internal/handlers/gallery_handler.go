package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/apperr"
	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/internal/services"
	"github.com/mobiledetail/backend/internal/store"
)

// maxFormMemory is kept in memory while parsing a multipart form; the rest
// spills to temp files.
const maxFormMemory = 32 << 20

type GalleryHandler struct {
	galleryService *services.GalleryService
	storageService *services.StorageService
	auditService   *services.AuditService
	maxImageSize   int64
	log            zerolog.Logger
}

func NewGalleryHandler(galleryService *services.GalleryService, storageService *services.StorageService, auditService *services.AuditService, maxImageSize int64, log zerolog.Logger) *GalleryHandler {
	return &GalleryHandler{
		galleryService: galleryService,
		storageService: storageService,
		auditService:   auditService,
		maxImageSize:   maxImageSize,
		log:            log.With().Str("handler", "gallery").Logger(),
	}
}

// Upload creates a gallery record
// POST /api/v1/admin/images, legacy POST /api/upload
// Multipart form: section, category, title, description, tags, beforeImage (required), afterImage
func (h *GalleryHandler) Upload(c *gin.Context) {
	if err := h.parseMultipart(c); err != nil {
		respondError(c, h.log, err, "Upload failed")
		return
	}

	before, err := h.formImage(c, "beforeImage")
	if err != nil {
		respondError(c, h.log, err, "Upload failed")
		return
	}
	after, err := h.formImage(c, "afterImage")
	if err != nil {
		respondError(c, h.log, err, "Upload failed")
		return
	}

	rec, err := h.galleryService.Upload(c.Request.Context(), services.UploadInput{
		Section:     c.PostForm("section"),
		Category:    c.PostForm("category"),
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Tags:        c.PostForm("tags"),
		Before:      before,
		After:       after,
	})
	if err != nil {
		respondError(c, h.log, err, "Upload failed")
		return
	}

	audit(c, h.auditService, h.log, models.ActionImageUpload, "image", rec.ID, map[string]interface{}{
		"section":  rec.Section,
		"category": rec.Category,
		"title":    rec.Title,
	})
	c.JSON(http.StatusOK, gin.H{
		"message": "File(s) uploaded",
		"entry":   rec,
	})
}

// Edit updates a record addressed by index and/or id in the body
// POST /api/v1/admin/images/edit, legacy POST /api/admin/edit
// Multipart form or JSON: index, id, section, category, title, description, tags, beforeImage, afterImage
func (h *GalleryHandler) Edit(c *gin.Context) {
	in, err := h.editInput(c)
	if err != nil {
		respondError(c, h.log, err, "Edit failed")
		return
	}
	h.edit(c, in)
}

// UpdateByID updates the record with the id in the path
// PUT /api/v1/admin/images/:id
func (h *GalleryHandler) UpdateByID(c *gin.Context) {
	in, err := h.editInput(c)
	if err != nil {
		respondError(c, h.log, err, "Edit failed")
		return
	}
	in.Ref = store.ByID(c.Param("id"))
	h.edit(c, in)
}

func (h *GalleryHandler) edit(c *gin.Context, in services.EditInput) {
	rec, err := h.galleryService.Edit(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.log, err, "Edit failed")
		return
	}
	audit(c, h.auditService, h.log, models.ActionImageEdit, "image", rec.ID, map[string]interface{}{
		"ref":           in.Ref.String(),
		"replaced_file": in.Before != nil || in.After != nil,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Delete removes a record addressed by index and/or id in the body
// POST /api/v1/admin/images/delete, legacy POST /api/admin/delete
// JSON or form: index, id
func (h *GalleryHandler) Delete(c *gin.Context) {
	var ref store.Ref
	var err error
	if isMultipart(c) || strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
		ref, err = refFromForm(c)
	} else {
		var body editBody
		if err = decodeJSON(c, &body); err == nil {
			ref, err = body.ref()
		}
	}
	if err != nil {
		respondError(c, h.log, err, "Delete failed")
		return
	}
	h.delete(c, ref)
}

// DeleteByID removes the record with the id in the path
// DELETE /api/v1/admin/images/:id
func (h *GalleryHandler) DeleteByID(c *gin.Context) {
	h.delete(c, store.ByID(c.Param("id")))
}

func (h *GalleryHandler) delete(c *gin.Context, ref store.Ref) {
	removed, err := h.galleryService.Delete(c.Request.Context(), ref)
	if err != nil {
		respondError(c, h.log, err, "Delete failed")
		return
	}
	audit(c, h.auditService, h.log, models.ActionImageDelete, "image", removed.ID, map[string]interface{}{
		"ref":   ref.String(),
		"title": removed.Title,
		"files": removed.ImagePaths(),
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// List returns the gallery records, newest first
// GET /api/v1/images?section=&category=
func (h *GalleryHandler) List(c *gin.Context) {
	filter := services.ListFilter{
		Section:  models.Section(strings.TrimSpace(c.Query("section"))),
		Category: models.Category(strings.TrimSpace(c.Query("category"))),
	}
	c.JSON(http.StatusOK, h.galleryService.List(c.Request.Context(), filter))
}

// ServeUpload serves uploaded images. /uploads/metadata.json is answered
// from the store so it works with every backend.
// GET /uploads/*filepath
func (h *GalleryHandler) ServeUpload(c *gin.Context) {
	rel := c.Param("filepath")
	if rel == "/metadata.json" {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, h.galleryService.List(c.Request.Context(), services.ListFilter{}))
		return
	}
	if strings.HasSuffix(rel, ".part") || strings.HasSuffix(rel, ".tmp") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	abs, err := h.storageService.Resolve(rel)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.File(abs)
}

// editBody is the JSON form of an edit or delete. Index may be a number or
// a numeric string; tags a comma separated string or an array.
type editBody struct {
	Index       json.RawMessage `json:"index"`
	ID          string          `json:"id"`
	Section     *string         `json:"section"`
	Category    *string         `json:"category"`
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Tags        json.RawMessage `json:"tags"`
}

func (b editBody) ref() (store.Ref, error) {
	raw := strings.TrimSpace(string(b.Index))
	if raw == "" || raw == "null" {
		return buildRef(b.ID, "", false)
	}
	var s string
	if err := json.Unmarshal(b.Index, &s); err == nil {
		return buildRef(b.ID, s, true)
	}
	var f float64
	if err := json.Unmarshal(b.Index, &f); err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return store.Ref{}, apperr.Invalid("index", "Invalid index")
	}
	return buildRef(b.ID, strconv.FormatInt(int64(f), 10), true)
}

func (b editBody) tags() (*[]string, error) {
	raw := strings.TrimSpace(string(b.Tags))
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(b.Tags, &s); err == nil {
		tags := models.ParseTags(s)
		return &tags, nil
	}
	var list []string
	if err := json.Unmarshal(b.Tags, &list); err != nil {
		return nil, apperr.Invalid("tags", "Tags must be a string or a list of strings")
	}
	tags := models.NormalizeTags(list)
	return &tags, nil
}

// buildRef turns the submitted id and index into a store reference.
func buildRef(id, index string, hasIndex bool) (store.Ref, error) {
	id = strings.TrimSpace(id)
	index = strings.TrimSpace(index)
	if hasIndex && index != "" {
		i, err := strconv.Atoi(index)
		if err != nil {
			return store.Ref{}, apperr.Invalid("index", "Invalid index")
		}
		if id != "" {
			return store.ByIDAt(id, i), nil
		}
		return store.At(i), nil
	}
	if id != "" {
		return store.ByID(id), nil
	}
	return store.Ref{}, apperr.Invalid("index", "Invalid index")
}

func refFromForm(c *gin.Context) (store.Ref, error) {
	index, hasIndex := c.GetPostForm("index")
	return buildRef(c.PostForm("id"), index, hasIndex)
}

func (h *GalleryHandler) editInput(c *gin.Context) (services.EditInput, error) {
	var in services.EditInput
	if !isMultipart(c) {
		var body editBody
		if err := decodeJSON(c, &body); err != nil {
			return in, err
		}
		tags, err := body.tags()
		if err != nil {
			return in, err
		}
		if c.Param("id") == "" {
			if in.Ref, err = body.ref(); err != nil {
				return in, err
			}
		}
		in.Section = body.Section
		in.Category = body.Category
		in.Title = body.Title
		in.Description = body.Description
		in.Tags = tags
		return in, nil
	}

	if err := h.parseMultipart(c); err != nil {
		return in, err
	}
	if c.Param("id") == "" {
		ref, err := refFromForm(c)
		if err != nil {
			return in, err
		}
		in.Ref = ref
	}
	in.Section = optionalForm(c, "section")
	in.Category = optionalForm(c, "category")
	in.Title = optionalForm(c, "title")
	in.Description = optionalForm(c, "description")
	if raw, ok := c.GetPostForm("tags"); ok {
		tags := models.ParseTags(raw)
		in.Tags = &tags
	}

	var err error
	if in.Before, err = h.formImage(c, "beforeImage"); err != nil {
		return in, err
	}
	if in.After, err = h.formImage(c, "afterImage"); err != nil {
		return in, err
	}
	return in, nil
}

func (h *GalleryHandler) parseMultipart(c *gin.Context) error {
	if !isMultipart(c) {
		return apperr.Invalid("", "Expected a multipart form")
	}
	if h.maxImageSize > 0 {
		// two images plus the text fields
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.maxImageSize+(1<<20))
	}
	if err := c.Request.ParseMultipartForm(maxFormMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("multipart form exceeds %d bytes: %w", maxErr.Limit, apperr.ErrTooLarge)
		}
		return apperr.Invalid("", "Failed to parse form")
	}
	return nil
}

// formImage reads the named file field. A missing field yields nil.
func (h *GalleryHandler) formImage(c *gin.Context, field string) (*services.ImageUpload, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, apperr.Invalid(field, "Failed to read "+field)
	}
	data, err := h.readFile(fh)
	if err != nil {
		return nil, err
	}
	return &services.ImageUpload{Filename: fh.Filename, Data: data}, nil
}

func (h *GalleryHandler) readFile(fh *multipart.FileHeader) ([]byte, error) {
	if h.maxImageSize > 0 && fh.Size > h.maxImageSize {
		return nil, fmt.Errorf("image %s too large: %d bytes (max: %d): %w", fh.Filename, fh.Size, h.maxImageSize, apperr.ErrTooLarge)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, apperr.Invalid("file", "Failed to read "+fh.Filename)
	}
	defer f.Close()

	var r io.Reader = f
	if h.maxImageSize > 0 {
		r = io.LimitReader(f, h.maxImageSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.Invalid("file", "Failed to read "+fh.Filename)
	}
	return data, nil
}

func optionalForm(c *gin.Context, field string) *string {
	v, ok := c.GetPostForm(field)
	if !ok {
		return nil
	}
	return &v
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

// decodeJSON decodes the request body into v. An empty body decodes to the zero value.
func decodeJSON(c *gin.Context, v interface{}) error {
	if c.Request.Body == nil {
		return nil
	}
	if err := json.NewDecoder(c.Request.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Invalid("", "Invalid request body")
	}
	return nil
}
