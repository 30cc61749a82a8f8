package models

import (
	"strings"
	"time"

	"github.com/mobiledetail/backend/internal/apperr"
)

// Section selects where the frontend shows an image.
type Section string

const (
	SectionGallery Section = "gallery"
	SectionSlider  Section = "slider"
)

// Category is the gallery filter an image belongs to.
type Category string

const (
	CategoryExterior    Category = "exterior"
	CategoryInterior    Category = "interior"
	CategoryBeforeAfter Category = "before-after"
	CategoryCeramic     Category = "ceramic"
	CategoryWheels      Category = "wheels"
)

const (
	DefaultSection  = SectionGallery
	DefaultCategory = CategoryExterior
)

// TimestampLayout matches the millisecond UTC format the frontend already parses.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	sections   = map[Section]bool{SectionGallery: true, SectionSlider: true}
	categories = map[Category]bool{
		CategoryExterior:    true,
		CategoryInterior:    true,
		CategoryBeforeAfter: true,
		CategoryCeramic:     true,
		CategoryWheels:      true,
	}
)

func (s Section) Valid() bool  { return sections[s] }
func (c Category) Valid() bool { return categories[c] }

// ParseSection falls back to the default section for an empty value.
func ParseSection(raw string) (Section, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultSection, nil
	}
	s := Section(raw)
	if !s.Valid() {
		return "", apperr.Invalid("section", "Invalid section: "+raw)
	}
	return s, nil
}

// ParseCategory falls back to the default category for an empty value.
func ParseCategory(raw string) (Category, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultCategory, nil
	}
	c := Category(raw)
	if !c.Valid() {
		return "", apperr.Invalid("category", "Invalid category: "+raw)
	}
	return c, nil
}

// ImageRecord is one entry of the gallery metadata. The JSON names are the
// ones stored in metadata.json.
type ImageRecord struct {
	ID          string   `json:"id,omitempty"`
	Section     Section  `json:"section"`
	Category    Category `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	BeforeImage string   `json:"beforeImage"`
	AfterImage  string   `json:"afterImage"`
	CreatedAt   string   `json:"createdAt"`
}

// Validate checks the invariants every persisted record must satisfy.
func (r *ImageRecord) Validate() error {
	if strings.TrimSpace(r.BeforeImage) == "" {
		return apperr.Invalid("beforeImage", "No before image uploaded")
	}
	if !r.Section.Valid() {
		return apperr.Invalid("section", "Invalid section: "+string(r.Section))
	}
	if !r.Category.Valid() {
		return apperr.Invalid("category", "Invalid category: "+string(r.Category))
	}
	return nil
}

// ImagePaths returns the non-empty image paths the record references.
func (r *ImageRecord) ImagePaths() []string {
	paths := make([]string, 0, 2)
	if r.BeforeImage != "" {
		paths = append(paths, r.BeforeImage)
	}
	if r.AfterImage != "" {
		paths = append(paths, r.AfterImage)
	}
	return paths
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTags splits a comma separated list, trimming entries and dropping
// empty ones. The result is never nil.
func ParseTags(raw string) []string {
	tags := []string{}
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// NormalizeTags applies the ParseTags rules to an already split list.
func NormalizeTags(in []string) []string {
	tags := []string{}
	for _, part := range in {
		if t := strings.TrimSpace(part); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// ImagePatch holds the fields an edit resubmits. Nil fields are left as they are.
type ImagePatch struct {
	Section     *Section
	Category    *Category
	Title       *string
	Description *string
	Tags        *[]string
	BeforeImage *string
	AfterImage  *string
}

// Validate rejects enum values outside their sets.
func (p ImagePatch) Validate() error {
	if p.Section != nil && !p.Section.Valid() {
		return apperr.Invalid("section", "Invalid section: "+string(*p.Section))
	}
	if p.Category != nil && !p.Category.Valid() {
		return apperr.Invalid("category", "Invalid category: "+string(*p.Category))
	}
	if p.BeforeImage != nil && strings.TrimSpace(*p.BeforeImage) == "" {
		return apperr.Invalid("beforeImage", "Before image cannot be removed")
	}
	return nil
}

// Apply returns a copy of rec with the patch applied. ID and CreatedAt never change.
func (p ImagePatch) Apply(rec ImageRecord) ImageRecord {
	out := rec
	if p.Section != nil {
		out.Section = *p.Section
	}
	if p.Category != nil {
		out.Category = *p.Category
	}
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Tags != nil {
		out.Tags = NormalizeTags(*p.Tags)
	}
	if p.BeforeImage != nil {
		out.BeforeImage = *p.BeforeImage
	}
	if p.AfterImage != nil {
		out.AfterImage = *p.AfterImage
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return out
}

// Replaced lists the image paths of before that after no longer references.
func Replaced(before, after ImageRecord) []string {
	var out []string
	if before.BeforeImage != "" && before.BeforeImage != after.BeforeImage && before.BeforeImage != after.AfterImage {
		out = append(out, before.BeforeImage)
	}
	if before.AfterImage != "" && before.AfterImage != after.AfterImage && before.AfterImage != after.BeforeImage {
		out = append(out, before.AfterImage)
	}
	return out
}
