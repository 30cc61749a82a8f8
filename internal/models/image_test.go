package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobiledetail/backend/internal/apperr"
)

func TestParseTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseTags(" a , ,b,"))
	assert.Equal(t, []string{}, ParseTags(""))
	assert.Equal(t, []string{"foam cannon"}, ParseTags("foam cannon"))
	assert.Equal(t, []string{"x", "y"}, NormalizeTags([]string{" x", "", "y "}))
}

func TestParseSectionAndCategory(t *testing.T) {
	s, err := ParseSection("")
	require.NoError(t, err)
	assert.Equal(t, SectionGallery, s)

	s, err = ParseSection("slider")
	require.NoError(t, err)
	assert.Equal(t, SectionSlider, s)

	_, err = ParseSection("hero")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	c, err := ParseCategory("")
	require.NoError(t, err)
	assert.Equal(t, CategoryExterior, c)

	c, err = ParseCategory("before-after")
	require.NoError(t, err)
	assert.Equal(t, CategoryBeforeAfter, c)

	_, err = ParseCategory("engine")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestImageRecordValidate(t *testing.T) {
	rec := ImageRecord{Section: SectionGallery, Category: CategoryWheels, BeforeImage: "/uploads/a.jpg"}
	assert.NoError(t, rec.Validate())

	rec.BeforeImage = ""
	assert.ErrorIs(t, rec.Validate(), apperr.ErrValidation)

	rec.BeforeImage = "/uploads/a.jpg"
	rec.Section = "hero"
	assert.ErrorIs(t, rec.Validate(), apperr.ErrValidation)
}

func TestImagePatchApply(t *testing.T) {
	rec := ImageRecord{
		ID:          "01ABC",
		Section:     SectionGallery,
		Category:    CategoryExterior,
		Title:       "Old",
		Description: "keep",
		Tags:        []string{"a"},
		BeforeImage: "/uploads/b.jpg",
		CreatedAt:   "2024-01-01T00:00:00.000Z",
	}

	title := "New"
	slider := SectionSlider
	tags := []string{" x ", "", "y"}
	out := ImagePatch{Title: &title, Section: &slider, Tags: &tags}.Apply(rec)

	assert.Equal(t, "New", out.Title)
	assert.Equal(t, SectionSlider, out.Section)
	assert.Equal(t, "keep", out.Description)
	assert.Equal(t, []string{"x", "y"}, out.Tags)
	assert.Equal(t, rec.ID, out.ID)
	assert.Equal(t, rec.CreatedAt, out.CreatedAt)
	assert.Equal(t, "Old", rec.Title, "original must not be modified")

	assert.Equal(t, rec, ImagePatch{}.Apply(rec))
}

func TestImagePatchValidate(t *testing.T) {
	bad := Category("engine")
	assert.ErrorIs(t, ImagePatch{Category: &bad}.Validate(), apperr.ErrValidation)

	empty := ""
	assert.ErrorIs(t, ImagePatch{BeforeImage: &empty}.Validate(), apperr.ErrValidation)

	clear := ""
	assert.NoError(t, ImagePatch{AfterImage: &clear}.Validate())
}

func TestReplaced(t *testing.T) {
	before := ImageRecord{BeforeImage: "/uploads/1.jpg", AfterImage: "/uploads/2.jpg"}
	after := ImageRecord{BeforeImage: "/uploads/3.jpg", AfterImage: "/uploads/2.jpg"}
	assert.Equal(t, []string{"/uploads/1.jpg"}, Replaced(before, after))
	assert.Empty(t, Replaced(before, before))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.FixedZone("X", 3600))
	assert.Equal(t, "2024-05-06T06:08:09.123Z", FormatTimestamp(ts))
}
