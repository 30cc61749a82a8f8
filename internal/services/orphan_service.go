package services

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/metrics"
	"github.com/mobiledetail/backend/internal/store"
)

// OrphanReport is the result of one sweep over the uploads directory.
type OrphanReport struct {
	Orphans  []string  `json:"orphans"`  // unreferenced files older than the grace period
	Recent   []string  `json:"recent"`   // unreferenced files still inside the grace period
	Dangling []string  `json:"dangling"` // record paths whose file is missing
	Removed  []string  `json:"removed"`
	Failed   []string  `json:"failed,omitempty"`
	Scanned  int       `json:"scanned"`
	SweptAt  time.Time `json:"swept_at"`
}

// OrphanService finds files no record references, which edits and failed
// deletes leave behind, and record paths whose file has gone.
type OrphanService struct {
	store store.MetadataStore
	files *StorageService
	grace time.Duration
	skip  []string
	log   zerolog.Logger
	now   func() time.Time
}

// NewOrphanService sweeps files's directory. skip lists file names that are
// never orphans, such as the metadata file itself.
func NewOrphanService(st store.MetadataStore, files *StorageService, grace time.Duration, log zerolog.Logger, skip ...string) *OrphanService {
	return &OrphanService{
		store: st,
		files: files,
		grace: grace,
		skip:  skip,
		log:   log.With().Str("service", "orphans").Logger(),
		now:   time.Now,
	}
}

// SkipPath adds the base name of p to the skip list when p lies directly in
// the uploads directory.
func (s *OrphanService) SkipPath(p string) {
	if p == "" {
		return
	}
	if filepath.Dir(filepath.Clean(p)) == filepath.Clean(s.files.Root()) {
		s.skip = append(s.skip, filepath.Base(p))
	}
}

// Sweep builds a report and, when remove is set, deletes the orphans. An
// unreadable store aborts the sweep so no referenced file is ever removed.
func (s *OrphanService) Sweep(ctx context.Context, remove bool) (*OrphanReport, error) {
	records, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	files, err := s.files.ListFiles(s.skip...)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]bool)
	report := &OrphanReport{
		Orphans:  []string{},
		Recent:   []string{},
		Dangling: []string{},
		Removed:  []string{},
		Scanned:  len(files),
		SweptAt:  s.now().UTC(),
	}
	for _, rec := range records {
		for _, p := range rec.ImagePaths() {
			key, ok := s.files.KeyFromPublicPath(p)
			if !ok {
				continue
			}
			referenced[key] = true
			if !s.files.Exists(p) {
				report.Dangling = append(report.Dangling, p)
			}
		}
	}

	cutoff := report.SweptAt.Add(-s.grace)
	for _, f := range files {
		if referenced[f.Key] {
			continue
		}
		p := s.files.PublicPath(f.Key)
		if f.ModTime.After(cutoff) {
			report.Recent = append(report.Recent, p)
			continue
		}
		report.Orphans = append(report.Orphans, p)
	}
	sort.Strings(report.Orphans)
	sort.Strings(report.Recent)
	sort.Strings(report.Dangling)

	if remove {
		for _, p := range report.Orphans {
			if err := s.files.Remove(ctx, p, IgnoreIfAbsent); err != nil {
				s.log.Warn().Err(err).Str("path", p).Msg("failed to remove orphaned file")
				report.Failed = append(report.Failed, p)
				continue
			}
			report.Removed = append(report.Removed, p)
		}
	}

	metrics.OrphanFiles.Set(float64(len(report.Orphans) - len(report.Removed)))
	s.log.Info().
		Int("scanned", report.Scanned).
		Int("orphans", len(report.Orphans)).
		Int("dangling", len(report.Dangling)).
		Int("removed", len(report.Removed)).
		Msg("orphan sweep finished")
	return report, nil
}
