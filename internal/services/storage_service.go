package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/mobiledetail/backend/internal/apperr"
	"github.com/mobiledetail/backend/internal/config"
)

// RemoveMode controls how Remove treats a file that is already gone.
type RemoveMode int

const (
	MustExist RemoveMode = iota
	IgnoreIfAbsent
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// StoredFile describes an image written to the uploads directory.
type StoredFile struct {
	Key         string // file name inside the uploads directory
	PublicPath  string // URL path stored in ImageRecord, e.g. /uploads/<key>
	AbsPath     string
	ContentType string
	Size        int64
	Checksum    string
}

// UploadFile is the entry seen by the orphan sweep.
type UploadFile struct {
	Key     string
	ModTime time.Time
	Size    int64
}

// StorageService stores image binaries flat in the uploads directory.
type StorageService struct {
	root      string
	urlPrefix string
	maxSize   int64
}

func NewStorageService(cfg *config.Config) (*StorageService, error) {
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return nil, &apperr.StorageIOError{Op: "mkdir", Path: cfg.UploadsDir, Err: err}
	}
	return &StorageService{
		root:      cfg.UploadsDir,
		urlPrefix: cfg.UploadsURLPrefix,
		maxSize:   cfg.UploadMaxImageSize,
	}, nil
}

// Root is the uploads directory.
func (s *StorageService) Root() string { return s.root }

// SaveImage validates data as an image and stores it under a fresh name with
// the extension of the detected type.
func (s *StorageService) SaveImage(ctx context.Context, originalName string, data []byte) (*StoredFile, error) {
	if len(data) == 0 {
		return nil, apperr.Invalid("file", "Uploaded file "+originalName+" is empty")
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("image %s too large: %d bytes (max: %d): %w", originalName, len(data), s.maxSize, apperr.ErrTooLarge)
	}

	mt := mimetype.Detect(data)
	ctype := strings.SplitN(mt.String(), ";", 2)[0]
	if !allowedImageTypes[ctype] {
		return nil, apperr.Invalid("file", fmt.Sprintf("%s is not a supported image (detected %s)", originalName, ctype))
	}

	key := s.BuildObjectKey(mt.Extension())
	abs, n, checksum, err := s.SaveStream(ctx, key, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &StoredFile{
		Key:         key,
		PublicPath:  s.PublicPath(key),
		AbsPath:     abs,
		ContentType: ctype,
		Size:        n,
		Checksum:    checksum,
	}, nil
}

// BuildObjectKey returns a collision-free file name with the given extension.
func (s *StorageService) BuildObjectKey(ext string) string {
	return uuid.New().String() + strings.ToLower(ext)
}

// SaveStream writes r to key through a .part file and returns absolute path, size and sha256.
func (s *StorageService) SaveStream(ctx context.Context, key string, r io.Reader) (string, int64, string, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, "", err
	}
	absPath, err := s.resolveKey(key)
	if err != nil {
		return "", 0, "", err
	}

	tmp := absPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, "", &apperr.StorageIOError{Op: "create", Path: tmp, Err: err}
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		_ = os.Remove(tmp)
		return "", 0, "", &apperr.StorageIOError{Op: "write", Path: tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = os.Remove(tmp)
		return "", 0, "", &apperr.StorageIOError{Op: "sync", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return "", 0, "", &apperr.StorageIOError{Op: "rename", Path: absPath, Err: err}
	}

	return absPath, n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Remove deletes the file behind a public path such as /uploads/x.jpg.
func (s *StorageService) Remove(ctx context.Context, publicPath string, mode RemoveMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, ok := s.KeyFromPublicPath(publicPath)
	if !ok {
		return apperr.Invalid("path", "Not an uploads path: "+publicPath)
	}
	abs, err := s.resolveKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if mode == IgnoreIfAbsent && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &apperr.StorageIOError{Op: "remove", Path: abs, Err: err}
	}
	return nil
}

// Exists reports whether the file behind publicPath is present.
func (s *StorageService) Exists(publicPath string) bool {
	abs, err := s.AbsPath(publicPath)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// PublicPath is the URL path stored in metadata for key.
func (s *StorageService) PublicPath(key string) string {
	return s.urlPrefix + "/" + key
}

// KeyFromPublicPath extracts the file name from a public path.
func (s *StorageService) KeyFromPublicPath(publicPath string) (string, bool) {
	prefix := s.urlPrefix + "/"
	if !strings.HasPrefix(publicPath, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(publicPath, prefix)
	if key == "" || strings.Contains(key, "/") || strings.Contains(key, `\`) || key == "." || key == ".." {
		return "", false
	}
	return key, true
}

// AbsPath maps a public path to its location on disk.
func (s *StorageService) AbsPath(publicPath string) (string, error) {
	key, ok := s.KeyFromPublicPath(publicPath)
	if !ok {
		return "", apperr.Invalid("path", "Not an uploads path: "+publicPath)
	}
	return s.resolveKey(key)
}

// Resolve maps a request path relative to the uploads root (as served by
// GET /uploads/*filepath) to a file on disk, refusing anything that escapes the root.
func (s *StorageService) Resolve(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" {
		return "", fmt.Errorf("%s: %w", rel, apperr.ErrNotFound)
	}
	return s.resolveKey(strings.TrimPrefix(clean, "/"))
}

func (s *StorageService) resolveKey(key string) (string, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", apperr.Invalid("path", "Invalid file name: "+key)
	}
	return abs, nil
}

// ListFiles returns the regular files directly inside the uploads directory,
// skipping the given names and in-flight .part/.tmp files.
func (s *StorageService) ListFiles(skip ...string) ([]UploadFile, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, &apperr.StorageIOError{Op: "readdir", Path: s.root, Err: err}
	}
	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipped[name] = true
	}

	files := make([]UploadFile, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || skipped[name] || strings.HasPrefix(name, ".") ||
			strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, UploadFile{Key: name, ModTime: info.ModTime(), Size: info.Size()})
	}
	return files, nil
}
