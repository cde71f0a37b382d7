// Package storage names and persists uploaded media and detection results.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Kind of an upload; it prefixes stored filenames.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// ParseKind accepts "image" or "video"; anything else defaults to image.
func ParseKind(s string) Kind {
	if strings.EqualFold(strings.TrimSpace(s), string(KindVideo)) {
		return KindVideo
	}
	return KindImage
}

// DefaultExtensions are the accepted upload extensions.
var DefaultExtensions = []string{"png", "jpg", "jpeg", "gif", "mp4", "avi", "mov"}

var (
	ErrExtension = errors.New("file type not allowed")
	ErrTooLarge  = errors.New("file too large")
)

// Upload describes a stored upload.
type Upload struct {
	Kind Kind
	Name string // e.g. image_20240102_150405.jpg
	Path string
	Size int64
}

// Status summarizes the store for the status API.
type Status struct {
	UploadDir    string `json:"upload_dir"`
	ResultsDir   string `json:"results_dir"`
	Uploads      uint64 `json:"uploads"`
	Results      uint64 `json:"results"`
	BytesWritten uint64 `json:"bytes_written"`
	LastUpload   string `json:"last_upload,omitempty"`
}

// Store writes uploads and hands out result paths.
type Store struct {
	mu         sync.Mutex
	uploadDir  string
	resultsDir string
	allowed    map[string]bool
	maxBytes   int64
	now        func() time.Time

	uploads      uint64
	results      uint64
	bytesWritten uint64
	lastUpload   string
}

// New creates both directories. maxBytes <= 0 disables the size limit.
func New(uploadDir, resultsDir string, extensions []string, maxBytes int64) (*Store, error) {
	for _, dir := range []string{uploadDir, resultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	allowed := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return &Store{
		uploadDir:  uploadDir,
		resultsDir: resultsDir,
		allowed:    allowed,
		maxBytes:   maxBytes,
		now:        time.Now,
	}, nil
}

// Allowed reports whether filename has an accepted extension.
func (s *Store) Allowed(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext != "" && s.allowed[ext]
}

// SaveUpload stores r as "<kind>_<YYYYmmdd_HHMMSS><ext>", appending a counter
// when that name is already taken.
func (s *Store) SaveUpload(kind Kind, filename string, r io.Reader) (Upload, error) {
	if !s.Allowed(filename) {
		return Upload{}, fmt.Errorf("%w: %s", ErrExtension, filename)
	}
	ext := strings.ToLower(filepath.Ext(filename))

	s.mu.Lock()
	name, path, f, err := s.create(kind, ext)
	s.mu.Unlock()
	if err != nil {
		return Upload{}, err
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		return Upload{}, fmt.Errorf("save %s: %w", name, err)
	}

	s.mu.Lock()
	s.uploads++
	s.bytesWritten += uint64(n)
	s.lastUpload = name
	s.mu.Unlock()

	return Upload{Kind: kind, Name: name, Path: path, Size: n}, nil
}

func (s *Store) create(kind Kind, ext string) (string, string, *os.File, error) {
	base := fmt.Sprintf("%s_%s", kind, s.now().Format("20060102_150405"))
	for i := 0; i < 1000; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		path := filepath.Join(s.uploadDir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", "", nil, fmt.Errorf("create upload: %w", err)
		}
		return name, path, f, nil
	}
	return "", "", nil, fmt.Errorf("no free upload name for %s", base)
}

// ResultName is the stored name of the detection output for an upload.
func ResultName(u Upload) string { return "detected_" + u.Name }

// ResultPath is where the detection output for u is written.
func (s *Store) ResultPath(u Upload) string {
	return filepath.Join(s.resultsDir, ResultName(u))
}

// MarkResult counts a written result file.
func (s *Store) MarkResult(path string) {
	info, err := os.Stat(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results++
	if err == nil {
		s.bytesWritten += uint64(info.Size())
	}
}

// UploadDir is the upload directory.
func (s *Store) UploadDir() string { return s.uploadDir }

// ResultsDir is the results directory.
func (s *Store) ResultsDir() string { return s.resultsDir }

// Status returns counters since start.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		UploadDir:    s.uploadDir,
		ResultsDir:   s.resultsDir,
		Uploads:      s.uploads,
		Results:      s.results,
		BytesWritten: s.bytesWritten,
		LastUpload:   s.lastUpload,
	}
}
