package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/studio/internal/observability"
	"github.com/harun/studio/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	studioDir    = "studio"
	imagesDir    = "ai-images"
	sourcesDir   = "sources"
	rawDir       = "raw"
	processedDir = "processed"
	indexFile    = "index.json"
)

// ErrNotFound is returned when a file or source does not exist.
var ErrNotFound = errors.New("not found")

// Source describes an uploaded project source.
type Source struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	FileExtension string    `json:"file_extension"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsCSV reports whether the source holds tabular CSV data.
func (s Source) IsCSV() bool {
	return strings.EqualFold(s.FileExtension, "csv")
}

// Store reads and writes project files.
type Store struct {
	fs     afero.Fs
	root   string
	logger zerolog.Logger

	// guards sources/index.json read-modify-write
	indexMu sync.Mutex
}

// New creates a Store rooted at root.
func New(fs afero.Fs, root string, logger zerolog.Logger) (*Store, error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if root == "" {
		return nil, fmt.Errorf("projects root is required")
	}
	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create projects root: %w", err)
	}
	return &Store{
		fs:     fs,
		root:   root,
		logger: logger.With().Str("component", "storage").Logger(),
	}, nil
}

// Fs returns the underlying filesystem.
func (s *Store) Fs() afero.Fs { return s.fs }

// ValidateComponent rejects names that could escape their directory.
func ValidateComponent(name string) error {
	if name == "" {
		return fmt.Errorf("path component cannot be empty")
	}
	if name == "." {
		return fmt.Errorf("path component cannot be %q", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("path component %q cannot contain '..'", name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("path component %q cannot contain path separators", name)
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("path component cannot contain null bytes")
	}
	return nil
}

func (s *Store) projectPath(projectID string, elems ...string) (string, error) {
	if err := ValidateComponent(projectID); err != nil {
		return "", fmt.Errorf("invalid project id: %w", err)
	}
	parts := []string{s.root, projectID}
	for _, e := range elems {
		if err := ValidateComponent(e); err != nil {
			return "", err
		}
		parts = append(parts, e)
	}
	return filepath.Join(parts...), nil
}

// StudioPath returns the path of an artifact under the project's studio directory.
func (s *Store) StudioPath(projectID string, elems ...string) (string, error) {
	return s.projectPath(projectID, append([]string{studioDir}, elems...)...)
}

// WriteStudioFile writes an artifact and returns its path. The first element
// names the artifact area for metrics.
func (s *Store) WriteStudioFile(ctx context.Context, projectID string, data []byte, elems ...string) (string, error) {
	if len(elems) == 0 {
		return "", fmt.Errorf("artifact path is required")
	}
	path, err := s.StudioPath(projectID, elems...)
	if err != nil {
		return "", err
	}
	return path, s.write(ctx, projectID, elems[0], path, data)
}

// ReadStudioFile reads an artifact.
func (s *Store) ReadStudioFile(projectID string, elems ...string) ([]byte, error) {
	path, err := s.StudioPath(projectID, elems...)
	if err != nil {
		return nil, err
	}
	return s.read(path)
}

// ListStudioDir returns the sorted file names in a studio directory.
func (s *Store) ListStudioDir(projectID string, elems ...string) ([]string, error) {
	path, err := s.StudioPath(projectID, elems...)
	if err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// WriteImage stores a chart or generated image in the project's image directory.
func (s *Store) WriteImage(ctx context.Context, projectID, filename string, data []byte) (string, error) {
	path, err := s.projectPath(projectID, imagesDir, filename)
	if err != nil {
		return "", err
	}
	return path, s.write(ctx, projectID, imagesDir, path, data)
}

// ReadImage reads a file from the project's image directory.
func (s *Store) ReadImage(projectID, filename string) ([]byte, error) {
	path, err := s.projectPath(projectID, imagesDir, filename)
	if err != nil {
		return nil, err
	}
	return s.read(path)
}

// ProcessedText returns the extracted text of a source.
func (s *Store) ProcessedText(projectID, sourceID string) (string, error) {
	path, err := s.projectPath(projectID, sourcesDir, processedDir, sourceID+".txt")
	if err != nil {
		return "", err
	}
	data, err := s.read(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AddSource stores an uploaded file, its extracted text and its index entry.
func (s *Store) AddSource(ctx context.Context, projectID string, src Source, raw []byte, text string) error {
	if err := ValidateComponent(src.ID); err != nil {
		return fmt.Errorf("invalid source id: %w", err)
	}
	ext := strings.TrimPrefix(src.FileExtension, ".")
	if ext == "" {
		ext = "txt"
	}
	src.FileExtension = strings.ToLower(ext)
	src.Size = int64(len(raw))
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	if src.Name == "" {
		src.Name = src.ID
	}

	rawPath, err := s.projectPath(projectID, sourcesDir, rawDir, src.ID+"."+src.FileExtension)
	if err != nil {
		return err
	}
	if err := s.write(ctx, projectID, sourcesDir, rawPath, raw); err != nil {
		return err
	}

	textPath, err := s.projectPath(projectID, sourcesDir, processedDir, src.ID+".txt")
	if err != nil {
		return err
	}
	if err := s.write(ctx, projectID, sourcesDir, textPath, []byte(text)); err != nil {
		return err
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	sources, err := s.loadIndex(projectID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range sources {
		if sources[i].ID == src.ID {
			sources[i] = src
			replaced = true
			break
		}
	}
	if !replaced {
		sources = append(sources, src)
	}
	return s.saveIndex(ctx, projectID, sources)
}

// GetSource returns a source's index entry or ErrNotFound.
func (s *Store) GetSource(projectID, sourceID string) (*Source, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	sources, err := s.loadIndex(projectID)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		if src.ID == sourceID {
			found := src
			return &found, nil
		}
	}
	return nil, fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
}

// ListSources returns the project's sources in upload order.
func (s *Store) ListSources(projectID string) ([]Source, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.loadIndex(projectID)
}

// OpenRawSource opens the uploaded file of a source.
func (s *Store) OpenRawSource(projectID, sourceID string) (io.ReadCloser, *Source, error) {
	src, err := s.GetSource(projectID, sourceID)
	if err != nil {
		return nil, nil, err
	}
	path, err := s.projectPath(projectID, sourcesDir, rawDir, src.ID+"."+src.FileExtension)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("source file %s: %w", sourceID, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to open source %s: %w", sourceID, err)
	}
	return f, src, nil
}

func (s *Store) loadIndex(projectID string) ([]Source, error) {
	path, err := s.projectPath(projectID, sourcesDir, indexFile)
	if err != nil {
		return nil, err
	}
	data, err := s.read(path)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sources []Source
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("failed to parse sources index: %w", err)
	}
	return sources, nil
}

func (s *Store) saveIndex(ctx context.Context, projectID string, sources []Source) error {
	path, err := s.projectPath(projectID, sourcesDir, indexFile)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(sources, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sources index: %w", err)
	}
	return s.write(ctx, projectID, sourcesDir, path, data)
}

func (s *Store) read(path string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (s *Store) write(ctx context.Context, projectID, area, path string, data []byte) (err error) {
	ctx, span := tracing.StartSpan(ctx, "studio.storage", "storage.write",
		attribute.String("area", area),
		attribute.Int("size", len(data)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RecordArtifactAudit(ctx, projectID, path, len(data), err)
		span.End()
	}()

	if err = s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filepath.Base(path), err)
	}
	if err = afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	observability.RecordArtifactWrite(area, len(data))
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("path", path).
		Int("size", len(data)).
		Msg("File written")
	return nil
}
