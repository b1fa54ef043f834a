package artifact

import (
    "fmt"
    "io"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/rs/zerolog/log"
)

// Kind tells a source upload apart from a converted output.
type Kind string

const (
    KindUpload    Kind = "upload"
    KindConverted Kind = "converted"
)

// Ref points at one artifact on disk.
type Ref struct {
    Path string
    Kind Kind
}

// Store manages the on-disk lifecycle of uploaded and converted files. The two
// directories are shared by all concurrent requests, so every stored name
// carries a time-based prefix to keep simultaneous uploads of the same file
// from colliding.
type Store struct {
    uploadDir    string
    convertedDir string
}

func NewStore(uploadDir, convertedDir string) (*Store, error) {
    for _, dir := range []string{uploadDir, convertedDir} {
        if err := os.MkdirAll(dir, 0o755); err != nil {
            return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
        }
    }
    return &Store{uploadDir: uploadDir, convertedDir: convertedDir}, nil
}

// SaveUpload streams src into the upload directory under a disambiguated name
// and returns the stored path.
func (s *Store) SaveUpload(name string, src io.Reader) (string, error) {
    stored := fmt.Sprintf("%d-%s", time.Now().UnixNano(), sanitizeName(name))
    path := filepath.Join(s.uploadDir, stored)
    out, err := os.Create(path)
    if err != nil { return "", fmt.Errorf("create upload: %w", err) }
    if _, err := io.Copy(out, src); err != nil {
        out.Close()
        _ = os.Remove(path)
        return "", fmt.Errorf("write upload: %w", err)
    }
    if err := out.Close(); err != nil { return "", fmt.Errorf("close upload: %w", err) }
    return path, nil
}

// ConvertedPath returns the destination path for a converted output named name.
func (s *Store) ConvertedPath(name string) string {
    return filepath.Join(s.convertedDir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), sanitizeName(name)))
}

// Exists reports whether path refers to an existing regular file.
func (s *Store) Exists(path string) bool {
    info, err := os.Stat(path)
    return err == nil && !info.IsDir()
}

// Open opens an artifact for reading.
func (s *Store) Open(path string) (*os.File, error) { return os.Open(path) }

// Remove deletes an artifact. A missing file is treated as success: cleanup
// may run twice, and downloads never pin files.
func (s *Store) Remove(path string) error {
    err := os.Remove(path)
    if err == nil || os.IsNotExist(err) { return nil }
    return err
}

// ResolveDownload maps a bare filename to a managed artifact path, converted
// outputs first. Names carrying path separators or traversal are rejected.
func (s *Store) ResolveDownload(name string) (string, error) {
    if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
        return "", fmt.Errorf("invalid artifact name: %q", name)
    }
    for _, dir := range []string{s.convertedDir, s.uploadDir} {
        p := filepath.Join(dir, name)
        if s.Exists(p) { return p, nil }
    }
    return "", os.ErrNotExist
}

func sanitizeName(name string) string {
    base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
    if base == "." || base == ".." || base == "/" || base == "" {
        log.Warn().Str("name", name).Msg("upload name unusable, substituting")
        return "upload"
    }
    return base
}
