package receipt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FileStorage stores the original receipt images
type FileStorage interface {
	// Save saves a file and returns the stored name
	Save(filename string, data []byte) (string, error)

	// Get retrieves a file by stored name
	Get(name string) ([]byte, error)

	// Delete removes a file
	Delete(name string) error
}

// LocalStorage implements FileStorage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// path resolves name inside the base directory, refusing anything that escapes it
func (l *LocalStorage) path(name string) (string, error) {
	clean := filepath.Base(filepath.Clean("/" + name))
	if clean == "/" || clean == "." || clean != name {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(l.basePath, clean), nil
}

// Save writes a file to local storage. Existing files are never overwritten.
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := l.path(filename)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(name string) ([]byte, error) {
	path, err := l.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(name string) error {
	path, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

var (
	filenameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces = regexp.MustCompile(`\s+`)
)

const maxFilenameBase = 50

// sanitizeFilename strips phone-camera noise from an upload name, keeping the extension
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 6 || filenameUnsafe.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = filenameUnsafe.ReplaceAllString(base, "")
	base = filenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > maxFilenameBase {
		base = strings.TrimSpace(base[:maxFilenameBase])
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}
