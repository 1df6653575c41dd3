package analysis

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage defines the interface for crop file storage.
type Storage interface {
	// Save writes a crop file and returns the name it was stored under
	Save(filename string, data []byte) (string, error)

	// Get retrieves a crop file by name
	Get(filename string) ([]byte, error)

	// Delete removes a crop file
	Delete(filename string) error
}

// LocalStorage implements the Storage interface on the local filesystem.
// Crop files are flat under a single base directory; names are generated by
// the service and never come from user input.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance, creating the base
// directory if needed.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save writes a crop file to local storage.
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get retrieves a crop file from local storage.
func (l *LocalStorage) Get(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, filename))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a crop file from local storage.
func (l *LocalStorage) Delete(filename string) error {
	if err := os.Remove(filepath.Join(l.basePath, filename)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
