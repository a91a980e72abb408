package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"readback/api/internal/config"
	"readback/api/internal/content"
)

// FileStore keeps the document as a JSON file of the form {"content": [...]}.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the data file with an empty document when it does not
// exist yet. An error here means the store is unusable.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &FileStore{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(content.List{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat data file: %w", err)
	}
	return s, nil
}

func (s *FileStore) Kind() string {
	return config.StorageFile
}

// Load returns the stored list. A file that cannot be decoded reads as an
// empty document.
func (s *FileStore) Load(ctx context.Context) (content.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}
	var envelope content.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return content.List{}, nil
	}
	return envelope.Content.Clone(), nil
}

func (s *FileStore) Save(ctx context.Context, list content.List) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(list)
}

func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("stat data file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

// write replaces the file through a rename so readers never see a partial
// document.
func (s *FileStore) write(list content.List) error {
	payload, err := json.MarshalIndent(content.Envelope{Content: list.Clone()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".content-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}
