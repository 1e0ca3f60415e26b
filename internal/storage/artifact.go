package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/your-org/faceid/internal/lbph"
)

// ArtifactStore persists the single trained model file. Writes go through
// a temp file and rename, so readers never observe a partial artifact.
type ArtifactStore struct {
	path string
}

func NewArtifactStore(path string) *ArtifactStore {
	return &ArtifactStore{path: path}
}

func (a *ArtifactStore) Path() string {
	return a.path
}

func (a *ArtifactStore) Save(m *lbph.Model) error {
	data, err := lbph.Encode(m)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := renameio.WriteFile(a.path, data, 0o644); err != nil {
		return fmt.Errorf("write model artifact: %w", err)
	}
	return nil
}

// Load returns (nil, nil) when no artifact has been written yet.
func (a *ArtifactStore) Load() (*lbph.Model, error) {
	data, err := os.ReadFile(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	m, err := lbph.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode model artifact %s: %w", a.path, err)
	}
	return m, nil
}

func (a *ArtifactStore) Remove() error {
	if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove model artifact: %w", err)
	}
	return nil
}
