package storage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/faceerr"
)

const (
	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
)

// FSSampleStore keeps face samples on disk as <root>/user_<id>/<n>.png.
// Nothing else may write under root.
type FSSampleStore struct {
	mu         sync.RWMutex
	root       string
	minSamples int
}

// NewFSSampleStore creates root if needed and removes leftovers of
// interrupted replacements.
func NewFSSampleStore(root string, minSamples int) (*FSSampleStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dataset dir: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stagingPrefix) || strings.HasPrefix(e.Name(), trashPrefix) {
			slog.Warn("removing leftover sample directory", "name", e.Name())
			_ = os.RemoveAll(filepath.Join(root, e.Name()))
		}
	}
	return &FSSampleStore{root: root, minSamples: minSamples}, nil
}

func (s *FSSampleStore) profileDir(id int) string {
	return filepath.Join(s.root, profileName(id))
}

// ProfileIDs lists ids that have at least one stored sample, ascending.
func (s *FSSampleStore) ProfileIDs(ctx context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profileIDs()
}

func (s *FSSampleStore) profileIDs() ([]int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read dataset dir: %w", err)
	}
	var ids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, ok := parseProfileName(e.Name())
		if !ok {
			continue
		}
		files, err := s.sampleFiles(id)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// sampleFiles returns the sample file names of a profile in sequence order.
func (s *FSSampleStore) sampleFiles(id int) ([]string, error) {
	entries, err := os.ReadDir(s.profileDir(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile %d: %w", id, err)
	}
	type seq struct {
		n    int
		name string
	}
	var files []seq
	for _, e := range entries {
		if n, ok := parseSampleName(e.Name()); ok && !e.IsDir() {
			files = append(files, seq{n, e.Name()})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].n < files[j].n })
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

// AllocateProfileID returns the smallest positive id without samples.
func (s *FSSampleStore) AllocateProfileID(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, err := s.profileIDs()
	if err != nil {
		return 0, err
	}
	return smallestFreeID(ids), nil
}

// ReplaceSamples swaps the profile's samples for faces, numbered from 1.
// The new set is written to a staging directory first, so on any failure
// the previous samples are left as they were.
func (s *FSSampleStore) ReplaceSamples(ctx context.Context, id int, faces []*image.Gray) (int, error) {
	if len(faces) < s.minSamples {
		return 0, fmt.Errorf("%w: %d valid samples, minimum %d", faceerr.ErrInsufficientSamples, len(faces), s.minSamples)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staging := filepath.Join(s.root, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	saved := 0
	for i, face := range faces {
		if err := ctx.Err(); err != nil {
			_ = os.RemoveAll(staging)
			return 0, err
		}
		data, err := encodeSample(face)
		if err == nil {
			err = os.WriteFile(filepath.Join(staging, sampleName(i+1)), data, 0o644)
		}
		if err != nil {
			_ = os.RemoveAll(staging)
			return 0, fmt.Errorf("write sample %d: %w", i+1, err)
		}
		saved++
	}
	if saved < s.minSamples {
		_ = os.RemoveAll(staging)
		return 0, fmt.Errorf("%w: %d saved, minimum %d", faceerr.ErrInsufficientSamples, saved, s.minSamples)
	}

	final := s.profileDir(id)
	trash := ""
	if _, err := os.Stat(final); err == nil {
		trash = filepath.Join(s.root, trashPrefix+uuid.NewString())
		if err := os.Rename(final, trash); err != nil {
			_ = os.RemoveAll(staging)
			return 0, fmt.Errorf("move old samples aside: %w", err)
		}
	}
	if err := os.Rename(staging, final); err != nil {
		if trash != "" {
			_ = os.Rename(trash, final)
		}
		_ = os.RemoveAll(staging)
		return 0, fmt.Errorf("commit samples: %w", err)
	}
	if trash != "" {
		if err := os.RemoveAll(trash); err != nil {
			slog.Warn("remove replaced samples", "profile_id", id, "error", err)
		}
	}
	return saved, nil
}

// DeleteProfile removes every sample of id. Missing profiles are ignored.
func (s *FSSampleStore) DeleteProfile(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.profileDir(id)); err != nil {
		return fmt.Errorf("delete profile %d: %w", id, err)
	}
	return nil
}

func (s *FSSampleStore) SampleCount(ctx context.Context, id int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files, err := s.sampleFiles(id)
	return len(files), err
}

func (s *FSSampleStore) HasSamples(ctx context.Context, id int) (bool, error) {
	n, err := s.SampleCount(ctx, id)
	return n > 0, err
}

func (s *FSSampleStore) AnySamples(ctx context.Context) (bool, error) {
	ids, err := s.ProfileIDs(ctx)
	return len(ids) > 0, err
}

// LoadAll reads every profile's samples in sequence order.
func (s *FSSampleStore) LoadAll(ctx context.Context) (map[int][]*image.Gray, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.profileIDs()
	if err != nil {
		return nil, err
	}
	out := make(map[int][]*image.Gray, len(ids))
	for _, id := range ids {
		files, err := s.sampleFiles(id)
		if err != nil {
			return nil, err
		}
		for _, name := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			data, err := os.ReadFile(filepath.Join(s.profileDir(id), name))
			if err != nil {
				return nil, fmt.Errorf("read sample %s/%s: %w", profileName(id), name, err)
			}
			face, err := decodeSample(data)
			if err != nil {
				return nil, fmt.Errorf("sample %s/%s: %w", profileName(id), name, err)
			}
			out[id] = append(out[id], face)
		}
	}
	return out, nil
}
