package storage

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/faceerr"
)

func grayFace(seed uint8, w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = seed + uint8(i*7)
	}
	return img
}

func faces(n int, seed uint8) []*image.Gray {
	out := make([]*image.Gray, n)
	for i := range out {
		out[i] = grayFace(seed+uint8(i), 20, 24)
	}
	return out
}

func newFSStore(t *testing.T) (*FSSampleStore, string) {
	t.Helper()
	root := t.TempDir()
	s, err := NewFSSampleStore(root, 3)
	require.NoError(t, err)
	return s, root
}

func TestFSAllocateProfileID(t *testing.T) {
	ctx := context.Background()
	s, root := newFSStore(t)

	id, err := s.AllocateProfileID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	for _, id := range []int{1, 2, 4} {
		_, err := s.ReplaceSamples(ctx, id, faces(3, uint8(id)))
		require.NoError(t, err)
	}
	id, err = s.AllocateProfileID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, id)

	// an empty profile directory does not hold its id
	require.NoError(t, os.Mkdir(filepath.Join(root, "user_3"), 0o755))
	id, err = s.AllocateProfileID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func TestFSReplaceSamples(t *testing.T) {
	ctx := context.Background()
	s, root := newFSStore(t)

	n, err := s.ReplaceSamples(ctx, 1, faces(7, 10))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = s.ReplaceSamples(ctx, 1, faces(5, 50))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	count, err := s.SampleCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	entries, err := os.ReadDir(filepath.Join(root, "user_1"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"1.png", "2.png", "3.png", "4.png", "5.png"}, names)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all[1], 5)
	for i, f := range all[1] {
		assert.Equal(t, grayFace(50+uint8(i), 20, 24).Pix, f.Pix)
	}
}

func TestFSReplaceRejectsTooFewSamples(t *testing.T) {
	ctx := context.Background()
	s, root := newFSStore(t)

	_, err := s.ReplaceSamples(ctx, 2, faces(4, 1))
	require.NoError(t, err)

	_, err = s.ReplaceSamples(ctx, 2, faces(2, 90))
	require.ErrorIs(t, err, faceerr.ErrInsufficientSamples)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all[2], 4)
	assert.Equal(t, grayFace(1, 20, 24).Pix, all[2][0].Pix)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no staging leftovers")
}

func TestFSDeleteProfile(t *testing.T) {
	ctx := context.Background()
	s, _ := newFSStore(t)

	_, err := s.ReplaceSamples(ctx, 1, faces(3, 1))
	require.NoError(t, err)

	require.NoError(t, s.DeleteProfile(ctx, 1))
	require.NoError(t, s.DeleteProfile(ctx, 1))
	require.NoError(t, s.DeleteProfile(ctx, 42))

	has, err := s.HasSamples(ctx, 1)
	require.NoError(t, err)
	assert.False(t, has)

	left, err := s.AnySamples(ctx)
	require.NoError(t, err)
	assert.False(t, left)
}

func TestFSLoadAllByProfile(t *testing.T) {
	ctx := context.Background()
	s, _ := newFSStore(t)

	for _, id := range []int{3, 1} {
		_, err := s.ReplaceSamples(ctx, id, faces(3, uint8(id*20)))
		require.NoError(t, err)
	}
	ids, err := s.ProfileIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, ids)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, grayFace(60, 20, 24).Pix, all[3][0].Pix)
}

func TestFSStartupCleansLeftovers(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, stagingPrefix+"abc"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, trashPrefix+"def"), 0o755))

	_, err := NewFSSampleStore(root, 3)
	require.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLayoutNames(t *testing.T) {
	id, ok := parseProfileName("user_12")
	assert.True(t, ok)
	assert.Equal(t, 12, id)

	for _, bad := range []string{"user_", "user_0", "user_-1", "profile_3", "user_x"} {
		_, ok := parseProfileName(bad)
		assert.False(t, ok, bad)
	}

	n, ok := parseSampleName("3.png")
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	_, ok = parseSampleName(commitMarker)
	assert.False(t, ok)

	assert.Equal(t, 1, smallestFreeID(nil))
	assert.Equal(t, 2, smallestFreeID([]int{1, 3}))
	assert.Equal(t, 4, smallestFreeID([]int{3, 2, 1}))
}
