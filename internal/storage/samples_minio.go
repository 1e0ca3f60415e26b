package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/faceerr"
)

const (
	facesPrefix  = "faces/"
	commitMarker = "COMMITTED"
)

// MinIOSampleStore keeps face samples in object storage under
// faces/user_<id>/<generation>/<n>.png. A replacement uploads a new
// generation and only then drops the older ones; readers always use the
// newest generation that carries a commit marker.
type MinIOSampleStore struct {
	mu         sync.RWMutex
	client     *minio.Client
	bucket     string
	minSamples int
}

func NewMinIOSampleStore(cfg config.MinIOConfig, minSamples int) (*MinIOSampleStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOSampleStore{
		client:     client,
		bucket:     cfg.Bucket,
		minSamples: minSamples,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOSampleStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// Ping checks MinIO connectivity.
func (s *MinIOSampleStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// generation is one uploaded sample set of a profile.
type generation struct {
	name string
	keys []string // samples ordered by sequence
	all  []string // every object, marker included
}

// profileObjects groups objects by profile id. Only committed generations
// are returned as live, newest first; everything else is returned as stale.
func (s *MinIOSampleStore) profileObjects(ctx context.Context, prefix string) (live map[int][]generation, stale []string, err error) {
	type seqKey struct {
		n   int
		key string
	}
	type rawGen struct {
		samples   []seqKey
		all       []string
		committed bool
	}
	grouped := map[int]map[string]*rawGen{}

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		parts := strings.Split(strings.TrimPrefix(obj.Key, facesPrefix), "/")
		if len(parts) != 3 {
			continue
		}
		id, ok := parseProfileName(parts[0])
		if !ok {
			continue
		}
		if grouped[id] == nil {
			grouped[id] = map[string]*rawGen{}
		}
		g := grouped[id][parts[1]]
		if g == nil {
			g = &rawGen{}
			grouped[id][parts[1]] = g
		}
		g.all = append(g.all, obj.Key)
		if parts[2] == commitMarker {
			g.committed = true
		} else if n, ok := parseSampleName(parts[2]); ok {
			g.samples = append(g.samples, seqKey{n, obj.Key})
		}
	}

	live = make(map[int][]generation, len(grouped))
	for id, gens := range grouped {
		for name, raw := range gens {
			if !raw.committed || len(raw.samples) == 0 {
				stale = append(stale, raw.all...)
				continue
			}
			sort.Slice(raw.samples, func(i, j int) bool { return raw.samples[i].n < raw.samples[j].n })
			g := generation{name: name, all: raw.all}
			for _, k := range raw.samples {
				g.keys = append(g.keys, k.key)
			}
			live[id] = append(live[id], g)
		}
		if len(live[id]) == 0 {
			delete(live, id)
			continue
		}
		// UUIDv7 names sort by creation time
		sort.Slice(live[id], func(i, j int) bool { return live[id][i].name > live[id][j].name })
	}
	return live, stale, nil
}

func (s *MinIOSampleStore) ProfileIDs(ctx context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objs, _, err := s.profileObjects(ctx, facesPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(objs))
	for id := range objs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *MinIOSampleStore) AllocateProfileID(ctx context.Context) (int, error) {
	ids, err := s.ProfileIDs(ctx)
	if err != nil {
		return 0, err
	}
	return smallestFreeID(ids), nil
}

func (s *MinIOSampleStore) ReplaceSamples(ctx context.Context, id int, faces []*image.Gray) (int, error) {
	if len(faces) < s.minSamples {
		return 0, fmt.Errorf("%w: %d valid samples, minimum %d", faceerr.ErrInsufficientSamples, len(faces), s.minSamples)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gen, err := uuid.NewV7()
	if err != nil {
		return 0, fmt.Errorf("new generation id: %w", err)
	}
	base := facesPrefix + profileName(id) + "/" + gen.String() + "/"

	var written []string
	for i, face := range faces {
		data, err := encodeSample(face)
		if err == nil {
			key := base + sampleName(i+1)
			err = s.putObject(ctx, key, data, "image/png")
			if err == nil {
				written = append(written, key)
			}
		}
		if err != nil {
			if derr := s.deleteObjects(ctx, written); derr != nil {
				slog.Warn("roll back sample upload", "profile_id", id, "error", derr)
			}
			return 0, fmt.Errorf("upload sample %d: %w", i+1, err)
		}
	}
	if len(written) < s.minSamples {
		_ = s.deleteObjects(ctx, written)
		return 0, fmt.Errorf("%w: %d saved, minimum %d", faceerr.ErrInsufficientSamples, len(written), s.minSamples)
	}
	if err := s.putObject(ctx, base+commitMarker, nil, "text/plain"); err != nil {
		_ = s.deleteObjects(ctx, written)
		return 0, fmt.Errorf("commit samples: %w", err)
	}

	objs, stale, err := s.profileObjects(ctx, facesPrefix+profileName(id)+"/")
	if err != nil {
		slog.Warn("list replaced samples", "profile_id", id, "error", err)
		return len(written), nil
	}
	for _, g := range objs[id] {
		if g.name != gen.String() {
			stale = append(stale, g.all...)
		}
	}
	if err := s.deleteObjects(ctx, stale); err != nil {
		slog.Warn("remove replaced samples", "profile_id", id, "error", err)
	}
	return len(written), nil
}

func (s *MinIOSampleStore) DeleteProfile(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := facesPrefix + profileName(id) + "/"
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	if err := s.deleteObjects(ctx, keys); err != nil {
		return fmt.Errorf("delete profile %d: %w", id, err)
	}
	return nil
}

func (s *MinIOSampleStore) SampleCount(ctx context.Context, id int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objs, _, err := s.profileObjects(ctx, facesPrefix+profileName(id)+"/")
	if err != nil {
		return 0, err
	}
	if gens := objs[id]; len(gens) > 0 {
		return len(gens[0].keys), nil
	}
	return 0, nil
}

func (s *MinIOSampleStore) HasSamples(ctx context.Context, id int) (bool, error) {
	n, err := s.SampleCount(ctx, id)
	return n > 0, err
}

func (s *MinIOSampleStore) AnySamples(ctx context.Context) (bool, error) {
	ids, err := s.ProfileIDs(ctx)
	return len(ids) > 0, err
}

func (s *MinIOSampleStore) LoadAll(ctx context.Context) (map[int][]*image.Gray, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objs, _, err := s.profileObjects(ctx, facesPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[int][]*image.Gray, len(objs))
	for id, gens := range objs {
		for _, key := range gens[0].keys {
			data, err := s.getObject(ctx, key)
			if err != nil {
				return nil, err
			}
			face, err := decodeSample(data)
			if err != nil {
				return nil, fmt.Errorf("sample %s: %w", key, err)
			}
			out[id] = append(out[id], face)
		}
	}
	return out, nil
}

func (s *MinIOSampleStore) putObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *MinIOSampleStore) getObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// deleteObjects removes keys in a single batch request. The result
// channel is always drained so the client's sender goroutine can exit.
func (s *MinIOSampleStore) deleteObjects(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)
	return collectRemoveErrors(s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}))
}

func collectRemoveErrors(results <-chan minio.RemoveObjectError) error {
	var errs []error
	for result := range results {
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("delete object %s: %w", result.ObjectName, result.Err))
		}
	}
	return errors.Join(errs...)
}
