package faceid

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/your-org/faceid/internal/faceerr"
	"github.com/your-org/faceid/internal/lbph"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/internal/vision"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// markerDetector reports as many full-frame faces as the red channel of
// the top-left pixel says, in tens.
type markerDetector struct{}

func (markerDetector) Detect(buf *vision.PixelBuffer) ([]image.Rectangle, error) {
	n := int(buf.Pix[0]) / 10
	rects := make([]image.Rectangle, n)
	for i := range rects {
		rects[i] = image.Rect(0, 0, buf.Width, buf.Height)
	}
	return rects, nil
}

func (markerDetector) Close() error { return nil }

const imgSize = 64

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func marked(img *image.NRGBA, faces int) *image.NRGBA {
	img.SetNRGBA(0, 0, color.NRGBA{R: uint8(faces * 10), G: 0, B: 0, A: 255})
	return img
}

// faceImage is a textured single-face image; the same seed always yields
// the same bytes.
func faceImage(t *testing.T, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, imgSize, imgSize))
	for i := 0; i < len(img.Pix); i += 4 {
		v := uint8(rng.Intn(256))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return encode(t, marked(img, 1))
}

func flatImage(t *testing.T, faces int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, imgSize, imgSize))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 128, 128, 128, 255
	}
	return encode(t, marked(img, faces))
}

func faceSet(t *testing.T, base int64, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = faceImage(t, base+int64(i))
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []*models.FaceEvent
}

func (r *recorder) Publish(_ context.Context, evt *models.FaceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) types() []models.FaceEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.FaceEventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// flakyArtifacts fails Save while failSave is set.
type flakyArtifacts struct {
	*storage.ArtifactStore
	mu       sync.Mutex
	failSave bool
}

func (f *flakyArtifacts) setFail(v bool) {
	f.mu.Lock()
	f.failSave = v
	f.mu.Unlock()
}

func (f *flakyArtifacts) Save(m *lbph.Model) error {
	f.mu.Lock()
	fail := f.failSave
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.ArtifactStore.Save(m)
}

type fixture struct {
	svc        *Service
	samples    *storage.FSSampleStore
	identities *storage.MemoryIdentityStore
	artifacts  *flakyArtifacts
	events     *recorder
	dir        string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	samples, err := storage.NewFSSampleStore(filepath.Join(dir, "dataset"), 3)
	require.NoError(t, err)
	f := &fixture{
		samples:    samples,
		identities: storage.NewMemoryIdentityStore(),
		artifacts:  &flakyArtifacts{ArtifactStore: storage.NewArtifactStore(filepath.Join(dir, "trainer", "lbph.bin"))},
		events:     &recorder{},
		dir:        dir,
	}
	f.svc = f.open(t)
	return f
}

// open builds a fresh service over the fixture's stores, as a restart would.
func (f *fixture) open(t *testing.T) *Service {
	t.Helper()
	svc, err := New(DefaultConfig(), Dependencies{
		Locator:    vision.NewLocator(markerDetector{}, 30, 0),
		Samples:    f.samples,
		Identities: f.identities,
		Artifacts:  f.artifacts,
		Publisher:  f.events,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Open(context.Background()))
	return svc
}

func TestEnrollRequiresThreeFaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Enroll(ctx, "alice", faceSet(t, 100, 2))
	require.ErrorIs(t, err, faceerr.ErrInsufficientSamples)

	images := append(faceSet(t, 100, 2), flatImage(t, 0))
	res, err := f.svc.Enroll(ctx, "alice", images)
	require.ErrorIs(t, err, faceerr.ErrInsufficientSamples)
	require.NotNil(t, res)
	assert.False(t, res.Images[2].Accepted)
	assert.Contains(t, res.Images[2].Error, faceerr.ErrNoFaceDetected.Error())

	st, err := f.svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, st.Registered)
	left, err := f.samples.AnySamples(ctx)
	require.NoError(t, err)
	assert.False(t, left)

	res, err = f.svc.Enroll(ctx, "alice", faceSet(t, 100, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProfileID)
	assert.Equal(t, 3, res.SampleCount)
}

func TestEnrollTooManyImages(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Enroll(context.Background(), "alice", faceSet(t, 1, 31))
	require.ErrorIs(t, err, faceerr.ErrTooManySamples)
}

func TestEnrollReportsPerImageFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	images := [][]byte{
		faceImage(t, 1),
		[]byte("not an image"),
		faceImage(t, 2),
		flatImage(t, 2),
		faceImage(t, 3),
	}
	res, err := f.svc.Enroll(ctx, "alice", images)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SampleCount)

	accepted := make([]bool, len(res.Images))
	for i, r := range res.Images {
		assert.Equal(t, i, r.Index)
		accepted[i] = r.Accepted
	}
	assert.Equal(t, []bool{true, false, true, false, true}, accepted)
	assert.Contains(t, res.Images[1].Error, faceerr.ErrDecode.Error())
	assert.Contains(t, res.Images[3].Error, faceerr.ErrAmbiguousFace.Error())
}

func TestReenrollReplacesSamples(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Enroll(ctx, "alice", faceSet(t, 10, 7))
	require.NoError(t, err)
	second, err := f.svc.Enroll(ctx, "alice", faceSet(t, 50, 5))
	require.NoError(t, err)
	assert.Equal(t, first.ProfileID, second.ProfileID)

	st, err := f.svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, st.Registered)
	assert.Equal(t, 5, st.SampleCount)

	// the old samples are no longer classifiable as alice
	res, err := f.svc.Recognize(ctx, faceImage(t, 10))
	require.NoError(t, err)
	assert.False(t, res.Recognized)

	res, err = f.svc.Recognize(ctx, faceImage(t, 52))
	require.NoError(t, err)
	assert.True(t, res.Recognized)
}

func TestProfileIDReuse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.svc.Enroll(ctx, "alice", faceSet(t, 100, 3))
	require.NoError(t, err)
	b, err := f.svc.Enroll(ctx, "bob", faceSet(t, 200, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, a.ProfileID)
	assert.Equal(t, 2, b.ProfileID)

	_, err = f.svc.Revoke(ctx, "alice")
	require.NoError(t, err)

	c, err := f.svc.Enroll(ctx, "carol", faceSet(t, 300, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, c.ProfileID)
}

func TestRecognize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Enroll(ctx, "alice", faceSet(t, 100, 4))
	require.NoError(t, err)
	bob, err := f.svc.Enroll(ctx, "bob", faceSet(t, 200, 4))
	require.NoError(t, err)

	t.Run("enrolled sample", func(t *testing.T) {
		res, err := f.svc.Recognize(ctx, faceImage(t, 202))
		require.NoError(t, err)
		assert.True(t, res.Recognized)
		require.NotNil(t, res.ProfileID)
		assert.Equal(t, bob.ProfileID, *res.ProfileID)
		require.NotNil(t, res.Identity)
		assert.Equal(t, "bob", res.Identity.ID)
		assert.Zero(t, res.Distance)
		assert.Equal(t, 100.0, res.Accuracy)
	})

	t.Run("far probe", func(t *testing.T) {
		res, err := f.svc.Recognize(ctx, flatImage(t, 1))
		require.NoError(t, err)
		assert.False(t, res.Recognized)
		assert.Nil(t, res.ProfileID)
		assert.GreaterOrEqual(t, res.Distance, 70.0)
		assert.Equal(t, Accuracy(res.Distance), res.Accuracy)
	})

	t.Run("probe errors", func(t *testing.T) {
		_, err := f.svc.Recognize(ctx, flatImage(t, 0))
		require.ErrorIs(t, err, faceerr.ErrNoFaceDetected)
		_, err = f.svc.Recognize(ctx, flatImage(t, 3))
		require.ErrorIs(t, err, faceerr.ErrAmbiguousFace)
		_, err = f.svc.Recognize(ctx, nil)
		require.ErrorIs(t, err, faceerr.ErrDecode)
	})
}

func TestRecognizeUntrained(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Recognize(context.Background(), faceImage(t, 1))
	require.ErrorIs(t, err, faceerr.ErrModelNotTrained)
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 100.0, Accuracy(0))
	assert.Equal(t, 35.5, Accuracy(64.5))
	assert.Equal(t, 0.0, Accuracy(180))
}

func TestStatusFollowsEnrollAndRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	st, err := f.svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, st.Registered)

	_, err = f.svc.Enroll(ctx, "alice", faceSet(t, 100, 3))
	require.NoError(t, err)
	st, err = f.svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, st.Registered)
	require.NotNil(t, st.ProfileID)
	assert.Equal(t, 1, *st.ProfileID)

	res, err := f.svc.Revoke(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProfileID)
	assert.Empty(t, res.Warning)

	st, err = f.svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, st.Registered)
	assert.Nil(t, st.ProfileID)

	assert.Equal(t, []models.FaceEventType{models.EventEnrolled, models.EventRevoked}, f.events.types())
}

func TestRevokeUnenrolled(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Revoke(context.Background(), "nobody")
	require.ErrorIs(t, err, faceerr.ErrProfileNotFound)
}

func TestRevokeLastProfileDiscardsModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Enroll(ctx, "alice", faceSet(t, 100, 3))
	require.NoError(t, err)
	_, err = os.Stat(f.artifacts.Path())
	require.NoError(t, err)

	_, err = f.svc.Revoke(ctx, "alice")
	require.NoError(t, err)

	_, err = os.Stat(f.artifacts.Path())
	assert.True(t, os.IsNotExist(err))
	assert.False(t, f.svc.Trained())

	_, err = f.svc.Recognize(ctx, faceImage(t, 100))
	require.ErrorIs(t, err, faceerr.ErrModelNotTrained)
}

func TestRevokeRetrainFailureIsAWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	alice, err := f.svc.Enroll(ctx, "alice", faceSet(t, 100, 3))
	require.NoError(t, err)
	_, err = f.svc.Enroll(ctx, "bob", faceSet(t, 200, 3))
	require.NoError(t, err)

	f.artifacts.setFail(true)
	res, err := f.svc.Revoke(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)

	st, err := f.svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, st.Registered)

	probe, err := f.svc.Recognize(ctx, faceImage(t, 100))
	require.NoError(t, err)
	if probe.ProfileID != nil {
		assert.NotEqual(t, alice.ProfileID, *probe.ProfileID)
	}

	// nothing stale is left on disk for the next start
	f.artifacts.setFail(false)
	svc := f.open(t)
	res2, err := svc.Recognize(ctx, faceImage(t, 201))
	require.NoError(t, err)
	require.NotNil(t, res2.Identity)
	assert.Equal(t, "bob", res2.Identity.ID)
}

func TestEnrollSurvivesArtifactWriteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.artifacts.setFail(true)
	res, err := f.svc.Enroll(ctx, "alice", faceSet(t, 100, 3))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)

	probe, err := f.svc.Recognize(ctx, faceImage(t, 101))
	require.NoError(t, err)
	assert.True(t, probe.Recognized)

	f.artifacts.setFail(false)
	svc := f.open(t)
	assert.True(t, svc.Trained())
}

func TestOpenRebuildsStaleArtifact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Enroll(ctx, "alice", faceSet(t, 100, 3))
	require.NoError(t, err)
	_, err = f.svc.Enroll(ctx, "bob", faceSet(t, 200, 3))
	require.NoError(t, err)

	all, err := f.samples.LoadAll(ctx)
	require.NoError(t, err)
	delete(all, 2)
	stale, err := lbph.Train(all, lbph.DefaultParams())
	require.NoError(t, err)
	require.NoError(t, f.artifacts.Save(stale))

	svc := f.open(t)
	res, err := svc.Recognize(ctx, faceImage(t, 200))
	require.NoError(t, err)
	require.True(t, res.Recognized)
	assert.Equal(t, 2, *res.ProfileID)

	loaded, err := f.artifacts.Load()
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 3, 2: 3}, loaded.Fingerprint())
}

func TestOpenDiscardsCorruptArtifact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Enroll(ctx, "alice", faceSet(t, 100, 3))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.artifacts.Path(), []byte("garbage"), 0o644))

	svc := f.open(t)
	res, err := svc.Recognize(ctx, faceImage(t, 100))
	require.NoError(t, err)
	assert.True(t, res.Recognized)
}

// crops runs payloads through the fixture's locator, as enrollment would.
func crops(t *testing.T, payloads [][]byte) []*image.Gray {
	t.Helper()
	loc := vision.NewLocator(markerDetector{}, 30, 0)
	out := make([]*image.Gray, len(payloads))
	for i, p := range payloads {
		buf, err := vision.Decode(p)
		require.NoError(t, err)
		out[i], err = loc.Locate(buf)
		require.NoError(t, err)
	}
	return out
}

func TestOpenRebuildsReplacedSamples(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Enroll(ctx, "alice", faceSet(t, 100, 3))
	require.NoError(t, err)

	// a re-enroll that stopped after the store commit: same sample count,
	// new content, artifact still trained on the old set
	_, err = f.samples.ReplaceSamples(ctx, 1, crops(t, faceSet(t, 500, 3)))
	require.NoError(t, err)

	svc := f.open(t)
	res, err := svc.Recognize(ctx, faceImage(t, 500))
	require.NoError(t, err)
	assert.True(t, res.Recognized)
	assert.Zero(t, res.Distance)

	res, err = svc.Recognize(ctx, faceImage(t, 100))
	require.NoError(t, err)
	assert.False(t, res.Recognized)
	assert.NotZero(t, res.Distance)

	loaded, err := f.artifacts.Load()
	require.NoError(t, err)
	all, err := f.samples.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, lbph.Digest(all[1]), loaded.Digests()[1])
}

func TestRecognizeProfileWithoutIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Enroll(ctx, "alice", faceSet(t, 100, 3))
	require.NoError(t, err)

	// identity records lost while samples and artifact survived
	f.identities = storage.NewMemoryIdentityStore()
	svc := f.open(t)

	res, err := svc.Recognize(ctx, faceImage(t, 100))
	require.NoError(t, err)
	assert.False(t, res.Recognized)
	assert.Nil(t, res.ProfileID)
	assert.Nil(t, res.Identity)
	assert.Zero(t, res.Distance)
}

func TestConcurrentEnrollAndRecognize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bob, err := f.svc.Enroll(ctx, "bob", faceSet(t, 200, 3))
	require.NoError(t, err)
	sets := [][][]byte{faceSet(t, 100, 3), faceSet(t, 400, 4)}
	probe := faceImage(t, 201)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 4; i++ {
				if _, err := f.svc.Enroll(ctx, "alice", sets[(w+i)%2]); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				res, err := f.svc.Recognize(ctx, probe)
				if err != nil {
					errs <- err
					continue
				}
				if !res.Recognized || *res.ProfileID != bob.ProfileID {
					errs <- errors.New("probe lost its match during enrollment")
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	st, err := f.svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, st.Registered)
	all, err := f.samples.LoadAll(ctx)
	require.NoError(t, err)
	loaded, err := f.artifacts.Load()
	require.NoError(t, err)
	assert.Equal(t, len(all[*st.ProfileID]), loaded.Fingerprint()[*st.ProfileID])
}

func TestNewValidates(t *testing.T) {
	_, err := New(DefaultConfig(), Dependencies{})
	require.Error(t, err)
}
