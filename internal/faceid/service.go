// Package faceid enrolls faces under identities and recognizes probes
// against every enrolled profile.
//
// All mutations (enroll, revoke, retrain) run under one write lock; they
// are serialized against each other and against recognition, which only
// ever sees a model trained on the sample set currently in the store.
package faceid

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/your-org/faceid/internal/faceerr"
	"github.com/your-org/faceid/internal/lbph"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/vision"
)

// Locator returns the single face crop of a decoded image.
type Locator interface {
	Locate(buf *vision.PixelBuffer) (*image.Gray, error)
}

// SampleStore persists face samples per profile id.
type SampleStore interface {
	ProfileIDs(ctx context.Context) ([]int, error)
	AllocateProfileID(ctx context.Context) (int, error)
	ReplaceSamples(ctx context.Context, id int, faces []*image.Gray) (int, error)
	DeleteProfile(ctx context.Context, id int) error
	SampleCount(ctx context.Context, id int) (int, error)
	AnySamples(ctx context.Context) (bool, error)
	LoadAll(ctx context.Context) (map[int][]*image.Gray, error)
}

// IdentityStore reads and writes the profile id field of identity records.
type IdentityStore interface {
	GetProfileID(ctx context.Context, identity string) (*int, error)
	SetProfileID(ctx context.Context, identity string, profileID *int) error
	FindByProfileID(ctx context.Context, profileID int) (*models.Identity, error)
}

// ModelRepository holds the single persisted model artifact.
type ModelRepository interface {
	Save(m *lbph.Model) error
	Load() (*lbph.Model, error)
	Remove() error
}

type Publisher interface {
	Publish(ctx context.Context, evt *models.FaceEvent) error
}

type Config struct {
	Params     lbph.Params
	Threshold  float64
	MinSamples int
	MaxSamples int
}

func DefaultConfig() Config {
	return Config{Params: lbph.DefaultParams(), Threshold: 70, MinSamples: 3, MaxSamples: 30}
}

type Dependencies struct {
	Locator    Locator
	Samples    SampleStore
	Identities IdentityStore
	Artifacts  ModelRepository
	Publisher  Publisher // optional
}

type Service struct {
	cfg        Config
	locator    Locator
	samples    SampleStore
	identities IdentityStore
	artifacts  ModelRepository
	publisher  Publisher

	mu    sync.RWMutex
	model *lbph.Model
}

func New(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Locator == nil || deps.Samples == nil || deps.Identities == nil || deps.Artifacts == nil {
		return nil, errors.New("faceid: locator, samples, identities and artifacts are required")
	}
	if cfg.MinSamples < 1 || cfg.MaxSamples < cfg.MinSamples {
		return nil, fmt.Errorf("faceid: invalid sample bounds [%d,%d]", cfg.MinSamples, cfg.MaxSamples)
	}
	return &Service{
		cfg:        cfg,
		locator:    deps.Locator,
		samples:    deps.Samples,
		identities: deps.Identities,
		artifacts:  deps.Artifacts,
		publisher:  deps.Publisher,
	}, nil
}

// Open loads the persisted model. An artifact that is missing, unreadable,
// trained with other parameters or out of date with the sample store is
// rebuilt from the store.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.artifacts.Load()
	if err != nil {
		slog.Warn("discarding unreadable model artifact", "error", err)
		m = nil
	}
	if m != nil && m.Params() == s.cfg.Params {
		fresh, err := s.matchesStore(ctx, m)
		if err != nil {
			return err
		}
		if fresh {
			s.setModel(m)
			slog.Info("model artifact loaded", "profiles", len(m.ProfileIDs()), "samples", m.Len())
			return nil
		}
	}
	slog.Info("model artifact stale or missing, retraining")
	return s.retrainLocked(ctx)
}

// matchesStore reports whether m was trained on exactly the samples the
// store holds now, compared by content digest per profile.
func (s *Service) matchesStore(ctx context.Context, m *lbph.Model) (bool, error) {
	all, err := s.samples.LoadAll(ctx)
	if err != nil {
		return false, fmt.Errorf("load samples: %w", err)
	}
	digests := m.Digests()
	if len(digests) != len(all) {
		return false, nil
	}
	for id, faces := range all {
		if d, ok := digests[id]; !ok || d != lbph.Digest(faces) {
			return false, nil
		}
	}
	return true, nil
}

// ImageResult is the outcome of one enrollment image.
type ImageResult struct {
	Index    int    `json:"index"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

type EnrollResult struct {
	ProfileID   int           `json:"profile_id,omitempty"`
	SampleCount int           `json:"sample_count"`
	Images      []ImageResult `json:"images"`
	Warning     string        `json:"warning,omitempty"`
}

// Enroll replaces the identity's samples with the faces found in images and
// retrains the model. Images that cannot be decoded or do not show exactly
// one face are reported per image and skipped. On error the returned result
// still carries the per-image outcomes when they are known.
func (s *Service) Enroll(ctx context.Context, identity string, images [][]byte) (*EnrollResult, error) {
	if len(images) < s.cfg.MinSamples {
		observability.Enrollments.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: got %d images, need at least %d", faceerr.ErrInsufficientSamples, len(images), s.cfg.MinSamples)
	}
	if len(images) > s.cfg.MaxSamples {
		observability.Enrollments.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: got %d images, at most %d allowed", faceerr.ErrTooManySamples, len(images), s.cfg.MaxSamples)
	}

	res := &EnrollResult{Images: make([]ImageResult, len(images))}
	faces := make([]*image.Gray, 0, len(images))
	for i, payload := range images {
		res.Images[i].Index = i
		face, err := s.extract(payload)
		if err != nil {
			res.Images[i].Error = err.Error()
			observability.RejectedImages.WithLabelValues(rejectReason(err)).Inc()
			slog.Debug("enrollment image rejected", "identity", identity, "index", i, "error", err)
			continue
		}
		res.Images[i].Accepted = true
		faces = append(faces, face)
	}
	if len(faces) < s.cfg.MinSamples {
		observability.Enrollments.WithLabelValues("rejected").Inc()
		return res, fmt.Errorf("%w: %d usable faces, need at least %d", faceerr.ErrInsufficientSamples, len(faces), s.cfg.MinSamples)
	}

	s.mu.Lock()
	profileID, err := s.enrollLocked(ctx, identity, faces, res)
	s.mu.Unlock()
	if err != nil {
		observability.Enrollments.WithLabelValues("error").Inc()
		return res, err
	}

	observability.Enrollments.WithLabelValues("ok").Inc()
	slog.Info("face enrolled", "identity", identity, "profile_id", profileID, "samples", res.SampleCount)
	evt := models.NewFaceEvent(models.EventEnrolled, identity, &profileID)
	evt.SampleCount = res.SampleCount
	s.publish(ctx, evt)
	return res, nil
}

func (s *Service) enrollLocked(ctx context.Context, identity string, faces []*image.Gray, res *EnrollResult) (int, error) {
	current, err := s.identities.GetProfileID(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("get profile id: %w", err)
	}
	var profileID int
	if current != nil {
		profileID = *current
	} else if profileID, err = s.allocateLocked(ctx, identity); err != nil {
		return 0, err
	}

	// Train before writing anything so a failure leaves the store as it was.
	all, err := s.samples.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load samples: %w", err)
	}
	all[profileID] = faces
	model, err := s.train(all)
	if err != nil {
		return 0, err
	}

	saved, err := s.samples.ReplaceSamples(ctx, profileID, faces)
	if err != nil {
		return 0, fmt.Errorf("replace samples of profile %d: %w", profileID, err)
	}
	if current == nil {
		if err := s.identities.SetProfileID(ctx, identity, &profileID); err != nil {
			if derr := s.samples.DeleteProfile(ctx, profileID); derr != nil {
				slog.Error("roll back new profile", "profile_id", profileID, "error", derr)
			}
			return 0, fmt.Errorf("set profile id: %w", err)
		}
	}

	s.setModel(model)
	if err := s.artifacts.Save(model); err != nil {
		slog.Error("persist model artifact", "error", err)
		res.Warning = "model trained but could not be persisted; it will be rebuilt on restart"
		if rerr := s.artifacts.Remove(); rerr != nil {
			slog.Error("remove stale model artifact", "error", rerr)
		}
	}
	res.ProfileID = profileID
	res.SampleCount = saved
	return profileID, nil
}

// allocateLocked picks the smallest profile id without samples. A record
// still pointing at such an id is cleared first.
func (s *Service) allocateLocked(ctx context.Context, identity string) (int, error) {
	id, err := s.samples.AllocateProfileID(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate profile id: %w", err)
	}
	holder, err := s.identities.FindByProfileID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("find profile owner: %w", err)
	}
	if holder != nil && holder.ID != identity {
		slog.Warn("clearing profile id without samples", "identity", holder.ID, "profile_id", id)
		if err := s.identities.SetProfileID(ctx, holder.ID, nil); err != nil {
			return 0, fmt.Errorf("clear dangling profile id: %w", err)
		}
	}
	return id, nil
}

type RecognizeResult struct {
	Recognized bool             `json:"recognized"`
	ProfileID  *int             `json:"profile_id,omitempty"`
	Identity   *models.Identity `json:"identity,omitempty"`
	Distance   float64          `json:"distance"`
	Accuracy   float64          `json:"accuracy"`
}

// Recognize classifies the single face in image. A match is accepted only
// when its distance is below the configured threshold; distance and
// accuracy are reported either way.
func (s *Service) Recognize(ctx context.Context, payload []byte) (*RecognizeResult, error) {
	face, err := s.extract(payload)
	if err != nil {
		observability.Recognitions.WithLabelValues("rejected").Inc()
		return nil, err
	}

	s.mu.RLock()
	res, err := s.recognizeLocked(ctx, face)
	s.mu.RUnlock()
	if err != nil {
		observability.Recognitions.WithLabelValues("error").Inc()
		return nil, err
	}

	observability.MatchDistance.Observe(res.Distance)
	var evt *models.FaceEvent
	if res.Recognized {
		observability.Recognitions.WithLabelValues("match").Inc()
		handle := ""
		if res.Identity != nil {
			handle = res.Identity.ID
		}
		evt = models.NewFaceEvent(models.EventRecognized, handle, res.ProfileID)
	} else {
		observability.Recognitions.WithLabelValues("no_match").Inc()
		evt = models.NewFaceEvent(models.EventUnrecognized, "", nil)
	}
	dist := res.Distance
	evt.Distance = &dist
	s.publish(ctx, evt)
	return res, nil
}

func (s *Service) recognizeLocked(ctx context.Context, face *image.Gray) (*RecognizeResult, error) {
	start := time.Now()
	id, dist, err := s.model.Classify(face)
	observability.InferenceDuration.WithLabelValues("classify").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	res := &RecognizeResult{Distance: dist, Accuracy: Accuracy(dist)}
	if dist >= s.cfg.Threshold {
		return res, nil
	}
	ident, err := s.identities.FindByProfileID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find identity of profile %d: %w", id, err)
	}
	if ident == nil {
		slog.Warn("matched profile has no identity", "profile_id", id, "distance", dist)
		return res, nil
	}
	res.Recognized = true
	res.ProfileID = &id
	res.Identity = ident
	return res, nil
}

// Accuracy maps a distance to the 0..100 figure reported with every
// recognition. It is not a probability.
func Accuracy(distance float64) float64 {
	return math.Max(0, 100-distance)
}

type StatusResult struct {
	Registered  bool `json:"registered"`
	ProfileID   *int `json:"profile_id,omitempty"`
	SampleCount int  `json:"sample_count"`
}

// Status reports whether identity has a profile with at least one sample.
func (s *Service) Status(ctx context.Context, identity string) (*StatusResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.identities.GetProfileID(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("get profile id: %w", err)
	}
	if id == nil {
		return &StatusResult{}, nil
	}
	n, err := s.samples.SampleCount(ctx, *id)
	if err != nil {
		return nil, fmt.Errorf("count samples of profile %d: %w", *id, err)
	}
	return &StatusResult{Registered: n > 0, ProfileID: id, SampleCount: n}, nil
}

type RevokeResult struct {
	ProfileID int    `json:"profile_id"`
	Warning   string `json:"warning,omitempty"`
}

// Revoke deletes the identity's samples, clears its profile id and
// retrains. A retraining failure does not undo the deletion; the revoked
// profile is pruned from the active model instead and the result carries a
// warning.
func (s *Service) Revoke(ctx context.Context, identity string) (*RevokeResult, error) {
	s.mu.Lock()
	res, err := s.revokeLocked(ctx, identity)
	s.mu.Unlock()
	if err != nil {
		observability.Revocations.WithLabelValues("error").Inc()
		return res, err
	}

	observability.Revocations.WithLabelValues("ok").Inc()
	slog.Info("face profile revoked", "identity", identity, "profile_id", res.ProfileID)
	id := res.ProfileID
	s.publish(ctx, models.NewFaceEvent(models.EventRevoked, identity, &id))
	return res, nil
}

func (s *Service) revokeLocked(ctx context.Context, identity string) (*RevokeResult, error) {
	id, err := s.identities.GetProfileID(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("get profile id: %w", err)
	}
	if id == nil {
		return nil, faceerr.ErrProfileNotFound
	}
	if err := s.samples.DeleteProfile(ctx, *id); err != nil {
		return nil, fmt.Errorf("delete profile %d: %w", *id, err)
	}
	res := &RevokeResult{ProfileID: *id}
	clearErr := s.identities.SetProfileID(ctx, identity, nil)

	if err := s.retrainLocked(ctx); err != nil {
		slog.Warn("retrain after revoke failed", "profile_id", *id, "error", err)
		res.Warning = "profile deleted but the model could not be rebuilt: " + err.Error()
		pruned := s.model.Without(*id)
		s.setModel(pruned)
		s.persist(pruned)
	}
	if clearErr != nil {
		return res, fmt.Errorf("clear profile id: %w", clearErr)
	}
	return res, nil
}

// Retrain rebuilds the model from every stored sample.
func (s *Service) Retrain(ctx context.Context) error {
	s.mu.Lock()
	err := s.retrainLocked(ctx)
	profiles := len(s.model.ProfileIDs())
	s.mu.Unlock()
	if err != nil {
		return err
	}
	slog.Info("model retrained", "profiles", profiles)
	s.publish(ctx, models.NewFaceEvent(models.EventRetrained, "", nil))
	return nil
}

// retrainLocked trains over the whole store. With no samples left the
// model and its artifact are discarded instead.
func (s *Service) retrainLocked(ctx context.Context) error {
	all, err := s.samples.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}
	if len(all) == 0 {
		s.setModel(nil)
		return s.artifacts.Remove()
	}
	model, err := s.train(all)
	if err != nil {
		return err
	}
	s.setModel(model)
	if err := s.artifacts.Save(model); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

func (s *Service) train(all map[int][]*image.Gray) (*lbph.Model, error) {
	start := time.Now()
	model, err := lbph.Train(all, s.cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("train model: %w", err)
	}
	observability.TrainingDuration.Observe(time.Since(start).Seconds())
	return model, nil
}

// persist writes m, or removes the artifact when m is nil. Failures only log.
func (s *Service) persist(m *lbph.Model) {
	var err error
	if m == nil {
		err = s.artifacts.Remove()
	} else {
		err = s.artifacts.Save(m)
	}
	if err != nil {
		slog.Error("persist model artifact", "error", err)
		if rerr := s.artifacts.Remove(); rerr != nil {
			slog.Error("remove stale model artifact", "error", rerr)
		}
	}
}

func (s *Service) setModel(m *lbph.Model) {
	s.model = m
	observability.TrainedSamples.Set(float64(m.Len()))
	observability.EnrolledProfiles.Set(float64(len(m.ProfileIDs())))
}

// Trained reports whether a model is loaded.
func (s *Service) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != nil
}

func (s *Service) extract(payload []byte) (*image.Gray, error) {
	start := time.Now()
	buf, err := vision.Decode(payload)
	observability.InferenceDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	start = time.Now()
	face, err := s.locator.Locate(buf)
	observability.InferenceDuration.WithLabelValues("locate").Observe(time.Since(start).Seconds())
	return face, err
}

func (s *Service) publish(ctx context.Context, evt *models.FaceEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		slog.Warn("publish face event", "type", evt.Type, "error", err)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, faceerr.ErrDecode):
		return "decode"
	case errors.Is(err, faceerr.ErrNoFaceDetected):
		return "no_face"
	case errors.Is(err, faceerr.ErrAmbiguousFace):
		return "ambiguous"
	case errors.Is(err, faceerr.ErrFaceTooSmall):
		return "too_small"
	default:
		return "other"
	}
}
