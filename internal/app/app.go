// Package app assembles the face identity service from configuration.
// The HTTP server and the operator CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/faceid"
	"github.com/your-org/faceid/internal/lbph"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/internal/vision"
	"github.com/your-org/faceid/internal/vision/haar"
)

const retinaModelFile = "det_10g.onnx"

type Options struct {
	// Publisher receives face events; nil disables publishing.
	Publisher faceid.Publisher
	// MemoryIdentities keeps identity records in process instead of
	// Postgres, like database.in_memory.
	MemoryIdentities bool
}

type App struct {
	Config  *config.Config
	Service *faceid.Service

	// Postgres and MinIO are nil when the matching backend is not in use.
	Postgres *storage.PostgresStore
	MinIO    *storage.MinIOSampleStore

	locator *vision.Locator
	onnx    bool
}

// New builds every collaborator and opens the service, which loads or
// rebuilds the model artifact.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	det, err := a.newDetector(cfg.Vision)
	if err != nil {
		return nil, err
	}
	a.locator = vision.NewLocator(det, cfg.Vision.MinFaceSize, cfg.Vision.NormalizeSize)

	samples, err := a.newSampleStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	identities, err := a.newIdentityStore(ctx, cfg, opts.MemoryIdentities)
	if err != nil {
		a.Close()
		return nil, err
	}

	svcCfg := faceid.Config{
		Params: lbph.Params{
			Radius:    cfg.Recognition.Radius,
			Neighbors: cfg.Recognition.Neighbors,
			GridX:     cfg.Recognition.GridX,
			GridY:     cfg.Recognition.GridY,
		},
		Threshold:  cfg.Recognition.Threshold,
		MinSamples: cfg.Recognition.MinSamples,
		MaxSamples: cfg.Recognition.MaxSamples,
	}
	svc, err := faceid.New(svcCfg, faceid.Dependencies{
		Locator:    a.locator,
		Samples:    samples,
		Identities: identities,
		Artifacts:  storage.NewArtifactStore(cfg.Storage.ArtifactPath),
		Publisher:  opts.Publisher,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := svc.Open(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("open face service: %w", err)
	}
	a.Service = svc
	return a, nil
}

func (a *App) newDetector(cfg config.VisionConfig) (vision.Detector, error) {
	switch cfg.Detector {
	case config.DetectorRetinaFace:
		ort.SetSharedLibraryPath(onnxLibPath())
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("init onnx runtime: %w", err)
		}
		a.onnx = true
		det, err := vision.NewRetinaDetector(filepath.Join(cfg.ModelsDir, retinaModelFile), float32(cfg.DetectionThreshold), nil)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load face detector: %w", err)
		}
		slog.Info("face detector ready", "detector", cfg.Detector, "threshold", cfg.DetectionThreshold)
		return det, nil
	default:
		det, err := haar.New(cfg.CascadePath, cfg.ScaleFactor, cfg.MinNeighbors, cfg.MinFaceSize)
		if err != nil {
			return nil, fmt.Errorf("load face detector: %w", err)
		}
		slog.Info("face detector ready", "detector", cfg.Detector, "cascade", cfg.CascadePath)
		return det, nil
	}
}

func (a *App) newSampleStore(ctx context.Context, cfg *config.Config) (faceid.SampleStore, error) {
	if cfg.Storage.Backend == config.BackendMinIO {
		store, err := storage.NewMinIOSampleStore(cfg.MinIO, cfg.Recognition.MinSamples)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure minio bucket: %w", err)
		}
		a.MinIO = store
		slog.Info("sample store ready", "backend", config.BackendMinIO, "bucket", cfg.MinIO.Bucket)
		return store, nil
	}
	store, err := storage.NewFSSampleStore(cfg.Storage.DatasetDir, cfg.Recognition.MinSamples)
	if err != nil {
		return nil, err
	}
	slog.Info("sample store ready", "backend", config.BackendFS, "dir", cfg.Storage.DatasetDir)
	return store, nil
}

// newIdentityStore opens Postgres. The in-memory store is used only when
// asked for, since samples and the artifact outlive it.
func (a *App) newIdentityStore(ctx context.Context, cfg *config.Config, memory bool) (faceid.IdentityStore, error) {
	if memory || cfg.Database.InMemory {
		slog.Warn("using in-memory identity store; identity bindings are lost on exit")
		return storage.NewMemoryIdentityStore(), nil
	}
	if cfg.Database.Host == "" {
		return nil, errors.New("database.host is not set; set database.in_memory (or pass --memory) to keep identity bindings in process")
	}
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	a.Postgres = db
	return db, nil
}

// Close releases the detector and store connections. It is safe to call
// on a partially built App.
func (a *App) Close() {
	var errs []error
	if a.locator != nil {
		errs = append(errs, a.locator.Close())
		a.locator = nil
	}
	if a.Postgres != nil {
		a.Postgres.Close()
		a.Postgres = nil
	}
	if a.onnx {
		errs = append(errs, ort.DestroyEnvironment())
		a.onnx = false
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("close app", "error", err)
	}
}

// onnxLibPath returns the ONNX Runtime shared library name for this OS.
func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
