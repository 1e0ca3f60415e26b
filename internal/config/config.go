package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Storage     StorageConfig     `yaml:"storage"`
	Vision      VisionConfig      `yaml:"vision"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	APIKey    string `yaml:"api_key"`
	JWTSecret string `yaml:"jwt_secret"`
	MaxBodyMB int    `yaml:"max_body_mb"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	// InMemory keeps identity records in process. Bindings are lost on
	// exit while samples and the model artifact persist.
	InMemory bool   `yaml:"in_memory"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// NATSConfig is optional; an empty URL disables event publishing.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

const (
	BackendFS    = "fs"
	BackendMinIO = "minio"

	DetectorHaar       = "haar"
	DetectorRetinaFace = "retinaface"
)

type StorageConfig struct {
	Backend      string `yaml:"backend"`
	DatasetDir   string `yaml:"dataset_dir"`
	ArtifactPath string `yaml:"artifact_path"`
}

type VisionConfig struct {
	Detector           string  `yaml:"detector"`
	CascadePath        string  `yaml:"cascade_path"`
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	ScaleFactor        float64 `yaml:"scale_factor"`
	MinNeighbors       int     `yaml:"min_neighbors"`
	MinFaceSize        int     `yaml:"min_face_size"`
	NormalizeSize      int     `yaml:"normalize_size"`
}

type RecognitionConfig struct {
	Threshold  float64 `yaml:"threshold"`
	Radius     int     `yaml:"radius"`
	Neighbors  int     `yaml:"neighbors"`
	GridX      int     `yaml:"grid_x"`
	GridY      int     `yaml:"grid_y"`
	MinSamples int     `yaml:"min_samples"`
	MaxSamples int     `yaml:"max_samples"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file, an optional .env file next to the
// working directory and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied, for callers
// running without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFS, BackendMinIO:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Vision.Detector {
	case DetectorHaar, DetectorRetinaFace:
	default:
		return fmt.Errorf("unknown face detector %q", c.Vision.Detector)
	}
	if c.Recognition.MinSamples < 1 || c.Recognition.MaxSamples < c.Recognition.MinSamples {
		return fmt.Errorf("invalid sample bounds [%d,%d]", c.Recognition.MinSamples, c.Recognition.MaxSamples)
	}
	if c.Recognition.Threshold <= 0 {
		return fmt.Errorf("recognition threshold must be positive, got %v", c.Recognition.Threshold)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxBodyMB == 0 {
		cfg.Server.MaxBodyMB = 64
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "faceid"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFS
	}
	if cfg.Storage.DatasetDir == "" {
		cfg.Storage.DatasetDir = "data/dataset"
	}
	if cfg.Storage.ArtifactPath == "" {
		cfg.Storage.ArtifactPath = "data/trainer/lbph.bin"
	}
	if cfg.Vision.Detector == "" {
		cfg.Vision.Detector = DetectorHaar
	}
	if cfg.Vision.CascadePath == "" {
		cfg.Vision.CascadePath = "models/haarcascade_frontalface_default.xml"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.ScaleFactor == 0 {
		cfg.Vision.ScaleFactor = 1.3
	}
	if cfg.Vision.MinNeighbors == 0 {
		cfg.Vision.MinNeighbors = 5
	}
	if cfg.Vision.MinFaceSize == 0 {
		cfg.Vision.MinFaceSize = 30
	}
	if cfg.Recognition.Threshold == 0 {
		cfg.Recognition.Threshold = 70
	}
	if cfg.Recognition.Radius == 0 {
		cfg.Recognition.Radius = 1
	}
	if cfg.Recognition.Neighbors == 0 {
		cfg.Recognition.Neighbors = 8
	}
	if cfg.Recognition.GridX == 0 {
		cfg.Recognition.GridX = 8
	}
	if cfg.Recognition.GridY == 0 {
		cfg.Recognition.GridY = 8
	}
	if cfg.Recognition.MinSamples == 0 {
		cfg.Recognition.MinSamples = 3
	}
	if cfg.Recognition.MaxSamples == 0 {
		cfg.Recognition.MaxSamples = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEID_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEID_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEID_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("FACEID_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEID_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEID_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEID_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEID_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEID_DB_IN_MEMORY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Database.InMemory = b
		}
	}
	if v := os.Getenv("FACEID_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEID_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEID_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEID_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEID_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEID_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("FACEID_DATASET_DIR"); v != "" {
		cfg.Storage.DatasetDir = v
	}
	if v := os.Getenv("FACEID_ARTIFACT_PATH"); v != "" {
		cfg.Storage.ArtifactPath = v
	}
	if v := os.Getenv("FACEID_DETECTOR"); v != "" {
		cfg.Vision.Detector = v
	}
	if v := os.Getenv("FACEID_CASCADE_PATH"); v != "" {
		cfg.Vision.CascadePath = v
	}
	if v := os.Getenv("FACEID_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FACEID_RECOGNITION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.Threshold = f
		}
	}
	if v := os.Getenv("FACEID_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
