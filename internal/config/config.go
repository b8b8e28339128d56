package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr  string   `yaml:"listen_addr"`
	APIKeys     []string `yaml:"api_keys"`
	CORSOrigins []string `yaml:"cors_origins"`
	RateLimit   int      `yaml:"rate_limit"`
	LogLevel    string   `yaml:"log_level"`

	DBPath     string `yaml:"db_path"`
	Collection string `yaml:"collection"`
	UploadDir  string `yaml:"upload_dir"`

	JobConcurrency int `yaml:"job_concurrency"`
	QueueSize      int `yaml:"queue_size"`

	// CallbackAllowPrivate permits callback URLs on loopback and private networks.
	CallbackAllowPrivate bool `yaml:"callback_allow_private"`

	Quality   QualityConfig   `yaml:"quality"`
	Batch     BatchConfig     `yaml:"batch"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Watch     WatchConfig     `yaml:"watch"`
}

// QualityConfig holds the screening thresholds.
type QualityConfig struct {
	BlurThreshold          float64 `yaml:"blur_threshold"`
	OverexposureThreshold  float64 `yaml:"overexposure_threshold"`
	UnderexposureThreshold float64 `yaml:"underexposure_threshold"`
	MaxImagePixels         int     `yaml:"max_image_pixels"`
	ResizeScale            float64 `yaml:"resize_scale"`
	ExposureSampleLimit    int     `yaml:"exposure_sample_limit"`
	ExposureStride         int     `yaml:"exposure_stride"`
	ImageCacheSize         int     `yaml:"image_cache_size"`
}

// BatchConfig controls how a job partitions its work.
type BatchConfig struct {
	Workers         int `yaml:"workers"`
	BatchSize       int `yaml:"batch_size"`
	SearchBatchSize int `yaml:"search_batch_size"`
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint serving a
// joint image/text model. An empty BaseURL and APIKey disables semantic features.
//
// Images are sent as "data:<mime>;base64,..." strings in the ordinary input
// field. The server must decode such inputs as images (CLIP-style gateways do);
// a plain text-embedding model will embed the base64 text instead and no
// error is reported.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	RPS        float64       `yaml:"rps"`
}

// Enabled reports whether a provider endpoint is configured.
func (e EmbeddingConfig) Enabled() bool {
	return e.BaseURL != "" || e.APIKey != ""
}

// WatchConfig schedules periodic scans of a folder.
type WatchConfig struct {
	Folder   string `yaml:"folder"`
	Schedule string `yaml:"schedule"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8001",
		CORSOrigins:    []string{"*"},
		LogLevel:       "info",
		DBPath:         "photosift.db",
		Collection:     "photo_collection",
		UploadDir:      "data/uploads",
		JobConcurrency: 2,
		QueueSize:      100,
		Quality: QualityConfig{
			BlurThreshold:          30.0,
			OverexposureThreshold:  0.95,
			UnderexposureThreshold: 0.05,
			MaxImagePixels:         500000,
			ResizeScale:            0.25,
			ExposureSampleLimit:    1000000,
			ExposureStride:         5,
			ImageCacheSize:         30,
		},
		Batch: BatchConfig{
			Workers:         2,
			BatchSize:       10,
			SearchBatchSize: 25,
		},
		Embedding: EmbeddingConfig{
			Model:   "clip-vit-b-32",
			Timeout: 30 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// PHOTOSIFT_CONFIG (if set), and PHOTOSIFT_* environment variables, in that order.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("PHOTOSIFT_CONFIG"))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ListenAddr = getEnv("PHOTOSIFT_LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = getEnv("PHOTOSIFT_LOG_LEVEL", c.LogLevel)
	c.DBPath = getEnv("PHOTOSIFT_DB_PATH", c.DBPath)
	c.Collection = getEnv("PHOTOSIFT_COLLECTION", c.Collection)
	c.UploadDir = getEnv("PHOTOSIFT_UPLOAD_DIR", c.UploadDir)
	c.Embedding.BaseURL = getEnv("PHOTOSIFT_EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.APIKey = getEnv("PHOTOSIFT_EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Model = getEnv("PHOTOSIFT_EMBEDDING_MODEL", c.Embedding.Model)
	c.Watch.Folder = getEnv("PHOTOSIFT_WATCH_FOLDER", c.Watch.Folder)
	c.Watch.Schedule = getEnv("PHOTOSIFT_WATCH_SCHEDULE", c.Watch.Schedule)

	if v := os.Getenv("PHOTOSIFT_API_KEYS"); v != "" {
		c.APIKeys = splitList(v)
	}
	if v := os.Getenv("PHOTOSIFT_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}

	var errs []error
	ints := []struct {
		key string
		dst *int
	}{
		{"PHOTOSIFT_RATE_LIMIT", &c.RateLimit},
		{"PHOTOSIFT_JOB_CONCURRENCY", &c.JobConcurrency},
		{"PHOTOSIFT_QUEUE_SIZE", &c.QueueSize},
		{"PHOTOSIFT_MAX_WORKERS", &c.Batch.Workers},
		{"PHOTOSIFT_BATCH_SIZE", &c.Batch.BatchSize},
		{"PHOTOSIFT_SEARCH_BATCH_SIZE", &c.Batch.SearchBatchSize},
		{"PHOTOSIFT_IMAGE_CACHE_SIZE", &c.Quality.ImageCacheSize},
		{"PHOTOSIFT_MAX_IMAGE_SIZE", &c.Quality.MaxImagePixels},
		{"PHOTOSIFT_EXPOSURE_SAMPLE_LIMIT", &c.Quality.ExposureSampleLimit},
		{"PHOTOSIFT_EXPOSURE_STRIDE", &c.Quality.ExposureStride},
		{"PHOTOSIFT_EMBEDDING_DIMENSIONS", &c.Embedding.Dimensions},
	}
	for _, it := range ints {
		n, err := getEnvInt(it.key, *it.dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", it.key, err))
			continue
		}
		*it.dst = n
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"PHOTOSIFT_BLUR_THRESHOLD", &c.Quality.BlurThreshold},
		{"PHOTOSIFT_OVEREXPOSURE_THRESHOLD", &c.Quality.OverexposureThreshold},
		{"PHOTOSIFT_UNDEREXPOSURE_THRESHOLD", &c.Quality.UnderexposureThreshold},
		{"PHOTOSIFT_RESIZE_SCALE", &c.Quality.ResizeScale},
		{"PHOTOSIFT_EMBEDDING_RPS", &c.Embedding.RPS},
	}
	for _, it := range floats {
		f, err := getEnvFloat(it.key, *it.dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", it.key, err))
			continue
		}
		*it.dst = f
	}

	if v := os.Getenv("PHOTOSIFT_CALLBACK_ALLOW_PRIVATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PHOTOSIFT_CALLBACK_ALLOW_PRIVATE: invalid boolean %q", v))
		} else {
			c.CallbackAllowPrivate = b
		}
	}

	if v := os.Getenv("PHOTOSIFT_EMBEDDING_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PHOTOSIFT_EMBEDDING_TIMEOUT: invalid duration %q", v))
		} else {
			c.Embedding.Timeout = d
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validate() error {
	var errs []string
	if c.Batch.Workers < 1 {
		errs = append(errs, "workers must be > 0")
	}
	if c.Batch.BatchSize < 1 {
		errs = append(errs, "batch_size must be > 0")
	}
	if c.Batch.SearchBatchSize < 1 {
		errs = append(errs, "search_batch_size must be > 0")
	}
	if c.JobConcurrency < 1 {
		errs = append(errs, "job_concurrency must be > 0")
	}
	if c.QueueSize < 1 {
		errs = append(errs, "queue_size must be > 0")
	}
	if c.Quality.ImageCacheSize < 0 {
		errs = append(errs, "image_cache_size must be >= 0")
	}
	if c.Quality.ResizeScale <= 0 || c.Quality.ResizeScale > 1 {
		errs = append(errs, "resize_scale must be in (0, 1]")
	}
	if c.Quality.MaxImagePixels < 1 {
		errs = append(errs, "max_image_pixels must be > 0")
	}
	if c.Quality.ExposureSampleLimit < 1 {
		errs = append(errs, "exposure_sample_limit must be > 0")
	}
	if c.Quality.ExposureStride < 1 {
		errs = append(errs, "exposure_stride must be > 0")
	}
	for name, v := range map[string]float64{
		"overexposure_threshold":  c.Quality.OverexposureThreshold,
		"underexposure_threshold": c.Quality.UnderexposureThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in [0, 1]", name))
		}
	}
	if c.Collection == "" {
		errs = append(errs, "collection must not be empty")
	}
	if (c.Watch.Folder == "") != (c.Watch.Schedule == "") {
		errs = append(errs, "watch.folder and watch.schedule must be set together")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return f, nil
}
