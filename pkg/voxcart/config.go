package voxcart

import (
	"os"
	"time"

	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/biometric"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/feedback"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/session"
)

type Config struct {
	DBPath            string
	TempDir           string
	SampleRate        int
	Logger            Logger
	Storage           Storage
	Threshold         float64
	EnrollmentSamples int
	SessionTTL        time.Duration
	CatalogSeed       []models.Product
	Metrics           *Metrics
	Feedback          feedback.Sink
	Transcriber       Transcriber
	ModelCacheSize    int
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

// WithThreshold sets the log-likelihood a scorer must reach to be accepted.
func WithThreshold(threshold float64) Option {
	return func(c *Config) {
		c.Threshold = threshold
	}
}

func WithEnrollmentSamples(k int) Option {
	return func(c *Config) {
		c.EnrollmentSamples = k
	}
}

// WithSessionTTL sets how long an idle session lives.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.SessionTTL = ttl
	}
}

// WithCatalogSeed replaces the products loaded into an empty catalog. A nil seed
// leaves the catalog empty.
func WithCatalogSeed(products []models.Product) Option {
	return func(c *Config) {
		c.CatalogSeed = products
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithFeedback sets where spoken prompts go. Delivery is asynchronous.
func WithFeedback(sink feedback.Sink) Option {
	return func(c *Config) {
		c.Feedback = sink
	}
}

func WithTranscriber(t Transcriber) Option {
	return func(c *Config) {
		c.Transcriber = t
	}
}

func WithModelCacheSize(n int) Option {
	return func(c *Config) {
		c.ModelCacheSize = n
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:            "voxcart.sqlite3",
		TempDir:           os.TempDir(),
		SampleRate:        audio.DefaultSampleRate,
		Threshold:         biometric.DefaultThreshold,
		EnrollmentSamples: biometric.DefaultSamples,
		SessionTTL:        session.DefaultTTL,
		CatalogSeed:       DefaultCatalog(),
		ModelCacheSize:    biometric.DefaultCacheSize,
	}
}
