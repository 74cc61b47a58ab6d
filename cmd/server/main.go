//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/voxcart"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/biometric"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/feedback"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/session"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/stt"
)

var (
	port           int
	dbPath         string
	tempDir        string
	sampleRate     int
	threshold      float64
	samples        int
	sessionTTL     string
	catalogPath    string
	loginRate      string
	maintainEvery  string
	logRequests    bool
	allowedOrigins string
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func registerFlags() {
	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("VOXCART_DB_PATH", "voxcart.sqlite3"), "Path to SQLite database")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("VOXCART_TEMP_DIR", os.TempDir()), "Temporary directory")
	flag.IntVar(&sampleRate, "rate", 16000, "Audio sample rate")
	flag.Float64Var(&threshold, "threshold", getEnvFloat("VOXCART_THRESHOLD", biometric.DefaultThreshold), "Verification threshold (mean log-likelihood)")
	flag.IntVar(&samples, "samples", biometric.DefaultSamples, "Voice samples recorded at registration")
	flag.StringVar(&sessionTTL, "session-ttl", getEnvOrDefault("VOXCART_SESSION_TTL", session.DefaultTTL.String()), "Idle time before a session is closed")
	flag.StringVar(&catalogPath, "catalog", os.Getenv("VOXCART_CATALOG"), "YAML catalog seeded into an empty store")
	flag.StringVar(&loginRate, "login-rate", getEnvOrDefault("VOXCART_LOGIN_RATE", "30-M"), "Voice login attempts per client IP (empty disables)")
	flag.StringVar(&maintainEvery, "maintain", "@every 30s", "Cron spec for session sweeps and gauges")
	flag.BoolVar(&logRequests, "log-requests", false, "Log every HTTP request")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func main() {
	_ = godotenv.Load()
	registerFlags()
	flag.Parse()

	log := logger.GetLogger()
	defer log.Sync()

	// Parse allowed origins
	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	ttl, err := time.ParseDuration(sessionTTL)
	if err != nil {
		log.Fatalf("Invalid session TTL %q: %v", sessionTTL, err)
	}

	catalog := voxcart.DefaultCatalog()
	if catalogPath != "" {
		if catalog, err = voxcart.LoadCatalog(catalogPath); err != nil {
			log.Fatalf("Failed to load catalog: %v", err)
		}
	}

	metrics := voxcart.NewMetrics()
	hub := NewHub(log.Named("ws"))

	opts := []voxcart.Option{
		voxcart.WithDBPath(dbPath),
		voxcart.WithTempDir(tempDir),
		voxcart.WithSampleRate(sampleRate),
		voxcart.WithThreshold(threshold),
		voxcart.WithEnrollmentSamples(samples),
		voxcart.WithSessionTTL(ttl),
		voxcart.WithCatalogSeed(catalog),
		voxcart.WithMetrics(metrics),
		voxcart.WithFeedback(feedback.Multi(feedback.NewLogSink(log.Named("speaker")), hub)),
	}
	if url := os.Getenv("VOXCART_STT_URL"); url != "" {
		transcriber, err := stt.NewHTTPTranscriber(stt.Config{
			URL:      url,
			Token:    os.Getenv("VOXCART_STT_TOKEN"),
			Language: getEnvOrDefault("VOXCART_STT_LANGUAGE", stt.DefaultLanguage),
		})
		if err != nil {
			log.Fatalf("Failed to configure transcriber: %v", err)
		}
		opts = append(opts, voxcart.WithTranscriber(transcriber))
		log.Infof("🗣️  Speech-to-text: %s", url)
	}

	service, err := voxcart.NewService(opts...)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(maintainEvery, func() {
		if err := service.Maintain(ctx); err != nil {
			log.Warnf("Maintenance failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Invalid maintenance schedule %q: %v", maintainEvery, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		TempDir:        tempDir,
		SampleRate:     sampleRate,
		Threshold:      threshold,
		LoginRate:      loginRate,
		LogRequests:    logRequests,
		AllowedOrigins: origins,
	}

	server := NewServer(service, config, hub, metrics)
	if err := server.Start(ctx); err != nil {
		log.Errorf("Server failed: %v", err)
		return
	}
	log.Infof("👋 Server stopped")
}
