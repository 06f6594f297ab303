package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds settings specific to the progress service. Shared settings
// live in internal/platform/config.
type Config struct {
	// ViewedThreshold is the viewed percentage at which a video counts as
	// watched. PROGRESS_VIEWED_THRESHOLD, default 90.
	ViewedThreshold int
	// StatusCacheTTL bounds how long resolved status terms stay in Redis.
	StatusCacheTTL time.Duration
	// WorkerBatchSize and WorkerBatchInterval tune the playhead consumer.
	WorkerBatchSize     int
	WorkerBatchInterval time.Duration
	// StreamName is the JetStream stream carrying progress.* subjects.
	StreamName string
}

func Load() Config {
	return Config{
		ViewedThreshold:     envInt("PROGRESS_VIEWED_THRESHOLD", 90, 1, 100),
		StatusCacheTTL:      envDuration("STATUS_CACHE_TTL", time.Hour),
		WorkerBatchSize:     envInt("WORKER_BATCH_SIZE", 100, 1, 1000),
		WorkerBatchInterval: time.Duration(envInt("WORKER_BATCH_INTERVAL_MS", 2000, 10, 60000)) * time.Millisecond,
		StreamName:          envString("PROGRESS_STREAM", "PROGRESS"),
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback, lo, hi int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
