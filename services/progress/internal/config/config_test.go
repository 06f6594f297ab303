package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PROGRESS_VIEWED_THRESHOLD", "STATUS_CACHE_TTL", "WORKER_BATCH_SIZE", "WORKER_BATCH_INTERVAL_MS", "PROGRESS_STREAM"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.ViewedThreshold != 90 || cfg.StatusCacheTTL != time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.WorkerBatchSize != 100 || cfg.WorkerBatchInterval != 2*time.Second || cfg.StreamName != "PROGRESS" {
		t.Fatalf("unexpected worker defaults: %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PROGRESS_VIEWED_THRESHOLD", "75")
	t.Setenv("STATUS_CACHE_TTL", "5m")
	t.Setenv("WORKER_BATCH_INTERVAL_MS", "500")
	cfg := Load()
	if cfg.ViewedThreshold != 75 || cfg.StatusCacheTTL != 5*time.Minute || cfg.WorkerBatchInterval != 500*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_OutOfRangeFallsBack(t *testing.T) {
	t.Setenv("PROGRESS_VIEWED_THRESHOLD", "150")
	t.Setenv("WORKER_BATCH_SIZE", "-3")
	cfg := Load()
	if cfg.ViewedThreshold != 90 || cfg.WorkerBatchSize != 100 {
		t.Fatalf("expected fallbacks, got %+v", cfg)
	}
}
