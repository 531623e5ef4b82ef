package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("KNOWBASE_API_TOKEN", "test-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis.URL = %q, want default", cfg.Redis.URL)
	}
	if cfg.Chunk.MaxChunkSize != 4000 {
		t.Errorf("Chunk.MaxChunkSize = %d, want 4000", cfg.Chunk.MaxChunkSize)
	}
	if cfg.Chunk.ChunkSize != 500 || cfg.Chunk.ChunkOverlap != 50 {
		t.Errorf("Chunk size/overlap = %d/%d, want 500/50", cfg.Chunk.ChunkSize, cfg.Chunk.ChunkOverlap)
	}
	if cfg.Pool.MaxIdle != time.Hour {
		t.Errorf("Pool.MaxIdle = %v, want 1h", cfg.Pool.MaxIdle)
	}
	if cfg.Pool.SweepInterval != 10*time.Minute {
		t.Errorf("Pool.SweepInterval = %v, want 10m", cfg.Pool.SweepInterval)
	}
}

func TestMissingAPIToken(t *testing.T) {
	t.Setenv("KNOWBASE_API_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing API token, got nil")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KNOWBASE_API_TOKEN", "tok")
	t.Setenv("KNOWBASE_PORT", "5123")
	t.Setenv("KNOWBASE_MAX_CHUNK_SIZE", "2000")
	t.Setenv("KNOWBASE_POOL_MAX_IDLE", "30m")
	t.Setenv("KNOWBASE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5123 {
		t.Errorf("Server.Port = %d, want 5123", cfg.Server.Port)
	}
	if cfg.Chunk.MaxChunkSize != 2000 {
		t.Errorf("Chunk.MaxChunkSize = %d, want 2000", cfg.Chunk.MaxChunkSize)
	}
	if cfg.Pool.MaxIdle != 30*time.Minute {
		t.Errorf("Pool.MaxIdle = %v, want 30m", cfg.Pool.MaxIdle)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("KNOWBASE_API_TOKEN", "tok")
	t.Setenv("KNOWBASE_PORT", "not-a-number")
	t.Setenv("KNOWBASE_POOL_MAX_IDLE", "forever")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want default 4000", cfg.Server.Port)
	}
	if cfg.Pool.MaxIdle != time.Hour {
		t.Errorf("Pool.MaxIdle = %v, want default 1h", cfg.Pool.MaxIdle)
	}
}
