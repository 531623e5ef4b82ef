package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Redis   RedisConfig
	Models  ModelsConfig
	Graph   GraphConfig
	Chunk   ChunkConfig
	Pool    PoolConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type RedisConfig struct {
	URL string
}

// ModelsConfig points at an OpenAI-compatible endpoint serving both the
// chat model (summarization) and the embedding model.
type ModelsConfig struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
}

type GraphConfig struct {
	BaseURL string
	APIKey  string
}

type ChunkConfig struct {
	MaxChunkSize int
	ChunkSize    int
	ChunkOverlap int
}

type PoolConfig struct {
	MaxIdle       time.Duration
	SweepInterval time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Models: ModelsConfig{
			BaseURL:    "http://localhost:11434/v1",
			ChatModel:  "qwen2.5",
			EmbedModel: "nomic-embed-text",
		},
		Graph: GraphConfig{
			BaseURL: "http://localhost:9621",
		},
		Chunk: ChunkConfig{
			MaxChunkSize: 4000,
			ChunkSize:    500,
			ChunkOverlap: 50,
		},
		Pool: PoolConfig{
			MaxIdle:       time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".knowbase"
	}
	return filepath.Join(home, ".knowbase")
}

// Load builds the configuration from defaults overridden by KNOWBASE_*
// environment variables. The API token is required: without it every
// management endpoint would be open.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API token. Set it via environment variable KNOWBASE_API_TOKEN")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envString("KNOWBASE_API_TOKEN", &cfg.Server.APIToken)
	envInt("KNOWBASE_PORT", &cfg.Server.Port)
	envString("KNOWBASE_DATA_DIR", &cfg.Storage.DataDir)
	envString("KNOWBASE_REDIS_URL", &cfg.Redis.URL)
	envString("KNOWBASE_MODELS_BASE_URL", &cfg.Models.BaseURL)
	envString("KNOWBASE_MODELS_API_KEY", &cfg.Models.APIKey)
	envString("KNOWBASE_CHAT_MODEL", &cfg.Models.ChatModel)
	envString("KNOWBASE_EMBED_MODEL", &cfg.Models.EmbedModel)
	envString("KNOWBASE_GRAPH_BASE_URL", &cfg.Graph.BaseURL)
	envString("KNOWBASE_GRAPH_API_KEY", &cfg.Graph.APIKey)
	envInt("KNOWBASE_MAX_CHUNK_SIZE", &cfg.Chunk.MaxChunkSize)
	envInt("KNOWBASE_CHUNK_SIZE", &cfg.Chunk.ChunkSize)
	envInt("KNOWBASE_CHUNK_OVERLAP", &cfg.Chunk.ChunkOverlap)
	envDuration("KNOWBASE_POOL_MAX_IDLE", &cfg.Pool.MaxIdle)
	envDuration("KNOWBASE_POOL_SWEEP_INTERVAL", &cfg.Pool.SweepInterval)
	envString("KNOWBASE_LOG_LEVEL", &cfg.Log.Level)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
