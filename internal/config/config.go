// Package config loads RXinDexer's configuration from environment variables
// (with .env file support) and an optional YAML override file, following the
// same load order the teacher's cmd/server/main.go uses: godotenv.Load()
// first, then os.Getenv-backed typed getters with defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every knob enumerated in spec.md §6.
type Config struct {
	// Node transport (C1)
	RPCURL         string        `yaml:"rpc_url"`
	RPCUser        string        `yaml:"rpc_user"`
	RPCPassword    string        `yaml:"rpc_password"`
	RPCTimeout     time.Duration `yaml:"rpc_timeout_secs"`
	RPCPoolSize    int           `yaml:"rpc_pool_size"`
	RPCRateLimit   float64       `yaml:"rpc_rate_limit_rps"`
	RPCMinInterval time.Duration `yaml:"rpc_min_request_interval_ms"`

	// Circuit breaker (C1)
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitResetTimeout     time.Duration `yaml:"circuit_reset_timeout_secs"`
	CircuitHalfOpenTimeout  time.Duration `yaml:"circuit_half_open_timeout_secs"`

	// Sync Coordinator (C5)
	SyncBatchSize          int           `yaml:"sync_batch_size"`
	SyncWorkers            int           `yaml:"sync_workers"`
	BlockParallelThreshold int           `yaml:"block_parallel_threshold"`
	CheckpointInterval     uint64        `yaml:"checkpoint_interval"`
	ReorgLimit             uint64        `yaml:"reorg_limit"`
	PollInterval           time.Duration `yaml:"poll_interval_ms"`

	// Balance Projection (C7)
	RefreshMinInterval time.Duration `yaml:"refresh_min_interval_secs"`

	// Sync mode flags
	ProgressiveSync     bool `yaml:"progressive_sync"`
	InitialSyncMinimal  bool `yaml:"initial_sync_minimal"`

	// Storage
	DatabasePath string `yaml:"database_path"`
	CacheDir     string `yaml:"cache_dir"`

	// HTTP adapter
	APIAddr string `yaml:"api_addr"`
}

// Default returns the configuration baseline before env/file overrides.
func Default() Config {
	return Config{
		RPCURL:                  "http://127.0.0.1:7332",
		RPCTimeout:              30 * time.Second,
		RPCPoolSize:             8,
		RPCRateLimit:            50,
		RPCMinInterval:          0,
		CircuitFailureThreshold: 5,
		CircuitResetTimeout:     30 * time.Second,
		CircuitHalfOpenTimeout:  5 * time.Second,
		SyncBatchSize:           64,
		SyncWorkers:             8,
		BlockParallelThreshold:  4,
		CheckpointInterval:      100,
		ReorgLimit:              6,
		PollInterval:            2 * time.Second,
		RefreshMinInterval:      10 * time.Second,
		ProgressiveSync:         true,
		InitialSyncMinimal:      false,
		DatabasePath:            "./data/rxindexer.db",
		CacheDir:                "./data/rpc_cache",
		APIAddr:                 ":8080",
	}
}

// Load builds a Config starting from Default(), applying an optional YAML
// file (path from RXI_CONFIG_FILE, if set) and then environment variables,
// mirroring the teacher's precedence of explicit flags over env over
// defaults. godotenv.Load() is invoked so a .env file in the working
// directory populates os.Getenv transparently, exactly as the teacher does
// in cmd/server/main.go.
func Load() (Config, error) {
	godotenv.Load()

	cfg := Default()

	if path := os.Getenv("RXI_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.RPCURL = getString("RXI_RPC_URL", cfg.RPCURL)
	cfg.RPCUser = getString("RXI_RPC_USER", cfg.RPCUser)
	cfg.RPCPassword = getString("RXI_RPC_PASSWORD", cfg.RPCPassword)
	cfg.RPCTimeout = getSeconds("RXI_RPC_TIMEOUT_SECS", cfg.RPCTimeout)
	cfg.RPCPoolSize = getInt("RXI_RPC_POOL_SIZE", cfg.RPCPoolSize)
	cfg.RPCRateLimit = getFloat("RXI_RPC_RATE_LIMIT_RPS", cfg.RPCRateLimit)
	cfg.RPCMinInterval = getMillis("RXI_RPC_MIN_REQUEST_INTERVAL_MS", cfg.RPCMinInterval)

	cfg.CircuitFailureThreshold = getInt("RXI_CIRCUIT_FAILURE_THRESHOLD", cfg.CircuitFailureThreshold)
	cfg.CircuitResetTimeout = getSeconds("RXI_CIRCUIT_RESET_TIMEOUT_SECS", cfg.CircuitResetTimeout)
	cfg.CircuitHalfOpenTimeout = getSeconds("RXI_CIRCUIT_HALF_OPEN_TIMEOUT_SECS", cfg.CircuitHalfOpenTimeout)

	cfg.SyncBatchSize = getInt("RXI_SYNC_BATCH_SIZE", cfg.SyncBatchSize)
	cfg.SyncWorkers = getInt("RXI_SYNC_WORKERS", cfg.SyncWorkers)
	cfg.BlockParallelThreshold = getInt("RXI_BLOCK_PARALLEL_THRESHOLD", cfg.BlockParallelThreshold)
	cfg.CheckpointInterval = uint64(getInt("RXI_CHECKPOINT_INTERVAL", int(cfg.CheckpointInterval)))
	cfg.ReorgLimit = uint64(getInt("RXI_REORG_LIMIT", int(cfg.ReorgLimit)))
	cfg.PollInterval = getMillis("RXI_POLL_INTERVAL_MS", cfg.PollInterval)

	cfg.RefreshMinInterval = getSeconds("RXI_REFRESH_MIN_INTERVAL_SECS", cfg.RefreshMinInterval)

	cfg.ProgressiveSync = getBool("RXI_PROGRESSIVE_SYNC", cfg.ProgressiveSync)
	cfg.InitialSyncMinimal = getBool("RXI_INITIAL_SYNC_MINIMAL", cfg.InitialSyncMinimal)

	cfg.DatabasePath = getString("RXI_DATABASE_PATH", cfg.DatabasePath)
	cfg.CacheDir = getString("RXI_CACHE_DIR", cfg.CacheDir)
	cfg.APIAddr = getString("RXI_API_ADDR", cfg.APIAddr)

	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func getMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
