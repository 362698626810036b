// Package config loads the settings cmd/quill needs to open a database:
// where its files live, how big its buffer pools are, and how its WAL and
// logger are tuned.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/quilldb/quill/internal/logger"
)

// Config bundles every flag/env-driven setting the engine facade needs to
// open or create a database directory.
type Config struct {
	DataDir string // directory holding every table/index file, the catalog, and the WAL

	PageSize           int // informational only; pkg/page.Size is the compiled-in constant
	BufferPoolSize     int // frames per opened table or index file
	CheckpointInterval time.Duration
	LogLevel           string
	LogPretty          bool
}

// Default returns the settings a fresh `quill` invocation uses when no
// flag or environment variable overrides them.
func Default() Config {
	return Config{
		DataDir:            "./quilldata",
		PageSize:           4096,
		BufferPoolSize:     128,
		CheckpointInterval: 10 * time.Minute,
		LogLevel:           "info",
		LogPretty:          true,
	}
}

// RegisterFlags binds cfg's fields to fs, seeded from environment variables
// first so a flag, if given, always wins (QUILL_DATA_DIR, QUILL_BUFFER_POOL_SIZE,
// QUILL_CHECKPOINT_INTERVAL, QUILL_LOG_LEVEL, QUILL_LOG_PRETTY).
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DataDir, "data-dir", envOr("QUILL_DATA_DIR", c.DataDir), "directory holding the database's files")
	fs.IntVar(&c.BufferPoolSize, "buffer-pool-size", envInt("QUILL_BUFFER_POOL_SIZE", c.BufferPoolSize), "frames per opened table/index buffer pool")
	fs.DurationVar(&c.CheckpointInterval, "checkpoint-interval", envDuration("QUILL_CHECKPOINT_INTERVAL", c.CheckpointInterval), "how often the WAL checkpointer runs")
	fs.StringVar(&c.LogLevel, "log-level", envOr("QUILL_LOG_LEVEL", c.LogLevel), "debug, info, warn, or error")
	fs.BoolVar(&c.LogPretty, "log-pretty", envBool("QUILL_LOG_PRETTY", c.LogPretty), "console-format logs instead of JSON")
}

// Logger builds the logger.Config this Config describes.
func (c Config) Logger() logger.Config {
	return logger.Config{Level: c.LogLevel, Pretty: c.LogPretty}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
