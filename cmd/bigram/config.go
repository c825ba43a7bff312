package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/CTAG07/Bigram/pkg/markov"
	"github.com/CTAG07/Bigram/pkg/textprep"
	"github.com/natefinch/atomic"
)

// ServerConfig holds the configuration for the HTTP API server.
type ServerConfig struct {
	ApiAddr      string `json:"api_addr" toml:"api_addr"`
	LogLevel     string `json:"log_level" toml:"log_level"`
	LogFormat    string `json:"log_format" toml:"log_format"`
	DataDir      string `json:"data_dir" toml:"data_dir"`
	DatabasePath string `json:"database_path" toml:"database_path"`
	MaxBodyBytes int64  `json:"max_body_bytes" toml:"max_body_bytes"`
}

// TrainingConfig holds settings for chunked training.
type TrainingConfig struct {
	ChunkSize       int    `json:"chunk_size" toml:"chunk_size"`
	ChunkIntervalMs int    `json:"chunk_interval_ms" toml:"chunk_interval_ms"`
	StripHTML       bool   `json:"strip_html" toml:"strip_html"`
	TagPattern      string `json:"tag_pattern" toml:"tag_pattern"` // empty keeps the HTML tag pattern
}

// NewCleaner builds the Cleaner applied to training text.
func (c *TrainingConfig) NewCleaner() (*textprep.Cleaner, error) {
	opts := []textprep.Option{textprep.WithHTMLStripping(c.StripHTML)}
	if c.TagPattern != "" {
		re, err := regexp.Compile(c.TagPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid training tag_pattern %q: %w", c.TagPattern, err)
		}
		opts = append(opts, textprep.WithTagRegex(re))
	}
	return textprep.NewCleaner(opts...), nil
}

// GenerationConfig holds settings for generation requests.
type GenerationConfig struct {
	DefaultLength   int `json:"default_length" toml:"default_length"`
	MaxLength       int `json:"max_length" toml:"max_length"`
	WordsPerChunk   int `json:"words_per_chunk" toml:"words_per_chunk"`
	ChunkIntervalMs int `json:"chunk_interval_ms" toml:"chunk_interval_ms"`
}

// SeedConfig holds settings for seed suggestion. An empty StopWordsPath uses
// the built-in English list.
type SeedConfig struct {
	StopWordsPath string `json:"stop_words_path" toml:"stop_words_path"`
	ExactMatch    bool   `json:"exact_match" toml:"exact_match"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server     *ServerConfig     `json:"server_config" toml:"server_config"`
	Training   *TrainingConfig   `json:"training_config" toml:"training_config"`
	Generation *GenerationConfig `json:"generation_config" toml:"generation_config"`
	Seed       *SeedConfig       `json:"seed_config" toml:"seed_config"`
}

// DefaultConfig creates a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			ApiAddr:      ":7280",
			LogLevel:     "info",
			LogFormat:    "text",
			DataDir:      "./data",
			DatabasePath: "./data/bigram.db",
			MaxBodyBytes: 32 << 20,
		},
		Training: &TrainingConfig{
			ChunkSize:       markov.DefaultTrainChunkSize,
			ChunkIntervalMs: 100,
			StripHTML:       true,
		},
		Generation: &GenerationConfig{
			DefaultLength:   100,
			MaxLength:       10000,
			WordsPerChunk:   markov.DefaultWordsPerChunk,
			ChunkIntervalMs: 200,
		},
		Seed: &SeedConfig{},
	}
}

// ChunkInterval is the pause between training chunks.
func (c *TrainingConfig) ChunkInterval() time.Duration {
	return time.Duration(c.ChunkIntervalMs) * time.Millisecond
}

// ChunkInterval is the pause between streamed generation chunks.
func (c *GenerationConfig) ChunkInterval() time.Duration {
	return time.Duration(c.ChunkIntervalMs) * time.Millisecond
}

// ClampLength applies the default and maximum generation length.
func (c *GenerationConfig) ClampLength(length int) int {
	if length <= 0 {
		length = c.DefaultLength
	}
	if c.MaxLength > 0 && length > c.MaxLength {
		length = c.MaxLength
	}
	return length
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig reads the configuration from the file at the given path. Files
// ending in .toml are parsed as TOML, everything else as JSON. If the file
// doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err = SaveConfig(path, config); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isTOML(path) {
		if _, err = toml.Decode(string(file), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err = json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Sections missing from the file fall back to their defaults.
	defaults := DefaultConfig()
	if config.Server == nil {
		config.Server = defaults.Server
	}
	if config.Training == nil {
		config.Training = defaults.Training
	}
	if config.Generation == nil {
		config.Generation = defaults.Generation
	}
	if config.Seed == nil {
		config.Seed = defaults.Seed
	}
	return config, nil
}

// SaveConfig atomically writes config to path in the format its extension selects.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if isTOML(path) {
		if err := toml.NewEncoder(&buf).Encode(config); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	} else {
		data, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		buf.Write(data)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// newLogger builds the application logger from the server config.
func newLogger(config *ServerConfig, w io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.EqualFold(config.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
