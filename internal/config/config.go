// Package config loads the kernel's YAML configuration, following the
// nested-struct-plus-DefaultConfig shape used throughout the reference
// tooling this kernel is patterned on.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ScopeConfig locates the project and user roots for the three-tier
// namespace (project, user, remote registry).
type ScopeConfig struct {
	ProjectRoot string `yaml:"project_root"`
	UserRoot    string `yaml:"user_root"` // defaults to $USER_SPACE or ~/.ai
}

// EmbeddingConfig configures the embedding gateway (C15's external
// collaborator). Absence of URL/Model disables the vector tier rather
// than failing the kernel, per spec §6.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "ollama" | "genai" | ""
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"` // parsed via time.ParseDuration
}

func (c EmbeddingConfig) TimeoutDuration() time.Duration {
	if c.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// SearchConfig holds the hybrid re-ranking weights and BM25 tuning.
type SearchConfig struct {
	BM25K1       float64 `yaml:"bm25_k1"`
	BM25B        float64 `yaml:"bm25_b"`
	HybridWSem   float64 `yaml:"hybrid_w_sem"`
	HybridWKw    float64 `yaml:"hybrid_w_kw"`
	HybridWRec   float64 `yaml:"hybrid_w_rec"`
	MinScore     float64 `yaml:"min_score"`
	DefaultLimit int     `yaml:"default_limit"`
}

// ProxyConfig tunes the tool proxy and loop detector.
type ProxyConfig struct {
	LoopWindowSize      int    `yaml:"loop_window_size"`      // default 20
	ExactRepeatThreshold int   `yaml:"exact_repeat_threshold"` // default 3
	SubprocessTimeout   string `yaml:"subprocess_timeout"`      // default 60s
	HTTPTimeout         string `yaml:"http_timeout"`            // default 30s
}

func (c ProxyConfig) SubprocessTimeoutDuration() time.Duration {
	return parseDurationOr(c.SubprocessTimeout, 60*time.Second)
}

func (c ProxyConfig) HTTPTimeoutDuration() time.Duration {
	return parseDurationOr(c.HTTPTimeout, 30*time.Second)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// LockfileConfig controls lockfile pruning policy.
type LockfileConfig struct {
	MaxAgeDays int `yaml:"max_age_days"` // default 90
}

// LoggingConfig controls the ambient zap-backed logger.
type LoggingConfig struct {
	DebugMode bool `yaml:"debug_mode"`
}

// Config is the root kernel configuration document.
type Config struct {
	Scope     ScopeConfig     `yaml:"scope"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Lockfile  LockfileConfig  `yaml:"lockfile"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultConfig returns a Config with every field at its spec-mandated
// default, matching the reference tooling's DefaultConfig() pattern.
func DefaultConfig() *Config {
	userRoot := os.Getenv("USER_SPACE")
	if userRoot == "" {
		if home, err := os.UserHomeDir(); err == nil {
			userRoot = filepath.Join(home, ".ai")
		}
	}
	return &Config{
		Scope: ScopeConfig{
			UserRoot: userRoot,
		},
		Embedding: EmbeddingConfig{
			URL:     os.Getenv("EMBEDDING_URL"),
			APIKey:  os.Getenv("EMBEDDING_API_KEY"),
			Model:   os.Getenv("EMBEDDING_MODEL"),
			Timeout: "30s",
		},
		Search: SearchConfig{
			BM25K1:       1.5,
			BM25B:        0.75,
			HybridWSem:   0.7,
			HybridWKw:    0.2,
			HybridWRec:   0.1,
			MinScore:     0.0,
			DefaultLimit: 10,
		},
		Proxy: ProxyConfig{
			LoopWindowSize:       20,
			ExactRepeatThreshold: 3,
			SubprocessTimeout:    "60s",
			HTTPTimeout:          "30s",
		},
		Lockfile: LockfileConfig{MaxAgeDays: 90},
	}
}

// Load reads and parses a YAML config file, filling unset fields from
// DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
