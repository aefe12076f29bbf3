// Package config provides the configuration schema and YAML loader for the
// VoxRelay server.
package config

import (
	"time"

	"github.com/voxrelay/voxrelay/internal/cache"
	"github.com/voxrelay/voxrelay/internal/gate"
	"github.com/voxrelay/voxrelay/internal/pipeline"
	"github.com/voxrelay/voxrelay/internal/registry"
	"github.com/voxrelay/voxrelay/pkg/audio"
)

// LogLevel controls log verbosity for the VoxRelay server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// TranslatorName selects the translation backend.
type TranslatorName string

const (
	TranslatorAWS    TranslatorName = "aws"
	TranslatorOpenAI TranslatorName = "openai"
)

// IsValid reports whether t is a recognised translator backend.
func (t TranslatorName) IsValid() bool {
	return t == TranslatorAWS || t == TranslatorOpenAI
}

// Config is the root configuration structure for VoxRelay.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	Stability   StabilityConfig   `yaml:"stability"`
	Buffer      BufferConfig      `yaml:"buffer"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Cache       CacheConfig       `yaml:"cache"`
	AudioBuffer AudioBufferConfig `yaml:"audioBuffer"`
	Session     SessionConfig     `yaml:"session"`
	Translate   TranslateConfig   `yaml:"translate"`
	Synthesize  SynthesizeConfig  `yaml:"synthesize"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Store       StoreConfig       `yaml:"store"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the WebSocket server listens on.
	ListenAddr string `yaml:"listenAddr"`

	// MetricsAddr is the address of the Prometheus /metrics endpoint.
	// Empty disables the endpoint.
	MetricsAddr string `yaml:"metricsAddr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"logLevel"`
}

// RateLimitConfig tunes the gate's sliding-window rate limiter.
type RateLimitConfig struct {
	WindowMs     int `yaml:"windowMs"`
	MaxPerSecond int `yaml:"maxPerSecond"`
}

// StabilityConfig tunes the gate's stability filter.
type StabilityConfig struct {
	Threshold       float64 `yaml:"threshold"`
	BlindTimeoutSec int     `yaml:"blindTimeoutSec"`
}

// BufferConfig tunes the gate's result buffer.
type BufferConfig struct {
	MaxSeconds        int `yaml:"maxSeconds"`
	WordsPerSecond    int `yaml:"wordsPerSecond"`
	ForwardTimeoutSec int `yaml:"forwardTimeoutSec"`
	PauseThresholdSec int `yaml:"pauseThresholdSec"`
	OrphanTimeoutSec  int `yaml:"orphanTimeoutSec"`
}

// DedupConfig tunes the gate's duplicate-utterance suppression.
type DedupConfig struct {
	TTLSec     int `yaml:"ttlSec"`
	MaxEntries int `yaml:"maxEntries"`
}

// CacheConfig tunes the translation cache.
type CacheConfig struct {
	TTLSec     int `yaml:"ttlSec"`
	MaxEntries int `yaml:"maxEntries"`
}

// AudioBufferConfig bounds the per-listener audio ring.
type AudioBufferConfig struct {
	MaxSeconds int `yaml:"maxSeconds"`
}

// SessionConfig tunes session lifecycle and fan-out.
type SessionConfig struct {
	MaxConcurrentBroadcasts int `yaml:"maxConcurrentBroadcasts"`
	TTLSec                  int `yaml:"ttlSec"`
	RefreshAgeMinutes       int `yaml:"refreshAgeMinutes"`
}

// TranslateConfig bounds external translation calls.
type TranslateConfig struct {
	DeadlineMs int `yaml:"deadlineMs"`
}

// SynthesizeConfig bounds external synthesis calls.
type SynthesizeConfig struct {
	DeadlineMs int `yaml:"deadlineMs"`
}

// ProvidersConfig selects and configures the external AI services.
type ProvidersConfig struct {
	// Region is the AWS region for Transcribe, Translate and Polly.
	Region string `yaml:"region"`

	// Translator selects the translation backend. Default: aws.
	Translator TranslatorName `yaml:"translator"`

	// OpenAI configures the chat-completion translator backend.
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig holds settings for the OpenAI translator backend.
type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`
}

// StoreConfig configures optional Postgres persistence. An empty DSN keeps
// all state in process.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgresDsn"`
}

// Default returns a Config populated with every default from the
// configuration table.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			MetricsAddr: ":9090",
			LogLevel:    LogInfo,
		},
		RateLimit:   RateLimitConfig{WindowMs: 200, MaxPerSecond: 5},
		Stability:   StabilityConfig{Threshold: 0.7, BlindTimeoutSec: 3},
		Buffer:      BufferConfig{MaxSeconds: 10, WordsPerSecond: 30, ForwardTimeoutSec: 5, PauseThresholdSec: 2, OrphanTimeoutSec: 15},
		Dedup:       DedupConfig{TTLSec: 10, MaxEntries: 10000},
		Cache:       CacheConfig{TTLSec: 3600, MaxEntries: 10000},
		AudioBuffer: AudioBufferConfig{MaxSeconds: 10},
		Session:     SessionConfig{MaxConcurrentBroadcasts: 100, TTLSec: 14400, RefreshAgeMinutes: 100},
		Translate:   TranslateConfig{DeadlineMs: 2000},
		Synthesize:  SynthesizeConfig{DeadlineMs: 5000},
		Providers:   ProvidersConfig{Translator: TranslatorAWS},
	}
}

// applyDefaults fills zero-valued fields from [Default]. Explicit values are
// never overridden.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = d.Server.ListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = d.Server.LogLevel
	}
	if c.RateLimit.WindowMs <= 0 {
		c.RateLimit.WindowMs = d.RateLimit.WindowMs
	}
	if c.RateLimit.MaxPerSecond <= 0 {
		c.RateLimit.MaxPerSecond = d.RateLimit.MaxPerSecond
	}
	if c.Stability.Threshold <= 0 {
		c.Stability.Threshold = d.Stability.Threshold
	}
	if c.Stability.BlindTimeoutSec <= 0 {
		c.Stability.BlindTimeoutSec = d.Stability.BlindTimeoutSec
	}
	if c.Buffer.MaxSeconds <= 0 {
		c.Buffer.MaxSeconds = d.Buffer.MaxSeconds
	}
	if c.Buffer.WordsPerSecond <= 0 {
		c.Buffer.WordsPerSecond = d.Buffer.WordsPerSecond
	}
	if c.Buffer.ForwardTimeoutSec <= 0 {
		c.Buffer.ForwardTimeoutSec = d.Buffer.ForwardTimeoutSec
	}
	if c.Buffer.PauseThresholdSec <= 0 {
		c.Buffer.PauseThresholdSec = d.Buffer.PauseThresholdSec
	}
	if c.Buffer.OrphanTimeoutSec <= 0 {
		c.Buffer.OrphanTimeoutSec = d.Buffer.OrphanTimeoutSec
	}
	if c.Dedup.TTLSec <= 0 {
		c.Dedup.TTLSec = d.Dedup.TTLSec
	}
	if c.Dedup.MaxEntries <= 0 {
		c.Dedup.MaxEntries = d.Dedup.MaxEntries
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = d.Cache.TTLSec
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = d.Cache.MaxEntries
	}
	if c.AudioBuffer.MaxSeconds <= 0 {
		c.AudioBuffer.MaxSeconds = d.AudioBuffer.MaxSeconds
	}
	if c.Session.MaxConcurrentBroadcasts <= 0 {
		c.Session.MaxConcurrentBroadcasts = d.Session.MaxConcurrentBroadcasts
	}
	if c.Session.TTLSec <= 0 {
		c.Session.TTLSec = d.Session.TTLSec
	}
	if c.Session.RefreshAgeMinutes <= 0 {
		c.Session.RefreshAgeMinutes = d.Session.RefreshAgeMinutes
	}
	if c.Translate.DeadlineMs <= 0 {
		c.Translate.DeadlineMs = d.Translate.DeadlineMs
	}
	if c.Synthesize.DeadlineMs <= 0 {
		c.Synthesize.DeadlineMs = d.Synthesize.DeadlineMs
	}
	if c.Providers.Translator == "" {
		c.Providers.Translator = d.Providers.Translator
	}
}

// ─── Component config projections ────────────────────────────────────────────

// GateConfig projects the gate's knobs.
func (c *Config) GateConfig() gate.Config {
	return gate.Config{
		Window:             time.Duration(c.RateLimit.WindowMs) * time.Millisecond,
		MaxPerSecond:       c.RateLimit.MaxPerSecond,
		StabilityThreshold: c.Stability.Threshold,
		BlindTimeout:       time.Duration(c.Stability.BlindTimeoutSec) * time.Second,
		MaxBufferedWords:   c.Buffer.WordsPerSecond * c.Buffer.MaxSeconds,
		ForwardTimeout:     time.Duration(c.Buffer.ForwardTimeoutSec) * time.Second,
		PauseThreshold:     time.Duration(c.Buffer.PauseThresholdSec) * time.Second,
		OrphanTimeout:      time.Duration(c.Buffer.OrphanTimeoutSec) * time.Second,
		DedupTTL:           time.Duration(c.Dedup.TTLSec) * time.Second,
		DedupMaxEntries:    c.Dedup.MaxEntries,
	}
}

// CacheSettings projects the translation cache's knobs.
func (c *Config) CacheSettings() cache.Config {
	return cache.Config{
		MaxEntries: c.Cache.MaxEntries,
		TTL:        time.Duration(c.Cache.TTLSec) * time.Second,
	}
}

// PipelineConfig projects the fan-out pipeline's knobs.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		TranslateDeadline:       time.Duration(c.Translate.DeadlineMs) * time.Millisecond,
		SynthesizeDeadline:      time.Duration(c.Synthesize.DeadlineMs) * time.Millisecond,
		MaxConcurrentBroadcasts: int64(c.Session.MaxConcurrentBroadcasts),
	}
}

// RegistryConfig projects the session registry's knobs.
func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		SessionTTL:          time.Duration(c.Session.TTLSec) * time.Second,
		ListenerBufferBytes: c.AudioBuffer.MaxSeconds * audio.BytesPerSecond,
		RefreshAge:          time.Duration(c.Session.RefreshAgeMinutes) * time.Minute,
	}
}
