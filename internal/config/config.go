// SPDX-License-Identifier: MIT

// Package config provides configuration management for the streaming daemon.
// A YAML file supplies the durable settings; TSNOTFYI_* environment variables
// override individual fields; defaults fill the rest. The resolved AppConfig
// is immutable and handed to components by value or through a Holder.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the YAML configuration structure. Optional scalar
// fields use pointers to distinguish "not set" from explicit zero values.
type FileConfig struct {
	Listen    string `yaml:"listen,omitempty"`
	DataDir   string `yaml:"dataDir,omitempty"`
	PIDFile   string `yaml:"pidFile,omitempty"`
	LogLevel  string `yaml:"logLevel,omitempty"`
	LogFormat string `yaml:"logFormat,omitempty"` // "json" (default) or "console"

	Catalog   CatalogConfig   `yaml:"catalog,omitempty"`
	Mixer     MixerConfig     `yaml:"mixer,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Explorer  ExplorerConfig  `yaml:"explorer,omitempty"`
	Latent    LatentConfig    `yaml:"latent,omitempty"`
	Cache     CacheConfig     `yaml:"cache,omitempty"`
	API       APIConfig       `yaml:"api,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// CatalogConfig locates the track catalog and the mutable state database.
type CatalogConfig struct {
	DBPath      string `yaml:"dbPath,omitempty"`    // default {dataDir}/catalog.db
	StatePath   string `yaml:"statePath,omitempty"` // default {dataDir}/state.db
	MusicRoot   string `yaml:"musicRoot,omitempty"`
	WatchReload *bool  `yaml:"watchReload,omitempty"` // rebuild the index when the catalog file changes
}

// MixerConfig holds the PCM pipeline settings.
type MixerConfig struct {
	SampleRate        int    `yaml:"sampleRate,omitempty"` // default 44100
	Channels          int    `yaml:"channels,omitempty"`   // default 2
	FrameMs           int    `yaml:"frameMs,omitempty"`    // default 20
	CrossfadeLead     string `yaml:"crossfadeLead,omitempty"`
	ClientQueueFrames *int   `yaml:"clientQueueFrames,omitempty"`
	FFmpegPath        string `yaml:"ffmpegPath,omitempty"`
}

// SessionConfig holds per-session lifecycle knobs.
type SessionConfig struct {
	HeartbeatInterval string `yaml:"heartbeatInterval,omitempty"`
	IdleTTL           string `yaml:"idleTTL,omitempty"`
	SweepInterval     string `yaml:"sweepInterval,omitempty"`
	HistorySize       *int   `yaml:"historySize,omitempty"`
	FingerprintTTL    string `yaml:"fingerprintTTL,omitempty"`
	FingerprintDir    string `yaml:"fingerprintDir,omitempty"`
	PoolSize          *int   `yaml:"poolSize,omitempty"`
	PrepareTimeout    string `yaml:"prepareTimeout,omitempty"`
	PrepareRetries    *int   `yaml:"prepareRetries,omitempty"`
	EventQueueLen     *int   `yaml:"eventQueueLen,omitempty"`
	EphemeralGrace    string `yaml:"ephemeralGrace,omitempty"`
}

// ExplorerConfig holds neighborhood query settings.
type ExplorerConfig struct {
	SampleCount *int   `yaml:"sampleCount,omitempty"`
	Resolution  string `yaml:"resolution,omitempty"`
	CacheTTL    string `yaml:"cacheTTL,omitempty"`
}

// LatentConfig configures the external encoder/decoder child process.
type LatentConfig struct {
	Command     []string `yaml:"command,omitempty"` // argv; empty disables the backend
	Timeout     string   `yaml:"timeout,omitempty"`
	MaxRestarts *int     `yaml:"maxRestarts,omitempty"`
	RateLimit   *int     `yaml:"rateLimit,omitempty"` // requests/sec to the child
	RateBurst   *int     `yaml:"rateBurst,omitempty"`
}

// CacheConfig selects the snapshot cache backend.
type CacheConfig struct {
	Backend string      `yaml:"backend,omitempty"` // "memory" (default) or "redis"
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	InternalToken   string          `yaml:"internalToken,omitempty"`
	MaxBodyBytes    *int64          `yaml:"maxBodyBytes,omitempty"`
	MaxAudioClients *int            `yaml:"maxAudioClients,omitempty"`
	TrustedProxies  []string        `yaml:"trustedProxies,omitempty"`
	RateLimit       RateLimitConfig `yaml:"rateLimit,omitempty"`
}

// RateLimitConfig holds rate limiting settings for mutating endpoints.
type RateLimitConfig struct {
	Enabled   *bool `yaml:"enabled,omitempty"`
	PerMinute *int  `yaml:"perMinute,omitempty"`
	Burst     *int  `yaml:"burst,omitempty"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// TelemetryConfig holds OpenTelemetry tracing configuration.
type TelemetryConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"` // "noop", "grpc", "http"
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
}

// AppConfig is the resolved, effective configuration. All durations are
// parsed, all defaults applied, all pointers collapsed.
type AppConfig struct {
	Listen    string
	DataDir   string
	PIDFile   string
	LogLevel  string
	LogFormat string

	Catalog   CatalogSettings
	Mixer     MixerSettings
	Session   SessionSettings
	Explorer  ExplorerSettings
	Latent    LatentSettings
	Cache     CacheSettings
	API       APISettings
	Metrics   MetricsSettings
	Telemetry TelemetrySettings
}

type CatalogSettings struct {
	DBPath      string
	StatePath   string
	MusicRoot   string
	WatchReload bool
}

type MixerSettings struct {
	SampleRate        int
	Channels          int
	FrameDuration     time.Duration
	CrossfadeLead     time.Duration
	ClientQueueFrames int
	FFmpegPath        string
}

type SessionSettings struct {
	HeartbeatInterval time.Duration
	IdleTTL           time.Duration
	SweepInterval     time.Duration
	HistorySize       int
	FingerprintTTL    time.Duration
	FingerprintDir    string
	PoolSize          int
	PrepareTimeout    time.Duration
	PrepareRetries    int
	EventQueueLen     int
	EphemeralGrace    time.Duration
}

type ExplorerSettings struct {
	SampleCount int
	Resolution  string
	CacheTTL    time.Duration
}

type LatentSettings struct {
	Command     []string
	Timeout     time.Duration
	MaxRestarts int
	RateLimit   int
	RateBurst   int
}

type CacheSettings struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type APISettings struct {
	InternalToken    string
	MaxBodyBytes     int64
	MaxAudioClients  int
	TrustedProxies   string
	RateLimitEnabled bool
	RatePerMinute    int
	RateBurst        int
}

type MetricsSettings struct {
	Enabled bool
}

type TelemetrySettings struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	SamplingRate float64
}

// Load reads the optional YAML file at path, applies environment overrides
// and defaults, and validates the result. An empty path skips the file.
func Load(path string) (AppConfig, error) {
	var fc FileConfig
	if path != "" {
		raw, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(strings.NewReader(string(raw)))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil {
			return AppConfig{}, fmt.Errorf("parse config: %w", err)
		}
	}
	app := Resolve(fc)
	if err := app.Validate(); err != nil {
		return AppConfig{}, err
	}
	return app, nil
}

// Resolve collapses a FileConfig into an effective AppConfig: environment
// overrides win over file values, defaults fill the gaps.
func Resolve(fc FileConfig) AppConfig {
	dataDir := ParseString("TSNOTFYI_DATA_DIR", strOr(fc.DataDir, "./data"))

	app := AppConfig{
		Listen:    ParseString("TSNOTFYI_LISTEN", strOr(fc.Listen, ":8620")),
		DataDir:   dataDir,
		PIDFile:   ParseString("TSNOTFYI_PID_FILE", strOr(fc.PIDFile, filepath.Join(dataDir, "tsnotfyi.pid"))),
		LogLevel:  ParseString("TSNOTFYI_LOG_LEVEL", strOr(fc.LogLevel, "info")),
		LogFormat: ParseString("TSNOTFYI_LOG_FORMAT", strOr(fc.LogFormat, "json")),

		Catalog: CatalogSettings{
			DBPath:      ParseString("TSNOTFYI_CATALOG_DB", strOr(fc.Catalog.DBPath, filepath.Join(dataDir, "catalog.db"))),
			StatePath:   ParseString("TSNOTFYI_STATE_DB", strOr(fc.Catalog.StatePath, filepath.Join(dataDir, "state.db"))),
			MusicRoot:   ParseString("TSNOTFYI_MUSIC_ROOT", fc.Catalog.MusicRoot),
			WatchReload: boolOr(fc.Catalog.WatchReload, true),
		},
		Mixer: MixerSettings{
			SampleRate:        intOr(fc.Mixer.SampleRate, 44100),
			Channels:          intOr(fc.Mixer.Channels, 2),
			FrameDuration:     time.Duration(intOr(fc.Mixer.FrameMs, 20)) * time.Millisecond,
			CrossfadeLead:     durOr(fc.Mixer.CrossfadeLead, 4*time.Second),
			ClientQueueFrames: ptrIntOr(fc.Mixer.ClientQueueFrames, 256),
			FFmpegPath:        ParseString("TSNOTFYI_FFMPEG_PATH", strOr(fc.Mixer.FFmpegPath, "ffmpeg")),
		},
		Session: SessionSettings{
			HeartbeatInterval: durOr(fc.Session.HeartbeatInterval, 5*time.Second),
			IdleTTL:           durOr(fc.Session.IdleTTL, time.Hour),
			SweepInterval:     durOr(fc.Session.SweepInterval, time.Minute),
			HistorySize:       ptrIntOr(fc.Session.HistorySize, 20),
			FingerprintTTL:    durOr(fc.Session.FingerprintTTL, 15*time.Minute),
			FingerprintDir:    strOr(fc.Session.FingerprintDir, filepath.Join(dataDir, "fingerprints")),
			PoolSize:          ptrIntOr(fc.Session.PoolSize, 0),
			PrepareTimeout:    durOr(fc.Session.PrepareTimeout, 8*time.Second),
			PrepareRetries:    ptrIntOr(fc.Session.PrepareRetries, 3),
			EventQueueLen:     ptrIntOr(fc.Session.EventQueueLen, 64),
			EphemeralGrace:    durOr(fc.Session.EphemeralGrace, 30*time.Second),
		},
		Explorer: ExplorerSettings{
			SampleCount: ptrIntOr(fc.Explorer.SampleCount, 5),
			Resolution:  strOr(fc.Explorer.Resolution, "adaptive"),
			CacheTTL:    durOr(fc.Explorer.CacheTTL, time.Minute),
		},
		Latent: LatentSettings{
			Command:     latentCommand(fc.Latent.Command),
			Timeout:     durOr(fc.Latent.Timeout, 2*time.Second),
			MaxRestarts: ptrIntOr(fc.Latent.MaxRestarts, 3),
			RateLimit:   ptrIntOr(fc.Latent.RateLimit, 50),
			RateBurst:   ptrIntOr(fc.Latent.RateBurst, 10),
		},
		Cache: CacheSettings{
			Backend:       strOr(fc.Cache.Backend, "memory"),
			RedisAddr:     ParseString("TSNOTFYI_REDIS_ADDR", fc.Cache.Redis.Addr),
			RedisPassword: ParseString("TSNOTFYI_REDIS_PASSWORD", fc.Cache.Redis.Password),
			RedisDB:       fc.Cache.Redis.DB,
		},
		API: APISettings{
			InternalToken:    ParseString("TSNOTFYI_INTERNAL_TOKEN", fc.API.InternalToken),
			MaxBodyBytes:     ptrInt64Or(fc.API.MaxBodyBytes, 1<<16),
			MaxAudioClients:  ptrIntOr(fc.API.MaxAudioClients, 64),
			TrustedProxies:   ParseString("TSNOTFYI_TRUSTED_PROXIES", strings.Join(fc.API.TrustedProxies, ",")),
			RateLimitEnabled: boolOr(fc.API.RateLimit.Enabled, true),
			RatePerMinute:    ptrIntOr(fc.API.RateLimit.PerMinute, 120),
			RateBurst:        ptrIntOr(fc.API.RateLimit.Burst, 30),
		},
		Metrics: MetricsSettings{
			Enabled: boolOr(fc.Metrics.Enabled, true),
		},
		Telemetry: TelemetrySettings{
			Enabled:      boolOr(fc.Telemetry.Enabled, false),
			Exporter:     strOr(fc.Telemetry.Exporter, "noop"),
			Endpoint:     fc.Telemetry.Endpoint,
			SamplingRate: ptrFloatOr(fc.Telemetry.SamplingRate, 1.0),
		},
	}
	return app
}

func latentCommand(file []string) []string {
	if raw := strings.TrimSpace(os.Getenv("TSNOTFYI_LATENT_CMD")); raw != "" {
		return strings.Fields(raw)
	}
	return file
}

func strOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func ptrIntOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func ptrInt64Or(v *int64, def int64) int64 {
	if v == nil {
		return def
	}
	return *v
}

func ptrFloatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func durOr(v string, def time.Duration) time.Duration {
	if strings.TrimSpace(v) == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
