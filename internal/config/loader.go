// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. An empty configPath loads
// defaults and environment only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults, then
// validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes the YAML file at path onto cfg. Keys absent from the file
// keep their current value.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return decodeStrict(data, cfg)
}

func decodeStrict(data []byte, cfg *AppConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrMultipleDocuments
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = l.envString("TVD_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString("TVD_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("TVD_LOG_SERVICE", cfg.LogService)

	cfg.API.ListenAddr = l.envString("TVD_LISTEN", cfg.API.ListenAddr)
	cfg.API.MaxConns = l.envInt("TVD_MAX_CONNS", cfg.API.MaxConns)
	cfg.API.RateLimit = l.envInt("TVD_RATE_LIMIT", cfg.API.RateLimit)

	cfg.Storage.Backend = l.envString("TVD_STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Path = l.envString("TVD_STORAGE_PATH", cfg.Storage.Path)

	cfg.Cache.RedisAddr = l.envString("TVD_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.TTL = l.envDuration("TVD_CACHE_TTL", cfg.Cache.TTL)

	cfg.Tuning.LockTimeout = l.envDuration("TVD_LOCK_TIMEOUT", cfg.Tuning.LockTimeout)
	cfg.Tuning.SectionTimeout = l.envDuration("TVD_SECTION_TIMEOUT", cfg.Tuning.SectionTimeout)
	cfg.Tuning.PollInterval = l.envDuration("TVD_POLL_INTERVAL", cfg.Tuning.PollInterval)

	cfg.Scan.AutoChannels = l.envBool("TVD_AUTO_CHANNELS", cfg.Scan.AutoChannels)
	cfg.IdleScan.Enabled = l.envBool("TVD_IDLE_SCAN", cfg.IdleScan.Enabled)
	cfg.IdleScan.Interval = l.envDuration("TVD_IDLE_SCAN_INTERVAL", cfg.IdleScan.Interval)
	cfg.EPG.Enabled = l.envBool("TVD_EPG", cfg.EPG.Enabled)
	cfg.EPG.Window = l.envDuration("TVD_EPG_WINDOW", cfg.EPG.Window)
	cfg.EPG.Interval = l.envDuration("TVD_EPG_INTERVAL", cfg.EPG.Interval)

	cfg.Recorder.Dir = l.envString("TVD_RECORDINGS_DIR", cfg.Recorder.Dir)
	cfg.Recorder.DefaultWindow = l.envDuration("TVD_RECORDING_WINDOW", cfg.Recorder.DefaultWindow)

	cfg.Playback.Window = l.envInt("TVD_PLAYBACK_WINDOW", cfg.Playback.Window)
	cfg.Playback.ChunkPackets = l.envInt("TVD_PLAYBACK_CHUNK_PACKETS", cfg.Playback.ChunkPackets)
	cfg.Stream.RateLimitBPS = l.envInt("TVD_STREAM_RATE_LIMIT", cfg.Stream.RateLimitBPS)
	cfg.Export.Enabled = l.envBool("TVD_EXPORT", cfg.Export.Enabled)
	cfg.Export.BaseURL = l.envString("TVD_EXPORT_BASE_URL", cfg.Export.BaseURL)

	cfg.Telemetry.Enabled = l.envBool("TVD_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("TVD_OTLP_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("TVD_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("TVD_TRACE_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}

// UnknownEnvKeys returns the TVD_ variables in environ that Load did not
// consume, sorted. Typos in variable names surface here.
func (l *Loader) UnknownEnvKeys(environ []string) []string {
	var out []string
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
