// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"path/filepath"
	"time"

	"github.com/ManuGH/tvd/internal/frontend"
)

// AppConfig is the fully resolved daemon configuration.
type AppConfig struct {
	Version    string `yaml:"-"`
	DataDir    string `yaml:"dataDir"`
	LogLevel   string `yaml:"logLevel"`
	LogService string `yaml:"logService"`

	API       APIConfig       `yaml:"api"`
	Adapters  []AdapterConfig `yaml:"adapters"`
	Sources   []SourceConfig  `yaml:"sources"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Tuning    TuningConfig    `yaml:"tuning"`
	Scan      ScanConfig      `yaml:"scan"`
	IdleScan  IdleScanConfig  `yaml:"idleScan"`
	EPG       EPGConfig       `yaml:"epg"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Stream    StreamConfig    `yaml:"stream"`
	Export    ExportConfig    `yaml:"export"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// MaxConns caps concurrent connections; 0 disables the cap.
	MaxConns int `yaml:"maxConns"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// AdapterConfig describes one frontend device. Adapters are static: hot
// plugging is not supported.
type AdapterConfig struct {
	Adapter        int           `yaml:"adapter"`
	Frontend       int           `yaml:"frontend"`
	DeliverySystem string        `yaml:"deliverySystem"`
	LNB            *frontend.LNB `yaml:"lnb,omitempty"`
	Ports          []PortConfig  `yaml:"ports"`
}

// PortConfig wires a frontend input to a named source.
type PortConfig struct {
	Ordinal int    `yaml:"ordinal"`
	Source  string `yaml:"source"`
}

// SourceConfig declares a source and optionally a dvbv5 channel file to
// seed its transponders.
type SourceConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	ScanFile string `yaml:"scanFile,omitempty"`
}

type StorageConfig struct {
	// Backend is sqlite, badger or memory.
	Backend string `yaml:"backend"`
	// Path defaults to DataDir.
	Path string `yaml:"path"`
}

type CacheConfig struct {
	// RedisAddr selects the redis cache; empty uses the in-memory cache.
	RedisAddr string        `yaml:"redisAddr"`
	TTL       time.Duration `yaml:"ttl"`
}

type TuningConfig struct {
	LockTimeout    time.Duration `yaml:"lockTimeout"`
	SectionTimeout time.Duration `yaml:"sectionTimeout"`
	PollInterval   time.Duration `yaml:"pollInterval"`
}

type ScanConfig struct {
	// AutoChannels creates a channel for every TV and radio service found.
	AutoChannels bool `yaml:"autoChannels"`
}

type IdleScanConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// EPGConfig controls programme guide reads on idle frontends.
type EPGConfig struct {
	Enabled bool `yaml:"enabled"`
	// Window is how long EIT sections are collected per transponder.
	Window time.Duration `yaml:"window"`
	// Interval is the age after which a transponder's guide is read again.
	Interval time.Duration `yaml:"interval"`
}

type RecorderConfig struct {
	Dir           string        `yaml:"dir"`
	DefaultWindow time.Duration `yaml:"defaultWindow"`
}

type PlaybackConfig struct {
	Window       int `yaml:"window"`
	ChunkPackets int `yaml:"chunkPackets"`
}

type StreamConfig struct {
	// RateLimitBPS caps live output in bytes per second; 0 is unlimited.
	RateLimitBPS int `yaml:"rateLimitBPS"`
}

// ExportConfig controls the channels.json/channels.m3u files written to
// DataDir after every scan.
type ExportConfig struct {
	Enabled bool `yaml:"enabled"`
	// BaseURL prefixes stream URLs in the playlist; empty derives it from
	// api.listenAddr.
	BaseURL string `yaml:"baseURL"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the configuration used when neither file nor environment
// set a value.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:    "/var/lib/tvd",
		LogLevel:   "info",
		LogService: "tvd",
		API: APIConfig{
			ListenAddr: ":8088",
			MaxConns:   256,
			RateLimit:  600,
		},
		Storage: StorageConfig{Backend: "sqlite"},
		Cache:   CacheConfig{TTL: 5 * time.Second},
		Tuning: TuningConfig{
			LockTimeout:    2 * time.Second,
			SectionTimeout: 5 * time.Second,
			PollInterval:   100 * time.Millisecond,
		},
		Scan: ScanConfig{AutoChannels: true},
		IdleScan: IdleScanConfig{
			Enabled:  true,
			Interval: 10 * time.Second,
		},
		EPG: EPGConfig{
			Enabled:  true,
			Window:   10 * time.Second,
			Interval: 30 * time.Minute,
		},
		Recorder: RecorderConfig{DefaultWindow: 130 * time.Minute},
		Playback: PlaybackConfig{
			Window:       256,
			ChunkPackets: 7,
		},
		Export: ExportConfig{Enabled: true},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// StorePath is the directory handed to the store backend.
func (c AppConfig) StorePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return c.DataDir
}

// RecordingsDir is where recordings are written.
func (c AppConfig) RecordingsDir() string {
	if c.Recorder.Dir != "" {
		return c.Recorder.Dir
	}
	return filepath.Join(c.DataDir, "recordings")
}
