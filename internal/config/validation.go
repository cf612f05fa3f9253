// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"net/url"

	"github.com/ManuGH/tvd/internal/dvb"
	"github.com/ManuGH/tvd/internal/validate"
)

// Validate checks cfg for consistency. It does not touch the filesystem.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.NotEmpty("dataDir", cfg.DataDir)
	if _, err := validate.ParseLogLevel(cfg.LogLevel); err != nil {
		v.AddError("logLevel", err.Error(), cfg.LogLevel)
	}

	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	v.NonNegative("api.maxConns", cfg.API.MaxConns)
	v.NonNegative("api.rateLimit", cfg.API.RateLimit)

	v.OneOf("storage.backend", cfg.Storage.Backend, []string{"sqlite", "badger", "memory"})
	if cfg.Cache.RedisAddr != "" {
		v.ListenAddr("cache.redisAddr", cfg.Cache.RedisAddr)
	}
	v.PositiveDuration("cache.ttl", cfg.Cache.TTL)

	v.PositiveDuration("tuning.lockTimeout", cfg.Tuning.LockTimeout)
	v.PositiveDuration("tuning.sectionTimeout", cfg.Tuning.SectionTimeout)
	v.PositiveDuration("tuning.pollInterval", cfg.Tuning.PollInterval)
	if cfg.IdleScan.Enabled {
		v.PositiveDuration("idleScan.interval", cfg.IdleScan.Interval)
	}
	if cfg.EPG.Enabled {
		v.PositiveDuration("epg.window", cfg.EPG.Window)
		v.PositiveDuration("epg.interval", cfg.EPG.Interval)
	}
	v.PositiveDuration("recorder.defaultWindow", cfg.Recorder.DefaultWindow)

	v.Range("playback.window", cfg.Playback.Window, 1, 1<<16)
	v.Range("playback.chunkPackets", cfg.Playback.ChunkPackets, 1, 1024)
	v.NonNegative("stream.rateLimitBPS", cfg.Stream.RateLimitBPS)
	if cfg.Export.BaseURL != "" {
		v.Custom("export.baseURL", cfg.Export.BaseURL, validBaseURL)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
	}
	v.Fraction("telemetry.samplingRate", cfg.Telemetry.SamplingRate)

	sources := validateSources(v, cfg.Sources)
	validateAdapters(v, cfg.Adapters, sources)

	return v.Err()
}

func validateSources(v *validate.Validator, sources []SourceConfig) map[string]dvb.Family {
	families := make(map[string]dvb.Family, len(sources))
	for i, s := range sources {
		field := fmt.Sprintf("sources[%d]", i)
		v.NotEmpty(field+".name", s.Name)
		if _, dup := families[s.Name]; dup {
			v.AddError(field+".name", "duplicate source name", s.Name)
		}
		f, err := dvb.ParseFamily(s.Type)
		if err != nil {
			v.AddError(field+".type", err.Error(), s.Type)
			continue
		}
		families[s.Name] = f
	}
	return families
}

func validateAdapters(v *validate.Validator, adapters []AdapterConfig, sources map[string]dvb.Family) {
	type devKey struct{ adapter, frontend int }
	seen := make(map[devKey]bool, len(adapters))
	for i, a := range adapters {
		field := fmt.Sprintf("adapters[%d]", i)
		v.NonNegative(field+".adapter", a.Adapter)
		v.NonNegative(field+".frontend", a.Frontend)
		k := devKey{a.Adapter, a.Frontend}
		if seen[k] {
			v.AddError(field, "device configured twice", fmt.Sprintf("%d/%d", a.Adapter, a.Frontend))
		}
		seen[k] = true

		sys, err := dvb.ParseDeliverySystem(a.DeliverySystem)
		if err != nil {
			v.AddError(field+".deliverySystem", err.Error(), a.DeliverySystem)
			continue
		}
		for j, p := range a.Ports {
			pf := fmt.Sprintf("%s.ports[%d]", field, j)
			v.NonNegative(pf+".ordinal", p.Ordinal)
			fam, ok := sources[p.Source]
			if !ok {
				v.AddError(pf+".source", "unknown source", p.Source)
				continue
			}
			if fam != sys.Family() {
				v.AddError(pf+".source",
					fmt.Sprintf("source is %s but the frontend tunes %s", fam, sys.Family()), p.Source)
			}
		}
	}
}

func validBaseURL(value any) error {
	u, err := url.Parse(value.(string))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
