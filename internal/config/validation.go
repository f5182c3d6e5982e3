// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net"
	"strings"
)

type validationError struct {
	Field  string
	Reason string
	Value  string
}

func (e validationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type validator struct {
	errs []error
}

func (v *validator) add(field, reason, value string) {
	v.errs = append(v.errs, validationError{Field: field, Reason: reason, Value: value})
}

func (v *validator) rangeInt(field string, val, min, max int) {
	if val < min || val > max {
		v.add(field, fmt.Sprintf("must be between %d and %d", min, max), fmt.Sprintf("%d", val))
	}
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	parts := make([]string, len(v.errs))
	for i, e := range v.errs {
		parts[i] = e.Error()
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(parts, "; "))
}

// Validate checks the resolved configuration for values the daemon cannot
// run with. It accumulates all problems rather than stopping at the first.
func (c AppConfig) Validate() error {
	v := &validator{}

	if strings.TrimSpace(c.Listen) == "" {
		v.add("listen", "must not be empty", "")
	} else if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		v.add("listen", "must be host:port or :port", c.Listen)
	}

	if strings.TrimSpace(c.DataDir) == "" {
		v.add("dataDir", "must not be empty", "")
	}

	switch c.Mixer.SampleRate {
	case 22050, 44100, 48000:
	default:
		v.add("mixer.sampleRate", "must be one of 22050, 44100, 48000", fmt.Sprintf("%d", c.Mixer.SampleRate))
	}
	v.rangeInt("mixer.channels", c.Mixer.Channels, 1, 2)
	if c.Mixer.FrameDuration <= 0 {
		v.add("mixer.frameMs", "must be positive", c.Mixer.FrameDuration.String())
	}
	if c.Mixer.CrossfadeLead <= 0 {
		v.add("mixer.crossfadeLead", "must be positive", c.Mixer.CrossfadeLead.String())
	}
	v.rangeInt("mixer.clientQueueFrames", c.Mixer.ClientQueueFrames, 16, 4096)

	if c.Session.HeartbeatInterval <= 0 {
		v.add("session.heartbeatInterval", "must be positive", c.Session.HeartbeatInterval.String())
	}
	if c.Session.IdleTTL <= 0 {
		v.add("session.idleTTL", "must be positive", c.Session.IdleTTL.String())
	}
	if c.Session.EphemeralGrace <= 0 {
		v.add("session.ephemeralGrace", "must be positive", c.Session.EphemeralGrace.String())
	}
	v.rangeInt("session.historySize", c.Session.HistorySize, 1, 500)
	v.rangeInt("session.poolSize", c.Session.PoolSize, 0, 32)
	v.rangeInt("session.prepareRetries", c.Session.PrepareRetries, 0, 10)
	v.rangeInt("session.eventQueueLen", c.Session.EventQueueLen, 8, 1024)

	v.rangeInt("explorer.sampleCount", c.Explorer.SampleCount, 1, 25)

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		v.add("cache.backend", "must be memory or redis", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && strings.TrimSpace(c.Cache.RedisAddr) == "" {
		v.add("cache.redis.addr", "required when backend is redis", "")
	}

	switch c.Telemetry.Exporter {
	case "noop", "grpc", "http":
	default:
		v.add("telemetry.exporter", "must be noop, grpc or http", c.Telemetry.Exporter)
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		v.add("telemetry.samplingRate", "must be within [0,1]", fmt.Sprintf("%v", c.Telemetry.SamplingRate))
	}

	for _, entry := range strings.Split(c.API.TrustedProxies, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		v.add("api.trustedProxies", "must be a valid IP or CIDR", entry)
	}

	return v.err()
}
