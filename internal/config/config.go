// Package config loads blackbox settings from defaults, an optional YAML
// file and BLACKBOX_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/zsiec/blackbox/internal/playback"
)

// EnvPrefix is prepended to environment variable names. The key
// "watchdog.stall_timeout" is read from BLACKBOX_WATCHDOG_STALL_TIMEOUT.
const EnvPrefix = "BLACKBOX"

// Config is the complete process configuration.
type Config struct {
	Playback playback.Config
	LogLevel slog.Level
	// MetricsAddr, when set, serves Prometheus metrics on that address.
	MetricsAddr string
	// ImpactThreshold is the acceleration magnitude in g reported as an
	// impact event.
	ImpactThreshold float64
}

// New returns a viper instance with defaults and environment bindings
// installed. Callers may layer flags on top before calling Decode.
func New() *viper.Viper {
	v := viper.New()

	d := playback.DefaultConfig()
	v.SetDefault("playback.drift_threshold", d.DriftThreshold)
	v.SetDefault("playback.tick_interval", d.TickInterval)
	v.SetDefault("playback.prime_timeout", d.PrimeTimeout)
	v.SetDefault("buffer.capacity", d.BufferCapacity)
	v.SetDefault("buffer.skip_tolerance", d.SkipTolerance)
	v.SetDefault("watchdog.stall_timeout", d.StallTimeout)
	v.SetDefault("watchdog.max_recoveries", d.MaxRecoveries)
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("sensors.impact_threshold", 2.5)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	return v
}

// Load reads path, if non-empty, on top of the defaults and environment and
// returns the decoded configuration. A missing explicit path is an error.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return Decode(v)
}

// Decode converts the settings held by v into a Config and validates them.
func Decode(v *viper.Viper) (Config, error) {
	c := Config{
		Playback: playback.Config{
			DriftThreshold: v.GetDuration("playback.drift_threshold"),
			TickInterval:   v.GetDuration("playback.tick_interval"),
			PrimeTimeout:   v.GetDuration("playback.prime_timeout"),
			BufferCapacity: v.GetInt("buffer.capacity"),
			SkipTolerance:  v.GetDuration("buffer.skip_tolerance"),
			StallTimeout:   v.GetDuration("watchdog.stall_timeout"),
			MaxRecoveries:  v.GetInt("watchdog.max_recoveries"),
		},
		MetricsAddr:     v.GetString("metrics.addr"),
		ImpactThreshold: v.GetFloat64("sensors.impact_threshold"),
	}

	if err := c.LogLevel.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return Config{}, fmt.Errorf("config: log.level: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// validate rejects values the playback layer would otherwise replace with
// its defaults, so the effective configuration is always what was written.
func (c Config) validate() error {
	var errs []error
	p := c.Playback
	if p.DriftThreshold <= 0 {
		errs = append(errs, fmt.Errorf("playback.drift_threshold must be positive, got %v", p.DriftThreshold))
	}
	if p.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("playback.tick_interval must be positive, got %v", p.TickInterval))
	}
	if p.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("buffer.capacity must be positive, got %d", p.BufferCapacity))
	}
	if p.PrimeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("playback.prime_timeout must be positive, got %v", p.PrimeTimeout))
	}
	if p.SkipTolerance <= 0 {
		errs = append(errs, fmt.Errorf("buffer.skip_tolerance must be positive, got %v", p.SkipTolerance))
	}
	if p.StallTimeout == 0 {
		errs = append(errs, errors.New("watchdog.stall_timeout must not be zero; use a negative value to disable the watchdog"))
	}
	if p.MaxRecoveries <= 0 {
		errs = append(errs, fmt.Errorf("watchdog.max_recoveries must be positive, got %d", p.MaxRecoveries))
	}
	if c.ImpactThreshold <= 0 {
		errs = append(errs, fmt.Errorf("sensors.impact_threshold must be positive, got %v", c.ImpactThreshold))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
