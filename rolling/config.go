package rolling

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
)

// Defaults applied by NewConfig and Validate. The flush timeout defaults are
// tuned for high-latency remote persistent storage such as object stores.
const (
	defaultShutdownSoftTimeoutMillis = 5000
	defaultShutdownHardTimeoutSecs   = 30
	defaultTimeoutCheckPeriodMillis  = 1000

	// Check period applied once a delayed shutdown begins, so the scheduler
	// reacts quickly while the process is on its way out.
	delayedShutdownCheckPeriod = 100 * time.Millisecond
)

func defaultHardTimeouts() map[Level]time.Duration {
	return map[Level]time.Duration{
		FatalLevel: 5 * time.Minute,
		ErrorLevel: 5 * time.Minute,
		WarnLevel:  10 * time.Minute,
		InfoLevel:  30 * time.Minute,
		DebugLevel: 30 * time.Minute,
		TraceLevel: 30 * time.Minute,
	}
}

func defaultSoftTimeouts() map[Level]time.Duration {
	return map[Level]time.Duration{
		FatalLevel: 5 * time.Second,
		ErrorLevel: 10 * time.Second,
		WarnLevel:  15 * time.Second,
		InfoLevel:  3 * time.Minute,
		DebugLevel: 3 * time.Minute,
		TraceLevel: 3 * time.Minute,
	}
}

// ErrorHandler receives the appender's own failures. No failure in this
// package is fatal to the host process; every failure mode degrades to a call
// here. err may be nil for pure warnings.
type ErrorHandler func(msg string, err error)

// Config holds the recognized appender options. Build it with NewConfig or
// DecodeConfig so that defaults are populated; a zero Config fails Validate.
type Config struct {
	// BaseName is the base filename for log files. Required.
	BaseName string `mapstructure:"baseName"`

	// CloseOnShutdown selects the shutdown behavior of the Shutdown entry
	// point. When true (the default) the appender closes immediately. When
	// false it keeps appending and flushing for a bounded grace period so
	// that last-moment events can still be captured, trading shutdown delay
	// against potential data loss if the process is killed first.
	CloseOnShutdown bool `mapstructure:"closeOnShutdown"`

	// FlushHardTimeoutsInMinutes overrides per-level hard flush timeouts as a
	// CSV of LEVEL=minutes pairs, e.g. "INFO=30,WARN=10,ERROR=5". Malformed
	// entries are skipped individually with a warning; well-formed entries
	// still apply. Custom levels are not supported and fall back to INFO.
	FlushHardTimeoutsInMinutes string `mapstructure:"flushHardTimeoutsInMinutes"`

	// FlushSoftTimeoutsInSeconds overrides per-level soft flush timeouts as a
	// CSV of LEVEL=seconds pairs, e.g. "INFO=180,WARN=15,ERROR=10".
	FlushSoftTimeoutsInSeconds string `mapstructure:"flushSoftTimeoutsInSeconds"`

	// ShutdownSoftTimeoutMilliseconds is the delayed-shutdown grace period
	// that is extended whenever a new event arrives.
	ShutdownSoftTimeoutMilliseconds int64 `mapstructure:"shutdownSoftTimeoutMilliseconds"`

	// ShutdownHardTimeoutSeconds bounds the total delayed-shutdown delay
	// regardless of event activity.
	ShutdownHardTimeoutSeconds int64 `mapstructure:"shutdownHardTimeoutSeconds"`

	// TimeoutCheckPeriodMilliseconds is the flush scheduler's polling period.
	// It should not significantly exceed the smallest configured timeout, or
	// flushes will lag their deadlines.
	TimeoutCheckPeriodMilliseconds int `mapstructure:"timeoutCheckPeriodMilliseconds"`

	// Clock is the time source for deadline computation. Defaults to the
	// system clock; tests substitute a manual clock.
	Clock clock.Clock `mapstructure:"-"`

	// Registerer receives the appender's Prometheus collectors. Nil leaves
	// the collectors unregistered but still functional.
	Registerer prometheus.Registerer `mapstructure:"-"`

	// ErrorHandler receives internal warnings and errors. Defaults to a
	// stderr writer. The appender never logs through the framework it serves.
	ErrorHandler ErrorHandler `mapstructure:"-"`
}

// NewConfig returns a Config with all defaults populated.
func NewConfig(baseName string) *Config {
	return &Config{
		BaseName:                        baseName,
		CloseOnShutdown:                 true,
		ShutdownSoftTimeoutMilliseconds: defaultShutdownSoftTimeoutMillis,
		ShutdownHardTimeoutSeconds:      defaultShutdownHardTimeoutSecs,
		TimeoutCheckPeriodMilliseconds:  defaultTimeoutCheckPeriodMillis,
	}
}

// DecodeConfig builds a Config from a weakly-typed property map, as produced
// by configuration frontends. String values such as "false" and "2500" are
// coerced to their target types. Unknown keys are ignored.
func DecodeConfig(props map[string]any) (*Config, error) {
	cfg := NewConfig("")
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(props); err != nil {
		return nil, fmt.Errorf("decode appender config: %w", err)
	}
	return cfg, nil
}

// Validate checks required fields and normalizes out-of-range values back to
// their defaults.
func (cfg *Config) Validate() error {
	if cfg.BaseName == "" {
		return errors.New("baseName is required")
	}
	if cfg.ShutdownSoftTimeoutMilliseconds <= 0 {
		cfg.ShutdownSoftTimeoutMilliseconds = defaultShutdownSoftTimeoutMillis
	}
	if cfg.ShutdownHardTimeoutSeconds <= 0 {
		cfg.ShutdownHardTimeoutSeconds = defaultShutdownHardTimeoutSecs
	}
	if cfg.TimeoutCheckPeriodMilliseconds <= 0 {
		cfg.TimeoutCheckPeriodMilliseconds = defaultTimeoutCheckPeriodMillis
	}
	return nil
}

// hardTimeouts materializes the hard timeout table from the defaults plus any
// CSV overrides.
func (cfg *Config) hardTimeouts(warn ErrorHandler) map[Level]time.Duration {
	table := defaultHardTimeouts()
	applyTimeoutCSV(table, cfg.FlushHardTimeoutsInMinutes, time.Minute, "hard flush timeout", warn)
	return table
}

// softTimeouts materializes the soft timeout table from the defaults plus any
// CSV overrides.
func (cfg *Config) softTimeouts(warn ErrorHandler) map[Level]time.Duration {
	table := defaultSoftTimeouts()
	applyTimeoutCSV(table, cfg.FlushSoftTimeoutsInSeconds, time.Second, "soft flush timeout", warn)
	return table
}

// applyTimeoutCSV parses a CSV of LEVEL=value pairs into dst. Each malformed
// entry is reported through warn and skipped; the remaining entries still
// apply.
func applyTimeoutCSV(dst map[Level]time.Duration, csv string, unit time.Duration, what string, warn ErrorHandler) {
	if csv == "" {
		return
	}
	for _, token := range strings.Split(csv, ",") {
		kv := strings.SplitN(token, "=", 2)
		if len(kv) != 2 {
			warn(fmt.Sprintf("skipping malformed %s entry %q", what, token), nil)
			continue
		}
		if !IsSupportedLevel(kv[0]) {
			warn(fmt.Sprintf("skipping %s for unsupported level %q", what, kv[0]), nil)
			continue
		}
		value, err := strconv.ParseInt(kv[1], 10, 64)
		if err != nil {
			warn(fmt.Sprintf("invalid %s value for level %s: %q", what, kv[0], kv[1]), err)
			continue
		}
		dst[ParseLevel(kv[0])] = time.Duration(value) * unit
	}
}
