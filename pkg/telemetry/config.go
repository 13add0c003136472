package telemetry

import (
	"strings"

	"github.com/argus-labs/tickcore/pkg/telemetry/sentry"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

type Config struct {
	// Enabled when false disables trace export entirely.
	Enabled bool `env:"OTEL_ENABLED" envDefault:"false"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `env:"OTEL_ENDPOINT" envDefault:"localhost:4317"`

	// TraceSampleRate is the sampling rate for traces (0.0 to 1.0).
	TraceSampleRate float64 `env:"OTEL_TRACE_SAMPLE_RATE" envDefault:"1.0"`

	// Log level configuration ("debug", "info", "warn", "error").
	LogLevel string `env:"OTEL_LOG_LEVEL" envDefault:"info"`

	// Log format configuration ("json", "pretty").
	LogFormat string `env:"OTEL_LOG_FORMAT" envDefault:"json"`

	// SentryDsn is the Sentry DSN. Sentry is disabled when empty.
	SentryDsn string `env:"OTEL_SENTRY_DSN"`

	// SentryENV is the Sentry environment (DEV/PROD).
	SentryENV string `env:"OTEL_SENTRY_ENV"`

	// StatsdAddress is the host:port of the statsd agent. Metrics are dropped when empty.
	StatsdAddress string `env:"STATSD_ADDRESS"`

	// StatsdNamespace prefixes every metric name.
	StatsdNamespace string `env:"STATSD_NAMESPACE" envDefault:"tickcore."`

	// StatsdTags are attached to every metric, e.g. "env:prod,shard:a".
	StatsdTags []string `env:"STATSD_TAGS" envSeparator:","`
}

func loadConfig() (Config, error) {
	cfg := Config{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse telemetry config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate telemetry config")
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return eris.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", cfg.LogLevel)
	}

	if ParseLogFormat(cfg.LogFormat) == LogFormatUndefined {
		return eris.Errorf("invalid log format: %s (must be 'json' or 'pretty')", cfg.LogFormat)
	}

	if cfg.Enabled {
		if cfg.Endpoint == "" {
			return eris.New("OTLP endpoint cannot be empty when OTLP is enabled")
		}
		if cfg.TraceSampleRate < 0.0 || cfg.TraceSampleRate > 1.0 {
			return eris.New("trace sample rate must be between 0.0 and 1.0")
		}
	}

	return nil
}

func (cfg *Config) applyToOptions(opt *Options) {
	opt.Endpoint = cfg.Endpoint
	opt.LogLevel = strings.ToLower(cfg.LogLevel)
	opt.LogFormat = ParseLogFormat(cfg.LogFormat)
	opt.TraceSampleRate = cfg.TraceSampleRate
	opt.SentryOptions = sentry.Options{
		Dsn:         cfg.SentryDsn,
		Environment: cfg.SentryENV,
	}
	opt.Statsd = StatsdOptions{
		Address:   cfg.StatsdAddress,
		Namespace: cfg.StatsdNamespace,
		Tags:      cfg.StatsdTags,
	}
}

type StatsdOptions struct {
	Address   string
	Namespace string
	Tags      []string
}

type Options struct {
	ServiceName     string // Name of the service for telemetry
	ServiceVersion  string
	Endpoint        string
	LogLevel        string
	LogFormat       LogFormat // Log output format
	TraceSampleRate float64

	SentryOptions sentry.Options
	Statsd        StatsdOptions
}

func newDefaultOptions() Options {
	// Leave the service name invalid to force callers to pass one in.
	return Options{
		ServiceName:     "",
		ServiceVersion:  "dev",
		Endpoint:        "",
		LogLevel:        "",
		LogFormat:       LogFormatUndefined,
		TraceSampleRate: -1.0,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *Options) apply(newOpt Options) {
	if newOpt.ServiceName != "" {
		opt.ServiceName = newOpt.ServiceName
	}
	if newOpt.ServiceVersion != "" {
		opt.ServiceVersion = newOpt.ServiceVersion
	}
	if newOpt.Endpoint != "" {
		opt.Endpoint = newOpt.Endpoint
	}
	if newOpt.LogLevel != "" {
		opt.LogLevel = newOpt.LogLevel
	}
	if newOpt.LogFormat != LogFormatUndefined {
		opt.LogFormat = newOpt.LogFormat
	}
	if newOpt.TraceSampleRate != 0.0 {
		opt.TraceSampleRate = newOpt.TraceSampleRate
	}
	if newOpt.SentryOptions.Tags != nil {
		opt.SentryOptions.Tags = newOpt.SentryOptions.Tags
	}
	if newOpt.Statsd.Address != "" {
		opt.Statsd.Address = newOpt.Statsd.Address
	}
	if newOpt.Statsd.Tags != nil {
		opt.Statsd.Tags = append(opt.Statsd.Tags, newOpt.Statsd.Tags...)
	}
}

func (opt *Options) validate() error {
	if opt.ServiceName == "" {
		return eris.New("service name cannot be empty")
	}
	if opt.Endpoint == "" {
		return eris.New("endpoint cannot be empty")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(opt.LogLevel)); err != nil {
		return eris.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", opt.LogLevel)
	}
	if opt.LogFormat == LogFormatUndefined {
		return eris.New("log format must be specified")
	}
	if opt.TraceSampleRate < 0.0 || opt.TraceSampleRate > 1.0 {
		return eris.New("trace sample rate must be between 0.0 and 1.0")
	}
	return nil
}

// LogFormat represents the log output format.
type LogFormat uint8

const (
	LogFormatUndefined LogFormat = iota // Used as the zero value
	LogFormatJSON                       // Outputs structured JSON logs
	LogFormatPretty                     // Outputs human-readable console logs
)

const (
	jsonFormatString      = "json"
	prettyFormatString    = "pretty"
	undefinedFormatString = "undefined"
)

func (f LogFormat) String() string {
	switch f {
	case LogFormatJSON:
		return jsonFormatString
	case LogFormatPretty:
		return prettyFormatString
	case LogFormatUndefined:
		return undefinedFormatString
	default:
		return undefinedFormatString
	}
}

func ParseLogFormat(s string) LogFormat {
	switch strings.ToLower(s) {
	case jsonFormatString:
		return LogFormatJSON
	case prettyFormatString:
		return LogFormatPretty
	default:
		return LogFormatUndefined
	}
}
