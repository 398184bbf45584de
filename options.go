package flagdock

import (
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/flagdock/flagdock-go/internal/refresh"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the config delivery endpoint used unless WithBaseURL
// points the client elsewhere.
const DefaultBaseURL = "https://cdn.flagdock.com"

const (
	defaultPollInterval = 60 * time.Second
	defaultMaxInitWait  = 5 * time.Second
)

// Option configures a FlagDock client.
type Option func(*clientConfig) error

// clientConfig holds internal configuration.
type clientConfig struct {
	baseURL     string
	urlIsCustom bool
	httpClient  *http.Client

	mode        refresh.PollingMode
	maxInitWait time.Duration

	cache       ConfigCache
	offline     bool
	defaultUser *User
	hooks       *Hooks
	overrides   *FlagOverrides

	logger            zerolog.Logger
	telemetryDisabled bool
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		baseURL:     DefaultBaseURL,
		mode:        refresh.AutoPoll{Interval: defaultPollInterval},
		maxInitWait: defaultMaxInitWait,
		logger:      zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger(),
	}
}

// WithBaseURL points the client at a custom config delivery endpoint,
// e.g. a proxy or a self-hosted instance.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) error {
		if url == "" {
			return &ConfigError{Field: "baseURL", Message: "base URL cannot be empty"}
		}
		c.baseURL = url
		c.urlIsCustom = true
		return nil
	}
}

// WithHTTPClient replaces the HTTP client used for config fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) error {
		if client == nil {
			return &ConfigError{Field: "httpClient", Message: "HTTP client cannot be nil"}
		}
		c.httpClient = client
		return nil
	}
}

// WithAutoPolling downloads a fresh config on the given interval in the
// background. This is the default mode, with a 60 second interval.
func WithAutoPolling(interval time.Duration) Option {
	return func(c *clientConfig) error {
		if interval < time.Second {
			return &ConfigError{Field: "pollInterval", Message: "poll interval must be at least 1s"}
		}
		c.mode = refresh.AutoPoll{Interval: interval}
		return nil
	}
}

// WithMaxInitWait bounds how long the first evaluation of an auto-polling
// client may block waiting for the initial fetch. When it expires the client
// proceeds on cached data, or defaults when the cache is empty. Zero waits
// without a deadline.
func WithMaxInitWait(wait time.Duration) Option {
	return func(c *clientConfig) error {
		if wait < 0 {
			return &ConfigError{Field: "maxInitWait", Message: "max init wait cannot be negative"}
		}
		c.maxInitWait = wait
		return nil
	}
}

// WithLazyLoading fetches on demand, whenever an evaluation finds the config
// older than ttl.
func WithLazyLoading(ttl time.Duration) Option {
	return func(c *clientConfig) error {
		if ttl < time.Second {
			return &ConfigError{Field: "cacheTTL", Message: "cache TTL must be at least 1s"}
		}
		c.mode = refresh.LazyLoad{TTL: ttl}
		return nil
	}
}

// WithManualPolling disables all automatic fetching; only Refresh downloads
// a config.
func WithManualPolling() Option {
	return func(c *clientConfig) error {
		c.mode = refresh.ManualPoll{}
		return nil
	}
}

// WithCache plugs in an external config cache shared across restarts or
// processes.
func WithCache(cache ConfigCache) Option {
	return func(c *clientConfig) error {
		c.cache = cache
		return nil
	}
}

// WithOffline starts the client in offline mode: no HTTP calls are made
// until SetOnline.
func WithOffline(offline bool) Option {
	return func(c *clientConfig) error {
		c.offline = offline
		return nil
	}
}

// WithDefaultUser sets the user evaluations fall back to when the caller
// passes nil.
func WithDefaultUser(user *User) Option {
	return func(c *clientConfig) error {
		c.defaultUser = user
		return nil
	}
}

// WithHooks attaches a pre-built hooks dispatcher, letting callers subscribe
// before the client starts.
func WithHooks(hooks *Hooks) Option {
	return func(c *clientConfig) error {
		c.hooks = hooks
		return nil
	}
}

// WithOverrides supplies local flag overrides.
func WithOverrides(overrides *FlagOverrides) Option {
	return func(c *clientConfig) error {
		c.overrides = overrides
		return nil
	}
}

// WithLogger replaces the client's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *clientConfig) error {
		c.logger = logger
		return nil
	}
}

// WithLogLevel adjusts the default logger's level.
func WithLogLevel(level zerolog.Level) Option {
	return func(c *clientConfig) error {
		c.logger = c.logger.Level(level)
		return nil
	}
}

// WithoutTelemetry disables OpenTelemetry metrics and traces.
func WithoutTelemetry() Option {
	return func(c *clientConfig) error {
		c.telemetryDisabled = true
		return nil
	}
}

// envConfig mirrors the environment variables the client understands.
type envConfig struct {
	SDKKey       string        `env:"FLAGDOCK_SDK_KEY"`
	BaseURL      string        `env:"FLAGDOCK_BASE_URL"`
	PollingMode  string        `env:"FLAGDOCK_POLLING_MODE"`
	PollInterval time.Duration `env:"FLAGDOCK_POLL_INTERVAL"`
	CacheTTL     time.Duration `env:"FLAGDOCK_CACHE_TTL"`
	MaxInitWait  time.Duration `env:"FLAGDOCK_MAX_INIT_WAIT"`
	Offline      bool          `env:"FLAGDOCK_OFFLINE"`
	LogLevel     string        `env:"FLAGDOCK_LOG_LEVEL"`
}

// OptionsFromEnv reads client configuration from FLAGDOCK_* environment
// variables and returns the SDK key plus the matching options:
//
//	FLAGDOCK_SDK_KEY        the SDK key New is called with
//	FLAGDOCK_BASE_URL       custom config delivery endpoint
//	FLAGDOCK_POLLING_MODE   "auto", "lazy" or "manual"
//	FLAGDOCK_POLL_INTERVAL  auto-poll interval (e.g. "30s")
//	FLAGDOCK_CACHE_TTL      lazy-load TTL
//	FLAGDOCK_MAX_INIT_WAIT  first-evaluation wait bound in auto mode
//	FLAGDOCK_OFFLINE        "true" starts the client offline
//	FLAGDOCK_LOG_LEVEL      zerolog level name (e.g. "debug")
func OptionsFromEnv() (string, []Option, error) {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return "", nil, err
	}

	var opts []Option
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	switch cfg.PollingMode {
	case "", "auto":
		if cfg.PollInterval > 0 {
			opts = append(opts, WithAutoPolling(cfg.PollInterval))
		}
	case "lazy":
		ttl := cfg.CacheTTL
		if ttl == 0 {
			ttl = defaultPollInterval
		}
		opts = append(opts, WithLazyLoading(ttl))
	case "manual":
		opts = append(opts, WithManualPolling())
	default:
		return "", nil, &ConfigError{Field: "FLAGDOCK_POLLING_MODE", Message: "must be auto, lazy or manual"}
	}
	if cfg.MaxInitWait > 0 {
		opts = append(opts, WithMaxInitWait(cfg.MaxInitWait))
	}
	if cfg.Offline {
		opts = append(opts, WithOffline(true))
	}
	if cfg.LogLevel != "" {
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return "", nil, &ConfigError{Field: "FLAGDOCK_LOG_LEVEL", Message: err.Error()}
		}
		opts = append(opts, WithLogLevel(level))
	}
	return cfg.SDKKey, opts, nil
}
