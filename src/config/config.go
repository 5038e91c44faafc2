package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
)

// Config is the complete gateway configuration, loaded once at startup.
type Config struct {
	Server           ServerConfig      `toml:"server"`
	Proxy            ProxyConfig       `toml:"proxy"`
	Limits           LimitsConfig      `toml:"limits"`
	RateLimit        RateLimitConfig   `toml:"rate_limit"`
	Filter           FilterConfig      `toml:"filter"`
	ErrorRedirects   ErrorRedirects    `toml:"error_redirects"`
	TimeoutOverrides []TimeoutOverride `toml:"timeout_override"`
}

// ServerConfig describes the front-end listener.
type ServerConfig struct {
	ListenAddress string `toml:"listen_addr"`

	// ProxyProtocol enables PROXY protocol support on the listener, so that
	// the real client address is visible when running behind an L4 balancer.
	ProxyProtocol bool `toml:"proxy_protocol"`
}

// ProxyConfig describes the single upstream origin.
type ProxyConfig struct {
	Upstream string `toml:"upstream"`
}

// LimitsConfig bounds per-request resource consumption.
type LimitsConfig struct {
	MaxBodySize        uint64 `toml:"max_body_size"`
	DefaultTimeoutSecs uint64 `toml:"default_timeout_secs"`
}

// RateLimitConfig is the per-client admission quota. Both fields must be
// greater than zero.
type RateLimitConfig struct {
	RequestsPerMinute uint32 `toml:"requests_per_minute"`
	BurstSize         uint32 `toml:"burst_size"`
}

// FilterConfig lists the blocked user-agent substrings and the URL that
// blocked clients are redirected to.
type FilterConfig struct {
	BlockedUserAgents []string `toml:"blocked_user_agents"`
	RedirectURL       string   `toml:"redirect_url"`
}

// ErrorRedirects maps each rejection category to its redirect target.
type ErrorRedirects struct {
	RateLimited  string `toml:"rate_limited"`
	Banned       string `toml:"banned"`
	BodyTooLarge string `toml:"body_too_large"`
	Timeout      string `toml:"timeout"`
	BadGateway   string `toml:"bad_gateway"`
}

// TimeoutOverride assigns a specific timeout to requests whose path starts
// with Path. Overrides are evaluated in declared order, first match wins.
type TimeoutOverride struct {
	Path        string `toml:"path"`
	TimeoutSecs uint64 `toml:"timeout_secs"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("can not load config from '%s': %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in '%s': %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for fatal errors, reporting every
// problem at once rather than stopping at the first.
func (cfg *Config) Validate() error {
	var err error

	if cfg.Server.ListenAddress == "" {
		err = multierr.Append(err, fmt.Errorf("server.listen_addr must not be empty"))
	}

	if cfg.Proxy.Upstream == "" {
		err = multierr.Append(err, fmt.Errorf("proxy.upstream must not be empty"))
	} else if u, parseErr := url.Parse(cfg.Proxy.Upstream); parseErr != nil || u.Scheme == "" || u.Host == "" {
		err = multierr.Append(err, fmt.Errorf("proxy.upstream '%s' is not a valid URL", cfg.Proxy.Upstream))
	}

	if cfg.Limits.MaxBodySize == 0 {
		err = multierr.Append(err, fmt.Errorf("limits.max_body_size must be greater than zero"))
	}

	if cfg.Limits.DefaultTimeoutSecs == 0 {
		err = multierr.Append(err, fmt.Errorf("limits.default_timeout_secs must be greater than zero"))
	}

	if cfg.RateLimit.RequestsPerMinute == 0 {
		err = multierr.Append(err, fmt.Errorf("rate_limit.requests_per_minute must be greater than zero"))
	}

	if cfg.RateLimit.BurstSize == 0 {
		err = multierr.Append(err, fmt.Errorf("rate_limit.burst_size must be greater than zero"))
	}

	if len(cfg.Filter.BlockedUserAgents) != 0 && cfg.Filter.RedirectURL == "" {
		err = multierr.Append(err, fmt.Errorf("filter.redirect_url must not be empty when agents are blocked"))
	}

	for _, redirect := range []struct {
		name  string
		value string
	}{
		{"rate_limited", cfg.ErrorRedirects.RateLimited},
		{"banned", cfg.ErrorRedirects.Banned},
		{"body_too_large", cfg.ErrorRedirects.BodyTooLarge},
		{"timeout", cfg.ErrorRedirects.Timeout},
		{"bad_gateway", cfg.ErrorRedirects.BadGateway},
	} {
		if redirect.value == "" {
			err = multierr.Append(err, fmt.Errorf("error_redirects.%s must not be empty", redirect.name))
		}
	}

	for _, rule := range cfg.TimeoutOverrides {
		if rule.Path == "" {
			err = multierr.Append(err, fmt.Errorf("timeout_override path must not be empty"))
		}
		if rule.TimeoutSecs == 0 {
			err = multierr.Append(err, fmt.Errorf("timeout_override for '%s' must have a timeout greater than zero", rule.Path))
		}
	}

	return err
}

// TimeoutFor returns the timeout for a request path. Overrides are checked
// in declared order and the first whose path is a prefix of the request path
// wins, otherwise the default timeout is used.
func (cfg *Config) TimeoutFor(path string) time.Duration {
	for _, rule := range cfg.TimeoutOverrides {
		if strings.HasPrefix(path, rule.Path) {
			return time.Duration(rule.TimeoutSecs) * time.Second
		}
	}

	return cfg.DefaultTimeout()
}

// DefaultTimeout returns the timeout used for paths without an override.
func (cfg *Config) DefaultTimeout() time.Duration {
	return time.Duration(cfg.Limits.DefaultTimeoutSecs) * time.Second
}
