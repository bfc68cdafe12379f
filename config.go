package goFit

import (
	"errors"
	"net/url"
	"time"
)

// Config defines a public type used by goFit APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Provider  ProviderConfig
	Token     TokenConfig
	Refresh   RefreshConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
PROVIDER CONFIG
====================================
*/

// ProviderConfig describes the OAuth token endpoint and resource API of the
// fitness provider, plus the statically issued seed credentials.
//
// Seed tokens are a cold-start fallback only: the shared store is authoritative,
// and the seed refresh token is exchanged only when the store holds none.
type ProviderConfig struct {
	TokenURL     string
	APIBaseURL   string
	ClientID     string
	ClientSecret string

	SeedAccessToken  string
	SeedAccessExpiry time.Time
	SeedRefreshToken string

	// DefaultAccessTTL applies when the token response carries no expires_in and
	// the access token is not a JWT with an exp claim.
	DefaultAccessTTL time.Duration
	RequestTimeout   time.Duration
	UserAgent        string
}

/*
====================================
TOKEN COORDINATION CONFIG
====================================
*/

// TokenConfig defines a public type used by goFit APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	// RedisPrefix namespaces the access blob, refresh blob, version counter, and
	// lease under one prefix so several integrations can share a Redis.
	RedisPrefix string
	// SafetyBuffer is subtracted from the stored expiry when judging validity.
	SafetyBuffer time.Duration
	// LeaseTTL bounds how long a crashed refresher can block its peers.
	LeaseTTL time.Duration
	// WaitAttempts and WaitInterval bound the poll loop while a peer refreshes.
	WaitAttempts int
	WaitInterval time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig defines a public type used by goFit APIs.
//
// RefreshConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RefreshConfig struct {
	// MaxAttempts bounds provider calls per refresh; 5xx and network failures
	// retry with exponential backoff, a 400 rejection never does.
	MaxAttempts int
	BackoffBase time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig defines a public type used by goFit APIs.
//
// RateLimitConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RateLimitConfig struct {
	// MaxRetries bounds how many 429 responses a single Fetch absorbs.
	MaxRetries int
	// ResetBuffer is added to the provider's reset hint before retrying.
	ResetBuffer time.Duration
	// FallbackBackoff sizes the wait when the 429 carries no reset header;
	// it doubles per absorbed 429.
	FallbackBackoff time.Duration
	// WarnRemaining triggers a low-quota warning when X-RateLimit-Remaining
	// drops to or below it. Zero disables the warning.
	WarnRemaining int
	// RequestsPerSecond enables client-side pacing ahead of every Fetch when
	// positive. Reactive 429 handling is unaffected.
	RequestsPerSecond float64
	Burst             int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig defines a public type used by goFit APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by goFit APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Provider: ProviderConfig{
			DefaultAccessTTL: 8 * time.Hour,
			RequestTimeout:   30 * time.Second,
		},
		Token: TokenConfig{
			RedisPrefix:  "gf",
			SafetyBuffer: 5 * time.Minute,
			LeaseTTL:     30 * time.Second,
			WaitAttempts: 6,
			WaitInterval: 500 * time.Millisecond,
		},
		Refresh: RefreshConfig{
			MaxAttempts: 3,
			BackoffBase: time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxRetries:      2,
			ResetBuffer:     time.Second,
			FallbackBackoff: 2 * time.Second,
			WarnRemaining:   25,
		},
		Audit: AuditConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	// Config holds no reference types today; the copy keeps callers from
	// mutating a built Client through a retained Config value.
	return cfg
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Provider
	if err := requireHTTPURL("Provider TokenURL", c.Provider.TokenURL); err != nil {
		return err
	}
	if err := requireHTTPURL("Provider APIBaseURL", c.Provider.APIBaseURL); err != nil {
		return err
	}
	if c.Provider.ClientID == "" {
		return errors.New("Provider ClientID must be set")
	}
	if c.Provider.DefaultAccessTTL <= 0 {
		return errors.New("Provider DefaultAccessTTL must be > 0")
	}
	if c.Provider.RequestTimeout <= 0 {
		return errors.New("Provider RequestTimeout must be > 0")
	}

	// Token coordination
	if c.Token.RedisPrefix == "" {
		return errors.New("Token RedisPrefix must be set")
	}
	if c.Token.SafetyBuffer < 0 {
		return errors.New("Token SafetyBuffer must be >= 0")
	}
	if c.Token.LeaseTTL <= 0 {
		return errors.New("Token LeaseTTL must be > 0")
	}
	if c.Token.WaitAttempts <= 0 {
		return errors.New("Token WaitAttempts must be > 0")
	}
	if c.Token.WaitInterval <= 0 {
		return errors.New("Token WaitInterval must be > 0")
	}

	// Refresh
	if c.Refresh.MaxAttempts <= 0 {
		return errors.New("Refresh MaxAttempts must be > 0")
	}
	if c.Refresh.BackoffBase <= 0 {
		return errors.New("Refresh BackoffBase must be > 0")
	}

	// Rate limit
	if c.RateLimit.MaxRetries < 0 {
		return errors.New("RateLimit MaxRetries must be >= 0")
	}
	if c.RateLimit.ResetBuffer < 0 {
		return errors.New("RateLimit ResetBuffer must be >= 0")
	}
	if c.RateLimit.FallbackBackoff <= 0 {
		return errors.New("RateLimit FallbackBackoff must be > 0")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return errors.New("RateLimit RequestsPerSecond must be >= 0")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return errors.New("RateLimit Burst must be > 0 when pacing is enabled")
	}

	return nil
}

func requireHTTPURL(name, raw string) error {
	if raw == "" {
		return errors.New(name + " must be set")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New(name + " must be an absolute http(s) URL")
	}
	return nil
}
