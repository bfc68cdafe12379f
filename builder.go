package goFit

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/goFit/internal"
	"github.com/MrEthical07/goFit/internal/lock"
	"github.com/MrEthical07/goFit/token"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Builder defines a public type used by goFit APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	httpClient *http.Client
	auditSink  AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New returns a Builder seeded with the default configuration; callers override
// sections through WithConfig before Build.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig replaces the entire configuration. The value is cloned so later
// mutation of cfg does not reach the built Client.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis injects the shared store client. The same Redis must be shared by
// every process participating in token coordination.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithHTTPClient describes the withhttpclient operation and its observable behavior.
//
// WithHTTPClient overrides the transport used for provider calls; nil keeps the default.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink attaches a sink for coordination audit events; audit must also
// be enabled through AuditConfig.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled toggles the atomic counter set without replacing the whole Config.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms toggles the fetch latency histogram; it has no effect
// while metrics are disabled.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build is one-shot: reusing a Builder after a successful Build returns an error.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Provider.RequestTimeout}
	}

	client := &Client{
		config:     cfg,
		store:      token.NewStore(b.redis, cfg.Token.RedisPrefix),
		lease:      lock.New(b.redis, cfg.Token.RedisPrefix+":lease"),
		httpClient: httpClient,
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:    NewMetrics(cfg.Metrics),
		instanceID: internal.InstanceID(),
		sleep:      sleepContext,
	}

	if cfg.RateLimit.RequestsPerSecond > 0 {
		client.pacer = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}

	// Seed credentials live in memory only until the first refresh persists a
	// rotated pair; the store always wins over the seed once populated.
	client.mem = memToken{
		access:    cfg.Provider.SeedAccessToken,
		expiresAt: cfg.Provider.SeedAccessExpiry,
		refresh:   cfg.Provider.SeedRefreshToken,
	}

	b.built = true

	return client, nil
}
