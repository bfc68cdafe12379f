package goFit

import (
	"strings"
	"testing"
	"time"
)

func validTestConfig() Config {
	return testConfig("https://auth.example.com/token", "https://api.example.com")
}

func TestDefaultConfigIsSane(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Token.SafetyBuffer != 5*time.Minute {
		t.Errorf("unexpected safety buffer %v", cfg.Token.SafetyBuffer)
	}
	if cfg.Token.WaitAttempts != 6 || cfg.Token.WaitInterval != 500*time.Millisecond {
		t.Errorf("unexpected wait budget %d x %v", cfg.Token.WaitAttempts, cfg.Token.WaitInterval)
	}
	if cfg.Refresh.MaxAttempts != 3 {
		t.Errorf("unexpected refresh attempts %d", cfg.Refresh.MaxAttempts)
	}
	if cfg.RateLimit.MaxRetries != 2 {
		t.Errorf("unexpected 429 retry bound %d", cfg.RateLimit.MaxRetries)
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"missing token url", func(c *Config) { c.Provider.TokenURL = "" }, "TokenURL"},
		{"relative token url", func(c *Config) { c.Provider.TokenURL = "/token" }, "TokenURL"},
		{"bad api scheme", func(c *Config) { c.Provider.APIBaseURL = "ftp://api.example.com" }, "APIBaseURL"},
		{"missing client id", func(c *Config) { c.Provider.ClientID = "" }, "ClientID"},
		{"zero default ttl", func(c *Config) { c.Provider.DefaultAccessTTL = 0 }, "DefaultAccessTTL"},
		{"zero timeout", func(c *Config) { c.Provider.RequestTimeout = 0 }, "RequestTimeout"},
		{"missing prefix", func(c *Config) { c.Token.RedisPrefix = "" }, "RedisPrefix"},
		{"negative buffer", func(c *Config) { c.Token.SafetyBuffer = -time.Second }, "SafetyBuffer"},
		{"zero lease ttl", func(c *Config) { c.Token.LeaseTTL = 0 }, "LeaseTTL"},
		{"zero wait attempts", func(c *Config) { c.Token.WaitAttempts = 0 }, "WaitAttempts"},
		{"zero wait interval", func(c *Config) { c.Token.WaitInterval = 0 }, "WaitInterval"},
		{"zero refresh attempts", func(c *Config) { c.Refresh.MaxAttempts = 0 }, "MaxAttempts"},
		{"zero backoff", func(c *Config) { c.Refresh.BackoffBase = 0 }, "BackoffBase"},
		{"negative rate retries", func(c *Config) { c.RateLimit.MaxRetries = -1 }, "MaxRetries"},
		{"zero fallback backoff", func(c *Config) { c.RateLimit.FallbackBackoff = 0 }, "FallbackBackoff"},
		{"negative pacing", func(c *Config) { c.RateLimit.RequestsPerSecond = -1 }, "RequestsPerSecond"},
		{"pacing without burst", func(c *Config) {
			c.RateLimit.RequestsPerSecond = 5
			c.RateLimit.Burst = 0
		}, "Burst"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("expected message about %s, got %q", tc.wantMsg, err.Error())
			}
		})
	}
}

func TestCloneConfigIsolatesCaller(t *testing.T) {
	cfg := validTestConfig()
	clone := cloneConfig(cfg)

	cfg.Token.RedisPrefix = "mutated"
	if clone.Token.RedisPrefix == "mutated" {
		t.Fatal("clone shares state with the original")
	}
}
