package goFit

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Fetch describes the fetch operation and its observable behavior.
//
// Fetch performs an authenticated GET against the provider resource API and
// returns the raw JSON payload. Token acquisition, a single forced refresh on
// 401, and bounded 429 backoff all happen internally; callers only ever see
// the payload or one categorized [Error].
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	if c == nil || c.store == nil {
		return nil, newError(KindInternal, "client not initialized; construct it through Builder.Build", ErrClientNotReady)
	}
	if !strings.HasPrefix(endpoint, "/") {
		return nil, &Error{
			Kind:    KindValidation,
			Message: `endpoint must be an absolute path such as "/activities/daily"`,
		}
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, newError(KindInternal, "request pacing interrupted", err)
		}
	}

	start := time.Now()
	payload, err := c.fetchWithRecovery(ctx, endpoint, params)
	c.metricObserve(MetricFetchLatency, time.Since(start))
	return payload, err
}

func (c *Client) fetchWithRecovery(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	accessToken, err := c.EnsureValidToken(ctx)
	if err != nil {
		return nil, err
	}

	authRetried := false
	rateRetries := 0

	for {
		status, header, body, err := c.doGet(ctx, endpoint, params, accessToken)
		if err != nil {
			return nil, &Error{
				Kind:      KindNetwork,
				Message:   "provider request failed; check connectivity and retry",
				Retryable: true,
				Err:       err,
			}
		}

		if status >= 200 && status < 300 {
			c.observeQuota(header)
			c.metricInc(MetricFetchSuccess)
			if !json.Valid(body) {
				return nil, &Error{Kind: KindInternal, Message: "provider returned a malformed payload"}
			}
			return json.RawMessage(body), nil
		}

		switch status {
		case http.StatusUnauthorized:
			if authRetried {
				// A token that was just refreshed and still bounces is a real
				// credential failure, not expiry.
				c.metricInc(MetricFetchUnauthorized)
				c.emitAudit(ctx, auditEventFetchUnauthorized, false, "", endpoint, nil, nil)
				return nil, &Error{
					Kind:    KindAuthentication,
					Message: "provider rejected credentials after a forced refresh; re-authorize the integration",
				}
			}
			authRetried = true
			c.invalidateAccess(ctx)
			accessToken, err = c.EnsureValidToken(ctx)
			if err != nil {
				return nil, err
			}

		case http.StatusTooManyRequests:
			reset := c.resetHint(header, rateRetries)
			c.metricInc(MetricRateLimitHit)
			c.emitAudit(ctx, auditEventRateLimited, false, "", endpoint, nil, nil)
			if rateRetries >= c.config.RateLimit.MaxRetries {
				c.metricInc(MetricRateLimitExceeded)
				return nil, &Error{
					Kind:      KindRateLimit,
					Message:   "provider rate limit exceeded; retry after the reset window",
					Retryable: true,
					ResetIn:   reset,
				}
			}
			rateRetries++
			if err := c.sleep(ctx, reset+c.config.RateLimit.ResetBuffer); err != nil {
				return nil, newError(KindInternal, "rate-limit wait interrupted", err)
			}

		default:
			return nil, mapStatus(status, endpoint)
		}
	}
}

func (c *Client) doGet(ctx context.Context, endpoint string, params url.Values, accessToken string) (int, http.Header, []byte, error) {
	target := c.config.Provider.APIBaseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if c.config.Provider.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.Provider.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

// resetHint sizes the 429 wait from the provider's reset header, falling back
// to exponential growth when the header is absent.
func (c *Client) resetHint(header http.Header, rateRetries int) time.Duration {
	if raw := header.Get("X-RateLimit-Reset"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
			reset := time.Duration(seconds) * time.Second
			c.recordRateLimit(header, reset)
			return reset
		}
	}
	return c.config.RateLimit.FallbackBackoff << rateRetries
}

// observeQuota warns once per response when the remaining quota crosses the
// configured threshold. The warning fires independently of any retry.
func (c *Client) observeQuota(header http.Header) {
	raw := header.Get("X-RateLimit-Remaining")
	if raw == "" {
		return
	}
	remaining, err := strconv.Atoi(raw)
	if err != nil {
		return
	}

	var reset time.Duration
	if rawReset := header.Get("X-RateLimit-Reset"); rawReset != "" {
		if seconds, convErr := strconv.Atoi(rawReset); convErr == nil && seconds >= 0 {
			reset = time.Duration(seconds) * time.Second
		}
	}

	c.mu.Lock()
	c.lastRate = RateLimitState{
		Remaining:  remaining,
		ResetIn:    reset,
		ObservedAt: time.Now(),
	}
	c.mu.Unlock()

	if c.config.RateLimit.WarnRemaining > 0 && remaining <= c.config.RateLimit.WarnRemaining {
		c.metricInc(MetricQuotaLow)
		log.Printf("goFit: provider quota low: %d requests remaining", remaining)
	}
}

func (c *Client) recordRateLimit(header http.Header, reset time.Duration) {
	remaining := 0
	if raw := header.Get("X-RateLimit-Remaining"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			remaining = n
		}
	}
	c.mu.Lock()
	c.lastRate = RateLimitState{
		Remaining:  remaining,
		ResetIn:    reset,
		ObservedAt: time.Now(),
	}
	c.mu.Unlock()
}

// mapStatus translates the remaining non-2xx statuses into the taxonomy. The
// numeric code deliberately stays out of the returned error.
func mapStatus(status int, endpoint string) *Error {
	switch {
	case status == http.StatusBadRequest:
		return &Error{
			Kind:    KindValidation,
			Message: "provider rejected the request parameters for " + endpoint,
		}
	case status == http.StatusForbidden:
		return &Error{
			Kind:    KindAuthorization,
			Message: "the authorized account lacks access to " + endpoint + "; review the granted scopes",
		}
	case status == http.StatusNotFound:
		return &Error{
			Kind:    KindNotFound,
			Message: "provider resource not found: " + endpoint,
		}
	case status >= 500:
		return &Error{
			Kind:      KindServiceUnavailable,
			Message:   "provider is temporarily unavailable; retry later",
			Retryable: true,
		}
	default:
		return &Error{
			Kind:    KindInternal,
			Message: "unexpected provider response for " + endpoint,
		}
	}
}
