package goFit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goFit/token"
	"github.com/golang-jwt/jwt/v5"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// refreshTokens exchanges the current refresh token for a new pair. It runs
// only while the caller holds the lease. Retries cover 5xx and network
// failures; a 400 rejection is final because the provider has already burned
// the submitted token.
func (c *Client) refreshTokens(ctx context.Context, ownerID string, snap *token.Snapshot) (string, error) {
	refreshToken := snap.RefreshToken
	if refreshToken == "" {
		refreshToken = c.memSnapshot().refresh
	}
	if refreshToken == "" {
		// Cold start: the store is empty and memory was never seeded.
		return "", &Error{
			Kind:    KindTokenRefresh,
			Message: "no refresh token available; re-authorize the integration",
			Err:     ErrNoRefreshToken,
		}
	}

	var lastErr error
	maxAttempts := c.config.Refresh.MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.config.Refresh.BackoffBase << (attempt - 2)
			if err := c.sleep(ctx, backoff); err != nil {
				return "", newError(KindInternal, "refresh backoff interrupted", err)
			}
		}

		status, body, err := c.postRefresh(ctx, refreshToken)
		if err != nil {
			lastErr = newError(KindNetwork, "token endpoint unreachable", err)
			continue
		}

		switch {
		case status >= 200 && status < 300:
			return c.persistRefreshedTokens(ctx, ownerID, refreshToken, body)

		case status == http.StatusBadRequest:
			// The submitted single-use token was rejected. A peer that slipped
			// a refresh through a lease-TTL window may have stored a fresh
			// pair; adopt theirs instead of failing.
			if fresh, loadErr := c.store.Load(ctx); loadErr == nil && fresh.AccessValid(time.Now(), c.config.Token.SafetyBuffer) {
				c.adopt(fresh)
				c.metricInc(MetricPeerAdopted)
				return fresh.Access.Token, nil
			}
			c.metricInc(MetricRefreshRejected)
			c.emitAudit(ctx, auditEventRefreshRejected, false, ownerID, "", ErrRefreshTokenConsumed, nil)
			return "", &Error{
				Kind:     KindTokenRefresh,
				Message:  "provider rejected the refresh token as already used; re-authorize the integration",
				Attempts: attempt,
				Err:      ErrRefreshTokenConsumed,
			}

		case status >= 500:
			lastErr = fmt.Errorf("token endpoint unavailable")
			continue

		default:
			// 401/403 and friends on the token endpoint point at broken client
			// credentials, not a transient condition.
			c.metricInc(MetricRefreshFailure)
			c.emitAudit(ctx, auditEventTokenRefresh, false, ownerID, "", nil, nil)
			return "", &Error{
				Kind:     KindTokenRefresh,
				Message:  "token endpoint refused the refresh request; verify client credentials",
				Attempts: attempt,
			}
		}
	}

	c.metricInc(MetricRefreshFailure)
	c.emitAudit(ctx, auditEventTokenRefresh, false, ownerID, "", lastErr, nil)
	return "", &Error{
		Kind:      KindTokenRefresh,
		Message:   fmt.Sprintf("token refresh failed after %d attempts; provider may be degraded", maxAttempts),
		Retryable: true,
		Attempts:  maxAttempts,
		Err:       lastErr,
	}
}

func (c *Client) persistRefreshedTokens(ctx context.Context, ownerID, oldRefresh string, body []byte) (string, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.AccessToken == "" {
		c.metricInc(MetricRefreshFailure)
		return "", &Error{
			Kind:    KindTokenRefresh,
			Message: "token endpoint returned an unreadable response",
			Err:     err,
		}
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	if resp.ExpiresIn <= 0 {
		if exp, ok := jwtExpiry(resp.AccessToken); ok {
			expiresAt = exp
		} else {
			expiresAt = now.Add(c.config.Provider.DefaultAccessTTL)
		}
	}

	newRefresh := resp.RefreshToken
	if newRefresh == "" {
		newRefresh = oldRefresh
	}

	access := token.AccessToken{Token: resp.AccessToken, ExpiresAt: expiresAt.Unix()}
	version, err := c.store.Save(ctx, access, newRefresh)
	if err != nil {
		// The exchange succeeded and consumed the old token; dropping the new
		// pair now would strand every process. Serve it from memory and let
		// peers surface their own store errors.
		log.Print("goFit: refreshed token persist failed")
		c.metricInc(MetricPersistFailed)
		c.mu.Lock()
		version = c.mem.version
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.mem = memToken{
		access:    resp.AccessToken,
		expiresAt: expiresAt,
		refresh:   newRefresh,
		version:   version,
	}
	c.mu.Unlock()

	c.metricInc(MetricRefreshSuccess)
	c.emitAudit(ctx, auditEventTokenRefresh, true, ownerID, "", nil, func() map[string]string {
		return map[string]string{
			"version": fmt.Sprintf("%d", version),
		}
	})

	return resp.AccessToken, nil
}

func (c *Client) postRefresh(ctx context.Context, refreshToken string) (int, []byte, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.config.Provider.ClientID)
	if c.config.Provider.ClientSecret != "" {
		form.Set("client_secret", c.config.Provider.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.config.Provider.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.Provider.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// jwtExpiry extracts the exp claim from a JWT access token without verifying
// the signature. Verification is the provider's concern; we only need the
// lifetime hint for providers that omit expires_in.
func jwtExpiry(accessToken string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
