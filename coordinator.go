package goFit

import (
	"context"
	"log"
	"time"

	"github.com/MrEthical07/goFit/internal"
)

// EnsureValidToken describes the ensurevalidtoken operation and its observable behavior.
//
// EnsureValidToken returns an access token usable for at least the configured
// safety buffer, refreshing through the shared store when needed. Concurrent
// callers within the process share one attempt; across processes the store's
// lease elects exactly one refresher. It may suspend for lease waits, peer
// polls, and refresh backoff, all bounded by configuration.
func (c *Client) EnsureValidToken(ctx context.Context) (string, error) {
	if c == nil || c.store == nil {
		return "", newError(KindInternal, "client not initialized; construct it through Builder.Build", ErrClientNotReady)
	}

	v, err, _ := c.flight.Do("ensure", func() (any, error) {
		return c.ensureToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	now := time.Now()
	buffer := c.config.Token.SafetyBuffer

	// The store is authoritative across processes: a fresh token there
	// overrides whatever memory holds.
	snap, err := c.store.Load(ctx)
	if err != nil {
		return "", newError(KindServiceUnavailable, "token store read failed; check the shared store", err)
	}
	if snap.AccessValid(now, buffer) {
		c.adopt(snap)
		c.metricInc(MetricStoreHit)
		return snap.Access.Token, nil
	}

	// Memory is only trusted while it is not behind the store's version.
	if mem := c.memSnapshot(); mem.valid(now, buffer) && mem.version >= snap.Version {
		c.metricInc(MetricMemoryHit)
		return mem.access, nil
	}

	ownerID := internal.NewOwnerID(c.instanceID)
	v0 := snap.Version

	acquired, err := c.lease.Acquire(ctx, ownerID, c.config.Token.LeaseTTL)
	if err != nil {
		return "", newError(KindServiceUnavailable, "refresh lease acquire failed; check the shared store", err)
	}
	if acquired {
		return c.refreshAsLeader(ctx, ownerID)
	}

	c.metricInc(MetricLeaseContended)
	c.emitAudit(ctx, auditEventLeaseContention, true, ownerID, "", nil, nil)
	return c.waitForPeer(ctx, ownerID, v0)
}

// refreshAsLeader runs with the lease held and releases it on every exit path.
func (c *Client) refreshAsLeader(ctx context.Context, ownerID string) (string, error) {
	defer func() {
		// Release must still run when the caller's context is already gone,
		// otherwise peers wait out the full lease TTL for nothing.
		if err := c.lease.Release(context.WithoutCancel(ctx), ownerID); err != nil {
			log.Print("goFit: lease release failed")
		}
	}()

	// A peer may have completed a refresh between our first store read and the
	// lease acquire; one more read closes that race without a provider call.
	snap, err := c.store.Load(ctx)
	if err != nil {
		return "", newError(KindServiceUnavailable, "token store read failed; check the shared store", err)
	}
	if snap.AccessValid(time.Now(), c.config.Token.SafetyBuffer) {
		c.adopt(snap)
		c.metricInc(MetricPeerAdopted)
		return snap.Access.Token, nil
	}

	return c.refreshTokens(ctx, ownerID, snap)
}

// waitForPeer polls the store while another process refreshes, then makes one
// takeover attempt before surfacing a retryable failure. It never blocks
// beyond WaitAttempts × WaitInterval plus one refresh.
func (c *Client) waitForPeer(ctx context.Context, ownerID string, v0 int64) (string, error) {
	buffer := c.config.Token.SafetyBuffer

	for attempt := 0; attempt < c.config.Token.WaitAttempts; attempt++ {
		if err := c.sleep(ctx, c.config.Token.WaitInterval); err != nil {
			return "", newError(KindInternal, "wait for peer refresh interrupted", err)
		}

		snap, err := c.store.Load(ctx)
		if err != nil {
			return "", newError(KindServiceUnavailable, "token store read failed; check the shared store", err)
		}
		if snap.Access != nil && (snap.AccessValid(time.Now(), buffer) || snap.Version > v0) {
			c.adopt(snap)
			c.metricInc(MetricPeerAdopted)
			c.emitAudit(ctx, auditEventPeerAdopted, true, ownerID, "", nil, nil)
			return snap.Access.Token, nil
		}
	}

	// Wait budget spent. The holder may have crashed and the lease expired;
	// try to become the refresher ourselves exactly once.
	acquired, err := c.lease.Acquire(ctx, ownerID, c.config.Token.LeaseTTL)
	if err != nil {
		return "", newError(KindServiceUnavailable, "refresh lease acquire failed; check the shared store", err)
	}
	if acquired {
		return c.refreshAsLeader(ctx, ownerID)
	}

	c.metricInc(MetricWaitExhausted)
	return "", &Error{
		Kind:      KindTokenRefresh,
		Message:   "timed out waiting for a peer token refresh; retry shortly",
		Retryable: true,
		Err:       ErrPeerRefreshTimeout,
	}
}

// invalidateAccess drops the cached access token in the store and in memory
// after a 401, keeping the refresh token and version so the next refresh can
// proceed normally.
func (c *Client) invalidateAccess(ctx context.Context) {
	if err := c.store.InvalidateAccess(ctx); err != nil {
		log.Print("goFit: access token invalidation failed")
	}
	c.mu.Lock()
	c.mem.access = ""
	c.mem.expiresAt = time.Time{}
	c.mu.Unlock()
}
