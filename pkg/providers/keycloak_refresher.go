//go:build !gatehouse_no_keycloak

package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/robfig/cron/v3"
)

const refreshTimeout = 30 * time.Second

var errNoStoredToken = errors.New("no stored token")

func (k *Keycloak) startRefresher() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.scheduler != nil {
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", k.interval), k.refreshTick); err != nil {
		k.logger.WithError(err).Error("Failed to schedule token refresh")
		return
	}
	c.Start()
	k.scheduler = c
	k.logger.WithField("interval", k.interval).Debug("Token refresher started")
}

func (k *Keycloak) stopRefresher() {
	k.mu.Lock()
	c := k.scheduler
	k.scheduler = nil
	k.mu.Unlock()

	if c != nil {
		c.Stop()
	}
}

func (k *Keycloak) refreshing() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.scheduler != nil
}

func (k *Keycloak) refreshTick() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	_ = k.refreshTokens(ctx)
}

// refreshTokens renews the access token when it expires within minValidity. A failed
// renewal signs the user out and stops the refresher; it is not retried.
func (k *Keycloak) refreshTokens(ctx context.Context) error {
	rec, err := loadToken(ctx, k.sess.kv, k.typ)
	if err == nil && rec == nil {
		err = errNoStoredToken
	}
	if err != nil {
		return k.signOut(ctx, err)
	}

	if time.Until(accessTokenExpiry(rec)) > k.minValidity {
		return nil
	}
	_, err = k.sess.refresh(ctx, rec)
	k.metrics.RecordTokenRefresh(string(k.typ), err)
	if err != nil {
		return k.signOut(ctx, err)
	}
	return nil
}

func (k *Keycloak) signOut(ctx context.Context, cause error) error {
	k.logger.WithError(cause).Warn("Token refresh failed, signing out")
	k.stopRefresher()
	if err := k.sess.forget(ctx); err != nil {
		k.logger.WithError(err).Warn("Failed to delete stored tokens")
	}
	k.store.SetUser(nil)
	return cause
}

// accessTokenExpiry reads exp from the access token without verifying it; the token is
// only inspected, never trusted. Opaque tokens fall back to the recorded expiry.
func accessTokenExpiry(rec *tokenRecord) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rec.Token.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return rec.Token.Expiry
}
