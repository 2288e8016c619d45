/*
 * Quilt MCP Server
 * Copyright (C) 2025  Quilt Data, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// errSkip tells the probe pipeline to move on to the next source.
var errSkip = errors.New("credential source does not apply")

// CredentialExchanger is the catalog surface the exchanger needs,
// satisfied by *catalog.Client.
type CredentialExchanger interface {
	GetCredentials(ctx context.Context, token string) (*session.CredentialBundle, error)
}

// ExchangerConfig configures the credential exchanger.
type ExchangerConfig struct {
	// Catalog performs the token-for-credentials exchange.
	Catalog CredentialExchanger
	// RequireJWT disallows the ambient fallback and makes probe errors
	// fatal.
	RequireJWT bool
	// CacheSize bounds the credential cache.
	CacheSize int
	// ExchangeTimeout bounds the upstream exchange call.
	ExchangeTimeout time.Duration
	// Clock drives expiry checks.
	Clock clockwork.Clock
	// Logger emits log messages.
	Logger *slog.Logger
	// CacheEvents counts cache hits and misses, labeled by event.
	CacheEvents *prometheus.CounterVec
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *ExchangerConfig) CheckAndSetDefaults() error {
	if c.Catalog == nil && c.RequireJWT {
		return trace.BadParameter("missing Catalog: strict mode requires a credential exchange endpoint")
	}
	if c.CacheSize == 0 {
		c.CacheSize = defaults.CredentialCacheSize
	}
	if c.ExchangeTimeout == 0 {
		c.ExchangeTimeout = defaults.ServiceTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

type cachedBundle struct {
	bundle  *session.CredentialBundle
	expires time.Time
}

// Exchanger resolves AWS credentials for a request by probing an ordered
// list of sources: the bundle embedded in the JWT claims, the catalog's
// exchange endpoint, then ambient credentials when strict mode is off.
// Exchange results are cached per (catalog, subject, token-hash) with a
// single in-flight fetch per key.
type Exchanger struct {
	cfg   ExchangerConfig
	cache *lru.Cache[string, cachedBundle]
	group singleflight.Group
}

// NewExchanger creates an Exchanger.
func NewExchanger(cfg ExchangerConfig) (*Exchanger, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	cache, err := lru.New[string, cachedBundle](cfg.CacheSize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Exchanger{cfg: cfg, cache: cache}, nil
}

type probe func(ctx context.Context, rc *session.RequestContext) (*session.CredentialBundle, error)

// Credentials resolves a bundle for the request. A nil bundle with a nil
// error means ambient credentials are permitted and should be used as-is.
func (e *Exchanger) Credentials(ctx context.Context, rc *session.RequestContext) (*session.CredentialBundle, error) {
	probes := []probe{e.fromClaims, e.fromCatalog, e.fromAmbient}
	for _, p := range probes {
		bundle, err := p(ctx, rc)
		switch {
		case errors.Is(err, errSkip):
			continue
		case err != nil:
			if e.cfg.RequireJWT {
				return nil, trace.Wrap(err)
			}
			e.cfg.Logger.WarnContext(ctx, "credential source failed, trying next",
				"error", err, "subject", rc.Subject())
			continue
		default:
			return bundle, nil
		}
	}
	return nil, quilterr.New(quilterr.KindAuthNoCredentials,
		"no usable AWS credentials for this request").
		WithHint("supply a bearer token, or disable require-jwt to fall back to ambient credentials")
}

// fromClaims uses the short-lived bundle embedded in the token, if any.
func (e *Exchanger) fromClaims(_ context.Context, rc *session.RequestContext) (*session.CredentialBundle, error) {
	if rc.Claims == nil || rc.Claims.AWS == nil {
		return nil, errSkip
	}
	b := rc.Claims.AWS
	if b.Expired(e.cfg.Clock.Now(), defaults.CredentialExpiryBuffer) {
		return nil, errSkip
	}
	return b, nil
}

// fromCatalog exchanges the bearer token at the catalog, with caching.
func (e *Exchanger) fromCatalog(ctx context.Context, rc *session.RequestContext) (*session.CredentialBundle, error) {
	if rc.Token == "" || e.cfg.Catalog == nil {
		return nil, errSkip
	}

	key := cacheKey(rc.CatalogURL, rc.Subject(), session.TokenHash(rc.Token))
	if cached, ok := e.cache.Get(key); ok {
		if e.cfg.Clock.Now().Before(cached.expires) {
			e.observe("hit")
			return cached.bundle, nil
		}
		e.cache.Remove(key)
	}
	e.observe("miss")

	// Concurrent refreshes for the same key collapse to one fetch; the
	// exchange runs detached from the request's cancellation because a
	// successful result is valid regardless of which request initiated it.
	result, err, _ := e.group.Do(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ExchangeTimeout)
		defer cancel()

		bundle, err := e.cfg.Catalog.GetCredentials(fetchCtx, rc.Token)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		e.cache.Add(key, cachedBundle{
			bundle:  bundle,
			expires: e.cacheExpiry(rc, bundle),
		})
		return bundle, nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result.(*session.CredentialBundle), nil
}

// fromAmbient permits the process environment/role chain outside strict
// mode. The nil bundle tells the S3 layer to build its default config.
func (e *Exchanger) fromAmbient(context.Context, *session.RequestContext) (*session.CredentialBundle, error) {
	if e.cfg.RequireJWT {
		return nil, errSkip
	}
	return nil, nil
}

// cacheExpiry is min(JWT expiry, bundle expiry) minus the safety buffer.
func (e *Exchanger) cacheExpiry(rc *session.RequestContext, bundle *session.CredentialBundle) time.Time {
	expiry := bundle.Expiration
	if rc.Claims != nil && rc.Claims.ExpiresAt != nil {
		if jwtExp := rc.Claims.ExpiresAt.Time; expiry.IsZero() || jwtExp.Before(expiry) {
			expiry = jwtExp
		}
	}
	if expiry.IsZero() {
		return e.cfg.Clock.Now().Add(defaults.CredentialExpiryBuffer)
	}
	return expiry.Add(-defaults.CredentialExpiryBuffer)
}

// Evict removes the cached bundle for a request's key, used on logout.
func (e *Exchanger) Evict(rc *session.RequestContext) {
	e.cache.Remove(cacheKey(rc.CatalogURL, rc.Subject(), session.TokenHash(rc.Token)))
}

// CacheLen reports the number of live cache entries.
func (e *Exchanger) CacheLen() int {
	return e.cache.Len()
}

func (e *Exchanger) observe(event string) {
	if e.cfg.CacheEvents != nil {
		e.cfg.CacheEvents.WithLabelValues(event).Inc()
	}
}

func cacheKey(catalog, subject, tokenHash string) string {
	return fmt.Sprintf("%s|%s|%s", catalog, subject, tokenHash)
}
