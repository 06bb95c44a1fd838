package appleid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeyResolver returns the published signing key for a key identifier.
type KeyResolver interface {
	ResolveKey(ctx context.Context, kid string) (ResolvedKey, error)
}

// ResolvedKey is a public signing key exactly as Apple published it.
type ResolvedKey struct {
	Key       jwk.Key
	KeyID     string
	Algorithm string
}

// Raw exports the key as a crypto.PublicKey.
func (k ResolvedKey) Raw() (any, error) {
	if k.Key == nil {
		return nil, errors.New("resolved key is empty")
	}
	var raw any
	if err := k.Key.Raw(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// JWKSResolver resolves keys from a cached JWKS document.
// One instance owns one cache; construct it once and share it by pointer.
type JWKSResolver struct {
	url     string
	cache   *jwk.Cache
	timeout time.Duration
	logger  *slog.Logger
}

// NewKeyResolver registers the configured key-set URL with a fresh cache.
// Nothing is fetched until the first lookup or Warmup.
func NewKeyResolver(cfg Config) (*JWKSResolver, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	cache := jwk.NewCache(context.Background())
	if err := cache.Register(
		cfg.KeySetURL,
		jwk.WithMinRefreshInterval(cfg.MinRefresh),
		jwk.WithHTTPClient(cfg.HTTPClient),
	); err != nil {
		return nil, newError(ErrCodeInvalidConfig, fmt.Errorf("register jwks %q: %w", cfg.KeySetURL, err))
	}
	return &JWKSResolver{
		url:     cfg.KeySetURL,
		cache:   cache,
		timeout: cfg.HTTPTimeout,
		logger:  cfg.Logger,
	}, nil
}

// Warmup fetches the key set now instead of on the first lookup.
// The fetch is bounded by HTTPTimeout whatever client is configured.
func (r *JWKSResolver) Warmup(ctx context.Context) error {
	refreshCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		refreshCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if _, err := r.cache.Refresh(refreshCtx, r.url); err != nil {
		r.logger.WarnContext(ctx, "apple key set warmup failed", slog.String("url", r.url), slog.Any("error", err))
		return newError(ErrCodeKeyLookup, err)
	}
	return nil
}

// ResolveKey looks kid up in the cached key set. An unknown kid fails
// without refreshing the cache or falling back to another key.
func (r *JWKSResolver) ResolveKey(ctx context.Context, kid string) (ResolvedKey, error) {
	if kid == "" {
		return ResolvedKey{}, newError(ErrCodeKeyLookup, errors.New("kid is empty"))
	}
	set, err := r.cache.Get(ctx, r.url)
	if err != nil {
		r.logger.WarnContext(ctx, "apple key set fetch failed", slog.String("url", r.url), slog.Any("error", err))
		return ResolvedKey{}, newError(ErrCodeKeyLookup, fmt.Errorf("fetch %s: %w", r.url, err))
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		r.logger.DebugContext(ctx, "apple signing key not found", slog.String("kid", kid), slog.Int("keys", set.Len()))
		return ResolvedKey{}, newErrorf(ErrCodeKeyLookup, "kid %q not found in key set", kid)
	}
	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return ResolvedKey{}, newError(ErrCodeKeyLookup, fmt.Errorf("kid %q: %w", kid, err))
	}
	var alg string
	if a := key.Algorithm(); a != nil {
		alg = a.String()
	}
	return ResolvedKey{
		Key:       pub,
		KeyID:     key.KeyID(),
		Algorithm: alg,
	}, nil
}
