package appleid

import (
	"context"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestJWKSResolver_ResolveKey(t *testing.T) {
	keys := newKeySet(t)
	resolver := newTestResolver(t, keys.url)

	key, err := resolver.ResolveKey(context.Background(), testKID)
	if err != nil {
		t.Fatalf("ResolveKey: %v", err)
	}
	if key.KeyID != testKID {
		t.Fatalf("unexpected kid: %s", key.KeyID)
	}
	if key.Algorithm != "RS256" {
		t.Fatalf("unexpected alg: %s", key.Algorithm)
	}

	raw, err := key.Raw()
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	pub, ok := raw.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", raw)
	}
	if pub.N.Cmp(keys.priv.N) != 0 {
		t.Fatal("resolved key does not match the published key")
	}
}

func TestJWKSResolver_UnknownAndEmptyKID(t *testing.T) {
	keys := newKeySet(t)
	resolver := newTestResolver(t, keys.url)

	_, err := resolver.ResolveKey(context.Background(), "missing")
	assertCode(t, err, ErrCodeKeyLookup)

	_, err = resolver.ResolveKey(context.Background(), "")
	assertCode(t, err, ErrCodeKeyLookup)

	// The miss is served from the cache, never by a refetch.
	if _, err := resolver.ResolveKey(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
	if got := atomic.LoadInt32(&keys.hits); got != 1 {
		t.Fatalf("expected one key set fetch, got %d", got)
	}
}

func TestJWKSResolver_ConcurrentLookupsFetchOnce(t *testing.T) {
	keys := newKeySet(t)
	resolver := newTestResolver(t, keys.url)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := resolver.ResolveKey(context.Background(), testKID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ResolveKey: %v", err)
	}
	if got := atomic.LoadInt32(&keys.hits); got != 1 {
		t.Fatalf("expected one key set fetch, got %d", got)
	}
}

func TestJWKSResolver_Warmup(t *testing.T) {
	keys := newKeySet(t)
	resolver := newTestResolver(t, keys.url)

	if err := resolver.Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if _, err := resolver.ResolveKey(context.Background(), testKID); err != nil {
		t.Fatalf("ResolveKey: %v", err)
	}
	if got := atomic.LoadInt32(&keys.hits); got != 1 {
		t.Fatalf("expected lookup served from warmed cache, got %d fetches", got)
	}
}

func TestJWKSResolver_FetchFailures(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"malformed body": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"keys": [`))
		},
	}
	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(handler)
			t.Cleanup(server.Close)
			resolver := newTestResolver(t, server.URL)

			_, err := resolver.ResolveKey(context.Background(), testKID)
			assertCode(t, err, ErrCodeKeyLookup)

			err = resolver.Warmup(context.Background())
			assertCode(t, err, ErrCodeKeyLookup)
		})
	}
}

func TestJWKSResolver_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	resolver, err := NewKeyResolver(Config{
		KeySetURL:   server.URL,
		MinRefresh:  time.Hour,
		HTTPTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewKeyResolver: %v", err)
	}
	_, err = resolver.ResolveKey(context.Background(), testKID)
	assertCode(t, err, ErrCodeKeyLookup)
}

func TestJWKSResolver_WarmupBoundedByTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	// The supplied client has no timeout of its own.
	resolver, err := NewKeyResolver(Config{
		KeySetURL:   server.URL,
		MinRefresh:  time.Hour,
		HTTPTimeout: 50 * time.Millisecond,
		HTTPClient:  &http.Client{},
	})
	if err != nil {
		t.Fatalf("NewKeyResolver: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- resolver.Warmup(context.Background()) }()
	select {
	case err := <-done:
		assertCode(t, err, ErrCodeKeyLookup)
	case <-time.After(5 * time.Second):
		t.Fatal("Warmup did not honor HTTPTimeout")
	}
}

func TestNewKeyResolver_InvalidConfig(t *testing.T) {
	_, err := NewKeyResolver(Config{KeySetURL: "not a url"})
	assertCode(t, err, ErrCodeInvalidConfig)
}

func newTestResolver(t *testing.T, url string) *JWKSResolver {
	t.Helper()
	resolver, err := NewKeyResolver(Config{
		KeySetURL:   url,
		MinRefresh:  time.Hour,
		HTTPTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewKeyResolver: %v", err)
	}
	return resolver
}
