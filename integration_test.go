package appleid

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestAppleKeySetIntegration(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("RUN_INTEGRATION_TESTS not set to true")
	}

	resolver, err := NewKeyResolver(Config{HTTPTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewKeyResolver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := resolver.Warmup(ctx); err != nil {
		t.Fatalf("Warmup: %v", err)
	}

	set, err := resolver.cache.Get(ctx, resolver.url)
	if err != nil {
		t.Fatalf("cached key set: %v", err)
	}
	if set.Len() == 0 {
		t.Fatal("Apple published no signing keys")
	}
	first, _ := set.Key(0)
	key, err := resolver.ResolveKey(ctx, first.KeyID())
	if err != nil {
		t.Fatalf("ResolveKey(%q): %v", first.KeyID(), err)
	}
	if key.Algorithm == "" {
		t.Fatalf("key %q published without alg", key.KeyID)
	}

	token := strings.TrimSpace(os.Getenv("APPLE_TEST_TOKEN"))
	clientID := strings.TrimSpace(os.Getenv("APPLE_CLIENT_ID"))
	if token == "" || clientID == "" {
		return
	}
	verifier, err := NewVerifierWithResolver(Config{ClientIDs: []string{clientID}}, resolver)
	if err != nil {
		t.Fatalf("NewVerifierWithResolver: %v", err)
	}
	claims, err := verifier.Verify(ctx, VerificationRequest{
		IDToken: token,
		Nonce:   os.Getenv("APPLE_TEST_NONCE"),
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject() == "" {
		t.Fatal("claims.Subject empty")
	}
}
