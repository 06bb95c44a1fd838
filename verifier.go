package appleid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// VerificationRequest carries a raw identity token and what it must be bound to.
type VerificationRequest struct {
	IDToken string
	// Nonce is compared with the token's "nonce" claim when non-empty.
	Nonce string
	// ClientIDs are the acceptable audiences; Config.ClientIDs is used when empty.
	ClientIDs []string
}

// Verifier verifies Sign in with Apple identity tokens.
type Verifier struct {
	cfg      Config
	resolver KeyResolver
}

// NewVerifier builds a verifier backed by its own JWKS resolver.
func NewVerifier(cfg Config) (*Verifier, error) {
	resolver, err := NewKeyResolver(cfg)
	if err != nil {
		return nil, err
	}
	return NewVerifierWithResolver(cfg, resolver)
}

// NewVerifierWithResolver builds a verifier that looks keys up through resolver.
func NewVerifierWithResolver(cfg Config, resolver KeyResolver) (*Verifier, error) {
	if resolver == nil {
		return nil, newError(ErrCodeInvalidConfig, errors.New("key resolver is required"))
	}
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &Verifier{cfg: cfg, resolver: resolver}, nil
}

// Verify checks the token's signature, algorithm, issuer and audience and
// returns its claims. Claims are never returned when any check fails.
func (v *Verifier) Verify(ctx context.Context, req VerificationRequest) (Claims, error) {
	raw := strings.TrimSpace(req.IDToken)

	// The unverified header only selects the key; nothing else is trusted from it.
	kid, alg, payload, err := peekHeader(raw)
	if err != nil {
		return nil, err
	}

	key, err := v.resolver.ResolveKey(ctx, kid)
	if err != nil {
		if CodeOf(err) != ErrCodeKeyLookup {
			err = newError(ErrCodeKeyLookup, err)
		}
		return nil, err
	}

	if alg != key.Algorithm {
		return nil, newErrorf(ErrCodeAlgorithmMismatch, "alg %q does not match published key %q (expected %q)", alg, kid, key.Algorithm)
	}
	sigAlg, err := signatureAlgorithm(alg)
	if err != nil {
		return nil, newError(ErrCodeAlgorithmMismatch, err)
	}

	parseOpts := []jwt.ParseOption{
		jwt.WithKey(sigAlg, key.Key),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.cfg.ClockSkew),
	}
	if req.Nonce != "" {
		parseOpts = append(parseOpts, jwt.WithClaimValue("nonce", req.Nonce))
	}
	token, err := jwt.Parse([]byte(raw), parseOpts...)
	if err != nil {
		return nil, newError(ErrCodeSignatureInvalid, err)
	}

	if iss := token.Issuer(); iss != AppleBaseURL {
		return nil, newErrorf(ErrCodeIssuerMismatch, "iss %q (expected %q)", iss, AppleBaseURL)
	}

	expected := compactStrings(req.ClientIDs)
	if len(expected) == 0 {
		expected = v.cfg.ClientIDs
	}
	// Signed audience values are compared as issued; only empty entries are dropped.
	aud := nonEmpty(token.Audience())
	if !intersects(aud, expected) {
		return nil, newErrorf(ErrCodeAudienceMismatch, "aud %v (expected one of %v)", aud, expected)
	}

	// payload is the byte range jwt.Parse just verified the signature over.
	claims, err := decodeClaims(payload)
	if err != nil {
		return nil, newError(ErrCodeMalformedToken, fmt.Errorf("decode payload: %w", err))
	}
	claims.normalize()

	v.cfg.Logger.DebugContext(ctx, "apple identity token verified", slog.String("kid", kid), slog.String("alg", alg))
	return claims, nil
}

// peekHeader decodes the compact JWS without verifying it and returns the
// protected header's kid and alg along with the payload.
func peekHeader(raw string) (kid, alg string, payload []byte, err error) {
	if raw == "" {
		return "", "", nil, newError(ErrCodeMalformedToken, errors.New("token is empty"))
	}
	if strings.Count(raw, ".") != 2 {
		return "", "", nil, newError(ErrCodeMalformedToken, errors.New("token is not a compact JWS"))
	}
	msg, err := jws.Parse([]byte(raw))
	if err != nil {
		return "", "", nil, newError(ErrCodeMalformedToken, err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return "", "", nil, newErrorf(ErrCodeMalformedToken, "expected 1 signature, got %d", len(sigs))
	}
	headers := sigs[0].ProtectedHeaders()
	kid = headers.KeyID()
	alg = headers.Algorithm().String()
	switch {
	case kid == "":
		return "", "", nil, newError(ErrCodeMalformedToken, errors.New("header has no kid"))
	case alg == "":
		return "", "", nil, newError(ErrCodeMalformedToken, errors.New("header has no alg"))
	}
	return kid, alg, msg.Payload(), nil
}

func signatureAlgorithm(alg string) (jwa.SignatureAlgorithm, error) {
	var sa jwa.SignatureAlgorithm
	if err := sa.Accept(alg); err != nil {
		return "", fmt.Errorf("unsupported alg %q: %w", alg, err)
	}
	if sa == jwa.NoSignature {
		return "", errors.New(`alg "none" is not accepted`)
	}
	return sa, nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// intersects reports whether any value appears in both lists.
// An empty list on either side never matches.
func intersects(values, allowed []string) bool {
	for _, v := range values {
		for _, a := range allowed {
			if v == a {
				return true
			}
		}
	}
	return false
}
