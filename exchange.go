package appleid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"
)

// maxSecretTTL is the longest client secret lifetime Apple accepts.
const maxSecretTTL = 180 * 24 * time.Hour

// ExchangeConfig identifies the Apple developer client used to redeem authorization codes.
type ExchangeConfig struct {
	TeamID   string `validate:"required"`
	ClientID string `validate:"required"`
	// KeyID names the Sign in with Apple private key (.p8) registered for the team.
	KeyID         string `validate:"required"`
	PrivateKeyPEM []byte `validate:"required"`
	RedirectURL   string `validate:"omitempty,url"`
	Scopes        []string

	SecretTTL time.Duration `default:"1h" validate:"gt=0"`
	AuthURL   string        `default:"https://appleid.apple.com/auth/authorize" validate:"required,url"`
	TokenURL  string        `default:"https://appleid.apple.com/auth/token" validate:"required,url"`

	HTTPClient *http.Client `default:"-" validate:"-"`
}

// ExchangeResult is a redeemed authorization code together with its verified identity token.
type ExchangeResult struct {
	Token  *oauth2.Token
	Claims Claims
}

// Exchanger redeems authorization codes and verifies the returned identity token.
// The signed client secret is cached until shortly before it expires.
type Exchanger struct {
	mu           sync.Mutex
	cfg          ExchangeConfig
	key          jwk.Key
	verifier     *Verifier
	secret       string
	secretExpiry time.Time
	now          func() time.Time
}

// NewExchanger parses the private key and prepares the OAuth client.
func NewExchanger(cfg ExchangeConfig, verifier *Verifier) (*Exchanger, error) {
	if verifier == nil {
		return nil, newError(ErrCodeInvalidConfig, errors.New("verifier is required"))
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, newError(ErrCodeInvalidConfig, fmt.Errorf("apply defaults: %w", err))
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, newError(ErrCodeInvalidConfig, err)
	}
	if cfg.SecretTTL > maxSecretTTL {
		return nil, newErrorf(ErrCodeInvalidConfig, "secret ttl %s exceeds %s", cfg.SecretTTL, maxSecretTTL)
	}
	key, err := jwk.ParseKey(cfg.PrivateKeyPEM, jwk.WithPEM(true))
	if err != nil {
		return nil, newError(ErrCodeInvalidConfig, fmt.Errorf("parse private key: %w", err))
	}
	if key.KeyType() != jwa.EC {
		return nil, newErrorf(ErrCodeInvalidConfig, "private key type %s, want EC", key.KeyType())
	}
	cfg.Scopes = append([]string(nil), cfg.Scopes...)
	return &Exchanger{
		cfg:      cfg,
		key:      key,
		verifier: verifier,
		now:      time.Now,
	}, nil
}

// AuthCodeURL returns the authorization URL that starts a Sign in with Apple flow.
func (e *Exchanger) AuthCodeURL(state, nonce string) string {
	var opts []oauth2.AuthCodeOption
	if nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))
	}
	if len(e.cfg.Scopes) > 0 {
		// Apple rejects scoped requests unless the response is posted back.
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", "form_post"))
	}
	return e.oauthConfig("").AuthCodeURL(state, opts...)
}

// Exchange redeems code and verifies the identity token in the response.
// A non-empty nonce must match the token's nonce claim.
func (e *Exchanger) Exchange(ctx context.Context, code, nonce string) (*ExchangeResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, newError(ErrCodeExchangeFailed, errors.New("authorization code is empty"))
	}
	secret, err := e.ClientSecret()
	if err != nil {
		return nil, err
	}
	if e.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.cfg.HTTPClient)
	}

	tok, err := e.oauthConfig(secret).Exchange(ctx, code)
	if err != nil {
		return nil, newError(ErrCodeExchangeFailed, err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, newError(ErrCodeExchangeFailed, errors.New("token response did not include id_token"))
	}

	claims, err := e.verifier.Verify(ctx, VerificationRequest{
		IDToken:   idToken,
		Nonce:     nonce,
		ClientIDs: []string{e.cfg.ClientID},
	})
	if err != nil {
		return nil, err
	}
	return &ExchangeResult{Token: tok, Claims: claims}, nil
}

// ClientSecret returns the ES256 client assertion Apple requires in place of a static secret.
func (e *Exchanger) ClientSecret() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.secret != "" && now.Before(e.secretExpiry.Add(-time.Minute)) {
		return e.secret, nil
	}

	expiry := now.Add(e.cfg.SecretTTL)
	tok, err := jwt.NewBuilder().
		Issuer(e.cfg.TeamID).
		Subject(e.cfg.ClientID).
		Audience([]string{AppleBaseURL}).
		IssuedAt(now).
		Expiration(expiry).
		Build()
	if err != nil {
		return "", newError(ErrCodeExchangeFailed, fmt.Errorf("build client secret: %w", err))
	}
	tok.Options().Enable(jwt.FlattenAudience)

	headers := jws.NewHeaders()
	if err := headers.Set(jws.KeyIDKey, e.cfg.KeyID); err != nil {
		return "", newError(ErrCodeExchangeFailed, fmt.Errorf("set kid: %w", err))
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.ES256, e.key, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", newError(ErrCodeExchangeFailed, fmt.Errorf("sign client secret: %w", err))
	}

	e.secret = string(signed)
	e.secretExpiry = expiry
	return e.secret, nil
}

func (e *Exchanger) oauthConfig(secret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     e.cfg.ClientID,
		ClientSecret: secret,
		RedirectURL:  e.cfg.RedirectURL,
		Scopes:       e.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   e.cfg.AuthURL,
			TokenURL:  e.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
