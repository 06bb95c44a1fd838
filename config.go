package appleid

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

const (
	// AppleBaseURL is both the key-set host and the only accepted "iss" value.
	AppleBaseURL = "https://appleid.apple.com"
	// KeySetPath is where Apple publishes its signing keys.
	KeySetPath = "/auth/keys"
	// TokenPath is Apple's authorization-code exchange endpoint.
	TokenPath = "/auth/token"
	// AuthorizePath is Apple's authorization endpoint.
	AuthorizePath = "/auth/authorize"
)

var validate = validator.New()

// Config describes how tokens are verified.
type Config struct {
	// ClientIDs are the audiences accepted when a request carries none.
	ClientIDs []string
	// KeySetURL only needs overriding in tests; the issuer check is fixed to AppleBaseURL.
	KeySetURL string `default:"https://appleid.apple.com/auth/keys" validate:"required,url"`
	// ClockSkew tolerates exp/iat/nbf drift. Zero means none.
	ClockSkew   time.Duration `validate:"gte=0"`
	MinRefresh  time.Duration `default:"10m" validate:"gt=0"`
	HTTPTimeout time.Duration `default:"5s" validate:"gt=0"`

	HTTPClient *http.Client `default:"-" validate:"-"`
	Logger     *slog.Logger `default:"-" validate:"-"`
}

// normalize fills optional fields and validates the result.
func (c Config) normalize() (Config, error) {
	out := c
	out.ClientIDs = compactStrings(c.ClientIDs)
	if err := defaults.Set(&out); err != nil {
		return Config{}, newError(ErrCodeInvalidConfig, fmt.Errorf("apply defaults: %w", err))
	}
	if err := validate.Struct(out); err != nil {
		return Config{}, newError(ErrCodeInvalidConfig, err)
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{
			Timeout: out.HTTPTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out, nil
}

// compactStrings trims values and drops empty ones. Only used on
// caller-supplied lists, never on signed claims.
func compactStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
