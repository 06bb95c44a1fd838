package appleid

import "github.com/google/uuid"

// NewNonce returns a random value to send with an authorization request and
// later pass as VerificationRequest.Nonce.
func NewNonce() string {
	return uuid.NewString()
}
