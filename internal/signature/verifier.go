package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier authenticates payment-completion claims against the shared secret
// known only to this service and the payment gateway.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a verifier keyed by the gateway shared secret.
func NewVerifier(secret string) Verifier {
	return Verifier{secret: []byte(secret)}
}

// Compute returns the hex HMAC-SHA256 digest over "orderID|paymentID". This is
// the scheme Razorpay uses to sign checkout completion callbacks.
func (v Verifier) Compute(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID))
	mac.Write([]byte("|"))
	mac.Write([]byte(paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the provided digest matches the expected signature.
// The comparison is constant-time.
func (v Verifier) Verify(orderID, paymentID, provided string) bool {
	if len(v.secret) == 0 || provided == "" {
		return false
	}
	expected := v.Compute(orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(provided))
}
