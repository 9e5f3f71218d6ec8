package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/morvin2701/pixelwallsbackend/internal/signature"
)

func TestComputeMatchesReferenceScheme(t *testing.T) {
	secret := "test_key_secret"
	v := signature.NewVerifier(secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("order_ABC123|pay_XYZ789"))
	want := hex.EncodeToString(mac.Sum(nil))

	if got := v.Compute("order_ABC123", "pay_XYZ789"); got != want {
		t.Fatalf("digest mismatch: got %s want %s", got, want)
	}
}

func TestVerify(t *testing.T) {
	v := signature.NewVerifier("test_key_secret")
	digest := v.Compute("order_ABC123", "pay_XYZ789")

	if !v.Verify("order_ABC123", "pay_XYZ789", digest) {
		t.Fatal("valid signature rejected")
	}
	if v.Verify("order_ABC123", "pay_XYZ789", digest+"00") {
		t.Fatal("tampered signature accepted")
	}
	if v.Verify("order_other", "pay_XYZ789", digest) {
		t.Fatal("signature accepted for different order")
	}
	if v.Verify("order_ABC123", "pay_XYZ789", "") {
		t.Fatal("empty signature accepted")
	}
}

func TestVerifyWithEmptySecret(t *testing.T) {
	v := signature.NewVerifier("")
	if v.Verify("order_ABC123", "pay_XYZ789", v.Compute("order_ABC123", "pay_XYZ789")) {
		t.Fatal("verifier without secret must reject everything")
	}
}
