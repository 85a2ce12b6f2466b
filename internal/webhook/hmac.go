package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// verifyHMACSignature verifies an HMAC-SHA256 signature against the raw
// request body. The body must be the exact bytes received on the wire;
// the sender signs byte-exact payloads, so verifying a re-serialized form
// would reject legitimate deliveries.
//
// This function uses constant-time comparison (crypto/subtle) to prevent
// timing attacks. A missing secret fails closed: a deployment without the
// shared secret rejects all traffic rather than accepting it unsigned.
//
// Supported signature formats:
//   - "<hex>" (plain hex, aggregator style)
//   - "sha256=<hex>" (GitHub style)
//
// Returns nil if the signature is valid, error otherwise. All errors are
// generic to prevent information leakage.
func verifyHMACSignature(body []byte, signature, secret string) error {
	if secret == "" {
		return fmt.Errorf("webhook verification failed")
	}

	if signature == "" {
		return fmt.Errorf("webhook verification failed")
	}

	// Compute HMAC-SHA256 of the raw body. An empty body is still
	// computed and compared, not special-cased.
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedMAC := mac.Sum(nil)

	actualMAC, err := parseSignature(signature)
	if err != nil {
		// Generic error - don't leak format details
		return fmt.Errorf("webhook verification failed")
	}

	if subtle.ConstantTimeCompare(expectedMAC, actualMAC) != 1 {
		return fmt.Errorf("webhook verification failed")
	}

	return nil
}

// parseSignature extracts and decodes the HMAC signature from its header
// representation.
func parseSignature(signature string) ([]byte, error) {
	if hexSig, ok := strings.CutPrefix(signature, "sha256="); ok {
		return hex.DecodeString(hexSig)
	}
	return hex.DecodeString(signature)
}

// computeExpectedSignature computes the hex-encoded HMAC-SHA256 signature
// for a body. Used by tests.
func computeExpectedSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
