package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the request header carrying the processor signature.
const SignatureHeader = "Paddle-Signature"

type signatureParts struct {
	ts string
	h1 []string
}

// parseSignatureHeader splits "ts=<unix>;h1=<hex>" into its parts. Both keys
// are required; unknown keys are ignored. h1 may repeat while the processor
// rotates its own keys.
func parseSignatureHeader(header string) (signatureParts, bool) {
	var parts signatureParts
	for _, field := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case "ts":
			parts.ts = value
		case "h1":
			parts.h1 = append(parts.h1, value)
		}
	}
	return parts, parts.ts != "" && len(parts.h1) > 0
}

// VerifyWebhookSignature checks header against an HMAC-SHA256 of
// "{ts}:{payload}" keyed with secret. It never panics and returns false for a
// missing or malformed header or an empty secret.
func VerifyWebhookSignature(payload []byte, header, secret string) bool {
	parts, ok := parseSignatureHeader(header)
	if !ok {
		return false
	}
	return verifyParts(payload, parts, secret)
}

func verifyParts(payload []byte, parts signatureParts, secret string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	expected := computeSignature(payload, parts.ts, secret)
	for _, candidate := range parts.h1 {
		if constantTimeEqual(expected, candidate) {
			return true
		}
	}
	return false
}

func computeSignature(payload []byte, ts, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte{':'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignWebhookPayload builds a header value for payload, as the processor
// does. Used by tests and local tooling.
func SignWebhookPayload(payload []byte, ts time.Time, secret string) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "ts=" + unix + ";h1=" + computeSignature(payload, unix, secret)
}

// constantTimeEqual compares two strings without an early exit on the first
// differing byte.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var acc byte
	for i := 0; i < len(a); i++ {
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}

// SignatureVerifier accepts deliveries signed with any configured secret,
// current first, then the previous one during a rotation.
type SignatureVerifier struct {
	secrets   []string
	tolerance time.Duration
	now       func() time.Time
}

// NewSignatureVerifier returns a verifier for secrets. A positive tolerance
// also rejects timestamps further than tolerance from the current time.
func NewSignatureVerifier(secrets []string, tolerance time.Duration) *SignatureVerifier {
	return &SignatureVerifier{
		secrets:   secrets,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Configured reports whether at least one secret is set.
func (v *SignatureVerifier) Configured() bool {
	for _, s := range v.secrets {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

func (v *SignatureVerifier) Verify(payload []byte, header string) bool {
	parts, ok := parseSignatureHeader(header)
	if !ok {
		return false
	}
	if v.tolerance > 0 && !v.withinTolerance(parts.ts) {
		return false
	}
	for _, secret := range v.secrets {
		if verifyParts(payload, parts, secret) {
			return true
		}
	}
	return false
}

func (v *SignatureVerifier) withinTolerance(ts string) bool {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	skew := v.now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	return skew <= v.tolerance
}
