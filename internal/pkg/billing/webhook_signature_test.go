package billing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testSecret = "pdl_ntfset_test_secret"

func TestVerifyWebhookSignatureValid(t *testing.T) {
	body := []byte(`{"event_type":"transaction.completed"}`)
	header := SignWebhookPayload(body, time.Unix(1700000000, 0), testSecret)

	assert.True(t, VerifyWebhookSignature(body, header, testSecret))
	assert.True(t, VerifyWebhookSignature(body, " ts = 1700000000 ; "+strings.Split(header, ";")[1], testSecret))
}

func TestVerifyWebhookSignatureFlippedByte(t *testing.T) {
	body := []byte(`{"event_type":"transaction.completed"}`)
	header := SignWebhookPayload(body, time.Unix(1700000000, 0), testSecret)
	prefix, sig, _ := strings.Cut(header, "h1=")

	for i := 0; i < len(sig); i++ {
		flipped := []byte(sig)
		if flipped[i] == '0' {
			flipped[i] = '1'
		} else {
			flipped[i] = '0'
		}
		if !assert.False(t, VerifyWebhookSignature(body, prefix+"h1="+string(flipped), testSecret), "byte %d", i) {
			return
		}
	}
}

func TestVerifyWebhookSignatureTamperedBody(t *testing.T) {
	body := []byte(`{"amount":100}`)
	header := SignWebhookPayload(body, time.Unix(1700000000, 0), testSecret)
	assert.False(t, VerifyWebhookSignature([]byte(`{"amount":101}`), header, testSecret))
}

func TestVerifyWebhookSignatureRejectsMalformed(t *testing.T) {
	body := []byte(`{}`)
	valid := SignWebhookPayload(body, time.Unix(1700000000, 0), testSecret)

	cases := map[string]string{
		"empty":       "",
		"no ts":       strings.Split(valid, ";")[1],
		"no h1":       strings.Split(valid, ";")[0],
		"garbage":     "not a header",
		"empty value": "ts=;h1=",
		"short h1":    "ts=1700000000;h1=abc",
	}
	for name, header := range cases {
		assert.False(t, VerifyWebhookSignature(body, header, testSecret), name)
	}
}

func TestVerifyWebhookSignatureEmptySecret(t *testing.T) {
	body := []byte(`{}`)
	header := SignWebhookPayload(body, time.Unix(1700000000, 0), "")
	assert.False(t, VerifyWebhookSignature(body, header, ""))
	assert.False(t, VerifyWebhookSignature(body, header, "   "))
}

func TestSignatureVerifierRotation(t *testing.T) {
	body := []byte(`{"event_id":"evt_1"}`)
	ts := time.Unix(1700000000, 0)
	v := NewSignatureVerifier([]string{"current", "previous"}, 0)

	assert.True(t, v.Verify(body, SignWebhookPayload(body, ts, "current")))
	assert.True(t, v.Verify(body, SignWebhookPayload(body, ts, "previous")))
	assert.False(t, v.Verify(body, SignWebhookPayload(body, ts, "other")))
}

func TestSignatureVerifierTolerance(t *testing.T) {
	body := []byte(`{}`)
	now := time.Unix(1700000000, 0)
	v := NewSignatureVerifier([]string{testSecret}, 5*time.Minute)
	v.now = func() time.Time { return now }

	assert.True(t, v.Verify(body, SignWebhookPayload(body, now.Add(-4*time.Minute), testSecret)))
	assert.False(t, v.Verify(body, SignWebhookPayload(body, now.Add(-6*time.Minute), testSecret)))
	assert.False(t, v.Verify(body, "ts=yesterday;h1="+computeSignature(body, "yesterday", testSecret)))
}

func TestSignatureVerifierConfigured(t *testing.T) {
	assert.False(t, NewSignatureVerifier(nil, 0).Configured())
	assert.False(t, NewSignatureVerifier([]string{" "}, 0).Configured())
	assert.True(t, NewSignatureVerifier([]string{"s"}, 0).Configured())
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, constantTimeEqual("abc", "abc"))
	assert.False(t, constantTimeEqual("abc", "abd"))
	assert.False(t, constantTimeEqual("abc", "abcd"))
	assert.True(t, constantTimeEqual("", ""))
}
