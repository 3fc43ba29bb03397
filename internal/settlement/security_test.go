package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"issuing_authorization.created"}`)
	sig := SignBody("topsecret", body)

	assert.True(t, VerifySignature("topsecret", body, sig))

	// Подпись без префикса тоже принимается
	assert.True(t, VerifySignature("topsecret", body, sig[len("sha256="):]))
}

func TestVerifySignatureRejects(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	sig := SignBody("topsecret", body)

	testCases := []struct {
		name   string
		secret string
		body   []byte
		header string
	}{
		{"wrong secret", "other", body, sig},
		{"tampered body", "topsecret", []byte(`{"id":"evt_2"}`), sig},
		{"empty header", "topsecret", body, ""},
		{"garbage header", "topsecret", body, "sha256=zzzz"},
		{"empty secret", "", body, sig},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, VerifySignature(tc.secret, tc.body, tc.header))
		})
	}
}
