package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{400, KindValidation},
		{401, KindAuthExpired},
		{403, KindForbidden},
		{404, KindNotFound},
		{409, KindConflict},
		{422, KindValidation},
		{429, KindRateLimited},
		{500, KindUnreachable},
		{502, KindUnreachable},
		{503, KindUnreachable},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := ClassifyStatus(tt.status, "boom")
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, tt.status, err.Status)
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&Error{Kind: KindUnreachable}))
	assert.True(t, IsTransient(&Error{Kind: KindRateLimited}))

	assert.False(t, IsTransient(&Error{Kind: KindValidation}))
	assert.False(t, IsTransient(&Error{Kind: KindAuthExpired}))
	assert.False(t, IsTransient(&Error{Kind: KindNotFound}))
	assert.False(t, IsTransient(&Error{Kind: KindConflict}))
	assert.False(t, IsTransient(errors.New("plain error")))
}

func TestIsTransientWrapped(t *testing.T) {
	wrapped := fmt.Errorf("place failed: %w", &Error{Kind: KindUnreachable, Status: 503})
	assert.True(t, IsTransient(wrapped))
	assert.Equal(t, KindUnreachable, KindOf(wrapped))
}

func TestVerifyHMAC(t *testing.T) {
	secret := "webhook-secret"
	payload := []byte(`{"event_id":"ev-1","event_type":"delivered"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, verifyHMAC(secret, payload, signature))
	assert.True(t, verifyHMAC(secret, payload, "sha256="+signature))

	assert.False(t, verifyHMAC(secret, payload, "deadbeef"))
	assert.False(t, verifyHMAC(secret, []byte("tampered"), signature))
	assert.False(t, verifyHMAC(secret, payload, "not-hex!"))
	assert.False(t, verifyHMAC(secret, payload, ""))
	assert.False(t, verifyHMAC("", payload, signature))
}
