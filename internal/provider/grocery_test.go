package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fulfillment-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGroceryClient(baseURL string) *GroceryClient {
	return NewGroceryClient(config.GroceryConfig{
		BaseURL:       baseURL,
		APIKey:        "grocery-key",
		PartnerID:     "partner-42",
		WebhookSecret: "grocery-webhook-secret",
	}, 5*time.Second)
}

func TestGroceryQuoteConvertsMajorUnits(t *testing.T) {
	var gotAuth, gotPartner string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPartner = r.Header.Get("X-Partner-ID")
		assert.Equal(t, "/partner/v1/quotes", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"estimated_total":45.50,"currency":"USD","eta_minutes":40}`))
	}))
	defer srv.Close()

	c := newTestGroceryClient(srv.URL)

	est, err := c.Quote(context.Background(), &Request{
		Quantity: 1,
		Metadata: map[string]string{"store_id": "store-9", "sku": "essentials", "dropoff_address": "hotel"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer grocery-key", gotAuth)
	assert.Equal(t, "partner-42", gotPartner)
	// 45.50 on the wire is 4550 minor units internally
	assert.Equal(t, int64(4550), est.Amount)
}

func TestGroceryPlaceSendsMajorUnitsAndPartnerRef(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order_ref":"gr-555","status":"created"}`))
	}))
	defer srv.Close()

	c := newTestGroceryClient(srv.URL)

	ref, err := c.Place(context.Background(), &Request{
		LineID:   "line-7",
		Quantity: 3,
		Amount:   4550,
		Currency: "USD",
		Metadata: map[string]string{"store_id": "store-9", "sku": "essentials", "dropoff_address": "hotel"},
	})
	require.NoError(t, err)

	assert.Equal(t, "gr-555", ref.ID)
	assert.Equal(t, "grocery-line-7", gotBody["partner_order_ref"])
	assert.Equal(t, 45.50, gotBody["order_total"])
}

func TestGroceryMinorMajorConversion(t *testing.T) {
	assert.Equal(t, int64(4550), majorToMinor(45.50))
	assert.Equal(t, int64(1), majorToMinor(0.01))
	// float noise must round, not truncate
	assert.Equal(t, int64(4899), majorToMinor(48.99))

	assert.Equal(t, 45.50, minorToMajor(4550))
	assert.Equal(t, 0.01, minorToMajor(1))
}

func TestGroceryRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestGroceryClient(srv.URL)
	_, err := c.Place(context.Background(), &Request{LineID: "line-1"})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.True(t, IsTransient(err))
}

func TestGroceryVerifySignature(t *testing.T) {
	c := newTestGroceryClient("http://unused")
	payload := []byte(`{"event_id":"gev-1"}`)

	mac := hmac.New(sha256.New, []byte("grocery-webhook-secret"))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, c.VerifySignature(payload, signature))
	assert.False(t, c.VerifySignature(payload, signature[:10]))
}
