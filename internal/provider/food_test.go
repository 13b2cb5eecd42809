package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fulfillment-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFoodClient(baseURL string) *FoodClient {
	return NewFoodClient(config.FoodConfig{
		BaseURL:       baseURL,
		Issuer:        "hotel-upsell",
		KeyID:         "key-1",
		Audience:      "food-delivery-api",
		SigningSecret: "signing-secret",
		WebhookSecret: "food-webhook-secret",
	}, 5*time.Second)
}

func TestFoodSignedAssertionFormat(t *testing.T) {
	c := newTestFoodClient("http://unused")
	issuedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return issuedAt }

	assertion, err := c.signedAssertion()
	require.NoError(t, err)

	segments := strings.Split(assertion, ".")
	require.Len(t, segments, 3)

	enc := base64.RawURLEncoding

	headerJSON, err := enc.DecodeString(segments[0])
	require.NoError(t, err)
	var header map[string]string
	require.NoError(t, json.Unmarshal(headerJSON, &header))
	assert.Equal(t, "HS256", header["alg"])
	assert.Equal(t, "key-1", header["kid"])

	claimsJSON, err := enc.DecodeString(segments[1])
	require.NoError(t, err)
	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal(claimsJSON, &claims))
	assert.Equal(t, "hotel-upsell", claims["iss"])
	assert.Equal(t, "food-delivery-api", claims["aud"])
	assert.Equal(t, float64(issuedAt.Unix()), claims["iat"])
	// five-minute validity window
	assert.Equal(t, float64(issuedAt.Unix()+300), claims["exp"])

	// signature is HMAC-SHA256 over "header.claims"
	mac := hmac.New(sha256.New, []byte("signing-secret"))
	mac.Write([]byte(segments[0] + "." + segments[1]))
	assert.Equal(t, enc.EncodeToString(mac.Sum(nil)), segments[2])
}

func TestFoodAssertionNeverReused(t *testing.T) {
	c := newTestFoodClient("http://unused")

	times := []time.Time{
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC),
	}
	i := 0
	c.now = func() time.Time { t := times[i]; i++; return t }

	first, err := c.signedAssertion()
	require.NoError(t, err)
	second, err := c.signedAssertion()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestFoodPlaceSendsAssertionAndIdempotencyKey(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"del-123","status":"created"}`))
	}))
	defer srv.Close()

	c := newTestFoodClient(srv.URL)

	ref, err := c.Place(context.Background(), &Request{
		OrderID:  "order-1",
		LineID:   "line-1",
		Quantity: 2,
		Amount:   7000,
		Currency: "USD",
		Metadata: map[string]string{
			"item_name":       "Dinner for two",
			"pickup_address":  "restaurant",
			"dropoff_address": "hotel",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "del-123", ref.ID)

	require.True(t, strings.HasPrefix(gotAuth, "Bearer "))
	assert.Len(t, strings.Split(strings.TrimPrefix(gotAuth, "Bearer "), "."), 3)

	// deterministic provider-side idempotency key derived from the line id
	assert.Equal(t, "delivery-line-1", gotBody["external_delivery_id"])
	assert.Equal(t, float64(7000), gotBody["order_value"])
}

func TestFoodPlaceClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad address", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestFoodClient(srv.URL)
	_, err := c.Place(context.Background(), &Request{LineID: "line-1"})
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.False(t, IsTransient(err))
}

func TestFoodVerifySignature(t *testing.T) {
	c := newTestFoodClient("http://unused")
	payload := []byte(`{"event_id":"ev-9"}`)

	mac := hmac.New(sha256.New, []byte("food-webhook-secret"))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, c.VerifySignature(payload, signature))
	assert.False(t, c.VerifySignature(payload, "bogus"))
	assert.False(t, c.VerifySignature([]byte("other"), signature))
}
