package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/models"
)

// assertionTTL is the validity window of a signed request assertion. Short
// enough that caching one is pointless; a fresh assertion is generated per
// request.
const assertionTTL = 5 * time.Minute

// FoodClient integrates the food delivery provider. Every outbound call is
// authenticated with a time-boxed signed assertion: three dot-joined
// base64url segments (header, claims, HMAC-SHA256 over "header.claims").
type FoodClient struct {
	transport
	issuer        string
	keyID         string
	audience      string
	signingSecret string
	webhookSecret string
	now           func() time.Time
}

// NewFoodClient creates a food delivery provider client
func NewFoodClient(cfg config.FoodConfig, timeout time.Duration) *FoodClient {
	return &FoodClient{
		transport:     newTransport(cfg.BaseURL, timeout),
		issuer:        cfg.Issuer,
		keyID:         cfg.KeyID,
		audience:      cfg.Audience,
		signingSecret: cfg.SigningSecret,
		webhookSecret: cfg.WebhookSecret,
		now:           time.Now,
	}
}

// Name returns the provider identifier
func (c *FoodClient) Name() models.Provider {
	return models.ProviderFood
}

// signedAssertion builds a fresh request assertion
func (c *FoodClient) signedAssertion() (string, error) {
	header := map[string]string{
		"alg": "HS256",
		"typ": "JWT",
		"kid": c.keyID,
	}
	iat := c.now().Unix()
	claims := map[string]interface{}{
		"iss": c.issuer,
		"aud": c.audience,
		"iat": iat,
		"exp": iat + int64(assertionTTL.Seconds()),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to marshal assertion header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal assertion claims: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(claimsJSON)

	mac := hmac.New(sha256.New, []byte(c.signingSecret))
	mac.Write([]byte(signingInput))

	return signingInput + "." + enc.EncodeToString(mac.Sum(nil)), nil
}

func (c *FoodClient) authHeaders() (map[string]string, error) {
	assertion, err := c.signedAssertion()
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + assertion}, nil
}

type foodQuoteResponse struct {
	Fee        int64  `json:"fee"`
	Currency   string `json:"currency"`
	EtaMinutes int    `json:"dropoff_eta_minutes"`
}

// Quote requests a delivery fee estimate. Amounts are minor currency units
// on this provider's wire.
func (c *FoodClient) Quote(ctx context.Context, req *Request) (*Estimate, error) {
	headers, err := c.authHeaders()
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"pickup_address":  req.Metadata["pickup_address"],
		"dropoff_address": req.Metadata["dropoff_address"],
	}

	var out foodQuoteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/delivery_quotes", headers, body, &out); err != nil {
		return nil, err
	}
	return &Estimate{
		Provider:   models.ProviderFood,
		Amount:     out.Fee,
		Currency:   out.Currency,
		EtaMinutes: out.EtaMinutes,
	}, nil
}

type foodDeliveryResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Place creates a delivery. The external_delivery_id is derived from the
// order line id, so a retried call lands on the same provider-side delivery
// instead of creating a duplicate.
func (c *FoodClient) Place(ctx context.Context, req *Request) (*Reference, error) {
	headers, err := c.authHeaders()
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"external_delivery_id": "delivery-" + req.LineID,
		"pickup_address":       req.Metadata["pickup_address"],
		"dropoff_address":      req.Metadata["dropoff_address"],
		"order_value":          req.Amount,
		"currency":             req.Currency,
		"items": []map[string]interface{}{
			{"name": req.Metadata["item_name"], "quantity": req.Quantity},
		},
	}
	if req.ScheduledFor != nil {
		body["pickup_time"] = req.ScheduledFor.UTC().Format(time.RFC3339)
	}

	var out foodDeliveryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/deliveries", headers, body, &out); err != nil {
		return nil, err
	}
	return &Reference{Provider: models.ProviderFood, ID: out.ID, State: out.Status}, nil
}

// GetStatus polls delivery state
func (c *FoodClient) GetStatus(ctx context.Context, ref string) (*Status, error) {
	headers, err := c.authHeaders()
	if err != nil {
		return nil, err
	}

	var out foodDeliveryResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/deliveries/"+ref, headers, nil, &out); err != nil {
		return nil, err
	}
	return &Status{
		Provider:  models.ProviderFood,
		Reference: out.ID,
		State:     out.Status,
		UpdatedAt: out.UpdatedAt,
	}, nil
}

// Cancel cancels a delivery
func (c *FoodClient) Cancel(ctx context.Context, guestID, ref string) error {
	headers, err := c.authHeaders()
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/deliveries/"+ref+"/cancel", headers, nil, nil)
}

// VerifySignature checks the webhook HMAC-SHA256 over the raw payload bytes
func (c *FoodClient) VerifySignature(payload []byte, signature string) bool {
	return verifyHMAC(c.webhookSecret, payload, signature)
}
