package provider

import (
	"context"
	"math"
	"net/http"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/models"
)

// GroceryClient integrates the grocery delivery provider: static bearer key
// plus a partner id header on every call.
//
// This provider quotes and bills in major currency units (e.g. dollars) on
// the wire, unlike the other two. All conversion to the internal minor-unit
// representation happens here and nowhere else.
type GroceryClient struct {
	transport
	apiKey        string
	partnerID     string
	webhookSecret string
}

// NewGroceryClient creates a grocery delivery provider client
func NewGroceryClient(cfg config.GroceryConfig, timeout time.Duration) *GroceryClient {
	return &GroceryClient{
		transport:     newTransport(cfg.BaseURL, timeout),
		apiKey:        cfg.APIKey,
		partnerID:     cfg.PartnerID,
		webhookSecret: cfg.WebhookSecret,
	}
}

// Name returns the provider identifier
func (c *GroceryClient) Name() models.Provider {
	return models.ProviderGrocery
}

func (c *GroceryClient) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"X-Partner-ID":  c.partnerID,
	}
}

// majorToMinor converts wire amounts (major units) to minor units
func majorToMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// minorToMajor converts internal minor-unit amounts to the provider's wire
// representation
func minorToMajor(amount int64) float64 {
	return float64(amount) / 100
}

type groceryQuoteResponse struct {
	EstimatedTotal float64 `json:"estimated_total"`
	Currency       string  `json:"currency"`
	EtaMinutes     int     `json:"eta_minutes"`
}

// Quote requests a basket estimate
func (c *GroceryClient) Quote(ctx context.Context, req *Request) (*Estimate, error) {
	body := map[string]interface{}{
		"store_id":         req.Metadata["store_id"],
		"delivery_address": req.Metadata["dropoff_address"],
		"items": []map[string]interface{}{
			{"sku": req.Metadata["sku"], "quantity": req.Quantity},
		},
	}

	var out groceryQuoteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/partner/v1/quotes", c.authHeaders(), body, &out); err != nil {
		return nil, err
	}
	return &Estimate{
		Provider:   models.ProviderGrocery,
		Amount:     majorToMinor(out.EstimatedTotal),
		Currency:   out.Currency,
		EtaMinutes: out.EtaMinutes,
	}, nil
}

type groceryOrderResponse struct {
	OrderRef  string    `json:"order_ref"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Place creates a grocery order. The partner_order_ref is derived from the
// order line id and honored by the provider as an idempotency key.
func (c *GroceryClient) Place(ctx context.Context, req *Request) (*Reference, error) {
	body := map[string]interface{}{
		"partner_order_ref": "grocery-" + req.LineID,
		"store_id":          req.Metadata["store_id"],
		"delivery_address":  req.Metadata["dropoff_address"],
		"order_total":       minorToMajor(req.Amount),
		"currency":          req.Currency,
		"items": []map[string]interface{}{
			{"sku": req.Metadata["sku"], "quantity": req.Quantity},
		},
	}
	if req.ScheduledFor != nil {
		body["delivery_window_start"] = req.ScheduledFor.UTC().Format(time.RFC3339)
	}

	var out groceryOrderResponse
	if err := c.doJSON(ctx, http.MethodPost, "/partner/v1/orders", c.authHeaders(), body, &out); err != nil {
		return nil, err
	}
	return &Reference{Provider: models.ProviderGrocery, ID: out.OrderRef, State: out.Status}, nil
}

// GetStatus polls grocery order state
func (c *GroceryClient) GetStatus(ctx context.Context, ref string) (*Status, error) {
	var out groceryOrderResponse
	if err := c.doJSON(ctx, http.MethodGet, "/partner/v1/orders/"+ref, c.authHeaders(), nil, &out); err != nil {
		return nil, err
	}
	return &Status{
		Provider:  models.ProviderGrocery,
		Reference: out.OrderRef,
		State:     out.Status,
		UpdatedAt: out.UpdatedAt,
	}, nil
}

// Cancel cancels a grocery order
func (c *GroceryClient) Cancel(ctx context.Context, guestID, ref string) error {
	return c.doJSON(ctx, http.MethodPost, "/partner/v1/orders/"+ref+"/cancel", c.authHeaders(), nil, nil)
}

// VerifySignature checks the webhook HMAC-SHA256 over the raw payload bytes
// in constant time
func (c *GroceryClient) VerifySignature(payload []byte, signature string) bool {
	return verifyHMAC(c.webhookSecret, payload, signature)
}
