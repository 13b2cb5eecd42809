package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// TokenCache stores per-guest OAuth token material in the shared external
// cache, so tokens survive restarts and scale across service instances
type TokenCache interface {
	GetUserToken(ctx context.Context, provider, guestID string) ([]byte, bool, error)
	SetUserToken(ctx context.Context, provider, guestID string, data []byte, ttl time.Duration) error
	DeleteUserToken(ctx context.Context, provider, guestID string) error
}

// userToken is the cached OAuth2 material for one guest
type userToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

const (
	// refresh proactively when the access token is within this margin of expiry
	tokenSafetyMargin = 60 * time.Second
	// refresh tokens outlive access tokens by a lot; cap cache residency anyway
	tokenCacheTTL = 30 * 24 * time.Hour
)

// RideClient integrates the ride-hailing provider. Quote and status calls
// authenticate with the service-level API key ("Authorization: Token <key>");
// ride creation and cancellation act on behalf of the guest and require an
// OAuth2 user bearer token obtained through the authorization-code flow.
//
// The ride provider has no webhook signature scheme. Inbound callbacks are
// trusted on network-path control alone, a documented weaker guarantee.
type RideClient struct {
	transport
	apiKey       string
	clientID     string
	clientSecret string
	tokenURL     string
	tokens       TokenCache
	logger       *zap.Logger
	now          func() time.Time
}

// NewRideClient creates a ride provider client
func NewRideClient(cfg config.RideConfig, timeout time.Duration, tokens TokenCache) *RideClient {
	return &RideClient{
		transport:    newTransport(cfg.BaseURL, timeout),
		apiKey:       cfg.APIKey,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     cfg.TokenURL,
		tokens:       tokens,
		logger:       util.GetLogger(),
		now:          time.Now,
	}
}

// Name returns the provider identifier
func (c *RideClient) Name() models.Provider {
	return models.ProviderRide
}

func (c *RideClient) keyHeaders() map[string]string {
	return map[string]string{"Authorization": "Token " + c.apiKey}
}

// tokenResponse is the OAuth token endpoint reply
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ExchangeAuthorizationCode completes the authorization-code flow for a guest
// and caches the resulting token material
func (c *RideClient) ExchangeAuthorizationCode(ctx context.Context, guestID, code, redirectURI string) error {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	tok, err := c.requestToken(ctx, form)
	if err != nil {
		return err
	}
	return c.storeToken(ctx, guestID, tok)
}

func (c *RideClient) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, ClassifyStatus(resp.StatusCode, "token endpoint error")
		}
		return nil, &Error{Kind: KindAuthExpired, Status: resp.StatusCode, Message: "token request rejected"}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &tok, nil
}

func (c *RideClient) storeToken(ctx context.Context, guestID string, tok *tokenResponse) error {
	cached := userToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	return c.tokens.SetUserToken(ctx, string(models.ProviderRide), guestID, data, tokenCacheTTL)
}

// userBearer returns a valid user access token for the guest, refreshing
// proactively when now + safety margin crosses the expiry
func (c *RideClient) userBearer(ctx context.Context, guestID string, force bool) (string, error) {
	data, ok, err := c.tokens.GetUserToken(ctx, string(models.ProviderRide), guestID)
	if err != nil {
		return "", fmt.Errorf("failed to read token cache: %w", err)
	}
	if !ok {
		return "", &Error{Kind: KindAuthExpired, Message: "no linked ride account for guest"}
	}

	var tok userToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", fmt.Errorf("failed to unmarshal cached token: %w", err)
	}

	if !force && c.now().Add(tokenSafetyMargin).Before(tok.ExpiresAt) {
		return tok.AccessToken, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tok.RefreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	fresh, err := c.requestToken(ctx, form)
	if err != nil {
		if KindOf(err) == KindAuthExpired {
			_ = c.tokens.DeleteUserToken(ctx, string(models.ProviderRide), guestID)
		}
		return "", err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := c.storeToken(ctx, guestID, fresh); err != nil {
		c.logger.Warn("Failed to cache refreshed ride token",
			zap.String("guest_id", guestID), zap.Error(err))
	}
	return fresh.AccessToken, nil
}

type rideEstimateResponse struct {
	CostCents  int64  `json:"cost_cents"`
	Currency   string `json:"currency"`
	EtaMinutes int    `json:"eta_minutes"`
}

// Quote requests a price/availability estimate using the service API key
func (c *RideClient) Quote(ctx context.Context, req *Request) (*Estimate, error) {
	body := map[string]interface{}{
		"ride_type": req.Metadata["ride_type"],
		"pickup":    req.Metadata["pickup"],
		"dropoff":   req.Metadata["dropoff"],
	}

	var out rideEstimateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/estimates", c.keyHeaders(), body, &out); err != nil {
		return nil, err
	}
	return &Estimate{
		Provider:   models.ProviderRide,
		Amount:     out.CostCents,
		Currency:   out.Currency,
		EtaMinutes: out.EtaMinutes,
	}, nil
}

type ridePlaceResponse struct {
	RideID string `json:"ride_id"`
	Status string `json:"status"`
}

// Place requests a ride on behalf of the guest. On an expired token it makes
// exactly one forced re-authentication attempt before surfacing AuthExpired.
func (c *RideClient) Place(ctx context.Context, req *Request) (*Reference, error) {
	body := map[string]interface{}{
		"request_id": "ride-" + req.LineID,
		"ride_type":  req.Metadata["ride_type"],
		"pickup":     req.Metadata["pickup"],
		"dropoff":    req.Metadata["dropoff"],
	}
	if req.ScheduledFor != nil {
		body["scheduled_at"] = req.ScheduledFor.UTC().Format(time.RFC3339)
	}

	var out ridePlaceResponse
	err := c.withUserAuth(ctx, req.GuestID, func(bearer string) error {
		headers := map[string]string{"Authorization": "Bearer " + bearer}
		return c.doJSON(ctx, http.MethodPost, "/v1/rides", headers, body, &out)
	})
	if err != nil {
		return nil, err
	}
	return &Reference{Provider: models.ProviderRide, ID: out.RideID, State: out.Status}, nil
}

// withUserAuth runs fn with a user bearer token, retrying once with a forced
// refresh when the provider reports the token expired
func (c *RideClient) withUserAuth(ctx context.Context, guestID string, fn func(bearer string) error) error {
	bearer, err := c.userBearer(ctx, guestID, false)
	if err != nil {
		return err
	}

	err = fn(bearer)
	if KindOf(err) != KindAuthExpired {
		return err
	}

	bearer, refreshErr := c.userBearer(ctx, guestID, true)
	if refreshErr != nil {
		return refreshErr
	}
	return fn(bearer)
}

type rideStatusResponse struct {
	RideID    string    `json:"ride_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetStatus polls ride state using the service API key
func (c *RideClient) GetStatus(ctx context.Context, ref string) (*Status, error) {
	var out rideStatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/rides/"+ref, c.keyHeaders(), nil, &out); err != nil {
		return nil, err
	}
	return &Status{
		Provider:  models.ProviderRide,
		Reference: out.RideID,
		State:     out.Status,
		UpdatedAt: out.UpdatedAt,
	}, nil
}

// Cancel cancels a ride on behalf of the guest
func (c *RideClient) Cancel(ctx context.Context, guestID, ref string) error {
	return c.withUserAuth(ctx, guestID, func(bearer string) error {
		headers := map[string]string{"Authorization": "Bearer " + bearer}
		return c.doJSON(ctx, http.MethodPost, "/v1/rides/"+ref+"/cancel", headers, nil, nil)
	})
}

// VerifySignature always passes: the ride provider offers no signature
// scheme, so webhook trust rests on network-path control only
func (c *RideClient) VerifySignature(payload []byte, signature string) bool {
	return true
}
