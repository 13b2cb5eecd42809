package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// Cache is the slice of the shared cache the catalog service uses
type Cache interface {
	GetCatalog(ctx context.Context, propertyID string) ([]byte, bool, error)
	SetCatalog(ctx context.Context, propertyID string, data []byte, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// Service serves the property-scoped upsell catalog through a short-TTL
// read-through cache. A miss triggers a deterministic catalog build; entries
// are immutable for a cache epoch and regenerated only at TTL expiry.
type Service struct {
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewService creates a catalog service
func NewService(cache Cache, ttl time.Duration) *Service {
	return &Service{
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// Get returns the catalog for a property, building and caching it on a miss
func (s *Service) Get(ctx context.Context, propertyID string) ([]models.CatalogItem, error) {
	data, ok, err := s.cache.GetCatalog(ctx, propertyID)
	if err != nil {
		// a cache outage must not block order validation
		s.logger.Warn("Catalog cache read failed, rebuilding",
			zap.String("property_id", propertyID), zap.Error(err))
	}
	if ok {
		var items []models.CatalogItem
		if err := json.Unmarshal(data, &items); err == nil {
			util.CatalogCacheHitsTotal.Inc()
			return items, nil
		}
		s.logger.Warn("Corrupt catalog cache entry, rebuilding",
			zap.String("property_id", propertyID))
	}

	util.CatalogCacheMissesTotal.Inc()
	items := buildCatalog(propertyID)

	s.writeThrough(ctx, propertyID, items)
	return items, nil
}

// writeThrough stores a freshly built catalog. The lock only dampens
// concurrent rebuild stampedes; every write is a complete value replacement,
// so losing the race is harmless.
func (s *Service) writeThrough(ctx context.Context, propertyID string, items []models.CatalogItem) {
	lockKey := "catalog-build:" + propertyID
	locked, err := s.cache.AcquireLock(ctx, lockKey, 10*time.Second)
	if err != nil || !locked {
		return
	}
	defer func() {
		_ = s.cache.ReleaseLock(ctx, lockKey)
	}()

	data, err := json.Marshal(items)
	if err != nil {
		s.logger.Error("Failed to marshal catalog", zap.Error(err))
		return
	}
	if err := s.cache.SetCatalog(ctx, propertyID, data, s.ttl); err != nil {
		s.logger.Warn("Failed to write catalog cache",
			zap.String("property_id", propertyID), zap.Error(err))
	}
}

// ItemByID finds a catalog item in a resolved catalog
func ItemByID(items []models.CatalogItem, id string) (*models.CatalogItem, bool) {
	for i := range items {
		if items[i].ID == id {
			return &items[i], true
		}
	}
	return nil, false
}

// buildCatalog produces the static upsell catalog for a property. Catalog
// content changes rarely relative to guest session length, so a fixed build
// behind the TTL cache is sufficient.
func buildCatalog(propertyID string) []models.CatalogItem {
	propertyAddress := fmt.Sprintf("property:%s", propertyID)

	return []models.CatalogItem{
		{
			ID:        "early-checkin",
			Category:  "stay",
			Name:      "Early Check-in",
			Price:     5000,
			Currency:  "USD",
			Available: true,
		},
		{
			ID:        "late-checkout",
			Category:  "stay",
			Name:      "Late Checkout",
			Price:     4000,
			Currency:  "USD",
			Available: true,
		},
		{
			ID:        "airport-ride",
			Category:  "transport",
			Name:      "Airport Ride",
			Price:     6500,
			Currency:  "USD",
			Available: true,
			Provider:  models.ProviderRide,
			ProviderMetadata: map[string]string{
				"ride_type": "standard",
				"pickup":    propertyAddress,
				"dropoff":   "airport",
			},
		},
		{
			ID:        "dinner-delivery",
			Category:  "dining",
			Name:      "Dinner Delivery",
			Price:     3500,
			Currency:  "USD",
			Available: true,
			Provider:  models.ProviderFood,
			ProviderMetadata: map[string]string{
				"item_name":       "Dinner for two",
				"pickup_address":  "partner-restaurant",
				"dropoff_address": propertyAddress,
			},
		},
		{
			ID:        "grocery-essentials",
			Category:  "grocery",
			Name:      "Grocery Essentials Basket",
			Price:     4500,
			Currency:  "USD",
			Available: true,
			Provider:  models.ProviderGrocery,
			ProviderMetadata: map[string]string{
				"store_id":        "store-main",
				"sku":             "essentials-basket",
				"dropoff_address": propertyAddress,
			},
		},
		{
			ID:        "champagne-welcome",
			Category:  "dining",
			Name:      "Champagne Welcome",
			Price:     9000,
			Currency:  "USD",
			Available: false,
		},
	}
}
