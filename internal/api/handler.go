package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/catalog"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/provider"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"
	"fulfillment-service/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// signature header carried by each provider's callbacks; the ride provider
// has none
var signatureHeaders = map[models.Provider]string{
	models.ProviderFood:    "X-Delivery-Signature",
	models.ProviderGrocery: "X-Webhook-Signature",
}

// Handler contains HTTP handlers
type Handler struct {
	orderService   *service.OrderService
	catalogService *catalog.Service
	ingestor       *webhook.Ingestor
	rideClient     *provider.RideClient
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	catalogService *catalog.Service,
	ingestor *webhook.Ingestor,
	rideClient *provider.RideClient,
) *Handler {
	return &Handler{
		orderService:   orderService,
		catalogService: catalogService,
		ingestor:       ingestor,
		rideClient:     rideClient,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/rating", h.rateOrder)
		v1.POST("/quotes", h.quoteItem)
		v1.GET("/properties/:propertyId/catalog", h.getCatalog)
		v1.POST("/guests/:guestId/ride-auth", h.linkRideAccount)
	}

	router.POST("/webhooks/:provider", h.receiveWebhook)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// guestContext extracts the guest and property identity established by the
// upstream authentication layer
func guestContext(c *gin.Context) (guestID, propertyID string, ok bool) {
	guestID = c.GetHeader("X-Guest-ID")
	propertyID = c.GetHeader("X-Property-ID")
	if guestID == "" || propertyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing X-Guest-ID or X-Property-ID header",
		})
		return "", "", false
	}
	return guestID, propertyID, true
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	guestID, propertyID, ok := guestContext(c)
	if !ok {
		return
	}

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req, guestID, propertyID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrItemNotFound), errors.Is(err, service.ErrItemUnavailable):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to create order",
				"details": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, order)
}

// listOrders returns the calling guest's order history
func (h *Handler) listOrders(c *gin.Context) {
	guestID, _, ok := guestContext(c)
	if !ok {
		return
	}

	orders, err := h.orderService.GetOrdersForGuest(c.Request.Context(), guestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, lines, dispatches, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrOrderNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":      order,
		"lines":      lines,
		"dispatches": dispatches,
	})
}

type updateStatusRequest struct {
	Status      string `json:"status" binding:"required"`
	ExternalRef string `json:"external_ref,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// updateOrderStatus applies an explicit status transition
func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orderService.UpdateStatus(c.Request.Context(),
		c.Param("id"), req.Status, req.ExternalRef, models.Provider(req.Provider))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidStatus), errors.Is(err, service.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, order)
}

// cancelOrder cancels the order and its provider-side dispatches
func (h *Handler) cancelOrder(c *gin.Context) {
	order, err := h.orderService.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, order)
}

type rateOrderRequest struct {
	Rating int `json:"rating" binding:"required"`
}

// rateOrder records post-completion feedback
func (h *Handler) rateOrder(c *gin.Context) {
	var req rateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	err := h.orderService.RateOrder(c.Request.Context(), c.Param("id"), req.Rating)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidRating), errors.Is(err, service.ErrNotRateable):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rated"})
}

type quoteRequest struct {
	UpsellID string `json:"upsell_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// quoteItem prices one catalog item against its provider
func (h *Handler) quoteItem(c *gin.Context) {
	guestID, propertyID, ok := guestContext(c)
	if !ok {
		return
	}

	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	estimate, err := h.orderService.QuoteItem(c.Request.Context(), propertyID, guestID, req.UpsellID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrItemNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, estimate)
}

// getCatalog returns the property-scoped upsell catalog
func (h *Handler) getCatalog(c *gin.Context) {
	items, err := h.catalogService.Get(c.Request.Context(), c.Param("propertyId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type rideAuthRequest struct {
	Code        string `json:"code" binding:"required"`
	RedirectURI string `json:"redirect_uri" binding:"required"`
}

// linkRideAccount completes the ride provider's OAuth2 authorization-code
// flow for a guest
func (h *Handler) linkRideAccount(c *gin.Context) {
	var req rideAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	err := h.rideClient.ExchangeAuthorizationCode(c.Request.Context(),
		c.Param("guestId"), req.Code, req.RedirectURI)
	if err != nil {
		if provider.KindOf(err) == provider.KindAuthExpired {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "linked"})
}

// receiveWebhook handles one inbound provider callback
func (h *Handler) receiveWebhook(c *gin.Context) {
	prov := models.Provider(c.Param("provider"))
	if !prov.Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	var signature string
	if header, ok := signatureHeaders[prov]; ok {
		signature = c.GetHeader(header)
	}

	ack, err := h.ingestor.Receive(c.Request.Context(), prov, rawBody, signature)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		// non-2xx: the provider is expected to retry
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, ack)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
