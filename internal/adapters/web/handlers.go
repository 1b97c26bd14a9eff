package web

import (
	"net/http"
	"os"
	"strconv"

	"garment-stock/internal/app"
	"garment-stock/internal/core"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handler holds the application service and provides HTTP handlers.
type Handler struct {
	svc app.ApplicationService
}

func NewHandler(svc app.ApplicationService) *Handler {
	return &Handler{svc: svc}
}

// NewRouter sets up the gin engine with middleware and all routes.
func NewRouter(svc app.ApplicationService, allowedOrigins string, log zerolog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	h := NewHandler(svc)

	router := gin.New()
	router.Use(RequestID())
	router.Use(Logger(log))
	router.Use(gin.Recovery())
	router.Use(CORS(allowedOrigins))

	router.GET("/api/health", h.health)

	api := router.Group("/api")
	{
		orders := api.Group("/orders")
		{
			orders.POST("", h.createOrder)
			orders.POST("/confirm", h.confirmOrder)
			orders.GET("", h.listOrders)
			orders.GET("/:order_id", h.getOrder)
			orders.POST("/:order_id/cancel", h.cancelOrder)
		}

		stock := api.Group("/stock")
		{
			stock.GET("/levels", h.stockLevels)
			stock.POST("/receive", h.receiveStock)
			stock.POST("/receive-reserved", h.receiveReserved)
			stock.POST("/lock/reduce", h.reduceLock)
			stock.PUT("/lock", h.setLock)
		}

		api.POST("/variants", h.createVariant)
		api.DELETE("/variants", h.deleteVariant)
		api.GET("/transfers", h.transferHistory)
		api.POST("/organizations", h.createOrganization)
	}

	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "garment-stock"})
}

// ── Orders ───────────────────────────────────────────────────────────────────

// writeOutcome renders the allocation protocol's result: a committed order is
// 201; a needs-confirmation outcome is 409 so clients cannot mistake it for
// success, with the structured deficit payload for the consent round-trip.
func writeOutcome(c *gin.Context, outcome *core.AllocationOutcome) {
	if outcome.Status == core.StatusOK {
		c.JSON(http.StatusCreated, outcome)
		return
	}
	c.JSON(http.StatusConflict, outcome)
}

func (h *Handler) createOrder(c *gin.Context) {
	var req app.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	outcome, err := h.svc.CreateOrder(c.Request.Context(), req)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	writeOutcome(c, outcome)
}

func (h *Handler) confirmOrder(c *gin.Context) {
	var req app.ConfirmOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	outcome, err := h.svc.ConfirmAndCreateOrder(c.Request.Context(), req)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	writeOutcome(c, outcome)
}

func (h *Handler) listOrders(c *gin.Context) {
	orgCode := c.Query("org")
	if orgCode == "" {
		writeError(c, "org query parameter is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var status *core.OrderStatus
	if v := c.Query("status"); v != "" {
		s := core.OrderStatus(v)
		status = &s
	}
	var channel *core.Channel
	if v := c.Query("channel"); v != "" {
		ch := core.Channel(v)
		channel = &ch
	}
	result, err := h.svc.ListOrders(c.Request.Context(), orgCode, status, channel)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.Atoi(c.Param("order_id"))
	if err != nil {
		writeError(c, "order ID must be numeric", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, err := strconv.Atoi(c.Param("order_id"))
	if err != nil {
		writeError(c, "order ID must be numeric", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var body struct {
		Actor string `json:"actor"`
	}
	_ = c.ShouldBindJSON(&body) // actor is optional

	result, err := h.svc.CancelOrder(c.Request.Context(), orderID, body.Actor)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ── Stock ────────────────────────────────────────────────────────────────────

func (h *Handler) stockLevels(c *gin.Context) {
	orgCode := c.Query("org")
	if orgCode == "" {
		writeError(c, "org query parameter is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.GetStockLevels(c.Request.Context(), orgCode)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) receiveStock(c *gin.Context) {
	var req app.ReceiveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.ReceiveStock(c.Request.Context(), req)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) receiveReserved(c *gin.Context) {
	var req app.ReceiveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.ReceiveReservedStock(c.Request.Context(), req)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) reduceLock(c *gin.Context) {
	var req app.ReduceLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if err := h.svc.ReduceVariantLock(c.Request.Context(), req); err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) setLock(c *gin.Context) {
	var req app.SetLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.SetVariantLock(c.Request.Context(), req)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ── Variants ─────────────────────────────────────────────────────────────────

func (h *Handler) createVariant(c *gin.Context) {
	var req app.CreateVariantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.CreateVariant(c.Request.Context(), req)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) deleteVariant(c *gin.Context) {
	orgCode := c.Query("org")
	if orgCode == "" {
		writeError(c, "org query parameter is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	key := core.VariantKey{
		Design: c.Query("design"),
		Color:  c.Query("color"),
		Size:   c.Query("size"),
	}
	if err := h.svc.DeleteVariant(c.Request.Context(), orgCode, key); err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ── Transfers ────────────────────────────────────────────────────────────────

func (h *Handler) transferHistory(c *gin.Context) {
	orgCode := c.Query("org")
	if orgCode == "" {
		writeError(c, "org query parameter is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	filter := core.TransferFilter{
		Design:  c.Query("design"),
		Color:   c.Query("color"),
		Size:    c.Query("size"),
		Pool:    core.Pool(c.Query("pool")),
		Channel: core.Channel(c.Query("channel")),
		Reason:  c.Query("reason"),
	}
	if v := c.Query("order_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, "order_id must be numeric", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		filter.OrderID = id
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	result, err := h.svc.GetTransferHistory(c.Request.Context(), orgCode, filter)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ── Organizations ────────────────────────────────────────────────────────────

func (h *Handler) createOrganization(c *gin.Context) {
	var body struct {
		OrgCode string `json:"org_code"`
		Name    string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, "invalid JSON body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if body.OrgCode == "" || body.Name == "" {
		writeError(c, "org_code and name are required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	org, err := h.svc.CreateOrganization(c.Request.Context(), body.OrgCode, body.Name)
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}
