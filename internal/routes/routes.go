package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/metrics"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/middleware"
)

// TokenRegistrar updates the push token of a registered employee.
type TokenRegistrar interface {
	SetToken(ctx context.Context, employeeID int64, token string) (bool, error)
	ClearToken(ctx context.Context, employeeID int64) error
}

// Options configures the router. Auth guards the token routes when set.
type Options struct {
	Registrar    TokenRegistrar
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Auth         []gin.HandlerFunc
	Started      time.Time
	StoreTimeout time.Duration
}

type tokenHandler struct {
	registrar TokenRegistrar
	logger    *slog.Logger
	timeout   time.Duration
}

// NewRouter wires health, metrics and token registration endpoints.
func NewRouter(opts Options) *gin.Engine {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}

	r := gin.New()
	r.Use(middleware.Recovery(opts.Logger), middleware.RequestLogger(opts.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "intimation notifier healthy",
			"meta": gin.H{
				"uptime_seconds": int(time.Since(opts.Started).Seconds()),
				"timestamp":      time.Now().UTC(),
			},
		})
	})
	r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	h := &tokenHandler{registrar: opts.Registrar, logger: opts.Logger, timeout: opts.StoreTimeout}
	tokens := r.Group("/token", opts.Auth...)
	tokens.POST("/register/:id", h.register)
	tokens.POST("/deregister/:id", h.deregister)
	return r
}

type registerRequest struct {
	Token string `json:"token"`
}

func (h *tokenHandler) register(c *gin.Context) {
	id, ok := employeeID(c)
	if !ok {
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	updated, err := h.registrar.SetToken(ctx, id, req.Token)
	if err != nil {
		h.fail(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": updated})
}

func (h *tokenHandler) deregister(c *gin.Context) {
	id, ok := employeeID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if err := h.registrar.ClearToken(ctx, id); err != nil {
		h.fail(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *tokenHandler) fail(c *gin.Context, id int64, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "employee not found"})
	case errors.Is(err, models.ErrStoreUnavailable):
		h.logger.Error("token update failed", slog.Int64("employee_id", id), slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token store unavailable"})
	default:
		h.logger.Error("token update failed", slog.Int64("employee_id", id), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func employeeID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid employee id"})
		return 0, false
	}
	return id, true
}
