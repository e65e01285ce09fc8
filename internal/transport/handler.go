package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go-photo-cropper/internal/config"
	apperrors "go-photo-cropper/internal/errors"
	"go-photo-cropper/internal/flow"
	"go-photo-cropper/internal/logger"
	"go-photo-cropper/internal/observer"
	"go-photo-cropper/internal/worker"
	"go-photo-cropper/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SavedMessage is the notice shown after a successful save
const SavedMessage = "Saved successfully"

// captureField is the multipart field carrying camera bytes
const captureField = "image"

type handler struct {
	registry *flow.Registry
	metrics  *observer.MetricsObserver
	pool     *worker.Pool
	cfg      *config.Config
}

func NewHandler(registry *flow.Registry, metrics *observer.MetricsObserver, pool *worker.Pool, cfg *config.Config) http.Handler {
	h := &handler{registry: registry, metrics: metrics, pool: pool, cfg: cfg}
	r := gin.Default()

	// Add middleware
	r.Use(
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck)
	r.GET("/metrics", h.getMetrics)

	flows := r.Group("/flows")
	flows.POST("", h.createFlow)
	flows.GET("/:id", h.getFlow)
	flows.DELETE("/:id", h.deleteFlow)
	flows.POST("/:id/acquire", h.acquire)
	flows.POST("/:id/rotate", h.rotate)
	flows.POST("/:id/back", h.back)
	flows.POST("/:id/crop", h.crop)
	flows.GET("/:id/preview", h.preview)
	flows.GET("/:id/metadata", h.metadata)
	flows.POST("/:id/save", h.save)
	flows.POST("/:id/home", h.home)

	return r
}

func (h *handler) createFlow(c *gin.Context) {
	f := h.registry.Create()

	logger.WithFields(logrus.Fields{
		"flow_id": f.ID(),
		"ip":      c.ClientIP(),
	}).Info("Flow created")

	c.JSON(http.StatusCreated, flowResponse(f.Snapshot()))
}

func (h *handler) getFlow(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, flowResponse(f.Snapshot()))
}

func (h *handler) deleteFlow(c *gin.Context) {
	if err := h.registry.Delete(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) acquire(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	var (
		snap flow.Snapshot
		err  error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		data, readErr := readCapture(c)
		if readErr != nil {
			respondError(c, readErr)
			return
		}
		snap, err = f.AcquireCapture(ctx, data)
	} else {
		var req models.AcquireRequest
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
			respondError(c, apperrors.NewValidationError("invalid request format", bindErr))
			return
		}
		source, parseErr := models.ParseSource(req.Source)
		if parseErr != nil {
			respondError(c, apperrors.NewValidationError(parseErr.Error(), nil))
			return
		}
		snap, err = f.Acquire(ctx, source, req.Ref)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, flowResponse(snap))
}

func (h *handler) rotate(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}

	var req models.RotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("direction must be left or right", err))
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	var (
		snap flow.Snapshot
		err  error
	)
	if req.Direction == "left" {
		snap, err = f.RotateLeft(ctx)
	} else {
		snap, err = f.RotateRight(ctx)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flowResponse(snap))
}

func (h *handler) back(c *gin.Context) {
	h.transition(c, (*flow.Flow).Back)
}

func (h *handler) home(c *gin.Context) {
	h.transition(c, (*flow.Flow).Home)
}

func (h *handler) transition(c *gin.Context, action func(*flow.Flow, context.Context) (flow.Snapshot, error)) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	snap, err := action(f, ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flowResponse(snap))
}

func (h *handler) crop(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}

	var req models.CropRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.NewValidationError("invalid request format", err))
			return
		}
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	startTime := time.Now()
	snap, err := f.Commit(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"flow_id":            f.ID(),
		"strategy":           req.Strategy,
		"processing_time_ms": time.Since(startTime).Milliseconds(),
	}).Info("Crop request completed")

	c.JSON(http.StatusOK, flowResponse(snap))
}

func (h *handler) preview(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	data, err := f.Preview(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

func (h *handler) metadata(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	meta, err := f.Metadata(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *handler) save(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	ref, _, err := f.Save(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SaveResponse{
		FlowID:  f.ID(),
		Ref:     ref,
		Message: SavedMessage,
	})
}

func (h *handler) getMetrics(c *gin.Context) {
	body := gin.H{
		"flows": h.registry.Len(),
	}
	if h.metrics != nil {
		body["events"] = h.metrics.GetMetrics()
	}
	if h.pool != nil {
		body["worker_pool"] = h.pool.Stats()
	}
	c.JSON(http.StatusOK, body)
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) lookup(c *gin.Context) (*flow.Flow, bool) {
	f, err := h.registry.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return f, true
}

func (h *handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.cfg.RequestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.cfg.RequestTimeout)
}

func readCapture(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile(captureField)
	if err != nil {
		return nil, apperrors.NewValidationError("multipart field \""+captureField+"\" is required", err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to open upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.NewValidationError("failed to read upload", err)
	}
	return data, nil
}

func flowResponse(s flow.Snapshot) models.FlowResponse {
	return models.FlowResponse{
		ID:          s.ID,
		State:       string(s.State),
		AspectRatio: s.AspectRatio.String(),
		Handle:      models.NewHandleResponse(s.Handle),
		SavedRef:    s.SavedRef,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			respondError(c, c.Errors.Last().Err)
		}
	}
}

func determineStatusCode(err error) int {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge
	}

	// Check if it's a custom app error first
	if appErr, ok := apperrors.As(err); ok {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := determineStatusCode(err)
	errType := ""
	if appErr, ok := apperrors.As(err); ok {
		errType = string(appErr.Type)
	}

	// Log the error with context
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"flow_id":     c.Param("id"),
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Type:    errType,
		Message: apperrors.UserMessage(err),
	})
}
