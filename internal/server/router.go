package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/chatlog/internal/chat"
	"github.com/MarcoPoloResearchLab/chatlog/internal/logging"
	"github.com/MarcoPoloResearchLab/chatlog/internal/protocol"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingMessageStore = errors.New("message store dependency required")
	errInvalidTailSize     = errors.New("tail size must be positive")
)

// MessageStore is the part of chat.Store the handlers depend on.
type MessageStore interface {
	Append(ctx context.Context, text, author string) (chat.Message, error)
	ReadTail(ctx context.Context, limit int) ([]chat.Message, error)
}

// WriteLimiter decides whether an author may write now.
type WriteLimiter interface {
	Allow(author string) bool
}

// RequestMetrics receives HTTP activity.
type RequestMetrics interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
	WriteRateLimited()
	Handler() http.Handler
}

type Dependencies struct {
	Store    MessageStore
	TailSize int
	Limiter  WriteLimiter
	Metrics  RequestMetrics
	Logger   *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingMessageStore
	}
	tailSize := deps.TailSize
	if tailSize == 0 {
		tailSize = chat.DefaultTailSize
	}
	if tailSize < 0 {
		return nil, errInvalidTailSize
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	if deps.Metrics != nil {
		router.Use(metricsMiddleware(deps.Metrics))
	}
	router.Use(corsMiddleware())

	handler := &httpHandler{
		store:    deps.Store,
		tailSize: tailSize,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		logger:   logger,
	}

	router.GET(protocol.MessagesPath, handler.handleReadMessages)
	router.POST(protocol.MessagesPath, handler.handleWriteMessage)
	router.GET(protocol.LegacyReadPath, handler.handleReadMessages)
	router.POST(protocol.LegacyWritePath, handler.handleWriteMessage)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return router, nil
}

type httpHandler struct {
	store    MessageStore
	tailSize int
	limiter  WriteLimiter
	metrics  RequestMetrics
	logger   *zap.Logger
}

func (h *httpHandler) handleReadMessages(c *gin.Context) {
	messages, err := h.store.ReadTail(c.Request.Context(), h.tailSize)
	if err != nil {
		h.logger.Error("failed to load messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, protocol.ErrorResponse{
			Error: protocol.ErrorLoadFailed,
			Code:  chat.ErrorCode(err),
		})
		return
	}
	c.JSON(http.StatusOK, protocol.NewMessagePayloads(messages))
}

func (h *httpHandler) handleWriteMessage(c *gin.Context) {
	var request protocol.WriteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, protocol.ErrorResponse{Error: protocol.ErrorInvalidRequest})
		return
	}

	if h.limiter != nil && strings.TrimSpace(request.From) != "" && strings.TrimSpace(request.Message) != "" &&
		!h.limiter.Allow(request.From) {
		if h.metrics != nil {
			h.metrics.WriteRateLimited()
		}
		c.JSON(http.StatusTooManyRequests, protocol.WriteResponse{
			Time:  protocol.PlaceholderTime,
			Error: protocol.ErrorRateLimited,
		})
		return
	}

	message, err := h.store.Append(c.Request.Context(), request.Message, request.From)
	switch {
	case err == nil:
		payload := protocol.NewMessagePayload(message)
		c.JSON(http.StatusOK, protocol.WriteResponse{Time: message.TimeLabel, Message: &payload})
	case chat.IsValidationError(err):
		c.JSON(http.StatusBadRequest, protocol.ErrorResponse{
			Error: protocol.ErrorInvalidMessage,
			Code:  chat.ErrorCode(err),
		})
	default:
		h.logger.Error("failed to append message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, protocol.WriteResponse{
			Time:  protocol.PlaceholderTime,
			Error: protocol.ErrorWriteFailed,
			Code:  chat.ErrorCode(err),
		})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

func metricsMiddleware(metrics RequestMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		metrics.ObserveRequest(c.FullPath(), c.Request.Method, c.Writer.Status(), time.Since(started))
	}
}
