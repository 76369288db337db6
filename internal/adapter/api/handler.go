package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"model-router/internal/domain/entity"
	"model-router/internal/domain/repository"
	"model-router/internal/usecase"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const defaultStreamTimeout = 5 * time.Minute

// Router is the routing core as seen by the HTTP layer.
type Router interface {
	GenerateText(ctx context.Context, req entity.GenerateRequest) (*entity.EnhancedGenerateResponse, error)
	GenerateStream(ctx context.Context, req entity.GenerateRequest) (iter.Seq2[entity.StreamChunk, error], error)
	Health() *usecase.HealthTracker
	CacheStats() usecase.CacheStats
}

type ModelLister interface {
	Models() []entity.ModelInfo
}

type ChatHandler struct {
	router   Router
	limiter  repository.TokenLimiter
	models   ModelLister
	validate *validator.Validate

	streamTimeout time.Duration
}

// NewChatHandler builds the handler. limiter and models may be nil.
func NewChatHandler(router Router, limiter repository.TokenLimiter, models ModelLister) *ChatHandler {
	return &ChatHandler{
		router:        router,
		limiter:       limiter,
		models:        models,
		validate:      validator.New(),
		streamTimeout: defaultStreamTimeout,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	reqID := requestID(c)
	logger := log.WithField("request_id", reqID)

	req, err := h.parse(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.checkQuota(c.UserContext(), req.UserID()); err != nil {
		return writeError(c, err)
	}

	resp, err := h.router.GenerateText(c.UserContext(), req)
	if err != nil {
		logger.WithError(err).Warn("chat request failed")
		return writeError(c, err)
	}
	h.recordUsage(c.UserContext(), req.UserID(), resp.Usage)

	c.Set("X-Router-Model", resp.ActualModel)
	c.Set("X-Router-Provider", resp.Provider)
	c.Set("X-Router-Cache-Hit", strconv.FormatBool(resp.CacheHit))
	return c.Status(fiber.StatusOK).JSON(resp)
}

// HandleChatStream writes the generation as server-sent events. Each chunk is
// a "data:" line; a failure mid-stream becomes an "error" event.
func (h *ChatHandler) HandleChatStream(c *fiber.Ctx) error {
	reqID := requestID(c)
	logger := log.WithField("request_id", reqID)

	req, err := h.parse(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.checkQuota(c.UserContext(), req.UserID()); err != nil {
		return writeError(c, err)
	}

	// The body writer runs after this handler returns, so the stream gets its own context.
	ctx, cancel := context.WithTimeout(context.Background(), h.streamTimeout)
	stream, err := h.router.GenerateStream(ctx, req)
	if err != nil {
		cancel()
		logger.WithError(err).Warn("stream request failed")
		return writeError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		for chunk, err := range stream {
			if err != nil {
				logger.WithError(err).Warn("stream interrupted")
				writeEvent(w, "error", fiber.Map{"error": err.Error()})
				return
			}
			if !writeEvent(w, "", chunk) {
				// Client went away.
				return
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		_ = w.Flush()
	}))
	return nil
}

func (h *ChatHandler) HandleProvidersHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"providers": h.router.Health().Snapshot(),
		"cache":     h.router.CacheStats(),
	})
}

func (h *ChatHandler) HandleModels(c *fiber.Ctx) error {
	if h.models == nil {
		return c.JSON(fiber.Map{"models": []entity.ModelInfo{}})
	}
	return c.JSON(fiber.Map{"models": h.models.Models()})
}

func (h *ChatHandler) parse(c *fiber.Ctx) (entity.GenerateRequest, error) {
	var req entity.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return req, fmt.Errorf("%w: invalid request body", entity.ErrInvalidRequest)
	}
	if err := h.validate.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %v", entity.ErrInvalidRequest, err)
	}
	return req, nil
}

func (h *ChatHandler) checkQuota(ctx context.Context, userID string) error {
	if h.limiter == nil || userID == "" {
		return nil
	}
	ok, err := h.limiter.CheckLimit(ctx, userID)
	if err != nil {
		// Quota storage outage should not take the API down.
		log.WithError(err).WithField("user_id", userID).Warn("token quota check failed")
		return nil
	}
	if !ok {
		return entity.ErrRateLimitExceeded
	}
	return nil
}

func (h *ChatHandler) recordUsage(ctx context.Context, userID string, usage entity.Usage) {
	if h.limiter == nil || userID == "" {
		return
	}
	if err := h.limiter.Increment(ctx, userID, usage.Total()); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("failed to record token usage")
	}
}

func requestID(c *fiber.Ctx) string {
	id := c.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("X-Request-ID", id)
	return id
}

// statusFor maps routing errors to HTTP status codes.
func statusFor(err error) int {
	var selErr *entity.SelectionError
	var fbErr *entity.FallbackError
	switch {
	case errors.Is(err, entity.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, entity.ErrRateLimitExceeded):
		return fiber.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.As(err, &fbErr):
		return fiber.StatusBadGateway
	case errors.As(err, &selErr),
		errors.Is(err, entity.ErrNoProvidersConfigured),
		errors.Is(err, entity.ErrProviderNotFound):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "internal router error"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func writeEvent(w *bufio.Writer, event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return true
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	return w.Flush() == nil
}
