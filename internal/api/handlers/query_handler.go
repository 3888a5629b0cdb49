package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/query"
	"github.com/dilshanka/Rag-Pipeline/internal/storage/models"
	"github.com/dilshanka/Rag-Pipeline/internal/storage/sqlite"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

type QueryHandler struct {
	queryEngine *query.Engine
	catalogue   *sqlite.Client
}

func NewQueryHandler(queryEngine *query.Engine, catalogue *sqlite.Client) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
		catalogue:   catalogue,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query  string `json:"query"`
		UserID string `json:"user_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	response, err := h.queryEngine.ProcessQuery(c.UserContext(), query.QueryRequest{
		Query:  req.Query,
		UserID: req.UserID,
	})
	if errors.Is(err, query.ErrEmptyQuery) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}
	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	return c.JSON(fiber.Map{
		"id":         response.ID,
		"query":      response.Query,
		"answer":     response.Answer.Text,
		"sources":    response.Answer.Sources,
		"degraded":   response.Answer.Degraded,
		"cached":     response.Cached,
		"stages":     response.Stages,
		"latency_ms": response.LatencyMS,
	})
}

// HandleChat keeps the {message} -> {response} shape used by the chat UI.
func (h *QueryHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Message string `json:"message"`
		UserID  string `json:"user_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	response, err := h.queryEngine.ProcessQuery(c.UserContext(), query.QueryRequest{
		Query:  req.Message,
		UserID: req.UserID,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	return c.JSON(fiber.Map{
		"response": response.Answer.Text,
		"sources":  response.Answer.Sources,
	})
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	history, err := h.catalogue.GetQueryHistory(c.UserContext(), userID, limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}
	if history == nil {
		history = []models.QueryRecord{}
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}

func (h *QueryHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		QueryID string `json:"query_id"`
		Helpful bool   `json:"helpful"`
		Comment string `json:"comment"`
	}

	if err := c.BodyParser(&req); err != nil || req.QueryID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query_id is required",
		})
	}

	err := h.catalogue.StoreFeedback(c.UserContext(), &models.Feedback{
		QueryID:   req.QueryID,
		Helpful:   req.Helpful,
		Comment:   req.Comment,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logger.Error("Failed to store feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store feedback",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Feedback recorded",
	})
}
