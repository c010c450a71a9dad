package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/papercomputeco/relay/pkg/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TurnsResponse lists turns, newest first.
type TurnsResponse struct {
	Count int             `json:"count"`
	Turns []*storage.Turn `json:"turns"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleListTurns returns the most recent turns. The limit query parameter
// defaults to 50 and is capped at 500.
func (s *Server) handleListTurns(c *fiber.Ctx) error {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = min(n, maxListLimit)
	}

	turns, err := s.driver.List(c.UserContext(), limit)
	if err != nil {
		s.logger.Error("failed to list turns", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list turns"})
	}
	if turns == nil {
		turns = []*storage.Turn{}
	}

	return c.JSON(TurnsResponse{Count: len(turns), Turns: turns})
}

// handleGetTurn returns a single turn by its ID.
func (s *Server) handleGetTurn(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "id must be a UUID"})
	}

	turn, err := s.driver.Get(c.UserContext(), id)
	if err != nil {
		var notFound storage.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "turn not found"})
		}
		s.logger.Error("failed to get turn", "id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get turn"})
	}

	return c.JSON(turn)
}
