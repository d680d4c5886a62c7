package companies

import (
	"strconv"

	lbsvc "carboncred-backend/internal/application/leaderboard"
	"carboncred-backend/internal/infrastructure/store"
	"carboncred-backend/internal/interfaces/handlers/respond"
	"carboncred-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const defaultHistoryLimit = 50
const maxHistoryLimit = 500

// Handlers bundles the read-only dashboard endpoints.
type Handlers struct {
	Leaderboard *lbsvc.Service
	History     *store.History
}

// GetLeaderboard GET /api/v1/leaderboard
func (h *Handlers) GetLeaderboard(c *fiber.Ctx) error {
	entries, err := h.Leaderboard.Get(c.Context())
	if err != nil {
		return respond.Err(c, err)
	}
	return response.Success(c, "Leaderboard fetched", entries, fiber.Map{
		"count": len(entries),
	})
}

// GetHistory GET /api/v1/history?limit=N — newest first.
func (h *Handlers) GetHistory(c *fiber.Ctx) error {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return response.Error(c, "limit must be a positive integer", fiber.StatusBadRequest, nil)
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := h.History.Recent(c.Context(), limit)
	if err != nil {
		return respond.Err(c, err)
	}
	return response.Success(c, "History fetched", entries, fiber.Map{
		"count": len(entries),
	})
}
