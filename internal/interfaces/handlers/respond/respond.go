// Package respond translates service-layer errors into the standard HTTP
// error envelope. Handlers call Err instead of repeating the mapping.
package respond

import (
	"errors"

	"carboncred-backend/internal/domain"
	"carboncred-backend/internal/infrastructure/ledger"
	"carboncred-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Err maps a service error to the standard error envelope: not-found to 404,
// precondition failures to 409 (with the shortfall in details when known),
// ledger rejections to 502, transient ledger failures to 503, everything
// else to 500.
func Err(c *fiber.Ctx, err error) error {
	if errors.Is(err, domain.ErrCompanyNotFound) || errors.Is(err, domain.ErrListingNotFound) {
		return response.Error(c, err.Error(), fiber.StatusNotFound, nil)
	}
	if pe, ok := domain.AsPrecondition(err); ok {
		if pe.Shortfall > 0 {
			return response.Shortfall(c, pe.Reason, pe.Shortfall)
		}
		return response.Error(c, pe.Reason, fiber.StatusConflict, nil)
	}

	var le *ledger.Error
	if errors.As(err, &le) {
		switch le.Code {
		case ledger.CodeInsufficientBalance:
			return response.Error(c, "Insufficient on-chain balance", fiber.StatusConflict, nil)
		case ledger.CodeUnauthorized:
			return response.Error(c, "Ledger rejected the request", fiber.StatusBadGateway, nil)
		case ledger.CodeNotFound:
			return response.Error(c, "Ledger record not found", fiber.StatusNotFound, nil)
		default:
			return response.Error(c, "Ledger temporarily unavailable, retry the operation", fiber.StatusServiceUnavailable, nil)
		}
	}

	log.Error().Err(err).Str("path", c.Path()).Msg("unhandled service error")
	return response.Error(c, "Internal Server Error", fiber.StatusInternalServerError, nil)
}
