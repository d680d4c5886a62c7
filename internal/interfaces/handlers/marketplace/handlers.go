package marketplace

import (
	"strconv"

	escsvc "carboncred-backend/internal/application/escrow"
	"carboncred-backend/internal/interfaces/handlers/respond"
	"carboncred-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Handlers bundles the marketplace escrow endpoints.
type Handlers struct {
	Service *escsvc.Service
}

type createListingRequest struct {
	SellerCompany string `json:"seller_company"`
	Amount        int64  `json:"amount"`
	PricePerUnit  int64  `json:"price_per_unit"`
	PaymentRef    string `json:"payment_reference"`
}

type markPaidRequest struct {
	BuyerCompany string `json:"buyer_company"`
}

type releaseRequest struct {
	BuyerWallet string `json:"buyer_wallet"`
}

// CreateListing POST /api/v1/marketplace/create-listing
func (h *Handlers) CreateListing(c *fiber.Ctx) error {
	var body createListingRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if body.SellerCompany == "" || body.PaymentRef == "" {
		return response.Error(c, "seller_company and payment_reference are required", fiber.StatusBadRequest, nil)
	}
	if body.Amount <= 0 || body.PricePerUnit <= 0 {
		return response.Error(c, "amount and price_per_unit must be positive", fiber.StatusBadRequest, nil)
	}

	res, err := h.Service.CreateListing(c.Context(), body.SellerCompany, body.Amount, body.PricePerUnit, body.PaymentRef)
	if err != nil {
		return respond.Err(c, err)
	}
	return response.SuccessCreated(c, "Listing created", res, nil)
}

// MarkPaid POST /api/v1/marketplace/mark-paid/:listing_id
func (h *Handlers) MarkPaid(c *fiber.Ctx) error {
	id, err := listingID(c)
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
	}
	var body markPaidRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if body.BuyerCompany == "" {
		return response.Error(c, "buyer_company is required", fiber.StatusBadRequest, nil)
	}

	res, err := h.Service.MarkPaid(c.Context(), id, body.BuyerCompany)
	if err != nil {
		return respond.Err(c, err)
	}
	return response.Success(c, "Payment marked", res, nil)
}

// Release POST /api/v1/marketplace/release/:listing_id
func (h *Handlers) Release(c *fiber.Ctx) error {
	id, err := listingID(c)
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
	}
	var body releaseRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if body.BuyerWallet == "" {
		return response.Error(c, "buyer_wallet is required", fiber.StatusBadRequest, nil)
	}

	res, err := h.Service.Release(c.Context(), id, body.BuyerWallet)
	if err != nil {
		return respond.Err(c, err)
	}
	return response.Success(c, "Escrow released", res, nil)
}

// GetListing GET /api/v1/marketplace/listings/:listing_id
func (h *Handlers) GetListing(c *fiber.Ctx) error {
	id, err := listingID(c)
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
	}
	l, err := h.Service.GetListing(c.Context(), id)
	if err != nil {
		return respond.Err(c, err)
	}
	return response.Success(c, "Listing fetched", l, nil)
}

func listingID(c *fiber.Ctx) (int64, error) {
	raw := c.Params("listing_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid listing_id format")
	}
	return id, nil
}
