package settlement

import (
	"io"

	setsvc "carboncred-backend/internal/application/settlement"
	"carboncred-backend/internal/interfaces/handlers/respond"
	"carboncred-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Handlers bundles the settlement endpoints.
type Handlers struct {
	Service *setsvc.Service
}

// maxDocumentBytes caps uploaded source documents.
const maxDocumentBytes = 10 << 20

// RegisterMint POST /api/v1/settlement/register-mint
// Multipart form: company_name, wallet_address, document (the baseline source
// document the allowance is extracted from).
func (h *Handlers) RegisterMint(c *fiber.Ctx) error {
	name := c.FormValue("company_name")
	walletAddr := c.FormValue("wallet_address")
	if name == "" || walletAddr == "" {
		return response.Error(c, "company_name and wallet_address are required", fiber.StatusBadRequest, nil)
	}

	filename, doc, err := readDocument(c)
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
	}

	res, err := h.Service.RegisterAndMint(c.Context(), name, walletAddr, filename, doc)
	if err != nil {
		return respond.Err(c, err)
	}
	return response.SuccessCreated(c, "Company registered and allowance minted", res, nil)
}

// SubmitAudit POST /api/v1/settlement/submit-audit
// Multipart form: company_name, document (the consumption report).
func (h *Handlers) SubmitAudit(c *fiber.Ctx) error {
	name := c.FormValue("company_name")
	if name == "" {
		return response.Error(c, "company_name is required", fiber.StatusBadRequest, nil)
	}

	filename, doc, err := readDocument(c)
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
	}

	res, err := h.Service.SubmitAudit(c.Context(), name, filename, doc)
	if err != nil {
		return respond.Err(c, err)
	}
	return response.Success(c, "Audit processed", res, nil)
}

// Finalize POST /api/v1/settlement/finalize/:company
func (h *Handlers) Finalize(c *fiber.Ctx) error {
	name := c.Params("company")
	if name == "" {
		return response.Error(c, "company is required", fiber.StatusBadRequest, nil)
	}
	res, err := h.Service.FinalizeSettlement(c.Context(), name)
	if err != nil {
		return respond.Err(c, err)
	}
	return response.Success(c, "Settlement finalized", res, nil)
}

// Status GET /api/v1/companies/:company
func (h *Handlers) Status(c *fiber.Ctx) error {
	name := c.Params("company")
	if name == "" {
		return response.Error(c, "company is required", fiber.StatusBadRequest, nil)
	}
	res, err := h.Service.Status(c.Context(), name)
	if err != nil {
		return respond.Err(c, err)
	}
	return response.Success(c, "Company status fetched", res, nil)
}

func readDocument(c *fiber.Ctx) (string, []byte, error) {
	fh, err := c.FormFile("document")
	if err != nil {
		return "", nil, fiber.NewError(fiber.StatusBadRequest, "document file is required")
	}
	if fh.Size > maxDocumentBytes {
		return "", nil, fiber.NewError(fiber.StatusBadRequest, "document exceeds the 10MB limit")
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	doc, err := io.ReadAll(io.LimitReader(f, maxDocumentBytes))
	if err != nil {
		return "", nil, err
	}
	return fh.Filename, doc, nil
}
