package settlement

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"carboncred-backend/internal/application/extract"
	setsvc "carboncred-backend/internal/application/settlement"
	"carboncred-backend/internal/domain"
	"carboncred-backend/internal/infrastructure/ledger"
	"carboncred-backend/internal/infrastructure/store"
	"carboncred-backend/internal/pkg/keylock"

	"github.com/gofiber/fiber/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupSettlementTest(t *testing.T) (*fiber.App, *ledger.Memory) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Company{}, &domain.HistoryEntry{}))

	gw := ledger.NewMemory()
	svc := &setsvc.Service{
		Companies: &store.Companies{DB: db},
		History:   &store.History{DB: db},
		Ledger:    gw,
		Extractor: extract.RegexExtractor{},
		Locks:     keylock.New(),
	}
	h := &Handlers{Service: svc}

	app := fiber.New()
	app.Post("/register-mint", h.RegisterMint)
	app.Post("/submit-audit", h.SubmitAudit)
	app.Post("/finalize/:company", h.Finalize)
	app.Get("/companies/:company", h.Status)
	return app, gw
}

func multipartDoc(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("document", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decodeBody(t *testing.T, r io.Reader) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r).Decode(&body))
	return body
}

func TestRegisterMint(t *testing.T) {
	app, gw := setupSettlementTest(t)

	buf, ct := multipartDoc(t, map[string]string{
		"company_name":   "TESLA",
		"wallet_address": "0xAAA",
	}, "baseline.pdf", "baseline emissions: 100 tons")
	req := httptest.NewRequest("POST", "/register-mint", buf)
	req.Header.Set("Content-Type", ct)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(100), data["allowance"])
	assert.Equal(t, "0xaaa", data["wallet"])

	bal, _ := gw.BalanceOf(req.Context(), "0xaaa")
	assert.Equal(t, int64(100), bal)
}

func TestRegisterMint_MissingFields(t *testing.T) {
	app, _ := setupSettlementTest(t)

	buf, ct := multipartDoc(t, map[string]string{"company_name": "TESLA"}, "a.pdf", "100 tons")
	req := httptest.NewRequest("POST", "/register-mint", buf)
	req.Header.Set("Content-Type", ct)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestRegisterMint_MissingDocument(t *testing.T) {
	app, _ := setupSettlementTest(t)

	buf, ct := multipartDoc(t, map[string]string{
		"company_name":   "TESLA",
		"wallet_address": "0xAAA",
	}, "", "")
	req := httptest.NewRequest("POST", "/register-mint", buf)
	req.Header.Set("Content-Type", ct)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestSubmitAudit_DeficitShape(t *testing.T) {
	app, _ := setupSettlementTest(t)

	buf, ct := multipartDoc(t, map[string]string{
		"company_name":   "TWITCH",
		"wallet_address": "0xBBB",
	}, "baseline.pdf", "100 tons")
	req := httptest.NewRequest("POST", "/register-mint", buf)
	req.Header.Set("Content-Type", ct)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)

	buf, ct = multipartDoc(t, map[string]string{"company_name": "TWITCH"}, "audit.pdf", "consumption 140 tCO2e")
	req = httptest.NewRequest("POST", "/submit-audit", buf)
	req.Header.Set("Content-Type", ct)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	data := decodeBody(t, resp.Body)["data"].(map[string]interface{})
	assert.Equal(t, domain.StatusDeficit, data["status"])
	assert.Equal(t, float64(160), data["required_burn"])
	assert.Equal(t, float64(60), data["deficit"])
}

func TestSubmitAudit_UnknownCompany(t *testing.T) {
	app, _ := setupSettlementTest(t)

	buf, ct := multipartDoc(t, map[string]string{"company_name": "NOBODY"}, "audit.pdf", "80 tons")
	req := httptest.NewRequest("POST", "/submit-audit", buf)
	req.Header.Set("Content-Type", ct)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestFinalize_WithoutAudit(t *testing.T) {
	app, _ := setupSettlementTest(t)

	buf, ct := multipartDoc(t, map[string]string{
		"company_name":   "TESLA",
		"wallet_address": "0xAAA",
	}, "a.pdf", "100 tons")
	req := httptest.NewRequest("POST", "/register-mint", buf)
	req.Header.Set("Content-Type", ct)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/finalize/TESLA", nil))
	require.NoError(t, err)
	assert.Equal(t, 409, resp.StatusCode)
}

func TestFinalize_UnknownCompany(t *testing.T) {
	app, _ := setupSettlementTest(t)
	resp, err := app.Test(httptest.NewRequest("POST", "/finalize/NOBODY", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	app, _ := setupSettlementTest(t)

	buf, ct := multipartDoc(t, map[string]string{
		"company_name":   "TESLA",
		"wallet_address": "0xAAA",
	}, "a.pdf", "100 tons")
	req := httptest.NewRequest("POST", "/register-mint", buf)
	req.Header.Set("Content-Type", ct)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/companies/TESLA", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	data := decodeBody(t, resp.Body)["data"].(map[string]interface{})
	assert.Equal(t, float64(100), data["current_balance"])
	assert.Equal(t, domain.GradeGreen, data["grade"])
}
