package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/gigvault/escrow/internal/client"
	"github.com/gigvault/escrow/internal/fees"
	"github.com/gigvault/escrow/internal/middleware"
	"github.com/gigvault/escrow/internal/model"
	"github.com/gigvault/escrow/internal/repository"
	"github.com/gigvault/escrow/internal/service"
	"github.com/gigvault/escrow/pkg/response"
)

const testJWTSecret = "test-secret"

type testApp struct {
	app  *fiber.App
	auth *middleware.AuthMiddleware
}

func setupApp(t *testing.T) *testApp {
	t.Helper()

	store := repository.NewMemoryStore()
	svc := service.NewEscrowService(store.Escrows(), store.Disputes(), store.Transactions(), client.NewMockProcessor(), fees.New())
	validate := validator.New()

	escrowHandler := NewEscrowHandler(svc, validate)
	disputeHandler := NewDisputeHandler(svc, validate)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	app := fiber.New()

	api := app.Group("/api", authMiddleware.Authenticate())
	escrow := api.Group("/escrows")
	escrow.Post("/", escrowHandler.Create)
	escrow.Get("/:escrowId", escrowHandler.Get)
	escrow.Get("/:escrowId/summary", escrowHandler.Summary)
	escrow.Get("/:escrowId/transactions", escrowHandler.Transactions)
	escrow.Post("/:escrowId/fund", escrowHandler.Fund)
	escrow.Post("/:escrowId/cancel", escrowHandler.Cancel)
	escrow.Post("/:escrowId/milestones/:milestoneId/submit", escrowHandler.SubmitMilestone)
	escrow.Post("/:escrowId/milestones/:milestoneId/approve", escrowHandler.ApproveMilestone)
	escrow.Post("/:escrowId/milestones/:milestoneId/reject", escrowHandler.RejectMilestone)
	escrow.Post("/:escrowId/milestones/:milestoneId/dispute", disputeHandler.Initiate)

	dispute := api.Group("/disputes")
	dispute.Get("/:disputeId", disputeHandler.Get)
	dispute.Post("/:disputeId/resolve", middleware.RequireRole("admin"), disputeHandler.Resolve)
	dispute.Post("/:disputeId/close", middleware.RequireRole("admin"), disputeHandler.Close)

	return &testApp{app: app, auth: authMiddleware}
}

func (ta *testApp) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := ta.auth.GenerateToken(userID, userID+"@example.com", role)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func (ta *testApp) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	return decodeJSON[response.ErrorResponse](t, resp).Error.Code
}

func createRequestBody() fiber.Map {
	return fiber.Map{
		"contractId":      "contract-1",
		"businessId":      "biz-1",
		"talentId":        "tal-1",
		"payoutAccountId": "acct_talent",
		"totalAmount":     "10000.00",
		"currency":        "USD",
		"milestones": []fiber.Map{
			{"title": "design", "amount": "5000.00", "percentage": "50"},
			{"title": "build", "amount": "5000.00", "percentage": "50"},
		},
	}
}

// createEscrow creates an account through the API and returns it.
func (ta *testApp) createEscrow(t *testing.T) *model.EscrowAccount {
	t.Helper()
	resp := ta.request(t, http.MethodPost, "/api/escrows/", ta.token(t, "biz-1", "business"), createRequestBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	account := decodeJSON[model.EscrowAccount](t, resp)
	return &account
}

func TestCreateEscrow(t *testing.T) {
	ta := setupApp(t)

	account := ta.createEscrow(t)
	if account.ID == "" || len(account.Milestones) != 2 {
		t.Fatalf("account = %+v", account)
	}
	if account.Status != model.EscrowStatusCreated {
		t.Errorf("status = %s, want created", account.Status)
	}
}

func TestCreateEscrowValidation(t *testing.T) {
	ta := setupApp(t)
	token := ta.token(t, "biz-1", "business")

	body := createRequestBody()
	delete(body, "currency")
	resp := ta.request(t, http.MethodPost, "/api/escrows/", token, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != response.CodeValidationError {
		t.Errorf("code = %s, want VALIDATION_ERROR", code)
	}
}

func TestUnauthenticated(t *testing.T) {
	ta := setupApp(t)

	resp := ta.request(t, http.MethodPost, "/api/escrows/", "", createRequestBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp = ta.request(t, http.MethodGet, "/api/escrows/x", "garbage-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with bad token = %d, want 401", resp.StatusCode)
	}
}

func TestPartyEnforcement(t *testing.T) {
	ta := setupApp(t)
	account := ta.createEscrow(t)
	businessToken := ta.token(t, "biz-1", "business")
	talentToken := ta.token(t, "tal-1", "talent")
	strangerToken := ta.token(t, "someone-else", "business")

	fundPath := fmt.Sprintf("/api/escrows/%s/fund", account.ID)

	// Only the business party funds.
	resp := ta.request(t, http.MethodPost, fundPath, talentToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("fund as talent = %d, want 403", resp.StatusCode)
	}
	resp = ta.request(t, http.MethodPost, fundPath, businessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fund as business = %d, want 200", resp.StatusCode)
	}

	// Only the talent party submits.
	submitPath := fmt.Sprintf("/api/escrows/%s/milestones/%s/submit", account.ID, account.Milestones[0].ID)
	resp = ta.request(t, http.MethodPost, submitPath, businessToken, fiber.Map{})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("submit as business = %d, want 403", resp.StatusCode)
	}
	resp = ta.request(t, http.MethodPost, submitPath, talentToken, fiber.Map{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit as talent = %d, want 200", resp.StatusCode)
	}

	// Strangers see nothing.
	resp = ta.request(t, http.MethodGet, "/api/escrows/"+account.ID, strangerToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("get as stranger = %d, want 403", resp.StatusCode)
	}
}

func TestMilestoneFlow(t *testing.T) {
	ta := setupApp(t)
	account := ta.createEscrow(t)
	businessToken := ta.token(t, "biz-1", "business")
	talentToken := ta.token(t, "tal-1", "talent")

	resp := ta.request(t, http.MethodPost, fmt.Sprintf("/api/escrows/%s/fund", account.ID), businessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fund = %d", resp.StatusCode)
	}

	m1 := account.Milestones[0].ID
	resp = ta.request(t, http.MethodPost, fmt.Sprintf("/api/escrows/%s/milestones/%s/submit", account.ID, m1), talentToken, fiber.Map{
		"deliverables": []fiber.Map{{"title": "mockups", "fileUrl": "https://files.example/m.zip"}},
		"notes":        "first pass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit = %d", resp.StatusCode)
	}

	resp = ta.request(t, http.MethodPost, fmt.Sprintf("/api/escrows/%s/milestones/%s/approve", account.ID, m1), businessToken, fiber.Map{"notes": "ship it"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve = %d", resp.StatusCode)
	}
	got := decodeJSON[model.EscrowAccount](t, resp)
	if got.Status != model.EscrowStatusPartiallyReleased {
		t.Errorf("status = %s, want partially_released", got.Status)
	}

	// Approving again is an invalid transition, mapped to 409.
	resp = ta.request(t, http.MethodPost, fmt.Sprintf("/api/escrows/%s/milestones/%s/approve", account.ID, m1), businessToken, fiber.Map{})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second approve = %d, want 409", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != response.CodeInvalidTransition {
		t.Errorf("code = %s, want INVALID_TRANSITION", code)
	}

	// The ledger shows the deposit and the release.
	resp = ta.request(t, http.MethodGet, fmt.Sprintf("/api/escrows/%s/transactions", account.ID), businessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transactions = %d", resp.StatusCode)
	}
	list := decodeJSON[struct {
		Transactions []model.EscrowTransaction `json:"transactions"`
	}](t, resp)
	if len(list.Transactions) != 2 {
		t.Errorf("transactions = %d, want 2", len(list.Transactions))
	}
}

func TestRejectRequiresReason(t *testing.T) {
	ta := setupApp(t)
	account := ta.createEscrow(t)
	businessToken := ta.token(t, "biz-1", "business")
	talentToken := ta.token(t, "tal-1", "talent")

	ta.request(t, http.MethodPost, fmt.Sprintf("/api/escrows/%s/fund", account.ID), businessToken, nil)
	m1 := account.Milestones[0].ID
	ta.request(t, http.MethodPost, fmt.Sprintf("/api/escrows/%s/milestones/%s/submit", account.ID, m1), talentToken, fiber.Map{})

	resp := ta.request(t, http.MethodPost, fmt.Sprintf("/api/escrows/%s/milestones/%s/reject", account.ID, m1), businessToken, fiber.Map{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reject without reason = %d, want 400", resp.StatusCode)
	}

	resp = ta.request(t, http.MethodPost, fmt.Sprintf("/api/escrows/%s/milestones/%s/reject", account.ID, m1), businessToken, fiber.Map{"reason": "incomplete"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject = %d, want 200", resp.StatusCode)
	}
}

func TestDisputeFlow(t *testing.T) {
	ta := setupApp(t)
	account := ta.createEscrow(t)
	businessToken := ta.token(t, "biz-1", "business")
	talentToken := ta.token(t, "tal-1", "talent")
	adminToken := ta.token(t, "admin-1", "admin")

	ta.request(t, http.MethodPost, fmt.Sprintf("/api/escrows/%s/fund", account.ID), businessToken, nil)
	m1 := account.Milestones[0].ID
	ta.request(t, http.MethodPost, fmt.Sprintf("/api/escrows/%s/milestones/%s/submit", account.ID, m1), talentToken, fiber.Map{})

	disputePath := fmt.Sprintf("/api/escrows/%s/milestones/%s/dispute", account.ID, m1)

	// The caller must be the party they claim to dispute as.
	resp := ta.request(t, http.MethodPost, disputePath, talentToken, fiber.Map{
		"initiatedBy": "business",
		"reason":      "quality",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("dispute with mismatched party = %d, want 403", resp.StatusCode)
	}

	resp = ta.request(t, http.MethodPost, disputePath, businessToken, fiber.Map{
		"initiatedBy": "business",
		"reason":      "quality",
		"description": "does not match the brief",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("dispute = %d, want 201", resp.StatusCode)
	}
	dispute := decodeJSON[model.DisputeCase](t, resp)

	// A frozen milestone maps to 409 MILESTONE_FROZEN.
	resp = ta.request(t, http.MethodPost, fmt.Sprintf("/api/escrows/%s/milestones/%s/approve", account.ID, m1), businessToken, fiber.Map{})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("approve frozen = %d, want 409", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != response.CodeMilestoneFrozen {
		t.Errorf("code = %s, want MILESTONE_FROZEN", code)
	}

	// Resolution is an administrative operation.
	resolvePath := fmt.Sprintf("/api/disputes/%s/resolve", dispute.ID)
	resp = ta.request(t, http.MethodPost, resolvePath, businessToken, fiber.Map{"resolution": "refund_business"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resolve as business = %d, want 403", resp.StatusCode)
	}
	resp = ta.request(t, http.MethodPost, resolvePath, adminToken, fiber.Map{"resolution": "refund_business"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve as admin = %d, want 200", resp.StatusCode)
	}

	// Both parties can read the dispute; strangers cannot.
	getPath := "/api/disputes/" + dispute.ID
	for _, token := range []string{businessToken, talentToken, adminToken} {
		resp = ta.request(t, http.MethodGet, getPath, token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("get dispute = %d, want 200", resp.StatusCode)
		}
	}
	resp = ta.request(t, http.MethodGet, getPath, ta.token(t, "stranger", "talent"), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("get dispute as stranger = %d, want 403", resp.StatusCode)
	}

	// Close is terminal and admin-only.
	closePath := fmt.Sprintf("/api/disputes/%s/close", dispute.ID)
	resp = ta.request(t, http.MethodPost, closePath, adminToken, fiber.Map{"adminNotes": "archived"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close = %d, want 200", resp.StatusCode)
	}
	closed := decodeJSON[model.DisputeCase](t, resp)
	if closed.Status != model.DisputeStatusClosed {
		t.Errorf("status = %s, want closed", closed.Status)
	}
}

func TestNotFoundMapping(t *testing.T) {
	ta := setupApp(t)
	token := ta.token(t, "biz-1", "business")

	resp := ta.request(t, http.MethodGet, "/api/escrows/00000000-0000-0000-0000-000000000000", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != response.CodeNotFound {
		t.Errorf("code = %s, want NOT_FOUND", code)
	}
}
