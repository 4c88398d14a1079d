package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tillpoint/backend/internal/catalog"
	"tillpoint/backend/internal/directory"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/service"
	"tillpoint/backend/internal/stock"
	"tillpoint/backend/internal/store/memory"
	"tillpoint/backend/internal/unlock"
)

// newTestAPI builds a full API with an in-memory repository, seeded catalog
// and stock providers, and a real Guard so handler tests exercise the
// complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded("main-branch")
	resolver := catalog.NewResolver(catalog.NewSeededProvider())
	gate := stock.NewGate(stock.NewSeededProvider("main-branch"), time.Second, false)
	svc := service.New(repo, resolver, gate, "main-branch", 15*time.Minute)

	dir := directory.NewMemory([]domain.Employee{
		{
			ID:       "emp-cashier-1",
			Name:     "Dana Reyes",
			BranchID: "main-branch",
			Role:     "cashier",
			PINHash:  mustHashPIN(t, testCashierPIN),
			Active:   true,
		},
	})
	guard := NewGuard(testGuardSecret, time.Hour, time.Minute, dir, unlock.NewMemory())

	return New(svc, guard, "*")
}

func doJSON(t *testing.T, api *API, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

// unlockTerminal authenticates the seeded cashier and returns the unlock token.
func unlockTerminal(t *testing.T, api *API) string {
	t.Helper()

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/pin", "", domain.PinAuthRequest{
		BranchID: "main-branch",
		PIN:      testCashierPIN,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("pin auth failed, status %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.PinAuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode pin auth response: %v", err)
	}
	if resp.UnlockToken == "" {
		t.Fatalf("expected unlock token in response")
	}
	return resp.UnlockToken
}

func openSessionHTTP(t *testing.T, api *API, token string, floatCents int64) string {
	t.Helper()

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sessions/open", token, domain.SessionOpenRequest{
		BranchID:          "main-branch",
		OpeningFloatCents: floatCents,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session failed, status %d (body: %s)", rec.Code, rec.Body.String())
	}

	var payload struct {
		Session domain.Session `json:"session"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	if payload.Session.ID == "" {
		t.Fatalf("expected session id in response")
	}
	return payload.Session.ID
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) domain.Order {
	t.Helper()

	var payload struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode order response: %v", err)
	}
	return payload.Order
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestPinAuthWrongPINReturns401(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/pin", "", domain.PinAuthRequest{
		BranchID: "main-branch",
		PIN:      "0000",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestMutationsRequireUnlockToken(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/orders", "", domain.OrderCreateRequest{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/orders", "not-a-real-token", domain.OrderCreateRequest{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestLockEndpointRevokesUnlock(t *testing.T) {
	api := newTestAPI(t)
	token := unlockTerminal(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/lock", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lock failed, status %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sessions/open", token, domain.SessionOpenRequest{
		BranchID:          "main-branch",
		OpeningFloatCents: 10000,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after lock, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCashOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := unlockTerminal(t, api)
	sessionID := openSessionHTTP(t, api, token, 50000)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/orders", token, domain.OrderCreateRequest{
		SessionID: sessionID,
		OrderType: domain.OrderTypeTakeaway,
		Items: []domain.LineItemRequest{
			{CatalogID: "item-burger", Quantity: 1},
		},
		PaymentMethod:     domain.PaymentMethodCash,
		CashReceivedCents: 5000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order failed, status %d (body: %s)", rec.Code, rec.Body.String())
	}
	order := decodeOrder(t, rec)
	if order.TotalCents != 5000 || order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected order totals: total=%d payment_status=%s", order.TotalCents, order.PaymentStatus)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/orders/"+order.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order failed, status %d", rec.Code)
	}
	if got := decodeOrder(t, rec); got.ID != order.ID {
		t.Fatalf("expected order %s, got %s", order.ID, got.ID)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/orders/"+order.ID+"/timeline", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("timeline failed, status %d", rec.Code)
	}
	var timeline struct {
		Events []domain.OrderEvent `json:"events"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&timeline); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	if len(timeline.Events) < 2 {
		t.Fatalf("expected creation and payment events, got %d", len(timeline.Events))
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sessions/"+sessionID+"/summary", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("session summary failed, status %d", rec.Code)
	}
	var summary domain.SessionSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.RunningBalanceCents != 55000 {
		t.Fatalf("expected running balance 55000 after cash sale, got %d", summary.RunningBalanceCents)
	}
}

func TestEditRequiringExtraPaymentReturns402(t *testing.T) {
	api := newTestAPI(t)
	token := unlockTerminal(t, api)
	sessionID := openSessionHTTP(t, api, token, 50000)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/orders", token, domain.OrderCreateRequest{
		SessionID: sessionID,
		OrderType: domain.OrderTypeTakeaway,
		Items: []domain.LineItemRequest{
			{CatalogID: "item-burger", Quantity: 1},
		},
		PaymentMethod:     domain.PaymentMethodCash,
		CashReceivedCents: 5000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order failed, status %d (body: %s)", rec.Code, rec.Body.String())
	}
	order := decodeOrder(t, rec)

	rec = doJSON(t, api, http.MethodPatch, "/api/v1/orders/"+order.ID, token, domain.OrderEditRequest{
		ItemsToAdd: []domain.LineItemRequest{
			{CatalogID: "item-fries", Quantity: 1},
		},
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 for edit above paid amount, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var parked struct {
		PendingPayment domain.PendingExtraPayment `json:"pending_payment"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&parked); err != nil {
		t.Fatalf("decode pending payment: %v", err)
	}
	if parked.PendingPayment.AmountDueCents != 2500 {
		t.Fatalf("expected 2500 due for added fries, got %d", parked.PendingPayment.AmountDueCents)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/payment", token, domain.PaymentRequest{
		PendingEditID:     parked.PendingPayment.PendingEditID,
		Method:            domain.PaymentMethodCash,
		CashReceivedCents: 2500,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("extra payment failed, status %d (body: %s)", rec.Code, rec.Body.String())
	}
	settled := decodeOrder(t, rec)
	if settled.TotalCents != 7500 || settled.PaidCents != 7500 {
		t.Fatalf("expected settled totals 7500/7500, got %d/%d", settled.TotalCents, settled.PaidCents)
	}
}

func TestUnknownOrderReturns404(t *testing.T) {
	api := newTestAPI(t)
	token := unlockTerminal(t, api)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/orders/ord-missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSecondOpenSessionReturns409(t *testing.T) {
	api := newTestAPI(t)
	token := unlockTerminal(t, api)
	openSessionHTTP(t, api, token, 50000)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sessions/open", token, domain.SessionOpenRequest{
		BranchID:          "main-branch",
		OpeningFloatCents: 10000,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second open session, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
