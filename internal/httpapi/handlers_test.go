package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Paisa224/ferreteria/internal/authz"
	"github.com/Paisa224/ferreteria/internal/cache"
	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/service"
	"github.com/Paisa224/ferreteria/internal/store"
	"github.com/Paisa224/ferreteria/internal/store/memory"
)

// newTestAPI wires the real service, authorizer and auth manager over a
// seeded memory store, so handler tests run the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	users := store.NewUserDirectory(repo)
	authorizer := authz.NewRoleAuthorizer(users, nil)
	svc := service.New(repo, authorizer, cache.NoopSaleCache{}, service.DefaultPolicy())
	auth := NewAuthManager(testSecret, time.Hour, users)

	return New(svc, auth, authorizer, "")
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d (body: %s)", username, res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	return payload.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if raw, ok := payload.(string); ok {
			body.WriteString(raw)
		} else if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func expectStatus(t *testing.T, res *httptest.ResponseRecorder, want int) {
	t.Helper()
	if res.Code != want {
		t.Fatalf("expected %d, got %d (body: %s)", want, res.Code, res.Body.String())
	}
}

func amountField(t *testing.T, body map[string]any, key string) decimal.Decimal {
	t.Helper()
	raw, ok := body[key].(string)
	if !ok {
		t.Fatalf("expected %s to be a decimal string, got %v", key, body[key])
	}
	return decimal.RequireFromString(raw)
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	res := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, res, http.StatusOK)
	if body := decodeBody(t, res); body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin(t *testing.T) {
	handler := newTestAPI(t).Handler()

	res := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "admin123"})
	expectStatus(t, res, http.StatusOK)
	body := decodeBody(t, res)
	if token, _ := body["access_token"].(string); token == "" {
		t.Fatalf("expected access_token in response, got %v", body)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	expectStatus(t, res, http.StatusUnauthorized)
}

func TestRoutesRequireBearerToken(t *testing.T) {
	handler := newTestAPI(t).Handler()

	for _, path := range []string{
		"/api/v1/cash/registers",
		"/api/v1/cash/sessions/current",
		"/api/v1/inventory/products/1/stock",
		"/api/v1/pos/sales/1",
	} {
		res := doJSON(t, handler, http.MethodGet, path, "", nil)
		expectStatus(t, res, http.StatusUnauthorized)

		res = doJSON(t, handler, http.MethodGet, path, "not-a-token", nil)
		expectStatus(t, res, http.StatusUnauthorized)
	}
}

func TestCapabilityGuards(t *testing.T) {
	handler := newTestAPI(t).Handler()
	vendedor := loginAs(t, handler, "vendedor", "vendedor123")
	admin := loginAs(t, handler, "admin", "admin123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/cash/registers", vendedor, map[string]any{"name": "Caja 3"})
	expectStatus(t, res, http.StatusForbidden)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/inventory/stock/move", vendedor, map[string]any{
		"product_id": 1, "type": "IN", "qty": 5,
	})
	expectStatus(t, res, http.StatusForbidden)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/cash/registers", vendedor, nil)
	expectStatus(t, res, http.StatusOK)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/cash/registers", admin, map[string]any{"name": "Caja 3"})
	expectStatus(t, res, http.StatusCreated)
	if body := decodeBody(t, res); body["name"] != "Caja 3" {
		t.Fatalf("unexpected register %v", body)
	}
}

func TestCashSaleLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "vendedor", "vendedor123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/cash/sessions/open", token, map[string]any{
		"cash_register_id": 1,
		"opening_amount":   100000,
	})
	expectStatus(t, res, http.StatusCreated)
	session := decodeBody(t, res)
	sessionID := strconv.FormatInt(int64(session["id"].(float64)), 10)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/cash/sessions/my-open", token, nil)
	expectStatus(t, res, http.StatusOK)
	if mine := decodeBody(t, res); mine["session"] == nil {
		t.Fatalf("expected my-open to return the session")
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/pos/sales", token, map[string]any{
		"items":    []map[string]any{{"product_id": 1, "qty": 1, "price": 45000}},
		"payments": []map[string]any{{"method": "CASH", "amount": 50000}},
	})
	expectStatus(t, res, http.StatusCreated)
	created := decodeBody(t, res)
	if change := amountField(t, created, "change"); !change.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected change 5000, got %s", change)
	}
	sale := created["sale"].(map[string]any)
	saleID := strconv.FormatInt(int64(sale["id"].(float64)), 10)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/pos/sales/"+saleID, token, nil)
	expectStatus(t, res, http.StatusOK)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/cash/sessions/"+sessionID+"/summary", token, nil)
	expectStatus(t, res, http.StatusOK)
	if expected := amountField(t, decodeBody(t, res), "expected_cash"); !expected.Equal(decimal.NewFromInt(150000)) {
		t.Fatalf("expected cash 150000, got %s", expected)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/cash/sessions/"+sessionID+"/close", token, nil)
	expectStatus(t, res, http.StatusUnprocessableEntity)
	if body := decodeBody(t, res); body["kind"] != "invalid_state" {
		t.Fatalf("expected invalid_state before count, got %v", body)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/cash/sessions/"+sessionID+"/count", token, map[string]any{
		"denominations": []map[string]any{{"denomination": 50000, "qty": 3}},
	})
	expectStatus(t, res, http.StatusCreated)
	if diff := amountField(t, decodeBody(t, res), "difference"); !diff.IsZero() {
		t.Fatalf("expected zero difference, got %s", diff)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/cash/sessions/"+sessionID+"/close", token, nil)
	expectStatus(t, res, http.StatusOK)
	closed := decodeBody(t, res)
	if closed["status"] != string(domain.CashSessionClosed) {
		t.Fatalf("expected CLOSED, got %v", closed["status"])
	}
	if amount := amountField(t, closed, "closing_amount"); !amount.Equal(decimal.NewFromInt(150000)) {
		t.Fatalf("expected closing amount 150000, got %s", amount)
	}
}

func TestOpenSessionConflictCarriesDetails(t *testing.T) {
	handler := newTestAPI(t).Handler()
	vendedor := loginAs(t, handler, "vendedor", "vendedor123")
	admin := loginAs(t, handler, "admin", "admin123")

	open := map[string]any{"cash_register_id": 1, "opening_amount": 0}
	res := doJSON(t, handler, http.MethodPost, "/api/v1/cash/sessions/open", vendedor, open)
	expectStatus(t, res, http.StatusCreated)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/cash/sessions/open", admin, open)
	expectStatus(t, res, http.StatusConflict)
	body := decodeBody(t, res)
	if body["kind"] != "conflict" {
		t.Fatalf("expected conflict kind, got %v", body)
	}
	details, ok := body["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected conflict details, got %v", body)
	}
	if details["opened_by"] != float64(2) || details["cash_register_id"] != float64(1) {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestSaleErrorsMapToStatuses(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := loginAs(t, handler, "admin", "admin123")

	sale := map[string]any{
		"items":    []map[string]any{{"product_id": 1, "qty": 999, "price": 45000}},
		"payments": []map[string]any{{"method": "CASH", "amount": 44955000}},
	}
	res := doJSON(t, handler, http.MethodPost, "/api/v1/pos/sales", admin, sale)
	expectStatus(t, res, http.StatusUnprocessableEntity)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/cash/sessions/open", admin, map[string]any{"cash_register_id": 2, "opening_amount": 0})
	expectStatus(t, res, http.StatusCreated)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/pos/sales", admin, sale)
	expectStatus(t, res, http.StatusConflict)
	body := decodeBody(t, res)
	if body["kind"] != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock, got %v", body)
	}
	details := body["details"].(map[string]any)
	if details["product_id"] != float64(1) {
		t.Fatalf("unexpected details %v", details)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/pos/sales", admin, map[string]any{
		"items":    []map[string]any{{"product_id": 999, "qty": 1, "price": 100}},
		"payments": []map[string]any{{"method": "CASH", "amount": 100}},
	})
	expectStatus(t, res, http.StatusNotFound)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/pos/sales", admin, map[string]any{
		"items":    []map[string]any{},
		"payments": []map[string]any{{"method": "CASH", "amount": 100}},
	})
	expectStatus(t, res, http.StatusBadRequest)
}

func TestSessionAccessIsForbiddenForOtherSellers(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	admin := loginAs(t, handler, "admin", "admin123")
	vendedor := loginAs(t, handler, "vendedor", "vendedor123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/cash/sessions/open", admin, map[string]any{"cash_register_id": 1, "opening_amount": 0})
	expectStatus(t, res, http.StatusCreated)
	sessionID := strconv.FormatInt(int64(decodeBody(t, res)["id"].(float64)), 10)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/cash/sessions/"+sessionID+"/movements", vendedor, map[string]any{
		"type": "OUT", "concept": "Retiro", "amount": 1000,
	})
	expectStatus(t, res, http.StatusForbidden)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/cash/sessions/"+sessionID+"/movements", admin, map[string]any{
		"type": "IN", "concept": "Cambio inicial", "amount": 20000,
	})
	expectStatus(t, res, http.StatusCreated)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/cash/sessions/"+sessionID+"/movements", admin, nil)
	expectStatus(t, res, http.StatusOK)
	if items := decodeBody(t, res)["items"].([]any); len(items) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(items))
	}
}

func TestStockRoutes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := loginAs(t, handler, "admin", "admin123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/inventory/stock/move", admin, map[string]any{
		"product_id": 2, "type": "IN", "qty": 5, "note": "Reposicion",
	})
	expectStatus(t, res, http.StatusCreated)
	if stock := amountField(t, decodeBody(t, res), "stock"); !stock.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected stock 35, got %s", stock)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/inventory/stock/move", admin, map[string]any{
		"product_id": 2, "type": "OUT", "qty": 100,
	})
	expectStatus(t, res, http.StatusConflict)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/inventory/products/2/stock", admin, nil)
	expectStatus(t, res, http.StatusOK)
	if stock := amountField(t, decodeBody(t, res), "stock"); !stock.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected stock 35, got %s", stock)
	}

	res = doJSON(t, handler, http.MethodGet, "/api/v1/inventory/products/6/stock", admin, nil)
	expectStatus(t, res, http.StatusOK)
	if body := decodeBody(t, res); body["stock"] != nil {
		t.Fatalf("expected null stock for untracked product, got %v", body["stock"])
	}

	res = doJSON(t, handler, http.MethodGet, "/api/v1/inventory/products/2/movements?limit=1", admin, nil)
	expectStatus(t, res, http.StatusOK)
	if items := decodeBody(t, res)["items"].([]any); len(items) != 1 {
		t.Fatalf("expected 1 movement with limit=1, got %d", len(items))
	}

	res = doJSON(t, handler, http.MethodGet, "/api/v1/inventory/products/2/movements?from=yesterday", admin, nil)
	expectStatus(t, res, http.StatusBadRequest)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/inventory/products/2/movements?from=2030-01-02&to=2030-01-01", admin, nil)
	expectStatus(t, res, http.StatusBadRequest)
}

func TestMyOpenSessionIsNullWithoutSession(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "vendedor", "vendedor123")

	res := doJSON(t, handler, http.MethodGet, "/api/v1/cash/sessions/my-open", token, nil)
	expectStatus(t, res, http.StatusOK)
	body := decodeBody(t, res)
	if session, present := body["session"]; !present || session != nil {
		t.Fatalf("expected session:null, got %v", body)
	}
}

func TestInvalidPathIDAndUnknownFields(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := loginAs(t, handler, "admin", "admin123")

	res := doJSON(t, handler, http.MethodGet, "/api/v1/cash/sessions/abc", admin, nil)
	expectStatus(t, res, http.StatusBadRequest)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/pos/sales/0", admin, nil)
	expectStatus(t, res, http.StatusBadRequest)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/cash/sessions/open", admin, `{"cash_register_id":1,"opening_amount":0,"terminal":"x"}`)
	expectStatus(t, res, http.StatusBadRequest)
}

func TestDenominationsLargestFirst(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "vendedor", "vendedor123")

	res := doJSON(t, handler, http.MethodGet, "/api/v1/cash/denominations", token, nil)
	expectStatus(t, res, http.StatusOK)
	values := decodeBody(t, res)["denominations"].([]any)
	if len(values) == 0 || values[0] != "100000" {
		t.Fatalf("expected 100000 first, got %v", values)
	}
}
