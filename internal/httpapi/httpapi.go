package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/service"
	"github.com/Paisa224/ferreteria/internal/store"
)

const (
	defaultMovementLimit = 100
	maxMovementLimit     = 200
)

type CapabilityChecker interface {
	HasAny(ctx context.Context, userID int64, capabilities ...domain.Capability) (bool, error)
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	authorizer    CapabilityChecker
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, authorizer CapabilityChecker, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		authorizer:    authorizer,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

var (
	cashReaders     = []domain.Capability{domain.CapCashManage, domain.CapCashOpen, domain.CapCashCount, domain.CapCashClose}
	cashOperators   = []domain.Capability{domain.CapCashOpen, domain.CapCashCount, domain.CapCashClose}
	movementReaders = append([]domain.Capability{domain.CapCashMove}, cashReaders...)
)

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("POST /api/v1/cash/registers", a.requireAuth(a.handleCreateRegister, domain.CapCashManage))
	mux.HandleFunc("GET /api/v1/cash/registers", a.requireAuth(a.handleListRegisters, cashReaders...))
	mux.HandleFunc("PATCH /api/v1/cash/registers/{id}", a.requireAuth(a.handleUpdateRegister, domain.CapCashManage))

	mux.HandleFunc("POST /api/v1/cash/sessions/open", a.requireAuth(a.handleOpenSession, domain.CapCashOpen))
	mux.HandleFunc("GET /api/v1/cash/sessions/current", a.requireAuth(a.handleCurrentSessions, cashReaders...))
	mux.HandleFunc("GET /api/v1/cash/sessions/my-open", a.requireAuth(a.handleMyOpenSession, cashOperators...))
	mux.HandleFunc("GET /api/v1/cash/sessions/{id}", a.requireAuth(a.handleGetSession, cashReaders...))
	mux.HandleFunc("GET /api/v1/cash/sessions/{id}/summary", a.requireAuth(a.handleSessionSummary, cashReaders...))
	mux.HandleFunc("POST /api/v1/cash/sessions/{id}/close", a.requireAuth(a.handleCloseSession, domain.CapCashClose))
	mux.HandleFunc("POST /api/v1/cash/sessions/{id}/movements", a.requireAuth(a.handleCreateCashMovement, domain.CapCashMove))
	mux.HandleFunc("GET /api/v1/cash/sessions/{id}/movements", a.requireAuth(a.handleListCashMovements, movementReaders...))
	mux.HandleFunc("POST /api/v1/cash/sessions/{id}/count", a.requireAuth(a.handleSubmitCount, domain.CapCashCount))
	mux.HandleFunc("GET /api/v1/cash/sessions/{id}/counts", a.requireAuth(a.handleListCounts, cashReaders...))
	mux.HandleFunc("GET /api/v1/cash/denominations", a.requireAuth(a.handleDenominations, cashReaders...))

	mux.HandleFunc("POST /api/v1/inventory/stock/move", a.requireAuth(a.handleStockMove, domain.CapInventoryManage))
	mux.HandleFunc("GET /api/v1/inventory/products/{id}/stock", a.requireAuth(a.handleProductStock, domain.CapInventoryManage))
	mux.HandleFunc("GET /api/v1/inventory/products/{id}/movements", a.requireAuth(a.handleProductMovements, domain.CapInventoryManage))

	mux.HandleFunc("POST /api/v1/pos/sales", a.requireAuth(a.handleCreateSale, domain.CapPOSSell))
	mux.HandleFunc("GET /api/v1/pos/sales/{id}", a.requireAuth(a.handleGetSale, domain.CapPOSSell))

	return a.withMiddleware(mux)
}

// requireAuth admits requests carrying a valid bearer token whose user holds
// at least one of caps.
func (a *API) requireAuth(next http.HandlerFunc, caps ...domain.Capability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		allowed, err := a.authorizer.HasAny(r.Context(), actor.UserID, caps...)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !allowed {
			writeError(w, http.StatusForbidden, errors.New("missing capability"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func actorID(r *http.Request) int64 {
	actor, _ := service.ActorFromContext(r.Context())
	return actor.UserID
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if errors.Is(err, errInvalidCredentials) || errors.Is(err, errAccountInactive) {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.CashRegisterCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	register, err := a.service.CreateCashRegister(r.Context(), req, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, register)
}

func (a *API) handleListRegisters(w http.ResponseWriter, r *http.Request) {
	registers, err := a.service.ListCashRegisters(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": registers})
}

func (a *API) handleUpdateRegister(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.CashRegisterUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	register, err := a.service.UpdateCashRegister(r.Context(), id, req, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, register)
}

func (a *API) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CashSessionOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session, err := a.service.OpenCashSession(r.Context(), req, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleCurrentSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.service.CurrentOpenSessions(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sessions})
}

func (a *API) handleMyOpenSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.MyOpenSession(r.Context(), actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := a.service.GetCashSession(r.Context(), id, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	summary, err := a.service.GetCashSummary(r.Context(), id, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.CashSessionCloseRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session, err := a.service.CloseCashSession(r.Context(), id, req, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleCreateCashMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.CashMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	movement, err := a.service.RecordCashMovement(r.Context(), id, req, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, movement)
}

func (a *API) handleListCashMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	movements, err := a.service.ListCashMovements(r.Context(), id, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": movements})
}

func (a *API) handleSubmitCount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.CashCountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	count, err := a.service.SubmitCashCount(r.Context(), id, req, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, count)
}

func (a *API) handleListCounts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	counts, err := a.service.ListCashCounts(r.Context(), id, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": counts})
}

func (a *API) handleDenominations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"denominations": a.service.Denominations()})
}

func (a *API) handleStockMove(w http.ResponseWriter, r *http.Request) {
	var req domain.StockMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreateStockMovement(r.Context(), req, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleProductStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	stock, err := a.service.GetProductStock(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (a *API) handleProductMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	filter := domain.StockMovementFilter{
		Limit: parsePositiveLimit(query.Get("limit"), defaultMovementLimit, maxMovementLimit),
	}
	var err error
	if filter.From, err = parseTimeParam(query.Get("from"), false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.To, err = parseTimeParam(query.Get("to"), true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	list, err := a.service.ListProductMovements(r.Context(), id, filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sale":   sale,
		"change": sale.Change(),
	})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sale, err := a.service.GetSale(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		if a.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		log.Info().
			Str("component", "http").
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid id"))
		return 0, false
	}
	return id, true
}

// parseTimeParam accepts RFC3339 or YYYY-MM-DD. A bare date used as an upper
// bound covers the whole day.
func parseTimeParam(raw string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &ts, nil
	}
	day, err := time.Parse(time.DateOnly, trimmed)
	if err != nil {
		return nil, errors.New("invalid date, use RFC3339 or YYYY-MM-DD")
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON treats an empty body as an empty object.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusUnprocessableEntity, "invalid_state"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, kind := statusForError(err)
	if status >= 500 {
		writeError(w, status, err)
		return
	}

	body := map[string]any{
		"error": err.Error(),
		"kind":  kind,
	}
	var conflict *store.SessionConflictError
	var shortage *store.InsufficientStockError
	switch {
	case errors.As(err, &shortage):
		body["details"] = map[string]any{
			"product_id": shortage.ProductID,
			"available":  shortage.Available,
			"requested":  shortage.Requested,
		}
	case errors.As(err, &conflict) && conflict.SessionID > 0:
		body["details"] = map[string]any{
			"session_id":       conflict.SessionID,
			"cash_register_id": conflict.CashRegisterID,
			"opened_by":        conflict.OpenedBy,
			"opened_at":        conflict.OpenedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Str("component", "http").Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
