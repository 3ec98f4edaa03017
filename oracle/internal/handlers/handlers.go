// Package handlers provides HTTP request handlers for the oracle's
// operational API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vims-labs/claim-oracle/common/httputil"
	"github.com/vims-labs/claim-oracle/common/logging"
	"github.com/vims-labs/claim-oracle/common/tokens"
	"github.com/vims-labs/claim-oracle/oracle/internal/health"
	"github.com/vims-labs/claim-oracle/oracle/internal/ingestion"
	"github.com/vims-labs/claim-oracle/oracle/internal/journal"
	"github.com/vims-labs/claim-oracle/oracle/internal/ledger"
	"github.com/vims-labs/claim-oracle/oracle/internal/metrics"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

const serviceName = "claim-oracle"

// Ledger is the ledger manager surface the handlers read.
type Ledger interface {
	Status() ledger.Status
	GetClaim(ctx context.Context, claimID string) (*models.LedgerClaim, error)
}

// Ingestion is the ingestion surface the handlers use.
type Ingestion interface {
	Trigger(claimID string) error
	Stats() ingestion.Stats
}

// Handler provides HTTP handlers for the oracle service
type Handler struct {
	ledger    Ledger
	ingestion Ingestion
	journal   journal.Journal
	checker   *health.Checker
	tokens    *tokens.TokenGenerator
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(l Ledger, ing Ingestion, j journal.Journal, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ledger: l, ingestion: ing, journal: j, logger: logger}
}

// WithHealthChecker adds collaborator probes to /healthz.
func (h *Handler) WithHealthChecker(c *health.Checker) *Handler {
	h.checker = c
	return h
}

// WithOperatorAuth requires an operator token on mutating endpoints.
func (h *Handler) WithOperatorAuth(tg *tokens.TokenGenerator) *Handler {
	h.tokens = tg
	return h
}

// WithTriggerLimit throttles manual triggers to perSecond with burst.
func (h *Handler) WithTriggerLimit(perSecond float64, burst int) *Handler {
	if perSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
	return h
}

// =============================================================================
// Health Check Handlers
// =============================================================================

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status       string          `json:"status"`
	Service      string          `json:"service"`
	Ledger       ledger.Status   `json:"ledger"`
	Ingestion    ingestion.Stats `json:"ingestion"`
	Dependencies []health.Result `json:"dependencies,omitempty"`
}

// HealthCheck handles GET /healthz. The process is alive even when the
// ledger or a collaborator is not; their state is reported, not enforced.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	resp := HealthResponse{
		Status:    "ok",
		Service:   serviceName,
		Ledger:    h.ledger.Status(),
		Ingestion: h.ingestion.Stats(),
	}
	if !resp.Ledger.Connected {
		resp.Status = "degraded"
	}
	if h.checker != nil {
		resp.Dependencies = h.checker.Check(r.Context())
		if !health.Healthy(resp.Dependencies) {
			resp.Status = "degraded"
		}
	}
	metrics.BoolGauge(metrics.LedgerConnected, resp.Ledger.Connected)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ReadyCheck handles GET /readyz. Ready means a ledger session exists.
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}
	st := h.ledger.Status()
	if !st.Connected {
		httputil.WriteJSONAPIError(w, http.StatusServiceUnavailable, "ledger_unavailable",
			"Ledger Unavailable", "ledger session is "+st.State)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": serviceName})
}

// =============================================================================
// Claim Handlers
// =============================================================================

// TriggerResponse is returned when a manual evaluation is accepted.
type TriggerResponse struct {
	ClaimID  string `json:"claim_id"`
	Status   string `json:"status"`
	Operator string `json:"operator,omitempty"`
}

// ProcessClaim handles POST /api/v1/claims/{id}/process
func (h *Handler) ProcessClaim(w http.ResponseWriter, r *http.Request, claimID string) {
	if r.Method != http.MethodPost {
		httputil.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}
	operator, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow() {
		metrics.TriggerRejected.WithLabelValues("rate_limited").Inc()
		w.Header().Set("Retry-After", "1")
		httputil.WriteJSONAPIError(w, http.StatusTooManyRequests, "rate_limited", "Too Many Requests",
			"manual triggers are rate limited")
		return
	}

	err := h.ingestion.Trigger(claimID)
	switch {
	case errors.Is(err, ingestion.ErrMalformedEvent):
		metrics.TriggerRejected.WithLabelValues("invalid_id").Inc()
		httputil.WriteJSONAPIError(w, http.StatusBadRequest, "invalid_claim_id", "Invalid Claim ID", err.Error())
		return
	case errors.Is(err, ingestion.ErrInFlight):
		metrics.TriggerRejected.WithLabelValues("in_flight").Inc()
		httputil.WriteJSONAPIError(w, http.StatusConflict, "in_flight", "Evaluation In Flight",
			"claim is already being evaluated")
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "manual trigger failed", logging.ClaimID(claimID), logging.Error(err))
		httputil.WriteJSONAPIError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error", "")
		return
	}

	h.logger.InfoContext(r.Context(), "manual evaluation accepted",
		logging.ClaimID(claimID), slog.String("operator", operator))
	httputil.WriteJSON(w, http.StatusAccepted, TriggerResponse{ClaimID: claimID, Status: "accepted", Operator: operator})
}

// LedgerClaim handles GET /api/v1/claims/{id}/ledger
func (h *Handler) LedgerClaim(w http.ResponseWriter, r *http.Request, claimID string) {
	if r.Method != http.MethodGet {
		httputil.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}
	claim, err := h.ledger.GetClaim(r.Context(), claimID)
	switch {
	case errors.Is(err, ledger.ErrClaimNotFound):
		httputil.WriteJSONAPIError(w, http.StatusNotFound, "not_found", "Not Found", "claim not found on ledger")
		return
	case errors.Is(err, ledger.ErrNotConnected):
		httputil.WriteJSONAPIError(w, http.StatusServiceUnavailable, "ledger_unavailable", "Ledger Unavailable", "")
		return
	case err != nil:
		h.logger.WarnContext(r.Context(), "ledger read failed", logging.ClaimID(claimID), logging.Error(err))
		httputil.WriteJSONAPIError(w, http.StatusBadGateway, "ledger_error", "Ledger Error", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, claim)
}

// ClaimHistory handles GET /api/v1/claims/{id}/history
func (h *Handler) ClaimHistory(w http.ResponseWriter, r *http.Request, claimID string) {
	if r.Method != http.MethodGet {
		httputil.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	entries, err := h.journal.History(r.Context(), claimID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "journal history failed", logging.Error(err))
		httputil.WriteJSONAPIError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error", "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"claim_id": claimID, "entries": nonNil(entries)})
}

// Unreconciled handles GET /api/v1/claims/unreconciled
func (h *Handler) Unreconciled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}
	if _, ok := h.authorize(w, r); !ok {
		return
	}

	limit := journal.DefaultUnreconciledLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			httputil.WriteJSONAPIError(w, http.StatusBadRequest, "invalid_limit", "Invalid Limit",
				"limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := h.journal.Unreconciled(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "journal query failed", logging.Error(err))
		httputil.WriteJSONAPIError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error", "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries":    nonNil(entries),
		"count":      len(entries),
		"fetched_at": time.Now().UTC(),
	})
}

// authorize enforces operator auth when configured. It returns the operator
// subject, or writes a 401/403 and returns false.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.tokens == nil {
		return "", true
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		httputil.WriteJSONAPIError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing bearer token")
		return "", false
	}
	claims, err := h.tokens.ValidateRole(strings.TrimSpace(authz[len("Bearer "):]), tokens.RoleOperator)
	if errors.Is(err, tokens.ErrMissingRole) {
		httputil.WriteJSONAPIError(w, http.StatusForbidden, "forbidden", "Forbidden", "operator role required")
		return "", false
	}
	if err != nil {
		httputil.WriteJSONAPIError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "invalid token")
		return "", false
	}
	return claims.Subject, true
}

func nonNil(entries []journal.Entry) []journal.Entry {
	if entries == nil {
		return []journal.Entry{}
	}
	return entries
}
