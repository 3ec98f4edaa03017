// Package server provides HTTP server setup for the oracle service.
package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vims-labs/claim-oracle/common/httputil"
	"github.com/vims-labs/claim-oracle/common/middleware"
	"github.com/vims-labs/claim-oracle/oracle/internal/handlers"
)

const claimsPrefix = "/api/v1/claims/"

// NewRouter constructs a ServeMux with the oracle's routes registered.
func NewRouter(h *handlers.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.HandleFunc("/readyz", h.ReadyCheck)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/v1/claims/unreconciled", h.Unreconciled)
	mux.HandleFunc(claimsPrefix, claimRouteHandler(h))

	return middleware.RequestID(middleware.Recover(logger, mux))
}

// claimRouteHandler routes /api/v1/claims/{id}/* requests to appropriate handlers
func claimRouteHandler(h *handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, claimsPrefix)
		id, action, found := strings.Cut(rest, "/")
		if !found || id == "" || strings.Contains(action, "/") {
			httputil.WriteJSONAPIError(w, http.StatusNotFound, "not_found", "Not Found", "")
			return
		}

		switch action {
		case "process":
			h.ProcessClaim(w, r, id)
		case "ledger":
			h.LedgerClaim(w, r, id)
		case "history":
			h.ClaimHistory(w, r, id)
		default:
			httputil.WriteJSONAPIError(w, http.StatusNotFound, "not_found", "Not Found", "")
		}
	}
}
