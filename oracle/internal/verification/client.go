// Package verification talks to the private verification collaborator.
package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vims-labs/claim-oracle/common/middleware"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// ReasonUnavailable is returned whenever the collaborator cannot give a verdict.
const ReasonUnavailable = "verification service unavailable"

// Request is the body of POST /verify.
type Request struct {
	ClaimID         string `json:"claimId"`
	PolicyID        string `json:"policyId"`
	UserID          string `json:"userId"`
	Severity        int    `json:"severity"`
	ReportReference string `json:"reportReference"`
}

// Client calls the verification service. A failed call never surfaces as an
// error: it becomes a negative verdict so no payout happens on uncertainty.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New constructs a Client. timeout bounds each request end to end.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Verify requests a verdict for the claim.
func (c *Client) Verify(ctx context.Context, req Request) models.Verdict {
	verdict, err := c.verify(ctx, req)
	if err != nil {
		c.logger.Warn("verification failed, failing closed",
			slog.String("claim_id", req.ClaimID),
			slog.String("error", err.Error()))
		return models.Verdict{Verified: false, Reason: ReasonUnavailable}
	}
	return verdict
}

func (c *Client) verify(ctx context.Context, req Request) (models.Verdict, error) {
	if c == nil || c.baseURL == "" {
		return models.Verdict{}, fmt.Errorf("verification client not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return models.Verdict{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		httpReq.Header.Set(middleware.HeaderRequestID, reqID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Verdict{}, fmt.Errorf("verification response status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var verdict models.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return models.Verdict{}, fmt.Errorf("decode response: %w", err)
	}
	return verdict, nil
}
