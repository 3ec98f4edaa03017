// Package records syncs claim state with the off-ledger system of record.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vims-labs/claim-oracle/common/middleware"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// ErrNotFound is returned when the system of record has no such claim.
var ErrNotFound = errors.New("claim not found in system of record")

// Update is the body of PATCH /claims/{id}.
type Update struct {
	Status          models.ClaimStatus `json:"status"`
	Verified        bool               `json:"verified"`
	PayoutAmount    int64              `json:"payoutAmount"`
	LedgerEvaluated bool               `json:"ledgerEvaluated"`
}

// UpdateFromDecision builds the update pushed after a ledger commit.
func UpdateFromDecision(d models.Decision) Update {
	return Update{
		Status:          d.Status(),
		Verified:        d.Verified,
		PayoutAmount:    d.PayoutAmount,
		LedgerEvaluated: true,
	}
}

// UpdateFromLedger builds an update mirroring an already-evaluated ledger claim.
func UpdateFromLedger(c *models.LedgerClaim) Update {
	return Update{
		Status:          c.Status,
		Verified:        c.Verified,
		PayoutAmount:    c.PayoutAmount,
		LedgerEvaluated: c.Status.Terminal(),
	}
}

// Client talks to the system-of-record service over its internal API.
// No caller identity is sent; this is service-to-service traffic.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client. timeout bounds each request.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchClaim returns the claim detail, or ErrNotFound.
func (c *Client) FetchClaim(ctx context.Context, claimID string) (*models.ClaimRecord, error) {
	req, err := c.newRequest(ctx, http.MethodGet, claimID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch claim %s: %w", claimID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, statusError("fetch claim", resp)
	}

	var record models.ClaimRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("decode claim %s: %w", claimID, err)
	}
	if record.ClaimID == "" {
		record.ClaimID = claimID
	}
	return &record, nil
}

// PushDecision writes the final state for the claim.
func (c *Client) PushDecision(ctx context.Context, claimID string, update Update) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPatch, claimID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push decision %s: %w", claimID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return statusError("push decision", resp)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, claimID string, body io.Reader) (*http.Request, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("records client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/claims/"+url.PathEscape(claimID), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		req.Header.Set(middleware.HeaderRequestID, reqID)
	}
	return req, nil
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: system of record status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
