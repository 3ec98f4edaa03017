package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type OracleClient struct {
	baseURL string
	client  *http.Client
}

// Health is the oracle's /healthz body.
type Health struct {
	Status       string         `json:"status" yaml:"status"`
	Service      string         `json:"service" yaml:"service"`
	Ledger       LedgerStatus   `json:"ledger" yaml:"ledger"`
	Ingestion    IngestionStats `json:"ingestion" yaml:"ingestion"`
	Dependencies []Dependency   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

type LedgerStatus struct {
	State       string    `json:"state" yaml:"state"`
	Connected   bool      `json:"connected" yaml:"connected"`
	Endpoint    string    `json:"endpoint" yaml:"endpoint"`
	Attempts    int       `json:"attempts" yaml:"attempts"`
	LastError   string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero" yaml:"connected_at,omitempty"`
}

type IngestionStats struct {
	Processed     int    `json:"processed" yaml:"processed"`
	InFlight      int    `json:"in_flight" yaml:"in_flight"`
	LastScanned   uint64 `json:"last_scanned_height" yaml:"last_scanned_height"`
	PushActive    bool   `json:"push_active" yaml:"push_active"`
	PushSupported bool   `json:"push_supported" yaml:"push_supported"`
}

type Dependency struct {
	Name      string    `json:"name" yaml:"name"`
	Endpoint  string    `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Healthy   bool      `json:"healthy" yaml:"healthy"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at" yaml:"checked_at"`
}

// TriggerResult is returned when a manual evaluation is accepted.
type TriggerResult struct {
	ClaimID  string `json:"claim_id" yaml:"claim_id"`
	Status   string `json:"status" yaml:"status"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`
}

// JournalEntry is one journaled decision.
type JournalEntry struct {
	ID                 string    `json:"id" yaml:"id"`
	ClaimID            string    `json:"claim_id" yaml:"claim_id"`
	Source             string    `json:"source" yaml:"source"`
	Severity           int       `json:"severity" yaml:"severity"`
	Approved           bool      `json:"approved" yaml:"approved"`
	Verified           bool      `json:"verified" yaml:"verified"`
	PayoutAmount       int64     `json:"payout_amount" yaml:"payout_amount"`
	VerificationCalled bool      `json:"verification_called" yaml:"verification_called"`
	Reason             string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	State              string    `json:"state" yaml:"state"`
	TxHash             string    `json:"tx_hash,omitempty" yaml:"tx_hash,omitempty"`
	Error              string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" yaml:"updated_at"`
}

type entriesResponse struct {
	Entries []JournalEntry `json:"entries"`
}

// LedgerClaim is the on-ledger view of a claim.
type LedgerClaim struct {
	ClaimID            string    `json:"claimId" yaml:"claim_id"`
	PolicyID           string    `json:"policyId" yaml:"policy_id"`
	UserID             string    `json:"userId" yaml:"user_id"`
	Description        string    `json:"description,omitempty" yaml:"description,omitempty"`
	EvidenceReferences []string  `json:"evidenceReferences" yaml:"evidence_references"`
	ReportReference    string    `json:"reportReference" yaml:"report_reference"`
	Severity           int       `json:"severity" yaml:"severity"`
	Status             string    `json:"status" yaml:"status"`
	Verified           bool      `json:"verified" yaml:"verified"`
	PayoutAmount       int64     `json:"payoutAmount" yaml:"payout_amount"`
	SubmittedAt        time.Time `json:"submittedAt" yaml:"submitted_at"`
	UpdatedAt          time.Time `json:"updatedAt" yaml:"updated_at"`
}

func NewOracleClient(baseURL string) *OracleClient {
	return &OracleClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *OracleClient) doRequest(method, path, token string) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.client.Do(req)
}

// getJSON issues the request and decodes a response with status want into out.
func (c *OracleClient) getJSON(method, path, token string, want int, out interface{}) error {
	resp, err := c.doRequest(method, path, token)
	if err != nil {
		return fmt.Errorf("failed to reach oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *OracleClient) Health() (*Health, error) {
	var h Health
	if err := c.getJSON(http.MethodGet, "/healthz", "", http.StatusOK, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Ready reports whether the oracle holds a ledger session.
func (c *OracleClient) Ready() (bool, error) {
	resp, err := c.doRequest(http.MethodGet, "/readyz", "")
	if err != nil {
		return false, fmt.Errorf("failed to reach oracle: %w", err)
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (c *OracleClient) Trigger(token, claimID string) (*TriggerResult, error) {
	var r TriggerResult
	path := "/api/v1/claims/" + url.PathEscape(claimID) + "/process"
	if err := c.getJSON(http.MethodPost, path, token, http.StatusAccepted, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *OracleClient) Unreconciled(token string, limit int) ([]JournalEntry, error) {
	path := "/api/v1/claims/unreconciled"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var r entriesResponse
	if err := c.getJSON(http.MethodGet, path, token, http.StatusOK, &r); err != nil {
		return nil, err
	}
	return r.Entries, nil
}

func (c *OracleClient) History(token, claimID string) ([]JournalEntry, error) {
	var r entriesResponse
	path := "/api/v1/claims/" + url.PathEscape(claimID) + "/history"
	if err := c.getJSON(http.MethodGet, path, token, http.StatusOK, &r); err != nil {
		return nil, err
	}
	return r.Entries, nil
}

func (c *OracleClient) LedgerClaim(claimID string) (*LedgerClaim, error) {
	var lc LedgerClaim
	path := "/api/v1/claims/" + url.PathEscape(claimID) + "/ledger"
	if err := c.getJSON(http.MethodGet, path, "", http.StatusOK, &lc); err != nil {
		return nil, err
	}
	return &lc, nil
}
