// Package models holds the claim types shared across the oracle's components.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ClaimStatus is the lifecycle state of a claim. The ledger stores it as a
// uint8 in this order; the system of record uses the string names.
type ClaimStatus uint8

const (
	StatusSubmitted ClaimStatus = iota
	StatusInReview
	StatusApproved
	StatusRejected
)

var statusNames = [...]string{"Submitted", "InReview", "Approved", "Rejected"}

func (s ClaimStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("ClaimStatus(%d)", uint8(s))
}

// Terminal reports whether the claim has been evaluated.
func (s ClaimStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Evaluable reports whether an evaluation transition is legal from s.
func (s ClaimStatus) Evaluable() bool {
	return s == StatusSubmitted || s == StatusInReview
}

// MarshalText encodes the status by name.
func (s ClaimStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown claim status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText accepts status names case-insensitively, plus "in_review"/"in review".
func (s *ClaimStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus resolves a status name.
func ParseStatus(name string) (ClaimStatus, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", " ", "", "-", "").Replace(strings.TrimSpace(name)))
	for i, n := range statusNames {
		if strings.ToLower(n) == norm {
			return ClaimStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown claim status %q", name)
}

// StatusFor maps an approval outcome to the terminal status.
func StatusFor(approved bool) ClaimStatus {
	if approved {
		return StatusApproved
	}
	return StatusRejected
}

// ClaimRecord is the off-ledger system-of-record view of a claim.
type ClaimRecord struct {
	ClaimID         string      `json:"claimId"`
	PolicyID        string      `json:"policyId"`
	UserID          string      `json:"userId"`
	SeverityScore   *int        `json:"severityScore,omitempty"`
	ReportReference string      `json:"reportReference,omitempty"`
	Status          ClaimStatus `json:"status"`
	Verified        bool        `json:"verified"`
	PayoutAmount    int64       `json:"payoutAmount"`
	LedgerEvaluated bool        `json:"ledgerEvaluated"`
}

// LedgerClaim is the on-ledger view of a claim returned by getClaim.
type LedgerClaim struct {
	ClaimID            string      `json:"claimId"`
	PolicyID           string      `json:"policyId"`
	UserID             string      `json:"userId"`
	Description        string      `json:"description,omitempty"`
	EvidenceReferences []string    `json:"evidenceReferences"`
	ReportReference    string      `json:"reportReference"`
	Severity           int         `json:"severity"`
	Status             ClaimStatus `json:"status"`
	Verified           bool        `json:"verified"`
	PayoutAmount       int64       `json:"payoutAmount"`
	SubmittedAt        time.Time   `json:"submittedAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// Source identifies the delivery path that handed a claim to the pipeline.
type Source string

const (
	SourcePush    Source = "push"
	SourcePoll    Source = "poll"
	SourceTrigger Source = "trigger"
)

// ClaimEvent is a claim submission as seen by ingestion. Severity is nil
// when the triggering delivery did not carry a score.
type ClaimEvent struct {
	ClaimID            string
	PolicyID           string
	UserID             string
	Description        string
	EvidenceReferences []string
	ReportReference    string
	Severity           *int
	SubmittedAt        time.Time
	BlockNumber        uint64
	TxHash             string
	Source             Source
	// Force skips the "already evaluated" short-circuit. Set by operator triggers.
	Force bool
}

// Verdict is the private verification outcome.
type Verdict struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
}

// Decision is the evaluation committed to the ledger.
type Decision struct {
	ClaimID      string `json:"claimId"`
	Severity     int    `json:"severity"`
	Approved     bool   `json:"approved"`
	Verified     bool   `json:"verified"`
	PayoutAmount int64  `json:"payoutAmount"`
	// VerificationCalled records whether the private verification path ran.
	VerificationCalled bool   `json:"verificationCalled"`
	Reason             string `json:"reason,omitempty"`
}

// Status returns the terminal status implied by the decision.
func (d Decision) Status() ClaimStatus {
	return StatusFor(d.Approved)
}
