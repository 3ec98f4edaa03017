// Package decision maps a severity score and an optional verification
// verdict to an approval decision and payout. It performs no I/O.
package decision

import (
	"fmt"
	"math"

	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

const (
	// DefaultAutoApproveThreshold is the severity at or above which a claim
	// is approved without private verification.
	DefaultAutoApproveThreshold = 60

	// DefaultBasePayout is the payout at severity 100, in minor units.
	DefaultBasePayout int64 = 1000000

	maxSeverity = 100

	// MaxBasePayout keeps BasePayout * severity within int64.
	MaxBasePayout int64 = math.MaxInt64 / maxSeverity

	reasonAutoApproved = "severity at or above auto-approve threshold"
	reasonNotVerified  = "verification not performed"
)

// Policy holds the business constants the engine applies.
type Policy struct {
	AutoApproveThreshold int
	BasePayout           int64
}

// DefaultPolicy returns the stock policy.
func DefaultPolicy() Policy {
	return Policy{
		AutoApproveThreshold: DefaultAutoApproveThreshold,
		BasePayout:           DefaultBasePayout,
	}
}

// Validate rejects policies that would produce nonsensical decisions.
func (p Policy) Validate() error {
	if p.AutoApproveThreshold < 0 || p.AutoApproveThreshold > maxSeverity+1 {
		return fmt.Errorf("auto-approve threshold %d outside 0..%d", p.AutoApproveThreshold, maxSeverity+1)
	}
	if p.BasePayout < 0 {
		return fmt.Errorf("base payout %d is negative", p.BasePayout)
	}
	if p.BasePayout > MaxBasePayout {
		return fmt.Errorf("base payout %d exceeds %d", p.BasePayout, MaxBasePayout)
	}
	return nil
}

// Engine applies a Policy.
type Engine struct {
	policy Policy
}

// NewEngine creates an Engine after validating the policy.
func NewEngine(p Policy) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{policy: p}, nil
}

// Policy returns the configured policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// ClampSeverity bounds a score to 0..100.
func ClampSeverity(severity int) int {
	switch {
	case severity < 0:
		return 0
	case severity > maxSeverity:
		return maxSeverity
	default:
		return severity
	}
}

// RequiresVerification reports whether the private verification collaborator
// must be consulted for this severity.
func (e *Engine) RequiresVerification(severity int) bool {
	return ClampSeverity(severity) < e.policy.AutoApproveThreshold
}

// Decide produces the decision for claimID. verdict is ignored on the
// auto-approve path; below the threshold a nil verdict rejects.
func (e *Engine) Decide(claimID string, severity int, verdict *models.Verdict) models.Decision {
	severity = ClampSeverity(severity)
	d := models.Decision{ClaimID: claimID, Severity: severity}

	if !e.RequiresVerification(severity) {
		d.Approved = true
		d.Verified = true
		d.Reason = reasonAutoApproved
	} else {
		d.VerificationCalled = verdict != nil
		if verdict != nil {
			d.Approved = verdict.Verified
			d.Verified = verdict.Verified
			d.Reason = verdict.Reason
		} else {
			d.Reason = reasonNotVerified
		}
	}

	d.PayoutAmount = e.Payout(d.Approved, severity)
	return d
}

// Payout is floor(BasePayout * severity / 100) when approved, else 0.
func (e *Engine) Payout(approved bool, severity int) int64 {
	if !approved {
		return 0
	}
	return e.policy.BasePayout * int64(ClampSeverity(severity)) / maxSeverity
}
