package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimStatus_Transitions(t *testing.T) {
	tests := []struct {
		status    ClaimStatus
		terminal  bool
		evaluable bool
	}{
		{StatusSubmitted, false, true},
		{StatusInReview, false, true},
		{StatusApproved, true, false},
		{StatusRejected, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.evaluable, tt.status.Evaluable())
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]ClaimStatus{
		"Submitted": StatusSubmitted,
		"in_review": StatusInReview,
		"In Review": StatusInReview,
		"APPROVED":  StatusApproved,
		"rejected":  StatusRejected,
	}
	for in, want := range tests {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStatus("Paid")
	assert.Error(t, err)
}

func TestClaimRecord_JSON(t *testing.T) {
	raw := `{"claimId":"CLM-1","policyId":"POL-1","userId":"U-1","severityScore":72,"status":"InReview","verified":false,"payoutAmount":0,"ledgerEvaluated":false}`

	var rec ClaimRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	require.NotNil(t, rec.SeverityScore)
	assert.Equal(t, 72, *rec.SeverityScore)
	assert.Equal(t, StatusInReview, rec.Status)

	rec.Status = StatusApproved
	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"status":"Approved"`)
}

func TestClaimRecord_NullSeverity(t *testing.T) {
	var rec ClaimRecord
	require.NoError(t, json.Unmarshal([]byte(`{"claimId":"CLM-2","severityScore":null,"status":"Submitted"}`), &rec))
	assert.Nil(t, rec.SeverityScore)
}

func TestDecision_Status(t *testing.T) {
	assert.Equal(t, StatusApproved, Decision{Approved: true}.Status())
	assert.Equal(t, StatusRejected, Decision{}.Status())
}
