package ingestion

import (
	"errors"
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vims-labs/claim-oracle/oracle/internal/ledger"
)

func event(fields map[string]any) ledger.Event {
	return ledger.Event{Name: ledger.EventClaimSubmitted, BlockNumber: 7, TxHash: "0xabc", Fields: fields}
}

func TestParseClaimSubmitted(t *testing.T) {
	ev := event(map[string]any{
		"claimId":            "claim-1",
		"policyId":           "policy-1",
		"userId":             "user-1",
		"description":        "burst pipe",
		"evidenceReferences": []string{"ref-a", "ref-b"},
		"reportReference":    "report",
		"severity":           big.NewInt(72),
		"timestamp":          big.NewInt(1700000000),
	})
	got, err := ParseClaimSubmitted(ev)
	require.NoError(t, err)
	assert.Equal(t, "claim-1", got.ClaimID)
	assert.Equal(t, "policy-1", got.PolicyID)
	assert.Equal(t, []string{"ref-a", "ref-b"}, got.EvidenceReferences)
	require.NotNil(t, got.Severity)
	assert.Equal(t, 72, *got.Severity)
	assert.Equal(t, int64(1700000000), got.SubmittedAt.Unix())
	assert.Equal(t, uint64(7), got.BlockNumber)
	assert.Equal(t, "0xabc", got.TxHash)
}

func TestParseClaimSubmitted_SeverityCoercion(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int
	}{
		{"big int", big.NewInt(45), 45},
		{"huge big int clamps", new(big.Int).Lsh(big.NewInt(1), 200), 100},
		{"int", 30, 30},
		{"uint8", uint8(99), 99},
		{"float truncates", 59.99, 59},
		{"numeric string", " 61 ", 61},
		{"float string", "60.5", 60},
		{"negative clamps", -5, 0},
		{"over range clamps", int64(250), 100},
		{"infinity clamps", math.Inf(1), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClaimSubmitted(event(map[string]any{"claimId": "c", "severity": tt.in}))
			require.NoError(t, err)
			require.NotNil(t, got.Severity)
			assert.Equal(t, tt.want, *got.Severity)
		})
	}

	t.Run("unparseable leaves severity unset", func(t *testing.T) {
		got, err := ParseClaimSubmitted(event(map[string]any{"claimId": "c", "severity": "high"}))
		require.NoError(t, err)
		assert.Nil(t, got.Severity)
	})
}

func TestParseClaimSubmitted_StringsViaFormatting(t *testing.T) {
	got, err := ParseClaimSubmitted(event(map[string]any{
		"claimId":  big.NewInt(12345),
		"policyId": 77,
	}))
	require.NoError(t, err)
	assert.Equal(t, "12345", got.ClaimID)
	assert.Equal(t, "77", got.PolicyID)
}

func TestParseClaimSubmitted_Malformed(t *testing.T) {
	tests := []struct {
		name string
		ev   ledger.Event
	}{
		{"missing id", event(map[string]any{"policyId": "p"})},
		{"empty id", event(map[string]any{"claimId": ""})},
		{"whitespace", event(map[string]any{"claimId": "claim 1"})},
		{"control char", event(map[string]any{"claimId": "claim\x00"})},
		{"too long", event(map[string]any{"claimId": strings.Repeat("x", MaxClaimIDLength+1)})},
		{"decode error", ledger.Event{DecodeError: errors.New("bad payload")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClaimSubmitted(tt.ev)
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestValidateClaimID_MaxLength(t *testing.T) {
	assert.NoError(t, ValidateClaimID(strings.Repeat("x", MaxClaimIDLength)))
}

func TestInvalidReferences(t *testing.T) {
	valid := "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy"
	v0 := "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

	assert.Empty(t, InvalidReferences(valid, "ipfs://"+v0, "", "  "))
	assert.Equal(t, []string{"not-a-cid"}, InvalidReferences(valid, "not-a-cid"))
}
