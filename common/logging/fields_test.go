package logging

import (
	"errors"
	"log/slog"
	"testing"
)

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"service", Service("claim-oracle"), FieldService, "claim-oracle"},
		{"claim id", ClaimID("CLM-1"), FieldClaimID, "CLM-1"},
		{"policy id", PolicyID("POL-9"), FieldPolicyID, "POL-9"},
		{"source", Source("poll"), FieldSource, "poll"},
		{"block", Block(42), FieldBlock, "42"},
		{"tx hash", TxHash("0xabc"), FieldTxHash, "0xabc"},
		{"severity", Severity(85), FieldSeverity, "85"},
		{"attempt", Attempt(3), FieldAttempt, "3"},
		{"url", URL("http://records:4000"), FieldURL, "http://records:4000"},
		{"duration", Duration(150), FieldDuration, "150"},
		{"error", Error(errors.New("boom")), FieldError, "boom"},
		{"nil error", Error(nil), FieldError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.wantKey)
			}
			if got := tt.attr.Value.String(); got != tt.wantVal {
				t.Errorf("value = %q, want %q", got, tt.wantVal)
			}
		})
	}
}
