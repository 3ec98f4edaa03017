package messaging

import (
	"strings"
	"testing"
)

func TestSubjects_FollowNamingConvention(t *testing.T) {
	subjects := []string{
		SubjectClaimsDecisionsCommitted,
		SubjectClaimsAlertsLedgerWriteFailed,
		SubjectClaimsAlertsSyncFailed,
		SubjectClaimsJobsReprocess,
	}

	for _, s := range subjects {
		parts := strings.Split(s, ".")
		if len(parts) != 3 {
			t.Errorf("subject %q should have 3 dot-separated parts, got %d", s, len(parts))
		}
		if parts[0] != "claims" {
			t.Errorf("subject %q should live in the claims domain", s)
		}
	}
}

func TestAlertSubjects(t *testing.T) {
	got := AlertSubjects()
	if len(got) != 2 {
		t.Fatalf("expected 2 alert subjects, got %d", len(got))
	}
	for _, s := range got {
		if !strings.HasPrefix(s, "claims.alerts.") {
			t.Errorf("unexpected alert subject %q", s)
		}
	}
}
