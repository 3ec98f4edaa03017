package logging

import "log/slog"

// Common field names used across the oracle's log lines.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldClaimID   = "claim_id"
	FieldPolicyID  = "policy_id"
	FieldSource    = "source"
	FieldBlock     = "block"
	FieldTxHash    = "tx_hash"
	FieldSeverity  = "severity"
	FieldAttempt   = "attempt"
	FieldError     = "error"
	FieldURL       = "url"
	FieldDuration  = "duration_ms"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// ClaimID returns a slog attribute for a claim identifier.
func ClaimID(id string) slog.Attr {
	return slog.String(FieldClaimID, id)
}

// PolicyID returns a slog attribute for a policy identifier.
func PolicyID(id string) slog.Attr {
	return slog.String(FieldPolicyID, id)
}

// Source returns a slog attribute naming how a claim was delivered (push, poll, trigger).
func Source(src string) slog.Attr {
	return slog.String(FieldSource, src)
}

// Block returns a slog attribute for a ledger block height.
func Block(height uint64) slog.Attr {
	return slog.Uint64(FieldBlock, height)
}

// TxHash returns a slog attribute for a ledger transaction hash.
func TxHash(hash string) slog.Attr {
	return slog.String(FieldTxHash, hash)
}

// Severity returns a slog attribute for a severity score.
func Severity(score int) slog.Attr {
	return slog.Int(FieldSeverity, score)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// URL returns a slog attribute for an endpoint URL.
func URL(u string) slog.Attr {
	return slog.String(FieldURL, u)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error. A nil error yields an empty value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
