package ingestion

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ipfs/go-cid"

	"github.com/vims-labs/claim-oracle/oracle/internal/decision"
	"github.com/vims-labs/claim-oracle/oracle/internal/ledger"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// MaxClaimIDLength bounds claim identifiers accepted from events.
const MaxClaimIDLength = 128

// ErrMalformedEvent is returned for events that cannot yield a usable claim id.
var ErrMalformedEvent = errors.New("malformed ClaimSubmitted event")

// ParseClaimSubmitted converts a decoded ledger event into a ClaimEvent.
// Only the claim id is mandatory; other fields are coerced leniently.
func ParseClaimSubmitted(ev ledger.Event) (models.ClaimEvent, error) {
	if ev.DecodeError != nil {
		return models.ClaimEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, ev.DecodeError)
	}

	id := asString(ev.Fields["claimId"])
	if err := ValidateClaimID(id); err != nil {
		return models.ClaimEvent{}, err
	}

	out := models.ClaimEvent{
		ClaimID:            id,
		PolicyID:           asString(ev.Fields["policyId"]),
		UserID:             asString(ev.Fields["userId"]),
		Description:        asString(ev.Fields["description"]),
		EvidenceReferences: asStrings(ev.Fields["evidenceReferences"]),
		ReportReference:    asString(ev.Fields["reportReference"]),
		BlockNumber:        ev.BlockNumber,
		TxHash:             ev.TxHash,
	}
	if sev, ok := asInt(ev.Fields["severity"]); ok {
		sev = decision.ClampSeverity(sev)
		out.Severity = &sev
	}
	if ts, ok := asInt(ev.Fields["timestamp"]); ok && ts > 0 {
		out.SubmittedAt = time.Unix(int64(ts), 0).UTC()
	}
	return out, nil
}

// ValidateClaimID rejects empty, oversized, whitespace-bearing or
// control-character ids.
func ValidateClaimID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty claim id", ErrMalformedEvent)
	}
	if len(id) > MaxClaimIDLength {
		return fmt.Errorf("%w: claim id longer than %d bytes", ErrMalformedEvent, MaxClaimIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar {
			return fmt.Errorf("%w: claim id %q contains invalid characters", ErrMalformedEvent, id)
		}
	}
	return nil
}

// InvalidReferences returns the references that are not parseable content
// identifiers. Empty references are ignored.
func InvalidReferences(refs ...string) []string {
	var bad []string
	for _, ref := range refs {
		ref = strings.TrimPrefix(strings.TrimSpace(ref), "ipfs://")
		if ref == "" {
			continue
		}
		if _, err := cid.Decode(ref); err != nil {
			bad = append(bad, ref)
		}
	}
	return bad
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, asString(e))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}

// asInt coerces numeric payload values. Fractions truncate toward zero and
// anything outside the int range saturates.
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return 0, false
		}
		if !t.IsInt64() {
			if t.Sign() < 0 {
				return math.MinInt, true
			}
			return math.MaxInt, true
		}
		return saturate(t.Int64()), true
	case int:
		return t, true
	case int8:
		return int(t), true
	case int16:
		return int(t), true
	case int32:
		return int(t), true
	case int64:
		return saturate(t), true
	case uint8:
		return int(t), true
	case uint16:
		return int(t), true
	case uint32:
		return saturate(int64(t)), true
	case uint64:
		if t > math.MaxInt64 {
			return math.MaxInt, true
		}
		return saturate(int64(t)), true
	case float32:
		return fromFloat(float64(t))
	case float64:
		return fromFloat(t)
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return saturate(n), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromFloat(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

func fromFloat(f float64) (int, bool) {
	if math.IsNaN(f) {
		return 0, false
	}
	f = math.Trunc(f)
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt, true
	case f <= math.MinInt64:
		return math.MinInt, true
	}
	return saturate(int64(f)), true
}

func saturate(n int64) int {
	if n > int64(math.MaxInt) {
		return math.MaxInt
	}
	if n < int64(math.MinInt) {
		return math.MinInt
	}
	return int(n)
}
