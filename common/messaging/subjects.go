package messaging

// Subjects follow the pattern {domain}.{kind}.{resource}.
const (
	// Decision lifecycle, published by the oracle after a ledger commit.
	SubjectClaimsDecisionsCommitted = "claims.decisions.committed"

	// Alerts that need an operator: the claim is marked processed but the
	// ledger or the system of record does not reflect the decision.
	SubjectClaimsAlertsLedgerWriteFailed = "claims.alerts.ledger_write_failed"
	SubjectClaimsAlertsSyncFailed        = "claims.alerts.sync_failed"

	// Operator-issued reprocessing requests.
	SubjectClaimsJobsReprocess = "claims.jobs.reprocess"
)

// QueueOracleWorkers is the queue group shared by oracle replicas so each
// reprocess job is handled by one replica.
const QueueOracleWorkers = "oracle-workers"

// AlertSubjects lists every alert subject, used when configuring streams.
func AlertSubjects() []string {
	return []string{
		SubjectClaimsAlertsLedgerWriteFailed,
		SubjectClaimsAlertsSyncFailed,
	}
}
