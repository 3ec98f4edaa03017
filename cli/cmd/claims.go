package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vims-labs/claim-oracle/cli/internal/client"
	"github.com/vims-labs/claim-oracle/cli/pkg/output"
)

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Claim evaluation and reconciliation",
	Long:  "Trigger evaluations and inspect decisions for individual claims",
}

var claimsTriggerCmd = &cobra.Command{
	Use:   "trigger <claim-id>",
	Short: "Evaluate a claim now",
	Long: `Run the evaluation pipeline for a claim immediately.

The "already evaluated" check is skipped, so a claim whose decision
reached the ledger but not the system of record is re-synced from the
ledger state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oc, token := oracleClient(cmd)

		res, err := oc.Trigger(token, args[0])
		if err != nil {
			return fmt.Errorf("failed to trigger claim %s: %w", args[0], err)
		}

		if handled, err := output.Structured(outputFormat(cmd), res); handled {
			return err
		}
		output.Success("Evaluation of %s %s", res.ClaimID, res.Status)
		return nil
	},
}

var claimsUnreconciledCmd = &cobra.Command{
	Use:     "unreconciled",
	Aliases: []string{"backlog"},
	Short:   "List decisions needing manual reconciliation",
	Long:    "List decisions whose ledger commit or system-of-record sync failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		oc, token := oracleClient(cmd)
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := oc.Unreconciled(token, limit)
		if err != nil {
			return fmt.Errorf("failed to list unreconciled decisions: %w", err)
		}
		return renderEntries(cmd, entries, "Nothing to reconcile")
	},
}

var claimsHistoryCmd = &cobra.Command{
	Use:   "history <claim-id>",
	Short: "Show journaled decisions for a claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oc, token := oracleClient(cmd)

		entries, err := oc.History(token, args[0])
		if err != nil {
			return fmt.Errorf("failed to get history: %w", err)
		}
		return renderEntries(cmd, entries, "No decisions recorded for "+args[0])
	},
}

var claimsLedgerCmd = &cobra.Command{
	Use:   "ledger <claim-id>",
	Short: "Show the on-ledger state of a claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oc, _ := oracleClient(cmd)

		claim, err := oc.LedgerClaim(args[0])
		if err != nil {
			return fmt.Errorf("failed to read claim: %w", err)
		}

		if handled, err := output.Structured(outputFormat(cmd), claim); handled {
			return err
		}
		output.Info("Claim:     %s", claim.ClaimID)
		output.Info("Policy:    %s", claim.PolicyID)
		output.Info("User:      %s", claim.UserID)
		output.Info("Status:    %s", claim.Status)
		output.Info("Severity:  %d", claim.Severity)
		output.Info("Verified:  %t", claim.Verified)
		output.Info("Payout:    %d", claim.PayoutAmount)
		return nil
	},
}

func renderEntries(cmd *cobra.Command, entries []client.JournalEntry, empty string) error {
	if handled, err := output.Structured(outputFormat(cmd), entries); handled {
		return err
	}
	if len(entries) == 0 {
		output.Info(empty)
		return nil
	}

	table := output.NewTable([]string{"Claim", "State", "Approved", "Payout", "Source", "Updated", "Error"})
	for _, e := range entries {
		table.AddRow([]string{
			e.ClaimID,
			e.State,
			fmt.Sprintf("%t", e.Approved),
			fmt.Sprintf("%d", e.PayoutAmount),
			e.Source,
			e.UpdatedAt.Format("2006-01-02 15:04"),
			e.Error,
		})
	}
	table.Render()
	return nil
}

func init() {
	rootCmd.AddCommand(claimsCmd)
	claimsCmd.AddCommand(claimsTriggerCmd, claimsUnreconciledCmd, claimsHistoryCmd, claimsLedgerCmd)

	claimsUnreconciledCmd.Flags().Int("limit", 0, "maximum entries to return (server default when 0)")
}
