package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vims-labs/claim-oracle/cli/pkg/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show oracle health",
	Long:  "Show ledger connectivity, ingestion progress and collaborator reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		oc, _ := oracleClient(cmd)

		health, err := oc.Health()
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		if handled, err := output.Structured(outputFormat(cmd), health); handled {
			return err
		}

		if health.Status == "ok" {
			output.Success("%s is healthy", health.Service)
		} else {
			output.Warn("%s is %s", health.Service, health.Status)
		}

		ledger := health.Ledger
		output.Info("Ledger:     %s (%s)", ledger.State, ledger.Endpoint)
		if ledger.Connected && !ledger.ConnectedAt.IsZero() {
			output.Info("  connected since %s", ledger.ConnectedAt.Format(time.RFC3339))
		}
		if ledger.LastError != "" {
			output.Info("  last error: %s", ledger.LastError)
		}

		ing := health.Ingestion
		push := "inactive"
		switch {
		case !ing.PushSupported:
			push = "unsupported"
		case ing.PushActive:
			push = "active"
		}
		output.Info("Ingestion:  %d processed, %d in flight, scanned to %d, push %s",
			ing.Processed, ing.InFlight, ing.LastScanned, push)

		if len(health.Dependencies) > 0 {
			table := output.NewTable([]string{"Dependency", "Endpoint", "Healthy", "Error"})
			for _, d := range health.Dependencies {
				table.AddRow([]string{d.Name, d.Endpoint, fmt.Sprintf("%t", d.Healthy), d.Error})
			}
			table.Render()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
