package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vims-labs/claim-oracle/cli/internal/client"
	"github.com/vims-labs/claim-oracle/cli/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "oraclectl",
	Short: "Claim oracle operator CLI",
	Long: `oraclectl is the operator interface for the insurance claim oracle.

Check ledger connectivity, trigger manual evaluations, and work through
the backlog of decisions that did not reach the ledger or the system of
record.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.oraclectl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().String("server", "", "oracle base URL, overrides the profile")
	rootCmd.PersistentFlags().String("token", "", "operator token, overrides the profile")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// oracleClient resolves the target server and operator token from flags,
// then the selected profile.
func oracleClient(cmd *cobra.Command) (*client.OracleClient, string) {
	profile, _ := cmd.Flags().GetString("profile")
	serverURL, token := cfg.Resolve(profile)

	if s, _ := cmd.Flags().GetString("server"); s != "" {
		serverURL = s
	}
	if t, _ := cmd.Flags().GetString("token"); t != "" {
		token = t
	}
	return client.NewOracleClient(serverURL), token
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}
