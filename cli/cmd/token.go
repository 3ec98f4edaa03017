package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vims-labs/claim-oracle/cli/pkg/output"
	"github.com/vims-labs/claim-oracle/common/tokens"
)

const secretEnv = "ORACLE_OPS_JWT_SECRET"

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Operator token management",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint an operator token",
	Long: `Mint an operator token signed with the oracle's ops secret.

The secret is read from --secret or $` + secretEnv + `.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		secret, _ := cmd.Flags().GetString("secret")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		save, _ := cmd.Flags().GetBool("save")

		if strings.TrimSpace(subject) == "" {
			return fmt.Errorf("subject is required")
		}
		if secret == "" {
			secret = os.Getenv(secretEnv)
		}
		if secret == "" {
			return fmt.Errorf("no signing secret: pass --secret or set %s", secretEnv)
		}

		token, err := tokens.NewTokenGenerator(secret, ttl).Generate(subject, []string{tokens.RoleOperator})
		if err != nil {
			return fmt.Errorf("failed to mint token: %w", err)
		}

		if save {
			profile, _ := cmd.Flags().GetString("profile")
			if profile == "" {
				profile = cfg.CurrentProfile
			}
			serverURL, _ := cfg.Resolve(profile)
			if err := cfg.SaveProfile(profile, serverURL, token); err != nil {
				output.Warn("Failed to save token: %v", err)
			} else {
				output.Info("Token saved to profile '%s'", profile)
			}
		}

		fmt.Fprintln(output.Stdout, token)
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		token, _ := cmd.Flags().GetString("token")
		if serverURL == "" {
			return fmt.Errorf("--server is required")
		}
		if err := cfg.SaveProfile(args[0], serverURL, token); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		output.Success("Profile '%s' now points at %s", args[0], serverURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd, profileCmd)
	tokenCmd.AddCommand(tokenMintCmd)
	profileCmd.AddCommand(profileSetCmd)

	tokenMintCmd.Flags().String("subject", "", "operator identity recorded in the token")
	tokenMintCmd.Flags().String("secret", "", "signing secret (default: $"+secretEnv+")")
	tokenMintCmd.Flags().Duration("ttl", tokens.DefaultTTL, "token lifetime")
	tokenMintCmd.Flags().Bool("save", false, "store the token in the selected profile")
}
