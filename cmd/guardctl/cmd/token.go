package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trade-guard/internal/auth"
	"trade-guard/internal/vault"
)

var (
	tokenOperator string
	tokenRole     string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with the configured JWT secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		vc, err := vault.NewClient(cfg.Vault)
		if err != nil {
			return err
		}
		if err := vc.Apply(cmd.Context(), cfg); err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("no JWT secret configured")
		}

		op := tokenOperator
		if op == "" {
			op = operatorName()
		}
		tok, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer).
			GenerateToken(auth.OperatorClaims{Operator: op, Role: tokenRole}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout(cmd), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "operator name (default: OS user)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleViewer, "viewer or operator")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
}
