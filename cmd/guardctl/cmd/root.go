package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"trade-guard/config"
	"trade-guard/internal/app"
	"trade-guard/internal/logging"
	"trade-guard/internal/vault"
)

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "Operate the trade guard",
	Long: `guardctl inspects and operates the trade guard against the same
persisted state the service uses.

Configuration is read the way the service reads it: .env, then CONFIG_FILE
(JSON or YAML), then environment overrides.

Examples:
  guardctl check
  guardctl trip --hard "exchange maintenance"
  guardctl reset --operator alice
  guardctl breaker
  guardctl journal today`,
	SilenceUsage: true,
}

var (
	accountFlag  string
	logLevelFlag string

	// loadConfig and buildApp are replaced in tests
	loadConfig = config.Load
	buildApp   = app.Build
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&accountFlag, "account", "", "account to operate on (default from config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "WARN", "log level for diagnostics on stderr")
}

// withApp loads configuration, wires the guard and runs fn against it
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	logging.SetDefault(logging.New(&logging.Config{
		Level:     logLevelFlag,
		Output:    "stderr",
		Component: "guardctl",
	}))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if accountFlag != "" {
		cfg.Account = accountFlag
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	vc, err := vault.NewClient(cfg.Vault)
	if err != nil {
		return err
	}
	if err := vc.Apply(ctx, cfg); err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stdout(cmd *cobra.Command) io.Writer {
	if w := cmd.OutOrStdout(); w != nil {
		return w
	}
	return os.Stdout
}
