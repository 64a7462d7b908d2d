package cmd

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trade-guard/internal/app"
	"trade-guard/internal/state"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the system guard and daily limit checks",
	Long: `Run the guard pass the service runs before every trade. A hard trip whose
cause has cleared gets one auto-recovery attempt, exactly as in the service.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			d, err := a.Guard.CheckAllGuards(ctx)
			if err != nil {
				return err
			}
			return printJSON(stdout(cmd), d)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system guard, breaker and exposure without side effects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sys, err := a.System.Check(ctx)
			if err != nil {
				return err
			}
			br, err := a.Breaker.GetStats(ctx)
			if err != nil {
				return err
			}
			exp, err := a.Exposure.Snapshot(ctx)
			if err != nil {
				return err
			}
			budget, err := a.Daily.RemainingLossBudget(ctx)
			if err != nil {
				return err
			}
			return printJSON(stdout(cmd), map[string]interface{}{
				"system_guard":          sys,
				"circuit_breaker":       br,
				"exposure":              exp,
				"exposure_total":        exp.Total(),
				"remaining_loss_budget": budget,
			})
		})
	},
}

var (
	tripHard     bool
	tripCoolDown time.Duration
)

var tripCmd = &cobra.Command{
	Use:   "trip <reason>",
	Short: "Trip the system guard (kill switch)",
	Long: `Trip the system guard with the manual trigger. A hard trip disables trading
until an operator reset; a soft trip pauses it for --cool-down.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason := strings.Join(args, " ")
		if !tripHard && tripCoolDown <= 0 {
			return fmt.Errorf("a soft trip needs --cool-down, or pass --hard")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			reason := fmt.Sprintf("%s (by %s)", reason, operatorName())
			var err error
			if tripHard {
				err = a.System.TripHard(ctx, state.TriggerManual, reason)
			} else {
				err = a.System.TripSoft(ctx, state.TriggerManual, reason, tripCoolDown)
			}
			if err != nil {
				return err
			}
			res, err := a.System.Check(ctx)
			if err != nil {
				return err
			}
			return printJSON(stdout(cmd), res)
		})
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Attempt one auto-recovery of a hard trip",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.System.Recover(ctx)
			if err != nil {
				return err
			}
			return printJSON(stdout(cmd), res)
		})
	},
}

var resetOperator string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear any trip, including the manual kill switch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		op := resetOperator
		if op == "" {
			op = operatorName()
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.System.Reset(ctx, op); err != nil {
				return err
			}
			res, err := a.System.Check(ctx)
			if err != nil {
				return err
			}
			return printJSON(stdout(cmd), res)
		})
	},
}

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Show the execution circuit breaker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.Breaker.GetStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(stdout(cmd), stats)
		})
	},
}

func init() {
	rootCmd.AddCommand(checkCmd, statusCmd, tripCmd, recoverCmd, resetCmd, breakerCmd)

	tripCmd.Flags().BoolVar(&tripHard, "hard", false, "disable trading until an operator reset")
	tripCmd.Flags().DurationVar(&tripCoolDown, "cool-down", 0, "soft trip duration, e.g. 30m")
	resetCmd.Flags().StringVar(&resetOperator, "operator", "", "operator name recorded with the reset (default: OS user)")
}

func operatorName() string {
	if v := os.Getenv("GUARD_OPERATOR"); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "guardctl"
}
