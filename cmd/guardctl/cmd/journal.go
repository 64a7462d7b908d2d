package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"trade-guard/internal/guard"
	"trade-guard/internal/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the local decision journal",
	Long: `Query guard decisions recorded in the SQLite journal.

Subcommands:
  get     - Show one decision by ID
  today   - List today's decisions (UTC)
  day     - List decisions for a UTC day
  summary - Count allowed, denied and recovered decisions for a UTC day

Examples:
  guardctl journal get 01HQ...
  guardctl journal today
  guardctl journal day 2026-03-02
  guardctl journal summary 2026-03-02`,
}

var journalGetCmd = &cobra.Command{
	Use:   "get <decision-id>",
	Short: "Show one decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, _, err := openJournal()
		if err != nil {
			return err
		}
		defer j.Close()

		d, err := j.GetDecision(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(stdout(cmd), d)
	},
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List today's decisions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDay(cmd, time.Now().UTC().Format("2006-01-02"))
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List decisions for a day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDay(cmd, args[0])
	},
}

var journalSummaryCmd = &cobra.Command{
	Use:   "summary [YYYY-MM-DD]",
	Short: "Summarize a day's decisions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day := time.Now().UTC().Format("2006-01-02")
		if len(args) == 1 {
			day = args[0]
		}
		start, end, err := dayBounds(day)
		if err != nil {
			return err
		}

		j, account, err := openJournal()
		if err != nil {
			return err
		}
		defer j.Close()

		sum, err := j.Summarize(cmd.Context(), account, start, end)
		if err != nil {
			return err
		}
		return printJSON(stdout(cmd), sum)
	},
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalGetCmd, journalTodayCmd, journalDayCmd, journalSummaryCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (default from config)")
}

func listDay(cmd *cobra.Command, day string) error {
	start, end, err := dayBounds(day)
	if err != nil {
		return err
	}

	j, account, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	list, err := j.ListBetween(cmd.Context(), account, start, end)
	if err != nil {
		return fmt.Errorf("query decisions: %w", err)
	}
	return writeDecisions(stdout(cmd), list)
}

// openJournal opens the journal named by --db, falling back to the configured path
func openJournal() (*journal.SQLite, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	account := cfg.Account
	if accountFlag != "" {
		account = accountFlag
	}
	path := journalDBPath
	if path == "" {
		path = cfg.Journal.Path
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, "", fmt.Errorf("open journal: %w", err)
	}
	return j, account, nil
}

func dayBounds(day string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", day)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("date: %w", err)
	}
	return start, start.Add(24 * time.Hour), nil
}

func writeDecisions(w io.Writer, list []guard.Decision) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSYMBOL\tALLOWED\tSIZE\tREASONS")
	for _, d := range list {
		size := "-"
		if d.RiskAdjustedSize != nil {
			size = fmt.Sprintf("%.2f", *d.RiskAdjustedSize)
		}
		symbol := d.Symbol
		if symbol == "" {
			symbol = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			d.ID, d.EvaluatedAt.UTC().Format(time.RFC3339), symbol, d.Allowed, size, strings.Join(d.Reasons, "; "))
	}
	return tw.Flush()
}
