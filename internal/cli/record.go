package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/markface/internal/report"
	"github.com/ppiankov/markface/internal/store"
)

var (
	exportOut string
	showJSON  bool
)

// recordCmd represents the record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage ownership records in the local registry",
	Long: `Manage the ownership records saved by 'markface watermark'.

The registry is a SQLite database (store.path, default ~/.markface/records.db).
It also keeps a history of every verdict computed against each record.`,
}

var recordListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered records, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, r *store.Registry) error {
			summaries, err := r.List(ctx)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintf(os.Stderr, "No records in %s\n", r.Path())
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tPOLICY\tTARGET\tPROBES\tTHRESHOLD\tRATE")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.2f\t%.2f\n",
					s.ID, s.CreatedAt.Format("2006-01-02 15:04"), s.Policy, s.TargetLabel,
					s.Probes, s.Threshold, s.TriggerSuccessRate)
			}
			return tw.Flush()
		})
	},
}

var recordShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a record summary (triggers are not printed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, r *store.Registry) error {
			rec, err := r.Get(ctx, args[0])
			if err != nil {
				return err
			}
			report.NewRenderer(false, 0).WriteRecordMarkdown(os.Stdout, rec)
			return nil
		})
	},
}

var recordExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a full record, including triggers, to a file",
	Long: `Export writes the complete ownership record, triggers included, as JSON or
YAML (by the output extension). The file is created with owner-only permissions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, r *store.Registry) error {
			rec, err := r.Get(ctx, args[0])
			if err != nil {
				return err
			}
			out := exportOut
			if out == "" {
				out = rec.ID + ".json"
			}
			if err := store.SaveRecord(out, rec); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ Exported record: %s\n", out)
			return nil
		})
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a record and its verification history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, r *store.Registry) error {
			if err := r.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ Deleted record %s\n", args[0])
			return nil
		})
	},
}

var recordHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the verdicts computed against a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, r *store.Registry) error {
			if _, err := r.Get(ctx, args[0]); err != nil {
				return err
			}
			verdicts, err := r.Verifications(ctx, args[0])
			if err != nil {
				return err
			}
			if showJSON {
				return report.NewRenderer(false, 0).RenderJSON(verdicts, "-")
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERIFIED\tCANDIDATE\tRATE\tTHRESHOLD\tP-VALUE\tSTOLEN")
			for _, v := range verdicts {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%.3g\t%v\n",
					v.Detail.VerifiedAt.Format("2006-01-02 15:04"), v.Detail.Candidate,
					v.TriggerSuccessRate, v.Detail.Threshold, v.Detail.PValue, v.IsStolen)
			}
			return tw.Flush()
		})
	},
}

// withRegistry opens the configured registry for the duration of fn
func withRegistry(fn func(ctx context.Context, r *store.Registry) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	r, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	if err := fn(context.Background(), r); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w (registry: %s)", err, r.Path())
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordShowCmd)
	recordCmd.AddCommand(recordExportCmd)
	recordCmd.AddCommand(recordDeleteCmd)
	recordCmd.AddCommand(recordHistoryCmd)

	recordExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (.json, .yaml; default <id>.json)")
	recordHistoryCmd.Flags().BoolVar(&showJSON, "json", false, "print verdicts as JSON")
}
