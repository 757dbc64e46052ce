package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pipeline-intel/internal/export"
	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/internal/queue"
	"github.com/sells-group/pipeline-intel/internal/triage"
)

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Rank today's next best actions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")
		owner, _ := cmd.Flags().GetString("owner")
		ids, _ := cmd.Flags().GetStringSlice("id")
		persist, _ := cmd.Flags().GetBool("persist")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		if err := checkFormat(format, output); err != nil {
			return err
		}

		env, err := initEngine(ctx, "triage")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.GenerateQueue(ctx, triage.Request{OwnerID: owner, CandidateIDs: ids, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "triage")
		}

		var pr *queue.PersistResult
		if persist {
			pr = env.Tracker.Persist(ctx, owner, res.Items)
		}

		out, closeOut, err := openOutput(output)
		if err != nil {
			return err
		}
		defer closeOut()

		switch format {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*triage.Result
				Persisted *queue.PersistResult `json:"persisted,omitempty"`
			}{res, pr})
		case "xlsx":
			return export.WriteXLSX(out, export.TriageTable(res.Items))
		case "csv":
			return export.WriteCSV(out, export.TriageTable(res.Items))
		default:
			formatTriage(out, res, pr)
			return nil
		}
	},
}

func init() {
	triageCmd.Flags().Int("limit", 0, "number of items (default from triage.default_limit)")
	triageCmd.Flags().String("owner", "", "restrict candidates to one owner")
	triageCmd.Flags().StringSlice("id", nil, "explicit candidate ids (repeatable)")
	triageCmd.Flags().Bool("persist", false, "store the items as today's queue entries")
	triageCmd.Flags().String("format", "table", "output format: table, json, csv, xlsx")
	triageCmd.Flags().String("output", "", "write to a file instead of stdout (required for xlsx)")
	rootCmd.AddCommand(triageCmd)
}

func checkFormat(format, output string) error {
	switch format {
	case "table", "json", "csv":
		return nil
	case "xlsx":
		if output == "" {
			return eris.New("triage: --output is required for xlsx")
		}
		return nil
	default:
		return eris.Errorf("triage: unknown format %q", format)
	}
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}

// formatTriage writes a ranked table of triage items to out.
func formatTriage(out io.Writer, res *triage.Result, pr *queue.PersistResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tENTITY\tSTAGE\tACTION\tPRIORITY\tPROB\tREASON")
	_, _ = fmt.Fprintln(w, "-\t------\t-----\t------\t--------\t----\t------")
	for i, it := range res.Items {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.3f\t%.0f%%\t%s\n",
			i+1,
			entityLabel(it),
			it.Stage,
			it.ActionType,
			it.Priority,
			it.Probability*100,
			truncate(it.Reason, 60),
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n%d candidates, %d scored, %d terminal, %d already queued, %d failed",
		res.Candidates, res.Scored, res.Terminal, res.Duplicates, len(res.Failed))
	if res.Partial {
		_, _ = fmt.Fprint(out, " (partial: deadline reached)")
	}
	_, _ = fmt.Fprintln(out)
	if pr != nil {
		_, _ = fmt.Fprintf(out, "Persisted: %d inserted, %d duplicates, %d failed\n", pr.Inserted, pr.Duplicates, len(pr.Failed))
	}
}

func entityLabel(it model.TriageItem) string {
	if it.EntityName != "" {
		return fmt.Sprintf("%s (%s)", truncate(it.EntityName, 24), it.EntityID)
	}
	return it.EntityID
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
