package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pipeline-intel/internal/triage"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Score one or more applicants",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ids, _ := cmd.Flags().GetStringSlice("id")
		if len(ids) == 0 {
			return eris.New("predict: at least one --id is required")
		}
		blockers, _ := cmd.Flags().GetBool("blockers")
		nba, _ := cmd.Flags().GetBool("nba")
		owner, _ := cmd.Flags().GetString("owner")
		asJSON, _ := cmd.Flags().GetBool("json")

		env, err := initEngine(ctx, "predict")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := triage.PredictOptions{IncludeBlockers: blockers, IncludeNBA: nba, OwnerID: owner}
		res, err := env.Engine.PredictBatch(ctx, ids, opts)
		if err != nil {
			return eris.Wrap(err, "predict")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		formatPredictions(os.Stdout, res)
		return nil
	},
}

func init() {
	predictCmd.Flags().StringSlice("id", nil, "entity id (repeatable)")
	predictCmd.Flags().Bool("blockers", false, "include detected blockers")
	predictCmd.Flags().Bool("nba", false, "include next best actions")
	predictCmd.Flags().String("owner", "", "owner id used for next best action drafts")
	predictCmd.Flags().Bool("json", false, "print JSON instead of a table")
	rootCmd.AddCommand(predictCmd)
}

// formatPredictions writes one block per prediction to out.
func formatPredictions(out io.Writer, res *triage.BatchPrediction) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for i, it := range res.Items {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		if it.Error != "" {
			_, _ = fmt.Fprintf(w, "%s\terror: %s\n", it.EntityID, it.Error)
			continue
		}
		p := it.Prediction
		_, _ = fmt.Fprintf(w, "%s\t%s -> %s\n", p.EntityID, p.Stage, orDash(string(p.NextStage)))
		_, _ = fmt.Fprintf(w, "  Probability:\t%.1f%% (base %.1f%%)\n", p.Probability*100, p.BaseProbability*100)
		_, _ = fmt.Fprintf(w, "  Confidence:\t%.2f\n", p.Confidence)
		if p.ETADays != nil {
			_, _ = fmt.Fprintf(w, "  ETA:\t%d days\n", *p.ETADays)
		}
		if p.BenchmarkLabel != "" {
			_, _ = fmt.Fprintf(w, "  Benchmark:\t%s\n", p.BenchmarkLabel)
		}
		_, _ = fmt.Fprintf(w, "  Why:\t%s\n", p.Explanation)
		for _, b := range p.Blockers {
			_, _ = fmt.Fprintf(w, "  Blocker:\t[%s] %s\n", b.Severity, b.Description)
		}
		for _, a := range p.NextBestActions {
			_, _ = fmt.Fprintf(w, "  Action:\t%s (gain %.3f)\n", a.ActionType, a.ExpectedGain)
		}
	}
	_, _ = fmt.Fprintf(w, "\n%d scored, %d failed\n", res.Succeeded, res.Failed)
	_ = w.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
