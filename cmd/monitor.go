package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/pipeline-intel/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Snapshot queue and execution health and send any alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("monitor"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mcfg := cfg.Monitoring
		if h, _ := cmd.Flags().GetInt("lookback-hours"); h > 0 {
			mcfg.LookbackHours = h
		}
		if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
			mcfg.WebhookURL = ""
		}

		checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(mcfg), mcfg)
		rep, err := checker.Check(ctx)
		if err != nil {
			return err
		}
		formatReport(os.Stdout, rep)
		return nil
	},
}

func init() {
	monitorCmd.Flags().Int("lookback-hours", 0, "override monitoring.lookback_hours")
	monitorCmd.Flags().Bool("dry-run", false, "evaluate alerts without sending them")
	rootCmd.AddCommand(monitorCmd)
}

// formatReport writes a health snapshot and its alerts to out.
func formatReport(out io.Writer, rep *monitoring.Report) {
	s := rep.Snapshot
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Executions:\t%d\n", s.Executions)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d (%.1f%%)\n", s.Failed, s.FailureRate*100)
	_, _ = fmt.Fprintf(w, "  Simulated:\t%d\n", s.Simulated)
	_, _ = fmt.Fprintf(w, "Outcomes measured:\t%d\n", s.Measured)
	_, _ = fmt.Fprintf(w, "  Advanced:\t%d (%.1f%%)\n", s.Advanced, s.ConversionRate*100)
	_, _ = fmt.Fprintf(w, "Queue depth:\t%d\n", s.QueueDepth)
	_ = w.Flush()

	if len(rep.Alerts) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo alerts.")
		return
	}
	_, _ = fmt.Fprintf(out, "\n%d alert(s), %d sent:\n", len(rep.Alerts), rep.Sent)
	for _, a := range rep.Alerts {
		_, _ = fmt.Fprintf(out, "  [%s] %s\n", a.Severity, a.Message)
	}
}
