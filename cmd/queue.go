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
	"github.com/sells-group/pipeline-intel/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and work the action queue",
	Long:  "Commands for listing active queue entries, executing them, recording outcomes and sweeping expired entries.",
}

// -- queue list --

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active queue entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		owner, _ := cmd.Flags().GetString("owner")
		action, _ := cmd.Flags().GetString("action")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		if err := checkFormat(format, output); err != nil {
			return err
		}

		env, err := initEngine(ctx, "queue")
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Tracker.List(ctx, store.QueueFilter{
			OwnerID:    owner,
			ActionType: model.ActionType(action),
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "queue list")
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
			return enc.Encode(entries)
		case "xlsx":
			return export.WriteXLSX(out, export.QueueTable(entries))
		case "csv":
			return export.WriteCSV(out, export.QueueTable(entries))
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Queue is empty.")
			return nil
		}
		formatQueueList(out, entries)
		return nil
	},
}

// -- queue execute --

var queueExecuteCmd = &cobra.Command{
	Use:   "execute [entry-id]",
	Short: "Execute a queue entry",
	Long:  "Executes an entry by id, or by --entity and --action for the given --owner.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req := queue.ExecuteRequest{}
		if len(args) == 1 {
			req.EntryID = args[0]
		}
		req.OwnerID, _ = cmd.Flags().GetString("owner")
		req.EntityID, _ = cmd.Flags().GetString("entity")
		action, _ := cmd.Flags().GetString("action")
		req.ActionType = model.ActionType(action)

		env, err := initEngine(ctx, "queue")
		if err != nil {
			return err
		}
		defer env.Close()

		exec, err := env.Tracker.Execute(ctx, req)
		if err != nil {
			return eris.Wrap(err, "queue execute")
		}
		return printJSON(os.Stdout, exec)
	},
}

// -- queue outcome --

var queueOutcomeCmd = &cobra.Command{
	Use:   "outcome <execution-id>",
	Short: "Record the measured outcome of an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var o model.Outcome
		o.StageAdvanced, _ = cmd.Flags().GetBool("advanced")
		o.DelayDays, _ = cmd.Flags().GetInt("delay-days")
		if cmd.Flags().Changed("conversion-delta") {
			d, _ := cmd.Flags().GetFloat64("conversion-delta")
			o.ConversionDelta = &d
		}

		env, err := initEngine(ctx, "queue")
		if err != nil {
			return err
		}
		defer env.Close()

		exec, err := env.Tracker.RecordOutcome(ctx, args[0], o)
		if err != nil {
			return eris.Wrap(err, "queue outcome")
		}
		return printJSON(os.Stdout, exec)
	},
}

// -- queue sweep --

var queueSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired queue entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "queue")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Tracker.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Deleted %d expired entries.\n", n)
		return nil
	},
}

func init() {
	queueListCmd.Flags().String("owner", "", "filter by owner")
	queueListCmd.Flags().String("action", "", "filter by action type (message, call, flag, unblock)")
	queueListCmd.Flags().Int("limit", 50, "max number of entries")
	queueListCmd.Flags().String("format", "table", "output format: table, json, csv, xlsx")
	queueListCmd.Flags().String("output", "", "write to a file instead of stdout (required for xlsx)")

	queueExecuteCmd.Flags().String("owner", "", "owner of the entry")
	queueExecuteCmd.Flags().String("entity", "", "entity id")
	queueExecuteCmd.Flags().String("action", "", "action type")

	queueOutcomeCmd.Flags().Bool("advanced", false, "the entity advanced a stage")
	queueOutcomeCmd.Flags().Int("delay-days", 0, "days until the stage change, or days waited")
	queueOutcomeCmd.Flags().Float64("conversion-delta", 0, "change in predicted probability")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueExecuteCmd)
	queueCmd.AddCommand(queueOutcomeCmd)
	queueCmd.AddCommand(queueSweepCmd)
	rootCmd.AddCommand(queueCmd)
}

// formatQueueList writes a tabular list of queue entries to w.
func formatQueueList(out io.Writer, entries []model.ActionQueueEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tOWNER\tENTITY\tACTION\tPRIORITY\tEXPIRES\tREASON")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t------\t--------\t-------\t------")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.3f\t%s\t%s\n",
			truncateID(e.ID),
			orDash(e.OwnerID),
			e.EntityID,
			e.ActionType,
			e.Priority,
			e.ExpiresAt.Format("2006-01-02 15:04"),
			truncate(e.Reason, 50),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
