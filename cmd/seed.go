package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-intel/internal/features"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load applicant and activity fixtures into the store",
	Long:  "Reads a YAML fixture file of entities and activities and upserts them. Intended for local development with the sqlite driver.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("seed"); err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("fixtures")
		if path == "" {
			return eris.New("seed: --fixtures is required")
		}
		fx, err := features.LoadFixtures(path)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ents, err := st.UpsertEntities(ctx, fx.Entities)
		if err != nil {
			return eris.Wrap(err, "seed: entities")
		}
		acts, err := st.InsertActivities(ctx, fx.Activities)
		if err != nil {
			return eris.Wrap(err, "seed: activities")
		}

		zap.L().Info("fixtures seeded",
			zap.String("path", path),
			zap.Int64("entities", ents),
			zap.Int64("activities", acts),
		)
		fmt.Fprintf(os.Stdout, "Seeded %d entities and %d activities.\n", ents, acts)
		return nil
	},
}

func init() {
	seedCmd.Flags().String("fixtures", "", "YAML fixture file")
	rootCmd.AddCommand(seedCmd)
}
