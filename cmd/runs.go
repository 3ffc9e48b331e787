package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/ckpt-cli/internal/monitoring"
)

var runsStats bool

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List journaled runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		j, err := initJournal(ctx)
		if err != nil {
			return err
		}
		defer j.Close()

		if runsStats {
			snap, err := monitoring.NewCollector(j).Collect(ctx)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Println(string(out))
			return nil
		}

		runs, err := j.ListRuns(ctx)
		if err != nil {
			return err
		}
		for _, r := range runs {
			recs, err := j.ListRun(ctx, r)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%d checkpoints\n", r, len(recs))
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().BoolVar(&runsStats, "stats", false, "print journal-wide metrics instead")
	rootCmd.AddCommand(runsCmd)
}
