package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ckpt-cli/internal/model"
)

var lineageVerify bool

var lineageCmd = &cobra.Command{
	Use:   "lineage <run-suffix>",
	Short: "Print the provenance chain for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runSuffix := args[0]

		j, err := initJournal(ctx)
		if err != nil {
			return err
		}
		defer j.Close()

		recs, err := j.ListRun(ctx, runSuffix)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return eris.Errorf("no records for run %s", runSuffix)
		}

		if err := verifyChain(recs); err != nil {
			return err
		}

		client := newStoreClient()
		for _, rec := range recs {
			status := "attached"
			if !rec.ArtifactAttached {
				status = "pending"
			}

			if lineageVerify {
				remote, err := client.GetRecord(ctx, rec.RecordID)
				if err != nil {
					return eris.Wrapf(err, "verify record %s", rec.RecordID)
				}
				if remote.ArtifactAttached != rec.ArtifactAttached {
					status = fmt.Sprintf("journal=%s remote_attached=%v", status, remote.ArtifactAttached)
				}
			}

			pred := rec.PredecessorRecordID
			if pred == "" {
				pred = "-"
			}
			fmt.Printf("epoch %d\t%s\tpredecessor=%s\tartifact=%s\n",
				rec.Identity.Epoch, rec.RecordID, pred, status)
		}
		return nil
	},
}

// verifyChain checks that each record's predecessor pointer matches the
// record id of the previous epoch.
func verifyChain(recs []model.CheckpointRecord) error {
	for i, rec := range recs {
		if i == 0 {
			continue
		}
		prev := recs[i-1]
		if rec.Identity.Epoch != prev.Identity.Epoch+1 {
			return eris.Errorf("chain gap: epoch %d follows epoch %d", rec.Identity.Epoch, prev.Identity.Epoch)
		}
		if rec.PredecessorRecordID != prev.RecordID {
			return eris.Errorf("chain mismatch at epoch %d: predecessor %s, expected %s",
				rec.Identity.Epoch, rec.PredecessorRecordID, prev.RecordID)
		}
	}
	return nil
}

func init() {
	lineageCmd.Flags().BoolVar(&lineageVerify, "verify", false, "cross-check each record against the remote store")
	rootCmd.AddCommand(lineageCmd)
}
