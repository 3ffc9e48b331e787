package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/ckpt-cli/internal/provenance"
	"github.com/sells-group/ckpt-cli/internal/publish"
)

var reuploadRecord string

var reuploadCmd = &cobra.Command{
	Use:   "reupload",
	Short: "Retry artifact uploads for incomplete records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		j, err := initJournal(ctx)
		if err != nil {
			return err
		}
		defer j.Close()

		pub := publish.New(newStoreClient(), provenance.New(), publish.WithJournal(j))

		if reuploadRecord != "" {
			rec, err := j.GetByRecordID(ctx, reuploadRecord)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("record %s not in journal", reuploadRecord)
			}
			if rec.ArtifactAttached {
				fmt.Printf("record %s already has its artifact\n", reuploadRecord)
				return nil
			}
			if err := pub.Reupload(ctx, rec.RecordID, rec.LocalArtifactPath); err != nil {
				return err
			}
			fmt.Printf("record %s artifact attached\n", reuploadRecord)
			return nil
		}

		pending, err := j.ListPendingUploads(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("no pending uploads")
			return nil
		}

		recovered := 0
		for _, rec := range pending {
			if err := pub.Reupload(ctx, rec.RecordID, rec.LocalArtifactPath); err != nil {
				fmt.Printf("record %s still failing: %v\n", rec.RecordID, err)
				continue
			}
			recovered++
		}
		fmt.Printf("recovered %d of %d pending uploads\n", recovered, len(pending))
		return nil
	},
}

func init() {
	reuploadCmd.Flags().StringVar(&reuploadRecord, "record", "", "retry a single record id instead of all pending")
	rootCmd.AddCommand(reuploadCmd)
}
