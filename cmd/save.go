package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ckpt-cli/internal/artifact"
	"github.com/sells-group/ckpt-cli/internal/checkpoint"
	"github.com/sells-group/ckpt-cli/internal/model"
)

var (
	saveRun         string
	saveEpoch       int
	saveLoss        float64
	saveArchive     string
	saveStateFile   string
	saveHyperparams string
	saveVars        string
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save one checkpoint with metadata and lineage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		j, err := initJournal(ctx)
		if err != nil {
			return err
		}
		defer j.Close()

		logger, err := initCheckpointLogger(ctx, j)
		if err != nil {
			return err
		}

		hp := map[string]any{}
		if saveHyperparams != "" {
			hp, err = loadHyperparams(saveHyperparams)
			if err != nil {
				return err
			}
		}

		var vars []model.CapturedVar
		if saveVars != "" {
			vars, err = loadCapturedVars(saveVars)
			if err != nil {
				return err
			}
		}

		req := checkpoint.SaveRequest{
			RunSuffix:       saveRun,
			Epoch:           saveEpoch,
			TrainingLoss:    saveLoss,
			Hyperparameters: hp,
			LocalVars:       vars,
			ArchivePath:     saveArchive,
		}
		if saveArchive == "" {
			if saveStateFile == "" {
				return eris.New("either --archive or --state is required")
			}
			raw, err := os.ReadFile(saveStateFile)
			if err != nil {
				return eris.Wrapf(err, "read state file %s", saveStateFile)
			}
			req.State = artifact.BytesState(raw)
		}

		rec, err := logger.Save(ctx, req)
		if err != nil {
			var ui *model.UploadIncompleteError
			if errors.As(err, &ui) {
				fmt.Fprintf(os.Stderr, "record %s created, artifact upload incomplete; retry with: ckpt-cli reupload --record %s\n", ui.RecordID, ui.RecordID)
			}
			return err
		}

		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveRun, "run", "", "run suffix identifying the training session (required)")
	saveCmd.Flags().IntVar(&saveEpoch, "epoch", 0, "training epoch, starting at 1 (required)")
	saveCmd.Flags().Float64Var(&saveLoss, "loss", 0, "training loss at this epoch (required)")
	saveCmd.Flags().StringVar(&saveArchive, "archive", "", "pre-built archive to upload verbatim (e.g. a zip bundle)")
	saveCmd.Flags().StringVar(&saveStateFile, "state", "", "serialized state file to package as the artifact")
	saveCmd.Flags().StringVar(&saveHyperparams, "hyperparams", "", "YAML file with a flat hyperparameter mapping")
	saveCmd.Flags().StringVar(&saveVars, "vars", "", "YAML file with ordered captured variables")
	saveCmd.MarkFlagRequired("run")
	saveCmd.MarkFlagRequired("epoch")
	saveCmd.MarkFlagRequired("loss")
	rootCmd.AddCommand(saveCmd)
}
