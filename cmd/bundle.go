package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/ckpt-cli/internal/artifact"
)

var bundleOut string

var bundleCmd = &cobra.Command{
	Use:   "bundle <file>...",
	Short: "Zip multiple files into one archive for --archive upload",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := artifact.BundleFiles(bundleOut, args); err != nil {
			return err
		}
		fmt.Printf("bundled %d files into %s\n", len(args), bundleOut)
		return nil
	},
}

func init() {
	bundleCmd.Flags().StringVar(&bundleOut, "out", "bundle.zip", "output archive path")
	rootCmd.AddCommand(bundleCmd)
}
