package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bugVanisher/heif/media/heif/writer"
)

var writeCmd = &cobra.Command{
	Use:   "write <manifest.json>",
	Short: "Assemble a HEIF file from a content manifest.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := writer.LoadManifest(args[0])
		if err != nil {
			return err
		}
		return writer.New().Write(manifest)
	},
}

func init() {
	rootCmd.AddCommand(writeCmd)
}
