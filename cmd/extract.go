package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bugVanisher/heif/media/heif/reader"
)

var (
	extractOutDir  string
	extractContext uint32
	extractWorkers int
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract decodable Annex-B bitstreams of the master images.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := reader.New()
		if err := r.Initialize(args[0]); err != nil {
			return err
		}
		defer r.Close()

		ctx := reader.ContextID(extractContext)
		items, err := r.ItemListByType(ctx, "master")
		if err != nil {
			return err
		}
		if len(items) == 0 {
			log.Warn().Msg("no master images in context")
			return nil
		}
		if err := os.MkdirAll(extractOutDir, 0o755); err != nil {
			return err
		}
		// The reader instance is single-threaded; assemble payloads in
		// order, fan only the file writes out.
		type extracted struct {
			itemID uint32
			name   string
			data   []byte
		}
		var jobs []extracted
		for _, itemID := range items {
			data, err := r.ItemDataWithDecoderParameters(ctx, itemID)
			if err != nil {
				return err
			}
			name := filepath.Join(extractOutDir, fmt.Sprintf("item_%d.265", itemID))
			if codeType, err := r.DecoderCodeType(ctx, itemID); err == nil {
				if codeType == "avc1" || codeType == "avc3" {
					name = filepath.Join(extractOutDir, fmt.Sprintf("item_%d.264", itemID))
				}
			}
			jobs = append(jobs, extracted{itemID: itemID, name: name, data: data})
		}
		var g errgroup.Group
		g.SetLimit(extractWorkers)
		for _, job := range jobs {
			job := job
			g.Go(func() error {
				if err := os.WriteFile(job.name, job.data, 0o644); err != nil {
					return err
				}
				log.Info().Uint32("item", job.itemID).Str("path", job.name).Msg("extracted")
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractOutDir, "out", "o", ".", "output directory")
	extractCmd.Flags().Uint32Var(&extractContext, "context", 0, "context id to extract from")
	extractCmd.Flags().IntVar(&extractWorkers, "workers", 4, "parallel extraction workers")
	rootCmd.AddCommand(extractCmd)
}
