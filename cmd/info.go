package cmd

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/bugVanisher/heif/media/heif/reader"
)

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Dump the item and track structure of a HEIF file as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := reader.New()
		if err := r.Initialize(args[0]); err != nil {
			return err
		}
		defer r.Close()

		props, err := r.FileProperties()
		if err != nil {
			return err
		}
		report := buildReport(r, props)
		out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

type itemReport struct {
	ID     uint32 `json:"id"`
	Type   string `json:"type"`
	Width  uint32 `json:"width,omitempty"`
	Height uint32 `json:"height,omitempty"`
}

type contextReport struct {
	ID           uint32       `json:"id"`
	Kind         string       `json:"kind"`
	TrackID      uint32       `json:"track_id,omitempty"`
	CoverItem    uint32       `json:"cover_item,omitempty"`
	Masters      []itemReport `json:"masters,omitempty"`
	Thumbnails   []uint32     `json:"thumbnails,omitempty"`
	Auxiliary    []uint32     `json:"auxiliary,omitempty"`
	Grids        []uint32     `json:"grids,omitempty"`
	Overlays     []uint32     `json:"overlays,omitempty"`
	DurationMS   uint64       `json:"duration_ms,omitempty"`
	SampleCount  int          `json:"sample_count,omitempty"`
}

type fileReport struct {
	MajorBrand       string          `json:"major_brand"`
	CompatibleBrands []string        `json:"compatible_brands"`
	SingleImage      bool            `json:"single_image"`
	ImageCollection  bool            `json:"image_collection"`
	ImageSequence    bool            `json:"image_sequence"`
	Contexts         []contextReport `json:"contexts"`
}

func buildReport(r *reader.Reader, props reader.FileProperties) fileReport {
	report := fileReport{
		MajorBrand:       props.MajorBrand,
		CompatibleBrands: props.CompatibleBrands,
		SingleImage:      props.HasSingleImage,
		ImageCollection:  props.HasImageCollection,
		ImageSequence:    props.HasImageSequence,
	}
	for _, ctx := range props.Contexts {
		c := contextReport{ID: uint32(ctx.ID), TrackID: ctx.TrackID}
		if ctx.Type == reader.ContextMeta {
			c.Kind = "meta"
			if id, err := r.CoverImageItemID(ctx.ID); err == nil {
				c.CoverItem = id
			}
			masters, _ := r.ItemListByType(ctx.ID, "master")
			for _, id := range masters {
				item := itemReport{ID: id}
				item.Type, _ = r.ItemType(ctx.ID, id)
				item.Width, _ = r.Width(ctx.ID, id)
				item.Height, _ = r.Height(ctx.ID, id)
				c.Masters = append(c.Masters, item)
			}
			c.Thumbnails, _ = r.ItemListByType(ctx.ID, "thumb")
			c.Auxiliary, _ = r.ItemListByType(ctx.ID, "aux")
			c.Grids, _ = r.ItemListByType(ctx.ID, "grid")
			c.Overlays, _ = r.ItemListByType(ctx.ID, "iovl")
		} else {
			c.Kind = "track"
			c.DurationMS, _ = r.PlaybackDurationMS(ctx.ID)
			if samples, err := r.ItemListByType(ctx.ID, "master"); err == nil && len(samples) > 0 {
				c.SampleCount = len(samples)
			} else if samples, err := r.ItemListByType(ctx.ID, "thumb"); err == nil {
				c.SampleCount = len(samples)
			}
		}
		report.Contexts = append(report.Contexts, c)
	}
	return report
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
