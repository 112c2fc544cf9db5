// Package writer assembles HEIF files from coded bitstreams and a
// declarative content manifest: meta-context items, track-context image
// sequences, derived items, entity groups and the two-pass offset layout.
package writer

import (
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/bugVanisher/heif/common/errs"
)

// Brands selects the ftyp content.
type Brands struct {
	Major      string   `json:"major"`
	Compatible []string `json:"compatible"`
}

// EditSpec is one declarative edit-list entry.
type EditSpec struct {
	Type            string `json:"type"` // "empty", "dwell", "shift", "reverse"
	DurationTicks   uint64 `json:"duration_ticks"`
	MediaTimeTicks  int64  `json:"media_time_ticks"`
	MediaRateInt    int16  `json:"media_rate_int"`
	MediaRateFrac   int16  `json:"media_rate_frac"`
}

// EditListSpec declares a track's edit list.
type EditListSpec struct {
	Loop  bool       `json:"loop"`
	Edits []EditSpec `json:"edits"`
}

// Master is the main image or sequence of one content entry.
type Master struct {
	CodeType        string        `json:"code_type"`
	FilePath        string        `json:"file_path"`
	HdlrType        string        `json:"hdlr_type"`
	EncpType        string        `json:"encp_type"` // "meta" or "trak"
	DispXdim        uint32        `json:"disp_xdim"`
	DispYdim        uint32        `json:"disp_ydim"`
	DispRate        uint32        `json:"disp_rate"`
	TickRate        uint32        `json:"tick_rate"`
	UniqBsid        uint32        `json:"uniq_bsid"`
	EditList        *EditListSpec `json:"edit_list"`
	Ccst            bool          `json:"ccst"`
	MakeVide        bool          `json:"make_vide"`
	WriteAlternates bool          `json:"write_alternates"`
}

// Thumb declares a thumbnail bitstream bound to its master.
type Thumb struct {
	CodeType string `json:"code_type"`
	FilePath string `json:"file_path"`
	UniqBsid uint32 `json:"uniq_bsid"`
	SyncRate uint32 `json:"sync_rate"`
}

// Metadata declares an Exif or XML item described via cdsc.
type Metadata struct {
	HdlrType string `json:"hdlr_type"` // "exif" or "xml"
	FilePath string `json:"file_path"`
}

// Auxiliary declares an auxiliary image bound via auxl.
type Auxiliary struct {
	CodeType string `json:"code_type"`
	FilePath string `json:"file_path"`
	AuxType  string `json:"aux_type"`
	SubType  string `json:"sub_type"`
}

// Layer declares a layered-HEVC enhancement bitstream.
type Layer struct {
	CodeType          string `json:"code_type"`
	FilePath          string `json:"file_path"`
	BaseRefr          uint32 `json:"base_refr"`
	UniqBsid          uint32 `json:"uniq_bsid"`
	TargetOutputLayer uint16 `json:"target_outputlayer"`
	LayerSelection    int32  `json:"layer_selection"` // -1 = none
	Hidden            bool   `json:"hidden"`
}

// GridSpec declares a grid derivation over uniq_bsid inputs.
type GridSpec struct {
	Rows         uint32   `json:"rows"`
	Columns      uint32   `json:"columns"`
	OutputWidth  uint32   `json:"output_width"`
	OutputHeight uint32   `json:"output_height"`
	Inputs       []uint32 `json:"inputs"` // uniq_bsids, row-major
}

// IovlOffset places one overlay input on the canvas.
type IovlOffset struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// IovlSpec declares an overlay derivation.
type IovlSpec struct {
	CanvasFill   [4]uint16    `json:"canvas_fill"`
	OutputWidth  uint32       `json:"output_width"`
	OutputHeight uint32       `json:"output_height"`
	Inputs       []uint32     `json:"inputs"`
	Offsets      []IovlOffset `json:"offsets"`
}

// Derived groups the derivations of one content entry.
type Derived struct {
	Iden  []uint32   `json:"iden"` // uniq_bsids reinterpreted via properties
	Grids []GridSpec `json:"grid"`
	Iovls []IovlSpec `json:"iovl"`
}

// ClapSpec mirrors the clean-aperture rationals.
type ClapSpec struct {
	WidthN  uint32 `json:"width_n"`
	WidthD  uint32 `json:"width_d"`
	HeightN uint32 `json:"height_n"`
	HeightD uint32 `json:"height_d"`
	XOffN   int32  `json:"xoff_n"`
	XOffD   uint32 `json:"xoff_d"`
	YOffN   int32  `json:"yoff_n"`
	YOffD   uint32 `json:"yoff_d"`
}

// Property declares transform properties applied to the entry's images.
type Property struct {
	Irot *uint16   `json:"irot"` // degrees
	Imir *string   `json:"imir"` // "horizontal" or "vertical"
	Clap *ClapSpec `json:"clap"`
}

// Content is one manifest content entry.
type Content struct {
	Master    Master      `json:"master"`
	Thumbs    []Thumb     `json:"thumbs"`
	Metadata  []Metadata  `json:"metadata"`
	Auxiliary []Auxiliary `json:"auxiliary"`
	Layers    []Layer     `json:"layers"`
	Derived   *Derived    `json:"derived"`
	Property  *Property   `json:"property"`
}

// Egroup binds uniq_bsids into one entity group.
type Egroup struct {
	IdxsLists [][]uint32 `json:"idxs_lists"`
}

// General carries file-wide selections.
type General struct {
	PrimRefr uint32 `json:"prim_refr"` // uniq_bsid of the primary entry
	PrimIndx uint32 `json:"prim_indx"` // index within the entry, 0 = first
}

// Manifest is the writer's declarative input.
type Manifest struct {
	Brands     Brands    `json:"brands"`
	OutputPath string    `json:"output_path"`
	Content    []Content `json:"content"`
	Egroups    []Egroup  `json:"egroups"`
	General    General   `json:"general"`
}

// LoadManifest decodes and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrIo, "read manifest %s: %v", path, err)
	}
	var m Manifest
	if err := jsoniter.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrapf(errs.ErrInvalidManifest, "decode manifest: %v", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate fails fast on manifest inconsistencies.
func (m *Manifest) Validate() error {
	if m.Brands.Major == "" {
		return errs.Wrapf(errs.ErrInvalidManifest, "brands.major missing")
	}
	if m.OutputPath == "" {
		return errs.Wrapf(errs.ErrInvalidManifest, "output_path missing")
	}
	if len(m.Content) == 0 {
		return errs.Wrapf(errs.ErrInvalidManifest, "no content entries")
	}
	bsids := map[uint32]bool{}
	record := func(id uint32) error {
		if id == 0 {
			return nil
		}
		if bsids[id] {
			return errs.Wrapf(errs.ErrInvalidManifest, "duplicate uniq_bsid %d", id)
		}
		bsids[id] = true
		return nil
	}
	for i := range m.Content {
		c := &m.Content[i]
		if c.Master.FilePath == "" {
			return errs.Wrapf(errs.ErrInvalidManifest, "content[%d].master.file_path missing", i)
		}
		switch c.Master.EncpType {
		case "meta", "trak":
		default:
			return errs.Wrapf(errs.ErrInvalidManifest, "content[%d].master.encp_type %q", i, c.Master.EncpType)
		}
		if err := record(c.Master.UniqBsid); err != nil {
			return err
		}
		for _, t := range c.Thumbs {
			if err := record(t.UniqBsid); err != nil {
				return err
			}
		}
		for _, l := range c.Layers {
			if err := record(l.UniqBsid); err != nil {
				return err
			}
		}
		for _, md := range c.Metadata {
			if md.HdlrType != "exif" && md.HdlrType != "xml" {
				return errs.Wrapf(errs.ErrInvalidManifest, "metadata hdlr_type %q", md.HdlrType)
			}
		}
	}
	// Reference checks run after every uniq_bsid is known.
	for i := range m.Content {
		c := &m.Content[i]
		if c.Derived == nil {
			continue
		}
		for _, id := range c.Derived.Iden {
			if !bsids[id] {
				return errs.Wrapf(errs.ErrInvalidManifest, "iden references unknown uniq_bsid %d", id)
			}
		}
		for _, g := range c.Derived.Grids {
			if uint32(len(g.Inputs)) != g.Rows*g.Columns {
				return errs.Wrapf(errs.ErrInvalidManifest,
					"grid %dx%d with %d inputs", g.Rows, g.Columns, len(g.Inputs))
			}
			for _, id := range g.Inputs {
				if !bsids[id] {
					return errs.Wrapf(errs.ErrInvalidManifest, "grid references unknown uniq_bsid %d", id)
				}
			}
		}
		for _, o := range c.Derived.Iovls {
			if len(o.Inputs) != len(o.Offsets) {
				return errs.Wrapf(errs.ErrInvalidManifest,
					"iovl with %d offsets for %d inputs", len(o.Offsets), len(o.Inputs))
			}
			for _, id := range o.Inputs {
				if !bsids[id] {
					return errs.Wrapf(errs.ErrInvalidManifest, "iovl references unknown uniq_bsid %d", id)
				}
			}
		}
	}
	for _, l := range m.Content {
		for _, layer := range l.Layers {
			if layer.BaseRefr != 0 && !bsids[layer.BaseRefr] {
				return errs.Wrapf(errs.ErrInvalidManifest, "layer references unknown base uniq_bsid %d", layer.BaseRefr)
			}
		}
	}
	for _, g := range m.Egroups {
		for _, list := range g.IdxsLists {
			for _, id := range list {
				if !bsids[id] {
					return errs.Wrapf(errs.ErrInvalidManifest, "egroup references unknown uniq_bsid %d", id)
				}
			}
		}
	}
	if m.General.PrimRefr != 0 && !bsids[m.General.PrimRefr] {
		return errs.Wrapf(errs.ErrInvalidManifest, "prim_refr %d names no entry", m.General.PrimRefr)
	}
	return nil
}
