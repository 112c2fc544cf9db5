// Package reader implements the HEIF file reader: it walks the box tree,
// builds the meta-box item graph and the track sample tables, and exposes
// item data, properties, references and presentation timestamps.
package reader

import (
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/isobmff"
	"github.com/bugVanisher/heif/utils/bits/pio"

	// Parser registrations for decoder-parameter resolution.
	_ "github.com/bugVanisher/heif/media/codec/avcparser"
	_ "github.com/bugVanisher/heif/media/codec/hevcparser"
)

// Reader states.
const (
	stateUninitialized = iota
	stateInitializing
	stateReady
)

// ContextID names one meta box or track inside a file.
type ContextID uint32

// ContextType tags what a ContextID points at.
type ContextType int

const (
	ContextMeta ContextType = iota
	ContextTrack
)

// MetaFeature flags of a meta context.
type MetaFeature struct {
	HasMasterImages        bool
	HasThumbnails          bool
	HasAuxiliaryImages     bool
	HasDerivedImages       bool
	HasPreComputedImages   bool
	HasHiddenImages        bool
	HasCoverImage          bool
	HasMetadata            bool
}

// TrackFeature flags of a track context.
type TrackFeature struct {
	IsMasterImageSequence    bool
	IsThumbnailImageSequence bool
	IsAuxiliaryImageSequence bool
	HasAlternatives          bool
	HasSampleGroups          bool
	HasEditList              bool
	HasInfiniteLoopPlayback  bool
}

// ContextInfo summarizes one context for FileProperties.
type ContextInfo struct {
	ID      ContextID
	Type    ContextType
	TrackID uint32 // tracks only
	Meta    MetaFeature
	Track   TrackFeature
}

// FileProperties is the summary Initialize derives.
type FileProperties struct {
	MajorBrand       string
	CompatibleBrands []string

	HasSingleImage      bool
	HasImageCollection  bool
	HasImageSequence    bool
	HasCoverImage       bool
	HasAlternateTracks  bool

	Contexts []ContextInfo
}

// Sample is one reconstructed track sample.
type Sample struct {
	Offset                 uint64
	Size                   uint32
	SampleDescriptionIndex uint32
	Duration               uint32
	CompositionOffset      int64
	Sync                   bool
	DecodeDependencies     []uint32 // sample indices, from the 'refs' grouping
}

type metaContext struct {
	id   ContextID
	meta *isobmff.MetaBox

	forcedFps  float64
	forcedLoop bool
}

type trackContext struct {
	id   ContextID
	trak *isobmff.TrackBox

	trackID        uint32
	handlerType    string
	movieTimescale uint32
	mediaTimescale uint32
	alternateGroup uint16

	samples  []Sample
	timeline []TimelineEntry
	span     uint64

	forcedFps  float64
	forcedLoop bool
}

// Reader parses one HEIF file. Instances are not safe for concurrent use;
// drive independent readers from independent goroutines instead.
type Reader struct {
	state  int
	stream io.ReadSeeker
	file   *os.File // owned when Initialize opened a path

	ftyp   *isobmff.FileTypeBox
	metas  []*metaContext
	tracks []*trackContext

	nextContextID ContextID
	properties    FileProperties
}

// New returns an uninitialized reader.
func New() *Reader {
	return &Reader{}
}

// Initialize opens a path and parses the container structure.
func (r *Reader) Initialize(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.Wrapf(errs.ErrIo, "open %s: %v", path, err)
	}
	r.file = f
	if err := r.InitializeStream(f); err != nil {
		f.Close()
		r.file = nil
		return err
	}
	return nil
}

// InitializeStream binds the reader to a caller-provided stream.
func (r *Reader) InitializeStream(stream io.ReadSeeker) error {
	r.state = stateInitializing
	r.stream = stream
	if err := r.parseTopLevel(); err != nil {
		r.state = stateUninitialized
		return err
	}
	if r.ftyp == nil {
		r.state = stateUninitialized
		return errs.Wrapf(errs.ErrMalformedBitstream, "file has no ftyp box")
	}
	r.deriveFileProperties()
	r.state = stateReady
	return nil
}

// Close releases the stream when the reader owns it.
func (r *Reader) Close() error {
	r.state = stateUninitialized
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

func (r *Reader) ready() error {
	if r.state != stateReady {
		return errs.ErrUninitialized
	}
	return nil
}

// parseTopLevel walks the file box by box. Structural boxes are slurped
// and decoded; mdat payloads stay on disk and are read on demand.
func (r *Reader) parseTopLevel() error {
	if _, err := r.stream.Seek(0, io.SeekStart); err != nil {
		return errs.Wrapf(errs.ErrIo, "seek: %v", err)
	}
	offset := uint64(0)
	var moofs []*isobmff.ContainerBox
	for {
		var head [16]byte
		n, err := io.ReadFull(r.stream, head[:8])
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return errs.Wrapf(errs.ErrIo, "read box header: %v", err)
		}
		if n < 8 {
			break
		}
		size := uint64(pio.U32BE(head[:]))
		boxType := string(head[4:8])
		headerSize := uint64(8)
		if size == 1 {
			if _, err := io.ReadFull(r.stream, head[8:16]); err != nil {
				return errs.Wrapf(errs.ErrUnexpectedEOF, "large box header")
			}
			size = pio.U64BE(head[8:])
			headerSize = 16
		} else if size == 0 {
			end, err := r.stream.Seek(0, io.SeekEnd)
			if err != nil {
				return errs.Wrapf(errs.ErrIo, "seek: %v", err)
			}
			size = uint64(end) - offset
			if _, err := r.stream.Seek(int64(offset+headerSize), io.SeekStart); err != nil {
				return errs.Wrapf(errs.ErrIo, "seek: %v", err)
			}
		}
		if size < headerSize {
			return errs.Wrapf(errs.ErrMalformedBitstream, "box %q size %d", boxType, size)
		}
		log.Debug().Str("box", boxType).Uint64("offset", offset).Uint64("size", size).Msg("top-level box")

		switch boxType {
		case "mdat", "free", "skip":
			// Payload bytes are consulted through iloc/stco offsets.
			if _, err := r.stream.Seek(int64(offset+size), io.SeekStart); err != nil {
				return errs.Wrapf(errs.ErrIo, "seek past %s: %v", boxType, err)
			}
		default:
			payload := make([]byte, size-headerSize)
			if _, err := io.ReadFull(r.stream, payload); err != nil {
				return errs.Wrapf(errs.ErrUnexpectedEOF, "box %q payload", boxType)
			}
			if err := r.acceptBox(boxType, payload, &moofs); err != nil {
				return err
			}
		}
		offset += size
	}
	r.applyMovieFragments(moofs)
	return nil
}

func (r *Reader) acceptBox(boxType string, payload []byte, moofs *[]*isobmff.ContainerBox) error {
	full := make([]byte, 8+len(payload))
	pio.PutU32BE(full, uint32(8+len(payload)))
	copy(full[4:8], boxType)
	copy(full[8:], payload)
	box, _, err := isobmff.Parse(full)
	if err != nil {
		return err
	}
	switch b := box.(type) {
	case *isobmff.FileTypeBox:
		r.ftyp = b
	case *isobmff.MetaBox:
		ctx := &metaContext{id: r.nextContextID, meta: b}
		r.nextContextID++
		r.metas = append(r.metas, ctx)
	case *isobmff.MovieBox:
		movieTimescale := uint32(0)
		if mvhd := b.Header(); mvhd != nil {
			movieTimescale = mvhd.Timescale
		}
		for _, trak := range b.Tracks() {
			ctx, err := r.buildTrackContext(trak, movieTimescale)
			if err != nil {
				return err
			}
			ctx.id = r.nextContextID
			r.nextContextID++
			r.tracks = append(r.tracks, ctx)
		}
	case *isobmff.ContainerBox:
		if b.Tag == isobmff.Type("moof") {
			*moofs = append(*moofs, b)
		}
	default:
		// Unknown top-level boxes stay opaque.
	}
	return nil
}

func (r *Reader) deriveFileProperties() {
	p := &r.properties
	p.MajorBrand = r.ftyp.MajorBrand
	p.CompatibleBrands = r.ftyp.CompatibleBrands
	p.HasSingleImage = r.ftyp.HasBrand("heic") || r.ftyp.HasBrand("heix")
	p.HasImageCollection = r.ftyp.HasBrand("mif1")
	p.HasImageSequence = r.ftyp.HasBrand("msf1") || r.ftyp.HasBrand("hevc")

	for _, m := range r.metas {
		info := ContextInfo{ID: m.id, Type: ContextMeta}
		info.Meta = m.features()
		if info.Meta.HasCoverImage {
			p.HasCoverImage = true
		}
		p.Contexts = append(p.Contexts, info)
	}
	groups := map[uint16]int{}
	for _, t := range r.tracks {
		if t.alternateGroup != 0 {
			groups[t.alternateGroup]++
		}
	}
	for _, t := range r.tracks {
		info := ContextInfo{ID: t.id, Type: ContextTrack, TrackID: t.trackID}
		info.Track = t.features()
		if t.alternateGroup != 0 && groups[t.alternateGroup] > 1 {
			info.Track.HasAlternatives = true
			p.HasAlternateTracks = true
		}
		p.Contexts = append(p.Contexts, info)
	}
}

func (m *metaContext) features() MetaFeature {
	var f MetaFeature
	iinf := m.meta.ItemInfo()
	if iinf == nil {
		return f
	}
	iref := m.meta.ItemReference()
	for _, e := range iinf.Entries {
		switch e.ItemType {
		case "grid", "iovl", "iden":
			f.HasDerivedImages = true
		case "Exif", "exif", "mime", "xml1", "uri ":
			f.HasMetadata = true
		default:
			f.HasMasterImages = true
		}
		if e.Hidden() {
			f.HasHiddenImages = true
		}
	}
	if iref != nil {
		for _, ref := range iref.References {
			switch ref.ReferenceType {
			case "thmb":
				f.HasThumbnails = true
			case "auxl":
				f.HasAuxiliaryImages = true
			}
		}
	}
	if m.meta.PrimaryItem() != nil {
		f.HasCoverImage = true
	}
	return f
}

func (t *trackContext) features() TrackFeature {
	var f TrackFeature
	f.IsMasterImageSequence = t.handlerType == "pict" || t.handlerType == "vide"
	if tref := t.trak.Reference(); tref != nil {
		if len(tref.TrackIDsOfType("thmb")) > 0 {
			f.IsThumbnailImageSequence = true
			f.IsMasterImageSequence = false
		}
		if len(tref.TrackIDsOfType("auxl")) > 0 {
			f.IsAuxiliaryImageSequence = true
			f.IsMasterImageSequence = false
		}
	}
	if stbl := t.trak.SampleTable(); stbl != nil && len(stbl.SampleToGroups()) > 0 {
		f.HasSampleGroups = true
	}
	if elst := t.trak.EditList(); elst != nil {
		f.HasEditList = true
		// A final zero-duration forward edit loops the presentation.
		if n := len(elst.Entries); n > 0 {
			last := elst.Entries[n-1]
			if last.SegmentDuration == 0 && last.MediaTime >= 0 {
				f.HasInfiniteLoopPlayback = true
			}
		}
	}
	return f
}

// FileProperties reports the summary flags derived at initialization.
func (r *Reader) FileProperties() (FileProperties, error) {
	if err := r.ready(); err != nil {
		return FileProperties{}, err
	}
	return r.properties, nil
}

func (r *Reader) metaByID(ctx ContextID) *metaContext {
	for _, m := range r.metas {
		if m.id == ctx {
			return m
		}
	}
	return nil
}

func (r *Reader) trackByID(ctx ContextID) *trackContext {
	for _, t := range r.tracks {
		if t.id == ctx {
			return t
		}
	}
	return nil
}

// readAt pulls raw bytes from the backing stream.
func (r *Reader) readAt(offset uint64, length uint64) ([]byte, error) {
	if _, err := r.stream.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, errs.Wrapf(errs.ErrIo, "seek %d: %v", offset, err)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.stream, buf); err != nil {
		return nil, errs.Wrapf(errs.ErrUnexpectedEOF, "read %d bytes at %d", length, offset)
	}
	return buf, nil
}

// SetForcedFps overrides timing for contexts without inherent timing.
func (r *Reader) SetForcedFps(ctx ContextID, fps float64) error {
	if err := r.ready(); err != nil {
		return err
	}
	if m := r.metaByID(ctx); m != nil {
		m.forcedFps = fps
		return nil
	}
	if t := r.trackByID(ctx); t != nil {
		t.forcedFps = fps
		return nil
	}
	return errs.ErrInvalidContext
}

// SetForcedLoopPlayback toggles looping for a context.
func (r *Reader) SetForcedLoopPlayback(ctx ContextID, loop bool) error {
	if err := r.ready(); err != nil {
		return err
	}
	if m := r.metaByID(ctx); m != nil {
		m.forcedLoop = loop
		return nil
	}
	if t := r.trackByID(ctx); t != nil {
		t.forcedLoop = loop
		return nil
	}
	return errs.ErrInvalidContext
}
