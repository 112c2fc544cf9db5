package writer

import (
	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/isobmff"
)

const movieTimescale = 1000

// builtTrack is one assembled trak with its media bytes and the chunk
// offset box to patch at layout time.
type builtTrack struct {
	trak *isobmff.TrackBox
	stco *isobmff.ChunkOffsetBox
	mdat []byte
}

// trackBuilder assembles the trak boxes of one content entry.
type trackBuilder struct {
	nextTrackID uint32
	tracks      []*builtTrack
}

func newTrackBuilder() *trackBuilder {
	return &trackBuilder{nextTrackID: 1}
}

func (tb *trackBuilder) empty() bool {
	return len(tb.tracks) == 0
}

// addContent realizes one manifest entry as a master track with optional
// thumbnail and auxiliary tracks.
func (tb *trackBuilder) addContent(c *Content, sources map[string]*mediaSource) error {
	src := sources[c.Master.FilePath]
	alternateGroup := uint16(0)
	if c.Master.WriteAlternates {
		alternateGroup = 1
	}
	hdlr := "pict"
	if c.Master.HdlrType != "" {
		hdlr = c.Master.HdlrType
	}
	masterID, err := tb.addTrack(src, &c.Master, hdlr, alternateGroup, 0, "", c.Master.Ccst, 1)
	if err != nil {
		return err
	}
	if c.Master.MakeVide {
		// A duplicate presentation of the same media under a vide handler.
		if _, err := tb.addTrack(src, &c.Master, "vide", alternateGroup, 0, "", false, 1); err != nil {
			return err
		}
	}
	for _, t := range c.Thumbs {
		tsrc := sources[t.FilePath]
		subsample := uint32(1)
		if t.SyncRate > 0 {
			subsample = t.SyncRate
		}
		if _, err := tb.addTrack(tsrc, &c.Master, "pict", alternateGroup, masterID, "thmb", false, subsample); err != nil {
			return err
		}
	}
	for _, a := range c.Auxiliary {
		asrc := sources[a.FilePath]
		if _, err := tb.addTrack(asrc, &c.Master, "auxv", 0, masterID, "auxl", false, 1); err != nil {
			return err
		}
	}
	return nil
}

// addTrack assembles one trak. subsample keeps every Nth sample (thumb
// sync_rate).
func (tb *trackBuilder) addTrack(src *mediaSource, master *Master, hdlrType string,
	alternateGroup uint16, refTrackID uint32, refType string, ccst bool, subsample uint32) (uint32, error) {

	if master.TickRate == 0 || master.DispRate == 0 {
		return 0, errs.Wrapf(errs.ErrInvalidManifest, "track entry needs tick_rate and disp_rate")
	}
	trackID := tb.nextTrackID
	tb.nextTrackID++

	samples := src.Samples
	if subsample > 1 {
		var kept []mediaSample
		for i := uint32(0); i < uint32(len(samples)); i += subsample {
			kept = append(kept, samples[i])
		}
		samples = kept
	}

	sampleDuration := master.TickRate / master.DispRate
	mediaDuration := uint64(len(samples)) * uint64(sampleDuration)
	movieDuration := mediaDuration * movieTimescale / uint64(master.TickRate)

	var mdat []byte
	stsz := &isobmff.SampleSizeBox{SampleCount: uint32(len(samples))}
	stss := &isobmff.SyncSampleBox{}
	allSync := true
	for i, s := range samples {
		mdat = append(mdat, s.Data...)
		stsz.Sizes = append(stsz.Sizes, uint32(len(s.Data)))
		if s.Sync {
			stss.SampleNumbers = append(stss.SampleNumbers, uint32(i)+1)
		} else {
			allSync = false
		}
	}

	cfg, err := src.configBox()
	if err != nil {
		return 0, err
	}
	entry := &isobmff.VisualSampleEntry{
		Tag:                isobmff.Type(src.CodeType),
		DataReferenceIndex: 1,
		Width:              uint16(src.Width),
		Height:             uint16(src.Height),
		Children:           []isobmff.Box{cfg},
	}
	if ccst {
		entry.Children = append(entry.Children, &isobmff.CodingConstraintsBox{
			AllRefPicsIntra: allSync,
			IntraPredUsed:   true,
			MaxRefPerPic:    15,
		})
	}

	stco := &isobmff.ChunkOffsetBox{Offsets: []uint64{0}}
	stbl := &isobmff.SampleTableBox{}
	stbl.Children = append(stbl.Children,
		&isobmff.SampleDescriptionBox{Entries: []isobmff.Box{entry}},
		&isobmff.TimeToSampleBox{Entries: []isobmff.TimeToSampleEntry{{
			SampleCount: uint32(len(samples)),
			SampleDelta: sampleDuration,
		}}},
		&isobmff.SampleToChunkBox{Entries: []isobmff.SampleToChunkEntry{{
			FirstChunk:             1,
			SamplesPerChunk:        uint32(len(samples)),
			SampleDescriptionIndex: 1,
		}}},
		stco,
		stsz,
	)
	if !allSync {
		stbl.Children = append(stbl.Children, stss)
	}
	if sbgp, sgpd := buildReferenceGroups(samples); sbgp != nil {
		stbl.Children = append(stbl.Children, sbgp, sgpd)
	}

	minf := &isobmff.ContainerBox{Tag: isobmff.Type("minf")}
	minf.Children = append(minf.Children,
		&isobmff.VideoMediaHeaderBox{},
		&isobmff.ContainerBox{Tag: isobmff.Type("dinf"), Children: []isobmff.Box{
			&isobmff.DataReferenceBox{Entries: []isobmff.Box{
				&isobmff.DataEntryUrlBox{FullBox: isobmff.FullBox{Flags: 1}},
			}},
		}},
		stbl,
	)

	mdia := &isobmff.ContainerBox{Tag: isobmff.Type("mdia")}
	mdia.Children = append(mdia.Children,
		&isobmff.MediaHeaderBox{Timescale: master.TickRate, Duration: mediaDuration},
		&isobmff.HandlerBox{HandlerType: hdlrType},
		minf,
	)

	trak := &isobmff.TrackBox{}
	trak.Children = append(trak.Children, &isobmff.TrackHeaderBox{
		FullBox:        isobmff.FullBox{Flags: 3}, // enabled + in movie
		TrackID:        trackID,
		Duration:       movieDuration,
		AlternateGroup: alternateGroup,
		Width:          src.Width << 16,
		Height:         src.Height << 16,
	})
	if refTrackID != 0 && refType != "" {
		trak.Children = append(trak.Children, &isobmff.TrackReferenceBox{
			References: []isobmff.TrackReference{{ReferenceType: refType, TrackIDs: []uint32{refTrackID}}},
		})
	}
	if elst := buildEditList(master.EditList); elst != nil {
		trak.Children = append(trak.Children, &isobmff.ContainerBox{
			Tag:      isobmff.Type("edts"),
			Children: []isobmff.Box{elst},
		})
	}
	trak.Children = append(trak.Children, mdia)

	tb.tracks = append(tb.tracks, &builtTrack{trak: trak, stco: stco, mdat: mdat})
	log.Debug().Uint32("track_id", trackID).Int("samples", len(samples)).
		Str("handler", hdlrType).Msg("track assembled")
	return trackID, nil
}

// buildEditList maps the manifest edit specs into an elst box.
func buildEditList(spec *EditListSpec) *isobmff.EditListBox {
	if spec == nil || len(spec.Edits) == 0 {
		return nil
	}
	elst := &isobmff.EditListBox{}
	for _, e := range spec.Edits {
		entry := isobmff.EditEntry{
			SegmentDuration:   e.DurationTicks,
			MediaTime:         e.MediaTimeTicks,
			MediaRateInteger:  e.MediaRateInt,
			MediaRateFraction: e.MediaRateFrac,
		}
		switch e.Type {
		case "empty":
			entry.MediaTime = -1
			entry.MediaRateInteger = 1
		case "dwell":
			entry.MediaRateInteger = 0
			entry.MediaRateFraction = 0
		case "reverse":
			entry.MediaRateInteger = -1
		case "shift":
			if entry.MediaRateInteger == 0 && entry.MediaRateFraction == 0 {
				entry.MediaRateInteger = 1
			}
		}
		elst.Entries = append(elst.Entries, entry)
	}
	if spec.Loop {
		// A trailing zero-duration forward edit loops the presentation.
		elst.Entries = append(elst.Entries, isobmff.EditEntry{MediaRateInteger: 1})
	}
	return elst
}

// buildReferenceGroups declares per-sample decoding dependencies via the
// 'refs' sample grouping.
func buildReferenceGroups(samples []mediaSample) (*isobmff.SampleToGroupBox, *isobmff.SampleGroupDescriptionBox) {
	any := false
	for _, s := range samples {
		if len(s.RefIndices) > 0 {
			any = true
			break
		}
	}
	if !any {
		return nil, nil
	}
	sgpd := &isobmff.SampleGroupDescriptionBox{
		FullBox:      isobmff.FullBox{Version: 1},
		GroupingType: "refs",
	}
	sbgp := &isobmff.SampleToGroupBox{GroupingType: "refs"}
	for i, s := range samples {
		if len(s.RefIndices) == 0 {
			sbgp.Entries = append(sbgp.Entries, isobmff.SampleToGroupEntry{SampleCount: 1})
			continue
		}
		var refs []uint32
		for _, r := range s.RefIndices {
			refs = append(refs, r+1) // refs grouping uses 1-based sample numbers
		}
		sgpd.ReferenceEntries = append(sgpd.ReferenceEntries, isobmff.DirectReferenceSamplesEntry{
			SampleID:                 uint32(i) + 1,
			DirectReferenceSampleIDs: refs,
		})
		sbgp.Entries = append(sbgp.Entries, isobmff.SampleToGroupEntry{
			SampleCount:           1,
			GroupDescriptionIndex: uint32(len(sgpd.ReferenceEntries)),
		})
	}
	return sbgp, sgpd
}

// buildMoov wraps the tracks into a moov box.
func (tb *trackBuilder) buildMoov() *isobmff.MovieBox {
	var movieDuration uint64
	for _, t := range tb.tracks {
		if tkhd := t.trak.Header(); tkhd != nil && tkhd.Duration > movieDuration {
			movieDuration = tkhd.Duration
		}
	}
	moov := &isobmff.MovieBox{}
	moov.Children = append(moov.Children, &isobmff.MovieHeaderBox{
		Timescale:   movieTimescale,
		Duration:    movieDuration,
		NextTrackID: tb.nextTrackID,
	})
	for _, t := range tb.tracks {
		moov.Children = append(moov.Children, t.trak)
	}
	return moov
}
