package reader

import (
	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/isobmff"
)

// Timestamp binds a presentation time in milliseconds to an item (sample
// index for tracks, item id for meta contexts).
type Timestamp struct {
	TimeMS int64
	ItemID uint32
}

// buildTrackContext reconstructs the sample table of one trak.
func (r *Reader) buildTrackContext(trak *isobmff.TrackBox, movieTimescale uint32) (*trackContext, error) {
	ctx := &trackContext{trak: trak, movieTimescale: movieTimescale}
	tkhd := trak.Header()
	if tkhd == nil {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "trak without tkhd")
	}
	ctx.trackID = tkhd.TrackID
	ctx.alternateGroup = tkhd.AlternateGroup
	if hdlr := trak.Handler(); hdlr != nil {
		ctx.handlerType = hdlr.HandlerType
	}
	mdhd := trak.MediaHeader()
	if mdhd == nil {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "trak without mdhd")
	}
	ctx.mediaTimescale = mdhd.Timescale

	stbl := trak.SampleTable()
	if stbl == nil {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "trak without stbl")
	}
	stts := stbl.TimeToSample()
	stsc := stbl.SampleToChunk()
	stsz := stbl.SampleSizes()
	offsets := stbl.ChunkOffsets()
	if stts == nil || stsc == nil || stsz == nil || offsets == nil {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "stbl missing mandatory tables")
	}
	deltas, err := stts.SampleDeltas()
	if err != nil {
		return nil, err
	}
	sampleCount := stsz.SampleCount
	if uint32(len(deltas)) < sampleCount {
		// stts governs timing; clamp to the smaller of the two tables.
		sampleCount = uint32(len(deltas))
		log.Warn().Uint32("stsz", stsz.SampleCount).Int("stts", len(deltas)).
			Msg("sample table length mismatch, clamping")
	}
	var ctsOffsets []int64
	if ctts := stbl.CompositionOffset(); ctts != nil {
		if ctsOffsets, err = ctts.SampleOffsets(); err != nil {
			return nil, err
		}
	}
	chunkCount := uint32(len(offsets.Offsets))

	// Per-chunk cursor so consecutive samples of one chunk stack up.
	chunkPos := make([]uint64, chunkCount)
	for i := range chunkPos {
		chunkPos[i] = offsets.Offsets[i]
	}
	for i := uint32(0); i < sampleCount; i++ {
		loc, err := stsc.Locate(i, chunkCount)
		if err != nil {
			return nil, err
		}
		if loc.ChunkIndex == 0 || loc.ChunkIndex > chunkCount {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "sample %d in chunk %d of %d", i, loc.ChunkIndex, chunkCount)
		}
		size, err := stsz.SizeOf(i)
		if err != nil {
			return nil, err
		}
		s := Sample{
			Offset:                 chunkPos[loc.ChunkIndex-1],
			Size:                   size,
			SampleDescriptionIndex: loc.SampleDescriptionIndex,
			Duration:               deltas[i],
			Sync:                   true,
		}
		if ctsOffsets != nil && int(i) < len(ctsOffsets) {
			s.CompositionOffset = ctsOffsets[i]
		}
		chunkPos[loc.ChunkIndex-1] += uint64(size)
		ctx.samples = append(ctx.samples, s)
	}
	if stss := stbl.SyncSamples(); stss != nil {
		for i := range ctx.samples {
			ctx.samples[i].Sync = false
		}
		for _, num := range stss.SampleNumbers {
			if num >= 1 && int(num) <= len(ctx.samples) {
				ctx.samples[num-1].Sync = true
			}
		}
	}
	if err := r.bindSampleGroups(ctx, stbl); err != nil {
		return nil, err
	}

	tl := newTimeline(movieTimescale, ctx.mediaTimescale)
	if err := tl.loadSampleTimes(deltas[:sampleCount], ctsOffsets); err != nil {
		return nil, err
	}
	tl.loadEditList(trak.EditList())
	entries, span, err := tl.unravel()
	if err != nil {
		return nil, err
	}
	ctx.timeline = entries
	ctx.span = span
	return ctx, nil
}

// bindSampleGroups resolves the 'refs' grouping into per-sample decode
// dependencies.
func (r *Reader) bindSampleGroups(ctx *trackContext, stbl *isobmff.SampleTableBox) error {
	var refs *isobmff.SampleGroupDescriptionBox
	for _, sgpd := range stbl.SampleGroupDescriptions() {
		if sgpd.GroupingType == "refs" {
			refs = sgpd
		}
	}
	if refs == nil {
		return nil
	}
	for _, sbgp := range stbl.SampleToGroups() {
		if sbgp.GroupingType != "refs" {
			continue
		}
		indices, err := sbgp.SampleGroupIndices()
		if err != nil {
			return err
		}
		for i, groupIdx := range indices {
			if i >= len(ctx.samples) || groupIdx == 0 {
				continue
			}
			if int(groupIdx) > len(refs.ReferenceEntries) {
				return errs.Wrapf(errs.ErrMalformedBitstream, "refs group index %d of %d", groupIdx, len(refs.ReferenceEntries))
			}
			entry := refs.ReferenceEntries[groupIdx-1]
			var deps []uint32
			for _, id := range entry.DirectReferenceSampleIDs {
				// Sample ids in the refs grouping are 1-based sample numbers.
				if id >= 1 {
					deps = append(deps, id-1)
				}
			}
			ctx.samples[i].DecodeDependencies = deps
		}
	}
	return nil
}

// applyMovieFragments appends samples reconstructed from single track
// runs to their tracks.
func (r *Reader) applyMovieFragments(moofs []*isobmff.ContainerBox) {
	for _, moof := range moofs {
		for _, child := range moof.Children {
			traf, ok := child.(*isobmff.ContainerBox)
			if !ok || traf.Tag != isobmff.Type("traf") {
				continue
			}
			tfhd, _ := isobmff.FindChild(traf.Children, "tfhd").(*isobmff.TrackFragmentHeaderBox)
			trun, _ := isobmff.FindChild(traf.Children, "trun").(*isobmff.TrackRunBox)
			if tfhd == nil || trun == nil {
				continue
			}
			var ctx *trackContext
			for _, t := range r.tracks {
				if t.trackID == tfhd.TrackID {
					ctx = t
				}
			}
			if ctx == nil {
				log.Warn().Uint32("track_id", tfhd.TrackID).Msg("fragment for unknown track")
				continue
			}
			offset := tfhd.BaseDataOffset
			if trun.Flags&isobmff.TrunDataOffsetPresent != 0 {
				offset += uint64(int64(trun.DataOffset))
			}
			var baseDecodeTime uint64
			if tfdt, ok := isobmff.FindChild(traf.Children, "tfdt").(*isobmff.TrackFragmentBaseMediaDecodeTimeBox); ok {
				baseDecodeTime = tfdt.BaseMediaDecodeTime
			}
			tl := newTimeline(ctx.movieTimescale, ctx.mediaTimescale)
			tl.loadTrackRun(trun, baseDecodeTime)
			entries, span, err := tl.unravel()
			if err != nil {
				log.Warn().Err(err).Msg("fragment timeline")
				continue
			}
			base := uint32(len(ctx.samples))
			for _, s := range trun.Samples {
				duration := s.Duration
				if duration == 0 {
					duration = tfhd.DefaultSampleDuration
				}
				size := s.Size
				if size == 0 {
					size = tfhd.DefaultSampleSize
				}
				ctx.samples = append(ctx.samples, Sample{
					Offset:                 offset,
					Size:                   size,
					SampleDescriptionIndex: 1,
					Duration:               duration,
					CompositionOffset:      s.CompositionTimeOffset,
					Sync:                   true,
				})
				offset += uint64(size)
			}
			for _, e := range entries {
				ctx.timeline = append(ctx.timeline, TimelineEntry{Timestamp: e.Timestamp, Sample: base + e.Sample})
			}
			ctx.span = span
		}
	}
}

// sampleEntryOf resolves a sample's stsd entry.
func (t *trackContext) sampleEntryOf(sampleIdx uint32) (isobmff.Box, error) {
	if int(sampleIdx) >= len(t.samples) {
		return nil, errs.ErrInvalidItemID
	}
	stbl := t.trak.SampleTable()
	stsd := stbl.SampleDescription()
	if stsd == nil {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "stbl without stsd")
	}
	return stsd.Entry(t.samples[sampleIdx].SampleDescriptionIndex)
}

// trackItemList filters samples per the requested pseudo item type.
func (r *Reader) trackItemList(t *trackContext, itemType string) ([]uint32, error) {
	var out []uint32
	f := t.features()
	switch itemType {
	case "master":
		if !f.IsMasterImageSequence {
			return nil, nil
		}
		for i := range t.samples {
			out = append(out, uint32(i))
		}
	case "thumb", "thmb":
		if !f.IsThumbnailImageSequence {
			return nil, nil
		}
		for i := range t.samples {
			out = append(out, uint32(i))
		}
	case "aux", "auxl":
		if !f.IsAuxiliaryImageSequence {
			return nil, nil
		}
		for i := range t.samples {
			out = append(out, uint32(i))
		}
	case "sync":
		for i := range t.samples {
			if t.samples[i].Sync {
				out = append(out, uint32(i))
			}
		}
	default:
		return nil, errs.Wrapf(errs.ErrNotApplicable, "track item type %q", itemType)
	}
	return out, nil
}

// DisplayWidth reports the tkhd width of a track context in pixels.
func (r *Reader) DisplayWidth(ctx ContextID) (uint32, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	t := r.trackByID(ctx)
	if t == nil {
		if r.metaByID(ctx) != nil {
			return 0, errs.ErrNotApplicable
		}
		return 0, errs.ErrInvalidContext
	}
	return t.trak.Header().Width >> 16, nil
}

// DisplayHeight reports the tkhd height of a track context in pixels.
func (r *Reader) DisplayHeight(ctx ContextID) (uint32, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	t := r.trackByID(ctx)
	if t == nil {
		if r.metaByID(ctx) != nil {
			return 0, errs.ErrNotApplicable
		}
		return 0, errs.ErrInvalidContext
	}
	return t.trak.Header().Height >> 16, nil
}

// PlaybackDurationMS reports a context's presentation span in
// milliseconds.
func (r *Reader) PlaybackDurationMS(ctx ContextID) (uint64, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	if t := r.trackByID(ctx); t != nil {
		if t.mediaTimescale == 0 {
			return 0, nil
		}
		return t.span * 1000 / uint64(t.mediaTimescale), nil
	}
	if m := r.metaByID(ctx); m != nil {
		if m.forcedFps <= 0 {
			return 0, errs.ErrNotApplicable
		}
		masters, err := r.metaItemList(m, "master")
		if err != nil {
			return 0, err
		}
		return uint64(float64(len(masters)) * 1000.0 / m.forcedFps), nil
	}
	return 0, errs.ErrInvalidContext
}

// Alternates lists the other tracks of this track's alternate group.
func (r *Reader) Alternates(ctx ContextID) ([]ContextID, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	t := r.trackByID(ctx)
	if t == nil {
		return nil, errs.ErrInvalidContext
	}
	var out []ContextID
	if t.alternateGroup == 0 {
		return nil, nil
	}
	for _, other := range r.tracks {
		if other.id != t.id && other.alternateGroup == t.alternateGroup {
			out = append(out, other.id)
		}
	}
	return out, nil
}

// ItemTimestamps lists the presentation map of a context in milliseconds,
// timestamp order.
func (r *Reader) ItemTimestamps(ctx ContextID) ([]Timestamp, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if t := r.trackByID(ctx); t != nil {
		out := make([]Timestamp, 0, len(t.timeline))
		for _, e := range t.timeline {
			ms := int64(e.Timestamp)
			if t.mediaTimescale != 0 {
				ms = int64(e.Timestamp * 1000 / uint64(t.mediaTimescale))
			}
			out = append(out, Timestamp{TimeMS: ms, ItemID: e.Sample})
		}
		return out, nil
	}
	if m := r.metaByID(ctx); m != nil {
		if m.forcedFps <= 0 {
			return nil, errs.ErrNotApplicable
		}
		masters, err := r.metaItemList(m, "master")
		if err != nil {
			return nil, err
		}
		out := make([]Timestamp, 0, len(masters))
		for i, id := range masters {
			out = append(out, Timestamp{
				TimeMS: int64(float64(i) * 1000.0 / m.forcedFps),
				ItemID: id,
			})
		}
		return out, nil
	}
	return nil, errs.ErrInvalidContext
}

// TimestampsOfItem lists every presentation time of one item; an item can
// surface several times across edits.
func (r *Reader) TimestampsOfItem(ctx ContextID, itemID uint32) ([]int64, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if t := r.trackByID(ctx); t != nil {
		if int(itemID) >= len(t.samples) {
			return nil, errs.ErrInvalidItemID
		}
		var out []int64
		for _, e := range t.timeline {
			if e.Sample == itemID {
				ms := int64(e.Timestamp)
				if t.mediaTimescale != 0 {
					ms = int64(e.Timestamp * 1000 / uint64(t.mediaTimescale))
				}
				out = append(out, ms)
			}
		}
		return out, nil
	}
	if m := r.metaByID(ctx); m != nil {
		all, err := r.ItemTimestamps(ctx)
		if err != nil {
			return nil, err
		}
		var out []int64
		for _, ts := range all {
			if ts.ItemID == itemID {
				out = append(out, ts.TimeMS)
			}
		}
		return out, nil
	}
	return nil, errs.ErrInvalidContext
}

// ItemDecodeDependencies lists what must be decoded before an item: the
// 'refs' sample grouping for tracks; for meta items, the item's 'base'
// references followed by the item itself, or the item alone.
func (r *Reader) ItemDecodeDependencies(ctx ContextID, itemID uint32) ([]uint32, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if t := r.trackByID(ctx); t != nil {
		if int(itemID) >= len(t.samples) {
			return nil, errs.ErrInvalidItemID
		}
		deps := t.samples[itemID].DecodeDependencies
		if len(deps) == 0 {
			return []uint32{itemID}, nil
		}
		return deps, nil
	}
	if m := r.metaByID(ctx); m != nil {
		if m.meta.ItemInfo() == nil || m.meta.ItemInfo().EntryByID(itemID) == nil {
			return nil, errs.ErrInvalidItemID
		}
		if iref := m.meta.ItemReference(); iref != nil {
			if base := iref.ReferencesFrom(itemID, "base"); len(base) > 0 {
				return append(base, itemID), nil
			}
		}
		return []uint32{itemID}, nil
	}
	return nil, errs.ErrInvalidContext
}
