package reader

import (
	"math"
	"sort"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/isobmff"
)

// TimelineEntry binds one presentation timestamp (media-timescale units
// after movie-to-media conversion) to a sample index. A sample may appear
// under several timestamps across edits.
type TimelineEntry struct {
	Timestamp uint64
	Sample    uint32
}

// timeline composes stts, ctts and the edit list into a monotonic
// presentation map, mirroring edit-list semantics: empty, dwell,
// forward-shift (with fractional-rate scaling) and reverse-shift edits.
type timeline struct {
	movieTimescale uint32
	mediaTimescale uint32

	mediaPts           []mediaEntry // sorted by Pts
	lastSampleDuration uint64
	mediaOffset        int64 // base media decode time for fragment runs

	edits []isobmff.EditEntry

	movieOffset uint64
	result      []TimelineEntry
}

type mediaEntry struct {
	Pts    int64
	Sample uint32
}

func newTimeline(movieTimescale, mediaTimescale uint32) *timeline {
	return &timeline{movieTimescale: movieTimescale, mediaTimescale: mediaTimescale}
}

// loadSampleTimes feeds per-sample DTS deltas and optional composition
// offsets.
func (t *timeline) loadSampleTimes(deltas []uint32, compositionOffsets []int64) error {
	if compositionOffsets != nil && len(compositionOffsets) != len(deltas) {
		return errs.Wrapf(errs.ErrMalformedBitstream,
			"ctts covers %d samples, stts %d", len(compositionOffsets), len(deltas))
	}
	var dts int64
	for i, delta := range deltas {
		pts := dts
		if compositionOffsets != nil {
			pts += compositionOffsets[i]
		}
		t.mediaPts = append(t.mediaPts, mediaEntry{Pts: pts, Sample: uint32(i)})
		dts += int64(delta)
	}
	if len(deltas) > 0 {
		t.lastSampleDuration = uint64(deltas[len(deltas)-1])
	}
	sort.SliceStable(t.mediaPts, func(a, b int) bool {
		return t.mediaPts[a].Pts < t.mediaPts[b].Pts
	})
	return nil
}

// loadTrackRun feeds a fragment run instead of stbl tables.
func (t *timeline) loadTrackRun(run *isobmff.TrackRunBox, baseMediaDecodeTime uint64) {
	var dts int64
	for i, s := range run.Samples {
		t.mediaPts = append(t.mediaPts, mediaEntry{
			Pts:    dts + s.CompositionTimeOffset,
			Sample: uint32(i),
		})
		dts += int64(s.Duration)
	}
	if n := len(run.Samples); n > 0 {
		t.lastSampleDuration = uint64(run.Samples[n-1].Duration)
	}
	t.mediaOffset = int64(baseMediaDecodeTime)
	sort.SliceStable(t.mediaPts, func(a, b int) bool {
		return t.mediaPts[a].Pts < t.mediaPts[b].Pts
	})
}

func (t *timeline) loadEditList(elst *isobmff.EditListBox) {
	if elst != nil {
		t.edits = elst.Entries
	}
}

// fromMovieToMediaTS rescales a movie-timescale duration.
func (t *timeline) fromMovieToMediaTS(movieTS uint64) uint64 {
	if t.movieTimescale == 0 {
		return movieTS
	}
	return movieTS * uint64(t.mediaTimescale) / uint64(t.movieTimescale)
}

// unravel produces the presentation map and the total span.
func (t *timeline) unravel() ([]TimelineEntry, uint64, error) {
	if len(t.mediaPts) == 0 {
		return nil, 0, nil
	}
	if len(t.edits) == 0 {
		for _, e := range t.mediaPts {
			pts := e.Pts + t.mediaOffset
			if pts < 0 {
				continue
			}
			t.result = append(t.result, TimelineEntry{Timestamp: uint64(pts), Sample: e.Sample})
		}
		last := t.mediaPts[len(t.mediaPts)-1]
		t.movieOffset = uint64(last.Pts+t.mediaOffset) + t.lastSampleDuration
		return t.result, t.movieOffset, nil
	}
	for _, entry := range t.edits {
		switch {
		case entry.MediaTime == -1:
			t.applyEmptyEdit(entry)
		case entry.MediaRateInteger == 0 && entry.MediaRateFraction == 0:
			t.applyDwellEdit(entry)
		case entry.MediaTime >= 0 && (entry.MediaRateInteger == 1 ||
			(entry.MediaRateInteger == 0 && entry.MediaRateFraction > 0)):
			t.applyForwardEdit(entry)
		case entry.MediaTime >= 0 && entry.MediaRateInteger == -1:
			t.applyReverseEdit(entry)
		default:
			return nil, 0, errs.Wrapf(errs.ErrUnsupportedFeature,
				"edit rate %d/%d", entry.MediaRateInteger, entry.MediaRateFraction)
		}
	}
	return t.result, t.movieOffset, nil
}

func (t *timeline) emit(sample uint32) {
	t.result = append(t.result, TimelineEntry{Timestamp: t.movieOffset, Sample: sample})
}

func (t *timeline) applyEmptyEdit(entry isobmff.EditEntry) {
	t.movieOffset += t.fromMovieToMediaTS(entry.SegmentDuration)
}

func (t *timeline) applyDwellEdit(entry isobmff.EditEntry) {
	// First media entry at or past the dwell point; an exact hit dwells on
	// that sample, otherwise the preceding one covers the point.
	i := sort.Search(len(t.mediaPts), func(n int) bool {
		return t.mediaPts[n].Pts >= entry.MediaTime
	})
	if i < len(t.mediaPts) && t.mediaPts[i].Pts == entry.MediaTime {
		t.emit(t.mediaPts[i].Sample)
		t.movieOffset += t.fromMovieToMediaTS(entry.SegmentDuration)
		return
	}
	if i > 0 {
		t.emit(t.mediaPts[i-1].Sample)
		t.movieOffset += t.fromMovieToMediaTS(entry.SegmentDuration)
	}
}

// applyForwardEdit walks samples in media order inside the segment window.
// A fractional rate with a zero integer part plays at 32768/fraction, so
// each sample's duration is scaled by that ratio; the fraction is treated
// as unsigned (negative fractions were already rejected).
func (t *timeline) applyForwardEdit(entry isobmff.EditEntry) {
	segmentBegin := entry.MediaTime
	segmentEnd := int64(math.MaxInt64)
	sampleTimeRatio := 1.0
	if entry.MediaRateInteger != 1 {
		sampleTimeRatio = 32768.0 / float64(entry.MediaRateFraction)
	}
	if entry.SegmentDuration != 0 {
		segmentEnd = entry.MediaTime +
			int64(t.fromMovieToMediaTS(uint64(float64(entry.SegmentDuration)/sampleTimeRatio)))
	}
	lastInsertedT1 := segmentBegin

	for i := range t.mediaPts {
		var sampleDuration int64
		if i+1 == len(t.mediaPts) {
			sampleDuration = int64(t.lastSampleDuration)
		} else {
			sampleDuration = t.mediaPts[i+1].Pts - t.mediaPts[i].Pts
		}
		sample := t.mediaPts[i].Sample
		t0 := t.mediaPts[i].Pts + t.mediaOffset
		t1 := t0 + sampleDuration

		if t0 >= segmentBegin {
			if t0 >= segmentEnd {
				continue
			}
			t.movieOffset += uint64(sampleTimeRatio * float64(t0-lastInsertedT1))
			t.emit(sample)
			var inserted int64
			if t1 <= segmentEnd {
				inserted = sampleDuration
				lastInsertedT1 = t1
			} else {
				inserted = segmentEnd - t0
				lastInsertedT1 = segmentEnd
			}
			t.movieOffset += uint64(sampleTimeRatio * float64(inserted))
		} else if t1 > segmentBegin {
			t.movieOffset += uint64(sampleTimeRatio * float64(segmentBegin-lastInsertedT1))
			t.emit(sample)
			var inserted int64
			if t1 >= segmentEnd {
				inserted = segmentEnd - segmentBegin
				lastInsertedT1 = segmentEnd
			} else {
				inserted = t1 - segmentBegin
				lastInsertedT1 = t1
			}
			t.movieOffset += uint64(sampleTimeRatio * float64(inserted))
		}
	}
	if entry.SegmentDuration != 0 && segmentEnd > lastInsertedT1 {
		t.movieOffset += uint64(sampleTimeRatio * float64(segmentEnd-lastInsertedT1))
	}
}

// applyReverseEdit walks samples in reverse media order; movie timestamps
// still increase while the referenced media times decrease.
func (t *timeline) applyReverseEdit(entry isobmff.EditEntry) {
	segmentBegin := entry.MediaTime
	segmentEnd := int64(math.MaxInt64)
	var lastInsertedT0 int64
	if entry.SegmentDuration != 0 {
		segmentEnd = entry.MediaTime
		segmentBegin = entry.MediaTime - int64(t.fromMovieToMediaTS(entry.SegmentDuration))
		lastInsertedT0 = segmentEnd
	} else if len(t.mediaPts) > 0 {
		lastInsertedT0 = t.mediaPts[len(t.mediaPts)-1].Pts + int64(t.lastSampleDuration)
	}

	for i := len(t.mediaPts) - 1; i >= 0; i-- {
		var sampleDuration int64
		if i+1 == len(t.mediaPts) {
			sampleDuration = int64(t.lastSampleDuration)
		} else {
			sampleDuration = t.mediaPts[i+1].Pts - t.mediaPts[i].Pts
		}
		sample := t.mediaPts[i].Sample
		t0 := t.mediaPts[i].Pts + t.mediaOffset
		t1 := t0 + sampleDuration

		if t0 >= segmentBegin {
			if t0 >= segmentEnd {
				continue
			}
			t.emit(sample)
			var inserted int64
			if t1 <= segmentEnd {
				inserted = sampleDuration
				t.movieOffset += uint64(lastInsertedT0 - t1)
			} else {
				inserted = segmentEnd - t0
				t.movieOffset += uint64(lastInsertedT0 - segmentEnd)
			}
			lastInsertedT0 = t0
			t.movieOffset += uint64(inserted)
		} else if t1 > segmentBegin {
			t.emit(sample)
			var inserted int64
			if t1 >= segmentEnd {
				t.movieOffset += uint64(lastInsertedT0 - segmentEnd)
				inserted = segmentEnd - segmentBegin
			} else {
				t.movieOffset += uint64(lastInsertedT0 - t1)
				inserted = t1 - segmentBegin
			}
			lastInsertedT0 = segmentBegin
			t.movieOffset += uint64(inserted)
		}
	}
	if entry.SegmentDuration != 0 && lastInsertedT0 > segmentBegin {
		t.movieOffset += uint64(lastInsertedT0 - segmentBegin)
	}
}
