package reader

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/heif/media/isobmff"
)

func uniformDeltas(count int, delta uint32) []uint32 {
	out := make([]uint32, count)
	for i := range out {
		out[i] = delta
	}
	return out
}

func TestTimelineNoEditList(t *testing.T) {
	tl := newTimeline(1000, 1000)
	require.Nil(t, tl.loadSampleTimes(uniformDeltas(4, 100), nil))
	entries, span, err := tl.unravel()
	require.Nil(t, err)
	require.Equal(t, uint64(400), span)
	require.Equal(t, 4, len(entries))
	for i, e := range entries {
		require.Equal(t, uint64(i*100), e.Timestamp)
		require.Equal(t, uint32(i), e.Sample)
	}
}

func TestTimelineCompositionOffsets(t *testing.T) {
	tl := newTimeline(1000, 1000)
	// Decode order 0,1,2 presents as 0,200,100.
	require.Nil(t, tl.loadSampleTimes(uniformDeltas(3, 100), []int64{0, 200, 100}))
	entries, _, err := tl.unravel()
	require.Nil(t, err)
	require.Equal(t, uint32(0), entries[0].Sample)
	require.Equal(t, uint32(2), entries[1].Sample)
	require.Equal(t, uint32(1), entries[2].Sample)
	// Strictly increasing timestamps.
	for i := 1; i < len(entries); i++ {
		require.Greater(t, entries[i].Timestamp, entries[i-1].Timestamp)
	}
}

// An empty edit followed by a forward edit: media window [200, 500) lands
// at movie offset 500, yielding {500:2, 600:3, 700:4} and a span of 800.
func TestTimelineEmptyThenForwardEdit(t *testing.T) {
	tl := newTimeline(1000, 1000)
	require.Nil(t, tl.loadSampleTimes(uniformDeltas(10, 100), nil))
	tl.loadEditList(&isobmff.EditListBox{Entries: []isobmff.EditEntry{
		{SegmentDuration: 500, MediaTime: -1, MediaRateInteger: 1},
		{SegmentDuration: 300, MediaTime: 200, MediaRateInteger: 1},
	}})
	entries, span, err := tl.unravel()
	require.Nil(t, err)
	require.Equal(t, uint64(800), span)
	require.Equal(t, []TimelineEntry{
		{Timestamp: 500, Sample: 2},
		{Timestamp: 600, Sample: 3},
		{Timestamp: 700, Sample: 4},
	}, entries)
}

func TestTimelineDwellEdit(t *testing.T) {
	tl := newTimeline(1000, 1000)
	require.Nil(t, tl.loadSampleTimes(uniformDeltas(4, 100), nil))
	tl.loadEditList(&isobmff.EditListBox{Entries: []isobmff.EditEntry{
		{SegmentDuration: 250, MediaTime: 100, MediaRateInteger: 0, MediaRateFraction: 0},
		{SegmentDuration: 200, MediaTime: 200, MediaRateInteger: 1},
	}})
	entries, span, err := tl.unravel()
	require.Nil(t, err)
	require.Equal(t, uint64(450), span)
	require.Equal(t, []TimelineEntry{
		{Timestamp: 0, Sample: 1},
		{Timestamp: 250, Sample: 2},
		{Timestamp: 350, Sample: 3},
	}, entries)
}

// Reverse edits emit decreasing media samples under increasing movie
// timestamps.
func TestTimelineReverseEdit(t *testing.T) {
	tl := newTimeline(1000, 1000)
	require.Nil(t, tl.loadSampleTimes(uniformDeltas(4, 100), nil))
	tl.loadEditList(&isobmff.EditListBox{Entries: []isobmff.EditEntry{
		{SegmentDuration: 400, MediaTime: 400, MediaRateInteger: -1},
	}})
	entries, span, err := tl.unravel()
	require.Nil(t, err)
	require.Equal(t, uint64(400), span)
	require.Equal(t, 4, len(entries))
	prevSample := uint32(4)
	for i := 1; i < len(entries); i++ {
		require.GreaterOrEqual(t, entries[i].Timestamp, entries[i-1].Timestamp)
	}
	for _, e := range entries {
		require.Less(t, e.Sample, prevSample)
		prevSample = e.Sample
	}
}

// The span of an edit list equals the summed segment durations converted
// to the media timescale.
func TestTimelineSpanMatchesSegmentDurations(t *testing.T) {
	tl := newTimeline(1000, 48000)
	require.Nil(t, tl.loadSampleTimes(uniformDeltas(10, 4800), nil))
	tl.loadEditList(&isobmff.EditListBox{Entries: []isobmff.EditEntry{
		{SegmentDuration: 100, MediaTime: -1, MediaRateInteger: 1},
		{SegmentDuration: 400, MediaTime: 0, MediaRateInteger: 1},
	}})
	_, span, err := tl.unravel()
	require.Nil(t, err)
	require.Equal(t, uint64(500*48000/1000), span)
}

func TestTimelineFractionalRateScalesDurations(t *testing.T) {
	tl := newTimeline(1000, 1000)
	require.Nil(t, tl.loadSampleTimes(uniformDeltas(2, 100), nil))
	// Rate (0, 16384) plays at half speed: every sample lasts twice as
	// long in movie time.
	tl.loadEditList(&isobmff.EditListBox{Entries: []isobmff.EditEntry{
		{SegmentDuration: 0, MediaTime: 0, MediaRateInteger: 0, MediaRateFraction: 16384},
	}})
	entries, span, err := tl.unravel()
	require.Nil(t, err)
	require.Equal(t, uint64(400), span)
	require.Equal(t, uint64(0), entries[0].Timestamp)
	require.Equal(t, uint64(200), entries[1].Timestamp)
}
