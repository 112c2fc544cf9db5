package writer

import (
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/codec"
	"github.com/bugVanisher/heif/media/isobmff"
	"github.com/bugVanisher/heif/utils/bits/pio"

	// Parser registrations for bitstream import.
	_ "github.com/bugVanisher/heif/media/codec/avcparser"
	_ "github.com/bugVanisher/heif/media/codec/hevcparser"
)

// mediaSample is one imported access unit, stored length-prefixed.
type mediaSample struct {
	Data     []byte
	Sync     bool
	RefIndices []uint32
}

// mediaSource is a parsed elementary stream ready for placement.
type mediaSource struct {
	CodeType string
	Width    uint32
	Height   uint32

	VpsNals [][]byte
	SpsNals [][]byte
	PpsNals [][]byte

	Samples []mediaSample
}

// importBitstream parses an Annex-B file through the codec layer and
// length-prefixes every access unit (4-byte NAL lengths).
func importBitstream(codeType, path string) (*mediaSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrIo, "read bitstream %s: %v", path, err)
	}
	parser, err := codec.NewParser(codeType, data)
	if err != nil {
		return nil, err
	}
	src := &mediaSource{CodeType: codeType}
	for {
		au, err := parser.NextAccessUnit()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrapf(err, "parse %s", path)
		}
		if src.Width == 0 {
			src.Width, src.Height = au.Width, au.Height
		}
		if len(au.VpsNals) > 0 {
			src.VpsNals = au.VpsNals
		}
		if len(au.SpsNals) > 0 {
			src.SpsNals = au.SpsNals
		}
		if len(au.PpsNals) > 0 {
			src.PpsNals = au.PpsNals
		}
		var sample []byte
		for _, unit := range au.VclNals {
			var lenField [4]byte
			pio.PutU32BE(lenField[:], uint32(len(unit)))
			sample = append(sample, lenField[:]...)
			sample = append(sample, unit...)
		}
		src.Samples = append(src.Samples, mediaSample{
			Data:       sample,
			Sync:       au.IsIdr || au.IsBla || au.IsCra || au.IsIntraOnly,
			RefIndices: au.RefPicIndices,
		})
	}
	if len(src.Samples) == 0 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "%s holds no access units", path)
	}
	log.Debug().Str("path", path).Int("samples", len(src.Samples)).
		Uint32("width", src.Width).Uint32("height", src.Height).Msg("bitstream imported")
	return src, nil
}

// configBox builds the decoder configuration box for the source.
func (src *mediaSource) configBox() (isobmff.Box, error) {
	family, err := codec.FamilyOf(src.CodeType)
	if err != nil {
		return nil, err
	}
	switch family {
	case "avc":
		rec := isobmff.AVCDecoderConfRecord{
			ConfigurationVersion: 1,
			LengthSizeMinusOne:   3,
		}
		if len(src.SpsNals) == 0 || len(src.PpsNals) == 0 {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "avc stream without parameter sets")
		}
		sps := src.SpsNals[0]
		if len(sps) < 4 {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "avc sps of %d bytes", len(sps))
		}
		rec.AVCProfileIndication = sps[1]
		rec.ProfileCompatibility = sps[2]
		rec.AVCLevelIndication = sps[3]
		rec.SPS = src.SpsNals
		rec.PPS = src.PpsNals
		return &isobmff.AvcConfigurationBox{Record: rec}, nil
	case "hevc":
		rec := isobmff.HEVCDecoderConfRecord{
			ConfigurationVersion: 1,
			LengthSizeMinusOne:   3,
			NumTemporalLayers:    1,
			TemporalIdNested:     1,
		}
		fillHevcProfileFromSps(&rec, src.SpsNals)
		rec.NalArrays = nalArrays(src)
		return &isobmff.HevcConfigurationBox{Record: rec}, nil
	case "lhevc":
		rec := isobmff.LHEVCDecoderConfRecord{
			ConfigurationVersion: 1,
			LengthSizeMinusOne:   3,
			NumTemporalLayers:    1,
			TemporalIdNested:     1,
		}
		rec.NalArrays = nalArrays(src)
		return &isobmff.LhevcConfigurationBox{Record: rec}, nil
	}
	return nil, errs.Wrapf(errs.ErrUnknownCodeType, "%q", src.CodeType)
}

func nalArrays(src *mediaSource) []isobmff.NalArray {
	var arrays []isobmff.NalArray
	if len(src.VpsNals) > 0 {
		arrays = append(arrays, isobmff.NalArray{ArrayCompleteness: true, NalUnitType: 32, NalUnits: src.VpsNals})
	}
	if len(src.SpsNals) > 0 {
		arrays = append(arrays, isobmff.NalArray{ArrayCompleteness: true, NalUnitType: 33, NalUnits: src.SpsNals})
	}
	if len(src.PpsNals) > 0 {
		arrays = append(arrays, isobmff.NalArray{ArrayCompleteness: true, NalUnitType: 34, NalUnits: src.PpsNals})
	}
	return arrays
}

// fillHevcProfileFromSps lifts the general PTL fields out of the raw SPS
// NAL unit (bytes 3.. after the two-byte NAL header and the
// sps_video_parameter_set_id/max_sub_layers/nesting byte).
func fillHevcProfileFromSps(rec *isobmff.HEVCDecoderConfRecord, spsNals [][]byte) {
	if len(spsNals) == 0 || len(spsNals[0]) < 15 {
		return
	}
	// Skip NAL header (2) + sps_video_parameter_set_id(4) +
	// sps_max_sub_layers_minus1(3) + sps_temporal_id_nesting_flag(1): the
	// PTL block starts byte-aligned at offset 3.
	ptl := spsNals[0][3:]
	rec.GeneralProfileSpace = ptl[0] >> 6
	rec.GeneralTierFlag = ptl[0] >> 5 & 1
	rec.GeneralProfileIdc = ptl[0] & 0x1f
	rec.GeneralProfileCompatibilityFlags = pio.U32BE(ptl[1:])
	rec.GeneralConstraintIndicatorFlags = uint64(pio.U32BE(ptl[5:]))<<16 | uint64(pio.U16BE(ptl[9:]))
	rec.GeneralLevelIdc = ptl[11]
}
