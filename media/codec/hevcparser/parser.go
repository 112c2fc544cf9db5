package hevcparser

import (
	"io"

	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/codec"
	"github.com/bugVanisher/heif/media/codec/nal"
)

func init() {
	codec.RegisterParser("hevc", func(data []byte) (codec.Parser, error) {
		return New(data)
	})
	codec.RegisterParser("lhevc", func(data []byte) (codec.Parser, error) {
		return New(data)
	})
}

// Parser walks an HEVC or layered-HEVC Annex-B stream and yields access
// units in decode order with reference lists resolved through the RPS
// engine.
type Parser struct {
	units  [][]byte
	cursor int

	vpsMap map[uint32]*VPS
	spsMap map[uint32]*SPS
	ppsMap map[uint32]*PPS

	activeVps map[uint32][]byte
	activeSps map[uint32][]byte
	activePps map[uint32][]byte

	dpb         []DpbPicture
	decodeIndex uint32

	prevTid0Poc int32

	pendingVcl     [][]byte
	pendingHeaders []nal.HevcHeader
	pendingSlices  []*SliceHeader
}

// New builds a parser over a complete Annex-B stream.
func New(data []byte) (*Parser, error) {
	units, err := nal.SplitAnnexB(data)
	if err != nil {
		return nil, err
	}
	return NewFromUnits(units), nil
}

// NewFromUnits builds a parser over already-split NAL unit bodies.
func NewFromUnits(units [][]byte) *Parser {
	return &Parser{
		units:     units,
		vpsMap:    map[uint32]*VPS{},
		spsMap:    map[uint32]*SPS{},
		ppsMap:    map[uint32]*PPS{},
		activeVps: map[uint32][]byte{},
		activeSps: map[uint32][]byte{},
		activePps: map[uint32][]byte{},
	}
}

func (p *Parser) lookupSps(id uint32) *SPS {
	return p.spsMap[id]
}

func (p *Parser) lookupPps(id uint32) *PPS {
	return p.ppsMap[id]
}

func (p *Parser) vpsExtension(spsID uint32) *VpsExtension {
	sps := p.spsMap[spsID]
	if sps == nil {
		return nil
	}
	vps := p.vpsMap[sps.VpsID]
	if vps == nil {
		return nil
	}
	return vps.Extension
}

// activeExtension returns the extension of any parsed VPS; layered
// streams carry exactly one.
func (p *Parser) activeExtension() *VpsExtension {
	for _, vps := range p.vpsMap {
		if vps.Extension != nil {
			return vps.Extension
		}
	}
	return nil
}

// NextAccessUnit returns the next access unit, or io.EOF.
func (p *Parser) NextAccessUnit() (*codec.AccessUnit, error) {
	for p.cursor < len(p.units) {
		unit := p.units[p.cursor]
		hdr, err := nal.ParseHevcHeader(unit)
		if err != nil {
			return nil, err
		}
		switch {
		case hdr.NalUnitType == nal.HevcNalVps:
			rbsp := nal.ToRBSP(unit[2:])
			vps, err := ParseVPS(rbsp)
			if err != nil {
				return nil, errs.Wrapf(err, "hevc vps")
			}
			if au, emitted := p.closeOnNonVcl(); emitted {
				return au, nil
			}
			p.vpsMap[vps.VpsID] = vps
			p.activeVps[vps.VpsID] = unit
			p.cursor++
		case hdr.NalUnitType == nal.HevcNalSps:
			rbsp := nal.ToRBSP(unit[2:])
			sps, err := ParseSPS(rbsp, hdr.NuhLayerID)
			if err != nil {
				return nil, errs.Wrapf(err, "hevc sps")
			}
			if au, emitted := p.closeOnNonVcl(); emitted {
				return au, nil
			}
			if sps.MultiLayerExt {
				if vps := p.vpsMap[sps.VpsID]; vps != nil && vps.Extension != nil {
					idx := vps.Extension.RepFormatIdx[0]
					if layerIdx := vps.Extension.LayerOrderIdx(hdr.NuhLayerID); layerIdx >= 0 {
						idx = vps.Extension.RepFormatIdx[layerIdx]
					}
					if sps.UpdateRepFormat {
						idx = sps.RepFormatIdx
					}
					if int(idx) < len(vps.Extension.RepFormats) {
						sps.ApplyRepFormat(vps.Extension.RepFormats[idx])
					}
				}
			}
			p.spsMap[sps.SpsID] = sps
			p.activeSps[sps.SpsID] = unit
			p.cursor++
		case hdr.NalUnitType == nal.HevcNalPps:
			rbsp := nal.ToRBSP(unit[2:])
			pps, err := ParsePPS(rbsp)
			if err != nil {
				return nil, errs.Wrapf(err, "hevc pps")
			}
			if au, emitted := p.closeOnNonVcl(); emitted {
				return au, nil
			}
			p.ppsMap[pps.PpsID] = pps
			p.activePps[pps.PpsID] = unit
			p.cursor++
		case hdr.NalUnitType == nal.HevcNalAud || hdr.NalUnitType == nal.HevcNalPrefixSei:
			if au, emitted := p.closeOnNonVcl(); emitted {
				return au, nil
			}
			p.cursor++
		case hdr.IsVcl():
			sh, err := ParseSliceHeader(nal.ToRBSP(unit[2:]), hdr,
				p.lookupSps, p.lookupPps, p.activeExtension())
			if err != nil {
				return nil, errs.Wrapf(err, "hevc slice header")
			}
			// The first VCL NAL unit of a picture has
			// first_slice_segment_in_pic_flag set; base-layer slices open a
			// new AU, non-base layers join the current one.
			if len(p.pendingSlices) > 0 && sh.FirstSliceSegmentInPic && hdr.NuhLayerID == 0 {
				au, err := p.finishAccessUnit()
				if err != nil {
					return nil, err
				}
				p.pendingVcl = append(p.pendingVcl[:0:0], unit)
				p.pendingHeaders = append(p.pendingHeaders[:0:0], hdr)
				p.pendingSlices = append(p.pendingSlices[:0:0], sh)
				p.cursor++
				return au, nil
			}
			p.pendingVcl = append(p.pendingVcl, unit)
			p.pendingHeaders = append(p.pendingHeaders, hdr)
			p.pendingSlices = append(p.pendingSlices, sh)
			p.cursor++
		default:
			log.Debug().Uint8("nal_type", hdr.NalUnitType).Msg("skipping non-VCL HEVC NAL unit")
			p.cursor++
		}
	}
	if len(p.pendingSlices) > 0 {
		return p.finishAccessUnit()
	}
	return nil, io.EOF
}

// closeOnNonVcl emits the pending AU when a parameter set, AUD or prefix
// SEI arrives after VCL data.
func (p *Parser) closeOnNonVcl() (*codec.AccessUnit, bool) {
	if len(p.pendingSlices) == 0 {
		return nil, false
	}
	au, err := p.finishAccessUnit()
	if err != nil {
		// Surface the failure on the next pull.
		p.pendingSlices = nil
		p.pendingVcl = nil
		p.pendingHeaders = nil
		return nil, false
	}
	return au, true
}

// derivePoc runs the HEVC POC MSB wrap rule against prevTid0Poc.
func (p *Parser) derivePoc(sh *SliceHeader, sps *SPS) int32 {
	if sh.IsIdr() {
		return 0
	}
	maxPocLsb := sps.MaxPicOrderCntLsb()
	prevLsb := p.prevTid0Poc % maxPocLsb
	prevMsb := p.prevTid0Poc - prevLsb
	lsb := int32(sh.PicOrderCntLsb)
	var msb int32
	switch {
	case lsb < prevLsb && prevLsb-lsb >= maxPocLsb/2:
		msb = prevMsb + maxPocLsb
	case lsb > prevLsb && lsb-prevLsb > maxPocLsb/2:
		msb = prevMsb - maxPocLsb
	default:
		msb = prevMsb
	}
	if sh.IsBla() {
		msb = 0
	}
	return msb + lsb
}

func (p *Parser) finishAccessUnit() (*codec.AccessUnit, error) {
	first := p.pendingSlices[0]
	firstHdr := p.pendingHeaders[0]
	sps := p.spsMap[first.SpsID]
	if sps == nil {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "access unit without active sps")
	}

	if first.IsIrap() && first.NoOutputOfPriorPics {
		p.dpb = p.dpb[:0]
	}

	poc := p.derivePoc(first, sps)
	if firstHdr.TemporalIDPlus1 == 1 &&
		firstHdr.NalUnitType != nal.HevcNalRadlN && firstHdr.NalUnitType != nal.HevcNalRadlR &&
		firstHdr.NalUnitType != nal.HevcNalRaslN && firstHdr.NalUnitType != nal.HevcNalRaslR {
		p.prevTid0Poc = poc
	}

	var refIndices []uint32
	if first.IsIdr() {
		for i := range p.dpb {
			p.dpb[i].Referenced = false
		}
	} else {
		sets := DeriveRefPicSets(first, sps, poc, p.dpb)
		// Everything outside the derived sets leaves the reference state.
		inSets := map[int]bool{}
		for _, group := range [][]int{sets.StCurrBefore, sets.StCurrAfter, sets.StFoll, sets.LtCurr, sets.LtFoll} {
			for _, idx := range group {
				inSets[idx] = true
			}
		}
		for i := range p.dpb {
			if !inSets[i] {
				p.dpb[i].Referenced = false
			}
		}
		for _, idx := range append(append([]int{}, sets.LtCurr...), sets.LtFoll...) {
			p.dpb[idx].LongTerm = true
		}
		list0, list1 := sets.BuildRefLists(first)
		seen := map[uint32]bool{}
		for _, idx := range append(append([]int{}, list0...), list1...) {
			if idx < 0 || idx >= len(p.dpb) {
				continue
			}
			di := p.dpb[idx].DecodeIndex
			if !seen[di] {
				seen[di] = true
				refIndices = append(refIndices, di)
			}
		}
	}

	p.dpb = append(p.dpb, DpbPicture{
		DecodeIndex: p.decodeIndex,
		Poc:         poc,
		Referenced:  true,
	})

	au := &codec.AccessUnit{
		VclNals:       p.pendingVcl,
		Poc:           poc,
		DecodeIndex:   p.decodeIndex,
		Width:         sps.Width(),
		Height:        sps.Height(),
		RefPicIndices: refIndices,
		IsIdr:         first.IsIdr(),
		IsCra:         firstHdr.NalUnitType == nal.HevcNalCra,
		IsBla:         first.IsBla(),
		IsIntraOnly:   first.SliceType == SliceI,
		IsOutput:      first.PicOutputFlag,
	}
	for _, unit := range p.activeVps {
		au.VpsNals = append(au.VpsNals, unit)
	}
	for _, unit := range p.activeSps {
		au.SpsNals = append(au.SpsNals, unit)
	}
	for _, unit := range p.activePps {
		au.PpsNals = append(au.PpsNals, unit)
	}

	p.decodeIndex++
	p.pendingVcl = nil
	p.pendingHeaders = nil
	p.pendingSlices = nil
	return au, nil
}
