package avcparser

import (
	"io"

	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/codec"
	"github.com/bugVanisher/heif/media/codec/nal"
)

func init() {
	codec.RegisterParser("avc", func(data []byte) (codec.Parser, error) {
		return New(data)
	})
}

// Parser walks an AVC Annex-B stream and yields access units in decode
// order, with reference lists resolved through the DPB.
type Parser struct {
	units  [][]byte
	cursor int

	spsMap map[uint32]*SPS
	ppsMap map[uint32]*PPS

	// Parameter-set NAL units active for the next emitted AU.
	activeSps map[uint32][]byte
	activePps map[uint32][]byte

	dpb         *DPB
	poc         pocState
	decodeIndex uint32

	pendingVcl    [][]byte
	pendingSlices []*SliceHeader
}

// New builds a parser over a complete Annex-B stream.
func New(data []byte) (*Parser, error) {
	units, err := nal.SplitAnnexB(data)
	if err != nil {
		return nil, err
	}
	return &Parser{
		units:     units,
		spsMap:    map[uint32]*SPS{},
		ppsMap:    map[uint32]*PPS{},
		activeSps: map[uint32][]byte{},
		activePps: map[uint32][]byte{},
		dpb:       NewDPB(),
	}, nil
}

// NewFromUnits builds a parser over already-split NAL unit bodies, as
// stored length-prefixed in a sample or an item.
func NewFromUnits(units [][]byte) *Parser {
	return &Parser{
		units:     units,
		spsMap:    map[uint32]*SPS{},
		ppsMap:    map[uint32]*PPS{},
		activeSps: map[uint32][]byte{},
		activePps: map[uint32][]byte{},
		dpb:       NewDPB(),
	}
}

func (p *Parser) lookupSps(id uint32) *SPS {
	return p.spsMap[id]
}

func (p *Parser) lookupPps(id uint32) *PPS {
	return p.ppsMap[id]
}

// isNewAccessUnit applies the slice-header comparison rules that promote a
// VCL NAL unit to a new access unit.
func isNewAccessUnit(prev, curr *SliceHeader, sps *SPS) bool {
	if curr.FirstMbInSlice == 0 {
		// A slice restarting at the first macroblock opens a picture unless
		// it is a redundant coding of the same one.
		if curr.RedundantPicCnt == 0 {
			return true
		}
	}
	if prev.FrameNum != curr.FrameNum {
		return true
	}
	if prev.NalRefIdc != curr.NalRefIdc && (prev.NalRefIdc == 0 || curr.NalRefIdc == 0) {
		return true
	}
	if (prev.NalUnitType == 5) != (curr.NalUnitType == 5) {
		return true
	}
	if prev.NalUnitType == 5 && curr.NalUnitType == 5 && prev.IdrPicID != curr.IdrPicID {
		return true
	}
	if sps.PicOrderCntType == 0 {
		if prev.PicOrderCntLsb != curr.PicOrderCntLsb ||
			prev.DeltaPicOrderCntBottom != curr.DeltaPicOrderCntBottom {
			return true
		}
	}
	if sps.PicOrderCntType == 1 {
		if prev.DeltaPicOrderCnt[0] != curr.DeltaPicOrderCnt[0] ||
			prev.DeltaPicOrderCnt[1] != curr.DeltaPicOrderCnt[1] {
			return true
		}
	}
	return false
}

// NextAccessUnit returns the next access unit, or io.EOF.
func (p *Parser) NextAccessUnit() (*codec.AccessUnit, error) {
	for p.cursor < len(p.units) {
		unit := p.units[p.cursor]
		hdr, err := nal.ParseAvcHeader(unit)
		if err != nil {
			return nil, err
		}
		switch {
		case hdr.NalUnitType == nal.AvcNalSps:
			rbsp := nal.ToRBSP(unit[1:])
			sps, err := ParseSPS(rbsp)
			if err != nil {
				return nil, errs.Wrapf(err, "avc sps")
			}
			p.spsMap[sps.SpsID] = sps
			p.activeSps[sps.SpsID] = unit
			p.cursor++
		case hdr.NalUnitType == nal.AvcNalPps:
			rbsp := nal.ToRBSP(unit[1:])
			pps, err := ParsePPS(rbsp, p.lookupSps)
			if err != nil {
				return nil, errs.Wrapf(err, "avc pps")
			}
			p.ppsMap[pps.PpsID] = pps
			p.activePps[pps.PpsID] = unit
			p.cursor++
		case hdr.IsVcl():
			if hdr.NalUnitType == nal.AvcNalSlicePartA ||
				hdr.NalUnitType == nal.AvcNalSlicePartB ||
				hdr.NalUnitType == nal.AvcNalSlicePartC {
				return nil, errs.Wrapf(errs.ErrUnsupportedFeature, "avc slice data partitioning")
			}
			rbsp := nal.ToRBSP(unit[1:])
			sh, err := ParseSliceHeader(rbsp, hdr.NalUnitType, hdr.NalRefIdc, p.lookupSps, p.lookupPps)
			if err != nil {
				return nil, errs.Wrapf(err, "avc slice header")
			}
			if len(p.pendingSlices) >= 1 {
				prev := p.pendingSlices[len(p.pendingSlices)-1]
				sps := p.spsMap[sh.SpsID]
				if isNewAccessUnit(prev, sh, sps) {
					au, err := p.finishAccessUnit()
					if err != nil {
						return nil, err
					}
					p.pendingVcl = append(p.pendingVcl[:0:0], unit)
					p.pendingSlices = append(p.pendingSlices[:0:0], sh)
					p.cursor++
					return au, nil
				}
			}
			p.pendingVcl = append(p.pendingVcl, unit)
			p.pendingSlices = append(p.pendingSlices, sh)
			p.cursor++
		default:
			// SEI, AUD and the rest do not contribute to the item model.
			log.Debug().Uint8("nal_type", hdr.NalUnitType).Msg("skipping non-VCL AVC NAL unit")
			p.cursor++
		}
	}
	if len(p.pendingSlices) > 0 {
		return p.finishAccessUnit()
	}
	return nil, io.EOF
}

// finishAccessUnit turns the accumulated slices into an AccessUnit: POC
// derivation, DPB marking, and reference-list resolution.
func (p *Parser) finishAccessUnit() (*codec.AccessUnit, error) {
	first := p.pendingSlices[0]
	sps := p.spsMap[first.SpsID]
	if sps == nil {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "access unit without active sps")
	}

	if first.IsIdr() {
		if first.NoOutputOfPriorPics {
			p.dpb.Reset()
		} else {
			for i := range p.dpb.Pictures {
				p.dpb.Pictures[i].RefType = RefNone
			}
		}
	}

	poc := p.poc.derivePoc(sps, first)
	maxFrameNum := sps.MaxFrameNum()
	p.dpb.UpdatePicNums(first.FrameNum, maxFrameNum)

	curr := Picture{
		DecodeIndex: p.decodeIndex,
		Poc:         poc,
		Width:       sps.Width(),
		Height:      sps.Height(),
		FrameNum:    first.FrameNum,
		PicNum:      int32(first.FrameNum),
		ForOutput:   true,
		IsIdr:       first.IsIdr(),
	}

	// Resolve reference lists before marking mutates the DPB.
	refIndices, err := p.resolveReferences(first, sps, poc)
	if err != nil {
		return nil, err
	}

	if first.NalRefIdc != 0 {
		curr.RefType = RefShortTerm
		if first.IsIdr() && first.LongTermReferenceFlag {
			curr.RefType = RefLongTerm
			curr.LongTermFrameIdx = 0
			curr.LongTermPicNum = 0
		}
		if first.AdaptiveRefPicMarking {
			currPicNum := int32(first.FrameNum)
			maxPicNum := int32(maxFrameNum)
			if err := p.dpb.ApplyMmco(first.MmcoOps, &curr, currPicNum, maxPicNum); err != nil {
				return nil, err
			}
		} else if !first.IsIdr() {
			p.dpb.SlidingWindow(sps.MaxNumRefFrames)
		}
	}
	p.dpb.Add(curr)

	au := &codec.AccessUnit{
		VclNals:       p.pendingVcl,
		Poc:           poc,
		DecodeIndex:   p.decodeIndex,
		Width:         sps.Width(),
		Height:        sps.Height(),
		RefPicIndices: refIndices,
		IsIdr:         first.IsIdr(),
		IsIntraOnly:   first.SliceType == SliceI || first.SliceType == SliceSI,
		IsOutput:      true,
	}
	for _, unit := range p.activeSps {
		au.SpsNals = append(au.SpsNals, unit)
	}
	for _, unit := range p.activePps {
		au.PpsNals = append(au.PpsNals, unit)
	}

	p.decodeIndex++
	p.pendingVcl = nil
	p.pendingSlices = nil
	return au, nil
}

// resolveReferences builds the reference picture lists for the first slice
// and flattens them into decode indices.
func (p *Parser) resolveReferences(sh *SliceHeader, sps *SPS, poc int32) ([]uint32, error) {
	if sh.SliceType == SliceI || sh.SliceType == SliceSI {
		return nil, nil
	}
	currPicNum := int32(sh.FrameNum)
	maxPicNum := int32(sps.MaxFrameNum())

	var list0, list1 []DpbIndex
	var err error
	if sh.SliceType == SliceB {
		list0, list1 = p.dpb.InitRefListsB(poc)
	} else {
		list0 = p.dpb.InitRefListP()
	}
	list0, err = p.dpb.ModifyRefList(list0, sh.RefPicListModificationL0,
		currPicNum, maxPicNum, int(sh.NumRefIdxL0ActiveMinus1)+1)
	if err != nil {
		return nil, err
	}
	if sh.SliceType == SliceB {
		list1, err = p.dpb.ModifyRefList(list1, sh.RefPicListModificationL1,
			currPicNum, maxPicNum, int(sh.NumRefIdxL1ActiveMinus1)+1)
		if err != nil {
			return nil, err
		}
	}

	seen := map[uint32]bool{}
	var out []uint32
	for _, idx := range append(append([]DpbIndex{}, list0...), list1...) {
		if idx < 0 || int(idx) >= len(p.dpb.Pictures) {
			continue
		}
		decodeIdx := p.dpb.Pictures[idx].DecodeIndex
		if !seen[decodeIdx] {
			seen[decodeIdx] = true
			out = append(out, decodeIdx)
		}
	}
	return out, nil
}
