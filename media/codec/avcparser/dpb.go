package avcparser

import (
	"sort"

	"github.com/bugVanisher/heif/common/errs"
)

// Reference marking states of a DPB picture.
const (
	RefNone = iota
	RefShortTerm
	RefLongTerm
)

// Picture is one decoded-picture-buffer entry. Pictures are addressed by
// their index into the DPB slice, never by pointer.
type Picture struct {
	DecodeIndex uint32
	Poc         int32
	Width       uint32
	Height      uint32

	RefType  int
	FrameNum uint32

	// Derived per current picture.
	PicNum           int32
	LongTermPicNum   uint32
	LongTermFrameIdx uint32

	ForOutput bool
	HasMmco5  bool
	IsIdr     bool
}

// DpbIndex addresses a picture inside the DPB.
type DpbIndex int

// DPB models the AVC decoded picture buffer: reference marking state plus
// the bookkeeping for pic_num derivation.
type DPB struct {
	Pictures []Picture

	maxNumRefFrames      uint32
	maxLongTermFrameIdx  int32 // -1 = no long-term
}

func NewDPB() *DPB {
	return &DPB{maxLongTermFrameIdx: -1}
}

// Reset drops everything, as on an IDR with no_output_of_prior_pics.
func (d *DPB) Reset() {
	d.Pictures = d.Pictures[:0]
	d.maxLongTermFrameIdx = -1
}

func (d *DPB) shortTermCount() int {
	n := 0
	for i := range d.Pictures {
		if d.Pictures[i].RefType == RefShortTerm {
			n++
		}
	}
	return n
}

func (d *DPB) longTermCount() int {
	n := 0
	for i := range d.Pictures {
		if d.Pictures[i].RefType == RefLongTerm {
			n++
		}
	}
	return n
}

// UpdatePicNums recomputes pic_num and long_term_pic_num for every
// reference picture relative to the current frame_num (frame coding only,
// as HEIF image sequences carry frames).
func (d *DPB) UpdatePicNums(currFrameNum uint32, maxFrameNum uint32) {
	for i := range d.Pictures {
		pic := &d.Pictures[i]
		switch pic.RefType {
		case RefShortTerm:
			if pic.FrameNum > currFrameNum {
				pic.PicNum = int32(pic.FrameNum) - int32(maxFrameNum)
			} else {
				pic.PicNum = int32(pic.FrameNum)
			}
		case RefLongTerm:
			pic.LongTermPicNum = pic.LongTermFrameIdx
		}
	}
}

// SlidingWindow marks the short-term picture with the smallest pic_num as
// non-reference when the reference bound is about to be exceeded.
func (d *DPB) SlidingWindow(maxNumRefFrames uint32) {
	if maxNumRefFrames == 0 {
		maxNumRefFrames = 1
	}
	for uint32(d.shortTermCount()+d.longTermCount()) >= maxNumRefFrames {
		victim := -1
		for i := range d.Pictures {
			if d.Pictures[i].RefType != RefShortTerm {
				continue
			}
			if victim < 0 || d.Pictures[i].PicNum < d.Pictures[victim].PicNum {
				victim = i
			}
		}
		if victim < 0 {
			return
		}
		d.Pictures[victim].RefType = RefNone
	}
}

// ApplyMmco executes the adaptive marking commands in order against the
// current picture state. currPicNum is the current picture's pic_num,
// maxPicNum its wrap modulus.
func (d *DPB) ApplyMmco(ops []MmcoOp, curr *Picture, currPicNum int32, maxPicNum int32) error {
	for _, op := range ops {
		switch op.Op {
		case 1:
			picNum := currPicNum - int32(op.DifferenceOfPicNumsM1+1)
			if pic := d.findShortTerm(picNum); pic != nil {
				pic.RefType = RefNone
			}
		case 2:
			if pic := d.findLongTerm(op.LongTermPicNum); pic != nil {
				pic.RefType = RefNone
			}
		case 3:
			picNum := currPicNum - int32(op.DifferenceOfPicNumsM1+1)
			if existing := d.findLongTermByFrameIdx(op.LongTermFrameIdx); existing != nil {
				existing.RefType = RefNone
			}
			if pic := d.findShortTerm(picNum); pic != nil {
				pic.RefType = RefLongTerm
				pic.LongTermFrameIdx = op.LongTermFrameIdx
				pic.LongTermPicNum = op.LongTermFrameIdx
			}
		case 4:
			d.maxLongTermFrameIdx = int32(op.MaxLongTermFrameIdxPlus1) - 1
			for i := range d.Pictures {
				pic := &d.Pictures[i]
				if pic.RefType == RefLongTerm && int32(pic.LongTermFrameIdx) > d.maxLongTermFrameIdx {
					pic.RefType = RefNone
				}
			}
		case 5:
			for i := range d.Pictures {
				d.Pictures[i].RefType = RefNone
			}
			d.maxLongTermFrameIdx = -1
			curr.HasMmco5 = true
		case 6:
			if existing := d.findLongTermByFrameIdx(op.LongTermFrameIdx); existing != nil {
				existing.RefType = RefNone
			}
			curr.RefType = RefLongTerm
			curr.LongTermFrameIdx = op.LongTermFrameIdx
			curr.LongTermPicNum = op.LongTermFrameIdx
		default:
			return errs.Wrapf(errs.ErrMalformedBitstream, "mmco op %d", op.Op)
		}
	}
	return nil
}

func (d *DPB) findShortTerm(picNum int32) *Picture {
	for i := range d.Pictures {
		if d.Pictures[i].RefType == RefShortTerm && d.Pictures[i].PicNum == picNum {
			return &d.Pictures[i]
		}
	}
	return nil
}

func (d *DPB) findLongTerm(longTermPicNum uint32) *Picture {
	for i := range d.Pictures {
		if d.Pictures[i].RefType == RefLongTerm && d.Pictures[i].LongTermPicNum == longTermPicNum {
			return &d.Pictures[i]
		}
	}
	return nil
}

func (d *DPB) findLongTermByFrameIdx(frameIdx uint32) *Picture {
	for i := range d.Pictures {
		if d.Pictures[i].RefType == RefLongTerm && d.Pictures[i].LongTermFrameIdx == frameIdx {
			return &d.Pictures[i]
		}
	}
	return nil
}

// Add appends the current picture after marking has run.
func (d *DPB) Add(pic Picture) {
	d.Pictures = append(d.Pictures, pic)
}

// refIndices returns DPB indices of pictures in a given reference state.
func (d *DPB) refIndices(refType int) []DpbIndex {
	var out []DpbIndex
	for i := range d.Pictures {
		if d.Pictures[i].RefType == refType {
			out = append(out, DpbIndex(i))
		}
	}
	return out
}

// InitRefListP builds list 0 for a P/SP slice: short-term by descending
// pic_num, then long-term by ascending long_term_pic_num.
func (d *DPB) InitRefListP() []DpbIndex {
	short := d.refIndices(RefShortTerm)
	long := d.refIndices(RefLongTerm)
	sort.SliceStable(short, func(a, b int) bool {
		return d.Pictures[short[a]].PicNum > d.Pictures[short[b]].PicNum
	})
	sort.SliceStable(long, func(a, b int) bool {
		return d.Pictures[long[a]].LongTermPicNum < d.Pictures[long[b]].LongTermPicNum
	})
	return append(short, long...)
}

// InitRefListsB builds lists 0 and 1 for a B slice around the current POC.
func (d *DPB) InitRefListsB(currPoc int32) (list0, list1 []DpbIndex) {
	short := d.refIndices(RefShortTerm)
	long := d.refIndices(RefLongTerm)

	var before, after []DpbIndex
	for _, idx := range short {
		if d.Pictures[idx].Poc < currPoc {
			before = append(before, idx)
		} else {
			after = append(after, idx)
		}
	}
	sort.SliceStable(before, func(a, b int) bool {
		return d.Pictures[before[a]].Poc > d.Pictures[before[b]].Poc
	})
	sort.SliceStable(after, func(a, b int) bool {
		return d.Pictures[after[a]].Poc < d.Pictures[after[b]].Poc
	})
	sort.SliceStable(long, func(a, b int) bool {
		return d.Pictures[long[a]].LongTermPicNum < d.Pictures[long[b]].LongTermPicNum
	})

	list0 = append(append(append([]DpbIndex{}, before...), after...), long...)
	list1 = append(append(append([]DpbIndex{}, after...), before...), long...)

	if len(list0) > 1 && len(list0) == len(list1) {
		same := true
		for i := range list0 {
			if list0[i] != list1[i] {
				same = false
				break
			}
		}
		if same {
			list1[0], list1[1] = list1[1], list1[0]
		}
	}
	return list0, list1
}

// ModifyRefList applies the slice's reference-list-modification commands.
func (d *DPB) ModifyRefList(list []DpbIndex, ops []RefListModOp,
	currPicNum int32, maxPicNum int32, numActive int) ([]DpbIndex, error) {

	if len(list) > numActive {
		list = list[:numActive]
	}
	picNumPred := currPicNum
	refIdx := 0
	for _, op := range ops {
		var target *Picture
		var targetIdx DpbIndex = -1
		switch op.Idc {
		case 0, 1:
			absDiff := int32(op.AbsDiffPicNumMinus1 + 1)
			var picNumNoWrap int32
			if op.Idc == 0 {
				picNumNoWrap = picNumPred - absDiff
				if picNumNoWrap < 0 {
					picNumNoWrap += maxPicNum
				}
			} else {
				picNumNoWrap = picNumPred + absDiff
				if picNumNoWrap >= maxPicNum {
					picNumNoWrap -= maxPicNum
				}
			}
			picNumPred = picNumNoWrap
			picNum := picNumNoWrap
			if picNum > currPicNum {
				picNum -= maxPicNum
			}
			target = d.findShortTerm(picNum)
		case 2:
			target = d.findLongTerm(op.LongTermPicNum)
		default:
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "ref list modification idc %d", op.Idc)
		}
		if target == nil {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "ref list modification names missing picture")
		}
		for i := range d.Pictures {
			if &d.Pictures[i] == target {
				targetIdx = DpbIndex(i)
				break
			}
		}
		// Insert at refIdx, shift the rest right, then drop a duplicate of
		// the inserted picture found after refIdx.
		if refIdx > len(list) {
			refIdx = len(list)
		}
		list = append(list, -1)
		copy(list[refIdx+1:], list[refIdx:])
		list[refIdx] = targetIdx
		refIdx++
		out := list[:refIdx]
		for _, idx := range list[refIdx:] {
			if idx != targetIdx {
				out = append(out, idx)
			}
		}
		list = out
		if len(list) > numActive {
			list = list[:numActive]
		}
	}
	if len(list) > numActive {
		list = list[:numActive]
	}
	return list, nil
}
