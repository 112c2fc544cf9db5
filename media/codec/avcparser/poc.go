package avcparser

// pocState carries the inter-picture POC bookkeeping the three derivation
// modes need.
type pocState struct {
	prevPocMsb      int32
	prevPocLsb      int32
	prevFrameNum       uint32
	prevFrameNumOffset uint32
	prevHadMmco5       bool
	prevRefPoc         int32 // POC of the previous reference picture, for MMCO5 carry-over
}

// derivePoc computes the picture order count for the current slice header
// per pic_order_cnt_type, updating the state for the next picture.
func (st *pocState) derivePoc(sps *SPS, sh *SliceHeader) int32 {
	switch sps.PicOrderCntType {
	case 0:
		return st.derivePocType0(sps, sh)
	case 1:
		return st.derivePocType1(sps, sh)
	default:
		return st.derivePocType2(sps, sh)
	}
}

func (st *pocState) derivePocType0(sps *SPS, sh *SliceHeader) int32 {
	maxPocLsb := sps.MaxPicOrderCntLsb()
	prevMsb := st.prevPocMsb
	prevLsb := st.prevPocLsb
	if sh.IsIdr() {
		prevMsb, prevLsb = 0, 0
	} else if st.prevHadMmco5 {
		prevLsb = st.prevRefPoc
		prevMsb = 0
	}
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
	poc := msb + lsb
	if sh.NalRefIdc != 0 {
		st.prevPocMsb = msb
		st.prevPocLsb = lsb
		st.prevRefPoc = poc
	}
	st.prevHadMmco5 = sh.HasMmco5()
	return poc
}

func (st *pocState) frameNumOffset(sps *SPS, sh *SliceHeader) uint32 {
	if sh.IsIdr() {
		return 0
	}
	prevOffset := st.prevFrameNumOffset
	if st.prevHadMmco5 {
		prevOffset = 0
	}
	if st.prevFrameNum > sh.FrameNum {
		return prevOffset + sps.MaxFrameNum()
	}
	return prevOffset
}

func (st *pocState) derivePocType1(sps *SPS, sh *SliceHeader) int32 {
	offset := st.frameNumOffset(sps, sh)
	absFrameNum := int32(offset + sh.FrameNum)
	if sh.NalRefIdc == 0 && absFrameNum > 0 {
		absFrameNum--
	}
	var expectedPoc int32
	cycleLen := int32(len(sps.OffsetForRefFrame))
	if absFrameNum > 0 && cycleLen > 0 {
		cycleCnt := (absFrameNum - 1) / cycleLen
		frameNumInCycle := (absFrameNum - 1) % cycleLen
		expectedPoc = cycleCnt * sps.ExpectedDeltaPerPicOrderCntCycle()
		for i := int32(0); i <= frameNumInCycle; i++ {
			expectedPoc += sps.OffsetForRefFrame[i]
		}
	}
	if sh.NalRefIdc == 0 {
		expectedPoc += sps.OffsetForNonRefPic
	}
	poc := expectedPoc + sh.DeltaPicOrderCnt[0]
	st.prevFrameNum = sh.FrameNum
	st.prevFrameNumOffset = offset
	st.prevHadMmco5 = sh.HasMmco5()
	if st.prevHadMmco5 {
		st.prevFrameNum = 0
		st.prevFrameNumOffset = 0
	}
	return poc
}

func (st *pocState) derivePocType2(sps *SPS, sh *SliceHeader) int32 {
	if sh.IsIdr() {
		st.prevFrameNum = 0
		st.prevFrameNumOffset = 0
		st.prevHadMmco5 = sh.HasMmco5()
		return 0
	}
	offset := st.frameNumOffset(sps, sh)
	tmp := 2 * int32(offset+sh.FrameNum)
	if sh.NalRefIdc == 0 {
		tmp--
	}
	st.prevFrameNum = sh.FrameNum
	st.prevFrameNumOffset = offset
	st.prevHadMmco5 = sh.HasMmco5()
	if st.prevHadMmco5 {
		st.prevFrameNum = 0
		st.prevFrameNumOffset = 0
	}
	return tmp
}
