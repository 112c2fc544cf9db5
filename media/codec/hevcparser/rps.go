package hevcparser

// DpbPicture is one entry of the HEVC decoded picture set the reference
// engine resolves against. Entries are addressed by slice index.
type DpbPicture struct {
	DecodeIndex uint32
	Poc         int32
	LongTerm    bool
	Referenced  bool
}

// RefPicSets holds the five derived reference picture sets as indices
// into the picture list handed to Derive.
type RefPicSets struct {
	StCurrBefore []int
	StCurrAfter  []int
	StFoll       []int
	LtCurr       []int
	LtFoll       []int
}

// DeriveRefPicSets classifies the DPB against the slice's active RPS.
// Short-term entries resolve by full POC; long-term entries match the POC
// LSB only unless delta_poc_msb_present widened them.
func DeriveRefPicSets(sh *SliceHeader, sps *SPS, currPoc int32, dpb []DpbPicture) RefPicSets {
	var sets RefPicSets
	maxPocLsb := sps.MaxPicOrderCntLsb()
	rps := sh.ActiveRps(sps)

	findByPoc := func(poc int32) int {
		for i := range dpb {
			if dpb[i].Referenced && dpb[i].Poc == poc {
				return i
			}
		}
		return -1
	}
	findByPocLsb := func(lsb int32) int {
		for i := len(dpb) - 1; i >= 0; i-- {
			if dpb[i].Referenced && dpb[i].Poc%maxPocLsb == lsb {
				return i
			}
		}
		return -1
	}

	for i, delta := range rps.DeltaPocS0 {
		idx := findByPoc(currPoc + delta)
		if idx < 0 {
			continue
		}
		if rps.UsedByCurrPicS0[i] {
			sets.StCurrBefore = append(sets.StCurrBefore, idx)
		} else {
			sets.StFoll = append(sets.StFoll, idx)
		}
	}
	for i, delta := range rps.DeltaPocS1 {
		idx := findByPoc(currPoc + delta)
		if idx < 0 {
			continue
		}
		if rps.UsedByCurrPicS1[i] {
			sets.StCurrAfter = append(sets.StCurrAfter, idx)
		} else {
			sets.StFoll = append(sets.StFoll, idx)
		}
	}
	for _, lt := range sh.LongTermEntries {
		var idx int
		if lt.MsbPresent {
			pocLt := int32(lt.PocLsb) - int32(lt.DeltaPocMsbCycleLt)*maxPocLsb +
				(currPoc - currPoc%maxPocLsb)
			idx = findByPoc(pocLt)
		} else {
			idx = findByPocLsb(int32(lt.PocLsb))
		}
		if idx < 0 {
			continue
		}
		if lt.UsedByCurrPic {
			sets.LtCurr = append(sets.LtCurr, idx)
		} else {
			sets.LtFoll = append(sets.LtFoll, idx)
		}
	}
	return sets
}

// BuildRefLists assembles list 0 and list 1 from the current sets,
// repeating the temp list until the active count is filled, then applying
// the slice's explicit modification, if any.
func (s RefPicSets) BuildRefLists(sh *SliceHeader) (list0, list1 []int) {
	if sh.SliceType == SliceI {
		return nil, nil
	}
	numActive0 := int(sh.NumRefIdxL0ActiveMinus1) + 1
	temp0 := append(append(append([]int{}, s.StCurrBefore...), s.StCurrAfter...), s.LtCurr...)
	list0 = buildList(temp0, numActive0, sh.RefPicListModificationL0)
	if sh.SliceType == SliceB {
		numActive1 := int(sh.NumRefIdxL1ActiveMinus1) + 1
		temp1 := append(append(append([]int{}, s.StCurrAfter...), s.StCurrBefore...), s.LtCurr...)
		list1 = buildList(temp1, numActive1, sh.RefPicListModificationL1)
	}
	return list0, list1
}

func buildList(temp []int, numActive int, modification []uint32) []int {
	if len(temp) == 0 {
		return nil
	}
	full := make([]int, 0, numActive)
	for len(full) < numActive {
		full = append(full, temp...)
	}
	list := make([]int, numActive)
	for i := 0; i < numActive; i++ {
		if i < len(modification) {
			if int(modification[i]) < len(full) {
				list[i] = full[modification[i]]
				continue
			}
		}
		list[i] = full[i]
	}
	return list
}
