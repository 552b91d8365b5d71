// affinity.go - 拷贝亲和合并
//
// 对活跃区间不冲突的 mov 拷贝，把两个寄存器合并成同一个身份，改写阶段
// 经 getCollapseReg 追到根后统一替换，拷贝本身退化成恒等 mov 被省略。
//
// 三种情形：
//  1. 源是图着色寄存器、目的是只赋值一次的局部值：目的并入源；
//  2. 目的是图着色寄存器、源是局部值：源并入目的；
//  3. 双方都是局部值（或一方是物理寄存器）：区间不重叠时合并区间。
// 跨块溢出的寄存器从不参与合并，它们的内存归宿必须保持。

package codegen

import "github.com/haswelliris/indigo/internal/arm"

// calcRegAffinity 处理收集到的拷贝亲和项
func (ra *RegAllocator) calcRegAffinity() {
	for _, pair := range ra.regAffine {
		regDst, regSrc := pair.dst, pair.src

		_, dstColored := ra.regMap[regDst]
		_, srcColored := ra.regMap[regSrc]
		_, dstCross := ra.spilledCrossBlockReg[regDst]
		_, srcCross := ra.spilledCrossBlockReg[regSrc]
		_, dstCollapsed := ra.regCollapse[regDst]
		_, srcCollapsed := ra.regCollapse[regSrc]

		switch {
		case srcColored && !dstColored && !dstCross && !dstCollapsed &&
			ra.regAssignCount[regDst] == 1:
			// 目的只赋值一次：让它直接活在源的着色寄存器里
			if !ra.homeConflicts(ra.regMap[regSrc], regSrc, regDst) {
				ra.regCollapse[regDst] = regSrc
			}

		case dstColored && !srcColored && !srcCross && !srcCollapsed:
			if !ra.homeConflicts(ra.regMap[regDst], regDst, regSrc) {
				ra.regCollapse[regSrc] = regDst
			}

		case !dstColored && !srcColored && !dstCross && !srcCross:
			ra.collapseLocals(regDst, regSrc)
		}
	}
}

// homeConflicts 判断 probe 的活跃区间是否与 home 上除 self 之外的其他
// 图着色寄存器冲突
func (ra *RegAllocator) homeConflicts(home, self, probe arm.Reg) bool {
	probeIv, ok := ra.liveIntervals[probe]
	if !ok {
		return true
	}
	for _, vr := range ra.regReverseMap[home] {
		if vr == self {
			continue
		}
		iv, ok := ra.liveIntervals[vr]
		if !ok {
			continue
		}
		if iv.Overlaps(*probeIv) {
			return true
		}
	}
	return false
}

// collapseLocals 合并两个局部值。一方是物理寄存器时虚拟一方并入物理
// 一方；物理寄存器必须是可分配的通用寄存器，且当它是调用者保存寄存器
// 时合并后的区间不得跨越调用点。
func (ra *RegAllocator) collapseLocals(regDst, regSrc arm.Reg) {
	src := ra.getCollapseReg(regSrc)
	dst := ra.getCollapseReg(regDst)
	if src == dst {
		return
	}

	liSrc, okSrc := ra.liveIntervals[src]
	liDst, okDst := ra.liveIntervals[dst]
	if !okSrc || !okDst || liSrc.Overlaps(*liDst) {
		return
	}

	srcVirtual := arm.IsVirtualRegister(src)
	dstVirtual := arm.IsVirtualRegister(dst)

	var target, loser arm.Reg
	switch {
	case srcVirtual && dstVirtual:
		target, loser = src, dst
	case !srcVirtual && dstVirtual:
		target, loser = src, dst
	case srcVirtual && !dstVirtual:
		target, loser = dst, src
	default:
		// 两个物理寄存器之间没有可合并的身份
		return
	}

	if !arm.IsVirtualRegister(target) {
		if !isAllocatableGP(target) {
			return
		}
		union := *ra.liveIntervals[target]
		loserIv := *ra.liveIntervals[loser]
		union.addStartingPoint(loserIv.Start)
		union.addEndingPoint(loserIv.End)
		if isCallerSaved(target) && ra.blCrosses(union) {
			return
		}
	}

	targetIv := ra.liveIntervals[target]
	loserIv := ra.liveIntervals[loser]
	targetIv.addStartingPoint(loserIv.Start)
	targetIv.addEndingPoint(loserIv.End)
	ra.regCollapse[loser] = target
}

func isAllocatableGP(r arm.Reg) bool {
	for _, g := range arm.GPRegs {
		if g == r {
			return true
		}
	}
	return false
}

func isCallerSaved(r arm.Reg) bool {
	for _, c := range arm.CallerSavedRegs {
		if c == r {
			return true
		}
	}
	return false
}
