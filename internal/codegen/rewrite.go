// rewrite.go - 线性扫描改写
//
// 按顺序消费输入指令，把虚拟操作数替换成物理寄存器后移入输出缓冲。
// 读操作数在指令之前处理（必要时插入 ldr），写操作数先预判类别、指令
// 落入输出后再提交（必要时在指令之后插入写回 str）。相邻的同槽同谓词
// str/ldr 对被窥孔消去：取消的 str 记入 delayed，待消费它的指令落入
// 输出后再补回。

package codegen

import (
	"strings"

	"github.com/haswelliris/indigo/internal/arm"
)

// performLoadStores 主改写循环
func (ra *RegAllocator) performLoadStores() {
	for i := 0; i < len(ra.f.Inst); i++ {
		inst := ra.f.Inst[i]
		ra.curCond = inst.Condition()

		switch x := inst.(type) {
		case *arm.Arith3Inst:
			ra.replaceRead(&x.R1, i)
			ra.replaceReadOperand2(&x.R2, i)
			ra.invalidateRead(i)
			ra.wroteTo[x.Rd] = struct{}{}
			prw := ra.preReplaceWrite(&x.Rd, i, nil)
			ra.sink(x)
			ra.replaceWrite(prw, i)

		case *arm.Arith4Inst:
			ra.replaceRead(&x.R1, i)
			ra.replaceRead(&x.R2, i)
			ra.replaceRead(&x.R3, i)
			ra.invalidateRead(i)
			ra.wroteTo[x.Rd] = struct{}{}
			prw := ra.preReplaceWrite(&x.Rd, i, nil)
			ra.sink(x)
			ra.replaceWrite(prw, i)

		case *arm.Arith2Inst:
			ra.rewriteArith2(x, i)

		case *arm.LoadStoreInst:
			if mem, ok := x.Mem.(arm.MemoryOperand); ok {
				ra.replaceReadMem(&mem, i)
				x.Mem = mem
			}
			if x.Op == arm.OpLdR {
				ra.invalidateRead(i)
				ra.wroteTo[x.Rd] = struct{}{}
				prw := ra.preReplaceWrite(&x.Rd, i, nil)
				ra.sink(x)
				ra.replaceWrite(prw, i)
			} else {
				ra.replaceRead(&x.Rd, i)
				ra.invalidateRead(i)
				ra.sink(x)
			}

		case *arm.MultLoadStoreInst:
			ra.fatal("ldm/stm rewriting not implemented")

		case *arm.PushPopInst:
			// push/pop 只出现在序言/尾声骨架里，内容在扫描后改写
			ra.invalidateRead(i)
			ra.sink(x)

		case *arm.LabelInst:
			ra.invalidateRead(i)
			ra.sink(x)
			if strings.HasPrefix(x.Label, ".ld_pc") && len(ra.instSink) >= 2 {
				// 常量池标签必须位于刚发出的 str 之前，交换两者
				if ls, ok := ra.instSink[len(ra.instSink)-2].(*arm.LoadStoreInst); ok && ls.Op == arm.OpStR {
					n := len(ra.instSink)
					ra.instSink[n-2], ra.instSink[n-1] = ra.instSink[n-1], ra.instSink[n-2]
				}
			}
			if strings.HasPrefix(x.Label, ".bb") {
				ra.bbReset = true
			}

		case *arm.BrInst:
			ra.rewriteBranch(x, i)

		case *arm.CtrlInst:
			if x.Key == "offset_stack" {
				if off, ok := x.Val.(int); ok {
					ra.stackOffset += off
				}
			}
			ra.invalidateRead(i)
			ra.sink(x)

		default:
			ra.invalidateRead(i)
			ra.sink(x)
		}

		ra.commitDelayed(i)
	}
}

func (ra *RegAllocator) sink(inst arm.Inst) {
	ra.instSink = append(ra.instSink, inst)
}

// commitDelayed 补回被窥孔取消的写回 str
func (ra *RegAllocator) commitDelayed(i int) {
	if ra.delayed == nil {
		return
	}
	d := *ra.delayed
	ra.delayed = nil
	ra.replaceWrite(replaceWriteAction{from: d.virt, replaceWith: d.phys, kind: writeSpill}, i)
}

func (ra *RegAllocator) rewriteArith2(x *arm.Arith2Inst, i int) {
	switch x.Op {
	case arm.OpMov, arm.OpMvn:
		ra.replaceReadOperand2(&x.R2, i)
		ra.invalidateRead(i)
		ra.wroteTo[x.R1] = struct{}{}
		prw := ra.preReplaceWrite(&x.R1, i, nil)
		if x.Op == arm.OpMov && isIdentityMov(x) {
			// 合并后退化为恒等拷贝，不进入输出
			ra.replaceWrite(prw, i)
			return
		}
		ra.sink(x)
		ra.replaceWrite(prw, i)

	case arm.OpMovT:
		// movt 保留低半字：目的寄存器先按读处理装入物理寄存器，
		// 写提交复用同一个物理寄存器
		origR := x.R1
		ra.replaceRead(&x.R1, i)
		ra.invalidateRead(i)
		ra.wroteTo[origR] = struct{}{}
		pre := x.R1
		prw := ra.preReplaceWrite(&origR, i, &pre)
		ra.sink(x)
		ra.replaceWrite(prw, i)

	default:
		ra.replaceRead(&x.R1, i)
		ra.replaceReadOperand2(&x.R2, i)
		ra.invalidateRead(i)
		ra.sink(x)
	}
}

func isIdentityMov(x *arm.Arith2Inst) bool {
	rop, ok := x.R2.(arm.RegisterOperand)
	return ok && rop.Reg == x.R1 && rop.Shift == arm.ShiftLsl && rop.ShiftAmount == 0
}

func (ra *RegAllocator) rewriteBranch(x *arm.BrInst, i int) {
	ra.commitDelayed(i)
	ra.invalidateRead(i)

	switch x.Op {
	case arm.OpBl:
		ra.isLeafFunc = false
		regCnt := x.ParamCnt
		if regCnt > 4 {
			regCnt = 4
		}
		// 前 regCnt 个参数寄存器被调用消费，直接从活跃集中丢弃；
		// 其余调用者保存寄存器写回后释放
		for k := 0; k < regCnt; k++ {
			delete(ra.active, arm.Reg(k))
		}
		for k := regCnt; k < 4; k++ {
			ra.forceFree(arm.Reg(k), true, true)
		}
		ra.forceFree(arm.RegIP, true, true)
		ra.forceFree(arm.RegLR, true, true)
		ra.sink(x)
		for _, r := range arm.CallerSavedRegs {
			delete(ra.active, r)
		}
		delete(ra.active, arm.RegLR)

	case arm.OpB:
		if ra.bbReset {
			// 块边界：跨块寄存器落回内存归宿，写过的写回，只读的直接释放
			for idx := 0; idx < len(ra.activeRegMap); {
				p := ra.activeRegMap[idx]
				if _, cross := ra.spilledCrossBlockReg[p.virt]; cross {
					_, wrote := ra.wroteTo[p.virt]
					ra.forceFree(p.phys, false, wrote)
					delete(ra.active, p.phys)
					ra.activeRegMap = append(ra.activeRegMap[:idx], ra.activeRegMap[idx+1:]...)
				} else {
					idx++
				}
			}
			ra.wroteTo = map[arm.Reg]struct{}{}
			ra.bbReset = false
		}
		ra.sink(x)

	default:
		ra.sink(x)
	}
}

// replaceRead 把读操作数改写为物理寄存器
func (ra *RegAllocator) replaceRead(r *arm.Reg, i int) {
	*r = ra.getCollapseReg(*r)

	if !arm.IsVirtualRegister(*r) {
		return
	}

	if mapped, ok := ra.regMap[*r]; ok {
		// 图着色寄存器
		ra.log.Debugw("read", "reg", *r, "at", i, "graph", mapped)
		*r = mapped
		return
	}

	if iv, ok := ra.spilledRegs[*r]; ok {
		// 此前被逐出到栈上，重新装载
		virt := *r
		spillPos := ra.getOrAllocSpillPos(virt)
		interval := iv
		interval.Start = i
		delete(ra.spilledRegs, virt)
		rd := ra.allocTransientReg(interval, virt)

		if ra.cancelAdjacentStore(rd, spillPos) {
			// 刚写回的值仍在 rd 里：消去 str，不再装载，写回延后补发
			ra.delayed = &delayedStore{virt: virt, phys: rd}
		} else {
			ra.instSink = append(ra.instSink, ra.spillLoad(rd, spillPos))
		}
		ra.log.Debugw("read", "reg", virt, "at", i, "spill", spillPos, "rd", rd)
		*r = rd
		return
	}

	// 块内临时值
	virt := *r
	iv, ok := ra.liveIntervals[virt]
	if !ok {
		ra.fatal("read of %s at %d has no live interval", virt, i)
	}
	rd := ra.allocTransientReg(*iv, virt)
	if _, cross := ra.spilledCrossBlockReg[virt]; cross {
		// 跨块寄存器刚写回又被读：消去相邻的 str，本指令之后补发
		if pos, ok := ra.spillPositions[virt]; ok && ra.delayed == nil &&
			ra.cancelAdjacentStore(rd, pos) {
			ra.delayed = &delayedStore{virt: virt, phys: rd}
		}
	}
	ra.log.Debugw("read", "reg", virt, "at", i, "transient", rd)
	*r = rd
}

// cancelAdjacentStore 若输出缓冲末尾正是同谓词下对同一槽位、同一寄存
// 器的 str，则移除它并返回 true
func (ra *RegAllocator) cancelAdjacentStore(rd arm.Reg, spillPos int) bool {
	if len(ra.instSink) == 0 {
		return false
	}
	ls, ok := ra.instSink[len(ra.instSink)-1].(*arm.LoadStoreInst)
	if !ok || ls.Op != arm.OpStR || ls.Rd != rd || ls.Cond != ra.curCond {
		return false
	}
	mem, ok := ls.Mem.(arm.MemoryOperand)
	if !ok || mem != arm.NewMemOperand(arm.RegSP, int16(spillPos+ra.stackOffset)) {
		return false
	}
	ra.instSink = ra.instSink[:len(ra.instSink)-1]
	return true
}

func (ra *RegAllocator) replaceReadOperand2(op *arm.Operand2, i int) {
	if rop, ok := (*op).(arm.RegisterOperand); ok {
		ra.replaceRead(&rop.Reg, i)
		*op = rop
	}
}

func (ra *RegAllocator) replaceReadMem(m *arm.MemoryOperand, i int) {
	ra.replaceRead(&m.R1, i)
	if rop, ok := m.Offset.(arm.RegisterOperand); ok {
		ra.replaceRead(&rop.Reg, i)
		m.Offset = rop
	}
}

// preReplaceWrite 预判写操作数的改写类别并选好物理寄存器。
// preAlloc 非空时（movt）直接使用给定的物理寄存器。
func (ra *RegAllocator) preReplaceWrite(r *arm.Reg, i int, preAlloc *arm.Reg) replaceWriteAction {
	*r = ra.getCollapseReg(*r)
	orig := *r

	if !arm.IsVirtualRegister(orig) {
		// 物理寄存器被显式写入，强制独占
		ra.forceFree(orig, true, true)
		return replaceWriteAction{from: orig, replaceWith: orig, kind: writePhys}
	}

	if mapped, ok := ra.regMap[orig]; ok {
		*r = mapped
		return replaceWriteAction{from: orig, replaceWith: mapped, kind: writeGraph}
	}

	if _, ok := ra.spilledCrossBlockReg[orig]; ok {
		// 跨块寄存器的写必须立即落回内存
		var rd arm.Reg
		if preAlloc != nil {
			rd = *preAlloc
		} else if idx := ra.findActivePair(orig); idx >= 0 {
			rd = ra.touchActivePair(idx).phys
		} else {
			iv, ok := ra.liveIntervals[orig]
			if !ok {
				ra.fatal("write of %s at %d has no live interval", orig, i)
			}
			rd = ra.allocTransientReg(iv.withStartingPoint(i), orig)
		}
		ra.log.Debugw("write", "reg", orig, "at", i, "to be spilled", rd)
		*r = rd
		return replaceWriteAction{from: orig, replaceWith: rd, kind: writeSpill}
	}

	if iv, ok := ra.spilledRegs[orig]; ok {
		ra.getOrAllocSpillPos(orig)
		interval := iv
		interval.Start = i
		delete(ra.spilledRegs, orig)
		var rd arm.Reg
		if preAlloc != nil {
			rd = *preAlloc
		} else {
			rd = ra.allocTransientReg(interval, orig)
		}
		ra.log.Debugw("write", "reg", orig, "at", i, "spilled", rd)
		*r = rd
		return replaceWriteAction{from: orig, replaceWith: rd, kind: writeSpill}
	}

	// 块内临时值
	iv, ok := ra.liveIntervals[orig]
	if !ok {
		ra.fatal("write of %s at %d has no live interval", orig, i)
	}
	rd := ra.allocTransientReg(*iv, orig)
	*r = rd
	return replaceWriteAction{from: orig, replaceWith: rd, kind: writeTransient}
}

// replaceWrite 指令落入输出后提交写改写
func (ra *RegAllocator) replaceWrite(a replaceWriteAction, i int) {
	switch a.kind {
	case writePhys:
		// 显式写入的物理寄存器视为被占用，直到调用点或函数结束
		if _, ok := ra.active[a.replaceWith]; !ok {
			ra.active[a.replaceWith] = Interval{Start: i, End: intervalMax}
		}
		ra.log.Debugw("write", "reg", a.from, "at", i, "phys", a.replaceWith)

	case writeGraph:
		ra.log.Debugw("write", "reg", a.from, "at", i, "graph", a.replaceWith)

	case writeSpill:
		rd := a.replaceWith
		pos := ra.getOrAllocSpillPos(a.from)
		if !ra.isAdjacentStore(rd, pos) {
			ra.instSink = append(ra.instSink, ra.spillStore(rd, pos))
		}
		delete(ra.wroteTo, a.from)
		ra.log.Debugw("write", "reg", a.from, "at", i, "spill", pos)

	case writeTransient:
		ra.log.Debugw("write", "reg", a.from, "at", i, "transient", a.replaceWith)
	}
}

// isAdjacentStore 判断输出缓冲末尾是否已经是完全相同的写回 str
func (ra *RegAllocator) isAdjacentStore(rd arm.Reg, pos int) bool {
	if len(ra.instSink) == 0 {
		return false
	}
	ls, ok := ra.instSink[len(ra.instSink)-1].(*arm.LoadStoreInst)
	if !ok || ls.Op != arm.OpStR || ls.Rd != rd || ls.Cond != ra.curCond {
		return false
	}
	mem, ok := ls.Mem.(arm.MemoryOperand)
	return ok && mem == arm.NewMemOperand(arm.RegSP, int16(pos+ra.stackOffset))
}
