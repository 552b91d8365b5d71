// liveness.go - 活跃区间计算
//
// 对指令序列做单次正向扫描：每个寄存器记录 [首次定义, 最后读取] 的
// 区间，同时收集调用点下标、基本块标签位置和 mov 拷贝亲和项。
//
// 约定：push 按写、pop 按读记录。这与体系结构语义相反，但序言 push 和
// 尾声 pop 的内容在扫描后才统一改写，此处的记录不影响结果。

package codegen

import (
	"sort"
	"strconv"
	"strings"

	"github.com/haswelliris/indigo/internal/arm"
	"github.com/haswelliris/indigo/internal/mir"
)

// constructRegMap 按图着色结果建立虚拟寄存器的静态归宿。
// 着色为非负值的记入 regMap（被调者保存寄存器），-1 的分配固定栈槽并
// 标记为跨块溢出；不在着色结果里的是块内局部值，留给线性扫描在线分配。
func (ra *RegAllocator) constructRegMap() {
	varIds := make([]mir.VarId, 0, len(ra.mirToArm))
	for varId := range ra.mirToArm {
		varIds = append(varIds, varId)
	}
	// 按变量编号排序保证确定性
	sort.Slice(varIds, func(i, j int) bool { return varIds[i] < varIds[j] })

	for _, varId := range varIds {
		vreg := ra.mirToArm[varId]
		color, ok := ra.colorMap[varId]
		if !ok {
			ra.log.Debugw("local variable", "var", varId, "vreg", vreg)
			continue
		}
		if color >= 0 {
			reg := arm.GlobRegs[color]
			ra.regMap[vreg] = reg
			ra.regReverseMap[reg] = append(ra.regReverseMap[reg], vreg)
			ra.usedRegs[reg] = struct{}{}
			ra.log.Debugw("graph colored", "var", varId, "vreg", vreg, "reg", reg)
		} else {
			ra.spillPositions[vreg] = ra.stackSize
			ra.log.Debugw("cross-block spill", "var", varId, "vreg", vreg, "pos", ra.stackSize)
			ra.stackSize += 4
			ra.spilledCrossBlockReg[vreg] = struct{}{}
		}
	}
}

// calcLiveIntervals 扫描全部指令，记录读写点
func (ra *RegAllocator) calcLiveIntervals() {
	for i, inst := range ra.f.Inst {
		switch x := inst.(type) {
		case *arm.PureInst:
			// 无寄存器效果

		case *arm.Arith4Inst:
			ra.addRegRead(x.R1, i)
			ra.addRegRead(x.R2, i)
			ra.addRegRead(x.R3, i)
			ra.addRegWrite(x.Rd, i)

		case *arm.Arith3Inst:
			ra.addRegRead(x.R1, i)
			ra.addOperand2Read(x.R2, i)
			ra.addRegWrite(x.Rd, i)

		case *arm.Arith2Inst:
			switch x.Op {
			case arm.OpMov, arm.OpMovT, arm.OpMvn:
				ra.addRegWrite(x.R1, i)
				if x.Op == arm.OpMovT {
					// movt 保留低半字，目的寄存器既读又写
					ra.addRegRead(x.R1, i)
				}
				if x.Op == arm.OpMov {
					ra.recordAffinity(x.R1, x.R2)
				}
			default:
				ra.addRegRead(x.R1, i)
			}
			ra.addOperand2Read(x.R2, i)

		case *arm.BrInst:
			if x.Op == arm.OpBl {
				ra.blPoints = append(ra.blPoints, i)
			}

		case *arm.LoadStoreInst:
			if x.Op == arm.OpLdR {
				ra.addRegWrite(x.Rd, i)
			} else {
				ra.addRegRead(x.Rd, i)
			}
			if mem, ok := x.Mem.(arm.MemoryOperand); ok {
				ra.addMemRead(mem, i)
			}

		case *arm.MultLoadStoreInst:
			if x.Op == arm.OpLdM {
				for _, rd := range x.Rd {
					ra.addRegWrite(rd, i)
				}
			} else {
				for _, rd := range x.Rd {
					ra.addRegRead(rd, i)
				}
			}
			ra.addRegRead(x.Rn, i)

		case *arm.PushPopInst:
			if x.Op == arm.OpPush {
				for _, rd := range x.Regs {
					ra.addRegWrite(rd, i)
				}
			} else {
				for _, rd := range x.Regs {
					ra.addRegRead(rd, i)
				}
			}

		case *arm.LabelInst:
			if strings.HasPrefix(x.Label, ".bb_") {
				dollar := strings.LastIndexByte(x.Label, '$')
				id, err := strconv.Atoi(x.Label[dollar+1:])
				if dollar < 0 || err != nil {
					ra.log.Warnw("malformed basic block label", "label", x.Label, "err", err)
					continue
				}
				ra.pointBBMap = append(ra.pointBBMap, bbPoint{point: i, bb: uint32(id)})
			}
		}
	}
}

// recordAffinity 收集 mov 拷贝亲和项：无移位的寄存器到寄存器拷贝，
// 双方都是通用寄存器（物理或虚拟）。每个目的寄存器只记录第一次。
func (ra *RegAllocator) recordAffinity(dst arm.Reg, src arm.Operand2) {
	rop, ok := src.(arm.RegisterOperand)
	if !ok || rop.Shift != arm.ShiftLsl || rop.ShiftAmount != 0 {
		return
	}
	if !isGPReg(dst) || !isGPReg(rop.Reg) {
		return
	}
	if _, seen := ra.affineSeen[dst]; seen {
		return
	}
	ra.affineSeen[dst] = struct{}{}
	ra.regAffine = append(ra.regAffine, affinePair{dst: dst, src: rop.Reg})
}

func isGPReg(r arm.Reg) bool {
	k := arm.RegisterType(r)
	return k == arm.KindGeneralPurpose || k == arm.KindVirtualGeneralPurpose
}

func (ra *RegAllocator) addOperand2Read(op arm.Operand2, point int) {
	if rop, ok := op.(arm.RegisterOperand); ok {
		ra.addRegRead(rop.Reg, point)
	}
}

func (ra *RegAllocator) addMemRead(mem arm.MemoryOperand, point int) {
	ra.addRegRead(mem.R1, point)
	if rop, ok := mem.Offset.(arm.RegisterOperand); ok {
		ra.addRegRead(rop.Reg, point)
	}
}

func (ra *RegAllocator) addRegRead(reg arm.Reg, point int) {
	if iv, ok := ra.liveIntervals[reg]; ok {
		iv.addEndingPoint(point)
	} else {
		iv := newInterval(point)
		ra.liveIntervals[reg] = &iv
	}
	ra.addRegUseInBBAtPoint(reg, point)
}

func (ra *RegAllocator) addRegWrite(reg arm.Reg, point int) {
	if iv, ok := ra.liveIntervals[reg]; ok {
		iv.addStartingPoint(point)
	} else {
		iv := newInterval(point)
		ra.liveIntervals[reg] = &iv
	}
	ra.regAssignCount[reg]++
	ra.addRegUseInBBAtPoint(reg, point)
}

// addRegUseInBBAtPoint 记录图着色寄存器在所属基本块内的使用
func (ra *RegAllocator) addRegUseInBBAtPoint(reg arm.Reg, point int) {
	mapped, ok := ra.regMap[reg]
	if !ok {
		return
	}
	// 找到 point 所属的基本块：最后一个位置不超过 point 的标签
	idx := -1
	for i := range ra.pointBBMap {
		if ra.pointBBMap[i].point <= point {
			idx = i
		} else {
			break
		}
	}
	if idx >= 0 {
		bb := ra.pointBBMap[idx].bb
		set, ok := ra.bbUsedRegs[bb]
		if !ok {
			set = map[arm.Reg]struct{}{}
			ra.bbUsedRegs[bb] = set
		}
		set[mapped] = struct{}{}
	}
	ra.usedRegs[mapped] = struct{}{}
}
