// frame.go - 序言/尾声修补
//
// 指令选择给出的骨架是
//   push {fp, lr}; mov fp, sp; ...; mov sp, fp; pop {fp, pc}
// 扫描结束后把实际用到的被调者保存寄存器插入 push/pop，插入栈帧分配
// （大帧经 ip 中转），按需调整 fp，去掉用不到的占位指令。

package codegen

import (
	"fmt"
	"sort"

	"github.com/haswelliris/indigo/internal/arm"
)

// frameImmLimit 栈帧大小达到或超过该值时不直接用立即数，经 ip 中转
const frameImmLimit = 1024

func (ra *RegAllocator) patchPrologueEpilogue() error {
	insts := ra.f.Inst
	if len(insts) < 2 {
		return fmt.Errorf("function %s has no prologue/epilogue skeleton", ra.f.Name)
	}
	push, ok := insts[0].(*arm.PushPopInst)
	if !ok || push.Op != arm.OpPush {
		return fmt.Errorf("function %s does not start with push", ra.f.Name)
	}
	pop, ok := insts[len(insts)-1].(*arm.PushPopInst)
	if !ok || pop.Op != arm.OpPop {
		return fmt.Errorf("function %s does not end with pop", ra.f.Name)
	}

	for _, r := range ra.savedRegs() {
		push.AddReg(r)
		pop.AddReg(r)
	}

	useStackParam := ra.f.Ty != nil && len(ra.f.Ty.Params) > 4
	offsetSize := len(push.Regs) * 4

	if !useStackParam && ra.stackSize == 0 {
		push.RemoveReg(arm.RegFP)
		pop.RemoveReg(arm.RegFP)
	}

	if useStackParam {
		// fp 越过保存区指向栈上参数
		insts = insertInst(insts, 2, &arm.Arith3Inst{
			Op: arm.OpAdd, Rd: arm.RegFP, R1: arm.RegFP, R2: arm.Imm(int32(offsetSize)),
		})
	}

	switch {
	case ra.stackSize == 0:
		if !useStackParam {
			// fp 无人使用，去掉 mov fp, sp 占位
			insts = removeInst(insts, 1)
		}
	case ra.stackSize < frameImmLimit:
		insts = insertInst(insts, 2, &arm.Arith3Inst{
			Op: arm.OpSub, Rd: arm.RegSP, R1: arm.RegSP, R2: arm.Imm(int32(ra.stackSize)),
		})
	default:
		// 大帧立即数编码不下，经 ip 中转
		insts = insertInst(insts, 2, &arm.Arith2Inst{
			Op: arm.OpMov, R1: arm.RegIP, R2: arm.Imm(int32(ra.stackSize)),
		})
		insts = insertInst(insts, 3, &arm.Arith3Inst{
			Op: arm.OpSub, Rd: arm.RegSP, R1: arm.RegSP, R2: arm.NewRegOperand(arm.RegIP),
		})
	}

	if ra.stackSize == 0 && !useStackParam {
		// sp 全程未动，去掉尾声的 mov sp, fp
		insts = removeInst(insts, len(insts)-2)
	}

	if useStackParam {
		insts = insertInst(insts, len(insts)-2, &arm.Arith3Inst{
			Op: arm.OpSub, Rd: arm.RegFP, R1: arm.RegFP, R2: arm.Imm(int32(offsetSize)),
		})
	}

	if len(push.Regs) == 0 {
		insts = removeInst(insts, 0)
	}
	if len(pop.Regs) == 0 {
		insts = removeInst(insts, len(insts)-1)
	}

	ra.f.Inst = insts
	return nil
}

// savedRegs 需要保存的被调者保存寄存器，升序
func (ra *RegAllocator) savedRegs() []arm.Reg {
	regs := make([]arm.Reg, 0, len(ra.usedRegs)+len(ra.usedRegsTemp))
	for r := range ra.usedRegs {
		regs = append(regs, r)
	}
	for r := range ra.usedRegsTemp {
		if _, ok := ra.usedRegs[r]; !ok {
			regs = append(regs, r)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
	return regs
}

func insertInst(insts []arm.Inst, idx int, inst arm.Inst) []arm.Inst {
	insts = append(insts, nil)
	copy(insts[idx+1:], insts[idx:])
	insts[idx] = inst
	return insts
}

func removeInst(insts []arm.Inst, idx int) []arm.Inst {
	return append(insts[:idx], insts[idx+1:]...)
}
