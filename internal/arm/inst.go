// inst.go - ARM 指令模型
//
// 指令按形状分为若干变体，统一实现 Inst 接口；
// 改写器对指令做穷尽的类型分派。条件码是每条指令上的字段。

package arm

import (
	"fmt"
	"sort"
	"strings"
)

// OpCode 指令操作码
type OpCode int

const (
	OpNop OpCode = iota
	OpB
	OpBl
	OpBx
	OpCbz
	OpCbnz
	OpMov
	OpMovT
	OpMvn
	OpAdd
	OpSub
	OpRsb
	OpMul
	OpSMMul
	OpMla
	OpSMMla
	OpSDiv
	OpLsl
	OpLsr
	OpAsr
	OpAnd
	OpOrr
	OpEor
	OpBic
	OpCmp
	OpCmn
	OpLdR
	OpLdM
	OpStR
	OpStM
	OpPush
	OpPop
)

func (op OpCode) String() string {
	switch op {
	case OpNop:
		return "nop"
	case OpB:
		return "b"
	case OpBl:
		return "bl"
	case OpBx:
		return "bx"
	case OpCbz:
		return "cbz"
	case OpCbnz:
		return "cbnz"
	case OpMov:
		return "mov"
	case OpMovT:
		return "movt"
	case OpMvn:
		return "mvn"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpRsb:
		return "rsb"
	case OpMul:
		return "mul"
	case OpSMMul:
		return "smmul"
	case OpMla:
		return "mla"
	case OpSMMla:
		return "smmla"
	case OpSDiv:
		return "sdiv"
	case OpLsl:
		return "lsl"
	case OpLsr:
		return "lsr"
	case OpAsr:
		return "asr"
	case OpAnd:
		return "and"
	case OpOrr:
		return "orr"
	case OpEor:
		return "eor"
	case OpBic:
		return "bic"
	case OpCmp:
		return "cmp"
	case OpCmn:
		return "cmn"
	case OpLdR:
		return "ldr"
	case OpLdM:
		return "ldm"
	case OpStR:
		return "str"
	case OpStM:
		return "stm"
	case OpPush:
		return "push"
	case OpPop:
		return "pop"
	default:
		return fmt.Sprintf("?%d", int(op))
	}
}

// Inst 指令
type Inst interface {
	Condition() ConditionCode
	String() string
	isInst()
}

// PureInst 只有操作码的指令
type PureInst struct {
	Op   OpCode
	Cond ConditionCode
}

func (*PureInst) isInst()                    {}
func (i *PureInst) Condition() ConditionCode { return i.Cond }
func (i *PureInst) String() string           { return i.Op.String() + i.Cond.String() }

// Arith2Inst 单寄存器加第二操作数的指令（mov/movt/mvn/cmp/cmn/bx）
type Arith2Inst struct {
	Op   OpCode
	R1   Reg
	R2   Operand2
	Cond ConditionCode
}

func (*Arith2Inst) isInst()                    {}
func (i *Arith2Inst) Condition() ConditionCode { return i.Cond }

func (i *Arith2Inst) String() string {
	if i.Op == OpBx {
		return fmt.Sprintf("%s%s %s", i.Op, i.Cond, i.R1)
	}
	return fmt.Sprintf("%s%s %s, %s", i.Op, i.Cond, i.R1, i.R2)
}

// Arith3Inst 目的寄存器、源寄存器加第二操作数的指令
type Arith3Inst struct {
	Op   OpCode
	Rd   Reg
	R1   Reg
	R2   Operand2
	Cond ConditionCode
}

func (*Arith3Inst) isInst()                    {}
func (i *Arith3Inst) Condition() ConditionCode { return i.Cond }

func (i *Arith3Inst) String() string {
	return fmt.Sprintf("%s%s %s, %s, %s", i.Op, i.Cond, i.Rd, i.R1, i.R2)
}

// Arith4Inst 目的寄存器加三个源寄存器的指令（mla/smmla）
type Arith4Inst struct {
	Op   OpCode
	Rd   Reg
	R1   Reg
	R2   Reg
	R3   Reg
	Cond ConditionCode
}

func (*Arith4Inst) isInst()                    {}
func (i *Arith4Inst) Condition() ConditionCode { return i.Cond }

func (i *Arith4Inst) String() string {
	return fmt.Sprintf("%s%s %s, %s, %s, %s", i.Op, i.Cond, i.Rd, i.R1, i.R2, i.R3)
}

// BrInst 分支指令；bl 记录被调函数的参数个数
type BrInst struct {
	Op       OpCode
	Label    string
	Cond     ConditionCode
	ParamCnt int
}

func (*BrInst) isInst()                    {}
func (i *BrInst) Condition() ConditionCode { return i.Cond }

func (i *BrInst) String() string {
	return fmt.Sprintf("%s%s %s", i.Op, i.Cond, i.Label)
}

// MemRef ldr/str 的内存引用：标签或内存操作数
type MemRef interface {
	isMemRef()
	String() string
}

// LabelRef 标签引用
type LabelRef string

func (LabelRef) isMemRef()        {}
func (l LabelRef) String() string { return string(l) }

func (MemoryOperand) isMemRef() {}

// LoadStoreInst 单寄存器访存指令
type LoadStoreInst struct {
	Op   OpCode
	Rd   Reg
	Mem  MemRef
	Cond ConditionCode
}

func (*LoadStoreInst) isInst()                    {}
func (i *LoadStoreInst) Condition() ConditionCode { return i.Cond }

func (i *LoadStoreInst) String() string {
	return fmt.Sprintf("%s%s %s, %s", i.Op, i.Cond, i.Rd, i.Mem)
}

// MultLoadStoreInst 多寄存器访存指令（ldm/stm）
type MultLoadStoreInst struct {
	Op   OpCode
	Rn   Reg
	Rd   []Reg
	Cond ConditionCode
}

func (*MultLoadStoreInst) isInst()                    {}
func (i *MultLoadStoreInst) Condition() ConditionCode { return i.Cond }

func (i *MultLoadStoreInst) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%s %s, {", i.Op, i.Cond, i.Rn)
	for idx, r := range i.Rd {
		if idx > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(r.String())
	}
	sb.WriteString("}")
	return sb.String()
}

// PushPopInst 压栈/出栈指令，寄存器列表保持升序
type PushPopInst struct {
	Op   OpCode
	Regs []Reg
	Cond ConditionCode
}

// NewPushPopInst 构造压栈/出栈指令
func NewPushPopInst(op OpCode, regs ...Reg) *PushPopInst {
	p := &PushPopInst{Op: op}
	for _, r := range regs {
		p.AddReg(r)
	}
	return p
}

func (*PushPopInst) isInst()                    {}
func (i *PushPopInst) Condition() ConditionCode { return i.Cond }

// AddReg 插入寄存器，保持有序去重
func (i *PushPopInst) AddReg(r Reg) {
	pos := sort.Search(len(i.Regs), func(k int) bool { return i.Regs[k] >= r })
	if pos < len(i.Regs) && i.Regs[pos] == r {
		return
	}
	i.Regs = append(i.Regs, 0)
	copy(i.Regs[pos+1:], i.Regs[pos:])
	i.Regs[pos] = r
}

// RemoveReg 移除寄存器
func (i *PushPopInst) RemoveReg(r Reg) {
	for k, x := range i.Regs {
		if x == r {
			i.Regs = append(i.Regs[:k], i.Regs[k+1:]...)
			return
		}
	}
}

// HasReg 判断寄存器是否在列表中
func (i *PushPopInst) HasReg(r Reg) bool {
	for _, x := range i.Regs {
		if x == r {
			return true
		}
	}
	return false
}

func (i *PushPopInst) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%s {", i.Op, i.Cond)
	for idx, r := range i.Regs {
		if idx > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(r.String())
	}
	sb.WriteString("}")
	return sb.String()
}

// LabelInst 标签伪指令
type LabelInst struct {
	Label string
}

func (*LabelInst) isInst()                    {}
func (i *LabelInst) Condition() ConditionCode { return CondAlways }
func (i *LabelInst) String() string           { return i.Label + ":" }

// CtrlInst 控制伪指令（键值对），原样写入输出
type CtrlInst struct {
	Key         string
	Val         any
	IsAsmOption bool
}

func (*CtrlInst) isInst()                    {}
func (i *CtrlInst) Condition() ConditionCode { return CondAlways }

func (i *CtrlInst) String() string {
	if i.IsAsmOption {
		return fmt.Sprintf(".%s %v", i.Key, i.Val)
	}
	return fmt.Sprintf("@ %s(value=%v)", i.Key, i.Val)
}
