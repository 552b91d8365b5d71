// reg.go - ARM 寄存器模型
//
// 寄存器用一个非负整数表示，按数值区间划分为六类：
// 物理通用寄存器、物理双字向量、物理四字向量，以及对应的三类虚拟寄存器。
// 编号 >= 64 的都是虚拟寄存器，由寄存器分配器改写成物理寄存器。

package arm

import "fmt"

// Reg 寄存器编号
type Reg uint32

// 各类寄存器的起始编号
const (
	RegGPStart      Reg = 0
	RegDoubleStart  Reg = 16
	RegQuadStart    Reg = 48
	RegVGPStart     Reg = 64
	RegVDoubleStart Reg = 1 << 31
	RegVQuadStart   Reg = 3 << 30
)

// 特殊物理寄存器
const (
	RegFP Reg = 11 // 帧指针
	RegIP Reg = 12 // 过程内调用暂存器
	RegSP Reg = 13 // 栈指针
	RegLR Reg = 14 // 链接寄存器
	RegPC Reg = 15 // 程序计数器
)

// RegisterKind 寄存器种类
type RegisterKind int

const (
	KindGeneralPurpose RegisterKind = iota // r0-r15
	KindDoubleVector                       // d0-d31
	KindQuadVector                         // q0-q15
	KindVirtualGeneralPurpose
	KindVirtualDoubleVector
	KindVirtualQuadVector
)

// GPRegs 可参与分配的通用寄存器（r11=fp、r12=ip 及 sp/lr/pc 保留）
var GPRegs = []Reg{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

// TempRegs 短生命周期临时值优先使用的寄存器
var TempRegs = []Reg{0, 1, 2, 3}

// GlobRegs 图着色的候选输出寄存器；被使用的子集需要在序言保存
var GlobRegs = []Reg{4, 5, 6, 7, 8, 9, 10}

// CallerSavedRegs 调用点被破坏的寄存器
var CallerSavedRegs = []Reg{0, 1, 2, 3, 12}

// RegisterType 返回寄存器的种类
func RegisterType(r Reg) RegisterKind {
	switch {
	case r < RegDoubleStart:
		return KindGeneralPurpose
	case r < RegQuadStart:
		return KindDoubleVector
	case r < RegVGPStart:
		return KindQuadVector
	case r < RegVDoubleStart:
		return KindVirtualGeneralPurpose
	case r < RegVQuadStart:
		return KindVirtualDoubleVector
	default:
		return KindVirtualQuadVector
	}
}

// RegisterNum 返回寄存器在本类中的编号
func RegisterNum(r Reg) uint32 {
	switch {
	case r < RegDoubleStart:
		return uint32(r)
	case r < RegQuadStart:
		return uint32(r - RegDoubleStart)
	case r < RegVGPStart:
		return uint32(r - RegQuadStart)
	case r < RegVDoubleStart:
		return uint32(r - RegVGPStart)
	case r < RegVQuadStart:
		return uint32(r - RegVDoubleStart)
	default:
		return uint32(r - RegVQuadStart)
	}
}

// MakeRegister 按种类和编号构造寄存器
func MakeRegister(k RegisterKind, num uint32) Reg {
	switch k {
	case KindGeneralPurpose:
		return Reg(num) + RegGPStart
	case KindDoubleVector:
		return Reg(num) + RegDoubleStart
	case KindQuadVector:
		return Reg(num) + RegQuadStart
	case KindVirtualGeneralPurpose:
		return Reg(num) + RegVGPStart
	case KindVirtualDoubleVector:
		return Reg(num) + RegVDoubleStart
	case KindVirtualQuadVector:
		return Reg(num) + RegVQuadStart
	default:
		return Reg(num)
	}
}

// IsVirtualRegister 判断是否为虚拟寄存器
func IsVirtualRegister(r Reg) bool {
	return r >= RegVGPStart
}

func (r Reg) String() string {
	switch r {
	case RegSP:
		return "sp"
	case RegLR:
		return "lr"
	case RegPC:
		return "pc"
	}
	switch RegisterType(r) {
	case KindGeneralPurpose:
		return fmt.Sprintf("r%d", RegisterNum(r))
	case KindDoubleVector:
		return fmt.Sprintf("d%d", RegisterNum(r))
	case KindQuadVector:
		return fmt.Sprintf("q%d", RegisterNum(r))
	case KindVirtualGeneralPurpose:
		return fmt.Sprintf("v%d", RegisterNum(r))
	case KindVirtualDoubleVector:
		return fmt.Sprintf("vd%d", RegisterNum(r))
	default:
		return fmt.Sprintf("vq%d", RegisterNum(r))
	}
}
