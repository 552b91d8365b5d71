// pass.go - 后端优化 pass 框架
//
// pass 之间通过命名的数据仓库传递分析结果：
// 指令选择写入 MIR 变量到虚拟寄存器的映射，
// 图着色写入每个函数的着色结果，寄存器分配读取两者。

package optimization

import (
	"github.com/haswelliris/indigo/internal/arm"
	"github.com/haswelliris/indigo/internal/mir"
)

// 数据仓库的键名
const (
	BasicBlockOrderingDataName   = "basic_block_ordering"
	MirVariableToArmVRegDataName = "mir_variable_to_vreg"
	GraphColorDataName           = "graph_color"
)

// ExtraDataRepo pass 间共享数据仓库，键为上面的常量
type ExtraDataRepo map[string]any

// BasicBlockOrdering 函数名到基本块排列的映射
type BasicBlockOrdering map[string][]uint32

// VarRegMap 单个函数内 MIR 变量到 ARM 虚拟寄存器的映射
type VarRegMap map[mir.VarId]arm.Reg

// MirVariableToArmVReg 函数名到变量映射的映射
type MirVariableToArmVReg map[string]VarRegMap

// ColorMap 图着色结果：变量到颜色的映射，-1 表示溢出
type ColorMap map[mir.VarId]int

// GraphColorResult 函数名到着色结果的映射
type GraphColorResult map[string]ColorMap

// ArmPass 作用在 ARM 汇编层的 pass
type ArmPass interface {
	Name() string
	OptimizeArm(code *arm.ArmCode, repo ExtraDataRepo) error
}
