// varid.go - MIR 变量标识
//
// 本包只暴露后端需要的最小 MIR 表面：变量编号。
// 指令选择阶段把每个 MIR 变量映射到一个 ARM 虚拟寄存器，
// 寄存器分配阶段通过 VarId 查询图着色结果。

package mir

import "fmt"

// VarId MIR 变量编号
type VarId uint32

func (v VarId) String() string {
	return fmt.Sprintf("$%d", uint32(v))
}
