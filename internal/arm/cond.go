// cond.go - ARM 条件码
//
// Invert 是条件的逻辑取反（同一比较，相反分支）；
// Reverse 是交换比较操作数后的等价条件（cmp a,b 变 cmp b,a）。
// 纯标志位测试（mi/pl/vs/vc）不是操作数的序关系，交换操作数后无等价条件，
// Reverse 对它们保持原样。

package arm

// ConditionCode 条件码
type ConditionCode int

const (
	CondAlways ConditionCode = iota
	CondEqual
	CondNotEqual
	CondCarrySet        // cs / hs
	CondCarryClear      // cc / lo
	CondUnsignedGe      // hs
	CondUnsignedLe      // ls
	CondUnsignedGt      // hi
	CondUnsignedLt      // lo
	CondMinusOrNegative // mi
	CondPositiveOrZero  // pl
	CondOverflow        // vs
	CondNoOverflow      // vc
	CondGe
	CondLt
	CondGt
	CondLe
)

func (c ConditionCode) String() string {
	switch c {
	case CondEqual:
		return "eq"
	case CondNotEqual:
		return "ne"
	case CondCarrySet:
		return "cs"
	case CondCarryClear:
		return "cc"
	case CondUnsignedGe:
		return "hs"
	case CondUnsignedLe:
		return "ls"
	case CondUnsignedGt:
		return "hi"
	case CondUnsignedLt:
		return "lo"
	case CondMinusOrNegative:
		return "mi"
	case CondPositiveOrZero:
		return "pl"
	case CondOverflow:
		return "vs"
	case CondNoOverflow:
		return "vc"
	case CondGe:
		return "ge"
	case CondLt:
		return "lt"
	case CondGt:
		return "gt"
	case CondLe:
		return "le"
	default:
		// al 是默认条件，不打印
		return ""
	}
}

// Invert 返回条件的逻辑取反
func (c ConditionCode) Invert() ConditionCode {
	switch c {
	case CondEqual:
		return CondNotEqual
	case CondNotEqual:
		return CondEqual
	case CondCarrySet:
		return CondCarryClear
	case CondCarryClear:
		return CondCarrySet
	case CondUnsignedGe:
		return CondUnsignedLt
	case CondUnsignedLt:
		return CondUnsignedGe
	case CondUnsignedGt:
		return CondUnsignedLe
	case CondUnsignedLe:
		return CondUnsignedGt
	case CondMinusOrNegative:
		return CondPositiveOrZero
	case CondPositiveOrZero:
		return CondMinusOrNegative
	case CondOverflow:
		return CondNoOverflow
	case CondNoOverflow:
		return CondOverflow
	case CondGe:
		return CondLt
	case CondLt:
		return CondGe
	case CondGt:
		return CondLe
	case CondLe:
		return CondGt
	default:
		return CondAlways
	}
}

// Reverse 返回交换比较操作数后的等价条件。
// cs 即无符号 >=，cc 即无符号 <，按序关系参与交换。
func (c ConditionCode) Reverse() ConditionCode {
	switch c {
	case CondCarrySet:
		return CondUnsignedLe
	case CondCarryClear:
		return CondUnsignedGt
	case CondUnsignedGe:
		return CondUnsignedLe
	case CondUnsignedLe:
		return CondUnsignedGe
	case CondUnsignedGt:
		return CondUnsignedLt
	case CondUnsignedLt:
		return CondUnsignedGt
	case CondGe:
		return CondLe
	case CondLe:
		return CondGe
	case CondGt:
		return CondLt
	case CondLt:
		return CondGt
	default:
		// eq/ne 对称；mi/pl/vs/vc/al 保持不变
		return c
	}
}
