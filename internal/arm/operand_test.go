// operand_test.go - 操作数测试

package arm

import "testing"

// TestIsValidImmediate 测试 ARM 立即数编码判定：
// 8 位有效载荷循环右移偶数位。
func TestIsValidImmediate(t *testing.T) {
	cases := []struct {
		val   uint32
		valid bool
	}{
		{0, true},
		{1, true},
		{0xff, true},
		{0x100, true},       // 1 ror 24
		{0x102, false},      // 需要奇数位旋转
		{0x104, true},       // 0x41 ror 30
		{0x3f0, true},       // 0x3f ror 28
		{0xff0, true},       // 0xff ror 28
		{0x101, false},      // 载荷超过 8 位
		{0x1010, false},     // 跨度 9 位
		{0xff000000, true},  // 0xff ror 8
		{0xf000000f, true},  // 0xff ror 4
		{0xff0000ff, false}, // 两段载荷
		{0x0001fe00, false}, // 0xff << 9，只能用奇数位旋转得到
		{0x0003fc00, true},  // 0xff << 10
	}
	for _, c := range cases {
		if got := IsValidImmediate(c.val); got != c.valid {
			t.Errorf("IsValidImmediate(%#x) = %v, want %v", c.val, got, c.valid)
		}
	}
}

// TestOperand2String 测试第二操作数的文本形式
func TestOperand2String(t *testing.T) {
	if got := Imm(42).String(); got != "#42" {
		t.Errorf("imm = %q", got)
	}
	if got := Imm(-1).String(); got != "#-1" {
		t.Errorf("imm = %q", got)
	}
	if got := NewRegOperand(3).String(); got != "r3" {
		t.Errorf("reg = %q", got)
	}
	shifted := RegisterOperand{Reg: 5, Shift: ShiftLsl, ShiftAmount: 2}
	if got := shifted.String(); got != "r5, LSL #2" {
		t.Errorf("shifted = %q", got)
	}
	rrx := RegisterOperand{Reg: 5, Shift: ShiftRrx}
	if got := rrx.String(); got != "r5, RRX" {
		t.Errorf("rrx = %q", got)
	}
}

// TestMemoryOperandString 测试内存操作数的三种寻址形式
func TestMemoryOperandString(t *testing.T) {
	m := NewMemOperand(RegSP, 8)
	if got := m.String(); got != "[sp, #8]" {
		t.Errorf("offset form = %q", got)
	}

	m.Kind = MemPreIndex
	if got := m.String(); got != "[sp, #8]!" {
		t.Errorf("pre-index form = %q", got)
	}

	m.Kind = MemPostIndex
	if got := m.String(); got != "[sp], #8" {
		t.Errorf("post-index form = %q", got)
	}

	reg := MemoryOperand{R1: 1, Offset: NewRegOperand(2), Kind: MemOffset, NegRm: true}
	if got := reg.String(); got != "[r1, -r2]" {
		t.Errorf("negative register offset = %q", got)
	}
}
