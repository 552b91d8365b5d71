// pass_test.go - 寄存器分配 pass 测试

package codegen

import (
	stdjson "encoding/json"
	"strings"
	"testing"

	"github.com/haswelliris/indigo/internal/arm"
	"github.com/haswelliris/indigo/internal/config"
	"github.com/haswelliris/indigo/internal/mir"
	"github.com/haswelliris/indigo/internal/optimization"
)

var _ optimization.ArmPass = (*RegAllocatePass)(nil)

// TestOptimizeArm 测试 pass 对翻译单元的并行分配
func TestOptimizeArm(t *testing.T) {
	code := &arm.ArmCode{
		Functions: []*arm.Function{
			skeletonFunc("first", 0,
				&arm.Arith2Inst{Op: arm.OpMov, R1: v0, R2: arm.Imm(1)},
				&arm.Arith3Inst{Op: arm.OpAdd, Rd: 0, R1: v0, R2: arm.Imm(1)},
			),
			skeletonFunc("second", 0,
				&arm.Arith2Inst{Op: arm.OpMov, R1: v1, R2: arm.Imm(2)},
				&arm.BrInst{Op: arm.OpBl, Label: "first"},
				&arm.Arith3Inst{Op: arm.OpAdd, Rd: 0, R1: v1, R2: arm.Imm(1)},
			),
		},
	}
	repo := optimization.ExtraDataRepo{
		optimization.MirVariableToArmVRegDataName: optimization.MirVariableToArmVReg{
			"first":  {mir.VarId(1): v0},
			"second": {},
		},
		optimization.GraphColorDataName: optimization.GraphColorResult{
			"first": {mir.VarId(1): 0},
		},
	}

	pass := NewRegAllocatePass(config.Default(), nil)
	if pass.Name() != "reg_allocate" {
		t.Errorf("pass name = %q", pass.Name())
	}
	if err := pass.OptimizeArm(code, repo); err != nil {
		t.Fatalf("OptimizeArm: %v", err)
	}

	for _, f := range code.Functions {
		assertNoVirtuals(t, f)
	}
	if code.Functions[1].IsLeafFunc {
		t.Error("second calls first, not a leaf")
	}
	if got := pass.Stats().Functions.Load(); got != 2 {
		t.Errorf("functions processed = %d, want 2", got)
	}

	reports, ok := repo[RegAllocReportDataName].([]*AllocationReport)
	if !ok || len(reports) != 2 {
		t.Fatalf("reports = %v", repo[RegAllocReportDataName])
	}
	if reports[0].Function != "first" || reports[1].Function != "second" {
		t.Errorf("report order = %q, %q", reports[0].Function, reports[1].Function)
	}
	// first 的 v0 着色到 r4
	found := false
	for _, r := range reports[0].SavedRegs {
		if r == "r4" {
			found = true
		}
	}
	if !found {
		t.Errorf("first should save r4: %v", reports[0].SavedRegs)
	}
}

// TestOptimizeArmError 测试失败的函数通过聚合错误上报
func TestOptimizeArmError(t *testing.T) {
	code := &arm.ArmCode{
		Functions: []*arm.Function{
			skeletonFunc("good", 0,
				&arm.Arith2Inst{Op: arm.OpMov, R1: 0, R2: arm.Imm(0)},
			),
			skeletonFunc("bad", 0,
				&arm.MultLoadStoreInst{Op: arm.OpLdM, Rn: 0, Rd: []arm.Reg{1}},
			),
		},
	}
	pass := NewRegAllocatePass(nil, nil)
	err := pass.OptimizeArm(code, optimization.ExtraDataRepo{})
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("err = %v, want failure naming the bad function", err)
	}
}

// TestWriteJSON 测试分配报告的序列化
func TestWriteJSON(t *testing.T) {
	reports := []*AllocationReport{{
		Function:   "main",
		StackSize:  8,
		SpillSlots: 2,
		SavedRegs:  []string{"r4"},
		IsLeaf:     true,
		Intervals:  []IntervalReport{{Reg: "v0", Start: 1, End: 4}},
	}}

	var sb strings.Builder
	if err := WriteJSON(&sb, reports); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var decoded []AllocationReport
	if err := stdjson.Unmarshal([]byte(sb.String()), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, sb.String())
	}
	if len(decoded) != 1 || decoded[0].Function != "main" || decoded[0].StackSize != 8 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded[0].Intervals[0].Reg != "v0" {
		t.Errorf("interval = %+v", decoded[0].Intervals[0])
	}
}
