// pass.go - 寄存器分配 pass
//
// 从数据仓库取出指令选择与图着色的结果，对翻译单元里的函数并行做
// 寄存器分配。每个分配器独占自己的函数，互不共享可变状态。

package codegen

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/segmentio/encoding/json"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/haswelliris/indigo/internal/arm"
	"github.com/haswelliris/indigo/internal/config"
	"github.com/haswelliris/indigo/internal/optimization"
)

// RegAllocReportDataName 分配报告在数据仓库里的键
const RegAllocReportDataName = "reg_alloc_report"

// PassStats 跨函数累计的分配统计
type PassStats struct {
	Functions  atomic.Int64
	SpillSlots atomic.Int64
	Evictions  atomic.Int64
}

// IntervalReport 报告中的活跃区间
type IntervalReport struct {
	Reg   string `json:"reg"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// AllocationReport 单个函数的分配结果摘要
type AllocationReport struct {
	Function   string           `json:"function"`
	StackSize  int              `json:"stack_size"`
	SpillSlots int              `json:"spill_slots"`
	SavedRegs  []string         `json:"saved_regs"`
	IsLeaf     bool             `json:"is_leaf"`
	Intervals  []IntervalReport `json:"intervals"`
}

// WriteJSON 序列化一组分配报告
func WriteJSON(w io.Writer, reports []*AllocationReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("failed to encode allocation report: %w", err)
	}
	return nil
}

// RegAllocatePass 寄存器分配 pass
type RegAllocatePass struct {
	opts  *config.Options
	log   *zap.SugaredLogger
	stats PassStats
}

// NewRegAllocatePass 创建寄存器分配 pass
func NewRegAllocatePass(opts *config.Options, logger *zap.SugaredLogger) *RegAllocatePass {
	if opts == nil {
		opts = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RegAllocatePass{opts: opts, log: logger}
}

// Name 实现 optimization.ArmPass
func (p *RegAllocatePass) Name() string { return "reg_allocate" }

// Stats 返回累计统计
func (p *RegAllocatePass) Stats() *PassStats { return &p.stats }

// OptimizeArm 对翻译单元里的所有函数做寄存器分配
func (p *RegAllocatePass) OptimizeArm(code *arm.ArmCode, repo optimization.ExtraDataRepo) error {
	varMapping, _ := repo[optimization.MirVariableToArmVRegDataName].(optimization.MirVariableToArmVReg)
	coloring, _ := repo[optimization.GraphColorDataName].(optimization.GraphColorResult)

	errs := make([]error, len(code.Functions))
	reports := make([]*AllocationReport, len(code.Functions))

	var wg sync.WaitGroup
	for idx, f := range code.Functions {
		wg.Add(1)
		go func(idx int, f *arm.Function) {
			defer wg.Done()
			ra := NewRegAllocator(f, coloring[f.Name], varMapping[f.Name], p.log)
			ra.stats = &p.stats
			errs[idx] = ra.AllocRegs()
			if errs[idx] == nil {
				reports[idx] = ra.report()
			}
			p.stats.Functions.Inc()
		}(idx, f)
	}
	wg.Wait()

	if err := multierr.Combine(errs...); err != nil {
		return err
	}
	repo[RegAllocReportDataName] = reports
	if p.opts.Verbose {
		for _, r := range reports {
			p.log.Infow("register allocation",
				"function", r.Function,
				"stack_size", r.StackSize,
				"spill_slots", r.SpillSlots,
				"saved_regs", r.SavedRegs,
				"is_leaf", r.IsLeaf)
		}
	}
	return nil
}

// report 汇总单个函数的分配结果
func (ra *RegAllocator) report() *AllocationReport {
	saved := ra.savedRegs()
	savedNames := make([]string, len(saved))
	for i, r := range saved {
		savedNames[i] = r.String()
	}

	regs := make([]arm.Reg, 0, len(ra.liveIntervals))
	for r := range ra.liveIntervals {
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
	intervals := make([]IntervalReport, len(regs))
	for i, r := range regs {
		iv := ra.liveIntervals[r]
		intervals[i] = IntervalReport{Reg: r.String(), Start: iv.Start, End: iv.End}
	}

	return &AllocationReport{
		Function:   ra.f.Name,
		StackSize:  ra.f.StackSize,
		SpillSlots: len(ra.spillPositions),
		SavedRegs:  savedNames,
		IsLeaf:     ra.f.IsLeafFunc,
		Intervals:  intervals,
	}
}
