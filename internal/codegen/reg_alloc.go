// reg_alloc.go - ARM 寄存器分配器
//
// 对单个函数做线性扫描寄存器分配：把指令序列中的虚拟寄存器改写成物理
// 寄存器，必要时插入溢出的 ldr/str，最后修补序言/尾声里的 push/pop 和
// 栈帧分配。图着色 pass 预先决定了跨块变量的归宿（被调者保存寄存器或
// 固定栈槽），块内的临时值由这里在线分配。
//
// 分配器独占函数的可变状态，单线程顺序执行；多个函数可以并行分配。

package codegen

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/haswelliris/indigo/internal/arm"
	"github.com/haswelliris/indigo/internal/optimization"
)

// intervalMax 物理寄存器被强制占用时的区间终点
const intervalMax = int(^uint32(0) >> 1)

// regNone 尚未选出寄存器
const regNone = ^arm.Reg(0)

// Interval 活跃区间。Start 是首次定义的指令下标，End 是最后一次读取的
// 指令下标；重叠测试按半开语义处理，首尾相接（一个在另一个最后读取处
// 定义）不算冲突。
type Interval struct {
	Start int
	End   int
}

func newInterval(pt int) Interval {
	return Interval{Start: pt, End: pt}
}

func (iv *Interval) addStartingPoint(start int) {
	if start < iv.Start {
		iv.Start = start
	}
}

func (iv *Interval) addEndingPoint(end int) {
	if end > iv.End {
		iv.End = end
	}
}

func (iv Interval) withStartingPoint(start int) Interval {
	iv.Start = start
	return iv
}

// Overlaps 判断两个区间是否冲突
func (iv Interval) Overlaps(other Interval) bool {
	return iv.End > other.Start && iv.Start < other.End
}

// replaceWriteKind 写操作数的改写类别
type replaceWriteKind int

const (
	writePhys replaceWriteKind = iota
	writeGraph
	writeSpill
	writeTransient
)

// replaceWriteAction 预先算出的写改写动作，指令写入输出后再提交
type replaceWriteAction struct {
	from        arm.Reg
	replaceWith arm.Reg
	kind        replaceWriteKind
}

// regPair 活跃表表项：虚拟寄存器及其当前所在的物理寄存器
type regPair struct {
	virt arm.Reg
	phys arm.Reg
}

// delayedStore 被窥孔取消的 str，待当前指令写入输出后补回
type delayedStore struct {
	virt arm.Reg
	phys arm.Reg
}

// bbPoint 基本块标签的位置
type bbPoint struct {
	point int
	bb    uint32
}

// affinePair mov 拷贝亲和项
type affinePair struct {
	dst arm.Reg
	src arm.Reg
}

// allocFailure 分配器内部不变量被破坏，携带活跃集转储
type allocFailure struct {
	msg string
}

func (e *allocFailure) Error() string { return e.msg }

// RegAllocator 单个函数的寄存器分配器
type RegAllocator struct {
	f        *arm.Function
	colorMap optimization.ColorMap
	mirToArm optimization.VarRegMap
	log      *zap.SugaredLogger
	stats    *PassStats

	usedRegs     map[arm.Reg]struct{}
	usedRegsTemp map[arm.Reg]struct{}
	bbUsedRegs   map[uint32]map[arm.Reg]struct{}
	pointBBMap   []bbPoint

	liveIntervals map[arm.Reg]*Interval
	regMap        map[arm.Reg]arm.Reg
	regReverseMap map[arm.Reg][]arm.Reg
	// active 物理寄存器到占用区间；activeRegMap 按分配先后排序的反向
	// 映射，队头最老，是逐出的牺牲者
	active       map[arm.Reg]Interval
	activeRegMap []regPair

	spilledRegs          map[arm.Reg]Interval
	spillPositions       map[arm.Reg]int
	spilledCrossBlockReg map[arm.Reg]struct{}

	regAssignCount map[arm.Reg]int
	regAffine      []affinePair
	affineSeen     map[arm.Reg]struct{}
	regCollapse    map[arm.Reg]arm.Reg

	instSink []arm.Inst
	blPoints []int
	wroteTo  map[arm.Reg]struct{}

	stackSize   int
	stackOffset int
	delayed     *delayedStore

	bbReset    bool
	isLeafFunc bool

	curCond arm.ConditionCode
}

// NewRegAllocator 创建寄存器分配器。colorMap 和 mirToArm 是借用的分析
// 结果；logger 为 nil 时静默。
func NewRegAllocator(f *arm.Function, colorMap optimization.ColorMap,
	mirToArm optimization.VarRegMap, logger *zap.SugaredLogger) *RegAllocator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RegAllocator{
		f:        f,
		colorMap: colorMap,
		mirToArm: mirToArm,
		log:      logger,

		usedRegs:     map[arm.Reg]struct{}{},
		usedRegsTemp: map[arm.Reg]struct{}{},
		bbUsedRegs:   map[uint32]map[arm.Reg]struct{}{},

		liveIntervals: map[arm.Reg]*Interval{},
		regMap:        map[arm.Reg]arm.Reg{},
		regReverseMap: map[arm.Reg][]arm.Reg{},
		active:        map[arm.Reg]Interval{},

		spilledRegs:          map[arm.Reg]Interval{},
		spillPositions:       map[arm.Reg]int{},
		spilledCrossBlockReg: map[arm.Reg]struct{}{},

		regAssignCount: map[arm.Reg]int{},
		affineSeen:     map[arm.Reg]struct{}{},
		regCollapse:    map[arm.Reg]arm.Reg{},

		wroteTo: map[arm.Reg]struct{}{},

		stackSize:  f.StackSize,
		bbReset:    true,
		isLeafFunc: true,
		curCond:    arm.CondAlways,
	}
}

// AllocRegs 执行整个分配流水线
func (ra *RegAllocator) AllocRegs() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if fail, ok := r.(*allocFailure); ok {
				err = fmt.Errorf("register allocation of %s failed: %w", ra.f.Name, fail)
				return
			}
			panic(r)
		}
	}()

	ra.constructRegMap()
	ra.calcLiveIntervals()
	ra.calcRegAffinity()
	ra.performLoadStores()

	ra.f.Inst = ra.instSink
	ra.f.StackSize = ra.stackSize
	ra.f.IsLeafFunc = ra.isLeafFunc

	if err := ra.patchPrologueEpilogue(); err != nil {
		return fmt.Errorf("register allocation of %s failed: %w", ra.f.Name, err)
	}
	return nil
}

// fatal 内部不变量被破坏，带活跃集转储中止
func (ra *RegAllocator) fatal(format string, args ...any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, format, args...)
	sb.WriteString("\ndump:\n")
	regs := make([]arm.Reg, 0, len(ra.active))
	for r := range ra.active {
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
	for _, r := range regs {
		iv := ra.active[r]
		fmt.Fprintf(&sb, "  %s: [%d, %d]\n", r, iv.Start, iv.End)
	}
	sb.WriteString("map:\n")
	for _, p := range ra.activeRegMap {
		fmt.Fprintf(&sb, "  %s -> %s\n", p.virt, p.phys)
	}
	panic(&allocFailure{msg: sb.String()})
}

// getCollapseReg 追溯拷贝合并链的根，做路径压缩
func (ra *RegAllocator) getCollapseReg(r arm.Reg) arm.Reg {
	next, ok := ra.regCollapse[r]
	if !ok {
		return r
	}
	root := ra.getCollapseReg(next)
	ra.regCollapse[r] = root
	return root
}

// getOrAllocSpillPos 取得或分配虚拟寄存器的溢出槽
func (ra *RegAllocator) getOrAllocSpillPos(r arm.Reg) int {
	if pos, ok := ra.spillPositions[r]; ok {
		return pos
	}
	pos := ra.stackSize
	ra.stackSize += 4
	ra.spillPositions[r] = pos
	if ra.stats != nil {
		ra.stats.SpillSlots.Inc()
	}
	return pos
}

// findActivePair 在活跃表里查找虚拟寄存器，返回下标，找不到为 -1
func (ra *RegAllocator) findActivePair(virt arm.Reg) int {
	for i, p := range ra.activeRegMap {
		if p.virt == virt {
			return i
		}
	}
	return -1
}

// touchActivePair 把表项移到队尾（最近使用）
func (ra *RegAllocator) touchActivePair(idx int) regPair {
	p := ra.activeRegMap[idx]
	ra.activeRegMap = append(ra.activeRegMap[:idx], ra.activeRegMap[idx+1:]...)
	ra.activeRegMap = append(ra.activeRegMap, p)
	return p
}

// removeActivePairByPhys 按物理寄存器移除第一个匹配的表项
func (ra *RegAllocator) removeActivePairByPhys(phys arm.Reg) {
	for i, p := range ra.activeRegMap {
		if p.phys == phys {
			ra.activeRegMap = append(ra.activeRegMap[:i], ra.activeRegMap[i+1:]...)
			return
		}
	}
}

// invalidateRead 释放活跃区间已经结束的物理寄存器
func (ra *RegAllocator) invalidateRead(pos int) {
	for r, iv := range ra.active {
		if iv.End <= pos {
			ra.removeActivePairByPhys(r)
			delete(ra.active, r)
		}
	}
}

// spillStore 生成一条向溢出槽写回的 str
func (ra *RegAllocator) spillStore(phys arm.Reg, pos int) *arm.LoadStoreInst {
	return &arm.LoadStoreInst{
		Op:   arm.OpStR,
		Rd:   phys,
		Mem:  arm.NewMemOperand(arm.RegSP, int16(pos+ra.stackOffset)),
		Cond: ra.curCond,
	}
}

// spillLoad 生成一条从溢出槽重新装载的 ldr
func (ra *RegAllocator) spillLoad(phys arm.Reg, pos int) *arm.LoadStoreInst {
	return &arm.LoadStoreInst{
		Op:   arm.OpLdR,
		Rd:   phys,
		Mem:  arm.NewMemOperand(arm.RegSP, int16(pos+ra.stackOffset)),
		Cond: ra.curCond,
	}
}

// blCrosses 判断区间内是否有调用点（闭区间）
func (ra *RegAllocator) blCrosses(iv Interval) bool {
	lo := sort.SearchInts(ra.blPoints, iv.Start)
	return lo < len(ra.blPoints) && ra.blPoints[lo] <= iv.End
}

// allocTransientReg 为临时值分配物理寄存器。
// 已在活跃表中则按 LRU 复用；否则按区间是否跨调用挑选寄存器池：
// 跨调用优先用尚未占用的被调者保存寄存器（记入 usedRegsTemp 以便序言
// 保存），不跨调用优先用临时池。两个池都用尽时逐出最老的活跃表项。
func (ra *RegAllocator) allocTransientReg(iv Interval, orig arm.Reg) arm.Reg {
	if idx := ra.findActivePair(orig); idx >= 0 {
		return ra.touchActivePair(idx).phys
	}

	r := regNone
	allocUsingTemp := func() {
		if r != regNone {
			return
		}
		for _, reg := range arm.TempRegs {
			if _, ok := ra.active[reg]; !ok {
				r = reg
				return
			}
		}
	}
	allocUsingGlob := func() {
		if r != regNone {
			return
		}
		for _, reg := range arm.GlobRegs {
			_, inActive := ra.active[reg]
			_, inUsed := ra.usedRegs[reg]
			if !inActive && !inUsed {
				r = reg
				ra.usedRegsTemp[reg] = struct{}{}
				return
			}
		}
	}

	if ra.blCrosses(iv) {
		allocUsingGlob()
		allocUsingTemp()
	} else {
		allocUsingTemp()
		allocUsingGlob()
	}

	if r == regNone {
		// 逐出最早分配的活跃表项
		if len(ra.activeRegMap) == 0 {
			ra.fatal("failed to allocate: all active registers are temporary!")
		}
		victim := ra.activeRegMap[0]
		ra.activeRegMap = ra.activeRegMap[1:]
		interval := ra.active[victim.phys]
		interval.Start = iv.Start
		spillPos := ra.getOrAllocSpillPos(victim.virt)
		ra.instSink = append(ra.instSink, ra.spillStore(victim.phys, spillPos))
		ra.log.Debugw("spilling", "phys", victim.phys, "virt", victim.virt, "pos", spillPos)
		if ra.stats != nil {
			ra.stats.Evictions.Inc()
		}

		r = victim.phys
		ra.spilledRegs[victim.virt] = interval
		delete(ra.active, victim.phys)
	}

	ra.active[r] = iv
	ra.activeRegMap = append(ra.activeRegMap, regPair{virt: orig, phys: r})
	return r
}

// forceFree 强制释放一个物理寄存器。若它正持有某个虚拟寄存器，则给该
// 虚拟寄存器分配溢出槽并（按需）写回，然后从活跃集中移除。
func (ra *RegAllocator) forceFree(r arm.Reg, alsoEraseMap, writeBack bool) {
	if ra.delayed != nil && ra.delayed.phys == r {
		// 被延后的写回必须赶在寄存器被覆盖前落盘
		d := *ra.delayed
		ra.delayed = nil
		ra.replaceWrite(replaceWriteAction{from: d.virt, replaceWith: d.phys, kind: writeSpill}, 0)
	}
	iv, ok := ra.active[r]
	if !ok {
		return
	}
	for _, p := range ra.activeRegMap {
		if p.phys != r {
			continue
		}
		stackPos := ra.getOrAllocSpillPos(p.virt)
		if writeBack {
			ra.instSink = append(ra.instSink, ra.spillStore(r, stackPos))
		}
		ra.spilledRegs[p.virt] = iv
		ra.log.Debugw("force free", "phys", r, "virt", p.virt, "pos", stackPos+ra.stackOffset)
		delete(ra.active, r)
		if alsoEraseMap {
			ra.removeActivePairByVirt(p.virt)
		}
		return
	}
	// 没有反向表项：被强制占用的寄存器（调用参数、跨调用的 lr），留在
	// 活跃集中等待显式清除
	ra.log.Debugw("force free: pinned, not released", "phys", r)
}

// removeActivePairByVirt 按虚拟寄存器移除第一个匹配的表项
func (ra *RegAllocator) removeActivePairByVirt(virt arm.Reg) {
	for i, p := range ra.activeRegMap {
		if p.virt == virt {
			ra.activeRegMap = append(ra.activeRegMap[:i], ra.activeRegMap[i+1:]...)
			return
		}
	}
}
