// Package regalloc implements the online register allocator described
// in spec.md §4.1: a single forward pass over the IL with no prior
// liveness analysis, resolving register pressure by spilling the
// least-recently-used virtual register to a statically allocated
// memory slot.
//
// This is deliberately not the teacher's offline linear-scan allocator
// (internal/codegen/regalloc in the teacher repo, which builds live
// intervals up front via a liveness pass and allocates over sorted
// intervals). spec.md calls for an online allocator with no liveness
// analysis at all, so the algorithm here is grounded instead on the
// reference compiler's AssignRegister/FindFreeRealReg/
// SelectVirtualRegisterToSpill trio (original_source/generate.c): a
// linear free-register scan, and LRU-with-admission-rule spill
// selection. The teacher contributes the Go shape (typed allocation
// records, categorized errors, the test style) rather than the
// algorithm itself.
package regalloc

import (
	"fmt"
	"io"

	"github.com/lucent-lang/lucentc/internal/cgerrors"
	"github.com/lucent-lang/lucentc/internal/target"
)

// MaxVReg is the largest virtual register id the allocator accepts,
// per spec.md §3 ("a small positive integer identifier (<=127 per
// function)"). vreg 0 is never valid, which is what lets the
// physical-register table use 0 to mark a free slot.
const MaxVReg = 127

// notResident marks a vreg record with no current physical register.
const notResident = -1

// vregRecord is the per-vreg assignment record from spec.md §3:
// currentPhysical is the physical slot (an index into
// target.ScratchRegs) holding the vreg's value, or notResident, and
// spillLabel is the numeric .data label once one has been allocated
// (0 = unassigned, and it never changes once set).
type vregRecord struct {
	currentPhysical int
	spillLabel      int
}

// Logger is the minimal hook the allocator uses to report spill and
// reload decisions. It is satisfied by a no-op by default; callers
// that want visibility (the CLI, via internal/clilog) pass their own.
type Logger interface {
	Debugf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}

// Allocator is the register allocator. It is not safe for concurrent
// use; spec.md's core is purely sequential (§5).
type Allocator struct {
	out     io.Writer
	logger  Logger
	records map[int]*vregRecord

	regs  [target.NumScratchRegs]int // regs[p] = vreg occupying physical p, 0 = free
	order [target.NumScratchRegs]int // reference-order tick stamped at last use of physical p

	spillOrder []int // spill labels in the order they were assigned, for stable .data emission
	tick       int
	nextLabel  func() int
}

// New creates an allocator that writes spill/reload instructions to
// out, numbering its own spill labels starting at 1.
func New(out io.Writer) *Allocator {
	n := 0
	return NewWithLabelSource(out, func() int {
		n++
		return n
	})
}

// NewWithLabelSource creates an allocator whose spill labels are drawn
// from nextLabel rather than a private counter. Callers that also mint
// labels of their own (string-literal islands, user Label ops) use
// this to share a single numbering scheme, matching the single global
// label counter the reference compiler uses for every kind of label.
func NewWithLabelSource(out io.Writer, nextLabel func() int) *Allocator {
	a := &Allocator{out: out, logger: noopLogger{}, nextLabel: nextLabel}
	a.Reset()

	return a
}

// SetLogger installs a debug logger. Passing nil restores the no-op logger.
func (a *Allocator) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}

	a.logger = l
}

// Reset clears the physical-register table, the reference-order tick,
// and every vreg record. It is called implicitly on FuncBegin
// (spec.md §3's per-function lifecycle): vreg ids restart at 1 in
// each function, so "vreg 3" in one function and "vreg 3" in the next
// are unrelated identities, and carrying the first function's record
// forward would wrongly reload the second's vreg 3 from the first's
// spill slot. The spill directory (the labels already recorded in
// spillOrder) is untouched by Reset: it accumulates
// across the whole translation unit and is flushed once, after the
// last function.
func (a *Allocator) Reset() {
	a.records = make(map[int]*vregRecord)

	for p := 0; p < target.NumScratchRegs; p++ {
		a.regs[p] = 0
		a.order[p] = 0
	}

	a.tick = 1
}

func (a *Allocator) record(vreg int) (*vregRecord, error) {
	if vreg < 1 || vreg > MaxVReg {
		return nil, cgerrors.OutOfRangeVReg(vreg, MaxVReg)
	}

	rec, ok := a.records[vreg]
	if !ok {
		rec = &vregRecord{currentPhysical: notResident}
		a.records[vreg] = rec
	}

	return rec, nil
}

func regName(physical int) string { return target.ScratchRegs[physical] }

// RequestAny ensures vreg is resident in some physical register and
// returns that register's name. If vreg is already resident, it only
// touches the reference order. Otherwise it finds a free physical
// register (spilling the LRU occupant if necessary) and reloads vreg
// from its memory slot if one exists.
func (a *Allocator) RequestAny(vreg int) (string, error) {
	rec, err := a.record(vreg)
	if err != nil {
		return "", err
	}

	if rec.currentPhysical != notResident {
		a.touch(rec.currentPhysical)
		return regName(rec.currentPhysical), nil
	}

	physical, err := a.findFreeOrSpill()
	if err != nil {
		return "", err
	}

	if rec.spillLabel != 0 {
		fmt.Fprintf(a.out, "mov %s, [rip + L%d]\n", regName(physical), rec.spillLabel)
		a.logger.Debugf("vreg %d reloaded from L%d into %s", vreg, rec.spillLabel, regName(physical))
	}

	a.regs[physical] = vreg
	rec.currentPhysical = physical
	a.touch(physical)

	return regName(physical), nil
}

// Pin ensures vreg resides in the specifically named physical
// register (physical is an index into target.ScratchRegs). If some
// other vreg occupies physical, that occupant is spilled first; if
// vreg is currently elsewhere, its value is moved; if vreg is only in
// memory, it is reloaded directly into physical.
func (a *Allocator) Pin(vreg, physical int) (string, error) {
	if physical < 0 || physical >= target.NumScratchRegs {
		return "", cgerrors.New(cgerrors.CategoryOutOfRangeVReg,
			fmt.Sprintf("physical register index %d out of range", physical),
			map[string]any{"physical": physical})
	}

	rec, err := a.record(vreg)
	if err != nil {
		return "", err
	}

	name := regName(physical)

	if rec.currentPhysical == physical {
		a.touch(physical)
		return name, nil
	}

	if occupant := a.regs[physical]; occupant != 0 {
		a.spillPhysical(physical)
	}

	switch {
	case rec.currentPhysical != notResident:
		other := rec.currentPhysical
		fmt.Fprintf(a.out, "mov %s, %s\n", name, regName(other))
		a.regs[other] = 0
		rec.currentPhysical = notResident
	case rec.spillLabel != 0:
		fmt.Fprintf(a.out, "mov %s, [rip + L%d]\n", name, rec.spillLabel)
	}

	a.regs[physical] = vreg
	rec.currentPhysical = physical
	a.touch(physical)

	return name, nil
}

// SpillPhysical spills whatever vreg currently occupies the named
// physical register, if any. Used where only one specific register
// needs to be vacated ahead of an instruction that clobbers it (the
// data register ahead of imul/idiv), rather than the whole table.
func (a *Allocator) SpillPhysical(physical int) error {
	if physical < 0 || physical >= target.NumScratchRegs {
		return cgerrors.New(cgerrors.CategoryOutOfRangeVReg,
			fmt.Sprintf("physical register index %d out of range", physical),
			map[string]any{"physical": physical})
	}

	if a.regs[physical] != 0 {
		a.spillPhysical(physical)
	}

	return nil
}

// SpillAll spills every currently resident vreg to its memory slot.
// Used by the emitter before calls and at label boundaries so that
// any jumping-in predecessor sees an empty allocator state. It never
// fails: the returned error is always nil.
func (a *Allocator) SpillAll() error {
	for p := 0; p < target.NumScratchRegs; p++ {
		if a.regs[p] != 0 {
			a.spillPhysical(p)
		}
	}

	return nil
}

// touch advances the global tick and stamps physical's reference
// order. Called on every successful resolution (resident, reloaded,
// or pinned) -- never on a spill, per spec.md §4.1.
func (a *Allocator) touch(physical int) {
	a.order[physical] = a.tick
	a.tick++
}

// spillPhysical spills whatever vreg currently occupies physical.
// Does not advance the tick.
func (a *Allocator) spillPhysical(physical int) {
	vreg := a.regs[physical]
	rec := a.records[vreg] // always present: regs[p] only ever holds a vreg with a record

	if rec.spillLabel == 0 {
		rec.spillLabel = a.nextLabel()
		a.spillOrder = append(a.spillOrder, rec.spillLabel)
	}

	fmt.Fprintf(a.out, "mov [rip + L%d], %s\n", rec.spillLabel, regName(physical))
	a.logger.Debugf("vreg %d spilled from %s to L%d", vreg, regName(physical), rec.spillLabel)

	a.regs[physical] = 0
	rec.currentPhysical = notResident
}

// findFreeOrSpill returns a free physical register, spilling the LRU
// occupant (per the admission rule below) if none is free.
func (a *Allocator) findFreeOrSpill() (int, error) {
	if p := a.findFree(); p >= 0 {
		return p, nil
	}

	victim, err := a.selectSpillVictim()
	if err != nil {
		return 0, err
	}

	a.spillPhysical(victim)

	if p := a.findFree(); p >= 0 {
		return p, nil
	}
	// Unreachable given selectSpillVictim just freed one, but keep the
	// allocator's failure mode explicit rather than silently looping.
	return 0, cgerrors.AllocatorExhausted(a.tick, target.NumScratchRegs)
}

func (a *Allocator) findFree() int {
	for p := 0; p < target.NumScratchRegs; p++ {
		if a.regs[p] == 0 {
			return p
		}
	}

	return -1
}

// selectSpillVictim implements the LRU-with-admission-rule selector
// from spec.md §4.1: the first occupied physical register whose
// reference-order counter is at least NumScratchRegs ticks behind the
// current tick. If none qualifies, every scratch register was touched
// within the admission window and the allocator is exhausted -- a
// fatal condition the IL builder is responsible for never provoking.
func (a *Allocator) selectSpillVictim() (int, error) {
	for p := 0; p < target.NumScratchRegs; p++ {
		if a.regs[p] != 0 && a.order[p] <= a.tick-target.NumScratchRegs {
			return p, nil
		}
	}

	return 0, cgerrors.AllocatorExhausted(a.tick, target.NumScratchRegs)
}

// SpillLabels returns the accumulated spill directory in the order
// labels were assigned, suitable for emitting the trailing .data
// section once, after the last op of the translation unit.
func (a *Allocator) SpillLabels() []int {
	labels := make([]int, len(a.spillOrder))
	copy(labels, a.spillOrder)

	return labels
}
