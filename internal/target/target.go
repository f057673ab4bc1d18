// Package target holds the handful of facts about the destination
// platform the backend needs: which kernel decorates symbol names, and
// the fixed ABI register order System V AMD64 dictates for scratch and
// argument registers.
package target

// Kernel selects the target-OS symbol-decoration convention.
type Kernel int

const (
	Linux Kernel = iota
	Darwin
)

// Prefix returns the symbol-name prefix for externally visible symbols
// on this kernel: Mach-O requires a leading underscore, ELF does not.
func (k Kernel) Prefix() string {
	if k == Darwin {
		return "_"
	}

	return ""
}

// Symbol decorates name for use in .global/call/lea operands.
func (k Kernel) Symbol(name string) string {
	return k.Prefix() + name
}

// NumScratchRegs is the number of physical scratch registers the
// allocator has to work with. The LRU-with-admission-rule spill
// selector in internal/regalloc treats this as its lookback window.
const NumScratchRegs = 9

// ScratchRegs lists the physical scratch registers in allocation
// order. The six after the accumulator double as the System V
// argument registers in the same order, which is why LoadArg/Call argument pinning can
// index directly into this slice: ScratchRegs[0] is the accumulator
// (return value register), and ScratchRegs[1:7] are the six argument
// registers in ABI order.
var ScratchRegs = [NumScratchRegs]string{
	"rax", "rdi", "rsi", "rdx", "rcx", "r8", "r9", "r10", "r11",
}

// Accumulator is the register multiplication, division, comparisons,
// and Return all funnel their result through.
const Accumulator = 0

// DataReg is the register multiplication and division clobber (and the
// one Mod reads its remainder from); CountReg is the register division
// and the shift instructions pin their right operand to.
const (
	DataReg  = 3 // rdx
	CountReg = 4 // rcx
)

// MaxArgRegs is the number of argument registers available before an
// argument would need to spill to the stack. lucentc's IL never
// constructs calls with more arguments than this; spec.md's scope
// does not define stack-passed arguments.
const MaxArgRegs = 6

// ArgReg returns the physical register index (into ScratchRegs) for
// the i-th System V argument, 0-based. i must be in [0, MaxArgRegs).
func ArgReg(i int) int { return 1 + i }
