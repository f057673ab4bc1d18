// Package codegen translates an internal/il.Program into x86-64
// assembly text (Intel syntax, GNU assembler dialect), resolving
// virtual registers via internal/regalloc as it goes.
//
// Grounded on the reference compiler's GenerateCode (original_source/
// generate.c): the per-opcode emission policy below reproduces that
// function's switch statement case by case, with one deliberate fix
// (LogicalAnd, noted on its case) and one deliberate redesign (the
// allocator's own spill mechanism stands in for the reference
// compiler's push/pop dance around imul, per the unified spill
// policy). The Go shape -- a stateful Emitter walking a flat op slice
// and writing through an io.Writer, with a state machine panic on
// malformed FuncBegin/FuncEnd nesting -- follows the teacher's
// internal/codegen pipeline.go/x64emit.go structure.
package codegen

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lucent-lang/lucentc/internal/cgerrors"
	"github.com/lucent-lang/lucentc/internal/il"
	"github.com/lucent-lang/lucentc/internal/regalloc"
	"github.com/lucent-lang/lucentc/internal/target"
)

type emitterState int

const (
	stateIdle emitterState = iota
	stateEmitting
)

// Emitter walks an il.Program and writes its x86-64 translation to out.
type Emitter struct {
	out    io.Writer
	alloc  *regalloc.Allocator
	kernel target.Kernel

	state       emitterState
	curFunc     string
	labelSeq    int
	declaredFns map[string]bool
}

// New creates an Emitter targeting kernel, writing assembly text to out.
func New(out io.Writer, kernel target.Kernel) *Emitter {
	e := &Emitter{out: out, kernel: kernel, declaredFns: make(map[string]bool)}
	e.alloc = regalloc.NewWithLabelSource(out, e.nextLabel)

	return e
}

func (e *Emitter) nextLabel() int {
	e.labelSeq++
	return e.labelSeq
}

// SetLogger installs a debug logger on the underlying allocator.
func (e *Emitter) SetLogger(l regalloc.Logger) { e.alloc.SetLogger(l) }

// Emit translates every op in p, in order, writing the resulting
// assembly to the Emitter's out. Global symbol declarations for every
// function defined in p are written before any instruction, matching
// the reference compiler's two-pass approach (a first pass collects
// `.global` directives, the second emits code).
func (e *Emitter) Emit(p *il.Program) error {
	fmt.Fprintln(e.out, ".intel_syntax noprefix")

	for _, fn := range p.Functions {
		fmt.Fprintf(e.out, ".global %s\n", e.kernel.Symbol(fn.Name))
		e.declaredFns[fn.Name] = true
	}

	frameSizes := make(map[string]int, len(p.Functions))
	for _, fn := range p.Functions {
		frameSizes[fn.Name] = fn.FrameSize
	}

	for i, op := range p.Ops {
		if err := e.emitOp(op, frameSizes); err != nil {
			return fmt.Errorf("codegen: op %d (%s): %w", i, op.Opcode, err)
		}
	}

	e.alloc.SpillAll() //nolint:errcheck // SpillAll never fails; see its doc comment.
	e.emitSpillData()

	return nil
}

func (e *Emitter) emitSpillData() {
	labels := e.alloc.SpillLabels()
	if len(labels) == 0 {
		return
	}

	fmt.Fprintln(e.out, ".data")

	for _, l := range labels {
		fmt.Fprintf(e.out, "L%d: .quad 0\n", l)
	}
}

func (e *Emitter) emitOp(op il.Op, frameSizes map[string]int) error {
	switch op.Opcode {
	case il.OpFuncBegin:
		return e.emitFuncBegin(op, frameSizes)
	case il.OpFuncEnd:
		return e.emitFuncEnd()
	case il.OpReturn:
		return e.emitReturn(op)
	case il.OpLoadArg:
		return e.emitLoadArg(op)
	case il.OpLoadImm:
		return e.emitLoadImm(op)
	case il.OpLoadIdent:
		return e.emitLoadIdent(op)
	case il.OpAdd:
		return e.emitPureBinOp(op, "add")
	case il.OpSub:
		return e.emitPureBinOp(op, "sub")
	case il.OpAnd:
		return e.emitPureBinOp(op, "and")
	case il.OpOr:
		return e.emitPureBinOp(op, "or")
	case il.OpXor:
		return e.emitPureBinOp(op, "xor")
	case il.OpMul:
		return e.emitMul(op)
	case il.OpDiv:
		return e.emitDivMod(op, target.Accumulator)
	case il.OpMod:
		return e.emitDivMod(op, target.DataReg)
	case il.OpShiftLeft:
		return e.emitShift(op, "sal")
	case il.OpShiftRight:
		return e.emitShift(op, "sar")
	case il.OpCmpG:
		return e.emitCompare(op, "setg")
	case il.OpCmpGE:
		return e.emitCompare(op, "setge")
	case il.OpCmpL:
		return e.emitCompare(op, "setl")
	case il.OpCmpLE:
		return e.emitCompare(op, "setle")
	case il.OpCmpE:
		return e.emitCompare(op, "sete")
	case il.OpCmpNE:
		return e.emitCompare(op, "setne")
	case il.OpSetLogicalValue:
		return e.emitSetLogicalValue(op)
	case il.OpLogicalAnd:
		return e.emitLogicalAnd(op)
	case il.OpLogicalOr:
		return e.emitLogicalOr(op)
	case il.OpWriteLocalVar:
		return e.emitWriteLocalVar(op)
	case il.OpReadLocalVar:
		return e.emitReadLocalVar(op)
	case il.OpLabel:
		return e.emitLabel(op)
	case il.OpJmpIfZero:
		return e.emitJmp(op, "je")
	case il.OpJmpIfNotZero:
		return e.emitJmp(op, "jne")
	case il.OpCall:
		return e.emitCall(op)
	default:
		return cgerrors.UnknownOpcode(op.Opcode)
	}
}

func (e *Emitter) emitFuncBegin(op il.Op, frameSizes map[string]int) error {
	if e.state != stateIdle {
		panic("codegen: FuncBegin while already emitting " + e.curFunc)
	}

	fn, ok := frameSizeOwner(op)
	if !ok {
		return cgerrors.MalformedIL(op.Opcode, "FuncMeta-bearing payload")
	}

	size, ok := frameSizes[fn]
	if !ok {
		return cgerrors.MalformedIL(op.Opcode, "a function name present in Program.Functions")
	}

	e.state = stateEmitting
	e.curFunc = fn
	e.alloc.Reset()

	fmt.Fprintf(e.out, "%s:\n", e.kernel.Symbol(fn))
	fmt.Fprintln(e.out, "push    rbp")
	fmt.Fprintln(e.out, "mov     rbp, rsp")
	fmt.Fprintf(e.out, "sub     rsp, %d\n", size)
	fmt.Fprintln(e.out, "and     rsp, ~0xf")

	return nil
}

// frameSizeOwner extracts the function name FuncBegin applies to. The
// IL builder carries it as an Ident payload naming the function.
func frameSizeOwner(op il.Op) (string, bool) {
	ident, ok := op.Payload.(il.Ident)
	if !ok {
		return "", false
	}

	return ident.Name, true
}

func (e *Emitter) emitFuncEnd() error {
	if e.state != stateEmitting {
		panic("codegen: FuncEnd outside of a function")
	}

	e.emitEpilogue()
	e.state = stateIdle
	e.curFunc = ""

	return nil
}

func (e *Emitter) emitEpilogue() {
	fmt.Fprintln(e.out, "mov     rsp, rbp")
	fmt.Fprintln(e.out, "pop     rbp")
	fmt.Fprintln(e.out, "ret")
}

func (e *Emitter) emitReturn(op il.Op) error {
	if _, err := e.alloc.Pin(op.Left, target.Accumulator); err != nil {
		return err
	}

	e.emitEpilogue()

	return nil
}

func (e *Emitter) emitLoadArg(op il.Op) error {
	if op.Left < 0 || op.Left >= target.MaxArgRegs {
		return cgerrors.UnsupportedOperand(op.Opcode, op.Left)
	}

	_, err := e.alloc.Pin(op.Dst, target.ArgReg(op.Left))

	return err
}

func (e *Emitter) emitLoadImm(op il.Op) error {
	dst, err := e.alloc.RequestAny(op.Dst)
	if err != nil {
		return err
	}

	switch lit := op.Payload.(type) {
	case il.IntLit:
		n, err := strconv.ParseInt(lit.Raw, 0, 64)
		if err != nil {
			return cgerrors.Wrap(cgerrors.CategoryMalformedIL,
				fmt.Sprintf("LoadImm: %q is not a valid integer literal", lit.Raw), err)
		}

		fmt.Fprintf(e.out, "mov %s, %d\n", dst, n)
	case il.StrLit:
		skip, str := e.nextLabel(), e.nextLabel()

		fmt.Fprintf(e.out, "jmp L%d\n", skip)
		fmt.Fprintf(e.out, "L%d:\n", str)
		fmt.Fprintf(e.out, ".asciz \"%s\"\n", escapeAsciz(lit.Value))
		fmt.Fprintf(e.out, "L%d:\n", skip)
		fmt.Fprintf(e.out, "lea     %s, [rip + L%d]\n", dst, str)
	default:
		return cgerrors.UnsupportedOperand(op.Opcode, op.Payload)
	}

	return nil
}

func escapeAsciz(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "\"", "\\\"")
}

func (e *Emitter) emitLoadIdent(op il.Op) error {
	dst, err := e.alloc.RequestAny(op.Dst)
	if err != nil {
		return err
	}

	ident, ok := op.Payload.(il.Ident)
	if !ok {
		return cgerrors.MalformedIL(op.Opcode, "il.Ident")
	}

	fmt.Fprintf(e.out, "lea     %s, [rip + %s]\n", dst, e.kernel.Symbol(ident.Name))

	return nil
}

func (e *Emitter) emitPureBinOp(op il.Op, mnemonic string) error {
	left, err := e.alloc.RequestAny(op.Left)
	if err != nil {
		return err
	}

	right, err := e.alloc.RequestAny(op.Right)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "%s %s, %s\n", mnemonic, left, right)

	dst, err := e.alloc.RequestAny(op.Dst)
	if err != nil {
		return err
	}

	if dst != left {
		fmt.Fprintf(e.out, "mov %s, %s\n", dst, left)
	}

	return nil
}

// emitMul pins left to the accumulator, spills the data register (it
// is clobbered by the high half of the product), and emits imul
// against a freely allocated right operand. dst is pinned to the
// accumulator afterward to receive the low half.
func (e *Emitter) emitMul(op il.Op) error {
	if _, err := e.alloc.Pin(op.Left, target.Accumulator); err != nil {
		return err
	}

	right, err := e.alloc.RequestAny(op.Right)
	if err != nil {
		return err
	}

	if err := e.alloc.SpillPhysical(target.DataReg); err != nil {
		return err
	}

	fmt.Fprintf(e.out, "imul %s\n", right)

	_, err = e.alloc.Pin(op.Dst, target.Accumulator)

	return err
}

// emitDivMod implements both Div and Mod: left goes to the
// accumulator, right to the count register, the data register is
// cleared ahead of idiv since it forms the dividend's high half, and
// the quotient (Div) or remainder (Mod) is picked up by pinning dst to
// resultPhysical.
func (e *Emitter) emitDivMod(op il.Op, resultPhysical int) error {
	if _, err := e.alloc.Pin(op.Left, target.Accumulator); err != nil {
		return err
	}

	if _, err := e.alloc.Pin(op.Right, target.CountReg); err != nil {
		return err
	}

	if err := e.alloc.SpillPhysical(target.DataReg); err != nil {
		return err
	}

	fmt.Fprintln(e.out, "mov rdx, 0")
	fmt.Fprintf(e.out, "idiv %s\n", target.ScratchRegs[target.CountReg])

	_, err := e.alloc.Pin(op.Dst, resultPhysical)

	return err
}

func (e *Emitter) emitShift(op il.Op, mnemonic string) error {
	if _, err := e.alloc.Pin(op.Left, target.Accumulator); err != nil {
		return err
	}

	if _, err := e.alloc.Pin(op.Right, target.CountReg); err != nil {
		return err
	}

	fmt.Fprintf(e.out, "%s rax, cl\n", mnemonic)

	_, err := e.alloc.Pin(op.Dst, target.Accumulator)

	return err
}

func (e *Emitter) emitCompare(op il.Op, setcc string) error {
	if _, err := e.alloc.Pin(op.Dst, target.Accumulator); err != nil {
		return err
	}

	left, err := e.alloc.RequestAny(op.Left)
	if err != nil {
		return err
	}

	right, err := e.alloc.RequestAny(op.Right)
	if err != nil {
		return err
	}

	fmt.Fprintln(e.out, "xor rax, rax")
	fmt.Fprintf(e.out, "cmp %s, %s\n", left, right)
	fmt.Fprintf(e.out, "%s al\n", setcc)

	return nil
}

func (e *Emitter) emitSetLogicalValue(op il.Op) error {
	if _, err := e.alloc.Pin(op.Dst, target.Accumulator); err != nil {
		return err
	}

	left, err := e.alloc.RequestAny(op.Left)
	if err != nil {
		return err
	}

	fmt.Fprintln(e.out, "xor rax, rax")
	fmt.Fprintf(e.out, "cmp %s, 0\n", left)
	fmt.Fprintln(e.out, "setne al")

	return nil
}

// emitLogicalAnd deliberately departs from generate.c: the reference
// compiler's kILOpLogicalAnd case prints `cmp left, 0` followed by a
// line missing its mnemonic (` %s, %s\n`, left, right), which can only
// have been meant as `and left, right`. This emits that fixed form.
func (e *Emitter) emitLogicalAnd(op il.Op) error {
	if _, err := e.alloc.Pin(op.Dst, target.Accumulator); err != nil {
		return err
	}

	left, err := e.alloc.RequestAny(op.Left)
	if err != nil {
		return err
	}

	right, err := e.alloc.RequestAny(op.Right)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "cmp %s, 0\n", left)
	fmt.Fprintf(e.out, "and %s, %s\n", left, right)
	fmt.Fprintln(e.out, "setnz al")

	return nil
}

func (e *Emitter) emitLogicalOr(op il.Op) error {
	if _, err := e.alloc.Pin(op.Dst, target.Accumulator); err != nil {
		return err
	}

	left, err := e.alloc.RequestAny(op.Left)
	if err != nil {
		return err
	}

	right, err := e.alloc.RequestAny(op.Right)
	if err != nil {
		return err
	}

	fmt.Fprintln(e.out, "xor rax, rax")
	fmt.Fprintf(e.out, "or %s, %s\n", left, right)
	fmt.Fprintln(e.out, "setnz al")

	return nil
}

func (e *Emitter) emitWriteLocalVar(op il.Op) error {
	right, err := e.alloc.RequestAny(op.Right)
	if err != nil {
		return err
	}

	local, ok := op.Payload.(il.LocalVar)
	if !ok {
		return cgerrors.MalformedIL(op.Opcode, "il.LocalVar")
	}

	fmt.Fprintf(e.out, "mov [rbp - %d], %s\n", 8*local.Index, right)

	return nil
}

func (e *Emitter) emitReadLocalVar(op il.Op) error {
	local, ok := op.Payload.(il.LocalVar)
	if !ok {
		return cgerrors.MalformedIL(op.Opcode, "il.LocalVar")
	}

	dst, err := e.alloc.RequestAny(op.Dst)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "mov %s, [rbp - %d]\n", dst, 8*local.Index)

	return nil
}

func (e *Emitter) emitLabel(op il.Op) error {
	ref, ok := op.Payload.(il.LabelRef)
	if !ok {
		return cgerrors.MalformedIL(op.Opcode, "il.LabelRef")
	}

	e.assignLabelNumber(ref.Label)

	if err := e.alloc.SpillAll(); err != nil {
		return err
	}

	fmt.Fprintf(e.out, "L%d:\n", ref.Label.Number)

	return nil
}

func (e *Emitter) emitJmp(op il.Op, mnemonic string) error {
	left, err := e.alloc.RequestAny(op.Left)
	if err != nil {
		return err
	}

	ref, ok := op.Payload.(il.LabelRef)
	if !ok {
		return cgerrors.MalformedIL(op.Opcode, "il.LabelRef")
	}

	e.assignLabelNumber(ref.Label)
	fmt.Fprintf(e.out, "cmp %s, 0\n", left)
	fmt.Fprintf(e.out, "%s L%d\n", mnemonic, ref.Label.Number)

	return nil
}

// assignLabelNumber populates lbl.Number on first reference, whether
// that reference is the defining Label op or an earlier forward jump.
func (e *Emitter) assignLabelNumber(lbl *il.Label) {
	if lbl.Number == 0 {
		lbl.Number = e.nextLabel()
	}
}

func (e *Emitter) emitCall(op il.Op) error {
	args, ok := op.Payload.(il.ArgList)
	if !ok {
		return cgerrors.MalformedIL(op.Opcode, "il.ArgList")
	}

	if len(args.Args) > target.MaxArgRegs {
		return cgerrors.UnsupportedOperand(op.Opcode, len(args.Args))
	}

	for i, argVReg := range args.Args {
		if _, err := e.alloc.Pin(argVReg, target.ArgReg(i)); err != nil {
			return err
		}
	}

	callee := e.kernel.Symbol(args.Callee)

	if !e.declaredFns[args.Callee] {
		fmt.Fprintf(e.out, ".global %s\n", callee)
		e.declaredFns[args.Callee] = true
	}

	if err := e.alloc.SpillAll(); err != nil {
		return err
	}

	fmt.Fprintf(e.out, "call %s\n", callee)

	_, err := e.alloc.Pin(op.Dst, target.Accumulator)

	return err
}
