package codegen

import (
	"strconv"
	"strings"
	"testing"

	"github.com/lucent-lang/lucentc/internal/il"
	"github.com/lucent-lang/lucentc/internal/target"
)

func mustEmit(t *testing.T, p *il.Program) string {
	t.Helper()

	var out strings.Builder

	if err := New(&out, target.Linux).Emit(p); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	return out.String()
}

func program(fn il.FuncMeta, ops ...il.Op) *il.Program {
	return &il.Program{Functions: []il.FuncMeta{fn}, Ops: ops}
}

func funcBody(name string, frame int, ops ...il.Op) []il.Op {
	body := []il.Op{{Opcode: il.OpFuncBegin, Payload: il.Ident{Name: name}}}
	body = append(body, ops...)
	body = append(body, il.Op{Opcode: il.OpFuncEnd})

	return body
}

func TestIdentityFunction(t *testing.T) {
	ops := funcBody("f", 0,
		il.Op{Opcode: il.OpLoadArg, Dst: 1, Left: 0},
		il.Op{Opcode: il.OpReturn, Left: 1},
	)

	out := mustEmit(t, program(il.FuncMeta{Name: "f"}, ops...))

	if !strings.Contains(out, "f:") {
		t.Fatalf("expected a function label, got:\n%s", out)
	}

	if !strings.Contains(out, "push    rbp") || !strings.Contains(out, "ret") {
		t.Fatalf("expected prologue/epilogue, got:\n%s", out)
	}
	// LoadArg pins vreg 1 to rdi (ArgReg(0)); Return pins it to rax, which
	// since vreg 1 was already in rdi, emits a register-to-register move.
	if !strings.Contains(out, "mov rax, rdi") {
		t.Fatalf("expected the argument to be moved into rax for return, got:\n%s", out)
	}
}

func TestFuncBeginAlignsStackToSixteenBytes(t *testing.T) {
	ops := funcBody("f", 24,
		il.Op{Opcode: il.OpLoadImm, Dst: 1, Payload: il.IntLit{Raw: "1"}},
		il.Op{Opcode: il.OpReturn, Left: 1},
	)

	out := mustEmit(t, program(il.FuncMeta{Name: "f"}, ops...))

	pushIdx := strings.Index(out, "push    rbp")
	alignIdx := strings.Index(out, "and     rsp, ~0xf")

	if pushIdx < 0 || alignIdx < 0 || alignIdx < pushIdx {
		t.Fatalf("expected push rbp followed later by an rsp realignment, got:\n%s", out)
	}
	// Every call site spills all registers and calls after this
	// realignment runs, with no further net change to rsp in between,
	// so rsp stays 16-byte aligned at every call instruction.
}

func TestAddTwoIntegers(t *testing.T) {
	ops := funcBody("add3", 0,
		il.Op{Opcode: il.OpLoadImm, Dst: 1, Payload: il.IntLit{Raw: "3"}},
		il.Op{Opcode: il.OpLoadImm, Dst: 2, Payload: il.IntLit{Raw: "4"}},
		il.Op{Opcode: il.OpAdd, Dst: 3, Left: 1, Right: 2},
		il.Op{Opcode: il.OpReturn, Left: 3},
	)

	out := mustEmit(t, program(il.FuncMeta{Name: "add3"}, ops...))

	for _, want := range []string{"mov ", "3\n", "4\n", "add "} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected fragment %q in:\n%s", want, out)
		}
	}
}

func TestDivisionReturnsQuotientInAccumulator(t *testing.T) {
	ops := funcBody("div10by3", 0,
		il.Op{Opcode: il.OpLoadImm, Dst: 1, Payload: il.IntLit{Raw: "10"}},
		il.Op{Opcode: il.OpLoadImm, Dst: 2, Payload: il.IntLit{Raw: "3"}},
		il.Op{Opcode: il.OpDiv, Dst: 3, Left: 1, Right: 2},
		il.Op{Opcode: il.OpReturn, Left: 3},
	)

	out := mustEmit(t, program(il.FuncMeta{Name: "div10by3"}, ops...))

	if !strings.Contains(out, "mov rdx, 0") || !strings.Contains(out, "idiv rcx") {
		t.Fatalf("expected rdx cleared and idiv against rcx, got:\n%s", out)
	}
}

func TestSpillUnderPressureEmitsDataSlot(t *testing.T) {
	var ops []il.Op
	for v := 1; v <= 10; v++ {
		ops = append(ops, il.Op{Opcode: il.OpLoadImm, Dst: v, Payload: il.IntLit{Raw: "1"}})
	}

	ops = append(ops, il.Op{Opcode: il.OpAdd, Dst: 11, Left: 1, Right: 2})

	out := mustEmit(t, program(il.FuncMeta{Name: "pressure"}, funcBody("pressure", 0, ops...)...))

	if !strings.Contains(out, "mov [rip + L") {
		t.Fatalf("expected at least one spill store, got:\n%s", out)
	}

	if !strings.Contains(out, ".data") || !strings.Contains(out, ".quad 0") {
		t.Fatalf("expected a trailing .data section with a .quad 0 slot, got:\n%s", out)
	}
}

func TestCallWithTwoArgumentsPinsArgsAndSpillsBeforeCall(t *testing.T) {
	ops := funcBody("caller", 0,
		il.Op{Opcode: il.OpLoadImm, Dst: 1, Payload: il.IntLit{Raw: "1"}},
		il.Op{Opcode: il.OpLoadImm, Dst: 2, Payload: il.IntLit{Raw: "2"}},
		il.Op{Opcode: il.OpCall, Dst: 3, Payload: il.ArgList{Callee: "g", Args: []int{1, 2}}},
		il.Op{Opcode: il.OpReturn, Left: 3},
	)

	out := mustEmit(t, program(il.FuncMeta{Name: "caller"}, ops...))

	if !strings.Contains(out, ".global g") {
		t.Fatalf("expected a .global declaration for the callee, got:\n%s", out)
	}

	if !strings.Contains(out, "call g") {
		t.Fatalf("expected a call instruction, got:\n%s", out)
	}

	callIdx := strings.Index(out, "call g")
	spillIdx := strings.LastIndex(out[:callIdx], "mov [rip + L")

	if spillIdx == -1 {
		t.Fatalf("expected a spill-all before the call, got:\n%s", out)
	}
}

func TestCallOnDarwinPrefixesSymbols(t *testing.T) {
	ops := funcBody("caller", 0,
		il.Op{Opcode: il.OpLoadImm, Dst: 1, Payload: il.IntLit{Raw: "1"}},
		il.Op{Opcode: il.OpCall, Dst: 2, Payload: il.ArgList{Callee: "g", Args: []int{1}}},
		il.Op{Opcode: il.OpReturn, Left: 2},
	)

	var out strings.Builder

	p := program(il.FuncMeta{Name: "caller"}, ops...)
	if err := New(&out, target.Darwin).Emit(p); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if !strings.Contains(out.String(), "call _g") {
		t.Fatalf("expected a Darwin-prefixed call, got:\n%s", out.String())
	}
}

func TestIfZeroBranchSpillsAllAtLabel(t *testing.T) {
	lbl := &il.Label{Name: "end"}
	ops := funcBody("cond", 0,
		il.Op{Opcode: il.OpLoadImm, Dst: 1, Payload: il.IntLit{Raw: "0"}},
		il.Op{Opcode: il.OpJmpIfZero, Left: 1, Payload: il.LabelRef{Label: lbl}},
		il.Op{Opcode: il.OpLoadImm, Dst: 2, Payload: il.IntLit{Raw: "1"}},
		il.Op{Opcode: il.OpLabel, Payload: il.LabelRef{Label: lbl}},
		il.Op{Opcode: il.OpReturn, Left: 2},
	)

	out := mustEmit(t, program(il.FuncMeta{Name: "cond"}, ops...))

	if !strings.Contains(out, "cmp ") || !strings.Contains(out, "je L") {
		t.Fatalf("expected a conditional jump, got:\n%s", out)
	}

	jmpLabel := lbl.Number
	if jmpLabel == 0 {
		t.Fatalf("expected the label to have been numbered by the forward jump")
	}

	defLine := "L" + strconv.Itoa(jmpLabel) + ":"
	if !strings.Contains(out, defLine) {
		t.Fatalf("expected the label definition to reuse the forward reference's number %d, got:\n%s", jmpLabel, out)
	}

	defIdx := strings.Index(out, defLine)
	if strings.LastIndex(out[:defIdx], "mov [rip + L") == -1 {
		t.Fatalf("expected a spill-all ahead of the label definition %s, got:\n%s", defLine, out)
	}
}

func TestLabelIdempotenceAcrossForwardAndBackwardReference(t *testing.T) {
	lbl := &il.Label{Name: "loop"}
	ops := funcBody("loop", 0,
		il.Op{Opcode: il.OpLabel, Payload: il.LabelRef{Label: lbl}},
		il.Op{Opcode: il.OpLoadImm, Dst: 1, Payload: il.IntLit{Raw: "1"}},
		il.Op{Opcode: il.OpJmpIfNotZero, Left: 1, Payload: il.LabelRef{Label: lbl}},
		il.Op{Opcode: il.OpReturn, Left: 1},
	)

	out := mustEmit(t, program(il.FuncMeta{Name: "loop"}, ops...))

	n := strings.Count(out, "L"+strconv.Itoa(lbl.Number)+":")
	if n != 1 {
		t.Fatalf("expected exactly one definition of L%d, got %d in:\n%s", lbl.Number, n, out)
	}

	if !strings.Contains(out, "jne L"+strconv.Itoa(lbl.Number)) {
		t.Fatalf("expected the backward jump to reference L%d, got:\n%s", lbl.Number, out)
	}
}

func TestStringLiteralLoadEmitsJumpOverDataIsland(t *testing.T) {
	ops := funcBody("greet", 0,
		il.Op{Opcode: il.OpLoadImm, Dst: 1, Payload: il.StrLit{Value: "hi"}},
		il.Op{Opcode: il.OpReturn, Left: 1},
	)

	out := mustEmit(t, program(il.FuncMeta{Name: "greet"}, ops...))

	if !strings.Contains(out, `.asciz "hi"`) {
		t.Fatalf("expected an .asciz directive, got:\n%s", out)
	}

	if !strings.Contains(out, "jmp L") || !strings.Contains(out, "lea     ") {
		t.Fatalf("expected a jump-over-data island and a lea back to it, got:\n%s", out)
	}
}

func TestLogicalAndEmitsFixedMnemonic(t *testing.T) {
	ops := funcBody("both", 0,
		il.Op{Opcode: il.OpLoadImm, Dst: 1, Payload: il.IntLit{Raw: "1"}},
		il.Op{Opcode: il.OpLoadImm, Dst: 2, Payload: il.IntLit{Raw: "1"}},
		il.Op{Opcode: il.OpLogicalAnd, Dst: 3, Left: 1, Right: 2},
		il.Op{Opcode: il.OpReturn, Left: 3},
	)

	out := mustEmit(t, program(il.FuncMeta{Name: "both"}, ops...))

	if !strings.Contains(out, "setnz al") {
		t.Fatalf("expected setnz al, got:\n%s", out)
	}
	// The fix: an actual "and left, right" line, not generate.c's line
	// missing its mnemonic. The prologue's padded "and     rsp, ~0xf"
	// does not match this pattern.
	if !strings.Contains(out, "\nand r") {
		t.Fatalf("expected an `and` instruction in the fixed LogicalAnd emission, got:\n%s", out)
	}
}

func TestFuncBeginWithoutFuncEndPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for an unbalanced FuncBegin")
		}
	}()

	var out strings.Builder

	e := New(&out, target.Linux)
	_ = e.Emit(program(il.FuncMeta{Name: "f"},
		il.Op{Opcode: il.OpFuncBegin, Payload: il.Ident{Name: "f"}},
		il.Op{Opcode: il.OpFuncBegin, Payload: il.Ident{Name: "f"}},
	))
}
