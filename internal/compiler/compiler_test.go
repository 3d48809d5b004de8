package compiler

import (
	"testing"

	"loxvm/internal/chunk"
	"loxvm/internal/diag"
	"loxvm/internal/parser"
	"loxvm/internal/value"
)

func mustCompile(t *testing.T, source string) (*value.Function, map[string]*value.Function) {
	t.Helper()
	p, d := parser.New(source)
	if d != nil {
		t.Fatalf("scan failed: %v", d)
	}
	decls, d := p.ParseProgram()
	if d != nil {
		t.Fatalf("parse failed: %v", d)
	}
	heap := value.NewHeap()
	entry, fns, d := Compile(heap, decls)
	if d != nil {
		t.Fatalf("compile failed: %v", d)
	}
	return entry, fns
}

func instructions(fn *value.Function) []chunk.Instruction {
	return fn.Chunk.(*chunk.Chunk).Instructions
}

func TestConstantPoolDeduplicatesNumbersAndStrings(t *testing.T) {
	entry, _ := mustCompile(t, `print 1 + 1; print "hi" + "hi";`)
	c := entry.Chunk.(*chunk.Chunk)
	numCount, strCount := 0, 0
	for _, v := range c.Constants {
		switch v.Type() {
		case value.Number:
			numCount++
		case value.String:
			strCount++
		}
	}
	if numCount != 1 {
		t.Errorf("got %d distinct Number constants, want 1", numCount)
	}
	if strCount != 1 {
		t.Errorf("got %d distinct String constants, want 1", strCount)
	}
}

func TestIfElseBackpatchOffsetsLandInRange(t *testing.T) {
	entry, _ := mustCompile(t, `if (true) { print 1; } else { print 2; }`)
	instrs := instructions(entry)
	for i, instr := range instrs {
		if instr.Op == chunk.JumpIfFalse || instr.Op == chunk.Jump {
			target := i + instr.Operand
			if target < 0 || target > len(instrs) {
				t.Errorf("instruction %d: offset %d lands at %d, out of range [0,%d]", i, instr.Operand, target, len(instrs))
			}
		}
	}
}

func TestWhileLoopJumpsBackward(t *testing.T) {
	entry, _ := mustCompile(t, `while (true) { print 1; }`)
	instrs := instructions(entry)
	foundBackward := false
	for i, instr := range instrs {
		if instr.Op == chunk.Jump && instr.Operand < 0 {
			foundBackward = true
			target := i + instr.Operand
			if target < 0 || target >= len(instrs) {
				t.Fatalf("backward jump at %d lands out of range: %d", i, target)
			}
		}
	}
	if !foundBackward {
		t.Fatal("expected a backward Jump closing the loop")
	}
}

func TestLocalShadowingWithinSameScope(t *testing.T) {
	entry, _ := mustCompile(t, `{ var a = 1; var a = 2; print a; }`)
	instrs := instructions(entry)
	var getLocalOperands []int
	for _, instr := range instrs {
		if instr.Op == chunk.GetLocal {
			getLocalOperands = append(getLocalOperands, instr.Operand)
		}
	}
	if len(getLocalOperands) != 1 || getLocalOperands[0] != 1 {
		t.Fatalf("got %v, want [1] (the second 'a' at slot 1)", getLocalOperands)
	}
}

func TestGlobalVarEmitsDefineGlobal(t *testing.T) {
	entry, _ := mustCompile(t, `var a = 1;`)
	instrs := instructions(entry)
	found := false
	for _, instr := range instrs {
		if instr.Op == chunk.DefineGlobal {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a DefineGlobal instruction")
	}
}

func TestInvalidAssignmentTargetRaisesE0013(t *testing.T) {
	_, _, d := compileSource(t, `1 = 2;`)
	if d == nil || d.Code != "E0013" {
		t.Fatalf("got %v, want E0013", d)
	}
}

func TestInvalidInvocationCalleeRaisesE0014(t *testing.T) {
	_, _, d := compileSource(t, `(1 + 2)();`)
	if d == nil || d.Code != "E0014" {
		t.Fatalf("got %v, want E0014", d)
	}
}

func TestFunctionDeclRegistersInFunctionTable(t *testing.T) {
	_, fns := mustCompile(t, `fun sq(n) { return n * n; } print sq(7);`)
	fn, ok := fns["sq"]
	if !ok {
		t.Fatal("expected \"sq\" in function table")
	}
	if fn.Arity != 1 {
		t.Fatalf("got arity %d, want 1", fn.Arity)
	}
}

func TestShortCircuitAndEmitsSinglePop(t *testing.T) {
	entry, _ := mustCompile(t, `print true and false;`)
	instrs := instructions(entry)
	pops := 0
	for _, instr := range instrs {
		if instr.Op == chunk.Pop {
			pops++
		}
	}
	// One Pop for the short-circuit discard, one for the print statement's ExprStmt equivalent doesn't apply (Print doesn't Pop);
	// so exactly one Pop is expected from the "and" lowering itself.
	if pops != 1 {
		t.Fatalf("got %d Pop instructions, want 1", pops)
	}
}

func compileSource(t *testing.T, source string) (*value.Function, map[string]*value.Function, *diag.Diagnostic) {
	t.Helper()
	p, d := parser.New(source)
	if d != nil {
		return nil, nil, d
	}
	decls, d := p.ParseProgram()
	if d != nil {
		return nil, nil, d
	}
	heap := value.NewHeap()
	entry, fns, d := Compile(heap, decls)
	if d != nil {
		return nil, nil, d
	}
	return entry, fns, nil
}
