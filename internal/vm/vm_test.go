package vm

import (
	"bytes"
	"testing"

	"loxvm/internal/compiler"
	"loxvm/internal/diag"
	"loxvm/internal/parser"
	"loxvm/internal/value"
)

// run compiles and executes source, returning everything it printed
// and any diagnostic that ended execution.
func run(t *testing.T, source string) (string, *diag.Diagnostic) {
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
	entry, fns, d := compiler.Compile(heap, decls)
	if d != nil {
		t.Fatalf("compile failed: %v", d)
	}
	var out bytes.Buffer
	machine := New(heap, fns, &out)
	if d := machine.Run(entry); d != nil {
		return out.String(), d
	}
	return out.String(), nil
}

func TestArithmeticPrecedence(t *testing.T) {
	out, d := run(t, `print 1 + 2 * 3;`)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	if out != "7\n" {
		t.Fatalf("got %q, want %q", out, "7\n")
	}
}

func TestStringConcatenation(t *testing.T) {
	out, d := run(t, `
		var a = "hi, ";
		var b = "world";
		print a + b;
	`)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	if out != "hi, world\n" {
		t.Fatalf("got %q", out)
	}
}

func TestForLoopAccumulates(t *testing.T) {
	out, d := run(t, `
		var x = 0;
		for (var i = 0; i < 3; i = i + 1) { x = x + i; }
		print x;
	`)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	if out != "3\n" {
		t.Fatalf("got %q", out)
	}
}

func TestBlockScopeShadowing(t *testing.T) {
	out, d := run(t, `
		var a = 1;
		{ var a = 2; print a; }
		print a;
	`)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	if out != "2\n1\n" {
		t.Fatalf("got %q", out)
	}
}

func TestFunctionCallReturnsValue(t *testing.T) {
	out, d := run(t, `
		fun sq(n) { return n * n; }
		print sq(7);
	`)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	if out != "49\n" {
		t.Fatalf("got %q", out)
	}
}

func TestUndefinedVariableRaisesE0012(t *testing.T) {
	out, d := run(t, `print undefined_var;`)
	if d == nil || d.Code != "E0012" {
		t.Fatalf("got %v, want E0012", d)
	}
	if out != "" {
		t.Fatalf("expected no output, got %q", out)
	}
	if got := d.Error(); got == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestAddingStringAndNumberRaisesE0009(t *testing.T) {
	_, d := run(t, `print "a" + 1;`)
	if d == nil || d.Code != "E0009" {
		t.Fatalf("got %v, want E0009", d)
	}
}

func TestRedefiningGlobalRaisesE0011(t *testing.T) {
	_, d := run(t, `var a = 1; var a = 2;`)
	if d == nil || d.Code != "E0011" {
		t.Fatalf("got %v, want E0011", d)
	}
}

func TestFalseIsFalsyAndZeroIsTruthy(t *testing.T) {
	out, d := run(t, `print false or 5;`)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	if out != "5\n" {
		t.Fatalf("got %q", out)
	}

	out, d = run(t, `print 0 or 5;`)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	if out != "0\n" {
		t.Fatalf("got %q, want %q (0 is truthy)", out, "0\n")
	}
}

func TestLocalShadowingWithinSameScope(t *testing.T) {
	out, d := run(t, `{ var a = 1; var a = 2; print a; }`)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	if out != "2\n" {
		t.Fatalf("got %q", out)
	}
}

func TestNotEqualIsNegationOfEqual(t *testing.T) {
	out, d := run(t, `print 1 != 1; print 1 != 2;`)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	if out != "false\ntrue\n" {
		t.Fatalf("got %q", out)
	}
}

func TestClockNativeReturnsNumber(t *testing.T) {
	out, d := run(t, `print clock() >= 0;`)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	if out != "true\n" {
		t.Fatalf("got %q", out)
	}
}

func TestArityMismatchRaisesE0016(t *testing.T) {
	_, d := run(t, `fun one(a) { return a; } print one(1, 2);`)
	if d == nil || d.Code != "E0016" {
		t.Fatalf("got %v, want E0016", d)
	}
}

func TestUnknownFunctionRaisesE0015(t *testing.T) {
	_, d := run(t, `print nonexistent(1);`)
	if d == nil || d.Code != "E0015" {
		t.Fatalf("got %v, want E0015", d)
	}
}

func TestPeakStackDepthTracksHighWaterMark(t *testing.T) {
	p, d := parser.New(`print 1 + 2 + 3;`)
	if d != nil {
		t.Fatalf("scan failed: %v", d)
	}
	decls, d := p.ParseProgram()
	if d != nil {
		t.Fatalf("parse failed: %v", d)
	}
	heap := value.NewHeap()
	entry, fns, d := compiler.Compile(heap, decls)
	if d != nil {
		t.Fatalf("compile failed: %v", d)
	}
	var out bytes.Buffer
	machine := New(heap, fns, &out)
	if d := machine.Run(entry); d != nil {
		t.Fatalf("run failed: %v", d)
	}
	if machine.PeakStackDepth() < 2 {
		t.Fatalf("got peak stack depth %d, want at least 2", machine.PeakStackDepth())
	}
}
