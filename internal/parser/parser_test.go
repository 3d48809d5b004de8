package parser

import (
	"testing"

	"loxvm/internal/ast"
)

func mustParse(t *testing.T, source string) []ast.Declaration {
	t.Helper()
	p, d := New(source)
	if d != nil {
		t.Fatalf("scan failed: %v", d)
	}
	decls, d := p.ParseProgram()
	if d != nil {
		t.Fatalf("parse failed: %v", d)
	}
	return decls
}

func TestParseVarDeclaration(t *testing.T) {
	decls := mustParse(t, `var a = 1 + 2;`)
	if len(decls) != 1 {
		t.Fatalf("got %d decls", len(decls))
	}
	v, ok := decls[0].(*ast.VarDecl)
	if !ok {
		t.Fatalf("got %T", decls[0])
	}
	if v.Name.Value != "a" {
		t.Fatalf("got name %q", v.Name.Value)
	}
	bin, ok := v.Init.(*ast.BinaryExpr)
	if !ok || bin.Op.Value != ast.OpAdd {
		t.Fatalf("got init %#v", v.Init)
	}
}

func TestParseIfElse(t *testing.T) {
	decls := mustParse(t, `if (a) { print 1; } else { print 2; }`)
	stmt, ok := decls[0].(*ast.IfStmt)
	if !ok {
		t.Fatalf("got %T", decls[0])
	}
	if stmt.Else == nil {
		t.Fatal("expected else branch")
	}
}

func TestParseForLoopDesugarShape(t *testing.T) {
	decls := mustParse(t, `for (var i = 0; i < 3; i = i + 1) { print i; }`)
	stmt, ok := decls[0].(*ast.ForStmt)
	if !ok {
		t.Fatalf("got %T", decls[0])
	}
	if _, ok := stmt.Init.(*ast.VarDecl); !ok {
		t.Fatalf("got init %T", stmt.Init)
	}
	if stmt.Cond == nil || stmt.Incr == nil {
		t.Fatal("expected cond and incr")
	}
}

func TestParseCallExpression(t *testing.T) {
	decls := mustParse(t, `print sq(7);`)
	stmt := decls[0].(*ast.PrintStmt)
	call, ok := stmt.Expr.(*ast.CallExpr)
	if !ok {
		t.Fatalf("got %T", stmt.Expr)
	}
	callee, ok := call.Callee.(*ast.LiteralExpr)
	if !ok || callee.Value.Value.Kind != ast.LitIdentifier || callee.Value.Value.Text != "sq" {
		t.Fatalf("got callee %#v", call.Callee)
	}
	if len(call.Args) != 1 {
		t.Fatalf("got %d args", len(call.Args))
	}
}

func TestParseAssignment(t *testing.T) {
	decls := mustParse(t, `a = 2;`)
	stmt := decls[0].(*ast.ExprStmt)
	assign, ok := stmt.Expr.(*ast.AssignExpr)
	if !ok {
		t.Fatalf("got %T", stmt.Expr)
	}
	lhs, ok := assign.Lhs.(*ast.LiteralExpr)
	if !ok || lhs.Value.Value.Kind != ast.LitIdentifier {
		t.Fatalf("got lhs %#v", assign.Lhs)
	}
}

func TestParseOrExpression(t *testing.T) {
	decls := mustParse(t, `print false or 5;`)
	stmt := decls[0].(*ast.PrintStmt)
	bin, ok := stmt.Expr.(*ast.BinaryExpr)
	if !ok || bin.Op.Value != ast.OpOr {
		t.Fatalf("got %#v", stmt.Expr)
	}
}

func TestUnexpectedTokenRaisesE0005(t *testing.T) {
	p, d := New(`var ;`)
	if d != nil {
		t.Fatalf("scan failed: %v", d)
	}
	_, d = p.ParseProgram()
	if d == nil || d.Code != "E0005" {
		t.Fatalf("got %v, want E0005", d)
	}
}

func TestEarlyEOFRaisesE0003(t *testing.T) {
	p, d := New(`if (true) {`)
	if d != nil {
		t.Fatalf("scan failed: %v", d)
	}
	_, d = p.ParseProgram()
	if d == nil || d.Code != "E0003" {
		t.Fatalf("got %v, want E0003", d)
	}
}

func TestInvalidPrefixExpressionRaisesE0004(t *testing.T) {
	p, d := New(`print +1;`)
	if d != nil {
		t.Fatalf("scan failed: %v", d)
	}
	_, d = p.ParseProgram()
	if d == nil || d.Code != "E0004" {
		t.Fatalf("got %v, want E0004", d)
	}
}
