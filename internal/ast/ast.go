// Package ast defines the declaration tree the parser produces and the
// compiler consumes. The grammar recognizes class declarations and
// property access, but class/method resolution, inheritance, and
// upvalues are out of scope: the compiler rejects *ClassDecl and
// *PropertyExpr with a diagnostic rather than lowering them.
package ast

import "loxvm/internal/span"

// Declaration is top-level or block-level: a class, a function, a var
// binding, or a bare statement.
type Declaration interface {
	declNode()
}

// Statement is anything that can appear where a Declaration is
// expected but binds no name of its own.
type Statement interface {
	Declaration
	stmtNode()
}

// Expression is anything that evaluates to a Value. It never appears
// bare as a Declaration; ExprStmt wraps the ones that do.
type Expression interface {
	exprNode()
	Span() span.Span
}

// --- Declarations ---

// ClassDecl: "class Name [< BaseClass] { methods... }". Parsed but not
// lowerable: the compiler rejects it, since class/method resolution is
// out of scope.
type ClassDecl struct {
	Name      span.Spanned[string]
	BaseClass *span.Spanned[string]
	Methods   []*FunctionDecl
}

func (*ClassDecl) declNode() {}

// FunctionDecl: "fun name(params) { body }".
type FunctionDecl struct {
	Name   span.Spanned[string]
	Params []span.Spanned[string]
	Body   *BlockStmt
}

func (*FunctionDecl) declNode() {}

// VarDecl: "var name [= init];". Init is nil when the declaration has
// no initializer, in which case the variable starts out Nil.
type VarDecl struct {
	Name span.Spanned[string]
	Init Expression
}

func (*VarDecl) declNode() {}

// --- Statements ---

// ExprStmt evaluates Expr and discards the result.
type ExprStmt struct {
	Expr Expression
}

func (*ExprStmt) declNode() {}
func (*ExprStmt) stmtNode() {}

// ForStmt: Init is a *VarDecl, an *ExprStmt, or nil; Cond and Incr are
// nil when omitted.
type ForStmt struct {
	Init Declaration
	Cond Expression
	Incr Expression
	Body Statement
}

func (*ForStmt) declNode() {}
func (*ForStmt) stmtNode() {}

// IfStmt: Else is nil when the statement has no else clause.
type IfStmt struct {
	Cond Expression
	Then Statement
	Else Statement
}

func (*IfStmt) declNode() {}
func (*IfStmt) stmtNode() {}

// PrintStmt: "print expr;".
type PrintStmt struct {
	Expr Expression
}

func (*PrintStmt) declNode() {}
func (*PrintStmt) stmtNode() {}

// ReturnStmt: "return [expr];". Value is nil for a bare return.
type ReturnStmt struct {
	Keyword span.Span
	Value   Expression
}

func (*ReturnStmt) declNode() {}
func (*ReturnStmt) stmtNode() {}

// WhileStmt: "while (cond) body".
type WhileStmt struct {
	Cond Expression
	Body Statement
}

func (*WhileStmt) declNode() {}
func (*WhileStmt) stmtNode() {}

// BlockStmt: "{ declarations... }", its own lexical scope.
type BlockStmt struct {
	Decls []Declaration
}

func (*BlockStmt) declNode() {}
func (*BlockStmt) stmtNode() {}

// --- Expressions ---

// BinaryOperator enumerates every binary operator, including the
// short-circuiting And/Or and the never-lowered PropertyAccess.
type BinaryOperator int

const (
	OpAdd BinaryOperator = iota
	OpSubtract
	OpMultiply
	OpDivide
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpEqual
	OpNotEqual
	OpAnd
	OpOr
	OpPropertyAccess
)

// UnaryOperator enumerates the two prefix operators.
type UnaryOperator int

const (
	OpNegate UnaryOperator = iota
	OpNot
)

// LitKind tags the six shapes a literal expression can take - Identifier
// included, since a bare name is a literal reference in this grammar.
type LitKind int

const (
	LitNil LitKind = iota
	LitTrue
	LitFalse
	LitNumber
	LitString
	LitIdentifier
)

// Literal is the payload of a LiteralExpr: exactly one field is
// meaningful, selected by Kind.
type Literal struct {
	Kind   LitKind
	Number float64
	Text   string // String content (quotes stripped) or Identifier name
}

// AssignExpr: "lhs = rhs". Lhs must be an *LiteralExpr of LitIdentifier
// kind; the compiler raises E0013 for anything else.
type AssignExpr struct {
	Lhs   Expression
	Equal span.Span
	Rhs   Expression
}

func (*AssignExpr) exprNode()        {}
func (e *AssignExpr) Span() span.Span { return span.Join(e.Lhs.Span(), e.Rhs.Span()) }

// BinaryExpr: "lhs op rhs".
type BinaryExpr struct {
	Lhs Expression
	Op  span.Spanned[BinaryOperator]
	Rhs Expression
}

func (*BinaryExpr) exprNode()        {}
func (e *BinaryExpr) Span() span.Span { return span.Join(e.Lhs.Span(), e.Rhs.Span()) }

// UnaryExpr: "op expr".
type UnaryExpr struct {
	Op   span.Spanned[UnaryOperator]
	Expr Expression
}

func (*UnaryExpr) exprNode()        {}
func (e *UnaryExpr) Span() span.Span { return span.Join(e.Op.Span, e.Expr.Span()) }

// CallExpr: "callee(args...)". Callee must be an *LiteralExpr of
// LitIdentifier kind; the compiler raises E0014 for anything else.
type CallExpr struct {
	Callee    Expression
	Args      []Expression
	ClosingAt span.Span
}

func (*CallExpr) exprNode()        {}
func (e *CallExpr) Span() span.Span { return span.Join(e.Callee.Span(), e.ClosingAt) }

// PropertyExpr: "object.name". Parsed but not lowerable, for the same
// reason as ClassDecl.
type PropertyExpr struct {
	Object Expression
	Name   span.Spanned[string]
}

func (*PropertyExpr) exprNode()        {}
func (e *PropertyExpr) Span() span.Span { return span.Join(e.Object.Span(), e.Name.Span) }

// LiteralExpr wraps a spanned Literal - Nil/True/False/Number/String/
// Identifier, per LitKind.
type LiteralExpr struct {
	Value span.Spanned[Literal]
}

func (*LiteralExpr) exprNode()        {}
func (e *LiteralExpr) Span() span.Span { return e.Value.Span }
