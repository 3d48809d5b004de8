// Package parser turns a token stream into the declaration tree the
// compiler consumes, using Pratt-style precedence climbing for
// expressions the way the teacher's parser does for its own grammar.
package parser

import (
	"loxvm/internal/ast"
	"loxvm/internal/diag"
	"loxvm/internal/lexer"
	"loxvm/internal/span"
	"loxvm/internal/token"
)

// precedence levels, lowest to highest.
const (
	precNone       = iota
	precAssignment // =
	precOr         // or
	precAnd        // and
	precEquality   // == !=
	precComparison // < > <= >=
	precTerm       // + -
	precFactor     // * /
	precUnary      // ! -
	precCall       // . ()
)

var binaryPrecedence = map[token.Type]int{
	token.Or:            precOr,
	token.And:           precAnd,
	token.EqualEqual:     precEquality,
	token.BangEqual:      precEquality,
	token.Less:           precComparison,
	token.LessEqual:      precComparison,
	token.Greater:        precComparison,
	token.GreaterEqual:   precComparison,
	token.Plus:           precTerm,
	token.Minus:          precTerm,
	token.Star:           precFactor,
	token.Slash:          precFactor,
	token.LeftParen:      precCall,
	token.Dot:            precCall,
}

var binaryOperators = map[token.Type]ast.BinaryOperator{
	token.Plus:         ast.OpAdd,
	token.Minus:        ast.OpSubtract,
	token.Star:         ast.OpMultiply,
	token.Slash:        ast.OpDivide,
	token.Greater:      ast.OpGreater,
	token.GreaterEqual: ast.OpGreaterEqual,
	token.Less:         ast.OpLess,
	token.LessEqual:    ast.OpLessEqual,
	token.EqualEqual:   ast.OpEqual,
	token.BangEqual:    ast.OpNotEqual,
	token.And:          ast.OpAnd,
	token.Or:            ast.OpOr,
}

// Parser consumes a fully scanned token slice and produces Declarations.
type Parser struct {
	tokens  []token.Token
	current int
}

// New scans source and returns a Parser positioned at its first token,
// or the scanner's diagnostic if source could not be tokenized.
func New(source string) (*Parser, *diag.Diagnostic) {
	tokens, d := lexer.Tokenize(source)
	if d != nil {
		return nil, d
	}
	return &Parser{tokens: tokens}, nil
}

func (p *Parser) peek() token.Token {
	return p.tokens[p.current]
}

func (p *Parser) previous() token.Token {
	return p.tokens[p.current-1]
}

func (p *Parser) atEnd() bool {
	return p.peek().Type == token.EOF
}

func (p *Parser) advance() token.Token {
	if !p.atEnd() {
		p.current++
	}
	return p.previous()
}

func (p *Parser) check(t token.Type) bool {
	return p.peek().Type == t
}

func (p *Parser) match(types ...token.Type) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) expect(t token.Type, code string) (token.Token, *diag.Diagnostic) {
	if p.check(t) {
		return p.advance(), nil
	}
	if p.atEnd() {
		return token.Token{}, diag.New("E0003", p.peek().Span)
	}
	note := "expected " + t.Display() + ", found " + p.peek().Type.Display()
	return token.Token{}, diag.New(code, p.peek().Span, note)
}

// ParseProgram parses every declaration up to EOF.
func (p *Parser) ParseProgram() ([]ast.Declaration, *diag.Diagnostic) {
	var decls []ast.Declaration
	for !p.atEnd() {
		decl, d := p.declaration()
		if d != nil {
			return nil, d
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

func (p *Parser) declaration() (ast.Declaration, *diag.Diagnostic) {
	if p.match(token.Class) {
		return p.classDeclaration()
	}
	if p.match(token.Fun) {
		return p.functionDeclaration()
	}
	if p.match(token.Var) {
		return p.varDeclaration()
	}
	return p.statement()
}

func (p *Parser) classDeclaration() (ast.Declaration, *diag.Diagnostic) {
	nameTok, d := p.expect(token.Identifier, "E0005")
	if d != nil {
		return nil, d
	}
	name := span.Of(nameTok.Literal, nameTok.Span)

	var base *span.Spanned[string]
	if p.match(token.Less) {
		baseTok, d := p.expect(token.Identifier, "E0005")
		if d != nil {
			return nil, d
		}
		s := span.Of(baseTok.Literal, baseTok.Span)
		base = &s
	}

	if _, d := p.expect(token.LeftBrace, "E0005"); d != nil {
		return nil, d
	}
	var methods []*ast.FunctionDecl
	for !p.check(token.RightBrace) && !p.atEnd() {
		method, d := p.functionBody()
		if d != nil {
			return nil, d
		}
		methods = append(methods, method)
	}
	if _, d := p.expect(token.RightBrace, "E0005"); d != nil {
		return nil, d
	}
	return &ast.ClassDecl{Name: name, BaseClass: base, Methods: methods}, nil
}

func (p *Parser) functionDeclaration() (ast.Declaration, *diag.Diagnostic) {
	return p.functionBody()
}

func (p *Parser) functionBody() (*ast.FunctionDecl, *diag.Diagnostic) {
	nameTok, d := p.expect(token.Identifier, "E0005")
	if d != nil {
		return nil, d
	}
	if _, d := p.expect(token.LeftParen, "E0005"); d != nil {
		return nil, d
	}
	var params []span.Spanned[string]
	if !p.check(token.RightParen) {
		for {
			paramTok, d := p.expect(token.Identifier, "E0005")
			if d != nil {
				return nil, d
			}
			params = append(params, span.Of(paramTok.Literal, paramTok.Span))
			if !p.match(token.Comma) {
				break
			}
		}
	}
	if _, d := p.expect(token.RightParen, "E0005"); d != nil {
		return nil, d
	}
	if _, d := p.expect(token.LeftBrace, "E0005"); d != nil {
		return nil, d
	}
	body, d := p.block()
	if d != nil {
		return nil, d
	}
	return &ast.FunctionDecl{Name: span.Of(nameTok.Literal, nameTok.Span), Params: params, Body: body}, nil
}

func (p *Parser) varDeclaration() (ast.Declaration, *diag.Diagnostic) {
	nameTok, d := p.expect(token.Identifier, "E0005")
	if d != nil {
		return nil, d
	}
	var init ast.Expression
	if p.match(token.Equal) {
		init, d = p.expression()
		if d != nil {
			return nil, d
		}
	}
	if _, d := p.expect(token.Semicolon, "E0005"); d != nil {
		return nil, d
	}
	return &ast.VarDecl{Name: span.Of(nameTok.Literal, nameTok.Span), Init: init}, nil
}

func (p *Parser) statement() (ast.Statement, *diag.Diagnostic) {
	switch {
	case p.match(token.For):
		return p.forStatement()
	case p.match(token.If):
		return p.ifStatement()
	case p.match(token.Print):
		return p.printStatement()
	case p.match(token.Return):
		return p.returnStatement()
	case p.match(token.While):
		return p.whileStatement()
	case p.match(token.LeftBrace):
		return p.block()
	default:
		return p.expressionStatement()
	}
}

func (p *Parser) forStatement() (ast.Statement, *diag.Diagnostic) {
	if _, d := p.expect(token.LeftParen, "E0005"); d != nil {
		return nil, d
	}

	var init ast.Declaration
	var d *diag.Diagnostic
	switch {
	case p.match(token.Semicolon):
		init = nil
	case p.match(token.Var):
		init, d = p.varDeclaration()
		if d != nil {
			return nil, d
		}
	default:
		init, d = p.expressionStatement()
		if d != nil {
			return nil, d
		}
	}

	var cond ast.Expression
	if !p.check(token.Semicolon) {
		cond, d = p.expression()
		if d != nil {
			return nil, d
		}
	}
	if _, d := p.expect(token.Semicolon, "E0005"); d != nil {
		return nil, d
	}

	var incr ast.Expression
	if !p.check(token.RightParen) {
		incr, d = p.expression()
		if d != nil {
			return nil, d
		}
	}
	if _, d := p.expect(token.RightParen, "E0005"); d != nil {
		return nil, d
	}

	body, d := p.statement()
	if d != nil {
		return nil, d
	}
	return &ast.ForStmt{Init: init, Cond: cond, Incr: incr, Body: body}, nil
}

func (p *Parser) ifStatement() (ast.Statement, *diag.Diagnostic) {
	if _, d := p.expect(token.LeftParen, "E0005"); d != nil {
		return nil, d
	}
	cond, d := p.expression()
	if d != nil {
		return nil, d
	}
	if _, d := p.expect(token.RightParen, "E0005"); d != nil {
		return nil, d
	}
	then, d := p.statement()
	if d != nil {
		return nil, d
	}
	var elseBranch ast.Statement
	if p.match(token.Else) {
		elseBranch, d = p.statement()
		if d != nil {
			return nil, d
		}
	}
	return &ast.IfStmt{Cond: cond, Then: then, Else: elseBranch}, nil
}

func (p *Parser) printStatement() (ast.Statement, *diag.Diagnostic) {
	expr, d := p.expression()
	if d != nil {
		return nil, d
	}
	if _, d := p.expect(token.Semicolon, "E0005"); d != nil {
		return nil, d
	}
	return &ast.PrintStmt{Expr: expr}, nil
}

func (p *Parser) returnStatement() (ast.Statement, *diag.Diagnostic) {
	keyword := p.previous().Span
	var value ast.Expression
	if !p.check(token.Semicolon) {
		var d *diag.Diagnostic
		value, d = p.expression()
		if d != nil {
			return nil, d
		}
	}
	if _, d := p.expect(token.Semicolon, "E0005"); d != nil {
		return nil, d
	}
	return &ast.ReturnStmt{Keyword: keyword, Value: value}, nil
}

func (p *Parser) whileStatement() (ast.Statement, *diag.Diagnostic) {
	if _, d := p.expect(token.LeftParen, "E0005"); d != nil {
		return nil, d
	}
	cond, d := p.expression()
	if d != nil {
		return nil, d
	}
	if _, d := p.expect(token.RightParen, "E0005"); d != nil {
		return nil, d
	}
	body, d := p.statement()
	if d != nil {
		return nil, d
	}
	return &ast.WhileStmt{Cond: cond, Body: body}, nil
}

func (p *Parser) block() (*ast.BlockStmt, *diag.Diagnostic) {
	var decls []ast.Declaration
	for !p.check(token.RightBrace) && !p.atEnd() {
		decl, d := p.declaration()
		if d != nil {
			return nil, d
		}
		decls = append(decls, decl)
	}
	if _, d := p.expect(token.RightBrace, "E0005"); d != nil {
		return nil, d
	}
	return &ast.BlockStmt{Decls: decls}, nil
}

func (p *Parser) expressionStatement() (*ast.ExprStmt, *diag.Diagnostic) {
	expr, d := p.expression()
	if d != nil {
		return nil, d
	}
	if _, d := p.expect(token.Semicolon, "E0005"); d != nil {
		return nil, d
	}
	return &ast.ExprStmt{Expr: expr}, nil
}

func (p *Parser) expression() (ast.Expression, *diag.Diagnostic) {
	return p.assignment()
}

func (p *Parser) assignment() (ast.Expression, *diag.Diagnostic) {
	expr, d := p.precedence(precOr)
	if d != nil {
		return nil, d
	}
	if p.check(token.Equal) {
		equalTok := p.advance()
		value, d := p.assignment()
		if d != nil {
			return nil, d
		}
		return &ast.AssignExpr{Lhs: expr, Equal: equalTok.Span, Rhs: value}, nil
	}
	return expr, nil
}

// precedence implements precedence-climbing for every binary operator
// at or above min, after parsing one unary/primary operand.
func (p *Parser) precedence(min int) (ast.Expression, *diag.Diagnostic) {
	left, d := p.unary()
	if d != nil {
		return nil, d
	}
	for {
		opType := p.peek().Type
		prec, ok := binaryPrecedence[opType]
		if !ok || prec < min || opType == token.LeftParen || opType == token.Dot {
			break
		}
		opTok := p.advance()
		right, d := p.precedence(prec + 1)
		if d != nil {
			return nil, d
		}
		left = &ast.BinaryExpr{
			Lhs: left,
			Op:  span.Of(binaryOperators[opType], opTok.Span),
			Rhs: right,
		}
	}
	return left, nil
}

func (p *Parser) unary() (ast.Expression, *diag.Diagnostic) {
	if p.match(token.Bang) {
		opTok := p.previous()
		operand, d := p.unary()
		if d != nil {
			return nil, d
		}
		return &ast.UnaryExpr{Op: span.Of(ast.OpNot, opTok.Span), Expr: operand}, nil
	}
	if p.match(token.Minus) {
		opTok := p.previous()
		operand, d := p.unary()
		if d != nil {
			return nil, d
		}
		return &ast.UnaryExpr{Op: span.Of(ast.OpNegate, opTok.Span), Expr: operand}, nil
	}
	return p.call()
}

func (p *Parser) call() (ast.Expression, *diag.Diagnostic) {
	expr, d := p.primary()
	if d != nil {
		return nil, d
	}
	for {
		switch {
		case p.match(token.LeftParen):
			expr, d = p.finishCall(expr)
			if d != nil {
				return nil, d
			}
		case p.match(token.Dot):
			nameTok, d := p.expect(token.Identifier, "E0005")
			if d != nil {
				return nil, d
			}
			expr = &ast.PropertyExpr{Object: expr, Name: span.Of(nameTok.Literal, nameTok.Span)}
		default:
			return expr, nil
		}
	}
}

func (p *Parser) finishCall(callee ast.Expression) (ast.Expression, *diag.Diagnostic) {
	var args []ast.Expression
	if !p.check(token.RightParen) {
		for {
			arg, d := p.expression()
			if d != nil {
				return nil, d
			}
			args = append(args, arg)
			if !p.match(token.Comma) {
				break
			}
		}
	}
	closing, d := p.expect(token.RightParen, "E0005")
	if d != nil {
		return nil, d
	}
	return &ast.CallExpr{Callee: callee, Args: args, ClosingAt: closing.Span}, nil
}

func (p *Parser) primary() (ast.Expression, *diag.Diagnostic) {
	tok := p.peek()
	switch tok.Type {
	case token.False:
		p.advance()
		return &ast.LiteralExpr{Value: span.Of(ast.Literal{Kind: ast.LitFalse}, tok.Span)}, nil
	case token.True:
		p.advance()
		return &ast.LiteralExpr{Value: span.Of(ast.Literal{Kind: ast.LitTrue}, tok.Span)}, nil
	case token.Nil:
		p.advance()
		return &ast.LiteralExpr{Value: span.Of(ast.Literal{Kind: ast.LitNil}, tok.Span)}, nil
	case token.Number:
		p.advance()
		return &ast.LiteralExpr{Value: span.Of(ast.Literal{Kind: ast.LitNumber, Number: tok.Number}, tok.Span)}, nil
	case token.StringLit:
		p.advance()
		return &ast.LiteralExpr{Value: span.Of(ast.Literal{Kind: ast.LitString, Text: tok.Literal}, tok.Span)}, nil
	case token.Identifier:
		p.advance()
		return &ast.LiteralExpr{Value: span.Of(ast.Literal{Kind: ast.LitIdentifier, Text: tok.Literal}, tok.Span)}, nil
	case token.LeftParen:
		p.advance()
		expr, d := p.expression()
		if d != nil {
			return nil, d
		}
		if _, d := p.expect(token.RightParen, "E0005"); d != nil {
			return nil, d
		}
		return expr, nil
	case token.This, token.Super:
		// Parsed as an identifier literal named after the token type
		// ("THIS"/"SUPER"), which the compiler lowers as an ordinary
		// global read; there is no class or method runtime behind them.
		p.advance()
		return &ast.LiteralExpr{Value: span.Of(ast.Literal{Kind: ast.LitIdentifier, Text: string(tok.Type)}, tok.Span)}, nil
	}
	if p.atEnd() {
		return nil, diag.New("E0003", tok.Span)
	}
	return nil, diag.New("E0004", tok.Span)
}
