package lexer

import (
	"testing"

	"loxvm/internal/token"
)

func TestTokenizeOperatorsAndKeywords(t *testing.T) {
	src := `var a = 1; if (a != 2) { print a >= 1; } // trailing comment
`
	tokens, d := Tokenize(src)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	want := []token.Type{
		token.Var, token.Identifier, token.Equal, token.Number, token.Semicolon,
		token.If, token.LeftParen, token.Identifier, token.BangEqual, token.Number, token.RightParen,
		token.LeftBrace, token.Print, token.Identifier, token.GreaterEqual, token.Number, token.Semicolon,
		token.RightBrace, token.EOF,
	}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, typ := range want {
		if tokens[i].Type != typ {
			t.Errorf("token %d: got %s, want %s", i, tokens[i].Type, typ)
		}
	}
}

func TestTokenizeStringLiteral(t *testing.T) {
	tokens, d := Tokenize(`"hi, world"`)
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	if tokens[0].Type != token.StringLit || tokens[0].Literal != "hi, world" {
		t.Fatalf("got %+v", tokens[0])
	}
}

func TestUnterminatedStringRaisesE0001(t *testing.T) {
	_, d := Tokenize(`"unterminated`)
	if d == nil || d.Code != "E0001" {
		t.Fatalf("got %v, want E0001", d)
	}
}

func TestUnrecognizedTokenRaisesE0001(t *testing.T) {
	_, d := Tokenize("var a = 1 @ 2;")
	if d == nil || d.Code != "E0001" {
		t.Fatalf("got %v, want E0001", d)
	}
}

func TestNumberSpan(t *testing.T) {
	tokens, d := Tokenize("123.5")
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	tok := tokens[0]
	if tok.Number != 123.5 {
		t.Fatalf("got %v", tok.Number)
	}
	if tok.Span.Start != 0 || tok.Span.End != 5 {
		t.Fatalf("got span %v", tok.Span)
	}
}

func TestKeywordsNotIdentifiers(t *testing.T) {
	tokens, d := Tokenize("and class else false for fun if nil or print return super this true var while")
	if d != nil {
		t.Fatalf("unexpected diagnostic: %v", d)
	}
	want := []token.Type{
		token.And, token.Class, token.Else, token.False, token.For, token.Fun, token.If, token.Nil,
		token.Or, token.Print, token.Return, token.Super, token.This, token.True, token.Var, token.While,
		token.EOF,
	}
	for i, typ := range want {
		if tokens[i].Type != typ {
			t.Errorf("token %d: got %s, want %s", i, tokens[i].Type, typ)
		}
	}
}
