package lexer

import "testing"

func tokenTypes(src string) []TokenType {
	toks := NewScanner(src).ScanTokens()
	types := make([]TokenType, len(toks))
	for i, t := range toks {
		types[i] = t.Type
	}
	return types
}

func TestOperatorsAndRange(t *testing.T) {
	got := tokenTypes("0..10 <= >= == != ..")
	want := []TokenType{TokenInt, TokenDotDot, TokenInt, TokenLE, TokenGE,
		TokenDoubleEqual, TokenNotEqual, TokenDotDot, TokenEOF}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNumbers(t *testing.T) {
	toks := NewScanner("42 3.5 0 1..2").ScanTokens()
	want := []TokenType{TokenInt, TokenFloat, TokenInt, TokenInt, TokenDotDot, TokenInt, TokenEOF}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d: got %s (%q), want %s", i, toks[i].Type, toks[i].Lexeme, w)
		}
	}
	if toks[1].Lexeme != "3.5" {
		t.Errorf("float lexeme = %q", toks[1].Lexeme)
	}
}

func TestKeywords(t *testing.T) {
	got := tokenTypes("for i in 0..3 do end while then elif match case _")
	want := []TokenType{TokenFor, TokenIdent, TokenIn, TokenInt, TokenDotDot,
		TokenInt, TokenDo, TokenEnd, TokenWhile, TokenThen, TokenElif,
		TokenMatch, TokenCase, TokenUnderscore, TokenEOF}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStringsAndComments(t *testing.T) {
	toks := NewScanner("\"hi\" // comment\nx").ScanTokens()
	if toks[0].Type != TokenString || toks[0].Lexeme != "hi" {
		t.Errorf("string token = %v", toks[0])
	}
	if toks[1].Type != TokenIdent || toks[1].Line != 2 {
		t.Errorf("ident after comment = %v", toks[1])
	}
}

func TestUnterminatedString(t *testing.T) {
	toks := NewScanner("\"oops").ScanTokens()
	if toks[0].Type != TokenError {
		t.Errorf("expected error token, got %v", toks[0])
	}
}
