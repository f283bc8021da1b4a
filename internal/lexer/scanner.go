package lexer

import (
	"fmt"
	"unicode"
)

type TokenType string

const (
	// Keywords
	TokenFn     TokenType = "FN"
	TokenLet    TokenType = "LET"
	TokenIf     TokenType = "IF"
	TokenThen   TokenType = "THEN"
	TokenElif   TokenType = "ELIF"
	TokenElse   TokenType = "ELSE"
	TokenEnd    TokenType = "END"
	TokenWhile  TokenType = "WHILE"
	TokenFor    TokenType = "FOR"
	TokenIn     TokenType = "IN"
	TokenDo     TokenType = "DO"
	TokenMatch  TokenType = "MATCH"
	TokenCase   TokenType = "CASE"
	TokenReturn TokenType = "RETURN"
	TokenAnd    TokenType = "AND"
	TokenOr     TokenType = "OR"
	TokenNot    TokenType = "NOT"

	// Literals
	TokenTrue   TokenType = "TRUE"
	TokenFalse  TokenType = "FALSE"
	TokenNil    TokenType = "NIL"
	TokenIdent  TokenType = "IDENT"
	TokenString TokenType = "STRING"
	TokenInt    TokenType = "INT"
	TokenFloat  TokenType = "FLOAT"

	// Symbols
	TokenLParen      TokenType = "("
	TokenRParen      TokenType = ")"
	TokenLBracket    TokenType = "["
	TokenRBracket    TokenType = "]"
	TokenLBrace      TokenType = "{"
	TokenRBrace      TokenType = "}"
	TokenPlus        TokenType = "+"
	TokenMinus       TokenType = "-"
	TokenStar        TokenType = "*"
	TokenSlash       TokenType = "/"
	TokenPercent     TokenType = "%"
	TokenEqual       TokenType = "="
	TokenDoubleEqual TokenType = "=="
	TokenNotEqual    TokenType = "!="
	TokenLT          TokenType = "<"
	TokenGT          TokenType = ">"
	TokenLE          TokenType = "<="
	TokenGE          TokenType = ">="
	TokenBang        TokenType = "!"
	TokenComma       TokenType = ","
	TokenColon       TokenType = ":"
	TokenDotDot      TokenType = ".."
	TokenUnderscore  TokenType = "_"
	TokenError       TokenType = "ERROR"
	TokenEOF         TokenType = "EOF"
)

type Token struct {
	Type   TokenType
	Lexeme string
	Line   int
}

func (t Token) String() string {
	return fmt.Sprintf("[%s] '%s'", t.Type, t.Lexeme)
}

type Scanner struct {
	source  string
	tokens  []Token
	start   int
	current int
	line    int
}

func NewScanner(source string) *Scanner {
	return &Scanner{source: source, line: 1}
}

func (s *Scanner) ScanTokens() []Token {
	if len(s.source) >= 2 && s.source[0] == '#' && s.source[1] == '!' {
		s.skipShebang()
	}
	for !s.isAtEnd() {
		s.start = s.current
		s.scanToken()
	}
	s.tokens = append(s.tokens, Token{Type: TokenEOF, Line: s.line})
	return s.tokens
}

func (s *Scanner) scanToken() {
	c := s.advance()
	switch c {
	case '(':
		s.addToken(TokenLParen)
	case ')':
		s.addToken(TokenRParen)
	case '[':
		s.addToken(TokenLBracket)
	case ']':
		s.addToken(TokenRBracket)
	case '{':
		s.addToken(TokenLBrace)
	case '}':
		s.addToken(TokenRBrace)
	case '+':
		s.addToken(TokenPlus)
	case '-':
		s.addToken(TokenMinus)
	case '*':
		s.addToken(TokenStar)
	case '/':
		if s.match('/') {
			for s.peek() != '\n' && !s.isAtEnd() {
				s.advance()
			}
		} else {
			s.addToken(TokenSlash)
		}
	case '%':
		s.addToken(TokenPercent)
	case '=':
		if s.match('=') {
			s.addToken(TokenDoubleEqual)
		} else {
			s.addToken(TokenEqual)
		}
	case '!':
		if s.match('=') {
			s.addToken(TokenNotEqual)
		} else {
			s.addToken(TokenBang)
		}
	case '<':
		if s.match('=') {
			s.addToken(TokenLE)
		} else {
			s.addToken(TokenLT)
		}
	case '>':
		if s.match('=') {
			s.addToken(TokenGE)
		} else {
			s.addToken(TokenGT)
		}
	case '.':
		if s.match('.') {
			s.addToken(TokenDotDot)
		} else {
			s.errorToken("unexpected '.'")
		}
	case ',':
		s.addToken(TokenComma)
	case ':':
		s.addToken(TokenColon)
	case '"':
		s.string()
	case '\n':
		s.line++
	case ' ', '\r', '\t':
		// skip
	default:
		if isDigit(c) {
			s.number()
		} else if isAlpha(c) {
			s.identifier()
		} else {
			s.errorToken(fmt.Sprintf("unexpected character %q", c))
		}
	}
}

func (s *Scanner) identifier() {
	for isAlphaNumeric(s.peek()) {
		s.advance()
	}
	text := s.source[s.start:s.current]
	switch text {
	case "fn":
		s.addToken(TokenFn)
	case "let":
		s.addToken(TokenLet)
	case "if":
		s.addToken(TokenIf)
	case "then":
		s.addToken(TokenThen)
	case "elif":
		s.addToken(TokenElif)
	case "else":
		s.addToken(TokenElse)
	case "end":
		s.addToken(TokenEnd)
	case "while":
		s.addToken(TokenWhile)
	case "for":
		s.addToken(TokenFor)
	case "in":
		s.addToken(TokenIn)
	case "do":
		s.addToken(TokenDo)
	case "match":
		s.addToken(TokenMatch)
	case "case":
		s.addToken(TokenCase)
	case "return":
		s.addToken(TokenReturn)
	case "and":
		s.addToken(TokenAnd)
	case "or":
		s.addToken(TokenOr)
	case "not":
		s.addToken(TokenNot)
	case "true":
		s.addToken(TokenTrue)
	case "false":
		s.addToken(TokenFalse)
	case "nil":
		s.addToken(TokenNil)
	case "_":
		s.addToken(TokenUnderscore)
	default:
		s.addToken(TokenIdent)
	}
}

func (s *Scanner) number() {
	for isDigit(s.peek()) {
		s.advance()
	}
	// a single '.' followed by a digit makes it a float; '..' is a range
	if s.peek() == '.' && isDigit(s.peekNext()) {
		s.advance()
		for isDigit(s.peek()) {
			s.advance()
		}
		s.addToken(TokenFloat)
		return
	}
	s.addToken(TokenInt)
}

func (s *Scanner) string() {
	for s.peek() != '"' && !s.isAtEnd() {
		if s.peek() == '\n' {
			s.line++
		}
		s.advance()
	}
	if s.isAtEnd() {
		s.errorToken("unterminated string")
		return
	}
	s.advance()
	value := s.source[s.start+1 : s.current-1]
	s.tokens = append(s.tokens, Token{Type: TokenString, Lexeme: value, Line: s.line})
}

func (s *Scanner) addToken(t TokenType) {
	s.tokens = append(s.tokens, Token{Type: t, Lexeme: s.source[s.start:s.current], Line: s.line})
}

func (s *Scanner) errorToken(msg string) {
	s.tokens = append(s.tokens, Token{Type: TokenError, Lexeme: msg, Line: s.line})
}

func (s *Scanner) match(expected byte) bool {
	if s.isAtEnd() || s.source[s.current] != expected {
		return false
	}
	s.current++
	return true
}

func (s *Scanner) advance() byte {
	s.current++
	return s.source[s.current-1]
}

func (s *Scanner) peek() byte {
	if s.isAtEnd() {
		return '\000'
	}
	return s.source[s.current]
}

func (s *Scanner) peekNext() byte {
	if s.current+1 >= len(s.source) {
		return '\000'
	}
	return s.source[s.current+1]
}

func (s *Scanner) isAtEnd() bool {
	return s.current >= len(s.source)
}

func (s *Scanner) skipShebang() {
	for !s.isAtEnd() && s.peek() != '\n' {
		s.advance()
	}
	if !s.isAtEnd() {
		s.line++
		s.advance()
	}
}

func isAlpha(c byte) bool {
	return unicode.IsLetter(rune(c)) || c == '_'
}

func isAlphaNumeric(c byte) bool {
	return isAlpha(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
