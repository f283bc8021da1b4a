package compiler

import (
	"strconv"

	"lume/internal/bytecode"
	lumeerr "lume/internal/errors"
	"lume/internal/lexer"
	"lume/internal/value"
)

const (
	maxLocals = 256
	maxParams = 8
)

type precedence int

const (
	precNone precedence = iota
	precOr
	precAnd
	precEquality
	precComparison
	precRange
	precTerm
	precFactor
	precUnary
	precCall
)

type local struct {
	name  string
	depth int
}

// Compiler is a single-pass parser/emitter: no AST, tokens go straight to
// bytecode. Functions compile in a nested Compiler that shares the token
// stream and arena.
type Compiler struct {
	tokens    []lexer.Token
	pos       int
	chunk     *bytecode.Chunk
	arena     *value.Arena
	locals    []local
	depth     int
	enclosing *Compiler
	fnName    string
}

type bail struct{ err *lumeerr.LumeError }

// Compile turns source into a chunk for the top-level script. Named
// functions are compiled into their own chunks and stored as globals.
func Compile(source string, arena *value.Arena) (chunk *bytecode.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			if b, ok := r.(bail); ok {
				chunk, err = nil, b.err
				return
			}
			panic(r)
		}
	}()

	c := &Compiler{
		tokens: lexer.NewScanner(source).ScanTokens(),
		chunk:  bytecode.NewChunk(),
		arena:  arena,
	}
	// slot 0 belongs to the script itself, like a callee slot in a frame
	c.locals = append(c.locals, local{name: "", depth: 0})

	for !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.emitOp(bytecode.OpNil)
	c.emitOp(bytecode.OpReturn)
	return c.chunk, nil
}

func (c *Compiler) errorf(format string, args ...interface{}) {
	panic(bail{err: lumeerr.NewCompileError(c.previous().Line, format, args...)})
}

func (c *Compiler) errorAtCurrent(format string, args ...interface{}) {
	panic(bail{err: lumeerr.NewCompileError(c.current().Line, format, args...)})
}

// ---- token plumbing ----

func (c *Compiler) current() lexer.Token  { return c.tokens[c.pos] }
func (c *Compiler) previous() lexer.Token { return c.tokens[c.pos-1] }

func (c *Compiler) advance() lexer.Token {
	if c.current().Type == lexer.TokenError {
		c.errorAtCurrent("%s", c.current().Lexeme)
	}
	t := c.tokens[c.pos]
	if t.Type != lexer.TokenEOF {
		c.pos++
	}
	return t
}

func (c *Compiler) check(t lexer.TokenType) bool { return c.current().Type == t }

func (c *Compiler) match(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t lexer.TokenType, msg string) lexer.Token {
	if !c.check(t) {
		c.errorAtCurrent("%s (got %s)", msg, c.current().Type)
	}
	return c.advance()
}

func (c *Compiler) peekType(ahead int) lexer.TokenType {
	i := c.pos + ahead
	if i >= len(c.tokens) {
		return lexer.TokenEOF
	}
	return c.tokens[i].Type
}

// ---- emit helpers ----

func (c *Compiler) line() int { return c.previous().Line }

func (c *Compiler) emitOp(op bytecode.OpCode) {
	c.chunk.WriteOp(op, c.line())
}

func (c *Compiler) emitOpByte(op bytecode.OpCode, b byte) {
	c.emitOp(op)
	c.chunk.WriteByte(b, c.line())
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOpByte(bytecode.OpConstant, c.makeConstant(v))
}

func (c *Compiler) makeConstant(v value.Value) byte {
	ci := c.chunk.AddConstant(v)
	if ci > 255 {
		c.errorf("too many constants in one chunk")
	}
	return byte(ci)
}

// emitJump writes a placeholder forward jump and returns the operand
// offset for patchJump.
func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	c.chunk.WriteShort(0xffff, c.line())
	return len(c.chunk.Code) - 2
}

func (c *Compiler) patchJump(operand int) {
	// distance from the ip after the operand to the target
	jump := len(c.chunk.Code) - operand - 2
	if jump > 0xffff {
		c.errorf("jump too large")
	}
	c.chunk.PatchShort(operand, uint16(jump))
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.chunk.Code) + 2 - loopStart
	if offset > 0xffff {
		c.errorf("loop body too large")
	}
	c.chunk.WriteShort(uint16(offset), c.line())
}

// ---- scopes and variables ----

func (c *Compiler) beginScope() { c.depth++ }

func (c *Compiler) endScope() {
	c.depth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.depth {
		c.emitOp(bytecode.OpPop)
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *Compiler) addLocal(name string) int {
	if len(c.locals) >= maxLocals {
		c.errorf("too many local variables")
	}
	for i := len(c.locals) - 1; i >= 0; i-- {
		l := c.locals[i]
		if l.depth < c.depth {
			break
		}
		if l.name == name && name != "" {
			c.errorf("variable %q already declared in this scope", name)
		}
	}
	c.locals = append(c.locals, local{name: name, depth: c.depth})
	return len(c.locals) - 1
}

func (c *Compiler) resolveLocal(name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			return i
		}
	}
	return -1
}

func (c *Compiler) nameConstant(name string) byte {
	return c.makeConstant(c.arena.NewString(name))
}

// ---- declarations and statements ----

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenFn):
		c.fnDeclaration()
	case c.match(lexer.TokenLet):
		c.letDeclaration()
	default:
		c.statement()
	}
}

func (c *Compiler) fnDeclaration() {
	if c.enclosing != nil || c.depth > 0 {
		c.errorf("functions must be declared at top level")
	}
	name := c.consume(lexer.TokenIdent, "expected function name").Lexeme
	fc := &Compiler{
		tokens:    c.tokens,
		pos:       c.pos,
		chunk:     bytecode.NewChunk(),
		arena:     c.arena,
		enclosing: c,
		fnName:    name,
	}
	fc.locals = append(fc.locals, local{name: name, depth: 0})

	fc.consume(lexer.TokenLParen, "expected '(' after function name")
	arity := 0
	if !fc.check(lexer.TokenRParen) {
		for {
			if arity >= maxParams {
				fc.errorAtCurrent("too many parameters (max %d)", maxParams)
			}
			p := fc.consume(lexer.TokenIdent, "expected parameter name")
			fc.addLocal(p.Lexeme)
			arity++
			if !fc.match(lexer.TokenComma) {
				break
			}
		}
	}
	fc.consume(lexer.TokenRParen, "expected ')' after parameters")

	for !fc.check(lexer.TokenEnd) && !fc.check(lexer.TokenEOF) {
		fc.declaration()
	}
	fc.consume(lexer.TokenEnd, "expected 'end' after function body")
	fc.emitOp(bytecode.OpNil)
	fc.emitOp(bytecode.OpReturn)

	c.pos = fc.pos
	fn := &value.Function{Name: name, Arity: arity, Chunk: fc.chunk}
	c.emitOpByte(bytecode.OpConstant, c.makeConstant(c.arena.NewFunction(fn)))
	c.emitOpByte(bytecode.OpDefineGlobal, c.nameConstant(name))
}

func (c *Compiler) letDeclaration() {
	name := c.consume(lexer.TokenIdent, "expected variable name").Lexeme
	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	if c.depth > 0 || c.enclosing != nil {
		c.addLocal(name)
		return
	}
	c.emitOpByte(bytecode.OpDefineGlobal, c.nameConstant(name))
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenMatch):
		c.matchStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	default:
		c.simpleStatement()
	}
}

// simpleStatement is an assignment or an expression statement.
func (c *Compiler) simpleStatement() {
	if c.check(lexer.TokenIdent) {
		switch c.peekType(1) {
		case lexer.TokenEqual:
			c.assignment()
			return
		case lexer.TokenLBracket:
			if c.isIndexAssignment() {
				c.indexAssignment()
				return
			}
		}
	}
	c.expression()
	c.emitOp(bytecode.OpPop)
}

// isIndexAssignment scans past one bracketed index for a following '='.
func (c *Compiler) isIndexAssignment() bool {
	depth := 0
	for i := 1; c.pos+i < len(c.tokens); i++ {
		switch c.peekType(i) {
		case lexer.TokenLBracket:
			depth++
		case lexer.TokenRBracket:
			depth--
			if depth == 0 {
				return c.peekType(i+1) == lexer.TokenEqual
			}
		case lexer.TokenEOF:
			return false
		}
	}
	return false
}

func (c *Compiler) assignment() {
	name := c.advance().Lexeme
	c.advance() // '='
	slot := c.resolveLocal(name)

	if slot >= 0 && c.trySuperInstruction(name, slot) {
		return
	}

	c.expression()
	if slot >= 0 {
		c.emitOpByte(bytecode.OpSetLocal, byte(slot))
	} else {
		c.emitOpByte(bytecode.OpSetGlobal, c.nameConstant(name))
	}
}

// trySuperInstruction peepholes `x = x + 1`, `x = x - 1` and `x = x + C`
// for locals into single opcodes. The right-hand side must be exactly the
// variable, the operator and an int literal.
func (c *Compiler) trySuperInstruction(name string, slot int) bool {
	if !(c.check(lexer.TokenIdent) && c.current().Lexeme == name) {
		return false
	}
	opType := c.peekType(1)
	if opType != lexer.TokenPlus && opType != lexer.TokenMinus {
		return false
	}
	if c.peekType(2) != lexer.TokenInt || isExprToken(c.peekType(3)) {
		return false
	}
	n, convErr := strconv.ParseInt(c.tokens[c.pos+2].Lexeme, 10, 32)
	if convErr != nil {
		return false
	}
	c.pos += 3
	switch {
	case opType == lexer.TokenPlus && n == 1:
		c.emitOpByte(bytecode.OpIncLocal, byte(slot))
	case opType == lexer.TokenMinus && n == 1:
		c.emitOpByte(bytecode.OpDecLocal, byte(slot))
	case opType == lexer.TokenPlus:
		c.emitOp(bytecode.OpAddConstLocal)
		c.chunk.WriteByte(byte(slot), c.line())
		c.chunk.WriteByte(c.makeConstant(value.NewInt(int32(n))), c.line())
	default: // x = x - C
		c.emitOp(bytecode.OpAddConstLocal)
		c.chunk.WriteByte(byte(slot), c.line())
		c.chunk.WriteByte(c.makeConstant(value.NewInt(int32(-n))), c.line())
	}
	return true
}

// isExprToken reports whether t would continue an expression, which
// disqualifies the superinstruction shortcut.
func isExprToken(t lexer.TokenType) bool {
	switch t {
	case lexer.TokenPlus, lexer.TokenMinus, lexer.TokenStar, lexer.TokenSlash,
		lexer.TokenPercent, lexer.TokenDotDot, lexer.TokenDoubleEqual,
		lexer.TokenNotEqual, lexer.TokenLT, lexer.TokenGT, lexer.TokenLE,
		lexer.TokenGE, lexer.TokenAnd, lexer.TokenOr, lexer.TokenLBracket,
		lexer.TokenLParen:
		return true
	}
	return false
}

func (c *Compiler) indexAssignment() {
	name := c.advance().Lexeme
	c.emitVariable(name)
	c.consume(lexer.TokenLBracket, "expected '['")
	c.expression()
	c.consume(lexer.TokenRBracket, "expected ']'")
	c.consume(lexer.TokenEqual, "expected '='")
	c.expression()
	c.emitOp(bytecode.OpSetIndex)
}

func (c *Compiler) emitVariable(name string) {
	if slot := c.resolveLocal(name); slot >= 0 {
		c.emitOpByte(bytecode.OpGetLocal, byte(slot))
		return
	}
	c.emitOpByte(bytecode.OpGetGlobal, c.nameConstant(name))
}

func (c *Compiler) ifStatement() {
	c.expression()
	c.consume(lexer.TokenThen, "expected 'then' after condition")
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)

	var endJumps []int
	for !c.check(lexer.TokenElif) && !c.check(lexer.TokenElse) &&
		!c.check(lexer.TokenEnd) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}

	for c.check(lexer.TokenElif) {
		endJumps = append(endJumps, c.emitJump(bytecode.OpJump))
		c.patchJump(elseJump)
		c.advance()
		c.expression()
		c.consume(lexer.TokenThen, "expected 'then' after condition")
		elseJump = c.emitJump(bytecode.OpJumpIfFalse)
		for !c.check(lexer.TokenElif) && !c.check(lexer.TokenElse) &&
			!c.check(lexer.TokenEnd) && !c.check(lexer.TokenEOF) {
			c.declaration()
		}
	}

	if c.match(lexer.TokenElse) {
		endJumps = append(endJumps, c.emitJump(bytecode.OpJump))
		c.patchJump(elseJump)
		for !c.check(lexer.TokenEnd) && !c.check(lexer.TokenEOF) {
			c.declaration()
		}
	} else {
		c.patchJump(elseJump)
	}
	c.consume(lexer.TokenEnd, "expected 'end' after if")
	for _, j := range endJumps {
		c.patchJump(j)
	}
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk.Code)
	c.expression()
	c.consume(lexer.TokenDo, "expected 'do' after condition")
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.beginScope()
	for !c.check(lexer.TokenEnd) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenEnd, "expected 'end' after while body")
	c.endScope()
	c.emitLoop(loopStart)
	c.patchJump(exitJump)
}

// forStatement lowers `for x in a..b` to a counted loop over hidden
// locals and `for x in expr` to an indexed walk of the iterable.
func (c *Compiler) forStatement() {
	name := c.consume(lexer.TokenIdent, "expected loop variable").Lexeme
	c.consume(lexer.TokenIn, "expected 'in'")
	c.beginScope()

	c.parsePrecedence(precRange + 1)
	if c.match(lexer.TokenDotDot) {
		// counted: loop var from the start value, hidden limit
		loopSlot := c.addLocal(name)
		c.parsePrecedence(precRange + 1)
		limitSlot := c.addLocal("(limit)")
		c.consume(lexer.TokenDo, "expected 'do'")

		loopStart := len(c.chunk.Code)
		c.emitOpByte(bytecode.OpGetLocal, byte(loopSlot))
		c.emitOpByte(bytecode.OpGetLocal, byte(limitSlot))
		c.emitOp(bytecode.OpLess)
		exitJump := c.emitJump(bytecode.OpJumpIfFalse)

		// body locals live one iteration: pop them before the back edge
		c.beginScope()
		for !c.check(lexer.TokenEnd) && !c.check(lexer.TokenEOF) {
			c.declaration()
		}
		c.consume(lexer.TokenEnd, "expected 'end' after for body")
		c.endScope()

		c.emitOpByte(bytecode.OpIncLocal, byte(loopSlot))
		c.emitLoop(loopStart)
		c.patchJump(exitJump)
		c.endScope()
		return
	}

	// iterable: hidden (iter) and (idx), x = iter[idx] each round
	iterSlot := c.addLocal("(iter)")
	c.emitConstant(value.NewInt(0))
	idxSlot := c.addLocal("(idx)")
	c.emitOp(bytecode.OpNil)
	loopSlot := c.addLocal(name)
	c.consume(lexer.TokenDo, "expected 'do'")

	loopStart := len(c.chunk.Code)
	c.emitOpByte(bytecode.OpGetLocal, byte(idxSlot))
	c.emitOpByte(bytecode.OpGetLocal, byte(iterSlot))
	c.emitOp(bytecode.OpLen)
	c.emitOp(bytecode.OpLess)
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)

	c.emitOpByte(bytecode.OpGetLocal, byte(iterSlot))
	c.emitOpByte(bytecode.OpGetLocal, byte(idxSlot))
	c.emitOp(bytecode.OpIndex)
	c.emitOpByte(bytecode.OpSetLocal, byte(loopSlot))

	c.beginScope()
	for !c.check(lexer.TokenEnd) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenEnd, "expected 'end' after for body")
	c.endScope()

	c.emitOpByte(bytecode.OpIncLocal, byte(idxSlot))
	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	c.endScope()
}

func (c *Compiler) matchStatement() {
	c.expression()
	c.beginScope()
	subject := c.addLocal("(match)")

	var endJumps []int
	for c.match(lexer.TokenCase) {
		if c.match(lexer.TokenUnderscore) {
			c.consume(lexer.TokenThen, "expected 'then' after case")
			for !c.check(lexer.TokenCase) && !c.check(lexer.TokenEnd) && !c.check(lexer.TokenEOF) {
				c.declaration()
			}
			break
		}
		c.emitOpByte(bytecode.OpGetLocal, byte(subject))
		c.expression()
		c.emitOp(bytecode.OpEqual)
		c.consume(lexer.TokenThen, "expected 'then' after case")
		skip := c.emitJump(bytecode.OpJumpIfFalse)
		for !c.check(lexer.TokenCase) && !c.check(lexer.TokenEnd) && !c.check(lexer.TokenEOF) {
			c.declaration()
		}
		endJumps = append(endJumps, c.emitJump(bytecode.OpJump))
		c.patchJump(skip)
	}
	c.consume(lexer.TokenEnd, "expected 'end' after match")
	for _, j := range endJumps {
		c.patchJump(j)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.enclosing == nil {
		c.errorf("cannot return from top-level code")
	}
	if c.check(lexer.TokenEnd) || c.check(lexer.TokenCase) ||
		c.check(lexer.TokenElse) || c.check(lexer.TokenElif) {
		c.emitOp(bytecode.OpNil)
	} else {
		c.expression()
	}
	c.emitOp(bytecode.OpReturn)
}

// ---- expressions (Pratt) ----

func (c *Compiler) expression() {
	c.parsePrecedence(precOr)
}

func (c *Compiler) parsePrecedence(min precedence) {
	c.prefix()
	for {
		prec := infixPrecedence(c.current().Type)
		if prec < min {
			return
		}
		c.infix(c.advance().Type)
	}
}

func infixPrecedence(t lexer.TokenType) precedence {
	switch t {
	case lexer.TokenOr:
		return precOr
	case lexer.TokenAnd:
		return precAnd
	case lexer.TokenDoubleEqual, lexer.TokenNotEqual:
		return precEquality
	case lexer.TokenLT, lexer.TokenGT, lexer.TokenLE, lexer.TokenGE:
		return precComparison
	case lexer.TokenDotDot:
		return precRange
	case lexer.TokenPlus, lexer.TokenMinus:
		return precTerm
	case lexer.TokenStar, lexer.TokenSlash, lexer.TokenPercent:
		return precFactor
	case lexer.TokenLBracket:
		return precCall
	}
	return precNone
}

func (c *Compiler) prefix() {
	t := c.advance()
	switch t.Type {
	case lexer.TokenInt:
		n, err := strconv.ParseInt(t.Lexeme, 10, 64)
		if err != nil || n > 2147483647 || n < -2147483648 {
			c.errorf("integer literal out of range: %s", t.Lexeme)
		}
		c.emitConstant(value.NewInt(int32(n)))
	case lexer.TokenFloat:
		f, err := strconv.ParseFloat(t.Lexeme, 64)
		if err != nil {
			c.errorf("bad float literal: %s", t.Lexeme)
		}
		c.emitConstant(value.NewNum(f))
	case lexer.TokenString:
		c.emitConstant(c.arena.NewString(t.Lexeme))
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	case lexer.TokenIdent:
		c.identExpression(t.Lexeme)
	case lexer.TokenLParen:
		c.expression()
		c.consume(lexer.TokenRParen, "expected ')' after expression")
	case lexer.TokenMinus:
		c.parsePrecedence(precUnary)
		c.emitOp(bytecode.OpNegate)
	case lexer.TokenBang, lexer.TokenNot:
		c.parsePrecedence(precUnary)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenLBracket:
		c.arrayLiteral()
	case lexer.TokenLBrace:
		c.dictLiteral()
	default:
		c.errorf("unexpected token %s", t.Type)
	}
}

func (c *Compiler) infix(t lexer.TokenType) {
	switch t {
	case lexer.TokenOr:
		c.emitOp(bytecode.OpDup)
		rhs := c.emitJump(bytecode.OpJumpIfFalse)
		end := c.emitJump(bytecode.OpJump)
		c.patchJump(rhs)
		c.emitOp(bytecode.OpPop)
		c.parsePrecedence(precAnd)
		c.patchJump(end)
	case lexer.TokenAnd:
		// JumpIfFalse pops the duplicate; a falsy lhs is left as the result
		c.emitOp(bytecode.OpDup)
		skip := c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
		c.parsePrecedence(precEquality)
		c.patchJump(skip)
	case lexer.TokenDoubleEqual:
		c.parsePrecedence(precComparison)
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenNotEqual:
		c.parsePrecedence(precComparison)
		c.emitOp(bytecode.OpNotEqual)
	case lexer.TokenLT:
		c.parsePrecedence(precRange)
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLE:
		c.parsePrecedence(precRange)
		c.emitOp(bytecode.OpLessEqual)
	case lexer.TokenGT:
		c.parsePrecedence(precRange)
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGE:
		c.parsePrecedence(precRange)
		c.emitOp(bytecode.OpGreaterEqual)
	case lexer.TokenDotDot:
		c.parsePrecedence(precTerm)
		c.emitOp(bytecode.OpRange)
	case lexer.TokenPlus:
		c.parsePrecedence(precFactor)
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.parsePrecedence(precFactor)
		c.emitOp(bytecode.OpSub)
	case lexer.TokenStar:
		c.parsePrecedence(precUnary)
		c.emitOp(bytecode.OpMul)
	case lexer.TokenSlash:
		c.parsePrecedence(precUnary)
		c.emitOp(bytecode.OpDiv)
	case lexer.TokenPercent:
		c.parsePrecedence(precUnary)
		c.emitOp(bytecode.OpMod)
	case lexer.TokenLBracket:
		c.expression()
		c.consume(lexer.TokenRBracket, "expected ']' after index")
		c.emitOp(bytecode.OpIndex)
	}
}

func (c *Compiler) identExpression(name string) {
	if c.check(lexer.TokenLParen) {
		if op, arity, ok := builtinOp(name); ok {
			c.advance()
			c.callBuiltin(op, arity)
			return
		}
		c.emitVariable(name)
		c.advance()
		c.callExpression()
		return
	}
	c.emitVariable(name)
}

// builtinOp maps intrinsic names recognized at the call site to their
// opcodes and arities.
func builtinOp(name string) (bytecode.OpCode, int, bool) {
	switch name {
	case "print":
		return bytecode.OpPrint, 1, true
	case "len":
		return bytecode.OpLen, 1, true
	case "push":
		return bytecode.OpPush, 2, true
	case "sqrt":
		return bytecode.OpSqrt, 1, true
	case "abs":
		return bytecode.OpAbs, 1, true
	case "clock":
		return bytecode.OpClock, 0, true
	}
	return 0, 0, false
}

func (c *Compiler) callBuiltin(op bytecode.OpCode, arity int) {
	for i := 0; i < arity; i++ {
		if i > 0 {
			c.consume(lexer.TokenComma, "expected ','")
		}
		c.expression()
	}
	c.consume(lexer.TokenRParen, "expected ')' after arguments")
	c.emitOp(op)
}

func (c *Compiler) callExpression() {
	argc := 0
	if !c.check(lexer.TokenRParen) {
		for {
			if argc >= maxParams {
				c.errorAtCurrent("too many arguments (max %d)", maxParams)
			}
			c.expression()
			argc++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRParen, "expected ')' after arguments")
	c.emitOpByte(bytecode.OpCall, byte(argc))
}

func (c *Compiler) arrayLiteral() {
	count := 0
	if !c.check(lexer.TokenRBracket) {
		for {
			if count >= 255 {
				c.errorAtCurrent("array literal too large")
			}
			c.expression()
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRBracket, "expected ']' after array literal")
	c.emitOpByte(bytecode.OpMakeArray, byte(count))
}

func (c *Compiler) dictLiteral() {
	count := 0
	if !c.check(lexer.TokenRBrace) {
		for {
			if count >= 255 {
				c.errorAtCurrent("dict literal too large")
			}
			var key string
			switch {
			case c.check(lexer.TokenString), c.check(lexer.TokenIdent):
				key = c.advance().Lexeme
			default:
				c.errorAtCurrent("expected dict key")
			}
			c.emitConstant(c.arena.NewString(key))
			c.consume(lexer.TokenColon, "expected ':' after dict key")
			c.expression()
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRBrace, "expected '}' after dict literal")
	c.emitOpByte(bytecode.OpMakeDict, byte(count))
}
