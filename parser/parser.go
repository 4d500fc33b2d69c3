// Jawk parser - a recursive-descent parser for the POSIX AWK grammar.
//
// The parser produces an *ast.Program. Function and variable
// references are left unresolved here; the resolver package performs
// the two semantic passes over the returned tree.
package parser

import (
	"fmt"
	"strconv"

	"github.com/MetricsHub/jawk/internal/ast"
	"github.com/MetricsHub/jawk/lexer"
)

// Config lets the caller enable the optional keyword sets.
type Config struct {
	// ExtraFunctions enables the _sleep, _dump, and exec builtins
	// (the -x command-line switch).
	ExtraFunctions bool

	// TypeFunctions enables the _INTEGER, _DOUBLE, and _STRING cast
	// builtins (the -y command-line switch).
	TypeFunctions bool

	// Extensions maps each registered extension keyword to the
	// number of arguments it accepts, for parse-time validation
	// (enabled by the -ext command-line switch).
	Extensions map[string]ExtensionInfo
}

// ExtensionInfo describes the arity of one extension keyword.
type ExtensionInfo struct {
	MinArgs int
	MaxArgs int // -1 means variadic
}

// LexerError is returned when the source text fails to tokenize
// (unterminated string, truncated escape, invalid character).
type LexerError struct {
	Position lexer.Position
	Message  string
}

func (e *LexerError) Error() string {
	return fmt.Sprintf("lexer error at %d:%d: %s", e.Position.Line, e.Position.Column, e.Message)
}

// ParseProgram parses an entire AWK program from source. It returns
// a *LexerError or *ast.PositionError describing the first problem
// found; parsing isn't recoverable.
func ParseProgram(src []byte, config *Config) (prog *ast.Program, err error) {
	defer func() {
		// The parser signals errors by panicking with a typed error;
		// convert to an error return here so callers see ordinary
		// error values.
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *LexerError:
				err = e
			case *ast.PositionError:
				err = e
			default:
				panic(r)
			}
		}
	}()
	if config == nil {
		config = &Config{}
	}
	p := &parser{lexer: lexer.NewLexer(src), config: config}
	p.next() // initialize p.tok
	return p.program(), nil
}

type parser struct {
	lexer   *lexer.Lexer
	config  *Config
	pos     lexer.Position // position of last token (tok)
	tok     lexer.Token    // last lexed token
	prevTok lexer.Token    // previously lexed token
	val     string         // string value of last token (or "")

	inFunction bool // true while parsing a function body
	loopDepth  int  // current loop nesting (for break/continue)
	printing   bool // true while parsing print/printf args
}

func (p *parser) program() *ast.Program {
	prog := &ast.Program{}
	p.optionalNewlines()
	for p.tok != lexer.EOF {
		switch p.tok {
		case lexer.BEGIN:
			p.next()
			prog.Begin = append(prog.Begin, p.stmtsBrace())
		case lexer.END:
			p.next()
			prog.End = append(prog.End, p.stmtsBrace())
		case lexer.FUNCTION:
			prog.Functions = append(prog.Functions, p.function())
		default:
			p.inFunction = false
			// Can have an empty pattern (always true)
			var pattern []ast.Expr
			if p.tok != lexer.LBRACE {
				pattern = append(pattern, p.expr())
				if p.tok == lexer.COMMA {
					p.next()
					p.optionalNewlines()
					pattern = append(pattern, p.expr())
				}
			}
			// Or an empty action (equivalent to { print $0 })
			action := &ast.Action{Pattern: pattern}
			if p.tok == lexer.LBRACE {
				action.Stmts = p.stmtsBrace()
			}
			prog.Actions = append(prog.Actions, action)
		}
		p.optionalNewlines()
	}
	return prog
}

// Parse a function definition and its body.
func (p *parser) function() *ast.Function {
	p.next()
	pos := p.pos
	name := p.val
	if p.tok != lexer.NAME {
		panic(p.errorf("expected function name instead of %s", p.tok))
	}
	if lexer.KeywordToken(name) != lexer.ILLEGAL {
		panic(p.errorf("can't use keyword %q as function name", name))
	}
	if p.lexer.PeekByte() != '(' {
		panic(p.errorf("expected ( after function name"))
	}
	p.next()
	p.expect(lexer.LPAREN)
	first := true
	params := make([]string, 0, 7)
	for p.tok != lexer.RPAREN {
		if !first {
			p.commaNewlines()
		}
		first = false
		param := p.val
		if p.tok != lexer.NAME {
			panic(p.errorf("expected parameter name instead of %s", p.tok))
		}
		if param == name {
			panic(p.errorf("can't use function name as parameter name"))
		}
		for _, prev := range params {
			if prev == param {
				panic(p.errorf("duplicate parameter name %q", param))
			}
		}
		params = append(params, param)
		p.next()
	}
	p.expect(lexer.RPAREN)
	p.optionalNewlines()
	p.inFunction = true
	body := p.stmtsBrace()
	p.inFunction = false
	return &ast.Function{Name: name, Params: params, Body: body, Pos: pos}
}

// Parse a block of statements surrounded by { }.
func (p *parser) stmtsBrace() ast.Stmts {
	p.expect(lexer.LBRACE)
	ss := ast.Stmts{}
	for {
		for p.tok == lexer.NEWLINE || p.tok == lexer.SEMICOLON {
			p.next()
		}
		if p.tok == lexer.RBRACE || p.tok == lexer.EOF {
			break
		}
		ss = append(ss, p.stmt())
	}
	p.expect(lexer.RBRACE)
	if p.tok == lexer.SEMICOLON {
		p.next()
	}
	return ss
}

// Parse a "simple" statement (allowed in for-loop init and post).
func (p *parser) simpleStmt() ast.Stmt {
	switch p.tok {
	case lexer.PRINT, lexer.PRINTF:
		op := p.tok
		p.next()
		args := p.exprList(p.printExpr)
		if len(args) == 1 {
			// This allows parens around all the print args
			if m, ok := args[0].(*ast.MultiExpr); ok {
				args = m.Exprs
			}
		}
		redirect := lexer.ILLEGAL
		var dest ast.Expr
		if p.tok == lexer.GREATER || p.tok == lexer.APPEND || p.tok == lexer.PIPE {
			redirect = p.tok
			p.next()
			dest = p.expr()
		}
		if op == lexer.PRINT {
			return &ast.PrintStmt{Args: args, Redirect: redirect, Dest: dest}
		}
		if len(args) == 0 {
			panic(p.errorf("expected printf args, got none"))
		}
		return &ast.PrintfStmt{Args: args, Redirect: redirect, Dest: dest}

	case lexer.DELETE:
		p.next()
		pos := p.pos
		name := p.val
		p.expect(lexer.NAME)
		array := &ast.ArrayExpr{Name: name, Pos: pos}
		var index []ast.Expr
		if p.tok == lexer.LBRACKET {
			p.next()
			index = p.exprList(p.expr)
			if len(index) == 0 {
				panic(p.errorf("expected expression instead of ]"))
			}
			p.expect(lexer.RBRACKET)
		}
		return &ast.DeleteStmt{Array: array, Index: index}

	case lexer.IF, lexer.FOR, lexer.WHILE, lexer.DO, lexer.BREAK, lexer.CONTINUE,
		lexer.NEXT, lexer.NEXTFILE, lexer.EXIT, lexer.RETURN:
		panic(p.errorf("expected print/printf, delete, or expression"))

	default:
		return &ast.ExprStmt{Expr: p.expr()}
	}
}

// Parse any top-level statement.
func (p *parser) stmt() ast.Stmt {
	var s ast.Stmt
	switch p.tok {
	case lexer.IF:
		p.next()
		p.expect(lexer.LPAREN)
		cond := p.expr()
		p.expect(lexer.RPAREN)
		p.optionalNewlines()
		body := p.stmtsIndent()
		p.optionalNewlines()
		var elseBody ast.Stmts
		if p.tok == lexer.ELSE {
			p.next()
			p.optionalNewlines()
			elseBody = p.stmtsIndent()
		}
		s = &ast.IfStmt{Cond: cond, Body: body, Else: elseBody}

	case lexer.FOR:
		p.next()
		p.expect(lexer.LPAREN)
		var pre ast.Stmt
		if p.tok != lexer.SEMICOLON {
			pre = p.simpleStmt()
		}
		if pre != nil && p.tok == lexer.RPAREN {
			// Match: for (var in array) body
			p.next()
			p.optionalNewlines()
			exprStmt, ok := pre.(*ast.ExprStmt)
			if !ok {
				panic(p.errorf("expected 'for (var in array) ...'"))
			}
			inExpr, ok := exprStmt.Expr.(*ast.InExpr)
			if !ok {
				panic(p.errorf("expected 'for (var in array) ...'"))
			}
			if len(inExpr.Index) != 1 {
				panic(p.errorf("expected 'for (var in array) ...'"))
			}
			varExpr, ok := inExpr.Index[0].(*ast.VarExpr)
			if !ok {
				panic(p.errorf("expected 'for (var in array) ...'"))
			}
			body := p.loopStmts()
			s = &ast.ForInStmt{Var: varExpr, Array: inExpr.Array, Body: body}
		} else {
			// Match: for ([pre]; [cond]; [post]) body
			p.expect(lexer.SEMICOLON)
			p.optionalNewlines()
			var cond ast.Expr
			if p.tok != lexer.SEMICOLON {
				cond = p.expr()
			}
			p.expect(lexer.SEMICOLON)
			p.optionalNewlines()
			var post ast.Stmt
			if p.tok != lexer.RPAREN {
				post = p.simpleStmt()
			}
			p.expect(lexer.RPAREN)
			p.optionalNewlines()
			body := p.loopStmts()
			s = &ast.ForStmt{Pre: pre, Cond: cond, Post: post, Body: body}
		}

	case lexer.WHILE:
		p.next()
		p.expect(lexer.LPAREN)
		cond := p.expr()
		p.expect(lexer.RPAREN)
		p.optionalNewlines()
		body := p.loopStmts()
		s = &ast.WhileStmt{Cond: cond, Body: body}

	case lexer.DO:
		p.next()
		p.optionalNewlines()
		body := p.loopStmts()
		p.optionalNewlines()
		p.expect(lexer.WHILE)
		p.expect(lexer.LPAREN)
		cond := p.expr()
		p.expect(lexer.RPAREN)
		s = &ast.DoWhileStmt{Body: body, Cond: cond}

	case lexer.BREAK:
		if p.loopDepth == 0 {
			panic(p.errorf("break must be inside a loop body"))
		}
		p.next()
		s = &ast.BreakStmt{}

	case lexer.CONTINUE:
		if p.loopDepth == 0 {
			panic(p.errorf("continue must be inside a loop body"))
		}
		p.next()
		s = &ast.ContinueStmt{}

	case lexer.NEXT:
		if p.inFunction {
			panic(p.errorf("next can't be inside a function"))
		}
		p.next()
		s = &ast.NextStmt{}

	case lexer.NEXTFILE:
		if p.inFunction {
			panic(p.errorf("nextfile can't be inside a function"))
		}
		p.next()
		s = &ast.NextfileStmt{}

	case lexer.EXIT:
		p.next()
		var status ast.Expr
		if !p.atStmtEnd() {
			status = p.expr()
		}
		s = &ast.ExitStmt{Status: status}

	case lexer.RETURN:
		if !p.inFunction {
			panic(p.errorf("return must be inside a function"))
		}
		p.next()
		var value ast.Expr
		if !p.atStmtEnd() {
			value = p.expr()
		}
		s = &ast.ReturnStmt{Value: value}

	case lexer.LBRACE:
		body := p.stmtsBrace()
		s = &ast.BlockStmt{Body: body}

	default:
		s = p.simpleStmt()
	}

	// Ensure statements are separated by ; or newline (a compound
	// statement whose body already consumed its terminator needs no
	// further separator)
	if !p.atStmtEnd() && p.tok != lexer.ELSE &&
		p.prevTok != lexer.SEMICOLON && p.prevTok != lexer.NEWLINE && p.prevTok != lexer.RBRACE {
		panic(p.errorf("expected ; or newline between statements"))
	}
	for p.tok == lexer.NEWLINE || p.tok == lexer.SEMICOLON {
		p.next()
	}
	return s
}

func (p *parser) atStmtEnd() bool {
	switch p.tok {
	case lexer.NEWLINE, lexer.SEMICOLON, lexer.RBRACE, lexer.EOF:
		return true
	}
	return false
}

// Parse the body of a loop, tracking nesting for break and continue.
func (p *parser) loopStmts() ast.Stmts {
	p.loopDepth++
	defer func() { p.loopDepth-- }()
	return p.stmtsIndent()
}

// Parse either a single statement or a { } block body.
func (p *parser) stmtsIndent() ast.Stmts {
	if p.tok == lexer.LBRACE {
		return p.stmtsBrace()
	}
	return ast.Stmts{p.stmt()}
}

// Parse an expression list, parsing each element with parse.
func (p *parser) exprList(parse func() ast.Expr) []ast.Expr {
	exprs := []ast.Expr{}
	first := true
	for !p.atExprListEnd() {
		if !first {
			p.commaNewlines()
		}
		first = false
		exprs = append(exprs, parse())
	}
	return exprs
}

func (p *parser) atExprListEnd() bool {
	switch p.tok {
	case lexer.NEWLINE, lexer.SEMICOLON, lexer.RBRACE, lexer.RBRACKET, lexer.RPAREN,
		lexer.EOF, lexer.GREATER, lexer.APPEND, lexer.PIPE:
		return true
	}
	return false
}

// Here's where things get slightly interesting: only certain
// expression types are allowed in print/printf statements,
// because > is treated as a redirect there.

func (p *parser) expr() ast.Expr      { return p.getLine() }
func (p *parser) printExpr() ast.Expr { return p.printed(p.ternary) }

func (p *parser) printed(parse func() ast.Expr) ast.Expr {
	prevPrinting := p.printing
	p.printing = true
	defer func() { p.printing = prevPrinting }()
	return parse()
}

// Parse a pipe-to-getline chain: cmd | getline [lvalue]
func (p *parser) getLine() ast.Expr {
	expr := p.ternary()
	for p.tok == lexer.PIPE && !p.printing {
		p.next()
		p.expect(lexer.GETLINE)
		target := p.optionalLValue()
		expr = &ast.GetlineExpr{Command: expr, Target: target}
	}
	return expr
}

// Parse an lvalue if the next tokens allow one, or return nil.
func (p *parser) optionalLValue() ast.Expr {
	switch p.tok {
	case lexer.NAME:
		if p.lexer.PeekByte() == '(' {
			// User or extension function call, e.g. foo() not lvalue
			return nil
		}
		pos := p.pos
		name := p.val
		p.next()
		if p.tok == lexer.LBRACKET {
			p.next()
			index := p.exprList(p.expr)
			if len(index) == 0 {
				panic(p.errorf("expected expression instead of ]"))
			}
			p.expect(lexer.RBRACKET)
			return &ast.IndexExpr{Array: &ast.ArrayExpr{Name: name, Pos: pos}, Index: index}
		}
		return &ast.VarExpr{Name: name, Pos: pos}
	case lexer.DOLLAR:
		p.next()
		return &ast.FieldExpr{Index: p.primary()}
	default:
		return nil
	}
}

// Ternary and assignment are right-associative; an assignment target
// must parse as an lvalue.
func (p *parser) ternary() ast.Expr {
	expr := p.or()
	switch p.tok {
	case lexer.QUESTION:
		p.next()
		p.optionalNewlines()
		trueValue := p.ternary()
		p.expect(lexer.COLON)
		p.optionalNewlines()
		falseValue := p.ternary()
		return &ast.CondExpr{Cond: expr, True: trueValue, False: falseValue}
	case lexer.ASSIGN:
		if !ast.IsLValue(expr) {
			panic(p.errorf("expected lvalue before ="))
		}
		p.next()
		p.optionalNewlines()
		right := p.ternary()
		return &ast.AssignExpr{Left: expr, Right: right}
	case lexer.ADD_ASSIGN, lexer.DIV_ASSIGN, lexer.MOD_ASSIGN, lexer.MUL_ASSIGN,
		lexer.POW_ASSIGN, lexer.SUB_ASSIGN:
		if !ast.IsLValue(expr) {
			panic(p.errorf("expected lvalue before %s", p.tok))
		}
		op := augToBinaryOp(p.tok)
		p.next()
		p.optionalNewlines()
		right := p.ternary()
		return &ast.AugAssignExpr{Left: expr, Op: op, Right: right}
	}
	return expr
}

func augToBinaryOp(op lexer.Token) lexer.Token {
	switch op {
	case lexer.ADD_ASSIGN:
		return lexer.ADD
	case lexer.SUB_ASSIGN:
		return lexer.SUB
	case lexer.MUL_ASSIGN:
		return lexer.MUL
	case lexer.DIV_ASSIGN:
		return lexer.DIV
	case lexer.MOD_ASSIGN:
		return lexer.MOD
	case lexer.POW_ASSIGN:
		return lexer.POW
	default:
		return lexer.ILLEGAL
	}
}

func (p *parser) or() ast.Expr {
	expr := p.and()
	for p.tok == lexer.OR {
		p.next()
		p.optionalNewlines()
		expr = &ast.BinaryExpr{Left: expr, Op: lexer.OR, Right: p.and()}
	}
	return expr
}

func (p *parser) and() ast.Expr {
	expr := p.in()
	for p.tok == lexer.AND {
		p.next()
		p.optionalNewlines()
		expr = &ast.BinaryExpr{Left: expr, Op: lexer.AND, Right: p.in()}
	}
	return expr
}

func (p *parser) in() ast.Expr {
	expr := p.match()
	for p.tok == lexer.IN {
		p.next()
		pos := p.pos
		name := p.val
		p.expect(lexer.NAME)
		array := &ast.ArrayExpr{Name: name, Pos: pos}
		expr = &ast.InExpr{Index: []ast.Expr{expr}, Array: array}
	}
	return expr
}

func (p *parser) match() ast.Expr {
	expr := p.compare()
	for p.tok == lexer.MATCH || p.tok == lexer.NOT_MATCH {
		op := p.tok
		p.next()
		// A regex literal on the right side of ~ is the regex
		// itself, not a match against $0
		right := p.regexStr(p.compare)
		expr = &ast.BinaryExpr{Left: expr, Op: op, Right: right}
	}
	return expr
}

func (p *parser) compare() ast.Expr {
	expr := p.concat()
	switch p.tok {
	case lexer.EQUALS, lexer.NOT_EQUALS, lexer.LESS, lexer.LTE:
	case lexer.GREATER, lexer.GTE:
		if p.printing && p.tok == lexer.GREATER {
			// > is a redirect in print/printf statements
			return expr
		}
	default:
		return expr
	}
	op := p.tok
	p.next()
	right := p.concat() // Not compare() as these aren't associative
	return &ast.BinaryExpr{Left: expr, Op: op, Right: right}
}

func (p *parser) concat() ast.Expr {
	expr := p.add()
	for p.concatNext() {
		right := p.add()
		expr = &ast.BinaryExpr{Left: expr, Op: ast.CONCAT, Right: right}
	}
	return expr
}

// concatNext reports whether the current token can begin the right
// side of a string concatenation.
func (p *parser) concatNext() bool {
	switch p.tok {
	case lexer.DOLLAR, lexer.NOT, lexer.NAME, lexer.NUMBER, lexer.STRING,
		lexer.LPAREN, lexer.INCR, lexer.DECR:
		return true
	}
	return p.tok >= lexer.F_ATAN2 && p.tok <= lexer.F_TOUPPER
}

func (p *parser) add() ast.Expr {
	expr := p.mul()
	for p.tok == lexer.ADD || p.tok == lexer.SUB {
		op := p.tok
		p.next()
		expr = &ast.BinaryExpr{Left: expr, Op: op, Right: p.mul()}
	}
	return expr
}

func (p *parser) mul() ast.Expr {
	expr := p.pow()
	for p.tok == lexer.MUL || p.tok == lexer.DIV || p.tok == lexer.MOD {
		op := p.tok
		p.next()
		expr = &ast.BinaryExpr{Left: expr, Op: op, Right: p.pow()}
	}
	return expr
}

func (p *parser) pow() ast.Expr {
	// Note: ^ is right-associative
	expr := p.postIncr()
	if p.tok == lexer.POW {
		p.next()
		return &ast.BinaryExpr{Left: expr, Op: lexer.POW, Right: p.pow()}
	}
	return expr
}

func (p *parser) postIncr() ast.Expr {
	expr := p.primary()
	if (p.tok == lexer.INCR || p.tok == lexer.DECR) && ast.IsLValue(expr) {
		op := p.tok
		p.next()
		return &ast.IncrExpr{Expr: expr, Op: op}
	}
	return expr
}

func (p *parser) primary() ast.Expr {
	switch p.tok {
	case lexer.NUMBER:
		// AWK allows forms like "1.5e", but ParseFloat doesn't
		s := p.val
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			panic(p.errorf("error parsing number %q: %s", s, err))
		}
		p.next()
		return &ast.NumExpr{Value: n}

	case lexer.STRING:
		s := p.val
		p.next()
		return &ast.StrExpr{Value: s}

	case lexer.DIV, lexer.DIV_ASSIGN:
		regex := p.nextRegex()
		return &ast.RegExpr{Regex: regex}

	case lexer.DOLLAR:
		p.next()
		return &ast.FieldExpr{Index: p.primary()}

	case lexer.NOT, lexer.ADD, lexer.SUB:
		op := p.tok
		p.next()
		return &ast.UnaryExpr{Op: op, Value: p.pow()}

	case lexer.INCR, lexer.DECR:
		op := p.tok
		p.next()
		exprPos := p.pos
		expr := p.optionalLValue()
		if expr == nil {
			panic(ast.PosErrorf(exprPos, "expected lvalue after %s", op))
		}
		return &ast.IncrExpr{Expr: expr, Op: op, Pre: true}

	case lexer.NAME:
		pos := p.pos
		name := p.val
		if p.lexer.PeekByte() == '(' {
			// Grammar requires the ( to be in the same place as the
			// name for a function call
			if info, ok := p.extraBuiltin(name); ok {
				p.next()
				p.expect(lexer.LPAREN)
				args := p.exprList(p.expr)
				p.expect(lexer.RPAREN)
				p.checkExtArity(pos, name, info, len(args))
				return &ast.ExtCallExpr{Keyword: name, Args: args, Pos: pos}
			}
			p.next()
			p.expect(lexer.LPAREN)
			args := p.exprList(p.expr)
			p.expect(lexer.RPAREN)
			return &ast.UserCallExpr{Name: name, Args: args, Pos: pos}
		}
		p.next()
		if p.tok == lexer.LBRACKET {
			p.next()
			index := p.exprList(p.expr)
			if len(index) == 0 {
				panic(p.errorf("expected expression instead of ]"))
			}
			p.expect(lexer.RBRACKET)
			return &ast.IndexExpr{Array: &ast.ArrayExpr{Name: name, Pos: pos}, Index: index}
		}
		return &ast.VarExpr{Name: name, Pos: pos}

	case lexer.LPAREN:
		p.next()
		parenPos := p.pos
		exprs := p.exprList(p.expr)
		switch len(exprs) {
		case 0:
			panic(p.errorf("expected expression, not %s", p.tok))
		case 1:
			p.expect(lexer.RPAREN)
			return &ast.GroupingExpr{Expr: exprs[0]}
		default:
			// Multi-dimensional membership: (a, b) in array
			p.expect(lexer.RPAREN)
			if p.tok == lexer.IN {
				p.next()
				pos := p.pos
				name := p.val
				p.expect(lexer.NAME)
				array := &ast.ArrayExpr{Name: name, Pos: pos}
				return &ast.InExpr{Index: exprs, Array: array}
			}
			// MultiExpr is used as a print special case
			if !p.printing {
				panic(ast.PosErrorf(parenPos, "unexpected comma-separated expression"))
			}
			return &ast.MultiExpr{Exprs: exprs}
		}

	case lexer.GETLINE:
		p.next()
		target := p.optionalLValue()
		var file ast.Expr
		if p.tok == lexer.LESS {
			p.next()
			file = p.primary()
		}
		return &ast.GetlineExpr{Target: target, File: file}

	// Below is the parsing of all the builtin function calls. We
	// could unify these but several of them have special handling
	// (array args, optional args), and the switch is fast.
	case lexer.F_SUB, lexer.F_GSUB:
		op := p.tok
		p.next()
		p.expect(lexer.LPAREN)
		regex := p.regexStr(p.expr)
		p.commaNewlines()
		repl := p.expr()
		args := []ast.Expr{regex, repl}
		if p.tok == lexer.COMMA {
			p.commaNewlines()
			inPos := p.pos
			in := p.expr()
			if !ast.IsLValue(in) {
				panic(ast.PosErrorf(inPos, "3rd arg to sub/gsub must be lvalue"))
			}
			args = append(args, in)
		}
		p.expect(lexer.RPAREN)
		return &ast.CallExpr{Func: op, Args: args}

	case lexer.F_SPLIT:
		p.next()
		p.expect(lexer.LPAREN)
		str := p.expr()
		p.commaNewlines()
		pos := p.pos
		name := p.val
		p.expect(lexer.NAME)
		array := &ast.ArrayExpr{Name: name, Pos: pos}
		args := []ast.Expr{str, array}
		if p.tok == lexer.COMMA {
			p.commaNewlines()
			args = append(args, p.regexStr(p.expr))
		}
		p.expect(lexer.RPAREN)
		return &ast.CallExpr{Func: lexer.F_SPLIT, Args: args}

	case lexer.F_MATCH:
		p.next()
		p.expect(lexer.LPAREN)
		str := p.expr()
		p.commaNewlines()
		regex := p.regexStr(p.expr)
		p.expect(lexer.RPAREN)
		return &ast.CallExpr{Func: lexer.F_MATCH, Args: []ast.Expr{str, regex}}

	case lexer.F_RAND:
		p.next()
		p.expect(lexer.LPAREN)
		p.expect(lexer.RPAREN)
		return &ast.CallExpr{Func: lexer.F_RAND}

	case lexer.F_SRAND:
		p.next()
		p.expect(lexer.LPAREN)
		var args []ast.Expr
		if p.tok != lexer.RPAREN {
			args = append(args, p.expr())
		}
		p.expect(lexer.RPAREN)
		return &ast.CallExpr{Func: lexer.F_SRAND, Args: args}

	case lexer.F_LENGTH:
		p.next()
		var args []ast.Expr
		// AWK quirk: "length" is allowed to be called without parens
		if p.tok == lexer.LPAREN {
			p.next()
			if p.tok != lexer.RPAREN {
				args = append(args, p.expr())
			}
			p.expect(lexer.RPAREN)
		}
		return &ast.CallExpr{Func: lexer.F_LENGTH, Args: args}

	case lexer.F_SUBSTR:
		p.next()
		p.expect(lexer.LPAREN)
		str := p.expr()
		p.commaNewlines()
		args := []ast.Expr{str, p.expr()}
		if p.tok == lexer.COMMA {
			p.commaNewlines()
			args = append(args, p.expr())
		}
		p.expect(lexer.RPAREN)
		return &ast.CallExpr{Func: lexer.F_SUBSTR, Args: args}

	case lexer.F_SPRINTF:
		p.next()
		p.expect(lexer.LPAREN)
		args := []ast.Expr{p.expr()}
		for p.tok == lexer.COMMA {
			p.commaNewlines()
			args = append(args, p.expr())
		}
		p.expect(lexer.RPAREN)
		return &ast.CallExpr{Func: lexer.F_SPRINTF, Args: args}

	case lexer.F_FFLUSH:
		p.next()
		p.expect(lexer.LPAREN)
		var args []ast.Expr
		if p.tok != lexer.RPAREN {
			args = append(args, p.expr())
		}
		p.expect(lexer.RPAREN)
		return &ast.CallExpr{Func: lexer.F_FFLUSH, Args: args}

	case lexer.F_COS, lexer.F_SIN, lexer.F_EXP, lexer.F_LOG, lexer.F_SQRT,
		lexer.F_INT, lexer.F_TOLOWER, lexer.F_TOUPPER, lexer.F_SYSTEM, lexer.F_CLOSE:
		// Single-argument functions
		op := p.tok
		p.next()
		p.expect(lexer.LPAREN)
		arg := p.expr()
		p.expect(lexer.RPAREN)
		return &ast.CallExpr{Func: op, Args: []ast.Expr{arg}}

	case lexer.F_ATAN2, lexer.F_INDEX:
		// Two-argument functions
		op := p.tok
		p.next()
		p.expect(lexer.LPAREN)
		arg1 := p.expr()
		p.commaNewlines()
		arg2 := p.expr()
		p.expect(lexer.RPAREN)
		return &ast.CallExpr{Func: op, Args: []ast.Expr{arg1, arg2}}

	default:
		panic(p.errorf("expected expression instead of %s", p.tok))
	}
}

// extraBuiltin reports whether name is one of the optional builtins
// or a registered extension keyword, with its arity.
func (p *parser) extraBuiltin(name string) (ExtensionInfo, bool) {
	if p.config.ExtraFunctions {
		switch name {
		case "_sleep":
			return ExtensionInfo{MinArgs: 0, MaxArgs: 1}, true
		case "_dump":
			return ExtensionInfo{MinArgs: 0, MaxArgs: 1}, true
		case "exec":
			return ExtensionInfo{MinArgs: 1, MaxArgs: 1}, true
		}
	}
	if p.config.TypeFunctions {
		switch name {
		case "_INTEGER", "_DOUBLE", "_STRING":
			return ExtensionInfo{MinArgs: 1, MaxArgs: 1}, true
		}
	}
	info, ok := p.config.Extensions[name]
	return info, ok
}

func (p *parser) checkExtArity(pos lexer.Position, name string, info ExtensionInfo, n int) {
	if n < info.MinArgs {
		panic(ast.PosErrorf(pos, "%s() requires at least %d argument(s)", name, info.MinArgs))
	}
	if info.MaxArgs >= 0 && n > info.MaxArgs {
		panic(ast.PosErrorf(pos, "%s() accepts at most %d argument(s)", name, info.MaxArgs))
	}
}

// regexStr parses an expression that may be a regex literal; a plain
// regex literal in this position is the regex itself, not a match
// against $0.
func (p *parser) regexStr(parse func() ast.Expr) ast.Expr {
	if p.tok == lexer.DIV || p.tok == lexer.DIV_ASSIGN {
		regex := p.nextRegex()
		return &ast.StrExpr{Value: regex}
	}
	return parse()
}

// nextRegex parses a regex literal (the parser has already decided
// the '/' starts one).
func (p *parser) nextRegex() string {
	pos, tok, val := p.lexer.ScanRegex()
	if tok == lexer.ILLEGAL {
		panic(&LexerError{pos, val})
	}
	regex := val
	p.next()
	return regex
}

// Parse comma followed by optional newlines.
func (p *parser) commaNewlines() {
	p.expect(lexer.COMMA)
	p.optionalNewlines()
}

// Allow and skip newlines where the grammar says they're fine.
func (p *parser) optionalNewlines() {
	for p.tok == lexer.NEWLINE {
		p.next()
	}
}

// Fetch the next token into p.tok (and handle lexer errors).
func (p *parser) next() {
	p.prevTok = p.tok
	p.pos, p.tok, p.val = p.lexer.Scan()
	if p.tok == lexer.ILLEGAL {
		panic(&LexerError{p.pos, p.val})
	}
	// Newlines are insignificant after these tokens, per the POSIX
	// grammar (they continue the statement).
	for p.tok == lexer.NEWLINE {
		switch p.prevTok {
		case lexer.AND, lexer.OR, lexer.QUESTION, lexer.COLON, lexer.COMMA,
			lexer.DO, lexer.ELSE, lexer.LBRACE, lexer.SEMICOLON,
			lexer.LPAREN, lexer.LBRACKET, lexer.NEWLINE:
			p.pos, p.tok, p.val = p.lexer.Scan()
			if p.tok == lexer.ILLEGAL {
				panic(&LexerError{p.pos, p.val})
			}
		default:
			return
		}
	}
}

// Ensure current token is tok, and parse the next token into p.tok.
func (p *parser) expect(tok lexer.Token) {
	if p.tok != tok {
		panic(p.errorf("expected %s instead of %s", tok, p.tok))
	}
	p.next()
}

// Format a parse error with the current position.
func (p *parser) errorf(format string, args ...interface{}) error {
	return ast.PosErrorf(p.pos, format, args...)
}
