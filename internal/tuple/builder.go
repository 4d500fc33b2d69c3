package tuple

import (
	"fmt"

	"github.com/MetricsHub/jawk/internal/ast"
	"github.com/MetricsHub/jawk/lexer"
)

// compileError is the internal error type raised when lowering can't
// succeed (which indicates a resolver bug more often than bad input).
type compileError struct {
	message string
}

func (e *compileError) Error() string {
	return e.message
}

// Compile lowers a resolved AST into a tuple program: one flat tuple
// queue containing the BEGIN segment, each rule's pattern and body
// segments, the END segment, and every function body, each reachable
// through its entry Address. After lowering it runs PostProcess so
// the returned program is ready for the AVM.
func Compile(astProg *ast.Program) (prog *Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*compileError)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()

	b := &builder{program: &Program{
		Scalars: astProg.Scalars,
		Arrays:  astProg.Arrays,
	}}
	p := b.program

	// Create the function table up front: bodies may call functions
	// defined later (or themselves).
	p.Functions = make([]Function, len(astProg.Functions))
	for i, f := range astProg.Functions {
		p.Functions[i] = Function{
			Name:   f.Name,
			Params: f.Params,
			Arrays: f.Arrays,
			Entry:  newAddress("function " + f.Name),
		}
	}

	if len(astProg.Begin) > 0 {
		p.Begin = b.label("BEGIN")
		for _, stmts := range astProg.Begin {
			b.stmts(stmts)
		}
		b.emit(Tuple{Op: Halt})
	}

	for i, action := range astProg.Actions {
		rule := Rule{}
		for j, pattern := range action.Pattern {
			addr := b.label(fmt.Sprintf("rule %d pattern %d", i, j))
			b.expr(pattern)
			b.emit(Tuple{Op: Halt})
			rule.Pattern = append(rule.Pattern, addr)
		}
		if action.Stmts != nil {
			rule.Body = b.label(fmt.Sprintf("rule %d body", i))
			b.stmts(action.Stmts)
			b.emit(Tuple{Op: Halt})
		}
		p.Rules = append(p.Rules, rule)
	}

	if len(astProg.End) > 0 {
		p.End = b.label("END")
		for _, stmts := range astProg.End {
			b.stmts(stmts)
		}
		b.emit(Tuple{Op: Halt})
	}

	for i, f := range astProg.Functions {
		p.Functions[i].Entry.Assign(len(p.Tuples))
		b.stmts(f.Body)
		b.emit(Tuple{Op: ReturnNull})
	}

	err = PostProcess(p)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type builder struct {
	program *Program
	loops   []loopInfo
}

// loopInfo tracks the jump targets of the enclosing loop, and whether
// the loop is a for-in (break must drop the key cursor there).
type loopInfo struct {
	breakAddr    *Address
	continueAddr *Address
	forIn        bool
}

func (b *builder) emit(t Tuple) {
	b.program.Tuples = append(b.program.Tuples, t)
}

// label creates an address assigned to the next tuple slot.
func (b *builder) label(name string) *Address {
	a := newAddress(name)
	a.Assign(len(b.program.Tuples))
	return a
}

// forward creates an address to be assigned later (the forward-
// reference pattern: emit the jump first, fix the address once the
// target position is known).
func (b *builder) forward(name string) *Address {
	return newAddress(name)
}

func (b *builder) fix(a *Address) {
	a.Assign(len(b.program.Tuples))
}

func (b *builder) stmts(stmts ast.Stmts) {
	for _, stmt := range stmts {
		b.stmt(stmt)
	}
}

func (b *builder) stmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		// Assignment expressions in statement position don't need
		// their value, so skip the Dup the expression forms emit.
		switch expr := s.Expr.(type) {
		case *ast.AssignExpr:
			b.expr(expr.Right)
			b.assign(expr.Left)
			return
		case *ast.IncrExpr:
			// Pre or post doesn't matter in statement position
			b.expr(expr.Expr)
			b.emit(Tuple{Op: PushNum, Num: 1})
			if expr.Op == lexer.INCR {
				b.emit(Tuple{Op: Add})
			} else {
				b.emit(Tuple{Op: Subtract})
			}
			b.assign(expr.Expr)
			return
		case *ast.AugAssignExpr:
			b.expr(expr.Right)
			b.expr(expr.Left)
			b.emit(Tuple{Op: Swap})
			b.binaryOp(expr.Op)
			b.assign(expr.Left)
			return
		}
		b.expr(s.Expr)
		b.emit(Tuple{Op: Pop})

	case *ast.PrintStmt:
		if s.Redirect != lexer.ILLEGAL {
			b.expr(s.Dest)
		}
		for _, a := range s.Args {
			b.expr(a)
		}
		b.emit(Tuple{Op: Print, Int1: len(s.Args), Int2: int(s.Redirect)})

	case *ast.PrintfStmt:
		if s.Redirect != lexer.ILLEGAL {
			b.expr(s.Dest)
		}
		for _, a := range s.Args {
			b.expr(a)
		}
		b.emit(Tuple{Op: Printf, Int1: len(s.Args), Int2: int(s.Redirect)})

	case *ast.IfStmt:
		if len(s.Else) == 0 {
			b.expr(s.Cond)
			after := b.forward("if after")
			b.emit(Tuple{Op: JumpFalse, Addr: after})
			b.stmts(s.Body)
			b.fix(after)
		} else {
			b.expr(s.Cond)
			elseAddr := b.forward("else")
			b.emit(Tuple{Op: JumpFalse, Addr: elseAddr})
			b.stmts(s.Body)
			after := b.forward("if after")
			b.emit(Tuple{Op: Jump, Addr: after})
			b.fix(elseAddr)
			b.stmts(s.Else)
			b.fix(after)
		}

	case *ast.WhileStmt:
		start := b.label("while start")
		end := b.forward("while end")
		b.loops = append(b.loops, loopInfo{end, start, false})
		b.expr(s.Cond)
		b.emit(Tuple{Op: JumpFalse, Addr: end})
		b.stmts(s.Body)
		b.emit(Tuple{Op: Jump, Addr: start})
		b.fix(end)
		b.loops = b.loops[:len(b.loops)-1]

	case *ast.DoWhileStmt:
		start := b.label("do start")
		cond := b.forward("do cond")
		end := b.forward("do end")
		b.loops = append(b.loops, loopInfo{end, cond, false})
		b.stmts(s.Body)
		b.fix(cond)
		b.expr(s.Cond)
		b.emit(Tuple{Op: JumpTrue, Addr: start})
		b.fix(end)
		b.loops = b.loops[:len(b.loops)-1]

	case *ast.ForStmt:
		if s.Pre != nil {
			b.stmt(s.Pre)
		}
		start := b.label("for start")
		post := b.forward("for post")
		end := b.forward("for end")
		b.loops = append(b.loops, loopInfo{end, post, false})
		if s.Cond != nil {
			b.expr(s.Cond)
			b.emit(Tuple{Op: JumpFalse, Addr: end})
		}
		b.stmts(s.Body)
		b.fix(post)
		if s.Post != nil {
			b.stmt(s.Post)
		}
		b.emit(Tuple{Op: Jump, Addr: start})
		b.fix(end)
		b.loops = b.loops[:len(b.loops)-1]

	case *ast.ForInStmt:
		b.emit(Tuple{Op: ForInStart, Int1: int(s.Array.Scope), Int2: s.Array.Index})
		start := b.label("for_in next")
		end := b.forward("for_in end")
		b.loops = append(b.loops, loopInfo{end, start, true})
		b.emit(Tuple{Op: ForInNext, Int1: int(s.Var.Scope), Int2: s.Var.Index, Addr: end})
		b.stmts(s.Body)
		b.emit(Tuple{Op: Jump, Addr: start})
		b.fix(end)
		b.loops = b.loops[:len(b.loops)-1]

	case *ast.BreakStmt:
		loop := b.currentLoop()
		if loop.forIn {
			b.emit(Tuple{Op: IterDrop})
		}
		b.emit(Tuple{Op: Jump, Addr: loop.breakAddr})

	case *ast.ContinueStmt:
		b.emit(Tuple{Op: Jump, Addr: b.currentLoop().continueAddr})

	case *ast.NextStmt:
		b.emit(Tuple{Op: Next})

	case *ast.NextfileStmt:
		b.emit(Tuple{Op: Nextfile})

	case *ast.ExitStmt:
		if s.Status != nil {
			b.expr(s.Status)
			b.emit(Tuple{Op: Exit, Int1: 1})
		} else {
			b.emit(Tuple{Op: Exit})
		}

	case *ast.ReturnStmt:
		if s.Value != nil {
			b.expr(s.Value)
			b.emit(Tuple{Op: Return})
		} else {
			b.emit(Tuple{Op: ReturnNull})
		}

	case *ast.DeleteStmt:
		if len(s.Index) > 0 {
			b.index(s.Index)
			b.emit(Tuple{Op: Delete, Int1: int(s.Array.Scope), Int2: s.Array.Index})
		} else {
			b.emit(Tuple{Op: DeleteAll, Int1: int(s.Array.Scope), Int2: s.Array.Index})
		}

	case *ast.BlockStmt:
		b.stmts(s.Body)

	default:
		panic(&compileError{fmt.Sprintf("unexpected stmt type: %T", stmt)})
	}
}

func (b *builder) currentLoop() loopInfo {
	if len(b.loops) == 0 {
		panic(&compileError{"break/continue outside loop"})
	}
	return b.loops[len(b.loops)-1]
}

func (b *builder) expr(expr ast.Expr) {
	switch e := expr.(type) {
	case *ast.NumExpr:
		b.emit(Tuple{Op: PushNum, Num: e.Value})

	case *ast.StrExpr:
		b.emit(Tuple{Op: PushStr, Str: e.Value})

	case *ast.RegExpr:
		// Stand-alone /regex/ is equivalent to: $0 ~ /regex/
		b.emit(Tuple{Op: Regex, Str: e.Regex})

	case *ast.FieldExpr:
		b.expr(e.Index)
		b.emit(Tuple{Op: LoadField})

	case *ast.VarExpr:
		switch e.Scope {
		case ast.ScopeGlobal:
			b.emit(Tuple{Op: LoadGlobal, Int1: e.Index})
		case ast.ScopeLocal:
			b.emit(Tuple{Op: LoadLocal, Int1: e.Index})
		case ast.ScopeSpecial:
			b.emit(Tuple{Op: LoadSpecial, Int1: e.Index})
		}

	case *ast.BinaryExpr:
		// && and || are short-circuit operators
		switch e.Op {
		case lexer.AND:
			b.expr(e.Left)
			b.emit(Tuple{Op: Dup})
			after := b.forward("and after")
			b.emit(Tuple{Op: JumpFalse, Addr: after})
			b.emit(Tuple{Op: Pop})
			b.expr(e.Right)
			b.fix(after)
			b.emit(Tuple{Op: Boolean})
		case lexer.OR:
			b.expr(e.Left)
			b.emit(Tuple{Op: Dup})
			after := b.forward("or after")
			b.emit(Tuple{Op: JumpTrue, Addr: after})
			b.emit(Tuple{Op: Pop})
			b.expr(e.Right)
			b.fix(after)
			b.emit(Tuple{Op: Boolean})
		default:
			b.expr(e.Left)
			b.expr(e.Right)
			b.binaryOp(e.Op)
		}

	case *ast.UnaryExpr:
		b.expr(e.Value)
		switch e.Op {
		case lexer.SUB:
			b.emit(Tuple{Op: UnaryMinus})
		case lexer.NOT:
			b.emit(Tuple{Op: Not})
		case lexer.ADD:
			b.emit(Tuple{Op: UnaryPlus})
		default:
			panic(&compileError{fmt.Sprintf("unexpected unary operation: %s", e.Op)})
		}

	case *ast.IncrExpr:
		op := Add
		if e.Op == lexer.DECR {
			op = Subtract
		}
		if e.Pre {
			b.expr(e.Expr)
			b.emit(Tuple{Op: PushNum, Num: 1})
			b.emit(Tuple{Op: op})
			b.emit(Tuple{Op: Dup})
		} else {
			b.expr(e.Expr)
			b.emit(Tuple{Op: UnaryPlus}) // force numeric value of the old value
			b.emit(Tuple{Op: Dup})
			b.emit(Tuple{Op: PushNum, Num: 1})
			b.emit(Tuple{Op: op})
		}
		b.assign(e.Expr)

	case *ast.AssignExpr:
		b.expr(e.Right)
		b.emit(Tuple{Op: Dup})
		b.assign(e.Left)

	case *ast.AugAssignExpr:
		b.expr(e.Right)
		b.expr(e.Left)
		b.emit(Tuple{Op: Swap})
		b.binaryOp(e.Op)
		b.emit(Tuple{Op: Dup})
		b.assign(e.Left)

	case *ast.CondExpr:
		b.expr(e.Cond)
		elseAddr := b.forward("cond else")
		b.emit(Tuple{Op: JumpFalse, Addr: elseAddr})
		b.expr(e.True)
		after := b.forward("cond after")
		b.emit(Tuple{Op: Jump, Addr: after})
		b.fix(elseAddr)
		b.expr(e.False)
		b.fix(after)

	case *ast.IndexExpr:
		b.index(e.Index)
		b.emit(Tuple{Op: LoadArray, Int1: int(e.Array.Scope), Int2: e.Array.Index})

	case *ast.InExpr:
		b.index(e.Index)
		b.emit(Tuple{Op: In, Int1: int(e.Array.Scope), Int2: e.Array.Index})

	case *ast.GroupingExpr:
		b.expr(e.Expr)

	case *ast.CallExpr:
		b.callExpr(e)

	case *ast.UserCallExpr:
		f := b.program.Functions[e.Index]
		for i, arg := range e.Args {
			if i < len(f.Arrays) && f.Arrays[i] {
				a, ok := arg.(*ast.ArrayExpr)
				if !ok {
					panic(&compileError{fmt.Sprintf("argument %d of %s() must be an array", i+1, f.Name)})
				}
				b.emit(Tuple{Op: PushArrayRef, Int1: int(a.Scope), Int2: a.Index})
			} else {
				b.expr(arg)
			}
		}
		b.emit(Tuple{Op: Call, Int1: e.Index, Int2: len(e.Args)})

	case *ast.ExtCallExpr:
		b.extCallExpr(e)

	case *ast.GetlineExpr:
		b.getlineExpr(e)

	case *ast.MultiExpr:
		panic(&compileError{"unexpected comma-separated expression"})

	default:
		panic(&compileError{fmt.Sprintf("unexpected expr type: %T", expr)})
	}
}

func (b *builder) callExpr(e *ast.CallExpr) {
	switch e.Func {
	case lexer.F_SPLIT:
		b.expr(e.Args[0])
		array := e.Args[1].(*ast.ArrayExpr)
		if len(e.Args) > 2 {
			b.expr(e.Args[2])
			b.emit(Tuple{Op: CallSplitSep, Int1: int(array.Scope), Int2: array.Index})
		} else {
			b.emit(Tuple{Op: CallSplit, Int1: int(array.Scope), Int2: array.Index})
		}
		return

	case lexer.F_SUB, lexer.F_GSUB:
		op := CallSub
		if e.Func == lexer.F_GSUB {
			op = CallGsub
		}
		var target ast.Expr = &ast.FieldExpr{Index: &ast.NumExpr{Value: 0}}
		if len(e.Args) == 3 {
			target = e.Args[2]
		}
		b.expr(e.Args[0])
		b.expr(e.Args[1])
		b.expr(target)
		b.emit(Tuple{Op: op})
		// CallSub leaves [count, output]; store output into target
		b.assign(target)
		return
	}

	for _, arg := range e.Args {
		b.expr(arg)
	}
	switch e.Func {
	case lexer.F_ATAN2:
		b.emit(Tuple{Op: CallAtan2})
	case lexer.F_CLOSE:
		b.emit(Tuple{Op: CallClose})
	case lexer.F_COS:
		b.emit(Tuple{Op: CallCos})
	case lexer.F_EXP:
		b.emit(Tuple{Op: CallExp})
	case lexer.F_FFLUSH:
		if len(e.Args) > 0 {
			b.emit(Tuple{Op: CallFflush})
		} else {
			b.emit(Tuple{Op: CallFflushAll})
		}
	case lexer.F_INDEX:
		b.emit(Tuple{Op: CallIndex})
	case lexer.F_INT:
		b.emit(Tuple{Op: CallInt})
	case lexer.F_LENGTH:
		if len(e.Args) > 0 {
			b.emit(Tuple{Op: CallLengthArg})
		} else {
			b.emit(Tuple{Op: CallLength})
		}
	case lexer.F_LOG:
		b.emit(Tuple{Op: CallLog})
	case lexer.F_MATCH:
		b.emit(Tuple{Op: CallMatch})
	case lexer.F_RAND:
		b.emit(Tuple{Op: CallRand})
	case lexer.F_SIN:
		b.emit(Tuple{Op: CallSin})
	case lexer.F_SPRINTF:
		b.emit(Tuple{Op: CallSprintf, Int1: len(e.Args)})
	case lexer.F_SQRT:
		b.emit(Tuple{Op: CallSqrt})
	case lexer.F_SRAND:
		if len(e.Args) > 0 {
			b.emit(Tuple{Op: CallSrandSeed})
		} else {
			b.emit(Tuple{Op: CallSrand})
		}
	case lexer.F_SUBSTR:
		if len(e.Args) > 2 {
			b.emit(Tuple{Op: CallSubstrLength})
		} else {
			b.emit(Tuple{Op: CallSubstr})
		}
	case lexer.F_SYSTEM:
		b.emit(Tuple{Op: CallSystem})
	case lexer.F_TOLOWER:
		b.emit(Tuple{Op: CallTolower})
	case lexer.F_TOUPPER:
		b.emit(Tuple{Op: CallToupper})
	default:
		panic(&compileError{fmt.Sprintf("unexpected function: %s", e.Func)})
	}
}

func (b *builder) extCallExpr(e *ast.ExtCallExpr) {
	for _, arg := range e.Args {
		b.expr(arg)
	}
	switch e.Keyword {
	case "_sleep":
		b.emit(Tuple{Op: CallSleep, Int1: len(e.Args)})
	case "_dump":
		b.emit(Tuple{Op: CallDump, Int1: len(e.Args)})
	case "exec":
		b.emit(Tuple{Op: CallExec})
	case "_INTEGER":
		b.emit(Tuple{Op: CastInt})
	case "_DOUBLE":
		b.emit(Tuple{Op: CastDouble})
	case "_STRING":
		b.emit(Tuple{Op: CastString})
	default:
		b.emit(Tuple{Op: ExtCall, Str: e.Keyword, Int1: len(e.Args)})
	}
}

func (b *builder) getlineExpr(e *ast.GetlineExpr) {
	// Push the target's index or key first (if any), then the
	// command or file name; the opcode pops the name first.
	redirect := int(lexer.ILLEGAL)
	pushSource := func() {
		switch {
		case e.Command != nil:
			b.expr(e.Command)
			redirect = int(lexer.PIPE)
		case e.File != nil:
			b.expr(e.File)
			redirect = int(lexer.LESS)
		}
	}
	switch target := e.Target.(type) {
	case *ast.VarExpr:
		pushSource()
		b.emit(Tuple{Op: GetlineVar, Int1: redirect, Int2: int(target.Scope), Int3: target.Index})
	case *ast.FieldExpr:
		b.expr(target.Index)
		pushSource()
		b.emit(Tuple{Op: GetlineField, Int1: redirect})
	case *ast.IndexExpr:
		b.index(target.Index)
		pushSource()
		b.emit(Tuple{Op: GetlineArray, Int1: redirect, Int2: int(target.Array.Scope), Int3: target.Array.Index})
	default:
		pushSource()
		b.emit(Tuple{Op: Getline, Int1: redirect})
	}
}

func (b *builder) assign(target ast.Expr) {
	switch target := target.(type) {
	case *ast.VarExpr:
		switch target.Scope {
		case ast.ScopeGlobal:
			b.emit(Tuple{Op: StoreGlobal, Int1: target.Index})
		case ast.ScopeLocal:
			b.emit(Tuple{Op: StoreLocal, Int1: target.Index})
		case ast.ScopeSpecial:
			b.emit(Tuple{Op: StoreSpecial, Int1: target.Index})
		}
	case *ast.FieldExpr:
		b.expr(target.Index)
		b.emit(Tuple{Op: StoreField})
	case *ast.IndexExpr:
		b.index(target.Index)
		b.emit(Tuple{Op: StoreArray, Int1: int(target.Array.Scope), Int2: target.Array.Index})
	default:
		panic(&compileError{fmt.Sprintf("unexpected assign target: %T", target)})
	}
}

func (b *builder) index(index []ast.Expr) {
	for _, expr := range index {
		b.expr(expr)
	}
	if len(index) > 1 {
		b.emit(Tuple{Op: IndexMulti, Int1: len(index)})
	}
}

func (b *builder) binaryOp(op lexer.Token) {
	var opcode Opcode
	switch op {
	case lexer.ADD:
		opcode = Add
	case lexer.SUB:
		opcode = Subtract
	case lexer.MUL:
		opcode = Multiply
	case lexer.DIV:
		opcode = Divide
	case lexer.POW:
		opcode = Power
	case lexer.MOD:
		opcode = Modulo
	case lexer.EQUALS:
		opcode = Equals
	case lexer.NOT_EQUALS:
		opcode = NotEquals
	case lexer.LESS:
		opcode = Less
	case lexer.LTE:
		opcode = LessOrEqual
	case lexer.GREATER:
		opcode = Greater
	case lexer.GTE:
		opcode = GreaterOrEqual
	case ast.CONCAT:
		opcode = Concat
	case lexer.MATCH:
		opcode = Match
	case lexer.NOT_MATCH:
		opcode = NotMatch
	default:
		panic(&compileError{fmt.Sprintf("unexpected binary operation: %s", op)})
	}
	b.emit(Tuple{Op: opcode})
}
