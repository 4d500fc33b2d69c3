// Package resolver performs the semantic passes over a parsed
// program: the first pass registers every function definition, the
// second binds call sites to definitions, classifies each variable
// (and each function parameter) as scalar or array, and assigns the
// global and local slot offsets the tuple builder relies on.
//
// Two passes are needed because a function may be called before it
// is defined in source order; only once the whole table is known can
// forward references be bound.
package resolver

import (
	"github.com/MetricsHub/jawk/internal/ast"
	"github.com/MetricsHub/jawk/lexer"
)

type resolver struct {
	// Current function scope while walking ("" means top level)
	funcName string
	locals   map[string]bool

	// Variable tracking and resolving
	varTypes  map[string]map[string]typeInfo // func name -> var name -> type
	varRefs   []varRef
	arrayRefs []arrayRef

	// Function tracking
	functions map[string]int // function name -> index
	userCalls []userCall
}

// Resolve runs both semantic passes over prog, filling in the Scope
// and Index fields of variable references, the Index of user calls,
// prog.Scalars/prog.Arrays, and each Function's Arrays slice. It
// returns an *ast.PositionError on unresolved or duplicate names.
func Resolve(prog *ast.Program) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*ast.PositionError)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()

	r := &resolver{
		varTypes:  map[string]map[string]typeInfo{"": make(map[string]typeInfo)},
		functions: make(map[string]int),
	}

	// The interpreter relies on ARGV and ENVIRON always being present.
	r.recordArrayRef(&ast.ArrayExpr{Name: "ARGV"})
	r.recordArrayRef(&ast.ArrayExpr{Name: "ENVIRON"})

	// First pass: populate the function table.
	for i, f := range prog.Functions {
		if _, ok := r.functions[f.Name]; ok {
			panic(ast.PosErrorf(f.Pos, "function %q already defined", f.Name))
		}
		r.functions[f.Name] = i
	}

	// Second pass: walk the tree to bind references.
	ast.Walk(r, prog)

	r.resolveUserCalls(prog)
	r.resolveVars(prog)
	r.rewriteArrayArgs(prog)
	return nil
}

func (r *resolver) Visit(node ast.Node) ast.Visitor {
	switch n := node.(type) {

	case *ast.Function:
		r.funcName = n.Name
		r.varTypes[n.Name] = make(map[string]typeInfo)
		r.locals = make(map[string]bool, len(n.Params))
		for _, param := range n.Params {
			r.locals[param] = true
		}
		ast.WalkStmtList(r, n.Body)
		r.funcName = ""
		r.locals = nil
		return nil

	case *ast.VarExpr:
		r.recordVarRef(n)

	case *ast.ArrayExpr:
		r.recordArrayRef(n)

	case *ast.UserCallExpr:
		ast.WalkExprList(r, n.Args)
		for i, arg := range n.Args {
			r.processUserCallArg(n.Name, arg, i)
		}
		r.userCalls = append(r.userCalls, userCall{n, n.Pos, r.funcName})
		return nil
	}
	return r
}

type varType int

const (
	typeUnknown varType = iota
	typeScalar
	typeArray
)

// typeInfo records what we know about a variable: its type (or
// unknown), the reference that created it, its scope, its assigned
// slot index, and -- while unknown -- the call argument it is linked
// to, so the fixpoint below can copy the callee's parameter type.
type typeInfo struct {
	typ      varType
	ref      *ast.VarExpr
	scope    ast.VarScope
	index    int
	callName string
	argIndex int
}

type varRef struct {
	funcName string
	ref      *ast.VarExpr
}

type arrayRef struct {
	funcName string
	ref      *ast.ArrayExpr
}

type userCall struct {
	call     *ast.UserCallExpr
	pos      lexer.Position
	funcName string
}

func (r *resolver) getScope(name string) (ast.VarScope, string) {
	switch {
	case r.funcName != "" && r.locals[name]:
		return ast.ScopeLocal, r.funcName
	case ast.SpecialVarIndex(name) > 0:
		return ast.ScopeSpecial, ""
	default:
		return ast.ScopeGlobal, ""
	}
}

func (r *resolver) recordVarRef(expr *ast.VarExpr) {
	scope, funcName := r.getScope(expr.Name)
	expr.Scope = scope
	r.varRefs = append(r.varRefs, varRef{funcName, expr})
	typ := r.varTypes[funcName][expr.Name].typ
	if typ == typeUnknown {
		r.varTypes[funcName][expr.Name] = typeInfo{typeScalar, expr, scope, 0, "", 0}
	}
}

func (r *resolver) recordArrayRef(expr *ast.ArrayExpr) {
	scope, funcName := r.getScope(expr.Name)
	if scope == ast.ScopeSpecial {
		panic(ast.PosErrorf(expr.Pos, "can't use special variable %q as array", expr.Name))
	}
	expr.Scope = scope
	r.arrayRefs = append(r.arrayRefs, arrayRef{funcName, expr})
	typ := r.varTypes[funcName][expr.Name].typ
	if typ == typeUnknown {
		r.varTypes[funcName][expr.Name] = typeInfo{typeArray, nil, scope, 0, "", 0}
	}
}

// processUserCallArg marks a bare variable passed as a call argument
// as unknown-typed and linked to the callee's formal, so its type is
// later copied from the parameter's type.
func (r *resolver) processUserCallArg(funcName string, arg ast.Expr, index int) {
	if varExpr, ok := arg.(*ast.VarExpr); ok {
		ref := r.varTypes[r.funcName][varExpr.Name].ref
		if ref == varExpr {
			scope := r.varTypes[r.funcName][varExpr.Name].scope
			r.varTypes[r.funcName][varExpr.Name] = typeInfo{typeUnknown, ref, scope, 0, funcName, index}
		}
	}
}

// resolveUserCalls binds each call to its function table entry.
// Calls that match no user-defined function are a semantic error (the
// parser already diverted builtin and extension keywords).
func (r *resolver) resolveUserCalls(prog *ast.Program) {
	for _, c := range r.userCalls {
		index, ok := r.functions[c.call.Name]
		if !ok {
			panic(ast.PosErrorf(c.pos, "undefined function %q", c.call.Name))
		}
		function := prog.Functions[index]
		if len(c.call.Args) > len(function.Params) {
			panic(ast.PosErrorf(c.pos, "%q called with more arguments than declared", c.call.Name))
		}
		c.call.Index = index
	}
}

// resolveVars runs the type fixpoint and assigns slot indexes.
func (r *resolver) resolveVars(prog *ast.Program) {
	// Iterate a few times to propagate argument types through chains
	// of calls (a passes x to b, b passes it to c, ...).
	for i := 0; i < 5; i++ {
		numUnknowns := 0
		for funcName, infos := range r.varTypes {
			for name, info := range infos {
				if info.typ != typeUnknown {
					continue
				}
				numUnknowns++
				funcIndex, ok := r.functions[info.callName]
				if !ok {
					continue
				}
				paramName := prog.Functions[funcIndex].Params[info.argIndex]
				typ := r.varTypes[info.callName][paramName].typ
				if typ != typeUnknown {
					info.typ = typ
					r.varTypes[funcName][name] = info
				}
			}
		}
		if numUnknowns == 0 {
			break
		}
	}

	// Resolve global variables.
	prog.Scalars = make(map[string]int)
	prog.Arrays = make(map[string]int)
	for name, info := range r.varTypes[""] {
		var index int
		if info.scope == ast.ScopeSpecial {
			index = ast.SpecialVarIndex(name)
		} else if info.typ == typeArray {
			index = len(prog.Arrays)
			prog.Arrays[name] = index
		} else {
			// Variables of still-unknown type (never referenced
			// outside a call argument) default to scalar.
			index = len(prog.Scalars)
			prog.Scalars[name] = index
		}
		info.index = index
		r.varTypes[""][name] = info
	}

	// Resolve local variables, in parameter order, and record which
	// parameters are arrays.
	for funcName, infos := range r.varTypes {
		if funcName == "" {
			continue
		}
		function := prog.Functions[r.functions[funcName]]
		arrays := make([]bool, len(function.Params))
		for i, name := range function.Params {
			info := infos[name]
			if info.typ == typeArray {
				arrays[i] = true
			}
			// Locals share one frame, slotted by parameter position
			// (scalars and array references alike).
			info.index = i
			r.varTypes[funcName][name] = info
		}
		function.Arrays = arrays
	}

	// Patch the recorded references with their assigned indexes.
	for _, vr := range r.varRefs {
		info := r.varTypes[vr.funcName][vr.ref.Name]
		vr.ref.Scope = info.scope
		vr.ref.Index = info.index
	}
	for _, ar := range r.arrayRefs {
		info := r.varTypes[ar.funcName][ar.ref.Name]
		ar.ref.Scope = info.scope
		ar.ref.Index = info.index
	}
}

// rewriteArrayArgs replaces bare variable arguments that bind to
// array parameters with array references, so the tuple builder can
// emit pass-by-reference pushes for them.
func (r *resolver) rewriteArrayArgs(prog *ast.Program) {
	for _, c := range r.userCalls {
		function := prog.Functions[c.call.Index]
		for i, arg := range c.call.Args {
			if i >= len(function.Arrays) || !function.Arrays[i] {
				continue
			}
			varExpr, ok := arg.(*ast.VarExpr)
			if !ok {
				panic(ast.PosErrorf(c.pos, "%s() argument %q must be an array",
					c.call.Name, function.Params[i]))
			}
			info := r.varTypes[c.funcName][varExpr.Name]
			if info.typ == typeScalar && info.ref != varExpr {
				panic(ast.PosErrorf(c.pos, "can't pass scalar %q as array to %s()",
					varExpr.Name, c.call.Name))
			}
			c.call.Args[i] = &ast.ArrayExpr{
				Scope: info.scope,
				Index: info.index,
				Name:  varExpr.Name,
				Pos:   varExpr.Pos,
			}
		}
	}
}
