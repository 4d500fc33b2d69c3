package interp

// The AVM execution loop: fetch the tuple at the program counter,
// dispatch on its opcode, advance via the tuple's pre-computed next
// index except on jumps, calls, and returns.

import (
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/MetricsHub/jawk/internal/tuple"
	"github.com/MetricsHub/jawk/lexer"
)

// run executes one code segment (BEGIN, a pattern, a rule body, END)
// starting at the given tuple index, until the segment's terminator.
// The operand stack, call stack, and for-in cursors are reset on
// entry: a segment always starts clean.
func (p *interp) run(entry int) error {
	p.sp = 0
	p.frames = p.frames[:0]
	p.frame = nil
	p.iters = p.iters[:0]

	tuples := p.program.Tuples
	pc := entry
	for {
		if pc < 0 || pc >= len(tuples) {
			return newError("program counter %d out of range", pc)
		}
		t := &tuples[pc]
		next := t.Next

		switch t.Op {
		case tuple.Nop:

		case tuple.PushNum:
			p.push(num(t.Num))

		case tuple.PushStr:
			p.push(str(t.Str))

		case tuple.Dup:
			v := p.pop()
			p.push(v)
			p.push(v)

		case tuple.Swap:
			r := p.pop()
			l := p.pop()
			p.push(r)
			p.push(l)

		case tuple.Pop:
			p.pop()

		case tuple.LoadGlobal:
			p.push(p.globals[t.Int1])

		case tuple.StoreGlobal:
			p.globals[t.Int1] = p.pop()

		case tuple.LoadLocal:
			v := p.frame[t.Int1]
			if v.typ == typeArray {
				return newError("can't use array as scalar")
			}
			p.push(v)

		case tuple.StoreLocal:
			if p.frame[t.Int1].typ == typeArray {
				return newError("can't assign scalar to array parameter")
			}
			p.frame[t.Int1] = p.pop()

		case tuple.LoadSpecial:
			p.push(p.getSpecial(t.Int1))

		case tuple.StoreSpecial:
			err := p.setSpecial(t.Int1, p.pop())
			if err != nil {
				return err
			}

		case tuple.LoadField:
			index := p.pop()
			v, err := p.getField(int(index.num()))
			if err != nil {
				return err
			}
			p.push(v)

		case tuple.StoreField:
			index := p.pop()
			right := p.pop()
			err := p.setField(int(index.num()), p.toString(right))
			if err != nil {
				return err
			}

		case tuple.LoadArray:
			arr, err := p.arrayByScope(t.Int1, t.Int2)
			if err != nil {
				return err
			}
			key := p.toString(p.pop())
			p.push(arr.getOrCreate(key))

		case tuple.StoreArray:
			arr, err := p.arrayByScope(t.Int1, t.Int2)
			if err != nil {
				return err
			}
			key := p.toString(p.pop())
			arr.set(key, p.pop())

		case tuple.PushArrayRef:
			arr, err := p.arrayByScope(t.Int1, t.Int2)
			if err != nil {
				return err
			}
			p.push(arrayRef(arr))

		case tuple.In:
			arr, err := p.arrayByScope(t.Int1, t.Int2)
			if err != nil {
				return err
			}
			key := p.toString(p.pop())
			p.push(boolean(arr.contains(key)))

		case tuple.Delete:
			arr, err := p.arrayByScope(t.Int1, t.Int2)
			if err != nil {
				return err
			}
			key := p.toString(p.pop())
			arr.delete(key)

		case tuple.DeleteAll:
			arr, err := p.arrayByScope(t.Int1, t.Int2)
			if err != nil {
				return err
			}
			arr.clear()

		case tuple.ForInStart:
			arr, err := p.arrayByScope(t.Int1, t.Int2)
			if err != nil {
				return err
			}
			p.iters = append(p.iters, forInIter{arr: arr, keys: arr.keyList()})

		case tuple.ForInNext:
			if len(p.iters) == 0 {
				return newError("for-in cursor underflow")
			}
			it := &p.iters[len(p.iters)-1]
			// Skip keys deleted since the cursor was created
			for it.pos < len(it.keys) && !it.arr.contains(it.keys[it.pos]) {
				it.pos++
			}
			if it.pos >= len(it.keys) {
				p.iters = p.iters[:len(p.iters)-1]
				next = t.Addr.Index
				break
			}
			key := it.keys[it.pos]
			it.pos++
			err := p.storeVar(t.Int1, t.Int2, str(key))
			if err != nil {
				return err
			}

		case tuple.IterDrop:
			if len(p.iters) > 0 {
				p.iters = p.iters[:len(p.iters)-1]
			}

		case tuple.Add:
			r := p.pop()
			l := p.pop()
			p.push(num(l.num() + r.num()))

		case tuple.Subtract:
			r := p.pop()
			l := p.pop()
			p.push(num(l.num() - r.num()))

		case tuple.Multiply:
			r := p.pop()
			l := p.pop()
			p.push(num(l.num() * r.num()))

		case tuple.Divide:
			r := p.pop()
			l := p.pop()
			rf := r.num()
			if rf == 0.0 {
				return newError("division by zero")
			}
			p.push(num(l.num() / rf))

		case tuple.Power:
			r := p.pop()
			l := p.pop()
			p.push(num(math.Pow(l.num(), r.num())))

		case tuple.Modulo:
			r := p.pop()
			l := p.pop()
			rf := r.num()
			if rf == 0.0 {
				return newError("division by zero in mod")
			}
			p.push(num(math.Mod(l.num(), rf)))

		case tuple.Equals, tuple.NotEquals, tuple.Less, tuple.LessOrEqual,
			tuple.Greater, tuple.GreaterOrEqual:
			r := p.pop()
			l := p.pop()
			p.push(boolean(p.compareValues(t.Op, l, r)))

		case tuple.Concat:
			r := p.pop()
			l := p.pop()
			p.push(str(p.toString(l) + p.toString(r)))

		case tuple.Match, tuple.NotMatch:
			r := p.pop()
			l := p.pop()
			re, err := p.compileRegex(p.toString(r))
			if err != nil {
				return err
			}
			matched := re.MatchString(p.toString(l))
			if t.Op == tuple.NotMatch {
				matched = !matched
			}
			p.push(boolean(matched))

		case tuple.Not:
			p.push(boolean(!p.pop().boolean()))

		case tuple.UnaryMinus:
			p.push(num(-p.pop().num()))

		case tuple.UnaryPlus:
			p.push(num(p.pop().num()))

		case tuple.Boolean:
			p.push(boolean(p.pop().boolean()))

		case tuple.Regex:
			// Stand-alone /regex/ is equivalent to: $0 ~ /regex/
			re, err := p.compileRegex(t.Str)
			if err != nil {
				return err
			}
			p.push(boolean(re.MatchString(p.line)))

		case tuple.IndexMulti:
			values := p.popSlice(t.Int1)
			indices := make([]string, len(values))
			for i, v := range values {
				indices[i] = p.toString(v)
			}
			p.push(str(strings.Join(indices, p.subscriptSep)))

		case tuple.Jump:
			next = t.Addr.Index

		case tuple.JumpFalse:
			if !p.pop().boolean() {
				next = t.Addr.Index
			}

		case tuple.JumpTrue:
			if p.pop().boolean() {
				next = t.Addr.Index
			}

		case tuple.Call:
			if len(p.frames) >= maxCallDepth {
				f := p.program.Functions[t.Int1]
				return newError("calling %q exceeded maximum call depth of %d", f.Name, maxCallDepth)
			}
			f := &p.program.Functions[t.Int1]
			numArgs := t.Int2
			args := p.popSlice(numArgs)
			locals := make([]value, len(f.Params))
			copy(locals, args)
			for i := numArgs; i < len(f.Params); i++ {
				if f.Arrays[i] {
					locals[i] = arrayRef(newArray(p.sortedArrays))
				}
			}
			p.frames = append(p.frames, frameInfo{
				returnPC:  next,
				locals:    p.frame,
				iterDepth: len(p.iters),
			})
			p.frame = locals
			next = f.Entry.Index

		case tuple.Return, tuple.ReturnNull:
			var v value
			if t.Op == tuple.Return {
				v = p.pop()
			}
			if len(p.frames) == 0 {
				return newError("return outside function call")
			}
			fi := p.frames[len(p.frames)-1]
			p.frames = p.frames[:len(p.frames)-1]
			p.frame = fi.locals
			p.iters = p.iters[:fi.iterDepth]
			p.push(v)
			next = fi.returnPC

		case tuple.Next:
			return errNext

		case tuple.Nextfile:
			return errNextfile

		case tuple.Exit:
			if t.Int1 == 1 {
				p.exitStatus = int(p.pop().num())
			}
			return errExit

		case tuple.Halt:
			return nil

		case tuple.Print:
			err := p.opPrint(t)
			if err != nil {
				return err
			}

		case tuple.Printf:
			err := p.opPrintf(t)
			if err != nil {
				return err
			}

		case tuple.Getline, tuple.GetlineVar, tuple.GetlineField, tuple.GetlineArray:
			err := p.opGetline(t)
			if err != nil {
				return err
			}

		default:
			err := p.opCall(t)
			if err != nil {
				return err
			}
		}

		pc = next
	}
}

// storeVar assigns a scalar variable by scope and index (used by the
// for-in cursor).
func (p *interp) storeVar(scope, index int, v value) error {
	switch scope {
	case tuple.ScopeGlobal:
		p.globals[index] = v
	case tuple.ScopeLocal:
		p.frame[index] = v
	case tuple.ScopeSpecial:
		return p.setSpecial(index, v)
	}
	return nil
}

// arrayByScope resolves an array operand to the actual array. Local
// array slots auto-create an array on first use (uninitialised array
// parameters).
func (p *interp) arrayByScope(scope, index int) (*varArray, error) {
	if scope == tuple.ScopeGlobal {
		return p.arrays[index], nil
	}
	v := p.frame[index]
	switch v.typ {
	case typeArray:
		return v.arr, nil
	case typeNull:
		a := newArray(p.sortedArrays)
		p.frame[index] = arrayRef(a)
		return a, nil
	default:
		return nil, newError("can't use scalar as array")
	}
}

// compareValues applies the POSIX comparison rule: numeric if both
// operands are numbers or numeric strings, string-wise otherwise.
func (p *interp) compareValues(op tuple.Opcode, l, r value) bool {
	if l.isTrueStr() || r.isTrueStr() {
		ls := p.toString(l)
		rs := p.toString(r)
		switch op {
		case tuple.Equals:
			return ls == rs
		case tuple.NotEquals:
			return ls != rs
		case tuple.Less:
			return ls < rs
		case tuple.LessOrEqual:
			return ls <= rs
		case tuple.Greater:
			return ls > rs
		default:
			return ls >= rs
		}
	}
	ln := l.num()
	rn := r.num()
	switch op {
	case tuple.Equals:
		return ln == rn
	case tuple.NotEquals:
		return ln != rn
	case tuple.Less:
		return ln < rn
	case tuple.LessOrEqual:
		return ln <= rn
	case tuple.Greater:
		return ln > rn
	default:
		return ln >= rn
	}
}

func (p *interp) opPrint(t *tuple.Tuple) error {
	numArgs := t.Int1
	redirect := lexer.Token(t.Int2)

	// Print OFS-separated args followed by ORS (usually newline)
	var line string
	if numArgs > 0 {
		args := p.popSlice(numArgs)
		strs := make([]string, len(args))
		for i, a := range args {
			strs[i] = a.str(p.outputFormat)
		}
		line = strings.Join(strs, p.outputFieldSep)
	} else {
		// "print" with no args is equivalent to "print $0"
		line = p.line
	}

	output := p.output
	if redirect != lexer.ILLEGAL {
		dest := p.pop()
		var err error
		output, err = p.getOutputStream(redirect, p.toString(dest))
		if err != nil {
			return err
		}
	}
	return p.printLine(output, line)
}

func (p *interp) opPrintf(t *tuple.Tuple) error {
	numArgs := t.Int1
	redirect := lexer.Token(t.Int2)

	args := p.popSlice(numArgs)
	s, err := p.sprintfCaught(p.toString(args[0]), args[1:])
	if err != nil {
		return err
	}

	output := p.output
	if redirect != lexer.ILLEGAL {
		dest := p.pop()
		output, err = p.getOutputStream(redirect, p.toString(dest))
		if err != nil {
			return err
		}
	}
	return writeOutput(output, s)
}

// opGetline handles the getline opcode variants, updating NR, FNR,
// NF, and $0 as POSIX specifies for each form.
func (p *interp) opGetline(t *tuple.Tuple) error {
	redirect := lexer.Token(t.Int1)
	ret, record, err := p.getline(redirect)
	if err != nil {
		return err
	}

	switch t.Op {
	case tuple.Getline:
		if ret == 1 {
			p.setLine(record, false)
		}

	case tuple.GetlineVar:
		if ret == 1 {
			err := p.storeVar(t.Int2, t.Int3, numStr(record))
			if err != nil {
				return err
			}
		}

	case tuple.GetlineField:
		index := p.pop()
		if ret == 1 {
			err := p.setField(int(index.num()), record)
			if err != nil {
				return err
			}
		}

	case tuple.GetlineArray:
		arr, err := p.arrayByScope(t.Int2, t.Int3)
		if err != nil {
			return err
		}
		key := p.toString(p.pop())
		if ret == 1 {
			arr.set(key, numStr(record))
		}
	}
	p.push(num(ret))
	return nil
}

// getline reads one record from the main input, a file, or a command
// pipe. It pops the file or command name when there's a redirect.
func (p *interp) getline(redirect lexer.Token) (float64, string, error) {
	switch redirect {
	case lexer.PIPE: // "cmd" | getline
		name := p.toString(p.pop())
		s, err := p.getInputStreamPipe(name)
		if err != nil {
			return -1, "", nil
		}
		ret, record, _ := p.readStreamRecord(s)
		if ret == 1 {
			p.lineNum++
		}
		return ret, record, nil

	case lexer.LESS: // getline <file
		name := p.toString(p.pop())
		s, err := p.getInputStreamFile(name)
		if err != nil {
			if _, ok := err.(*os.PathError); ok {
				// File not found isn't a hard error; getline just
				// returns -1
				return -1, "", nil
			}
			return 0, "", err
		}
		ret, record, _ := p.readStreamRecord(s)
		return ret, record, nil

	default: // plain getline: next record of the main input
		p.flushOutputAndError() // in case a prompt was written
		record, err := p.nextRecord()
		if err == io.EOF {
			return 0, "", nil
		}
		if err != nil {
			return -1, "", nil
		}
		return 1, record, nil
	}
}

// opCall dispatches the builtin, optional-builtin, and extension
// call opcodes.
func (p *interp) opCall(t *tuple.Tuple) error {
	switch t.Op {
	case tuple.CallAtan2:
		x := p.pop()
		y := p.pop()
		p.push(num(math.Atan2(y.num(), x.num())))

	case tuple.CallClose:
		name := p.toString(p.pop())
		p.push(num(p.closeStream(name)))

	case tuple.CallCos:
		p.push(num(math.Cos(p.pop().num())))

	case tuple.CallExp:
		p.push(num(math.Exp(p.pop().num())))

	case tuple.CallFflush:
		name := p.toString(p.pop())
		var ok bool
		if name != "" {
			ok = p.flushStream(name)
		} else {
			ok = p.flushAll()
		}
		if ok {
			p.push(num(0))
		} else {
			p.push(num(-1))
		}

	case tuple.CallFflushAll:
		if p.flushAll() {
			p.push(num(0))
		} else {
			p.push(num(-1))
		}

	case tuple.CallSub, tuple.CallGsub:
		in := p.toString(p.pop())
		repl := p.toString(p.pop())
		regex := p.toString(p.pop())
		out, n, err := p.sub(regex, repl, in, t.Op == tuple.CallGsub)
		if err != nil {
			return err
		}
		p.push(num(float64(n)))
		p.push(str(out))

	case tuple.CallIndex:
		substr := p.toString(p.pop())
		s := p.toString(p.pop())
		p.push(num(float64(strings.Index(s, substr) + 1)))

	case tuple.CallInt:
		p.push(num(float64(int(p.pop().num()))))

	case tuple.CallLength:
		p.push(num(float64(len(p.line))))

	case tuple.CallLengthArg:
		p.push(num(float64(len(p.toString(p.pop())))))

	case tuple.CallLog:
		p.push(num(math.Log(p.pop().num())))

	case tuple.CallMatch:
		regex := p.toString(p.pop())
		s := p.toString(p.pop())
		re, err := p.compileRegex(regex)
		if err != nil {
			return err
		}
		loc := re.FindStringIndex(s)
		if loc == nil {
			p.matchStart = 0
			p.matchLength = -1
			p.push(num(0))
		} else {
			p.matchStart = loc[0] + 1
			p.matchLength = loc[1] - loc[0]
			p.push(num(float64(p.matchStart)))
		}

	case tuple.CallRand:
		p.push(num(p.random.Float64()))

	case tuple.CallSin:
		p.push(num(math.Sin(p.pop().num())))

	case tuple.CallSplit:
		arr, err := p.arrayByScope(t.Int1, t.Int2)
		if err != nil {
			return err
		}
		s := p.toString(p.pop())
		n, err := p.split(s, arr, p.fieldSep)
		if err != nil {
			return err
		}
		p.push(num(float64(n)))

	case tuple.CallSplitSep:
		arr, err := p.arrayByScope(t.Int1, t.Int2)
		if err != nil {
			return err
		}
		fieldSep := p.toString(p.pop())
		s := p.toString(p.pop())
		n, err := p.split(s, arr, fieldSep)
		if err != nil {
			return err
		}
		p.push(num(float64(n)))

	case tuple.CallSprintf:
		args := p.popSlice(t.Int1)
		s, err := p.sprintfCaught(p.toString(args[0]), args[1:])
		if err != nil {
			return err
		}
		p.push(str(s))

	case tuple.CallSqrt:
		p.push(num(math.Sqrt(p.pop().num())))

	case tuple.CallSrand:
		prevSeed := p.randSeed
		p.random.Seed(time.Now().UnixNano())
		p.push(num(prevSeed))

	case tuple.CallSrandSeed:
		prevSeed := p.randSeed
		p.randSeed = p.pop().num()
		p.random.Seed(int64(math.Float64bits(p.randSeed)))
		p.push(num(prevSeed))

	case tuple.CallSubstr:
		pos := int(p.pop().num())
		s := p.toString(p.pop())
		if pos > len(s) {
			pos = len(s) + 1
		}
		if pos < 1 {
			pos = 1
		}
		length := len(s) - pos + 1
		p.push(str(s[pos-1 : pos-1+length]))

	case tuple.CallSubstrLength:
		length := int(p.pop().num())
		pos := int(p.pop().num())
		s := p.toString(p.pop())
		if pos > len(s) {
			pos = len(s) + 1
		}
		if pos < 1 {
			pos = 1
		}
		maxLength := len(s) - pos + 1
		if length < 0 {
			length = 0
		}
		if length > maxLength {
			length = maxLength
		}
		p.push(str(s[pos-1 : pos-1+length]))

	case tuple.CallSystem:
		cmdline := p.toString(p.pop())
		p.push(num(p.callSystem(cmdline)))

	case tuple.CallTolower:
		p.push(str(strings.ToLower(p.toString(p.pop()))))

	case tuple.CallToupper:
		p.push(str(strings.ToUpper(p.toString(p.pop()))))

	case tuple.CallSleep:
		secs := 1.0
		if t.Int1 > 0 {
			secs = p.pop().num()
		}
		time.Sleep(time.Duration(secs * float64(time.Second)))
		p.push(num(0))

	case tuple.CallDump:
		if t.Int1 > 0 {
			v := p.pop()
			err := writeOutput(p.output, p.toString(v)+"\n")
			if err != nil {
				return err
			}
		} else {
			err := p.dumpGlobals()
			if err != nil {
				return err
			}
		}
		p.push(num(0))

	case tuple.CallExec:
		cmdline := p.toString(p.pop())
		p.push(num(p.callSystem(cmdline)))

	case tuple.CastInt:
		p.push(num(float64(int(p.pop().num()))))

	case tuple.CastDouble:
		p.push(num(p.pop().num()))

	case tuple.CastString:
		p.push(str(p.toString(p.pop())))

	case tuple.ExtCall:
		return p.extCall(t.Str, t.Int1)

	default:
		return newError("unsupported opcode %s", t.Op)
	}
	return nil
}

// callSystem runs a command via the shell, waiting for it and
// returning its exit code (the system() and exec builtins).
func (p *interp) callSystem(cmdline string) float64 {
	cmd := p.execShell(cmdline)
	cmd.Stdin = p.stdin
	cmd.Stdout = p.output
	cmd.Stderr = p.errorOutput
	p.flushAll() // ensure synchronization
	err := cmd.Start()
	if err != nil {
		p.printErrorf("%s\n", err)
		return -1
	}
	code, err := waitExitCode(cmd)
	if err != nil {
		p.printErrorf("unexpected error running command %q: %v\n", cmdline, err)
		return -1
	}
	return float64(code)
}

// dumpGlobals writes every global scalar and array to the output
// (the _dump builtin with no argument).
func (p *interp) dumpGlobals() error {
	for _, name := range sortedNames(p.program.Scalars) {
		v := p.globals[p.program.Scalars[name]]
		err := writeOutput(p.output, name+" = "+p.toString(v)+"\n")
		if err != nil {
			return err
		}
	}
	for _, name := range sortedNames(p.program.Arrays) {
		arr := p.arrays[p.program.Arrays[name]]
		for _, key := range arr.keyList() {
			v, _ := arr.get(key)
			err := writeOutput(p.output, name+"["+key+"] = "+p.toString(v)+"\n")
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// extCall invokes a registered extension keyword with the top
// numArgs stack values, pushing its result.
func (p *interp) extCall(keyword string, numArgs int) error {
	args := p.popSlice(numArgs)
	e, ok := p.extensions.Lookup(keyword)
	if !ok {
		return newError("calling undefined extension keyword %q", keyword)
	}
	extArgs := make([]interface{}, len(args))
	for i, a := range args {
		switch a.typ {
		case typeNum:
			extArgs[i] = a.n
		case typeArray:
			return newError("can't pass array to extension %q", keyword)
		default:
			extArgs[i] = p.toString(a)
		}
	}
	result, err := e.Invoke(keyword, extArgs)
	if err != nil {
		return newError("extension %q: %s", keyword, err)
	}
	switch r := result.(type) {
	case nil:
		p.push(null())
	case float64:
		p.push(num(r))
	case int:
		p.push(num(float64(r)))
	case bool:
		p.push(boolean(r))
	case string:
		p.push(str(r))
	default:
		return newError("extension %q returned unsupported type %T", keyword, result)
	}
	return nil
}

// Operand stack helpers.

func (p *interp) push(v value) {
	if p.sp >= len(p.stack) {
		p.stack = append(p.stack, null())
	}
	p.stack[p.sp] = v
	p.sp++
}

func (p *interp) pop() value {
	p.sp--
	return p.stack[p.sp]
}

func (p *interp) popSlice(n int) []value {
	p.sp -= n
	return p.stack[p.sp : p.sp+n]
}

// sortedNames returns map keys in sorted order (for stable dumps).
func sortedNames(m map[string]int) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
