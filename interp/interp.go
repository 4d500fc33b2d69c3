// Package interp implements the AVM, the stack-based virtual
// machine that interprets tuple programs, together with its record
// partitioner, value model, and I/O subsystem.
//
// Use ExecProgram to run a compiled program with a Config describing
// inputs, outputs, and the settings record.
package interp

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/MetricsHub/jawk/ext"
	"github.com/MetricsHub/jawk/internal/ast"
	"github.com/MetricsHub/jawk/internal/tuple"
)

var (
	errExit     = &sentinelError{"exit"}
	errNext     = &sentinelError{"next"}
	errNextfile = &sentinelError{"nextfile"}

	varRegex = regexp.MustCompile(`^([_a-zA-Z][_a-zA-Z0-9]*)=(.*)`)
)

// sentinelError values implement non-local control flow (next,
// nextfile, exit) inside the AVM; they never escape ExecProgram.
type sentinelError struct {
	name string
}

func (e *sentinelError) Error() string {
	return "<" + e.name + ">"
}

// Error (actually *Error) is returned by ExecProgram on a runtime
// error, for example a negative field index.
type Error struct {
	message string
}

func (e *Error) Error() string {
	return e.message
}

func newError(format string, args ...interface{}) error {
	return &Error{fmt.Sprintf(format, args...)}
}

const (
	maxCallDepth     = 1000
	maxCachedRegexes = 100
	outputBufSize    = 64 * 1024
)

// VarAssign is one pre-execution variable assignment (-v name=val).
type VarAssign struct {
	Name  string
	Value string
}

// Config is the settings record threaded to the AVM and the
// partitioner; there is no process-wide mutable state.
type Config struct {
	// Standard input, output, and error output. Nil means os.Stdin
	// and buffered os.Stdout / os.Stderr.
	Stdin  io.Reader
	Output io.Writer
	Error  io.Writer

	// Value of ARGV[0] (the program name).
	Argv0 string

	// Arguments for ARGV[1]..ARGV[n]: input filenames and deferred
	// name=val assignments.
	Args []string

	// Pre-execution variable assignments (-v), applied before the
	// BEGIN blocks.
	Vars []VarAssign

	// Environment variables for the ENVIRON array; nil means the
	// process environment.
	Environ []string

	// Initial field separator (-F). Empty means the default " ".
	FieldSep string

	// SortedArrays iterates arrays in sorted key order (-t) rather
	// than insertion order.
	SortedArrays bool

	// CatchFormatErrors renders a bad printf format literally
	// instead of failing (-r turns this off).
	CatchFormatErrors bool

	// GreedyRecordSeparator enables greedy RS regex matching in the
	// partitioner.
	GreedyRecordSeparator bool

	// NoInput stops the main rules from consuming stdin or the ARGV
	// files (-ni), so blocking extensions can drive input instead.
	NoInput bool

	// InteractiveStdin flushes pending output before every read
	// from stdin (set when stdin is a terminal).
	InteractiveStdin bool

	// Locale is the locale tag given with --locale. It is stored in
	// the settings record and has no effect: number parsing and
	// formatting are locale-independent, and extensions are not
	// given the tag.
	Locale string

	// Shell to run system()/pipe commands with; empty means /bin/sh
	// (or the SHELL environment variable in the CLI).
	Shell string

	// Extensions registered for the ExtCall opcode.
	Extensions *ext.Registry
}

type interp struct {
	program *tuple.Program

	// I/O
	output        io.Writer
	errorOutput   io.Writer
	stdin         io.Reader
	interactive   bool
	inputStreams  map[string]*inStream
	outputStreams map[string]*outStream

	// Operand stack, frames, for-in cursors
	stack  []value
	sp     int
	frames []frameInfo
	frame  []value
	iters  []forInIter

	// Globals
	globals []value
	arrays  []*varArray

	// Main input chain
	partition     *partitioner
	inputCloser   io.Closer
	inputIsStdin  bool
	filenameIndex int
	hadFiles      bool

	// Current record and fields
	line          string
	lineIsTrueStr bool
	fields        []string
	numFields     int

	// Special variables
	argc            int
	convertFormat   string
	outputFormat    string
	fieldSep        string
	recordSep       string
	outputFieldSep  string
	outputRecordSep string
	subscriptSep    string
	matchLength     int
	matchStart      int
	filename        string
	lineNum         int
	fileLineNum     int

	// Misc state
	random            *rand.Rand
	randSeed          float64
	regexCache        map[string]*regexp.Regexp
	exitStatus        int
	catchFormatErrors bool
	sortedArrays      bool
	greedyRS          bool
	shell             string
	locale            string
	extensions        *ext.Registry
}

type frameInfo struct {
	returnPC  int
	locals    []value
	iterDepth int
}

type forInIter struct {
	arr  *varArray
	keys []string
	pos  int
}

func newInterp(prog *tuple.Program, config *Config) *interp {
	p := &interp{program: prog}

	if config.Output == nil {
		p.output = bufio.NewWriterSize(os.Stdout, outputBufSize)
	} else {
		p.output = config.Output
	}
	if config.Error == nil {
		p.errorOutput = bufio.NewWriterSize(os.Stderr, 4096)
	} else {
		p.errorOutput = config.Error
	}
	if config.Stdin == nil {
		p.stdin = os.Stdin
	} else {
		p.stdin = config.Stdin
	}
	p.interactive = config.InteractiveStdin

	p.inputStreams = make(map[string]*inStream)
	p.outputStreams = make(map[string]*outStream)
	p.regexCache = make(map[string]*regexp.Regexp, 10)

	p.randSeed = 1.0
	p.random = rand.New(rand.NewSource(int64(math.Float64bits(p.randSeed))))

	p.convertFormat = "%.6g"
	p.outputFormat = "%.6g"
	p.fieldSep = " "
	p.recordSep = "\n"
	p.outputFieldSep = " "
	p.outputRecordSep = "\n"
	p.subscriptSep = "\x1c"
	p.matchLength = -1

	p.catchFormatErrors = config.CatchFormatErrors
	p.sortedArrays = config.SortedArrays
	p.greedyRS = config.GreedyRecordSeparator
	p.shell = config.Shell
	if p.shell == "" {
		p.shell = "/bin/sh"
	}
	p.locale = config.Locale
	p.extensions = config.Extensions

	p.globals = make([]value, len(prog.Scalars))
	p.arrays = make([]*varArray, len(prog.Arrays))
	for i := range p.arrays {
		p.arrays[i] = newArray(p.sortedArrays)
	}

	return p
}

// ExecProgram runs a tuple program: BEGIN blocks, the main record
// loop over the input files, then END blocks. It returns the exit
// status of the program and a non-nil error on runtime failure.
func ExecProgram(prog *tuple.Program, config *Config) (status int, err error) {
	if config == nil {
		config = &Config{CatchFormatErrors: true}
	}
	p := newInterp(prog, config)
	defer func() {
		waitErr := p.closeAll()
		if err == nil && waitErr != nil {
			err = waitErr
		}
	}()

	// Populate ENVIRON and ARGV.
	environ := config.Environ
	if environ == nil {
		environ = os.Environ()
	}
	if envIndex, ok := prog.Arrays["ENVIRON"]; ok {
		envArray := p.arrays[envIndex]
		for _, kv := range environ {
			if eq := strings.IndexByte(kv, '='); eq >= 0 {
				envArray.set(kv[:eq], numStr(kv[eq+1:]))
			}
		}
	}
	argv0 := config.Argv0
	if argv0 == "" {
		argv0 = "awk"
	}
	if argvIndex, ok := prog.Arrays["ARGV"]; ok {
		argvArray := p.arrays[argvIndex]
		argvArray.set("0", str(argv0))
		for i, arg := range config.Args {
			argvArray.set(strconv.Itoa(i+1), numStr(arg))
		}
	}
	p.argc = len(config.Args) + 1
	p.filenameIndex = 1

	if config.FieldSep != "" {
		p.fieldSep = config.FieldSep
	}
	for _, assign := range config.Vars {
		err := p.setVarByName(assign.Name, numStr(assign.Value))
		if err != nil {
			return 1, err
		}
	}

	exited := false
	if prog.Begin != nil {
		err := p.run(prog.Begin.Index)
		if err == errExit {
			exited = true
		} else if err != nil {
			return 1, err
		}
	}

	if !exited && (len(prog.Rules) > 0 || prog.End != nil) && !config.NoInput {
		err := p.mainLoop()
		if err == errExit {
			// fall through to END blocks
		} else if err != nil {
			return 1, err
		}
	}

	if prog.End != nil {
		err := p.run(prog.End.Index)
		if err != nil && err != errExit {
			return 1, err
		}
	}
	return p.exitStatus, nil
}

// mainLoop reads records from the input chain and fires the matching
// rules against each, in source order.
func (p *interp) mainLoop() error {
	prog := p.program
	inRange := make([]bool, len(prog.Rules))
lineLoop:
	for {
		record, err := p.nextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		p.setLine(record, false)
		for i := range prog.Rules {
			rule := &prog.Rules[i]
			matched := false
			switch len(rule.Pattern) {
			case 0:
				// No pattern is equivalent to a pattern evaluating
				// to true
				matched = true
			case 1:
				v, err := p.runPattern(rule.Pattern[0])
				if err != nil {
					return err
				}
				matched = v
			case 2:
				// Range pattern (matches between start and stop
				// records)
				if !inRange[i] {
					v, err := p.runPattern(rule.Pattern[0])
					if err != nil {
						return err
					}
					inRange[i] = v
				}
				matched = inRange[i]
				if inRange[i] {
					v, err := p.runPattern(rule.Pattern[1])
					if err != nil {
						return err
					}
					inRange[i] = !v
				}
			}
			if !matched {
				continue
			}
			if rule.Body == nil {
				// No action is equivalent to { print $0 }
				err := p.printLine(p.output, p.line)
				if err != nil {
					return err
				}
				continue
			}
			err := p.run(rule.Body.Index)
			if err == errNext {
				continue lineLoop
			}
			if err == errNextfile {
				p.closeCurrentInput()
				continue lineLoop
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// runPattern executes a pattern segment and returns its truth value.
func (p *interp) runPattern(addr *tuple.Address) (bool, error) {
	err := p.run(addr.Index)
	if err != nil {
		return false, err
	}
	return p.pop().boolean(), nil
}

// setFile records the current input filename and resets FNR.
func (p *interp) setFile(filename string) {
	p.filename = filename
	p.fileLineNum = 0
}

// closeCurrentInput abandons the current input (for nextfile and end
// of file).
func (p *interp) closeCurrentInput() {
	if p.inputCloser != nil {
		_ = p.inputCloser.Close()
		p.inputCloser = nil
	}
	p.partition = nil
	p.inputIsStdin = false
}

// nextRecord returns the next record from the input chain: each
// ARGV element in turn is a deferred assignment (name=val, applied
// here), an input filename, or "-" for stdin; if there were no file
// arguments at all, stdin is read instead. NR and FNR are updated.
func (p *interp) nextRecord() (string, error) {
	for {
		if p.partition == nil {
			if p.filenameIndex >= p.argc && !p.hadFiles {
				// No file arguments: read standard input
				p.setFile("")
				pt, err := newPartitioner(p.stdin, p.recordSep, p.greedyRS, false)
				if err != nil {
					return "", err
				}
				p.partition = pt
				p.inputIsStdin = true
				p.hadFiles = true
			} else {
				if p.filenameIndex >= p.argc {
					return "", io.EOF
				}
				name := p.toString(p.argvElem(p.filenameIndex))
				p.filenameIndex++
				matches := varRegex.FindStringSubmatch(name)
				if len(matches) >= 3 {
					// Deferred assignment, applied just before the
					// "file" would be opened
					err := p.setVarByName(matches[1], numStr(matches[2]))
					if err != nil {
						return "", err
					}
					continue
				} else if name == "" {
					continue
				} else if name == "-" {
					p.setFile("")
					pt, err := newPartitioner(p.stdin, p.recordSep, p.greedyRS, true)
					if err != nil {
						return "", err
					}
					p.partition = pt
					p.inputIsStdin = true
					p.hadFiles = true
				} else {
					f, err := os.Open(name)
					if err != nil {
						return "", newError("can't open file %q", name)
					}
					p.setFile(name)
					pt, err := newPartitioner(f, p.recordSep, p.greedyRS, true)
					if err != nil {
						f.Close()
						return "", err
					}
					p.partition = pt
					p.inputCloser = f
					p.hadFiles = true
				}
			}
		}
		// RS may have changed since the partitioner was created
		err := p.partition.setRecordSeparator(p.recordSep)
		if err != nil {
			return "", err
		}
		if p.interactive && p.inputIsStdin {
			p.flushOutputAndError()
		}
		record, err := p.partition.readRecord()
		if err == io.EOF {
			p.closeCurrentInput()
			continue
		}
		if err != nil {
			return "", err
		}
		p.lineNum++
		p.fileLineNum++
		return record, nil
	}
}

func (p *interp) argvElem(i int) value {
	argvIndex, ok := p.program.Arrays["ARGV"]
	if !ok {
		return null()
	}
	v, _ := p.arrays[argvIndex].get(strconv.Itoa(i))
	return v
}

// setLine sets $0 and splits it into fields using FS.
func (p *interp) setLine(line string, isTrueStr bool) {
	p.line = line
	p.lineIsTrueStr = isTrueStr
	p.fields = p.splitFields(line, p.fieldSep)
	p.numFields = len(p.fields)
}

// splitFields splits a record into fields: FS of " " means runs of
// whitespace, a single character splits literally, anything longer
// is a regex. In paragraph mode (RS "") newline is always also a
// field separator.
func (p *interp) splitFields(line, fs string) []string {
	if line == "" {
		return nil
	}
	if fs == " " {
		return strings.Fields(line)
	}
	if p.recordSep == "" {
		re, err := p.compileRegex("(" + singleCharOrRegex(fs) + ")|\n")
		if err == nil {
			return re.Split(line, -1)
		}
	}
	if len(fs) == 1 {
		return strings.Split(line, fs)
	}
	re, err := p.compileRegex(fs)
	if err != nil {
		// FS is validated when assigned; fall back to a literal
		// split if an invalid separator slips through anyway
		return strings.Split(line, fs)
	}
	return re.Split(line, -1)
}

func singleCharOrRegex(fs string) string {
	if len(fs) == 1 {
		return regexp.QuoteMeta(fs)
	}
	return fs
}

func (p *interp) getField(index int) (value, error) {
	if index < 0 {
		return null(), newError("field index negative: %d", index)
	}
	if index == 0 {
		if p.lineIsTrueStr {
			return str(p.line), nil
		}
		return numStr(p.line), nil
	}
	if index > len(p.fields) {
		return str(""), nil
	}
	return numStr(p.fields[index-1]), nil
}

// setField sets a field: assigning $0 re-splits with FS; assigning
// $n with n > NF pads with empty fields and updates NF; assigning
// any $i with i > 0 rebuilds $0 by joining fields with OFS.
func (p *interp) setField(index int, s string) error {
	if index < 0 {
		return newError("field index negative: %d", index)
	}
	if index == 0 {
		p.setLine(s, true)
		return nil
	}
	for i := len(p.fields); i < index; i++ {
		p.fields = append(p.fields, "")
	}
	p.fields[index-1] = s
	p.numFields = len(p.fields)
	p.line = strings.Join(p.fields, p.outputFieldSep)
	p.lineIsTrueStr = true
	return nil
}

// setNumFields implements assignment to NF: truncate or pad the
// field array and rebuild $0.
func (p *interp) setNumFields(numFields int) error {
	if numFields < 0 {
		return newError("NF set to negative value: %d", numFields)
	}
	p.numFields = numFields
	if numFields < len(p.fields) {
		p.fields = p.fields[:numFields]
	}
	for i := len(p.fields); i < numFields; i++ {
		p.fields = append(p.fields, "")
	}
	p.line = strings.Join(p.fields, p.outputFieldSep)
	p.lineIsTrueStr = true
	return nil
}

func (p *interp) getSpecial(index int) value {
	switch index {
	case ast.V_ARGC:
		return num(float64(p.argc))
	case ast.V_CONVFMT:
		return str(p.convertFormat)
	case ast.V_FILENAME:
		return str(p.filename)
	case ast.V_FNR:
		return num(float64(p.fileLineNum))
	case ast.V_FS:
		return str(p.fieldSep)
	case ast.V_NF:
		return num(float64(p.numFields))
	case ast.V_NR:
		return num(float64(p.lineNum))
	case ast.V_OFMT:
		return str(p.outputFormat)
	case ast.V_OFS:
		return str(p.outputFieldSep)
	case ast.V_ORS:
		return str(p.outputRecordSep)
	case ast.V_RLENGTH:
		return num(float64(p.matchLength))
	case ast.V_RS:
		return str(p.recordSep)
	case ast.V_RSTART:
		return num(float64(p.matchStart))
	case ast.V_SUBSEP:
		return str(p.subscriptSep)
	default:
		return null()
	}
}

func (p *interp) setSpecial(index int, v value) error {
	switch index {
	case ast.V_ARGC:
		p.argc = int(v.num())
	case ast.V_CONVFMT:
		p.convertFormat = p.toString(v)
	case ast.V_FILENAME:
		p.filename = p.toString(v)
	case ast.V_FNR:
		p.fileLineNum = int(v.num())
	case ast.V_FS:
		fs := p.toString(v)
		if fs != " " && len(fs) > 1 {
			_, err := p.compileRegex(fs)
			if err != nil {
				return err
			}
		}
		p.fieldSep = fs
	case ast.V_NF:
		return p.setNumFields(int(v.num()))
	case ast.V_NR:
		p.lineNum = int(v.num())
	case ast.V_OFMT:
		p.outputFormat = p.toString(v)
	case ast.V_OFS:
		p.outputFieldSep = p.toString(v)
	case ast.V_ORS:
		p.outputRecordSep = p.toString(v)
	case ast.V_RLENGTH:
		p.matchLength = int(v.num())
	case ast.V_RS:
		p.recordSep = p.toString(v)
	case ast.V_RSTART:
		p.matchStart = int(v.num())
	case ast.V_SUBSEP:
		p.subscriptSep = p.toString(v)
	default:
		return newError("unknown special variable index %d", index)
	}
	return nil
}

// setVarByName applies a name=val assignment (-v switches and the
// deferred assignments in ARGV). Names the program never mentions
// have no slot and are silently dropped.
func (p *interp) setVarByName(name string, v value) error {
	if special := ast.SpecialVarIndex(name); special > 0 {
		return p.setSpecial(special, v)
	}
	if index, ok := p.program.Scalars[name]; ok {
		p.globals[index] = v
		return nil
	}
	return nil
}

func (p *interp) toString(v value) string {
	return v.str(p.convertFormat)
}

func (p *interp) compileRegex(regex string) (*regexp.Regexp, error) {
	if re, ok := p.regexCache[regex]; ok {
		return re, nil
	}
	re, err := regexp.Compile(regex)
	if err != nil {
		return nil, newError("invalid regex %q: %s", regex, err)
	}
	// Dumb, non-LRU cache: just cache the first N regexes
	if len(p.regexCache) < maxCachedRegexes {
		p.regexCache[regex] = re
	}
	return re, nil
}

// split implements the split() builtin: clear the array, split s on
// fs, store elements under keys "1".."n", and return n.
func (p *interp) split(s string, arr *varArray, fs string) (int, error) {
	var parts []string
	if fs == " " {
		parts = strings.Fields(s)
	} else if s != "" {
		if len(fs) == 1 {
			parts = strings.Split(s, fs)
		} else {
			re, err := p.compileRegex(fs)
			if err != nil {
				return 0, err
			}
			parts = re.Split(s, -1)
		}
	}
	arr.clear()
	for i, part := range parts {
		arr.set(strconv.Itoa(i+1), numStr(part))
	}
	return len(parts), nil
}

// sub implements sub() and gsub(): replace the first (or all)
// matches of regex in `in` with repl, handling & and \& in the
// replacement.
func (p *interp) sub(regex, repl, in string, global bool) (out string, count int, err error) {
	re, err := p.compileRegex(regex)
	if err != nil {
		return "", 0, err
	}
	out = re.ReplaceAllStringFunc(in, func(s string) string {
		if !global && count > 0 {
			return s
		}
		count++
		// Handle & (ampersand) properly in replacement string
		r := make([]byte, 0, len(repl))
		for i := 0; i < len(repl); i++ {
			switch repl[i] {
			case '&':
				r = append(r, s...)
			case '\\':
				i++
				if i < len(repl) {
					switch repl[i] {
					case '&':
						r = append(r, '&')
					case '\\':
						r = append(r, '\\')
					default:
						r = append(r, '\\', repl[i])
					}
				} else {
					r = append(r, '\\')
				}
			default:
				r = append(r, repl[i])
			}
		}
		return string(r)
	})
	return out, count, nil
}

// execShell returns a command to run code via the configured shell.
func (p *interp) execShell(code string) *exec.Cmd {
	return exec.Command(p.shell, "-c", code)
}

func (p *interp) printErrorf(format string, args ...interface{}) {
	fmt.Fprintf(p.errorOutput, format, args...)
}
