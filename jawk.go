// Jawk: an AWK interpreter.
//
// The pipeline, start to finish: parse the script into a syntax
// tree, run the semantic passes, lower the tree into a list of
// instruction tuples, then either execute the tuples on the AVM or
// write them out (-c/-s/-S). Command-line parameters dictate which
// action takes place.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MetricsHub/jawk/ext"
	"github.com/MetricsHub/jawk/internal/ast"
	"github.com/MetricsHub/jawk/internal/parseutil"
	"github.com/MetricsHub/jawk/internal/resolver"
	"github.com/MetricsHub/jawk/internal/term"
	"github.com/MetricsHub/jawk/internal/tuple"
	"github.com/MetricsHub/jawk/interp"
	"github.com/MetricsHub/jawk/lexer"
	"github.com/MetricsHub/jawk/parser"

	"github.com/xyproto/env/v2"
)

const (
	defaultIRFilename   = "a.ai"
	defaultTreeFilename = "syntax_tree.lst"
	defaultDumpFilename = "avm.lst"
)

type settings struct {
	fieldSep       string
	scriptFiles    []string
	vars           []interp.VarAssign
	writeIR        bool   // -c
	outputFilename string // -o
	dumpIR         bool   // -s
	dumpTree       bool   // -S
	extraFns       bool   // -x
	typeFns        bool   // -y
	sortedArrays   bool   // -t
	rawFormats     bool   // -r
	userExtensions bool   // -ext
	noInput        bool   // -ni
	locale         string // --locale
	script         string // command-line script (no -f given)
	args           []string
}

func main() {
	settings, err := parseArgs(os.Args[1:])
	if err != nil {
		errorExitf("%s", err)
	}
	os.Exit(run(settings))
}

// parseArgs processes "-" options until the first non-option (or a
// bare "-"), then the script (unless -f was given), then the
// name=val / filename arguments for ARGV.
func parseArgs(args []string) (*settings, error) {
	s := &settings{}
	i := 0
argLoop:
	for ; i < len(args); i++ {
		arg := args[i]
		if arg == "" {
			return nil, fmt.Errorf("zero-length argument at position %d", i+1)
		}
		if arg[0] != '-' {
			break
		}
		switch arg {
		case "-":
			i++
			break argLoop
		case "-v":
			val, err := optionArg(args, &i)
			if err != nil {
				return nil, err
			}
			eq := strings.IndexByte(val, '=')
			if eq <= 0 {
				return nil, fmt.Errorf("%q must be of the form name=value", val)
			}
			s.vars = append(s.vars, interp.VarAssign{Name: val[:eq], Value: val[eq+1:]})
		case "-f":
			val, err := optionArg(args, &i)
			if err != nil {
				return nil, err
			}
			s.scriptFiles = append(s.scriptFiles, val)
		case "-F":
			val, err := optionArg(args, &i)
			if err != nil {
				return nil, err
			}
			s.fieldSep = val
		case "-o":
			val, err := optionArg(args, &i)
			if err != nil {
				return nil, err
			}
			s.outputFilename = val
		case "-c":
			s.writeIR = true
		case "-s":
			s.dumpIR = true
		case "-S":
			s.dumpTree = true
		case "-x":
			s.extraFns = true
		case "-y":
			s.typeFns = true
		case "-t":
			s.sortedArrays = true
		case "-r":
			s.rawFormats = true
		case "-ext":
			s.userExtensions = true
		case "-ni":
			s.noInput = true
		case "--locale":
			val, err := optionArg(args, &i)
			if err != nil {
				return nil, err
			}
			s.locale = val
		case "-h", "-?":
			usage(os.Stdout)
			os.Exit(0)
		default:
			return nil, fmt.Errorf("unknown parameter: %s", arg)
		}
	}

	if len(s.scriptFiles) == 0 {
		if i >= len(args) {
			return nil, fmt.Errorf("awk script not provided")
		}
		s.script = args[i]
		i++
	}
	s.args = args[i:]
	return s, nil
}

func optionArg(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", fmt.Errorf("need additional argument for %s", args[*i])
	}
	*i++
	return args[*i], nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "jawk [-F fs] [-f script-file] [-o output-file] [-c] [-S] [-s] [-x] [-y]")
	fmt.Fprintln(w, "     [-r] [--locale locale] [-ext] [-ni] [-t] [-v name=val]...")
	fmt.Fprintln(w, "     [script] [name=val | input-file]...")
	fmt.Fprintln(w)
	fmt.Fprintln(w, " -F fs = Use fs for FS.")
	fmt.Fprintln(w, " -f filename = Use contents of filename for script; repeatable.")
	fmt.Fprintln(w, " -v name=val = Initial awk variable assignments.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, " -t = (extension) Maintain array keys in sorted order.")
	fmt.Fprintln(w, " -c = (extension) Compile to intermediate file. (default: a.ai)")
	fmt.Fprintln(w, " -o = (extension) Specify output file.")
	fmt.Fprintln(w, " -S = (extension) Write the syntax tree to file. (default: syntax_tree.lst)")
	fmt.Fprintln(w, " -s = (extension) Write the intermediate code to file. (default: avm.lst)")
	fmt.Fprintln(w, " -x = (extension) Enable _sleep, _dump as keywords, and exec as a builtin func.")
	fmt.Fprintln(w, " -y = (extension) Enable _INTEGER, _DOUBLE, and _STRING casting keywords.")
	fmt.Fprintln(w, " -r = (extension) Do NOT hide format errors for [s]printf.")
	fmt.Fprintln(w, " --locale tag = (extension) Record a locale instead of the default.")
	fmt.Fprintln(w, " -ext = (extension) Enable user-defined extensions. (default: not enabled)")
	fmt.Fprintln(w, " -ni = (extension) Do NOT process stdin or ARGC/V through input rules.")
	fmt.Fprintln(w, "       (Useful for blocking extensions.)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, " -h or -? = (extension) This help screen.")
}

func run(s *settings) int {
	registry := ext.NewRegistry(os.Stderr)
	if s.userExtensions {
		registry = registry.Enabled(env.Str("JAWK_EXTENSIONS", ""))
	}

	prog, fileReader, err := loadProgram(s, registry)
	if err != nil {
		reportError(err, fileReader)
		return 1
	}
	if prog == nil {
		// A dump switch already wrote its output
		return 0
	}

	if s.writeIR {
		filename := orDefault(s.outputFilename, defaultIRFilename)
		f, err := os.Create(filename)
		if err != nil {
			errorf("%s", err)
			return 1
		}
		err = tuple.Serialize(prog, f)
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			errorf("writing intermediate file: %s", err)
			return 1
		}
		return 0
	}

	if s.dumpIR {
		filename := orDefault(s.outputFilename, defaultDumpFilename)
		f, err := os.Create(filename)
		if err != nil {
			errorf("%s", err)
			return 1
		}
		err = prog.Disassemble(f)
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			errorf("writing tuple dump: %s", err)
			return 1
		}
		return 0
	}

	config := &interp.Config{
		Argv0:                 "jawk",
		Args:                  s.args,
		Vars:                  s.vars,
		FieldSep:              s.fieldSep,
		SortedArrays:          s.sortedArrays,
		CatchFormatErrors:     !s.rawFormats,
		GreedyRecordSeparator: env.Bool("JAWK_FORCE_GREEDY_RS"),
		NoInput:               s.noInput,
		InteractiveStdin:      term.IsTerminal(os.Stdin.Fd()),
		Locale:                s.locale,
		Shell:                 env.Str("SHELL", "/bin/sh"),
		Extensions:            registry,
	}
	status, err := interp.ExecProgram(prog, config)
	if err != nil {
		errorf("%s", err)
		return 1
	}
	return status
}

// loadProgram reads the script sources and produces the tuple
// program: either by deserializing an intermediate file, or by
// parsing, resolving, and lowering AWK source. It returns a nil
// program after handling a dump switch (-S).
func loadProgram(s *settings, registry *ext.Registry) (*tuple.Program, *parseutil.FileReader, error) {
	// Gather sources, detecting intermediate files by their magic.
	var irProg *tuple.Program
	fileReader := &parseutil.FileReader{}
	haveSource := false
	if len(s.scriptFiles) > 0 {
		for _, path := range s.scriptFiles {
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, nil, fmt.Errorf("can't read script %q: %s", path, err)
			}
			if tuple.IsSerialized(content) {
				if haveSource {
					return nil, nil, fmt.Errorf("can't mix intermediate file %q with source scripts", path)
				}
				// Multiple intermediate files: the last one wins
				prog, err := tuple.Deserialize(bytes.NewReader(content))
				if err != nil {
					return nil, nil, fmt.Errorf("%s: %s", path, err)
				}
				irProg = prog
				continue
			}
			if irProg != nil {
				return nil, nil, fmt.Errorf("can't mix source script %q with intermediate files", path)
			}
			haveSource = true
			err = fileReader.AddFile(path, bytes.NewReader(content))
			if err != nil {
				return nil, nil, err
			}
		}
	} else {
		haveSource = true
		err := fileReader.AddFile("<cmdline>", strings.NewReader(s.script))
		if err != nil {
			return nil, nil, err
		}
	}
	if irProg != nil {
		return irProg, nil, nil
	}

	parserConfig := &parser.Config{
		ExtraFunctions: s.extraFns,
		TypeFunctions:  s.typeFns,
	}
	if s.userExtensions {
		parserConfig.Extensions = make(map[string]parser.ExtensionInfo)
		for name, kw := range registry.Keywords() {
			parserConfig.Extensions[name] = parser.ExtensionInfo{
				MinArgs: kw.MinArgs,
				MaxArgs: kw.MaxArgs,
			}
		}
	}

	astProg, err := parser.ParseProgram(fileReader.Source(), parserConfig)
	if err != nil {
		return nil, fileReader, err
	}

	if s.dumpTree {
		filename := orDefault(s.outputFilename, defaultTreeFilename)
		f, err := os.Create(filename)
		if err != nil {
			return nil, fileReader, err
		}
		_, err = io.WriteString(f, astProg.String()+"\n")
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			return nil, fileReader, fmt.Errorf("writing syntax tree: %s", err)
		}
		return nil, fileReader, nil
	}

	err = resolver.Resolve(astProg)
	if err != nil {
		return nil, fileReader, err
	}

	prog, err := tuple.Compile(astProg)
	if err != nil {
		return nil, fileReader, err
	}
	return prog, fileReader, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// reportError prints a compile-stage error, mapping joined-source
// line numbers back to the original script file.
func reportError(err error, fileReader *parseutil.FileReader) {
	var pos lexer.Position
	var message string
	switch e := err.(type) {
	case *parser.LexerError:
		pos = e.Position
		message = "lexer error: " + e.Message
	case *ast.PositionError:
		pos = e.Position
		message = e.Message
	default:
		errorf("%s", err)
		return
	}
	if fileReader != nil {
		path, line := fileReader.FileLine(pos.Line)
		if path != "" {
			errorf("%s:%d:%d: %s", path, line, pos.Column, message)
			return
		}
	}
	errorf("%d:%d: %s", pos.Line, pos.Column, message)
}

func errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "jawk: "+format+"\n", args...)
}

func errorExitf(format string, args ...interface{}) {
	errorf(format, args...)
	fmt.Fprintln(os.Stderr, "use 'jawk -h' for help")
	os.Exit(1)
}
