// Test the AVM against complete programs (parse, resolve, lower,
// execute), in the style of an end-to-end interpreter test suite.

package interp_test

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/MetricsHub/jawk/ext"
	"github.com/MetricsHub/jawk/internal/resolver"
	"github.com/MetricsHub/jawk/internal/tuple"
	"github.com/MetricsHub/jawk/interp"
	"github.com/MetricsHub/jawk/parser"
)

func compile(t *testing.T, src string, parserConfig *parser.Config) *tuple.Program {
	t.Helper()
	astProg, err := parser.ParseProgram([]byte(src), parserConfig)
	if err != nil {
		t.Fatalf("parse error: %s", err)
	}
	err = resolver.Resolve(astProg)
	if err != nil {
		t.Fatalf("resolve error: %s", err)
	}
	prog, err := tuple.Compile(astProg)
	if err != nil {
		t.Fatalf("compile error: %s", err)
	}
	return prog
}

// testAwk runs an AWK program against the given stdin contents and
// returns its output, failing the test on any error.
func testAwk(t *testing.T, src, input string, config *interp.Config) string {
	t.Helper()
	out, _, err := runAwk(t, src, input, config)
	if err != nil {
		t.Fatalf("execute error: %s", err)
	}
	return out
}

func runAwk(t *testing.T, src, input string, config *interp.Config) (string, int, error) {
	t.Helper()
	if config == nil {
		config = &interp.Config{CatchFormatErrors: true}
	}
	var outBuf, errBuf bytes.Buffer
	config.Stdin = strings.NewReader(input)
	config.Output = &outBuf
	config.Error = &errBuf
	prog := compile(t, src, nil)
	status, err := interp.ExecProgram(prog, config)
	return outBuf.String(), status, err
}

func expectOutput(t *testing.T, src, input, expected string) {
	t.Helper()
	output := testAwk(t, src, input, nil)
	if output != expected {
		t.Errorf("%s: expected %q, got %q", src, expected, output)
	}
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		src      string
		input    string
		expected string
	}{
		// String escape semantics, end to end
		{`BEGIN { printf "\\" }`, "", `\`},
		{"BEGIN { printf \"\\x1B\" }", "", "\x1b"},
		{"BEGIN { printf \"\\132\" }", "", "Z"},
		{"BEGIN { printf \"\\1320\" }", "", "Z0"},
		{"BEGIN { printf \"\\x!\" }", "", "x!"},

		// Statement continuation after || and friends
		{"BEGIN { if (0 ||\n 1) printf \"ok\" }", "", "ok"},
		{"BEGIN { if (1 &&\n 1) printf \"ok\" }", "", "ok"},
		{"BEGIN { printf 1 ?\n\"ok\" : \"no\" }", "", "ok"},

		// Unary plus coerces to number
		{`BEGIN { printf +a }`, "", "0"},

		// Records and fields
		{`{ print NR, $1 }`, "a\nb\nc\n", "1 a\n2 b\n3 c\n"},
		{"BEGIN{FS=\",\"} {print $2}", "x,y,z\n", "y\n"},
		{`{ print NF }`, "a b  c\n", "3\n"},
		{`{ $4 = "d"; print NF, $0 }`, "a b c\n", "4 a b c d\n"},
		{`{ $0 = "x y"; print $2 }`, "ignored\n", "y\n"},
		{`{ NF = 2; print $0 }`, "a b c\n", "a b\n"},
		{`BEGIN { OFS = "-" } { $1 = $1; print }`, "a b c\n", "a-b-c\n"},

		// Arithmetic and operators
		{`BEGIN { print 1+2*3, 10/4, 2^10, 7%3 }`, "", "7 2.5 1024 1\n"},
		{`BEGIN { print -2^2 }`, "", "-4\n"},
		{`BEGIN { x = "a"; print x 1 2 }`, "", "a12\n"},
		{`BEGIN { i = 5; print i++, i, ++i, i--, i }`, "", "5 6 7 7 6\n"},
		{`BEGIN { x = 10; x += 5; x /= 3; print x }`, "", "5\n"},

		// Comparison rules: string vs numeric
		{`BEGIN { if ("10" < "9") print "str" }`, "", "str\n"},
		{`{ if ($2 < $1) print "num" }`, "10 9\n", "num\n"},
		{`{ if ($1 == 10) print "eq" }`, "10\n", "eq\n"},

		// Truthiness
		{`BEGIN { if ("0") print "s"; if (0) print "n" }`, "", "s\n"},

		// Control flow
		{`BEGIN { for (i=0; i<3; i++) s = s i; print s }`, "", "012\n"},
		{`BEGIN { i = 0; while (i < 3) i++; print i }`, "", "3\n"},
		{`BEGIN { i = 0; do { i++ } while (i < 3); print i }`, "", "3\n"},
		{`BEGIN { for (i=0; i<5; i++) { if (i == 2) continue; if (i == 4) break; s = s i }; print s }`, "", "013\n"},

		// Arrays
		{`{a[$1]++} END {for(k in a) print k, a[k]}`, "x\nx\ny\n", "x 2\ny 1\n"},
		{`BEGIN { a["k"] = 1; if ("k" in a) print "yes"; if (!("j" in a)) print "no" }`, "", "yes\nno\n"},
		{`BEGIN { a["k"] = 1; delete a["k"]; print ("k" in a) }`, "", "0\n"},
		{`BEGIN { a[1] = "x"; a[2] = "y"; delete a; n = 0; for (k in a) n++; print n }`, "", "0\n"},
		{`BEGIN { a[1,2] = "x"; for (k in a) { split(k, parts, SUBSEP); print parts[1], parts[2] } }`, "", "1 2\n"},
		{`BEGIN { if ((1,2) in a) print "in"; a[1,2] = 5; if ((1,2) in a) print "now" }`, "", "now\n"},

		// Builtins
		{`BEGIN { print substr("hello", 2, 3) }`, "", "ell\n"},
		{`BEGIN { print substr("hello", 0) }`, "", "hello\n"},
		{`BEGIN { print substr("hello", 4) }`, "", "lo\n"},
		{`BEGIN { print index("foo", "o"), length("abc"), toupper("x"), tolower("Y") }`, "", "2 3 X y\n"},
		{`BEGIN { n = split("a:b:c", parts, ":"); print n, parts[1], parts[3] }`, "", "3 a c\n"},
		{`BEGIN { n = split("", parts); print n }`, "", "0\n"},
		{`BEGIN { s = "aaa"; n = gsub(/a/, "b", s); print n, s }`, "", "3 bbb\n"},
		{`{ sub(/o/, "0"); print }`, "foo\n", "f0o\n"},
		{`BEGIN { s = "xax"; sub(/a/, "[&]", s); print s }`, "", "x[a]x\n"},
		{`BEGIN { s = "xax"; sub(/a/, "[\\&]", s); print s }`, "", "x[&]x\n"},
		{`BEGIN { if (match("foobar", /o+/)) print RSTART, RLENGTH }`, "", "2 2\n"},
		{`BEGIN { print length() }`, "", "0\n"},
		{`BEGIN { print int(3.9), int(-3.9) }`, "", "3 -3\n"},
		{`BEGIN { print sqrt(16), exp(0), log(1) }`, "", "4 1 0\n"},
		{`BEGIN { print sin(0), cos(0), atan2(0, 1) }`, "", "0 1 0\n"},

		// sprintf / printf
		{`BEGIN { print sprintf("%05.1f|%-3d|%x|%c", 3.14159, 7, 255, 65) }`, "", "003.1|7  |ff|A\n"},
		{`BEGIN { printf "%*d", 5, 42 }`, "", "   42"},
		{`BEGIN { printf "%d %i %o %X %u\n", 10, 11, 8, 255, 3 }`, "", "10 11 10 FF 3\n"},
		{`BEGIN { printf "%s and %%\n", "x" }`, "", "x and %\n"},
		{`BEGIN { printf "%c", "hello" }`, "", "h"},

		// Regex matching
		{`$0 ~ /b+/ { print "match" }`, "abc\n", "match\n"},
		{`/b+/ { print "match" }`, "abc\n", "match\n"},
		{`$0 !~ /z/ { print "nomatch" }`, "abc\n", "nomatch\n"},
		{`BEGIN { x = "abbc" ~ "ab+c"; print x }`, "", "1\n"},

		// Range patterns
		{`NR==2, NR==3 { print $1 }`, "a\nb\nc\nd\n", "b\nc\n"},

		// Ternary, uninitialised values
		{`BEGIN { print (x == "" ? "empty" : "set") }`, "", "empty\n"},
		{`BEGIN { printf "%d", x }`, "", "0"},

		// User-defined functions
		{`function add(a, b) { return a + b }  BEGIN { print add(1, 2) }`, "", "3\n"},
		{"function fib(n) { return n < 2 ? n : fib(n-1) + fib(n-2) }\nBEGIN { print fib(10) }", "", "55\n"},
		{`function setit(arr, x) { arr["k"] = x; x = 99 }  BEGIN { v = 1; setit(a, v); print a["k"], v }`, "", "1 1\n"},
		{`function f(a) { a["x"] = 1; return a["x"] }  BEGIN { print f(q) }`, "", "1\n"},
		{`function f(x, extra) { extra = x * 2; return extra }  BEGIN { print f(21), extra }`, "", "42 \n"},
		{`function noret() { }  BEGIN { x = noret(); print x "|" }`, "", "|\n"},

		// next and exit
		{`{ if ($1 == "skip") next; print $1 }`, "a\nskip\nb\n", "a\nb\n"},
		{`{ exit } END { print "end" }`, "x\n", "end\n"},
		{`BEGIN { exit } END { print "end" }`, "", "end\n"},

		// CONVFMT and OFMT
		{`BEGIN { CONVFMT = "%.2g"; x = 3.14159; y = x ""; print y }`, "", "3.1\n"},
		{`BEGIN { OFMT = "%.2f"; print 3.14159 }`, "", "3.14\n"},

		// ORS
		{`BEGIN { ORS = "|" } { print $1 }`, "a\nb\n", "a|b|"},

		// Record separators
		{`BEGIN { RS = "ab*c" } { print $1 }`, "XabcYabbcZ", "X\nY\nZ\n"},
		{`BEGIN { RS = "" } { print NF, NR }`, "a\nb\n\nc\n", "3 1\n"},
	}
	for _, test := range tests {
		t.Run(test.src, func(t *testing.T) {
			expectOutput(t, test.src, test.input, test.expected)
		})
	}
}

func TestExitStatus(t *testing.T) {
	_, status, err := runAwk(t, `BEGIN { exit 3 }`, "", nil)
	if err != nil {
		t.Fatalf("execute error: %s", err)
	}
	if status != 3 {
		t.Errorf("expected status 3, got %d", status)
	}

	// exit in a main rule still runs END, and END's exit wins
	_, status, err = runAwk(t, `{ exit 2 } END { exit 7 }`, "x\n", nil)
	if err != nil {
		t.Fatalf("execute error: %s", err)
	}
	if status != 7 {
		t.Errorf("expected status 7, got %d", status)
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		src   string
		error string
	}{
		{`BEGIN { print 1/0 }`, "division by zero"},
		{`BEGIN { print 1%0 }`, "division by zero in mod"},
		{`{ print $-1 }`, "field index negative"},
		{`BEGIN { x = "(unclosed"; if ("a" ~ x) print }`, "invalid regex"},
	}
	for _, test := range tests {
		t.Run(test.src, func(t *testing.T) {
			_, _, err := runAwk(t, test.src, "x\n", nil)
			if err == nil {
				t.Fatalf("expected error containing %q", test.error)
			}
			if !strings.Contains(err.Error(), test.error) {
				t.Errorf("expected error containing %q, got %q", test.error, err.Error())
			}
		})
	}
}

func TestFormatErrorPolicy(t *testing.T) {
	// Caught by default: the bad format renders literally
	out := testAwk(t, `BEGIN { printf "%z", 1 }`, "", &interp.Config{CatchFormatErrors: true})
	if out != "%z" {
		t.Errorf("expected literal %%z, got %q", out)
	}

	// With catching off (-r), it's an error
	_, _, err := runAwk(t, `BEGIN { printf "%z", 1 }`, "", &interp.Config{})
	if err == nil || !strings.Contains(err.Error(), "invalid format type") {
		t.Errorf("expected format error, got %v", err)
	}

	// Too few args is also a format error
	_, _, err = runAwk(t, `BEGIN { printf "%d %d", 1 }`, "", &interp.Config{})
	if err == nil || !strings.Contains(err.Error(), "format error") {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestVarAssignments(t *testing.T) {
	config := &interp.Config{
		CatchFormatErrors: true,
		Vars:              []interp.VarAssign{{Name: "x", Value: "10"}},
	}
	out := testAwk(t, `BEGIN { if (x < 9.5) print "lt"; else print "ge" }`, "", config)
	if out != "ge\n" {
		t.Errorf("expected numeric compare for -v value, got %q", out)
	}

	config = &interp.Config{
		CatchFormatErrors: true,
		Vars:              []interp.VarAssign{{Name: "FS", Value: ","}},
	}
	out = testAwk(t, `{ print $2 }`, "a,b\n", config)
	if out != "b\n" {
		t.Errorf("expected FS assignment to apply, got %q", out)
	}
}

func TestEnviron(t *testing.T) {
	config := &interp.Config{
		CatchFormatErrors: true,
		Environ:           []string{"FOO=bar", "NUM=42"},
	}
	out := testAwk(t, `BEGIN { print ENVIRON["FOO"], ENVIRON["NUM"] + 1 }`, "", config)
	if out != "bar 43\n" {
		t.Errorf("expected environment values, got %q", out)
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, []byte(content), 0644)
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInputFiles(t *testing.T) {
	f1 := writeTempFile(t, "f1", "a\nx\n")
	f2 := writeTempFile(t, "f2", "b\ny\n")

	config := &interp.Config{CatchFormatErrors: true, Args: []string{f1, f2}}
	out := testAwk(t, `{ print FNR, NR, $1 }`, "", config)
	expected := "1 1 a\n2 2 x\n1 3 b\n2 4 y\n"
	if out != expected {
		t.Errorf("expected %q, got %q", expected, out)
	}

	// FILENAME follows the current file
	config = &interp.Config{CatchFormatErrors: true, Args: []string{f1, f2}}
	out = testAwk(t, `FNR == 1 { print FILENAME == "" ? "?" : "file" }`, "", config)
	if out != "file\nfile\n" {
		t.Errorf("expected FILENAME set per file, got %q", out)
	}
}

func TestNextfile(t *testing.T) {
	f1 := writeTempFile(t, "f1", "a\nx\n")
	f2 := writeTempFile(t, "f2", "b\ny\n")
	config := &interp.Config{CatchFormatErrors: true, Args: []string{f1, f2}}
	out := testAwk(t, `FNR == 1 { print $1; nextfile }`, "", config)
	if out != "a\nb\n" {
		t.Errorf("expected first line of each file, got %q", out)
	}
}

func TestDeferredAssignments(t *testing.T) {
	f1 := writeTempFile(t, "f1", "1\n")
	f2 := writeTempFile(t, "f2", "2\n")
	config := &interp.Config{
		CatchFormatErrors: true,
		Args:              []string{f1, "x=42", f2},
	}
	out := testAwk(t, `{ print x "|" $0 }`, "", config)
	if out != "|1\n42|2\n" {
		t.Errorf("expected deferred assignment between files, got %q", out)
	}
}

func TestGetlineFile(t *testing.T) {
	f := writeTempFile(t, "data", "l1\nl2\n")
	config := &interp.Config{
		CatchFormatErrors: true,
		Vars:              []interp.VarAssign{{Name: "file", Value: f}},
	}
	src := `BEGIN { while ((getline line < file) > 0) print "got", line }`
	out := testAwk(t, src, "", config)
	if out != "got l1\ngot l2\n" {
		t.Errorf("expected getline lines, got %q", out)
	}

	// Missing file: getline returns -1, not an error
	config = &interp.Config{
		CatchFormatErrors: true,
		Vars:              []interp.VarAssign{{Name: "file", Value: filepath.Join(t.TempDir(), "nope")}},
	}
	out = testAwk(t, `BEGIN { print (getline line < file) }`, "", config)
	if out != "-1\n" {
		t.Errorf("expected -1 for missing file, got %q", out)
	}
}

func TestGetlineMainInput(t *testing.T) {
	out := testAwk(t, `NR == 1 { getline; print $1, NR }`, "a\nb\n", nil)
	if out != "b 2\n" {
		t.Errorf("expected getline to advance main input, got %q", out)
	}

	out = testAwk(t, `NR == 1 { getline line; print line, $1, NR }`, "a\nb\n", nil)
	if out != "b a 2\n" {
		t.Errorf("expected getline var to leave $0 alone, got %q", out)
	}
}

func TestPipes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell commands not tested on Windows")
	}
	config := &interp.Config{CatchFormatErrors: true, Shell: "/bin/sh"}
	out := testAwk(t, `BEGIN { "echo hello" | getline line; print line }`, "", config)
	if out != "hello\n" {
		t.Errorf("expected pipe getline, got %q", out)
	}

	config = &interp.Config{CatchFormatErrors: true, Shell: "/bin/sh"}
	out = testAwk(t, `BEGIN { status = system("exit 3"); print status }`, "", config)
	if out != "3\n" {
		t.Errorf("expected system exit code, got %q", out)
	}
}

func TestOutputRedirect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	config := &interp.Config{
		CatchFormatErrors: true,
		Vars:              []interp.VarAssign{{Name: "f", Value: path}},
	}
	testAwk(t, `BEGIN { print "one" > f; print "two" > f; close(f) }`, "", config)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "one\ntwo\n" {
		t.Errorf("expected redirected output, got %q", string(content))
	}
}

func TestSortedArrays(t *testing.T) {
	src := `BEGIN { a["b"] = 1; a["a"] = 2; a["c"] = 3; for (k in a) print k }`

	out := testAwk(t, src, "", &interp.Config{CatchFormatErrors: true})
	if out != "b\na\nc\n" {
		t.Errorf("expected insertion order, got %q", out)
	}

	out = testAwk(t, src, "", &interp.Config{CatchFormatErrors: true, SortedArrays: true})
	if out != "a\nb\nc\n" {
		t.Errorf("expected sorted order, got %q", out)
	}
}

func TestNoInput(t *testing.T) {
	// -ni: main rules don't consume stdin; END still runs
	out := testAwk(t, `{ print "rule" } END { print "end" }`, "x\n",
		&interp.Config{CatchFormatErrors: true, NoInput: true})
	if out != "end\n" {
		t.Errorf("expected rules to be skipped with NoInput, got %q", out)
	}
}

func TestCastBuiltins(t *testing.T) {
	parserConfig := &parser.Config{TypeFunctions: true}
	prog := compile(t, `BEGIN { print _INTEGER("3.7"), _DOUBLE("2.5"), _STRING(4) "|" }`, parserConfig)
	var buf bytes.Buffer
	_, err := interp.ExecProgram(prog, &interp.Config{
		CatchFormatErrors: true,
		Output:            &buf,
		Error:             &buf,
	})
	if err != nil {
		t.Fatalf("execute error: %s", err)
	}
	if buf.String() != "3 2.5 4|\n" {
		t.Errorf("expected cast results, got %q", buf.String())
	}
}

func TestExtensionCall(t *testing.T) {
	registry := ext.NewRegistry(os.Stderr)
	err := registry.Register(&ext.Extension{
		Name:     "reverse",
		Keywords: []ext.Keyword{{Name: "Reverse", MinArgs: 1, MaxArgs: 1}},
		Invoke: func(keyword string, args []interface{}) (interface{}, error) {
			s := args[0].(string)
			runes := []rune(s)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			return string(runes), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	parserConfig := &parser.Config{Extensions: map[string]parser.ExtensionInfo{}}
	for name, kw := range registry.Keywords() {
		parserConfig.Extensions[name] = parser.ExtensionInfo{MinArgs: kw.MinArgs, MaxArgs: kw.MaxArgs}
	}
	prog := compile(t, `BEGIN { print Reverse("abc") }`, parserConfig)
	var buf bytes.Buffer
	_, err = interp.ExecProgram(prog, &interp.Config{
		CatchFormatErrors: true,
		Output:            &buf,
		Error:             &buf,
		Extensions:        registry,
	})
	if err != nil {
		t.Fatalf("execute error: %s", err)
	}
	if buf.String() != "cba\n" {
		t.Errorf("expected reversed string, got %q", buf.String())
	}
}
