// Test Jawk parser

package parser_test

import (
	"strings"
	"testing"

	"github.com/MetricsHub/jawk/parser"
)

// parse is a helper that parses source and returns the program's
// string form with whitespace normalized to single spaces.
func parse(t *testing.T, src string) string {
	t.Helper()
	prog, err := parser.ParseProgram([]byte(src), nil)
	if err != nil {
		t.Fatalf("parse error: %s", err)
	}
	return strings.Join(strings.Fields(prog.String()), " ")
}

func parseError(t *testing.T, src string) string {
	t.Helper()
	_, err := parser.ParseProgram([]byte(src), nil)
	if err == nil {
		t.Fatalf("expected parse error for %q", src)
	}
	return err.Error()
}

func TestRules(t *testing.T) {
	tests := []struct {
		src    string
		output string
	}{
		{`BEGIN { print "x" }`, `BEGIN { print "x" }`},
		{`END { print "x" }`, `END { print "x" }`},
		{`{ print }`, `{ print }`},
		{`$1 == "a" { print $2 }`, `($1 == "a") { print $2 }`},
		{`NR == 1, NR == 3 { print }`, `(NR == 1), (NR == 3) { print }`},
		{`/foo/ { print }`, `/foo/ { print }`},
		{`$1 ~ /foo/`, `($1 ~ "foo")`},
	}
	for _, test := range tests {
		t.Run(test.src, func(t *testing.T) {
			output := parse(t, test.src)
			if output != test.output {
				t.Errorf("expected %q, got %q", test.output, output)
			}
		})
	}
}

func TestExpressions(t *testing.T) {
	tests := []struct {
		src    string
		output string
	}{
		{`BEGIN { x = 1 + 2 * 3 }`, `BEGIN { x = (1 + (2 * 3)) }`},
		{`BEGIN { x = (1 + 2) * 3 }`, `BEGIN { x = (((1 + 2)) * 3) }`},
		{`BEGIN { x = -2 ^ 2 }`, `BEGIN { x = -(2 ^ 2) }`},
		{`BEGIN { x = a b }`, `BEGIN { x = (a b) }`},
		{`BEGIN { x = a "x" < "y" }`, `BEGIN { x = ((a "x") < "y") }`},
		{`BEGIN { x = 1 < 2 ? "a" : "b" }`, `BEGIN { x = ((1 < 2) ? "a" : "b") }`},
		{`BEGIN { x += 5 }`, `BEGIN { x += 5 }`},
		{`BEGIN { x = y = 3 }`, `BEGIN { x = y = 3 }`},
		{`BEGIN { x = a[1, 2] }`, `BEGIN { x = a[1, 2] }`},
		{`BEGIN { if ((1, 2) in a) print }`, `BEGIN { if ((1, 2) in a) { print } }`},
		{`BEGIN { x = $1++ }`, `BEGIN { x = $1++ }`},
		{`BEGIN { x = !y }`, `BEGIN { x = !y }`},
		{`BEGIN { x = y ~ /re/ }`, `BEGIN { x = (y ~ "re") }`},
		{`BEGIN { x = substr("ab", 1) }`, `BEGIN { x = substr("ab", 1) }`},
		{`BEGIN { x = length }`, `BEGIN { x = length() }`},
	}
	for _, test := range tests {
		t.Run(test.src, func(t *testing.T) {
			output := parse(t, test.src)
			if output != test.output {
				t.Errorf("expected %q, got %q", test.output, output)
			}
		})
	}
}

func TestStatements(t *testing.T) {
	tests := []string{
		`BEGIN { if (x) { print "a" } else { print "b" } }`,
		`BEGIN { while (x < 10) { x++ } }`,
		`BEGIN { do { x++ } while (x < 10) }`,
		`BEGIN { for (i = 0; i < 10; i++) { print i } }`,
		`BEGIN { for (k in a) { print k } }`,
		`BEGIN { for (;;) { break } }`,
		`{ next }`,
		`{ nextfile }`,
		`BEGIN { exit 2 }`,
		`BEGIN { delete a[1] }`,
		`BEGIN { delete a }`,
		`BEGIN { print > "file" }`,
		`BEGIN { print "x" >> "file" }`,
		`BEGIN { print "x" | "sort" }`,
		`BEGIN { printf "%d\n", 42 }`,
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			parse(t, src) // must not error
		})
	}
}

func TestNewlineContinuation(t *testing.T) {
	// Newlines are allowed (and ignored) after these tokens.
	tests := []string{
		"BEGIN { if (0 ||\n 1) printf \"ok\" }",
		"BEGIN { if (1 &&\n 1) printf \"ok\" }",
		"BEGIN { printf 1 ?\n\"a\" : \"b\" }",
		"BEGIN { printf 1 ? \"a\" :\n\"b\" }",
		"BEGIN { printf(\"%s\",\n\"ok\") }",
		"BEGIN { do\n printf \"ok\"; while (0) }",
		"BEGIN { if (0) { printf \"no\" } else\n printf \"ok\" }",
		"BEGIN {\nprint \"ok\"\n}",
		"BEGIN { x = 1;\ny = 2 }",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			parse(t, src)
		})
	}
}

func TestFunctions(t *testing.T) {
	output := parse(t, "function add(a, b) { return a + b }\nBEGIN { print add(1, 2) }")
	if !strings.Contains(output, "function add(a, b) { return (a + b) }") {
		t.Errorf("unexpected function output: %q", output)
	}

	tests := []struct {
		src   string
		error string
	}{
		{`function f(x, x) {}`, "duplicate parameter name"},
		{`function f(f) {}`, "can't use function name as parameter name"},
		{`function if(x) {}`, "expected function name"},
		{`BEGIN { return 1 }`, "return must be inside a function"},
	}
	for _, test := range tests {
		t.Run(test.src, func(t *testing.T) {
			errStr := parseError(t, test.src)
			if !strings.Contains(errStr, test.error) {
				t.Errorf("expected error containing %q, got %q", test.error, errStr)
			}
		})
	}
}

func TestGetline(t *testing.T) {
	tests := []struct {
		src    string
		output string
	}{
		{`{ getline }`, `{ getline }`},
		{`{ getline line }`, `{ getline line }`},
		{`{ getline < "file" }`, `{ getline <"file" }`},
		{`{ getline line < "file" }`, `{ getline line <"file" }`},
		{`{ "cmd" | getline }`, `{ "cmd" |getline }`},
		{`{ "cmd" | getline line }`, `{ "cmd" |getline line }`},
	}
	for _, test := range tests {
		t.Run(test.src, func(t *testing.T) {
			output := parse(t, test.src)
			if output != test.output {
				t.Errorf("expected %q, got %q", test.output, output)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src   string
		error string
	}{
		{`BEGIN {`, "expected }"},
		{`BEGIN { x = }`, "expected expression"},
		{`BEGIN { break }`, "break must be inside a loop"},
		{`BEGIN { continue }`, "continue must be inside a loop"},
		{`function f() { next }`, "next can't be inside a function"},
		{`BEGIN { x = 1 print "x" }`, "expected ; or newline"},
		{`BEGIN { printf }`, "expected printf args"},
		{"BEGIN { printf \"unfinished", "lexer error"},
		{`!@#$`, "unexpected char"},
	}
	for _, test := range tests {
		t.Run(test.src, func(t *testing.T) {
			errStr := parseError(t, test.src)
			if !strings.Contains(errStr, test.error) {
				t.Errorf("expected error containing %q, got %q", test.error, errStr)
			}
		})
	}
}

func TestErrorPosition(t *testing.T) {
	errStr := parseError(t, "BEGIN {\n    x = \n}")
	if !strings.Contains(errStr, "3:1") {
		t.Errorf("expected error at 3:1, got %q", errStr)
	}
}

func TestExtensionKeywords(t *testing.T) {
	config := &parser.Config{
		Extensions: map[string]parser.ExtensionInfo{
			"DNSLookup": {MinArgs: 1, MaxArgs: 2},
		},
	}
	_, err := parser.ParseProgram([]byte(`BEGIN { x = DNSLookup("host") }`), config)
	if err != nil {
		t.Errorf("expected extension call to parse, got %s", err)
	}
	_, err = parser.ParseProgram([]byte(`BEGIN { x = DNSLookup() }`), config)
	if err == nil {
		t.Errorf("expected arity error for DNSLookup()")
	}

	// Without -x, _sleep is an ordinary call; with it, arity checks
	_, err = parser.ParseProgram([]byte(`BEGIN { _sleep(1, 2) }`), &parser.Config{ExtraFunctions: true})
	if err == nil {
		t.Errorf("expected arity error for _sleep(1, 2)")
	}
	_, err = parser.ParseProgram([]byte(`BEGIN { _sleep(1) }`), &parser.Config{ExtraFunctions: true})
	if err != nil {
		t.Errorf("expected _sleep(1) to parse, got %s", err)
	}
}
