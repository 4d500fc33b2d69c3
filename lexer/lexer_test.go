// Test Jawk lexer

package lexer_test

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	. "github.com/MetricsHub/jawk/lexer"
)

func lexAll(input string) string {
	l := NewLexer([]byte(input))
	strs := []string{}
	for {
		pos, tok, val := l.Scan()
		if tok == EOF {
			break
		}
		strs = append(strs, fmt.Sprintf("%d:%d %s %s", pos.Line, pos.Column, tok, val))
		if tok == ILLEGAL {
			break
		}
	}
	return strings.Join(strs, ", ")
}

func TestNumber(t *testing.T) {
	tests := []struct {
		input  string
		output string
	}{
		{"0", "1:1 <number> 0"},
		{"9", "1:1 <number> 9"},
		{" 0 ", "1:2 <number> 0"},
		{"\n  1", "1:1 <newline> , 2:3 <number> 1"},
		{"1234", "1:1 <number> 1234"},
		{".5", "1:1 <number> .5"},
		{".5e1", "1:1 <number> .5e1"},
		{"5e+1", "1:1 <number> 5e+1"},
		{"5e-1", "1:1 <number> 5e-1"},
		{"0.", "1:1 <number> 0."},
		{"1e3foo", "1:1 <number> 1e3, 1:4 <name> foo"},
		{"1e3.4", "1:1 <number> 1e3, 1:4 <number> .4"},
		// An exponent with no digits isn't part of the number
		{"42e", "1:1 <number> 42, 1:3 <name> e"},
		{"4.2em", "1:1 <number> 4.2, 1:4 <name> em"},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			l := NewLexer([]byte(test.input))
			strs := []string{}
			for {
				pos, tok, val := l.Scan()
				if tok == EOF {
					break
				}
				if tok == NUMBER {
					// Ensure ParseFloat() works, as that's what our
					// parser uses to convert
					_, err := strconv.ParseFloat(val, 64)
					if err != nil {
						t.Fatalf("couldn't parse float: %q", val)
					}
				}
				strs = append(strs, fmt.Sprintf("%d:%d %s %s", pos.Line, pos.Column, tok, val))
			}
			output := strings.Join(strs, ", ")
			if output != test.output {
				t.Errorf("expected %q, got %q", test.output, output)
			}
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		input string
		value string
	}{
		{`"foo"`, "foo"},
		{`""`, ""},
		{`"\\"`, "\\"},
		{`"\a"`, "\a"},
		{`"\b"`, "\b"},
		{`"\f"`, "\f"},
		{`"\n"`, "\n"},
		{`"\r"`, "\r"},
		{`"\t"`, "\t"},
		{`"\v"`, "\v"},
		{`"\""`, "\""},
		{`"\/"`, "/"},
		{`"\33"`, "\x1b"},
		{`"\1!"`, "\x01!"},
		{`"\19"`, "\x019"},
		{`"\38"`, "\x038"},
		{`"\132"`, "Z"},
		{`"\1320"`, "Z0"},
		{`"\x1B"`, "\x1b"},
		{`"\x1b"`, "\x1b"},
		{`"\x1!"`, "\x01!"},
		{`"\x1G"`, "\x01G"},
		{`"\x21A"`, "!A"},
		{`"\x!"`, "x!"},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			l := NewLexer([]byte(test.input))
			_, tok, val := l.Scan()
			if tok != STRING {
				t.Fatalf("expected <string>, got %s (%q)", tok, val)
			}
			if val != test.value {
				t.Errorf("expected %q, got %q", test.value, val)
			}
			_, tok, _ = l.Scan()
			if tok != EOF {
				t.Errorf("expected EOF after string, got %s", tok)
			}
		})
	}
}

func TestStringErrors(t *testing.T) {
	tests := []string{
		`"unfinished`,
		"\"unfinished\n\"",
		`"foo\0`,
		"\"foo\\0\n\"",
		`"foo\xF`,
		"\"foo\\xf\n\"",
		`"foo\q"`,
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			l := NewLexer([]byte(input))
			_, tok, val := l.Scan()
			if tok != ILLEGAL {
				t.Fatalf("expected <illegal>, got %s (%q)", tok, val)
			}
		})
	}
}

func TestSymbolsAndKeywords(t *testing.T) {
	input := "# comment line\n" +
		"+ += && = : , -- / /= $ == >= > >> ++ { [ < ( " +
		"<= ~ % %= * *= !~ ! != | || ^ ^= ? } ] ) ; - -= " +
		"BEGIN break continue delete do else END exit " +
		"for function getline if in next nextfile print printf return while " +
		"atan2 close cos exp fflush gsub index int length log match rand " +
		"sin split sprintf sqrt srand sub substr system tolower toupper " +
		"x"
	expected := "<newline> " +
		"+ += && = : , -- / /= $ == >= > >> ++ { [ < ( " +
		"<= ~ % %= * *= !~ ! != | || ^ ^= ? } ] ) ; - -= " +
		"BEGIN break continue delete do else END exit " +
		"for function getline if in next nextfile print printf return while " +
		"atan2 close cos exp fflush gsub index int length log match rand " +
		"sin split sprintf sqrt srand sub substr system tolower toupper " +
		"<name> EOF"

	l := NewLexer([]byte(input))
	strs := []string{}
	for {
		_, tok, _ := l.Scan()
		strs = append(strs, tok.String())
		if tok == EOF {
			break
		}
	}
	output := strings.Join(strs, " ")
	if output != expected {
		t.Errorf("expected %q, got %q", expected, output)
	}
}

func TestRegex(t *testing.T) {
	l := NewLexer([]byte(`/foo/`))
	_, tok1, _ := l.Scan()
	_, tok2, val := l.ScanRegex()
	if tok1 != DIV || tok2 != REGEX || val != "foo" {
		t.Errorf(`expected / regex "foo", got %s %s %q`, tok1, tok2, val)
	}

	l = NewLexer([]byte(`/=foo/`))
	_, tok1, _ = l.Scan()
	_, tok2, val = l.ScanRegex()
	if tok1 != DIV_ASSIGN || tok2 != REGEX || val != "=foo" {
		t.Errorf(`expected /= regex "=foo", got %s %s %q`, tok1, tok2, val)
	}

	l = NewLexer([]byte(`/a\/b/`))
	l.Scan()
	_, tok, val := l.ScanRegex()
	if tok != REGEX || val != "a/b" {
		t.Errorf(`expected regex "a/b", got %s %q`, tok, val)
	}

	l = NewLexer([]byte(`/a\.b/`))
	l.Scan()
	_, tok, val = l.ScanRegex()
	if tok != REGEX || val != `a\.b` {
		t.Errorf(`expected regex "a\.b", got %s %q`, tok, val)
	}

	l = NewLexer([]byte("/unterminated"))
	l.Scan()
	_, tok, _ = l.ScanRegex()
	if tok != ILLEGAL {
		t.Errorf("expected <illegal> for unterminated regex, got %s", tok)
	}
}

func TestLineContinuation(t *testing.T) {
	output := lexAll("1 \\\n 2")
	expected := "1:1 <number> 1, 2:2 <number> 2"
	if output != expected {
		t.Errorf("expected %q, got %q", expected, output)
	}
}

func TestPeekByte(t *testing.T) {
	l := NewLexer([]byte("foo(x)"))
	_, tok, val := l.Scan()
	if tok != NAME || val != "foo" {
		t.Fatalf("expected name foo, got %s %q", tok, val)
	}
	if l.PeekByte() != '(' {
		t.Errorf("expected PeekByte '(', got %q", l.PeekByte())
	}

	l = NewLexer([]byte("foo (x)"))
	l.Scan()
	if l.PeekByte() == '(' {
		t.Errorf("expected PeekByte to see the space, got '('")
	}
}

func TestKeywordToken(t *testing.T) {
	if KeywordToken("print") != PRINT {
		t.Errorf("expected print keyword")
	}
	if KeywordToken("foo") != ILLEGAL {
		t.Errorf("expected ILLEGAL for non-keyword")
	}
}
