package interp

import (
	"strings"
	"testing"
)

func TestParseFmtTypes(t *testing.T) {
	tests := []struct {
		format string
		out    string
		types  string
	}{
		{"plain", "plain", ""},
		{"%d", "%d", "d"},
		{"%i", "%d", "d"},
		{"%o|%x|%X", "%o|%x|%X", "ddd"},
		{"%u", "%d", "u"},
		{"%c", "%s", "c"},
		{"%e %E %f %g %G", "%e %E %f %g %G", "fffff"},
		{"%s", "%s", "s"},
		{"%%", "%%", ""},
		{"%5.2f", "%5.2f", "f"},
		{"%-10s", "%-10s", "s"},
		{"%*d", "%*d", "dd"},
	}
	for _, test := range tests {
		out, types, err := parseFmtTypes(test.format)
		if err != nil {
			t.Errorf("%q: unexpected error %s", test.format, err)
			continue
		}
		if out != test.out || string(types) != test.types {
			t.Errorf("%q: expected (%q, %q), got (%q, %q)",
				test.format, test.out, test.types, out, string(types))
		}
	}
}

func TestParseFmtTypesErrors(t *testing.T) {
	for _, format := range []string{"%", "%z", "%5", "abc%"} {
		_, _, err := parseFmtTypes(format)
		if err == nil {
			t.Errorf("%q: expected error", format)
		}
		if _, ok := err.(*FormatError); err != nil && !ok {
			t.Errorf("%q: expected *FormatError, got %T", format, err)
		}
	}
}

func TestSprintfCaught(t *testing.T) {
	p := &interp{catchFormatErrors: true, convertFormat: "%.6g"}
	out, err := p.sprintfCaught("%z", []value{num(1)})
	if err != nil {
		t.Fatalf("expected suppressed error, got %s", err)
	}
	if out != "%z" {
		t.Errorf("expected literal format, got %q", out)
	}

	p.catchFormatErrors = false
	_, err = p.sprintfCaught("%z", []value{num(1)})
	if err == nil || !strings.Contains(err.Error(), "invalid format type") {
		t.Errorf("expected format error, got %v", err)
	}
}
