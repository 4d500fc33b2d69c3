package interp

import (
	"bytes"
	"fmt"
)

// FormatError is returned for printf/sprintf format mismatches:
// unknown conversion verbs or too few arguments. It's suppressible
// with the CatchFormatErrors configuration (the bad format string is
// then written out literally instead).
type FormatError struct {
	message string
}

func (e *FormatError) Error() string {
	return e.message
}

func newFormatError(format string, args ...interface{}) error {
	return &FormatError{fmt.Sprintf(format, args...)}
}

func sprintfFloat(floatFormat string, n float64) string {
	return fmt.Sprintf(floatFormat, n)
}

// parseFmtTypes parses the AWK format string and returns a Go format
// string with one type byte per conversion: 'd' for ints, 'u' for
// unsigned, 'f' for floats, 's' for strings, 'c' for the character
// conversion. '*' width/precision args consume an int each.
func parseFmtTypes(s string) (format string, types []byte, err error) {
	out := []byte(s)
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		i++
		if i >= len(s) {
			return "", nil, newFormatError("expected type specifier after %%")
		}
		if s[i] == '%' {
			continue
		}
		for i < len(s) && bytes.IndexByte([]byte(".-+* #0123456789"), s[i]) >= 0 {
			if s[i] == '*' {
				types = append(types, 'd')
			}
			i++
		}
		if i >= len(s) {
			return "", nil, newFormatError("expected type specifier after %%")
		}
		var t byte
		switch s[i] {
		case 'd', 'i':
			t = 'd'
			out[i] = 'd'
		case 'o', 'x', 'X':
			t = 'd'
		case 'u':
			t = 'u'
			out[i] = 'd'
		case 'c':
			t = 'c'
			out[i] = 's'
		case 'e', 'E', 'f', 'F', 'g', 'G':
			t = 'f'
		case 's':
			t = 's'
		default:
			return "", nil, newFormatError("invalid format type %q", s[i])
		}
		types = append(types, t)
	}
	return string(out), types, nil
}

// sprintf renders an AWK printf format string against the given
// argument values. Argument/format mismatches return a *FormatError.
func (p *interp) sprintf(format string, args []value) (string, error) {
	goFormat, types, err := parseFmtTypes(format)
	if err != nil {
		return "", err
	}
	if len(types) > len(args) {
		return "", newFormatError("format error: got %d args, expected %d", len(args), len(types))
	}
	converted := make([]interface{}, len(types))
	for i, t := range types {
		a := args[i]
		var v interface{}
		switch t {
		case 'd':
			v = int(a.num())
		case 'u':
			v = uint32(a.num())
		case 'c':
			var c []byte
			if a.isTrueStr() {
				s := p.toString(a)
				if len(s) > 0 {
					c = []byte{s[0]}
				} else {
					c = []byte{0}
				}
			} else {
				c = []byte(string([]rune{rune(a.num())}))
			}
			v = c
		case 'f':
			v = a.num()
		case 's':
			v = p.toString(a)
		}
		converted[i] = v
	}
	return fmt.Sprintf(goFormat, converted...), nil
}

// sprintfCaught applies the catch-format-errors policy: with
// catching on (the default; -r turns it off), a bad format renders
// the format string literally rather than aborting the program.
func (p *interp) sprintfCaught(format string, args []value) (string, error) {
	s, err := p.sprintf(format, args)
	if err != nil {
		if _, ok := err.(*FormatError); ok && p.catchFormatErrors {
			return format, nil
		}
		return "", err
	}
	return s, nil
}
