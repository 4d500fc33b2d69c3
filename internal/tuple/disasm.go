package tuple

import (
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Disassemble writes a human-readable listing of the tuple program
// (the -s command-line switch).
func (p *Program) Disassemble(w io.Writer) error {
	// Build an index -> label map so segment starts are visible.
	labels := make(map[int][]string)
	addLabel := func(a *Address) {
		if a != nil {
			labels[a.Index] = append(labels[a.Index], a.Label)
		}
	}
	addLabel(p.Begin)
	for _, rule := range p.Rules {
		for _, pat := range rule.Pattern {
			addLabel(pat)
		}
		addLabel(rule.Body)
	}
	addLabel(p.End)
	for _, f := range p.Functions {
		addLabel(f.Entry)
	}

	for i, t := range p.Tuples {
		for _, label := range labels[i] {
			_, err := fmt.Fprintf(w, "%s:\n", label)
			if err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, "%04d  %s%s\n", i, t.Op, operandString(t))
		if err != nil {
			return err
		}
	}

	if len(p.Scalars) > 0 {
		fmt.Fprintln(w, "\nglobals:")
		names := make([]string, 0, len(p.Scalars))
		for name := range p.Scalars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "    %s -> %d\n", name, p.Scalars[name])
		}
	}
	if len(p.Arrays) > 0 {
		fmt.Fprintln(w, "\narrays:")
		names := make([]string, 0, len(p.Arrays))
		for name := range p.Arrays {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "    %s -> %d\n", name, p.Arrays[name])
		}
	}
	return nil
}

func operandString(t Tuple) string {
	s := ""
	switch t.Op {
	case PushNum:
		s += " " + formatNum(t.Num)
	case PushStr, Regex, ExtCall:
		s += " " + strconv.Quote(t.Str)
	}
	switch t.Op {
	case LoadGlobal, StoreGlobal, LoadLocal, StoreLocal, LoadSpecial, StoreSpecial,
		LoadArray, StoreArray, PushArrayRef, In, Delete, DeleteAll, ForInStart,
		ForInNext, IndexMulti, Call, CallSplit, CallSplitSep, CallSprintf,
		CallSleep, CallDump, ExtCall, Print, Printf, Getline, GetlineField,
		GetlineVar, GetlineArray, Exit:
		s += fmt.Sprintf(" %d %d %d", t.Int1, t.Int2, t.Int3)
	}
	if t.Addr != nil {
		s += " -> " + t.Addr.String()
	}
	return s
}

func formatNum(n float64) string {
	if n == float64(int(n)) {
		return strconv.Itoa(int(n))
	}
	return fmt.Sprintf("%.6g", n)
}
