package tuple

import "fmt"

// PostProcess walks every tuple after lowering: it assigns each
// tuple its next index and checks every address operand, returning
// an error if an address was left unresolved during lowering or a
// jump target is out of range. The AVM assumes these invariants.
func PostProcess(p *Program) error {
	n := len(p.Tuples)
	for i := range p.Tuples {
		t := &p.Tuples[i]
		t.Next = i + 1
		if t.Addr == nil {
			continue
		}
		if !t.Addr.Assigned() {
			return fmt.Errorf("unresolved address %q referenced by tuple %d (%s)",
				t.Addr.Label, i, t.Op)
		}
		if t.Addr.Index < 0 || t.Addr.Index > n {
			return fmt.Errorf("address %s referenced by tuple %d (%s) out of range [0, %d]",
				t.Addr, i, t.Op, n)
		}
	}
	check := func(kind string, a *Address) error {
		if a == nil {
			return nil
		}
		if !a.Assigned() || a.Index < 0 || a.Index >= n {
			return fmt.Errorf("%s entry address %s invalid", kind, a)
		}
		return nil
	}
	if err := check("BEGIN", p.Begin); err != nil {
		return err
	}
	for _, rule := range p.Rules {
		for _, pat := range rule.Pattern {
			if err := check("pattern", pat); err != nil {
				return err
			}
		}
		if err := check("rule body", rule.Body); err != nil {
			return err
		}
	}
	if err := check("END", p.End); err != nil {
		return err
	}
	for _, f := range p.Functions {
		if err := check("function "+f.Name, f.Entry); err != nil {
			return err
		}
	}
	return nil
}
