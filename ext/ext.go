// Package ext implements the extension mechanism: external
// collaborators declare keywords and an invoke function, and the
// interpreter dispatches registered keywords to them at run time
// (the parser validates their arity at parse time).
//
// An extension is a plain value, not an interface hierarchy: a name,
// a keyword list, and an Invoke function.
package ext

import (
	"fmt"
	"io"
	"strings"
)

// Keyword declares one keyword an extension provides and the number
// of arguments it accepts (MaxArgs of -1 means variadic).
type Keyword struct {
	Name    string
	MinArgs int
	MaxArgs int
}

// Extension is one extension module. Invoke is called with the
// keyword used and the argument values, each a float64 or string;
// it returns a float64, a string, or nil (treated as uninitialised).
type Extension struct {
	Name     string
	Keywords []Keyword
	Invoke   func(keyword string, args []interface{}) (interface{}, error)
}

// Registry maps extension keywords to their providers. Registering
// the same extension name twice warns and skips; two extensions
// claiming the same keyword is an error.
type Registry struct {
	byName    map[string]*Extension
	byKeyword map[string]*Extension
	keywords  map[string]Keyword
	warnings  io.Writer
}

// NewRegistry creates an empty registry; warnings (duplicate
// registrations, unknown names in the enable list) go to w.
func NewRegistry(w io.Writer) *Registry {
	return &Registry{
		byName:    make(map[string]*Extension),
		byKeyword: make(map[string]*Extension),
		keywords:  make(map[string]Keyword),
		warnings:  w,
	}
}

// Register adds an extension to the registry.
func (r *Registry) Register(e *Extension) error {
	if _, ok := r.byName[e.Name]; ok {
		fmt.Fprintf(r.warnings, "extension %q registered more than once, skipping\n", e.Name)
		return nil
	}
	for _, kw := range e.Keywords {
		if prev, ok := r.byKeyword[kw.Name]; ok {
			return fmt.Errorf("keyword collision: %q provided by both %q and %q",
				kw.Name, prev.Name, e.Name)
		}
	}
	r.byName[e.Name] = e
	for _, kw := range e.Keywords {
		r.byKeyword[kw.Name] = e
		r.keywords[kw.Name] = kw
	}
	return nil
}

// Enabled returns a registry restricted to the extensions named in
// the configuration string (a '#'-separated list, the same format
// the original reads from the process-wide property). An empty
// config enables everything registered. Unknown names warn.
func (r *Registry) Enabled(config string) *Registry {
	if strings.TrimSpace(config) == "" {
		return r
	}
	enabled := NewRegistry(r.warnings)
	for _, name := range strings.Split(config, "#") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		e, ok := r.byName[name]
		if !ok {
			fmt.Fprintf(r.warnings, "unknown extension %q in extension list\n", name)
			continue
		}
		// Register reports duplicates in the list itself.
		err := enabled.Register(e)
		if err != nil {
			fmt.Fprintf(r.warnings, "%v\n", err)
		}
	}
	return enabled
}

// Lookup finds the extension providing the given keyword.
func (r *Registry) Lookup(keyword string) (*Extension, bool) {
	e, ok := r.byKeyword[keyword]
	return e, ok
}

// Keywords returns the declared arity of every registered keyword,
// for parse-time validation.
func (r *Registry) Keywords() map[string]Keyword {
	kws := make(map[string]Keyword, len(r.keywords))
	for name, kw := range r.keywords {
		kws[name] = kw
	}
	return kws
}
