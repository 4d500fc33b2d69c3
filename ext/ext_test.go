package ext_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MetricsHub/jawk/ext"
)

func testExtension(name string, keywords ...string) *ext.Extension {
	kws := make([]ext.Keyword, len(keywords))
	for i, kw := range keywords {
		kws[i] = ext.Keyword{Name: kw, MinArgs: 0, MaxArgs: -1}
	}
	return &ext.Extension{
		Name:     name,
		Keywords: kws,
		Invoke: func(keyword string, args []interface{}) (interface{}, error) {
			return keyword, nil
		},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	var warnings bytes.Buffer
	r := ext.NewRegistry(&warnings)
	err := r.Register(testExtension("net", "DNSLookup", "HostName"))
	if err != nil {
		t.Fatal(err)
	}
	e, ok := r.Lookup("DNSLookup")
	if !ok || e.Name != "net" {
		t.Errorf("expected to find DNSLookup in net extension")
	}
	if _, ok := r.Lookup("NoSuch"); ok {
		t.Errorf("unexpected lookup hit")
	}
	kws := r.Keywords()
	if len(kws) != 2 {
		t.Errorf("expected 2 keywords, got %d", len(kws))
	}
}

func TestDuplicateRegistrationWarns(t *testing.T) {
	var warnings bytes.Buffer
	r := ext.NewRegistry(&warnings)
	if err := r.Register(testExtension("net", "DNSLookup")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(testExtension("net", "Other")); err != nil {
		t.Fatalf("duplicate registration must not error: %v", err)
	}
	if !strings.Contains(warnings.String(), "more than once") {
		t.Errorf("expected duplicate warning, got %q", warnings.String())
	}
	// The duplicate's keywords aren't registered
	if _, ok := r.Lookup("Other"); ok {
		t.Errorf("duplicate extension's keywords must be skipped")
	}
}

func TestKeywordCollisionErrors(t *testing.T) {
	var warnings bytes.Buffer
	r := ext.NewRegistry(&warnings)
	if err := r.Register(testExtension("a", "Shared")); err != nil {
		t.Fatal(err)
	}
	err := r.Register(testExtension("b", "Shared"))
	if err == nil || !strings.Contains(err.Error(), "keyword collision") {
		t.Errorf("expected keyword collision error, got %v", err)
	}
}

func TestEnabledFilter(t *testing.T) {
	var warnings bytes.Buffer
	r := ext.NewRegistry(&warnings)
	if err := r.Register(testExtension("a", "KeyA")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(testExtension("b", "KeyB")); err != nil {
		t.Fatal(err)
	}

	// Empty config enables everything
	all := r.Enabled("")
	if _, ok := all.Lookup("KeyA"); !ok {
		t.Errorf("expected KeyA enabled with empty config")
	}

	// '#'-separated list restricts
	only := r.Enabled("a")
	if _, ok := only.Lookup("KeyA"); !ok {
		t.Errorf("expected KeyA enabled")
	}
	if _, ok := only.Lookup("KeyB"); ok {
		t.Errorf("expected KeyB disabled")
	}

	// Unknown names warn but don't fail
	r.Enabled("a#nosuch")
	if !strings.Contains(warnings.String(), "unknown extension") {
		t.Errorf("expected unknown-extension warning, got %q", warnings.String())
	}
}
