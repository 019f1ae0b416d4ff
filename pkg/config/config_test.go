package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParamValuesSet(t *testing.T) {
	var p ParamValues
	for _, arg := range []string{"R0=100", "C1=1e-6", "R0=120"} {
		if err := p.Set(arg); err != nil {
			t.Fatalf("Set(%q): %v", arg, err)
		}
	}
	want := ParamValues{"R0": 120, "C1": 1e-6}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestParamValuesSetRejectsMalformed(t *testing.T) {
	var p ParamValues
	for _, arg := range []string{"R0", "R0=abc"} {
		if err := p.Set(arg); err == nil {
			t.Errorf("Set(%q): expected error", arg)
		}
	}
}

func TestParamBoundsSet(t *testing.T) {
	var b ParamBounds
	if err := b.Set("R0=0:1e6"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.Set("CPE1_a=0.5:1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	want := ParamBounds{"R0": {0, 1e6}, "CPE1_a": {0.5, 1}}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Errorf("bounds mismatch (-want +got):\n%s", diff)
	}
}

func TestParamBoundsSetRejectsMalformed(t *testing.T) {
	var b ParamBounds
	for _, arg := range []string{"R0", "R0=1", "R0=a:b"} {
		if err := b.Set(arg); err == nil {
			t.Errorf("Set(%q): expected error", arg)
		}
	}
}

func TestStringListAccumulates(t *testing.T) {
	var l StringList
	l.Set("R0")
	l.Set("C1")
	if diff := cmp.Diff(StringList{"R0", "C1"}, l); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}
