package uaclient

import "testing"

func testResolver() *namespaceResolver {
	return &namespaceResolver{namespaces: []string{
		"http://opcfoundation.org/UA/",
		"urn:plc:ua",
		"http://factory/ua",
	}}
}

func TestCounterpartID(t *testing.T) {
	r := testResolver()

	cases := []struct {
		in   string
		want string
	}{
		{"nsu=http://factory/ua;s=Pump.Speed", "ns=2;s=Pump.Speed"},
		{"nsu=urn:plc:ua;i=5001", "ns=1;i=5001"},
		{"ns=2;s=Pump.Speed", "nsu=http://factory/ua;s=Pump.Speed"},
		{"ns=0;i=2258", "nsu=http://opcfoundation.org/UA/;i=2258"},
		// A bare identifier is namespace 0 shorthand.
		{"i=2258", "nsu=http://opcfoundation.org/UA/;i=2258"},
	}
	for _, tc := range cases {
		got, err := r.CounterpartID(tc.in)
		if err != nil {
			t.Errorf("CounterpartID(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("CounterpartID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCounterpartIDErrors(t *testing.T) {
	r := testResolver()

	for _, in := range []string{
		"nsu=http://unknown/ua;s=A",
		"ns=9;s=A",
		"ns=-1;s=A",
		"ns=x;s=A",
	} {
		if got, err := r.CounterpartID(in); err == nil {
			t.Errorf("CounterpartID(%q) = %q, want error", in, got)
		}
	}

	empty := &namespaceResolver{}
	if _, err := empty.CounterpartID("i=2258"); err == nil {
		t.Error("empty namespace table resolved a bare identifier")
	}
}

func TestToWireID(t *testing.T) {
	r := testResolver()

	got, err := r.toWireID("nsu=http://factory/ua;s=Pump.Speed")
	if err != nil || got != "ns=2;s=Pump.Speed" {
		t.Errorf("toWireID(expanded) = %q, %v", got, err)
	}
	got, err = r.toWireID("ns=2;s=Pump.Speed")
	if err != nil || got != "ns=2;s=Pump.Speed" {
		t.Errorf("toWireID(wire form) = %q, %v", got, err)
	}
}

func TestSplitPrefixed(t *testing.T) {
	if v, rest, ok := splitPrefixed("nsu=http://factory/ua;s=A", "nsu="); !ok || v != "http://factory/ua" || rest != "s=A" {
		t.Errorf("splitPrefixed = %q, %q, %v", v, rest, ok)
	}
	if _, _, ok := splitPrefixed("s=A", "nsu="); ok {
		t.Error("splitPrefixed matched without prefix")
	}
	if _, _, ok := splitPrefixed("nsu=nodelimiter", "nsu="); ok {
		t.Error("splitPrefixed matched without separator")
	}
}
