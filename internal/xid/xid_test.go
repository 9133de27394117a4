package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("op")
	b := New("op")
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if !strings.HasPrefix(a, "op-") {
		t.Fatalf("expected op- prefix, got %s", a)
	}
	if _, err := Parse("op", a); err != nil {
		t.Fatalf("parse %s: %v", a, err)
	}
	if _, err := Parse("req", a); err == nil {
		t.Fatalf("expected prefix mismatch error")
	}
	if _, err := Parse("", New("")); err != nil {
		t.Fatalf("parse bare id: %v", err)
	}
}
