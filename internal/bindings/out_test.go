package bindings

import (
	"errors"
	"testing"
)

func TestOutWriteOnce(t *testing.T) {
	var o Out
	if _, ok := o.Get(); ok {
		t.Fatal("fresh Out must be unset")
	}
	if err := o.Set("first"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := o.Set("second"); !errors.Is(err, ErrOutAlreadySet) {
		t.Fatalf("expected ErrOutAlreadySet, got %v", err)
	}
	v, ok := o.Get()
	if !ok || v != "first" {
		t.Fatalf("Get() = %v, %v", v, ok)
	}
}

func TestOutSetNil(t *testing.T) {
	var o Out
	if err := o.Set(nil); err != nil {
		t.Fatalf("Set(nil): %v", err)
	}
	if _, ok := o.Get(); ok {
		t.Fatal("nil value must read as unset")
	}
}
