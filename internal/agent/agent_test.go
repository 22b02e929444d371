package agent

import (
	"context"
	"errors"
	"testing"
)

type staticAgent struct {
	name, desc, reply string
}

func (s *staticAgent) Name() string        { return s.name }
func (s *staticAgent) Description() string { return s.desc }
func (s *staticAgent) Respond(_ context.Context, _ string) (string, error) {
	return s.reply, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := &staticAgent{name: "portfolio_agent", desc: "answers portfolio questions"}
	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Get("portfolio_agent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != Agent(a) {
		t.Error("Get returned a different agent")
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&staticAgent{name: "a"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(&staticAgent{name: "a"}); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestRegistry_EmptyNameRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&staticAgent{}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(&staticAgent{name: name}); err != nil {
			t.Fatalf("Register(%q): %v", name, err)
		}
	}
	names := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("want %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d]: want %q, got %q", i, want[i], names[i])
		}
	}
}
