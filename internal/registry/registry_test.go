package registry

import (
	"fmt"
	"sync"
	"testing"
)

type fakeConn struct {
	name string
}

func (c *fakeConn) Send(any) error { return nil }

func TestRegistry_AddLookupRemove(t *testing.T) {
	r := New()
	a := &fakeConn{name: "a"}

	if _, ok := r.Lookup("s1"); ok {
		t.Fatal("Lookup() on empty registry found a connection")
	}

	r.Add("s1", a)
	got, ok := r.Lookup("s1")
	if !ok || got != a {
		t.Fatalf("Lookup() = (%v, %v), want (a, true)", got, ok)
	}

	if !r.Remove("s1", a) {
		t.Error("Remove() = false, want true")
	}
	if _, ok := r.Lookup("s1"); ok {
		t.Error("entry survived Remove()")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_ReplaceAndStaleRemove(t *testing.T) {
	r := New()
	first := &fakeConn{name: "first"}
	second := &fakeConn{name: "second"}

	r.Add("s1", first)
	r.Add("s1", second)

	got, _ := r.Lookup("s1")
	if got != second {
		t.Fatalf("Lookup() = %v, want second connection", got)
	}

	t.Run("closing the replaced connection keeps its successor", func(t *testing.T) {
		if r.Remove("s1", first) {
			t.Error("Remove(first) = true, want false")
		}
		if got, ok := r.Lookup("s1"); !ok || got != second {
			t.Errorf("Lookup() = (%v, %v), want second", got, ok)
		}
	})

	t.Run("closing the current connection removes the entry", func(t *testing.T) {
		if !r.Remove("s1", second) {
			t.Error("Remove(second) = false, want true")
		}
		if _, ok := r.Lookup("s1"); ok {
			t.Error("entry survived Remove()")
		}
	})
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%5)
			c := &fakeConn{name: id}
			r.Add(id, c)
			r.Lookup(id)
			r.Remove(id, c)
		}(i)
	}
	wg.Wait()

	if r.Len() > 5 {
		t.Errorf("Len() = %d, want at most 5", r.Len())
	}
	if len(r.Sessions()) != r.Len() {
		t.Error("Sessions() and Len() disagree")
	}
}
