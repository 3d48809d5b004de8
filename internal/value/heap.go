package value

import "fmt"

// allocation is one entry the Heap owns: a boxed value plus whether its
// finalizer has already run, so Close finalizes each one exactly once.
type allocation struct {
	value     any
	finalized bool
}

// Heap owns every dynamically allocated value (String, Function) for
// one VM run. It is a lifetime arena, not a tracing collector: nothing
// is freed until Close runs, and every Reference handed out stays valid
// until then. Trace, if set, receives one line per finalized allocation
// when Close runs - the Go analogue of the reference implementation's
// gc-sanitizer feature.
type Heap struct {
	allocations []*allocation
	interned    map[string]Reference[string]
	closed      bool
	Trace       func(line string)
}

// NewHeap returns an empty heap ready to spawn allocations into.
func NewHeap() *Heap {
	return &Heap{
		interned: make(map[string]Reference[string]),
	}
}

// Reference is an opaque, copyable handle to a Heap allocation.
// Equality is pointer identity (same heap, same slot); Deref yields the
// pointee. Go has no way to parameterize a method by a fresh type
// parameter, so Spawn is a package-level function rather than a method
// on Heap - the only accommodation generics force on this API.
type Reference[T any] struct {
	heap *Heap
	id   int
}

// Spawn allocates v on the heap and returns a handle to it.
func Spawn[T any](h *Heap, v T) Reference[T] {
	boxed := new(T)
	*boxed = v
	h.allocations = append(h.allocations, &allocation{value: boxed})
	return Reference[T]{heap: h, id: len(h.allocations) - 1}
}

// SpawnString interns v: repeated calls with equal content return the
// same handle instead of allocating again.
func (h *Heap) SpawnString(v string) Reference[string] {
	if ref, ok := h.interned[v]; ok {
		return ref
	}
	ref := Spawn(h, v)
	h.interned[v] = ref
	return ref
}

// Deref returns the pointee. Valid for as long as the owning Heap is
// not yet closed.
func (r Reference[T]) Deref() *T {
	return r.heap.allocations[r.id].value.(*T)
}

// Equal reports whether r and other name the same allocation.
func (r Reference[T]) Equal(other Reference[T]) bool {
	return r.heap == other.heap && r.id == other.id
}

// IsZero reports whether r is the zero Reference (never spawned).
func (r Reference[T]) IsZero() bool {
	return r.heap == nil
}

// Len reports how many allocations the heap currently owns.
func (h *Heap) Len() int {
	return len(h.allocations)
}

// Close finalizes every registered allocation exactly once. The heap
// must not be used to Spawn afterward.
func (h *Heap) Close() {
	if h.closed {
		return
	}
	h.closed = true
	for _, a := range h.allocations {
		if a.finalized {
			continue
		}
		a.finalized = true
		if h.Trace != nil {
			h.Trace(fmt.Sprintf("-- heap finalize: %v", a.value))
		}
	}
}
