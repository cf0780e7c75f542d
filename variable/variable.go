// Package variable implements the parameter indirection layer of the
// differentiation engine: symbolic slots standing in for free circuit
// parameters, and the process-scoped binding that resolves them to
// concrete numbers while a device executes a tape.
//
// Key features:
//   - Slot: an immutable value identifying a free parameter by index,
//     optionally carrying a keyword name (keyword slots are excluded from
//     differentiation) and a multiplicative scale accumulated through
//     scalar multiplication
//   - Binding: the flat free-parameter vector plus per-keyword flat value
//     arrays for one evaluation
//   - Bind/Unbind: installation of the current binding into a package-level
//     slot consulted by Slot.Resolve
//
// The package-level binding is the sole concession to dynamic parameter
// injection: the device reads parameter values through Slot.Resolve during
// apply/expval/var/sample without threading a binding through every call.
// It is installed before each execute cycle and cleared afterwards.
// Concurrent evaluations in one process must be serialized by the caller.
//
// Errors:
//
//   - ErrUnbound         if a slot is resolved with no binding installed
//   - ErrSlotRange       if a slot index is outside the bound vector
//   - ErrUnknownKeyword  if a keyword slot names an absent keyword
package variable

import (
	"fmt"
	"sync"

	"errors"
)

// Sentinel errors for slot resolution.
var (
	// ErrUnbound indicates resolution was attempted with no binding installed.
	ErrUnbound = errors.New("variable: no parameter binding installed")

	// ErrSlotRange indicates a slot index outside the bound value vector.
	ErrSlotRange = errors.New("variable: slot index out of range")

	// ErrUnknownKeyword indicates a keyword slot whose name is not bound.
	ErrUnknownKeyword = errors.New("variable: unknown keyword")
)

// Slot is a symbolic placeholder for a free parameter.
// Idx identifies the parameter within the flat free-parameter vector
// (or within the named keyword array when Name is non-empty).
// Mult is a multiplicative scale applied on resolution; it accumulates
// through Scale and starts at 1.
//
// Slot is a value type: copies are independent, and a traced circuit never
// mutates a slot after construction.
type Slot struct {
	Idx  int
	Name string
	Mult float64
}

// New returns a positional slot for free parameter idx with unit scale.
func New(idx int) Slot {
	return Slot{Idx: idx, Mult: 1}
}

// Keyword returns a named slot for element idx of keyword name.
// Keyword slots resolve against the keyword arrays of the binding and are
// never differentiated.
func Keyword(name string, idx int) Slot {
	return Slot{Idx: idx, Name: name, Mult: 1}
}

// Scale returns a copy of s with its multiplier scaled by c.
// This is the only classical preprocessing the tracer permits on a slot.
func (s Slot) Scale(c float64) Slot {
	s.Mult *= c

	return s
}

// Keyworded reports whether s is a keyword placeholder.
func (s Slot) Keyworded() bool { return s.Name != "" }

// String renders the slot for diagnostics.
func (s Slot) String() string {
	if s.Keyworded() {
		return fmt.Sprintf("Slot(%s[%d]*%g)", s.Name, s.Idx, s.Mult)
	}

	return fmt.Sprintf("Slot(%d*%g)", s.Idx, s.Mult)
}

// Resolve returns the concrete value of s under the currently installed
// binding: free[Idx]·Mult for positional slots, kwargs[Name][Idx]·Mult for
// keyword slots.
func (s Slot) Resolve() (float64, error) {
	mu.Lock()
	b := current
	mu.Unlock()

	if b == nil {
		return 0, ErrUnbound
	}
	if s.Keyworded() {
		vals, ok := b.Kwargs[s.Name]
		if !ok {
			return 0, fmt.Errorf("variable: resolve %s: %w", s, ErrUnknownKeyword)
		}
		if s.Idx < 0 || s.Idx >= len(vals) {
			return 0, fmt.Errorf("variable: resolve %s: %w", s, ErrSlotRange)
		}

		return vals[s.Idx] * s.Mult, nil
	}
	if s.Idx < 0 || s.Idx >= len(b.Free) {
		return 0, fmt.Errorf("variable: resolve %s: %w", s, ErrSlotRange)
	}

	return b.Free[s.Idx] * s.Mult, nil
}

// Binding holds the concrete parameter values for one evaluation:
// the flat free-parameter vector and the flattened value array of every
// keyword argument.
type Binding struct {
	Free   []float64
	Kwargs map[string][]float64
}

var (
	mu      sync.Mutex
	current *Binding
)

// Bind installs b as the process-scoped binding consulted by Resolve.
// The previous binding, if any, is replaced.
func Bind(b Binding) {
	mu.Lock()
	current = &b
	mu.Unlock()
}

// Unbind clears the process-scoped binding. Subsequent Resolve calls fail
// with ErrUnbound until Bind is called again.
func Unbind() {
	mu.Lock()
	current = nil
	mu.Unlock()
}
