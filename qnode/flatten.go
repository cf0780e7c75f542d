// Flattening and unflattening of nested argument structures.
//
// Supported nesting: float64 (and int) leaves, []float64, ordered
// sequences ([]any, Args), and string-keyed mappings (map[string]any,
// KwArgs) traversed in sorted key order so flattening is deterministic.
package qnode

import (
	"fmt"
	"sort"
)

// Flatten walks a nested argument structure depth-first and returns its
// real-valued leaves in order.
func Flatten(v any) ([]float64, error) {
	out := make([]float64, 0, 8)

	return flattenInto(out, v)
}

func flattenInto(out []float64, v any) ([]float64, error) {
	switch t := v.(type) {
	case float64:
		return append(out, t), nil
	case int:
		return append(out, float64(t)), nil
	case []float64:
		return append(out, t...), nil
	case Args:
		return flattenSeq(out, t)
	case []any:
		return flattenSeq(out, t)
	case []int:
		for _, e := range t {
			out = append(out, float64(e))
		}

		return out, nil
	case KwArgs:
		return flattenMap(out, t)
	case map[string]any:
		return flattenMap(out, t)
	default:
		return nil, fmt.Errorf("qnode: flatten %T: %w", v, ErrArgStructure)
	}
}

func flattenSeq(out []float64, seq []any) ([]float64, error) {
	var err error
	for _, e := range seq {
		if out, err = flattenInto(out, e); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func flattenMap(out []float64, m map[string]any) ([]float64, error) {
	keys := sortedKeys(m)
	var err error
	for _, k := range keys {
		if out, err = flattenInto(out, m[k]); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Unflatten arranges flat leaves into the shape of model. Leaves may be of
// any type (numbers, parameter slots); numeric leaf slices are rebuilt as
// []float64 when every leaf is a float64, and as []any otherwise.
// Leftover leaves beyond what model consumes fail with ErrUnflattenLeftover.
func Unflatten(leaves []any, model any) (any, error) {
	out, rest, err := unflatten(leaves, model)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, ErrUnflattenLeftover
	}

	return out, nil
}

// UnflattenFloats is Unflatten over real leaves.
func UnflattenFloats(flat []float64, model any) (any, error) {
	leaves := make([]any, len(flat))
	for i, v := range flat {
		leaves[i] = v
	}

	return Unflatten(leaves, model)
}

func unflatten(leaves []any, model any) (any, []any, error) {
	switch t := model.(type) {
	case float64, int:
		if len(leaves) == 0 {
			return nil, nil, fmt.Errorf("qnode: unflatten: %w", ErrArgStructure)
		}

		return leaves[0], leaves[1:], nil
	case []float64:
		return unflattenLeaves(leaves, len(t))
	case []int:
		return unflattenLeaves(leaves, len(t))
	case Args:
		out, rest, err := unflattenSeq(leaves, t)
		if err != nil {
			return nil, nil, err
		}

		return Args(out), rest, nil
	case []any:
		return unflattenSeq(leaves, t)
	case KwArgs:
		out, rest, err := unflattenMap(leaves, t)
		if err != nil {
			return nil, nil, err
		}

		return KwArgs(out), rest, nil
	case map[string]any:
		return unflattenMap(leaves, t)
	default:
		return nil, nil, fmt.Errorf("qnode: unflatten %T: %w", model, ErrArgStructure)
	}
}

func unflattenLeaves(leaves []any, k int) (any, []any, error) {
	if len(leaves) < k {
		return nil, nil, fmt.Errorf("qnode: unflatten: %w", ErrArgStructure)
	}
	head, rest := leaves[:k], leaves[k:]
	floats := make([]float64, 0, k)
	for _, l := range head {
		f, ok := l.(float64)
		if !ok {
			// non-numeric leaves (e.g. parameter slots) keep the generic shape
			out := make([]any, k)
			copy(out, head)

			return out, rest, nil
		}
		floats = append(floats, f)
	}

	return floats, rest, nil
}

func unflattenSeq(leaves []any, model []any) ([]any, []any, error) {
	out := make([]any, 0, len(model))
	var elem any
	var err error
	for _, m := range model {
		if elem, leaves, err = unflatten(leaves, m); err != nil {
			return nil, nil, err
		}
		out = append(out, elem)
	}

	return out, leaves, nil
}

func unflattenMap(leaves []any, model map[string]any) (map[string]any, []any, error) {
	out := make(map[string]any, len(model))
	var elem any
	var err error
	for _, k := range sortedKeys(model) {
		if elem, leaves, err = unflatten(leaves, model[k]); err != nil {
			return nil, nil, err
		}
		out[k] = elem
	}

	return out, leaves, nil
}
