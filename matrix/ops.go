// Arithmetic on Dense matrices. All binary operations allocate a fresh
// result; operands are never mutated.
package matrix

import "fmt"

// Mul returns the matrix product m·n.
// Shapes must satisfy m.Cols() == n.Rows(); otherwise ErrShapeMismatch.
// Complexity: O(m.r · n.c · m.c).
func (m *Dense) Mul(n *Dense) (*Dense, error) {
	// 1. Validate inner dimensions
	if m.c != n.r {
		return nil, fmt.Errorf("Dense.Mul: (%dx%d)·(%dx%d): %w", m.r, m.c, n.r, n.c, ErrShapeMismatch)
	}

	// 2. Accumulate row-by-row with a hoisted scalar
	out := &Dense{r: m.r, c: n.c, data: make([]float64, m.r*n.c)}
	var i, j, k int
	var a float64
	for i = 0; i < m.r; i++ {
		for k = 0; k < m.c; k++ {
			a = m.data[i*m.c+k]
			if a == 0 {
				continue
			}
			for j = 0; j < n.c; j++ {
				out.data[i*n.c+j] += a * n.data[k*n.c+j]
			}
		}
	}

	return out, nil
}

// Add returns the element-wise sum m+n; shapes must match exactly.
func (m *Dense) Add(n *Dense) (*Dense, error) {
	if m.r != n.r || m.c != n.c {
		return nil, fmt.Errorf("Dense.Add: (%dx%d)+(%dx%d): %w", m.r, m.c, n.r, n.c, ErrShapeMismatch)
	}
	out := m.Clone()
	for i := range out.data {
		out.data[i] += n.data[i]
	}

	return out, nil
}

// Sub returns the element-wise difference m−n; shapes must match exactly.
func (m *Dense) Sub(n *Dense) (*Dense, error) {
	if m.r != n.r || m.c != n.c {
		return nil, fmt.Errorf("Dense.Sub: (%dx%d)-(%dx%d): %w", m.r, m.c, n.r, n.c, ErrShapeMismatch)
	}
	out := m.Clone()
	for i := range out.data {
		out.data[i] -= n.data[i]
	}

	return out, nil
}

// Scale returns m with every element multiplied by c.
func (m *Dense) Scale(c float64) *Dense {
	out := m.Clone()
	for i := range out.data {
		out.data[i] *= c
	}

	return out
}

// Transpose returns mᵀ.
func (m *Dense) Transpose() *Dense {
	out := &Dense{r: m.c, c: m.r, data: make([]float64, len(m.data))}
	for i := 0; i < m.r; i++ {
		for j := 0; j < m.c; j++ {
			out.data[j*m.r+i] = m.data[i*m.c+j]
		}
	}

	return out
}

// Symmetrize returns m + mᵀ for a square matrix; ErrShapeMismatch otherwise.
func (m *Dense) Symmetrize() (*Dense, error) {
	if m.r != m.c {
		return nil, fmt.Errorf("Dense.Symmetrize: %dx%d: %w", m.r, m.c, ErrShapeMismatch)
	}

	return m.Add(m.Transpose())
}

// IsIdentity reports whether m is square and equals the identity within tol.
func (m *Dense) IsIdentity(tol float64) bool {
	if m.r != m.c {
		return false
	}
	for i := 0; i < m.r; i++ {
		for j := 0; j < m.c; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			d := m.data[i*m.c+j] - want
			if d > tol || d < -tol {
				return false
			}
		}
	}

	return true
}
