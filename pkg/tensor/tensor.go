// Package tensor provides dense float32 arrays and the small set of layout
// operations a checkpoint converter needs: singleton-dimension squeezing,
// 2-D transposition, row-wise concatenation and exact equality.
package tensor

import (
	"fmt"
	"math"
)

// Dense is a dense, row-major float32 tensor.
//
// Dense performs no memory safety beyond the checks done by Go's slice types;
// out-of-range indices panic.
type Dense struct {
	shape []int
	data  []float32
}

// New creates a tensor over existing data. The data length must match the
// product of the shape dimensions.
func New(shape []int, data []float32) (*Dense, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("tensor: shape %v needs %d elements, have %d", shape, n, len(data))
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Dense{shape: s, data: data}, nil
}

// Zeros allocates a zero-filled tensor with the given shape.
func Zeros(shape ...int) *Dense {
	n, err := NumElements(shape)
	if err != nil {
		panic(err)
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Dense{shape: s, data: make([]float32, n)}
}

// Shape returns the tensor's dimensions. The returned slice must not be
// mutated by the caller.
func (d *Dense) Shape() []int { return d.shape }

// Rank returns the number of dimensions.
func (d *Dense) Rank() int { return len(d.shape) }

// Dim returns the size of dimension i.
func (d *Dense) Dim(i int) int { return d.shape[i] }

// Len returns the total number of elements.
func (d *Dense) Len() int { return len(d.data) }

// Data returns the flattened row-major values. The returned slice must not be
// mutated by the caller.
func (d *Dense) Data() []float32 { return d.data }

// Clone returns a deep copy that shares no memory with the receiver.
func (d *Dense) Clone() *Dense {
	s := make([]int, len(d.shape))
	copy(s, d.shape)
	v := make([]float32, len(d.data))
	copy(v, d.data)
	return &Dense{shape: s, data: v}
}

// Squeeze returns a tensor with all singleton dimensions removed. The result
// shares the receiver's data. A scalar-like tensor keeps one dimension.
func (d *Dense) Squeeze() *Dense {
	s := make([]int, 0, len(d.shape))
	for _, dim := range d.shape {
		if dim != 1 {
			s = append(s, dim)
		}
	}
	if len(s) == 0 {
		s = append(s, 1)
	}
	return &Dense{shape: s, data: d.data}
}

// Transpose2D returns a new tensor with the two dimensions of a matrix
// swapped. The receiver must be rank 2.
func (d *Dense) Transpose2D() (*Dense, error) {
	if len(d.shape) != 2 {
		return nil, fmt.Errorf("tensor: transpose needs a 2D tensor, got shape %v", d.shape)
	}
	r, c := d.shape[0], d.shape[1]
	out := make([]float32, len(d.data))
	for i := 0; i < r; i++ {
		row := d.data[i*c : (i+1)*c]
		for j, v := range row {
			out[j*r+i] = v
		}
	}
	return &Dense{shape: []int{c, r}, data: out}, nil
}

// Equal reports whether both tensors have the same shape and bit-identical
// values. NaNs with equal bit patterns compare equal; this is a structural
// comparison, not a numeric tolerance check.
func (d *Dense) Equal(other *Dense) bool {
	if other == nil || len(d.shape) != len(other.shape) {
		return false
	}
	for i, dim := range d.shape {
		if other.shape[i] != dim {
			return false
		}
	}
	for i, v := range d.data {
		if math.Float32bits(v) != math.Float32bits(other.data[i]) {
			return false
		}
	}
	return true
}

// ConcatRows concatenates matrices along dimension 0. All parts must be rank 2
// with the same number of columns. The result is a newly allocated tensor.
func ConcatRows(parts ...*Dense) (*Dense, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("tensor: concat of zero tensors")
	}
	cols := 0
	rows := 0
	total := 0
	for i, p := range parts {
		if p == nil {
			return nil, fmt.Errorf("tensor: concat part %d is nil", i)
		}
		if p.Rank() != 2 {
			return nil, fmt.Errorf("tensor: concat part %d has shape %v, want rank 2", i, p.shape)
		}
		if i == 0 {
			cols = p.shape[1]
		} else if p.shape[1] != cols {
			return nil, fmt.Errorf("tensor: concat part %d has %d columns, want %d", i, p.shape[1], cols)
		}
		rows += p.shape[0]
		total += len(p.data)
	}
	out := make([]float32, 0, total)
	for _, p := range parts {
		out = append(out, p.data...)
	}
	return &Dense{shape: []int{rows, cols}, data: out}, nil
}

// NumElements returns the element count implied by a shape, guarding against
// overflow and non-positive dimensions.
func NumElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("tensor: empty shape")
	}
	n := 1
	maxInt := int(^uint(0) >> 1)
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("tensor: invalid dim %d", d)
		}
		if n > maxInt/d {
			return 0, fmt.Errorf("tensor: shape %v too large", shape)
		}
		n *= d
	}
	return n, nil
}
