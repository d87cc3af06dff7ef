package tensor

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
)

var (
	ErrShape = errors.New("tensor shape mismatch")
	ErrAxis  = errors.New("tensor axis out of range")
)

// Tensor is a dense row-major float32 array.
//
// Shape lists the extent of every axis, outermost first. Data holds exactly
// Size() elements. A one-dimensional tensor is used for biases, norms and
// activations; weight matrices are [out, in].
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zeroed tensor with the given shape.
func New(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic("negative dimension for tensor")
		}
		n *= d
	}
	return &Tensor{
		Shape: slices.Clone(shape),
		Data:  make([]float32, n),
	}
}

// FromData wraps data without copying. len(data) must match the shape.
func FromData(shape []int, data []float32) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dim %d", ErrShape, d)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v wants %d elements, got %d", ErrShape, shape, n, len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// Vector wraps a slice as a one-dimensional tensor.
func Vector(data []float32) *Tensor {
	return &Tensor{Shape: []int{len(data)}, Data: data}
}

func (t *Tensor) Dims() int { return len(t.Shape) }

func (t *Tensor) Size() int { return len(t.Data) }

// Bytes reports the in-memory size of the element data.
func (t *Tensor) Bytes() int64 {
	if t == nil {
		return 0
	}
	return int64(len(t.Data)) * 4
}

func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// Equal reports whether both tensors have the same shape and identical elements.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	return slices.Equal(t.Shape, o.Shape) && slices.Equal(t.Data, o.Data)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor%v", t.Shape)
}

// Row returns a view of row i of a two-dimensional tensor.
func (t *Tensor) Row(i int) []float32 {
	if len(t.Shape) != 2 {
		panic("Row on non-matrix tensor")
	}
	if i < 0 || i >= t.Shape[0] {
		panic("row index out of range")
	}
	c := t.Shape[1]
	return t.Data[i*c : (i+1)*c]
}

// split returns the element counts before the axis, along it, and after it.
func (t *Tensor) split(axis int) (outer, dim, inner int) {
	outer, inner = 1, 1
	for i := 0; i < axis; i++ {
		outer *= t.Shape[i]
	}
	for i := axis + 1; i < len(t.Shape); i++ {
		inner *= t.Shape[i]
	}
	return outer, t.Shape[axis], inner
}

// Slice copies the half-open range [start, end) along axis into a new tensor.
func (t *Tensor) Slice(axis, start, end int) (*Tensor, error) {
	if axis < 0 || axis >= len(t.Shape) {
		return nil, fmt.Errorf("%w: axis %d of %v", ErrAxis, axis, t.Shape)
	}
	if start < 0 || end > t.Shape[axis] || start > end {
		return nil, fmt.Errorf("%w: range [%d,%d) on axis %d of %v", ErrShape, start, end, axis, t.Shape)
	}
	outer, dim, inner := t.split(axis)
	width := (end - start) * inner

	shape := slices.Clone(t.Shape)
	shape[axis] = end - start
	out := make([]float32, 0, outer*width)
	for o := 0; o < outer; o++ {
		base := (o*dim + start) * inner
		out = append(out, t.Data[base:base+width]...)
	}
	return &Tensor{Shape: shape, Data: out}, nil
}

// Concat joins parts along axis. Every other axis must match.
func Concat(axis int, parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShape)
	}
	first := parts[0]
	if axis < 0 || axis >= len(first.Shape) {
		return nil, fmt.Errorf("%w: axis %d of %v", ErrAxis, axis, first.Shape)
	}
	shape := slices.Clone(first.Shape)
	shape[axis] = 0
	for _, p := range parts {
		if len(p.Shape) != len(first.Shape) {
			return nil, fmt.Errorf("%w: %v vs %v", ErrShape, p.Shape, first.Shape)
		}
		for i := range p.Shape {
			if i != axis && p.Shape[i] != first.Shape[i] {
				return nil, fmt.Errorf("%w: %v vs %v", ErrShape, p.Shape, first.Shape)
			}
		}
		shape[axis] += p.Shape[axis]
	}

	outer, _, inner := first.split(axis)
	out := New(shape...)
	off := 0
	for o := 0; o < outer; o++ {
		for _, p := range parts {
			w := p.Shape[axis] * inner
			copy(out.Data[off:off+w], p.Data[o*w:(o+1)*w])
			off += w
		}
	}
	return out, nil
}

// FillRand fills t with reproducible values in roughly (-scale/2, scale/2).
func FillRand(t *Tensor, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range t.Data {
		t.Data[i] = (rng.Float32() - 0.5) * scale
	}
}
