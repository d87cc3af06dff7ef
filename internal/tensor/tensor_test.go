package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = float32(i)
	}
	return t
}

func TestSliceAxis0(t *testing.T) {
	x := seq(4, 3)
	s, err := x.Slice(0, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, s.Shape)
	assert.Equal(t, []float32{3, 4, 5, 6, 7, 8}, s.Data)
}

func TestSliceAxis1(t *testing.T) {
	x := seq(2, 4)
	s, err := x.Slice(1, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, s.Shape)
	assert.Equal(t, []float32{2, 3, 6, 7}, s.Data)
}

func TestSliceRejectsBadRange(t *testing.T) {
	x := seq(2, 4)
	_, err := x.Slice(1, 3, 5)
	require.ErrorIs(t, err, ErrShape)
	_, err = x.Slice(2, 0, 1)
	require.ErrorIs(t, err, ErrAxis)
}

func TestConcatReconstructsSlices(t *testing.T) {
	for _, axis := range []int{0, 1, 2} {
		x := seq(4, 6, 2)
		n := x.Shape[axis] / 2
		a, err := x.Slice(axis, 0, n)
		require.NoError(t, err)
		b, err := x.Slice(axis, n, x.Shape[axis])
		require.NoError(t, err)
		joined, err := Concat(axis, a, b)
		require.NoError(t, err)
		assert.True(t, joined.Equal(x), "axis %d", axis)
	}
}

func TestConcatShapeMismatch(t *testing.T) {
	_, err := Concat(0, seq(2, 3), seq(2, 4))
	require.ErrorIs(t, err, ErrShape)
}

func TestMatVec(t *testing.T) {
	w, err := FromData([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	dst := make([]float32, 2)
	MatVec(dst, w, []float32{1, 0, -1})
	assert.Equal(t, []float32{-2, -2}, dst)
}

func TestFromDataLengthMismatch(t *testing.T) {
	_, err := FromData([]int{2, 2}, []float32{1, 2, 3})
	require.ErrorIs(t, err, ErrShape)
}
