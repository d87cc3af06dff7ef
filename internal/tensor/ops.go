package tensor

import "math"

// MatVec computes dst = w * x for w of shape [out, in].
func MatVec(dst []float32, w *Tensor, x []float32) {
	if len(w.Shape) != 2 {
		panic("matvec on non-matrix tensor")
	}
	r, c := w.Shape[0], w.Shape[1]
	if len(dst) < r || len(x) < c {
		panic("matvec shape mismatch")
	}
	for i := 0; i < r; i++ {
		row := w.Data[i*c : (i+1)*c]
		var sum float32
		for j, v := range row {
			sum += v * x[j]
		}
		dst[i] = sum
	}
}

// Add accumulates src into dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// RMSNorm writes x normalised by its root mean square and scaled by weight.
func RMSNorm(dst, x, weight []float32, eps float32) {
	var ss float64
	for _, v := range x {
		ss += float64(v) * float64(v)
	}
	inv := float32(1 / math.Sqrt(ss/float64(len(x))+float64(eps)))
	for i, v := range x {
		dst[i] = v * inv * weight[i]
	}
}

func Sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(float64(-x))))
}

func SiLU(x float32) float32 {
	return x * Sigmoid(x)
}
