package container

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/samcharles93/transpack/pkg/tensor"
)

// Quantization selects the storage type applied to weight matrices when a
// model is packed. Norm weights, biases and relative-position tensors always
// stay float32.
type Quantization string

const (
	QuantNone     Quantization = "none"
	QuantFloat16  Quantization = "float16"
	QuantBFloat16 Quantization = "bfloat16"
	QuantInt8     Quantization = "int8"
)

// ParseQuantization maps a user-supplied name to a Quantization. The empty
// string means none.
func ParseQuantization(s string) (Quantization, error) {
	switch Quantization(s) {
	case "", QuantNone:
		return QuantNone, nil
	case QuantFloat16, QuantBFloat16, QuantInt8:
		return Quantization(s), nil
	}
	return "", fmt.Errorf("unknown quantization %q", s)
}

// DType identifies a tensor element encoding in the index.
type DType string

const (
	DTypeFloat32  DType = "float32"
	DTypeFloat16  DType = "float16"
	DTypeBFloat16 DType = "bfloat16"
	DTypeInt8     DType = "int8"
)

// ElementSize returns the on-disk size of one element.
func (d DType) ElementSize() (int, error) {
	switch d {
	case DTypeFloat32:
		return 4, nil
	case DTypeFloat16, DTypeBFloat16:
		return 2, nil
	case DTypeInt8:
		return 1, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", d)
}

// encodeFloat32 serializes the values little-endian.
func encodeFloat32(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func encodeFloat16(values []float32) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], f32ToFP16(v))
	}
	return out
}

func encodeBFloat16(values []float32) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], f32ToBF16(v))
	}
	return out
}

// quantizeInt8 quantizes a [rows, cols] matrix row by row: each row is scaled
// by 127 over its absolute maximum and rounded to the nearest integer. The
// returned scales are the multipliers used, one per row; dequantization is
// value/scale. All-zero rows get scale 1.
func quantizeInt8(t *tensor.Dense) ([]byte, []float32, error) {
	if t.Rank() != 2 {
		return nil, nil, fmt.Errorf("int8 quantization needs a 2-D tensor, got rank %d", t.Rank())
	}
	rows, cols := t.Dim(0), t.Dim(1)
	data := t.Data()
	out := make([]byte, rows*cols)
	scales := make([]float32, rows)

	for r := 0; r < rows; r++ {
		row := data[r*cols : (r+1)*cols]
		var amax float32
		for _, v := range row {
			if a := float32(math.Abs(float64(v))); a > amax {
				amax = a
			}
		}
		scale := float32(1)
		if amax > 0 {
			scale = 127 / amax
		}
		scales[r] = scale
		for c, v := range row {
			q := math.RoundToEven(float64(v * scale))
			out[r*cols+c] = byte(int8(q))
		}
	}
	return out, scales, nil
}

// f32ToFP16 converts to IEEE 754 half precision with round-to-nearest-even.
func f32ToFP16(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int32((b>>23)&0xff) - 127 + 15
	mant := b & 0x7fffff

	switch {
	case exp >= 0x1f:
		if b&0x7fffffff > 0x7f800000 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		m := mant >> shift
		half := uint32(1) << (shift - 1)
		if mant&half != 0 && (mant&(half-1) != 0 || m&1 != 0) {
			m++
		}
		return sign | uint16(m)
	default:
		m := mant >> 13
		if mant&0x1000 != 0 && (mant&0xfff != 0 || m&1 != 0) {
			m++
			if m == 0x400 {
				m = 0
				exp++
				if exp >= 0x1f {
					return sign | 0x7c00
				}
			}
		}
		return sign | uint16(exp)<<10 | uint16(m)
	}
}

// f32ToBF16 converts to bfloat16 with round-to-nearest-even.
func f32ToBF16(f float32) uint16 {
	b := math.Float32bits(f)
	if b&0x7fffffff > 0x7f800000 {
		// Quiet the NaN so truncation cannot turn it into an infinity.
		return uint16(b>>16) | 0x0040
	}
	return uint16((b + 0x7fff + (b>>16)&1) >> 16)
}
