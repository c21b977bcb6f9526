package signal

import (
	"math"
	"unsafe"
)

// Sample is a sample type supported by streams.
type Sample interface {
	int16 | int32 | float32
}

// Frame is an interleaved stereo pair.
type Frame[T Sample] struct {
	L, R T
}

// Native is a frame as produced by the emulator: fixed point with full
// scale at 2^29.
type Native struct {
	L, R int32
}

// divRec maps native full scale to [-1, 1].
const divRec = 1.0 / 536870912

// ToS16 converts native sample to 16 bit.
func ToS16(x int32) int16 {
	return clamp16(x >> 15)
}

// ToS32 converts native sample to 32 bit. The shift saturates.
func ToS32(x int32) int32 {
	switch {
	case x > math.MaxInt32>>1:
		return math.MaxInt32
	case x < math.MinInt32>>1:
		return math.MinInt32
	}
	return x << 1
}

// ToF32 converts native sample to float.
func ToF32(x int32) float32 {
	return float32(x) * divRec
}

// Converter returns a function that converts native frames into T. The
// choice is made once, callers keep the function.
func Converter[T Sample]() func(Native) Frame[T] {
	var f any
	switch any(*new(T)).(type) {
	case int16:
		f = func(n Native) Frame[int16] {
			return Frame[int16]{L: ToS16(n.L), R: ToS16(n.R)}
		}
	case int32:
		f = func(n Native) Frame[int32] {
			return Frame[int32]{L: ToS32(n.L), R: ToS32(n.R)}
		}
	case float32:
		f = func(n Native) Frame[float32] {
			return Frame[float32]{L: ToF32(n.L), R: ToF32(n.R)}
		}
	}
	return f.(func(Native) Frame[T])
}

// Float32 converts a sample of any supported type into [-1, 1] float.
func Float32[T Sample](x T) float32 {
	switch v := any(x).(type) {
	case int16:
		return float32(v) / 32768
	case int32:
		return float32(float64(v) / 2147483648)
	case float32:
		return v
	}
	return 0
}

// Int16 converts a sample of any supported type into 16 bit. Floats are
// clipped to [-1, 1].
func Int16[T Sample](x T) int16 {
	switch v := any(x).(type) {
	case int16:
		return v
	case int32:
		return int16(v >> 16)
	case float32:
		return int16(clamp64(int64(v*math.MaxInt16), math.MinInt16, math.MaxInt16))
	}
	return 0
}

// AddSat adds two fixed point samples and clips the result.
func AddSat[T int16 | int32](a, b T) T {
	s := int64(a) + int64(b)
	var zero T
	switch any(zero).(type) {
	case int16:
		return T(clamp64(s, math.MinInt16, math.MaxInt16))
	default:
		return T(clamp64(s, math.MinInt32, math.MaxInt32))
	}
}

// MixFunc returns element-wise mix for T: saturating for fixed point,
// plain addition for float. The choice is made once.
func MixFunc[T Sample]() func(dst, src []Frame[T]) {
	var f any
	switch any(*new(T)).(type) {
	case int16:
		f = mixSat[int16]
	case int32:
		f = mixSat[int32]
	case float32:
		f = mixFloat
	}
	return f.(func(dst, src []Frame[T]))
}

func mixSat[T int16 | int32](dst, src []Frame[T]) {
	dst = dst[:len(src)]
	for i := range src {
		dst[i].L = AddSat(dst[i].L, src[i].L)
		dst[i].R = AddSat(dst[i].R, src[i].R)
	}
}

func mixFloat(dst, src []Frame[float32]) {
	dst = dst[:len(src)]
	for i := range src {
		dst[i].L += src[i].L
		dst[i].R += src[i].R
	}
}

// FramesOf reinterprets little endian interleaved bytes as frames. Trailing
// bytes that don't form a whole frame are ignored.
func FramesOf[T Sample](b []byte) []Frame[T] {
	size := int(unsafe.Sizeof(Frame[T]{}))
	n := len(b) / size
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*Frame[T])(unsafe.Pointer(unsafe.SliceData(b))), n)
}

func clamp16(x int32) int16 {
	switch {
	case x > math.MaxInt16:
		return math.MaxInt16
	case x < math.MinInt16:
		return math.MinInt16
	}
	return int16(x)
}

func clamp64(x, lo, hi int64) int64 {
	switch {
	case x > hi:
		return hi
	case x < lo:
		return lo
	}
	return x
}
