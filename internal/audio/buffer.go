package audio

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrInvalidInput is returned when samples are neither an integer sequence nor
// a native buffer with a usable length.
var ErrInvalidInput = errors.New("audio: expected an integer sequence or a native sample buffer")

// SampleRangeError reports the first sample that does not fit in 16 bits.
type SampleRangeError struct {
	Index int // 1-based
	Value int64
	// Text renders values that Value cannot hold, such as NaN or 1e19.
	Text string
}

func (e *SampleRangeError) Error() string {
	v := e.Text
	if v == "" {
		v = strconv.FormatInt(e.Value, 10)
	}
	return fmt.Sprintf("Sample #%d (%s) is out of range [%d,%d]", e.Index, v, math.MinInt16, math.MaxInt16)
}

type inputKind uint8

const (
	kindNone inputKind = iota
	kindInts
	kindPCM
)

// Input is audio handed to the engine in one of two shapes: a sequence of
// integers that still needs validation, or a native int16 buffer whose length
// is declared by the caller.
type Input struct {
	kind inputKind
	ints []int64
	pcm  []int16
	n    int
}

// Ints wraps an integer sequence. Each value must lie in [-32768, 32767].
func Ints(values []int64) Input {
	return Input{kind: kindInts, ints: values}
}

// PCM wraps a native buffer holding n samples.
func PCM(samples []int16, n int) Input {
	return Input{kind: kindPCM, pcm: samples, n: n}
}

// Len is the number of samples the input declares.
func (in Input) Len() int {
	switch in.kind {
	case kindInts:
		return len(in.ints)
	case kindPCM:
		return in.n
	}
	return 0
}

// SampleBuffer is a scratch buffer reused by every call that converts integer
// sequences. Capacity grows by doubling and only shrinks on Reset. The slice
// returned by Ensure aliases the buffer and is overwritten by the next call, so
// callers must hold their own lock across the fill-and-consume window.
type SampleBuffer struct {
	buf []int16
}

// Ensure returns the samples of in as a native view.
func (b *SampleBuffer) Ensure(in Input) ([]int16, error) {
	switch in.kind {
	case kindInts:
		count := len(in.ints)
		b.grow(count)
		out := b.buf[:count]
		for i, v := range in.ints {
			if v < math.MinInt16 || v > math.MaxInt16 {
				return nil, &SampleRangeError{Index: i + 1, Value: v}
			}
			out[i] = int16(v)
		}
		return out, nil
	case kindPCM:
		// The declared length is trusted; it only has to stay inside the slice.
		if in.n < 0 || in.n > len(in.pcm) {
			return nil, fmt.Errorf("%w: declared length %d, buffer holds %d", ErrInvalidInput, in.n, len(in.pcm))
		}
		return in.pcm[:in.n], nil
	}
	return nil, ErrInvalidInput
}

// grow doubles the capacity, starting from 1, until it covers n samples.
func (b *SampleBuffer) grow(n int) {
	size := cap(b.buf)
	if size >= n {
		return
	}
	if size == 0 {
		size = 1
	}
	for size < n {
		size <<= 1
	}
	b.buf = make([]int16, size)
}

// Cap is the number of samples the buffer holds without reallocating.
func (b *SampleBuffer) Cap() int { return cap(b.buf) }

// Reset frees the backing storage.
func (b *SampleBuffer) Reset() { b.buf = nil }
