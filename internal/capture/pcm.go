package capture

import (
	"encoding/binary"
	"math"
)

// ConvertFloat32ToPCM16 converts floating-point samples in [-1, 1] to
// little-endian signed 16-bit PCM. Samples are clamped before scaling;
// negative values scale by 32768 and non-negative by 32767 so both rails are
// reachable. An odd sample count is padded with one zero sample so the
// output stays frame-aligned.
func ConvertFloat32ToPCM16(samples []float32) []byte {
	n := len(samples)
	if n%2 != 0 {
		n++
	}
	out := make([]byte, n*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(math.Round(float64(s) * 32768))
		} else {
			v = int16(math.Round(float64(s) * 32767))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Framer accumulates samples and emits fixed-size PCM blocks through emit.
// Partial blocks are held until enough samples arrive; Flush pushes out
// whatever remains.
type Framer struct {
	blockSize int
	buf       []float32
	emit      func(pcm []byte)
}

// NewFramer creates a framer emitting blockSize-sample blocks.
func NewFramer(blockSize int, emit func(pcm []byte)) *Framer {
	if blockSize <= 0 {
		blockSize = 4096
	}
	return &Framer{
		blockSize: blockSize,
		buf:       make([]float32, 0, blockSize),
		emit:      emit,
	}
}

// Push appends samples and emits every complete block.
func (f *Framer) Push(samples []float32) {
	f.buf = append(f.buf, samples...)
	for len(f.buf) >= f.blockSize {
		block := f.buf[:f.blockSize]
		f.emit(ConvertFloat32ToPCM16(block))
		f.buf = f.buf[f.blockSize:]
	}
}

// Flush emits any buffered partial block.
func (f *Framer) Flush() {
	if len(f.buf) == 0 {
		return
	}
	f.emit(ConvertFloat32ToPCM16(f.buf))
	f.buf = f.buf[:0]
}
