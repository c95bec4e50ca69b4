package capture

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmValues(t *testing.T, data []byte) []int16 {
	t.Helper()
	require.Equal(t, 0, len(data)%2, "pcm byte length must be even")
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func TestConvertFloat32ToPCM16_Formula(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{0.5, int16(math.Round(0.5 * 32767))},
		{-0.5, int16(math.Round(-0.5 * 32768))},
		{0.25, int16(math.Round(0.25 * 32767))},
		{-0.75, int16(math.Round(-0.75 * 32768))},
	}
	for _, tc := range tests {
		got := pcmValues(t, ConvertFloat32ToPCM16([]float32{tc.in, 0}))
		assert.Equal(t, tc.want, got[0], "sample %v", tc.in)
	}
}

func TestConvertFloat32ToPCM16_Clamps(t *testing.T) {
	got := pcmValues(t, ConvertFloat32ToPCM16([]float32{2.5, -3}))
	assert.Equal(t, int16(32767), got[0])
	assert.Equal(t, int16(-32768), got[1])
}

func TestConvertFloat32ToPCM16_OddLengthPadsZero(t *testing.T) {
	got := pcmValues(t, ConvertFloat32ToPCM16([]float32{0.5, -0.5, 0.1}))
	require.Len(t, got, 4)
	assert.Equal(t, int16(0), got[3], "trailing pad sample must be zero")
}

func TestConvertFloat32ToPCM16_EvenLengthUnpadded(t *testing.T) {
	got := pcmValues(t, ConvertFloat32ToPCM16([]float32{0.5, -0.5}))
	assert.Len(t, got, 2)
}

func TestFramer_EmitsFixedBlocks(t *testing.T) {
	var blocks [][]byte
	f := NewFramer(4, func(pcm []byte) { blocks = append(blocks, pcm) })

	f.Push(make([]float32, 3))
	assert.Empty(t, blocks, "partial block held back")

	f.Push(make([]float32, 6)) // 9 total -> two blocks of 4, one sample held
	require.Len(t, blocks, 2)
	assert.Len(t, blocks[0], 8)
	assert.Len(t, blocks[1], 8)

	f.Flush() // one leftover sample, padded to two
	require.Len(t, blocks, 3)
	assert.Len(t, blocks[2], 4)
}

func TestFramer_FlushEmptyIsNoop(t *testing.T) {
	calls := 0
	f := NewFramer(4, func([]byte) { calls++ })
	f.Flush()
	assert.Equal(t, 0, calls)
}
