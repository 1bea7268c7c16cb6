package camera

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeJPEG(body ...byte) []byte {
	out := []byte{0xFF, 0xD8}
	out = append(out, body...)
	return append(out, 0xFF, 0xD9)
}

func TestJPEGSplitter(t *testing.T) {
	first := fakeJPEG(1, 2, 3, 0xFF, 0x00, 4)
	second := fakeJPEG(5, 6)

	var stream bytes.Buffer
	stream.Write([]byte{9, 9, 0xFF}) // junk before the first image
	stream.Write(first)
	stream.Write(second)
	stream.Write([]byte{0xFF, 0xD8, 7}) // incomplete third image

	tests := []struct {
		name  string
		chunk int
	}{
		{"single write", stream.Len()},
		{"byte by byte", 1},
		{"odd chunks", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][]byte
			s := &jpegSplitter{emit: func(img []byte) { got = append(got, img) }}

			data := stream.Bytes()
			for len(data) > 0 {
				n := min(tt.chunk, len(data))
				written, err := s.Write(data[:n])
				require.NoError(t, err)
				require.Equal(t, n, written)
				data = data[n:]
			}

			require.Len(t, got, 2)
			assert.Equal(t, first, got[0])
			assert.Equal(t, second, got[1])
		})
	}
}

func TestJPEGSplitterEmitsCopies(t *testing.T) {
	var got []byte
	s := &jpegSplitter{emit: func(img []byte) { got = img }}

	in := fakeJPEG(1)
	_, _ = s.Write(in)
	in[2] = 42

	assert.Equal(t, byte(1), got[2])
}
