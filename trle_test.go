package vnc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtx() *DecoderContext {
	return newDecoderContext(BGRA32, Screen{Width: 16, Height: 16}, nil)
}

func TestTRLESolidTile(t *testing.T) {
	ctx := testCtx()
	var buf bytes.Buffer
	buf.WriteByte(1) // solid subencoding
	buf.Write([]byte{0x30, 0x20, 0x10})

	out, err := decodeTileGrammar(ctx, Rect{Width: 16, Height: 16}, &buf)
	require.NoError(t, err)
	assert.Len(t, out, 16*16*4)
	for i := 0; i < 16*16; i++ {
		assert.Equal(t, []byte{0x30, 0x20, 0x10, 0}, out[i*4:i*4+4])
	}
}

func TestTRLERawTile(t *testing.T) {
	ctx := testCtx()
	rect := Rect{Width: 2, Height: 2}
	var buf bytes.Buffer
	buf.WriteByte(0) // raw
	pixels := [][3]byte{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}, {10, 11, 12}}
	for _, px := range pixels {
		buf.Write(px[:])
	}

	out, err := decodeTileGrammar(ctx, rect, &buf)
	require.NoError(t, err)
	for i, px := range pixels {
		assert.Equal(t, []byte{px[0], px[1], px[2], 0}, out[i*4:i*4+4])
	}
}

// TestTRLEPackedPaletteCheckerboard mirrors spec.md §8 scenario 4: a
// 16x16 tile, subencoding 2, a 2-colour palette, packed 1-bpp
// checkerboard indices.
func TestTRLEPackedPaletteCheckerboard(t *testing.T) {
	ctx := testCtx()
	rect := Rect{Width: 16, Height: 16}
	var buf bytes.Buffer
	buf.WriteByte(2) // packed palette, size 2
	buf.Write([]byte{0x00, 0x00, 0x00})
	buf.Write([]byte{0xFF, 0xFF, 0xFF})
	// 16 pixels per row at 1 bit each = 2 bytes/row, alternating bits.
	for y := 0; y < 16; y++ {
		if y%2 == 0 {
			buf.Write([]byte{0xAA, 0xAA})
		} else {
			buf.Write([]byte{0x55, 0x55})
		}
	}

	out, err := decodeTileGrammar(ctx, rect, &buf)
	require.NoError(t, err)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			idx := (y*16 + x) * 4
			even := (x+y)%2 == 0
			if even {
				assert.Equal(t, []byte{0xff, 0xff, 0xff, 0}, out[idx:idx+4], "x=%d y=%d", x, y)
			} else {
				assert.Equal(t, []byte{0, 0, 0, 0}, out[idx:idx+4], "x=%d y=%d", x, y)
			}
		}
	}
}

func TestTRLEPlainRLE(t *testing.T) {
	ctx := testCtx()
	rect := Rect{Width: 4, Height: 1}
	var buf bytes.Buffer
	buf.WriteByte(128)
	buf.Write([]byte{0x10, 0x20, 0x30}) // colour
	buf.WriteByte(3)                    // run length 4 (3+1)

	out, err := decodeTileGrammar(ctx, rect, &buf)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.Equal(t, []byte{0x10, 0x20, 0x30, 0}, out[i*4:i*4+4])
	}
}

func TestTRLERunOverrunsTileFails(t *testing.T) {
	ctx := testCtx()
	rect := Rect{Width: 2, Height: 1}
	var buf bytes.Buffer
	buf.WriteByte(128)
	buf.Write([]byte{0x10, 0x20, 0x30})
	buf.WriteByte(200) // runLen 201, far more than the 2 pixels available

	_, err := decodeTileGrammar(ctx, rect, &buf)
	require.Error(t, err)
}

func TestTRLEZeroAreaRectFails(t *testing.T) {
	ctx := testCtx()
	_, err := decodeTileGrammar(ctx, Rect{Width: 0, Height: 4}, &bytes.Buffer{})
	require.Error(t, err)
}
