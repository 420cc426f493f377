package vnc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelFormatRoundTrip(t *testing.T) {
	pf := BGRA32
	var buf bytes.Buffer
	require.NoError(t, pf.WriteTo(&buf))
	assert.Equal(t, 16, buf.Len())

	var got PixelFormat
	require.NoError(t, got.ReadFrom(&buf))
	assert.Equal(t, pf, got)
}

func TestPixelFormatValidateRejectsColourMapped(t *testing.T) {
	pf := BGRA32
	pf.TrueColor = false
	err := pf.Validate()
	require.Error(t, err)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindInvalidPixelFormat, verr.Kind)
}

func TestPixelFormatValidateRejectsBadChannelMax(t *testing.T) {
	pf := BGRA32
	pf.RedMax = 100
	require.Error(t, pf.Validate())
}

func TestCPixelEligibleForBGRA32(t *testing.T) {
	assert.True(t, BGRA32.cpixelEligible())
}

func TestReadCPixelDropsUnusedByte(t *testing.T) {
	pf := BGRA32 // RedShift 16, GreenShift 8, BlueShift 0 -> unused byte is index 3.
	buf := bytes.NewReader([]byte{0x30, 0x20, 0x10})
	raw, err := pf.readCPixel(buf)
	require.NoError(t, err)
	bgra := pf.ToBGRA(raw)
	assert.Equal(t, [4]byte{0x30, 0x20, 0x10, 0}, bgra)
}

func TestToBGRAScalesNonByteChannels(t *testing.T) {
	pf := PixelFormat{
		BPP: 16, Depth: 16, TrueColor: true,
		RedMax: 0x1F, GreenMax: 0x3F, BlueMax: 0x1F,
		RedShift: 11, GreenShift: 5, BlueShift: 0,
	}
	raw := uint32(0x1F) << 11 // full-intensity red, zero green/blue
	bgra := pf.ToBGRA(raw)
	assert.Equal(t, byte(0xff), bgra[2])
	assert.Equal(t, byte(0), bgra[1])
	assert.Equal(t, byte(0), bgra[0])
}
