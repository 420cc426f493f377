package vnc

import (
	"encoding/binary"
	"io"
)

// PixelFormat is the 16-byte-on-the-wire pixel layout exchanged during
// ServerInit and SetPixelFormat (RFC 6143 §7.4).
//
// The engine requires true-colour for the format it requests: Build
// rejects a colour-mapped requested format with KindInvalidPixelFormat.
// The server's advertised format is not validated; it is replaced by the
// requested format right after ServerInit.
type PixelFormat struct {
	BPP        uint8
	Depth      uint8
	BigEndian  bool
	TrueColor  bool
	RedMax     uint16
	GreenMax   uint16
	BlueMax    uint16
	RedShift   uint8
	GreenShift uint8
	BlueShift  uint8
}

// BGRA32 is the engine's default requested pixel format: 32 bits per
// pixel, 24-bit depth, little-endian, true-colour, laid out so that
// converted pixels land directly in B,G,R,A byte order.
var BGRA32 = PixelFormat{
	BPP:        32,
	Depth:      24,
	BigEndian:  false,
	TrueColor:  true,
	RedMax:     0xff,
	GreenMax:   0xff,
	BlueMax:    0xff,
	RedShift:   16,
	GreenShift: 8,
	BlueShift:  0,
}

// BytesPerPixel returns BPP/8.
func (pf *PixelFormat) BytesPerPixel() int {
	return int(pf.BPP) / 8
}

// ReadFrom reads the 16-byte wire representation of a PixelFormat.
func (pf *PixelFormat) ReadFrom(r io.Reader) error {
	buf, err := readFull(r, 16)
	if err != nil {
		return err
	}
	pf.BPP = buf[0]
	pf.Depth = buf[1]
	pf.BigEndian = buf[2] != 0
	pf.TrueColor = buf[3] != 0
	pf.RedMax = binary.BigEndian.Uint16(buf[4:6])
	pf.GreenMax = binary.BigEndian.Uint16(buf[6:8])
	pf.BlueMax = binary.BigEndian.Uint16(buf[8:10])
	pf.RedShift = buf[10]
	pf.GreenShift = buf[11]
	pf.BlueShift = buf[12]
	// buf[13:16] is padding.
	return nil
}

// Bytes returns the 16-byte wire representation of pf.
func (pf *PixelFormat) Bytes() [16]byte {
	var out [16]byte
	out[0] = pf.BPP
	out[1] = pf.Depth
	if pf.BigEndian {
		out[2] = 1
	}
	if pf.TrueColor {
		out[3] = 1
	}
	binary.BigEndian.PutUint16(out[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(out[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(out[8:10], pf.BlueMax)
	out[10] = pf.RedShift
	out[11] = pf.GreenShift
	out[12] = pf.BlueShift
	return out
}

// WriteTo writes the 16-byte wire representation of pf.
func (pf *PixelFormat) WriteTo(w io.Writer) error {
	b := pf.Bytes()
	_, err := w.Write(b[:])
	return err
}

// Validate returns InvalidPixelFormat unless pf is true-colour, has 8, 16
// or 32 bits per pixel, and has each *Max of the form 2^k-1 with k no
// larger than BPP, per spec.md §3's invariant. Shift values are not
// checked.
func (pf *PixelFormat) Validate() error {
	if !pf.TrueColor {
		return newErr(KindInvalidPixelFormat, "colour-mapped pixel formats are not supported", nil)
	}
	if pf.BPP != 8 && pf.BPP != 16 && pf.BPP != 32 {
		return newErr(KindInvalidPixelFormat, "bits-per-pixel must be 8, 16 or 32", nil)
	}
	for _, max := range []uint16{pf.RedMax, pf.GreenMax, pf.BlueMax} {
		if max == 0 || (max&(max+1)) != 0 {
			return newErr(KindInvalidPixelFormat, "channel max must be 2^k-1", nil)
		}
		if uint64(max) >= uint64(1)<<pf.BPP {
			return newErr(KindInvalidPixelFormat, "channel max must fit in bits-per-pixel", nil)
		}
	}
	return nil
}

// readPixel reads one bpp/8-byte pixel in pf's wire layout and returns it
// as an unsigned integer with channels still packed according to
// pf.*Shift/pf.*Max.
func (pf *PixelFormat) readPixel(r io.Reader) (uint32, error) {
	buf, err := readFull(r, pf.BytesPerPixel())
	if err != nil {
		return 0, err
	}
	return pf.decodeBytes(buf), nil
}

func (pf *PixelFormat) decodeBytes(buf []byte) uint32 {
	order := pf.order()
	switch len(buf) {
	case 1:
		return uint32(buf[0])
	case 2:
		return uint32(order.Uint16(buf))
	default:
		var padded [4]byte
		if pf.BigEndian && len(buf) < 4 {
			// Right-align short big-endian reads (not used for bpp=32,
			// but keeps the helper total).
			copy(padded[4-len(buf):], buf)
			return binary.BigEndian.Uint32(padded[:])
		}
		copy(padded[:], buf)
		return order.Uint32(padded[:])
	}
}

func (pf *PixelFormat) order() binary.ByteOrder {
	if pf.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// cpixelEligible reports whether the CPIXEL (TRLE/ZRLE) or TPIXEL (Tight)
// 3-byte abbreviation applies: bpp=32, depth=24, byte-aligned channels.
func (pf *PixelFormat) cpixelEligible() bool {
	return pf.BPP == 32 && pf.Depth == 24 &&
		pf.RedMax == 0xff && pf.GreenMax == 0xff && pf.BlueMax == 0xff &&
		pf.RedShift%8 == 0 && pf.GreenShift%8 == 0 && pf.BlueShift%8 == 0
}

// bytePositions maps each channel's shift to its byte index within the
// 4-byte pixel word, and reports the index of the unused (padding) byte
// that CPIXEL/TPIXEL omits.
func (pf *PixelFormat) bytePositions() (r, g, b, unused int) {
	pos := func(shift uint8) int {
		p := int(shift / 8)
		if pf.BigEndian {
			p = 3 - p
		}
		return p
	}
	r, g, b = pos(pf.RedShift), pos(pf.GreenShift), pos(pf.BlueShift)
	used := [4]bool{}
	used[r], used[g], used[b] = true, true, true
	for i := 0; i < 4; i++ {
		if !used[i] {
			unused = i
			break
		}
	}
	return
}

// readCPixel reads a compact pixel: 3 bytes when cpixelEligible, else a
// full pixel. Used by TRLE, ZRLE (CPIXEL) and Tight (TPIXEL, identical
// rule per spec.md §4.4/§4.6).
func (pf *PixelFormat) readCPixel(r io.Reader) (uint32, error) {
	if !pf.cpixelEligible() {
		return pf.readPixel(r)
	}
	buf, err := readFull(r, 3)
	if err != nil {
		return 0, err
	}
	return pf.decodeCPixelBytes(buf)
}

// decodeCPixelBytes decodes an already-read compact pixel buffer (3 bytes
// when cpixelEligible, else a full pixel) without touching an io.Reader.
// Used by Tight's basic-compression filters, which work on whole buffers
// pulled out of a zlib stream rather than pixel-at-a-time reads.
func (pf *PixelFormat) decodeCPixelBytes(buf []byte) (uint32, error) {
	if !pf.cpixelEligible() {
		return pf.decodeBytes(buf), nil
	}
	if len(buf) != 3 {
		return 0, io.ErrUnexpectedEOF
	}
	_, _, _, unused := pf.bytePositions()
	var full [4]byte
	idx := 0
	for pos := 0; pos < 4; pos++ {
		if pos == unused {
			continue
		}
		full[pos] = buf[idx]
		idx++
	}
	return pf.order().Uint32(full[:]), nil
}

// ToBGRA converts a raw packed pixel (as returned by readPixel/readCPixel)
// into the engine's fixed 4-byte output layout: B, G, R, A(=0).
func (pf *PixelFormat) ToBGRA(raw uint32) [4]byte {
	r := scaleTo8((raw>>pf.RedShift)&uint32(pf.RedMax), pf.RedMax)
	g := scaleTo8((raw>>pf.GreenShift)&uint32(pf.GreenMax), pf.GreenMax)
	b := scaleTo8((raw>>pf.BlueShift)&uint32(pf.BlueMax), pf.BlueMax)
	return [4]byte{b, g, r, 0}
}

func scaleTo8(v uint32, max uint16) byte {
	if max == 0 {
		return 0
	}
	if max == 0xff {
		return byte(v)
	}
	return byte((v*255 + uint32(max)/2) / uint32(max))
}
