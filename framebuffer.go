package vnc

import (
	"fmt"
	"io"
)

// Encoding ids understood by the parser, RFC 6143 §7.7-§7.8.
const (
	encodingRaw         int32 = 0
	encodingCopyRect    int32 = 1
	encodingRRE         int32 = 2
	encodingHextile     int32 = 5
	encodingTRLE        int32 = 15
	encodingZRLE        int32 = 16
	encodingTight       int32 = 7
	encodingDesktopSize int32 = -223
	encodingCursor      int32 = -239
)

// decodeFunc consumes exactly the bytes of one rectangle's encoded
// payload and emits the resulting VncEvent(s) through emit.
type decodeFunc func(ctx *DecoderContext, rect Rect, r io.Reader, emit func(VncEvent)) error

var decoders = map[int32]decodeFunc{
	encodingRaw:         decodeRaw,
	encodingCopyRect:    decodeCopyRect,
	encodingTRLE:        decodeTRLE,
	encodingZRLE:        decodeZRLE,
	encodingTight:       decodeTight,
	encodingDesktopSize: decodeDesktopSize,
	encodingCursor:      decodeCursor,
	// encodingRRE and encodingHextile are named entries, not absent:
	// spec.md's Non-goals exclude both obsolescent encodings, so neither
	// is ever placed in a default requested-encodings list, but the
	// table still recognizes the ids explicitly rather than lumping
	// them in with a truly-unknown encoding, so a server that sends one
	// anyway fails with a message naming the encoding it refused to
	// guess the grammar of.
	encodingRRE:     decodeUnsupportedRRE,
	encodingHextile: decodeUnsupportedHextile,
}

func decodeUnsupportedRRE(ctx *DecoderContext, rect Rect, r io.Reader, emit func(VncEvent)) error {
	return newErr(KindUnsupportedEncoding, "rre: RRE is a recognized but unimplemented encoding; do not request it", nil)
}

func decodeUnsupportedHextile(ctx *DecoderContext, rect Rect, r io.Reader, emit func(VncEvent)) error {
	return newErr(KindUnsupportedEncoding, "hextile: Hextile is a recognized but unimplemented encoding; do not request it", nil)
}

// readFramebufferUpdate parses one FramebufferUpdate message body
// (opcode byte already consumed) and dispatches each rectangle to its
// decoder, emitting events in server-sent order.
func readFramebufferUpdate(ctx *DecoderContext, r io.Reader, emit func(VncEvent)) error {
	if err := skipPadding(r, 1); err != nil {
		return ioErr(err)
	}
	nRects, err := readUint16(r)
	if err != nil {
		return ioErr(err)
	}
	for i := uint16(0); i < nRects; i++ {
		if err := readRectangle(ctx, r, emit); err != nil {
			return err
		}
	}
	return nil
}

func readRectangle(ctx *DecoderContext, r io.Reader, emit func(VncEvent)) error {
	x, err := readUint16(r)
	if err != nil {
		return ioErr(err)
	}
	y, err := readUint16(r)
	if err != nil {
		return ioErr(err)
	}
	w, err := readUint16(r)
	if err != nil {
		return ioErr(err)
	}
	h, err := readUint16(r)
	if err != nil {
		return ioErr(err)
	}
	encID, err := readInt32(r)
	if err != nil {
		return ioErr(err)
	}

	rect := Rect{X: x, Y: y, Width: w, Height: h}

	decode, ok := decoders[encID]
	if !ok {
		return newErr(KindUnsupportedEncoding, fmt.Sprintf("encoding %d", encID), nil)
	}
	if ctx.Log != nil {
		ctx.Log.Debug().Str("rect", rect.String()).Int32("encoding", encID).Msg("decoding rectangle")
	}
	return decode(ctx, rect, r, emit)
}

// decodeRaw implements spec.md §4.3: width*height pixels in the session's
// negotiated wire format, converted to BGRA, row-major, no padding.
func decodeRaw(ctx *DecoderContext, rect Rect, r io.Reader, emit func(VncEvent)) error {
	if rect.Empty() {
		return decodeErr("raw", "zero-area rectangle is illegal for Raw")
	}
	out := make([]byte, rect.Area()*4)
	pos := 0
	for i := 0; i < rect.Area(); i++ {
		raw, err := ctx.Format.readPixel(r)
		if err != nil {
			return ioErr(err)
		}
		px := ctx.Format.ToBGRA(raw)
		copy(out[pos:pos+4], px[:])
		pos += 4
	}
	emit(VncEvent{Type: EventRawImage, Rect: rect, Data: out})
	return nil
}

// decodeCopyRect implements spec.md §4.2's CopyRect row: the engine makes
// no pixel changes itself, it only reports the source rectangle for the
// host to copy within its own framebuffer.
func decodeCopyRect(ctx *DecoderContext, rect Rect, r io.Reader, emit func(VncEvent)) error {
	srcX, err := readUint16(r)
	if err != nil {
		return ioErr(err)
	}
	srcY, err := readUint16(r)
	if err != nil {
		return ioErr(err)
	}
	src := Rect{X: srcX, Y: srcY, Width: rect.Width, Height: rect.Height}
	emit(VncEvent{Type: EventCopy, Rect: rect, Src: src})
	return nil
}

// decodeDesktopSize implements the DesktopSize pseudo-encoding: the
// rectangle carries no pixels, its geometry is the new framebuffer size.
func decodeDesktopSize(ctx *DecoderContext, rect Rect, r io.Reader, emit func(VncEvent)) error {
	ctx.Screen = Screen{Width: rect.Width, Height: rect.Height}
	emit(VncEvent{Type: EventSetResolution, Screen: ctx.Screen})
	return nil
}

// decodeCursor implements spec.md §4.7: width*height pixels, then
// ceil(width/8)*height mask bytes (MSB-first per row), producing an RGBA
// buffer with per-pixel alpha taken from the mask. width=0 clears the
// cursor.
func decodeCursor(ctx *DecoderContext, rect Rect, r io.Reader, emit func(VncEvent)) error {
	if rect.Width == 0 {
		emit(VncEvent{Type: EventSetCursor, Rect: rect, Data: nil})
		return nil
	}
	if rect.Height == 0 {
		return decodeErr("cursor", "zero height with non-zero width is illegal")
	}

	pixels := make([][4]byte, rect.Area())
	for i := range pixels {
		raw, err := ctx.Format.readPixel(r)
		if err != nil {
			return ioErr(err)
		}
		pixels[i] = ctx.Format.ToBGRA(raw)
	}

	maskRowBytes := (int(rect.Width) + 7) / 8
	mask, err := readFull(r, maskRowBytes*int(rect.Height))
	if err != nil {
		return ioErr(err)
	}

	out := make([]byte, rect.Area()*4)
	for y := 0; y < int(rect.Height); y++ {
		for x := 0; x < int(rect.Width); x++ {
			idx := y*int(rect.Width) + x
			bit := mask[y*maskRowBytes+x/8]
			alpha := byte(0)
			if bit&(0x80>>uint(x%8)) != 0 {
				alpha = 0xff
			}
			px := pixels[idx]
			out[idx*4+0] = px[2] // R
			out[idx*4+1] = px[1] // G
			out[idx*4+2] = px[0] // B
			out[idx*4+3] = alpha
		}
	}

	emit(VncEvent{Type: EventSetCursor, Rect: rect, Data: out})
	return nil
}
