package vnc

import "io"

// Tight compression-control byte layout, spec.md §4.6: low nibble is
// per-stream reset flags; 0x80 is Fill, 0x90 is JPEG, 0xA0-0xFF is
// reserved, and everything else is "basic" mode where bits 4-5 pick the
// zlib stream and bit 6 says a filter-id byte follows (default Copy).
const (
	tightFilterCopy     = 0
	tightFilterPalette  = 1
	tightFilterGradient = 2
)

// rawDataThreshold is the byte count below which Tight sends a basic
// compression payload uncompressed, skipping zlib framing entirely.
const rawDataThreshold = 12

func decodeTight(ctx *DecoderContext, rect Rect, r io.Reader, emit func(VncEvent)) error {
	if rect.Empty() {
		return decodeErr("tight", "zero-area rectangle is illegal")
	}
	ctl, err := readUint8(r)
	if err != nil {
		return ioErr(err)
	}
	for i := 0; i < 4; i++ {
		if ctl&(1<<uint(i)) != 0 {
			ctx.tightStream(i).reinit()
			if ctx.Log != nil {
				ctx.Log.Debug().Int("stream", i).Msg("tight stream reset")
			}
		}
	}

	switch high := ctl & 0xF0; {
	case high == 0x80:
		if ctx.Log != nil {
			ctx.Log.Debug().Str("rect", rect.String()).Msg("tight fill")
		}
		return decodeTightFill(ctx, rect, r, emit)
	case high == 0x90:
		if ctx.Log != nil {
			ctx.Log.Debug().Str("rect", rect.String()).Msg("tight jpeg passthrough")
		}
		return decodeTightJPEG(rect, r, emit)
	case high >= 0xA0:
		return decodeErr("tight", "reserved compression-control value")
	default:
		streamID := int(ctl>>4) & 0x03
		filter := tightFilterCopy
		if ctl&0x40 != 0 {
			b, err := readUint8(r)
			if err != nil {
				return ioErr(err)
			}
			filter = int(b)
		}
		if ctx.Log != nil {
			ctx.Log.Debug().Int("stream", streamID).Int("filter", filter).Msg("tight basic")
		}
		return decodeTightBasic(ctx, rect, filter, streamID, r, emit)
	}
}

func decodeTightFill(ctx *DecoderContext, rect Rect, r io.Reader, emit func(VncEvent)) error {
	raw, err := ctx.Format.readCPixel(r)
	if err != nil {
		return ioErr(err)
	}
	bgra := ctx.Format.ToBGRA(raw)
	out := make([]byte, rect.Area()*4)
	for i := 0; i < rect.Area(); i++ {
		copy(out[i*4:i*4+4], bgra[:])
	}
	emit(VncEvent{Type: EventRawImage, Rect: rect, Data: out})
	return nil
}

// decodeTightJPEG passes the embedded JPEG stream through unmodified;
// the engine doesn't own a display surface so it has no business
// decoding image formats the host can already handle (spec.md §4.5).
func decodeTightJPEG(rect Rect, r io.Reader, emit func(VncEvent)) error {
	data, err := readTightCompactData(r)
	if err != nil {
		return ioErr(err)
	}
	emit(VncEvent{Type: EventJpegImage, Rect: rect, Data: data})
	return nil
}

func decodeTightBasic(ctx *DecoderContext, rect Rect, filter, streamID int, r io.Reader, emit func(VncEvent)) error {
	pxSize := tpixelSize(ctx)
	w, h := int(rect.Width), int(rect.Height)

	switch filter {
	case tightFilterCopy:
		data, err := readTightFiltered(ctx, streamID, w*h*pxSize, r)
		if err != nil {
			return err
		}
		out := make([]byte, rect.Area()*4)
		pos := 0
		for i := 0; i < rect.Area(); i++ {
			raw, err := ctx.Format.decodeCPixelBytes(data[pos : pos+pxSize])
			if err != nil {
				return decodeErr("tight", err.Error())
			}
			bgra := ctx.Format.ToBGRA(raw)
			copy(out[i*4:i*4+4], bgra[:])
			pos += pxSize
		}
		emit(VncEvent{Type: EventRawImage, Rect: rect, Data: out})
		return nil

	case tightFilterPalette:
		paletteSizeMinus1, err := readUint8(r)
		if err != nil {
			return ioErr(err)
		}
		paletteSize := int(paletteSizeMinus1) + 1
		palette := make([]uint32, paletteSize)
		for i := range palette {
			raw, err := ctx.Format.readCPixel(r)
			if err != nil {
				return ioErr(err)
			}
			palette[i] = raw
		}

		bits := 8
		if paletteSize <= 2 {
			bits = 1
		}
		rowBytes := (w*bits + 7) / 8
		data, err := readTightFiltered(ctx, streamID, rowBytes*h, r)
		if err != nil {
			return err
		}

		out := make([]byte, rect.Area()*4)
		for y := 0; y < h; y++ {
			row := data[y*rowBytes : (y+1)*rowBytes]
			for x := 0; x < w; x++ {
				var idx int
				if bits == 1 {
					idx = readPackedIndex(row, x, 1)
				} else {
					idx = int(row[x])
				}
				if idx >= paletteSize {
					return decodeErr("tight", "palette index out of range")
				}
				bgra := ctx.Format.ToBGRA(palette[idx])
				off := (y*w + x) * 4
				copy(out[off:off+4], bgra[:])
			}
		}
		emit(VncEvent{Type: EventRawImage, Rect: rect, Data: out})
		return nil

	case tightFilterGradient:
		data, err := readTightFiltered(ctx, streamID, w*h*pxSize, r)
		if err != nil {
			return err
		}
		out := make([]byte, rect.Area()*4)
		prevRow := make([]byte, w*pxSize)
		curRow := make([]byte, w*pxSize)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for c := 0; c < pxSize; c++ {
					var left, up, upLeft int
					if x > 0 {
						left = int(curRow[(x-1)*pxSize+c])
					}
					if y > 0 {
						up = int(prevRow[x*pxSize+c])
					}
					if x > 0 && y > 0 {
						upLeft = int(prevRow[(x-1)*pxSize+c])
					}
					pred := left + up - upLeft
					if pred < 0 {
						pred = 0
					}
					if pred > 255 {
						pred = 255
					}
					correction := data[(y*w+x)*pxSize+c]
					curRow[x*pxSize+c] = byte(pred) + correction
				}
			}
			raw := curRow[:w*pxSize]
			for x := 0; x < w; x++ {
				px, err := ctx.Format.decodeCPixelBytes(raw[x*pxSize : (x+1)*pxSize])
				if err != nil {
					return decodeErr("tight", err.Error())
				}
				bgra := ctx.Format.ToBGRA(px)
				off := (y*w + x) * 4
				copy(out[off:off+4], bgra[:])
			}
			prevRow, curRow = curRow, prevRow
		}
		emit(VncEvent{Type: EventRawImage, Rect: rect, Data: out})
		return nil
	}
	return decodeErr("tight", "unreachable filter id")
}

// readTightFiltered returns rawSize bytes of (already filter-applied)
// pixel payload: sent uncompressed when rawSize is below
// rawDataThreshold, otherwise compact-length-prefixed and zlib
// compressed through the given stream id's persistent inflater.
func readTightFiltered(ctx *DecoderContext, streamID int, rawSize int, r io.Reader) ([]byte, error) {
	if rawSize < rawDataThreshold {
		data, err := readFull(r, rawSize)
		if err != nil {
			return nil, ioErr(err)
		}
		return data, nil
	}
	compressed, err := readTightCompactData(r)
	if err != nil {
		return nil, ioErr(err)
	}
	if ctx.Log != nil {
		ctx.Log.Debug().Int("stream", streamID).Int("compressed-bytes", len(compressed)).Msg("tight inflate")
	}
	inflated, err := ctx.tightStream(streamID).feed(compressed)
	if err != nil {
		return nil, decodeErr("tight", err.Error())
	}
	out, err := readFull(inflated, rawSize)
	if err != nil {
		return nil, decodeErr("tight", "short inflate: "+err.Error())
	}
	return out, nil
}

// readTightCompactData reads Tight's variable-length "compact length"
// (1-3 bytes, 7 bits per byte, continuation in the high bit) followed by
// that many raw bytes.
func readTightCompactData(r io.Reader) ([]byte, error) {
	length := 0
	for i := 0; i < 3; i++ {
		b, err := readUint8(r)
		if err != nil {
			return nil, err
		}
		length |= int(b&0x7F) << uint(i*7)
		if b&0x80 == 0 {
			break
		}
	}
	return readFull(r, length)
}

func tpixelSize(ctx *DecoderContext) int {
	if ctx.Format.cpixelEligible() {
		return 3
	}
	return ctx.Format.BytesPerPixel()
}
