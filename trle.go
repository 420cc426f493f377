package vnc

import "io"

// decodeTRLE implements spec.md §4.4: the TRLE tile grammar read directly
// off the wire, uncompressed.
func decodeTRLE(ctx *DecoderContext, rect Rect, r io.Reader, emit func(VncEvent)) error {
	out, err := decodeTileGrammar(ctx, rect, r)
	if err != nil {
		return err
	}
	emit(VncEvent{Type: EventRawImage, Rect: rect, Data: out})
	return nil
}

// decodeTileGrammar reads the shared TRLE/ZRLE tile stream (RFC 6143
// §7.7.5, reused verbatim by ZRLE per §7.7.6) and returns it as a BGRA
// buffer covering rect. r is either the raw transport (TRLE) or the
// output of the session's persistent zlib stream (ZRLE); the grammar
// itself doesn't care which.
func decodeTileGrammar(ctx *DecoderContext, rect Rect, r io.Reader) ([]byte, error) {
	if rect.Empty() {
		return nil, decodeErr("trle", "zero-area rectangle is illegal")
	}
	out := make([]byte, rect.Area()*4)

	for ty := 0; ty < int(rect.Height); ty += 16 {
		tileH := 16
		if int(rect.Height)-ty < 16 {
			tileH = int(rect.Height) - ty
		}
		for tx := 0; tx < int(rect.Width); tx += 16 {
			tileW := 16
			if int(rect.Width)-tx < 16 {
				tileW = int(rect.Width) - tx
			}
			if err := decodeTile(ctx, rect, tx, ty, tileW, tileH, r, out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func decodeTile(ctx *DecoderContext, rect Rect, tx, ty, tileW, tileH int, r io.Reader, out []byte) error {
	sub, err := readUint8(r)
	if err != nil {
		return ioErr(err)
	}
	if ctx.Log != nil {
		ctx.Log.Debug().Int("x", tx).Int("y", ty).Uint8("subencoding", sub).Msg("tile")
	}

	put := func(px int, py int, raw uint32) {
		idx := (ty+py)*int(rect.Width) + (tx + px)
		bgra := ctx.Format.ToBGRA(raw)
		copy(out[idx*4:idx*4+4], bgra[:])
	}

	switch {
	case sub == 0: // Raw
		for py := 0; py < tileH; py++ {
			for px := 0; px < tileW; px++ {
				raw, err := ctx.Format.readCPixel(r)
				if err != nil {
					return ioErr(err)
				}
				put(px, py, raw)
			}
		}
		return nil

	case sub == 1: // Solid
		raw, err := ctx.Format.readCPixel(r)
		if err != nil {
			return ioErr(err)
		}
		for py := 0; py < tileH; py++ {
			for px := 0; px < tileW; px++ {
				put(px, py, raw)
			}
		}
		return nil

	case sub >= 2 && sub <= 16: // Packed palette
		paletteSize := int(sub)
		palette := make([]uint32, paletteSize)
		for i := range palette {
			raw, err := ctx.Format.readCPixel(r)
			if err != nil {
				return ioErr(err)
			}
			palette[i] = raw
		}
		bits := bitsForPalette(paletteSize)
		rowBytes := (tileW*bits + 7) / 8
		for py := 0; py < tileH; py++ {
			row, err := readFull(r, rowBytes)
			if err != nil {
				return ioErr(err)
			}
			for px := 0; px < tileW; px++ {
				idx := readPackedIndex(row, px, bits)
				if idx >= paletteSize {
					return decodeErr("trle", "packed palette index out of range")
				}
				put(px, py, palette[idx])
			}
		}
		return nil

	case sub == 128: // Plain RLE
		total := tileW * tileH
		px, py := 0, 0
		for written := 0; written < total; {
			raw, err := ctx.Format.readCPixel(r)
			if err != nil {
				return ioErr(err)
			}
			runLen, err := readRLELength(r)
			if err != nil {
				return ioErr(err)
			}
			if written+runLen > total {
				return decodeErr("trle", "RLE run overruns tile")
			}
			for n := 0; n < runLen; n++ {
				put(px, py, raw)
				px++
				if px == tileW {
					px = 0
					py++
				}
			}
			written += runLen
		}
		return nil

	case sub >= 130: // Palette RLE
		paletteSize := int(sub) - 128
		palette := make([]uint32, paletteSize)
		for i := range palette {
			raw, err := ctx.Format.readCPixel(r)
			if err != nil {
				return ioErr(err)
			}
			palette[i] = raw
		}
		total := tileW * tileH
		px, py := 0, 0
		for written := 0; written < total; {
			idxByte, err := readUint8(r)
			if err != nil {
				return ioErr(err)
			}
			runLen := 1
			idx := int(idxByte)
			if idxByte&0x80 != 0 {
				idx = int(idxByte &^ 0x80)
				runLen, err = readRLELength(r)
				if err != nil {
					return ioErr(err)
				}
			}
			if idx >= paletteSize {
				return decodeErr("trle", "palette RLE index out of range")
			}
			if written+runLen > total {
				return decodeErr("trle", "RLE run overruns tile")
			}
			raw := palette[idx]
			for n := 0; n < runLen; n++ {
				put(px, py, raw)
				px++
				if px == tileW {
					px = 0
					py++
				}
			}
			written += runLen
		}
		return nil

	default: // 17-127, 129: reserved, never sent by a compliant server
		return decodeErr("trle", "reserved subencoding")
	}
}

// readRLELength reads a TRLE/ZRLE run length: a sequence of 255-valued
// bytes followed by one final byte, the sum plus 1 is the run length.
func readRLELength(r io.Reader) (int, error) {
	total := 1
	for {
		b, err := readUint8(r)
		if err != nil {
			return 0, err
		}
		total += int(b)
		if b != 255 {
			return total, nil
		}
	}
}

// bitsForPalette returns the packed-pixel bit width for a palette of the
// given size: 1 for <=2, 2 for <=4, 4 for <=16.
func bitsForPalette(size int) int {
	switch {
	case size <= 2:
		return 1
	case size <= 4:
		return 2
	default:
		return 4
	}
}

// readPackedIndex extracts the bits-wide palette index for pixel px from
// a byte-aligned-per-row packed bitmap, MSB first.
func readPackedIndex(row []byte, px int, bits int) int {
	bitPos := px * bits
	byteIdx := bitPos / 8
	shift := 8 - bits - (bitPos % 8)
	mask := (1 << bits) - 1
	return int(row[byteIdx]>>uint(shift)) & mask
}
