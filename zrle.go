package vnc

import "io"

// decodeZRLE implements spec.md §4.6: a u32 length-prefixed zlib stream
// wrapping the same tile grammar as TRLE, fed through the session's
// persistent inflater so the compression dictionary survives across
// rectangles (spec.md §9 invariant 4).
func decodeZRLE(ctx *DecoderContext, rect Rect, r io.Reader, emit func(VncEvent)) error {
	n, err := readUint32(r)
	if err != nil {
		return ioErr(err)
	}
	compressed, err := readFull(r, int(n))
	if err != nil {
		return ioErr(err)
	}
	if ctx.Log != nil {
		ctx.Log.Debug().Str("rect", rect.String()).Int("compressed-bytes", len(compressed)).Msg("zrle inflate")
	}

	inflated, err := ctx.zrleStream().feed(compressed)
	if err != nil {
		return decodeErr("zrle", err.Error())
	}

	out, err := decodeTileGrammar(ctx, rect, inflated)
	if err != nil {
		return err
	}
	emit(VncEvent{Type: EventRawImage, Rect: rect, Data: out})
	return nil
}
