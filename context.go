package vnc

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// DecoderContext is the per-session state shared by every rectangle
// decoder: the negotiated PixelFormat, the current Screen, and the
// persistent zlib inflater streams used by Tight and ZRLE.
//
// Inflater streams must outlive individual rectangles -- resetting them
// between rectangles corrupts the protocol (spec.md §9). Decoders only
// ever borrow a *DecoderContext; they hold no independent lifetime, which
// breaks the cycle that would otherwise exist between Session, its
// decoders, and the streams those decoders depend on.
type DecoderContext struct {
	Format PixelFormat
	Screen Screen

	// tight holds the four independently-resettable inflater streams
	// used by the Tight encoding's compression-control stream-id bits.
	tight [4]*resettableInflater
	// zrle holds the single persistent inflater stream used by ZRLE.
	zrle *resettableInflater

	Log *zerolog.Logger
}

func newDecoderContext(format PixelFormat, screen Screen, log *zerolog.Logger) *DecoderContext {
	return &DecoderContext{Format: format, Screen: screen, Log: log}
}

// resettableInflater wraps a single long-lived zlib.Reader over a
// growable buffer: the server sends one continuous deflate bitstream
// per stream id across every rectangle that uses it, not an
// independently-headered stream per rectangle. feed appends the
// rectangle's compressed bytes to that buffer; the zlib.Reader is
// created once, on the first feed, and otherwise never recreated --
// recreating it (or calling zlib.Resetter.Reset) makes the reader parse
// a fresh RFC 1950 header where the wire has none, which is a protocol
// corruption, not a resynchronisation. The reader is only ever
// discarded by reinit, which models the one mid-session case where the
// wire really does start a fresh stream: Tight's explicit per-stream
// reset bit. At session start every stream is fresh because the
// DecoderContext itself is new.
type resettableInflater struct {
	buf    *bytes.Buffer
	reader io.ReadCloser
}

func (ri *resettableInflater) feed(data []byte) (io.Reader, error) {
	if ri.buf == nil {
		ri.buf = new(bytes.Buffer)
	}
	ri.buf.Write(data)
	if ri.reader == nil {
		r, err := zlib.NewReader(ri.buf)
		if err != nil {
			return nil, fmt.Errorf("zlib: initial header: %w", err)
		}
		ri.reader = r
	}
	return ri.reader, nil
}

// reinit forcibly discards the inflater and any undigested compressed
// bytes so the next feed starts a brand new zlib stream. Used only for
// Tight's explicit stream-reset control bits (spec.md §8 invariant 4).
func (ri *resettableInflater) reinit() {
	if ri.reader != nil {
		ri.reader.Close()
	}
	ri.reader = nil
	ri.buf = nil
}

// tightStream lazily creates the requested Tight inflater slot (0..3).
func (ctx *DecoderContext) tightStream(id int) *resettableInflater {
	if ctx.tight[id] == nil {
		ctx.tight[id] = &resettableInflater{}
	}
	return ctx.tight[id]
}

// zrleStream lazily creates the ZRLE inflater.
func (ctx *DecoderContext) zrleStream() *resettableInflater {
	if ctx.zrle == nil {
		ctx.zrle = &resettableInflater{}
	}
	return ctx.zrle
}
