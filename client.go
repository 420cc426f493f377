package vnc

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ClientConfig gathers everything a Builder needs to hand a Session: the
// way to authenticate, which encodings to advertise and in what order,
// whether the connection should be exclusive, the pixel format to
// request, and where to log. Building populates it; after Build it is
// never mutated again.
type ClientConfig struct {
	AuthProvider        AuthProvider
	RequestedEncodings  []int32
	AllowShared         bool
	RequestedPixelFormat PixelFormat
	Logger              *zerolog.Logger
	ConnectTimeout      time.Duration
}

// defaultRequestedEncodings is the engine's preference order when a
// Builder never calls AddEncoding: the full supported set, richest
// compression first, Raw last as the universal fallback. RRE and
// Hextile are never included per spec.md's Non-goals.
var defaultRequestedEncodings = []int32{
	encodingTight,
	encodingZRLE,
	encodingTRLE,
	encodingCopyRect,
	encodingCursor,
	encodingDesktopSize,
	encodingRaw,
}

// Builder assembles a ClientConfig and a Transport into a Session. Its
// With* methods are chainable and mirror spec.md §6's conceptual
// configurator one-for-one.
type Builder struct {
	transport  Transport
	cfg        ClientConfig
	encodingsSet bool
}

// NewBuilder returns a Builder with the engine's defaults: shared
// access allowed, BGRA32 requested, no encodings list (filled with
// defaultRequestedEncodings unless AddEncoding is called), and a
// disabled logger.
func NewBuilder() *Builder {
	disabled := zerolog.Nop()
	return &Builder{
		cfg: ClientConfig{
			AllowShared:          true,
			RequestedPixelFormat: BGRA32,
			Logger:               &disabled,
		},
	}
}

// WithTransport sets the duplex byte channel the session will speak
// RFB over.
func (b *Builder) WithTransport(t Transport) *Builder {
	b.transport = t
	return b
}

// WithAuthProvider sets the callback used to obtain a password if the
// server requires VNC Authentication.
func (b *Builder) WithAuthProvider(fn AuthProvider) *Builder {
	b.cfg.AuthProvider = fn
	return b
}

// AddEncoding appends an encoding id to the advertised preference list,
// in call order. The first call to AddEncoding replaces the built-in
// default list rather than appending to it.
func (b *Builder) AddEncoding(id int32) *Builder {
	if !b.encodingsSet {
		b.cfg.RequestedEncodings = nil
		b.encodingsSet = true
	}
	b.cfg.RequestedEncodings = append(b.cfg.RequestedEncodings, id)
	return b
}

// WithAllowShared sets whether the server is asked to keep other
// clients connected (true, the default) or to kick them (false).
func (b *Builder) WithAllowShared(shared bool) *Builder {
	b.cfg.AllowShared = shared
	return b
}

// WithPixelFormat overrides the default BGRA32 requested pixel format.
func (b *Builder) WithPixelFormat(pf PixelFormat) *Builder {
	b.cfg.RequestedPixelFormat = pf
	return b
}

// WithLogger overrides the default no-op logger.
func (b *Builder) WithLogger(log *zerolog.Logger) *Builder {
	b.cfg.Logger = log
	return b
}

// WithConnectTimeout bounds only the handshake phase; the main loop
// itself imposes no timeouts (spec.md §5).
func (b *Builder) WithConnectTimeout(d time.Duration) *Builder {
	b.cfg.ConnectTimeout = d
	return b
}

// Build validates the accumulated configuration and returns an
// unconnected Session. Call TryStart to run the handshake and Finish to
// enter the main loop.
func (b *Builder) Build() (*Session, error) {
	if b.transport == nil {
		return nil, newErr(KindIO, "no transport configured", nil)
	}
	if err := b.cfg.RequestedPixelFormat.Validate(); err != nil {
		return nil, err
	}
	if !b.encodingsSet {
		b.cfg.RequestedEncodings = append([]int32(nil), defaultRequestedEncodings...)
	}
	return newSession(b.transport, b.cfg), nil
}

// closeTransport lets Session.Finish/Close shut down the transport
// even when it only satisfies io.Reader/io.Writer, upgrading to
// io.Closer when available -- mirrors how net.Conn and *websocket.Conn
// both happen to implement Close even though Transport doesn't require it.
func closeTransport(t Transport) error {
	if c, ok := t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
