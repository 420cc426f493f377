package vnc

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// deadlineSetter is implemented by transports that can bound a blocking
// read/write, e.g. *net.TCPConn and the transport package's WebSocket.
// ConnectTimeout only takes effect when the configured Transport
// implements it.
type deadlineSetter interface {
	SetDeadline(t time.Time) error
}

// SessionState is the tagged state the session moves through
// monotonically, per spec.md §3. Only Connected accepts host input and
// emits framebuffer events.
type SessionState int

const (
	StateHandshake SessionState = iota
	StateAuthenticating
	StateInitialising
	StateConnected
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateAuthenticating:
		return "Authenticating"
	case StateInitialising:
		return "Initialising"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is the engine's state machine: one cooperative read loop plus
// a mutex-guarded write path, exactly as spec.md §5 requires. It owns
// no socket and no display surface -- only the Transport it was built
// with.
type Session struct {
	transport Transport
	cfg       ClientConfig
	log       *zerolog.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	state       SessionState
	closeReason error

	ctx *DecoderContext

	events chan VncEvent

	// legacySecurity is true when the server negotiated protocol
	// version 3.3, whose security negotiation dictates a single u32
	// type rather than offering a list (spec.md §4.1).
	legacySecurity bool
	// version37 is true when the server negotiated protocol version
	// 3.7. Like 3.3, and unlike 3.8, a 3.7 server sends no
	// SecurityResult at all after security type None.
	version37 bool
}

// eventQueueCapacity is the minimum bound spec.md §5 requires for
// poll_event's backpressure to behave like the server's own TCP flow
// control once the host stops draining.
const eventQueueCapacity = 256

func newSession(t Transport, cfg ClientConfig) *Session {
	return &Session{
		transport: t,
		cfg:       cfg,
		log:       cfg.Logger,
		state:     StateHandshake,
		events:    make(chan VncEvent, eventQueueCapacity),
	}
}

// Events returns the channel the host drains VncEvents from. It is
// closed once, after the final Error or on a clean Close.
func (s *Session) Events() <-chan VncEvent {
	return s.events
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if s.log != nil {
		s.log.Info().Str("state", st.String()).Msg("session state transition")
	}
}

// TryStart performs the full handshake: version exchange, security
// negotiation, authentication, ClientInit/ServerInit, and the one-time
// SetPixelFormat/SetEncodings advertisement. On success the session is
// StateConnected and ready for Finish.
func (s *Session) TryStart(ctx context.Context) error {
	if s.cfg.ConnectTimeout > 0 {
		if d, ok := s.transport.(deadlineSetter); ok {
			d.SetDeadline(time.Now().Add(s.cfg.ConnectTimeout))
			defer d.SetDeadline(time.Time{})
		}
	}
	if err := s.exchangeVersion(); err != nil {
		return s.fail(err)
	}
	s.setState(StateAuthenticating)
	if err := s.negotiateSecurity(ctx); err != nil {
		return s.fail(err)
	}
	s.setState(StateInitialising)
	screen, format, err := s.clientServerInit()
	if err != nil {
		return s.fail(err)
	}
	s.ctx = newDecoderContext(format, screen, s.log)

	if err := s.sendPixelFormat(s.cfg.RequestedPixelFormat); err != nil {
		return s.fail(err)
	}
	s.ctx.Format = s.cfg.RequestedPixelFormat
	if err := s.sendEncodings(s.cfg.RequestedEncodings); err != nil {
		return s.fail(err)
	}

	s.events <- VncEvent{Type: EventSetResolution, Screen: screen}
	s.events <- VncEvent{Type: EventSetPixelFormat, Format: s.ctx.Format}

	s.setState(StateConnected)
	return nil
}

// Finish runs the main loop until the transport closes or a fatal
// protocol error occurs, then closes the event channel. It blocks the
// calling goroutine; embedders typically run it in its own goroutine.
func (s *Session) Finish(ctx context.Context) error {
	defer close(s.events)
	for {
		select {
		case <-ctx.Done():
			return s.fail(newErr(KindClosed, "context cancelled", ctx.Err()))
		default:
		}
		if err := s.readOneMessage(); err != nil {
			return s.fail(err)
		}
	}
}

// fail transitions the session to Closed, emits a terminal Error event
// (best effort -- it is dropped if the channel is full), and
// returns the error for the caller's convenience.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	already := s.state == StateClosed
	s.state = StateClosed
	s.closeReason = err
	s.mu.Unlock()
	if already {
		return err
	}
	if s.log != nil {
		s.log.Error().Err(err).Msg("session closed")
	}
	closeTransport(s.transport)
	select {
	case s.events <- VncEvent{Type: EventError, Err: err}:
	default:
	}
	return err
}

// Close is an idempotent, host-initiated shutdown; dropping the session
// without reading it to EOF still releases the transport.
func (s *Session) Close() error {
	s.mu.Lock()
	already := s.state == StateClosed
	s.state = StateClosed
	s.mu.Unlock()
	if already {
		return nil
	}
	return closeTransport(s.transport)
}

func (s *Session) writeLocked(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}
