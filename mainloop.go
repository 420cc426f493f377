package vnc

import "fmt"

const (
	opFramebufferUpdate   = 0
	opSetColourMapEntries = 1
	opBell                = 2
	opServerCutText       = 3
)

// readOneMessage reads and dispatches exactly one server-to-client
// message, per spec.md §4.1's main loop.
func (s *Session) readOneMessage() error {
	op, err := readUint8(s.transport)
	if err != nil {
		return ioErr(err)
	}
	switch op {
	case opFramebufferUpdate:
		return readFramebufferUpdate(s.ctx, s.transport, s.emit)
	case opSetColourMapEntries:
		return s.skipColourMapEntries()
	case opBell:
		s.emit(VncEvent{Type: EventBell})
		return nil
	case opServerCutText:
		return s.readServerCutText()
	default:
		return newErr(KindUnexpectedOpcode, fmt.Sprintf("%d", op), nil)
	}
}

func (s *Session) emit(ev VncEvent) {
	s.events <- ev
}

// skipColourMapEntries accepts and discards SetColourMapEntries: the
// engine requires true-colour, so a colour map has nothing to apply to
// (spec.md §9 open question).
func (s *Session) skipColourMapEntries() error {
	if err := skipPadding(s.transport, 1); err != nil {
		return ioErr(err)
	}
	firstColour, err := readUint16(s.transport)
	if err != nil {
		return ioErr(err)
	}
	n, err := readUint16(s.transport)
	if err != nil {
		return ioErr(err)
	}
	if _, err := readFull(s.transport, int(n)*6); err != nil {
		return ioErr(err)
	}
	if s.log != nil {
		s.log.Debug().Uint16("first-colour", firstColour).Uint16("count", n).Msg("ignoring SetColourMapEntries")
	}
	return nil
}

func (s *Session) readServerCutText() error {
	if err := skipPadding(s.transport, 3); err != nil {
		return ioErr(err)
	}
	text, err := readLengthPrefixedString(s.transport)
	if err != nil {
		return ioErr(err)
	}
	s.emit(VncEvent{Type: EventText, Text: text})
	return nil
}

// HandleX11Event encodes and sends one host-originated input event, per
// spec.md §6. Refresh becomes an incremental full-screen
// FramebufferUpdateRequest; the rest are written directly. Input is
// refused with KindClosed unless the session is Connected.
func (s *Session) HandleX11Event(ev X11Event) error {
	if st := s.State(); st != StateConnected {
		return newErr(KindClosed, fmt.Sprintf("session not connected (%s)", st), nil)
	}
	switch ev.Type {
	case X11Refresh:
		screen := s.ctx.Screen
		return s.sendFramebufferUpdateRequest(true, Rect{Width: screen.Width, Height: screen.Height})
	case X11KeyEvent:
		return s.sendKeyEvent(ev.Keysym, ev.Down)
	case X11PointerEvent:
		return s.sendPointerEvent(ev.Mask, ev.X, ev.Y)
	case X11CopyText:
		return s.sendClientCutText(ev.Text)
	default:
		return newErr(KindDecode, "x11-event", nil)
	}
}

const (
	msgSetPixelFormat          = 0
	msgSetEncodings            = 2
	msgFramebufferUpdateRequest = 3
	msgKeyEvent                = 4
	msgPointerEvent            = 5
	msgClientCutText           = 6
)

func (s *Session) sendFramebufferUpdateRequest(incremental bool, rect Rect) error {
	return s.writeLocked(func() error {
		if err := writeUint8(s.transport, msgFramebufferUpdateRequest); err != nil {
			return ioErr(err)
		}
		inc := byte(0)
		if incremental {
			inc = 1
		}
		if err := writeUint8(s.transport, inc); err != nil {
			return ioErr(err)
		}
		for _, v := range []uint16{rect.X, rect.Y, rect.Width, rect.Height} {
			if err := writeUint16(s.transport, v); err != nil {
				return ioErr(err)
			}
		}
		return nil
	})
}

func (s *Session) sendKeyEvent(keysym uint32, down bool) error {
	return s.writeLocked(func() error {
		if err := writeUint8(s.transport, msgKeyEvent); err != nil {
			return ioErr(err)
		}
		d := byte(0)
		if down {
			d = 1
		}
		if err := writeUint8(s.transport, d); err != nil {
			return ioErr(err)
		}
		if err := writePadding(s.transport, 2); err != nil {
			return ioErr(err)
		}
		return ioErr(writeUint32(s.transport, keysym))
	})
}

func (s *Session) sendPointerEvent(mask uint8, x, y uint16) error {
	return s.writeLocked(func() error {
		if err := writeUint8(s.transport, msgPointerEvent); err != nil {
			return ioErr(err)
		}
		if err := writeUint8(s.transport, mask); err != nil {
			return ioErr(err)
		}
		if err := writeUint16(s.transport, x); err != nil {
			return ioErr(err)
		}
		return ioErr(writeUint16(s.transport, y))
	})
}

func (s *Session) sendClientCutText(text string) error {
	return s.writeLocked(func() error {
		if err := writeUint8(s.transport, msgClientCutText); err != nil {
			return ioErr(err)
		}
		if err := writePadding(s.transport, 3); err != nil {
			return ioErr(err)
		}
		b := []byte(text)
		if err := writeUint32(s.transport, uint32(len(b))); err != nil {
			return ioErr(err)
		}
		_, err := s.transport.Write(b)
		return ioErr(err)
	})
}
