package vnc

import (
	"bytes"
	"context"
	"fmt"
)

const (
	version33 = "RFB 003.003\n"
	version37 = "RFB 003.007\n"
	version38 = "RFB 003.008\n"
)

// exchangeVersion implements spec.md §4.1's version exchange: read the
// 12-byte banner, reply with the highest of 003.003/003.007/003.008
// that both sides support.
func (s *Session) exchangeVersion() error {
	banner, err := readFull(s.transport, 12)
	if err != nil {
		return ioErr(err)
	}
	if len(banner) != 12 || string(banner[0:4]) != "RFB " || banner[11] != '\n' ||
		banner[7] != '.' {
		return newErr(KindProtocolVersion, string(banner), nil)
	}
	var major, minor int
	if _, err := fmt.Sscanf(string(banner), "RFB %03d.%03d\n", &major, &minor); err != nil {
		return newErr(KindProtocolVersion, string(banner), err)
	}

	reply := version38
	switch {
	case major < 3 || (major == 3 && minor < 7):
		reply = version33
		s.legacySecurity = true
	case major == 3 && minor == 7:
		reply = version37
		s.version37 = true
	}
	if s.log != nil {
		s.log.Debug().Str("server", string(bytes.TrimSpace(banner))).Str("reply", reply).Msg("version exchange")
	}
	_, err = s.transport.Write([]byte(reply))
	return ioErr(err)
}

// negotiateSecurity implements spec.md §4.1's security negotiation and
// authentication. It branches on whether the server sent a 3.3-style
// single dictated type or a 3.7/3.8-style list.
func (s *Session) negotiateSecurity(ctx context.Context) error {
	var chosen uint8

	if s.legacySecurity {
		// Version 3.3: the server dictates one u32 security type; the
		// client never replies with a choice.
		t, err := readUint32(s.transport)
		if err != nil {
			return ioErr(err)
		}
		if t == 0 {
			return newErr(KindSecurityFailure, "server refused connection", nil)
		}
		chosen = uint8(t)
		if chosen != secTypeNone && chosen != secTypeVNCAuth {
			return newErr(KindUnsupportedSecurityType, fmt.Sprintf("%d", chosen), nil)
		}
	} else {
		n, err := readUint8(s.transport)
		if err != nil {
			return ioErr(err)
		}
		if n == 0 {
			// 3.7/3.8 rejection: u32 length + UTF-8 reason.
			reason, err := readLengthPrefixedString(s.transport)
			if err != nil {
				return ioErr(err)
			}
			return newErr(KindSecurityFailure, reason, nil)
		}
		types, err := readFull(s.transport, int(n))
		if err != nil {
			return ioErr(err)
		}
		chosen, err = pickSecurityType(types)
		if err != nil {
			return err
		}
		if err := writeUint8(s.transport, chosen); err != nil {
			return ioErr(err)
		}
	}

	if s.log != nil {
		s.log.Debug().Uint8("security-type", chosen).Msg("security negotiated")
	}

	if chosen == secTypeVNCAuth {
		if err := s.authenticateVNC(ctx); err != nil {
			return err
		}
		return s.readSecurityResult()
	}

	// A 3.3 or 3.7 server sends no SecurityResult at all after security
	// type None; the client proceeds straight to ClientInit. Only 3.8
	// sends one unconditionally, including for None.
	if s.legacySecurity || s.version37 {
		return nil
	}
	return s.readSecurityResult()
}

// pickSecurityType picks the highest-preference security type this
// engine implements from the server's advertised list: VncAuth over
// None, matching the order a password-capable client should prefer so
// an authenticated connection is never silently downgraded.
func pickSecurityType(offered []byte) (uint8, error) {
	hasNone, hasVNCAuth := false, false
	for _, t := range offered {
		switch t {
		case secTypeNone:
			hasNone = true
		case secTypeVNCAuth:
			hasVNCAuth = true
		}
	}
	switch {
	case hasVNCAuth:
		return secTypeVNCAuth, nil
	case hasNone:
		return secTypeNone, nil
	default:
		return 0, newErr(KindUnsupportedSecurityType, fmt.Sprintf("%v", offered), nil)
	}
}

func (s *Session) authenticateVNC(ctx context.Context) error {
	var challenge [16]byte
	buf, err := readFull(s.transport, 16)
	if err != nil {
		return ioErr(err)
	}
	copy(challenge[:], buf)

	if s.cfg.AuthProvider == nil {
		return newErr(KindAuthRejected, "server requires VNC Authentication but no auth provider was configured", nil)
	}
	password, err := s.cfg.AuthProvider(ctx)
	if err != nil {
		return newErr(KindAuthRejected, "auth provider failed", err)
	}

	resp, err := vncAuthResponse(challenge, password)
	if err != nil {
		return newErr(KindAuthRejected, "DES setup failed", err)
	}
	_, err = s.transport.Write(resp[:])
	return ioErr(err)
}

// readSecurityResult reads the u32 SecurityResult, present after
// authentication in every protocol version this engine supports.
func (s *Session) readSecurityResult() error {
	result, err := readUint32(s.transport)
	if err != nil {
		return ioErr(err)
	}
	if result == 0 {
		return nil
	}
	reason, err := readLengthPrefixedString(s.transport)
	if err != nil {
		// Pre-3.8 SecurityResult failures carry no reason string.
		return newErr(KindAuthRejected, "", nil)
	}
	return newErr(KindAuthRejected, reason, nil)
}

// clientServerInit sends ClientInit and reads ServerInit, returning the
// negotiated Screen and the server's advertised PixelFormat (forgotten
// by the caller immediately after SetPixelFormat is sent, per spec.md
// §4.1).
func (s *Session) clientServerInit() (Screen, PixelFormat, error) {
	shared := byte(0)
	if s.cfg.AllowShared {
		shared = 1
	}
	if err := writeUint8(s.transport, shared); err != nil {
		return Screen{}, PixelFormat{}, ioErr(err)
	}

	w, err := readUint16(s.transport)
	if err != nil {
		return Screen{}, PixelFormat{}, ioErr(err)
	}
	h, err := readUint16(s.transport)
	if err != nil {
		return Screen{}, PixelFormat{}, ioErr(err)
	}
	var pf PixelFormat
	if err := pf.ReadFrom(s.transport); err != nil {
		return Screen{}, PixelFormat{}, ioErr(err)
	}
	name, err := readLengthPrefixedString(s.transport)
	if err != nil {
		return Screen{}, PixelFormat{}, ioErr(err)
	}

	screen := Screen{Width: w, Height: h}
	if s.log != nil {
		s.log.Debug().Str("screen", screen.String()).Str("name", name).Msg("ServerInit")
	}
	return screen, pf, nil
}

// sendPixelFormat sends SetPixelFormat (message type 0). Servers accept
// without reply.
func (s *Session) sendPixelFormat(pf PixelFormat) error {
	return s.writeLocked(func() error {
		if err := writeUint8(s.transport, msgSetPixelFormat); err != nil {
			return ioErr(err)
		}
		if err := writePadding(s.transport, 3); err != nil {
			return ioErr(err)
		}
		return ioErr(pf.WriteTo(s.transport))
	})
}

// sendEncodings sends SetEncodings (message type 2) exactly once, in
// the order given.
func (s *Session) sendEncodings(ids []int32) error {
	return s.writeLocked(func() error {
		if err := writeUint8(s.transport, msgSetEncodings); err != nil {
			return ioErr(err)
		}
		if err := writePadding(s.transport, 1); err != nil {
			return ioErr(err)
		}
		if err := writeUint16(s.transport, uint16(len(ids))); err != nil {
			return ioErr(err)
		}
		for _, id := range ids {
			if err := writeInt32(s.transport, id); err != nil {
				return ioErr(err)
			}
		}
		return nil
	})
}
