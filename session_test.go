package vnc

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer drives the server half of a handshake over a net.Pipe end,
// mirroring the client helpers in handshake.go/mainloop.go so the two
// sides stay in lockstep.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
}

func (f *fakeServer) writeBytes(b []byte) {
	f.t.Helper()
	_, err := f.conn.Write(b)
	require.NoError(f.t, err)
}

func (f *fakeServer) readExactly(n int) []byte {
	f.t.Helper()
	buf, err := readFull(f.conn, n)
	require.NoError(f.t, err)
	return buf
}

// rectHeader encodes a rectangle header (x,y,w,h,encoding).
func rectHeader(x, y, w, h uint16, enc int32) []byte {
	var buf bytes.Buffer
	writeUint16(&buf, x)
	writeUint16(&buf, y)
	writeUint16(&buf, w)
	writeUint16(&buf, h)
	writeInt32(&buf, enc)
	return buf.Bytes()
}

// runHandshakeScenario runs a full 3.8/None-auth handshake against conn,
// then writes three successive FramebufferUpdate messages exercising
// Raw, CopyRect, and the DesktopSize pseudo-encoding, matching spec.md
// §8 scenarios 1, 3, and 6.
func runHandshakeScenario(t *testing.T, conn net.Conn) {
	t.Helper()
	srv := &fakeServer{t: t, conn: conn}

	srv.writeBytes([]byte(version38))
	srv.readExactly(12) // client's version reply

	srv.writeBytes([]byte{1, secTypeNone}) // one security type offered: None
	srv.readExactly(1)                     // client's chosen type echo

	var result bytes.Buffer
	writeUint32(&result, 0)
	srv.writeBytes(result.Bytes()) // SecurityResult: ok

	srv.readExactly(1) // ClientInit shared-flag byte

	var serverInit bytes.Buffer
	writeUint16(&serverInit, 640)
	writeUint16(&serverInit, 480)
	pf := BGRA32
	require.NoError(t, pf.WriteTo(&serverInit))
	writeUint32(&serverInit, 0) // zero-length desktop name
	srv.writeBytes(serverInit.Bytes())

	srv.readExactly(1 + 3 + 16) // SetPixelFormat
	srv.readExactly(1 + 1 + 2 + len(defaultRequestedEncodings)*4) // SetEncodings

	// Scenario 1: a single 640x480 Raw rectangle, every pixel the wire
	// bytes 0x11,0x22,0x33,0x44 (the last byte is the padding channel
	// BGRA32 never reads back out).
	pixel := []byte{0x11, 0x22, 0x33, 0x44}
	var update1 bytes.Buffer
	update1.WriteByte(0) // FramebufferUpdate opcode
	writePadding(&update1, 1)
	writeUint16(&update1, 1) // nRects
	update1.Write(rectHeader(0, 0, 640, 480, encodingRaw))
	for i := 0; i < 640*480; i++ {
		update1.Write(pixel)
	}
	srv.writeBytes(update1.Bytes())

	// Scenario 3: CopyRect from (0,0) into (10,10,100,100).
	var update2 bytes.Buffer
	update2.WriteByte(0)
	writePadding(&update2, 1)
	writeUint16(&update2, 1)
	update2.Write(rectHeader(10, 10, 100, 100, encodingCopyRect))
	writeUint16(&update2, 0) // srcX
	writeUint16(&update2, 0) // srcY
	srv.writeBytes(update2.Bytes())

	// Scenario 6: DesktopSize pseudo-rectangle resizing to 1024x768.
	var update3 bytes.Buffer
	update3.WriteByte(0)
	writePadding(&update3, 1)
	writeUint16(&update3, 1)
	update3.Write(rectHeader(0, 0, 1024, 768, encodingDesktopSize))
	srv.writeBytes(update3.Bytes())
}

// runLegacyNoneHandshake drives a 3.3 or 3.7 handshake that negotiates
// security type None, then proceeds straight to ClientInit/ServerInit
// without ever sending a SecurityResult -- the behavior real servers
// at those versions use, and which this engine must not block
// waiting for.
func runLegacyNoneHandshake(t *testing.T, conn net.Conn, banner string, offerAsList bool) {
	t.Helper()
	srv := &fakeServer{t: t, conn: conn}

	srv.writeBytes([]byte(banner))
	srv.readExactly(12)

	if offerAsList {
		srv.writeBytes([]byte{1, secTypeNone}) // 3.7-style list of one
		srv.readExactly(1)                     // client's chosen type echo
	} else {
		var dictated bytes.Buffer
		writeUint32(&dictated, secTypeNone) // 3.3-style dictated u32, no list
		srv.writeBytes(dictated.Bytes())
		// 3.3 never asks the client to echo a choice.
	}

	// No SecurityResult here: that is the point of this scenario.

	srv.readExactly(1) // ClientInit shared-flag byte

	var serverInit bytes.Buffer
	writeUint16(&serverInit, 320)
	writeUint16(&serverInit, 240)
	pf := BGRA32
	require.NoError(t, pf.WriteTo(&serverInit))
	writeUint32(&serverInit, 0)
	srv.writeBytes(serverInit.Bytes())

	srv.readExactly(1 + 3 + 16)
	srv.readExactly(1 + 1 + 2 + len(defaultRequestedEncodings)*4)
}

func TestSessionHandshakeVersion33NoSecurityResult(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go runLegacyNoneHandshake(t, serverConn, version33, false)

	sess, err := NewBuilder().
		WithTransport(clientConn).
		WithAuthProvider(func(context.Context) (string, error) { return "", nil }).
		Build()
	require.NoError(t, err)

	require.NoError(t, sess.TryStart(context.Background()))
	assert.Equal(t, StateConnected, sess.State())
}

func TestSessionHandshakeVersion37NoSecurityResult(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go runLegacyNoneHandshake(t, serverConn, version37, true)

	sess, err := NewBuilder().
		WithTransport(clientConn).
		WithAuthProvider(func(context.Context) (string, error) { return "", nil }).
		Build()
	require.NoError(t, err)

	require.NoError(t, sess.TryStart(context.Background()))
	assert.Equal(t, StateConnected, sess.State())
}

// recvEvent waits up to a short timeout for the next event, failing the
// test instead of hanging forever if the session never produces one.
func recvEvent(t *testing.T, events <-chan VncEvent) VncEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return VncEvent{}
	}
}

func TestSessionEndToEndRawCopyRectDesktopSize(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go runHandshakeScenario(t, serverConn)

	sess, err := NewBuilder().
		WithTransport(clientConn).
		WithAuthProvider(func(context.Context) (string, error) { return "", nil }).
		Build()
	require.NoError(t, err)

	require.NoError(t, sess.TryStart(context.Background()))
	assert.Equal(t, StateConnected, sess.State())

	go sess.Finish(context.Background())

	// TryStart's own initial events, emitted before Finish ever runs.
	ev := recvEvent(t, sess.Events())
	assert.Equal(t, EventSetResolution, ev.Type)
	assert.Equal(t, Screen{Width: 640, Height: 480}, ev.Screen)

	ev = recvEvent(t, sess.Events())
	assert.Equal(t, EventSetPixelFormat, ev.Type)

	// Scenario 1: the Raw rectangle.
	ev = recvEvent(t, sess.Events())
	assert.Equal(t, EventRawImage, ev.Type)
	assert.Equal(t, Rect{X: 0, Y: 0, Width: 640, Height: 480}, ev.Rect)
	require.Len(t, ev.Data, 640*480*4)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0}, ev.Data[0:4])
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0}, ev.Data[len(ev.Data)-4:])

	// Scenario 3: CopyRect makes no pixel changes, only reports src/dst.
	ev = recvEvent(t, sess.Events())
	assert.Equal(t, EventCopy, ev.Type)
	assert.Equal(t, Rect{X: 10, Y: 10, Width: 100, Height: 100}, ev.Rect)
	assert.Equal(t, Rect{X: 0, Y: 0, Width: 100, Height: 100}, ev.Src)

	// Scenario 6: DesktopSize updates the negotiated screen.
	ev = recvEvent(t, sess.Events())
	assert.Equal(t, EventSetResolution, ev.Type)
	assert.Equal(t, Screen{Width: 1024, Height: 768}, ev.Screen)
}
