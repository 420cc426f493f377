// Package vnc implements the client side of the Remote Framebuffer (RFB)
// protocol described in RFC 6143, commonly known as VNC.
//
// The package is a stream-driven protocol translator: it consumes a
// bidirectional byte stream connected to an RFB server plus a trickle of
// UI events from a host application, and emits a sequence of framebuffer
// update events for the host to render. It does not own a network socket
// or a display surface; both are supplied by the embedding program through
// the Transport interface and the VncEvent channel.
package vnc
