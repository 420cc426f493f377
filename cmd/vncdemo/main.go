// Command vncdemo is a minimal terminal host exercising the engine end
// to end: it dials a server, drives the handshake, logs every VncEvent,
// and periodically requests a refresh.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/rfbgo/vnc"
	"github.com/rfbgo/vnc/transport"
)

var (
	addr     = flag.String("addr", "localhost:5900", "RFB server address")
	password = flag.String("password", "", "password for VNC Authentication, if required")
	shared   = flag.Bool("shared", true, "allow sharing the session with other clients")
)

func main() {
	flag.Parse()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	conn, err := transport.Dial(*addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("dial failed")
	}
	defer conn.Close()

	sess, err := vnc.NewBuilder().
		WithTransport(conn).
		WithAuthProvider(func(ctx context.Context) (string, error) { return *password, nil }).
		WithAllowShared(*shared).
		WithLogger(&log).
		WithConnectTimeout(10 * time.Second).
		Build()
	if err != nil {
		log.Fatal().Err(err).Msg("build failed")
	}

	ctx := context.Background()
	if err := sess.TryStart(ctx); err != nil {
		log.Fatal().Err(err).Msg("handshake failed")
	}

	go refreshLoop(sess)

	finishErr := make(chan error, 1)
	go func() { finishErr <- sess.Finish(ctx) }()

	for ev := range sess.Events() {
		logEvent(&log, ev)
	}
	if err := <-finishErr; err != nil {
		log.Error().Err(err).Msg("session ended")
	}
}

func refreshLoop(sess *vnc.Session) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if sess.State() != vnc.StateConnected {
			return
		}
		_ = sess.HandleX11Event(vnc.X11Event{Type: vnc.X11Refresh})
	}
}

func logEvent(log *zerolog.Logger, ev vnc.VncEvent) {
	switch ev.Type {
	case vnc.EventSetResolution:
		log.Info().Str("screen", ev.Screen.String()).Msg("resolution")
	case vnc.EventSetPixelFormat:
		log.Info().Msg("pixel format negotiated")
	case vnc.EventRawImage, vnc.EventJpegImage:
		log.Debug().Str("rect", ev.Rect.String()).Int("bytes", len(ev.Data)).Msg("image update")
	case vnc.EventCopy:
		log.Debug().Str("dst", ev.Rect.String()).Str("src", ev.Src.String()).Msg("copy")
	case vnc.EventSetCursor:
		log.Debug().Str("rect", ev.Rect.String()).Msg("cursor update")
	case vnc.EventBell:
		log.Info().Msg("bell")
	case vnc.EventText:
		log.Info().Str("text", ev.Text).Msg("server cut text")
	case vnc.EventError:
		log.Error().Err(ev.Err).Msg("engine error")
	}
}
