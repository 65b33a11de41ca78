// Package wsconn runs a single websocket session: dial, send subscription
// frames, keep the connection alive with pings and hand every text frame to
// a callback until the connection or the context ends. Reconnecting is the
// caller's concern.
package wsconn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	defaultHandshakeTimeout = 15 * time.Second
)

// Session describes one connection attempt.
type Session struct {
	URL string
	// Subscribe frames are JSON-encoded and written in order right after
	// the handshake.
	Subscribe []any
	// OnConnected runs once the subscription frames have been written.
	OnConnected func()
	// OnMessage receives every text or binary frame.
	OnMessage func([]byte)
	// ConnectTimeout bounds the dial plus subscription.
	ConnectTimeout time.Duration
}

// Run dials s.URL and pumps messages until the connection fails or ctx is
// cancelled. It always returns a non-nil error: ctx.Err() on cancellation,
// otherwise an error wrapping domain.ErrWSDisconnect.
func Run(ctx context.Context, s Session) error {
	timeout := s.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(dialCtx, s.URL, nil)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("wsconn: connect %s: %w: %w", s.URL, domain.ErrWSDisconnect, err)
	}

	var writeMu sync.Mutex
	write := func(msgType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(msgType, data)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for _, frame := range s.Subscribe {
		data, err := json.Marshal(frame)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("wsconn: marshal subscription: %w", err)
		}
		if err := write(websocket.TextMessage, data); err != nil {
			_ = conn.Close()
			return fmt.Errorf("wsconn: subscribe %s: %w: %w", s.URL, domain.ErrWSDisconnect, err)
		}
	}
	if s.OnConnected != nil {
		s.OnConnected()
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	readErr := readLoop(conn, s.OnMessage)
	close(done)
	_ = conn.Close()
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("wsconn: read %s: %w: %w", s.URL, domain.ErrWSDisconnect, readErr)
}

func readLoop(conn *websocket.Conn, onMessage func([]byte)) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if onMessage != nil {
			onMessage(message)
		}
	}
}
