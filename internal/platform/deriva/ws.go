package deriva

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 15 * time.Second

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readLimit caps inbound frame size.
	readLimit = 1 << 20
)

// WSClient is a single-session WebSocket connection to the Deriva public
// feed. It delivers raw frames through the onMessage callback and reports the
// read loop's termination exactly once through onDisconnect. Reconnecting is
// the caller's job; a WSClient is used for one session and discarded.
type WSClient struct {
	wsURL        string
	onMessage    func([]byte)
	onDisconnect func(error)

	mu   sync.Mutex
	conn *websocket.Conn

	done      chan struct{}
	closeOnce sync.Once
}

// NewWSClient creates an unconnected client.
//
// wsURL is the public stream endpoint, e.g. "wss://stream.deriva.example/v5/public".
func NewWSClient(wsURL string, onMessage func([]byte), onDisconnect func(error)) *WSClient {
	return &WSClient{
		wsURL:        wsURL,
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
		done:         make(chan struct{}),
	}
}

// Connect dials the feed and starts the read loop.
func (w *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("deriva/ws: connect: %w", err)
	}
	conn.SetReadLimit(readLimit)

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.readLoop(conn)
	return nil
}

// Subscribe requests the given stream topics on the open connection.
func (w *WSClient) Subscribe(topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	data, err := json.Marshal(Command{Op: "subscribe", Args: topics})
	if err != nil {
		return fmt.Errorf("deriva/ws: marshal subscribe: %w", err)
	}
	if err := w.Send(data); err != nil {
		return fmt.Errorf("deriva/ws: subscribe: %w", err)
	}
	return nil
}

// Send writes one text frame to the peer.
func (w *WSClient) Send(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("deriva/ws: not connected")
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close shuts the connection down. The pending read fails, but a Close-initiated
// teardown does not fire onDisconnect.
func (w *WSClient) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		conn := w.conn
		w.conn = nil
		w.mu.Unlock()

		if conn != nil {
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			err = conn.Close()
		}
	})
	return err
}

// readLoop reads frames until the connection fails or Close is called.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			if w.onDisconnect != nil {
				w.onDisconnect(fmt.Errorf("deriva/ws: read: %w", err))
			}
			return
		}
		if w.onMessage != nil {
			w.onMessage(message)
		}
	}
}
