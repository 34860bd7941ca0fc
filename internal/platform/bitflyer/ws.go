// Package bitflyer is a client for the bitFlyer Lightning realtime API
// (JSON-RPC 2.0 over WebSocket).
package bitflyer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// DefaultWSURL is the public JSON-RPC endpoint.
const DefaultWSURL = "wss://ws.lightstream.bitflyer.com/json-rpc"

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message or pong.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// WSClient holds a single realtime connection. Reconnection policy belongs
// to the caller: after Receive fails, Close and Connect again.
type WSClient struct {
	wsURL  string
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	stopPing chan struct{}

	writeMu sync.Mutex
	cmdID   atomic.Int64
}

// NewWSClient creates a client for wsURL. An empty URL selects DefaultWSURL.
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &WSClient{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "bitflyer_ws")),
	}
}

// Connect dials the endpoint, replacing any previous connection.
func (w *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bitflyer/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	w.mu.Lock()
	old, oldStop := w.conn, w.stopPing
	w.conn = conn
	w.stopPing = make(chan struct{})
	stop := w.stopPing
	w.mu.Unlock()

	if old != nil {
		close(oldStop)
		old.Close()
	}
	go w.pingLoop(conn, stop)
	return nil
}

// Subscribe requests a channel such as "lightning_board_snapshot_BTC_JPY".
func (w *WSClient) Subscribe(ctx context.Context, channel string) error {
	conn := w.current()
	if conn == nil {
		return fmt.Errorf("bitflyer/ws: subscribe %s: %w", channel, domain.ErrWSDisconnect)
	}

	req := rpcRequest{
		Version: "2.0",
		Method:  "subscribe",
		Params:  channelParams{Channel: channel},
		ID:      w.cmdID.Add(1),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("bitflyer/ws: marshal subscribe: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("bitflyer/ws: subscribe %s: %w", channel, err)
	}
	return nil
}

// Receive blocks until the next notification. RPC responses are consumed
// silently (errors are logged). A read failure is reported as
// domain.ErrWSDisconnect; an undecodable frame as domain.ErrMalformed.
func (w *WSClient) Receive(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		conn := w.current()
		if conn == nil {
			return Message{}, fmt.Errorf("bitflyer/ws: receive: %w", domain.ErrWSDisconnect)
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return Message{}, fmt.Errorf("bitflyer/ws: read: %v: %w", err, domain.ErrWSDisconnect)
		}

		msg, ok, err := w.decode(raw)
		if err != nil {
			return Message{}, err
		}
		if ok {
			return msg, nil
		}
	}
}

// decode turns one frame into a Message. ok is false for RPC responses.
func (w *WSClient) decode(raw []byte) (msg Message, ok bool, err error) {
	var in rpcInbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Message{}, false, fmt.Errorf("bitflyer/ws: decode frame: %v: %w", err, domain.ErrMalformed)
	}

	if in.Method == "" {
		if in.Error != nil {
			w.logger.Warn("rpc error response",
				slog.Int("code", in.Error.Code),
				slog.String("message", in.Error.Message),
			)
		}
		return Message{}, false, nil
	}

	if in.Method != "channelMessage" {
		return Message{Event: in.Method, Payload: in.Params}, true, nil
	}

	var cm channelMessage
	if err := json.Unmarshal(in.Params, &cm); err != nil {
		return Message{}, false, fmt.Errorf("bitflyer/ws: decode channel message: %v: %w", err, domain.ErrMalformed)
	}
	return Message{Event: cm.Channel, Payload: cm.Message}, true, nil
}

// Close releases the current connection. It is safe to call repeatedly and
// concurrently with Receive, which then returns domain.ErrWSDisconnect.
func (w *WSClient) Close() error {
	w.mu.Lock()
	conn, stop := w.conn, w.stopPing
	w.conn, w.stopPing = nil, nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(stop)
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return conn.Close()
}

func (w *WSClient) current() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
