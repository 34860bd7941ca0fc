package bitflyer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestDecodeChannelMessage(t *testing.T) {
	w := NewWSClient("", discardLogger())
	raw := `{"jsonrpc":"2.0","method":"channelMessage","params":{"channel":"lightning_board_BTC_JPY","message":{"mid_price":100,"asks":[{"price":101,"size":1}],"bids":[]}}}`

	msg, ok, err := w.decode([]byte(raw))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lightning_board_BTC_JPY", msg.Event)

	var b Board
	require.NoError(t, json.Unmarshal(msg.Payload, &b))
	asks, bids := b.Levels()
	assert.Equal(t, []domain.PriceLevel{{Price: 101, Size: 1}}, asks)
	assert.Empty(t, bids)
}

func TestDecodeSkipsResponsesAndFlagsGarbage(t *testing.T) {
	w := NewWSClient("", discardLogger())

	_, ok, err := w.decode([]byte(`{"jsonrpc":"2.0","id":1,"result":true}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = w.decode([]byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32600,"message":"bad"}}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = w.decode([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrMalformed)

	msg, ok, err := w.decode([]byte(`{"jsonrpc":"2.0","method":"kicked","params":{}}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "kicked", msg.Event)
}

func TestExecutionToMarketTrade(t *testing.T) {
	raw := `{"id":39361,"side":"SELL","price":4290000,"size":0.01,"exec_date":"2024-03-01T10:00:00.1234567Z","buy_child_order_acceptance_id":"JRF-B","sell_child_order_acceptance_id":"JRF-S"}`
	var e Execution
	require.NoError(t, json.Unmarshal([]byte(raw), &e))

	id := domain.Identity{DataCenter: "dc", ProcessID: "proc"}
	now := time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC)
	tr := e.ToMarketTrade(id, "BTCJPY", now)

	assert.Equal(t, domain.SideSell, tr.Side)
	assert.Equal(t, 4290000.0, tr.Price)
	assert.Equal(t, 0.01, tr.Size)
	assert.Equal(t, "39361", tr.TradeID)
	assert.Equal(t, "JRF-B;JRF-S", tr.OrderIDs)
	assert.True(t, tr.Timestamp.Equal(now))
	assert.Equal(t, 2024, tr.MarketCreatedAt.Year())
	assert.Equal(t, domain.VenueBitflyer, tr.Venue)
	assert.Equal(t, "dc", tr.DataCenter)
}

func TestWSClientSubscribeAndReceive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req rpcRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		params, _ := json.Marshal(req.Params)
		subscribed <- req.Method + " " + string(params)

		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": true})
		_ = conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"method":  "channelMessage",
			"params": map[string]any{
				"channel": "lightning_executions_BTC_JPY",
				"message": []any{},
			},
		})
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), discardLogger())
	require.NoError(t, w.Connect(ctx))
	require.NoError(t, w.Subscribe(ctx, "lightning_executions_BTC_JPY"))
	assert.Equal(t, `subscribe {"channel":"lightning_executions_BTC_JPY"}`, <-subscribed)

	msg, err := w.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lightning_executions_BTC_JPY", msg.Event)
	assert.JSONEq(t, `[]`, string(msg.Payload))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.Receive(ctx)
	assert.ErrorIs(t, err, domain.ErrWSDisconnect)
}
