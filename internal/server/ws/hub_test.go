package ws

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func header(sym string) domain.Header {
	return domain.Header{Instrument: sym, Venue: domain.VenueBitflyer, Timestamp: time.Unix(1700000000, 0).UTC()}
}

type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "rate:BTCJPY", Channel(domain.Rate{Header: header("BTCJPY")}))
	assert.Equal(t, "book:FXBTCJPY", Channel(domain.MarketBook{Header: header("FXBTCJPY")}))
	assert.Equal(t, "trade:ETHJPY", Channel(domain.MarketTrade{Header: header("ETHJPY")}))
}

func TestHubDeliversBySubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(Config{Mode: "record"}, testLogger())
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readFrame(t, conn)
	assert.Equal(t, "hub_status", status.Type)
	assert.Equal(t, 1, hub.Clients())

	// Books are not subscribed by default, so only the rate arrives.
	require.NoError(t, hub.Accept(ctx, domain.MarketBook{Header: header("BTCJPY")}))
	require.NoError(t, hub.Accept(ctx, domain.Rate{Header: header("BTCJPY"), BestBid: 99, BestAsk: 101, MidPrice: 100}))

	f := readFrame(t, conn)
	assert.Equal(t, "Rate", f.Type)
	assert.Equal(t, "rate:BTCJPY", f.Channel)
	var r domain.Rate
	require.NoError(t, json.Unmarshal(f.Payload, &r))
	assert.Equal(t, 100.0, r.MidPrice)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: []string{"book:BTCJPY"}}))
	ack := readFrame(t, conn)
	assert.Equal(t, "subscriptions", ack.Type)
	assert.Contains(t, string(ack.Payload), "book:BTCJPY")

	require.NoError(t, hub.Accept(ctx, domain.MarketBook{
		Header: header("BTCJPY"),
		Bids:   []domain.PriceLevel{{Price: 99, Size: 1}},
	}))
	f = readFrame(t, conn)
	assert.Equal(t, "MarketBook", f.Type)
	assert.Equal(t, "book:BTCJPY", f.Channel)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"rate:*"}}))
	assert.Equal(t, "subscriptions", readFrame(t, conn).Type)

	require.NoError(t, hub.Accept(ctx, domain.Rate{Header: header("BTCJPY")}))
	require.NoError(t, hub.Accept(ctx, domain.MarketTrade{Header: header("BTCJPY"), TradeID: "7"}))
	assert.Equal(t, "MarketTrade", readFrame(t, conn).Type)
}

func TestHubAcceptDropsWhenNotRunning(t *testing.T) {
	hub := NewHub(Config{}, testLogger())
	for i := 0; i < broadcastSize+5; i++ {
		require.NoError(t, hub.Accept(context.Background(), domain.Rate{Header: header("BTCJPY")}))
	}
	assert.Equal(t, int64(5), hub.Dropped())
}

func TestClientWildcardSubscription(t *testing.T) {
	c := &client{subs: map[string]bool{"book:*": true, "trade:BTCJPY": true}}
	assert.True(t, c.subscribed("book:ETHJPY"))
	assert.True(t, c.subscribed("trade:BTCJPY"))
	assert.False(t, c.subscribed("trade:ETHJPY"))
	assert.False(t, c.subscribed("rate:BTCJPY"))
}
