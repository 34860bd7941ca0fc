package bitflyer

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// --------------------------------------------------------------------------
// Realtime API payloads
// --------------------------------------------------------------------------

// PriceSize is a single price+size entry in a board message.
type PriceSize struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Board is the payload of both board_snapshot and board (diff) channels.
type Board struct {
	MidPrice float64     `json:"mid_price"`
	Asks     []PriceSize `json:"asks"`
	Bids     []PriceSize `json:"bids"`
}

// Levels converts the board sides into domain price levels.
func (b Board) Levels() (asks, bids []domain.PriceLevel) {
	return toLevels(b.Asks), toLevels(b.Bids)
}

func toLevels(in []PriceSize) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(in))
	for i, ps := range in {
		out[i] = domain.PriceLevel{Price: ps.Price, Size: ps.Size}
	}
	return out
}

// Execution is one element of an executions channel message.
type Execution struct {
	ID                         int64     `json:"id"`
	Side                       string    `json:"side"` // "BUY", "SELL" or "" for itayose
	Price                      float64   `json:"price"`
	Size                       float64   `json:"size"`
	ExecDate                   time.Time `json:"exec_date"`
	BuyChildOrderAcceptanceID  string    `json:"buy_child_order_acceptance_id"`
	SellChildOrderAcceptanceID string    `json:"sell_child_order_acceptance_id"`
}

// ToMarketTrade normalizes the execution. The venue's exec_date becomes the
// market-created timestamp and receivedAt the record timestamp.
func (e Execution) ToMarketTrade(id domain.Identity, instrument string, receivedAt time.Time) domain.MarketTrade {
	return domain.MarketTrade{
		Header:   id.NewHeader(instrument, "", receivedAt, e.ExecDate),
		Price:    e.Price,
		Size:     e.Size,
		Side:     domain.SideFromString(e.Side),
		OrderIDs: strings.Join([]string{e.BuyChildOrderAcceptanceID, e.SellChildOrderAcceptanceID}, ";"),
		TradeID:  strconv.FormatInt(e.ID, 10),
	}
}

// --------------------------------------------------------------------------
// JSON-RPC 2.0 envelopes
// --------------------------------------------------------------------------

type rpcRequest struct {
	Version string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type channelParams struct {
	Channel string `json:"channel"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcInbound covers both responses (ID set) and notifications (Method set).
type rpcInbound struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type channelMessage struct {
	Channel string          `json:"channel"`
	Message json.RawMessage `json:"message"`
}

// Message is one inbound notification: the logical event name (the channel
// for channelMessage notifications, the method otherwise) and its payload.
type Message struct {
	Event   string
	Payload json.RawMessage
}
