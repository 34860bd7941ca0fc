package feed

import "strings"

// Class is the logical kind of an inbound feed message.
type Class int

const (
	ClassUnknown Class = iota
	ClassExecutions
	ClassTicker
	ClassBoardSnapshot
	ClassBoard
	ClassKicked
)

func (c Class) String() string {
	switch c {
	case ClassExecutions:
		return "executions"
	case ClassTicker:
		return "ticker"
	case ClassBoardSnapshot:
		return "board_snapshot"
	case ClassBoard:
		return "board"
	case ClassKicked:
		return "kicked"
	default:
		return "unknown"
	}
}

// classTokens is matched in order; board_snapshot must precede board.
var classTokens = []struct {
	class Class
	token string
}{
	{ClassExecutions, "executions"},
	{ClassTicker, "ticker"},
	{ClassBoardSnapshot, "board_snapshot"},
	{ClassBoard, "board"},
	{ClassKicked, "kicked"},
}

// Classify maps an event name such as "lightning_board_snapshot_BTC_JPY" to
// its class and instrument. The instrument is whatever follows the last
// "<token>_" with every "_" removed ("BTCJPY"); when the event does not
// contain "<token>_" the whole event name is used the same way.
func Classify(event string) (Class, string) {
	for _, ct := range classTokens {
		if !strings.Contains(event, ct.token) {
			continue
		}
		if ct.class == ClassKicked {
			return ct.class, ""
		}
		return ct.class, InstrumentFromEvent(event, ct.token)
	}
	return ClassUnknown, ""
}

// InstrumentFromEvent extracts the instrument following the last
// occurrence of token+"_".
func InstrumentFromEvent(event, token string) string {
	tail := event
	if i := strings.LastIndex(event, token+"_"); i >= 0 {
		tail = event[i+len(token)+1:]
	}
	return strings.ReplaceAll(tail, "_", "")
}
