package domain

import (
	"time"

	"github.com/google/uuid"
)

// Venue and category values stamped on every normalized record.
const (
	VenueBitflyer     = "bitflyer"
	CategoryLightning = "lightning"
)

// Identity is the per-process stamp carried on every record. It is computed
// once at startup and passed to each component that creates records.
type Identity struct {
	DataCenter string `json:"data_center"`
	ProcessID  string `json:"process_id"`
}

// Header is the set of fields shared by every normalized record.
type Header struct {
	Timestamp       time.Time `json:"timestamp"`
	MarketCreatedAt time.Time `json:"market_created_timestamp"`
	Instrument      string    `json:"sym"`
	Venue           string    `json:"venue"`
	Category        string    `json:"category"`
	Misc            string    `json:"misc"`
	UniversalID     string    `json:"universal_id"`
	DataCenter      string    `json:"data_center"`
	ProcessID       string    `json:"process_id"`
}

// NewHeader returns a header for instrument stamped with a fresh universal id
// and the process identity.
func (id Identity) NewHeader(instrument, misc string, ts, marketCreatedAt time.Time) Header {
	return Header{
		Timestamp:       ts,
		MarketCreatedAt: marketCreatedAt,
		Instrument:      instrument,
		Venue:           VenueBitflyer,
		Category:        CategoryLightning,
		Misc:            misc,
		UniversalID:     uuid.NewString(),
		DataCenter:      id.DataCenter,
		ProcessID:       id.ProcessID,
	}
}

// Restamp returns a copy of h with a new universal id, misc tag and
// timestamps, as done for every book emitted after a delta.
func (h Header) Restamp(misc string, now time.Time) Header {
	h.UniversalID = uuid.NewString()
	h.Misc = misc
	h.Timestamp = now
	h.MarketCreatedAt = now
	return h
}
