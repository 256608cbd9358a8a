package models

import (
	"encoding/json"
	"time"
)

// BatchTypeTrade marks a batch carrying trade entries. Other batch types (e.g. "ping") carry no data.
const BatchTypeTrade = "trade"

// TradeEntry is a single trade as it appears on the wire
type TradeEntry struct {
	Time   int64   `json:"t"` // unix millis
	Symbol string  `json:"s"`
	Price  float64 `json:"p"`
	Volume float64 `json:"v"`
}

// TradeBatch is one message from the bus. Entries stay raw so each one can be decoded on its own.
type TradeBatch struct {
	Type string            `json:"type"`
	Data []json.RawMessage `json:"data"`
}

// TradeRecord is a validated trade ready for the accumulator
type TradeRecord struct {
	Time   time.Time
	Symbol string
	Price  float64
	Volume float64
}

// UpdateMessage is what subscribers receive, one JSON object per line.
// VWAP is null while the symbol's window holds no volume.
type UpdateMessage struct {
	Time   int64    `json:"time"` // unix millis, copied from the trade
	Symbol string   `json:"symbol"`
	Price  float64  `json:"price"`
	VWAP   *float64 `json:"vwap"`
}

// NewUpdate builds the outbound update for a trade. ok=false leaves VWAP null.
func NewUpdate(rec TradeRecord, vwap float64, ok bool) UpdateMessage {
	u := UpdateMessage{
		Time:   rec.Time.UnixMilli(),
		Symbol: rec.Symbol,
		Price:  rec.Price,
	}
	if ok {
		v := vwap
		u.VWAP = &v
	}
	return u
}
