package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shubham-shewale/vwap-stream/pkg/models"
)

var (
	ErrMalformedBatch = errors.New("malformed trade batch")
	ErrMalformedEntry = errors.New("malformed trade entry")
)

// wireEntry uses pointers so missing fields can be told apart from zero values
type wireEntry struct {
	Time   *int64   `json:"t"`
	Symbol *string  `json:"s"`
	Price  *float64 `json:"p"`
	Volume *float64 `json:"v"`
}

// DecodeBatch parses the envelope only; entries are left raw
func DecodeBatch(value []byte) (models.TradeBatch, error) {
	var batch models.TradeBatch
	if err := json.Unmarshal(value, &batch); err != nil {
		return models.TradeBatch{}, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	return batch, nil
}

// IsTradeBatch reports whether the batch carries trades. An absent type is treated as trades.
func IsTradeBatch(batch models.TradeBatch) bool {
	return batch.Type == "" || batch.Type == models.BatchTypeTrade
}

// DecodeEntry parses and validates one trade entry
func DecodeEntry(raw json.RawMessage) (models.TradeRecord, error) {
	var e wireEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return models.TradeRecord{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}

	switch {
	case e.Symbol == nil || *e.Symbol == "":
		return models.TradeRecord{}, fmt.Errorf("%w: missing symbol", ErrMalformedEntry)
	case e.Price == nil:
		return models.TradeRecord{}, fmt.Errorf("%w: missing price for %s", ErrMalformedEntry, *e.Symbol)
	case e.Volume == nil:
		return models.TradeRecord{}, fmt.Errorf("%w: missing volume for %s", ErrMalformedEntry, *e.Symbol)
	case e.Time == nil:
		return models.TradeRecord{}, fmt.Errorf("%w: missing time for %s", ErrMalformedEntry, *e.Symbol)
	case *e.Volume < 0:
		return models.TradeRecord{}, fmt.Errorf("%w: negative volume %v for %s", ErrMalformedEntry, *e.Volume, *e.Symbol)
	case !finite(*e.Price) || !finite(*e.Volume) || !finite((*e.Price)*(*e.Volume)):
		return models.TradeRecord{}, fmt.Errorf("%w: price %v * volume %v overflows for %s", ErrMalformedEntry, *e.Price, *e.Volume, *e.Symbol)
	}

	return models.TradeRecord{
		Time:   time.UnixMilli(*e.Time),
		Symbol: *e.Symbol,
		Price:  *e.Price,
		Volume: *e.Volume,
	}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
