package generator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/vwap-stream/pkg/models"
)

// batchKey pins every batch to one partition so trades stay in order
const batchKey = "trades"

// TradeGenerator publishes synthetic trade batches: prices random-walk
// around a base, volumes are random and occasionally zero.
type TradeGenerator struct {
	logger    *zap.Logger
	writer    KafkaWriter
	symbols   []string
	prices    map[string]float64
	rand      Rand
	clock     Clock
	batchSize int
	interval  time.Duration
}

func NewTradeGenerator(
	logger *zap.Logger,
	writer KafkaWriter,
	symbols []string,
	basePrices map[string]float64,
	rnd Rand,
	clock Clock,
	batchSize int,
	interval time.Duration,
) *TradeGenerator {
	prices := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		p, ok := basePrices[s]
		if !ok {
			p = 100.0
		}
		prices[s] = p
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &TradeGenerator{
		logger:    logger,
		writer:    writer,
		symbols:   symbols,
		prices:    prices,
		rand:      rnd,
		clock:     clock,
		batchSize: batchSize,
		interval:  interval,
	}
}

func (g *TradeGenerator) Run(ctx context.Context) {
	g.logger.Info("Generator Started", zap.Strings("symbols", g.symbols), zap.Int("batch_size", g.batchSize))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(g.symbols) == 0 {
				g.clock.Sleep(1 * time.Second)
				continue
			}

			payload, err := json.Marshal(g.nextBatch())
			if err != nil {
				g.logger.Error("JSON Marshal Error", zap.Error(err))
				continue
			}

			err = g.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(batchKey),
				Value: payload,
			})
			if err != nil {
				g.logger.Error("Kafka Write Error", zap.Error(err))
			}

			g.clock.Sleep(g.interval)
		}
	}
}

func (g *TradeGenerator) nextBatch() models.TradeBatch {
	batch := models.TradeBatch{Type: models.BatchTypeTrade, Data: make([]json.RawMessage, 0, g.batchSize)}
	now := g.clock.Now().UnixMilli()

	for i := 0; i < g.batchSize; i++ {
		symbol := g.symbols[g.rand.Intn(len(g.symbols))]

		// +/-0.5% step
		price := g.prices[symbol] * (1 + (g.rand.Float64()-0.5)/100)
		g.prices[symbol] = price

		volume := float64(g.rand.Intn(100))

		entry, err := json.Marshal(models.TradeEntry{Time: now, Symbol: symbol, Price: price, Volume: volume})
		if err != nil {
			g.logger.Error("JSON Marshal Error", zap.Error(err))
			continue
		}
		batch.Data = append(batch.Data, entry)
	}
	return batch
}
