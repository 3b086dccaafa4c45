package nats

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tunogya/fractal/pkg/drift"
	"github.com/tunogya/fractal/pkg/forecast"
	"github.com/tunogya/fractal/pkg/model"
)

// CandleSink persists candle batches
type CandleSink interface {
	InsertBatch(ctx context.Context, candles []model.Candle) error
}

// StoredFunc runs after a batch of a series was persisted
type StoredFunc func(ctx context.Context, symbol, timeframe string) error

// CandleHandler is the consumer side of candle write requests
type CandleHandler struct {
	sink     CandleSink
	onStored StoredFunc
	log      zerolog.Logger
}

// NewCandleHandler creates a handler. onStored may be nil.
func NewCandleHandler(sink CandleSink, onStored StoredFunc, log zerolog.Logger) *CandleHandler {
	return &CandleHandler{
		sink:     sink,
		onStored: onStored,
		log:      log.With().Str("component", "candle_writer").Logger(),
	}
}

// Handle decodes and persists one candle batch
func (h *CandleHandler) Handle(ctx context.Context, data []byte) error {
	batch, err := Decode[CandleBatchMsg](data)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to decode candle batch")
		return err
	}
	if len(batch.Candles) == 0 {
		return nil
	}

	for _, c := range batch.Candles {
		if c.Symbol != batch.Symbol || (batch.Timeframe != "" && c.Timeframe != batch.Timeframe) {
			return fmt.Errorf("candle %s/%s in batch of %s/%s: %w", c.Symbol, c.Timeframe, batch.Symbol, batch.Timeframe, model.ErrInvalidConfig)
		}
	}

	if err := h.sink.InsertBatch(ctx, batch.Candles); err != nil {
		h.log.Error().Err(err).Str("symbol", batch.Symbol).Msg("Failed to insert candles")
		return err
	}
	h.log.Info().Str("symbol", batch.Symbol).Int("candles", len(batch.Candles)).Msg("Candles stored")

	if h.onStored != nil {
		if err := h.onStored(ctx, batch.Symbol, batch.Timeframe); err != nil {
			h.log.Warn().Err(err).Str("symbol", batch.Symbol).Msg("Post-store hook failed")
			return err
		}
	}
	return nil
}

// EventHandler persists published engine events into durable stores
type EventHandler struct {
	forecasts forecast.Store
	consensus drift.ConsensusStore
	log       zerolog.Logger
}

// NewEventHandler creates an event handler
func NewEventHandler(forecasts forecast.Store, consensus drift.ConsensusStore, log zerolog.Logger) *EventHandler {
	return &EventHandler{
		forecasts: forecasts,
		consensus: consensus,
		log:       log.With().Str("component", "event_writer").Logger(),
	}
}

// HandleForecast appends a published forecast point. Redelivered points are no-ops.
func (h *EventHandler) HandleForecast(ctx context.Context, data []byte) error {
	msg, err := Decode[ForecastMsg](data)
	if err != nil {
		return err
	}
	inserted, err := h.forecasts.Append(ctx, msg.Point)
	if err != nil {
		return err
	}
	h.log.Debug().Str("key", msg.Point.Key().String()).Bool("inserted", inserted).Msg("Forecast event stored")
	return nil
}

// HandleOutcome stores a published outcome. Redelivered outcomes are no-ops.
func (h *EventHandler) HandleOutcome(ctx context.Context, data []byte) error {
	msg, err := Decode[OutcomeMsg](data)
	if err != nil {
		return err
	}
	inserted, err := h.forecasts.SaveOutcome(ctx, msg.Outcome)
	if err != nil {
		return err
	}
	h.log.Debug().Str("key", msg.Outcome.Key.String()).Bool("inserted", inserted).Msg("Outcome event stored")
	return nil
}

// HandleConsensus upserts a published consensus record. The record's own update time is the
// reference day, so a late delivery of a same-day snapshot is still accepted.
func (h *EventHandler) HandleConsensus(ctx context.Context, data []byte) error {
	msg, err := Decode[ConsensusMsg](data)
	if err != nil {
		return err
	}
	res, err := h.consensus.Upsert(ctx, msg.Record, msg.Record.UpdatedAt)
	if err != nil {
		return err
	}
	h.log.Debug().Str("symbol", msg.Record.Symbol).Str("date", msg.Record.Date).Str("result", string(res)).Msg("Consensus event stored")
	return nil
}
