package nats

import (
	"context"
	"fmt"

	"github.com/tunogya/fractal/pkg/drift"
	"github.com/tunogya/fractal/pkg/forecast"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/outcome"
)

// Sender is the publish side of a client
type Sender interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Publisher turns engine events into stream messages
type Publisher struct {
	sender Sender
}

// NewPublisher creates a publisher sending through s
func NewPublisher(s Sender) *Publisher {
	return &Publisher{sender: s}
}

var (
	_ forecast.Publisher       = (*Publisher)(nil)
	_ outcome.Publisher        = (*Publisher)(nil)
	_ drift.ConsensusPublisher = (*Publisher)(nil)
)

func (p *Publisher) send(ctx context.Context, subject string, msg any) error {
	data, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", subject, err)
	}
	return p.sender.Publish(ctx, subject, data)
}

// PublishCandles requests a candle batch write
func (p *Publisher) PublishCandles(ctx context.Context, symbol, timeframe string, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	return p.send(ctx, SubjectCandleWrite, CandleBatchMsg{Symbol: symbol, Timeframe: timeframe, Candles: candles})
}

// PublishForecast announces an appended forecast point
func (p *Publisher) PublishForecast(ctx context.Context, point model.ForecastPoint) error {
	return p.send(ctx, SubjectForecastCreated, ForecastMsg{Point: point})
}

// PublishOutcome announces a resolved outcome
func (p *Publisher) PublishOutcome(ctx context.Context, o model.Outcome) error {
	return p.send(ctx, SubjectOutcomeResolved, OutcomeMsg{Outcome: o})
}

// PublishConsensus announces a written consensus record
func (p *Publisher) PublishConsensus(ctx context.Context, rec model.ConsensusHistoryRecord) error {
	return p.send(ctx, SubjectConsensusRecorded, ConsensusMsg{Record: rec})
}
