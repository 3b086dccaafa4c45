package nats

import (
	"encoding/json"
	"fmt"

	"github.com/tunogya/fractal/pkg/model"
)

// Subject constants
const (
	SubjectCandleWrite       = "fractal.candles.write"
	SubjectForecastCreated   = "fractal.forecasts.created"
	SubjectOutcomeResolved   = "fractal.outcomes.resolved"
	SubjectConsensusRecorded = "fractal.consensus.recorded"
)

// Subjects lists every subject of the stream
func Subjects() []string {
	return []string{SubjectCandleWrite, SubjectForecastCreated, SubjectOutcomeResolved, SubjectConsensusRecorded}
}

// CandleBatchMsg represents a batch candle write request
type CandleBatchMsg struct {
	Symbol    string         `json:"symbol"`
	Timeframe string         `json:"timeframe"`
	Candles   []model.Candle `json:"candles"`
}

// ForecastMsg announces a newly appended forecast point
type ForecastMsg struct {
	Point model.ForecastPoint `json:"point"`
}

// OutcomeMsg announces a resolved forecast
type OutcomeMsg struct {
	Outcome model.Outcome `json:"outcome"`
}

// ConsensusMsg announces a written consensus snapshot
type ConsensusMsg struct {
	Record model.ConsensusHistoryRecord `json:"record"`
}

// Encode serializes a message to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes a message from JSON bytes
func Decode[T any](data []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode %T: %w", msg, err)
	}
	return msg, nil
}
