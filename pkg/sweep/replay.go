package sweep

import (
	"context"
	"fmt"

	"github.com/tunogya/fractal/pkg/analog"
	"github.com/tunogya/fractal/pkg/data"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/outcome"
	"github.com/tunogya/fractal/pkg/window"
)

// VintageSuffix marks model IDs of replayed outcomes so they never collide with live points
const VintageSuffix = "/vintage"

// Replay walks the series with the analog model and returns one VINTAGE outcome per decision.
// The outcomes feed the drift monitor's vintage cohorts.
func Replay(ctx context.Context, symbol string, candles []model.Candle, cfg analog.Config, step int) ([]model.Outcome, error) {
	spec := window.Spec{Length: cfg.WindowLength, Horizon: cfg.Horizon}
	signals, err := Signals(ctx, symbol, candles, SignalConfig{
		Spec:        spec,
		TopK:        cfg.TopK,
		MinAnalogs:  cfg.MinAnalogs,
		Temperature: cfg.Temperature,
		Step:        step,
	})
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", cfg.ID(), err)
	}

	modelID := cfg.ID() + VintageSuffix
	outcomes := make([]model.Outcome, 0, len(signals))
	for _, s := range signals {
		dir := model.DirectionOf(s.ExpectedReturn)
		o := model.Outcome{
			Key: model.ForecastKey{
				Symbol:  symbol,
				ModelID: modelID,
				Horizon: spec.Horizon,
				Day:     model.Day(s.Time),
			},
			Cohort:         model.CohortVintage,
			AsOf:           s.Time,
			Horizon:        spec.Horizon,
			Direction:      dir,
			Confidence:     s.Confidence,
			ExpectedReturn: s.ExpectedReturn,
			RealizedReturn: s.Realized,
			Hit:            outcome.Hit(dir, s.Realized),
			ResolvedAt:     candles[s.EndIndex+spec.Horizon].Timestamp(),
		}
		switch dir {
		case model.DirectionUp:
			o.MaxDrawdown = data.MaxAdverseExcursion(candles[s.EndIndex:s.EndIndex+spec.Horizon+1], model.ActionBuy)
		case model.DirectionDown:
			o.MaxDrawdown = data.MaxAdverseExcursion(candles[s.EndIndex:s.EndIndex+spec.Horizon+1], model.ActionSell)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}
