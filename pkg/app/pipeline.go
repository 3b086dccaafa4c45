package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tunogya/fractal/pkg/drift"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/outcome"
)

// Series loads the price series a verdict is computed on. The Milvus backend stores window
// positions relative to the full series, so the whole history is loaded when it is enabled.
func (a *App) Series(ctx context.Context, symbol string) ([]model.Candle, error) {
	var (
		candles []model.Candle
		err     error
	)
	if a.Milvus != nil {
		candles, err = a.Candles.FetchCandles(ctx, symbol, a.Config.Timeframe, time.Time{}, a.now())
	} else {
		candles, err = a.Candles.FetchLatestCandles(ctx, symbol, a.Config.Timeframe, a.Config.History)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s candles: %w", symbol, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no %s candles for %s: %w", a.Config.Timeframe, symbol, model.ErrInsufficientHistory)
	}
	return candles, nil
}

// Warm replays stored live outcomes into the drift monitor so that a restarted process
// keeps its live window
func (a *App) Warm(ctx context.Context) (int, error) {
	total := 0
	for _, symbol := range a.Config.Symbols {
		outcomes, err := a.Forecasts.Outcomes(ctx, symbol, time.Time{}, time.Time{})
		if err != nil {
			return total, fmt.Errorf("load %s outcomes: %w", symbol, err)
		}
		a.Monitor.Reset(symbol)
		for _, o := range outcomes {
			if o.Cohort == model.CohortLive {
				a.Monitor.Observe(o)
				total++
			}
		}
	}
	a.Log.Info().Int("outcomes", total).Msg("Drift monitor warmed")
	return total, nil
}

// Evaluate refreshes the drift report of a symbol against its stored vintage outcomes
func (a *App) Evaluate(ctx context.Context, symbol string) (drift.IntelReport, error) {
	vintage, err := a.Forecasts.Vintage(ctx, symbol)
	if err != nil {
		return drift.IntelReport{}, fmt.Errorf("load %s vintage: %w", symbol, err)
	}
	return a.Monitor.Evaluate(symbol, vintage), nil
}

// Verdict evaluates drift and then runs the ensemble on the latest series of a symbol.
// Health modifiers read the report produced here.
func (a *App) Verdict(ctx context.Context, symbol string) (model.Verdict, drift.IntelReport, []model.Candle, error) {
	candles, err := a.Series(ctx, symbol)
	if err != nil {
		return model.Verdict{}, drift.IntelReport{}, nil, err
	}
	report, err := a.Evaluate(ctx, symbol)
	if err != nil {
		return model.Verdict{}, drift.IntelReport{}, nil, err
	}

	req := model.PredictionRequest{
		Symbol:    symbol,
		Timeframe: a.Config.Timeframe,
		AsOf:      a.now(),
		Candles:   candles,
	}
	v, err := a.Selector.Select(ctx, req)
	if err != nil {
		return model.Verdict{}, report, candles, err
	}
	return v, report, candles, nil
}

// Daily computes the verdict of a symbol and records today's consensus snapshot
func (a *App) Daily(ctx context.Context, symbol string) (model.Verdict, model.ConsensusHistoryRecord, error) {
	v, report, candles, err := a.Verdict(ctx, symbol)
	if err != nil {
		return model.Verdict{}, model.ConsensusHistoryRecord{}, err
	}
	rec, _, err := a.ConsensusService.Snapshot(ctx, symbol, a.Config.Drift.Source, v, report, candles, a.now())
	if err != nil {
		return v, rec, err
	}
	return v, rec, nil
}

// DailyAll runs Daily for every configured symbol. A failing symbol does not stop the others.
func (a *App) DailyAll(ctx context.Context) error {
	failed := 0
	for _, symbol := range a.Config.Symbols {
		if _, _, err := a.Daily(ctx, symbol); err != nil {
			failed++
			a.Log.Error().Err(err).Str("symbol", symbol).Msg("Daily verdict failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d symbols failed: %w", failed, len(a.Config.Symbols), model.ErrProviderFailure)
	}
	return nil
}

// Resolve resolves every due forecast
func (a *App) Resolve(ctx context.Context) (outcome.RunResult, error) {
	return a.Resolver.Run(ctx)
}
