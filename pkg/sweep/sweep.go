package sweep

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/window"
)

// ConfigResult is the outcome of one (window length, governor) configuration
type ConfigResult struct {
	WindowLength  int         `json:"window_length"`
	Governor      Governor    `json:"governor"`
	Performance   Performance `json:"performance"`
	DrawdownP95   float64     `json:"drawdown_p95"`
	Passed        bool        `json:"passed"`
	RejectReasons []string    `json:"reject_reasons,omitempty"`
}

// Result is the full sweep output
type Result struct {
	Best                 *ConfigResult  `json:"best,omitempty"`
	WorstCaseDrawdownP95 float64        `json:"worst_case_drawdown_p95"`
	Grid                 []ConfigResult `json:"grid"`
	Errors               []string       `json:"errors,omitempty"`
	Partial              bool           `json:"partial"`
}

// Runner executes sweeps
type Runner struct {
	log zerolog.Logger
}

// NewRunner creates a sweep runner
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log.With().Str("component", "sweep").Logger()}
}

// Run backtests every window length over the candles and scores every governor on the
// resulting trades. Window lengths run in parallel; one that fails is reported in Errors
// and the sweep continues with the rest.
func (r *Runner) Run(ctx context.Context, symbol string, candles []model.Candle, p Params) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	governors := p.grid()

	var (
		mu     sync.Mutex
		result Result
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, length := range p.WindowLengths {
		g.Go(func() error {
			signals, err := Signals(gctx, symbol, candles, SignalConfig{
				Spec:        window.Spec{Length: length, Horizon: p.Horizon},
				TopK:        p.TopK,
				MinAnalogs:  p.MinAnalogs,
				Temperature: p.Temperature,
				AllowShort:  p.AllowShort,
				From:        p.FromDate,
				To:          p.ToDate,
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				result.Errors = append(result.Errors, fmt.Sprintf("window %d: %v", length, err))
				result.Partial = true
				mu.Unlock()
				r.log.Warn().Err(err).Int("window_length", length).Msg("Window length skipped")
				return nil
			}

			rows := make([]ConfigResult, 0, len(governors))
			for j, gov := range governors {
				perf, pnls := Simulate(signals, gov)
				rng := rand.New(rand.NewPCG(p.Seed, uint64(i*len(governors)+j)))
				row := ConfigResult{
					WindowLength: length,
					Governor:     gov,
					Performance:  perf,
					DrawdownP95:  BootstrapDrawdown(pnls, p.Iterations, rng),
				}
				row.RejectReasons = rejectReasons(row, p)
				row.Passed = len(row.RejectReasons) == 0
				rows = append(rows, row)
			}

			mu.Lock()
			result.Grid = append(result.Grid, rows...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	sortGrid(result.Grid)
	sort.Strings(result.Errors)
	for _, row := range result.Grid {
		result.WorstCaseDrawdownP95 = max(result.WorstCaseDrawdownP95, row.DrawdownP95)
	}
	result.Best = best(result.Grid)

	r.log.Info().
		Str("symbol", symbol).
		Int("configs", len(result.Grid)).
		Bool("partial", result.Partial).
		Dur("took", time.Since(start)).
		Msg("Sweep finished")

	if result.Best == nil {
		return result, fmt.Errorf("no configuration passed min_trades=%d min_sharpe=%g: %w",
			p.MinTrades, p.MinSharpe, model.ErrInsufficientSamples)
	}
	return result, nil
}

func rejectReasons(row ConfigResult, p Params) []string {
	var reasons []string
	if row.Performance.Trades < p.MinTrades {
		reasons = append(reasons, fmt.Sprintf("trades %d < %d", row.Performance.Trades, p.MinTrades))
	}
	if row.Performance.Sharpe < p.MinSharpe {
		reasons = append(reasons, fmt.Sprintf("sharpe %.3f < %.3f", row.Performance.Sharpe, p.MinSharpe))
	}
	return reasons
}

// best picks the passing configuration with the highest Sharpe, ties going to the lower
// bootstrap drawdown
func best(grid []ConfigResult) *ConfigResult {
	var pick *ConfigResult
	for i := range grid {
		row := &grid[i]
		if !row.Passed {
			continue
		}
		if pick == nil ||
			row.Performance.Sharpe > pick.Performance.Sharpe ||
			(row.Performance.Sharpe == pick.Performance.Sharpe && row.DrawdownP95 < pick.DrawdownP95) {
			pick = row
		}
	}
	if pick == nil {
		return nil
	}
	out := *pick
	return &out
}

// sortGrid gives the grid a deterministic order regardless of goroutine scheduling
func sortGrid(grid []ConfigResult) {
	sort.SliceStable(grid, func(i, j int) bool {
		a, b := grid[i], grid[j]
		if a.WindowLength != b.WindowLength {
			return a.WindowLength < b.WindowLength
		}
		if a.Governor.Warn != b.Governor.Warn {
			return a.Governor.Warn < b.Governor.Warn
		}
		if a.Governor.Hard != b.Governor.Hard {
			return a.Governor.Hard < b.Governor.Hard
		}
		if a.Governor.MinScale != b.Governor.MinScale {
			return a.Governor.MinScale < b.Governor.MinScale
		}
		return a.Governor.EMASmoothing < b.Governor.EMASmoothing
	})
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// Run sweeps a single series without logging; the symbol is taken from the candles
func Run(ctx context.Context, candles []model.Candle, p Params) (Result, error) {
	symbol := ""
	if len(candles) > 0 {
		symbol = candles[0].Symbol
	}
	return NewRunner(zerolog.Nop()).Run(ctx, symbol, candles, p)
}
