package analog

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/tunogya/fractal/pkg/feature"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/rerank"
	"github.com/tunogya/fractal/pkg/window"
)

// Searcher retrieves the nearest eligible windows for a query
type Searcher interface {
	Search(ctx context.Context, q window.Query) ([]model.AnalogMatch, error)
}

// Config holds the parameters of one analog horizon predictor. MinSimilarity drops reranked
// matches scoring below it; 0 keeps every match.
type Config struct {
	ModelID       string             `yaml:"model_id"`
	WindowLength  int                `yaml:"window_length" validate:"gt=0"`
	Horizon       int                `yaml:"horizon" validate:"gt=0"`
	TopK          int                `yaml:"top_k" default:"25" validate:"gt=0"`
	MinAnalogs    int                `yaml:"min_analogs" default:"10" validate:"gt=0"`
	Temperature   float64            `yaml:"temperature" default:"0.1" validate:"gt=0"`
	MinSimilarity float64            `yaml:"min_similarity" validate:"gte=0,lte=1"`
	Decay         rerank.DecayConfig `yaml:"decay"`
}

// DefaultConfig returns the default predictor configuration for a window length and horizon
func DefaultConfig(length, horizon int) Config {
	return Config{
		WindowLength: length,
		Horizon:      horizon,
		TopK:         25,
		MinAnalogs:   10,
		Temperature:  DefaultTemperature,
		Decay:        rerank.DefaultDecayConfig(),
	}
}

// Spec returns the window index spec the predictor reads
func (c Config) Spec() window.Spec {
	return window.Spec{Length: c.WindowLength, Horizon: c.Horizon}
}

// ID returns the model id, derived from the spec when not set
func (c Config) ID() string {
	if c.ModelID != "" {
		return c.ModelID
	}
	return "analog-" + c.Spec().String()
}

// candidatePool widens the search when recency decay may reorder the top K
const candidatePool = 4

// Predictor forecasts one horizon from the analogs of the live window
type Predictor struct {
	cfg      Config
	cache    *window.Cache
	searcher Searcher
	reranker *rerank.Reranker
	log      zerolog.Logger
}

// NewPredictor creates a predictor reading in-memory indexes from cache
func NewPredictor(cfg Config, cache *window.Cache, log zerolog.Logger) *Predictor {
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	return &Predictor{
		cfg:      cfg,
		cache:    cache,
		reranker: rerank.NewReranker(cfg.Decay),
		log:      log.With().Str("component", "analog").Str("model", cfg.ID()).Logger(),
	}
}

// WithSearcher routes searches to an external backend instead of the in-memory index
func (p *Predictor) WithSearcher(s Searcher) *Predictor {
	p.searcher = s
	return p
}

// ModelID returns the id of the model
func (p *Predictor) ModelID() string {
	return p.cfg.ID()
}

// Horizon returns the forecast horizon in bars
func (p *Predictor) Horizon() int {
	return p.cfg.Horizon
}

// Forecast searches analogs of the last WindowLength returns and aggregates their outcomes
func (p *Predictor) Forecast(ctx context.Context, req model.PredictionRequest) (Forecast, error) {
	spec := p.cfg.Spec()
	key := window.Key{Symbol: req.Symbol, Timeframe: req.Timeframe}

	opts := window.Options{}
	if p.cache != nil {
		opts = p.cache.Options()
	}

	topK := p.cfg.TopK
	if p.cfg.Decay.Enabled() {
		topK *= candidatePool
	}
	q, err := window.LiveQuery(req.Symbol, req.Timeframe, req.Candles, spec, opts, topK)
	if err != nil {
		return Forecast{}, err
	}

	searcher := p.searcher
	if searcher == nil {
		if p.cache == nil {
			return Forecast{}, fmt.Errorf("no searcher for %s: %w", p.ModelID(), model.ErrInvalidConfig)
		}
		set := p.cache.Get(key, req.Candles, []window.Spec{spec})
		idx, ok := set.Index(spec)
		if !ok {
			return Forecast{}, fmt.Errorf("index %s missing for %s: %w", spec, req.Symbol, model.ErrNotFound)
		}
		searcher = idx
	}

	matches, err := searcher.Search(ctx, q)
	if err != nil {
		return Forecast{}, fmt.Errorf("search analogs for %s %s: %w", req.Symbol, spec, err)
	}
	matches = p.reranker.TopN(matches, q.EndIndex, p.cfg.TopK)
	if p.cfg.MinSimilarity > 0 {
		matches = rerank.FilterByMinScore(matches, p.cfg.MinSimilarity)
	}

	f := Aggregate(matches, p.cfg.Temperature, p.cfg.MinAnalogs)

	p.log.Debug().
		Str("symbol", req.Symbol).
		Int("matches", f.Samples).
		Float64("forecast_return", f.ForecastReturn).
		Float64("prob_up", f.ProbUp).
		Float64("entropy", f.Entropy).
		Msg("Analogs aggregated")

	return f, nil
}

// Predict implements the horizon predictor contract of the ensemble
func (p *Predictor) Predict(ctx context.Context, req model.PredictionRequest) (model.HorizonPrediction, error) {
	f, err := p.Forecast(ctx, req)
	if err != nil {
		return model.HorizonPrediction{}, err
	}

	pred := model.HorizonPrediction{
		Horizon:        p.cfg.Horizon,
		ModelID:        p.ModelID(),
		ExpectedReturn: f.ForecastReturn,
		Confidence:     Confidence(f, p.cfg.MinAnalogs),
		ProbUp:         f.ProbUp,
		Entropy:        f.Entropy,
		Samples:        f.Samples,
		Insufficient:   f.Insufficient,
		BasePrice:      model.LastClose(req.Candles),
	}
	if n := len(req.Candles); n > 0 {
		pred.BaseTime = req.Candles[n-1].OpenTime
	}

	returns := feature.LogReturns(model.Closes(req.Candles))
	if n := len(returns); n >= p.cfg.WindowLength {
		pred.Volatility = feature.RealizedVolatility(returns[n-p.cfg.WindowLength:]) * math.Sqrt(float64(p.cfg.Horizon))
	}
	if f.Insufficient {
		pred.Notes = append(pred.Notes, fmt.Sprintf("insufficient analogs: %d < %d", f.Samples, p.cfg.MinAnalogs))
	}
	return pred, nil
}

// Confidence scores a forecast by analog quality, directional agreement and sample sufficiency
func Confidence(f Forecast, minAnalogs int) float64 {
	if f.Samples == 0 {
		return 0
	}
	sufficiency := 1.0
	if minAnalogs > 0 {
		sufficiency = math.Min(1, float64(f.Samples)/float64(minAnalogs))
	}
	return clamp(clamp(f.MeanSimilarity, 0, 1)*(1-f.Entropy)*sufficiency, 0, 1)
}
