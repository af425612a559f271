package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpetual/pkg/retry"
	"perpetual/pkg/utils"
)

// Config - параметры агрегатора
type Config struct {
	MaxPriceAge     time.Duration
	MinConfidence   uint8
	MinValidSources int
	MaxDeviationBps int64 // отклонение от медианы, после которого котировка отбрасывается

	HistorySize    int // точек TWAP на символ
	HistorySymbols int // символов в LRU истории

	Retry retry.Config
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxPriceAge:     DefaultMaxPriceAge,
		MinConfidence:   DefaultMinConfidence,
		MinValidSources: DefaultMinValidSources,
		MaxDeviationBps: DefaultMaxDeviationBps,
		HistorySize:     720,
		HistorySymbols:  256,
		Retry:           retry.OracleConfig(),
	}
}

// SourceResult - результат опроса одного источника
type SourceResult struct {
	Source   string    `json:"source"`
	Weight   int64     `json:"weight"`
	Data     PriceData `json:"data"`
	Err      error     `json:"-"`
	Accepted bool      `json:"accepted"`
	Reason   string    `json:"reason,omitempty"`
}

type weightedSource struct {
	src    Source
	weight int64
}

// Aggregator - PriceFeed поверх нескольких взвешенных источников
//
// Каждый источник опрашивается независимо, ошибка одного не прерывает
// опрос остальных. Итоговая цена - средневзвешенная по принятым
// котировкам, timestamp - самая старая принятая котировка.
type Aggregator struct {
	cfg     Config
	clock   utils.Clock
	log     *utils.Logger
	history *History

	mu      sync.RWMutex
	sources []weightedSource
}

// NewAggregator создаёт агрегатор
func NewAggregator(cfg Config, clock utils.Clock, log *utils.Logger) (*Aggregator, error) {
	if cfg.MaxPriceAge <= 0 {
		cfg.MaxPriceAge = DefaultMaxPriceAge
	}
	if cfg.MinValidSources < 1 {
		cfg.MinValidSources = DefaultMinValidSources
	}
	if log == nil {
		log = utils.NewNopLogger()
	}

	baseRetryIf := cfg.Retry.RetryIf
	cfg.Retry.RetryIf = func(err error) bool {
		if errors.Is(err, ErrUnknownSymbol) || errors.Is(err, ErrInvalidObservation) {
			return false
		}
		if baseRetryIf != nil {
			return baseRetryIf(err)
		}
		return retry.IsRetryable(err)
	}

	history, err := NewHistory(cfg.HistorySymbols, cfg.HistorySize)
	if err != nil {
		return nil, err
	}

	return &Aggregator{
		cfg:     cfg,
		clock:   utils.ClockOrSystem(clock),
		log:     log.WithComponent("oracle"),
		history: history,
	}, nil
}

// AddSource регистрирует источник с весом (weight > 0)
func (a *Aggregator) AddSource(src Source, weight int64) error {
	if weight <= 0 {
		return fmt.Errorf("source %s: weight must be positive", src.Name())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources = append(a.sources, weightedSource{src: src, weight: weight})
	return nil
}

// Sources возвращает имена источников
func (a *Aggregator) Sources() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.sources))
	for i, s := range a.sources {
		names[i] = s.src.Name()
	}
	return names
}

// Collect опрашивает все источники и классифицирует котировки
func (a *Aggregator) Collect(ctx context.Context, symbol string) []SourceResult {
	a.mu.RLock()
	sources := make([]weightedSource, len(a.sources))
	copy(sources, a.sources)
	a.mu.RUnlock()

	results := make([]SourceResult, len(sources))
	var wg sync.WaitGroup
	for i, ws := range sources {
		wg.Add(1)
		go func(i int, ws weightedSource) {
			defer wg.Done()
			data, err := retry.DoWithResult(ctx, func() (PriceData, error) {
				return ws.src.Fetch(ctx, symbol)
			}, a.cfg.Retry)
			results[i] = SourceResult{Source: ws.src.Name(), Weight: ws.weight, Data: data, Err: err}
		}(i, ws)
	}
	wg.Wait()

	now := a.clock.Now()
	var prices []decimal.Decimal
	for i := range results {
		r := &results[i]
		switch {
		case r.Err != nil:
			r.Reason = r.Err.Error()
			RecordSourceFailure(r.Source, "error")
		case !r.Data.Price.IsPositive():
			r.Reason = "non-positive price"
			RecordSourceFailure(r.Source, "invalid")
		case now.Sub(r.Data.Timestamp) > a.cfg.MaxPriceAge:
			r.Reason = "stale"
			RecordSourceFailure(r.Source, "stale")
		case r.Data.Confidence < a.cfg.MinConfidence:
			r.Reason = "low confidence"
			RecordSourceFailure(r.Source, "low_confidence")
		default:
			r.Accepted = true
			prices = append(prices, r.Data.Price)
		}
	}

	if a.cfg.MaxDeviationBps > 0 && len(prices) > 2 {
		median := medianOf(prices)
		for i := range results {
			r := &results[i]
			if !r.Accepted {
				continue
			}
			dev := utils.RatioBps(r.Data.Price.Sub(median).Abs(), median)
			if dev > a.cfg.MaxDeviationBps {
				r.Accepted = false
				r.Reason = fmt.Sprintf("deviates %d bps from median", dev)
				RecordSourceFailure(r.Source, "deviation")
			}
		}
	}

	return results
}

// Reduce сворачивает результаты опроса в одну цену
func (a *Aggregator) Reduce(results []SourceResult) (PriceData, error) {
	var (
		prices, confidences, weights []decimal.Decimal
		oldest                       time.Time
	)
	for _, r := range results {
		if !r.Accepted {
			continue
		}
		w := decimal.NewFromInt(r.Weight)
		prices = append(prices, r.Data.Price)
		confidences = append(confidences, decimal.NewFromInt(int64(r.Data.Confidence)))
		weights = append(weights, w)
		if oldest.IsZero() || r.Data.Timestamp.Before(oldest) {
			oldest = r.Data.Timestamp
		}
	}

	if len(prices) < a.cfg.MinValidSources {
		return PriceData{}, fmt.Errorf("%w: %d of %d required", ErrInsufficientSources, len(prices), a.cfg.MinValidSources)
	}

	out := PriceData{
		Price:      utils.WeightedAverage(prices, weights),
		Timestamp:  oldest,
		Confidence: uint8(utils.WeightedAverage(confidences, weights).IntPart()),
	}
	out.IsValid = Validity(out, a.clock.Now(), a.cfg.MaxPriceAge, a.cfg.MinConfidence)
	return out, nil
}

// GetPrice возвращает агрегированную цену и записывает её в историю TWAP
func (a *Aggregator) GetPrice(ctx context.Context, symbol string) (PriceData, error) {
	results := a.Collect(ctx, symbol)
	price, err := a.Reduce(results)
	if err != nil {
		a.log.Warn("price aggregation failed",
			utils.Symbol(symbol),
			utils.Int("sources", len(results)),
			utils.Err(err),
		)
		return PriceData{}, err
	}

	if price.IsValid {
		a.history.Record(symbol, a.clock.Now(), price.Price)
		RecordAggregatedPrice(symbol, price.Price)
	}
	a.log.Debug("price aggregated",
		utils.Symbol(symbol),
		utils.Price(price.Price),
		utils.Int("confidence", int(price.Confidence)),
		utils.Bool("valid", price.IsValid),
	)
	return price, nil
}

// GetTWAP возвращает time-weighted average за period по истории агрегатора
func (a *Aggregator) GetTWAP(_ context.Context, symbol string, period time.Duration) (decimal.Decimal, error) {
	return a.history.TWAP(symbol, a.clock.Now(), period)
}

// History возвращает историю цен (для тестов и диагностики)
func (a *Aggregator) History() *History { return a.history }

func medianOf(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return utils.Div(sorted[n/2-1].Add(sorted[n/2]), decimal.NewFromInt(2))
}

var _ PriceFeed = (*Aggregator)(nil)
