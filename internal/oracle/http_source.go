package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"perpetual/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxResponseBytes - ограничение тела ответа источника
const maxResponseBytes = 1 << 16

// httpPriceResponse - формат ответа REST-адаптера цены
//
//	{"price":"2000.5","timestamp":1700000000,"confidence":95}
type httpPriceResponse struct {
	Price      string `json:"price"`
	Timestamp  int64  `json:"timestamp"` // unix seconds
	Confidence uint8  `json:"confidence"`
}

// HTTPSource - источник цен по HTTP (JSON REST адаптер)
//
// URLTemplate содержит плейсхолдер {symbol}, например
// "https://prices.internal/v1/price/{symbol}". Символ экранируется.
type HTTPSource struct {
	name        string
	urlTemplate string
	client      *http.Client
}

// NewHTTPSource создаёт HTTP источник. client == nil - клиент по умолчанию.
func NewHTTPSource(name, urlTemplate string, client *http.Client) *HTTPSource {
	if client == nil {
		client = NewHTTPClient(DefaultHTTPClientConfig())
	}
	return &HTTPSource{name: name, urlTemplate: urlTemplate, client: client}
}

// Name возвращает имя источника
func (s *HTTPSource) Name() string { return s.name }

// Fetch запрашивает цену символа.
// 404 - ErrUnknownSymbol (не повторяется), 5xx и сетевые ошибки - повторяемые.
func (s *HTTPSource) Fetch(ctx context.Context, symbol string) (PriceData, error) {
	endpoint := strings.ReplaceAll(s.urlTemplate, "{symbol}", url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PriceData{}, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return PriceData{}, fmt.Errorf("%s: %w", s.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return PriceData{}, fmt.Errorf("%s: read body: %w", s.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return PriceData{}, fmt.Errorf("%w: %s at %s", ErrUnknownSymbol, symbol, s.name)
	case resp.StatusCode >= 500:
		return PriceData{}, fmt.Errorf("%s: server error %d", s.name, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return PriceData{}, retry.Permanent(fmt.Errorf("%s: unexpected status %d", s.name, resp.StatusCode))
	}

	var raw httpPriceResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return PriceData{}, fmt.Errorf("%w: %s: %v", ErrInvalidObservation, s.name, err)
	}
	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return PriceData{}, fmt.Errorf("%w: %s: price %q", ErrInvalidObservation, s.name, raw.Price)
	}

	return PriceData{
		Price:      price,
		Timestamp:  time.Unix(raw.Timestamp, 0).UTC(),
		Confidence: raw.Confidence,
		IsValid:    true,
	}, nil
}

var _ Source = (*HTTPSource)(nil)
