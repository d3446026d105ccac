package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Source provides the current VND-per-unit rate for each supported token.
type Source interface {
	FetchRates(ctx context.Context) (map[string]float64, error)
}

// quoteResponse matches the JSON returned by the external quote API.
type quoteResponse struct {
	Rates     map[string]float64 `json:"rates"`
	UpdatedAt string             `json:"updated_at"`
}

// HTTPSource fetches rates from an external quote endpoint.
type HTTPSource struct {
	url        string
	symbols    []string
	httpClient *http.Client
}

// NewHTTPSource creates a rate source for the given quote endpoint. The
// requested symbols are passed as a query parameter.
func NewHTTPSource(url string, symbols []string) *HTTPSource {
	return &HTTPSource{
		url:        url,
		symbols:    symbols,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (s *HTTPSource) FetchRates(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate request: %w", err)
	}

	q := req.URL.Query()
	q.Set("symbols", strings.Join(s.symbols, ","))
	q.Set("convert", "VND")
	req.URL.RawQuery = q.Encode()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate source request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate source response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate source returned status %d: %s", resp.StatusCode, string(body))
	}

	var quote quoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rate source response: %w", err)
	}

	if len(quote.Rates) == 0 {
		return nil, fmt.Errorf("rate source returned no rates")
	}

	return quote.Rates, nil
}

// StaticSource always returns the same rates. Used when no external quote
// endpoint is configured, and in tests.
type StaticSource struct {
	rates map[string]float64
}

func NewStaticSource(rates map[string]float64) *StaticSource {
	return &StaticSource{rates: rates}
}

func (s *StaticSource) FetchRates(ctx context.Context) (map[string]float64, error) {
	copied := make(map[string]float64, len(s.rates))
	for symbol, rate := range s.rates {
		copied[symbol] = rate
	}
	return copied, nil
}
