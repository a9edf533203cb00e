package scrape

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"net/url"
	"strings"
)

type SearchResult struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Price float64 `json:"price"`
}

// Marketplace é o site externo. SearchURL/PriceURL dizem para onde a chamada vai,
// o que decide em qual domínio ela conta.
type Marketplace interface {
	SearchURL(query string) string
	Search(ctx context.Context, query string) ([]SearchResult, error)
	CurrentPrice(ctx context.Context, t Tracker) (float64, error)
}

// Fetcher faz a requisição de saída (throttle.HTTPFetcher em produção).
type Fetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Extractor transforma a resposta do site em registros.
type Extractor interface {
	SearchResults(query string, body []byte) ([]SearchResult, error)
	Price(t Tracker, body []byte) (float64, error)
}

// FetchingMarketplace busca a página com o Fetcher e entrega ao Extractor.
type FetchingMarketplace struct {
	Fetcher       Fetcher
	Extractor     Extractor
	SearchBaseURL string
}

func (m FetchingMarketplace) SearchURL(query string) string {
	base := m.SearchBaseURL
	if base == "" {
		base = "https://www.ebay.com/sch/i.html"
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "_nkw=" + url.QueryEscape(query)
}

func (m FetchingMarketplace) Search(ctx context.Context, query string) ([]SearchResult, error) {
	body, err := m.Fetcher.Get(ctx, m.SearchURL(query))
	if err != nil {
		return nil, err
	}
	return m.Extractor.SearchResults(query, body)
}

func (m FetchingMarketplace) CurrentPrice(ctx context.Context, t Tracker) (float64, error) {
	if t.URL == "" {
		return 0, fmt.Errorf("tracker %s has no url", t.ID)
	}
	body, err := m.Fetcher.Get(ctx, t.URL)
	if err != nil {
		return 0, err
	}
	return m.Extractor.Price(t, body)
}

// SyntheticExtractor devolve dados determinísticos derivados da consulta/resposta,
// sem interpretar o HTML. Serve enquanto o contrato de extração de cada site não existe.
type SyntheticExtractor struct {
	Results int
}

func (x SyntheticExtractor) SearchResults(query string, _ []byte) ([]SearchResult, error) {
	n := x.Results
	if n <= 0 {
		n = 3
	}
	seed := hash64(query)
	out := make([]SearchResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, SearchResult{
			Title: fmt.Sprintf("%s #%d", query, i+1),
			URL:   fmt.Sprintf("https://www.ebay.com/itm/%d", seed%1_000_000_000+uint64(i)),
			Price: roundCents(20 + float64((seed>>uint(i*8))%10_000)/100),
		})
	}
	return out, nil
}

// Price varia o preço atual em até ±5% conforme o conteúdo da resposta.
func (x SyntheticExtractor) Price(t Tracker, body []byte) (float64, error) {
	base := t.CompetitorPrice
	if base <= 0 {
		base = 20 + float64(hash64(t.URL)%10_000)/100
	}
	delta := float64(int64(hash64(string(body)+t.ID)%11)-5) / 100
	return roundCents(base * (1 + delta)), nil
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
