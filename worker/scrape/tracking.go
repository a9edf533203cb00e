package scrape

import (
	"context"
	"time"
)

type PricePoint struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// Tracker acompanha o preço de um anúncio concorrente.
type Tracker struct {
	ID              string       `json:"id"`
	ListingID       string       `json:"listingId,omitempty"`
	URL             string       `json:"url"`
	Title           string       `json:"title,omitempty"`
	CompetitorPrice float64      `json:"competitorPrice"`
	PriceHistory    []PricePoint `json:"priceHistory"`
	LastChecked     time.Time    `json:"lastChecked,omitempty"`
}

// Observe registra um novo preço lido em at.
func (t *Tracker) Observe(price float64, at time.Time) {
	t.CompetitorPrice = price
	t.PriceHistory = append(t.PriceHistory, PricePoint{Price: price, At: at})
	t.LastChecked = at
}

// TrackingStore persiste os trackers. Get e RecordPrice devolvem ErrTrackingNotFound
// quando o id não existe.
type TrackingStore interface {
	Get(ctx context.Context, id string) (Tracker, error)
	Save(ctx context.Context, t Tracker) error
	// RecordPrice aplica Observe ao registro guardado de forma atômica: dois updates
	// simultâneos do mesmo tracker não perdem pontos do histórico.
	RecordPrice(ctx context.Context, id string, price float64, at time.Time) (Tracker, error)
	ListIDs(ctx context.Context) ([]string, error)
}
