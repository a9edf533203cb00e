package scrape

import (
	"errors"
	"strings"
)

const (
	JobSearch = "search"
	JobUpdate = "update"
)

var (
	// ErrInvalidJob indica payload sem os campos obrigatórios; não adianta tentar de novo.
	ErrInvalidJob = errors.New("invalid job")
	// ErrTrackingNotFound indica que o tracker referenciado não existe.
	ErrTrackingNotFound = errors.New("competitor tracker not found")
)

// JobData é o payload dos jobs da fila de scraping.
type JobData struct {
	Type         string `json:"type"`
	ListingID    string `json:"listingId,omitempty"`
	CompetitorID string `json:"competitorId,omitempty"`
	SearchQuery  string `json:"searchQuery,omitempty"`
	ProductTitle string `json:"productTitle,omitempty"`
}

// Query é o termo de busca: SearchQuery ou, na falta dele, ProductTitle.
func (d JobData) Query() string {
	if q := strings.TrimSpace(d.SearchQuery); q != "" {
		return q
	}
	return strings.TrimSpace(d.ProductTitle)
}
