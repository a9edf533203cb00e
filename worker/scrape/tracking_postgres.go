package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const trackersDDL = `
CREATE TABLE IF NOT EXISTS competitor_trackers (
	id               TEXT PRIMARY KEY,
	listing_id       TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	competitor_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_history    JSONB NOT NULL DEFAULT '[]'::jsonb,
	last_checked     TIMESTAMPTZ
)`

// pgxConn é o subconjunto de *pgxpool.Pool usado aqui.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresTrackingStore guarda os trackers na tabela competitor_trackers.
type PostgresTrackingStore struct {
	db pgxConn
}

func NewPostgresTrackingStore(db pgxConn) *PostgresTrackingStore {
	return &PostgresTrackingStore{db: db}
}

// OpenPostgres abre o pool e garante a tabela.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg dsn parse: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}
	if err := NewPostgresTrackingStore(pool).Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (s *PostgresTrackingStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, trackersDDL); err != nil {
		return fmt.Errorf("migrate competitor_trackers: %w", err)
	}
	return nil
}

func (s *PostgresTrackingStore) Get(ctx context.Context, id string) (Tracker, error) {
	var (
		t           Tracker
		history     []byte
		lastChecked *time.Time
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, listing_id, url, title, competitor_price, price_history, last_checked
		   FROM competitor_trackers WHERE id = $1`, id,
	).Scan(&t.ID, &t.ListingID, &t.URL, &t.Title, &t.CompetitorPrice, &history, &lastChecked)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tracker{}, fmt.Errorf("%w: %s", ErrTrackingNotFound, id)
	}
	if err != nil {
		return Tracker{}, fmt.Errorf("get tracker %s: %w", id, err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &t.PriceHistory); err != nil {
			return Tracker{}, fmt.Errorf("decode price history %s: %w", id, err)
		}
	}
	if lastChecked != nil {
		t.LastChecked = *lastChecked
	}
	return t, nil
}

func (s *PostgresTrackingStore) Save(ctx context.Context, t Tracker) error {
	if t.ID == "" {
		return errors.New("tracker id is required")
	}
	history := t.PriceHistory
	if history == nil {
		history = []PricePoint{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode price history %s: %w", t.ID, err)
	}
	var lastChecked *time.Time
	if !t.LastChecked.IsZero() {
		lastChecked = &t.LastChecked
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO competitor_trackers (id, listing_id, url, title, competitor_price, price_history, last_checked)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   listing_id = EXCLUDED.listing_id,
		   url = EXCLUDED.url,
		   title = EXCLUDED.title,
		   competitor_price = EXCLUDED.competitor_price,
		   price_history = EXCLUDED.price_history,
		   last_checked = EXCLUDED.last_checked`,
		t.ID, t.ListingID, t.URL, t.Title, t.CompetitorPrice, raw, lastChecked,
	)
	if err != nil {
		return fmt.Errorf("save tracker %s: %w", t.ID, err)
	}
	return nil
}

// RecordPrice acrescenta o ponto no próprio UPDATE, sem ler antes.
func (s *PostgresTrackingStore) RecordPrice(ctx context.Context, id string, price float64, at time.Time) (Tracker, error) {
	point, err := json.Marshal([]PricePoint{{Price: price, At: at}})
	if err != nil {
		return Tracker{}, fmt.Errorf("encode price point %s: %w", id, err)
	}

	var (
		t           Tracker
		history     []byte
		lastChecked *time.Time
	)
	err = s.db.QueryRow(ctx,
		`UPDATE competitor_trackers
		    SET competitor_price = $2,
		        price_history = price_history || $3::jsonb,
		        last_checked = $4
		  WHERE id = $1
		RETURNING id, listing_id, url, title, competitor_price, price_history, last_checked`,
		id, price, point, at,
	).Scan(&t.ID, &t.ListingID, &t.URL, &t.Title, &t.CompetitorPrice, &history, &lastChecked)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tracker{}, fmt.Errorf("%w: %s", ErrTrackingNotFound, id)
	}
	if err != nil {
		return Tracker{}, fmt.Errorf("record price %s: %w", id, err)
	}
	if err := json.Unmarshal(history, &t.PriceHistory); err != nil {
		return Tracker{}, fmt.Errorf("decode price history %s: %w", id, err)
	}
	if lastChecked != nil {
		t.LastChecked = *lastChecked
	}
	return t, nil
}

func (s *PostgresTrackingStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM competitor_trackers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tracker ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
