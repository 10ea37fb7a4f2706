// Package repository archives marketplace events to Postgres and serves
// the per-asset history query. The archive is an observer: a write failure
// is logged and never fails the operation that emitted the event.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/Goshimadev/HeroesMarketplace/internal/marketplace"
)

type Repository struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewRepository(db *sql.DB, logger *zap.SugaredLogger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) StoreEvent(ctx context.Context, ev marketplace.Event) error {
	query := `
		INSERT INTO marketplace_events (id, at, type, asset_id, seller, buyer, bidder, amount, uri, duration_sec, min_bids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		ev.ID,
		ev.At,
		string(ev.Type),
		ev.AssetID,
		ev.Seller,
		ev.Buyer,
		ev.Bidder,
		ev.Amount,
		ev.URI,
		ev.DurationSec,
		ev.MinBids,
	)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// AssetEvents returns the archived events for one asset, newest first.
func (r *Repository) AssetEvents(ctx context.Context, assetID uint64, limit int) ([]marketplace.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, at, type, asset_id, seller, buyer, bidder, amount, uri, duration_sec, min_bids
		FROM marketplace_events
		WHERE asset_id = $1
		ORDER BY at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, assetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset events: %w", err)
	}
	defer rows.Close()

	var events []marketplace.Event
	for rows.Next() {
		var ev marketplace.Event
		var evType string

		err := rows.Scan(
			&ev.ID,
			&ev.At,
			&evType,
			&ev.AssetID,
			&ev.Seller,
			&ev.Buyer,
			&ev.Bidder,
			&ev.Amount,
			&ev.URI,
			&ev.DurationSec,
			&ev.MinBids,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = marketplace.EventType(evType)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return events, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Sink archives every emitted event, logging failures.
func (r *Repository) Sink() marketplace.Sink {
	return marketplace.SinkFunc(func(ctx context.Context, ev marketplace.Event) {
		if err := r.StoreEvent(ctx, ev); err != nil {
			r.logger.Errorw("failed to archive event",
				"event", string(ev.Type),
				"asset_id", ev.AssetID,
				"error", err,
			)
		}
	})
}
