package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// upsertBatchSize bounds how many rows are queued per pgx batch flush.
// Batching is an efficiency policy only; the surrounding transaction keeps
// final-state semantics identical to row-at-a-time upsert.
const upsertBatchSize = 10

// PostgresStore implements ChannelStore and OrderStore on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var (
	_ ChannelStore = (*PostgresStore)(nil)
	_ OrderStore   = (*PostgresStore)(nil)
)

// NewPostgresStore creates a store backed by the given pgx pool. The caller
// is responsible for closing the pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// CheckReadiness checks if the store is ready to serve requests.
func (s *PostgresStore) CheckReadiness(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// ListChannels returns all channel records, oldest first.
func (s *PostgresStore) ListChannels(ctx context.Context) ([]ChannelRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT channel_id, resource_ref, expires_at, created_at
		 FROM notification_channels
		 ORDER BY created_at, channel_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var records []ChannelRecord
	for rows.Next() {
		var rec ChannelRecord
		if err := rows.Scan(&rec.ChannelID, &rec.ResourceRef, &rec.ExpiresAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read channel records: %w", err)
	}
	return records, nil
}

// CreateChannel persists a new channel record.
func (s *PostgresStore) CreateChannel(ctx context.Context, rec ChannelRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notification_channels (channel_id, resource_ref, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		rec.ChannelID, rec.ResourceRef, rec.ExpiresAt.UTC(), createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert channel %s: %w", rec.ChannelID, err)
	}
	return nil
}

// DeleteChannel removes the record with the given channel id.
func (s *PostgresStore) DeleteChannel(ctx context.Context, channelID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notification_channels WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("failed to delete channel %s: %w", channelID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	return nil
}

// UpsertOrders writes the batch inside a single transaction, flushing in
// bounded pgx batches keyed on external_id.
func (s *PostgresStore) UpsertOrders(ctx context.Context, orders []OrderRecord) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Warn("Failed to roll back order upsert", "error", err)
		}
	}()

	for start := 0; start < len(orders); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(orders))

		batch := &pgx.Batch{}
		for _, o := range orders[start:end] {
			batch.Queue(
				`INSERT INTO orders (external_id, number, delivery_date, cost, cost_converted, updated_at)
				 VALUES ($1, $2, $3, $4, $5, now())
				 ON CONFLICT (external_id) DO UPDATE SET
				   number = EXCLUDED.number,
				   delivery_date = EXCLUDED.delivery_date,
				   cost = EXCLUDED.cost,
				   cost_converted = EXCLUDED.cost_converted,
				   updated_at = now()`,
				o.ExternalID, o.Number, o.DeliveryDate, o.Cost.String(), o.CostConverted.String())
		}

		results := tx.SendBatch(ctx, batch)
		for range end - start {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to upsert order batch: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to close order batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetOrder returns the record with the given external id.
func (s *PostgresStore) GetOrder(ctx context.Context, externalID string) (*OrderRecord, error) {
	var (
		rec           OrderRecord
		cost          string
		costConverted string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT external_id, number, delivery_date, cost::text, cost_converted::text
		 FROM orders WHERE external_id = $1`, externalID).
		Scan(&rec.ExternalID, &rec.Number, &rec.DeliveryDate, &cost, &costConverted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", externalID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order %s: %w", externalID, err)
	}

	if rec.Cost, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("failed to parse cost for order %s: %w", externalID, err)
	}
	if rec.CostConverted, err = decimal.NewFromString(costConverted); err != nil {
		return nil, fmt.Errorf("failed to parse converted cost for order %s: %w", externalID, err)
	}
	return &rec, nil
}
