package store

import (
	"context"
	"database/sql"
	"errors"

	"settlement-engine/internal/models"
)

// CreateSettlement stores the audit record of a fulfilled sale
func (s *Store) CreateSettlement(ctx context.Context, st *models.Settlement) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO settlements (sale_id, offerer, buyer, currency, price,
			seller_amount, creator_amount, marketplace_amount, settled_at)
		VALUES (:sale_id, :offerer, :buyer, :currency, :price,
			:seller_amount, :creator_amount, :marketplace_amount, :settled_at)
		ON CONFLICT (sale_id) DO NOTHING`, st)
	return err
}

// GetSettlement retrieves the audit record of a sale, nil if it never settled
func (s *Store) GetSettlement(ctx context.Context, saleID string) (*models.Settlement, error) {
	var st models.Settlement
	err := s.db.GetContext(ctx, &st, "SELECT * FROM settlements WHERE sale_id = $1", saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
