package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"settlement-engine/internal/ledger"
	"settlement-engine/internal/models"
)

var _ ledger.Ledger = (*Store)(nil)

// Lookup returns the ledger state of a sale id; ids never written are unseen
func (s *Store) Lookup(ctx context.Context, saleID common.Address) (models.SaleState, error) {
	var state models.SaleState
	err := s.db.GetContext(ctx, &state, "SELECT state FROM sales WHERE sale_id = $1", ledger.Key(saleID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.SaleStateUnseen, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up sale: %w", err)
	}
	return state, nil
}

// GetSale retrieves the persisted ledger row for a sale id
func (s *Store) GetSale(ctx context.Context, saleID common.Address) (*models.Sale, error) {
	var sale models.Sale
	err := s.db.GetContext(ctx, &sale,
		"SELECT sale_id, state, updated_at FROM sales WHERE sale_id = $1", ledger.Key(saleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// MarkFulfilled records a fulfillment
func (s *Store) MarkFulfilled(ctx context.Context, saleID common.Address) error {
	return s.claim(ctx, saleID, models.SaleStateFulfilled, nil)
}

// MarkCancelled records a cancellation
func (s *Store) MarkCancelled(ctx context.Context, saleID common.Address) error {
	return s.claim(ctx, saleID, models.SaleStateCancelled, nil)
}

// Fulfill claims the sale as settling, commits that claim, and only then commits
// the settlement. A rejected settlement releases the claim so the sale is unseen
// again; a committed one promotes the claim to fulfilled.
func (s *Store) Fulfill(ctx context.Context, saleID common.Address, settlement ledger.Settlement) error {
	if settlement == nil {
		return s.MarkFulfilled(ctx, saleID)
	}

	if err := s.claim(ctx, saleID, models.SaleStateSettling, settlement); err != nil {
		return err
	}

	if err := settlement.Commit(ctx); err != nil {
		settlement.Abort(ctx)
		if relErr := s.release(ctx, saleID); relErr != nil {
			s.logger.Error("Failed to release sale after rejected settlement",
				zap.String("sale_id", ledger.Key(saleID)),
				zap.NamedError("settle_error", err),
				zap.Error(relErr))
			return fmt.Errorf("%w (sale left settling: %v)", err, relErr)
		}
		return err
	}

	// The assets have moved; the sale stays closed even if the promotion fails.
	if err := s.promote(ctx, saleID); err != nil {
		s.logger.Error("Sale settled but not promoted to fulfilled",
			zap.String("sale_id", ledger.Key(saleID)),
			zap.Error(err))
	}
	return nil
}

// claim inserts the sale in state to inside a transaction. When settlement is set
// it is prepared before the claim commits and aborted if the claim does not commit.
func (s *Store) claim(ctx context.Context, saleID common.Address, to models.SaleState, settlement ledger.Settlement) (err error) {
	if settlement != nil {
		defer func() {
			if err != nil {
				settlement.Abort(ctx)
			}
		}()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO sales (sale_id, state) VALUES ($1, $2) ON CONFLICT (sale_id) DO NOTHING",
		ledger.Key(saleID), to)
	if err != nil {
		return fmt.Errorf("failed to record sale: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		var current models.SaleState
		if err := tx.GetContext(ctx, &current, "SELECT state FROM sales WHERE sale_id = $1", ledger.Key(saleID)); err != nil {
			return fmt.Errorf("failed to read conflicting sale: %w", err)
		}
		return ledger.DuplicateError(saleID, current)
	}

	if settlement != nil {
		if err := settlement.Prepare(ctx); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sale: %w", err)
	}
	return nil
}

func (s *Store) release(ctx context.Context, saleID common.Address) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sales WHERE sale_id = $1 AND state = $2",
		ledger.Key(saleID), models.SaleStateSettling)
	return err
}

func (s *Store) promote(ctx context.Context, saleID common.Address) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sales SET state = $1, updated_at = NOW() WHERE sale_id = $2 AND state = $3",
		models.SaleStateFulfilled, ledger.Key(saleID), models.SaleStateSettling)
	return err
}
