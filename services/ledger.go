package services

import (
	"context"
	"fmt"

	"lab_visit_tracker/db"
	"lab_visit_tracker/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StockLedger is the only writer of items.current_stock. Every call runs on a
// transaction-bound Repo and holds the item row lock until that transaction ends.
type StockLedger struct {
	log *zap.Logger
}

func NewStockLedger(log *zap.Logger) *StockLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &StockLedger{log: log}
}

// Reserve takes quantity units off the shelf.
func (l *StockLedger) Reserve(ctx context.Context, tx *db.Repo, itemID string, quantity int) (*models.Item, error) {
	if quantity < 1 {
		return nil, ErrInvalidBorrowingParams
	}
	if !validID(itemID) {
		return nil, ErrItemNotFound
	}
	it, err := tx.LockItem(ctx, itemID, false)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("lock item %s: %w", itemID, err)
	}
	if it.CurrentStock < quantity {
		return nil, &InsufficientStockError{ItemName: it.Name, Available: it.CurrentStock, Requested: quantity}
	}
	it.CurrentStock -= quantity
	if err := tx.SetItemStock(ctx, it.ID, it.CurrentStock); err != nil {
		return nil, fmt.Errorf("reserve %d of %s: %w", quantity, itemID, err)
	}
	return it, nil
}

// Release puts quantity units back, clamped at total_stock. Soft-deleted
// items still get their units back. A missing row is logged and skipped.
func (l *StockLedger) Release(ctx context.Context, tx *db.Repo, itemID string, quantity int) (*models.Item, error) {
	it, err := tx.LockItem(ctx, itemID, true)
	if err != nil {
		if db.IsNotFound(err) {
			l.log.Warn("release for missing item skipped",
				zap.String("item_id", itemID), zap.Int("quantity", quantity))
			return nil, nil
		}
		return nil, fmt.Errorf("lock item %s: %w", itemID, err)
	}
	if quantity <= 0 {
		return it, nil
	}

	next := it.CurrentStock + quantity
	if next > it.TotalStock {
		l.log.Warn("stock release exceeds total, clamping",
			zap.String("item_id", it.ID),
			zap.Int("current_stock", it.CurrentStock),
			zap.Int("released", quantity),
			zap.Int("total_stock", it.TotalStock),
		)
		next = it.TotalStock
	}
	if next == it.CurrentStock {
		return it, nil
	}
	it.CurrentStock = next
	if err := tx.SetItemStock(ctx, it.ID, it.CurrentStock); err != nil {
		return nil, fmt.Errorf("release %d of %s: %w", quantity, itemID, err)
	}
	return it, nil
}

// validID guards uuid columns; Postgres rejects malformed uuid literals with
// a syntax error rather than an empty result.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
