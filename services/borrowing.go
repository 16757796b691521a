package services

import (
	"context"
	"fmt"
	"time"

	"lab_visit_tracker/db"
	"lab_visit_tracker/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BorrowingService pairs borrowing rows with ledger movements so that a
// borrowing's units are reserved once and released at most once.
type BorrowingService struct {
	ledger *StockLedger
	now    func() time.Time
	log    *zap.Logger
}

func NewBorrowingService(ledger *StockLedger, now func() time.Time, log *zap.Logger) *BorrowingService {
	if now == nil {
		now = utcNow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BorrowingService{ledger: ledger, now: now, log: log}
}

// CreateBorrowing reserves stock and records an open borrowing for visit.
// Nothing is written when the reservation fails.
func (s *BorrowingService) CreateBorrowing(ctx context.Context, tx *db.Repo, visit *models.Visit, itemID string, quantity int) (*models.Borrowing, error) {
	it, err := s.ledger.Reserve(ctx, tx, itemID, quantity)
	if err != nil {
		return nil, err
	}
	b := &models.Borrowing{
		ID:        uuid.NewString(),
		VisitID:   visit.ID,
		ItemID:    it.ID,
		Quantity:  quantity,
		Status:    models.BorrowingOpen,
		CreatedAt: s.now(),
	}
	if err := tx.CreateBorrowing(ctx, b); err != nil {
		return nil, fmt.Errorf("insert borrowing: %w", err)
	}
	b.Item = it
	return b, nil
}

// ReturnBorrowing closes b and puts its units back. It reports false when b
// was already returned, in which case nothing changes.
func (s *BorrowingService) ReturnBorrowing(ctx context.Context, tx *db.Repo, b *models.Borrowing) (bool, error) {
	cur, err := tx.LockBorrowing(ctx, b.ID)
	if err != nil {
		if db.IsNotFound(err) {
			return false, ErrBorrowingNotFound
		}
		return false, fmt.Errorf("lock borrowing %s: %w", b.ID, err)
	}
	if !cur.IsOpen() {
		b.Status, b.ReturnedAt = cur.Status, cur.ReturnedAt
		return false, nil
	}

	now := s.now()
	n, err := tx.MarkBorrowingReturned(ctx, cur.ID, now)
	if err != nil {
		return false, fmt.Errorf("mark borrowing %s returned: %w", cur.ID, err)
	}
	if n == 0 {
		// the row lock makes this unreachable
		return false, fmt.Errorf("%w: borrowing %s changed under lock", ErrIntegrity, cur.ID)
	}
	if _, err := s.ledger.Release(ctx, tx, cur.ItemID, cur.Quantity); err != nil {
		return false, err
	}

	b.Status = models.BorrowingReturned
	b.ReturnedAt = &now
	return true, nil
}

// ReturnAllOpenForVisit returns every open borrowing of visit, in item id
// order, and hands back the ones it closed.
func (s *BorrowingService) ReturnAllOpenForVisit(ctx context.Context, tx *db.Repo, visit *models.Visit) ([]models.Borrowing, error) {
	open, err := tx.LockOpenBorrowings(ctx, visit.ID)
	if err != nil {
		return nil, fmt.Errorf("lock open borrowings of visit %s: %w", visit.ID, err)
	}
	returned := make([]models.Borrowing, 0, len(open))
	for i := range open {
		changed, err := s.ReturnBorrowing(ctx, tx, &open[i])
		if err != nil {
			return nil, err
		}
		if changed {
			returned = append(returned, open[i])
		}
	}
	return returned, nil
}

func utcNow() time.Time { return time.Now().UTC() }
