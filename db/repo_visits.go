package db

import (
	"context"
	"time"

	"lab_visit_tracker/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// unscopedItem lets borrowings render items that were removed from the catalogue.
func unscopedItem(db *gorm.DB) *gorm.DB { return db.Unscoped() }

// Visits

func (r *Repo) CreateVisit(ctx context.Context, v *models.Visit) error {
	return r.DB.WithContext(ctx).Omit(clause.Associations).Create(v).Error
}

// FindVisit loads a visit with its borrowings and their items.
func (r *Repo) FindVisit(ctx context.Context, id string) (*models.Visit, error) {
	var v models.Visit
	if err := r.DB.WithContext(ctx).
		Preload("Borrowings", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Borrowings.Item", unscopedItem).
		First(&v, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repo) LockVisit(ctx context.Context, id string) (*models.Visit, error) {
	var v models.Visit
	if err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&v, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// OpenVisits returns the visitor's open visits, newest first, without locking.
func (r *Repo) OpenVisits(ctx context.Context, visitorID string) ([]models.Visit, error) {
	var vs []models.Visit
	err := r.DB.WithContext(ctx).
		Where("visitor_id = ? AND tapped_out_at IS NULL", visitorID).
		Order("created_at DESC").
		Find(&vs).Error
	return vs, err
}

// LockOpenVisits is OpenVisits under SELECT ... FOR UPDATE. A concurrent
// tap-out that closed a row first makes it drop out of the result.
func (r *Repo) LockOpenVisits(ctx context.Context, visitorID string) ([]models.Visit, error) {
	var vs []models.Visit
	err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("visitor_id = ? AND tapped_out_at IS NULL", visitorID).
		Order("created_at DESC").
		Find(&vs).Error
	return vs, err
}

func (r *Repo) CountVisitsByVisitor(ctx context.Context, visitorID string) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Visit{}).
		Where("visitor_id = ?", visitorID).
		Count(&n).Error
	return n, err
}

// LatestVisit returns the visitor's most recent visit of any state.
func (r *Repo) LatestVisit(ctx context.Context, visitorID string) (*models.Visit, error) {
	var v models.Visit
	if err := r.DB.WithContext(ctx).
		Where("visitor_id = ?", visitorID).
		Order("created_at DESC").
		First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// CloseVisit sets tapped_out_at only if the visit is still open and reports
// how many rows changed.
func (r *Repo) CloseVisit(ctx context.Context, id string, at time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&models.Visit{}).
		Where("id = ? AND tapped_out_at IS NULL", id).
		Update("tapped_out_at", at)
	return res.RowsAffected, res.Error
}

func (r *Repo) DeleteVisitRow(ctx context.Context, id string) error {
	res := r.DB.WithContext(ctx).Delete(&models.Visit{ID: id})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Borrowings

func (r *Repo) CreateBorrowing(ctx context.Context, b *models.Borrowing) error {
	return r.DB.WithContext(ctx).Omit(clause.Associations).Create(b).Error
}

// LockBorrowing reads the borrowing under SELECT ... FOR UPDATE.
func (r *Repo) LockBorrowing(ctx context.Context, id string) (*models.Borrowing, error) {
	var b models.Borrowing
	if err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// LockOpenBorrowings locks the open borrowings of a visit ordered by item so
// that concurrent tap-outs acquire item locks in the same order.
func (r *Repo) LockOpenBorrowings(ctx context.Context, visitID string) ([]models.Borrowing, error) {
	var bs []models.Borrowing
	err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("visit_id = ? AND status = ?", visitID, models.BorrowingOpen).
		Order("item_id ASC, id ASC").
		Find(&bs).Error
	return bs, err
}

func (r *Repo) BorrowingsForVisit(ctx context.Context, visitID string) ([]models.Borrowing, error) {
	var bs []models.Borrowing
	err := r.DB.WithContext(ctx).
		Where("visit_id = ?", visitID).
		Find(&bs).Error
	return bs, err
}

// OpenBorrowingCounts maps visit id to its number of open borrowings.
func (r *Repo) OpenBorrowingCounts(ctx context.Context, visitIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(visitIDs))
	if len(visitIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		VisitID string
		N       int64
	}
	if err := r.DB.WithContext(ctx).Model(&models.Borrowing{}).
		Select("visit_id, COUNT(*) AS n").
		Where("visit_id IN ? AND status = ?", visitIDs, models.BorrowingOpen).
		Group("visit_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.VisitID] = row.N
	}
	return out, nil
}

// MarkBorrowingReturned flips an open borrowing to returned and reports how
// many rows changed; zero means it was already returned.
func (r *Repo) MarkBorrowingReturned(ctx context.Context, id string, at time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&models.Borrowing{}).
		Where("id = ? AND status = ?", id, models.BorrowingOpen).
		Updates(map[string]any{
			"status":      models.BorrowingReturned,
			"returned_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *Repo) DeleteBorrowingsForVisit(ctx context.Context, visitID string) error {
	return r.DB.WithContext(ctx).
		Where("visit_id = ?", visitID).
		Delete(&models.Borrowing{}).Error
}
