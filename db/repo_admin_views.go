package db

import (
	"context"
	"strings"
	"time"

	"lab_visit_tracker/models"

	"gorm.io/gorm"
)

type VisitsQuery struct {
	From    time.Time // inclusive; zero means unbounded
	To      time.Time // exclusive; zero means unbounded
	Purpose string    // "", "study", "borrow"
	Status  string    // "", "open", "closed"
	Q       string    // visitor id or name fragment
	Page    int
	Size    int
}

type PagedVisits struct {
	Total  int64          `json:"total"`
	Visits []models.Visit `json:"visits"`
}

func (q VisitsQuery) apply(db *gorm.DB) *gorm.DB {
	if !q.From.IsZero() {
		db = db.Where("created_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		db = db.Where("created_at < ?", q.To)
	}
	if q.Purpose != "" {
		db = db.Where("purpose = ?", q.Purpose)
	}
	switch q.Status {
	case "open":
		db = db.Where("tapped_out_at IS NULL")
	case "closed":
		db = db.Where("tapped_out_at IS NOT NULL")
	}
	if s := strings.TrimSpace(q.Q); s != "" {
		pat := "%" + strings.ToLower(s) + "%"
		db = db.Where("LOWER(visitor_id) LIKE ? OR LOWER(visitor_name) LIKE ?", pat, pat)
	}
	return db
}

func withBorrowings(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Borrowings", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Borrowings.Item", unscopedItem)
}

// ListVisits pages visits newest first with borrowings and items attached.
func (r *Repo) ListVisits(ctx context.Context, q VisitsQuery) (*PagedVisits, error) {
	page, size := normalizePage(q.Page, q.Size, 200)

	var total int64
	if err := q.apply(r.DB.WithContext(ctx).Model(&models.Visit{})).Count(&total).Error; err != nil {
		return nil, err
	}

	var visits []models.Visit
	if err := withBorrowings(q.apply(r.DB.WithContext(ctx))).
		Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&visits).Error; err != nil {
		return nil, err
	}
	return &PagedVisits{Total: total, Visits: visits}, nil
}

// VisitsBetween returns every visit created in [from, to), oldest first.
func (r *Repo) VisitsBetween(ctx context.Context, from, to time.Time) ([]models.Visit, error) {
	var visits []models.Visit
	err := withBorrowings(r.DB.WithContext(ctx)).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC").
		Find(&visits).Error
	return visits, err
}

type BorrowingsQuery struct {
	Status string // "", "open", "returned"
	ItemID string
	Page   int
	Size   int
}

type PagedBorrowings struct {
	Total      int64              `json:"total"`
	Borrowings []models.Borrowing `json:"borrowings"`
}

func (r *Repo) ListBorrowings(ctx context.Context, q BorrowingsQuery) (*PagedBorrowings, error) {
	page, size := normalizePage(q.Page, q.Size, 200)

	filter := func(db *gorm.DB) *gorm.DB {
		switch q.Status {
		case string(models.BorrowingOpen), string(models.BorrowingReturned):
			db = db.Where("status = ?", q.Status)
		}
		if q.ItemID != "" {
			db = db.Where("item_id = ?", q.ItemID)
		}
		return db
	}

	var total int64
	if err := filter(r.DB.WithContext(ctx).Model(&models.Borrowing{})).Count(&total).Error; err != nil {
		return nil, err
	}

	var bs []models.Borrowing
	if err := filter(r.DB.WithContext(ctx)).
		Preload("Item", unscopedItem).
		Preload("Visit").
		Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&bs).Error; err != nil {
		return nil, err
	}
	return &PagedBorrowings{Total: total, Borrowings: bs}, nil
}

// ActiveBorrowings lists every open borrowing, oldest first.
func (r *Repo) ActiveBorrowings(ctx context.Context) ([]models.Borrowing, error) {
	var bs []models.Borrowing
	err := r.DB.WithContext(ctx).
		Preload("Item", unscopedItem).
		Preload("Visit").
		Where("status = ?", models.BorrowingOpen).
		Order("created_at ASC").
		Find(&bs).Error
	return bs, err
}
