package db

import (
	"context"
	"time"

	"lab_visit_tracker/models"
)

type ItemBorrowCount struct {
	ItemID      string `json:"itemId"`
	ItemName    string `json:"itemName"`
	BorrowCount int64  `json:"borrowCount"`
}

type PurposeCount struct {
	Purpose string `json:"purpose"`
	Count   int64  `json:"count"`
}

// VisitStamp is the minimum needed to bucket visits by calendar day.
type VisitStamp struct {
	VisitorID string
	CreatedAt time.Time
}

func (r *Repo) CountDistinctVisitors(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Visit{}).
		Where("created_at >= ? AND created_at < ?", from, to).
		Distinct("visitor_id").
		Count(&n).Error
	return n, err
}

func (r *Repo) CountVisits(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Visit{}).
		Where("created_at >= ? AND created_at < ?", from, to).
		Count(&n).Error
	return n, err
}

func (r *Repo) CountOpenVisits(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Visit{}).
		Where("tapped_out_at IS NULL").
		Count(&n).Error
	return n, err
}

func (r *Repo) CountOpenBorrowings(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Borrowing{}).
		Where("status = ?", models.BorrowingOpen).
		Count(&n).Error
	return n, err
}

// CountOpenBorrowingsBefore counts open borrowings created before t.
func (r *Repo) CountOpenBorrowingsBefore(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Borrowing{}).
		Where("status = ? AND created_at < ?", models.BorrowingOpen, t).
		Count(&n).Error
	return n, err
}

func (r *Repo) CountReturnedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Borrowing{}).
		Where("status = ? AND returned_at >= ? AND returned_at < ?", models.BorrowingReturned, from, to).
		Count(&n).Error
	return n, err
}

func (r *Repo) SumOpenQuantity(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Borrowing{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("status = ?", models.BorrowingOpen).
		Scan(&n).Error
	return n, err
}

// MostBorrowedItems ranks items by number of borrowings created since t.
func (r *Repo) MostBorrowedItems(ctx context.Context, since time.Time, limit int) ([]ItemBorrowCount, error) {
	var rows []ItemBorrowCount
	err := r.DB.WithContext(ctx).
		Table(models.BorrowingTable+" b").
		Select("i.id AS item_id, i.name AS item_name, COUNT(*) AS borrow_count").
		Joins("JOIN "+models.ItemTable+" i ON i.id = b.item_id").
		Where("b.created_at >= ?", since).
		Group("i.id, i.name").
		Order("borrow_count DESC, i.name ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// PurposeCounts counts visits per purpose in [from, to). A zero to is open ended.
func (r *Repo) PurposeCounts(ctx context.Context, from, to time.Time) ([]PurposeCount, error) {
	var rows []PurposeCount
	q := r.DB.WithContext(ctx).Model(&models.Visit{}).
		Select("purpose, COUNT(*) AS count").
		Where("created_at >= ?", from)
	if !to.IsZero() {
		q = q.Where("created_at < ?", to)
	}
	err := q.Group("purpose").Scan(&rows).Error
	return rows, err
}

// VisitStampsSince feeds day bucketing, which is done in Go so that the
// query stays portable between Postgres and SQLite.
func (r *Repo) VisitStampsSince(ctx context.Context, since time.Time) ([]VisitStamp, error) {
	var rows []VisitStamp
	err := r.DB.WithContext(ctx).Model(&models.Visit{}).
		Select("visitor_id, created_at").
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Scan(&rows).Error
	return rows, err
}

type itemQuantity struct {
	ItemID   string
	Quantity int64
}

// OpenQuantityByItem sums the quantity currently lent out per item.
func (r *Repo) OpenQuantityByItem(ctx context.Context) (map[string]int64, error) {
	var rows []itemQuantity
	err := r.DB.WithContext(ctx).Model(&models.Borrowing{}).
		Select("item_id, SUM(quantity) AS quantity").
		Where("status = ?", models.BorrowingOpen).
		Group("item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ItemID] = r.Quantity
	}
	return out, nil
}
