package db

import (
	"context"
	"strings"

	"lab_visit_tracker/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Items

func (r *Repo) CreateItem(ctx context.Context, it *models.Item) error {
	return r.DB.WithContext(ctx).Create(it).Error
}

func (r *Repo) FindItemByID(ctx context.Context, id string) (*models.Item, error) {
	var it models.Item
	if err := r.DB.WithContext(ctx).First(&it, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// ListItems returns live items, optionally filtered by name.
func (r *Repo) ListItems(ctx context.Context, q string) ([]models.Item, error) {
	tx := r.DB.WithContext(ctx).Model(&models.Item{})
	if q = strings.TrimSpace(q); q != "" {
		tx = tx.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(q)+"%")
	}
	var items []models.Item
	err := tx.Order("name ASC").Find(&items).Error
	return items, err
}

// ListAvailableItems returns live items with at least one unit on the shelf.
func (r *Repo) ListAvailableItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := r.DB.WithContext(ctx).
		Where("current_stock > 0").
		Order("name ASC").
		Find(&items).Error
	return items, err
}

// LockItem reads the item row under SELECT ... FOR UPDATE. Soft-deleted rows
// are visible only when withDeleted is set.
func (r *Repo) LockItem(ctx context.Context, id string, withDeleted bool) (*models.Item, error) {
	q := r.DB.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	if withDeleted {
		q = q.Unscoped()
	}
	var it models.Item
	if err := q.First(&it, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// SetItemStock writes current_stock. Callers hold the row lock.
func (r *Repo) SetItemStock(ctx context.Context, id string, stock int) error {
	return r.DB.WithContext(ctx).Unscoped().
		Model(&models.Item{}).
		Where("id = ?", id).
		Update("current_stock", stock).Error
}

// UpdateItemFields writes the editable columns of a locked item.
func (r *Repo) UpdateItemFields(ctx context.Context, id string, fields map[string]any) error {
	return r.DB.WithContext(ctx).
		Model(&models.Item{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// SoftDeleteItem hides the item from the catalogue. Historical borrowings
// keep pointing at the row.
func (r *Repo) SoftDeleteItem(ctx context.Context, id string) error {
	res := r.DB.WithContext(ctx).Delete(&models.Item{ID: id})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
