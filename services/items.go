package services

import (
	"context"
	"fmt"
	"strings"

	"lab_visit_tracker/db"
	"lab_visit_tracker/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ItemService manages the equipment catalogue. Stock changes made here go
// through the same row lock as the ledger.
type ItemService struct {
	repo  *db.Repo
	log   *zap.Logger
	hooks []CommitHook
}

// NewItemService returns the catalogue service. hooks run after every
// committed create, edit or removal.
func NewItemService(repo *db.Repo, log *zap.Logger, hooks ...CommitHook) *ItemService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ItemService{repo: repo, log: log, hooks: hooks}
}

func (s *ItemService) afterCommit(ctx context.Context) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, h := range s.hooks {
		h(hctx)
	}
}

type ItemInput struct {
	Name        string
	Description string
	TotalStock  int
}

func (in ItemInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if in.TotalStock < 0 {
		return fmt.Errorf("%w: total stock must not be negative", ErrInvalidItem)
	}
	return nil
}

// Create adds an item with every unit on the shelf.
func (s *ItemService) Create(ctx context.Context, in ItemInput) (*models.Item, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	it := &models.Item{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Description:  strings.TrimSpace(in.Description),
		TotalStock:   in.TotalStock,
		CurrentStock: in.TotalStock,
	}
	if err := s.repo.CreateItem(ctx, it); err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	s.afterCommit(ctx)
	return it, nil
}

// Update edits an item. A change of total stock moves current stock by the
// same amount and is refused when more units are out than the new total allows.
func (s *ItemService) Update(ctx context.Context, id string, in ItemInput) (*models.Item, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, ErrItemNotFound
	}

	var out *models.Item
	err := s.repo.Transaction(ctx, func(tx *db.Repo) error {
		it, err := tx.LockItem(ctx, id, false)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrItemNotFound
			}
			return fmt.Errorf("lock item: %w", err)
		}
		current := it.CurrentStock + (in.TotalStock - it.TotalStock)
		if current < 0 {
			return fmt.Errorf("%w: %d unit(s) are borrowed, total cannot drop to %d",
				ErrInvalidItem, it.TotalStock-it.CurrentStock, in.TotalStock)
		}
		it.Name = strings.TrimSpace(in.Name)
		it.Description = strings.TrimSpace(in.Description)
		it.TotalStock = in.TotalStock
		it.CurrentStock = current
		if err := tx.UpdateItemFields(ctx, it.ID, map[string]any{
			"name":          it.Name,
			"description":   it.Description,
			"total_stock":   it.TotalStock,
			"current_stock": it.CurrentStock,
		}); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx)
	return out, nil
}

// Delete hides the item from the catalogue; history keeps resolving it.
func (s *ItemService) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrItemNotFound
	}
	if err := s.repo.SoftDeleteItem(ctx, id); err != nil {
		if db.IsNotFound(err) {
			return ErrItemNotFound
		}
		return err
	}
	s.log.Info("item removed from catalogue", zap.String("item_id", id))
	s.afterCommit(ctx)
	return nil
}

// ItemUsage is a catalogue row with the quantity currently lent out.
type ItemUsage struct {
	models.Item
	OnLoan int64 `json:"onLoan"`
}

func (s *ItemService) List(ctx context.Context, q string) ([]ItemUsage, error) {
	items, err := s.repo.ListItems(ctx, q)
	if err != nil {
		return nil, err
	}
	lent, err := s.repo.OpenQuantityByItem(ctx)
	if err != nil {
		return nil, fmt.Errorf("sum open borrowings: %w", err)
	}
	out := make([]ItemUsage, len(items))
	for i, it := range items {
		out[i] = ItemUsage{Item: it, OnLoan: lent[it.ID]}
	}
	return out, nil
}

// Available lists items a visitor can borrow right now.
func (s *ItemService) Available(ctx context.Context) ([]models.Item, error) {
	return s.repo.ListAvailableItems(ctx)
}

func (s *ItemService) Get(ctx context.Context, id string) (*models.Item, error) {
	if !validID(id) {
		return nil, ErrItemNotFound
	}
	it, err := s.repo.FindItemByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return it, nil
}
