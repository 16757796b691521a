package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"lab_visit_tracker/db"
	"lab_visit_tracker/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func reserve(f *fixture, l *StockLedger, itemID string, q int) error {
	return f.repo.Transaction(context.Background(), func(tx *db.Repo) error {
		_, err := l.Reserve(context.Background(), tx, itemID, q)
		return err
	})
}

func release(f *fixture, l *StockLedger, itemID string, q int) error {
	return f.repo.Transaction(context.Background(), func(tx *db.Repo) error {
		_, err := l.Release(context.Background(), tx, itemID, q)
		return err
	})
}

func TestStockLedger_Reserve(t *testing.T) {
	f := newFixture(t)
	l := NewStockLedger(nil)
	it := f.item(t, "Multimeter", 10, 10)

	require.NoError(t, reserve(f, l, it.ID, 3))
	assert.Equal(t, 7, f.stock(t, it.ID))

	require.NoError(t, reserve(f, l, it.ID, 7))
	assert.Equal(t, 0, f.stock(t, it.ID))
}

func TestStockLedger_ReserveInsufficient(t *testing.T) {
	f := newFixture(t)
	l := NewStockLedger(nil)
	it := f.item(t, "Oscilloscope", 5, 2)

	err := reserve(f, l, it.ID, 5)
	require.ErrorIs(t, err, ErrInsufficientStock)

	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, 2, ise.Available)
	assert.Equal(t, 5, ise.Requested)
	assert.Equal(t, 2, f.stock(t, it.ID))
}

func TestStockLedger_ReserveRejects(t *testing.T) {
	f := newFixture(t)
	l := NewStockLedger(nil)
	it := f.item(t, "Soldering iron", 4, 4)

	assert.ErrorIs(t, reserve(f, l, it.ID, 0), ErrInvalidBorrowingParams)
	assert.ErrorIs(t, reserve(f, l, uuid.NewString(), 1), ErrItemNotFound)
	assert.ErrorIs(t, reserve(f, l, "not-a-uuid", 1), ErrItemNotFound)

	require.NoError(t, f.repo.SoftDeleteItem(context.Background(), it.ID))
	assert.ErrorIs(t, reserve(f, l, it.ID, 1), ErrItemNotFound)
	assert.Equal(t, 4, f.stock(t, it.ID))
}

func TestStockLedger_ReleaseClampsAndWarns(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.WarnLevel)
	l := NewStockLedger(zap.New(core))
	it := f.item(t, "Breadboard", 10, 9)

	require.NoError(t, release(f, l, it.ID, 5))
	assert.Equal(t, 10, f.stock(t, it.ID))
	assert.Equal(t, 1, logs.FilterMessage("stock release exceeds total, clamping").Len())
}

func TestStockLedger_ReleaseSoftDeletedAndMissing(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.WarnLevel)
	l := NewStockLedger(zap.New(core))
	it := f.item(t, "Arduino", 6, 2)

	require.NoError(t, f.repo.SoftDeleteItem(context.Background(), it.ID))
	require.NoError(t, release(f, l, it.ID, 3))
	assert.Equal(t, 5, f.stock(t, it.ID))

	require.NoError(t, release(f, l, uuid.NewString(), 1))
	assert.Equal(t, 1, logs.FilterMessage("release for missing item skipped").Len())
}

func TestStockLedger_RollbackRestoresStock(t *testing.T) {
	f := newFixture(t)
	l := NewStockLedger(nil)
	it := f.item(t, "Logic analyzer", 3, 3)

	boom := errors.New("boom")
	err := f.repo.Transaction(context.Background(), func(tx *db.Repo) error {
		if _, err := l.Reserve(context.Background(), tx, it.ID, 2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, f.stock(t, it.ID))
}

func TestStockLedger_StaysWithinBounds(t *testing.T) {
	f := newFixture(t)
	l := NewStockLedger(nil)
	it := f.item(t, "Resistor kit", 8, 8)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 300; i++ {
		q := rng.Intn(5) + 1
		if rng.Intn(2) == 0 {
			err := reserve(f, l, it.ID, q)
			if err != nil {
				require.ErrorIs(t, err, ErrInsufficientStock)
			}
		} else {
			require.NoError(t, release(f, l, it.ID, q))
		}
		s := f.stock(t, it.ID)
		require.GreaterOrEqual(t, s, 0)
		require.LessOrEqual(t, s, 8)
	}
}

func TestStockLedger_ConcurrentReservations(t *testing.T) {
	tests := []struct {
		name      string
		stock     int
		requests  []int
		wantOK    int
		wantStock int
	}{
		{name: "both fit", stock: 10, requests: []int{4, 6}, wantOK: 2, wantStock: 0},
		{name: "one fits", stock: 5, requests: []int{4, 3}, wantOK: 1},
		{name: "many singles", stock: 5, requests: []int{1, 1, 1, 1, 1, 1, 1, 1}, wantOK: 5, wantStock: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			l := NewStockLedger(nil)
			it := f.item(t, "Breadboard set", tt.stock, tt.stock)

			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				ok     int
				served int
			)
			for _, q := range tt.requests {
				wg.Add(1)
				go func(q int) {
					defer wg.Done()
					err := reserve(f, l, it.ID, q)
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						ok++
						served += q
						return
					}
					assert.ErrorIs(t, err, ErrInsufficientStock)
				}(q)
			}
			wg.Wait()

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.stock-served, f.stock(t, it.ID))
			if tt.wantOK == len(tt.requests) {
				assert.Equal(t, tt.wantStock, f.stock(t, it.ID))
			}
		})
	}
}

func TestBorrowingService_ReturnIsIdempotent(t *testing.T) {
	f := newFixture(t)
	bs := NewBorrowingService(NewStockLedger(nil), f.clock.Now, nil)
	it := f.item(t, "Camera", 2, 2)
	ctx := context.Background()

	v := &models.Visit{ID: uuid.NewString(), VisitorID: "1", VisitorName: "A", Purpose: models.PurposeBorrow, CreatedAt: f.clock.Now()}
	var b *models.Borrowing
	require.NoError(t, f.repo.Transaction(ctx, func(tx *db.Repo) error {
		if err := tx.CreateVisit(ctx, v); err != nil {
			return err
		}
		var err error
		b, err = bs.CreateBorrowing(ctx, tx, v, it.ID, 2)
		return err
	}))
	assert.Equal(t, 0, f.stock(t, it.ID))

	for i, want := range []bool{true, false} {
		var changed bool
		require.NoError(t, f.repo.Transaction(ctx, func(tx *db.Repo) error {
			var err error
			changed, err = bs.ReturnBorrowing(ctx, tx, b)
			return err
		}))
		assert.Equal(t, want, changed, "call %d", i)
		assert.Equal(t, 2, f.stock(t, it.ID))
	}
	assert.Equal(t, models.BorrowingReturned, f.borrowing(t, b.ID).Status)
}
