package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"lab_visit_tracker/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These run only when TEST_POSTGRES_DSN points at a server. SQLite has a
// single writer and ignores FOR UPDATE, so the row locks are only exercised
// here.

func reserveWithin(f *fixture, l *StockLedger, d time.Duration, itemID string, q int) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.repo.Transaction(ctx, func(tx *db.Repo) error {
		_, err := l.Reserve(ctx, tx, itemID, q)
		return err
	})
}

func TestPostgres_ConcurrentReservationsOnOneItem(t *testing.T) {
	tests := []struct {
		name     string
		stock    int
		workers  int
		quantity int
		wantOK   int
	}{
		{name: "oversubscribed", stock: 5, workers: 12, quantity: 1, wantOK: 5},
		{name: "exactly enough", stock: 20, workers: 10, quantity: 2, wantOK: 10},
		{name: "uneven", stock: 7, workers: 6, quantity: 3, wantOK: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPostgresFixture(t)
			l := NewStockLedger(nil)
			it := f.item(t, "Bench supply", tt.stock, tt.stock)

			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				ok    int
				start = make(chan struct{})
			)
			for i := 0; i < tt.workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					err := reserveWithin(f, l, 10*time.Second, it.ID, tt.quantity)
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						ok++
						return
					}
					assert.ErrorIs(t, err, ErrInsufficientStock)
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.stock-tt.wantOK*tt.quantity, f.stock(t, it.ID))
		})
	}
}

func TestPostgres_ConcurrentTapInsConserveStock(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	it := f.item(t, "Arduino kit", 6, 6)
	const visitors = 10
	for i := 0; i < visitors; i++ {
		f.student(t, fmt.Sprintf("24010%02d", i), fmt.Sprintf("Student %d", i))
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < visitors; i++ {
		wg.Add(1)
		go func(nim string) {
			defer wg.Done()
			_, err := f.svc.TapIn(ctx, borrowIn(nim, it.ID, 1))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientStock)
		}(fmt.Sprintf("24010%02d", i))
	}
	wg.Wait()

	assert.Equal(t, 6, ok)
	assert.Equal(t, 0, f.stock(t, it.ID))
	assert.Equal(t, int64(6), f.visitCount(t))
}

func TestPostgres_ConcurrentTapOutReleasesOnce(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	f.student(t, "2401101", "Joko")
	cam := f.item(t, "Camera", 4, 4)
	mic := f.item(t, "Microphone", 3, 3)

	_, err := f.svc.TapIn(ctx, borrowIn("2401101", cam.ID, 3))
	require.NoError(t, err)
	_, err = f.svc.TapIn(ctx, borrowIn("2401101", mic.ID, 2))
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		start = make(chan struct{})
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.TapOut(ctx, "2401101")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyClosed)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, f.stock(t, cam.ID))
	assert.Equal(t, 3, f.stock(t, mic.ID))
}

func TestPostgres_LockedItemBlocksOnlyItsOwnReservations(t *testing.T) {
	f := newPostgresFixture(t)
	l := NewStockLedger(nil)
	held := f.item(t, "Oscilloscope", 5, 5)
	free := f.item(t, "Soldering iron", 5, 5)

	locked := make(chan struct{})
	unlock := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- f.repo.Transaction(context.Background(), func(tx *db.Repo) error {
			if _, err := tx.LockItem(context.Background(), held.ID, false); err != nil {
				return err
			}
			close(locked)
			<-unlock
			return nil
		})
	}()
	select {
	case <-locked:
	case err := <-holder:
		t.Fatalf("holder transaction ended early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("holder transaction never took the lock")
	}

	// another item's row is not affected
	require.NoError(t, reserveWithin(f, l, 2*time.Second, free.ID, 1))

	waiting := make(chan error, 1)
	go func() { waiting <- reserveWithin(f, l, 10*time.Second, held.ID, 1) }()
	select {
	case err := <-waiting:
		t.Fatalf("reservation on a locked item returned before the lock was released: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	close(unlock)
	require.NoError(t, <-holder)
	select {
	case err := <-waiting:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reservation still blocked after the lock was released")
	}

	assert.Equal(t, 4, f.stock(t, held.ID))
	assert.Equal(t, 4, f.stock(t, free.ID))
}
