package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lab_visit_tracker/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func borrowIn(nim, itemID string, q int) TapInInput {
	return TapInInput{VisitorID: nim, Purpose: models.PurposeBorrow, ItemID: itemID, Quantity: q}
}

func studyIn(nim string) TapInInput {
	return TapInInput{VisitorID: nim, Purpose: models.PurposeStudy}
}

func TestTapIn_BorrowThenTapOutRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(t, "2201001", "Siti Aminah")
	it := f.item(t, "Multimeter", 10, 10)

	v, err := f.svc.TapIn(ctx, borrowIn("2201001", it.ID, 3))
	require.NoError(t, err)
	assert.Equal(t, "Siti Aminah", v.VisitorName)
	assert.True(t, v.IsOpen())
	require.Len(t, v.Borrowings, 1)
	assert.Equal(t, 7, f.stock(t, it.ID))
	assert.Equal(t, models.BorrowingOpen, f.borrowing(t, v.Borrowings[0].ID).Status)

	f.clock.Advance(time.Hour)
	res, err := f.svc.TapOut(ctx, "2201001")
	require.NoError(t, err)
	assert.Equal(t, v.ID, res.Visit.ID)
	require.Len(t, res.Returned, 1)
	assert.Equal(t, 10, f.stock(t, it.ID))

	b := f.borrowing(t, v.Borrowings[0].ID)
	assert.Equal(t, models.BorrowingReturned, b.Status)
	require.NotNil(t, b.ReturnedAt)
	stored := f.visit(t, v.ID)
	require.NotNil(t, stored.TappedOutAt)
	assert.True(t, stored.TappedOutAt.Equal(f.clock.Now()))

	assert.Equal(t, []string{"VisitOpened", "VisitClosed"}, f.pub.types())
}

func TestTapIn_InsufficientStockPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.student(t, "2201002", "Budi")
	it := f.item(t, "Oscilloscope", 4, 2)

	_, err := f.svc.TapIn(context.Background(), borrowIn("2201002", it.ID, 5))
	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, 2, ise.Available)
	assert.Equal(t, 5, ise.Requested)

	assert.Zero(t, f.visitCount(t))
	assert.Equal(t, 2, f.stock(t, it.ID))
	assert.Empty(t, f.pub.types())
}

func TestTapIn_Validation(t *testing.T) {
	f := newFixture(t)
	f.student(t, "2201003", "Citra")
	it := f.item(t, "Arduino", 3, 3)

	tests := []struct {
		name string
		in   TapInInput
		want error
	}{
		{"missing visitor", TapInInput{Purpose: models.PurposeStudy}, ErrMissingVisitorID},
		{"bad purpose", TapInInput{VisitorID: "2201003", Purpose: "nap"}, ErrInvalidPurpose},
		{"borrow without item", borrowIn("2201003", "", 1), ErrInvalidBorrowingParams},
		{"borrow zero quantity", borrowIn("2201003", it.ID, 0), ErrInvalidBorrowingParams},
		{"unknown visitor", studyIn("9999999"), ErrUnknownVisitor},
		{"unknown item", borrowIn("2201003", uuid.NewString(), 1), ErrItemNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.TapIn(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidation(err))
		})
	}
	assert.Zero(t, f.visitCount(t))
	assert.Equal(t, 3, f.stock(t, it.ID))
}

func TestTapOut_NoVisitRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	el, err := f.svc.ValidateTapOut(ctx, "2201004")
	require.NoError(t, err)
	assert.False(t, el.Eligible)
	assert.ErrorIs(t, el.Reason, ErrNoVisitRecord)

	_, err = f.svc.TapOut(ctx, "2201004")
	assert.ErrorIs(t, err, ErrNoVisitRecord)
}

func TestTapOut_TwiceIsAlreadyClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(t, "2201005", "Dewi")

	v, err := f.svc.TapIn(ctx, studyIn("2201005"))
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	_, err = f.svc.TapOut(ctx, "2201005")
	require.NoError(t, err)
	closedAt := f.visit(t, v.ID).TappedOutAt
	require.NotNil(t, closedAt)

	el, err := f.svc.ValidateTapOut(ctx, "2201005")
	require.NoError(t, err)
	assert.False(t, el.Eligible)
	assert.ErrorIs(t, el.Reason, ErrAlreadyClosed)

	f.clock.Advance(time.Minute)
	_, err = f.svc.TapOut(ctx, "2201005")
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	assert.True(t, closedAt.Equal(*f.visit(t, v.ID).TappedOutAt))
}

func TestTapOut_ClosesEveryOpenVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(t, "2201006", "Eko")
	a := f.item(t, "Camera", 2, 2)
	b := f.item(t, "Tripod", 5, 5)

	first, err := f.svc.TapIn(ctx, borrowIn("2201006", a.ID, 2))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.svc.TapIn(ctx, borrowIn("2201006", b.ID, 1))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	third, err := f.svc.TapIn(ctx, studyIn("2201006"))
	require.NoError(t, err)

	el, err := f.svc.ValidateTapOut(ctx, "2201006")
	require.NoError(t, err)
	require.True(t, el.Eligible)
	require.Len(t, el.OpenVisits, 3)
	assert.Equal(t, third.ID, el.OpenVisits[0].ID)

	res, err := f.svc.TapOut(ctx, "2201006")
	require.NoError(t, err)
	assert.Equal(t, third.ID, res.Visit.ID)
	assert.Len(t, res.Closed, 3)
	assert.Len(t, res.Returned, 2)
	assert.Equal(t, 2, f.stock(t, a.ID))
	assert.Equal(t, 5, f.stock(t, b.ID))
	for _, id := range []string{first.ID, second.ID, third.ID} {
		assert.NotNil(t, f.visit(t, id).TappedOutAt)
	}
}

func TestTapOut_RequireBorrowingPolicy(t *testing.T) {
	f := newFixture(t, WithPolicy(PolicyRequireBorrowing))
	ctx := context.Background()
	f.student(t, "2201007", "Fajar")
	it := f.item(t, "Microscope", 1, 1)

	study, err := f.svc.TapIn(ctx, studyIn("2201007"))
	require.NoError(t, err)

	el, err := f.svc.ValidateTapOut(ctx, "2201007")
	require.NoError(t, err)
	assert.False(t, el.Eligible)
	assert.ErrorIs(t, el.Reason, ErrNoActiveBorrowing)
	_, err = f.svc.TapOut(ctx, "2201007")
	assert.ErrorIs(t, err, ErrNoActiveBorrowing)

	f.clock.Advance(time.Minute)
	borrow, err := f.svc.TapIn(ctx, borrowIn("2201007", it.ID, 1))
	require.NoError(t, err)

	res, err := f.svc.TapOut(ctx, "2201007")
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, borrow.ID, res.Visit.ID)
	assert.Nil(t, f.visit(t, study.ID).TappedOutAt)
	assert.Equal(t, 1, f.stock(t, it.ID))
}

func TestTapOut_ConcurrentReleasesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(t, "2201008", "Gita")
	it := f.item(t, "Power supply", 6, 6)

	_, err := f.svc.TapIn(ctx, borrowIn("2201008", it.ID, 4))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.TapOut(ctx, "2201008")
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyClosed)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 6, f.stock(t, it.ID))
}

func TestTapOut_SoftDeletedItemStillRestored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(t, "2201009", "Hadi")
	it := f.item(t, "Drone", 3, 3)

	_, err := f.svc.TapIn(ctx, borrowIn("2201009", it.ID, 2))
	require.NoError(t, err)
	require.NoError(t, f.repo.SoftDeleteItem(ctx, it.ID))

	_, err = f.svc.TapOut(ctx, "2201009")
	require.NoError(t, err)
	assert.Equal(t, 3, f.stock(t, it.ID))
}

func TestRoundTripConservesStock(t *testing.T) {
	for _, q := range []int{1, 2, 5, 9} {
		f := newFixture(t)
		ctx := context.Background()
		f.student(t, "2201010", "Indra")
		it := f.item(t, "Kit", 9, 9)
		other := f.item(t, "Spare", 4, 4)

		_, err := f.svc.TapIn(ctx, borrowIn("2201010", it.ID, q))
		require.NoError(t, err)
		_, err = f.svc.TapOut(ctx, "2201010")
		require.NoError(t, err)

		assert.Equal(t, 9, f.stock(t, it.ID), "quantity %d", q)
		assert.Equal(t, 4, f.stock(t, other.ID))
	}
}

func TestReturnItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(t, "2201011", "Joko")
	it := f.item(t, "Laptop", 2, 2)

	v, err := f.svc.TapIn(ctx, borrowIn("2201011", it.ID, 2))
	require.NoError(t, err)
	bID := v.Borrowings[0].ID

	b, err := f.svc.ReturnItem(ctx, bID)
	require.NoError(t, err)
	assert.Equal(t, models.BorrowingReturned, b.Status)
	require.NotNil(t, b.Item)
	assert.Equal(t, 2, b.Item.CurrentStock)
	assert.Equal(t, 2, f.stock(t, it.ID))

	// second return and a later tap-out must not release again
	_, err = f.svc.ReturnItem(ctx, bID)
	require.NoError(t, err)
	res, err := f.svc.TapOut(ctx, "2201011")
	require.NoError(t, err)
	assert.Empty(t, res.Returned)
	assert.Equal(t, 2, f.stock(t, it.ID))

	_, err = f.svc.ReturnItem(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrBorrowingNotFound)
	_, err = f.svc.ReturnItem(ctx, "nope")
	assert.ErrorIs(t, err, ErrBorrowingNotFound)

	assert.Equal(t, []string{"VisitOpened", "BorrowingReturned", "VisitClosed"}, f.pub.types())
}

func TestReturnItem_ItemMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(t, "2201012", "Kartika")
	it := f.item(t, "Sensor", 1, 1)

	v, err := f.svc.TapIn(ctx, borrowIn("2201012", it.ID, 1))
	require.NoError(t, err)
	require.NoError(t, f.repo.DB.Unscoped().Delete(&models.Item{ID: it.ID}).Error)

	_, err = f.svc.ReturnItem(ctx, v.Borrowings[0].ID)
	assert.ErrorIs(t, err, ErrItemMissing)
	assert.Equal(t, models.BorrowingOpen, f.borrowing(t, v.Borrowings[0].ID).Status)
}

func TestDeleteVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(t, "2201013", "Lina")
	it := f.item(t, "Projector", 1, 1)

	v, err := f.svc.TapIn(ctx, borrowIn("2201013", it.ID, 1))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteVisit(ctx, v.ID), ErrVisitHasOpenBorrowings)
	assert.Equal(t, int64(1), f.visitCount(t))

	_, err = f.svc.ReturnItem(ctx, v.Borrowings[0].ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteVisit(ctx, v.ID))
	assert.Zero(t, f.visitCount(t))

	var n int64
	require.NoError(t, f.repo.DB.Model(&models.Borrowing{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.stock(t, it.ID))

	assert.ErrorIs(t, f.svc.DeleteVisit(ctx, v.ID), ErrVisitNotFound)
	assert.ErrorIs(t, f.svc.DeleteVisit(ctx, "bad"), ErrVisitNotFound)
}

func TestCommitHooksRunOnlyAfterSuccess(t *testing.T) {
	calls := 0
	f := newFixture(t, WithCommitHook(func(context.Context) { calls++ }))
	ctx := context.Background()
	f.student(t, "2201014", "Maya")

	_, err := f.svc.TapIn(ctx, studyIn("2201014"))
	require.NoError(t, err)
	_, err = f.svc.TapIn(ctx, studyIn("0000000"))
	require.Error(t, err)
	_, err = f.svc.TapOut(ctx, "2201014")
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestGetVisitAndLastVisitorName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(t, "2201015", "Nadia")
	it := f.item(t, "Headset", 2, 2)

	name, err := f.svc.LastVisitorName(ctx, "2201015")
	require.NoError(t, err)
	assert.Equal(t, "Visitor", name)

	v, err := f.svc.TapIn(ctx, borrowIn("2201015", it.ID, 1))
	require.NoError(t, err)

	got, err := f.svc.GetVisit(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, got.Borrowings, 1)
	require.NotNil(t, got.Borrowings[0].Item)
	assert.Equal(t, "Headset", got.Borrowings[0].Item.Name)

	name, err = f.svc.LastVisitorName(ctx, "2201015")
	require.NoError(t, err)
	assert.Equal(t, "Nadia", name)

	_, err = f.svc.GetVisit(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrVisitNotFound)
}

func TestParseTapOutPolicy(t *testing.T) {
	p, err := ParseTapOutPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAnyOpen, p)

	p, err = ParseTapOutPolicy(" REQUIRE_BORROWING ")
	require.NoError(t, err)
	assert.Equal(t, PolicyRequireBorrowing, p)

	_, err = ParseTapOutPolicy("whenever")
	assert.Error(t, err)
}
