package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemService_CreateUpdateDelete(t *testing.T) {
	f := newFixture(t)
	items := NewItemService(f.repo, nil)
	ctx := context.Background()
	f.student(t, "2401001", "Rina")

	it, err := items.Create(ctx, ItemInput{Name: " Camera ", TotalStock: 5})
	require.NoError(t, err)
	assert.Equal(t, "Camera", it.Name)
	assert.Equal(t, 5, it.CurrentStock)

	_, err = f.svc.TapIn(ctx, borrowIn("2401001", it.ID, 3))
	require.NoError(t, err)

	up, err := items.Update(ctx, it.ID, ItemInput{Name: "Camera", TotalStock: 8})
	require.NoError(t, err)
	assert.Equal(t, 8, up.TotalStock)
	assert.Equal(t, 5, up.CurrentStock)

	_, err = items.Update(ctx, it.ID, ItemInput{Name: "Camera", TotalStock: 2})
	assert.ErrorIs(t, err, ErrInvalidItem)
	assert.Equal(t, 5, f.stock(t, it.ID))

	up, err = items.Update(ctx, it.ID, ItemInput{Name: "Camera", TotalStock: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, up.CurrentStock)

	avail, err := items.Available(ctx)
	require.NoError(t, err)
	assert.Empty(t, avail)

	list, err := items.List(ctx, "cam")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(3), list[0].OnLoan)

	require.NoError(t, items.Delete(ctx, it.ID))
	list, err = items.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.ErrorIs(t, items.Delete(ctx, it.ID), ErrItemNotFound)

	// returning after removal still restores the units
	_, err = f.svc.TapOut(ctx, "2401001")
	require.NoError(t, err)
	assert.Equal(t, 3, f.stock(t, it.ID))
}

func TestItemService_Validation(t *testing.T) {
	f := newFixture(t)
	items := NewItemService(f.repo, nil)
	ctx := context.Background()

	_, err := items.Create(ctx, ItemInput{Name: "", TotalStock: 1})
	assert.ErrorIs(t, err, ErrInvalidItem)
	_, err = items.Create(ctx, ItemInput{Name: "X", TotalStock: -1})
	assert.ErrorIs(t, err, ErrInvalidItem)
	_, err = items.Update(ctx, "missing", ItemInput{Name: "X", TotalStock: 1})
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = items.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestItemService_CommitHooks(t *testing.T) {
	f := newFixture(t)
	calls := 0
	items := NewItemService(f.repo, nil, func(context.Context) { calls++ })
	ctx := context.Background()

	it, err := items.Create(ctx, ItemInput{Name: "Gimbal", TotalStock: 2})
	require.NoError(t, err)
	_, err = items.Update(ctx, it.ID, ItemInput{Name: "Gimbal", TotalStock: 3})
	require.NoError(t, err)
	require.NoError(t, items.Delete(ctx, it.ID))
	assert.Equal(t, 3, calls)

	// rejected changes commit nothing
	_, err = items.Update(ctx, it.ID, ItemInput{Name: "Gimbal", TotalStock: 1})
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.Equal(t, 3, calls)
}
