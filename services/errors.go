package services

import (
	"errors"
	"fmt"
)

// Domain error kinds. Handlers map each one to a single user-facing message.
var (
	ErrUnknownVisitor         = errors.New("visitor id not found in student roster")
	ErrItemNotFound           = errors.New("item not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidBorrowingParams = errors.New("borrowing requires an item and a quantity of at least 1")
	ErrInvalidPurpose         = errors.New("purpose must be study or borrow")
	ErrMissingVisitorID       = errors.New("visitor id is required")
	ErrNoVisitRecord          = errors.New("no visit record for visitor")
	ErrAlreadyClosed          = errors.New("all visits already closed")
	ErrNoActiveBorrowing      = errors.New("no open visit with an active borrowing")
	ErrBorrowingNotFound      = errors.New("borrowing not found")
	ErrItemMissing            = errors.New("borrowed item no longer exists")
	ErrVisitNotFound          = errors.New("visit not found")
	ErrVisitHasOpenBorrowings = errors.New("visit still has open borrowings")
	ErrInvalidItem            = errors.New("invalid item")

	// ErrIntegrity marks a state the locks should have made impossible.
	ErrIntegrity = errors.New("integrity violation")
)

// InsufficientStockError carries the numbers behind ErrInsufficientStock.
type InsufficientStockError struct {
	ItemName  string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d", e.ItemName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

var validationErrors = []error{
	ErrUnknownVisitor,
	ErrItemNotFound,
	ErrInsufficientStock,
	ErrInvalidBorrowingParams,
	ErrInvalidPurpose,
	ErrMissingVisitorID,
	ErrNoVisitRecord,
	ErrAlreadyClosed,
	ErrNoActiveBorrowing,
	ErrBorrowingNotFound,
	ErrItemMissing,
	ErrVisitNotFound,
	ErrVisitHasOpenBorrowings,
	ErrInvalidItem,
}

// IsValidation reports whether err is an expected business-rule failure as
// opposed to a system fault.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
