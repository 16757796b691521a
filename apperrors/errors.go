// Package apperrors turns domain errors into the JSON error body and status
// code the HTTP layer returns.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"lab_visit_tracker/services"
)

// StandardError is the body of every failed response.
type StandardError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *StandardError) Error() string { return e.Message }

func (e *StandardError) HTTPStatus() int {
	switch e.Code {
	case "InvalidRequest", "ValidationError", "InvalidPurpose", "InvalidBorrowingParams", "InvalidItem":
		return http.StatusBadRequest
	case "UnknownVisitor", "ItemNotFound", "NoVisitRecord", "BorrowingNotFound", "VisitNotFound", "ResourceNotFound":
		return http.StatusNotFound
	case "InsufficientStock", "AlreadyClosed", "NoActiveBorrowing", "ItemMissing", "VisitHasOpenBorrowings", "Conflict":
		return http.StatusConflict
	case "Unauthorized":
		return http.StatusUnauthorized
	case "Forbidden":
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func New(code, message, details string) *StandardError {
	return &StandardError{Code: code, Message: message, Details: details}
}

func NewInvalidRequest(message, details string) *StandardError {
	return New("InvalidRequest", message, details)
}

func NewNotFound(what string) *StandardError {
	return New("ResourceNotFound", what+" not found", "")
}

// NewInternal hides the cause; callers log it.
func NewInternal() *StandardError {
	return New("InternalError", "Operation failed, please try again.", "")
}

func NewInsufficientStock(item string, available, requested int) *StandardError {
	msg := fmt.Sprintf("Only %d unit(s) of %s left.", available, item)
	if available == 0 {
		msg = fmt.Sprintf("%s is out of stock.", item)
	}
	return New("InsufficientStock", msg, fmt.Sprintf("Available: %d, Requested: %d", available, requested))
}

var domain = []struct {
	err     error
	code    string
	message string
}{
	{services.ErrMissingVisitorID, "ValidationError", "Student ID is required."},
	{services.ErrUnknownVisitor, "UnknownVisitor", "Student ID is not registered. Please contact the lab admin."},
	{services.ErrInvalidPurpose, "InvalidPurpose", "Visit purpose must be study or borrow."},
	{services.ErrInvalidBorrowingParams, "InvalidBorrowingParams", "Choose an item and a quantity of at least 1 to borrow."},
	{services.ErrItemNotFound, "ItemNotFound", "The selected item was not found."},
	{services.ErrNoVisitRecord, "NoVisitRecord", "No visit record found for this student ID."},
	{services.ErrAlreadyClosed, "AlreadyClosed", "You have already tapped out."},
	{services.ErrNoActiveBorrowing, "NoActiveBorrowing", "There is no active borrowing to return for this student ID."},
	{services.ErrBorrowingNotFound, "BorrowingNotFound", "Borrowing not found."},
	{services.ErrItemMissing, "ItemMissing", "The borrowed item no longer exists."},
	{services.ErrVisitNotFound, "VisitNotFound", "Visit not found."},
	{services.ErrVisitHasOpenBorrowings, "VisitHasOpenBorrowings", "Return the borrowed items before deleting this visit."},
	{services.ErrInvalidItem, "InvalidItem", "Item data is invalid."},
}

// FromDomain maps a service error to its StandardError. ok is false for
// errors that are not domain failures; those must be logged and answered
// with NewInternal.
func FromDomain(err error) (se *StandardError, ok bool) {
	if err == nil {
		return nil, false
	}
	if errors.As(err, &se) {
		return se, true
	}
	var ise *services.InsufficientStockError
	if errors.As(err, &ise) {
		return NewInsufficientStock(ise.ItemName, ise.Available, ise.Requested), true
	}
	for _, d := range domain {
		if errors.Is(err, d.err) {
			details := ""
			if err.Error() != d.err.Error() {
				details = err.Error()
			}
			return New(d.code, d.message, details), true
		}
	}
	return nil, false
}
