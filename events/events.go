// Package events carries visit domain events to downstream consumers.
package events

import (
	"context"
	"time"
)

// Publisher sends a committed domain event. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Event is a fact about a visit that has already been committed.
type Event interface {
	EventType() string
	PartitionKey() string
}

type VisitOpened struct {
	VisitID     string    `json:"visitId"`
	VisitorID   string    `json:"visitorId"`
	VisitorName string    `json:"visitorName"`
	Purpose     string    `json:"purpose"`
	BorrowingID string    `json:"borrowingId,omitempty"`
	ItemID      string    `json:"itemId,omitempty"`
	Quantity    int       `json:"quantity,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type VisitClosed struct {
	VisitIDs           []string  `json:"visitIds"`
	VisitorID          string    `json:"visitorId"`
	ReturnedBorrowings int       `json:"returnedBorrowings"`
	OccurredAt         time.Time `json:"occurredAt"`
}

type BorrowingReturned struct {
	BorrowingID string    `json:"borrowingId"`
	VisitID     string    `json:"visitId"`
	ItemID      string    `json:"itemId"`
	Quantity    int       `json:"quantity"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type VisitDeleted struct {
	VisitID    string    `json:"visitId"`
	VisitorID  string    `json:"visitorId"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (VisitOpened) EventType() string       { return "VisitOpened" }
func (VisitClosed) EventType() string       { return "VisitClosed" }
func (BorrowingReturned) EventType() string { return "BorrowingReturned" }
func (VisitDeleted) EventType() string      { return "VisitDeleted" }

// Events of one visitor share a partition so consumers see them in order.
func (e VisitOpened) PartitionKey() string       { return e.VisitorID }
func (e VisitClosed) PartitionKey() string       { return e.VisitorID }
func (e BorrowingReturned) PartitionKey() string { return e.VisitID }
func (e VisitDeleted) PartitionKey() string      { return e.VisitorID }
