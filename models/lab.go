package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ItemTable      = "lab_items"
	VisitTable     = "lab_visits"
	BorrowingTable = "lab_borrowings"
	StudentTable   = "lab_students"
)

// Item is a stock-tracked piece of lab equipment. CurrentStock is the number
// of units on the shelf and never leaves [0, TotalStock].
type Item struct {
	ID           string         `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string         `gorm:"size:200;not null" json:"name"`
	Description  string         `gorm:"type:text" json:"description,omitempty"`
	TotalStock   int            `gorm:"not null;check:chk_lab_items_stock,current_stock >= 0 AND current_stock <= total_stock" json:"totalStock"`
	CurrentStock int            `gorm:"not null" json:"currentStock"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

type Purpose string

const (
	PurposeStudy  Purpose = "study"
	PurposeBorrow Purpose = "borrow"
)

func (p Purpose) Valid() bool { return p == PurposeStudy || p == PurposeBorrow }

// Visit is one tap-in/tap-out session. It is open while TappedOutAt is nil.
type Visit struct {
	ID          string      `gorm:"type:uuid;primaryKey" json:"id"`
	VisitorID   string      `gorm:"column:visitor_id;size:50;not null;index" json:"visitorId"`
	VisitorName string      `gorm:"size:255;not null" json:"visitorName"`
	Purpose     Purpose     `gorm:"size:20;not null;index" json:"purpose"`
	TappedOutAt *time.Time  `gorm:"index" json:"tappedOutAt,omitempty"`
	CreatedAt   time.Time   `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	Borrowings  []Borrowing `gorm:"foreignKey:VisitID" json:"borrowings,omitempty"`
}

func (v *Visit) IsOpen() bool { return v.TappedOutAt == nil }

type BorrowingStatus string

const (
	BorrowingOpen     BorrowingStatus = "open"
	BorrowingReturned BorrowingStatus = "returned"
)

type Borrowing struct {
	ID         string          `gorm:"type:uuid;primaryKey" json:"id"`
	VisitID    string          `gorm:"type:uuid;index;not null" json:"visitId"`
	ItemID     string          `gorm:"type:uuid;index;not null" json:"itemId"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	Status     BorrowingStatus `gorm:"size:20;not null;index" json:"status"`
	ReturnedAt *time.Time      `json:"returnedAt,omitempty"`
	CreatedAt  time.Time       `gorm:"index" json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`

	Item  *Item  `gorm:"foreignKey:ItemID" json:"item,omitempty"`
	Visit *Visit `gorm:"foreignKey:VisitID" json:"visit,omitempty"`
}

func (b *Borrowing) IsOpen() bool { return b.Status == BorrowingOpen }

// Student is a roster entry; its NIM is the visitor id typed at the kiosk.
type Student struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	NIM       string    `gorm:"column:nim;size:50;uniqueIndex;not null" json:"nim"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Program   string    `gorm:"size:255" json:"program,omitempty"`
	EntryYear string    `gorm:"size:10" json:"entryYear,omitempty"`
	Cohort    string    `gorm:"size:10" json:"cohort,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Item) TableName() string      { return ItemTable }
func (Visit) TableName() string     { return VisitTable }
func (Borrowing) TableName() string { return BorrowingTable }
func (Student) TableName() string   { return StudentTable }
