package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lab_visit_tracker/db"
	"lab_visit_tracker/events"
	"lab_visit_tracker/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TapOutPolicy decides which open visits a tap-out may close.
type TapOutPolicy string

const (
	// PolicyAnyOpen closes every open visit of the visitor.
	PolicyAnyOpen TapOutPolicy = "any_open"
	// PolicyRequireBorrowing only closes open visits that hold an open
	// borrowing and refuses tap-out when there are none.
	PolicyRequireBorrowing TapOutPolicy = "require_borrowing"
)

func ParseTapOutPolicy(s string) (TapOutPolicy, error) {
	switch p := TapOutPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyAnyOpen, nil
	case PolicyAnyOpen, PolicyRequireBorrowing:
		return p, nil
	default:
		return "", fmt.Errorf("unknown tap-out policy %q", s)
	}
}

type TapInInput struct {
	VisitorID string
	Purpose   models.Purpose
	ItemID    string
	Quantity  int
}

// Eligibility is the outcome of a tap-out check. When Eligible is false
// Reason holds the domain error explaining why.
type Eligibility struct {
	VisitorID  string         `json:"visitorId"`
	Eligible   bool           `json:"eligible"`
	Reason     error          `json:"-"`
	OpenVisits []models.Visit `json:"openVisits"`
}

type TapOutResult struct {
	// Visit is the newest of the closed visits.
	Visit    *models.Visit      `json:"visit"`
	Closed   []models.Visit     `json:"closed"`
	Returned []models.Borrowing `json:"returned"`
}

// CommitHook runs after a visit-affecting transaction committed.
type CommitHook func(ctx context.Context)

type VisitService struct {
	repo       *db.Repo
	borrowings *BorrowingService
	policy     TapOutPolicy
	now        func() time.Time
	log        *zap.Logger
	publisher  events.Publisher
	hooks      []CommitHook
	opTimeout  time.Duration
}

type Option func(*VisitService)

func WithPolicy(p TapOutPolicy) Option { return func(s *VisitService) { s.policy = p } }

// WithClock replaces the wall clock; timestamps are stored as returned.
func WithClock(now func() time.Time) Option { return func(s *VisitService) { s.now = now } }

func WithLogger(log *zap.Logger) Option { return func(s *VisitService) { s.log = log } }

func WithPublisher(p events.Publisher) Option { return func(s *VisitService) { s.publisher = p } }

func WithCommitHook(h CommitHook) Option {
	return func(s *VisitService) { s.hooks = append(s.hooks, h) }
}

// WithOpTimeout bounds each operation, lock waits included.
func WithOpTimeout(d time.Duration) Option { return func(s *VisitService) { s.opTimeout = d } }

func NewVisitService(repo *db.Repo, opts ...Option) *VisitService {
	s := &VisitService{
		repo:   repo,
		policy: PolicyAnyOpen,
		now:    utcNow,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = events.NewLogPublisher(s.log)
	}
	s.borrowings = NewBorrowingService(NewStockLedger(s.log), s.now, s.log)
	return s
}

func (s *VisitService) Policy() TapOutPolicy { return s.policy }

// TapIn opens a visit for a roster visitor, borrowing one item when the
// purpose is borrow. Visit and borrowing commit together or not at all.
func (s *VisitService) TapIn(ctx context.Context, in TapInInput) (*models.Visit, error) {
	in.VisitorID = strings.TrimSpace(in.VisitorID)
	in.ItemID = strings.TrimSpace(in.ItemID)
	if in.VisitorID == "" {
		return nil, ErrMissingVisitorID
	}
	if !in.Purpose.Valid() {
		return nil, ErrInvalidPurpose
	}
	if in.Purpose == models.PurposeBorrow && (in.ItemID == "" || in.Quantity < 1) {
		return nil, ErrInvalidBorrowingParams
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var visit *models.Visit
	err := s.repo.Transaction(ctx, func(tx *db.Repo) error {
		student, err := tx.LockStudentByNIM(ctx, in.VisitorID)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrUnknownVisitor
			}
			return fmt.Errorf("lock roster entry: %w", err)
		}

		v := &models.Visit{
			ID:          uuid.NewString(),
			VisitorID:   student.NIM,
			VisitorName: student.Name,
			Purpose:     in.Purpose,
			CreatedAt:   s.now(),
		}
		if err := tx.CreateVisit(ctx, v); err != nil {
			return fmt.Errorf("insert visit: %w", err)
		}

		if in.Purpose == models.PurposeBorrow {
			b, err := s.borrowings.CreateBorrowing(ctx, tx, v, in.ItemID, in.Quantity)
			if err != nil {
				return err
			}
			v.Borrowings = []models.Borrowing{*b}
		}
		visit = v
		return nil
	})
	if err != nil {
		s.logFailure("tap-in", err, zap.String("visitor_id", in.VisitorID), zap.String("item_id", in.ItemID))
		return nil, err
	}

	e := events.VisitOpened{
		VisitID:     visit.ID,
		VisitorID:   visit.VisitorID,
		VisitorName: visit.VisitorName,
		Purpose:     string(visit.Purpose),
		OccurredAt:  visit.CreatedAt,
	}
	if len(visit.Borrowings) > 0 {
		b := visit.Borrowings[0]
		e.BorrowingID, e.ItemID, e.Quantity = b.ID, b.ItemID, b.Quantity
	}
	s.afterCommit(ctx, e)
	s.log.Info("visitor tapped in",
		zap.String("visit_id", visit.ID),
		zap.String("visitor_id", visit.VisitorID),
		zap.String("purpose", string(visit.Purpose)),
	)
	return visit, nil
}

// ValidateTapOut reports whether visitorID may tap out right now. Domain
// reasons are returned inside Eligibility; the error is for system faults.
func (s *VisitService) ValidateTapOut(ctx context.Context, visitorID string) (*Eligibility, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return nil, ErrMissingVisitorID
	}
	open, err := s.repo.OpenVisits(ctx, visitorID)
	if err != nil {
		return nil, fmt.Errorf("load open visits: %w", err)
	}
	return s.evaluate(ctx, s.repo, visitorID, open)
}

func (s *VisitService) evaluate(ctx context.Context, r *db.Repo, visitorID string, open []models.Visit) (*Eligibility, error) {
	el := &Eligibility{VisitorID: visitorID, OpenVisits: []models.Visit{}}

	if len(open) == 0 {
		n, err := r.CountVisitsByVisitor(ctx, visitorID)
		if err != nil {
			return nil, fmt.Errorf("count visits: %w", err)
		}
		if n == 0 {
			el.Reason = ErrNoVisitRecord
		} else {
			el.Reason = ErrAlreadyClosed
		}
		return el, nil
	}

	if s.policy == PolicyRequireBorrowing {
		ids := make([]string, len(open))
		for i := range open {
			ids[i] = open[i].ID
		}
		counts, err := r.OpenBorrowingCounts(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("count open borrowings: %w", err)
		}
		kept := open[:0]
		for _, v := range open {
			if counts[v.ID] > 0 {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			el.Reason = ErrNoActiveBorrowing
			return el, nil
		}
		open = kept
	}

	el.Eligible = true
	el.OpenVisits = open
	return el, nil
}

// TapOut closes the visitor's eligible open visits, returning every open
// borrowing on them first. Eligibility is re-checked on the locked rows, so
// of two concurrent tap-outs only one closes anything.
func (s *VisitService) TapOut(ctx context.Context, visitorID string) (*TapOutResult, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return nil, ErrMissingVisitorID
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var res *TapOutResult
	err := s.repo.Transaction(ctx, func(tx *db.Repo) error {
		if _, err := tx.LockStudentByNIM(ctx, visitorID); err != nil && !db.IsNotFound(err) {
			return fmt.Errorf("lock roster entry: %w", err)
		}
		open, err := tx.LockOpenVisits(ctx, visitorID)
		if err != nil {
			return fmt.Errorf("lock open visits: %w", err)
		}
		el, err := s.evaluate(ctx, tx, visitorID, open)
		if err != nil {
			return err
		}
		if !el.Eligible {
			return el.Reason
		}

		now := s.now()
		out := &TapOutResult{Closed: el.OpenVisits, Returned: []models.Borrowing{}}
		for i := range out.Closed {
			v := &out.Closed[i]
			returned, err := s.borrowings.ReturnAllOpenForVisit(ctx, tx, v)
			if err != nil {
				return err
			}
			n, err := tx.CloseVisit(ctx, v.ID, now)
			if err != nil {
				return fmt.Errorf("close visit %s: %w", v.ID, err)
			}
			if n == 0 {
				return fmt.Errorf("%w: visit %s already tapped out", ErrIntegrity, v.ID)
			}
			v.TappedOutAt = &now
			v.Borrowings = returned
			out.Returned = append(out.Returned, returned...)
		}
		out.Visit = &out.Closed[0]
		res = out
		return nil
	})
	if err != nil {
		s.logFailure("tap-out", err, zap.String("visitor_id", visitorID))
		return nil, err
	}

	ids := make([]string, len(res.Closed))
	for i := range res.Closed {
		ids[i] = res.Closed[i].ID
	}
	s.afterCommit(ctx, events.VisitClosed{
		VisitIDs:           ids,
		VisitorID:          visitorID,
		ReturnedBorrowings: len(res.Returned),
		OccurredAt:         *res.Visit.TappedOutAt,
	})
	s.log.Info("visitor tapped out",
		zap.String("visitor_id", visitorID),
		zap.Int("visits_closed", len(res.Closed)),
		zap.Int("borrowings_returned", len(res.Returned)),
	)
	return res, nil
}

// ReturnItem lets an admin return a single borrowing outside tap-out.
// Returning an already returned borrowing changes nothing.
func (s *VisitService) ReturnItem(ctx context.Context, borrowingID string) (*models.Borrowing, error) {
	if !validID(borrowingID) {
		return nil, ErrBorrowingNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		out     *models.Borrowing
		changed bool
	)
	err := s.repo.Transaction(ctx, func(tx *db.Repo) error {
		b, err := tx.LockBorrowing(ctx, borrowingID)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrBorrowingNotFound
			}
			return fmt.Errorf("lock borrowing: %w", err)
		}
		it, err := tx.LockItem(ctx, b.ItemID, true)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrItemMissing
			}
			return fmt.Errorf("lock item: %w", err)
		}
		changed, err = s.borrowings.ReturnBorrowing(ctx, tx, b)
		if err != nil {
			return err
		}
		if changed {
			if it, err = tx.LockItem(ctx, b.ItemID, true); err != nil {
				return fmt.Errorf("reload item: %w", err)
			}
		}
		b.Item = it
		out = b
		return nil
	})
	if err != nil {
		s.logFailure("return item", err, zap.String("borrowing_id", borrowingID))
		return nil, err
	}

	if changed {
		s.afterCommit(ctx, events.BorrowingReturned{
			BorrowingID: out.ID,
			VisitID:     out.VisitID,
			ItemID:      out.ItemID,
			Quantity:    out.Quantity,
			OccurredAt:  *out.ReturnedAt,
		})
	}
	return out, nil
}

// DeleteVisit removes a visit that has no open borrowings, together with its
// returned borrowings.
func (s *VisitService) DeleteVisit(ctx context.Context, visitID string) error {
	if !validID(visitID) {
		return ErrVisitNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var deleted *models.Visit
	err := s.repo.Transaction(ctx, func(tx *db.Repo) error {
		v, err := tx.LockVisit(ctx, visitID)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrVisitNotFound
			}
			return fmt.Errorf("lock visit: %w", err)
		}
		open, err := tx.LockOpenBorrowings(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("lock open borrowings: %w", err)
		}
		if len(open) > 0 {
			return ErrVisitHasOpenBorrowings
		}
		if err := tx.DeleteBorrowingsForVisit(ctx, v.ID); err != nil {
			return fmt.Errorf("delete borrowings: %w", err)
		}
		if err := tx.DeleteVisitRow(ctx, v.ID); err != nil {
			return fmt.Errorf("delete visit: %w", err)
		}
		deleted = v
		return nil
	})
	if err != nil {
		s.logFailure("delete visit", err, zap.String("visit_id", visitID))
		return err
	}

	s.afterCommit(ctx, events.VisitDeleted{VisitID: deleted.ID, VisitorID: deleted.VisitorID, OccurredAt: s.now()})
	return nil
}

// GetVisit loads a visit with its borrowings for display.
func (s *VisitService) GetVisit(ctx context.Context, visitID string) (*models.Visit, error) {
	if !validID(visitID) {
		return nil, ErrVisitNotFound
	}
	v, err := s.repo.FindVisit(ctx, visitID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrVisitNotFound
		}
		return nil, err
	}
	return v, nil
}

const fallbackVisitorName = "Visitor"

// LastVisitorName returns the name recorded on the visitor's latest visit.
func (s *VisitService) LastVisitorName(ctx context.Context, visitorID string) (string, error) {
	v, err := s.repo.LatestVisit(ctx, strings.TrimSpace(visitorID))
	if err != nil {
		if db.IsNotFound(err) {
			return fallbackVisitorName, nil
		}
		return "", err
	}
	if v.VisitorName == "" {
		return fallbackVisitorName, nil
	}
	return v.VisitorName, nil
}

func (s *VisitService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

const publishTimeout = 3 * time.Second

// afterCommit must not be skipped because the request context expired; the
// transaction is already durable.
func (s *VisitService) afterCommit(ctx context.Context, e events.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, h := range s.hooks {
		h(pctx)
	}
	if err := s.publisher.Publish(pctx, e); err != nil {
		s.log.Warn("publish event", zap.String("event_type", e.EventType()), zap.Error(err))
	}
}

func (s *VisitService) logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	switch {
	case IsValidation(err):
		s.log.Info(op+" rejected", fields...)
	case errors.Is(err, ErrIntegrity):
		s.log.Error(op+" integrity violation, rolled back", fields...)
	default:
		s.log.Error(op+" failed", fields...)
	}
}
