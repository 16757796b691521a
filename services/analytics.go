package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"lab_visit_tracker/cache"
	"lab_visit_tracker/db"
	"lab_visit_tracker/models"

	"go.uber.org/zap"
)

const (
	statsKeyPrefix  = "stats:"
	statsGenKey     = "statsgen"
	topItemsLimit   = 10
	overdueAfter    = 24 * time.Hour
	defaultStatsTTL = 5 * time.Minute
)

type TodayStats struct {
	Date             string `json:"date"`
	UniqueVisitors   int64  `json:"uniqueVisitors"`
	ActiveBorrowings int64  `json:"activeBorrowings"`
	OpenVisits       int64  `json:"openVisits"`
}

type DailyCount struct {
	Date     string `json:"date"`
	Visitors int64  `json:"visitors"`
}

type PurposeDistribution struct {
	Study  int64 `json:"study"`
	Borrow int64 `json:"borrow"`
}

type BorrowingStats struct {
	Active        int64 `json:"active"`
	ReturnedToday int64 `json:"returnedToday"`
	QuantityOut   int64 `json:"quantityOut"`
	Overdue       int64 `json:"overdue"`
}

// AnalyticsService computes dashboard numbers and caches them until the next
// committed visit change.
type AnalyticsService struct {
	repo  *db.Repo
	cache cache.Cache
	ttl   time.Duration
	loc   *time.Location
	now   func() time.Time
	log   *zap.Logger
}

func NewAnalyticsService(repo *db.Repo, c cache.Cache, ttl time.Duration, loc *time.Location, now func() time.Time, log *zap.Logger) *AnalyticsService {
	if c == nil {
		c = cache.NewInMemory()
	}
	if ttl <= 0 {
		ttl = defaultStatsTTL
	}
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = utcNow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalyticsService{repo: repo, cache: c, ttl: ttl, loc: loc, now: now, log: log}
}

// DayBounds returns [start, end) of the calendar day containing t, in UTC.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

func (s *AnalyticsService) Location() *time.Location { return s.loc }

// Today returns the bounds of the current local day, in UTC.
func (s *AnalyticsService) Today() (time.Time, time.Time) { return DayBounds(s.now(), s.loc) }

// Invalidate moves readers to a new cache generation and drops the entries of
// older ones. It is registered as a commit hook.
func (s *AnalyticsService) Invalidate(ctx context.Context) {
	if _, err := s.cache.Incr(ctx, statsGenKey); err != nil {
		s.log.Warn("bump stats generation", zap.Error(err))
	}
	if err := s.cache.DeleteByPattern(ctx, statsKeyPrefix+"*"); err != nil {
		s.log.Warn("invalidate stats cache", zap.Error(err))
	}
}

func (s *AnalyticsService) generation(ctx context.Context) (int64, error) {
	raw, err := s.cache.Get(ctx, statsGenKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

// cached serves key from the current generation. A value computed while an
// invalidation lands is written under the old generation, which no reader
// asks for again.
func cached[T any](ctx context.Context, s *AnalyticsService, key string, load func() (T, error)) (T, error) {
	gen, err := s.generation(ctx)
	if err != nil {
		s.log.Warn("stats generation read", zap.Error(err))
		return load()
	}
	full := fmt.Sprintf("%s%d:%s", statsKeyPrefix, gen, key)

	var v T
	err = cache.GetJSON(ctx, s.cache, full, &v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.Warn("stats cache read", zap.String("key", full), zap.Error(err))
	}
	v, err = load()
	if err != nil {
		return v, err
	}
	if err := cache.SetJSON(ctx, s.cache, full, v, s.ttl); err != nil {
		s.log.Warn("stats cache write", zap.String("key", full), zap.Error(err))
	}
	return v, nil
}

func (s *AnalyticsService) TodayStats(ctx context.Context) (TodayStats, error) {
	from, to := DayBounds(s.now(), s.loc)
	day := from.In(s.loc).Format(time.DateOnly)
	return cached(ctx, s, "today:"+day, func() (TodayStats, error) {
		out := TodayStats{Date: day}
		var err error
		if out.UniqueVisitors, err = s.repo.CountDistinctVisitors(ctx, from, to); err != nil {
			return out, fmt.Errorf("count visitors: %w", err)
		}
		if out.ActiveBorrowings, err = s.repo.CountOpenBorrowings(ctx); err != nil {
			return out, fmt.Errorf("count open borrowings: %w", err)
		}
		if out.OpenVisits, err = s.repo.CountOpenVisits(ctx); err != nil {
			return out, fmt.Errorf("count open visits: %w", err)
		}
		return out, nil
	})
}

func (s *AnalyticsService) windowStart(days int) time.Time {
	if days < 1 {
		days = 1
	}
	start, _ := DayBounds(s.now(), s.loc)
	return start.AddDate(0, 0, -(days - 1))
}

// MostBorrowedItems ranks the ten most borrowed items over the last days.
func (s *AnalyticsService) MostBorrowedItems(ctx context.Context, days int) ([]db.ItemBorrowCount, error) {
	since := s.windowStart(days)
	return cached(ctx, s, fmt.Sprintf("top:%d:%s", days, since.Format(time.DateOnly)), func() ([]db.ItemBorrowCount, error) {
		rows, err := s.repo.MostBorrowedItems(ctx, since, topItemsLimit)
		if rows == nil {
			rows = []db.ItemBorrowCount{}
		}
		return rows, err
	})
}

// DailyVisitors counts unique visitors per day for the last days, oldest
// first, with empty days present as zero.
func (s *AnalyticsService) DailyVisitors(ctx context.Context, days int) ([]DailyCount, error) {
	if days < 1 {
		days = 1
	}
	since := s.windowStart(days)
	return cached(ctx, s, fmt.Sprintf("daily:%d:%s", days, since.Format(time.DateOnly)), func() ([]DailyCount, error) {
		stamps, err := s.repo.VisitStampsSince(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("load visits: %w", err)
		}
		seen := make(map[string]map[string]struct{}, days)
		for _, st := range stamps {
			day := st.CreatedAt.In(s.loc).Format(time.DateOnly)
			if seen[day] == nil {
				seen[day] = make(map[string]struct{})
			}
			seen[day][st.VisitorID] = struct{}{}
		}
		out := make([]DailyCount, 0, days)
		for i := 0; i < days; i++ {
			day := since.AddDate(0, 0, i).In(s.loc).Format(time.DateOnly)
			out = append(out, DailyCount{Date: day, Visitors: int64(len(seen[day]))})
		}
		return out, nil
	})
}

func (s *AnalyticsService) PurposeDistribution(ctx context.Context, days int) (PurposeDistribution, error) {
	since := s.windowStart(days)
	return cached(ctx, s, fmt.Sprintf("purpose:%d:%s", days, since.Format(time.DateOnly)), func() (PurposeDistribution, error) {
		return s.purposeCounts(ctx, since, time.Time{})
	})
}

func (s *AnalyticsService) purposeCounts(ctx context.Context, from, to time.Time) (PurposeDistribution, error) {
	var out PurposeDistribution
	rows, err := s.repo.PurposeCounts(ctx, from, to)
	if err != nil {
		return out, fmt.Errorf("count purposes: %w", err)
	}
	for _, r := range rows {
		switch models.Purpose(r.Purpose) {
		case models.PurposeStudy:
			out.Study = r.Count
		case models.PurposeBorrow:
			out.Borrow = r.Count
		}
	}
	return out, nil
}

type DayVisitCounts struct {
	Date   string `json:"date"`
	Total  int64  `json:"total"`
	Study  int64  `json:"study"`
	Borrow int64  `json:"borrow"`
}

// VisitCountsForDay counts the visits of the local day containing day. It
// backs the admin visit list and is not cached.
func (s *AnalyticsService) VisitCountsForDay(ctx context.Context, day time.Time) (DayVisitCounts, error) {
	from, to := DayBounds(day, s.loc)
	pd, err := s.purposeCounts(ctx, from, to)
	if err != nil {
		return DayVisitCounts{}, err
	}
	return DayVisitCounts{
		Date:   day.In(s.loc).Format(time.DateOnly),
		Total:  pd.Study + pd.Borrow,
		Study:  pd.Study,
		Borrow: pd.Borrow,
	}, nil
}

// BorrowingStats summarises open and returned borrowings. A borrowing is
// overdue once it has been open for more than 24 hours.
func (s *AnalyticsService) BorrowingStats(ctx context.Context) (BorrowingStats, error) {
	now := s.now()
	from, to := DayBounds(now, s.loc)
	return cached(ctx, s, "borrowings:"+from.Format(time.DateOnly), func() (BorrowingStats, error) {
		var out BorrowingStats
		var err error
		if out.Active, err = s.repo.CountOpenBorrowings(ctx); err != nil {
			return out, err
		}
		if out.ReturnedToday, err = s.repo.CountReturnedBetween(ctx, from, to); err != nil {
			return out, err
		}
		if out.QuantityOut, err = s.repo.SumOpenQuantity(ctx); err != nil {
			return out, err
		}
		if out.Overdue, err = s.repo.CountOpenBorrowingsBefore(ctx, now.Add(-overdueAfter)); err != nil {
			return out, err
		}
		return out, nil
	})
}
