package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"lab_visit_tracker/db"
	"lab_visit_tracker/db/dbtest"
	"lab_visit_tracker/events"
	"lab_visit_tracker/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type fixture struct {
	repo  *db.Repo
	clock *fakeClock
	pub   *recordingPublisher
	svc   *VisitService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureOn(t, dbtest.Repo(t), opts...)
}

// newPostgresFixture runs against the server named by dbtest.PostgresDSNEnv
// and skips the test when none is configured.
func newPostgresFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureOn(t, dbtest.PostgresRepo(t), opts...)
}

func newFixtureOn(t *testing.T, repo *db.Repo, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:  repo,
		clock: newClock(),
		pub:   &recordingPublisher{},
	}
	base := []Option{WithClock(f.clock.Now), WithPublisher(f.pub), WithOpTimeout(5 * time.Second)}
	f.svc = NewVisitService(f.repo, append(base, opts...)...)
	return f
}

func (f *fixture) student(t *testing.T, nim, name string) {
	t.Helper()
	_, err := f.repo.UpsertStudents(context.Background(), []models.Student{{NIM: nim, Name: name, Program: "Informatika"}})
	require.NoError(t, err)
}

func (f *fixture) item(t *testing.T, name string, total, current int) *models.Item {
	t.Helper()
	it := &models.Item{ID: uuid.NewString(), Name: name, TotalStock: total, CurrentStock: current}
	require.NoError(t, f.repo.CreateItem(context.Background(), it))
	return it
}

func (f *fixture) stock(t *testing.T, itemID string) int {
	t.Helper()
	var it models.Item
	require.NoError(t, f.repo.DB.Unscoped().First(&it, "id = ?", itemID).Error)
	return it.CurrentStock
}

func (f *fixture) visitCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.repo.DB.Model(&models.Visit{}).Count(&n).Error)
	return n
}

func (f *fixture) borrowing(t *testing.T, id string) models.Borrowing {
	t.Helper()
	var b models.Borrowing
	require.NoError(t, f.repo.DB.First(&b, "id = ?", id).Error)
	return b
}

func (f *fixture) visit(t *testing.T, id string) models.Visit {
	t.Helper()
	var v models.Visit
	require.NoError(t, f.repo.DB.First(&v, "id = ?", id).Error)
	return v
}
