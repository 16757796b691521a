package controllers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"lab_visit_tracker/app"
	"lab_visit_tracker/apperrors"
	"lab_visit_tracker/db"
	"lab_visit_tracker/export"
	"lab_visit_tracker/models"
	"lab_visit_tracker/roster"
	"lab_visit_tracker/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	chartDays     = 7
	maxRosterSize = 5 << 20
)

// AdminController serves the signed-in admin dashboard.
type AdminController struct{ *Srv }

func GetAdminController(s *Srv) *AdminController { return &AdminController{Srv: s} }

// GET /api/admin/dashboard?activity=study|borrow
func (ac *AdminController) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	from, to := ac.Stats.Today()

	active, err := ac.Repo.ActiveBorrowings(ctx)
	if err != nil {
		ac.fail(c, "dashboard: active borrowings", err)
		return
	}
	visits, err := ac.Repo.ListVisits(ctx, db.VisitsQuery{
		From: from, To: to, Purpose: purposeFilter(c.Query("activity")), Size: 200,
	})
	if err != nil {
		ac.fail(c, "dashboard: visits", err)
		return
	}
	today, err := ac.Stats.TodayStats(ctx)
	if err != nil {
		ac.fail(c, "dashboard: today", err)
		return
	}
	top, err := ac.Stats.MostBorrowedItems(ctx, chartDays)
	if err != nil {
		ac.fail(c, "dashboard: top items", err)
		return
	}
	daily, err := ac.Stats.DailyVisitors(ctx, chartDays)
	if err != nil {
		ac.fail(c, "dashboard: daily", err)
		return
	}
	purposes, err := ac.Stats.PurposeDistribution(ctx, chartDays)
	if err != nil {
		ac.fail(c, "dashboard: purposes", err)
		return
	}

	c.JSON(http.StatusOK, app.H{
		"activeBorrowings":    active,
		"todaysVisits":        visits.Visits,
		"today":               today,
		"mostBorrowedItems":   top,
		"dailyVisitors":       daily,
		"purposeDistribution": purposes,
	})
}

func purposeFilter(s string) string {
	if p := models.Purpose(s); p.Valid() {
		return s
	}
	return ""
}

// GET /api/admin/borrowings?status=open|returned&itemId=&page=&size=
func (ac *AdminController) ListBorrowings(c *gin.Context) {
	page, size := pageParams(c)
	res, err := ac.Repo.ListBorrowings(c.Request.Context(), db.BorrowingsQuery{
		Status: c.Query("status"),
		ItemID: c.Query("itemId"),
		Page:   page,
		Size:   size,
	})
	if err != nil {
		ac.fail(c, "list borrowings", err)
		return
	}
	stats, err := ac.Stats.BorrowingStats(c.Request.Context())
	if err != nil {
		ac.fail(c, "borrowing stats", err)
		return
	}
	c.JSON(http.StatusOK, app.H{
		"total":      res.Total,
		"borrowings": res.Borrowings,
		"stats":      stats,
	})
}

// parseDay reads YYYY-MM-DD in the lab's time zone; empty means today.
func (ac *AdminController) parseDay(s string) (time.Time, error) {
	if s == "" {
		from, _ := ac.Stats.Today()
		return from, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, ac.Stats.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD")
	}
	return d, nil
}

// GET /api/admin/visits?date=&purpose=&status=&q=&page=&size=
func (ac *AdminController) ListVisits(c *gin.Context) {
	day, err := ac.parseDay(c.Query("date"))
	if err != nil {
		ac.badRequest(c, err)
		return
	}
	from, to := services.DayBounds(day, ac.Stats.Location())
	page, size := pageParams(c)

	res, err := ac.Repo.ListVisits(c.Request.Context(), db.VisitsQuery{
		From:    from,
		To:      to,
		Purpose: purposeFilter(c.Query("purpose")),
		Status:  c.Query("status"),
		Q:       c.Query("q"),
		Page:    page,
		Size:    size,
	})
	if err != nil {
		ac.fail(c, "list visits", err)
		return
	}
	counts, err := ac.Stats.VisitCountsForDay(c.Request.Context(), day)
	if err != nil {
		ac.fail(c, "visit counts", err)
		return
	}
	c.JSON(http.StatusOK, app.H{
		"total":  res.Total,
		"visits": res.Visits,
		"counts": counts,
	})
}

// POST /api/admin/borrowings/:id/return
func (ac *AdminController) ReturnBorrowing(c *gin.Context) {
	id := c.Param("id")
	b, err := ac.Visits.ReturnItem(c.Request.Context(), id)
	if err != nil {
		ac.fail(c, "return borrowing", err)
		return
	}
	ac.audit(c, db.AuditReturnItem, id, fmt.Sprintf("item %s x%d", b.ItemID, b.Quantity))
	c.JSON(http.StatusOK, app.H{"borrowing": b})
}

// DELETE /api/admin/visits/:id
func (ac *AdminController) DeleteVisit(c *gin.Context) {
	id := c.Param("id")
	if err := ac.Visits.DeleteVisit(c.Request.Context(), id); err != nil {
		ac.fail(c, "delete visit", err)
		return
	}
	ac.audit(c, db.AuditDeleteVisit, id, "")
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// GET /api/admin/export/visits?date=&format=xlsx|csv
func (ac *AdminController) ExportVisits(c *gin.Context) {
	day, err := ac.parseDay(c.Query("date"))
	if err != nil {
		ac.badRequest(c, err)
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		ac.badRequest(c, err)
		return
	}
	from, to := services.DayBounds(day, ac.Stats.Location())
	visits, err := ac.Repo.VisitsBetween(c.Request.Context(), from, to)
	if err != nil {
		ac.fail(c, "export visits", err)
		return
	}

	report := export.VisitReport{Date: day, Loc: ac.Stats.Location(), Visits: visits}
	var buf bytes.Buffer
	if err := report.Write(&buf, format); err != nil {
		ac.fail(c, "render export", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.FileName(format)))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// POST /api/admin/students/import (multipart field "file")
func (ac *AdminController) ImportStudents(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		ac.badRequest(c, err)
		return
	}
	if fh.Size > maxRosterSize {
		ac.badRequest(c, errors.New("roster file is larger than 5 MB"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		ac.fail(c, "open roster upload", err)
		return
	}
	defer f.Close()

	students, skipped, err := roster.Parse(f)
	if err != nil {
		ac.badRequest(c, err)
		return
	}
	n, err := ac.Repo.UpsertStudents(c.Request.Context(), students)
	if err != nil {
		ac.fail(c, "import roster", err)
		return
	}
	ac.Log.Info("roster imported", zap.Int("rows", len(students)), zap.Int("skipped", skipped))
	ac.audit(c, db.AuditImportRoster, "", fmt.Sprintf("%s: %d rows, %d skipped", fh.Filename, len(students), skipped))
	c.JSON(http.StatusOK, app.H{"imported": len(students), "affected": n, "skipped": skipped})
}

// GET /api/admin/students?q=&page=&size=
func (ac *AdminController) ListStudents(c *gin.Context) {
	page, size := pageParams(c)
	res, err := ac.Repo.ListStudents(c.Request.Context(), c.Query("q"), page, size)
	if err != nil {
		ac.fail(c, "list students", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type itemReq struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description"`
	TotalStock  *int   `json:"totalStock" binding:"required,min=0"`
}

func (r itemReq) input() services.ItemInput {
	return services.ItemInput{Name: r.Name, Description: r.Description, TotalStock: *r.TotalStock}
}

// GET /api/admin/items?q=
func (ac *AdminController) ListItems(c *gin.Context) {
	items, err := ac.Items.List(c.Request.Context(), c.Query("q"))
	if err != nil {
		ac.fail(c, "list items", err)
		return
	}
	c.JSON(http.StatusOK, app.H{"items": items})
}

// GET /api/admin/items/:id
func (ac *AdminController) GetItem(c *gin.Context) {
	it, err := ac.Items.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		ac.fail(c, "get item", err)
		return
	}
	c.JSON(http.StatusOK, app.H{"item": it})
}

// POST /api/admin/items
func (ac *AdminController) CreateItem(c *gin.Context) {
	var req itemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ac.badRequest(c, err)
		return
	}
	it, err := ac.Items.Create(c.Request.Context(), req.input())
	if err != nil {
		ac.fail(c, "create item", err)
		return
	}
	c.JSON(http.StatusCreated, app.H{"item": it})
}

// PUT /api/admin/items/:id
func (ac *AdminController) UpdateItem(c *gin.Context) {
	var req itemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ac.badRequest(c, err)
		return
	}
	it, err := ac.Items.Update(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		ac.fail(c, "update item", err)
		return
	}
	c.JSON(http.StatusOK, app.H{"item": it})
}

// DELETE /api/admin/items/:id
func (ac *AdminController) DeleteItem(c *gin.Context) {
	id := c.Param("id")
	if err := ac.Items.Delete(c.Request.Context(), id); err != nil {
		ac.fail(c, "delete item", err)
		return
	}
	ac.audit(c, db.AuditDeleteItem, id, "")
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// GET /api/admin/audit?page=&size=
func (ac *AdminController) ListAudit(c *gin.Context) {
	page, size := pageParams(c)
	logs, total, err := ac.Repo.ListAuditLog(c.Request.Context(), page, size)
	if err != nil {
		ac.fail(c, "list audit log", err)
		return
	}
	c.JSON(http.StatusOK, app.H{"total": total, "entries": logs})
}

// GET /api/admin/accounts?q=&page=&size=
func (ac *AdminController) ListAccounts(c *gin.Context) {
	page, size := pageParams(c)
	res, err := ac.Repo.ListAdmins(c.Request.Context(), c.Query("q"), page, size)
	if err != nil {
		ac.fail(c, "list admins", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DELETE /api/admin/accounts/:id
func (ac *AdminController) DeleteAccount(c *gin.Context) {
	id := c.Param("id")
	if self, _ := actor(c); self == id {
		ac.badRequest(c, errors.New("cannot delete your own account"))
		return
	}
	notFound := func() {
		se := apperrors.NewNotFound("Admin")
		c.AbortWithStatusJSON(se.HTTPStatus(), se)
	}
	if _, err := uuid.Parse(id); err != nil {
		notFound()
		return
	}
	if err := ac.Repo.DeleteAdminByID(c.Request.Context(), id); err != nil {
		if db.IsNotFound(err) {
			notFound()
			return
		}
		ac.fail(c, "delete admin", err)
		return
	}
	ac.audit(c, db.AuditDeleteAdmin, id, "")
	if ac.AppSess != nil {
		if err := ac.AppSess.RevokeAllForAdmin(c.Request.Context(), id); err != nil {
			ac.Log.Warn("revoke sessions", zap.String("admin_id", id), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}
