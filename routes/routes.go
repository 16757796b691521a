package routes

import (
	"net/http"
	"time"

	"lab_visit_tracker/app"
	"lab_visit_tracker/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, a *app.App) {
	s := controllers.GetSrv(a)
	kiosk := controllers.GetKioskController(s)
	adminCtl := controllers.GetAdminController(s)
	inviteCtl := controllers.GetInviteController(s)

	authMW := app.AuthRequired(s.AppSess, s.Repo, a.Config)
	seenMW := app.TouchLastSeen(s.Repo, a.RDB, 5*time.Minute)
	superMW := app.SuperOnly()

	r.GET("/healthz", func(c *app.Ctx) { c.JSON(http.StatusOK, app.H{"ok": true}) })

	// Kiosk (public)
	RegisterKioskRoutes(r, kiosk)

	// WebAuthn
	wa := r.Group("/webauthn")
	{
		wa.POST("/register/begin", s.BeginRegistration)
		wa.POST("/register/finish", s.FinishRegistration)
		wa.POST("/login/begin", s.BeginLogin)
		wa.POST("/login/finish", s.FinishLogin)
	}
	waAuth := wa.Group("", authMW, seenMW)
	{
		waAuth.GET("/whoami", s.WhoAmI)
		waAuth.POST("/logout", s.Logout)
	}

	creds := r.Group("/api/credentials", authMW, seenMW)
	{
		creds.POST("/add/begin", s.BeginAddCredential)
		creds.POST("/add/finish", s.FinishAddCredential)
	}

	admin := r.Group("/api/admin", authMW, seenMW)
	RegisterAdminRoutes(admin, adminCtl)

	// account management (super admins only)
	super := admin.Group("", superMW)
	{
		super.POST("/invites", inviteCtl.CreateInvite)
		super.GET("/invites", inviteCtl.ListInvites)
		super.GET("/accounts", adminCtl.ListAccounts)
		super.DELETE("/accounts/:id", adminCtl.DeleteAccount)
	}
}

// RegisterKioskRoutes mounts the public tap-in/tap-out endpoints.
func RegisterKioskRoutes(r gin.IRouter, kc *controllers.KioskController) {
	k := r.Group("/api/kiosk")
	{
		k.GET("/items", kc.ListItems)
		k.POST("/tap-in", kc.TapIn)
		k.GET("/tap-out/eligibility", kc.Eligibility)
		k.POST("/tap-out", kc.TapOut)
		k.GET("/visits/:id", kc.GetVisit)
		k.GET("/goodbye/:visitorId", kc.Goodbye)
	}
}

// RegisterAdminRoutes mounts the dashboard endpoints on an authenticated group.
func RegisterAdminRoutes(g *gin.RouterGroup, ac *controllers.AdminController) {
	g.GET("/dashboard", ac.Dashboard)
	g.GET("/borrowings", ac.ListBorrowings)
	g.POST("/borrowings/:id/return", ac.ReturnBorrowing)
	g.GET("/visits", ac.ListVisits)
	g.DELETE("/visits/:id", ac.DeleteVisit)
	g.GET("/export/visits", ac.ExportVisits)

	g.GET("/students", ac.ListStudents)
	g.POST("/students/import", ac.ImportStudents)

	g.GET("/items", ac.ListItems)
	g.POST("/items", ac.CreateItem)
	g.GET("/items/:id", ac.GetItem)
	g.PUT("/items/:id", ac.UpdateItem)
	g.DELETE("/items/:id", ac.DeleteItem)

	g.GET("/audit", ac.ListAudit)
}
