package app

import (
	"net/http"

	"lab_visit_tracker/db"
	"lab_visit_tracker/session"

	"github.com/gin-gonic/gin"
)

const AppSessionCookie = "lab_session"

// Context keys set by AuthRequired.
const (
	CtxAdminID  = "adminID"
	CtxUsername = "username"
	CtxIsSuper  = "isSuper"
)

// AuthRequired resolves the session cookie to a live admin account.
func AuthRequired(appSess *session.AppSessionStore, repo *db.Repo, cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ck, err := c.Request.Cookie(AppSessionCookie)
		if err != nil || ck.Value == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		as, err := appSess.Get(c.Request.Context(), ck.Value)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "invalid session"})
			return
		}

		a, err := repo.FindAdminByID(c.Request.Context(), as.AdminID)
		if err != nil {
			_ = appSess.Delete(c.Request.Context(), ck.Value)
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		c.Set(CtxAdminID, a.ID)
		c.Set(CtxUsername, a.Username)
		c.Set(CtxIsSuper, a.IsSuper || cfg.IsAdminEmail(a.Username))
		c.Next()
	}
}

// SuperOnly guards account management (invites, removing admins).
func SuperOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(CtxAdminID); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		if !c.GetBool(CtxIsSuper) {
			c.AbortWithStatusJSON(http.StatusForbidden, H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
