package controllers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lab_visit_tracker/app"
	"lab_visit_tracker/apperrors"
	"lab_visit_tracker/db"
	"lab_visit_tracker/models"
	"lab_visit_tracker/services"
	"lab_visit_tracker/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.uber.org/zap"
)

// Srv carries what every handler needs.
type Srv struct {
	WA      *webauthn.WebAuthn
	Repo    *db.Repo
	Sess    *session.Store
	AppSess *session.AppSessionStore
	Cfg     app.Config
	Log     *zap.Logger

	Visits *services.VisitService
	Items  *services.ItemService
	Stats  *services.AnalyticsService
}

func GetSrv(a *app.App) *Srv {
	repo := db.NewRepo(a.DB)
	stats := services.NewAnalyticsService(repo, a.Cache, a.Config.StatsCacheTTL, a.Config.Location, nil, a.Log)
	visits := services.NewVisitService(repo,
		services.WithPolicy(a.Config.TapOutPolicy),
		services.WithLogger(a.Log),
		services.WithPublisher(a.Events),
		services.WithOpTimeout(a.Config.OpTimeout),
		services.WithCommitHook(stats.Invalidate),
	)
	return &Srv{
		WA:      a.WA,
		Repo:    repo,
		Sess:    session.NewStore(a.RDB, a.Config.SessionTTL),
		AppSess: a.AppSessions(),
		Cfg:     a.Config,
		Log:     a.Log,
		Visits:  visits,
		Items:   services.NewItemService(repo, a.Log, stats.Invalidate),
		Stats:   stats,
	}
}

// fail answers with the mapped domain error, or logs err and answers 500.
func (s *Srv) fail(c *gin.Context, op string, err error) {
	se, ok := apperrors.FromDomain(err)
	if !ok {
		s.Log.Error(op, zap.Error(err), zap.String("request_id", c.GetString("request_id")))
		se = apperrors.NewInternal()
	}
	c.AbortWithStatusJSON(se.HTTPStatus(), se)
}

func (s *Srv) badRequest(c *gin.Context, err error) {
	se := apperrors.NewInvalidRequest("Invalid request.", err.Error())
	c.AbortWithStatusJSON(se.HTTPStatus(), se)
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	return page, size
}

// actor returns the signed-in admin set by app.AuthRequired.
func actor(c *gin.Context) (id, username string) {
	return c.GetString(app.CtxAdminID), c.GetString(app.CtxUsername)
}

// audit records an admin action; failures are logged, never returned.
func (s *Srv) audit(c *gin.Context, action, targetID, detail string) {
	id, username := actor(c)
	var d *string
	if detail != "" {
		d = &detail
	}
	if _, err := s.Repo.LogAdminAction(c.Request.Context(), id, username, action, targetID, d); err != nil {
		s.Log.Warn("audit log", zap.String("action", action), zap.String("target", targetID), zap.Error(err))
	}
}

func (s *Srv) secureCookie() bool { return strings.HasPrefix(s.Cfg.WebOrigin, "https://") }

func (s *Srv) setAppCookie(c *gin.Context, sid string, ttl time.Duration) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     app.AppSessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookie(),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
	})
}

func (s *Srv) clearAppCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     app.AppSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie(),
		SameSite: http.SameSiteLaxMode,
	})
}

func randomID() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// issueSession signs the admin in and records the login.
func (s *Srv) issueSession(c *gin.Context, adminID string) error {
	sid := randomID()
	if err := s.AppSess.Create(c.Request.Context(), sid, adminID); err != nil {
		return err
	}
	s.setAppCookie(c, sid, s.AppSess.TTL())
	_ = s.Repo.TouchAdminLogin(c.Request.Context(), adminID, c.ClientIP(), c.Request.UserAgent())
	return nil
}

// waAdmin adapts models.Admin to webauthn.User.
type waAdmin struct {
	a     *models.Admin
	creds []webauthn.Credential
}

func (u *waAdmin) WebAuthnID() []byte                         { return []byte(u.a.ID) }
func (u *waAdmin) WebAuthnName() string                       { return u.a.Username }
func (u *waAdmin) WebAuthnDisplayName() string                { return u.a.DisplayName }
func (u *waAdmin) WebAuthnIcon() string                       { return "" }
func (u *waAdmin) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func toWaCred(c models.Credential) webauthn.Credential {
	var transports []protocol.AuthenticatorTransport
	if c.TransportsJSON != "" {
		_ = json.Unmarshal([]byte(c.TransportsJSON), &transports)
	}
	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.AAGUID,
			SignCount:    c.SignCount,
			CloneWarning: c.CloneWarning,
		},
	}
}

func fromWaCred(adminID string, cred *webauthn.Credential) *models.Credential {
	tj, _ := json.Marshal(cred.Transport)
	return &models.Credential{
		AdminID:         adminID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		CloneWarning:    cred.Authenticator.CloneWarning,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
		TransportsJSON:  string(tj),
	}
}

func (s *Srv) loadWAAdmin(ctx context.Context, a *models.Admin) (*waAdmin, error) {
	creds, err := s.Repo.LoadAdminCredentials(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	u := &waAdmin{a: a}
	for _, c := range creds {
		u.creds = append(u.creds, toWaCred(c))
	}
	return u, nil
}

func (s *Srv) loadWAAdminByID(ctx context.Context, id string) (*waAdmin, error) {
	a, err := s.Repo.FindAdminByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.loadWAAdmin(ctx, a)
}

func (s *Srv) loadWAAdminByUsername(ctx context.Context, username string) (*waAdmin, error) {
	a, err := s.Repo.FindAdminByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.loadWAAdmin(ctx, a)
}
