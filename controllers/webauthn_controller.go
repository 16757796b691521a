package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"lab_visit_tracker/app"
	"lab_visit_tracker/db"
	"lab_visit_tracker/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ceremonyTimeout = 3 * time.Second

var registrationOpts = []webauthn.RegistrationOption{
	webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
		UserVerification: protocol.VerificationRequired,
	}),
}

// GET /webauthn/whoami
func (s *Srv) WhoAmI(c *gin.Context) {
	id, _ := actor(c)
	a, err := s.Repo.FindAdminByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusUnauthorized, app.H{"error": "unauthorized"})
		return
	}
	creds, _ := s.Repo.CountCredentials(c.Request.Context(), id)
	c.JSON(http.StatusOK, app.H{
		"admin":       a,
		"isSuper":     c.GetBool(app.CtxIsSuper),
		"credentials": creds,
	})
}

// POST /webauthn/logout
func (s *Srv) Logout(c *gin.Context) {
	if ck, err := c.Request.Cookie(app.AppSessionCookie); err == nil && ck.Value != "" {
		_ = s.AppSess.Delete(c.Request.Context(), ck.Value)
	}
	s.clearAppCookie(c)
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// Registration is invite only. The invite email becomes the username.

func (s *Srv) BeginRegistration(c *gin.Context) {
	var in struct {
		InviteToken string `json:"inviteToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	inv, err := s.Repo.GetInviteByToken(ctx, in.InviteToken)
	if err != nil || inv.UsedAt != nil || time.Now().After(inv.ExpiresAt) {
		c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
		return
	}

	a, err := s.Repo.FindOrCreateAdmin(ctx, inv.Email, uuid.NewString())
	if err != nil {
		s.Log.Error("register: find or create admin", zap.String("email", inv.Email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, app.H{"error": "registration failed"})
		return
	}
	wUser, err := s.loadWAAdmin(ctx, a)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": "registration failed"})
		return
	}

	opts, sd, err := s.WA.BeginRegistration(wUser, registrationOpts...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	if err := s.Sess.Save(ctx, session.CeremonyInviteRegister, in.InviteToken, sd); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"opts": opts})
}

func (s *Srv) FinishRegistration(c *gin.Context) {
	token := c.Query("inviteToken")
	if token == "" {
		c.JSON(http.StatusBadRequest, app.H{"error": "missing inviteToken"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	inv, err := s.Repo.GetInviteByToken(ctx, token)
	if err != nil || inv.UsedAt != nil || time.Now().After(inv.ExpiresAt) {
		c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
		return
	}
	wUser, err := s.loadWAAdminByUsername(ctx, inv.Email)
	if err != nil {
		c.JSON(http.StatusNotFound, app.H{"error": "admin not found"})
		return
	}

	sd, err := s.Sess.Take(ctx, session.CeremonyInviteRegister, token)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "session expired or invalid"})
		return
	}
	cred, err := s.WA.FinishRegistration(wUser, *sd, c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}

	adminID := wUser.a.ID
	err = s.Repo.Transaction(ctx, func(tx *db.Repo) error {
		if err := tx.MarkInviteUsed(ctx, token); err != nil {
			return err
		}
		if err := tx.AddCredential(ctx, fromWaCred(adminID, cred)); err != nil {
			return err
		}
		if inv.CreatedBy == app.BootstrapInviteCreator {
			return tx.SetAdminSuper(ctx, adminID, true)
		}
		return nil
	})
	if errors.Is(err, db.ErrInviteUsed) {
		c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
		return
	}
	if err != nil {
		s.Log.Error("register: store credential", zap.String("admin_id", adminID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, app.H{"error": "registration failed"})
		return
	}

	if err := s.issueSession(c, adminID); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": "create app session failed"})
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "username": wUser.a.Username})
}

// Additional passkeys for a signed-in admin.

func (s *Srv) BeginAddCredential(c *gin.Context) {
	id, _ := actor(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	wUser, err := s.loadWAAdminByID(ctx, id)
	if err != nil {
		c.JSON(http.StatusUnauthorized, app.H{"error": "unauthorized"})
		return
	}
	opts, sd, err := s.WA.BeginRegistration(wUser, registrationOpts...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	if err := s.Sess.Save(ctx, session.CeremonyAddCredential, id, sd); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"opts": opts})
}

func (s *Srv) FinishAddCredential(c *gin.Context) {
	id, _ := actor(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	wUser, err := s.loadWAAdminByID(ctx, id)
	if err != nil {
		c.JSON(http.StatusUnauthorized, app.H{"error": "unauthorized"})
		return
	}
	sd, err := s.Sess.Take(ctx, session.CeremonyAddCredential, id)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "session expired or invalid"})
		return
	}
	cred, err := s.WA.FinishRegistration(wUser, *sd, c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	if err := s.Repo.AddCredential(ctx, fromWaCred(id, cred)); err != nil {
		s.Log.Error("add credential", zap.String("admin_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, app.H{"error": "could not save passkey"})
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// Login

type loginBeginReq struct {
	Username     string `json:"username"`
	Discoverable bool   `json:"discoverable"`
}

type loginBeginResp struct {
	Options   *protocol.CredentialAssertion `json:"options"`
	SessionID string                        `json:"sessionId"`
}

func (s *Srv) BeginLogin(c *gin.Context) {
	var req loginBeginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "bad request"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	var (
		opts *protocol.CredentialAssertion
		sd   *webauthn.SessionData
		err  error
	)
	if req.Discoverable || req.Username == "" {
		opts, sd, err = s.WA.BeginDiscoverableLogin(webauthn.WithUserVerification(protocol.VerificationRequired))
	} else {
		wUser, lerr := s.loadWAAdminByUsername(ctx, req.Username)
		if lerr != nil {
			c.JSON(http.StatusNotFound, app.H{"error": "admin not found"})
			return
		}
		opts, sd, err = s.WA.BeginLogin(wUser, webauthn.WithUserVerification(protocol.VerificationRequired))
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}

	sid := uuid.NewString()
	if err := s.Sess.Save(ctx, session.CeremonyLogin, sid, sd); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, loginBeginResp{Options: opts, SessionID: sid})
}

func (s *Srv) FinishLogin(c *gin.Context) {
	sid := c.Query("sessionId")
	if sid == "" {
		c.JSON(http.StatusBadRequest, app.H{"error": "missing sessionId"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	sd, err := s.Sess.Take(ctx, session.CeremonyLogin, sid)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "session expired or invalid"})
		return
	}

	var (
		adminID string
		cred    *webauthn.Credential
	)
	if username := c.Query("username"); username != "" {
		wUser, err := s.loadWAAdminByUsername(ctx, username)
		if err != nil {
			c.JSON(http.StatusNotFound, app.H{"error": "admin not found"})
			return
		}
		if cred, err = s.WA.FinishLogin(wUser, *sd, c.Request); err != nil {
			c.JSON(http.StatusUnauthorized, app.H{"error": err.Error()})
			return
		}
		adminID = wUser.a.ID
	} else {
		handler := func(rawID, _ []byte) (webauthn.User, error) {
			a, _, err := s.Repo.FindAdminByCredentialID(ctx, rawID)
			if err != nil {
				return nil, protocol.ErrBadRequest.WithDetails("credential not found")
			}
			return s.loadWAAdmin(ctx, a)
		}
		user, pcred, err := s.WA.FinishPasskeyLogin(handler, *sd, c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, app.H{"error": err.Error()})
			return
		}
		cred = pcred
		adminID = user.(*waAdmin).a.ID
	}
	if err := s.Repo.UpdateCredentialCounter(ctx, cred.ID, cred.Authenticator.SignCount, cred.Authenticator.CloneWarning); err != nil {
		s.Log.Warn("login: update sign count", zap.String("admin_id", adminID), zap.Error(err))
	}

	if err := s.issueSession(c, adminID); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": "create app session failed"})
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "redirect": "/admin/dashboard"})
}
