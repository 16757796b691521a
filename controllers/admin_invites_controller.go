package controllers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"lab_visit_tracker/app"
	"lab_visit_tracker/db"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MailFunc delivers an invite link. Tests replace it.
type MailFunc func(cfg app.Config, toEmail, link string, expiresDays int) error

type InviteController struct {
	*Srv
	send MailFunc
}

func GetInviteController(s *Srv) *InviteController {
	return &InviteController{Srv: s, send: sendInviteMail}
}

// POST /api/admin/invites
func (ic *InviteController) CreateInvite(c *gin.Context) {
	var in struct {
		Email   string `json:"email" binding:"required,email"`
		Expires int    `json:"expiresDays" binding:"omitempty,min=0,max=30"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		ic.badRequest(c, err)
		return
	}
	if in.Expires <= 0 {
		in.Expires = 1
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		ic.fail(c, "invite token", err)
		return
	}
	token := hex.EncodeToString(buf)

	_, by := actor(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	inv, err := ic.Repo.CreateInvite(ctx, strings.ToLower(in.Email), token, time.Now().UTC().AddDate(0, 0, in.Expires), by)
	if err != nil {
		ic.fail(c, "create invite", err)
		return
	}

	ic.audit(c, db.AuditInviteAdmin, inv.Email, "")

	link := strings.TrimRight(ic.Cfg.WebOrigin, "/") + "/admin/login?inviteToken=" + token
	if ic.Cfg.SMTPHost == "" {
		ic.Log.Info("invite created, smtp not configured", zap.String("email", inv.Email), zap.String("link", link))
	} else if err := ic.send(ic.Cfg, inv.Email, link, in.Expires); err != nil {
		ic.Log.Warn("invite email failed", zap.String("email", inv.Email), zap.Error(err))
	}

	c.JSON(http.StatusCreated, app.H{
		"token":  token,
		"link":   link,
		"invite": inv,
	})
}

// GET /api/admin/invites
func (ic *InviteController) ListInvites(c *gin.Context) {
	invs, err := ic.Repo.ListPendingInvites(c.Request.Context(), time.Now().UTC())
	if err != nil {
		ic.fail(c, "list invites", err)
		return
	}
	c.JSON(http.StatusOK, app.H{"invites": invs})
}

func sendInviteMail(cfg app.Config, toEmail, link string, expiresDays int) error {
	if cfg.SMTPUsername == "" && cfg.SMTPFrom == "" {
		return fmt.Errorf("smtp: no sender configured")
	}
	fromAddr := cfg.SMTPFrom
	if fromAddr == "" {
		fromAddr = cfg.SMTPUsername
	}

	subject := fmt.Sprintf("%s admin invitation", cfg.AppName)
	body := fmt.Sprintf(`
<div style="font-family:Arial,sans-serif; font-size:14px; color:#222">
  <p>Hello,</p>
  <p>You have been invited to manage <b>%s</b>. Open the link below to create your passkey and sign in:</p>
  <p><a href="%s">%s</a></p>
  <p>This invitation expires in %d day(s).</p>
  <hr/>
  <p style="color:#666">If you did not expect this email, you can ignore it.</p>
</div>
`, cfg.AppName, link, link, expiresDays)

	msg := buildMIME(cfg.AppName, fromAddr, toEmail, subject, body)
	auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	return smtp.SendMail(cfg.SMTPHost+":"+cfg.SMTPPort, auth, fromAddr, []string{toEmail}, []byte(msg))
}

func buildMIME(fromName, fromAddr, to, subject, html string) string {
	headers := []string{
		fmt.Sprintf("From: %s <%s>", fromName, fromAddr),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + html
}
