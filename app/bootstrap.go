package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"lab_visit_tracker/db"

	"go.uber.org/zap"
)

// BootstrapInviteCreator marks invites whose registrant becomes a super admin.
const BootstrapInviteCreator = "bootstrap"

// BootstrapFirstAdmin issues a one-day invite for BOOTSTRAP_ADMIN_EMAIL while
// no super admin exists yet, and logs the registration link.
func BootstrapFirstAdmin(ctx context.Context, cfg Config, repo *db.Repo, log *zap.Logger) {
	if cfg.BootstrapEmail == "" {
		return
	}
	n, err := repo.CountSuperAdmins(ctx)
	if err != nil {
		log.Warn("bootstrap: count admins", zap.Error(err))
		return
	}
	if n > 0 {
		return
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Error("bootstrap: token", zap.Error(err))
		return
	}
	token := hex.EncodeToString(buf)

	if _, err := repo.CreateInvite(ctx, cfg.BootstrapEmail, token, time.Now().UTC().Add(24*time.Hour), BootstrapInviteCreator); err != nil {
		log.Error("bootstrap invite failed", zap.Error(err))
		return
	}
	log.Info("no admin found, created bootstrap invite",
		zap.String("email", cfg.BootstrapEmail),
		zap.String("link", fmt.Sprintf("%s/admin/login?inviteToken=%s", cfg.WebOrigin, token)),
	)
}
