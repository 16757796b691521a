package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"lab_visit_tracker/models"

	"gorm.io/gorm"
)

type Repo struct{ DB *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{DB: db} }

// Transaction runs fn against a Repo bound to one database transaction.
// It commits when fn returns nil and rolls back on any error or panic.
// Code inside fn must only use tx; the outer Repo may block on a
// single-connection pool.
func (r *Repo) Transaction(ctx context.Context, fn func(tx *Repo) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{DB: tx})
	})
}

func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }

// Admins

func (r *Repo) TouchAdminLogin(ctx context.Context, adminID, ip, ua string) error {
	now := time.Now().UTC()
	return r.DB.WithContext(ctx).Model(&models.Admin{}).
		Where("id = ?", adminID).
		Updates(map[string]interface{}{
			"last_login_at": now,
			"last_seen_at":  now,
			"login_count":   gorm.Expr("COALESCE(login_count, 0) + 1"),
			"last_login_ip": ip,
			"last_login_ua": ua,
		}).Error
}

func (r *Repo) TouchAdminSeen(ctx context.Context, adminID string) error {
	return r.DB.WithContext(ctx).Model(&models.Admin{}).
		Where("id = ?", adminID).
		Update("last_seen_at", time.Now().UTC()).Error
}

func (r *Repo) FindAdminByID(ctx context.Context, id string) (*models.Admin, error) {
	var a models.Admin
	if err := r.DB.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repo) FindAdminByUsername(ctx context.Context, username string) (*models.Admin, error) {
	var a models.Admin
	if err := r.DB.WithContext(ctx).Where("username = ?", username).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repo) FindOrCreateAdmin(ctx context.Context, username, newID string) (*models.Admin, error) {
	var a models.Admin
	err := r.DB.WithContext(ctx).Where("username = ?", username).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		a = models.Admin{ID: newID, Username: username, DisplayName: username}
		if err := r.DB.WithContext(ctx).Create(&a).Error; err != nil {
			return nil, err
		}
		return &a, nil
	}
	return &a, err
}

func (r *Repo) SetAdminSuper(ctx context.Context, adminID string, super bool) error {
	return r.DB.WithContext(ctx).
		Model(&models.Admin{}).
		Where("id = ?", adminID).
		Update("is_super", super).Error
}

func (r *Repo) CountSuperAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).
		Model(&models.Admin{}).
		Where("is_super = ?", true).
		Count(&n).Error
	return n, err
}

type ListAdminsResult struct {
	Admins []models.Admin `json:"admins"`
	Total  int64          `json:"total"`
}

// ListAdmins pages through accounts, matching q against username and display name.
func (r *Repo) ListAdmins(ctx context.Context, q string, page, size int) (ListAdminsResult, error) {
	page, size = normalizePage(page, size, 100)

	tx := r.DB.WithContext(ctx).Model(&models.Admin{})
	if q = strings.TrimSpace(q); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		tx = tx.Where("LOWER(username) LIKE ? OR LOWER(display_name) LIKE ?", like, like)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return ListAdminsResult{}, err
	}

	var admins []models.Admin
	if err := tx.
		Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&admins).Error; err != nil {
		return ListAdminsResult{}, err
	}
	return ListAdminsResult{Admins: admins, Total: total}, nil
}

// DeleteAdminByID removes the account and its passkeys in one transaction.
func (r *Repo) DeleteAdminByID(ctx context.Context, id string) error {
	return r.Transaction(ctx, func(tx *Repo) error {
		if err := tx.DB.WithContext(ctx).Where("admin_id = ?", id).Delete(&models.Credential{}).Error; err != nil {
			return err
		}
		res := tx.DB.WithContext(ctx).Delete(&models.Admin{ID: id})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// Credentials

func (r *Repo) AddCredential(ctx context.Context, c *models.Credential) error {
	return r.DB.WithContext(ctx).Create(c).Error
}

func (r *Repo) LoadAdminCredentials(ctx context.Context, adminID string) ([]models.Credential, error) {
	var cs []models.Credential
	if err := r.DB.WithContext(ctx).Where("admin_id = ?", adminID).Find(&cs).Error; err != nil {
		return nil, err
	}
	return cs, nil
}

func (r *Repo) CountCredentials(ctx context.Context, adminID string) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Credential{}).
		Where("admin_id = ?", adminID).
		Count(&n).Error
	return n, err
}

func (r *Repo) UpdateCredentialCounter(ctx context.Context, credID []byte, newCount uint32, cloneWarn bool) error {
	return r.DB.WithContext(ctx).Model(&models.Credential{}).
		Where("credential_id = ?", credID).
		Updates(map[string]any{
			"sign_count":    newCount,
			"clone_warning": cloneWarn,
			"last_used_at":  time.Now().UTC(),
		}).Error
}

func (r *Repo) FindAdminByCredentialID(ctx context.Context, credID []byte) (*models.Admin, *models.Credential, error) {
	var c models.Credential
	if err := r.DB.WithContext(ctx).Where("credential_id = ?", credID).First(&c).Error; err != nil {
		return nil, nil, err
	}
	var a models.Admin
	if err := r.DB.WithContext(ctx).Where("id = ?", c.AdminID).First(&a).Error; err != nil {
		return nil, nil, err
	}
	return &a, &c, nil
}

func normalizePage(page, size, max int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > max {
		size = 20
	}
	return page, size
}
