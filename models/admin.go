package models

import (
	"time"
)

// Admin is a lab staff account. Its UUID doubles as the WebAuthn user handle.
type Admin struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Username    string `gorm:"uniqueIndex;size:255;not null" json:"username"`
	DisplayName string `gorm:"size:255;not null" json:"displayName"`
	IsSuper     bool   `gorm:"not null;default:false" json:"isSuper"`

	LastLoginAt *time.Time `gorm:"index" json:"lastLoginAt,omitempty"`
	LastSeenAt  *time.Time `gorm:"index" json:"lastSeenAt,omitempty"`
	LoginCount  int64      `gorm:"not null;default:0" json:"loginCount"`
	LastLoginIP string     `gorm:"size:45" json:"-"`
	LastLoginUA string     `gorm:"size:255" json:"-"`

	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Credentials []Credential `gorm:"foreignKey:AdminID" json:"-"`
}

func (Admin) TableName() string { return "lab_admins" }

// Credential is one registered passkey. Binary columns map to bytea on Postgres.
type Credential struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	AdminID         string `gorm:"type:uuid;index" json:"adminId"`
	CredentialID    []byte `gorm:"uniqueIndex" json:"credentialId"`
	PublicKey       []byte `json:"publicKey"`
	AttestationType string `gorm:"size:64" json:"attestationType"`
	AAGUID          []byte `json:"aaguid"`
	SignCount       uint32 `json:"signCount"`
	CloneWarning    bool   `json:"cloneWarning"`
	BackupEligible  bool   `json:"backupEligible"`
	BackupState     bool   `json:"backupState"`
	TransportsJSON  string `gorm:"type:text" json:"transportsJson"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	LastUsedAt *time.Time `gorm:"index" json:"lastUsedAt,omitempty"`
}

func (Credential) TableName() string { return "lab_credentials" }

// AuditLog records admin actions that change lab data or accounts.
type AuditLog struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID       string    `gorm:"type:uuid;index" json:"actorId"`
	ActorUsername string    `gorm:"size:255" json:"actorUsername"`
	Action        string    `gorm:"size:50;not null;index" json:"action"`
	TargetID      string    `gorm:"size:255" json:"targetId"`
	Detail        *string   `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}

func (AuditLog) TableName() string { return "lab_audit_log" }
