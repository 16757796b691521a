package app

import (
	"testing"
	"time"

	"lab_visit_tracker/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "TAPOUT_POLICY", "OP_TIMEOUT_SECONDS", "ADMIN_EMAILS", "KAFKA_BROKERS", "APP_TIMEZONE", "SESSION_TTL_SECONDS", "DB_NAME"} {
		t.Setenv(k, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, services.PolicyAnyOpen, cfg.TapOutPolicy)
	assert.Equal(t, 5*time.Second, cfg.OpTimeout)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Contains(t, cfg.DSN(), "dbname=lab_visits")
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/lab.db")
	t.Setenv("TAPOUT_POLICY", "require_borrowing")
	t.Setenv("ADMIN_EMAILS", " Ops@Lab.ac.id , ,root@lab.ac.id")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("OP_TIMEOUT_SECONDS", "2")
	t.Setenv("APP_TIMEZONE", "Asia/Jakarta")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/lab.db", cfg.DSN())
	assert.Equal(t, services.PolicyRequireBorrowing, cfg.TapOutPolicy)
	assert.Equal(t, []string{"ops@lab.ac.id", "root@lab.ac.id"}, cfg.AdminEmails)
	assert.True(t, cfg.IsAdminEmail("OPS@lab.ac.id"))
	assert.False(t, cfg.IsAdminEmail("guest@lab.ac.id"))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Second, cfg.OpTimeout)
	assert.Equal(t, "Asia/Jakarta", cfg.Location.String())
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("TAPOUT_POLICY", "sometimes")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "TAPOUT_POLICY")

	t.Setenv("TAPOUT_POLICY", "")
	t.Setenv("OP_TIMEOUT_SECONDS", "soon")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "OP_TIMEOUT_SECONDS")

	t.Setenv("OP_TIMEOUT_SECONDS", "")
	t.Setenv("DB_DRIVER", "mysql")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "DB_DRIVER")
}
