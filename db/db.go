package db

import (
	"errors"
	"fmt"
	"time"

	"lab_visit_tracker/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ConnectDB opens the database for driver and migrates the schema.
// SQLite is limited to a single connection so that transactions serialize.
func ConnectDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if driver == DriverSQLite {
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// PostgresDSN builds a libpq key/value DSN.
func PostgresDSN(host, user, password, name, port, sslMode string) string {
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		host, user, password, name, port, sslMode,
	)
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Admin{}, &models.Credential{}, &models.Invite{},
		&models.Item{}, &models.Student{}, &models.Visit{}, &models.Borrowing{},
		&models.AuditLog{},
	); err != nil {
		return err
	}

	// open borrowings are looked up per visit on every tap-out
	if err := db.Exec(fmt.Sprintf(`
	  CREATE INDEX IF NOT EXISTS %s_open_by_visit
	  ON %s (visit_id)
	  WHERE status = 'open';
	`, models.BorrowingTable, models.BorrowingTable)).Error; err != nil {
		return err
	}

	// open visits per visitor
	if err := db.Exec(fmt.Sprintf(`
	  CREATE INDEX IF NOT EXISTS %s_open_by_visitor
	  ON %s (visitor_id, created_at)
	  WHERE tapped_out_at IS NULL;
	`, models.VisitTable, models.VisitTable)).Error; err != nil {
		return err
	}

	return nil
}

// Close releases the underlying connection pool.
func Close(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("nil database handle")
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
