// Command import_students loads a ';'-separated roster CSV into the students
// table, updating rows that already exist by NIM.
//
//	import_students -file data/students.csv
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"lab_visit_tracker/app"
	"lab_visit_tracker/db"
	"lab_visit_tracker/roster"

	"go.uber.org/zap"
)

func main() {
	path := flag.String("file", "data/students.csv", "roster CSV path")
	timeout := flag.Duration("timeout", time.Minute, "import timeout")
	flag.Parse()

	app.LoadEnv()
	cfg, err := app.LoadConfig()
	log := app.NewLogger(cfg.Environment)
	defer func() { _ = log.Sync() }()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatal("open roster", zap.String("file", *path), zap.Error(err))
	}
	defer f.Close()

	students, skipped, err := roster.Parse(f)
	if err != nil {
		log.Fatal("parse roster", zap.String("file", *path), zap.Error(err))
	}

	conn, err := db.ConnectDB(cfg.DBDriver, cfg.DSN())
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer db.Close(conn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	n, err := db.NewRepo(conn).UpsertStudents(ctx, students)
	if err != nil {
		log.Fatal("upsert students", zap.Error(err))
	}
	log.Info("roster imported",
		zap.String("file", *path),
		zap.Int("rows", len(students)),
		zap.Int("skipped", skipped),
		zap.Int64("affected", n),
	)
}
