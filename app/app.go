package app

import (
	"context"
	"time"

	"lab_visit_tracker/cache"
	"lab_visit_tracker/db"
	"lab_visit_tracker/events"
	"lab_visit_tracker/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Ctx = gin.Context
type H = gin.H

// App holds the process-wide dependencies.
type App struct {
	Router *gin.Engine
	DB     *gorm.DB
	RDB    *redis.Client
	WA     *webauthn.WebAuthn
	Config Config
	Log    *zap.Logger
	Events events.Publisher
	Cache  cache.Cache

	appSess *session.AppSessionStore
}

func (a *App) AppSessions() *session.AppSessionStore { return a.appSess }

// MustNew wires every dependency from the environment and exits on failure.
func MustNew() *App {
	cfg, err := LoadConfig()
	if err != nil {
		// logger is not configured yet
		NewLogger("development").Fatal("config", zap.Error(err))
	}
	log := NewLogger(cfg.Environment)

	dbConn, err := db.ConnectDB(cfg.DBDriver, cfg.DSN())
	if err != nil {
		log.Fatal("database", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	log.Info("database connected", zap.String("driver", cfg.DBDriver))

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPwd, DB: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Lab Visit Tracker",
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		log.Fatal("webauthn", zap.Error(err))
	}

	var pub events.Publisher = events.NewLogPublisher(log)
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicVisits, cfg.KafkaClientID, log)
		if err != nil {
			log.Warn("kafka unavailable, events will only be logged", zap.Strings("brokers", cfg.KafkaBrokers), zap.Error(err))
		} else {
			pub = kp
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), GinLogger(log))
	useCORS(r, append([]string{cfg.WebOrigin}, cfg.RPOrigins...)...)

	return &App{
		Router: r, DB: dbConn, RDB: rdb, WA: wa, Config: cfg, Log: log,
		Events:  pub,
		Cache:   cache.New(rdb, log),
		appSess: session.NewAppSessionStore(rdb, cfg.AppSessionTTL),
	}
}

func (a *App) Close() {
	if err := a.Events.Close(); err != nil {
		a.Log.Warn("close event publisher", zap.Error(err))
	}
	_ = a.RDB.Close()
	_ = db.Close(a.DB)
	_ = a.Log.Sync()
}

