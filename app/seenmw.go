package app

import (
	"time"

	"lab_visit_tracker/db"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// TouchLastSeen records admin activity at most once per throttle window.
func TouchLastSeen(repo *db.Repo, rdb *redis.Client, throttle time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetString(CtxAdminID)
		if id == "" || rdb == nil {
			c.Next()
			return
		}
		key := "lab:admin:lastseen:" + id
		if ok, _ := rdb.SetNX(c.Request.Context(), key, "1", throttle).Result(); ok {
			_ = repo.TouchAdminSeen(c.Request.Context(), id) // best effort
		}
		c.Next()
	}
}
