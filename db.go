package main

import (
	"context"
	"time"

	"accounts/pkg/config"
	"accounts/pkg/database"
	"accounts/pkg/ratelimit"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// openDatabase connects to DB_DSN and, unless DB_AUTO_MIGRATE=false, migrates the schema.
// Migration failures are logged and do not stop the server, so a restricted database role can still serve traffic.
func openDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	db, err := database.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(db); err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			log.Warn("migration warning", zap.Error(err))
		}
	}
	return db, nil
}

// newLimiter connects to REDIS_ADDR. Without it, throttling is disabled and the limiter is nil.
func newLimiter(cfg *config.Config, log *zap.Logger) (*ratelimit.Limiter, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// the limiter fails open, so keep going
		log.Warn("redis unreachable; requests will not be throttled until it recovers", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return ratelimit.New(rdb, cfg.RateLimit, cfg.RateLimitWindow(), "ratelimit"), func() { _ = rdb.Close() }
}
