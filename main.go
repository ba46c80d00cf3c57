package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accounts/pkg/config"
	"accounts/pkg/database"
	"accounts/pkg/mailer"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	log, err := newLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	// `./accounts migrate` runs the schema migration and exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		db, err := database.Open(cfg.DatabaseDSN)
		if err != nil {
			log.Fatal("open database", zap.Error(err))
		}
		if err := database.Migrate(db); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
		log.Info("migration completed")
		return
	}

	db, err := openDatabase(cfg, log)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	mail, err := mailer.New(cfg, log)
	if err != nil {
		log.Fatal("mailer", zap.Error(err))
	}
	limiter, closeLimiter := newLimiter(cfg, log)
	defer closeLimiter()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := newServer(cfg, db, log, mail, limiter)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
	log.Info("stopped")
}
