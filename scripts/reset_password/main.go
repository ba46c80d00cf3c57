package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"accounts/pkg/account"
	"accounts/pkg/config"
	"accounts/pkg/database"
	"accounts/pkg/mailer"
	"accounts/pkg/profile"
	"accounts/pkg/token"

	"go.uber.org/zap"
)

func main() {
	login := flag.String("login", "", "username or e-mail of the account to reset")
	password := flag.String("password", "", "new plaintext password")
	flag.Parse()
	if *login == "" || *password == "" {
		log.Fatal("--login and --password are required")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseDSN == "" {
		log.Fatal("DB_DSN not set in env")
	}
	db, err := database.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	svc := account.NewService(db, profile.NewStore(db), &mailer.Outbox{}, zap.NewNop(), account.OptionsFromConfig(cfg))
	ctx := context.Background()
	user, err := svc.FindByLogin(ctx, *login)
	if err != nil {
		log.Fatalf("user not found: %v", err)
	}
	if err := svc.SetPassword(ctx, user, *password); err != nil {
		log.Fatalf("update failed: %v", err)
	}
	// outstanding refresh tokens belong to the old password
	tokens := token.NewIssuer(db, cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	if err := tokens.RevokeAll(ctx, user.ID); err != nil {
		log.Printf("warning: revoke refresh tokens: %v", err)
	}
	fmt.Printf("Password reset for user %s\n", user.Username)
}
