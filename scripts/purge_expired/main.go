package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"accounts/models"
	"accounts/pkg/account"
	"accounts/pkg/config"
	"accounts/pkg/database"
	"accounts/pkg/mailer"
	"accounts/pkg/profile"
	"accounts/pkg/session"
	"accounts/pkg/token"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	dry := flag.Bool("dry-run", true, "Preview actions without modifying the DB")
	yes := flag.Bool("yes", false, "Confirm destructive action when dry-run=false")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseDSN == "" {
		log.Fatal("DB_DSN must be set")
	}
	db, err := database.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect db: %v", err)
	}

	fmt.Println("Planned actions:")
	fmt.Println(" - DELETE expired browser sessions and their messages")
	fmt.Println(" - DELETE revoked or expired refresh tokens")
	fmt.Println(" - DELETE used or expired password reset tokens")
	fmt.Println(" - DELETE e-mail confirmation keys past EMAIL_CONFIRMATION_EXPIRE_DAYS")
	if *dry {
		p, err := preview(db, cfg.ConfirmationTTL(), time.Now())
		if err != nil {
			log.Fatalf("preview: %v", err)
		}
		fmt.Printf("dry-run: would remove %d sessions, %d refresh tokens, %d reset tokens, %d confirmation keys.\n",
			p.Sessions, p.RefreshTokens, p.ResetTokens, p.Confirmations)
		fmt.Println("no changes made. Use --dry-run=false --yes to execute.")
		return
	}
	if !*yes {
		fmt.Println("Destructive! Pass --yes to proceed.")
		return
	}

	ctx := context.Background()
	n, err := session.NewStore(db, cfg.SessionLifetime()).Purge(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Printf("sessions removed: %d\n", n)

	n, err = token.NewIssuer(db, cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL()).Purge(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Printf("refresh tokens removed: %d\n", n)

	svc := account.NewService(db, profile.NewStore(db), &mailer.Outbox{}, zap.NewNop(), account.OptionsFromConfig(cfg))
	resets, confirmations, err := svc.PurgeExpired(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Printf("reset tokens removed: %d\nconfirmation keys removed: %d\n", resets, confirmations)
}

// pending counts the rows a purge at a given moment would delete.
type pending struct {
	Sessions, RefreshTokens, ResetTokens, Confirmations int64
}

// preview applies the purge predicates without deleting anything.
func preview(db *gorm.DB, confirmationTTL time.Duration, now time.Time) (pending, error) {
	var p pending
	counts := []struct {
		q *gorm.DB
		n *int64
	}{
		{db.Model(&models.Session{}).Where("expires_at < ?", now), &p.Sessions},
		{db.Model(&models.RefreshToken{}).Where("expires_at < ? OR revoked = ?", now, true), &p.RefreshTokens},
		{db.Model(&models.PasswordResetToken{}).Where("used_at IS NOT NULL OR expires_at < ?", now), &p.ResetTokens},
		{db.Model(&models.EmailConfirmation{}).Where("COALESCE(sent_at, created_at) < ?", now.Add(-confirmationTTL)), &p.Confirmations},
	}
	for _, c := range counts {
		if err := c.q.Count(c.n).Error; err != nil {
			return pending{}, err
		}
	}
	return p, nil
}
