package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"accounts/pkg/account"
	"accounts/pkg/config"
	"accounts/pkg/database"
	"accounts/pkg/mailer"
	"accounts/pkg/profile"

	"go.uber.org/zap"
)

func main() {
	email := flag.String("email", "", "primary e-mail address, marked verified")
	superuser := flag.Bool("superuser", false, "grant staff and superuser flags")
	flag.Parse()
	if flag.NArg() < 2 {
		fmt.Println("usage: go run ./cmd/create_user [-email addr] [-superuser] <username> <password>")
		os.Exit(2)
	}
	username, password := flag.Arg(0), flag.Arg(1)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseDSN == "" {
		log.Fatal("DB_DSN not set in environment")
	}
	db, err := database.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	svc := account.NewService(db, profile.NewStore(db), &mailer.Outbox{}, zap.NewNop(), account.OptionsFromConfig(cfg))
	ctx := context.Background()
	if existing, err := svc.FindByLogin(ctx, username); err == nil {
		fmt.Printf("user %s already exists (id=%d)\n", username, existing.ID)
		os.Exit(0)
	}
	u, err := svc.CreateUser(ctx, account.NewUser{Username: username, Email: *email, Password: password, Superuser: *superuser})
	var v *account.ValidationError
	if errors.As(err, &v) {
		for field, msgs := range v.Fields {
			fmt.Printf("%s: %v\n", field, msgs)
		}
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("failed to create user: %v", err)
	}
	fmt.Printf("created user %s id=%d\n", u.Username, u.ID)
}
