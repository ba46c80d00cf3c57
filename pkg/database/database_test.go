package database

import (
	"errors"
	"testing"

	"accounts/models"
)

func TestDialectorFor(t *testing.T) {
	for _, dsn := range []string{"postgres://u:p@localhost/db", "postgresql://localhost/db", "host=localhost dbname=x", "sqlite:dev.db"} {
		if _, err := dialectorFor(dsn); err != nil {
			t.Fatalf("dialectorFor(%q) unexpected error: %v", dsn, err)
		}
	}
	for _, dsn := range []string{"", "   ", "mysql://localhost/db"} {
		if _, err := dialectorFor(dsn); err == nil {
			t.Fatalf("dialectorFor(%q) expected error", dsn)
		}
	}
}

func TestMigrateAndUniqueViolation(t *testing.T) {
	db := NewTestDB(t)
	if err := Ping(db); err != nil {
		t.Fatalf("ping: %v", err)
	}
	u := models.User{Username: "alice", Email: "a@example.com", HashedPassword: []byte("x"), IsActive: true}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	dup := models.User{Username: "alice", Email: "b@example.com", HashedPassword: []byte("x")}
	err := db.Create(&dup).Error
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if IsUniqueViolation(nil) || IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("unrelated errors must not be unique violations")
	}
}

func TestProfileCascadesWithUser(t *testing.T) {
	db := NewTestDB(t)
	u := models.User{Username: "bob", HashedPassword: []byte("x"), IsActive: true}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := db.Create(&models.Profile{UserID: u.ID}).Error; err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := db.Delete(&u).Error; err != nil {
		t.Fatalf("delete user: %v", err)
	}
	var n int64
	db.Model(&models.Profile{}).Where("user_id = ?", u.ID).Count(&n)
	if n != 0 {
		t.Fatalf("profile should be cascade-deleted, found %d", n)
	}
}
