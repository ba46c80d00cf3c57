package models

import (
	"time"
)

// User is an account holder. Passwords are stored as bcrypt hashes only.
type User struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Username       string `gorm:"size:150;not null;uniqueIndex"`
	Email          string `gorm:"size:254;index"`
	FirstName      string `gorm:"size:150"`
	LastName       string `gorm:"size:150"`
	HashedPassword []byte `gorm:"not null"`
	IsActive       bool   `gorm:"not null"`
	IsStaff        bool   `gorm:"not null"`
	IsSuperuser    bool   `gorm:"not null"`
	LastLogin      *time.Time
	DateJoined     time.Time `gorm:"not null"`
}

// Details is the public representation of a user returned by the API.
type Details struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	IsActive    bool   `json:"is_active"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
}

// Details returns the API view of u.
func (u *User) Details() Details {
	return Details{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		IsActive:    u.IsActive,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
	}
}

func (u *User) String() string {
	return u.Username + " - " + u.Email
}

// Record is the read-only listing view of a user.
type Record struct {
	Details
	LastLogin  *time.Time `json:"last_login"`
	DateJoined time.Time  `json:"date_joined"`
}

// Record returns the listing view of u.
func (u *User) Record() Record {
	return Record{Details: u.Details(), LastLogin: u.LastLogin, DateJoined: u.DateJoined}
}
