package models

import "time"

// Session is a browser login. Only the sha256 of the cookie value is stored.
type Session struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	KeyHash   string    `gorm:"size:128;not null;uniqueIndex"`
	UserID    uint      `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

// Message is a one-shot notification queued for the next page a session renders.
type Message struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	SessionID uint   `gorm:"index;not null"`
	Level     string `gorm:"size:16;not null"`
	Text      string `gorm:"size:512;not null"`
}
