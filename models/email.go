package models

import "time"

// EmailAddress is an address owned by a user. Each user has one primary address.
type EmailAddress struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	UserID    uint   `gorm:"index;not null"`
	User      User   `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Email     string `gorm:"size:254;not null;uniqueIndex"`
	Verified  bool   `gorm:"not null"`
	IsPrimary bool   `gorm:"not null"`
}

// EmailConfirmation is a single-use key mailed to an address to prove ownership.
type EmailConfirmation struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	EmailAddressID uint         `gorm:"index;not null"`
	EmailAddress   EmailAddress `gorm:"foreignKey:EmailAddressID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Key            string       `gorm:"column:confirmation_key;size:64;not null;uniqueIndex"`
	SentAt         *time.Time
}
