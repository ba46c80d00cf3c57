package models

import "time"

// Profile holds optional per-user data (one-to-one with User).
type Profile struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	UserID    uint    `gorm:"uniqueIndex;not null"` // one-to-one relation
	User      User    `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Phone     *string `gorm:"size:32"` // canonical E.164, NULL when unset
	// AuthorID and UpdatedByID record who created and who last changed the row.
	AuthorID    *uint
	UpdatedByID *uint
}

// HasPhone reports whether a non-empty phone is stored.
func (p *Profile) HasPhone() bool {
	return p != nil && p.Phone != nil && *p.Phone != ""
}
