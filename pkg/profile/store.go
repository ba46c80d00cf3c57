// Package profile stores the optional one-to-one profile row of a user.
package profile

import (
	"context"
	"errors"
	"fmt"

	"accounts/models"
	"accounts/pkg/database"
	"accounts/pkg/phone"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store reads and writes profiles.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the profile of userID, or nil, nil when the user has none.
func (s *Store) Get(ctx context.Context, userID uint) (*models.Profile, error) {
	return get(s.db.WithContext(ctx), userID)
}

// GetOrCreate returns the profile of userID, creating an empty one when absent.
// created is true only when this call inserted the row.
func (s *Store) GetOrCreate(ctx context.Context, userID, actorID uint) (*models.Profile, bool, error) {
	var (
		p       *models.Profile
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, created, err = getOrCreate(tx, userID, actorID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

// SetPhone stores n on p, clearing the column when n is zero, and records actorID as the last author.
func (s *Store) SetPhone(ctx context.Context, p *models.Profile, n phone.Number, actorID uint) error {
	return setPhone(s.db.WithContext(ctx), p, n, actorID)
}

// UpdatePhone gets or creates the profile of userID and sets its phone in one transaction.
func (s *Store) UpdatePhone(ctx context.Context, userID uint, n phone.Number, actorID uint) (*models.Profile, error) {
	var p *models.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if p, _, err = getOrCreate(tx, userID, actorID); err != nil {
			return err
		}
		return setPhone(tx, p, n, actorID)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func get(db *gorm.DB, userID uint) (*models.Profile, error) {
	var p models.Profile
	err := db.Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// getOrCreate must run inside a transaction: the insert is wrapped in a savepoint so a
// concurrent creator's unique violation can be recovered from by reading the winner's row.
func getOrCreate(tx *gorm.DB, userID, actorID uint) (*models.Profile, bool, error) {
	p, err := get(tx, userID)
	if err != nil || p != nil {
		return p, false, err
	}
	author := actorID
	p = &models.Profile{UserID: userID, AuthorID: &author, UpdatedByID: &author}
	err = tx.Transaction(func(sp *gorm.DB) error {
		return sp.Omit(clause.Associations).Create(p).Error
	})
	if err == nil {
		return p, true, nil
	}
	if !database.IsUniqueViolation(err) {
		return nil, false, fmt.Errorf("create profile: %w", err)
	}
	p, err = get(tx, userID)
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		return nil, false, fmt.Errorf("create profile: row for user %d vanished after conflict", userID)
	}
	return p, false, nil
}

func setPhone(db *gorm.DB, p *models.Profile, n phone.Number, actorID uint) error {
	author := actorID
	p.Phone = n.Ptr()
	p.UpdatedByID = &author
	if err := db.Omit(clause.Associations).Save(p).Error; err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
