package account

import (
	"context"
	"errors"
	"fmt"

	"accounts/models"
	"accounts/pkg/token"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func newConfirmation(tx *gorm.DB, addr *models.EmailAddress) (*models.EmailConfirmation, error) {
	key, _, err := token.NewOpaque()
	if err != nil {
		return nil, err
	}
	c := &models.EmailConfirmation{EmailAddressID: addr.ID, Key: key}
	if err := tx.Omit(clause.Associations).Create(c).Error; err != nil {
		return nil, fmt.Errorf("create confirmation: %w", err)
	}
	return c, nil
}

// ConfirmationPath is the path of the link mailed for key.
func ConfirmationPath(key string) string {
	return "/api/accounts/confirm-email/" + key + "/"
}

// sendConfirmation mails the confirmation link for c and stamps sent_at on success.
func (s *Service) sendConfirmation(ctx context.Context, site Site, u *models.User, c *models.EmailConfirmation) {
	m, err := render(site, "Please Confirm Your Email Address", confirmationBody,
		mailData{Site: site, Username: u.Username, URL: site.URL(ConfirmationPath(c.Key))}, c.EmailAddress.Email)
	if err != nil {
		s.log.Error("render confirmation mail failed", zap.Error(err))
		return
	}
	if !s.send(ctx, m) {
		return
	}
	now := s.now()
	if err := s.db.WithContext(ctx).Model(c).Update("sent_at", now).Error; err != nil {
		s.log.Warn("stamp confirmation sent_at failed", zap.Uint("confirmation_id", c.ID), zap.Error(err))
		return
	}
	c.SentAt = &now
}

// LookupConfirmation returns the address a live confirmation key belongs to.
func (s *Service) LookupConfirmation(ctx context.Context, key string) (*models.EmailAddress, error) {
	c, err := s.confirmation(s.db.WithContext(ctx), key)
	if err != nil {
		return nil, err
	}
	return &c.EmailAddress, nil
}

// ConfirmEmail marks the address of key verified and consumes every pending key of that
// address. Unknown, used and expired keys yield ErrNotFound.
func (s *Service) ConfirmEmail(ctx context.Context, key string) (*models.EmailAddress, error) {
	var addr models.EmailAddress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.confirmation(tx, key)
		if err != nil {
			return err
		}
		addr = c.EmailAddress
		// only the caller that deletes the key may verify
		res := tx.Where("id = ?", c.ID).Delete(&models.EmailConfirmation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrNotFound
		}
		if err := tx.Where("email_address_id = ?", addr.ID).Delete(&models.EmailConfirmation{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&addr).Update("verified", true).Error; err != nil {
			return err
		}
		if addr.IsPrimary {
			return tx.Model(&models.User{}).Where("id = ?", addr.UserID).Update("email", addr.Email).Error
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("confirm email: %w", err)
	}
	addr.Verified = true
	s.log.Info("email confirmed", zap.Uint("user_id", addr.UserID))
	return &addr, nil
}

// ResendConfirmation mails a new key when email belongs to an unverified address.
// Nothing is reported for unknown or verified addresses.
func (s *Service) ResendConfirmation(ctx context.Context, site Site, email string) error {
	if email == "" {
		return fieldError("email", msgRequired)
	}
	if !s.validEmail(email) {
		return fieldError("email", msgInvalidEmail)
	}
	var addr models.EmailAddress
	err := s.db.WithContext(ctx).Preload("User").
		Where("lower(email) = lower(?) AND verified = ?", email, false).
		First(&addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find address: %w", err)
	}
	c, err := newConfirmation(s.db.WithContext(ctx), &addr)
	if err != nil {
		return err
	}
	c.EmailAddress = addr
	s.sendConfirmation(ctx, site, &addr.User, c)
	return nil
}

// confirmation loads a live key with its address. Expiry counts from sent_at, or creation when never sent.
func (s *Service) confirmation(db *gorm.DB, key string) (*models.EmailConfirmation, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	var c models.EmailConfirmation
	err := db.Preload("EmailAddress").Where("confirmation_key = ?", key).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find confirmation: %w", err)
	}
	start := c.CreatedAt
	if c.SentAt != nil {
		start = *c.SentAt
	}
	if s.now().After(start.Add(s.opts.ConfirmationTTL)) || c.EmailAddress.Verified {
		return nil, ErrNotFound
	}
	return &c, nil
}

// PurgeExpired deletes password reset tokens that are used or expired and confirmation keys past their lifetime.
// It returns the number of reset tokens and confirmations removed.
func (s *Service) PurgeExpired(ctx context.Context) (resets, confirmations int64, err error) {
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("used_at IS NOT NULL OR expires_at < ?", now).Delete(&models.PasswordResetToken{})
		if res.Error != nil {
			return res.Error
		}
		resets = res.RowsAffected
		cutoff := now.Add(-s.opts.ConfirmationTTL)
		res = tx.Where("COALESCE(sent_at, created_at) < ?", cutoff).Delete(&models.EmailConfirmation{})
		if res.Error != nil {
			return res.Error
		}
		confirmations = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("purge expired: %w", err)
	}
	return resets, confirmations, nil
}
