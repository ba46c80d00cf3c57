package account

import (
	"context"
	"fmt"
	"strings"

	"accounts/models"

	"golang.org/x/crypto/bcrypt"
)

// Authenticate checks login (an email address or a username) and password. Every user owning
// the address is tried, so a shared address never hides the account the password belongs to.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*models.User, error) {
	users, err := s.candidates(ctx, login)
	if err != nil {
		return nil, err
	}
	var u *models.User
	for i := range users {
		if users[i].IsActive && bcrypt.CompareHashAndPassword(users[i].HashedPassword, []byte(password)) == nil {
			u = &users[i]
			break
		}
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if s.VerificationMandatory() {
		verified, err := s.hasVerifiedEmail(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		if !verified {
			return nil, ErrEmailNotVerified
		}
	}
	return u, nil
}

// FindByLogin resolves an email address or username to a user.
func (s *Service) FindByLogin(ctx context.Context, login string) (*models.User, error) {
	users, err := s.candidates(ctx, login)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

// candidates lists the users login may refer to, ordered by id. Addresses are tried before usernames.
func (s *Service) candidates(ctx context.Context, login string) ([]models.User, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, nil
	}
	db := s.db.WithContext(ctx)
	if strings.Contains(login, "@") {
		users, err := s.usersByEmail(db, login)
		if err != nil {
			return nil, err
		}
		if len(users) > 0 {
			return users, nil
		}
	}
	var users []models.User
	if err := db.Where("username = ?", login).Limit(1).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return users, nil
}

// TouchLogin records a successful login.
func (s *Service) TouchLogin(ctx context.Context, u *models.User) error {
	now := s.now()
	if err := s.db.WithContext(ctx).Model(u).Update("last_login", now).Error; err != nil {
		return fmt.Errorf("update last_login: %w", err)
	}
	u.LastLogin = &now
	return nil
}

func (s *Service) hasVerifiedEmail(ctx context.Context, userID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.EmailAddress{}).
		Where("user_id = ? AND verified = ?", userID, true).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check verified email: %w", err)
	}
	return n > 0, nil
}
