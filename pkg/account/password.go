package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"accounts/models"
	"accounts/pkg/token"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ChangePassword is the input of the password change endpoint.
type ChangePassword struct {
	OldPassword  string `json:"old_password" form:"old_password"`
	NewPassword1 string `json:"new_password1" form:"new_password1"`
	NewPassword2 string `json:"new_password2" form:"new_password2"`
}

// ResetConfirm is the input of the password reset confirmation endpoint.
type ResetConfirm struct {
	UID          string `json:"uid" form:"uid"`
	Token        string `json:"token" form:"token"`
	NewPassword1 string `json:"new_password1" form:"new_password1"`
	NewPassword2 string `json:"new_password2" form:"new_password2"`
}

// hashPassword returns the bcrypt hash of pw using the configured cost.
func (s *Service) hashPassword(pw string) ([]byte, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return h, nil
}

// checkPassword reports field errors for a new password.
func (s *Service) checkPassword(v *ValidationError, field, pw string) {
	if n := s.opts.PasswordMinLength; n > 0 && utf8.RuneCountInString(pw) < n {
		v.add(field, fmt.Sprintf("This password is too short. It must contain at least %d characters.", n))
	}
	if len(pw) > 72 {
		v.add(field, "This password is too long. It must contain at most 72 bytes.")
	}
}

// newPasswords validates the new_password1/new_password2 pair.
func (s *Service) newPasswords(v *ValidationError, pw1, pw2 string) {
	if pw1 == "" {
		v.add("new_password1", msgRequired)
	}
	if pw2 == "" {
		v.add("new_password2", msgRequired)
	}
	if v.has("new_password1") || v.has("new_password2") {
		return
	}
	if pw1 != pw2 {
		v.add("new_password2", msgNewPasswordMatch)
		return
	}
	s.checkPassword(v, "new_password2", pw2)
}

// ChangePassword sets a new password for u.
func (s *Service) ChangePassword(ctx context.Context, u *models.User, in ChangePassword) error {
	v := &ValidationError{}
	if s.opts.OldPasswordRequired {
		if in.OldPassword == "" {
			v.add("old_password", msgRequired)
		} else if bcrypt.CompareHashAndPassword(u.HashedPassword, []byte(in.OldPassword)) != nil {
			v.add("old_password", msgOldPassword)
		}
	}
	s.newPasswords(v, in.NewPassword1, in.NewPassword2)
	if err := v.orNil(); err != nil {
		return err
	}
	return s.SetPassword(ctx, u, in.NewPassword1)
}

// SetPassword stores a new bcrypt hash for u without validation. Used by operator tools.
func (s *Service) SetPassword(ctx context.Context, u *models.User, pw string) error {
	h, err := s.hashPassword(pw)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(u).Update("hashed_password", h).Error; err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	u.HashedPassword = h
	return nil
}

// RequestPasswordReset mails a reset link to every active user owning email. Unknown addresses
// are not reported so the endpoint cannot be used to probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, site Site, email string) error {
	if email == "" {
		return fieldError("email", msgRequired)
	}
	if !s.validEmail(email) {
		return fieldError("email", msgInvalidEmail)
	}
	users, err := s.usersByEmail(s.db.WithContext(ctx), email)
	if err != nil {
		return err
	}
	for i := range users {
		u := &users[i]
		if !u.IsActive {
			continue
		}
		raw, hash, err := token.NewOpaque()
		if err != nil {
			return err
		}
		rt := models.PasswordResetToken{UserID: u.ID, TokenHash: hash, ExpiresAt: s.now().Add(s.opts.ResetTTL)}
		if err := s.db.WithContext(ctx).Create(&rt).Error; err != nil {
			return fmt.Errorf("store reset token: %w", err)
		}
		link := site.URL("/api/accounts/password/reset/confirm/" + EncodeUID(u.ID) + "/" + raw + "/")
		m, err := render(site, "Password Reset Email", resetBody, mailData{Site: site, Username: u.Username, URL: link}, email)
		if err != nil {
			return fmt.Errorf("render reset mail: %w", err)
		}
		if s.send(ctx, m) {
			s.log.Info("password reset mail sent", zap.Uint("user_id", u.ID))
		}
	}
	return nil
}

// ConfirmPasswordReset checks uid and token and sets the new password. The token is marked
// used and every other outstanding reset token of the user is discarded.
func (s *Service) ConfirmPasswordReset(ctx context.Context, in ResetConfirm) (*models.User, error) {
	v := &ValidationError{}
	for field, val := range map[string]string{
		"uid":           in.UID,
		"token":         in.Token,
		"new_password1": in.NewPassword1,
		"new_password2": in.NewPassword2,
	} {
		if val == "" {
			v.add(field, msgRequired)
		}
	}
	if err := v.orNil(); err != nil {
		return nil, err
	}

	id, err := DecodeUID(in.UID)
	if err != nil {
		return nil, fieldError("uid", msgInvalidValue)
	}
	u, err := s.User(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fieldError("uid", msgInvalidValue)
	}
	if err != nil {
		return nil, err
	}
	var rt models.PasswordResetToken
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND token_hash = ? AND used_at IS NULL", u.ID, token.Hash(in.Token)).
		First(&rt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && s.now().After(rt.ExpiresAt)) {
		return nil, fieldError("token", msgInvalidValue)
	}
	if err != nil {
		return nil, fmt.Errorf("find reset token: %w", err)
	}
	s.newPasswords(v, in.NewPassword1, in.NewPassword2)
	if err := v.orNil(); err != nil {
		return nil, err
	}

	h, err := s.hashPassword(in.NewPassword1)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(u).Update("hashed_password", h).Error; err != nil {
			return err
		}
		if err := tx.Model(&rt).Update("used_at", s.now()).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND id <> ?", u.ID, rt.ID).Delete(&models.PasswordResetToken{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("reset password: %w", err)
	}
	u.HashedPassword = h
	return u, nil
}

// EncodeUID renders a user id the way reset links carry it.
func EncodeUID(id uint) string {
	return strconv.FormatUint(uint64(id), 36)
}

// DecodeUID parses a base36 user id from a reset link.
func DecodeUID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 36, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("decode uid %q: invalid", s)
	}
	return uint(n), nil
}
