// Package token issues HS256 access JWTs and opaque, rotating refresh tokens.
package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"accounts/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalid is returned for malformed, expired or unknown tokens.
	ErrInvalid = errors.New("token: invalid")
	// ErrRevoked is returned when revoking a refresh token that is already revoked.
	ErrRevoked = errors.New("token: revoked")
	// ErrNotFound is returned when revoking a refresh token that was never issued.
	ErrNotFound = errors.New("token: not found")
)

const accessType = "access"

// Pair is the token pair returned by login, registration and refresh.
type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Claims are the access token claims.
type Claims struct {
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Issuer creates and validates tokens. Refresh tokens are stored hashed in refresh_tokens.
type Issuer struct {
	db         *gorm.DB
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer returns an Issuer signing with secret.
func NewIssuer(db *gorm.DB, secret string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{db: db, secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// Issue returns a fresh access token and a new refresh token for u.
func (i *Issuer) Issue(ctx context.Context, u *models.User) (Pair, error) {
	access, err := i.Access(u)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.storeRefresh(i.db.WithContext(ctx), u.ID)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// Access signs a short-lived access token for u.
func (i *Issuer) Access(u *models.User) (string, error) {
	now := i.now().UTC()
	claims := Claims{
		UserID:    u.ID,
		Username:  u.Username,
		Email:     u.Email,
		TokenType: accessType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(u.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return s, nil
}

// ParseAccess validates signature, expiry and token type of raw.
func (i *Issuer) ParseAccess(raw string) (*Claims, error) {
	var claims Claims
	t, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil || !t.Valid || claims.TokenType != accessType || claims.UserID == 0 {
		return nil, ErrInvalid
	}
	return &claims, nil
}

// Refresh exchanges a live refresh token for a new pair. The presented token is revoked so it
// cannot be used twice; of two concurrent callers only one wins.
func (i *Issuer) Refresh(ctx context.Context, raw string) (Pair, error) {
	var pair Pair
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rt, err := i.live(tx, raw)
		if err != nil {
			return err
		}
		res := tx.Model(&models.RefreshToken{}).Where("id = ? AND revoked = ?", rt.ID, false).Update("revoked", true)
		if res.Error != nil {
			return fmt.Errorf("revoke refresh token: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrInvalid
		}
		var u models.User
		if err := tx.First(&u, rt.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalid
			}
			return fmt.Errorf("load user: %w", err)
		}
		if !u.IsActive {
			return ErrInvalid
		}
		if pair.Access, err = i.Access(&u); err != nil {
			return err
		}
		pair.Refresh, err = i.storeRefresh(tx, u.ID)
		return err
	})
	if err != nil {
		return Pair{}, err
	}
	return pair, nil
}

// Verify reports whether raw is a valid access token or a live refresh token.
func (i *Issuer) Verify(ctx context.Context, raw string) error {
	if _, err := i.ParseAccess(raw); err == nil {
		return nil
	}
	_, err := i.live(i.db.WithContext(ctx), raw)
	return err
}

// Revoke blacklists a refresh token (logout).
func (i *Issuer) Revoke(ctx context.Context, raw string) error {
	var rt models.RefreshToken
	err := i.db.WithContext(ctx).Where("token_hash = ?", Hash(raw)).First(&rt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find refresh token: %w", err)
	}
	if rt.Revoked {
		return ErrRevoked
	}
	if err := i.db.WithContext(ctx).Model(&rt).Update("revoked", true).Error; err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll revokes every refresh token of userID, e.g. after a password reset.
func (i *Issuer) RevokeAll(ctx context.Context, userID uint) error {
	err := i.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true).Error
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

func (i *Issuer) live(db *gorm.DB, raw string) (*models.RefreshToken, error) {
	if raw == "" {
		return nil, ErrInvalid
	}
	var rt models.RefreshToken
	err := db.Where("token_hash = ?", Hash(raw)).First(&rt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if rt.Revoked || i.now().After(rt.ExpiresAt) {
		return nil, ErrInvalid
	}
	return &rt, nil
}

func (i *Issuer) storeRefresh(db *gorm.DB, userID uint) (string, error) {
	raw, hash, err := NewOpaque()
	if err != nil {
		return "", err
	}
	rt := models.RefreshToken{UserID: userID, TokenHash: hash, ExpiresAt: i.now().Add(i.refreshTTL)}
	if err := db.Omit(clause.Associations).Create(&rt).Error; err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return raw, nil
}

// Purge deletes refresh tokens that are expired or revoked.
func (i *Issuer) Purge(ctx context.Context) (int64, error) {
	res := i.db.WithContext(ctx).Where("expires_at < ? OR revoked = ?", i.now(), true).Delete(&models.RefreshToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
