// Package session keeps browser logins and their one-shot flash messages in the database.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accounts/models"
	"accounts/pkg/token"

	"gorm.io/gorm"
)

// ErrNotFound is returned for unknown or expired session keys.
var ErrNotFound = errors.New("session: not found")

// Message levels.
const (
	LevelSuccess = "success"
	LevelInfo    = "info"
)

// Store creates, resolves and destroys sessions.
type Store struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewStore returns a Store whose sessions live for ttl.
func NewStore(db *gorm.DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl, now: time.Now}
}

// TTL is the lifetime of new sessions.
func (s *Store) TTL() time.Duration { return s.ttl }

// Create starts a session for userID and returns the raw cookie value.
func (s *Store) Create(ctx context.Context, userID uint) (string, *models.Session, error) {
	raw, hash, err := token.NewOpaque()
	if err != nil {
		return "", nil, err
	}
	sess := &models.Session{KeyHash: hash, UserID: userID, ExpiresAt: s.now().Add(s.ttl)}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return "", nil, fmt.Errorf("create session: %w", err)
	}
	return raw, sess, nil
}

// Lookup resolves a raw cookie value to a live session.
func (s *Store) Lookup(ctx context.Context, raw string) (*models.Session, error) {
	if raw == "" {
		return nil, ErrNotFound
	}
	var sess models.Session
	err := s.db.WithContext(ctx).Where("key_hash = ?", token.Hash(raw)).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if s.now().After(sess.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Destroy deletes the session and its pending messages. Unknown keys are ignored.
func (s *Store) Destroy(ctx context.Context, raw string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess models.Session
		err := tx.Where("key_hash = ?", token.Hash(raw)).First(&sess).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find session: %w", err)
		}
		if err := tx.Where("session_id = ?", sess.ID).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Delete(&sess).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// AddMessage queues a flash message for the next page rendered in sessionID.
func (s *Store) AddMessage(ctx context.Context, sessionID uint, level, text string) error {
	m := models.Message{SessionID: sessionID, Level: level, Text: text}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

// PopMessages returns the queued messages of sessionID in order and removes them.
func (s *Store) PopMessages(ctx context.Context, sessionID uint) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Order("id").Find(&msgs).Error; err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		return tx.Where("session_id = ?", sessionID).Delete(&models.Message{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("pop messages: %w", err)
	}
	return msgs, nil
}

// Purge deletes expired sessions and their messages.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&models.Session{}).Select("id").Where("expires_at < ?", s.now())
		if err := tx.Where("session_id IN (?)", expired).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("expires_at < ?", s.now()).Delete(&models.Session{})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return n, nil
}
