package account

import (
	"context"
	"fmt"
	"strings"

	"accounts/models"
	"accounts/pkg/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DetailsUpdate carries the writable user fields. Nil fields are left unchanged.
type DetailsUpdate struct {
	Username  *string `json:"username" form:"username"`
	Email     *string `json:"email" form:"email"`
	FirstName *string `json:"first_name" form:"first_name"`
	LastName  *string `json:"last_name" form:"last_name"`
}

// UpdateDetails applies upd to u. Unless partial, username is required as on a full update.
func (s *Service) UpdateDetails(ctx context.Context, u *models.User, upd DetailsUpdate, partial bool) error {
	db := s.db.WithContext(ctx)
	v := &ValidationError{}
	if upd.Username == nil && !partial {
		v.add("username", msgRequired)
	}
	if upd.Username != nil {
		name := strings.TrimSpace(*upd.Username)
		if name == "" {
			v.add("username", "This field may not be blank.")
		} else if err := s.checkUsername(db, v, name, u.ID); err != nil {
			return err
		}
		upd.Username = &name
	}
	if upd.Email != nil {
		email := strings.TrimSpace(*upd.Email)
		if email != "" && !s.validEmail(email) {
			v.add("email", msgInvalidEmail)
		} else if email != "" {
			taken, err := s.emailTakenBy(db, email, u.ID)
			if err != nil {
				return err
			}
			if taken {
				v.add("email", msgEmailTaken)
			}
		}
		upd.Email = &email
	}
	if err := v.orNil(); err != nil {
		return err
	}

	changed := *u
	if upd.Username != nil {
		changed.Username = *upd.Username
	}
	if upd.Email != nil {
		changed.Email = *upd.Email
	}
	if upd.FirstName != nil {
		changed.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		changed.LastName = *upd.LastName
	}
	err := db.Model(u).Select("username", "email", "first_name", "last_name").Updates(&changed).Error
	if database.IsUniqueViolation(err) {
		return fieldError("username", msgUsernameTaken)
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	*u = changed
	return nil
}

// NewUser is the input of CreateUser.
type NewUser struct {
	Username  string
	Email     string
	Password  string
	Superuser bool
}

// CreateUser creates an account directly. The address is stored verified. Used by operator tools.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	db := s.db.WithContext(ctx)
	v := &ValidationError{}
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" {
		v.add("username", msgRequired)
	} else if err := s.checkUsername(db, v, in.Username, 0); err != nil {
		return nil, err
	}
	if in.Email != "" {
		if !s.validEmail(in.Email) {
			v.add("email", msgInvalidEmail)
		} else if taken, err := s.emailTaken(db, in.Email); err != nil {
			return nil, err
		} else if taken {
			v.add("email", msgEmailTaken)
		}
	}
	if in.Password == "" {
		v.add("password", msgRequired)
	}
	if err := v.orNil(); err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Username:       in.Username,
		Email:          in.Email,
		HashedPassword: hash,
		IsActive:       true,
		IsStaff:        in.Superuser,
		IsSuperuser:    in.Superuser,
		DateJoined:     s.now(),
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(u).Error; err != nil {
			return err
		}
		if u.Email == "" {
			return nil
		}
		addr := &models.EmailAddress{UserID: u.ID, Email: u.Email, IsPrimary: true, Verified: true}
		return tx.Omit(clause.Associations).Create(addr).Error
	})
	if database.IsUniqueViolation(err) {
		return nil, fieldError("username", msgUsernameTaken)
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}
