package account

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"accounts/models"
	"accounts/pkg/config"
	"accounts/pkg/database"
	"accounts/pkg/phone"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	maxUsernameLength = 150
	// first numeric suffix tried when a derived username is taken
	usernameSuffix = 2
)

var (
	usernameRE    = regexp.MustCompile(`^[\p{L}\p{N}_.@+-]+$`)
	usernameStrip = regexp.MustCompile(`[^\p{L}\p{N}_.@+-]+`)
)

// Registration is the input of the registration endpoint.
type Registration struct {
	Username  string `json:"username" form:"username"`
	Email     string `json:"email" form:"email"`
	Password1 string `json:"password1" form:"password1"`
	Password2 string `json:"password2" form:"password2"`
	FirstName string `json:"first_name" form:"first_name"`
	LastName  string `json:"last_name" form:"last_name"`
	Phone     string `json:"phone" form:"phone"`
}

// Register creates an active user with an unverified primary address, mails the confirmation
// link and attaches the optional phone to a new profile. The phone step runs after the user is
// committed and its failure is only logged.
func (s *Service) Register(ctx context.Context, site Site, in Registration) (*models.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	db := s.db.WithContext(ctx)

	v := &ValidationError{}
	switch {
	case in.Email == "":
		v.add("email", msgRequired)
	case !s.validEmail(in.Email):
		v.add("email", msgInvalidEmail)
	default:
		taken, err := s.emailTaken(db, in.Email)
		if err != nil {
			return nil, err
		}
		if taken {
			v.add("email", msgEmailTaken)
		}
	}
	if in.Username != "" {
		if err := s.checkUsername(db, v, in.Username, 0); err != nil {
			return nil, err
		}
	}
	if in.Password1 == "" {
		v.add("password1", msgRequired)
	} else {
		s.checkPassword(v, "password1", in.Password1)
	}
	if in.Password2 == "" {
		v.add("password2", msgRequired)
	}
	n, err := phone.Parse(in.Phone)
	if err != nil {
		v.add("phone", phone.Message)
	}
	if err := v.orNil(); err != nil {
		return nil, err
	}
	if in.Password1 != in.Password2 {
		return nil, fieldError(NonFieldErrors, msgPasswordMismatch)
	}

	hash, err := s.hashPassword(in.Password1)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &models.User{
		Email:          in.Email,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		HashedPassword: hash,
		IsActive:       true,
		DateJoined:     now,
	}
	var conf *models.EmailConfirmation
	err = db.Transaction(func(tx *gorm.DB) error {
		u.Username = in.Username
		if u.Username == "" {
			var err error
			if u.Username, err = s.uniqueUsername(tx, in.Email); err != nil {
				return err
			}
		}
		if err := tx.Create(u).Error; err != nil {
			return err
		}
		addr := &models.EmailAddress{UserID: u.ID, Email: u.Email, IsPrimary: true}
		if err := tx.Omit(clause.Associations).Create(addr).Error; err != nil {
			return err
		}
		if s.opts.EmailVerification == config.VerificationNone {
			return nil
		}
		var err error
		conf, err = newConfirmation(tx, addr)
		if conf != nil {
			conf.EmailAddress = *addr
		}
		return err
	})
	if database.IsUniqueViolation(err) {
		// lost a race with a concurrent registration
		if strings.Contains(strings.ToLower(err.Error()), "username") {
			return nil, fieldError("username", msgUsernameTaken)
		}
		return nil, fieldError("email", msgEmailTaken)
	}
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	s.log.Info("user registered", zap.Uint("user_id", u.ID), zap.String("username", u.Username))

	if conf != nil {
		s.sendConfirmation(ctx, site, u, conf)
	}
	if !n.IsZero() {
		s.attachPhone(ctx, u, n)
	}
	return u, nil
}

// attachPhone stores the registration phone on the new user's profile.
func (s *Service) attachPhone(ctx context.Context, u *models.User, n phone.Number) {
	if _, err := s.profiles.UpdatePhone(ctx, u.ID, n, u.ID); err != nil {
		s.log.Error("attach phone to new user failed", zap.Uint("user_id", u.ID), zap.Error(err))
	}
}

func (s *Service) checkUsername(db *gorm.DB, v *ValidationError, username string, self uint) error {
	if utf8.RuneCountInString(username) > maxUsernameLength {
		v.add("username", fmt.Sprintf("Ensure this field has no more than %d characters.", maxUsernameLength))
		return nil
	}
	if !usernameRE.MatchString(username) {
		v.add("username", msgInvalidUsername)
		return nil
	}
	taken, err := usernameTaken(db, username, self)
	if err != nil {
		return err
	}
	if taken {
		v.add("username", msgUsernameTaken)
	}
	return nil
}

// uniqueUsername derives a username from the local part of email, appending 2, 3, ... on collision.
func (s *Service) uniqueUsername(db *gorm.DB, email string) (string, error) {
	base := email
	if at := strings.LastIndexByte(base, '@'); at >= 0 {
		base = base[:at]
	}
	base = strings.ToLower(usernameStrip.ReplaceAllString(base, ""))
	if base == "" {
		base = "user"
	}
	if r := []rune(base); len(r) > maxUsernameLength-10 {
		base = string(r[:maxUsernameLength-10])
	}
	candidate := base
	for i := usernameSuffix; ; i++ {
		taken, err := usernameTaken(db, candidate, 0)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(i)
	}
}

func usernameTaken(db *gorm.DB, username string, self uint) (bool, error) {
	var n int64
	q := db.Model(&models.User{}).Where("lower(username) = lower(?)", username)
	if self != 0 {
		q = q.Where("id <> ?", self)
	}
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return n > 0, nil
}

func (s *Service) emailTaken(db *gorm.DB, email string) (bool, error) {
	return s.emailTakenBy(db, email, 0)
}

// emailTakenBy reports whether a user other than self owns email.
func (s *Service) emailTakenBy(db *gorm.DB, email string, self uint) (bool, error) {
	users, err := s.usersByEmail(db, email)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.ID != self {
			return true, nil
		}
	}
	return false, nil
}

// usersByEmail returns users whose account email or any registered address matches email, ignoring case.
func (s *Service) usersByEmail(db *gorm.DB, email string) ([]models.User, error) {
	var users []models.User
	addrs := db.Model(&models.EmailAddress{}).Select("user_id").Where("lower(email) = lower(?)", email)
	err := db.Where("lower(email) = lower(?)", email).Or("id IN (?)", addrs).Order("id").Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("find users by email: %w", err)
	}
	return users, nil
}
