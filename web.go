package main

import (
	"errors"
	"net/http"
	"strings"

	"accounts/models"
	"accounts/pkg/account"
	"accounts/pkg/phone"
	"accounts/pkg/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	profilePath      = "/accounts/profile/"
	phoneUpdatedText = "Phone number updated successfully."
)

// page is the data every template receives.
type page struct {
	Title    string
	User     *models.User
	Messages []models.Message
}

// newPage collects the caller's identity and pops pending flash messages.
func (s *server) newPage(c *gin.Context, title string) page {
	p := page{Title: title, User: currentUser(c)}
	if sess := currentSession(c); sess != nil {
		msgs, err := s.sessions.PopMessages(c.Request.Context(), sess.ID)
		if err != nil {
			s.log.Warn("pop messages failed", zap.Error(err))
		}
		p.Messages = msgs
	}
	return p
}

// safeNext accepts only local absolute paths as login redirect targets.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return profilePath
	}
	return next
}

func (s *server) indexHandler(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", s.newPage(c, "Home"))
}

type loginPage struct {
	page
	Login string
	Next  string
	Error string
}

func (s *server) loginPageHandler(c *gin.Context) {
	next := safeNext(c.Query("next"))
	if currentUser(c) != nil {
		c.Redirect(http.StatusFound, next)
		return
	}
	c.HTML(http.StatusOK, "login.html", loginPage{page: s.newPage(c, "Sign In"), Next: next})
}

func (s *server) loginFormHandler(c *gin.Context) {
	ctx := c.Request.Context()
	login := strings.TrimSpace(c.PostForm("login"))
	next := safeNext(c.PostForm("next"))
	u, err := s.accounts.Authenticate(ctx, login, c.PostForm("password"))
	if err != nil {
		data := loginPage{page: s.newPage(c, "Sign In"), Login: login, Next: next}
		switch {
		case errors.Is(err, account.ErrInvalidCredentials):
			data.Error = "The e-mail address and/or password you specified are not correct."
		case errors.Is(err, account.ErrEmailNotVerified):
			data.Error = "E-mail is not verified."
		default:
			s.log.Error("login failed", zap.Error(err))
			data.Error = "Login is temporarily unavailable. Please try again."
			c.HTML(http.StatusInternalServerError, "login.html", data)
			return
		}
		c.HTML(http.StatusOK, "login.html", data)
		return
	}
	if old, err := c.Cookie(s.cfg.SessionCookieName); err == nil && old != "" {
		if err := s.sessions.Destroy(ctx, old); err != nil {
			s.log.Warn("destroy previous session failed", zap.Error(err))
		}
	}
	raw, sess, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		s.internalError(c, "create session", err)
		return
	}
	if err := s.accounts.TouchLogin(ctx, u); err != nil {
		s.log.Warn("record login failed", zap.Uint("user_id", u.ID), zap.Error(err))
	}
	if err := s.sessions.AddMessage(ctx, sess.ID, session.LevelSuccess, "Successfully signed in as "+u.Username+"."); err != nil {
		s.log.Warn("add message failed", zap.Error(err))
	}
	s.setSessionCookie(c, raw)
	c.Redirect(http.StatusFound, next)
}

func (s *server) logoutFormHandler(c *gin.Context) {
	if raw, err := c.Cookie(s.cfg.SessionCookieName); err == nil && raw != "" {
		if err := s.sessions.Destroy(c.Request.Context(), raw); err != nil {
			s.log.Warn("destroy session failed", zap.Error(err))
		}
	}
	s.clearSessionCookie(c)
	c.Redirect(http.StatusFound, "/")
}

type profilePage struct {
	page
	Profile *models.Profile
}

func (s *server) profilePageHandler(c *gin.Context) {
	u := currentUser(c)
	p, err := s.profiles.Get(c.Request.Context(), u.ID)
	if err != nil {
		s.internalError(c, "load profile", err)
		return
	}
	c.HTML(http.StatusOK, "profile.html", profilePage{page: s.newPage(c, "Profile"), Profile: p})
}

type phonePage struct {
	page
	Profile *models.Profile
	// Phone is the stored number, empty when none.
	Phone string
	// PhoneVerified is true whenever a profile row exists. No verification step backs it.
	PhoneVerified bool
	// Value pre-fills the form field.
	Value  string
	Errors []string
}

func (s *server) phonePage(c *gin.Context, p *models.Profile) phonePage {
	data := phonePage{page: s.newPage(c, "Change Phone"), Profile: p}
	if p != nil {
		data.PhoneVerified = true
		if p.HasPhone() {
			data.Phone = *p.Phone
		}
	}
	data.Value = data.Phone
	return data
}

func (s *server) phonePageHandler(c *gin.Context) {
	p, err := s.profiles.Get(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		s.internalError(c, "load profile", err)
		return
	}
	c.HTML(http.StatusOK, "phone_change.html", s.phonePage(c, p))
}

func (s *server) phoneFormHandler(c *gin.Context) {
	ctx := c.Request.Context()
	u := currentUser(c)
	submitted := c.PostForm("phone")
	n, err := phone.Parse(submitted)
	if err != nil {
		p, lerr := s.profiles.Get(ctx, u.ID)
		if lerr != nil {
			s.internalError(c, "load profile", lerr)
			return
		}
		data := s.phonePage(c, p)
		data.Value = submitted
		data.Errors = []string{phone.Message}
		c.HTML(http.StatusOK, "phone_change.html", data)
		return
	}
	if _, err := s.profiles.UpdatePhone(ctx, u.ID, n, u.ID); err != nil {
		s.internalError(c, "update phone", err)
		return
	}
	if err := s.sessions.AddMessage(ctx, currentSession(c).ID, session.LevelSuccess, phoneUpdatedText); err != nil {
		s.log.Warn("add message failed", zap.Error(err))
	}
	c.Redirect(http.StatusFound, profilePath)
}
