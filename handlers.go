package main

import (
	"errors"
	"net/http"
	"strconv"

	"accounts/models"
	"accounts/pkg/account"
	"accounts/pkg/database"
	"accounts/pkg/phone"
	"accounts/pkg/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *server) healthHandler(c *gin.Context) {
	if err := database.Ping(s.db); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// bind decodes JSON or form bodies. An empty body leaves req untouched.
func bind(c *gin.Context, req any) bool {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return true
	}
	if err := c.ShouldBind(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func required(field string) gin.H {
	return gin.H{field: []string{"This field is required."}}
}

// issue creates a token pair for u and records the login.
func (s *server) issue(c *gin.Context, u *models.User) (token.Pair, bool) {
	ctx := c.Request.Context()
	pair, err := s.tokens.Issue(ctx, u)
	if err != nil {
		s.internalError(c, "issue tokens", err)
		return token.Pair{}, false
	}
	if err := s.accounts.TouchLogin(ctx, u); err != nil {
		s.log.Warn("record login failed", zap.Uint("user_id", u.ID), zap.Error(err))
	}
	return pair, true
}

func (s *server) registerHandler(c *gin.Context) {
	var req account.Registration
	if !bind(c, &req) {
		return
	}
	u, err := s.accounts.Register(c.Request.Context(), s.site(c), req)
	if err != nil {
		s.writeError(c, "register", err)
		return
	}
	if s.accounts.VerificationMandatory() {
		c.JSON(http.StatusCreated, gin.H{"detail": "Verification e-mail sent."})
		return
	}
	pair, ok := s.issue(c, u)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"access": pair.Access, "refresh": pair.Refresh, "user": u.Details()})
}

func (s *server) loginHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email" form:"email"`
		Password string `json:"password" form:"password"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Password == "" {
		c.JSON(http.StatusBadRequest, required("password"))
		return
	}
	if req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{account.NonFieldErrors: []string{`Must include "email" and "password".`}})
		return
	}
	u, err := s.accounts.Authenticate(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, account.ErrInvalidCredentials):
		c.JSON(http.StatusBadRequest, gin.H{account.NonFieldErrors: []string{"Unable to log in with provided credentials."}})
		return
	case errors.Is(err, account.ErrEmailNotVerified):
		c.JSON(http.StatusBadRequest, gin.H{account.NonFieldErrors: []string{"E-mail is not verified."}})
		return
	case err != nil:
		s.internalError(c, "login", err)
		return
	}
	pair, ok := s.issue(c, u)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": pair.Access, "refresh": pair.Refresh, "user": u.Details()})
}

func (s *server) logoutHandler(c *gin.Context) {
	var req struct {
		Refresh string `json:"refresh" form:"refresh"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Refresh == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Token is required"})
		return
	}
	err := s.tokens.Revoke(c.Request.Context(), req.Refresh)
	switch {
	case errors.Is(err, token.ErrRevoked):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Token is blacklisted"})
		return
	case errors.Is(err, token.ErrNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Token is invalid or expired"})
		return
	case err != nil:
		s.internalError(c, "logout", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Successfully logged out."})
}

func (s *server) refreshHandler(c *gin.Context) {
	var req struct {
		Refresh string `json:"refresh" form:"refresh"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Refresh == "" {
		c.JSON(http.StatusBadRequest, required("refresh"))
		return
	}
	pair, err := s.tokens.Refresh(c.Request.Context(), req.Refresh)
	if err != nil {
		s.tokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *server) verifyTokenHandler(c *gin.Context) {
	var req struct {
		Token string `json:"token" form:"token"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Token == "" {
		c.JSON(http.StatusBadRequest, required("token"))
		return
	}
	if err := s.tokens.Verify(c.Request.Context(), req.Token); err != nil {
		s.tokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *server) confirmEmailInfoHandler(c *gin.Context) {
	addr, err := s.accounts.LookupConfirmation(c.Request.Context(), c.Param("key"))
	if errors.Is(err, account.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}
	if err != nil {
		s.internalError(c, "lookup confirmation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": addr.Email})
}

func (s *server) confirmEmailHandler(c *gin.Context) {
	s.confirmKey(c, c.Param("key"))
}

func (s *server) verifyEmailHandler(c *gin.Context) {
	var req struct {
		Key string `json:"key" form:"key"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Key == "" {
		c.JSON(http.StatusBadRequest, required("key"))
		return
	}
	s.confirmKey(c, req.Key)
}

func (s *server) confirmKey(c *gin.Context, key string) {
	_, err := s.accounts.ConfirmEmail(c.Request.Context(), key)
	if errors.Is(err, account.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}
	if err != nil {
		s.internalError(c, "confirm email", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "ok"})
}

func (s *server) resendEmailHandler(c *gin.Context) {
	var req struct {
		Email string `json:"email" form:"email"`
	}
	if !bind(c, &req) {
		return
	}
	if err := s.accounts.ResendConfirmation(c.Request.Context(), s.site(c), req.Email); err != nil {
		s.writeError(c, "resend confirmation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "ok"})
}

func (s *server) passwordChangeHandler(c *gin.Context) {
	var req account.ChangePassword
	if !bind(c, &req) {
		return
	}
	if err := s.accounts.ChangePassword(c.Request.Context(), currentUser(c), req); err != nil {
		s.writeError(c, "change password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "New password has been saved."})
}

func (s *server) passwordResetHandler(c *gin.Context) {
	var req struct {
		Email string `json:"email" form:"email"`
	}
	if !bind(c, &req) {
		return
	}
	if err := s.accounts.RequestPasswordReset(c.Request.Context(), s.site(c), req.Email); err != nil {
		s.writeError(c, "password reset", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Password reset e-mail has been sent."})
}

func (s *server) passwordResetConfirmHandler(c *gin.Context) {
	var req account.ResetConfirm
	if !bind(c, &req) {
		return
	}
	if uid := c.Param("uid"); uid != "" {
		req.UID = uid
	}
	if tok := c.Param("token"); tok != "" {
		req.Token = tok
	}
	ctx := c.Request.Context()
	u, err := s.accounts.ConfirmPasswordReset(ctx, req)
	if err != nil {
		s.writeError(c, "password reset confirm", err)
		return
	}
	if err := s.tokens.RevokeAll(ctx, u.ID); err != nil {
		s.log.Warn("revoke refresh tokens after reset failed", zap.Uint("user_id", u.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Password has been reset with the new password."})
}

func (s *server) userDetailsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c).Details())
}

func (s *server) updateUserDetailsHandler(c *gin.Context) {
	var req account.DetailsUpdate
	if !bind(c, &req) {
		return
	}
	u := currentUser(c)
	partial := c.Request.Method == http.MethodPatch
	if err := s.accounts.UpdateDetails(c.Request.Context(), u, req, partial); err != nil {
		s.writeError(c, "update user", err)
		return
	}
	c.JSON(http.StatusOK, u.Details())
}

// profileHandler is the API variant of the profile page.
func (s *server) profileHandler(c *gin.Context) {
	p, err := s.profiles.Get(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		s.internalError(c, "load profile", err)
		return
	}
	var ph *string
	if p != nil {
		ph = p.Phone
	}
	c.JSON(http.StatusOK, gin.H{"phone": ph})
}

// updateProfileHandler is the API variant of the phone form. A missing phone leaves the profile untouched.
func (s *server) updateProfileHandler(c *gin.Context) {
	var req struct {
		Phone *string `json:"phone" form:"phone"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Phone == nil {
		s.profileHandler(c)
		return
	}
	n, err := phone.Parse(*req.Phone)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"phone": []string{phone.Message}})
		return
	}
	u := currentUser(c)
	p, err := s.profiles.UpdatePhone(c.Request.Context(), u.ID, n, u.ID)
	if err != nil {
		s.internalError(c, "update profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phone": p.Phone})
}

func (s *server) listUsersHandler(c *gin.Context) {
	users, err := s.accounts.Users(c.Request.Context())
	if err != nil {
		s.internalError(c, "list users", err)
		return
	}
	out := make([]models.Record, 0, len(users))
	for i := range users {
		out = append(out, users[i].Record())
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) getUserHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}
	u, err := s.accounts.User(c.Request.Context(), uint(id))
	if errors.Is(err, account.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}
	if err != nil {
		s.internalError(c, "load user", err)
		return
	}
	c.JSON(http.StatusOK, u.Record())
}
