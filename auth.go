package main

import (
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"accounts/models"
	"accounts/pkg/account"
	"accounts/pkg/session"
	"accounts/pkg/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ctxUser    = "user"
	ctxSession = "session"
)

// currentUser returns the identity resolved by jwtAuth or withSession, or nil.
func currentUser(c *gin.Context) *models.User {
	v, ok := c.Get(ctxUser)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

func currentSession(c *gin.Context) *models.Session {
	v, ok := c.Get(ctxSession)
	if !ok {
		return nil
	}
	sess, _ := v.(*models.Session)
	return sess
}

// jwtAuth requires a valid bearer access token and loads its user.
func (s *server) jwtAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
			return
		}
		raw, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
			return
		}
		claims, err := s.tokens.ParseAccess(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Given token not valid for any token type", "code": "token_not_valid"})
			return
		}
		u, err := s.accounts.User(c.Request.Context(), claims.UserID)
		if errors.Is(err, account.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "User not found", "code": "user_not_found"})
			return
		}
		if err != nil {
			s.internalError(c, "load user", err)
			return
		}
		if !u.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "User is inactive", "code": "user_inactive"})
			return
		}
		c.Set(ctxUser, u)
		c.Next()
	}
}

// withSession resolves the session cookie, if any, to a user. It never rejects a request.
func (s *server) withSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(s.cfg.SessionCookieName)
		if err != nil || raw == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		sess, err := s.sessions.Lookup(ctx, raw)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				s.log.Warn("session lookup failed", zap.Error(err))
			}
			s.clearSessionCookie(c)
			c.Next()
			return
		}
		u, err := s.accounts.User(ctx, sess.UserID)
		if err != nil || !u.IsActive {
			s.clearSessionCookie(c)
			c.Next()
			return
		}
		c.Set(ctxSession, sess)
		c.Set(ctxUser, u)
		c.Next()
	}
}

// loginRequired redirects anonymous browsers to the login page, keeping the requested path in next.
func (s *server) loginRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c) == nil || currentSession(c) == nil {
			target := s.cfg.LoginURL + "?next=" + url.QueryEscape(c.Request.URL.RequestURI())
			c.Redirect(http.StatusFound, target)
			c.Abort()
			return
		}
		c.Next()
	}
}

// throttle limits requests per client IP and scope. It is a no-op without redis and fails open on redis errors.
func (s *server) throttle(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		res, err := s.limiter.Allow(c.Request.Context(), scope+":ip:"+c.ClientIP())
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			wait := int(math.Ceil(res.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"detail": "Request was throttled. Expected available in " + strconv.Itoa(wait) + " seconds.",
			})
			return
		}
		c.Next()
	}
}

func (s *server) setSessionCookie(c *gin.Context, raw string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.SessionCookieName, raw, int(s.sessions.TTL().Seconds()), "/", "", s.cfg.SessionCookieSecure, true)
}

func (s *server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.SessionCookieName, "", -1, "/", "", s.cfg.SessionCookieSecure, true)
}

// tokenError maps token package errors onto API responses.
func (s *server) tokenError(c *gin.Context, err error) {
	if errors.Is(err, token.ErrInvalid) {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	s.internalError(c, "token", err)
}
