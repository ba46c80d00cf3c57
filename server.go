package main

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"accounts/pkg/account"
	"accounts/pkg/config"
	"accounts/pkg/mailer"
	"accounts/pkg/profile"
	"accounts/pkg/ratelimit"
	"accounts/pkg/session"
	"accounts/pkg/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed templates/*.html
var templateFS embed.FS

// server holds the handlers' dependencies.
type server struct {
	cfg      *config.Config
	db       *gorm.DB
	log      *zap.Logger
	accounts *account.Service
	profiles *profile.Store
	tokens   *token.Issuer
	sessions *session.Store
	limiter  *ratelimit.Limiter // nil disables throttling
	tmpl     *template.Template
}

func newServer(cfg *config.Config, db *gorm.DB, log *zap.Logger, mail mailer.Mailer, limiter *ratelimit.Limiter) *server {
	profiles := profile.NewStore(db)
	return &server{
		cfg:      cfg,
		db:       db,
		log:      log,
		accounts: account.NewService(db, profiles, mail, log.Named("account"), account.OptionsFromConfig(cfg)),
		profiles: profiles,
		tokens:   token.NewIssuer(db, cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL()),
		sessions: session.NewStore(db, cfg.SessionLifetime()),
		limiter:  limiter,
		tmpl:     template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
}

func (s *server) routes() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), requestLogger(s.log), gin.Recovery())
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"detail": "Method \"" + c.Request.Method + "\" not allowed."})
	})
	r.SetHTMLTemplate(s.tmpl)

	r.GET("/healthz", s.healthHandler)

	// HTML surface
	web := r.Group("", s.withSession())
	web.GET("/", s.indexHandler)
	web.GET("/accounts/login/", s.loginPageHandler)
	web.POST("/accounts/login/", s.throttle("login"), s.loginFormHandler)
	web.POST("/accounts/logout/", s.logoutFormHandler)
	protected := web.Group("/accounts", s.loginRequired())
	protected.GET("/profile/", s.profilePageHandler)
	protected.GET("/phone/", s.phonePageHandler)
	protected.POST("/phone/", s.phoneFormHandler)

	// API surface
	api := r.Group("/api")
	acc := api.Group("/accounts")
	acc.POST("/registration/", s.throttle("registration"), s.registerHandler)
	acc.POST("/registration/verify-email/", s.verifyEmailHandler)
	acc.POST("/registration/resend-email/", s.throttle("resend"), s.resendEmailHandler)
	acc.GET("/confirm-email/:key/", s.confirmEmailInfoHandler)
	acc.POST("/confirm-email/:key/", s.confirmEmailHandler)
	acc.POST("/login/", s.throttle("login"), s.loginHandler)
	acc.POST("/logout/", s.logoutHandler)
	acc.POST("/token/refresh/", s.refreshHandler)
	acc.POST("/token/verify/", s.verifyTokenHandler)
	acc.POST("/password/reset/", s.throttle("reset"), s.passwordResetHandler)
	acc.POST("/password/reset/confirm/", s.passwordResetConfirmHandler)
	acc.POST("/password/reset/confirm/:uid/:token/", s.passwordResetConfirmHandler)

	authed := acc.Group("", s.jwtAuth())
	authed.POST("/password/change/", s.passwordChangeHandler)
	authed.GET("/user/", s.userDetailsHandler)
	authed.PUT("/user/", s.updateUserDetailsHandler)
	authed.PATCH("/user/", s.updateUserDetailsHandler)
	authed.GET("/profile/", s.profileHandler)
	authed.PUT("/profile/", s.updateProfileHandler)
	authed.PATCH("/profile/", s.updateProfileHandler)

	users := api.Group("/users", s.jwtAuth())
	users.GET("/user/", s.userDetailsHandler)
	users.PUT("/user/", s.updateUserDetailsHandler)
	users.PATCH("/user/", s.updateUserDetailsHandler)
	users.GET("/users/", s.listUsersHandler)
	users.GET("/users/:id/", s.getUserHandler)
	return r
}

// site describes this deployment for outgoing mail. SITE_URL wins over the request host.
func (s *server) site(c *gin.Context) account.Site {
	base := strings.TrimRight(s.cfg.SiteURL, "/")
	domain := ""
	if base != "" {
		if u, err := url.Parse(base); err == nil {
			domain = u.Host
		}
	} else {
		domain = c.Request.Host
		if domain == "" {
			domain = "localhost"
		}
		scheme := "http"
		if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + domain
	}
	name := s.cfg.SiteName
	if name == "" {
		name = domain
	}
	return account.Site{Name: name, Domain: domain, BaseURL: base}
}

// internalError logs err and answers 500 with the generic error shape.
func (s *server) internalError(c *gin.Context, what string, err error) {
	s.log.Error(what, zap.Error(err), zap.String("request_id", c.GetString("request_id")))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": what + " failed"})
}

// writeError answers field errors with 400 and everything else with 500.
func (s *server) writeError(c *gin.Context, what string, err error) {
	var v *account.ValidationError
	if errors.As(err, &v) {
		c.JSON(http.StatusBadRequest, v.Fields)
		return
	}
	s.internalError(c, what, err)
}
