package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"accounts/models"
	"accounts/pkg/account"
	"accounts/pkg/config"
	"accounts/pkg/database"
	"accounts/pkg/mailer"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type testApp struct {
	srv    *server
	r      *gin.Engine
	outbox *mailer.Outbox
}

func testConfig() *config.Config {
	return &config.Config{
		Addr:                        ":0",
		Env:                         "test",
		LogLevel:                    "debug",
		JWTSecret:                   "test-secret",
		JWTAccessTTL:                "15m",
		JWTRefreshTTL:               "1h",
		BcryptCost:                  bcrypt.MinCost,
		EmailVerification:           config.VerificationOptional,
		EmailConfirmationExpireDays: 3,
		PasswordResetTTL:            "1h",
		SiteName:                    "testserver",
		SiteURL:                     "http://testserver",
		EmailBackend:                config.EmailMemory,
		EmailFrom:                   "webmaster@localhost",
		SessionCookieName:           "sessionid",
		SessionTTL:                  "1h",
		LoginURL:                    "/accounts/login/",
		RateLimit:                   10,
		RateWindow:                  "1m",
	}
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	outbox := &mailer.Outbox{}
	srv := newServer(cfg, database.NewTestDB(t), zaptest.NewLogger(t), outbox, nil)
	return &testApp{srv: srv, r: srv.routes(), outbox: outbox}
}

func (a *testApp) postJSON(path string, body any, token string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	return performRequest(a.r, http.MethodPost, path, bytes.NewBuffer(b), token, "application/json")
}

func (a *testApp) sendJSON(method, path string, body any, token string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	return performRequest(a.r, method, path, bytes.NewBuffer(b), token, "application/json")
}

// performForm sends a browser request carrying the session cookie, if any.
func (a *testApp) performForm(method, path string, form url.Values, cookie string) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req, _ = http.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: a.srv.cfg.SessionCookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	a.r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return m
}

// register creates an account through the API and returns the response body.
func (a *testApp) register(t *testing.T, email, password string) map[string]any {
	t.Helper()
	rec := a.postJSON("/api/accounts/registration/", map[string]string{"email": email, "password1": password, "password2": password}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", rec.Code, rec.Body.String())
	}
	return decode(t, rec)
}

// createUser inserts a user with a verified address directly.
func (a *testApp) createUser(t *testing.T, username, email, password string) *models.User {
	t.Helper()
	u, err := a.srv.accounts.CreateUser(context.Background(), account.NewUser{Username: username, Email: email, Password: password})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// loginCookie opens a browser session for u and returns the cookie value.
func (a *testApp) loginCookie(t *testing.T, u *models.User) string {
	t.Helper()
	raw, _, err := a.srv.sessions.Create(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return raw
}
