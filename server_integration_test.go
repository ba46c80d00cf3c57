package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"accounts/pkg/config"
	"accounts/pkg/database"
	"accounts/pkg/mailer"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	// allow callers to pass nil for body safely
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func setupTestServer(t *testing.T) *gin.Engine {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	log := zaptest.NewLogger(t)
	db, err := openDatabase(cfg, log)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	// wipe accounts left over from earlier runs
	db.Exec("DELETE FROM users WHERE email = ?", "integration@example.com")
	return newServer(cfg, db, log, &mailer.Outbox{}, nil).routes()
}

func TestFullFlow(t *testing.T) {
	r := setupTestServer(t)

	// 1. Register user
	regBody, _ := json.Marshal(map[string]string{"email": "integration@example.com", "password1": "pass1", "password2": "pass1", "phone": "+256781435857"})
	resp := performRequest(r, http.MethodPost, "/api/accounts/registration/", bytes.NewBuffer(regBody), "", "application/json")
	if resp.Code != http.StatusCreated {
		b := resp.Body.String()
		t.Fatalf("register failed status=%d body=%s", resp.Code, b)
	}

	// 2. Login
	loginBody, _ := json.Marshal(map[string]string{"email": "integration@example.com", "password": "pass1"})
	resp = performRequest(r, http.MethodPost, "/api/accounts/login/", bytes.NewBuffer(loginBody), "", "application/json")
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("login failed status=%d body=%s", resp.Code, b)
	}
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["access"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}

	// 3. Read profile phone attached at registration
	resp = performRequest(r, http.MethodGet, "/api/accounts/profile/", nil, token, "")
	if resp.Code != 200 || !bytes.Contains(resp.Body.Bytes(), []byte("+256781435857")) {
		b := resp.Body.String()
		t.Fatalf("get profile failed status=%d body=%s", resp.Code, b)
	}

	// 4. Current user
	resp = performRequest(r, http.MethodGet, "/api/users/user/", nil, token, "")
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("user details failed status=%d body=%s", resp.Code, b)
	}

	// 5. Unauthorized access to protected endpoint should be 401
	unauth := performRequest(r, http.MethodGet, "/api/users/users/", nil, "", "")
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthorized list users got %d", unauth.Code)
	}
}

func TestMigrateCommand(t *testing.T) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	db, err := database.Open(os.Getenv("DB_DSN"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}
