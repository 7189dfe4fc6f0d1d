package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"

	"relayr/internal/platform/auth"
	"relayr/internal/platform/config"
	"relayr/internal/platform/repositories"
)

func newAuthHandlerTest(t *testing.T) (*AuthHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	tokenSvc := auth.NewTokenService(config.JWTConfig{
		Secret:         "test-secret",
		AccessTokenTTL: time.Hour,
	})
	return NewAuthHandler(repositories.NewAPIKeyRepository(db), tokenSvc), mock
}

func TestTokenExchange(t *testing.T) {
	h, mock := newAuthHandlerTest(t)

	rawKey := "rk_ab12cd34_deadbeefdeadbeefdeadbeef"
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix").
		WithArgs("ab12cd34").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "brand_id", "name", "key_hash", "key_prefix", "scopes", "created_at", "expires_at", "revoked_at",
		}).AddRow("key_1", "brd_1", "ci-pipeline", string(hash), "ab12cd34", `["api_write"]`, time.Now().Unix(), nil, nil))
	mock.ExpectExec("UPDATE api_keys SET last_used_at").
		WithArgs(sqlmock.AnyArg(), "key_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	h.Token(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp TokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.AccessToken == "" || resp.TokenType != "Bearer" {
		t.Errorf("response = %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTokenExchangeRejectsExpiredKey(t *testing.T) {
	h, mock := newAuthHandlerTest(t)

	rawKey := "rk_ab12cd34_deadbeefdeadbeefdeadbeef"
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	expired := time.Now().Add(-24 * time.Hour).Unix()
	mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix").
		WithArgs("ab12cd34").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "brand_id", "name", "key_hash", "key_prefix", "scopes", "created_at", "expires_at", "revoked_at",
		}).AddRow("key_1", "brd_1", "ci-pipeline", string(hash), "ab12cd34", `[]`, time.Now().Unix(), expired, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	h.Token(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
