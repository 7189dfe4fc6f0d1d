package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	_ "github.com/mattn/go-sqlite3"

	apiContext "relayr/internal/api/context"
	"relayr/internal/engine/audit"
	"relayr/internal/engine/webhooks"
	"relayr/internal/platform/auth"
	"relayr/internal/platform/database"
	"relayr/internal/platform/models"
	"relayr/internal/platform/repositories"
)

var testSecrets = map[string]string{"zapier": "secret", "slack": "secret"}

func newWebhookHandler(t *testing.T) (*WebhookHandler, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatal(err)
	}

	repo := repositories.NewWebhookRepository(db)
	auditor := audit.NewLogger(repositories.NewAuditRepository(db))
	dispatcher := webhooks.NewDispatcher(repo, auditor, webhooks.DefaultPolicy(), testSecrets, time.Second)
	return NewWebhookHandler(dispatcher, repo, auditor, testSecrets), db
}

func withClaims(r *http.Request, brandID string) *http.Request {
	claims := &auth.Claims{ActorID: "usr_1", BrandID: brandID, Role: "admin", Email: "admin@example.com"}
	return r.WithContext(context.WithValue(r.Context(), apiContext.Claims, claims))
}

func withParams(r *http.Request, params httprouter.Params) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), apiContext.Params, params))
}

func TestSubmitReturns201Then200(t *testing.T) {
	h, _ := newWebhookHandler(t)

	body := `{"provider":"zapier","event_type":"post.approved","payload":{"post_id":"post_1"},"target_url":"https://hooks.example.com/x"}`

	rec := httptest.NewRecorder()
	req := withClaims(httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(body)), "brd_1")
	h.Submit(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first submit status = %d, body %s", rec.Code, rec.Body.String())
	}

	var first models.WebhookEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}

	rec = httptest.NewRecorder()
	req = withClaims(httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(body)), "brd_1")
	h.Submit(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("duplicate submit status = %d, want 200", rec.Code)
	}

	var second models.WebhookEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("duplicate submit returned a different event: %s vs %s", first.ID, second.ID)
	}
}

func TestSubmitRejectsUnknownProvider(t *testing.T) {
	h, _ := newWebhookHandler(t)

	body := `{"provider":"pagerduty","event_type":"x","payload":{},"target_url":"https://hooks.example.com"}`
	rec := httptest.NewRecorder()
	req := withClaims(httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(body)), "brd_1")
	h.Submit(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetEnforcesBrandIsolation(t *testing.T) {
	h, db := newWebhookHandler(t)

	repo := repositories.NewWebhookRepository(db)
	event := &models.WebhookEvent{
		Provider:       "zapier",
		BrandID:        "brd_1",
		EventType:      "post.approved",
		Payload:        []byte(`{}`),
		IdempotencyKey: "k1",
		TargetURL:      "https://hooks.example.com",
		MaxAttempts:    5,
	}
	if err := repo.Create(event); err != nil {
		t.Fatal(err)
	}

	params := httprouter.Params{{Key: "event_id", Value: event.ID}}

	rec := httptest.NewRecorder()
	req := withParams(withClaims(httptest.NewRequest(http.MethodGet, "/api/v1/events/"+event.ID, nil), "brd_1"), params)
	h.Get(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("owner fetch status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = withParams(withClaims(httptest.NewRequest(http.MethodGet, "/api/v1/events/"+event.ID, nil), "brd_2"), params)
	h.Get(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-brand fetch status = %d, want 404", rec.Code)
	}
}

func TestInboundSignatureVerification(t *testing.T) {
	h, db := newWebhookHandler(t)

	payload := []byte(`{"event":"invoice.paid"}`)
	signature, _ := webhooks.Sign("zapier", "secret", payload)

	inbound := func(provider, sig, query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/inbound/"+provider+query, bytes.NewReader(payload))
		if sig != "" {
			header, _ := webhooks.SignatureHeader(provider)
			req.Header.Set(header, sig)
		}
		req = withParams(req, httprouter.Params{{Key: "provider", Value: provider}})
		h.Inbound(rec, req)
		return rec
	}

	if rec := inbound("zapier", signature, ""); rec.Code != http.StatusAccepted {
		t.Errorf("valid signature status = %d, want 202", rec.Code)
	}

	if rec := inbound("zapier", "deadbeef", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad signature status = %d, want 401", rec.Code)
	}

	if rec := inbound("zapier", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing signature status = %d, want 401", rec.Code)
	}

	if rec := inbound("pagerduty", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want 404", rec.Code)
	}

	// Rejections without a brand hint are still audited, attributed to the
	// system brand so forged callbacks never vanish from the trail.
	rejected := func(brandID string) int {
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM audit_logs WHERE action = ? AND brand_id = ?`,
			models.ActionSignatureRejected, brandID).Scan(&count); err != nil {
			t.Fatal(err)
		}
		return count
	}
	if got := rejected("system"); got != 2 {
		t.Errorf("unattributed rejection audit rows = %d, want 2", got)
	}

	// A brand hint attributes the rejection to that brand.
	if rec := inbound("zapier", "deadbeef", "?brand_id=brd_1"); rec.Code != http.StatusUnauthorized {
		t.Errorf("audited rejection status = %d, want 401", rec.Code)
	}
	if got := rejected("brd_1"); got != 1 {
		t.Errorf("brand-attributed rejection audit rows = %d, want 1", got)
	}
}
