package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/driftwave/driftsync/internal/importer"
	"github.com/driftwave/driftsync/internal/settings"
	"github.com/driftwave/driftsync/internal/testutil"
)

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func newTestServer(t *testing.T) (*Server, *settings.Store) {
	t.Helper()

	db := testutil.NewTestDB(t)
	store := settings.NewStore(db.Conn())
	provider := importer.NewProvider(importer.ProviderConfig{
		Store:  store,
		Logger: testutil.NopLogger(),
	})
	return NewServer(provider, store, testutil.NopLogger()), store
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTraktStatus_Unconfigured(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trakt", nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Configured    bool                  `json:"configured"`
		Authenticated bool                  `json:"authenticated"`
		Capabilities  importer.Capabilities `json:"capabilities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Configured || body.Authenticated {
		t.Errorf("body = %+v, want unconfigured", body)
	}
	if !body.Capabilities.DeviceAuthRequired {
		t.Error("Capabilities.DeviceAuthRequired = false")
	}
}

func TestImportHistory_Unauthorized(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trakt/import/history", nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412 for unconfigured provider", rec.Code)
	}
}

func TestImportHistory_BadSince(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trakt/import/history?since=yesterday", nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for malformed since", rec.Code)
	}
}

func TestUpdateConfig(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/trakt",
		jsonBody(t, map[string]string{"clientId": "id", "clientSecret": "secret"}))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	// Provider is now configured.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/trakt", nil)
	rec = httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	var body struct {
		Configured bool `json:"configured"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if !body.Configured {
		t.Error("configured = false after update")
	}
}

func TestUpdateConfig_ClearsStoredToken(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	// A token left over from a previous credential pair.
	for key, value := range map[string]string{
		"trakt.access_token":  "stale-access",
		"trakt.refresh_token": "stale-refresh",
		"trakt.expires_at":    "1500",
	} {
		if err := store.Set(ctx, key, value); err != nil {
			t.Fatalf("Set(%q) error = %v", key, err)
		}
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/trakt",
		jsonBody(t, map[string]string{"clientId": "new-id", "clientSecret": "new-secret"}))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	for _, key := range []string{"trakt.access_token", "trakt.refresh_token", "trakt.expires_at"} {
		if _, err := store.Get(ctx, key); !errors.Is(err, settings.ErrNotFound) {
			t.Errorf("Get(%q) error = %v, want ErrNotFound", key, err)
		}
	}
}

func TestUpdateConfig_MissingFields(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/trakt",
		jsonBody(t, map[string]string{"clientId": "id"}))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
