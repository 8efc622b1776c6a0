package syncer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/driftwave/driftsync/internal/importer"
	"github.com/driftwave/driftsync/internal/settings"
	"github.com/driftwave/driftsync/internal/syncer"
	"github.com/driftwave/driftsync/internal/testutil"
	"github.com/driftwave/driftsync/internal/trakt"
)

func newTestSyncer(t *testing.T, server *httptest.Server, withToken bool) (*syncer.Service, *settings.Store) {
	t.Helper()

	db := testutil.NewTestDB(t)
	store := settings.NewStore(db.Conn())

	provider := importer.NewProvider(importer.ProviderConfig{
		Store:   store,
		Logger:  testutil.NopLogger(),
		BaseURL: server.URL,
		Timeout: 5,
	})
	cfg := map[string]string{
		importer.SettingClientID:     "id",
		importer.SettingClientSecret: "secret",
	}
	if withToken {
		cfg[importer.SettingAccessToken] = "access"
		cfg[importer.SettingRefreshToken] = "refresh"
		cfg[importer.SettingExpiresAt] = strconv.FormatInt(time.Now().Add(90*24*time.Hour).Unix(), 10)
	}
	if err := provider.Configure(cfg); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	svc, err := syncer.New(provider, store, db.Conn(), time.Hour, testutil.NewTestLogger(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc, store
}

func TestRunOnce_SkipsWhenUnauthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the network")
	}))
	defer server.Close()

	svc, store := newTestSyncer(t, server, false)
	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if _, err := store.Get(context.Background(), "sync.last_history_at"); err == nil {
		t.Error("checkpoint should not exist after a skipped run")
	}
}

func TestRunOnce_AdvancesCheckpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]trakt.HistoryItem{
			{ID: 1, Type: "movie", Movie: &trakt.Movie{Title: "Solaris", IDs: trakt.IDs{Trakt: 1}}},
		})
	}))
	defer server.Close()

	svc, store := newTestSyncer(t, server, true)
	before := time.Now().UTC().Add(-time.Second)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	raw, err := store.Get(context.Background(), "sync.last_history_at")
	if err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
	checkpoint, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t.Fatalf("checkpoint not RFC 3339: %q", raw)
	}
	if checkpoint.Before(before) {
		t.Errorf("checkpoint = %v, want >= %v", checkpoint, before)
	}
}

func TestRunOnce_UsesCheckpointAsSince(t *testing.T) {
	var gotStartAt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStartAt = r.URL.Query().Get("start_at")
		json.NewEncoder(w).Encode([]trakt.HistoryItem{})
	}))
	defer server.Close()

	svc, store := newTestSyncer(t, server, true)
	store.Set(context.Background(), "sync.last_history_at", "2024-06-01T00:00:00Z")

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if gotStartAt != "2024-06-01T00:00:00Z" {
		t.Errorf("start_at = %q, want the stored checkpoint", gotStartAt)
	}
}

func TestRunOnce_FailureKeepsCheckpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	svc, store := newTestSyncer(t, server, true)
	store.Set(context.Background(), "sync.last_history_at", "2024-06-01T00:00:00Z")

	if err := svc.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() error = nil, want failure")
	}

	raw, _ := store.Get(context.Background(), "sync.last_history_at")
	if raw != "2024-06-01T00:00:00Z" {
		t.Errorf("checkpoint = %q, want unchanged after failed run", raw)
	}
}
