package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sentinel/api/internal/backup"
	"sentinel/api/internal/scope"
	"sentinel/api/internal/session"
	"sentinel/api/internal/store"
	"sentinel/api/pkg/logger"
)

func TestMain(m *testing.M) {
	// The middleware logs every request; keep that out of test output.
	logger.Init(logger.Options{Output: io.Discard})
	os.Exit(m.Run())
}

type memSessions struct {
	mu sync.Mutex
	m  map[string]scope.Actor
}

func newMemSessions() *memSessions {
	return &memSessions{m: make(map[string]scope.Actor)}
}

func (s *memSessions) Save(_ context.Context, tokenHash string, a scope.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[tokenHash] = a
	return nil
}

func (s *memSessions) Lookup(_ context.Context, tokenHash string) (scope.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.m[tokenHash]
	if !ok {
		return scope.Actor{}, session.ErrNotFound
	}
	return a, nil
}

func (s *memSessions) Revoke(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, tokenHash)
	return nil
}

func newTestHTTPServer(t *testing.T) http.Handler {
	t.Helper()
	db, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.NewSQLiteStore(db)
	clock := &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	svc := NewService(st, WithClock(clock.Now))
	return NewHTTPServer(svc, newMemSessions(), backup.NewService(st, nil)).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

// loginAs bootstraps the admin on first use, creates the user when it
// does not exist yet, and returns a bearer token.
func loginAs(t *testing.T, h http.Handler, username string, admin bool) string {
	t.Helper()
	creds := map[string]any{"username": username, "password": username + "-password", "is_admin": admin}

	rr := doJSON(t, h, http.MethodPost, "/api/auth/bootstrap", "", creds)
	if rr.Code == http.StatusConflict {
		// Store already has users; create via the admin instead.
		adminToken := loginToken(t, h, "root")
		rr = doJSON(t, h, http.MethodPost, "/api/users", adminToken, creds)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create user %s: %d %s", username, rr.Code, rr.Body.String())
		}
	} else if rr.Code != http.StatusCreated {
		t.Fatalf("bootstrap %s: %d %s", username, rr.Code, rr.Body.String())
	}
	return loginToken(t, h, username)
}

func loginToken(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	rr := doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]any{
		"username": username, "password": username + "-password",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, rr.Code, rr.Body.String())
	}
	token, _ := decodeJSON(t, rr)["token"].(string)
	if token == "" {
		t.Fatal("expected token")
	}
	return token
}

func TestLoginContract(t *testing.T) {
	h := newTestHTTPServer(t)
	token := loginAs(t, h, "root", true)

	rr := doJSON(t, h, http.MethodGet, "/api/session", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("session: %d %s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	if payload["is_admin"] != true {
		t.Fatalf("expected admin session, got %v", payload)
	}

	rr = doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]any{
		"username": "root", "password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if decodeJSON(t, rr)["code"] != "UNAUTHORIZED" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestProtectedRouteWithoutBearer(t *testing.T) {
	h := newTestHTTPServer(t)
	rr := doJSON(t, h, http.MethodGet, "/api/matters", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if decodeJSON(t, rr)["code"] != "UNSET_USER" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	h := newTestHTTPServer(t)
	token := loginAs(t, h, "root", true)

	if rr := doJSON(t, h, http.MethodPost, "/api/auth/logout", token, nil); rr.Code != http.StatusOK {
		t.Fatalf("logout: %d", rr.Code)
	}
	if rr := doJSON(t, h, http.MethodGet, "/api/session", token, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked session, got %d", rr.Code)
	}
}

func TestInvalidBody(t *testing.T) {
	h := newTestHTTPServer(t)
	token := loginAs(t, h, "root", true)

	req := httptest.NewRequest(http.MethodPost, "/api/matters", bytes.NewBufferString(`{"name":`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if decodeJSON(t, rr)["code"] != "INVALID_BODY" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestMatterLifecycleOverHTTP(t *testing.T) {
	h := newTestHTTPServer(t)
	token := loginAs(t, h, "root", true)

	rr := doJSON(t, h, http.MethodPost, "/api/matters", token, map[string]any{"name": "Acme Corp"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create client: %d %s", rr.Code, rr.Body.String())
	}
	client := decodeJSON(t, rr)
	if client["code"] != "acme-corp" {
		t.Fatalf("expected suggested code, got %v", client["code"])
	}
	clientID := int64(client["id"].(float64))

	rr = doJSON(t, h, http.MethodPost, "/api/matters", token, map[string]any{
		"name": "Litigation", "parent_id": clientID,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create child: %d %s", rr.Code, rr.Body.String())
	}
	child := decodeJSON(t, rr)
	if child["path"] != "Acme Corp > Litigation" {
		t.Fatalf("unexpected path %v", child["path"])
	}
	childID := int64(child["id"].(float64))

	rr = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/matters/%d/descendants", clientID), token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("descendants: %d", rr.Code)
	}
	var nodes []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &nodes); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(nodes) != 1 || int64(nodes[0]["id"].(float64)) != childID {
		t.Fatalf("unexpected descendants %+v", nodes)
	}

	// Booking time on the client root is rejected.
	rr = doJSON(t, h, http.MethodPost, "/api/timer/start", token, map[string]any{"matter_id": clientID})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 booking on client, got %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodGet, "/api/matters/424242", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestShareConflictOverHTTP(t *testing.T) {
	h := newTestHTTPServer(t)
	rootToken := loginAs(t, h, "root", true)
	bobToken := loginAs(t, h, "bob", false)

	mkMatter := func(token, name string, parentID any) int64 {
		body := map[string]any{"name": name}
		if parentID != nil {
			body["parent_id"] = parentID
		}
		rr := doJSON(t, h, http.MethodPost, "/api/matters", token, body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create %s: %d %s", name, rr.Code, rr.Body.String())
		}
		return int64(decodeJSON(t, rr)["id"].(float64))
	}

	acme := mkMatter(rootToken, "Acme", nil)
	lit := mkMatter(rootToken, "Litigation", acme)
	bobAcme := mkMatter(bobToken, "Acme", nil)
	mkMatter(bobToken, "Litigation", bobAcme)

	// Bob's id comes from his session endpoint.
	bobID := int64(decodeJSON(t, doJSON(t, h, http.MethodGet, "/api/session", bobToken, nil))["user_id"].(float64))

	rr := doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/matters/%d/share", lit), rootToken, map[string]any{"user_id": bobID})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	if payload["code"] != "SHARE_PATH_CONFLICT" {
		t.Fatalf("unexpected code %v", payload["code"])
	}
	details, _ := payload["details"].(map[string]any)
	if details["path"] != "Acme > Litigation" {
		t.Fatalf("conflict should carry the path, got %v", payload["details"])
	}

	rr = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/matters/%d/share", lit), rootToken, map[string]any{
		"user_id": bobID, "resolve": "merge",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("merge then share: %d %s", rr.Code, rr.Body.String())
	}

	// Bob now reads the shared matter through the grant.
	rr = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/matters/%d", lit), bobToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("bob should see the shared matter: %d", rr.Code)
	}
}

func TestBackupEndpointsAdminOnly(t *testing.T) {
	h := newTestHTTPServer(t)
	rootToken := loginAs(t, h, "root", true)
	bobToken := loginAs(t, h, "bob", false)

	rr := doJSON(t, h, http.MethodGet, "/api/backup/export", bobToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("backup must be hidden from non-admins, got %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/backup/export", rootToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	if payload["version"] != float64(backup.Version) {
		t.Fatalf("expected version %d snapshot, got %v", backup.Version, payload["version"])
	}
}

func TestTimerOverHTTP(t *testing.T) {
	h := newTestHTTPServer(t)
	token := loginAs(t, h, "root", true)

	rr := doJSON(t, h, http.MethodPost, "/api/matters", token, map[string]any{"name": "Acme"})
	acme := int64(decodeJSON(t, rr)["id"].(float64))
	rr = doJSON(t, h, http.MethodPost, "/api/matters", token, map[string]any{"name": "Litigation", "parent_id": acme})
	lit := int64(decodeJSON(t, rr)["id"].(float64))

	rr = doJSON(t, h, http.MethodPost, "/api/timer/start", token, map[string]any{"matter_id": lit, "description": "review"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodGet, "/api/timer", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("timer: %d", rr.Code)
	}
	if decodeJSON(t, rr)["running"] == nil {
		t.Fatal("expected a running entry")
	}

	rr = doJSON(t, h, http.MethodPost, "/api/timer/stop", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stop: %d", rr.Code)
	}
	rr = doJSON(t, h, http.MethodGet, "/api/timer", token, nil)
	if decodeJSON(t, rr)["running"] != nil {
		t.Fatal("expected no running entry")
	}
}
