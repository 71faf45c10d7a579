package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boardkeep/boardsync/internal/board"
	"github.com/boardkeep/boardsync/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryGateway) {
	t.Helper()
	gateway := storage.NewMemoryGateway()
	server := NewServerWithConfig(gateway, ServerConfig{
		JWTSecret:      testSecret,
		DebounceWindow: 20 * time.Millisecond,
		VerifySchedule: []time.Duration{time.Millisecond, time.Millisecond},
		SaveRetrier:    &storage.Retrier{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}},
	})
	return server, gateway
}

func doRequest(t *testing.T, server *Server, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	server.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	w := doRequest(t, server, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	decodeBody(t, w, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	server, _ := newTestServer(t)
	if w := doRequest(t, server, http.MethodGet, "/v1/nothing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestBoardEndpointsRequireAuth(t *testing.T) {
	server, _ := newTestServer(t)
	for _, target := range []string{"/v1/boards", "/v1/boards/b1/url"} {
		if w := doRequest(t, server, http.MethodGet, target, ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token, got %d", target, w.Code)
		}
	}
	if w := doRequest(t, server, http.MethodDelete, "/v1/boards/b1", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := doRequest(t, server, http.MethodGet, "/v1/boards", "not.a.jwt"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", w.Code)
	}
}

func TestListBoardsScopedToCaller(t *testing.T) {
	server, gateway := newTestServer(t)
	ctx := context.Background()
	for _, path := range []string{
		board.ObjectPath("alice", "alpha"),
		board.ObjectPath("alice", "zeta"),
		board.ObjectPath("bob", "hidden"),
		board.LegacyObjectPath("alice"),
	} {
		if err := gateway.CreateIfAbsent(ctx, path, []byte("{}")); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}

	w := doRequest(t, server, http.MethodGet, "/v1/boards?sort=name", testToken(t, "alice"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Boards []boardSummary `json:"boards"`
	}
	decodeBody(t, w, &body)
	if len(body.Boards) != 2 || body.Boards[0].ID != "alpha" || body.Boards[1].ID != "zeta" {
		t.Fatalf("unexpected listing: %+v", body.Boards)
	}
	for _, summary := range body.Boards {
		if _, err := time.Parse(time.RFC3339, summary.LastModified); err != nil {
			t.Fatalf("lastModified not RFC3339: %q", summary.LastModified)
		}
	}

	w = doRequest(t, server, http.MethodGet, "/v1/boards?sort=name&limit=1", testToken(t, "alice"))
	decodeBody(t, w, &body)
	if len(body.Boards) != 1 {
		t.Fatalf("limit not applied: %+v", body.Boards)
	}
}

func TestDeleteBoard(t *testing.T) {
	server, gateway := newTestServer(t)
	path := board.ObjectPath("alice", "b1")
	if err := gateway.CreateIfAbsent(context.Background(), path, []byte("{}")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := doRequest(t, server, http.MethodDelete, "/v1/boards/b1", testToken(t, "alice"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := gateway.Read(context.Background(), path); err == nil {
		t.Fatal("board object still present after delete")
	}

	// A second delete maps the storage ErrNotFound to 404.
	if w := doRequest(t, server, http.MethodDelete, "/v1/boards/b1", testToken(t, "alice")); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on missing board, got %d", w.Code)
	}
}

func TestDeleteCannotCrossNamespaces(t *testing.T) {
	server, gateway := newTestServer(t)
	path := board.ObjectPath("bob", "b1")
	if err := gateway.CreateIfAbsent(context.Background(), path, []byte("{}")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// alice deleting "b1" targets her own namespace, where it does not exist.
	if w := doRequest(t, server, http.MethodDelete, "/v1/boards/b1", testToken(t, "alice")); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if _, err := gateway.Read(context.Background(), path); err != nil {
		t.Fatalf("bob's board was touched: %v", err)
	}
}

func TestBoardURLUnsupportedBackendMapsTo501(t *testing.T) {
	server, gateway := newTestServer(t)
	if err := gateway.CreateIfAbsent(context.Background(), board.ObjectPath("alice", "b1"), []byte("{}")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if w := doRequest(t, server, http.MethodGet, "/v1/boards/b1/url", testToken(t, "alice")); w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for memory backend, got %d", w.Code)
	}
}

func TestParsePositiveInt(t *testing.T) {
	if v, err := parsePositiveInt("42"); err != nil || v != 42 {
		t.Fatalf("expected 42, got %d, %v", v, err)
	}
	for _, raw := range []string{"", "0", "-1", "12a", "999999999999"} {
		if _, err := parsePositiveInt(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
