// Package httpapi is the host boundary between remote collaborators (the
// canvas editor and the dashboard) and the sync engine. The dashboard
// endpoints are thin gateway passthroughs; the editor talks to a
// per-connection engine over a WebSocket session.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/boardkeep/boardsync/internal/board"
	"github.com/boardkeep/boardsync/internal/boardsync"
	"github.com/boardkeep/boardsync/internal/storage"
)

const (
	defaultListLimit   = 200
	defaultSignedTTL   = 60 * time.Second
	boardObjectSuffix  = ".json"
	boardsPrefixFormat = "/boards/"
)

type ServerConfig struct {
	JWTSecret string
	// DebounceWindow is handed to every session engine; zero uses the
	// engine default.
	DebounceWindow time.Duration
	VerifySchedule []time.Duration
	SaveRetrier    *storage.Retrier
	Logger         boardsync.Logger
}

type Server struct {
	gateway storage.Gateway
	cfg     ServerConfig
}

func NewServer(gateway storage.Gateway) *Server {
	return NewServerWithConfig(gateway, ServerConfig{})
}

func NewServerWithConfig(gateway storage.Gateway, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	return &Server{gateway: gateway, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/v1/session/ws" && r.Method == http.MethodGet {
		s.handleSessionWS(w, r)
		return
	}
	if r.URL.Path == "/v1/boards" && r.Method == http.MethodGet {
		s.handleListBoards(w, r)
		return
	}
	if boardID, ok := strings.CutPrefix(r.URL.Path, "/v1/boards/"); ok {
		switch {
		case r.Method == http.MethodDelete && !strings.Contains(boardID, "/"):
			s.handleDeleteBoard(w, r, boardID)
			return
		case r.Method == http.MethodGet && strings.HasSuffix(boardID, "/url"):
			s.handleBoardURL(w, r, strings.TrimSuffix(boardID, "/url"))
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "unknown route")
}

func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) (*boardsync.Identity, bool) {
	user, authErr := identityFromRequest(r, s.cfg.JWTSecret, time.Now())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return nil, false
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	return user, true
}

type boardSummary struct {
	ID           string `json:"id"`
	LastModified string `json:"lastModified"`
}

// handleListBoards lists the caller's own boards. This is dashboard glue:
// it enumerates a namespace the caller owns, which is the one place a
// prefix listing is legitimate.
func (s *Server) handleListBoards(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := parsePositiveInt(raw); err == nil {
			limit = parsed
		}
	}
	entries, err := s.gateway.List(r.Context(), user.ID+boardsPrefixFormat, storage.ListOptions{
		Limit:       limit,
		NewestFirst: r.URL.Query().Get("sort") != "name",
	})
	if err != nil {
		writeStorageError(w, err)
		return
	}
	summaries := make([]boardSummary, 0, len(entries))
	for _, entry := range entries {
		name := strings.TrimPrefix(entry.Name, user.ID+boardsPrefixFormat)
		if !strings.HasSuffix(name, boardObjectSuffix) || strings.Contains(name, "/") {
			continue
		}
		summaries = append(summaries, boardSummary{
			ID:           strings.TrimSuffix(name, boardObjectSuffix),
			LastModified: entry.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"boards": summaries})
}

func (s *Server) handleDeleteBoard(w http.ResponseWriter, r *http.Request, boardID string) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	err := s.gateway.Delete(r.Context(), board.ObjectPath(user.ID, boardID))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleBoardURL hands out a short-lived signed read URL for one of the
// caller's boards, e.g. for an export download.
func (s *Server) handleBoardURL(w http.ResponseWriter, r *http.Request, boardID string) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	signed, err := s.gateway.SignedReadURL(r.Context(), board.ObjectPath(user.ID, boardID), defaultSignedTTL)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": signed})
}

func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "board not found")
	case errors.Is(err, storage.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "access denied")
	case errors.Is(err, storage.ErrNotSupported):
		writeError(w, http.StatusNotImplemented, "not_supported", "backend does not support this operation")
	case errors.Is(err, storage.ErrTransient):
		writeError(w, http.StatusBadGateway, "storage_unavailable", "storage temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "storage operation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func parsePositiveInt(raw string) (int, error) {
	value := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, errors.New("not a number")
		}
		value = value*10 + int(r-'0')
		if value > 1<<20 {
			return 0, errors.New("too large")
		}
	}
	if value <= 0 {
		return 0, errors.New("not positive")
	}
	return value, nil
}
