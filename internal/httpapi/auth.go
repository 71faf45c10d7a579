package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/boardkeep/boardsync/internal/boardsync"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// identityFromRequest resolves the caller from a bearer token in the
// Authorization header, or - for browser WebSocket upgrades, which cannot
// set headers - from a token query parameter. A missing token yields a nil
// identity, which the engine treats as signed out and forces read-only.
func identityFromRequest(r *http.Request, jwtSecret string, now time.Time) (*boardsync.Identity, *authError) {
	raw := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		raw = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		raw = token
	}
	if raw == "" {
		return nil, nil
	}
	return parseIdentityToken(raw, jwtSecret, now)
}

func parseIdentityToken(raw, jwtSecret string, now time.Time) (*boardsync.Identity, *authError) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, &authError{status: 401, code: "unauthorized", message: "invalid jwt format"}
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, &authError{status: 401, code: "unauthorized", message: "invalid jwt header"}
	}
	var header struct {
		Alg string `json:"alg"`
		Typ string `json:"typ"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, &authError{status: 401, code: "unauthorized", message: "invalid jwt header"}
	}
	if header.Alg != "HS256" {
		return nil, &authError{status: 401, code: "unauthorized", message: "unsupported jwt algorithm"}
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, &authError{status: 401, code: "unauthorized", message: "invalid jwt payload"}
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, &authError{status: 401, code: "unauthorized", message: "invalid jwt signature"}
	}

	mac := hmac.New(sha256.New, []byte(jwtSecret))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sigBytes, mac.Sum(nil)) {
		return nil, &authError{status: 401, code: "unauthorized", message: "jwt signature mismatch"}
	}

	var payload map[string]any
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, &authError{status: 401, code: "unauthorized", message: "invalid jwt payload"}
	}
	userID, ok := payload["user_id"].(string)
	if !ok || userID == "" {
		return nil, &authError{status: 401, code: "unauthorized", message: "missing user_id claim"}
	}
	exp, err := parseExp(payload["exp"])
	if err != nil {
		return nil, &authError{status: 401, code: "unauthorized", message: "invalid exp claim"}
	}
	if now.Unix() >= exp {
		return nil, &authError{status: 401, code: "unauthorized", message: "token expired"}
	}
	if aud, ok := payload["aud"].(string); !ok || aud != "boardsync" {
		return nil, &authError{status: 401, code: "unauthorized", message: "invalid aud claim"}
	}

	identity := &boardsync.Identity{ID: userID}
	if name, ok := payload["display_name"].(string); ok {
		identity.DisplayName = name
	}
	return identity, nil
}

func parseExp(v any) (int64, error) {
	switch typed := v.(type) {
	case float64:
		return int64(typed), nil
	case int64:
		return typed, nil
	case json.Number:
		return typed.Int64()
	default:
		return 0, errors.New("unsupported exp type")
	}
}
