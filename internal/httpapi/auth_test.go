package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claimBytes, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(claimBytes)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + payload + "." + sig
}

func testToken(t *testing.T, userID string) string {
	t.Helper()
	return signToken(t, testSecret, map[string]any{
		"user_id":      userID,
		"display_name": "Test User",
		"aud":          "boardsync",
		"exp":          time.Now().Add(time.Hour).Unix(),
	})
}

func TestIdentityFromRequestBearerHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/boards", nil)
	r.Header.Set("Authorization", "Bearer "+testToken(t, "alice"))

	user, authErr := identityFromRequest(r, testSecret, time.Now())
	if authErr != nil {
		t.Fatalf("unexpected auth error: %v", authErr)
	}
	if user == nil || user.ID != "alice" || user.DisplayName != "Test User" {
		t.Fatalf("unexpected identity: %+v", user)
	}
}

func TestIdentityFromRequestTokenQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/session/ws?token="+url.QueryEscape(testToken(t, "alice")), nil)

	user, authErr := identityFromRequest(r, testSecret, time.Now())
	if authErr != nil {
		t.Fatalf("unexpected auth error: %v", authErr)
	}
	if user == nil || user.ID != "alice" {
		t.Fatalf("unexpected identity: %+v", user)
	}
}

func TestIdentityFromRequestMissingTokenIsAnonymous(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/session/ws", nil)
	user, authErr := identityFromRequest(r, testSecret, time.Now())
	if authErr != nil || user != nil {
		t.Fatalf("expected anonymous nil identity, got %+v, %v", user, authErr)
	}
}

func TestIdentityFromRequestRejectsBadTokens(t *testing.T) {
	now := time.Now()
	cases := map[string]string{
		"garbage":       "not.a.jwt",
		"wrong secret":  signToken(t, "other-secret", map[string]any{"user_id": "alice", "aud": "boardsync", "exp": now.Add(time.Hour).Unix()}),
		"expired":       signToken(t, testSecret, map[string]any{"user_id": "alice", "aud": "boardsync", "exp": now.Add(-time.Hour).Unix()}),
		"wrong aud":     signToken(t, testSecret, map[string]any{"user_id": "alice", "aud": "elsewhere", "exp": now.Add(time.Hour).Unix()}),
		"missing user":  signToken(t, testSecret, map[string]any{"aud": "boardsync", "exp": now.Add(time.Hour).Unix()}),
		"missing exp":   signToken(t, testSecret, map[string]any{"user_id": "alice", "aud": "boardsync"}),
		"tampered body": tamperPayload(t, testToken(t, "alice")),
	}
	for name, token := range cases {
		r := httptest.NewRequest("GET", "/v1/boards", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		user, authErr := identityFromRequest(r, testSecret, now)
		if authErr == nil || authErr.status != 401 {
			t.Fatalf("%s: expected 401, got user=%+v err=%v", name, user, authErr)
		}
	}
}

func TestIdentityFromRequestRejectsAlgorithmSwap(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims, _ := json.Marshal(map[string]any{"user_id": "alice", "aud": "boardsync", "exp": time.Now().Add(time.Hour).Unix()})
	payload := base64.RawURLEncoding.EncodeToString(claims)
	token := header + "." + payload + "." + base64.RawURLEncoding.EncodeToString([]byte{})

	r := httptest.NewRequest("GET", "/v1/boards", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	if user, authErr := identityFromRequest(r, testSecret, time.Now()); authErr == nil {
		t.Fatalf("expected unsigned algorithm to be rejected, got %+v", user)
	}
}

func tamperPayload(t *testing.T, token string) string {
	t.Helper()
	claims, _ := json.Marshal(map[string]any{
		"user_id": "mallory",
		"aud":     "boardsync",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	parts := []string{"", "", ""}
	copy(parts, splitToken(token))
	parts[1] = base64.RawURLEncoding.EncodeToString(claims)
	return parts[0] + "." + parts[1] + "." + parts[2]
}

func splitToken(token string) []string {
	out := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			out = append(out, token[start:i])
			start = i + 1
		}
	}
	return append(out, token[start:])
}
