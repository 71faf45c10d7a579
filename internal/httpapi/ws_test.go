package httpapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/boardkeep/boardsync/internal/board"
	"github.com/boardkeep/boardsync/internal/storage"
)

func dialSession(t *testing.T, ctx context.Context, serverURL, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/v1/session/ws"
	if token != "" {
		wsURL += "?token=" + url.QueryEscape(token)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial session: %v", err)
	}
	return conn
}

func sendSessionMessage(t *testing.T, ctx context.Context, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

// awaitStatus reads session messages until the wanted status arrives,
// failing fast on any error status that is not the one being waited for.
func awaitStatus(t *testing.T, ctx context.Context, conn *websocket.Conn, want string) outboundMessage {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read while waiting for status %q: %v", want, err)
		}
		var msg outboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal session message: %v", err)
		}
		if msg.Type != "status" {
			continue
		}
		if msg.Status == want {
			return msg
		}
		if msg.Status == "save-error" || msg.Status == "load-error" || msg.Status == "access-denied" {
			t.Fatalf("session failed while waiting for %q: %+v", want, msg)
		}
	}
}

func TestSessionWSEditAndSave(t *testing.T) {
	server, gateway := newTestServer(t)
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialSession(t, ctx, httpServer.URL, testToken(t, "alice"))
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendSessionMessage(t, ctx, conn, map[string]any{"type": "switchBoard", "boardId": "b1"})
	awaitStatus(t, ctx, conn, "saved")

	sendSessionMessage(t, ctx, conn, map[string]any{
		"type":  "documentMutated",
		"title": "Edited over the wire",
		"elements": []map[string]any{
			{
				"key":      "el_1",
				"kind":     "note",
				"position": map[string]float64{"x": 5, "y": 7},
				"note":     map[string]string{"text": "hello"},
			},
		},
	})
	awaitStatus(t, ctx, conn, "saved")

	data, err := gateway.ReadFresh(ctx, board.ObjectPath("alice", "b1"))
	if err != nil {
		t.Fatalf("stored board missing: %v", err)
	}
	doc, err := board.Deserialize(data)
	if err != nil {
		t.Fatalf("stored board unreadable: %v", err)
	}
	if doc.Title != "Edited over the wire" {
		t.Fatalf("session edit did not persist: %q", doc.Title)
	}
	if len(doc.Elements) != 1 || doc.Elements[0].Note == nil || doc.Elements[0].Note.Text != "hello" {
		t.Fatalf("element did not persist: %+v", doc.Elements)
	}
}

func TestSessionWSPopulatesClientAfterSwitch(t *testing.T) {
	server, gateway := newTestServer(t)
	seed := board.NewDocument("Seeded title")
	seed.Elements = append(seed.Elements, board.Element{
		Key:  "el_seed",
		Kind: board.KindNote,
		Note: &board.NotePayload{Text: "seeded"},
	})
	data, err := board.Serialize(seed, time.Now())
	if err != nil {
		t.Fatalf("seed serialize: %v", err)
	}
	if err := gateway.CreateIfAbsent(context.Background(), board.ObjectPath("alice", "b1"), data); err != nil {
		t.Fatalf("seed: %v", err)
	}

	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialSession(t, ctx, httpServer.URL, testToken(t, "alice"))
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendSessionMessage(t, ctx, conn, map[string]any{"type": "switchBoard", "boardId": "b1"})

	var sawClear, sawElement, sawTitle bool
	for !(sawClear && sawElement && sawTitle) {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read populate stream: %v", err)
		}
		var msg outboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		switch msg.Type {
		case "clear":
			sawClear = true
		case "populateElement":
			if msg.Element == nil || msg.Element.Key != "el_seed" {
				t.Fatalf("unexpected populate element: %+v", msg.Element)
			}
			sawElement = true
		case "applyTitle":
			if msg.Title != "Seeded title" {
				t.Fatalf("unexpected title: %q", msg.Title)
			}
			sawTitle = true
		case "status":
			if msg.Status == "load-error" || msg.Status == "access-denied" {
				t.Fatalf("load failed: %+v", msg)
			}
		}
	}
}

func TestSessionWSAnonymousIsReadOnly(t *testing.T) {
	server, gateway := newTestServer(t)
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialSession(t, ctx, httpServer.URL, "")
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendSessionMessage(t, ctx, conn, map[string]any{"type": "switchBoard", "boardId": "b1"})
	var sawReadOnly bool
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg outboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type == "setReadOnly" && msg.ReadOnly != nil && *msg.ReadOnly {
			sawReadOnly = true
		}
		if msg.Type == "status" && msg.Status == "login-required" {
			break
		}
	}
	if !sawReadOnly {
		t.Fatal("anonymous session was not forced read-only")
	}

	// Nothing was ever written.
	entries, err := gateway.List(ctx, "", storage.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("anonymous session produced objects: %+v", entries)
	}
}
