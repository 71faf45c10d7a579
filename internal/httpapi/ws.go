package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/boardkeep/boardsync/internal/board"
	"github.com/boardkeep/boardsync/internal/boardsync"
)

// Inbound session messages. The client ships its full live tree with every
// documentMutated signal, so the server-side surface always has a current
// snapshot to serialize from.
type inboundMessage struct {
	Type        string             `json:"type"`
	BoardID     string             `json:"boardId,omitempty"`
	OwnerID     string             `json:"ownerId,omitempty"`
	Title       string             `json:"title,omitempty"`
	Viewport    *board.Viewport    `json:"viewport,omitempty"`
	Elements    []board.Element    `json:"elements,omitempty"`
	Connections []board.Connection `json:"connections,omitempty"`
}

type outboundMessage struct {
	Type       string            `json:"type"`
	Status     string            `json:"status,omitempty"`
	Message    string            `json:"message,omitempty"`
	Title      string            `json:"title,omitempty"`
	Viewport   *board.Viewport   `json:"viewport,omitempty"`
	Element    *board.Element    `json:"element,omitempty"`
	Connection *board.Connection `json:"connection,omitempty"`
	ReadOnly   *bool             `json:"readOnly,omitempty"`
}

// remoteSurface is the engine's view of a canvas that lives on the other
// end of a WebSocket. The Live* getters read the snapshot the client last
// shipped; populate and control calls are forwarded as outbound messages
// and mirrored into the snapshot so engine and client stay in step.
type remoteSurface struct {
	mu          sync.Mutex
	title       string
	viewport    board.Viewport
	elements    []board.Element
	connections []board.Connection

	send func(outboundMessage)
}

func newRemoteSurface(send func(outboundMessage)) *remoteSurface {
	return &remoteSurface{
		viewport: board.Viewport{Scale: 1},
		send:     send,
	}
}

func (s *remoteSurface) updateSnapshot(msg inboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = msg.Title
	if msg.Viewport != nil {
		s.viewport = *msg.Viewport
	}
	s.elements = append([]board.Element(nil), msg.Elements...)
	s.connections = append([]board.Connection(nil), msg.Connections...)
}

func (s *remoteSurface) LiveTitle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

func (s *remoteSurface) LiveViewport() board.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

func (s *remoteSurface) LiveElements() []board.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]board.Element(nil), s.elements...)
}

func (s *remoteSurface) LiveConnections() []board.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]board.Connection(nil), s.connections...)
}

func (s *remoteSurface) ClearDocument() {
	s.mu.Lock()
	s.title = ""
	s.viewport = board.Viewport{Scale: 1}
	s.elements = nil
	s.connections = nil
	s.mu.Unlock()
	s.send(outboundMessage{Type: "clear"})
}

func (s *remoteSurface) PopulateElement(el board.Element) {
	s.mu.Lock()
	s.elements = append(s.elements, el)
	s.mu.Unlock()
	s.send(outboundMessage{Type: "populateElement", Element: &el})
}

func (s *remoteSurface) PopulateConnection(conn board.Connection) {
	s.mu.Lock()
	s.connections = append(s.connections, conn)
	s.mu.Unlock()
	s.send(outboundMessage{Type: "populateConnection", Connection: &conn})
}

func (s *remoteSurface) ApplyTitle(title string) {
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
	s.send(outboundMessage{Type: "applyTitle", Title: title})
}

func (s *remoteSurface) ApplyViewport(vp board.Viewport) {
	s.mu.Lock()
	s.viewport = vp
	s.mu.Unlock()
	s.send(outboundMessage{Type: "applyViewport", Viewport: &vp})
}

func (s *remoteSurface) SetReadOnly(readOnly bool) {
	s.send(outboundMessage{Type: "setReadOnly", ReadOnly: &readOnly})
}

func (s *remoteSurface) ResetUndoHistory() {
	s.send(outboundMessage{Type: "resetUndoHistory"})
}

// handleSessionWS runs one editor session: one WebSocket, one engine.
// Anonymous connections are accepted and run read-only.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	user, authErr := identityFromRequest(r, s.cfg.JWTSecret, time.Now())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan outboundMessage, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-outbound:
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	send := func(msg outboundMessage) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	surface := newRemoteSurface(send)
	engine, err := boardsync.NewEngine(boardsync.EngineOptions{
		Gateway: s.gateway,
		Surface: surface,
		Status: func(update boardsync.StatusUpdate) {
			send(outboundMessage{Type: "status", Status: string(update.Status), Message: update.Message})
		},
		User:           user,
		DebounceWindow: s.cfg.DebounceWindow,
		VerifySchedule: s.cfg.VerifySchedule,
		Retrier:        s.cfg.SaveRetrier,
		Logger:         s.cfg.Logger,
	})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "engine init failed")
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			send(outboundMessage{Type: "status", Status: string(boardsync.StatusSaveError), Message: "malformed message"})
			continue
		}
		switch msg.Type {
		case "switchBoard":
			engine.SwitchBoard(msg.BoardID, msg.OwnerID)
		case "documentMutated":
			surface.updateSnapshot(msg)
			engine.DocumentMutated()
		case "flush":
			// Hosts flush before tearing a page down.
			if err := engine.Flush(ctx); err != nil {
				s.logf("session flush: %v", err)
			}
		}
	}

	// Let the outgoing document land before the session dies.
	_ = engine.Close()
	cancel()
	<-writerDone
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Printf(format, args...)
}
