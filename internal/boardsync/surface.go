package boardsync

import "github.com/boardkeep/boardsync/internal/board"

// CanvasSurface is the capability interface the engine holds on the live
// editing surface. The engine never reaches into a rendering tree; it reads
// snapshots through the Live* getters and repopulates through the other
// calls. Implementations are expected to be safe to call from the engine
// goroutine.
type CanvasSurface interface {
	LiveTitle() string
	LiveViewport() board.Viewport
	LiveElements() []board.Element
	LiveConnections() []board.Connection

	// ClearDocument removes every element and connection so no partial old
	// state survives into the next populate.
	ClearDocument()
	PopulateElement(el board.Element)
	PopulateConnection(conn board.Connection)
	ApplyTitle(title string)
	ApplyViewport(vp board.Viewport)
	SetReadOnly(readOnly bool)
	// ResetUndoHistory prevents undoing across a document switch into a
	// different board's history.
	ResetUndoHistory()
}
