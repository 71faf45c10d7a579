package boardsync

import "github.com/boardkeep/boardsync/internal/board"

// DocumentID identifies a board document as (owner, board). An empty
// BoardID selects the legacy single-document-per-owner path.
type DocumentID struct {
	OwnerID string
	BoardID string
}

func (id DocumentID) IsZero() bool {
	return id.OwnerID == "" && id.BoardID == ""
}

// Path returns the object path for this document. Paths only ever come
// from here; the engine never lists a prefix to find a document it already
// knows the id of.
func (id DocumentID) Path() string {
	if id.BoardID == "" {
		return board.LegacyObjectPath(id.OwnerID)
	}
	return board.ObjectPath(id.OwnerID, id.BoardID)
}

// SyncSession is the per-editor-view synchronization state. It is owned by
// a single engine goroutine and mutated only by the scheduler, the access
// resolution, and the switch coordinator running on that goroutine.
//
// Active is cleared the instant a board switch begins and is not set again
// until the incoming document has successfully loaded. That gap is the
// engine's cancellation mechanism: any save trigger that fires inside it is
// a guaranteed no-op, so in-flight timers never need to be aborted.
type SyncSession struct {
	User     *Identity
	Active   DocumentID
	ReadOnly bool

	// InFlight is true while one write+verify pipeline runs; there is
	// never more than one.
	InFlight bool
	// PendingSave records an edit that arrived mid-save; the save that
	// follows it starts with zero delay once the current one resolves.
	PendingSave bool
	// Dirty is true when the live surface has edits not yet handed to a
	// save; it is what a flush consults.
	Dirty bool

	LastConfirmedHash string
}
