package boardsync

import "strings"

// Identity is the authenticated user an engine instance acts as.
type Identity struct {
	ID          string
	DisplayName string
}

// ResolveAccess derives the effective owner and read-only status for a
// board request. The owner defaults to the current user when none was
// asked for; anyone viewing a document they do not own is forced
// read-only. A viewer can load another owner's board but the engine will
// only ever write back under the viewer's own namespace, and only when not
// read-only.
func ResolveAccess(user *Identity, requestedOwner string) (ownerID string, readOnly bool) {
	ownerID = strings.TrimSpace(requestedOwner)
	if ownerID == "" && user != nil {
		ownerID = user.ID
	}
	readOnly = user == nil || ownerID == "" || user.ID != ownerID
	return ownerID, readOnly
}
