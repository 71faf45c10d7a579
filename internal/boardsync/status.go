// Package boardsync is the persistence synchronization engine: it turns
// live board edits into durable, verified remote writes, debounces edit
// bursts into single writes, and drives the handoff when the editor
// switches between boards.
package boardsync

// Status is the engine's outward-facing state, consumed by a status
// display. Only transitions are reported; there is no payload contract
// beyond the tag and an optional message.
type Status string

const (
	StatusLoginRequired Status = "login-required"
	StatusLoading       Status = "loading"
	StatusCreating      Status = "creating"
	StatusSaving        Status = "saving"
	StatusSaved         Status = "saved"
	StatusOffline       Status = "offline"
	StatusReadOnly      Status = "read-only"
	StatusAccessDenied  Status = "access-denied"
	StatusSaveError     Status = "save-error"
	StatusLoadError     Status = "load-error"
)

type StatusUpdate struct {
	Status  Status
	Message string
}

// StatusFunc receives status transitions. It is called from the engine
// goroutine and should return quickly.
type StatusFunc func(StatusUpdate)
