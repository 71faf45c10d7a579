package boardsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/boardkeep/boardsync/internal/board"
	"github.com/boardkeep/boardsync/internal/storage"
)

// ErrEngineClosed is returned by calls made after Close.
var ErrEngineClosed = errors.New("engine closed")

// DefaultDebounceWindow is the quiet period after the last edit before a
// save starts. Edits arriving inside the window coalesce into one write.
const DefaultDebounceWindow = 800 * time.Millisecond

type Logger interface {
	Printf(format string, args ...any)
}

type EngineOptions struct {
	Gateway storage.Gateway
	Surface CanvasSurface
	// Status receives state transitions; nil discards them.
	Status StatusFunc
	// User is the authenticated identity the engine saves as; nil means
	// signed out (read-only until SetUser).
	User           *Identity
	DebounceWindow time.Duration
	// Retrier wraps every gateway write and load; nil uses the default
	// budget of 3 attempts at 200/500/1200ms.
	Retrier *storage.Retrier
	// VerifySchedule overrides the write verification polling schedule.
	VerifySchedule []time.Duration
	Logger         Logger
}

type commandKind int

const (
	cmdMutated commandKind = iota
	cmdSwitch
	cmdSetUser
	cmdFlush
	cmdInspect
	cmdClose
)

type command struct {
	kind    commandKind
	boardID string
	ownerID string
	user    *Identity
	reply   chan error
	inspect chan SyncSession
}

type saveOutcome struct {
	hash string
	err  error
}

// Engine is one persistence synchronization engine instance: a single
// goroutine owning one SyncSession, fed by a narrow command channel. All
// session state lives on that goroutine, so ordering between asynchronous
// steps is explicit and there is nothing to lock.
type Engine struct {
	gateway  storage.Gateway
	surface  CanvasSurface
	status   StatusFunc
	debounce time.Duration
	retrier  *storage.Retrier
	verifier *Verifier
	logger   Logger

	ctx    context.Context
	cancel context.CancelFunc

	commands chan command
	saveDone chan saveOutcome
	stopped  chan struct{}

	closeOnce sync.Once

	// Owned by the run goroutine.
	session SyncSession
	timer   *time.Timer
	timerC  <-chan time.Time
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if opts.Surface == nil {
		return nil, fmt.Errorf("canvas surface is required")
	}
	debounce := opts.DebounceWindow
	if debounce <= 0 {
		debounce = DefaultDebounceWindow
	}
	retrier := opts.Retrier
	if retrier == nil {
		retrier = &storage.Retrier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		gateway:  opts.Gateway,
		surface:  opts.Surface,
		status:   opts.Status,
		debounce: debounce,
		retrier:  retrier,
		verifier: &Verifier{Gateway: opts.Gateway, Schedule: opts.VerifySchedule},
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		commands: make(chan command, 128),
		saveDone: make(chan saveOutcome, 1),
		stopped:  make(chan struct{}),
		session:  SyncSession{User: opts.User, ReadOnly: opts.User == nil},
	}
	go e.run()
	return e, nil
}

// DocumentMutated reports that the live document changed. It is the only
// signal that arms autosave.
func (e *Engine) DocumentMutated() {
	e.send(command{kind: cmdMutated})
}

// SwitchBoard asks the engine to move to another board. It may arrive at
// any time, including mid-save; the coordinator flushes the outgoing
// document before touching anything else.
func (e *Engine) SwitchBoard(boardID, ownerID string) {
	e.send(command{kind: cmdSwitch, boardID: boardID, ownerID: ownerID})
}

// SetUser changes the authenticated identity (sign-in/out) and recomputes
// read-only status against the active document's owner.
func (e *Engine) SetUser(user *Identity) {
	e.send(command{kind: cmdSetUser, user: user})
}

// Flush forces an immediate save of the active document and waits for it,
// including verification. It returns nil when there is nothing to save.
func (e *Engine) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	if !e.send(command{kind: cmdFlush, reply: reply}) {
		return ErrEngineClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session returns a snapshot of the sync state, taken on the engine
// goroutine.
func (e *Engine) Session() SyncSession {
	reply := make(chan SyncSession, 1)
	if !e.send(command{kind: cmdInspect, inspect: reply}) {
		return SyncSession{}
	}
	select {
	case session := <-reply:
		return session
	case <-e.stopped:
		return SyncSession{}
	}
}

// Close stops the engine after letting any in-flight save run to
// completion. Later calls on the engine are no-ops.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.send(command{kind: cmdClose})
		<-e.stopped
		e.cancel()
	})
	return nil
}

func (e *Engine) send(cmd command) bool {
	select {
	case e.commands <- cmd:
		return true
	case <-e.stopped:
		return false
	}
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case cmd := <-e.commands:
			switch cmd.kind {
			case cmdMutated:
				e.handleMutated()
			case cmdSwitch:
				e.handleSwitch(cmd.boardID, cmd.ownerID)
			case cmdSetUser:
				e.handleSetUser(cmd.user)
			case cmdFlush:
				cmd.reply <- e.flushActive()
			case cmdInspect:
				cmd.inspect <- e.session
			case cmdClose:
				e.stopDebounce()
				if e.session.InFlight {
					e.settleSave(<-e.saveDone)
				}
				return
			}
		case <-e.timerC:
			e.timer = nil
			e.timerC = nil
			e.startSave()
		case out := <-e.saveDone:
			e.finishSave(out)
		}
	}
}

// canSave is the guard every save path runs through: saving requires a
// signed-in user, write access, and an active document.
func (e *Engine) canSave() bool {
	return e.session.User != nil && !e.session.ReadOnly && !e.session.Active.IsZero()
}

func (e *Engine) handleMutated() {
	if !e.canSave() {
		return
	}
	e.session.Dirty = true
	if e.session.InFlight {
		// Single-flight: the edit joins the in-flight save's follow-up
		// instead of starting a second concurrent write.
		e.session.PendingSave = true
		return
	}
	e.resetDebounce()
}

func (e *Engine) resetDebounce() {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.NewTimer(e.debounce)
	e.timerC = e.timer.C
}

func (e *Engine) stopDebounce() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
		e.timerC = nil
	}
}

func (e *Engine) startSave() {
	if !e.canSave() || e.session.InFlight {
		return
	}
	data, err := e.snapshotDocument()
	if err != nil {
		e.logf("encode board: %v", err)
		e.publish(StatusSaveError, "could not encode board")
		return
	}
	path := e.savePath()
	e.session.Dirty = false
	e.session.InFlight = true
	e.publish(StatusSaving, "")
	go func() {
		hash, err := e.writeAndVerify(e.ctx, path, data)
		e.saveDone <- saveOutcome{hash: hash, err: err}
	}()
}

func (e *Engine) finishSave(out saveOutcome) {
	e.settleSave(out)
	if e.session.PendingSave {
		// Persist the state that arrived mid-save without another
		// debounce wait; this is what bounds write amplification while
		// still landing the latest edits.
		e.session.PendingSave = false
		e.startSave()
	}
}

func (e *Engine) settleSave(out saveOutcome) {
	e.session.InFlight = false
	if out.err != nil {
		e.logf("save failed: %v", out.err)
		e.publish(saveFailureStatus(out.err), out.err.Error())
		return
	}
	e.session.LastConfirmedHash = out.hash
	e.publish(StatusSaved, "")
}

func saveFailureStatus(err error) Status {
	if errors.Is(err, storage.ErrTransient) {
		return StatusOffline
	}
	return StatusSaveError
}

// flushActive runs inline on the engine goroutine: it waits out any
// in-flight save, then writes and verifies the latest state. Nothing else
// is processed until it returns, which is exactly the ordering the switch
// coordinator needs.
func (e *Engine) flushActive() error {
	e.stopDebounce()
	var inFlightErr error
	if e.session.InFlight {
		out := <-e.saveDone
		e.settleSave(out)
		inFlightErr = out.err
	}
	if !e.canSave() {
		e.session.PendingSave = false
		e.session.Dirty = false
		return nil
	}
	if !e.session.Dirty && !e.session.PendingSave {
		return inFlightErr
	}
	e.session.PendingSave = false
	data, err := e.snapshotDocument()
	if err != nil {
		return err
	}
	path := e.savePath()
	e.session.Dirty = false
	e.publish(StatusSaving, "")
	hash, err := e.writeAndVerify(e.ctx, path, data)
	if err != nil {
		e.logf("flush failed: %v", err)
		e.publish(saveFailureStatus(err), err.Error())
		return err
	}
	e.session.LastConfirmedHash = hash
	e.publish(StatusSaved, "")
	return nil
}

func (e *Engine) snapshotDocument() ([]byte, error) {
	doc := &board.Document{
		Title:       e.surface.LiveTitle(),
		Viewport:    e.surface.LiveViewport(),
		Elements:    e.surface.LiveElements(),
		Connections: e.surface.LiveConnections(),
	}
	return board.Serialize(doc, time.Now())
}

// savePath targets the authenticated user's own namespace, never the
// active document's owner: a viewer can load someone else's board but can
// only ever write back under their own id.
func (e *Engine) savePath() string {
	if e.session.Active.BoardID == "" {
		return board.LegacyObjectPath(e.session.User.ID)
	}
	return board.ObjectPath(e.session.User.ID, e.session.Active.BoardID)
}

func (e *Engine) writeAndVerify(ctx context.Context, path string, data []byte) (string, error) {
	err := e.retrier.Do(ctx, func(ctx context.Context) error {
		replaceErr := e.gateway.Replace(ctx, path, data)
		if errors.Is(replaceErr, storage.ErrNotFound) {
			// The object is missing; fall back to an exclusive create.
			// Losing that race means another writer produced the object,
			// which counts as success - last writer wins.
			createErr := e.gateway.CreateIfAbsent(ctx, path, data)
			if createErr == nil || errors.Is(createErr, storage.ErrExists) {
				return nil
			}
			return createErr
		}
		return replaceErr
	})
	if err != nil {
		return "", err
	}
	hash := HashBytes(data)
	if err := e.verifier.Confirm(ctx, path, hash); err != nil {
		return "", err
	}
	return hash, nil
}

// handleSwitch drives the board transition. The order is load-bearing:
// flush, disarm, resolve access, clear the canvas, load, and only then
// re-arm saving by assigning the new active id.
func (e *Engine) handleSwitch(boardID, ownerID string) {
	boardID = strings.TrimSpace(boardID)
	ownerID = strings.TrimSpace(ownerID)

	if e.canSave() {
		// A debounced save left behind here would fire after the editor
		// has moved on and corrupt the next board; flush it fully,
		// verification included, before anything changes.
		if err := e.flushActive(); err != nil {
			e.logf("flush before switch: %v", err)
		}
	} else {
		e.stopDebounce()
	}

	// From this instant any stray save trigger hits the canSave guard.
	e.session.Active = DocumentID{}
	e.session.PendingSave = false
	e.session.Dirty = false

	resolvedOwner, readOnly := ResolveAccess(e.session.User, ownerID)
	e.session.ReadOnly = readOnly
	e.surface.SetReadOnly(readOnly)
	if resolvedOwner == "" {
		e.publish(StatusLoginRequired, "sign in to open a board")
		return
	}

	e.surface.ClearDocument()
	e.surface.ResetUndoHistory()

	e.publish(StatusLoading, "")
	target := DocumentID{OwnerID: resolvedOwner, BoardID: boardID}
	doc, raw, err := e.loadDocument(target)
	if err != nil {
		e.publishLoadFailure(target, err)
		return
	}
	e.populateSurface(doc)

	// The single assignment point that re-arms autosave.
	e.session.Active = target
	e.session.LastConfirmedHash = HashBytes(raw)
	if readOnly {
		e.publish(StatusReadOnly, "")
	} else {
		e.publish(StatusSaved, "")
	}
}

func (e *Engine) loadDocument(target DocumentID) (*board.Document, []byte, error) {
	var data []byte
	err := e.retrier.Do(e.ctx, func(ctx context.Context) error {
		var readErr error
		data, readErr = e.gateway.ReadFresh(ctx, target.Path())
		return readErr
	})
	if errors.Is(err, storage.ErrNotFound) {
		return e.createDefault(target)
	}
	if err != nil {
		return nil, nil, err
	}
	doc, err := board.Deserialize(data)
	if err != nil {
		return nil, nil, err
	}
	return doc, data, nil
}

// createDefault provisions an empty document for a board id that has no
// object yet - but only when the resolved owner is the current user. The
// engine never fabricates content on someone else's behalf.
func (e *Engine) createDefault(target DocumentID) (*board.Document, []byte, error) {
	user := e.session.User
	if user == nil || user.ID != target.OwnerID {
		return nil, nil, fmt.Errorf("%w: %s", storage.ErrNotFound, target.Path())
	}
	e.publish(StatusCreating, "")
	doc := board.NewDocument(board.DefaultTitle)
	data, err := board.Serialize(doc, time.Now())
	if err != nil {
		return nil, nil, err
	}
	err = e.retrier.Do(e.ctx, func(ctx context.Context) error {
		return e.gateway.CreateIfAbsent(ctx, target.Path(), data)
	})
	if errors.Is(err, storage.ErrExists) {
		// Raced another writer between the failed read and the create;
		// whatever they stored is the document now.
		stored, readErr := e.gateway.ReadFresh(e.ctx, target.Path())
		if readErr != nil {
			return nil, nil, readErr
		}
		storedDoc, decodeErr := board.Deserialize(stored)
		if decodeErr != nil {
			return nil, nil, decodeErr
		}
		return storedDoc, stored, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return doc, data, nil
}

func (e *Engine) publishLoadFailure(target DocumentID, err error) {
	switch {
	case errors.Is(err, storage.ErrForbidden):
		e.publish(StatusAccessDenied, "you do not have access to this board")
	case errors.Is(err, board.ErrMalformedDocument):
		e.logf("load %s: %v", target.Path(), err)
		e.publish(StatusLoadError, "stored board is damaged")
	case errors.Is(err, storage.ErrNotFound):
		e.publish(StatusLoadError, "board not found")
	default:
		e.logf("load %s: %v", target.Path(), err)
		e.publish(StatusLoadError, "could not load board")
	}
}

func (e *Engine) populateSurface(doc *board.Document) {
	e.surface.ApplyTitle(doc.Title)
	for _, el := range doc.Elements {
		e.surface.PopulateElement(el)
	}
	for _, conn := range doc.Connections {
		e.surface.PopulateConnection(conn)
	}
	e.surface.ApplyViewport(doc.Viewport)
}

func (e *Engine) handleSetUser(user *Identity) {
	e.session.User = user
	if e.session.Active.IsZero() {
		e.session.ReadOnly = user == nil
		if user == nil {
			e.publish(StatusLoginRequired, "")
		}
		return
	}
	_, readOnly := ResolveAccess(user, e.session.Active.OwnerID)
	if readOnly && !e.session.ReadOnly {
		// Write access just went away; whatever was queued must not land.
		e.stopDebounce()
		e.session.PendingSave = false
		e.session.Dirty = false
	}
	e.session.ReadOnly = readOnly
	e.surface.SetReadOnly(readOnly)
	switch {
	case user == nil:
		e.publish(StatusLoginRequired, "")
	case readOnly:
		e.publish(StatusReadOnly, "")
	}
}

func (e *Engine) publish(status Status, message string) {
	if e.status == nil {
		return
	}
	e.status(StatusUpdate{Status: status, Message: message})
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}
