// Package board defines the persisted board document and the codec that
// moves it between the live editing surface and its stored JSON form.
package board

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion identifies the current on-disk document shape.
const SchemaVersion = 2

// DefaultTitle stands in when a board was saved without a usable title.
const DefaultTitle = "Untitled board"

type ElementKind string

const (
	KindVerse       ElementKind = "verse"
	KindNote        ElementKind = "note"
	KindInterlinear ElementKind = "interlinear"
	KindSong        ElementKind = "song"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is stored as a scale-independent world-space center so the saved
// position survives layout and zoom changes between save and load.
type Viewport struct {
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
	Scale   float64 `json:"scale"`
}

// Element is a tagged union: Kind selects which payload pointer is set.
// Key is the only identity that survives a save/load round trip; it is
// assigned once and never reused.
type Element struct {
	Key        string      `json:"key"`
	Kind       ElementKind `json:"kind"`
	Position   Position    `json:"position"`
	StackOrder int         `json:"stackOrder"`

	Verse       *VersePayload       `json:"verse,omitempty"`
	Note        *NotePayload        `json:"note,omitempty"`
	Interlinear *InterlinearPayload `json:"interlinear,omitempty"`
	Song        *SongPayload        `json:"song,omitempty"`
}

type VersePayload struct {
	Reference string `json:"reference"`
	Text      string `json:"text"`
}

type NotePayload struct {
	// Text holds the note's rich-text markup.
	Text string `json:"text"`
}

type InterlinearPayload struct {
	Reference  string `json:"reference"`
	Surface    string `json:"surface"`
	Lemma      string `json:"lemma"`
	Morphology string `json:"morphology"`
	Gloss      string `json:"gloss"`
}

type SongPayload struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	CoverURL string `json:"coverUrl,omitempty"`
}

// Connection links two elements by their stable keys.
type Connection struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Color string `json:"color,omitempty"`
}

type Document struct {
	SchemaVersion int          `json:"schemaVersion"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	Title         string       `json:"title"`
	Viewport      Viewport     `json:"viewport"`
	Elements      []Element    `json:"elements"`
	Connections   []Connection `json:"connections"`
}

// NewDocument returns an empty document ready for a fresh board.
func NewDocument(title string) *Document {
	if title == "" {
		title = DefaultTitle
	}
	return &Document{
		SchemaVersion: SchemaVersion,
		Title:         title,
		Viewport:      Viewport{Scale: 1},
		Elements:      []Element{},
		Connections:   []Connection{},
	}
}

// NewElementKey mints a stable key for a newly created element.
func NewElementKey() string {
	return "el_" + uuid.NewString()
}

// ObjectPath is the single place board object paths come from; the engine
// never guesses or lists its way to a document it already knows the id of.
func ObjectPath(ownerID, boardID string) string {
	return ownerID + "/boards/" + boardID + ".json"
}

// LegacyObjectPath is the fixed location used before multi-board support,
// when each owner had exactly one document.
func LegacyObjectPath(ownerID string) string {
	return ownerID + "/board.json"
}

// PruneConnections drops connections whose endpoints no longer exist.
// Dangling references are expected after element deletion and are never an
// error.
func (d *Document) PruneConnections() {
	keys := make(map[string]struct{}, len(d.Elements))
	for _, el := range d.Elements {
		keys[el.Key] = struct{}{}
	}
	kept := d.Connections[:0]
	for _, conn := range d.Connections {
		if _, ok := keys[conn.From]; !ok {
			continue
		}
		if _, ok := keys[conn.To]; !ok {
			continue
		}
		kept = append(kept, conn)
	}
	d.Connections = kept
}
