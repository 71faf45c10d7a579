package board

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrMalformedDocument marks stored content that cannot be decoded into a
// document. Loaders surface it as a load error and must not partially apply
// anything.
var ErrMalformedDocument = errors.New("malformed board document")

type MalformedDocumentError struct {
	Cause error
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed board document: %v", e.Cause)
}

func (e *MalformedDocumentError) Is(target error) bool {
	return target == ErrMalformedDocument
}

func (e *MalformedDocumentError) Unwrap() error {
	return e.Cause
}

// Serialize renders the document snapshot to its stored form, stamping
// UpdatedAt from now. It is pure over its inputs; the caller owns taking a
// consistent snapshot of the live surface first. Output is pretty-printed
// so stored boards diff cleanly.
func Serialize(d *Document, now time.Time) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("document is required")
	}
	out := *d
	out.SchemaVersion = SchemaVersion
	out.UpdatedAt = now.UTC()
	if out.Title == "" {
		out.Title = DefaultTitle
	}
	if out.Viewport.Scale <= 0 {
		out.Viewport.Scale = 1
	}
	if out.Elements == nil {
		out.Elements = []Element{}
	}
	if out.Connections == nil {
		out.Connections = []Connection{}
	}
	out.Elements = append([]Element(nil), out.Elements...)
	out.Connections = append([]Connection(nil), out.Connections...)
	out.PruneConnections()
	return json.MarshalIndent(&out, "", "  ")
}

// Deserialize parses stored bytes into a document. Structurally invalid
// content fails as ErrMalformedDocument before anything is built, so a
// caller can safely have cleared its live state already. Connections whose
// endpoints are gone are silently dropped.
func Deserialize(data []byte) (*Document, error) {
	schema, err := compiledDocumentSchema()
	if err != nil {
		return nil, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, &MalformedDocumentError{Cause: err}
	}
	if err := schema.Validate(instance); err != nil {
		return nil, &MalformedDocumentError{Cause: err}
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &MalformedDocumentError{Cause: err}
	}
	if doc.Title == "" {
		doc.Title = DefaultTitle
	}
	if doc.Viewport.Scale <= 0 {
		doc.Viewport.Scale = 1
	}
	if doc.Elements == nil {
		doc.Elements = []Element{}
	}
	if doc.Connections == nil {
		doc.Connections = []Connection{}
	}
	doc.PruneConnections()
	return &doc, nil
}
