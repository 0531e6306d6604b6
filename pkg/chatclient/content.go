package chatclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/google/uuid"
)

// Content is a decrypted message body: either PlainText or *Envelope.
type Content interface {
	// Text is the human-readable part of the message.
	Text() string
	encode() ([]byte, error)
}

// PlainText is a bare text message. It is encoded as the raw UTF-8 bytes so
// older clients can read it.
type PlainText string

func (p PlainText) Text() string { return string(p) }

func (p PlainText) encode() ([]byte, error) { return []byte(p), nil }

// EntityRef links a message to another record, e.g. a ticket or a document.
type EntityRef struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Href  string `json:"href,omitempty"`
}

// Envelope is the structured form used when a message carries attachments or
// references.
type Envelope struct {
	Body          string      `json:"text,omitempty"`
	AttachmentIDs []uuid.UUID `json:"attachmentIds,omitempty"`
	Refs          []EntityRef `json:"refs,omitempty"`
}

func (e *Envelope) Text() string { return e.Body }

func (e *Envelope) encode() ([]byte, error) { return json.Marshal(e) }

// NewContent picks PlainText when there is nothing but text.
func NewContent(text string, attachmentIDs []uuid.UUID, refs []EntityRef) Content {
	if len(attachmentIDs) == 0 && len(refs) == 0 {
		return PlainText(text)
	}
	return &Envelope{Body: text, AttachmentIDs: attachmentIDs, Refs: refs}
}

// ParseContent decodes a decrypted payload. Anything that is not exactly an
// envelope object is returned as PlainText.
func ParseContent(payload []byte) Content {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return PlainText(payload)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return PlainText(payload)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return PlainText(payload)
	}
	if env.Body == "" && len(env.AttachmentIDs) == 0 && len(env.Refs) == 0 {
		return PlainText(payload)
	}
	return &env
}

// AttachmentIDs returns the attachment ids carried by c, if any.
func AttachmentIDs(c Content) []uuid.UUID {
	if env, ok := c.(*Envelope); ok {
		return env.AttachmentIDs
	}
	return nil
}
