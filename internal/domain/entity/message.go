package entity

import (
	"fmt"
	"time"
)

// MessageKind is the closed set of message payload variants. Incoming
// documents are validated against it at the ingestion boundary instead of
// trusting ambient shape.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindDocument MessageKind = "document"
)

func ParseMessageKind(s string) (MessageKind, error) {
	switch MessageKind(s) {
	case KindText, KindImage, KindDocument:
		return MessageKind(s), nil
	}
	return "", fmt.Errorf("unknown message kind %q", s)
}

// Message is immutable once created, except for the Read flag which the
// receiving client flips. CreatedAt is assigned at the write boundary and is
// the authoritative ordering key.
type Message struct {
	ID             string      `json:"id" firestore:"id"`
	SessionID      string      `json:"session_id" firestore:"sessionId"`
	SenderID       string      `json:"sender_id" firestore:"senderId"`
	Kind           MessageKind `json:"kind" firestore:"kind"`
	Text           string      `json:"text,omitempty" firestore:"text,omitempty"`
	AttachmentURL  string      `json:"attachment_url,omitempty" firestore:"attachmentUrl,omitempty"`
	AttachmentName string      `json:"attachment_name,omitempty" firestore:"attachmentName,omitempty"`
	MimeType       string      `json:"mime_type,omitempty" firestore:"mimeType,omitempty"`
	Read           bool        `json:"read" firestore:"read"`
	CreatedAt      time.Time   `json:"created_at" firestore:"createdAt"`
}

// Preview returns the text shown in session list previews.
func (m *Message) Preview() string {
	switch m.Kind {
	case KindImage:
		return "Sent an image"
	case KindDocument:
		return "Sent a document"
	}
	return m.Text
}

// Before orders messages by (timestamp, id). The id tie-break keeps sorting
// stable when two messages land on the same timestamp.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
