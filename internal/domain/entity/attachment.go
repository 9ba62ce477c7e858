package entity

import "io"

// AttachmentDraft is a locally-selected file not yet uploaded or committed to
// a message. It exists only between selection and either a successful
// upload+send or explicit removal; it is never persisted.
type AttachmentDraft struct {
	Data      io.Reader
	Kind      MessageKind
	Name      string
	SizeBytes int64
	MimeType  string
}

// Attachment is the durable result of uploading a draft.
type Attachment struct {
	URL      string      `json:"url"`
	Name     string      `json:"name"`
	Kind     MessageKind `json:"kind"`
	MimeType string      `json:"mime_type,omitempty"`
}
