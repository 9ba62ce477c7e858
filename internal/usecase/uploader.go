package usecase

import (
	"context"
	"fmt"

	"builderhub/internal/domain/entity"
	"builderhub/internal/domain/service"
	"builderhub/pkg/errors"
)

// MaxDocumentBytes is the client-side ceiling for document attachments.
// Images are unrestricted client-side.
const MaxDocumentBytes = 5 * 1024 * 1024

var allowedDocumentMimeTypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"text/plain": {},
}

// AttachmentUploader moves a draft blob to durable storage before the message
// referencing it is committed.
type AttachmentUploader struct {
	files    service.FileUploadService
	maxBytes int64
}

func NewAttachmentUploader(files service.FileUploadService) *AttachmentUploader {
	return &AttachmentUploader{
		files:    files,
		maxBytes: MaxDocumentBytes,
	}
}

// WithMaxBytes overrides the document size ceiling.
func (u *AttachmentUploader) WithMaxBytes(maxBytes int64) *AttachmentUploader {
	if maxBytes > 0 {
		u.maxBytes = maxBytes
	}
	return u
}

// Validate rejects oversized or disallowed drafts before any network call.
func (u *AttachmentUploader) Validate(draft *entity.AttachmentDraft) error {
	if draft == nil {
		return errors.Validation("No attachment selected", nil)
	}

	switch draft.Kind {
	case entity.KindImage:
		return nil
	case entity.KindDocument:
		if draft.SizeBytes > u.maxBytes {
			return errors.Validation(fmt.Sprintf("Document exceeds the %d MB limit", u.maxBytes/(1024*1024)), nil)
		}
		if _, ok := allowedDocumentMimeTypes[draft.MimeType]; !ok {
			return errors.Validation(fmt.Sprintf("Document type %q is not allowed", draft.MimeType), nil)
		}
		return nil
	}
	return errors.Validation(fmt.Sprintf("Attachment kind %q cannot be uploaded", draft.Kind), nil)
}

// Upload validates the draft and writes it under a path namespaced by session
// and message id, returning the durable reference.
func (u *AttachmentUploader) Upload(ctx context.Context, sessionID, messageID string, draft *entity.AttachmentDraft) (*entity.Attachment, error) {
	if err := u.Validate(draft); err != nil {
		return nil, err
	}

	folder := fmt.Sprintf("chats/%s/%s", sessionID, messageID)
	url, err := u.files.UploadFile(ctx, draft.Data, draft.MimeType, folder, true)
	if err != nil {
		return nil, errors.Upload("Failed to upload attachment", err)
	}

	return &entity.Attachment{
		URL:      url,
		Name:     draft.Name,
		Kind:     draft.Kind,
		MimeType: draft.MimeType,
	}, nil
}
