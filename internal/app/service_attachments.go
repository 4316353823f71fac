package app

import (
	"context"

	"cadence/api/internal/authz"
	"cadence/api/internal/files"
	"cadence/api/internal/store"
)

type RegisterAttachmentInput struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// RegisterAttachment records attachment metadata against a component and
// returns a presigned upload URL.
func (s *Service) RegisterAttachment(ctx context.Context, p authz.Principal, projectID, componentID string, input RegisterAttachmentInput) (*files.Upload, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return nil, err
	}
	if s.files == nil {
		return nil, domainError(503, "STORAGE_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if input.FileName == "" {
		return nil, validationError(map[string]string{"fileName": "file name is required"})
	}
	if _, err := s.componentInProject(ctx, projectID, componentID); err != nil {
		return nil, err
	}

	upload, err := s.files.RegisterAttachment(ctx, componentID, input.FileName, input.ContentType, input.SizeBytes, p.ID)
	if err != nil {
		return nil, err
	}

	s.publish(p, projectID, "attachment.registered", map[string]any{
		"component_id":  componentID,
		"attachment_id": upload.Attachment.ID,
	})
	return upload, nil
}

// ListComponentAttachments returns a component's attachment metadata.
func (s *Service) ListComponentAttachments(ctx context.Context, p authz.Principal, projectID, componentID string) ([]store.Attachment, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return nil, err
	}
	if _, err := s.componentInProject(ctx, projectID, componentID); err != nil {
		return nil, err
	}
	return s.store.ListAttachments(ctx, componentID)
}

// AttachmentDownloadURL returns a presigned download URL for one
// attachment on a component.
func (s *Service) AttachmentDownloadURL(ctx context.Context, p authz.Principal, projectID, componentID, attachmentID string) (string, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return "", err
	}
	if s.files == nil {
		return "", domainError(503, "STORAGE_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if _, err := s.componentInProject(ctx, projectID, componentID); err != nil {
		return "", err
	}

	attachments, err := s.store.ListAttachments(ctx, componentID)
	if err != nil {
		return "", err
	}
	for _, att := range attachments {
		if att.ID == attachmentID {
			return s.files.DownloadURL(ctx, att)
		}
	}
	return "", notFound("Attachment")
}
