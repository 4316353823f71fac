package app

import (
	"context"
	"errors"
	"strings"

	"cadence/api/internal/authz"
	"cadence/api/internal/search"
	"cadence/api/internal/store"
	"cadence/api/internal/util"
)

type CreateCommentInput struct {
	Body        string  `json:"body"`
	StageID     *string `json:"stageId"`
	ComponentID *string `json:"componentId"`
}

type UpdateCommentInput struct {
	Body string `json:"body"`
}

// CreateComment posts a comment at project, stage, or component scope.
// A comment belongs to exactly one scope.
func (s *Service) CreateComment(ctx context.Context, p authz.Principal, projectID string, input CreateCommentInput) (store.Comment, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return store.Comment{}, err
	}

	body := strings.TrimSpace(input.Body)
	if body == "" {
		return store.Comment{}, validationError(map[string]string{"body": "comment body is required"})
	}
	if input.StageID != nil && input.ComponentID != nil {
		return store.Comment{}, validationError(map[string]string{
			"stageId": "a comment is scoped to a stage or a component, not both",
		})
	}

	if input.StageID != nil {
		if _, err := s.stageInProject(ctx, projectID, *input.StageID); err != nil {
			return store.Comment{}, err
		}
	}
	if input.ComponentID != nil {
		if _, err := s.componentInProject(ctx, projectID, *input.ComponentID); err != nil {
			return store.Comment{}, err
		}
	}

	comment := store.Comment{
		ID:          util.NewID("cmt"),
		ProjectID:   projectID,
		StageID:     input.StageID,
		ComponentID: input.ComponentID,
		AuthorType:  string(p.Role),
		Body:        body,
		CreatedBy:   p.ID,
	}

	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}

	s.indexComment(comment)
	s.publish(p, projectID, "comment.created", map[string]any{"comment_id": comment.ID})
	return comment, nil
}

// UpdateComment rewrites a comment's body. The author may always; a
// provider may moderate any client comment.
func (s *Service) UpdateComment(ctx context.Context, p authz.Principal, projectID, commentID string, input UpdateCommentInput) (store.Comment, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return store.Comment{}, err
	}

	body := strings.TrimSpace(input.Body)
	if body == "" {
		return store.Comment{}, validationError(map[string]string{"body": "comment body is required"})
	}

	comment, err := s.store.GetComment(ctx, projectID, commentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Comment{}, notFound("Comment")
		}
		return store.Comment{}, err
	}
	if !authz.CanModifyComment(p, authz.NormalizeActorRole(comment.AuthorType), comment.CreatedBy) {
		return store.Comment{}, forbidden()
	}

	if err := s.store.UpdateCommentBody(ctx, commentID, body); err != nil {
		return store.Comment{}, err
	}
	comment.Body = body

	s.indexComment(comment)
	s.publish(p, projectID, "comment.updated", map[string]any{"comment_id": commentID})
	return comment, nil
}

// DeleteComment hard-deletes a comment under the same rule as editing.
func (s *Service) DeleteComment(ctx context.Context, p authz.Principal, projectID, commentID string) error {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return err
	}

	comment, err := s.store.GetComment(ctx, projectID, commentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Comment")
		}
		return err
	}
	if !authz.CanModifyComment(p, authz.NormalizeActorRole(comment.AuthorType), comment.CreatedBy) {
		return forbidden()
	}

	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return err
	}

	if s.search != nil {
		s.search.DeleteComment(commentID)
	}
	s.publish(p, projectID, "comment.deleted", map[string]any{"comment_id": commentID})
	return nil
}

// StageThread returns a stage's comments plus the comments on its
// components, oldest first.
func (s *Service) StageThread(ctx context.Context, p authz.Principal, projectID, stageID string) ([]store.Comment, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return nil, err
	}
	if _, err := s.stageInProject(ctx, projectID, stageID); err != nil {
		return nil, err
	}
	return s.store.ListStageThread(ctx, stageID)
}

// ProjectComments returns the project-scoped discussion.
func (s *Service) ProjectComments(ctx context.Context, p authz.Principal, projectID string) ([]store.Comment, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return nil, err
	}
	return s.store.ListProjectComments(ctx, projectID)
}

// ComponentComments returns the comments on one component.
func (s *Service) ComponentComments(ctx context.Context, p authz.Principal, projectID, componentID string) ([]store.Comment, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return nil, err
	}
	if _, err := s.componentInProject(ctx, projectID, componentID); err != nil {
		return nil, err
	}
	return s.store.ListComponentComments(ctx, componentID)
}

func (s *Service) indexComment(comment store.Comment) {
	if s.search == nil {
		return
	}
	s.search.IndexComment(search.CommentRecord{
		ID:         comment.ID,
		Body:       comment.Body,
		ProjectID:  comment.ProjectID,
		AuthorType: comment.AuthorType,
	})
}
