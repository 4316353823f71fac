package export

import (
	"context"
	"fmt"
	"time"

	"cadence/api/internal/store"
)

// DataStore defines the data access the report needs
type DataStore interface {
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListStages(ctx context.Context, projectID string) ([]store.Stage, error)
	ListComponents(ctx context.Context, stageID string) ([]store.StageComponent, error)
	ListProjectComments(ctx context.Context, projectID string) ([]store.Comment, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

// Service renders project delivery reports
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates a PDF delivery report for a project
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	stages, err := s.store.ListStages(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}

	data := TemplateData{
		ProjectTitle: project.Title,
		Description:  project.Description,
		Status:       project.Status,
		GeneratedAt:  time.Now(),
	}

	for _, stage := range stages {
		report := StageReport{
			Title:          stage.Title,
			Status:         stage.Status,
			Owner:          stage.Owner,
			Position:       stage.Position,
			CompletionNote: stage.CompletionNote,
			CompletedAt:    stage.CompletionAt,
		}

		components, err := s.store.ListComponents(ctx, stage.ID)
		if err != nil {
			return nil, fmt.Errorf("list components: %w", err)
		}
		for _, component := range components {
			report.Components = append(report.Components, ComponentReport{
				Label:  component.Label(),
				Type:   component.ComponentType,
				Status: component.Status,
			})
		}

		data.Stages = append(data.Stages, report)
	}

	// The discussion appendix stays provider-side; client exports get the
	// board only.
	if req.IncludeComments && !req.ViewerIsClient {
		comments, err := s.store.ListProjectComments(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		for _, comment := range comments {
			data.Comments = append(data.Comments, CommentReport{
				Author:    s.authorName(ctx, comment),
				Body:      comment.Body,
				CreatedAt: comment.CreatedAt,
			})
		}
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return renderPDF(html, project.Title)
}

func (s *Service) authorName(ctx context.Context, comment store.Comment) string {
	if user, err := s.store.GetUserByID(ctx, comment.CreatedBy); err == nil && user.DisplayName != "" {
		return user.DisplayName
	}
	if comment.AuthorType == "client" {
		return "Client"
	}
	return "Provider"
}
