package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"cadence/api/internal/authz"
	"cadence/api/internal/export"
	"cadence/api/internal/search"
	"cadence/api/internal/store"
	"cadence/api/internal/util"
)

type CreateProjectInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ClientEmail string     `json:"clientEmail"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
	Deadline    *time.Time `json:"deadline"`
}

type InviteMemberInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ComponentView is a component with its resolved display label.
type ComponentView struct {
	store.StageComponent
	Label string `json:"label"`
}

// StageView is a stage with its ordered components.
type StageView struct {
	store.Stage
	Components []ComponentView `json:"components"`
}

// ProjectView is the full board a caller renders: the project plus its
// ordered stages and their components.
type ProjectView struct {
	Project store.Project `json:"project"`
	Stages  []StageView   `json:"stages"`
}

// CreateProject creates a project owned by the acting provider.
func (s *Service) CreateProject(ctx context.Context, p authz.Principal, input CreateProjectInput) (store.Project, error) {
	if err := s.requireProvider(p); err != nil {
		return store.Project{}, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.Project{}, validationError(map[string]string{"title": "title is required"})
	}

	project := store.Project{
		ID:          util.NewID("prj"),
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Status:      "planned",
		ClientEmail: strings.ToLower(strings.TrimSpace(input.ClientEmail)),
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		Deadline:    input.Deadline,
		CreatedBy:   p.ID,
	}

	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, err
	}

	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:          project.ID,
			Title:       project.Title,
			Description: project.Description,
			Status:      project.Status,
		})
	}
	s.publish(p, project.ID, "project.created", map[string]any{"title": project.Title})
	return project, nil
}

// ListProjects returns every project for providers, and only granted
// projects for clients.
func (s *Service) ListProjects(ctx context.Context, p authz.Principal) ([]store.Project, error) {
	if p.IsProvider() {
		return s.store.ListProjects(ctx)
	}
	return s.store.ListProjectsForEmail(ctx, strings.ToLower(p.Email))
}

// GetProjectView assembles the full board: project, stages in pipeline
// order, components in sort order with resolved labels.
func (s *Service) GetProjectView(ctx context.Context, p authz.Principal, projectID string) (ProjectView, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return ProjectView{}, err
	}

	if s.views != nil {
		if data, ok := s.views.GetProjectView(ctx, projectID); ok {
			var cached ProjectView
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, notFound("Project")
	}
	stages, err := s.store.ListStages(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}

	view := ProjectView{Project: project, Stages: make([]StageView, 0, len(stages))}
	for _, stage := range stages {
		components, err := s.store.ListComponents(ctx, stage.ID)
		if err != nil {
			return ProjectView{}, err
		}
		stageView := StageView{Stage: stage, Components: make([]ComponentView, 0, len(components))}
		for _, component := range components {
			stageView.Components = append(stageView.Components, ComponentView{
				StageComponent: component,
				Label:          component.Label(),
			})
		}
		view.Stages = append(view.Stages, stageView)
	}

	if s.views != nil {
		if data, err := json.Marshal(view); err == nil {
			s.views.SetProjectView(ctx, projectID, data)
		}
	}
	return view, nil
}

// UpdateProjectStatus moves a project between lifecycle states.
func (s *Service) UpdateProjectStatus(ctx context.Context, p authz.Principal, projectID, status string) error {
	if err := s.requireProvider(p); err != nil {
		return err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return err
	}

	if err := s.store.UpdateProjectStatus(ctx, projectID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Project")
		}
		return err
	}

	s.publish(p, projectID, "project.status_changed", map[string]any{"status": status})
	return nil
}

// InviteMember grants a client email access to the project and sends the
// invitation email when SMTP is configured.
func (s *Service) InviteMember(ctx context.Context, p authz.Principal, projectID string, input InviteMemberInput) (store.ProjectMember, error) {
	if err := s.requireProvider(p); err != nil {
		return store.ProjectMember{}, err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return store.ProjectMember{}, err
	}

	emailAddr := strings.ToLower(strings.TrimSpace(input.Email))
	if emailAddr == "" || !strings.Contains(emailAddr, "@") {
		return store.ProjectMember{}, validationError(map[string]string{"email": "a valid email is required"})
	}
	role := authz.NormalizeMemberRole(input.Role)

	member := store.ProjectMember{
		ID:        util.NewID("mbr"),
		ProjectID: projectID,
		Email:     emailAddr,
		Role:      string(role),
		InvitedBy: p.ID,
	}
	if err := s.store.UpsertProjectMember(ctx, member); err != nil {
		return store.ProjectMember{}, err
	}

	if s.email != nil && s.email.IsConfigured() {
		if project, err := s.store.GetProject(ctx, projectID); err == nil {
			if err := s.email.SendProjectInviteEmail(emailAddr, project.Title, string(role), s.projectURL(projectID)); err != nil {
				log.Printf("app: invite email: %v", err)
			}
		}
	}

	s.publish(p, projectID, "member.invited", map[string]any{"email": emailAddr, "role": string(role)})
	return member, nil
}

// AcceptInvite marks the acting client's membership as accepted.
func (s *Service) AcceptInvite(ctx context.Context, p authz.Principal, projectID string) error {
	emailAddr := strings.ToLower(p.Email)
	if _, err := s.store.GetProjectMember(ctx, projectID, emailAddr); err != nil {
		return forbidden()
	}
	if err := s.store.AcceptProjectMember(ctx, projectID, emailAddr); err != nil {
		return err
	}
	s.publish(p, projectID, "member.accepted", map[string]any{"email": emailAddr})
	return nil
}

// ListMembers returns the project's client access grants.
func (s *Service) ListMembers(ctx context.Context, p authz.Principal, projectID string) ([]store.ProjectMember, error) {
	if err := s.requireProvider(p); err != nil {
		return nil, err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return nil, err
	}
	return s.store.ListProjectMembers(ctx, projectID)
}

// AuditTrail returns recent audit records for a project, provider-only.
func (s *Service) AuditTrail(ctx context.Context, p authz.Principal, projectID string, limit int) ([]store.AuditRecord, error) {
	if err := s.requireProvider(p); err != nil {
		return nil, err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListAuditRecords(ctx, projectID, limit)
}

// Search runs full-text search scoped to the caller's project access.
func (s *Service) Search(ctx context.Context, p authz.Principal, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if !p.IsProvider() {
		projects, err := s.store.ListProjectsForEmail(ctx, strings.ToLower(p.Email))
		if err != nil {
			return search.Response{}, err
		}
		allowed := make([]string, 0, len(projects))
		for _, project := range projects {
			allowed = append(allowed, project.ID)
		}
		if len(allowed) == 0 {
			return search.Response{Results: []search.Result{}, Query: q.Text}, nil
		}
		q.AllowedProjects = allowed
	}
	return s.search.Search(q), nil
}

// ExportReport renders the project's delivery report as a PDF.
func (s *Service) ExportReport(ctx context.Context, p authz.Principal, projectID string, includeComments bool) (*export.Result, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return nil, err
	}
	if s.export == nil {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}
	return s.export.Export(ctx, export.Request{
		ProjectID:       projectID,
		IncludeComments: includeComments,
		ViewerIsClient:  !p.IsProvider(),
	})
}
