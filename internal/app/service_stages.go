package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"cadence/api/internal/authz"
	"cadence/api/internal/store"
	"cadence/api/internal/util"
)

type CreateStageInput struct {
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	Owner              string     `json:"owner"`
	PlannedStart       *time.Time `json:"plannedStart"`
	PlannedEnd         *time.Time `json:"plannedEnd"`
	Deadline           *time.Time `json:"deadline"`
	InsertAfterStageID *string    `json:"insertAfterStageId"`
}

type ReorderStagesInput struct {
	StageIDs []string `json:"stageIds"`
}

type CompleteStageInput struct {
	CompletionNote string `json:"completionNote"`
}

// CreateStage inserts a stage immediately after the given sibling, or at
// the end of the project's pipeline when no sibling is named.
func (s *Service) CreateStage(ctx context.Context, p authz.Principal, projectID string, input CreateStageInput) (store.Stage, error) {
	if err := s.requireProvider(p); err != nil {
		return store.Stage{}, err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return store.Stage{}, err
	}

	fields := map[string]string{}
	if strings.TrimSpace(input.Title) == "" {
		fields["title"] = "title is required"
	}
	if _, ok := allowedStageTypes[input.Type]; !ok {
		fields["type"] = "unknown stage type"
	}
	if _, ok := allowedStageStatuses[input.Status]; !ok {
		fields["status"] = "unknown stage status"
	} else if input.Status == "done" {
		fields["status"] = "use the complete-stage operation to finish a stage"
	}
	if _, ok := allowedStageOwners[input.Owner]; !ok {
		fields["owner"] = "owner must be provider or client"
	}
	if len(fields) > 0 {
		return store.Stage{}, validationError(fields)
	}

	stage := store.Stage{
		ID:           util.NewID("stg"),
		ProjectID:    projectID,
		Title:        strings.TrimSpace(input.Title),
		Description:  input.Description,
		Type:         input.Type,
		Status:       input.Status,
		Owner:        input.Owner,
		PlannedStart: input.PlannedStart,
		PlannedEnd:   input.PlannedEnd,
		Deadline:     input.Deadline,
	}

	created, err := s.store.InsertStageAfter(ctx, stage, input.InsertAfterStageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Stage{}, validationError(map[string]string{"insertAfterStageId": "sibling stage not found in this project"})
		}
		return store.Stage{}, err
	}

	s.publish(p, projectID, "stage.created", map[string]any{"stage_id": created.ID, "title": created.Title})
	return created, nil
}

// DeleteStage removes an empty stage and compacts the remaining order.
func (s *Service) DeleteStage(ctx context.Context, p authz.Principal, projectID, stageID string) error {
	if err := s.requireProvider(p); err != nil {
		return err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return err
	}

	if err := s.store.DeleteStage(ctx, projectID, stageID); err != nil {
		switch {
		case errors.Is(err, store.ErrStageNotEmpty):
			return conflict("Remove the stage's components before deleting it")
		case errors.Is(err, store.ErrNotFound):
			return notFound("Stage")
		default:
			return err
		}
	}

	s.publish(p, projectID, "stage.deleted", map[string]any{"stage_id": stageID})
	return nil
}

// ReorderStages replaces the project's stage order with the supplied id
// list. The list must name every existing stage exactly once.
func (s *Service) ReorderStages(ctx context.Context, p authz.Principal, projectID string, stageIDs []string) error {
	if err := s.requireProvider(p); err != nil {
		return err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return err
	}
	if len(stageIDs) == 0 {
		return validationError(map[string]string{"stageIds": "ordered stage id list is required"})
	}

	if err := s.store.ReorderStages(ctx, projectID, stageIDs); err != nil {
		if errors.Is(err, store.ErrOrderMismatch) {
			return conflict("The supplied stage ids do not match this project's stages")
		}
		return err
	}

	s.publish(p, projectID, "stages.reordered", map[string]any{"count": len(stageIDs)})
	return nil
}

// UpdateStageStatus applies a direct status change. The done state is
// reserved for the completion protocol.
func (s *Service) UpdateStageStatus(ctx context.Context, p authz.Principal, projectID, stageID, status string) (store.Stage, error) {
	if err := s.requireProvider(p); err != nil {
		return store.Stage{}, err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return store.Stage{}, err
	}
	if _, ok := allowedStageStatuses[status]; !ok {
		return store.Stage{}, validationError(map[string]string{"status": "unknown stage status"})
	}
	if status == "done" {
		return store.Stage{}, validationError(map[string]string{"status": "use the complete-stage operation to finish a stage"})
	}

	stage, err := s.stageInProject(ctx, projectID, stageID)
	if err != nil {
		return store.Stage{}, err
	}

	if err := s.store.UpdateStageStatus(ctx, stageID, status); err != nil {
		return store.Stage{}, err
	}
	stage.Status = status

	s.publish(p, projectID, "stage.status_changed", map[string]any{"stage_id": stageID, "status": status})
	return stage, nil
}

// CompleteStage runs the completion protocol: mark done, stamp the
// completion time and note, and activate the successor stage in one
// call so no partial completion can be observed.
func (s *Service) CompleteStage(ctx context.Context, p authz.Principal, projectID, stageID, note string) (store.Stage, *store.Stage, error) {
	if err := s.requireProvider(p); err != nil {
		return store.Stage{}, nil, err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return store.Stage{}, nil, err
	}

	completed, successor, err := s.store.CompleteStage(ctx, projectID, stageID, note)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Stage{}, nil, notFound("Stage")
		}
		return store.Stage{}, nil, err
	}

	details := map[string]any{"stage_id": stageID}
	if successor != nil {
		details["activated_stage_id"] = successor.ID
	}
	s.publish(p, projectID, "stage.completed", details)
	s.notifyStageCompleted(ctx, projectID, completed)

	return completed, successor, nil
}

// UpdateStageCompletionNote rewrites the note on an already-done stage
// without re-running the completion protocol.
func (s *Service) UpdateStageCompletionNote(ctx context.Context, p authz.Principal, projectID, stageID, note string) error {
	if err := s.requireProvider(p); err != nil {
		return err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return err
	}
	if _, err := s.stageInProject(ctx, projectID, stageID); err != nil {
		return err
	}

	if err := s.store.UpdateStageCompletionNote(ctx, stageID, note); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return conflict("Completion notes can only be set on a completed stage")
		}
		return err
	}

	s.publish(p, projectID, "stage.completion_note_updated", map[string]any{"stage_id": stageID})
	return nil
}

// RequestMaterials broadcasts a materials-needed signal for the
// project's current stage. No stage state changes.
func (s *Service) RequestMaterials(ctx context.Context, p authz.Principal, projectID string) error {
	if err := s.requireProvider(p); err != nil {
		return err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return err
	}

	current, err := s.store.CurrentStage(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return conflict("This project has no open stage to request materials for")
		}
		return err
	}

	s.publish(p, projectID, "stage.materials_requested", map[string]any{"stage_id": current.ID})
	s.notifyMembers(ctx, projectID, func(project store.Project, emails []string) {
		if err := s.email.SendMaterialsRequestedEmail(emails, project.Title, current.Title, s.projectURL(projectID)); err != nil {
			log.Printf("app: materials request email: %v", err)
		}
	})
	return nil
}

// RequestApproval raises an approval request against a specific stage.
func (s *Service) RequestApproval(ctx context.Context, p authz.Principal, projectID, stageID string) error {
	if err := s.requireProvider(p); err != nil {
		return err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return err
	}
	stage, err := s.stageInProject(ctx, projectID, stageID)
	if err != nil {
		return err
	}

	s.publish(p, projectID, "stage.approval_requested", map[string]any{"stage_id": stageID})
	s.notifyMembers(ctx, projectID, func(project store.Project, emails []string) {
		if err := s.email.SendApprovalRequestedEmail(emails, project.Title, stage.Title, s.projectURL(projectID)); err != nil {
			log.Printf("app: approval request email: %v", err)
		}
	})
	return nil
}

// ListStages returns the project's stages in pipeline order.
func (s *Service) ListStages(ctx context.Context, p authz.Principal, projectID string) ([]store.Stage, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return nil, err
	}
	return s.store.ListStages(ctx, projectID)
}

func (s *Service) stageInProject(ctx context.Context, projectID, stageID string) (store.Stage, error) {
	stage, err := s.store.GetStage(ctx, stageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Stage{}, notFound("Stage")
		}
		return store.Stage{}, err
	}
	if stage.ProjectID != projectID {
		return store.Stage{}, notFound("Stage")
	}
	return stage, nil
}

func (s *Service) notifyStageCompleted(ctx context.Context, projectID string, stage store.Stage) {
	s.notifyMembers(ctx, projectID, func(project store.Project, emails []string) {
		if err := s.email.SendStageCompletedEmail(emails, project.Title, stage.Title, s.projectURL(projectID)); err != nil {
			log.Printf("app: stage completed email: %v", err)
		}
	})
}

// notifyMembers sends a best-effort email to accepted project members.
func (s *Service) notifyMembers(ctx context.Context, projectID string, send func(project store.Project, emails []string)) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return
	}
	members, err := s.store.ListProjectMembers(ctx, projectID)
	if err != nil {
		return
	}
	emails := make([]string, 0, len(members))
	for _, member := range members {
		if member.AcceptedAt != nil {
			emails = append(emails, member.Email)
		}
	}
	if len(emails) == 0 {
		return
	}
	send(project, emails)
}

func (s *Service) projectURL(projectID string) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/projects/" + projectID
}
