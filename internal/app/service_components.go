package app

import (
	"context"
	"errors"
	"log"
	"strings"

	"cadence/api/internal/authz"
	"cadence/api/internal/store"
	"cadence/api/internal/util"
)

type AddComponentInput struct {
	StageID       string         `json:"stageId"`
	ComponentType string         `json:"componentType"`
	Title         *string        `json:"title"`
	Config        map[string]any `json:"config"`
}

type UpdateComponentInput struct {
	Title       *string        `json:"title"`
	ClearTitle  bool           `json:"clearTitle"`
	ConfigPatch map[string]any `json:"config"`
	Status      *string        `json:"status"`
}

type ReorderComponentsInput struct {
	ComponentIDs []string `json:"componentIds"`
}

type SubmitLinkInput struct {
	URL string `json:"url"`
}

// mergeConfig overlays patch onto existing, key by key. Unrelated keys
// survive; patched keys are replaced wholesale.
func mergeConfig(existing, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(patch))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// AddComponent appends a component to the end of a stage's sequence.
func (s *Service) AddComponent(ctx context.Context, p authz.Principal, projectID string, input AddComponentInput) (store.StageComponent, error) {
	if err := s.requireProvider(p); err != nil {
		return store.StageComponent{}, err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return store.StageComponent{}, err
	}

	fields := map[string]string{}
	if input.StageID == "" {
		fields["stageId"] = "stage id is required"
	}
	if _, ok := allowedComponentTypes[input.ComponentType]; !ok {
		fields["componentType"] = "unknown component type"
	}
	if len(fields) > 0 {
		return store.StageComponent{}, validationError(fields)
	}

	if _, err := s.stageInProject(ctx, projectID, input.StageID); err != nil {
		return store.StageComponent{}, err
	}

	config := input.Config
	if config == nil {
		config = map[string]any{}
	}

	component := store.StageComponent{
		ID:            util.NewID("cmp"),
		StageID:       input.StageID,
		ComponentType: input.ComponentType,
		Title:         input.Title,
		Config:        config,
		Status:        "todo",
	}

	created, err := s.store.InsertComponent(ctx, component)
	if err != nil {
		return store.StageComponent{}, err
	}

	s.publish(p, projectID, "component.created", map[string]any{
		"component_id": created.ID,
		"stage_id":     created.StageID,
		"type":         created.ComponentType,
	})
	return created, nil
}

// UpdateComponent applies a partial update: title set or cleared, config
// merged key-by-key, status replaced.
func (s *Service) UpdateComponent(ctx context.Context, p authz.Principal, projectID, componentID string, input UpdateComponentInput) (store.StageComponent, error) {
	if err := s.requireProvider(p); err != nil {
		return store.StageComponent{}, err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return store.StageComponent{}, err
	}

	component, err := s.componentInProject(ctx, projectID, componentID)
	if err != nil {
		return store.StageComponent{}, err
	}

	if input.Status != nil {
		if _, ok := allowedStageStatuses[*input.Status]; !ok {
			return store.StageComponent{}, validationError(map[string]string{"status": "unknown component status"})
		}
		component.Status = *input.Status
	}
	if input.ClearTitle {
		component.Title = nil
	} else if input.Title != nil {
		component.Title = input.Title
	}
	if input.ConfigPatch != nil {
		component.Config = mergeConfig(component.Config, input.ConfigPatch)
	}

	if err := s.store.UpdateComponent(ctx, component); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.StageComponent{}, notFound("Component")
		}
		return store.StageComponent{}, err
	}

	s.publish(p, projectID, "component.updated", map[string]any{"component_id": componentID})
	return component, nil
}

// ApproveComponent flips an approval-type component to approved. Any
// other component type is rejected.
func (s *Service) ApproveComponent(ctx context.Context, p authz.Principal, projectID, componentID string) (store.StageComponent, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return store.StageComponent{}, err
	}

	component, err := s.componentInProject(ctx, projectID, componentID)
	if err != nil {
		return store.StageComponent{}, err
	}
	if component.ComponentType != "approval" {
		return store.StageComponent{}, validationError(map[string]string{
			"componentId": "this component is not of approval type",
		})
	}

	component.Status = "approved"
	if err := s.store.UpdateComponent(ctx, component); err != nil {
		return store.StageComponent{}, err
	}

	s.publish(p, projectID, "component.approved", map[string]any{"component_id": componentID})
	return component, nil
}

// SubmitLink appends a URL to an upload_request component's submitted
// list. This is the one component mutation clients may perform.
func (s *Service) SubmitLink(ctx context.Context, p authz.Principal, projectID, componentID string, input SubmitLinkInput) (store.StageComponent, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return store.StageComponent{}, err
	}
	url := strings.TrimSpace(input.URL)
	if url == "" {
		return store.StageComponent{}, validationError(map[string]string{"url": "url is required"})
	}

	component, err := s.componentInProject(ctx, projectID, componentID)
	if err != nil {
		return store.StageComponent{}, err
	}
	if component.ComponentType != "upload_request" {
		return store.StageComponent{}, validationError(map[string]string{
			"componentId": "links can only be submitted to a link request component",
		})
	}

	submitted, _ := component.Config["submitted_urls"].([]any)
	component.Config = mergeConfig(component.Config, map[string]any{
		"submitted_urls": append(submitted, url),
	})

	if err := s.store.UpdateComponent(ctx, component); err != nil {
		return store.StageComponent{}, err
	}

	s.publish(p, projectID, "component.link_submitted", map[string]any{"component_id": componentID})
	return component, nil
}

// DeleteComponent removes a component unconditionally and compacts the
// stage's order.
func (s *Service) DeleteComponent(ctx context.Context, p authz.Principal, projectID, componentID string) error {
	if err := s.requireProvider(p); err != nil {
		return err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return err
	}

	component, err := s.componentInProject(ctx, projectID, componentID)
	if err != nil {
		return err
	}

	// Attachment rows go with the component via FK cascade; capture them
	// first so the stored bytes can be removed too.
	var attachments []store.Attachment
	if s.files != nil {
		attachments, _ = s.store.ListAttachments(ctx, componentID)
	}

	if err := s.store.DeleteComponent(ctx, component.StageID, componentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Component")
		}
		return err
	}

	for _, att := range attachments {
		if err := s.files.RemoveObject(ctx, att); err != nil {
			log.Printf("app: remove attachment object %s: %v", att.ID, err)
		}
	}

	s.publish(p, projectID, "component.deleted", map[string]any{"component_id": componentID})
	return nil
}

// ReorderComponents replaces a stage's component order with the supplied
// id list. The list must name every component exactly once.
func (s *Service) ReorderComponents(ctx context.Context, p authz.Principal, projectID, stageID string, componentIDs []string) error {
	if err := s.requireProvider(p); err != nil {
		return err
	}
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return err
	}
	if len(componentIDs) == 0 {
		return validationError(map[string]string{"componentIds": "ordered component id list is required"})
	}
	if _, err := s.stageInProject(ctx, projectID, stageID); err != nil {
		return err
	}

	if err := s.store.ReorderComponents(ctx, stageID, componentIDs); err != nil {
		if errors.Is(err, store.ErrOrderMismatch) {
			return conflict("The supplied component ids do not match this stage's components")
		}
		return err
	}

	s.publish(p, projectID, "components.reordered", map[string]any{"stage_id": stageID, "count": len(componentIDs)})
	return nil
}

// ListComponents returns a stage's components in order.
func (s *Service) ListComponents(ctx context.Context, p authz.Principal, projectID, stageID string) ([]store.StageComponent, error) {
	if err := s.requireProjectAccess(ctx, p, projectID, authz.MemberViewer); err != nil {
		return nil, err
	}
	if _, err := s.stageInProject(ctx, projectID, stageID); err != nil {
		return nil, err
	}
	return s.store.ListComponents(ctx, stageID)
}

// componentInProject resolves a component and verifies it belongs to the
// stated project via its stage.
func (s *Service) componentInProject(ctx context.Context, projectID, componentID string) (store.StageComponent, error) {
	component, err := s.store.GetComponent(ctx, componentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.StageComponent{}, notFound("Component")
		}
		return store.StageComponent{}, err
	}
	stage, err := s.store.GetStage(ctx, component.StageID)
	if err != nil {
		return store.StageComponent{}, notFound("Component")
	}
	if stage.ProjectID != projectID {
		return store.StageComponent{}, notFound("Component")
	}
	return component, nil
}
