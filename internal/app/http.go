package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cadence/api/internal/auth"
	"cadence/api/internal/authpw"
	"cadence/api/internal/authz"
	"cadence/api/internal/search"
	"cadence/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		s.handleAuthRefresh(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		s.handleAuthLogout(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"role":          session.Role,
		})
		return
	}

	// Everything below requires a session
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	principal := session.Principal()
	segments := splitPath(r.URL.Path)

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := search.Query{
			Text:            r.URL.Query().Get("q"),
			FilterType:      search.ResultType(r.URL.Query().Get("type")),
			FilterProjectID: r.URL.Query().Get("projectId"),
		}
		if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
			query.Limit = limit
		}
		if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
			query.Offset = offset
		}
		response, err := s.service.Search(r.Context(), principal, query)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	// /api/projects
	if len(segments) == 2 && segments[0] == "api" && segments[1] == "projects" {
		switch r.Method {
		case http.MethodGet:
			projects, err := s.service.ListProjects(r.Context(), principal)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "projects": projects})
			return
		case http.MethodPost:
			var input CreateProjectInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			project, err := s.service.CreateProject(r.Context(), principal, input)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"success": true, "project": project})
			return
		}
	}

	// /api/projects/{id}...
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "projects" {
		projectID := segments[2]
		rest := segments[3:]
		s.handleProject(w, r, session, projectID, rest)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, session Session, projectID string, rest []string) {
	ctx := r.Context()
	principal := session.Principal()

	// /api/projects/{id}
	if len(rest) == 0 {
		if r.Method == http.MethodGet {
			view, err := s.service.GetProjectView(ctx, principal, projectID)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "project": view.Project, "stages": view.Stages})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch rest[0] {
	case "status":
		if r.Method == http.MethodPut && len(rest) == 1 {
			var body struct {
				Status string `json:"status"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.UpdateProjectStatus(ctx, principal, projectID, body.Status); err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}

	case "members":
		s.handleMembers(w, r, principal, projectID, rest[1:])
		return

	case "audit":
		if r.Method == http.MethodGet && len(rest) == 1 {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			records, err := s.service.AuditTrail(ctx, principal, projectID, limit)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "records": records})
			return
		}

	case "export":
		if r.Method == http.MethodGet && len(rest) == 1 {
			includeComments := r.URL.Query().Get("comments") == "true"
			result, err := s.service.ExportReport(ctx, principal, projectID, includeComments)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			w.Header().Set("Content-Type", result.MimeType)
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(result.Data)
			return
		}

	case "request-materials":
		if r.Method == http.MethodPost && len(rest) == 1 {
			if err := s.service.RequestMaterials(ctx, principal, projectID); err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}

	case "comments":
		s.handleComments(w, r, principal, projectID, rest[1:])
		return

	case "stages":
		s.handleStages(w, r, principal, projectID, rest[1:])
		return

	case "components":
		s.handleComponents(w, r, principal, projectID, rest[1:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleMembers(w http.ResponseWriter, r *http.Request, principal authz.Principal, projectID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			members, err := s.service.ListMembers(ctx, principal, projectID)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "members": members})
			return
		case http.MethodPost:
			var input InviteMemberInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			member, err := s.service.InviteMember(ctx, principal, projectID, input)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"success": true, "member": member})
			return
		}
	}

	if len(rest) == 1 && rest[0] == "accept" && r.Method == http.MethodPost {
		if err := s.service.AcceptInvite(ctx, principal, projectID); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, principal authz.Principal, projectID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			comments, err := s.service.ProjectComments(ctx, principal, projectID)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "comments": comments})
			return
		case http.MethodPost:
			var input CreateCommentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.CreateComment(ctx, principal, projectID, input)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"success": true, "comment": comment})
			return
		}
	}

	if len(rest) == 1 {
		commentID := rest[0]
		switch r.Method {
		case http.MethodPut:
			var input UpdateCommentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.UpdateComment(ctx, principal, projectID, commentID, input)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "comment": comment})
			return
		case http.MethodDelete:
			if err := s.service.DeleteComment(ctx, principal, projectID, commentID); err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleStages(w http.ResponseWriter, r *http.Request, principal authz.Principal, projectID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			stages, err := s.service.ListStages(ctx, principal, projectID)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "stages": stages})
			return
		case http.MethodPost:
			var input CreateStageInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			stage, err := s.service.CreateStage(ctx, principal, projectID, input)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"success": true, "stage": stage})
			return
		}
	}

	if len(rest) == 1 && rest[0] == "reorder" && r.Method == http.MethodPut {
		var input ReorderStagesInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ReorderStages(ctx, principal, projectID, input.StageIDs); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	if len(rest) >= 1 {
		stageID := rest[0]
		tail := rest[1:]

		if len(tail) == 0 && r.Method == http.MethodDelete {
			if err := s.service.DeleteStage(ctx, principal, projectID, stageID); err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}

		if len(tail) == 1 {
			switch tail[0] {
			case "status":
				if r.Method == http.MethodPut {
					var body struct {
						Status string `json:"status"`
					}
					if err := decodeBody(r, &body); err != nil {
						writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
						return
					}
					stage, err := s.service.UpdateStageStatus(ctx, principal, projectID, stageID, body.Status)
					if err != nil {
						s.writeServiceError(w, err)
						return
					}
					writeJSON(w, http.StatusOK, map[string]any{"success": true, "stage": stage})
					return
				}
			case "complete":
				if r.Method == http.MethodPost {
					var input CompleteStageInput
					if err := decodeBody(r, &input); err != nil {
						writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
						return
					}
					completed, successor, err := s.service.CompleteStage(ctx, principal, projectID, stageID, input.CompletionNote)
					if err != nil {
						s.writeServiceError(w, err)
						return
					}
					payload := map[string]any{"success": true, "stage": completed}
					if successor != nil {
						payload["activatedStage"] = successor
					}
					writeJSON(w, http.StatusOK, payload)
					return
				}
			case "completion-note":
				if r.Method == http.MethodPut {
					var input CompleteStageInput
					if err := decodeBody(r, &input); err != nil {
						writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
						return
					}
					if err := s.service.UpdateStageCompletionNote(ctx, principal, projectID, stageID, input.CompletionNote); err != nil {
						s.writeServiceError(w, err)
						return
					}
					writeJSON(w, http.StatusOK, map[string]any{"success": true})
					return
				}
			case "request-approval":
				if r.Method == http.MethodPost {
					if err := s.service.RequestApproval(ctx, principal, projectID, stageID); err != nil {
						s.writeServiceError(w, err)
						return
					}
					writeJSON(w, http.StatusOK, map[string]any{"success": true})
					return
				}
			case "thread":
				if r.Method == http.MethodGet {
					comments, err := s.service.StageThread(ctx, principal, projectID, stageID)
					if err != nil {
						s.writeServiceError(w, err)
						return
					}
					writeJSON(w, http.StatusOK, map[string]any{"success": true, "comments": comments})
					return
				}
			case "components":
				switch r.Method {
				case http.MethodGet:
					components, err := s.service.ListComponents(ctx, principal, projectID, stageID)
					if err != nil {
						s.writeServiceError(w, err)
						return
					}
					writeJSON(w, http.StatusOK, map[string]any{"success": true, "components": components})
					return
				case http.MethodPost:
					var input AddComponentInput
					if err := decodeBody(r, &input); err != nil {
						writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
						return
					}
					input.StageID = stageID
					component, err := s.service.AddComponent(ctx, principal, projectID, input)
					if err != nil {
						s.writeServiceError(w, err)
						return
					}
					writeJSON(w, http.StatusCreated, map[string]any{"success": true, "component": component})
					return
				}
			}
		}

		if len(tail) == 2 && tail[0] == "components" && tail[1] == "reorder" && r.Method == http.MethodPut {
			var input ReorderComponentsInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.ReorderComponents(ctx, principal, projectID, stageID, input.ComponentIDs); err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleComponents(w http.ResponseWriter, r *http.Request, principal authz.Principal, projectID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	componentID := rest[0]
	tail := rest[1:]

	if len(tail) == 0 {
		switch r.Method {
		case http.MethodPut:
			var input UpdateComponentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			component, err := s.service.UpdateComponent(ctx, principal, projectID, componentID, input)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "component": component})
			return
		case http.MethodDelete:
			if err := s.service.DeleteComponent(ctx, principal, projectID, componentID); err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
	}

	if len(tail) == 1 {
		switch tail[0] {
		case "approve":
			if r.Method == http.MethodPost {
				component, err := s.service.ApproveComponent(ctx, principal, projectID, componentID)
				if err != nil {
					s.writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "component": component})
				return
			}
		case "submit-link":
			if r.Method == http.MethodPost {
				var input SubmitLinkInput
				if err := decodeBody(r, &input); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				component, err := s.service.SubmitLink(ctx, principal, projectID, componentID, input)
				if err != nil {
					s.writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "component": component})
				return
			}
		case "comments":
			if r.Method == http.MethodGet {
				comments, err := s.service.ComponentComments(ctx, principal, projectID, componentID)
				if err != nil {
					s.writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "comments": comments})
				return
			}
		case "attachments":
			switch r.Method {
			case http.MethodGet:
				attachments, err := s.service.ListComponentAttachments(ctx, principal, projectID, componentID)
				if err != nil {
					s.writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "attachments": attachments})
				return
			case http.MethodPost:
				var input RegisterAttachmentInput
				if err := decodeBody(r, &input); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				upload, err := s.service.RegisterAttachment(ctx, principal, projectID, componentID, input)
				if err != nil {
					s.writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusCreated, map[string]any{
					"success":    true,
					"attachment": upload.Attachment,
					"uploadUrl":  upload.UploadURL,
				})
				return
			}
		}
	}

	if len(tail) == 3 && tail[0] == "attachments" && tail[2] == "download" && r.Method == http.MethodGet {
		url, err := s.service.AttachmentDownloadURL(ctx, principal, projectID, componentID, tail[1])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "downloadUrl": url})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		Role:        body.Role,
	})
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
			return
		}
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	response := map[string]any{
		"success": true,
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	// Surface the token directly when no mailer is configured (dev setups)
	if !s.service.SMTPConfigured() {
		response["verificationToken"] = resp.VerificationToken
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
	})
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Verification token is invalid or expired", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "VERIFY_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "refreshToken is required", nil)
		return
	}

	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
	})
}

func (s *HTTPServer) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	_ = s.service.Logout(r.Context(), body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		// An absent body is the zero value, not a client error.
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrStageNotEmpty) || errors.Is(err, store.ErrOrderMismatch) {
		return http.StatusConflict, "CONSTRAINT_VIOLATION", err.Error(), nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
