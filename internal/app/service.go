// Package app holds the application core: project delivery workflow,
// access control, and the HTTP surface.
package app

import (
	"context"
	"log"
	"strings"
	"time"

	"cadence/api/internal/auth"
	"cadence/api/internal/authpw"
	"cadence/api/internal/authz"
	"cadence/api/internal/config"
	"cadence/api/internal/email"
	"cadence/api/internal/events"
	"cadence/api/internal/export"
	"cadence/api/internal/files"
	"cadence/api/internal/search"
	"cadence/api/internal/store"
	"cadence/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// Principal converts the session into the shape the authz layer consumes.
func (s Session) Principal() authz.Principal {
	return authz.Principal{
		ID:    s.UserID,
		Name:  s.UserName,
		Email: s.Email,
		Role:  authz.NormalizeActorRole(s.Role),
	}
}

var allowedStageStatuses = map[string]struct{}{
	"todo":           {},
	"waiting_client": {},
	"in_review":      {},
	"approved":       {},
	"blocked":        {},
	"done":           {},
}

var allowedStageTypes = map[string]struct{}{
	"intake":      {},
	"materials":   {},
	"design":      {},
	"development": {},
	"review":      {},
	"handoff":     {},
	"custom":      {},
}

var allowedComponentTypes = map[string]struct{}{
	"upload_request": {},
	"checklist":      {},
	"prototype":      {},
	"approval":       {},
	"text_block":     {},
	"form":           {},
	"link":           {},
	"milestone":      {},
	"tasklist":       {},
}

var allowedStageOwners = map[string]struct{}{
	"provider": {},
	"client":   {},
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)

	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	ListProjects(context.Context) ([]store.Project, error)
	ListProjectsForEmail(context.Context, string) ([]store.Project, error)
	UpdateProjectStatus(context.Context, string, string) error

	GetProjectMember(context.Context, string, string) (store.ProjectMember, error)
	ListProjectMembers(context.Context, string) ([]store.ProjectMember, error)
	UpsertProjectMember(context.Context, store.ProjectMember) error
	AcceptProjectMember(context.Context, string, string) error

	ListStages(context.Context, string) ([]store.Stage, error)
	GetStage(context.Context, string) (store.Stage, error)
	InsertStageAfter(context.Context, store.Stage, *string) (store.Stage, error)
	DeleteStage(context.Context, string, string) error
	ReorderStages(context.Context, string, []string) error
	UpdateStageStatus(context.Context, string, string) error
	CompleteStage(context.Context, string, string, string) (store.Stage, *store.Stage, error)
	UpdateStageCompletionNote(context.Context, string, string) error
	CurrentStage(context.Context, string) (store.Stage, error)

	ListComponents(context.Context, string) ([]store.StageComponent, error)
	GetComponent(context.Context, string) (store.StageComponent, error)
	InsertComponent(context.Context, store.StageComponent) (store.StageComponent, error)
	UpdateComponent(context.Context, store.StageComponent) error
	DeleteComponent(context.Context, string, string) error
	ReorderComponents(context.Context, string, []string) error

	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string, string) (store.Comment, error)
	UpdateCommentBody(context.Context, string, string) error
	DeleteComment(context.Context, string) error
	ListProjectComments(context.Context, string) ([]store.Comment, error)
	ListStageThread(context.Context, string) ([]store.Comment, error)
	ListComponentComments(context.Context, string) ([]store.Comment, error)

	ListAttachments(context.Context, string) ([]store.Attachment, error)
	ListAuditRecords(context.Context, string, int) ([]store.AuditRecord, error)

	Ping(ctx context.Context) error
}

type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// ViewCache holds rendered project views between mutations. The event
// dispatcher invalidates entries; reads repopulate them.
type ViewCache interface {
	GetProjectView(ctx context.Context, projectID string) ([]byte, bool)
	SetProjectView(ctx context.Context, projectID string, data []byte)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	authpw   *authpw.Service
	email    *email.Service
	search   *search.Service
	files    *files.Service
	export   *export.Service
	events   *events.Dispatcher
	views    ViewCache
}

type Options struct {
	Sessions SessionStore
	AuthPW   *authpw.Service
	Email    *email.Service
	Search   *search.Service
	Files    *files.Service
	Export   *export.Service
	Events   *events.Dispatcher
	Views    ViewCache
}

func New(cfg config.Config, dataStore dataStore, opts Options) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: opts.Sessions,
		authpw:   opts.AuthPW,
		email:    opts.Email,
		search:   opts.Search,
		files:    opts.Files,
		export:   opts.Export,
		events:   opts.Events,
		views:    opts.Views,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SignUp registers a user and sends the verification email when a mailer
// is configured.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (*authpw.SignUpResponse, error) {
	if s.authpw == nil {
		return nil, domainError(503, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	resp, err := s.authpw.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.SMTPConfigured() {
		verifyURL := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/verify-email?token=" + resp.VerificationToken
		if mailErr := s.email.SendVerificationEmail(req.Email, req.DisplayName, verifyURL); mailErr != nil {
			log.Printf("app: verification email: %v", mailErr)
		}
	}
	return resp, nil
}

// SignIn authenticates, then issues an access and refresh token pair.
func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	if s.authpw == nil {
		return Session{}, domainError(503, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	resp, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: emailAddr, Password: password})
	if err != nil {
		return Session{}, domainError(401, "UNAUTHORIZED", "Invalid email or password", nil)
	}
	if resp.RequiresVerify {
		return Session{}, domainError(403, "EMAIL_UNVERIFIED", "Please verify your email address first", nil)
	}
	return s.issueSession(ctx, resp.User)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// membershipFor resolves the client access grant for (project, email).
// Providers never need one.
func (s *Service) membershipFor(ctx context.Context, p authz.Principal, projectID string) authz.Membership {
	if p.IsProvider() {
		return authz.Membership{}
	}
	member, err := s.store.GetProjectMember(ctx, projectID, strings.ToLower(p.Email))
	if err != nil {
		return authz.Membership{}
	}
	return authz.Membership{
		Found:    true,
		Role:     authz.NormalizeMemberRole(member.Role),
		Accepted: member.AcceptedAt != nil,
	}
}

// requireProjectAccess gates an operation on project membership. The
// error is identical whether the project is missing or access is denied.
func (s *Service) requireProjectAccess(ctx context.Context, p authz.Principal, projectID string, minRole authz.MemberRole) error {
	if projectID == "" {
		return validationError(map[string]string{"projectId": "project id is required"})
	}
	membership := s.membershipFor(ctx, p, projectID)
	if !authz.CanAccessProject(p, membership, minRole) {
		return forbidden()
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if p.IsProvider() {
			return notFound("Project")
		}
		return forbidden()
	}
	return nil
}

func (s *Service) requireProvider(p authz.Principal) error {
	if !p.IsProvider() {
		return forbidden()
	}
	return nil
}

// publish emits a best-effort domain event. A nil dispatcher is valid in
// tests.
func (s *Service) publish(p authz.Principal, projectID, action string, details map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{
		ProjectID: projectID,
		ActorType: string(p.Role),
		Action:    action,
		Details:   details,
	})
}
