package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string // provider | client
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Project struct {
	ID          string
	Title       string
	Description string
	Status      string // planned | in_progress | on_hold | done | archived
	ClientEmail string
	StartDate   *time.Time
	EndDate     *time.Time
	Deadline    *time.Time
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectMember grants a client-role principal access to one project.
type ProjectMember struct {
	ID         string
	ProjectID  string
	Email      string
	Role       string // client_viewer | client_editor
	InvitedBy  string
	AcceptedAt *time.Time
	CreatedAt  time.Time
}

type Stage struct {
	ID             string
	ProjectID      string
	Title          string
	Description    string
	Position       int // dense, 1-based, unique within project
	Type           string
	Status         string // todo | waiting_client | in_review | approved | blocked | done
	Owner          string // provider | client
	PlannedStart   *time.Time
	PlannedEnd     *time.Time
	Deadline       *time.Time
	CompletionAt   *time.Time
	CompletionNote string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type StageComponent struct {
	ID            string
	StageID       string
	ComponentType string
	Title         *string // nil falls back to a type-derived label
	Config        map[string]any
	Status        string
	SortOrder     int // dense, 1-based, unique within stage
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var componentTypeLabels = map[string]string{
	"upload_request": "Link Request",
	"checklist":      "Checklist",
	"prototype":      "Prototype",
	"approval":       "Approval Request",
	"text_block":     "Note",
	"link":           "Link",
	"milestone":      "Milestone",
	"tasklist":       "Task List",
}

// Label returns the component's title, falling back to a label derived
// from its type when no title is set.
func (c StageComponent) Label() string {
	if c.Title != nil && *c.Title != "" {
		return *c.Title
	}
	if label, ok := componentTypeLabels[c.ComponentType]; ok {
		return label
	}
	return "Component"
}

type Comment struct {
	ID          string
	ProjectID   string
	StageID     *string
	ComponentID *string
	AuthorType  string // provider | client
	Body        string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Attachment is registered file metadata; the bytes live in object storage.
type Attachment struct {
	ID          string
	ComponentID string
	FileName    string
	ContentType string
	SizeBytes   int64
	ObjectKey   string
	CreatedBy   string
	CreatedAt   time.Time
}

type AuditRecord struct {
	ID        int64
	ProjectID string
	ActorType string
	Action    string
	Details   map[string]any
	CreatedAt time.Time
}
