// Package authz decides who may read or mutate what. Providers are
// organization-scoped and always pass project access; clients pass only
// through an accepted ProjectMember grant for their email.
package authz

import "strings"

type ActorRole string
type MemberRole string

const (
	RoleProvider ActorRole = "provider"
	RoleClient   ActorRole = "client"
)

const (
	MemberViewer MemberRole = "client_viewer"
	MemberEditor MemberRole = "client_editor"
)

// Principal is the authenticated actor behind a request. The core consumes
// it fully resolved; token parsing happens upstream.
type Principal struct {
	ID    string
	Name  string
	Email string
	Role  ActorRole
}

func (p Principal) IsProvider() bool {
	return p.Role == RoleProvider
}

// Membership is the client access grant the store resolved for
// (project, email), or absent.
type Membership struct {
	Found    bool
	Role     MemberRole
	Accepted bool
}

// CanAccessProject reports whether the principal may act on the project at
// the given minimum member tier. minRole only constrains clients; there is
// no tier above editor.
func CanAccessProject(p Principal, m Membership, minRole MemberRole) bool {
	if p.IsProvider() {
		return true
	}
	if !m.Found || !m.Accepted {
		return false
	}
	if minRole == MemberEditor {
		return m.Role == MemberEditor
	}
	return m.Role == MemberViewer || m.Role == MemberEditor
}

// CanModifyComment is the shared edit/delete rule: the author may always,
// and a provider may moderate any client comment. A client never touches a
// provider's comment.
func CanModifyComment(p Principal, authorType ActorRole, createdBy string) bool {
	if createdBy == p.ID {
		return true
	}
	return p.IsProvider() && authorType == RoleClient
}

func NormalizeActorRole(role string) ActorRole {
	switch ActorRole(strings.TrimSpace(role)) {
	case RoleProvider:
		return RoleProvider
	default:
		return RoleClient
	}
}

func NormalizeMemberRole(role string) MemberRole {
	switch MemberRole(strings.TrimSpace(role)) {
	case MemberEditor:
		return MemberEditor
	default:
		return MemberViewer
	}
}
