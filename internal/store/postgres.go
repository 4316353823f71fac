package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, NULLIF($7, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified, COALESCE(verification_token, '')
		FROM users
		WHERE email = LOWER($1)
	`, strings.TrimSpace(email)).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &token)
	if err != nil {
		return User{}, err
	}
	user.VerificationToken = token.String
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.role, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, status, client_email, start_date, end_date, deadline, created_by)
		VALUES ($1, $2, $3, $4, LOWER($5), $6, $7, $8, $9)
	`, project.ID, project.Title, project.Description, project.Status, project.ClientEmail,
		project.StartDate, project.EndDate, project.Deadline, project.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, client_email, start_date, end_date, deadline, created_by, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Title, &item.Description, &item.Status, &item.ClientEmail,
		&item.StartDate, &item.EndDate, &item.Deadline, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	return s.listProjects(ctx, `
		SELECT id, title, description, status, client_email, start_date, end_date, deadline, created_by, created_at, updated_at
		FROM projects
		ORDER BY updated_at DESC
	`)
}

// ListProjectsForEmail returns projects a client email has a membership in.
func (s *PostgresStore) ListProjectsForEmail(ctx context.Context, email string) ([]Project, error) {
	return s.listProjects(ctx, `
		SELECT p.id, p.title, p.description, p.status, p.client_email, p.start_date, p.end_date, p.deadline, p.created_by, p.created_at, p.updated_at
		FROM projects p
		JOIN project_members pm ON pm.project_id = p.id
		WHERE pm.email = LOWER($1)
		ORDER BY p.updated_at DESC
	`, strings.TrimSpace(email))
}

func (s *PostgresStore) listProjects(ctx context.Context, query string, args ...any) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.Status, &item.ClientEmail,
			&item.StartDate, &item.EndDate, &item.Deadline, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateProjectStatus(ctx context.Context, projectID, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE projects SET status=$2, updated_at=NOW() WHERE id=$1`, projectID, status)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project status rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetProjectMember(ctx context.Context, projectID, email string) (ProjectMember, error) {
	var item ProjectMember
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, email, role, invited_by, accepted_at, created_at
		FROM project_members
		WHERE project_id=$1 AND email=LOWER($2)
	`, projectID, strings.TrimSpace(email)).Scan(&item.ID, &item.ProjectID, &item.Email, &item.Role, &item.InvitedBy, &item.AcceptedAt, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectMember{}, ErrNotFound
	}
	if err != nil {
		return ProjectMember{}, fmt.Errorf("get project member: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListProjectMembers(ctx context.Context, projectID string) ([]ProjectMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, email, role, invited_by, accepted_at, created_at
		FROM project_members
		WHERE project_id=$1
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectMember, 0)
	for rows.Next() {
		var item ProjectMember
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Email, &item.Role, &item.InvitedBy, &item.AcceptedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertProjectMember(ctx context.Context, member ProjectMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, email, role, invited_by)
		VALUES ($1, $2, LOWER($3), $4, $5)
		ON CONFLICT (project_id, email) DO UPDATE SET role=EXCLUDED.role
	`, member.ID, member.ProjectID, member.Email, member.Role, member.InvitedBy)
	if err != nil {
		return fmt.Errorf("upsert project member: %w", err)
	}
	return nil
}

func (s *PostgresStore) AcceptProjectMember(ctx context.Context, projectID, email string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE project_members SET accepted_at=NOW()
		WHERE project_id=$1 AND email=LOWER($2) AND accepted_at IS NULL
	`, projectID, strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("accept project member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("accept project member rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, attachment Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, component_id, file_name, content_type, size_bytes, object_key, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, attachment.ID, attachment.ComponentID, attachment.FileName, attachment.ContentType,
		attachment.SizeBytes, attachment.ObjectKey, attachment.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, componentID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, component_id, file_name, content_type, size_bytes, object_key, created_by, created_at
		FROM attachments
		WHERE component_id=$1
		ORDER BY created_at ASC
	`, componentID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.ComponentID, &item.FileName, &item.ContentType,
			&item.SizeBytes, &item.ObjectKey, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAuditRecord(ctx context.Context, record AuditRecord) error {
	details := record.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_records (project_id, actor_type, action, details)
		VALUES ($1, $2, $3, $4::jsonb)
	`, record.ProjectID, record.ActorType, record.Action, string(encoded))
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditRecords(ctx context.Context, projectID string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, actor_type, action, details, created_at
		FROM audit_records
		WHERE project_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	items := make([]AuditRecord, 0)
	for rows.Next() {
		var item AuditRecord
		var detailsRaw []byte
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.ActorType, &item.Action, &detailsRaw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		_ = json.Unmarshal(detailsRaw, &item.Details)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return items, nil
}
