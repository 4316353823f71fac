package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const commentColumns = `id, project_id, stage_id, component_id, author_type, body, created_by, created_at, updated_at`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var item Comment
	err := row.Scan(&item.ID, &item.ProjectID, &item.StageID, &item.ComponentID,
		&item.AuthorType, &item.Body, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, project_id, stage_id, component_id, author_type, body, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, comment.ID, comment.ProjectID, comment.StageID, comment.ComponentID,
		comment.AuthorType, comment.Body, comment.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, projectID, commentID string) (Comment, error) {
	item, err := scanComment(s.db.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE project_id=$1 AND id=$2
	`, projectID, commentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateCommentBody(ctx context.Context, commentID, body string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET body=$2, updated_at=NOW() WHERE id=$1
	`, commentID, body)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update comment rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteComment is a hard delete.
func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProjectComments returns the project-level thread: comments carrying
// neither a stage nor a component scope.
func (s *PostgresStore) ListProjectComments(ctx context.Context, projectID string) ([]Comment, error) {
	return s.listComments(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE project_id=$1 AND stage_id IS NULL AND component_id IS NULL
		ORDER BY created_at ASC
	`, projectID)
}

// ListStageThread returns the stage's thread: comments scoped to the stage
// plus comments on any component belonging to the stage.
func (s *PostgresStore) ListStageThread(ctx context.Context, stageID string) ([]Comment, error) {
	return s.listComments(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE stage_id=$1
		   OR component_id IN (SELECT id FROM stage_components WHERE stage_id=$1)
		ORDER BY created_at ASC
	`, stageID)
}

func (s *PostgresStore) ListComponentComments(ctx context.Context, componentID string) ([]Comment, error) {
	return s.listComments(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE component_id=$1
		ORDER BY created_at ASC
	`, componentID)
}

func (s *PostgresStore) listComments(ctx context.Context, query string, args ...any) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}
