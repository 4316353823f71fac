package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cadence/api/internal/ordering"
)

const stageColumns = `id, project_id, title, description, position, type, status, owner,
	planned_start, planned_end, deadline, completion_at, COALESCE(completion_note, ''), created_at, updated_at`

func scanStage(row interface{ Scan(...any) error }) (Stage, error) {
	var item Stage
	err := row.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Description, &item.Position,
		&item.Type, &item.Status, &item.Owner, &item.PlannedStart, &item.PlannedEnd,
		&item.Deadline, &item.CompletionAt, &item.CompletionNote, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) ListStages(ctx context.Context, projectID string) ([]Stage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stageColumns+`
		FROM stages
		WHERE project_id=$1
		ORDER BY position ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	items := make([]Stage, 0)
	for rows.Next() {
		item, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetStage(ctx context.Context, stageID string) (Stage, error) {
	item, err := scanStage(s.db.QueryRowContext(ctx, `
		SELECT `+stageColumns+`
		FROM stages
		WHERE id=$1
	`, stageID))
	if errors.Is(err, sql.ErrNoRows) {
		return Stage{}, ErrNotFound
	}
	if err != nil {
		return Stage{}, fmt.Errorf("get stage: %w", err)
	}
	return item, nil
}

// lockStagePositions takes row locks on every stage of the project and
// returns id -> position. All multi-row position mutations serialize on
// these locks so concurrent inserts, deletes and reorders cannot interleave.
func lockStagePositions(ctx context.Context, tx *sql.Tx, projectID string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, position FROM stages WHERE project_id=$1 ORDER BY position ASC FOR UPDATE
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("lock stages: %w", err)
	}
	defer rows.Close()

	positions := make(map[string]int)
	for rows.Next() {
		var id string
		var position int
		if err := rows.Scan(&id, &position); err != nil {
			return nil, fmt.Errorf("scan stage position: %w", err)
		}
		positions[id] = position
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage positions: %w", err)
	}
	return positions, nil
}

// InsertStageAfter inserts a stage either appended after the current maximum
// position or directly after afterStageID, shifting subsequent stages up by
// one, all within a single transaction.
func (s *PostgresStore) InsertStageAfter(ctx context.Context, stage Stage, afterStageID *string) (Stage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Stage{}, fmt.Errorf("begin insert stage: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	positions, err := lockStagePositions(ctx, tx, stage.ProjectID)
	if err != nil {
		return Stage{}, err
	}

	var sibling *int
	if afterStageID != nil {
		position, ok := positions[*afterStageID]
		if !ok {
			return Stage{}, ErrNotFound
		}
		sibling = &position
	}
	maxPosition := 0
	for _, position := range positions {
		if position > maxPosition {
			maxPosition = position
		}
	}
	stage.Position = ordering.InsertPosition(maxPosition, sibling)

	if _, err := tx.ExecContext(ctx, `
		UPDATE stages SET position = position + 1, updated_at=NOW()
		WHERE project_id=$1 AND position >= $2
	`, stage.ProjectID, stage.Position); err != nil {
		return Stage{}, fmt.Errorf("shift stages: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stages (id, project_id, title, description, position, type, status, owner,
			planned_start, planned_end, deadline, completion_note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, stage.ID, stage.ProjectID, stage.Title, stage.Description, stage.Position, stage.Type,
		stage.Status, stage.Owner, stage.PlannedStart, stage.PlannedEnd, stage.Deadline, stage.CompletionNote); err != nil {
		return Stage{}, fmt.Errorf("insert stage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Stage{}, fmt.Errorf("commit insert stage: %w", err)
	}
	return stage, nil
}

// DeleteStage removes an empty stage and compacts the positions of every
// stage after it. A stage that still has components is rejected.
func (s *PostgresStore) DeleteStage(ctx context.Context, projectID, stageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete stage: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	positions, err := lockStagePositions(ctx, tx, projectID)
	if err != nil {
		return err
	}
	position, ok := positions[stageID]
	if !ok {
		return ErrNotFound
	}

	var componentCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stage_components WHERE stage_id=$1
	`, stageID).Scan(&componentCount); err != nil {
		return fmt.Errorf("count stage components: %w", err)
	}
	if componentCount > 0 {
		return ErrStageNotEmpty
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE id=$1`, stageID); err != nil {
		return fmt.Errorf("delete stage: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE stages SET position = position - 1, updated_at=NOW()
		WHERE project_id=$1 AND position > $2
	`, projectID, position); err != nil {
		return fmt.Errorf("compact stages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete stage: %w", err)
	}
	return nil
}

// ReorderStages assigns position index+1 to each id in the given sequence.
// The id set must exactly match the project's stages or nothing changes.
func (s *PostgresStore) ReorderStages(ctx context.Context, projectID string, stageIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder stages: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	positions, err := lockStagePositions(ctx, tx, projectID)
	if err != nil {
		return err
	}
	existing := make([]string, 0, len(positions))
	for id := range positions {
		existing = append(existing, id)
	}
	if !ordering.SameIDSet(existing, stageIDs) {
		return ErrOrderMismatch
	}

	for id, position := range ordering.Renumber(stageIDs) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE stages SET position=$2, updated_at=NOW() WHERE id=$1
		`, id, position); err != nil {
			return fmt.Errorf("renumber stage %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder stages: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStageStatus(ctx context.Context, stageID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stages SET status=$2, updated_at=NOW() WHERE id=$1
	`, stageID, status)
	if err != nil {
		return fmt.Errorf("update stage status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stage status rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteStage runs the completion protocol in one transaction: status done,
// completion stamp and note, and activation of the successor stage by
// position. Returns the completed stage and the activated successor, if any.
func (s *PostgresStore) CompleteStage(ctx context.Context, projectID, stageID, note string) (Stage, *Stage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Stage{}, nil, fmt.Errorf("begin complete stage: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	positions, err := lockStagePositions(ctx, tx, projectID)
	if err != nil {
		return Stage{}, nil, err
	}
	position, ok := positions[stageID]
	if !ok {
		return Stage{}, nil, ErrNotFound
	}

	completed, err := scanStage(tx.QueryRowContext(ctx, `
		UPDATE stages
		SET status='done', completion_at=NOW(), completion_note=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+stageColumns+`
	`, stageID, note))
	if err != nil {
		return Stage{}, nil, fmt.Errorf("complete stage: %w", err)
	}

	var successor *Stage
	next, err := scanStage(tx.QueryRowContext(ctx, `
		UPDATE stages
		SET status='in_review', updated_at=NOW()
		WHERE project_id=$1 AND position=$2 AND status IN ('todo', 'blocked')
		RETURNING `+stageColumns+`
	`, projectID, position+1))
	if err == nil {
		successor = &next
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Stage{}, nil, fmt.Errorf("activate successor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Stage{}, nil, fmt.Errorf("commit complete stage: %w", err)
	}
	return completed, successor, nil
}

func (s *PostgresStore) UpdateStageCompletionNote(ctx context.Context, stageID, note string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stages SET completion_note=$2, updated_at=NOW()
		WHERE id=$1 AND status='done'
	`, stageID, note)
	if err != nil {
		return fmt.Errorf("update completion note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update completion note rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CurrentStage returns the lowest-position stage that is not done.
func (s *PostgresStore) CurrentStage(ctx context.Context, projectID string) (Stage, error) {
	item, err := scanStage(s.db.QueryRowContext(ctx, `
		SELECT `+stageColumns+`
		FROM stages
		WHERE project_id=$1 AND status <> 'done'
		ORDER BY position ASC
		LIMIT 1
	`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return Stage{}, ErrNotFound
	}
	if err != nil {
		return Stage{}, fmt.Errorf("current stage: %w", err)
	}
	return item, nil
}
