package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"cadence/api/internal/ordering"
)

const componentColumns = `id, stage_id, component_type, title, config, status, sort_order, metadata, created_at, updated_at`

func scanComponent(row interface{ Scan(...any) error }) (StageComponent, error) {
	var item StageComponent
	var configRaw []byte
	var metadataRaw []byte
	err := row.Scan(&item.ID, &item.StageID, &item.ComponentType, &item.Title, &configRaw,
		&item.Status, &item.SortOrder, &metadataRaw, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return StageComponent{}, err
	}
	if len(configRaw) > 0 {
		_ = json.Unmarshal(configRaw, &item.Config)
	}
	if item.Config == nil {
		item.Config = map[string]any{}
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &item.Metadata)
	}
	return item, nil
}

func marshalJSONMap(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal json map: %w", err)
	}
	return string(encoded), nil
}

func (s *PostgresStore) ListComponents(ctx context.Context, stageID string) ([]StageComponent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+componentColumns+`
		FROM stage_components
		WHERE stage_id=$1
		ORDER BY sort_order ASC
	`, stageID)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer rows.Close()

	items := make([]StageComponent, 0)
	for rows.Next() {
		item, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate components: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetComponent(ctx context.Context, componentID string) (StageComponent, error) {
	item, err := scanComponent(s.db.QueryRowContext(ctx, `
		SELECT `+componentColumns+`
		FROM stage_components
		WHERE id=$1
	`, componentID))
	if errors.Is(err, sql.ErrNoRows) {
		return StageComponent{}, ErrNotFound
	}
	if err != nil {
		return StageComponent{}, fmt.Errorf("get component: %w", err)
	}
	return item, nil
}

func lockComponentOrders(ctx context.Context, tx *sql.Tx, stageID string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, sort_order FROM stage_components WHERE stage_id=$1 ORDER BY sort_order ASC FOR UPDATE
	`, stageID)
	if err != nil {
		return nil, fmt.Errorf("lock components: %w", err)
	}
	defer rows.Close()

	orders := make(map[string]int)
	for rows.Next() {
		var id string
		var order int
		if err := rows.Scan(&id, &order); err != nil {
			return nil, fmt.Errorf("scan component order: %w", err)
		}
		orders[id] = order
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate component orders: %w", err)
	}
	return orders, nil
}

// InsertComponent appends a component at the end of its stage's sequence.
func (s *PostgresStore) InsertComponent(ctx context.Context, component StageComponent) (StageComponent, error) {
	config, err := marshalJSONMap(component.Config)
	if err != nil {
		return StageComponent{}, err
	}
	var metadata *string
	if component.Metadata != nil {
		encoded, err := marshalJSONMap(component.Metadata)
		if err != nil {
			return StageComponent{}, err
		}
		metadata = &encoded
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StageComponent{}, fmt.Errorf("begin insert component: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	orders, err := lockComponentOrders(ctx, tx, component.StageID)
	if err != nil {
		return StageComponent{}, err
	}
	maxOrder := 0
	for _, order := range orders {
		if order > maxOrder {
			maxOrder = order
		}
	}
	component.SortOrder = ordering.InsertPosition(maxOrder, nil)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stage_components (id, stage_id, component_type, title, config, status, sort_order, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8::jsonb)
	`, component.ID, component.StageID, component.ComponentType, component.Title, config,
		component.Status, component.SortOrder, metadata); err != nil {
		return StageComponent{}, fmt.Errorf("insert component: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return StageComponent{}, fmt.Errorf("commit insert component: %w", err)
	}
	return component, nil
}

// UpdateComponent writes title, config and status. Config merging is the
// caller's concern; the stored value is replaced with the merged map.
func (s *PostgresStore) UpdateComponent(ctx context.Context, component StageComponent) error {
	config, err := marshalJSONMap(component.Config)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE stage_components
		SET title=$2, config=$3::jsonb, status=$4, updated_at=NOW()
		WHERE id=$1
	`, component.ID, component.Title, config, component.Status)
	if err != nil {
		return fmt.Errorf("update component: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update component rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteComponent removes a component and compacts the sort orders after it.
func (s *PostgresStore) DeleteComponent(ctx context.Context, stageID, componentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete component: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	orders, err := lockComponentOrders(ctx, tx, stageID)
	if err != nil {
		return err
	}
	order, ok := orders[componentID]
	if !ok {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_components WHERE id=$1`, componentID); err != nil {
		return fmt.Errorf("delete component: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE stage_components SET sort_order = sort_order - 1, updated_at=NOW()
		WHERE stage_id=$1 AND sort_order > $2
	`, stageID, order); err != nil {
		return fmt.Errorf("compact components: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete component: %w", err)
	}
	return nil
}

// ReorderComponents assigns sort_order index+1 to each id in the given
// sequence. The id set must exactly match the stage's components or nothing
// changes.
func (s *PostgresStore) ReorderComponents(ctx context.Context, stageID string, componentIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder components: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	orders, err := lockComponentOrders(ctx, tx, stageID)
	if err != nil {
		return err
	}
	existing := make([]string, 0, len(orders))
	for id := range orders {
		existing = append(existing, id)
	}
	if !ordering.SameIDSet(existing, componentIDs) {
		return ErrOrderMismatch
	}

	for id, order := range ordering.Renumber(componentIDs) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE stage_components SET sort_order=$2, updated_at=NOW() WHERE id=$1
		`, id, order); err != nil {
			return fmt.Errorf("renumber component %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder components: %w", err)
	}
	return nil
}

func (s *PostgresStore) ComponentCount(ctx context.Context, stageID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stage_components WHERE stage_id=$1
	`, stageID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count components: %w", err)
	}
	return count, nil
}
