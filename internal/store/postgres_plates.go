package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"plate/api/internal/model"
	"plate/api/internal/position"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Platters

func (s *PostgresStore) ListPlatters(ctx context.Context, teamID string, includeArchived bool) ([]model.Platter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, name, color, archived, created_by, created_at, updated_at
		FROM platters
		WHERE team_id=$1 AND ($2::boolean OR archived = FALSE)
		ORDER BY created_at ASC
	`, teamID, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list platters: %w", err)
	}
	defer rows.Close()

	items := make([]model.Platter, 0)
	for rows.Next() {
		item, err := scanPlatter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan platter: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate platters: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPlatter(ctx context.Context, platterID string) (model.Platter, error) {
	return scanPlatter(s.db.QueryRowContext(ctx, `
		SELECT id, team_id, name, color, archived, created_by, created_at, updated_at
		FROM platters WHERE id=$1
	`, platterID))
}

func scanPlatter(row interface{ Scan(...any) error }) (model.Platter, error) {
	var item model.Platter
	err := row.Scan(&item.ID, &item.TeamID, &item.Name, &item.Color, &item.Archived, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) CreatePlatter(ctx context.Context, platter model.Platter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO platters (id, team_id, name, color, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, platter.ID, platter.TeamID, platter.Name, platter.Color, platter.CreatedBy)
	if err != nil {
		return fmt.Errorf("create platter: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) UpdatePlatter(ctx context.Context, platter model.Platter) error {
	return s.execOne(ctx, "update platter", `
		UPDATE platters SET name=$2, color=$3, archived=$4, updated_at=NOW() WHERE id=$1
	`, platter.ID, platter.Name, platter.Color, platter.Archived)
}

func (s *PostgresStore) DeletePlatter(ctx context.Context, platterID string) error {
	return s.execOne(ctx, "delete platter", `DELETE FROM platters WHERE id=$1`, platterID)
}

// Plates

const plateColumns = `id, platter_id, team_id, name, color, archived, list_pos, created_by, created_at, updated_at`

func scanPlate(row interface{ Scan(...any) error }) (model.Plate, error) {
	var item model.Plate
	err := row.Scan(&item.ID, &item.PlatterID, &item.TeamID, &item.Name, &item.Color, &item.Archived, &item.ListPos, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func queryPlates(ctx context.Context, q queryer, query string, args ...any) ([]*model.Plate, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plates: %w", err)
	}
	defer rows.Close()

	items := make([]*model.Plate, 0)
	for rows.Next() {
		item, err := scanPlate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plate: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plates: %w", err)
	}
	return items, nil
}

// ListPlates returns the team's plates ordered by platter then list_pos.
// An empty platterID lists every platter.
func (s *PostgresStore) ListPlates(ctx context.Context, teamID, platterID string, archived bool) ([]model.Plate, error) {
	plates, err := queryPlates(ctx, s.db, `
		SELECT `+plateColumns+`
		FROM plates
		WHERE team_id=$1 AND ($2 = '' OR platter_id=$2) AND archived=$3
		ORDER BY platter_id, list_pos, created_at
	`, teamID, platterID, archived)
	if err != nil {
		return nil, err
	}
	out := make([]model.Plate, 0, len(plates))
	for _, p := range plates {
		out = append(out, *p)
	}
	return out, nil
}

func (s *PostgresStore) ListAllPlateIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM plates WHERE archived = FALSE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list plate ids: %w", err)
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan plate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) GetPlate(ctx context.Context, plateID string) (model.Plate, error) {
	return scanPlate(s.db.QueryRowContext(ctx, `SELECT `+plateColumns+` FROM plates WHERE id=$1`, plateID))
}

// LoadPlate returns the plate with its ordered headers, each holding its
// ordered active cards.
func (s *PostgresStore) LoadPlate(ctx context.Context, plateID string) (*model.Plate, error) {
	plate, err := s.GetPlate(ctx, plateID)
	if err != nil {
		return nil, err
	}
	headers, err := queryHeaders(ctx, s.db, plateID)
	if err != nil {
		return nil, err
	}
	items, err := queryItems(ctx, s.db, `
		SELECT `+itemColumns+` FROM plate_items
		WHERE plate_id=$1 AND archived = FALSE
		ORDER BY pos, created_at
	`, plateID)
	if err != nil {
		return nil, err
	}

	byHeader := make(map[string]*model.Header, len(headers))
	for _, h := range headers {
		h.Items = make([]*model.PlateItem, 0)
		byHeader[h.ID] = h
	}
	for _, item := range items {
		if h, ok := byHeader[item.HeaderID]; ok {
			h.Items = append(h.Items, item)
		}
	}
	plate.Headers = headers
	return &plate, nil
}

// CreatePlate appends the plate to the end of its platter and creates the
// given headers in order.
func (s *PostgresStore) CreatePlate(ctx context.Context, plate model.Plate, headers []model.Header) (model.Plate, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, "platters", plate.PlatterID); err != nil {
			return err
		}
		var count int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM plates WHERE platter_id=$1 AND archived = FALSE
		`, plate.PlatterID).Scan(&count); err != nil {
			return fmt.Errorf("count plates: %w", err)
		}
		plate.ListPos = count

		row := tx.QueryRowContext(ctx, `
			INSERT INTO plates (id, platter_id, team_id, name, color, list_pos, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at
		`, plate.ID, plate.PlatterID, plate.TeamID, plate.Name, plate.Color, plate.ListPos, plate.CreatedBy)
		if err := row.Scan(&plate.CreatedAt, &plate.UpdatedAt); err != nil {
			return fmt.Errorf("create plate: %w", translate(err))
		}

		plate.Headers = make([]*model.Header, 0, len(headers))
		for i := range headers {
			h := headers[i]
			h.PlateID = plate.ID
			h.Position = i
			if err := insertHeader(ctx, tx, h); err != nil {
				return err
			}
			h.Items = make([]*model.PlateItem, 0)
			plate.Headers = append(plate.Headers, &h)
		}
		return nil
	})
	if err != nil {
		return model.Plate{}, err
	}
	return plate, nil
}

func (s *PostgresStore) UpdatePlate(ctx context.Context, plate model.Plate) error {
	return s.execOne(ctx, "update plate", `
		UPDATE plates SET name=$2, color=$3, updated_at=NOW() WHERE id=$1
	`, plate.ID, plate.Name, plate.Color)
}

// SetPlateArchived archives or restores a plate. Archiving takes the plate
// out of its platter's ordering; restoring appends it at the end.
func (s *PostgresStore) SetPlateArchived(ctx context.Context, plateID string, archived bool) ([]model.Plate, error) {
	var changed []model.Plate
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		plate, err := scanPlate(tx.QueryRowContext(ctx, `SELECT `+plateColumns+` FROM plates WHERE id=$1`, plateID))
		if err != nil {
			return err
		}
		if plate.Archived == archived {
			return nil
		}
		if err := lockRow(ctx, tx, "platters", plate.PlatterID); err != nil {
			return err
		}
		list, err := activePlates(ctx, tx, plate.PlatterID)
		if err != nil {
			return err
		}
		before := platePositions(list)

		if archived {
			idx := position.IndexOf(list, func(p *model.Plate) bool { return p.ID == plateID })
			if idx >= 0 {
				list, _, _ = position.Remove(list, idx)
			}
		} else {
			plate.Archived = false
			list, _ = position.Insert(list, &plate, len(list))
		}

		if _, err := tx.ExecContext(ctx, `UPDATE plates SET archived=$2, updated_at=NOW() WHERE id=$1`, plateID, archived); err != nil {
			return fmt.Errorf("archive plate: %w", err)
		}
		changed, err = persistPlatePositions(ctx, tx, list, before)
		return err
	})
	return changed, err
}

func (s *PostgresStore) DeletePlate(ctx context.Context, plateID string) ([]model.Plate, error) {
	var changed []model.Plate
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		plate, err := scanPlate(tx.QueryRowContext(ctx, `SELECT `+plateColumns+` FROM plates WHERE id=$1`, plateID))
		if err != nil {
			return err
		}
		if err := lockRow(ctx, tx, "platters", plate.PlatterID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM plates WHERE id=$1`, plateID); err != nil {
			return fmt.Errorf("delete plate: %w", err)
		}
		list, err := activePlates(ctx, tx, plate.PlatterID)
		if err != nil {
			return err
		}
		before := platePositions(list)
		position.Normalize(list)
		changed, err = persistPlatePositions(ctx, tx, list, before)
		return err
	})
	return changed, err
}

// MovePlate relocates a plate to index within platterID, which may be its
// current platter. Both platter rows are locked for the duration.
func (s *PostgresStore) MovePlate(ctx context.Context, plateID, platterID string, index int) (PlateMove, error) {
	var result PlateMove
	err := retryStale(func() error {
		result = PlateMove{}
		return withTx(ctx, s.db, func(tx *sql.Tx) error {
			return s.movePlateTx(ctx, tx, plateID, platterID, index, &result)
		})
	})
	return result, err
}

func (s *PostgresStore) movePlateTx(ctx context.Context, tx *sql.Tx, plateID, platterID string, index int, result *PlateMove) error {
	plate, err := scanPlate(tx.QueryRowContext(ctx, `SELECT `+plateColumns+` FROM plates WHERE id=$1`, plateID))
	if err != nil {
		return err
	}
	if plate.Archived {
		return fmt.Errorf("%w: plate %s is archived", position.ErrInvalidIndex, plateID)
	}
	result.FromPlatterID = plate.PlatterID
	if err := lockRows(ctx, tx, "platters", plate.PlatterID, platterID); err != nil {
		return err
	}
	if err := checkParent(ctx, tx, `SELECT platter_id FROM plates WHERE id=$1`, plateID, plate.PlatterID); err != nil {
		return err
	}

	src, err := activePlates(ctx, tx, plate.PlatterID)
	if err != nil {
		return err
	}
	before := platePositions(src)
	srcIndex := position.IndexOf(src, func(p *model.Plate) bool { return p.ID == plateID })
	if srcIndex < 0 {
		return sql.ErrNoRows
	}

	touched := src
	if platterID == plate.PlatterID {
		if err := position.MoveWithinList(src, srcIndex, index); err != nil {
			return err
		}
	} else {
		dst, err := activePlates(ctx, tx, platterID)
		if err != nil {
			return err
		}
		for id, pos := range platePositions(dst) {
			before[id] = pos
		}
		src, dst, err = position.MoveAcrossLists(src, dst, srcIndex, index, platterID)
		if err != nil {
			return err
		}
		touched = append(append([]*model.Plate{}, src...), dst...)
	}

	changed, err := persistPlatePositions(ctx, tx, touched, before)
	if err != nil {
		return err
	}
	result.Changed = changed
	for _, p := range touched {
		if p.ID == plateID {
			result.Plate = *p
		}
	}
	return nil
}

type slot struct {
	parent string
	pos    int
}

func platePositions(list []*model.Plate) map[string]slot {
	out := make(map[string]slot, len(list))
	for _, p := range list {
		out[p.ID] = slot{parent: p.PlatterID, pos: p.ListPos}
	}
	return out
}

func activePlates(ctx context.Context, tx *sql.Tx, platterID string) ([]*model.Plate, error) {
	return queryPlates(ctx, tx, `
		SELECT `+plateColumns+` FROM plates
		WHERE platter_id=$1 AND archived = FALSE
		ORDER BY list_pos, created_at
	`, platterID)
}

func persistPlatePositions(ctx context.Context, tx *sql.Tx, list []*model.Plate, before map[string]slot) ([]model.Plate, error) {
	changed := make([]model.Plate, 0)
	for _, p := range list {
		if prev, ok := before[p.ID]; ok && prev.parent == p.PlatterID && prev.pos == p.ListPos {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE plates SET platter_id=$2, list_pos=$3, updated_at=NOW() WHERE id=$1
		`, p.ID, p.PlatterID, p.ListPos); err != nil {
			return nil, fmt.Errorf("update plate position: %w", err)
		}
		changed = append(changed, *p)
	}
	return changed, nil
}

// Headers

func queryHeaders(ctx context.Context, q queryer, plateID string) ([]*model.Header, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, plate_id, name, color, pos FROM headers WHERE plate_id=$1 ORDER BY pos, id
	`, plateID)
	if err != nil {
		return nil, fmt.Errorf("list headers: %w", err)
	}
	defer rows.Close()

	items := make([]*model.Header, 0)
	for rows.Next() {
		var h model.Header
		if err := rows.Scan(&h.ID, &h.PlateID, &h.Name, &h.Color, &h.Position); err != nil {
			return nil, fmt.Errorf("scan header: %w", err)
		}
		items = append(items, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate headers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetHeader(ctx context.Context, headerID string) (model.Header, error) {
	var h model.Header
	err := s.db.QueryRowContext(ctx, `
		SELECT id, plate_id, name, color, pos FROM headers WHERE id=$1
	`, headerID).Scan(&h.ID, &h.PlateID, &h.Name, &h.Color, &h.Position)
	return h, err
}

func insertHeader(ctx context.Context, tx *sql.Tx, h model.Header) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO headers (id, plate_id, name, color, pos) VALUES ($1, $2, $3, $4, $5)
	`, h.ID, h.PlateID, h.Name, h.Color, h.Position)
	if err != nil {
		return fmt.Errorf("create header: %w", translate(err))
	}
	return nil
}

// CreateHeader appends a header to the end of its plate.
func (s *PostgresStore) CreateHeader(ctx context.Context, header model.Header) (model.Header, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, "plates", header.PlateID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM headers WHERE plate_id=$1`, header.PlateID).Scan(&header.Position); err != nil {
			return fmt.Errorf("count headers: %w", err)
		}
		return insertHeader(ctx, tx, header)
	})
	if err != nil {
		return model.Header{}, err
	}
	return header, nil
}

func (s *PostgresStore) UpdateHeader(ctx context.Context, header model.Header) error {
	return s.execOne(ctx, "update header", `
		UPDATE headers SET name=$3, color=$4 WHERE plate_id=$1 AND id=$2
	`, header.PlateID, header.ID, header.Name, header.Color)
}

// DeleteHeader removes a header and its cards, then closes the gap.
func (s *PostgresStore) DeleteHeader(ctx context.Context, plateID, headerID string) ([]model.Header, error) {
	var changed []model.Header
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, "plates", plateID); err != nil {
			return err
		}
		if err := execOne(ctx, tx, "delete header", `DELETE FROM headers WHERE plate_id=$1 AND id=$2`, plateID, headerID); err != nil {
			return err
		}
		list, err := queryHeaders(ctx, tx, plateID)
		if err != nil {
			return err
		}
		before := headerPositions(list)
		position.Normalize(list)
		changed, err = persistHeaderPositions(ctx, tx, list, before)
		return err
	})
	return changed, err
}

func (s *PostgresStore) MoveHeader(ctx context.Context, plateID, headerID string, index int) ([]model.Header, error) {
	var changed []model.Header
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, "plates", plateID); err != nil {
			return err
		}
		list, err := queryHeaders(ctx, tx, plateID)
		if err != nil {
			return err
		}
		before := headerPositions(list)
		idx := position.IndexOf(list, func(h *model.Header) bool { return h.ID == headerID })
		if idx < 0 {
			return sql.ErrNoRows
		}
		if err := position.MoveWithinList(list, idx, index); err != nil {
			return err
		}
		changed, err = persistHeaderPositions(ctx, tx, list, before)
		return err
	})
	return changed, err
}

func headerPositions(list []*model.Header) map[string]int {
	out := make(map[string]int, len(list))
	for _, h := range list {
		out[h.ID] = h.Position
	}
	return out
}

func persistHeaderPositions(ctx context.Context, tx *sql.Tx, list []*model.Header, before map[string]int) ([]model.Header, error) {
	changed := make([]model.Header, 0)
	for _, h := range list {
		if prev, ok := before[h.ID]; ok && prev == h.Position {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE headers SET pos=$2 WHERE id=$1`, h.ID, h.Position); err != nil {
			return nil, fmt.Errorf("update header position: %w", err)
		}
		changed = append(changed, *h)
	}
	return changed, nil
}

// Plate items

const itemColumns = `id, plate_id, header_id, title, description, color, pos, archived, COALESCE(assignee_id, ''), due_at, created_by, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (model.PlateItem, error) {
	var item model.PlateItem
	var due sql.NullTime
	err := row.Scan(&item.ID, &item.PlateID, &item.HeaderID, &item.Title, &item.Description, &item.Color,
		&item.Position, &item.Archived, &item.AssigneeID, &due, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return model.PlateItem{}, err
	}
	if due.Valid {
		t := due.Time
		item.DueAt = &t
	}
	return item, nil
}

func queryItems(ctx context.Context, q queryer, query string, args ...any) ([]*model.PlateItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plate items: %w", err)
	}
	defer rows.Close()

	items := make([]*model.PlateItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plate item: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plate items: %w", err)
	}
	return items, nil
}

func activeItems(ctx context.Context, tx *sql.Tx, headerID string) ([]*model.PlateItem, error) {
	return queryItems(ctx, tx, `
		SELECT `+itemColumns+` FROM plate_items
		WHERE header_id=$1 AND archived = FALSE
		ORDER BY pos, created_at
	`, headerID)
}

func (s *PostgresStore) ListItems(ctx context.Context, plateID string, includeArchived bool) ([]model.PlateItem, error) {
	items, err := queryItems(ctx, s.db, `
		SELECT i.id, i.plate_id, i.header_id, i.title, i.description, i.color, i.pos, i.archived,
			COALESCE(i.assignee_id, ''), i.due_at, i.created_by, i.created_at, i.updated_at
		FROM plate_items i
		JOIN headers h ON h.id = i.header_id
		WHERE i.plate_id=$1 AND ($2::boolean OR i.archived = FALSE)
		ORDER BY h.pos, i.archived, i.pos, i.created_at
	`, plateID, includeArchived)
	if err != nil {
		return nil, err
	}
	out := make([]model.PlateItem, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (model.PlateItem, error) {
	return scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM plate_items WHERE id=$1`, itemID))
}

// CreateItem inserts a card into its header at index; a negative index
// appends. Returns the stored card and any siblings whose position shifted.
func (s *PostgresStore) CreateItem(ctx context.Context, item model.PlateItem, index int) (model.PlateItem, []model.PlateItem, error) {
	var shifted []model.PlateItem
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, "headers", item.HeaderID); err != nil {
			return err
		}
		list, err := activeItems(ctx, tx, item.HeaderID)
		if err != nil {
			return err
		}
		before := itemPositions(list)
		if index < 0 {
			index = len(list)
		}
		created := item
		if list, err = position.Insert(list, &created, index); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO plate_items (id, plate_id, header_id, title, description, color, pos, assignee_id, due_at, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
			RETURNING created_at, updated_at
		`, created.ID, created.PlateID, created.HeaderID, created.Title, created.Description, created.Color,
			created.Position, created.AssigneeID, nullTime(created.DueAt), created.CreatedBy)
		if err := row.Scan(&created.CreatedAt, &created.UpdatedAt); err != nil {
			return fmt.Errorf("create plate item: %w", translate(err))
		}
		item = created

		before[created.ID] = slot{parent: created.HeaderID, pos: created.Position}
		shifted, err = persistItemPositions(ctx, tx, list, before)
		return err
	})
	if err != nil {
		return model.PlateItem{}, nil, err
	}
	return item, shifted, nil
}

func (s *PostgresStore) UpdateItem(ctx context.Context, item model.PlateItem) error {
	return s.execOne(ctx, "update plate item", `
		UPDATE plate_items
		SET title=$2, description=$3, color=$4, assignee_id=NULLIF($5, ''), due_at=$6, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.Color, item.AssigneeID, nullTime(item.DueAt))
}

// SetItemArchived archives or restores a card. Archiving removes it from
// its header's ordering; restoring appends it at the end.
func (s *PostgresStore) SetItemArchived(ctx context.Context, itemID string, archived bool) (model.PlateItem, []model.PlateItem, error) {
	var result model.PlateItem
	var changed []model.PlateItem
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		item, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM plate_items WHERE id=$1`, itemID))
		if err != nil {
			return err
		}
		result = item
		if item.Archived == archived {
			return nil
		}
		if err := lockRow(ctx, tx, "headers", item.HeaderID); err != nil {
			return err
		}
		list, err := activeItems(ctx, tx, item.HeaderID)
		if err != nil {
			return err
		}
		before := itemPositions(list)
		if archived {
			if idx := position.IndexOf(list, func(i *model.PlateItem) bool { return i.ID == itemID }); idx >= 0 {
				list, _, _ = position.Remove(list, idx)
			}
		} else {
			list, _ = position.Insert(list, &result, len(list))
		}
		result.Archived = archived

		if _, err := tx.ExecContext(ctx, `
			UPDATE plate_items SET archived=$2, pos=$3, updated_at=NOW() WHERE id=$1
		`, itemID, archived, result.Position); err != nil {
			return fmt.Errorf("archive plate item: %w", err)
		}
		before[itemID] = slot{parent: result.HeaderID, pos: result.Position}
		changed, err = persistItemPositions(ctx, tx, list, before)
		return err
	})
	return result, changed, err
}

func (s *PostgresStore) DeleteItem(ctx context.Context, itemID string) (model.PlateItem, []model.PlateItem, error) {
	var deleted model.PlateItem
	var changed []model.PlateItem
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		item, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM plate_items WHERE id=$1`, itemID))
		if err != nil {
			return err
		}
		deleted = item
		if err := lockRow(ctx, tx, "headers", item.HeaderID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM plate_items WHERE id=$1`, itemID); err != nil {
			return fmt.Errorf("delete plate item: %w", err)
		}
		list, err := activeItems(ctx, tx, item.HeaderID)
		if err != nil {
			return err
		}
		before := itemPositions(list)
		position.Normalize(list)
		changed, err = persistItemPositions(ctx, tx, list, before)
		return err
	})
	return deleted, changed, err
}

// MoveItem relocates a card to index within headerID. Source and
// destination header rows are locked in id order so concurrent moves on
// the same headers serialize instead of interleaving.
func (s *PostgresStore) MoveItem(ctx context.Context, itemID, headerID string, index int) (ItemMove, error) {
	var result ItemMove
	err := retryStale(func() error {
		result = ItemMove{}
		return withTx(ctx, s.db, func(tx *sql.Tx) error {
			return s.moveItemTx(ctx, tx, itemID, headerID, index, &result)
		})
	})
	return result, err
}

func (s *PostgresStore) moveItemTx(ctx context.Context, tx *sql.Tx, itemID, headerID string, index int, result *ItemMove) error {
	item, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM plate_items WHERE id=$1`, itemID))
	if err != nil {
		return err
	}
	if item.Archived {
		return fmt.Errorf("%w: plate item %s is archived", position.ErrInvalidIndex, itemID)
	}
	result.FromHeaderID = item.HeaderID

	var destPlateID string
	if err := tx.QueryRowContext(ctx, `SELECT plate_id FROM headers WHERE id=$1`, headerID).Scan(&destPlateID); err != nil {
		return err
	}
	if err := lockRows(ctx, tx, "headers", item.HeaderID, headerID); err != nil {
		return err
	}
	if err := checkParent(ctx, tx, `SELECT header_id FROM plate_items WHERE id=$1`, itemID, item.HeaderID); err != nil {
		return err
	}

	src, err := activeItems(ctx, tx, item.HeaderID)
	if err != nil {
		return err
	}
	before := itemPositions(src)
	srcIndex := position.IndexOf(src, func(i *model.PlateItem) bool { return i.ID == itemID })
	if srcIndex < 0 {
		return sql.ErrNoRows
	}

	touched := src
	if headerID == item.HeaderID {
		if err := position.MoveWithinList(src, srcIndex, index); err != nil {
			return err
		}
	} else {
		dst, err := activeItems(ctx, tx, headerID)
		if err != nil {
			return err
		}
		for id, pos := range itemPositions(dst) {
			before[id] = pos
		}
		src, dst, err = position.MoveAcrossLists(src, dst, srcIndex, index, headerID)
		if err != nil {
			return err
		}
		for _, i := range dst {
			if i.ID == itemID {
				i.PlateID = destPlateID
			}
		}
		touched = append(append([]*model.PlateItem{}, src...), dst...)
	}

	changed, err := persistItemPositions(ctx, tx, touched, before)
	if err != nil {
		return err
	}
	result.Changed = changed
	for _, i := range touched {
		if i.ID == itemID {
			result.Item = *i
		}
	}
	return nil
}

func itemPositions(list []*model.PlateItem) map[string]slot {
	out := make(map[string]slot, len(list))
	for _, i := range list {
		out[i.ID] = slot{parent: i.HeaderID, pos: i.Position}
	}
	return out
}

func persistItemPositions(ctx context.Context, tx *sql.Tx, list []*model.PlateItem, before map[string]slot) ([]model.PlateItem, error) {
	changed := make([]model.PlateItem, 0)
	for _, i := range list {
		if prev, ok := before[i.ID]; ok && prev.parent == i.HeaderID && prev.pos == i.Position {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE plate_items SET header_id=$2, plate_id=$3, pos=$4, updated_at=NOW() WHERE id=$1
		`, i.ID, i.HeaderID, i.PlateID, i.Position); err != nil {
			return nil, fmt.Errorf("update plate item position: %w", err)
		}
		changed = append(changed, *i)
	}
	return changed, nil
}

// lockRow takes a row lock on table.id for the rest of the transaction.
func lockRow(ctx context.Context, tx *sql.Tx, table, id string) error {
	var locked string
	err := tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE id=$1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		return err
	}
	return nil
}

// errStaleParent means the row changed parent between the first read and
// taking the parent locks.
var errStaleParent = errors.New("row moved while waiting for lock")

const staleRetries = 3

// checkParent re-reads a row's parent column after the parent locks are held.
func checkParent(ctx context.Context, tx *sql.Tx, query, id, expected string) error {
	var current string
	if err := tx.QueryRowContext(ctx, query, id).Scan(&current); err != nil {
		return err
	}
	if current != expected {
		return errStaleParent
	}
	return nil
}

// retryStale reruns a move transaction that lost a race for its parent rows.
func retryStale(fn func() error) error {
	var err error
	for attempt := 0; attempt < staleRetries; attempt++ {
		if err = fn(); !errors.Is(err, errStaleParent) {
			return err
		}
	}
	return err
}

// lockRows locks two rows of the same table in a stable order.
func lockRows(ctx context.Context, tx *sql.Tx, table, a, b string) error {
	if a == b {
		return lockRow(ctx, tx, table, a)
	}
	if b < a {
		a, b = b, a
	}
	if err := lockRow(ctx, tx, table, a); err != nil {
		return err
	}
	return lockRow(ctx, tx, table, b)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
