package activity

import (
	"context"
	"database/sql"
	"fmt"

	"plate/api/internal/model"
)

// PostgresFeed keeps the activity feed in the activities table. It is used
// when MongoDB is not configured.
type PostgresFeed struct {
	db *sql.DB
}

func NewPostgresFeed(db *sql.DB) *PostgresFeed {
	return &PostgresFeed{db: db}
}

func (f *PostgresFeed) Record(ctx context.Context, entry model.Activity) error {
	_, err := f.db.ExecContext(ctx, `
		INSERT INTO activities (id, user_id, user_name, team_id, plate_id, plate_item_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)
	`, entry.ID, entry.UserID, entry.UserName, entry.TeamID, entry.PlateID, entry.PlateItemID, entry.Action, entry.Detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (f *PostgresFeed) List(ctx context.Context, filter Filter) ([]model.Activity, error) {
	rows, err := f.db.QueryContext(ctx, `
		SELECT id, user_id, user_name, team_id, COALESCE(plate_id, ''), COALESCE(plate_item_id, ''), action, detail, created_at
		FROM activities
		WHERE team_id=$1
			AND ($2 = '' OR plate_id=$2)
			AND ($3 = '' OR plate_item_id=$3)
			AND ($4 = '' OR user_id=$4)
		ORDER BY created_at DESC
		LIMIT $5
	`, filter.TeamID, filter.PlateID, filter.PlateItemID, filter.UserID, filter.limit())
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := make([]model.Activity, 0)
	for rows.Next() {
		var a model.Activity
		if err := rows.Scan(&a.ID, &a.UserID, &a.UserName, &a.TeamID, &a.PlateID, &a.PlateItemID, &a.Action, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, nil
}
