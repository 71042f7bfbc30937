package store

import (
	"context"
	"fmt"
	"time"

	"plate/api/internal/model"
)

// Comments

func (s *PostgresStore) ListComments(ctx context.Context, itemID string) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plate_item_id, author_id, author_name, body, created_at, updated_at
		FROM comments WHERE plate_item_id=$1 ORDER BY created_at ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]model.Comment, 0)
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.PlateItemID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, itemID, commentID string) (model.Comment, error) {
	var c model.Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, plate_item_id, author_id, author_name, body, created_at, updated_at
		FROM comments WHERE plate_item_id=$1 AND id=$2
	`, itemID, commentID).Scan(&c.ID, &c.PlateItemID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) CreateComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, plate_item_id, author_id, author_name, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, c.ID, c.PlateItemID, c.AuthorID, c.AuthorName, c.Body).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Comment{}, fmt.Errorf("create comment: %w", translate(err))
	}
	return c, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, itemID, commentID, body string) error {
	return s.execOne(ctx, "update comment", `
		UPDATE comments SET body=$3, updated_at=NOW() WHERE plate_item_id=$1 AND id=$2
	`, itemID, commentID, body)
}

func (s *PostgresStore) DeleteComment(ctx context.Context, itemID, commentID string) error {
	return s.execOne(ctx, "delete comment", `DELETE FROM comments WHERE plate_item_id=$1 AND id=$2`, itemID, commentID)
}

// Metrics

func (s *PostgresStore) ListMetrics(ctx context.Context, itemID string) ([]model.Metric, error) {
	return s.queryMetrics(ctx, `
		SELECT id, plate_item_id, name, value, unit, created_by, created_at
		FROM metrics WHERE plate_item_id=$1 ORDER BY created_at ASC
	`, itemID)
}

// ListPlateMetrics returns the metrics of every active card on the plate.
func (s *PostgresStore) ListPlateMetrics(ctx context.Context, plateID string) ([]model.Metric, error) {
	return s.queryMetrics(ctx, `
		SELECT m.id, m.plate_item_id, m.name, m.value, m.unit, m.created_by, m.created_at
		FROM metrics m
		JOIN plate_items i ON i.id = m.plate_item_id
		WHERE i.plate_id=$1 AND i.archived = FALSE
		ORDER BY m.name, m.created_at
	`, plateID)
}

func (s *PostgresStore) queryMetrics(ctx context.Context, query string, args ...any) ([]model.Metric, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	items := make([]model.Metric, 0)
	for rows.Next() {
		var m model.Metric
		if err := rows.Scan(&m.ID, &m.PlateItemID, &m.Name, &m.Value, &m.Unit, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateMetric(ctx context.Context, m model.Metric) (model.Metric, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO metrics (id, plate_item_id, name, value, unit, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, m.ID, m.PlateItemID, m.Name, m.Value, m.Unit, m.CreatedBy).Scan(&m.CreatedAt)
	if err != nil {
		return model.Metric{}, fmt.Errorf("create metric: %w", translate(err))
	}
	return m, nil
}

func (s *PostgresStore) DeleteMetric(ctx context.Context, itemID, metricID string) error {
	return s.execOne(ctx, "delete metric", `DELETE FROM metrics WHERE plate_item_id=$1 AND id=$2`, itemID, metricID)
}

// Notifications

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, filter NotificationFilter) ([]model.Notification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, message, COALESCE(plate_id, ''), COALESCE(plate_item_id, ''), COALESCE(actor_id, ''), read, created_at
		FROM notifications
		WHERE user_id=$1 AND (NOT $2::boolean OR read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, filter.UnreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &n.PlateID, &n.PlateItemID, &n.ActorID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, message, plate_id, plate_item_id, actor_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
		RETURNING created_at
	`, n.ID, n.UserID, n.Kind, n.Message, n.PlateID, n.PlateItemID, n.ActorID).Scan(&n.CreatedAt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) SetNotificationRead(ctx context.Context, userID, notificationID string, read bool) error {
	return s.execOne(ctx, "update notification", `
		UPDATE notifications SET read=$3 WHERE user_id=$1 AND id=$2
	`, userID, notificationID, read)
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET read=TRUE WHERE user_id=$1 AND read = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, userID, notificationID string) error {
	return s.execOne(ctx, "delete notification", `DELETE FROM notifications WHERE user_id=$1 AND id=$2`, userID, notificationID)
}

// PurgeNotifications deletes read notifications created before cutoff.
func (s *PostgresStore) PurgeNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE read = TRUE AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return result.RowsAffected()
}

// Connected apps

func (s *PostgresStore) ListConnectedApps(ctx context.Context, userID string) ([]model.ConnectedApp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, app, external_account, access_token, connected_at
		FROM connected_apps WHERE user_id=$1 ORDER BY connected_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list connected apps: %w", err)
	}
	defer rows.Close()

	items := make([]model.ConnectedApp, 0)
	for rows.Next() {
		var a model.ConnectedApp
		if err := rows.Scan(&a.ID, &a.UserID, &a.App, &a.ExternalAccount, &a.AccessToken, &a.ConnectedAt); err != nil {
			return nil, fmt.Errorf("scan connected app: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connected apps: %w", err)
	}
	return items, nil
}

// UpsertConnectedApp stores the connection, replacing any previous one for
// the same app.
func (s *PostgresStore) UpsertConnectedApp(ctx context.Context, a model.ConnectedApp) (model.ConnectedApp, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO connected_apps (id, user_id, app, external_account, access_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, app) DO UPDATE
			SET external_account=EXCLUDED.external_account, access_token=EXCLUDED.access_token, connected_at=NOW()
		RETURNING id, connected_at
	`, a.ID, a.UserID, a.App, a.ExternalAccount, a.AccessToken).Scan(&a.ID, &a.ConnectedAt)
	if err != nil {
		return model.ConnectedApp{}, fmt.Errorf("upsert connected app: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) DeleteConnectedApp(ctx context.Context, userID, appID string) error {
	return s.execOne(ctx, "delete connected app", `DELETE FROM connected_apps WHERE user_id=$1 AND id=$2`, userID, appID)
}

// Attachments

const attachmentColumns = `id, plate_item_id, source, name, content_type, size, object_key, external_url, created_by, created_at`

func (s *PostgresStore) ListAttachments(ctx context.Context, itemID string) ([]model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attachmentColumns+` FROM attachments WHERE plate_item_id=$1 ORDER BY created_at ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]model.Attachment, 0)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func scanAttachment(row interface{ Scan(...any) error }) (model.Attachment, error) {
	var a model.Attachment
	err := row.Scan(&a.ID, &a.PlateItemID, &a.Source, &a.Name, &a.ContentType, &a.Size, &a.ObjectKey, &a.ExternalURL, &a.CreatedBy, &a.CreatedAt)
	return a, err
}

func (s *PostgresStore) GetAttachment(ctx context.Context, itemID, attachmentID string) (model.Attachment, error) {
	return scanAttachment(s.db.QueryRowContext(ctx, `
		SELECT `+attachmentColumns+` FROM attachments WHERE plate_item_id=$1 AND id=$2
	`, itemID, attachmentID))
}

func (s *PostgresStore) CreateAttachment(ctx context.Context, a model.Attachment) (model.Attachment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO attachments (id, plate_item_id, source, name, content_type, size, object_key, external_url, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, a.ID, a.PlateItemID, a.Source, a.Name, a.ContentType, a.Size, a.ObjectKey, a.ExternalURL, a.CreatedBy).Scan(&a.CreatedAt)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("create attachment: %w", translate(err))
	}
	return a, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, itemID, attachmentID string) error {
	return s.execOne(ctx, "delete attachment", `DELETE FROM attachments WHERE plate_item_id=$1 AND id=$2`, itemID, attachmentID)
}
