package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository handles database operations for contacts and alert history
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateContact inserts a new emergency contact
func (r *Repository) CreateContact(ctx context.Context, contact *Contact) error {
	query := `
		INSERT INTO contacts (id, device_id, name, phone, relation)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		contact.ID,
		contact.DeviceID,
		contact.Name,
		contact.Phone,
		contact.Relation,
	).Scan(&contact.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create contact",
			zap.Error(err),
			zap.String("contact_id", contact.ID.String()),
		)
		return fmt.Errorf("insert contact: %w", err)
	}

	r.logger.Info("contact created",
		zap.String("contact_id", contact.ID.String()),
		zap.String("device_id", contact.DeviceID),
	)

	return nil
}

// ListContacts returns a device's contacts in creation order
func (r *Repository) ListContacts(ctx context.Context, deviceID string) ([]*Contact, error) {
	query := `
		SELECT id, device_id, name, phone, relation, created_at
		FROM contacts
		WHERE device_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := []*Contact{}
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Name, &c.Phone, &c.Relation, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, &c)
	}

	return contacts, rows.Err()
}

// DeleteContact removes a contact on user request
func (r *Repository) DeleteContact(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("contact deleted", zap.String("contact_id", id.String()))
	return nil
}

// CreateAlert records one completed dispatch attempt. Exactly one row per
// dispatch, successful or not.
func (r *Repository) CreateAlert(ctx context.Context, alert *EmergencyAlert) error {
	query := `
		INSERT INTO alerts (
			id, device_id, timestamp_ms, lat, lng,
			audio_clip_url, photo_url, status, message, channel_used
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		alert.ID,
		alert.DeviceID,
		alert.Timestamp,
		alert.Lat,
		alert.Lng,
		alert.AudioClipURL,
		alert.PhotoURL,
		alert.Status,
		alert.Message,
		alert.ChannelUsed,
	).Scan(&alert.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create alert",
			zap.Error(err),
			zap.String("alert_id", alert.ID.String()),
		)
		return fmt.Errorf("insert alert: %w", err)
	}

	r.logger.Info("alert recorded",
		zap.String("alert_id", alert.ID.String()),
		zap.String("device_id", alert.DeviceID),
		zap.String("status", alert.Status),
	)

	return nil
}

// ListAlerts returns a device's alert history, newest first
func (r *Repository) ListAlerts(ctx context.Context, deviceID string, limit, offset int) ([]*EmergencyAlert, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
		SELECT id, device_id, timestamp_ms, lat, lng,
		       audio_clip_url, photo_url, status, message, channel_used, created_at
		FROM alerts
		WHERE device_id = $1
		ORDER BY timestamp_ms DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, deviceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*EmergencyAlert{}
	for rows.Next() {
		var a EmergencyAlert
		if err := rows.Scan(
			&a.ID, &a.DeviceID, &a.Timestamp, &a.Lat, &a.Lng,
			&a.AudioClipURL, &a.PhotoURL, &a.Status, &a.Message, &a.ChannelUsed, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// GetAlert retrieves one alert by ID
func (r *Repository) GetAlert(ctx context.Context, id uuid.UUID) (*EmergencyAlert, error) {
	query := `
		SELECT id, device_id, timestamp_ms, lat, lng,
		       audio_clip_url, photo_url, status, message, channel_used, created_at
		FROM alerts
		WHERE id = $1
	`

	var a EmergencyAlert
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&a.ID, &a.DeviceID, &a.Timestamp, &a.Lat, &a.Lng,
		&a.AudioClipURL, &a.PhotoURL, &a.Status, &a.Message, &a.ChannelUsed, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}

	return &a, nil
}

// UpdateAlertStatus advances an alert through the responder flow
// (sent -> responded -> resolved). All other fields are immutable.
func (r *Repository) UpdateAlertStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE alerts SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("alert status updated",
		zap.String("alert_id", id.String()),
		zap.String("status", status),
	)
	return nil
}
