package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

// SendRepositoryInterface defines the send-record writes the dispatcher needs.
type SendRepositoryInterface interface {
	CreateOrGet(ctx context.Context, campaignID, subscriberID uuid.UUID, email string) (*model.SendRecord, error)
	MarkSent(ctx context.Context, id uuid.UUID, messageID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

type SendRepository struct {
	DB *sql.DB
}

// CreateOrGet is an idempotent insert: the (campaign, subscriber) pair maps
// to a single row, and an existing row is returned unchanged apart from
// updated_at.
func (r *SendRepository) CreateOrGet(ctx context.Context, campaignID, subscriberID uuid.UUID, email string) (*model.SendRecord, error) {
	query := `
        INSERT INTO email_sends (campaign_id, subscriber_id, email, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW(), NOW())
        ON CONFLICT (campaign_id, subscriber_id) DO UPDATE SET updated_at = NOW()
        RETURNING id, campaign_id, subscriber_id, email, status,
                  COALESCE(message_id, ''), COALESCE(error, ''), created_at, updated_at
    `
	var rec model.SendRecord
	err := r.DB.QueryRowContext(ctx, query, campaignID, subscriberID, email, model.SendPending).Scan(
		&rec.ID, &rec.CampaignID, &rec.SubscriberID, &rec.Email, &rec.Status,
		&rec.MessageID, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *SendRepository) MarkSent(ctx context.Context, id uuid.UUID, messageID string) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE email_sends
        SET status = $1, message_id = $2, error = NULL, updated_at = NOW()
        WHERE id = $3`,
		model.SendSent, messageID, id)
	return err
}

func (r *SendRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE email_sends
        SET status = $1, error = $2, updated_at = NOW()
        WHERE id = $3`,
		model.SendFailed, lastError, id)
	return err
}

var _ SendRepositoryInterface = (*SendRepository)(nil)
