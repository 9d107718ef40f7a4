package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

type CampaignRepositoryInterface interface {
	// Dispatch lifecycle
	ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	ClaimForSending(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error
	Finalize(ctx context.Context, id uuid.UUID, status string, total, sent, failed int) error
	ResetStale(ctx context.Context, olderThan time.Time) (int64, error)
	Touch(ctx context.Context, id uuid.UUID) error

	// Reads
	ListRecent(ctx context.Context, limit int) ([]model.RecentCampaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	GetSendStats(ctx context.Context, id uuid.UUID) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `
    id, name, status,
    COALESCE(subject, ''), COALESCE(html_content, ''), COALESCE(text_content, ''),
    COALESCE(sender_name, ''), COALESCE(sender_email, ''), COALESCE(reply_to_email, ''),
    scheduled_at, sent_at,
    COALESCE(total_recipients, 0), COALESCE(emails_sent, 0), COALESCE(emails_delivered, 0), COALESCE(emails_bounced, 0),
    created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Status,
		&c.Subject, &c.HTMLContent, &c.TextContent,
		&c.SenderName, &c.SenderEmail, &c.ReplyToEmail,
		&c.ScheduledAt, &c.SentAt,
		&c.TotalRecipients, &c.EmailsSent, &c.EmailsDelivered, &c.EmailsBounced,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ====================== Dispatch lifecycle ======================

// ListDue returns scheduled campaigns whose send time has arrived, oldest
// first, with their audience links loaded.
func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM email_campaigns
        WHERE status = $1 AND scheduled_at <= $2
        ORDER BY scheduled_at ASC`

	rows, err := r.DB.QueryContext(ctx, query, model.CampaignScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("query due campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	byID := map[uuid.UUID]*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		return campaigns, nil
	}

	ids := make([]string, 0, len(campaigns))
	for _, c := range campaigns {
		ids = append(ids, c.ID.String())
	}

	linkRows, err := r.DB.QueryContext(ctx, `
        SELECT campaign_id, audience_id, is_excluded
        FROM email_campaign_audiences
        WHERE campaign_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query campaign audiences: %w", err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var campaignID uuid.UUID
		var link model.CampaignAudience
		if err := linkRows.Scan(&campaignID, &link.AudienceID, &link.IsExcluded); err != nil {
			return nil, err
		}
		if c, ok := byID[campaignID]; ok {
			c.Audiences = append(c.Audiences, link)
		}
	}
	return campaigns, linkRows.Err()
}

// ClaimForSending moves a campaign from scheduled to sending. It returns
// false when the campaign was no longer scheduled, i.e. another run owns it.
func (r *CampaignRepository) ClaimForSending(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE email_campaigns
        SET status = $1, updated_at = NOW()
        WHERE id = $2 AND status = $3`,
		model.CampaignSending, id, model.CampaignScheduled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE email_campaigns SET status = $1, updated_at = NOW() WHERE id = $2`,
		model.CampaignFailed, id)
	return err
}

// Finalize records the terminal status and aggregate counts of a dispatch.
// Delivered is recorded equal to sent until bounce feedback arrives.
func (r *CampaignRepository) Finalize(ctx context.Context, id uuid.UUID, status string, total, sent, failed int) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE email_campaigns
        SET status = $1, sent_at = NOW(), total_recipients = $2,
            emails_sent = $3, emails_delivered = $3, emails_bounced = $4, updated_at = NOW()
        WHERE id = $5`,
		status, total, sent, failed, id)
	return err
}

// ResetStale returns campaigns stuck in sending since before olderThan to
// scheduled so the next run picks them up again.
func (r *CampaignRepository) ResetStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE email_campaigns
        SET status = $1, updated_at = NOW()
        WHERE status = $2 AND updated_at < $3`,
		model.CampaignScheduled, model.CampaignSending, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Touch refreshes updated_at on a campaign that is still sending.
func (r *CampaignRepository) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE email_campaigns SET updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, model.CampaignSending)
	return err
}

// ====================== Reads ======================

func (r *CampaignRepository) ListRecent(ctx context.Context, limit int) ([]model.RecentCampaign, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, name, status, sent_at, COALESCE(total_recipients, 0), COALESCE(emails_sent, 0), updated_at
        FROM email_campaigns
        WHERE status = ANY($1)
        ORDER BY updated_at DESC
        LIMIT $2`,
		pq.Array([]string{model.CampaignSent, model.CampaignFailed, model.CampaignSending}), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recent := []model.RecentCampaign{}
	for rows.Next() {
		var c model.RecentCampaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.SentAt, &c.TotalRecipients, &c.EmailsSent, &c.LastUpdated); err != nil {
			return nil, err
		}
		recent = append(recent, c)
	}
	return recent, rows.Err()
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM email_campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM email_campaigns WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM email_campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

// GetSendStats counts the campaign's send records by status.
func (r *CampaignRepository) GetSendStats(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM email_sends WHERE campaign_id=$1 GROUP BY status`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"total": 0, model.SendPending: 0, model.SendSent: 0, model.SendFailed: 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
