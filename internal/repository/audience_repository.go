package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

// AudienceRepositoryInterface defines the reads audience resolution needs.
type AudienceRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Audience, error)
	StaticMembers(ctx context.Context, audienceID uuid.UUID) ([]model.Subscriber, error)
	StaticMemberIDs(ctx context.Context, audienceID uuid.UUID) ([]uuid.UUID, error)
	SubscribersByStatus(ctx context.Context, status string, userIDs []uuid.UUID) ([]model.Subscriber, error)
	ProfileIDsBySubscription(ctx context.Context, tier string) ([]uuid.UUID, error)
	SubscriberByID(ctx context.Context, id uuid.UUID) (*model.Subscriber, error)
}

// AudienceRepository is the concrete implementation
type AudienceRepository struct {
	DB *sql.DB
}

const subscriberColumns = `s.id, s.email, s.status, s.user_id, s.metadata`

func scanSubscriber(row rowScanner) (*model.Subscriber, error) {
	var (
		s        model.Subscriber
		userID   uuid.NullUUID
		metadata []byte
	)
	if err := row.Scan(&s.ID, &s.Email, &s.Status, &userID, &metadata); err != nil {
		return nil, err
	}
	if userID.Valid {
		id := userID.UUID
		s.UserID = &id
	}
	// One malformed row must not drop the whole audience; the subscriber is
	// kept with default personalization.
	md, err := model.ParseMetadata(metadata)
	if err != nil {
		logrus.WithError(err).WithField("subscriber_id", s.ID).Warn("Ignoring unreadable subscriber metadata")
	}
	s.Metadata = md
	return &s, nil
}

func collectSubscribers(rows *sql.Rows) ([]model.Subscriber, error) {
	defer rows.Close()

	subscribers := []model.Subscriber{}
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subscribers = append(subscribers, *s)
	}
	return subscribers, rows.Err()
}

func collectIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetByID fetches an audience. A missing audience returns nil, nil.
func (r *AudienceRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Audience, error) {
	var (
		a       model.Audience
		filters []byte
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, filters FROM email_audiences WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &filters)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not found
		}
		return nil, err
	}

	a.Filters, err = model.ParseFilters(filters)
	if err != nil {
		return nil, fmt.Errorf("audience %s filters: %w", id, err)
	}
	return &a, nil
}

// StaticMembers returns every subscriber in the audience's junction table,
// whatever their status.
func (r *AudienceRepository) StaticMembers(ctx context.Context, audienceID uuid.UUID) ([]model.Subscriber, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT `+subscriberColumns+`
        FROM email_audience_subscribers eas
        JOIN subscribers s ON s.id = eas.subscriber_id
        WHERE eas.audience_id = $1`, audienceID)
	if err != nil {
		return nil, err
	}
	return collectSubscribers(rows)
}

func (r *AudienceRepository) StaticMemberIDs(ctx context.Context, audienceID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT subscriber_id FROM email_audience_subscribers WHERE audience_id = $1`, audienceID)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

// SubscribersByStatus returns subscribers with the given status. A non-nil
// userIDs restricts the result to those users; nil means no restriction.
func (r *AudienceRepository) SubscribersByStatus(ctx context.Context, status string, userIDs []uuid.UUID) ([]model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers s WHERE s.status = $1`
	args := []interface{}{status}

	if userIDs != nil {
		ids := make([]string, 0, len(userIDs))
		for _, id := range userIDs {
			ids = append(ids, id.String())
		}
		query += ` AND s.user_id = ANY($2)`
		args = append(args, pq.Array(ids))
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSubscribers(rows)
}

func (r *AudienceRepository) ProfileIDsBySubscription(ctx context.Context, tier string) ([]uuid.UUID, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM profiles WHERE subscription = $1`, tier)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *AudienceRepository) SubscriberByID(ctx context.Context, id uuid.UUID) (*model.Subscriber, error) {
	s, err := scanSubscriber(r.DB.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers s WHERE s.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewSubscriberNotFound(id)
		}
		return nil, err
	}
	return s, nil
}

var _ AudienceRepositoryInterface = (*AudienceRepository)(nil)
