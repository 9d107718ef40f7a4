// internal/service/audience.go
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
)

// AudienceResolver expands audience links into the final recipient list.
type AudienceResolver struct {
	Repo repository.AudienceRepositoryInterface
}

// ResolveSubscribers returns the active subscribers of the included
// audiences, deduplicated in first-seen order, minus every subscriber of
// the excluded audiences.
//
// A missing or unreadable included audience is logged and skipped. A read
// error on an excluded audience is returned so that nobody who opted out of
// a segment gets mailed because of a transient failure.
func (r *AudienceResolver) ResolveSubscribers(ctx context.Context, included, excluded []uuid.UUID) ([]model.Subscriber, error) {
	seen := map[uuid.UUID]bool{}
	var candidates []model.Subscriber

	for _, id := range included {
		subs, err := r.members(ctx, id)
		if err != nil {
			logrus.WithError(err).WithField("audience_id", id).Warn("Skipping audience that could not be read")
			continue
		}
		for _, s := range subs {
			if !s.IsActive() || seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			candidates = append(candidates, s)
		}
	}

	excludedIDs := map[uuid.UUID]bool{}
	for _, id := range excluded {
		ids, err := r.memberIDs(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read excluded audience %s: %w", id, err)
		}
		for _, sid := range ids {
			excludedIDs[sid] = true
		}
	}

	result := make([]model.Subscriber, 0, len(candidates))
	for _, s := range candidates {
		if !excludedIDs[s.ID] {
			result = append(result, s)
		}
	}

	logrus.WithFields(logrus.Fields{
		"included_audiences": len(included),
		"excluded_audiences": len(excluded),
		"candidates":         len(candidates),
		"excluded":           len(candidates) - len(result),
		"recipients":         len(result),
	}).Info("Resolved campaign audience")

	return result, nil
}

// members loads the subscribers an audience selects, regardless of status.
func (r *AudienceResolver) members(ctx context.Context, audienceID uuid.UUID) ([]model.Subscriber, error) {
	audience, err := r.Repo.GetByID(ctx, audienceID)
	if err != nil {
		return nil, err
	}
	if audience == nil {
		logrus.WithField("audience_id", audienceID).Warn("Audience not found")
		return nil, nil
	}

	if audience.IsStatic() {
		return r.Repo.StaticMembers(ctx, audienceID)
	}

	status, userIDs, ok, err := r.dynamicCriteria(ctx, audience)
	if err != nil || !ok {
		return nil, err
	}
	return r.Repo.SubscribersByStatus(ctx, status, userIDs)
}

func (r *AudienceResolver) memberIDs(ctx context.Context, audienceID uuid.UUID) ([]uuid.UUID, error) {
	audience, err := r.Repo.GetByID(ctx, audienceID)
	if err != nil {
		return nil, err
	}
	if audience == nil {
		logrus.WithField("audience_id", audienceID).Warn("Excluded audience not found")
		return nil, nil
	}

	if audience.IsStatic() {
		return r.Repo.StaticMemberIDs(ctx, audienceID)
	}

	status, userIDs, ok, err := r.dynamicCriteria(ctx, audience)
	if err != nil || !ok {
		return nil, err
	}
	subs, err := r.Repo.SubscribersByStatus(ctx, status, userIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

// dynamicCriteria evaluates a dynamic audience's rules. ok is false when a
// subscription rule matches no profile, in which case the audience selects
// nobody.
func (r *AudienceResolver) dynamicCriteria(ctx context.Context, a *model.Audience) (status string, userIDs []uuid.UUID, ok bool, err error) {
	status, tier := a.RuleValues()
	if status == "" {
		status = model.SubscriberActive
	}
	if tier == "" {
		return status, nil, true, nil
	}

	userIDs, err = r.Repo.ProfileIDsBySubscription(ctx, tier)
	if err != nil {
		return "", nil, false, err
	}
	if len(userIDs) == 0 {
		logrus.WithFields(logrus.Fields{"audience_id": a.ID, "subscription": tier}).
			Info("No profiles match subscription rule")
		return "", nil, false, nil
	}
	return status, userIDs, true, nil
}
