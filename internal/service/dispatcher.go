// internal/service/dispatcher.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatcher/internal/lock"
	"github.com/unclebandit/campaign-dispatcher/internal/logging"
	"github.com/unclebandit/campaign-dispatcher/internal/mailer"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/personalize"
	"github.com/unclebandit/campaign-dispatcher/internal/queue"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
)

// ErrFetchDue wraps failures to load the due campaigns. Nothing has been
// sent when it is returned.
var ErrFetchDue = errors.New("failed to fetch scheduled campaigns")

const recentLimit = 5

// DispatchOptions tunes the send loop.
type DispatchOptions struct {
	BatchSending       bool
	BatchSize          int
	BatchDelay         time.Duration
	SendDelay          time.Duration
	StaleSendingAfter  time.Duration
	DefaultSenderName  string
	DefaultSenderEmail string
}

// Dispatcher sends every scheduled campaign whose time has come.
type Dispatcher struct {
	Campaigns    repository.CampaignRepositoryInterface
	Sends        repository.SendRepositoryInterface
	Audiences    *AudienceResolver
	Layout       *LayoutRenderer
	Personalizer *personalize.Personalizer
	Sender       mailer.Sender
	Lock         lock.Locker
	Queue        queue.Queue
	Options      DispatchOptions

	Now func() time.Time
}

// Report is the outcome of one dispatcher run.
type Report struct {
	Message           string
	Processed         int
	Results           []model.DispatchResult
	RecentlyProcessed []model.RecentCampaign
	Skipped           bool
}

// MarshalJSON emits results for a run that found work, recentlyProcessed
// for one that did not, and skipped when another run held the lock.
func (r Report) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"message":   r.Message,
		"processed": r.Processed,
	}
	switch {
	case r.Skipped:
		out["skipped"] = true
	case r.RecentlyProcessed != nil:
		out["recentlyProcessed"] = r.RecentlyProcessed
	default:
		results := r.Results
		if results == nil {
			results = []model.DispatchResult{}
		}
		out["results"] = results
	}
	return json.Marshal(out)
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// ProcessScheduled runs one dispatch pass. Per-campaign failures are
// reported in the results; only a failure to load due campaigns or to take
// the lock is returned as an error.
func (d *Dispatcher) ProcessScheduled(ctx context.Context) (*Report, error) {
	if d.Lock != nil {
		ok, err := d.Lock.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			logrus.Info("Another dispatch run holds the lock, skipping")
			return &Report{Message: "Dispatch already in progress", Skipped: true}, nil
		}
		defer func() {
			// Release even if ctx was cancelled mid-run.
			if err := d.Lock.Release(context.WithoutCancel(ctx)); err != nil {
				logrus.WithError(err).Warn("Failed to release dispatch lock")
			}
		}()
	}

	if d.Options.StaleSendingAfter > 0 {
		n, err := d.Campaigns.ResetStale(ctx, d.now().Add(-d.Options.StaleSendingAfter))
		if err != nil {
			logrus.WithError(err).Warn("Failed to reset stale sending campaigns")
		} else if n > 0 {
			logrus.WithField("count", n).Warn("Returned stale sending campaigns to scheduled")
		}
	}

	now := d.now()
	logrus.WithField("before", now.UTC().Format(time.RFC3339)).Info("Looking for due campaigns")

	campaigns, err := d.Campaigns.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchDue, err)
	}

	if len(campaigns) == 0 {
		recent, err := d.Campaigns.ListRecent(ctx, recentLimit)
		if err != nil {
			logrus.WithError(err).Warn("Failed to load recently processed campaigns")
			recent = []model.RecentCampaign{}
		}
		return &Report{
			Message:           "No scheduled campaigns to process",
			Processed:         0,
			RecentlyProcessed: recent,
		}, nil
	}

	logrus.WithField("count", len(campaigns)).Info("Found scheduled campaigns to process")

	results := make([]model.DispatchResult, 0, len(campaigns))
	for _, c := range campaigns {
		res, ok := d.processCampaign(ctx, c)
		if !ok {
			continue
		}
		results = append(results, res)
		d.publish(res)
	}

	logrus.WithField("count", len(campaigns)).Info("Processed scheduled campaigns")

	return &Report{
		Message:   fmt.Sprintf("Successfully processed %d scheduled campaigns", len(campaigns)),
		Processed: len(campaigns),
		Results:   results,
	}, nil
}

// processCampaign dispatches one campaign. ok is false when another run
// claimed the campaign first.
func (d *Dispatcher) processCampaign(ctx context.Context, c *model.Campaign) (model.DispatchResult, bool) {
	log := logrus.WithFields(logrus.Fields{"campaign_id": c.ID, "campaign": c.Name})
	log.Info("Processing campaign")

	res := model.DispatchResult{CampaignID: c.ID, Name: c.Name, Status: model.CampaignFailed}

	claimed, err := d.Campaigns.ClaimForSending(ctx, c.ID)
	if err != nil {
		log.WithError(err).Error("Failed to update campaign status")
		res.Error = "Failed to update status"
		return res, true
	}
	if !claimed {
		log.Info("Campaign already claimed by another run")
		return res, false
	}

	included, excluded := c.AudienceIDs()
	log.WithFields(logrus.Fields{"included": len(included), "excluded": len(excluded)}).Info("Campaign audiences")

	if len(included) == 0 {
		log.Warn("Campaign has no target audiences")
		d.markFailed(ctx, c)
		res.Error = "No target audiences"
		return res, true
	}

	if err := d.sendCampaign(ctx, c, included, excluded, &res); err != nil {
		logging.CaptureError("campaign_dispatch", err, logrus.Fields{"campaign_id": c.ID})
		d.markFailed(ctx, c)
		res = model.DispatchResult{CampaignID: c.ID, Name: c.Name, Status: model.CampaignFailed, Error: err.Error()}
	}
	return res, true
}

func (d *Dispatcher) sendCampaign(ctx context.Context, c *model.Campaign, included, excluded []uuid.UUID, res *model.DispatchResult) error {
	subscribers, err := d.Audiences.ResolveSubscribers(ctx, included, excluded)
	if err != nil {
		return err
	}

	if len(subscribers) == 0 {
		logrus.WithField("campaign_id", c.ID).Warn("Campaign has no target subscribers")
		if err := d.Campaigns.Finalize(context.WithoutCancel(ctx), c.ID, model.CampaignSent, 0, 0, 0); err != nil {
			return fmt.Errorf("finalize campaign: %w", err)
		}
		res.Status = model.CampaignSent
		return nil
	}

	base, err := d.Layout.Render(c)
	if err != nil {
		return err
	}

	var sent, failed int
	if d.Options.BatchSending {
		sent, failed = d.sendBatched(ctx, c, base, subscribers)
	} else {
		sent, failed = d.sendSequential(ctx, c, base, subscribers)
	}

	total := len(subscribers)
	status := model.CampaignSent
	if failed == total {
		status = model.CampaignFailed
	}

	// A claimed campaign must leave sending even when the run was cancelled.
	if err := d.Campaigns.Finalize(context.WithoutCancel(ctx), c.ID, status, total, sent, failed); err != nil {
		logging.CaptureError("campaign_finalize", err, logrus.Fields{"campaign_id": c.ID})
	}

	res.Status = status
	res.TotalRecipients = total
	res.Sent = sent
	res.Failed = failed
	res.SuccessRate = int(math.Round(float64(sent) / float64(total) * 100))

	logrus.WithFields(logrus.Fields{
		"campaign_id":  c.ID,
		"sent":         sent,
		"total":        total,
		"success_rate": res.SuccessRate,
	}).Info("Campaign completed")
	return nil
}

func (d *Dispatcher) sendSequential(ctx context.Context, c *model.Campaign, base *RenderedEmail, subs []model.Subscriber) (sent, failed int) {
	every := d.chunkSize()
	for i := range subs {
		if ctx.Err() != nil {
			return sent, failed + len(subs) - i
		}
		if i > 0 && i%every == 0 {
			d.heartbeat(ctx, c)
		}
		if err := d.sendOne(ctx, c, base, &subs[i]); err != nil {
			failed++
		} else {
			sent++
		}
		if err := sleepCtx(ctx, d.Options.SendDelay); err != nil {
			return sent, failed + len(subs) - i - 1
		}
	}
	return sent, failed
}

func (d *Dispatcher) sendBatched(ctx context.Context, c *model.Campaign, base *RenderedEmail, subs []model.Subscriber) (sent, failed int) {
	size := d.chunkSize()

	for start := 0; start < len(subs); start += size {
		if ctx.Err() != nil {
			return sent, failed + len(subs) - start
		}
		if start > 0 {
			d.heartbeat(ctx, c)
		}
		end := min(start+size, len(subs))

		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(sub *model.Subscriber) {
				defer wg.Done()
				err := d.sendOne(ctx, c, base, sub)
				mu.Lock()
				if err != nil {
					failed++
				} else {
					sent++
				}
				mu.Unlock()
			}(&subs[i])
		}
		wg.Wait()

		logrus.WithFields(logrus.Fields{
			"campaign_id": c.ID,
			"batch":       start/size + 1,
			"sent":        sent,
			"failed":      failed,
		}).Debug("Batch complete")

		if end < len(subs) {
			if err := sleepCtx(ctx, d.Options.BatchDelay); err != nil {
				return sent, failed + len(subs) - end
			}
		}
	}
	return sent, failed
}

func (d *Dispatcher) chunkSize() int {
	return max(d.Options.BatchSize, 1)
}

// heartbeat runs once per chunk of a long send. It renews the run lock and
// bumps the campaign's updated_at so stale recovery leaves it alone.
func (d *Dispatcher) heartbeat(ctx context.Context, c *model.Campaign) {
	ctx = context.WithoutCancel(ctx)
	log := logrus.WithField("campaign_id", c.ID)
	if d.Lock != nil {
		if err := d.Lock.Extend(ctx); err != nil {
			log.WithError(err).Warn("Failed to extend dispatch lock")
		}
	}
	if err := d.Campaigns.Touch(ctx, c.ID); err != nil {
		log.WithError(err).Warn("Failed to refresh sending campaign")
	}
}

// sendOne delivers to a single subscriber. The send record is written
// before the provider call; if it cannot be written the email still goes
// out, just untracked.
func (d *Dispatcher) sendOne(ctx context.Context, c *model.Campaign, base *RenderedEmail, sub *model.Subscriber) error {
	log := logrus.WithFields(logrus.Fields{"campaign_id": c.ID, "to": logging.RedactEmail(sub.Email)})

	rec, err := d.Sends.CreateOrGet(ctx, c.ID, sub.ID, sub.Email)
	if err != nil {
		log.WithError(err).Warn("Send record not created, sending untracked")
		rec = nil
	}
	if rec != nil && rec.Status == model.SendSent {
		log.Debug("Already sent, skipping")
		return nil
	}

	html := base.HTML
	if rec != nil {
		html = d.Personalizer.InjectTracking(html, c.ID, sub.ID, rec.ID)
	}

	msg := &mailer.Message{
		To:           sub.Email,
		FromName:     firstNonEmpty(c.SenderName, d.Options.DefaultSenderName),
		FromEmail:    firstNonEmpty(c.SenderEmail, d.Options.DefaultSenderEmail),
		ReplyTo:      c.ReplyToEmail,
		Subject:      d.personalizeIfNeeded(base.Subject, sub),
		HTML:         d.personalizeIfNeeded(html, sub),
		Text:         d.personalizeIfNeeded(base.Text, sub),
		CampaignID:   c.ID.String(),
		SubscriberID: sub.ID.String(),
	}

	result, err := d.Sender.Send(ctx, msg)
	if err != nil {
		log.WithError(err).Warn("Send failed")
		if rec != nil {
			if merr := d.Sends.MarkFailed(ctx, rec.ID, err.Error()); merr != nil {
				log.WithError(merr).Warn("Failed to record send failure")
			}
		}
		return err
	}

	if rec != nil {
		if merr := d.Sends.MarkSent(ctx, rec.ID, result.MessageID); merr != nil {
			log.WithError(merr).Warn("Failed to record send success")
		}
	}
	log.WithField("message_id", result.MessageID).Debug("Sent")
	return nil
}

func (d *Dispatcher) personalizeIfNeeded(content string, sub *model.Subscriber) string {
	if !personalize.HasPersonalizationVariables(content) {
		return content
	}
	return d.Personalizer.Personalize(content, sub)
}

func (d *Dispatcher) markFailed(ctx context.Context, c *model.Campaign) {
	if err := d.Campaigns.MarkFailed(context.WithoutCancel(ctx), c.ID); err != nil {
		logrus.WithError(err).WithField("campaign_id", c.ID).Error("Failed to mark campaign failed")
	}
}

func (d *Dispatcher) publish(res model.DispatchResult) {
	if d.Queue == nil {
		return
	}
	ev := model.DispatchEvent{
		CampaignID:      res.CampaignID,
		Name:            res.Name,
		Status:          res.Status,
		TotalRecipients: res.TotalRecipients,
		Sent:            res.Sent,
		Failed:          res.Failed,
		At:              d.now(),
	}
	if err := d.Queue.Publish(queue.TopicCampaignDispatched, ev); err != nil {
		logrus.WithError(err).Debug("Dispatch event not published")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
