package queue

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

// DecodeDispatchEvent accepts the event as published in-process or as the
// JSON body delivered by a broker.
func DecodeDispatchEvent(payload any) (model.DispatchEvent, error) {
	switch p := payload.(type) {
	case model.DispatchEvent:
		return p, nil
	case *model.DispatchEvent:
		return *p, nil
	case json.RawMessage:
		return unmarshalEvent(p)
	case []byte:
		return unmarshalEvent(p)
	}
	return model.DispatchEvent{}, fmt.Errorf("unexpected payload type %T", payload)
}

func unmarshalEvent(b []byte) (model.DispatchEvent, error) {
	var ev model.DispatchEvent
	err := json.Unmarshal(b, &ev)
	return ev, err
}

// StartDispatchLogSubscriber logs every finished campaign.
func StartDispatchLogSubscriber(q Queue) error {
	return q.Subscribe(TopicCampaignDispatched, func(payload any) error {
		ev, err := DecodeDispatchEvent(payload)
		if err != nil {
			logrus.WithError(err).Warn("Dropping malformed dispatch event")
			return nil // no retry
		}

		logrus.WithFields(logrus.Fields{
			"campaign_id":      ev.CampaignID,
			"name":             ev.Name,
			"status":           ev.Status,
			"total_recipients": ev.TotalRecipients,
			"sent":             ev.Sent,
			"failed":           ev.Failed,
		}).Info("Campaign dispatched")
		return nil
	})
}
