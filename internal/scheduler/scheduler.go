// Package scheduler calls the dispatch endpoint on a fixed interval, for
// deployments without a platform cron.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

const userAgent = "Internal-Scheduler"

// Response is the part of the dispatch response the trigger logs.
type Response struct {
	Message   string                 `json:"message"`
	Processed int                    `json:"processed"`
	Results   []model.DispatchResult `json:"results"`
	Skipped   bool                   `json:"skipped"`
}

// Trigger POSTs the dispatch endpoint. Ticks that arrive while a call is
// still in flight are dropped.
type Trigger struct {
	Endpoint string
	Secret   string
	Interval time.Duration
	Client   *http.Client

	running atomic.Bool
}

func New(endpoint, secret string, interval, timeout time.Duration) *Trigger {
	return &Trigger{
		Endpoint: endpoint,
		Secret:   secret,
		Interval: interval,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Run fires once immediately and then on every interval until ctx is done.
func (t *Trigger) Run(ctx context.Context) {
	logrus.WithFields(logrus.Fields{
		"endpoint": t.Endpoint,
		"interval": t.Interval.String(),
	}).Info("Scheduler started")

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	go t.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Scheduler stopped")
			return
		case <-ticker.C:
			go t.Tick(ctx)
		}
	}
}

// Tick performs one call unless another is running. It reports whether a
// call was made.
func (t *Trigger) Tick(ctx context.Context) bool {
	if !t.running.CompareAndSwap(false, true) {
		logrus.Warn("Previous scheduler run still in progress, skipping tick")
		return false
	}
	defer t.running.Store(false)

	resp, err := t.Call(ctx)
	if err != nil {
		logrus.WithError(err).Error("Scheduler call failed")
		return true
	}

	log := logrus.WithField("processed", resp.Processed)
	if resp.Skipped {
		log.Info("Dispatch already in progress elsewhere")
		return true
	}
	log.Info(resp.Message)
	for _, r := range resp.Results {
		logrus.WithFields(logrus.Fields{
			"campaign": r.Name,
			"status":   r.Status,
			"sent":     r.Sent,
			"total":    r.TotalRecipients,
			"error":    r.Error,
		}).Info("Campaign result")
	}
	return true
}

// Call makes a single authenticated POST and decodes the response.
func (t *Trigger) Call(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if t.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+t.Secret)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call dispatch endpoint: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dispatch endpoint returned %d: %s", res.StatusCode, body)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode dispatch response: %w", err)
	}
	return &out, nil
}
