// internal/controller/dispatch_controller.go
package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatcher/internal/logging"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

// ScheduledProcessor runs one dispatch pass.
type ScheduledProcessor interface {
	ProcessScheduled(ctx context.Context) (*service.Report, error)
}

type DispatchController struct {
	Processor ScheduledProcessor
	Status    *service.StatusTracker
	Auth      CronAuth

	// ConfigError reports missing provider configuration. Nil means
	// everything is configured.
	ConfigError func() error
}

// ProcessScheduled is the cron entry point.
func (c *DispatchController) ProcessScheduled(w http.ResponseWriter, r *http.Request) {
	c.Status.RecordExecution()

	ok, via := c.Auth.Authorized(r)
	if !ok {
		logrus.WithField("user_agent", r.UserAgent()).Warn("Unauthorized cron request")
		writeError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	logrus.WithField("via", via).Info("Processing scheduled campaigns")

	if c.ConfigError != nil {
		if err := c.ConfigError(); err != nil {
			logrus.WithError(err).Error("Missing provider configuration")
			writeError(w, http.StatusInternalServerError, "Server configuration error", err.Error())
			return
		}
	}
	if c.Processor == nil {
		writeError(w, http.StatusInternalServerError, "Server configuration error", "dispatcher not initialized")
		return
	}

	// The run outlives the caller: a trigger that times out or hangs up
	// must not stop a campaign halfway through its recipients.
	report, err := c.Processor.ProcessScheduled(context.WithoutCancel(r.Context()))
	if err != nil {
		logging.CaptureError("dispatch_run", err, nil)
		if errors.Is(err, service.ErrFetchDue) {
			writeError(w, http.StatusInternalServerError, "Failed to fetch scheduled campaigns", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ProcessorStatus reports when the dispatcher last ran.
func (c *DispatchController) ProcessorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.Status.Status())
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
