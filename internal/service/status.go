// internal/service/status.go
package service

import (
	"fmt"
	"sync"
	"time"
)

// StatusTracker remembers when the dispatch endpoint last ran. It lives in
// process memory and resets on restart.
type StatusTracker struct {
	mu   sync.RWMutex
	last *time.Time
	now  func() time.Time
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{now: time.Now}
}

// ProcessorStatus is the diagnostic payload of the GET endpoint.
type ProcessorStatus struct {
	Message                string  `json:"message"`
	CurrentTime            string  `json:"currentTime"`
	LastExecutionTime      *string `json:"lastExecutionTime"`
	TimeSinceLastExecution string  `json:"timeSinceLastExecution"`
	CronSchedule           string  `json:"cronSchedule"`
	NextExpectedExecution  string  `json:"nextExpectedExecution"`
}

func (s *StatusTracker) RecordExecution() {
	t := s.now()
	s.mu.Lock()
	s.last = &t
	s.mu.Unlock()
}

func (s *StatusTracker) LastExecution() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return time.Time{}, false
	}
	return *s.last, true
}

func (s *StatusTracker) Status() ProcessorStatus {
	now := s.now()
	st := ProcessorStatus{
		Message:                "Scheduled campaign processor status",
		CurrentTime:            now.UTC().Format(time.RFC3339Nano),
		TimeSinceLastExecution: "Never executed",
		CronSchedule:           "Every minute",
		NextExpectedExecution:  "Unknown",
	}

	last, ok := s.LastExecution()
	if !ok {
		return st
	}

	formatted := last.UTC().Format(time.RFC3339Nano)
	st.LastExecutionTime = &formatted
	st.TimeSinceLastExecution = fmt.Sprintf("%d minutes ago", int(now.Sub(last)/time.Minute))
	st.NextExpectedExecution = last.Add(time.Minute).UTC().Format(time.RFC3339Nano)
	return st
}
