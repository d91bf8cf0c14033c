package services

import (
	"fmt"
	"strings"
	"sync"

	"github.com/containrrr/shoutrrr"

	"github.com/Wikid82/argus/backend/internal/logger"
	"github.com/Wikid82/argus/backend/internal/models"
)

// Escalator tells operators that a task needs manual handling.
type Escalator interface {
	Escalate(task models.ExecutionTask, event models.ThreatEvent, reason string)
}

// ShoutrrrEscalator posts escalations to every configured shoutrrr URL.
type ShoutrrrEscalator struct {
	urls []string
	send func(url, message string) error
	wg   sync.WaitGroup
}

func NewShoutrrrEscalator(urls []string) *ShoutrrrEscalator {
	clean := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}
	return &ShoutrrrEscalator{urls: clean, send: func(url, msg string) error { return shoutrrr.Send(url, msg) }}
}

// Escalate implements Escalator. Delivery happens in the background.
func (s *ShoutrrrEscalator) Escalate(task models.ExecutionTask, event models.ThreatEvent, reason string) {
	if len(s.urls) == 0 {
		return
	}
	title := fmt.Sprintf("Block of %s needs manual handling", event.IP)
	msg := fmt.Sprintf("%s\n\ntask %d for event %d reached %s after %d attempts: %s\ntrace %s",
		title, task.ID, event.ID, models.TaskStateManualRequired, task.RetryCount, reason, task.TraceID)

	for _, u := range s.urls {
		s.wg.Add(1)
		go func(url string) {
			defer s.wg.Done()
			if err := s.send(url, msg); err != nil {
				logger.WithTrace(task.TraceID).WithError(err).Warn("failed to deliver escalation")
			}
		}(u)
	}
}

// Wait blocks until queued deliveries finish.
func (s *ShoutrrrEscalator) Wait() {
	s.wg.Wait()
}
