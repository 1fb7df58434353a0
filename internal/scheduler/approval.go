package scheduler

import (
	"fmt"
	"time"

	"github.com/sharkoder/sharkoder/internal/events"
	"github.com/sharkoder/sharkoder/internal/models"
)

func (s *Scheduler) publishApprovalNeeded(jobID int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&events.ApprovalNeededEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventApprovalNeeded, Time: time.Now()},
		JobID:     jobID,
	})
}

// Approve moves a job from awaiting_approval to ready_upload (spec §4.7).
// Idempotent when applied outside awaiting_approval.
func (s *Scheduler) Approve(id int64) error {
	job := s.store.GetJob(id)
	if job == nil {
		return fmt.Errorf("job %d not found", id)
	}
	if job.State != models.StateAwaitingApproval {
		return nil
	}
	s.transition(id, models.StateReadyUpload, "")
	return nil
}

// Reject deletes the encoded artifact and resets the job to ready_encode so
// the next scheduler tick re-encodes it (spec §4.7, §8 scenario 5).
// Idempotent when applied outside awaiting_approval.
func (s *Scheduler) Reject(id int64) error {
	job := s.store.GetJob(id)
	if job == nil {
		return fmt.Errorf("job %d not found", id)
	}
	if job.State != models.StateAwaitingApproval {
		return nil
	}
	if job.LocalEncodedPath != "" {
		removeWithRetry(job.LocalEncodedPath)
	}
	s.store.UpdateJob(id, func(j *models.Job) {
		j.LocalEncodedPath = ""
	})
	s.transition(id, models.StateReadyEncode, "")
	return nil
}
