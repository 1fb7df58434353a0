package scheduler

import (
	"context"
	"fmt"

	"github.com/sharkoder/sharkoder/internal/models"
)

// AddJob inserts a new waiting job (spec §6: add_job).
func (s *Scheduler) AddJob(remotePath string, size int64) (*models.Job, error) {
	return s.store.AddJob(remotePath, size)
}

// RemoveJob cancels an active job, cleans its scratch files, and deletes
// its row (spec §5: "remove_job while active" drops the encoder, download,
// and upload handles).
func (s *Scheduler) RemoveJob(id int64) error {
	job := s.store.GetJob(id)
	if job == nil {
		return fmt.Errorf("job %d not found", id)
	}
	switch job.State {
	case models.StateEncoding:
		s.encoder.Stop()
	case models.StateDownloading, models.StateUploading:
		s.cancelJob(id)
	}
	s.cleanScratch(job)
	return s.store.DeleteJob(id)
}

// PauseJob moves a non-terminal job to paused (spec §6: pause_job).
func (s *Scheduler) PauseJob(id int64) error {
	job := s.store.GetJob(id)
	if job == nil {
		return fmt.Errorf("job %d not found", id)
	}
	if job.State.IsTerminal() || job.State == models.StatePaused {
		return nil // idempotent
	}
	s.transition(id, models.StatePaused, "")
	return nil
}

// ResumeJob moves a paused job back to waiting (spec §6: resume_job).
func (s *Scheduler) ResumeJob(id int64) error {
	job := s.store.GetJob(id)
	if job == nil {
		return fmt.Errorf("job %d not found", id)
	}
	if job.State != models.StatePaused {
		return nil // idempotent
	}
	s.transition(id, models.StateWaiting, "")
	return nil
}

// Retry resets a terminal job to waiting and cleans its scratch files
// (spec §6: retry).
func (s *Scheduler) Retry(id int64) error {
	job := s.store.GetJob(id)
	if job == nil {
		return fmt.Errorf("job %d not found", id)
	}
	if !job.State.IsTerminal() {
		return fmt.Errorf("job %d is not terminal (state=%s)", id, job.State)
	}
	s.cleanScratch(job)
	s.store.UpdateJob(id, func(j *models.Job) {
		j.LocalOriginalPath = ""
		j.LocalEncodedPath = ""
		j.FailureMessage = ""
		j.RetryCount++
	})
	s.transition(id, models.StateWaiting, "")
	return nil
}

// ClearAll removes every non-completed job (spec §6: clear_all).
func (s *Scheduler) ClearAll(ctx context.Context) error {
	for _, j := range s.store.AllJobs() {
		if j.State == models.StateCompleted {
			continue
		}
		if j.State.IsActive() {
			switch j.State {
			case models.StateEncoding:
				s.encoder.Stop()
			case models.StateDownloading, models.StateUploading:
				s.cancelJob(j.ID)
			}
		}
		s.cleanScratch(j)
		if err := s.store.DeleteJob(j.ID); err != nil {
			return err
		}
	}
	return nil
}

// StatsResult is the counts-by-state snapshot returned by Stats().
type StatsResult struct {
	ByState map[models.State]int
	Total   int
}

// Stats returns job counts by state (spec §6: stats()).
func (s *Scheduler) Stats() StatsResult {
	counts := s.store.CountByState()
	total := 0
	for _, c := range counts {
		total += c
	}
	return StatsResult{ByState: counts, Total: total}
}
