package scheduler

import (
	"context"
	"os"

	"github.com/sharkoder/sharkoder/internal/models"
)

// recoverOnStartup reconciles crash-interrupted state (spec §4.6, §8
// invariant #5): the crash marker implies a ghost encoded artifact; any job
// found in downloading/encoding/uploading is re-evaluated.
func (s *Scheduler) recoverOnStartup(ctx context.Context) error {
	if err := s.recoverCrashMarker(); err != nil {
		return err
	}

	for _, j := range s.store.AllJobs() {
		switch j.State {
		case models.StateDownloading, models.StateEncoding:
			s.cleanScratch(j)
			s.transition(j.ID, models.StateWaiting, "")
		case models.StateUploading:
			if j.LocalEncodedPath != "" {
				if _, err := os.Stat(j.LocalEncodedPath); err == nil {
					s.transition(j.ID, models.StateReadyUpload, "")
					continue
				}
			}
			s.cleanScratch(j)
			s.transition(j.ID, models.StateWaiting, "")
		}
	}
	return nil
}

// recoverCrashMarker clears the marker and removes the ghost output if the
// process died mid-encode (spec §8 scenario 4).
func (s *Scheduler) recoverCrashMarker() error {
	marker, ok, err := s.encoder.Marker.Read()
	if err != nil || !ok {
		return err
	}
	os.Remove(marker.OutputPath)
	return s.encoder.Marker.Clear()
}
