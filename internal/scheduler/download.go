package scheduler

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sharkoder/sharkoder/internal/constants"
	"github.com/sharkoder/sharkoder/internal/diskspace"
	"github.com/sharkoder/sharkoder/internal/models"
	"github.com/sharkoder/sharkoder/internal/remotefs"
)

// runDownloadStage claims waiting jobs up to MaxDownloads and moves them to
// ready_encode (spec §4.6 step 1).
func (s *Scheduler) runDownloadStage(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.isPaused() {
			s.dispatchDownloads(ctx)
		}
		sleepBetweenRounds(ctx)
	}
}

func (s *Scheduler) dispatchDownloads(ctx context.Context) {
	for {
		select {
		case s.downloadSlots <- struct{}{}:
		default:
			return // at MaxDownloads
		}

		waiting := s.store.JobsByState(models.StateWaiting)
		if len(waiting) == 0 {
			<-s.downloadSlots
			return
		}
		job := waiting[0]

		// Claim synchronously, still holding the slot, so two dispatch
		// rounds can never read the same waiting job off the store before
		// either has transitioned it (spec testable invariant #1: "exactly
		// one stage owns it").
		job = s.transition(job.ID, models.StateDownloading, "")
		if job == nil {
			<-s.downloadSlots
			continue
		}

		jobCtx, release := s.claimCtx(ctx, job.ID)
		go func() {
			defer func() { release(); <-s.downloadSlots }()
			s.downloadOne(jobCtx, job)
		}()
	}
}

func (s *Scheduler) downloadOne(ctx context.Context, job *models.Job) {
	if err := checkDiskSpace(s.cfg.ScratchRoot, job.SourceSize); err != nil {
		s.fail(job, "DiskSpace", err)
		return
	}

	localPath := s.scratchPath("downloaded", job)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		s.fail(job, "Fatal", err)
		return
	}

	offset, err := resumeOffset(localPath, job.SourceSize)
	if err != nil {
		s.fail(job, "Fatal", err)
		return
	}
	if offset == job.SourceSize && job.SourceSize > 0 {
		s.finishDownload(job, localPath)
		return
	}

	rs, err := s.router.OpenRead(ctx, job.RemotePath, offset)
	if err != nil {
		s.fail(job, "remote read", err)
		return
	}
	defer rs.Close()

	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(localPath, flags, 0o644)
	if err != nil {
		s.fail(job, "Fatal", err)
		return
	}
	defer out.Close()
	if offset > 0 {
		if _, err := out.Seek(offset, io.SeekStart); err != nil {
			s.fail(job, "Fatal", err)
			return
		}
	}

	lastPersist := time.Now()
	_, err = remotefs.StreamCopier(ctx, out, rs, job.SourceSize, constants.StreamChunkSize, func(transferred, total int64, speed float64, eta time.Duration) {
		pct := 0
		if total > 0 {
			pct = int(float64(transferred) / float64(total) * 100)
		}
		if s.bus != nil && time.Since(lastPersist) >= constants.ProgressEventCadence {
			s.bus.PublishProgress(job.ID, "download", float64(pct), transferred, total, speed, 0, eta)
			lastPersist = time.Now()
		}
		s.store.UpdateProgress(job.ID, pct, int64(eta.Seconds()))
	})
	if err != nil {
		if ctx.Err() != nil {
			// Canceled out from under us (spec §5: remove_job/clear_all drop
			// the download handle) — the caller owns cleanup, not us.
			return
		}
		s.fail(job, "download", err)
		return
	}

	s.finishDownload(job, localPath)
}

func (s *Scheduler) finishDownload(job *models.Job, localPath string) {
	s.store.UpdateJob(job.ID, func(j *models.Job) {
		j.LocalOriginalPath = localPath
	})
	s.transition(job.ID, models.StateReadyEncode, "")
}

// resumeOffset returns how many bytes of localPath already exist, so a
// download whose local partial equals the remote size is not re-transferred
// (spec §8: boundary behavior).
func resumeOffset(localPath string, remoteSize int64) (int64, error) {
	info, err := os.Stat(localPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if info.Size() > remoteSize {
		return 0, nil // stale/corrupt partial, restart
	}
	return info.Size(), nil
}

// checkDiskSpace preflights constants.DiskSpaceSafetyFactor x source_size of
// free space on the scratch filesystem (spec §4.6).
func checkDiskSpace(scratchRoot string, sourceSize int64) error {
	return diskspace.CheckAvailableSpace(filepath.Join(scratchRoot, "probe"), sourceSize, constants.DiskSpaceSafetyFactor)
}
