package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sharkoder/sharkoder/internal/constants"
	"github.com/sharkoder/sharkoder/internal/models"
	"github.com/sharkoder/sharkoder/internal/remotefs"
	"github.com/sharkoder/sharkoder/internal/validation"
)

// runUploadStage claims ready_upload jobs up to MaxUploads (spec §4.6 step 3).
func (s *Scheduler) runUploadStage(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.isPaused() {
			s.dispatchUploads(ctx)
		}
		sleepBetweenRounds(ctx)
	}
}

func (s *Scheduler) dispatchUploads(ctx context.Context) {
	for {
		select {
		case s.uploadSlots <- struct{}{}:
		default:
			return // at MaxUploads
		}

		ready := s.store.JobsByState(models.StateReadyUpload)
		if len(ready) == 0 {
			<-s.uploadSlots
			return
		}
		job := ready[0]

		// Claim synchronously, still holding the slot (same atomicity
		// requirement as dispatchDownloads: spec testable invariant #1).
		job = s.transition(job.ID, models.StateUploading, "")
		if job == nil {
			<-s.uploadSlots
			continue
		}

		jobCtx, release := s.claimCtx(ctx, job.ID)
		go func() {
			defer func() { release(); <-s.uploadSlots }()
			s.uploadOne(jobCtx, job)
		}()
	}
}

// backupPath returns the `.bak.ext` sibling of remotePath (spec §3:
// "Server-side backup convention").
func backupPath(remotePath string) string {
	dir := filepath.Dir(remotePath)
	ext := filepath.Ext(remotePath)
	base := strings.TrimSuffix(filepath.Base(remotePath), ext)
	return filepath.Join(dir, base+constants.BackupInfix+ext)
}

// codecTokenRe matches bracketed or inline codec tokens a release tag
// rewrite replaces, e.g. "[x264]" or ".h264." (spec §4.6: output filename
// policy).
var codecTokenRe = regexp.MustCompile(`(?i)\b(x264|h264|x265|h265|hevc|vp9|av1)\b`)

// outputTargetPath applies the release-tag rewrite when configured,
// otherwise returns remotePath unchanged (spec §4.6: "Output filename
// policy").
func outputTargetPath(remotePath, releaseTag, targetCodecToken string) string {
	if releaseTag == "" {
		return remotePath
	}
	dir := filepath.Dir(remotePath)
	ext := filepath.Ext(remotePath)
	base := strings.TrimSuffix(filepath.Base(remotePath), ext)

	rewritten := codecTokenRe.ReplaceAllString(base, targetCodecToken)

	releaseTagRe := regexp.MustCompile(`-[A-Za-z0-9]+$`)
	if releaseTagRe.MatchString(rewritten) {
		rewritten = releaseTagRe.ReplaceAllString(rewritten, "-"+releaseTag)
	} else {
		rewritten = rewritten + "-" + releaseTag
	}
	return filepath.Join(dir, rewritten+ext)
}

func (s *Scheduler) uploadOne(ctx context.Context, job *models.Job) {
	target := outputTargetPath(job.RemotePath, s.cfg.ReleaseTag, s.cfg.EncodeConfig.TargetCodecFamily)
	bak := backupPath(target)

	// a. Attempt rename remote -> remote.bak.ext, ignoring a missing source.
	if s.cfg.BackupsEnabled {
		if err := s.router.Rename(ctx, target, bak); err != nil && remotefs.KindOf(err) != remotefs.KindNotFound {
			s.failUpload(job, err, "")
			return
		}
	}

	// b. Stat remote target: already-uploaded is a no-op (spec §8 idempotence law).
	st, err := s.router.Stat(ctx, target)
	if err != nil {
		s.failUpload(job, err, bak)
		return
	}
	localInfo, statErr := os.Stat(job.LocalEncodedPath)
	if statErr != nil {
		s.failUpload(job, statErr, bak)
		return
	}
	if st.Exists && st.Size == localInfo.Size() {
		s.finishUpload(job, target, bak)
		return
	}
	if st.Exists {
		if delErr := s.router.Delete(ctx, target); delErr != nil {
			// Undeletable: fall back to temp-then-rename, disambiguated by a
			// uuid suffix in case two jobs collide on the same target within
			// the same second.
			target = fmt.Sprintf("%s%s.%d.%s", target, constants.TempInfix, time.Now().Unix(), uuid.NewString()[:8])
		}
	}

	// c. Stream the encoded file.
	if err := s.streamUpload(ctx, job, target); err != nil {
		if ctx.Err() != nil {
			// Canceled out from under us (spec §5: remove_job/clear_all drop
			// the upload handle) — the caller owns cleanup, not us.
			return
		}
		s.failUpload(job, err, bak)
		return
	}

	s.finishUpload(job, target, bak)
}

func (s *Scheduler) streamUpload(ctx context.Context, job *models.Job, target string) error {
	f, err := os.Open(job.LocalEncodedPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	ws, err := s.router.OpenWrite(ctx, target, 0, true)
	if err != nil {
		return err
	}
	defer ws.Close()

	lastPersist := time.Now()
	_, err = remotefs.StreamCopier(ctx, ws, f, info.Size(), constants.StreamChunkSize, func(transferred, total int64, speed float64, eta time.Duration) {
		pct := 0
		if total > 0 {
			pct = int(float64(transferred) / float64(total) * 100)
		}
		if s.bus != nil && time.Since(lastPersist) >= constants.ProgressEventCadence {
			s.bus.PublishProgress(job.ID, "upload", float64(pct), transferred, total, speed, 0, eta)
			lastPersist = time.Now()
		}
		s.store.UpdateProgress(job.ID, pct, int64(eta.Seconds()))
	})
	return err
}

// finishUpload keeps the .bak.ext rollback handle, runs the cleanup policy,
// and transitions to completed (spec §4.6 step 3d).
func (s *Scheduler) finishUpload(job *models.Job, target, bak string) {
	s.store.UpdateJob(job.ID, func(j *models.Job) {
		j.BackupPath = bak
	})
	s.runCleanupPolicy(job)
	s.appendManifest(job)
	s.transition(job.ID, models.StateCompleted, "")
}

// failUpload deletes the partial and renames .bak.ext back to the original
// on failure (spec §4.6 step 3e).
func (s *Scheduler) failUpload(job *models.Job, err error, bak string) {
	if bak != "" && s.cfg.BackupsEnabled {
		s.router.Rename(context.Background(), bak, job.RemotePath)
	}
	s.fail(job, "upload", err)
}

func (s *Scheduler) appendManifest(job *models.Job) {
	var encodedBytes int64
	if info, err := os.Stat(job.LocalEncodedPath); err == nil {
		encodedBytes = info.Size()
	}
	s.store.AppendManifest(models.ManifestRecord{
		Path:          job.RemotePath,
		OriginalBytes: job.SourceSize,
		EncodedBytes:  encodedBytes,
		CodecBefore:   job.InputCodec,
		CodecAfter:    job.OutputCodec,
		Duration:      job.Probe.Duration,
		EncodingTime:  job.FinishedAt.Sub(job.StartedAt),
		CompletedAt:   time.Now(),
	})
}

// runCleanupPolicy moves or deletes scratch files per KeepOriginal/
// KeepEncoded (spec §4.6: "Cleanup policy"). A remote path containing ".."
// segments would otherwise let dst walk outside BackupRoot, so every
// destination is containment-checked before the move.
func (s *Scheduler) runCleanupPolicy(job *models.Job) {
	rel := strings.TrimPrefix(job.RemotePath, "/")

	if s.cfg.KeepOriginal && job.LocalOriginalPath != "" {
		dst := filepath.Join(s.cfg.BackupRoot, "originals", rel)
		if err := validation.ValidateContainedPath(dst, s.cfg.BackupRoot); err != nil {
			s.log.Errorf("job %d: refusing to archive original outside backup root: %v", job.ID, err)
			removeWithRetry(job.LocalOriginalPath)
		} else {
			moveOrRetryDelete(job.LocalOriginalPath, dst)
		}
	} else {
		removeWithRetry(job.LocalOriginalPath)
	}

	if s.cfg.KeepEncoded && job.LocalEncodedPath != "" {
		dst := filepath.Join(s.cfg.BackupRoot, "encoded", rel)
		if err := validation.ValidateContainedPath(dst, s.cfg.BackupRoot); err != nil {
			s.log.Errorf("job %d: refusing to archive encoded output outside backup root: %v", job.ID, err)
			removeWithRetry(job.LocalEncodedPath)
		} else {
			moveOrRetryDelete(job.LocalEncodedPath, dst)
		}
	} else {
		removeWithRetry(job.LocalEncodedPath)
	}
}

func moveOrRetryDelete(src, dst string) {
	if src == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		removeWithRetry(src)
		return
	}
	for attempt := 1; attempt <= constants.FileLockedMaxRetries; attempt++ {
		err := os.Rename(src, dst)
		if err == nil {
			return
		}
		time.Sleep(constants.FileLockedBackoffFactor * time.Duration(attempt))
	}
	removeWithRetry(src)
}
