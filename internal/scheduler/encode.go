package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sharkoder/sharkoder/internal/models"
	"github.com/sharkoder/sharkoder/internal/videoproc"
)

// runEncodeStage claims at most one ready_encode job at a time -- the
// encoder is a process-wide singleton (spec §4.6 step 2, invariant #2).
func (s *Scheduler) runEncodeStage(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.isPaused() {
			s.dispatchEncode(ctx)
		}
		sleepBetweenRounds(ctx)
	}
}

func (s *Scheduler) dispatchEncode(ctx context.Context) {
	select {
	case s.encodeSlot <- struct{}{}:
	default:
		return // encoder busy
	}

	ready := s.store.JobsByState(models.StateReadyEncode)
	if len(ready) == 0 {
		<-s.encodeSlot
		return
	}
	job := ready[0]
	s.encodeOne(ctx, job)
	<-s.encodeSlot
}

func (s *Scheduler) encodeOne(ctx context.Context, job *models.Job) {
	job = s.transition(job.ID, models.StateEncoding, "")
	if job == nil {
		return
	}

	probe, err := s.prober.Probe(ctx, job.LocalOriginalPath, false)
	if err != nil {
		s.fail(job, "probe", err)
		return
	}
	job, _ = s.store.UpdateJob(job.ID, func(j *models.Job) {
		j.Probe = probe
		j.InputCodec = probe.Codec
	})

	outPath := s.scratchPath("encoded", job)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		s.fail(job, "Fatal", err)
		return
	}

	spec := videoproc.EncodeSpec{
		InputPath:    job.LocalOriginalPath,
		OutputPath:   outPath,
		Config:       s.cfg.EncodeConfig,
		DurationHint: probe.Duration,
		FPSHint:      probe.FPS,
	}

	lastPct := -1
	result, err := s.encoder.Encode(ctx, spec, job.InputCodec, func(update videoproc.ProgressUpdate) {
		pct := int(update.Percent)
		if pct != lastPct {
			lastPct = pct
			if s.bus != nil {
				s.bus.PublishProgress(job.ID, "encode", update.Percent, 0, 0, 0, update.FPS, update.ETA)
			}
			s.store.UpdateProgress(job.ID, pct, int64(update.ETA.Seconds()))
		}
	})
	if err != nil {
		s.fail(job, "EncodeFailed", err)
		return
	}

	outInfo, err := os.Stat(outPath)
	if err != nil {
		s.fail(job, "CorruptArtifact", err)
		return
	}

	if s.cfg.BlockLargerEncoded && outInfo.Size() > job.SourceSize {
		pctOver := (float64(outInfo.Size())/float64(job.SourceSize) - 1) * 100
		s.fail(job, "CorruptArtifact", fmt.Errorf("encoded output larger than input by +%.1f%%", pctOver))
		return
	}

	outputCodec := s.cfg.EncodeConfig.TargetCodecFamily
	if result.SimulatedOrCopy {
		outputCodec = job.InputCodec + " (simulation)"
	}

	s.store.UpdateJob(job.ID, func(j *models.Job) {
		j.LocalEncodedPath = outPath
		j.OutputCodec = outputCodec
	})

	if job.PauseBeforeUpload {
		s.transition(job.ID, models.StateAwaitingApproval, "")
		s.publishApprovalNeeded(job.ID)
		return
	}
	s.transition(job.ID, models.StateReadyUpload, "")
}
