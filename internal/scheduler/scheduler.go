// Package scheduler implements the Pipeline Scheduler: the three-stage,
// bounded-concurrency, single-encoder state machine that drives jobs from
// waiting to completed (spec §4.6).
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sharkoder/sharkoder/internal/constants"
	"github.com/sharkoder/sharkoder/internal/events"
	"github.com/sharkoder/sharkoder/internal/logging"
	"github.com/sharkoder/sharkoder/internal/models"
	"github.com/sharkoder/sharkoder/internal/store"
	"github.com/sharkoder/sharkoder/internal/transport"
	"github.com/sharkoder/sharkoder/internal/videoproc"
)

// Config is the immutable snapshot the scheduler reads at job-claim time
// (spec §9: "configuration as an immutable snapshot at job-claim time").
type Config struct {
	MaxDownloads int
	MaxUploads   int

	ScratchRoot string // local root for temp/downloaded, temp/encoded
	BackupRoot  string // local root for backup/originals, backup/encoded

	BlockLargerEncoded bool
	KeepOriginal       bool
	KeepEncoded        bool
	BackupsEnabled     bool
	ReleaseTag         string

	EncodeConfig videoproc.EncodeConfig
}

// Scheduler owns the three stage runners and their pause/stop state.
type Scheduler struct {
	cfg     Config
	store   *store.Store
	router  *transport.Router
	prober  *videoproc.Prober
	encoder *videoproc.Encoder
	bus     *events.EventBus
	log     *logging.Logger

	paused atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	downloadSlots chan struct{}
	uploadSlots   chan struct{}
	encodeSlot    chan struct{}

	jobCancelsMu sync.Mutex
	jobCancels   map[int64]context.CancelFunc
}

// New constructs a Scheduler. Call Start to begin dispatch.
func New(cfg Config, st *store.Store, router *transport.Router, prober *videoproc.Prober, encoder *videoproc.Encoder, bus *events.EventBus, log *logging.Logger) *Scheduler {
	if cfg.MaxDownloads <= 0 {
		cfg.MaxDownloads = constants.DefaultMaxDownloads
	}
	if cfg.MaxUploads <= 0 {
		cfg.MaxUploads = constants.DefaultMaxUploads
	}
	return &Scheduler{
		cfg:           cfg,
		store:         st,
		router:        router,
		prober:        prober,
		encoder:       encoder,
		bus:           bus,
		log:           log,
		downloadSlots: make(chan struct{}, cfg.MaxDownloads),
		uploadSlots:   make(chan struct{}, cfg.MaxUploads),
		encodeSlot:    make(chan struct{}, 1),
		jobCancels:    make(map[int64]context.CancelFunc),
	}
}

// claimCtx derives a per-job cancelable context from parent and registers its
// cancel func so RemoveJob/ClearAll can drop a mid-download/mid-upload job's
// handle without tearing down the whole stage (spec §5 "Cancellation": "drop
// download/upload handles"). The returned release func must run when the
// claiming goroutine returns.
func (s *Scheduler) claimCtx(parent context.Context, jobID int64) (context.Context, func()) {
	jobCtx, cancel := context.WithCancel(parent)
	s.jobCancelsMu.Lock()
	s.jobCancels[jobID] = cancel
	s.jobCancelsMu.Unlock()
	return jobCtx, func() {
		s.jobCancelsMu.Lock()
		delete(s.jobCancels, jobID)
		s.jobCancelsMu.Unlock()
		cancel()
	}
}

// cancelJob cancels a job's in-flight download/upload context, if any. It is
// a no-op for jobs that aren't currently claimed by either transfer stage
// (e.g. mid-encode, where Stop() on the encoder is the right primitive).
func (s *Scheduler) cancelJob(jobID int64) {
	s.jobCancelsMu.Lock()
	cancel, ok := s.jobCancels[jobID]
	delete(s.jobCancels, jobID)
	s.jobCancelsMu.Unlock()
	if ok {
		cancel()
	}
}

// Start launches the three stage runners and recovers crash-interrupted
// jobs (spec §4.6: "resume-on-start").
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recoverOnStartup(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go s.runDownloadStage(ctx)
	go s.runEncodeStage(ctx)
	go s.runUploadStage(ctx)
	return nil
}

// Stop terminates the active encoder and returns every job in an active
// state (downloading, encoding, uploading) to waiting (spec §4.6, §5: "stop").
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.encoder.Stop()
	s.wg.Wait()

	for _, j := range s.store.AllJobs() {
		if j.State.IsActive() {
			s.cleanScratch(j)
			s.transition(j.ID, models.StateWaiting, "")
		}
	}
}

// Pause idempotently halts dispatch of new claims (spec §4.6, §6).
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume re-enables dispatch.
func (s *Scheduler) Resume() { s.paused.Store(false) }

func (s *Scheduler) isPaused() bool { return s.paused.Load() }

func (s *Scheduler) transition(id int64, newState models.State, failureMsg string) *models.Job {
	var old models.State
	job, err := s.store.UpdateJob(id, func(j *models.Job) {
		old = j.State
		j.State = newState
		if failureMsg != "" {
			j.FailureMessage = failureMsg
		}
		switch newState {
		case models.StateDownloading:
			if j.StartedAt.IsZero() {
				j.StartedAt = time.Now()
			}
		case models.StateCompleted, models.StateFailed:
			j.FinishedAt = time.Now()
		}
	})
	if err != nil {
		s.log.Errorf("persist transition job=%d -> %s: %v", id, newState, err)
		return nil
	}
	if s.bus != nil {
		s.bus.PublishStateChange(id, string(old), string(newState), failureMsg)
	}
	return job
}

func (s *Scheduler) fail(job *models.Job, kind string, err error) {
	msg := fmt.Sprintf("%s: %v", kind, err)
	s.log.Errorf("job %d failed (%s): %v", job.ID, kind, err)
	s.cleanScratch(job)
	s.transition(job.ID, models.StateFailed, msg)
}

// scratchPath returns the `<jobId>_<basename>` path for a job's stage
// directory (spec §3: "Stage assignment").
func (s *Scheduler) scratchPath(stage string, job *models.Job) string {
	base := filepath.Base(job.RemotePath)
	return filepath.Join(s.cfg.ScratchRoot, stage, fmt.Sprintf("%d_%s", job.ID, base))
}

// cleanScratch removes a job's scratch files, retrying locked-file
// deletions per spec §7's FileLocked disposition.
func (s *Scheduler) cleanScratch(job *models.Job) {
	for _, p := range []string{job.LocalOriginalPath, job.LocalEncodedPath} {
		if p == "" {
			continue
		}
		removeWithRetry(p)
	}
}

func removeWithRetry(path string) {
	for attempt := 1; attempt <= constants.FileLockedMaxRetries; attempt++ {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return
		}
		time.Sleep(constants.FileLockedBackoffFactor * time.Duration(attempt))
	}
}

// sleepBetweenRounds bounds CPU idle-spinning between scheduler rounds
// (spec §4.6: "one inter-round sleep").
func sleepBetweenRounds(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(constants.InterRoundSleep):
	}
}
