package videoproc

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sharkoder/sharkoder/internal/constants"
)

// HardwareMode selects whether the encoder targets a GPU codec, a software
// codec, or probes once per process to decide (spec §4.5).
type HardwareMode string

const (
	HardwareGPU  HardwareMode = "gpu"
	HardwareCPU  HardwareMode = "cpu"
	HardwareAuto HardwareMode = "auto"
)

// EncodeConfig is the full set of encoder knobs from spec §4.5's option
// table.
type EncodeConfig struct {
	HardwareMode HardwareMode
	Preset       string
	Quality      int // CQ or CRF depending on mode

	RateControl string
	Bitrate     string
	MaxRate     string

	Lookahead     int
	BFrames       int
	BRefMode      string
	SpatialAQ     bool
	TemporalAQ    bool
	AQStrength    int
	Multipass     string
	TwoPass       bool

	AudioCodec   string // "copy" or a re-encode codec name
	AudioBitrate string

	Profile     string
	PixelFormat string

	// GPULimit < 100 derates Lookahead/BFrames/Multipass per tier table.
	GPULimit int

	SimulationMode   bool
	SkipSameCodec    bool
	TargetCodecFamily string // e.g. "hevc" -- used by SkipSameCodec
}

// tierDerate maps a GPULimit percentage to a lookahead/bframes cap, per
// spec §4.5's "derate lookahead/bframes/multipass per tier table".
func tierDerate(limit int) (maxLookahead, maxBFrames int, disableMultipass bool) {
	switch {
	case limit >= 100:
		return 32, 4, false
	case limit >= 75:
		return 20, 3, false
	case limit >= 50:
		return 12, 2, true
	default:
		return 4, 0, true
	}
}

func (c EncodeConfig) derated() EncodeConfig {
	if c.GPULimit <= 0 || c.GPULimit >= 100 {
		return c
	}
	maxLA, maxBF, disableMP := tierDerate(c.GPULimit)
	if c.Lookahead > maxLA {
		c.Lookahead = maxLA
	}
	if c.BFrames > maxBF {
		c.BFrames = maxBF
	}
	if disableMP {
		c.Multipass = "disabled"
	}
	return c
}

// EncodeSpec is one encode request.
type EncodeSpec struct {
	InputPath  string
	OutputPath string
	Config     EncodeConfig
	// DurationHint seeds total-frame estimation before the input has been
	// probed within the encoder process (duration * fps, per spec §9's
	// "total frames = duration x fps" resolution of the legacy /2 bug).
	DurationHint time.Duration
	FPSHint      float64
}

// ProgressUpdate mirrors spec §4.5's progress event shape.
type ProgressUpdate struct {
	Percent      float64
	CurrentTime  time.Duration
	FPS          float64
	ETA          time.Duration
	FramesDone   int64
	FramesTotal  int64
}

// EncodeResult is returned on success.
type EncodeResult struct {
	Elapsed          time.Duration
	EffectiveParams  EncodeConfig
	SimulatedOrCopy  bool
}

// Encoder drives the external binary through one encode at a time; Stop
// cooperatively signals the active process.
type Encoder struct {
	BinaryPath string
	Marker     *MarkerStore

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped atomic.Bool

	gpuOnce      sync.Once
	gpuAvailable bool
}

func NewEncoder(binaryPath string, marker *MarkerStore) *Encoder {
	return &Encoder{BinaryPath: binaryPath, Marker: marker}
}

// Encode runs spec, applying the simulation_mode and skip_same_codec
// shortcuts before ever spawning a process (spec §4.5: "Shortcut rules").
func (e *Encoder) Encode(ctx context.Context, spec EncodeSpec, inputCodec string, onProgress func(ProgressUpdate)) (EncodeResult, error) {
	cfg := spec.Config.derated()

	if cfg.SimulationMode {
		if err := copyFile(spec.InputPath, spec.OutputPath); err != nil {
			return EncodeResult{}, fmt.Errorf("simulation copy: %w", err)
		}
		return EncodeResult{SimulatedOrCopy: true, EffectiveParams: cfg}, nil
	}
	if cfg.SkipSameCodec && cfg.TargetCodecFamily != "" && codecFamily(inputCodec) == codecFamily(cfg.TargetCodecFamily) {
		if err := copyFile(spec.InputPath, spec.OutputPath); err != nil {
			return EncodeResult{}, fmt.Errorf("same-codec copy: %w", err)
		}
		return EncodeResult{SimulatedOrCopy: true, EffectiveParams: cfg}, nil
	}

	if err := e.Marker.Write(CrashMarker{InputPath: spec.InputPath, OutputPath: spec.OutputPath, StartedAt: time.Now()}); err != nil {
		return EncodeResult{}, fmt.Errorf("write crash marker: %w", err)
	}
	defer e.Marker.Clear()

	args := buildArgs(spec, cfg, e.useGPU(ctx, cfg.HardwareMode))
	cmd := exec.CommandContext(ctx, e.BinaryPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return EncodeResult{}, fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return EncodeResult{}, fmt.Errorf("start encoder: %w", err)
	}
	e.mu.Lock()
	e.cmd = cmd
	e.stopped.Store(false)
	e.mu.Unlock()

	totalFrames := int64(spec.DurationHint.Seconds() * spec.FPSHint)

	var lastPct atomic.Value
	lastPct.Store(float64(0))

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	go scanLines(scanner, func(line string) {
		stats, ok := parseEncoderStats(line)
		if !ok {
			return
		}
		update := computeProgress(stats, totalFrames, start)
		lastPct.Store(update.Percent)
		if onProgress != nil {
			onProgress(update)
		}
	})

	waitErr := cmd.Wait()
	e.mu.Lock()
	e.cmd = nil
	e.mu.Unlock()

	if waitErr != nil {
		os.Remove(spec.OutputPath)
		return EncodeResult{}, fmt.Errorf("encoder exited: %w", waitErr)
	}

	return EncodeResult{Elapsed: time.Since(start), EffectiveParams: cfg}, nil
}

// Stop cooperatively terminates the active encode: interrupt first, force
// kill after EncoderStopGrace (spec §4.5: "Stop contract").
func (e *Encoder) Stop() {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if e.stopped.Swap(true) {
		return // idempotent
	}
	cmd.Process.Signal(os.Interrupt)
	timer := time.NewTimer(constants.EncoderStopGrace)
	defer timer.Stop()
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-timer.C:
		cmd.Process.Kill()
	}
}

// useGPU resolves hardware_mode to a concrete gpu/cpu decision. auto runs a
// one-frame synthetic probe once per process and caches the result, falling
// back to the CPU codec when no GPU is present (spec §4.5: "hardware_mode:
// auto ... runs a one-frame synthetic probe once per process to detect GPU").
func (e *Encoder) useGPU(ctx context.Context, mode HardwareMode) bool {
	switch mode {
	case HardwareGPU:
		return true
	case HardwareCPU:
		return false
	default:
		e.gpuOnce.Do(func() {
			e.gpuAvailable = e.probeGPU(ctx)
		})
		return e.gpuAvailable
	}
}

// probeGPU runs a one-frame synthetic encode through the GPU codec path;
// a zero exit means the GPU codec is available.
func (e *Encoder) probeGPU(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, constants.GPUProbeTimeout)
	defer cancel()
	cmd := exec.CommandContext(probeCtx, e.BinaryPath,
		"-y", "-f", "lavfi", "-i", "color=c=black:s=64x64:d=0.04",
		"-frames:v", "1", "-c:v", "hevc_nvenc", "-f", "null", "-",
	)
	return cmd.Run() == nil
}

func codecFamily(codec string) string {
	c := strings.ToLower(codec)
	switch {
	case strings.Contains(c, "hevc") || strings.Contains(c, "h265") || strings.Contains(c, "x265"):
		return "hevc"
	case strings.Contains(c, "avc") || strings.Contains(c, "h264") || strings.Contains(c, "x264"):
		return "h264"
	case strings.Contains(c, "vp9"):
		return "vp9"
	case strings.Contains(c, "av1"):
		return "av1"
	default:
		return c
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	buf := make([]byte, constants.StreamChunkSize)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			break
		}
	}
	return out.Sync()
}

type encoderStats struct {
	Frame   int64
	FPS     float64
	Time    time.Duration
}

var statsLineRe = regexp.MustCompile(`frame=\s*(\d+).*fps=\s*([\d.]+).*time=(\d{2}):(\d{2}):(\d{2})\.(\d+)`)

// parseEncoderStats extracts frame/fps/time fields from one progress line,
// the same shape ffmpeg-style encoders emit on stderr.
func parseEncoderStats(line string) (encoderStats, bool) {
	m := statsLineRe.FindStringSubmatch(line)
	if m == nil {
		return encoderStats{}, false
	}
	frame, _ := strconv.ParseInt(m[1], 10, 64)
	fps, _ := strconv.ParseFloat(m[2], 64)
	h, _ := strconv.Atoi(m[3])
	mi, _ := strconv.Atoi(m[4])
	s, _ := strconv.Atoi(m[5])
	cs, _ := strconv.Atoi(m[6])
	elapsed := time.Duration(h)*time.Hour + time.Duration(mi)*time.Minute + time.Duration(s)*time.Second + time.Duration(cs)*10*time.Millisecond
	return encoderStats{Frame: frame, FPS: fps, Time: elapsed}, true
}

// computeProgress derives percent/ETA from frame counts (frames done over
// totalFrames). When totalFrames is unknown (zero) the percent stays 0; the
// parsed timestamp is not used for it. ETA is gated on minimum elapsed time
// and progress (§4.5, constants.MinETAElapsed/MinETAProgress) and left zero
// when it would exceed MaxETA.
func computeProgress(stats encoderStats, totalFrames int64, startedAt time.Time) ProgressUpdate {
	update := ProgressUpdate{FPS: stats.FPS, CurrentTime: stats.Time, FramesDone: stats.Frame, FramesTotal: totalFrames}

	var pct float64
	if totalFrames > 0 {
		pct = float64(stats.Frame) / float64(totalFrames)
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	update.Percent = pct * 100

	elapsed := time.Since(startedAt)
	if elapsed >= constants.MinETAElapsed && pct >= constants.MinETAProgress && pct > 0 {
		eta := time.Duration(float64(elapsed) * (1/pct - 1))
		if eta > constants.MaxETA {
			eta = 0 // treat as null per spec: ETA "bounded to <=48h or null"
		}
		update.ETA = eta
	}
	return update
}

// buildArgs assembles the encoder's command line from spec/cfg. The exact
// flag names are owned by the external binary; this maps the option table
// in spec §4.5 to a representative ffmpeg-family invocation. gpu reflects
// the already-resolved hardware_mode decision (see Encoder.useGPU).
func buildArgs(spec EncodeSpec, cfg EncodeConfig, gpu bool) []string {
	args := []string{"-y", "-i", spec.InputPath}

	codec := "libx265"
	if gpu {
		codec = "hevc_nvenc"
	}
	args = append(args, "-c:v", codec)

	if cfg.Preset != "" {
		args = append(args, "-preset", cfg.Preset)
	}
	if cfg.Quality > 0 {
		qualityFlag := "-crf"
		if gpu {
			qualityFlag = "-cq"
		}
		args = append(args, qualityFlag, strconv.Itoa(cfg.Quality))
	}
	if cfg.RateControl != "" {
		args = append(args, "-rc", cfg.RateControl)
	}
	if cfg.Bitrate != "" {
		args = append(args, "-b:v", cfg.Bitrate)
	}
	if cfg.MaxRate != "" {
		args = append(args, "-maxrate", cfg.MaxRate)
	}
	if cfg.Lookahead > 0 {
		args = append(args, "-rc-lookahead", strconv.Itoa(cfg.Lookahead))
	}
	if cfg.BFrames > 0 {
		args = append(args, "-bf", strconv.Itoa(cfg.BFrames))
	}
	if cfg.Profile != "" {
		args = append(args, "-profile:v", cfg.Profile)
	}
	if cfg.PixelFormat != "" {
		args = append(args, "-pix_fmt", cfg.PixelFormat)
	}

	audioCodec := cfg.AudioCodec
	if audioCodec == "" || audioCodec == "copy" {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", audioCodec)
		if cfg.AudioBitrate != "" {
			args = append(args, "-b:a", cfg.AudioBitrate)
		}
	}

	args = append(args, spec.OutputPath)
	return args
}
