// Package constants holds process-wide defaults for the transcoding pipeline.
package constants

import "time"

// Stage concurrency defaults (spec §3: stage assignment, §4.6: pipeline scheduler).
const (
	DefaultMaxDownloads = 1
	DefaultMaxUploads   = 1

	// DefaultProbeWorkers is the size of the metadata cache's probe pool (spec §4.4).
	DefaultProbeWorkers = 10
)

// Timeouts (spec §4.5, §5).
const (
	DefaultProbeTimeoutRemote = 10 * time.Second
	DefaultProbeTimeoutLocal  = 30 * time.Second
	DefaultConnectionTimeout  = 30 * time.Second

	// EncoderStopGrace is how long the encoder adapter waits after a cooperative
	// stop signal before forcing termination (spec §4.5).
	EncoderStopGrace = 3 * time.Second

	// MaxETA bounds the encoder's reported ETA (spec §4.5).
	MaxETA = 48 * time.Hour

	// MinETAElapsed and MinETAProgress gate when an ETA is considered meaningful.
	MinETAElapsed  = 5 * time.Second
	MinETAProgress = 0.001 // 0.1%

	// GPUProbeTimeout bounds the one-frame synthetic probe hardware_mode:
	// auto runs once per process to detect GPU availability (spec §4.5).
	GPUProbeTimeout = 5 * time.Second
)

// Durable store write discipline (spec §4.3).
const (
	ProgressWriteThrottle = 1 * time.Second
	InterRoundSleep       = 500 * time.Millisecond
	ProgressEventCadence  = 500 * time.Millisecond
)

// Retry policy (spec §7).
const (
	DefaultMaxTransientRetries = 3
	InitialBackoff             = 1 * time.Second
	MaxBackoff                 = 30 * time.Second

	FileLockedMaxRetries    = 5
	FileLockedBackoffFactor = 500 * time.Millisecond
)

// DiskSpaceSafetyFactor is the multiplier applied to a job's source size when
// preflighting scratch disk space (spec §4.6: "3x source_size").
const DiskSpaceSafetyFactor = 3.0

// Transfer buffering.
const (
	StreamChunkSize = 4 * 1024 * 1024 // 4 MiB
	SmallBufferSize = 16 * 1024       // 16 KiB, used for hashing/line-scanning scratch
)

// SpeedEWMAAlpha smooths the instantaneous per-chunk throughput sample into
// the speed reported alongside transfer progress events (spec §4.1: progress
// events carry { transferred, total, speed, eta }), the same exponential
// smoothing idiom the teacher's download UI uses for its speed readout.
const SpeedEWMAAlpha = 0.3

// Backup/naming conventions (spec §3, §6).
const (
	BackupInfix = ".bak"
	TempInfix   = ".tmp"
)
