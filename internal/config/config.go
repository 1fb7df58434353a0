// Package config defines the immutable configuration snapshot consumed by
// adapters and the scheduler at construct/job-claim time. Loading is a single
// read-unmarshal-validate pass; there is no live reload — an external reload
// is modeled as discarding an adapter and rebuilding it from a fresh snapshot.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sharkoder/sharkoder/internal/pathutil"
	"github.com/sharkoder/sharkoder/internal/videoproc"
)

// SSHConfig holds the SFTP transport's connection settings.
type SSHConfig struct {
	Addr           string `json:"addr"`
	User           string `json:"user"`
	PrivateKeyPath string `json:"private_key_path"`
	Password       string `json:"password,omitempty"`
}

// HTTPConfig holds the HTTP transport's connection settings.
type HTTPConfig struct {
	BaseURL  string `json:"base_url"`
	AuthToken string `json:"auth_token,omitempty"`
}

// SchedulerConfig holds pipeline concurrency and policy knobs (spec §3, §4.6).
type SchedulerConfig struct {
	MaxDownloads       int    `json:"max_downloads"`
	MaxUploads         int    `json:"max_uploads"`
	ProbeWorkers       int    `json:"probe_workers"`
	BlockLargerEncoded bool   `json:"block_larger_encoded"`
	KeepOriginal       bool   `json:"keep_original"`
	KeepEncoded        bool   `json:"keep_encoded"`
	BackupsEnabled     bool   `json:"backups_enabled"`
	ReleaseTag         string `json:"release_tag"`
	PauseBeforeUpload  bool   `json:"pause_before_upload"`
}

// Config is the full snapshot loaded from `/sharkoder.config.json`
// (spec §6: persisted state layout).
type Config struct {
	Root string `json:"root"`

	SSH  SSHConfig  `json:"ssh"`
	HTTP HTTPConfig `json:"http"`

	Scheduler SchedulerConfig          `json:"scheduler"`
	Encode    videoproc.EncodeConfig   `json:"encode"`
}

// Validation errors.
var (
	ErrMissingRoot    = errors.New("root is required")
	ErrNoTransport    = errors.New("at least one of ssh.addr or http.base_url is required")
	ErrInvalidWorkers = errors.New("scheduler.probe_workers must be >= 1 when set")
)

// Default returns a Config with the documented defaults applied (spec §3,
// §4.4, §4.6).
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxDownloads:   1,
			MaxUploads:     1,
			ProbeWorkers:   10,
			BackupsEnabled: true,
		},
		Encode: videoproc.EncodeConfig{
			HardwareMode: videoproc.HardwareAuto,
			Preset:       "p4",
			RateControl:  "vbr",
			GPULimit:     100,
		},
	}
}

// Load reads and validates a configuration snapshot from path (spec §6:
// `/sharkoder.config.json`). Missing fields fall back to Default()'s values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Scheduler.MaxDownloads <= 0 {
		cfg.Scheduler.MaxDownloads = 1
	}
	if cfg.Scheduler.MaxUploads <= 0 {
		cfg.Scheduler.MaxUploads = 1
	}
	if cfg.Scheduler.ProbeWorkers <= 0 {
		cfg.Scheduler.ProbeWorkers = 10
	}
	if cfg.Root != "" {
		if resolved, err := pathutil.ResolveAbsolutePath(cfg.Root); err == nil {
			cfg.Root = resolved
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the snapshot for the minimum settings the core needs to
// construct its adapters.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return ErrMissingRoot
	}
	if c.SSH.Addr == "" && c.HTTP.BaseURL == "" {
		return ErrNoTransport
	}
	if c.Scheduler.ProbeWorkers < 1 {
		return ErrInvalidWorkers
	}
	return nil
}

// Paths derives the persisted-state layout from Root (spec §6).
type Paths struct {
	JobsDB      string
	CacheDB     string
	Manifest    string
	CrashMarker string
	ScratchRoot string
	BackupRoot  string
	LogPath     string
}

// Paths computes the filesystem layout rooted at c.Root.
func (c *Config) Paths() Paths {
	return Paths{
		JobsDB:      filepath.Join(c.Root, "jobs.db"),
		CacheDB:     filepath.Join(c.Root, "cache.db"),
		Manifest:    filepath.Join(c.Root, "manifest.jsonl"),
		CrashMarker: filepath.Join(c.Root, ".encoding_state.json"),
		ScratchRoot: filepath.Join(c.Root, "temp"),
		BackupRoot:  filepath.Join(c.Root, "backup"),
		LogPath:     filepath.Join(c.Root, "logs", "sharkoder.log"),
	}
}

// EnsureDirs creates the directories the scheduler and store need to exist
// before first use.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{
		p.ScratchRoot,
		filepath.Join(p.ScratchRoot, "downloaded"),
		filepath.Join(p.ScratchRoot, "encoded"),
		p.BackupRoot,
		filepath.Dir(p.LogPath),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
