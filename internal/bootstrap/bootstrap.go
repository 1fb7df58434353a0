// Package bootstrap wires a Config snapshot into the adapters, store, and
// scheduler the daemon and CLI both need, grounded on the connection-config
// pattern in sshfs's host-key/password setup (itself adapted from
// pkg/blobserver/sftp's NewFromConfig).
package bootstrap

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/sharkoder/sharkoder/internal/cache"
	"github.com/sharkoder/sharkoder/internal/config"
	"github.com/sharkoder/sharkoder/internal/constants"
	"github.com/sharkoder/sharkoder/internal/events"
	"github.com/sharkoder/sharkoder/internal/logging"
	"github.com/sharkoder/sharkoder/internal/remotefs"
	"github.com/sharkoder/sharkoder/internal/remotefs/httpfs"
	"github.com/sharkoder/sharkoder/internal/remotefs/sshfs"
	"github.com/sharkoder/sharkoder/internal/scheduler"
	"github.com/sharkoder/sharkoder/internal/store"
	"github.com/sharkoder/sharkoder/internal/transport"
	"github.com/sharkoder/sharkoder/internal/videoproc"
)

// App bundles every long-lived component wired from a Config snapshot.
type App struct {
	Config    *config.Config
	Store     *store.Store
	Router    *transport.Router
	Prober    *videoproc.Prober
	Encoder   *videoproc.Encoder
	Scheduler *scheduler.Scheduler
	Cache     *cache.Cache
	Bus       *events.EventBus
}

// Build opens the durable store and constructs every adapter named by cfg.
// It does not start the scheduler's goroutines; callers invoke
// App.Scheduler.Start separately (spec §4.6: "start").
func Build(cfg *config.Config, log *logging.Logger) (*App, error) {
	paths := cfg.Paths()
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var sshAdapter remotefs.Adapter
	if cfg.SSH.Addr != "" {
		sshAdapter, err = buildSSHAdapter(cfg)
		if err != nil {
			return nil, err
		}
	}

	var httpAdapter remotefs.Adapter
	if cfg.HTTP.BaseURL != "" {
		httpAdapter = httpfs.New(httpfs.Config{
			BaseURL:   cfg.HTTP.BaseURL,
			AuthToken: cfg.HTTP.AuthToken,
			Warnf:     log.Warnf,
		})
	}

	router := transport.NewRouter(httpAdapter, sshAdapter, func(from, to, op string) {
		log.Warnf("transport failover: %s -> %s for %s", from, to, op)
	})

	prober := videoproc.NewProber(binaryPathOrDefault("ffprobe"))
	marker := videoproc.NewMarkerStore(paths.CrashMarker)
	encoder := videoproc.NewEncoder(binaryPathOrDefault("ffmpeg"), marker)

	bus := log.EventBus()

	sched := scheduler.New(scheduler.Config{
		MaxDownloads:       cfg.Scheduler.MaxDownloads,
		MaxUploads:         cfg.Scheduler.MaxUploads,
		ScratchRoot:        paths.ScratchRoot,
		BackupRoot:         paths.BackupRoot,
		BlockLargerEncoded: cfg.Scheduler.BlockLargerEncoded,
		KeepOriginal:       cfg.Scheduler.KeepOriginal,
		KeepEncoded:        cfg.Scheduler.KeepEncoded,
		BackupsEnabled:     cfg.Scheduler.BackupsEnabled,
		ReleaseTag:         cfg.Scheduler.ReleaseTag,
		EncodeConfig:       cfg.Encode,
	}, st, router, prober, encoder, bus, log)

	mc := cache.New(st, router, prober, log, cfg.Scheduler.ProbeWorkers)

	return &App{
		Config: cfg, Store: st, Router: router, Prober: prober,
		Encoder: encoder, Scheduler: sched, Cache: mc, Bus: bus,
	}, nil
}

func buildSSHAdapter(cfg *config.Config) (remotefs.Adapter, error) {
	auth := []ssh.AuthMethod{}
	if cfg.SSH.PrivateKeyPath != "" {
		key, err := os.ReadFile(cfg.SSH.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.SSH.Password != "" {
		auth = append(auth, ssh.Password(cfg.SSH.Password))
	}

	addr := cfg.SSH.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	return sshfs.New(sshfs.Config{
		Addr: addr,
		ClientConfig: &ssh.ClientConfig{
			User:            cfg.SSH.User,
			Auth:            auth,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         constants.DefaultConnectionTimeout,
		},
		ConnectTimeout: constants.DefaultConnectionTimeout,
	}), nil
}

func binaryPathOrDefault(name string) string {
	if p := os.Getenv("SHARKODER_" + name); p != "" {
		return p
	}
	return name
}
