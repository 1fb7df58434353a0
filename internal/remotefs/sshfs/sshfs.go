// Package sshfs implements remotefs.Adapter over an SFTP subsystem carried
// on an SSH connection, grounded on the connect/reconnect pattern used by
// pkg/sftp-based blob stores: dial once, cache the client, mark it dead and
// redial lazily on the next operation after a connection failure.
package sshfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/sharkoder/sharkoder/internal/remotefs"
)

const adapterName = "sshfs"

// Config describes how to reach the remote SSH/SFTP endpoint.
type Config struct {
	Addr           string // host:port
	ClientConfig   *ssh.ClientConfig
	ConnectTimeout time.Duration
}

// Adapter is an SFTP-backed remotefs.Adapter.
type Adapter struct {
	cfg Config

	mu   sync.Mutex
	sshc *ssh.Client
	sc   *sftp.Client
}

// New returns an Adapter that connects lazily on first use.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Name() string { return adapterName }

// client returns a live *sftp.Client, dialing if necessary.
func (a *Adapter) client() (*sftp.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sc != nil {
		return a.sc, nil
	}

	cc := a.cfg.ClientConfig
	if cc.Timeout == 0 {
		cc.Timeout = a.cfg.ConnectTimeout
	}
	sshc, err := ssh.Dial("tcp", a.cfg.Addr, cc)
	if err != nil {
		return nil, remotefs.NewError(remotefs.KindConnectionLost, adapterName, "dial", a.cfg.Addr, err)
	}
	sc, err := sftp.NewClient(sshc)
	if err != nil {
		sshc.Close()
		return nil, remotefs.NewError(remotefs.KindConnectionLost, adapterName, "sftp-handshake", a.cfg.Addr, err)
	}
	a.sshc = sshc
	a.sc = sc
	return sc, nil
}

// markDead drops the cached client so the next call redials.
func (a *Adapter) markDead() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sshc != nil {
		go a.sshc.Close()
	}
	a.sc = nil
	a.sshc = nil
}

func classify(err error) remotefs.ErrKind {
	if err == nil {
		return remotefs.KindUnknown
	}
	if os.IsNotExist(err) || err == os.ErrNotExist {
		return remotefs.KindNotFound
	}
	if status, ok := err.(*sftp.StatusError); ok {
		switch status.Code {
		case 2: // SSH_FX_NO_SUCH_FILE
			return remotefs.KindNotFound
		case 3: // SSH_FX_PERMISSION_DENIED
			return remotefs.KindForbidden
		}
	}
	return remotefs.KindTransient
}

func (a *Adapter) wrapErr(op, p string, err error) error {
	if err == nil {
		return nil
	}
	kind := classify(err)
	if kind == remotefs.KindTransient {
		a.markDead()
	}
	return remotefs.NewError(kind, adapterName, op, p, err)
}

func (a *Adapter) List(ctx context.Context, p string) ([]remotefs.Entry, error) {
	sc, err := a.client()
	if err != nil {
		return nil, err
	}
	infos, err := sc.ReadDir(p)
	if err != nil {
		return nil, a.wrapErr("list", p, err)
	}
	entries := make([]remotefs.Entry, 0, len(infos))
	for _, info := range infos {
		t := remotefs.TypeFile
		if info.IsDir() {
			t = remotefs.TypeDir
		}
		entries = append(entries, remotefs.Entry{
			Name:    info.Name(),
			Type:    t,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

func (a *Adapter) Stat(ctx context.Context, p string) (remotefs.Stat, error) {
	sc, err := a.client()
	if err != nil {
		return remotefs.Stat{}, err
	}
	info, err := sc.Stat(p)
	if err != nil {
		if classify(err) == remotefs.KindNotFound {
			return remotefs.Stat{Exists: false}, nil
		}
		return remotefs.Stat{}, a.wrapErr("stat", p, err)
	}
	return remotefs.Stat{Size: info.Size(), ModTime: info.ModTime(), Exists: true}, nil
}

type readStream struct {
	f *sftp.File
}

func (r *readStream) Read(b []byte) (int, error) { return r.f.Read(b) }
func (r *readStream) Close() error               { return r.f.Close() }

func (a *Adapter) OpenRead(ctx context.Context, p string, offset int64) (remotefs.ReadStream, error) {
	sc, err := a.client()
	if err != nil {
		return nil, err
	}
	f, err := sc.Open(p)
	if err != nil {
		return nil, a.wrapErr("open-read", p, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, a.wrapErr("seek", p, err)
		}
	}
	return &readStream{f: f}, nil
}

type writeStream struct {
	f *sftp.File
}

func (w *writeStream) Write(b []byte) (int, error) { return w.f.Write(b) }
func (w *writeStream) Close() error                { return w.f.Close() }

func (a *Adapter) OpenWrite(ctx context.Context, p string, offset int64, overwrite bool) (remotefs.WriteStream, error) {
	sc, err := a.client()
	if err != nil {
		return nil, err
	}
	if !overwrite {
		if _, statErr := sc.Stat(p); statErr == nil {
			return nil, remotefs.NewError(remotefs.KindForbidden, adapterName, "open-write", p, fmt.Errorf("exists"))
		}
	}
	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := sc.OpenFile(p, flags)
	if err != nil {
		return nil, a.wrapErr("open-write", p, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, a.wrapErr("seek", p, err)
		}
	}
	return &writeStream{f: f}, nil
}

func (a *Adapter) Rename(ctx context.Context, src, dst string) error {
	sc, err := a.client()
	if err != nil {
		return err
	}
	if err := sc.Rename(src, dst); err != nil {
		return a.wrapErr("rename", src+" -> "+dst, err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, p string) error {
	sc, err := a.client()
	if err != nil {
		return err
	}
	if err := sc.Remove(p); err != nil {
		return a.wrapErr("delete", p, err)
	}
	return nil
}

func (a *Adapter) Exists(ctx context.Context, p string) (bool, error) {
	st, err := a.Stat(ctx, p)
	if err != nil {
		return false, err
	}
	return st.Exists, nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sc != nil {
		a.sc.Close()
	}
	if a.sshc != nil {
		a.sshc.Close()
	}
	a.sc = nil
	a.sshc = nil
	return nil
}

// Join mirrors path.Join but keeps remote paths POSIX-style regardless of
// the host OS the daemon runs on.
func Join(elem ...string) string { return path.Join(elem...) }
