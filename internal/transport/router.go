// Package transport routes remote file system operations across the two
// configured adapters with a per-adapter read-only latch (spec §4.2:
// "Transport Router"). Adapter liveness is not tracked: the alive flags are
// set from whether each adapter is configured and are not consulted when
// picking an adapter.
package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sharkoder/sharkoder/internal/remotefs"
)

// Op identifies which preference table Router.pick consults.
type Op int

const (
	OpListStat Op = iota
	OpDownload
	OpUpload
)

// Router picks an adapter per operation, prefers the HTTP-based adapter for
// list/stat/download, and fails over to the other adapter on
// Timeout/ConnectionLost/Transient. Once an adapter returns Forbidden on a
// write, it is latched read-only and uploads go to the other adapter from
// then on (spec §4.2, GLOSSARY: "Read-only flag").
type Router struct {
	http remotefs.Adapter // prefer for list/stat/download
	ssh  remotefs.Adapter

	httpReadOnly atomic.Bool
	sshReadOnly  atomic.Bool

	mu          sync.Mutex
	httpAlive   bool
	sshAlive    bool
	onFailover  func(from, to, op string)
}

// NewRouter constructs a Router over the two adapters. Either may be nil if
// only one transport is configured.
func NewRouter(httpAdapter, sshAdapter remotefs.Adapter, onFailover func(from, to, op string)) *Router {
	return &Router{
		http:       httpAdapter,
		ssh:        sshAdapter,
		httpAlive:  httpAdapter != nil,
		sshAlive:   sshAdapter != nil,
		onFailover: onFailover,
	}
}

func (r *Router) preferred(op Op) (primary, secondary remotefs.Adapter) {
	switch op {
	case OpUpload:
		if r.httpReadOnly.Load() && !r.sshReadOnly.Load() {
			return r.ssh, r.http
		}
		if r.sshReadOnly.Load() && !r.httpReadOnly.Load() {
			return r.http, r.ssh
		}
		return r.http, r.ssh
	default: // OpListStat, OpDownload: HTTP preferred whenever configured
		return r.http, r.ssh
	}
}

func (r *Router) latchReadOnly(a remotefs.Adapter) {
	if a == nil {
		return
	}
	if a == r.http {
		r.httpReadOnly.Store(true)
	} else if a == r.ssh {
		r.sshReadOnly.Store(true)
	}
}

// do runs fn against the preferred adapter, failing over to the secondary
// once on Timeout/ConnectionLost/Transient/Forbidden (spec §4.2: "retry once
// on the other connected adapter; if both fail, surface to scheduler with
// error kind preserved").
func (r *Router) do(op Op, fn func(remotefs.Adapter) error) error {
	primary, secondary := r.preferred(op)
	if primary == nil {
		if secondary == nil {
			return remotefs.NewError(remotefs.KindFatal, "router", "do", "", errNoAdapters)
		}
		return fn(secondary)
	}

	err := fn(primary)
	if err == nil {
		return nil
	}

	kind := remotefs.KindOf(err)
	if kind == remotefs.KindForbidden && op == OpUpload {
		r.latchReadOnly(primary)
	}
	if !isFailoverKind(kind) || secondary == nil {
		return err
	}

	if r.onFailover != nil {
		r.onFailover(primary.Name(), secondary.Name(), opName(op))
	}
	err2 := fn(secondary)
	if err2 == nil {
		return nil
	}
	if remotefs.KindOf(err2) == remotefs.KindForbidden && op == OpUpload {
		r.latchReadOnly(secondary)
	}
	return err2
}

func isFailoverKind(k remotefs.ErrKind) bool {
	switch k {
	case remotefs.KindTimeout, remotefs.KindConnectionLost, remotefs.KindTransient, remotefs.KindForbidden:
		return true
	default:
		return false
	}
}

func opName(op Op) string {
	switch op {
	case OpListStat:
		return "list/stat"
	case OpDownload:
		return "download"
	case OpUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// List, Stat, etc. delegate through do() with op-appropriate preference.

func (r *Router) List(ctx context.Context, path string) (entries []remotefs.Entry, err error) {
	err = r.do(OpListStat, func(a remotefs.Adapter) error {
		var e error
		entries, e = a.List(ctx, path)
		return e
	})
	return
}

func (r *Router) Stat(ctx context.Context, path string) (st remotefs.Stat, err error) {
	err = r.do(OpListStat, func(a remotefs.Adapter) error {
		var e error
		st, e = a.Stat(ctx, path)
		return e
	})
	return
}

func (r *Router) OpenRead(ctx context.Context, path string, offset int64) (rs remotefs.ReadStream, err error) {
	err = r.do(OpDownload, func(a remotefs.Adapter) error {
		var e error
		rs, e = a.OpenRead(ctx, path, offset)
		return e
	})
	return
}

func (r *Router) OpenWrite(ctx context.Context, path string, offset int64, overwrite bool) (ws remotefs.WriteStream, err error) {
	err = r.do(OpUpload, func(a remotefs.Adapter) error {
		var e error
		ws, e = a.OpenWrite(ctx, path, offset, overwrite)
		return e
	})
	return
}

func (r *Router) Rename(ctx context.Context, src, dst string) error {
	return r.do(OpUpload, func(a remotefs.Adapter) error {
		return a.Rename(ctx, src, dst)
	})
}

func (r *Router) Delete(ctx context.Context, path string) error {
	return r.do(OpUpload, func(a remotefs.Adapter) error {
		return a.Delete(ctx, path)
	})
}

func (r *Router) Exists(ctx context.Context, path string) (exists bool, err error) {
	err = r.do(OpListStat, func(a remotefs.Adapter) error {
		var e error
		exists, e = a.Exists(ctx, path)
		return e
	})
	return
}

// Close closes both adapters.
func (r *Router) Close() error {
	if r.http != nil {
		r.http.Close()
	}
	if r.ssh != nil {
		r.ssh.Close()
	}
	return nil
}
