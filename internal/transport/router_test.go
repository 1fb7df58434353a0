package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sharkoder/sharkoder/internal/remotefs"
)

type fakeAdapter struct {
	name string

	statErr   error
	existsErr error
	deleteErr error

	calls []string
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) List(ctx context.Context, path string) ([]remotefs.Entry, error) {
	f.calls = append(f.calls, "List")
	return nil, nil
}

func (f *fakeAdapter) Stat(ctx context.Context, path string) (remotefs.Stat, error) {
	f.calls = append(f.calls, "Stat")
	if f.statErr != nil {
		return remotefs.Stat{}, f.statErr
	}
	return remotefs.Stat{Exists: true, Size: 10}, nil
}

func (f *fakeAdapter) OpenRead(ctx context.Context, path string, offset int64) (remotefs.ReadStream, error) {
	return nil, nil
}

func (f *fakeAdapter) OpenWrite(ctx context.Context, path string, offset int64, overwrite bool) (remotefs.WriteStream, error) {
	return nil, nil
}

func (f *fakeAdapter) Rename(ctx context.Context, src, dst string) error { return nil }

func (f *fakeAdapter) Delete(ctx context.Context, path string) error {
	f.calls = append(f.calls, "Delete")
	return f.deleteErr
}

func (f *fakeAdapter) Exists(ctx context.Context, path string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return true, nil
}

func (f *fakeAdapter) Close() error { return nil }

func TestRouterPrefersHTTPForListStat(t *testing.T) {
	h := &fakeAdapter{name: "http"}
	s := &fakeAdapter{name: "ssh"}
	r := NewRouter(h, s, nil)

	_, err := r.Stat(context.Background(), "/a.mkv")
	require.NoError(t, err)
	require.Equal(t, []string{"Stat"}, h.calls)
	require.Empty(t, s.calls)
}

func TestRouterFailsOverOnTransientError(t *testing.T) {
	h := &fakeAdapter{name: "http", statErr: remotefs.NewError(remotefs.KindTransient, "http", "stat", "/a.mkv", errors.New("boom"))}
	s := &fakeAdapter{name: "ssh"}

	var failedFrom, failedTo string
	r := NewRouter(h, s, func(from, to, op string) { failedFrom, failedTo = from, to })

	st, err := r.Stat(context.Background(), "/a.mkv")
	require.NoError(t, err)
	require.True(t, st.Exists)
	require.Equal(t, "http", failedFrom)
	require.Equal(t, "ssh", failedTo)
}

func TestRouterDoesNotFailoverOnNotFound(t *testing.T) {
	h := &fakeAdapter{name: "http", statErr: remotefs.NewError(remotefs.KindNotFound, "http", "stat", "/a.mkv", errors.New("nope"))}
	s := &fakeAdapter{name: "ssh"}
	r := NewRouter(h, s, nil)

	_, err := r.Stat(context.Background(), "/a.mkv")
	require.Error(t, err)
	require.Equal(t, remotefs.KindNotFound, remotefs.KindOf(err))
	require.Empty(t, s.calls)
}

func TestRouterLatchesReadOnlyOnForbiddenUpload(t *testing.T) {
	h := &fakeAdapter{name: "http", deleteErr: remotefs.NewError(remotefs.KindForbidden, "http", "delete", "/a.mkv", errors.New("denied"))}
	s := &fakeAdapter{name: "ssh"}
	r := NewRouter(h, s, nil)

	err := r.Delete(context.Background(), "/a.mkv")
	require.NoError(t, err)
	require.True(t, r.httpReadOnly.Load())

	// Subsequent uploads prefer ssh now that http is latched read-only.
	s.deleteErr = nil
	require.NoError(t, r.Delete(context.Background(), "/b.mkv"))
	require.Contains(t, s.calls, "Delete")
}

func TestRouterBothNilReturnsFatal(t *testing.T) {
	r := NewRouter(nil, nil, nil)
	_, err := r.Stat(context.Background(), "/a.mkv")
	require.Equal(t, remotefs.KindFatal, remotefs.KindOf(err))
}

func TestRouterOnlySecondaryConfigured(t *testing.T) {
	s := &fakeAdapter{name: "ssh"}
	r := NewRouter(nil, s, nil)

	_, err := r.Stat(context.Background(), "/a.mkv")
	require.NoError(t, err)
	require.Equal(t, []string{"Stat"}, s.calls)
}
