package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sharkoder/sharkoder/internal/models"
	"github.com/sharkoder/sharkoder/internal/remotefs"
)

func TestSearchIndexUpsertAndQueryFindsSubstring(t *testing.T) {
	idx, err := NewSearchIndex()
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(&models.FileRow{Path: "/media/Interstellar.2014.mkv", Name: "Interstellar.2014.mkv"}))
	require.NoError(t, idx.Upsert(&models.FileRow{Path: "/media/Inception.2010.mkv", Name: "Inception.2010.mkv"}))

	hits, err := idx.query("stellar", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"/media/Interstellar.2014.mkv"}, hits)
}

func TestSearchIndexQueryIsCaseInsensitive(t *testing.T) {
	idx, err := NewSearchIndex()
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(&models.FileRow{Path: "/media/Dune.Part.Two.mkv", Name: "Dune.Part.Two.mkv"}))

	hits, err := idx.query("DUNE", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"/media/Dune.Part.Two.mkv"}, hits)
}

func TestSearchIndexQueryEmptyTermReturnsNothing(t *testing.T) {
	idx, err := NewSearchIndex()
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(&models.FileRow{Path: "/media/a.mkv", Name: "a.mkv"}))

	hits, err := idx.query("   ", 10)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestSearchIndexDeleteRemovesFromResults(t *testing.T) {
	idx, err := NewSearchIndex()
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(&models.FileRow{Path: "/media/a.mkv", Name: "a.mkv"}))

	hits, err := idx.query("a.mkv", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	require.NoError(t, idx.Delete("/media/a.mkv"))
	hits, err = idx.query("a.mkv", 10)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestSearchIndexIndexAllBulkLoadsRows(t *testing.T) {
	idx, err := NewSearchIndex()
	require.NoError(t, err)

	rows := []*models.FileRow{
		{Path: "/media/one.mkv", Name: "one.mkv"},
		{Path: "/media/two.mkv", Name: "two.mkv"},
	}
	require.NoError(t, idx.IndexAll(rows))

	hits, err := idx.query("mkv", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
}

func TestCacheSearchLazilyBuildsIndexFromStore(t *testing.T) {
	adapter := newFakeTreeAdapter()
	buildSingleLevelTree(adapter)
	c := newTestCache(t, adapter)
	require.NoError(t, c.FullIndex(context.Background(), "/media"))

	// Search is called without EnableSearch/ReindexSearch ever having run
	// explicitly here (FullIndex already calls ReindexSearch, so reset c.search
	// to nil to force the lazy-build branch in Search()).
	c.search = nil

	rows, err := c.Search("movie", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2) // movie1.mkv, movie2.mp4
}

func TestCacheSearchRespectsLimit(t *testing.T) {
	adapter := newFakeTreeAdapter()
	buildSingleLevelTree(adapter)
	c := newTestCache(t, adapter)
	require.NoError(t, c.FullIndex(context.Background(), "/media"))

	rows, err := c.Search("movie", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestCacheSearchDefaultsLimitWhenNonPositive(t *testing.T) {
	adapter := newFakeTreeAdapter()
	buildSingleLevelTree(adapter)
	c := newTestCache(t, adapter)
	require.NoError(t, c.FullIndex(context.Background(), "/media"))

	rows, err := c.Search("movie", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestReindexSearchRebuildsFromDurableCache(t *testing.T) {
	adapter := newFakeTreeAdapter()
	buildSingleLevelTree(adapter)
	c := newTestCache(t, adapter)
	require.NoError(t, c.FullIndex(context.Background(), "/media"))

	// Corrupt the live index, then rebuild it from the store and confirm
	// results come back (spec §4.4: index "rebuilt from the durable cache on
	// indexation").
	require.NoError(t, c.search.Delete("/media/movie1.mkv"))
	rows, err := c.Search("movie1", 10)
	require.NoError(t, err)
	require.Empty(t, rows)

	require.NoError(t, c.ReindexSearch())
	rows, err = c.Search("movie1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestIncSyncUpsertsIntoEnabledSearchIndex(t *testing.T) {
	adapter := newFakeTreeAdapter()
	buildSingleLevelTree(adapter)
	c := newTestCache(t, adapter)
	require.NoError(t, c.FullIndex(context.Background(), "/media"))

	adapter.set("/media", []remotefs.Entry{
		{Name: "movie1.mkv", Type: remotefs.TypeFile, Size: 1000, ModTime: time.Now()},
		{Name: "movie2.mp4", Type: remotefs.TypeFile, Size: 2000, ModTime: time.Now()},
		{Name: "readme.txt", Type: remotefs.TypeFile, Size: 10, ModTime: time.Now()},
		{Name: "shows", Type: remotefs.TypeDir, ModTime: time.Now()},
		{Name: "newshow.mkv", Type: remotefs.TypeFile, Size: 400, ModTime: time.Now()},
	})
	require.NoError(t, c.IncSync(context.Background(), "/media"))

	rows, err := c.Search("newshow", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "/media/newshow.mkv", rows[0].Path)
}

func TestIncSyncDeletesFromEnabledSearchIndex(t *testing.T) {
	adapter := newFakeTreeAdapter()
	buildSingleLevelTree(adapter)
	c := newTestCache(t, adapter)
	require.NoError(t, c.FullIndex(context.Background(), "/media"))

	adapter.set("/media", []remotefs.Entry{
		{Name: "movie1.mkv", Type: remotefs.TypeFile, Size: 1000, ModTime: time.Now()},
		{Name: "readme.txt", Type: remotefs.TypeFile, Size: 10, ModTime: time.Now()},
		{Name: "shows", Type: remotefs.TypeDir, ModTime: time.Now()},
	})
	adapter.set("/media/shows", []remotefs.Entry{
		{Name: "ep1.mkv", Type: remotefs.TypeFile, Size: 500, ModTime: time.Now()},
	})
	require.NoError(t, c.IncSync(context.Background(), "/media"))

	rows, err := c.Search("movie2", 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}
