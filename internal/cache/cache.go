// Package cache implements the Metadata Cache: a hierarchical mirror of the
// remote tree with folder aggregates and per-file probe data, reconciled
// against a mutable remote by full and incremental indexation (spec §4.4).
package cache

import (
	"context"
	"path"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sharkoder/sharkoder/internal/logging"
	"github.com/sharkoder/sharkoder/internal/models"
	"github.com/sharkoder/sharkoder/internal/remotefs"
	"github.com/sharkoder/sharkoder/internal/store"
	"github.com/sharkoder/sharkoder/internal/transport"
	"github.com/sharkoder/sharkoder/internal/videoproc"
)

// Cache coordinates remote exploration, probing, and durable persistence.
type Cache struct {
	store        *store.Store
	router       *transport.Router
	prober       *videoproc.Prober
	log          *logging.Logger
	probeWorkers int
	search       *SearchIndex // optional, built lazily
	indexed      atomic.Int64
	onIndexed    func(count int64)
}

// OnIndexProgress registers a callback invoked after each file row is
// written during FullIndex, for a CLI progress display.
func (c *Cache) OnIndexProgress(fn func(count int64)) {
	c.onIndexed = fn
}

func (c *Cache) reportIndexed() {
	n := c.indexed.Add(1)
	if c.onIndexed != nil {
		c.onIndexed(n)
	}
}

// New constructs a Cache. probeWorkers is the size of the probe pool (spec
// §4.4, default 10).
func New(st *store.Store, router *transport.Router, prober *videoproc.Prober, log *logging.Logger, probeWorkers int) *Cache {
	if probeWorkers <= 0 {
		probeWorkers = 10
	}
	return &Cache{store: st, router: router, prober: prober, log: log, probeWorkers: probeWorkers}
}

func isVideoExt(name string) bool {
	switch ext := path.Ext(name); ext {
	case ".mkv", ".mp4", ".mov", ".avi", ".webm", ".ts", ".m4v", ".wmv", ".flv":
		return true
	default:
		return false
	}
}

// probeJob is one queue item feeding the probe worker pool. The queue is a
// channel buffered to 4096 items shared by the N probe workers.
type probeJob struct {
	row models.FileRow
}

// FullIndex deletes cache contents then walks root single-threaded,
// dispatching video files to N probe workers; non-video files are written
// immediately (spec §4.4: "Full indexation").
func (c *Cache) FullIndex(ctx context.Context, root string) error {
	if err := c.store.ClearCache(); err != nil {
		return err
	}
	c.indexed.Store(0)

	jobs := make(chan probeJob, 4096)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < c.probeWorkers; i++ {
		g.Go(func() error {
			for job := range jobs {
				c.probeAndStore(gctx, job.row)
			}
			return nil
		})
	}

	err := c.explore(gctx, root, jobs)
	close(jobs)
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return err
	}

	if err := c.recomputeAggregates(root); err != nil {
		return err
	}
	if err := c.ReindexSearch(); err != nil {
		return err
	}
	return c.store.SetMeta(models.CacheMeta{LastFullScan: time.Now(), LastIncSync: c.store.Meta().LastIncSync})
}

// explore is the single-threaded directory walk that feeds the probe queue
// (spec §4.4: "Exploration is single-threaded").
func (c *Cache) explore(ctx context.Context, dir string, jobs chan<- probeJob) error {
	entries, err := c.router.List(ctx, dir)
	if err != nil {
		return err
	}

	var fileCount, videoCount int
	var totalSize int64

	for _, e := range entries {
		childPath := path.Join(dir, e.Name)
		if e.Type == remotefs.TypeDir {
			if err := c.explore(ctx, childPath, jobs); err != nil {
				return err
			}
			continue
		}

		fileCount++
		totalSize += e.Size
		row := models.FileRow{
			Path: childPath, Parent: dir, Name: e.Name,
			Size: e.Size, ModTime: e.ModTime,
			IsVideo: isVideoExt(e.Name), LastSync: time.Now(),
		}
		if row.IsVideo {
			videoCount++
			select {
			case jobs <- probeJob{row: row}:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			c.store.UpsertFile(&row)
			c.reportIndexed()
		}
	}

	return c.store.UpsertFolder(&models.FolderRow{
		Path: dir, Parent: path.Dir(dir), ModTime: time.Now(),
		FileCount: fileCount, VideoCount: videoCount, TotalSize: totalSize,
		LastSync: time.Now(),
	})
}

// probeAndStore invokes the probe adapter against the remote URL (no
// download) with a timeout; failure still writes a row with null probe
// fields (spec §4.4, §8: "A probe timeout shall produce a file row with
// null codec/resolution/bitrate/duration, not abort the indexation").
func (c *Cache) probeAndStore(ctx context.Context, row models.FileRow) {
	info, err := c.prober.Probe(ctx, row.Path, true)
	if err != nil {
		row.ProbeFailed = true
		c.store.UpsertFile(&row)
		c.reportIndexed()
		if c.log != nil {
			c.log.Debugf("probe failed for %s: %v", row.Path, err)
		}
		return
	}
	row.Codec = info.Codec
	row.ResBucket = info.ResolutionBucket()
	row.Bitrate = info.Bitrate
	row.Duration = info.Duration
	c.store.UpsertFile(&row)
	c.reportIndexed()
}

// recomputeAggregates walks cached folders bottom-up so each folder's
// counts/sizes/durations equal its direct children plus child folder
// aggregates (spec §4.4 invariant, §8 invariant #7).
func (c *Cache) recomputeAggregates(root string) error {
	var walk func(dir string) (models.FolderRow, error)
	walk = func(dir string) (models.FolderRow, error) {
		agg := models.FolderRow{Path: dir, Parent: path.Dir(dir), LastSync: time.Now()}

		for _, f := range c.store.FilesUnder(dir) {
			agg.FileCount++
			agg.TotalSize += f.Size
			if f.IsVideo {
				agg.VideoCount++
				agg.TotalDur += f.Duration
			}
		}
		for _, childRow := range c.store.FoldersUnder(dir) {
			child, err := walk(childRow.Path)
			if err != nil {
				return agg, err
			}
			agg.FileCount += child.FileCount
			agg.VideoCount += child.VideoCount
			agg.TotalSize += child.TotalSize
			agg.TotalDur += child.TotalDur
		}

		if existing := c.store.Folder(dir); existing != nil {
			agg.ModTime = existing.ModTime
		}
		if err := c.store.UpsertFolder(&agg); err != nil {
			return agg, err
		}
		return agg, nil
	}
	_, err := walk(root)
	return err
}

// IncSync reconciles dir (and its subdirectories) against the live server
// listing without recomputing folder aggregates (spec §4.4: "Incremental
// sync").
func (c *Cache) IncSync(ctx context.Context, dir string) error {
	entries, err := c.router.List(ctx, dir)
	if err != nil {
		return err
	}
	server := make(map[string]remotefs.Entry, len(entries))
	for _, e := range entries {
		server[path.Join(dir, e.Name)] = e
	}

	cached := c.store.FilesUnder(dir)
	cachedByPath := make(map[string]*models.FileRow, len(cached))
	for _, f := range cached {
		cachedByPath[f.Path] = f
	}

	for childPath, e := range server {
		if e.Type == remotefs.TypeDir {
			if err := c.IncSync(ctx, childPath); err != nil {
				return err
			}
			continue
		}
		existing, known := cachedByPath[childPath]
		switch {
		case !known:
			row := models.FileRow{
				Path: childPath, Parent: dir, Name: e.Name,
				Size: e.Size, ModTime: e.ModTime, IsVideo: isVideoExt(e.Name),
				LastSync: time.Now(),
			}
			// Video rows inserted without probe; probe only on full scan.
			c.store.UpsertFile(&row)
			if c.search != nil {
				c.search.Upsert(&row)
			}
		case e.ModTime.After(existing.ModTime):
			existing.Size = e.Size
			existing.ModTime = e.ModTime
			existing.LastSync = time.Now()
			c.store.UpsertFile(existing)
			if c.search != nil {
				c.search.Upsert(existing)
			}
		}
	}

	for childPath := range cachedByPath {
		if _, present := server[childPath]; !present {
			c.store.DeleteFile(childPath)
			if c.search != nil {
				c.search.Delete(childPath)
			}
		}
	}

	if folder := c.store.Folder(dir); folder != nil {
		folder.LastSync = time.Now()
		c.store.UpsertFolder(folder)
	}

	meta := c.store.Meta()
	meta.LastIncSync = time.Now()
	return c.store.SetMeta(meta)
}

// ListDirectory merges cached rows with a live listing so newly created
// remote folders appear immediately (spec §4.4: "Queries").
func (c *Cache) ListDirectory(ctx context.Context, dir string) ([]models.FileRow, []models.FolderRow, error) {
	files := c.store.FilesUnder(dir)
	folders := c.store.FoldersUnder(dir)

	live, err := c.router.List(ctx, dir)
	if err != nil {
		return nil, nil, err
	}
	known := make(map[string]bool)
	for _, f := range files {
		known[f.Name] = true
	}
	for _, f := range folders {
		known[path.Base(f.Path)] = true
	}
	out := make([]models.FileRow, len(files))
	copy(out, toValues(files))
	outFolders := make([]models.FolderRow, len(folders))
	copy(outFolders, toFolderValues(folders))

	for _, e := range live {
		if known[e.Name] {
			continue
		}
		if e.Type == remotefs.TypeDir {
			outFolders = append(outFolders, models.FolderRow{Path: path.Join(dir, e.Name), Parent: dir, ModTime: e.ModTime})
		} else {
			out = append(out, models.FileRow{Path: path.Join(dir, e.Name), Parent: dir, Name: e.Name, Size: e.Size, ModTime: e.ModTime, IsVideo: isVideoExt(e.Name)})
		}
	}
	return out, outFolders, nil
}

func toValues(rows []*models.FileRow) []models.FileRow {
	out := make([]models.FileRow, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out
}

func toFolderValues(rows []*models.FolderRow) []models.FolderRow {
	out := make([]models.FolderRow, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out
}

// FolderStats returns a folder's cached aggregate in O(1) (spec §4.4:
// "folder statistics retrieval in O(1) from the aggregate row").
func (c *Cache) FolderStats(dir string) *models.FolderRow {
	return c.store.Folder(dir)
}
