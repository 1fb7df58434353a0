package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sharkoder/sharkoder/internal/models"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestAddJobAssignsSequentialIDs(t *testing.T) {
	s := openTemp(t)

	j1, err := s.AddJob("/movies/a.mkv", 100)
	require.NoError(t, err)
	j2, err := s.AddJob("/movies/b.mkv", 200)
	require.NoError(t, err)

	require.Equal(t, int64(1), j1.ID)
	require.Equal(t, int64(2), j2.ID)
	require.Equal(t, models.StateWaiting, j1.State)
}

func TestAddJobRejectsDuplicateActivePath(t *testing.T) {
	s := openTemp(t)

	_, err := s.AddJob("/movies/a.mkv", 100)
	require.NoError(t, err)

	_, err = s.AddJob("/movies/a.mkv", 100)
	require.Error(t, err)
}

func TestAddJobAllowsReAddAfterTerminal(t *testing.T) {
	s := openTemp(t)

	j1, err := s.AddJob("/movies/a.mkv", 100)
	require.NoError(t, err)

	_, err = s.UpdateJob(j1.ID, func(j *models.Job) { j.State = models.StateCompleted })
	require.NoError(t, err)

	j2, err := s.AddJob("/movies/a.mkv", 100)
	require.NoError(t, err)
	require.NotEqual(t, j1.ID, j2.ID)
}

func TestGetJobReturnsACopy(t *testing.T) {
	s := openTemp(t)
	job, err := s.AddJob("/movies/a.mkv", 100)
	require.NoError(t, err)

	fetched := s.GetJob(job.ID)
	require.NotNil(t, fetched)
	fetched.State = models.StateFailed

	again := s.GetJob(job.ID)
	require.Equal(t, models.StateWaiting, again.State)
}

func TestGetJobMissingReturnsNil(t *testing.T) {
	s := openTemp(t)
	require.Nil(t, s.GetJob(999))
}

func TestJobsByStateOrdersByInsertion(t *testing.T) {
	s := openTemp(t)
	_, err := s.AddJob("/a.mkv", 1)
	require.NoError(t, err)
	_, err = s.AddJob("/b.mkv", 2)
	require.NoError(t, err)
	_, err = s.AddJob("/c.mkv", 3)
	require.NoError(t, err)

	waiting := s.JobsByState(models.StateWaiting)
	require.Len(t, waiting, 3)
	require.Equal(t, []string{"/a.mkv", "/b.mkv", "/c.mkv"}, []string{
		waiting[0].RemotePath, waiting[1].RemotePath, waiting[2].RemotePath,
	})
}

func TestUpdateJobPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	job, err := s.AddJob("/movies/a.mkv", 100)
	require.NoError(t, err)
	_, err = s.UpdateJob(job.ID, func(j *models.Job) { j.State = models.StateReadyEncode })
	require.NoError(t, err)

	reopened, err := Open(dir)
	require.NoError(t, err)
	got := reopened.GetJob(job.ID)
	require.NotNil(t, got)
	require.Equal(t, models.StateReadyEncode, got.State)
}

func TestUpdateJobUnknownIDErrors(t *testing.T) {
	s := openTemp(t)
	_, err := s.UpdateJob(42, func(j *models.Job) {})
	require.Error(t, err)
}

func TestDeleteJobRemovesRow(t *testing.T) {
	s := openTemp(t)
	job, err := s.AddJob("/movies/a.mkv", 100)
	require.NoError(t, err)

	require.NoError(t, s.DeleteJob(job.ID))
	require.Nil(t, s.GetJob(job.ID))
}

func TestUpdateProgressThrottlesWrites(t *testing.T) {
	s := openTemp(t)
	job, err := s.AddJob("/movies/a.mkv", 100)
	require.NoError(t, err)

	require.NoError(t, s.UpdateProgress(job.ID, 10, 60))
	// Immediate second call within the throttle window is a silent no-op.
	require.NoError(t, s.UpdateProgress(job.ID, 20, 50))

	got := s.GetJob(job.ID)
	require.Equal(t, 10, got.Progress)
}

func TestCountByState(t *testing.T) {
	s := openTemp(t)
	j1, err := s.AddJob("/a.mkv", 1)
	require.NoError(t, err)
	_, err = s.AddJob("/b.mkv", 2)
	require.NoError(t, err)
	_, err = s.UpdateJob(j1.ID, func(j *models.Job) { j.State = models.StateCompleted })
	require.NoError(t, err)

	counts := s.CountByState()
	require.Equal(t, 1, counts[models.StateCompleted])
	require.Equal(t, 1, counts[models.StateWaiting])
}

func TestAppendManifestWritesJSONLine(t *testing.T) {
	s := openTemp(t)
	err := s.AppendManifest(models.ManifestRecord{
		Path:          "/movies/a.mkv",
		OriginalBytes: 1000,
		EncodedBytes:  500,
		CompletedAt:   time.Now(),
	})
	require.NoError(t, err)
}

func TestFolderAndFileCacheRoundTrip(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.UpsertFolder(&models.FolderRow{Path: "/movies", Parent: "/"}))
	require.NoError(t, s.UpsertFile(&models.FileRow{Path: "/movies/a.mkv", Parent: "/movies", Name: "a.mkv", IsVideo: true}))
	require.NoError(t, s.UpsertFile(&models.FileRow{Path: "/movies/b.txt", Parent: "/movies", Name: "b.txt"}))

	files := s.FilesUnder("/movies")
	require.Len(t, files, 2)

	folder := s.Folder("/movies")
	require.NotNil(t, folder)
	require.Equal(t, "/", folder.Parent)

	require.Nil(t, s.Folder("/nonexistent"))
}

func TestDeleteFolderCascadesToChildren(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.UpsertFolder(&models.FolderRow{Path: "/movies", Parent: "/"}))
	require.NoError(t, s.UpsertFolder(&models.FolderRow{Path: "/movies/sub", Parent: "/movies"}))
	require.NoError(t, s.UpsertFile(&models.FileRow{Path: "/movies/sub/a.mkv", Parent: "/movies/sub"}))

	require.NoError(t, s.DeleteFolder("/movies"))

	require.Nil(t, s.Folder("/movies"))
	require.Nil(t, s.Folder("/movies/sub"))
	require.Nil(t, s.File("/movies/sub/a.mkv"))
}

func TestClearCacheEmptiesBothTables(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.UpsertFolder(&models.FolderRow{Path: "/movies", Parent: "/"}))
	require.NoError(t, s.UpsertFile(&models.FileRow{Path: "/movies/a.mkv", Parent: "/movies"}))

	require.NoError(t, s.ClearCache())
	require.Empty(t, s.AllFiles())
	require.Nil(t, s.Folder("/movies"))
}

func TestSetAndGetMeta(t *testing.T) {
	s := openTemp(t)
	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.SetMeta(models.CacheMeta{LastFullScan: now}))
	require.True(t, s.Meta().LastFullScan.Equal(now))
}

func TestOpenCreatesDBFilesUnderRoot(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.AddJob("/a.mkv", 1)
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(dir, "jobs.db"))
}
