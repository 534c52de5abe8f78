package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akslabs/cloudgallery/internal/blob"
	"github.com/akslabs/cloudgallery/internal/index"
	"github.com/akslabs/cloudgallery/internal/media"
	"github.com/akslabs/cloudgallery/internal/pipeline"
	"github.com/akslabs/cloudgallery/internal/tasks"
)

type stubClient struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	deleted []int64
}

func newStubClient() *stubClient {
	return &stubClient{blobs: make(map[string][]byte)}
}

func (s *stubClient) Upload(ctx context.Context, payload []byte, fileName, caption string) (*blob.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remoteID := fmt.Sprintf("remote-%d", len(s.blobs)+1)
	s.blobs[remoteID] = append([]byte(nil), payload...)
	return &blob.UploadResult{RemoteID: remoteID, MessageID: int64(len(s.blobs) + 100)}, nil
}

func (s *stubClient) Download(ctx context.Context, remoteID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[remoteID]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func (s *stubClient) DeleteMessage(ctx context.Context, messageID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, messageID)
	return true, nil
}

func (s *stubClient) ListRecentAttachments(ctx context.Context, limit int, cursor string) (*blob.Page, error) {
	return &blob.Page{}, nil
}

func (s *stubClient) ValidateDestination(ctx context.Context) error { return nil }

type fixture struct {
	store     *index.Store
	client    *stubClient
	scheduler *tasks.Scheduler
	router    *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := index.NewStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Close() })

	client := newStubClient()
	library := media.NewLibrary(t.TempDir(), store)
	uploader := pipeline.NewUploader(store, client, 0, nil)
	downloader := pipeline.NewDownloader(store, client, library)
	trash := pipeline.NewTrash(store, client)
	scanner := pipeline.NewScanner(store, client, 100, 10)
	backup := pipeline.NewBackup(store, uploader, client)

	scheduler := tasks.NewScheduler(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		scheduler.Shutdown(ctx)
	})

	handler := NewHandler(store, library, uploader, downloader, trash, scanner, backup, scheduler)
	return &fixture{store: store, client: client, scheduler: scheduler, router: handler.Router()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) awaitTask(t *testing.T, rec *httptest.ResponseRecorder) tasks.Snapshot {
	t.Helper()
	var snap tasks.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	handle, ok := f.scheduler.Handle(snap.ID)
	require.True(t, ok)
	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
	return handle.Snapshot()
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats index.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.LocalCount)
	assert.Equal(t, 0, stats.RemoteCount)
}

func TestListEndpointsReturnEmptyArrays(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/api/photos", "/api/remote-photos", "/api/trash"} {
		rec := f.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"items":[]`, path)
	}
}

func TestUploadUnknownPhotoIsNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/uploads/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrashFlowOverHTTP(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.UpsertRemotePhotos(ctx, index.RemotePhoto{
		RemoteID: "abc", MediaKind: "jpg", UploadedAt: 1, MessageID: 7,
	}))

	rec := f.do(t, http.MethodPost, "/api/trash", map[string]any{"remoteIds": []string{"abc"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap := f.awaitTask(t, rec)
	assert.Equal(t, tasks.StatusDone, snap.Status)

	trashed, err := f.store.TrashedPhoto(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, trashed)

	rec = f.do(t, http.MethodPost, "/api/trash/abc/restore", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap = f.awaitTask(t, rec)
	assert.Equal(t, tasks.StatusDone, snap.Status)

	remote, err := f.store.RemotePhoto(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, remote)

	rec = f.do(t, http.MethodPost, "/api/trash", map[string]any{"remoteIds": []string{"abc"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.awaitTask(t, rec)

	rec = f.do(t, http.MethodDelete, "/api/trash/abc", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap = f.awaitTask(t, rec)
	assert.Equal(t, tasks.StatusDone, snap.Status)

	trashed, err = f.store.TrashedPhoto(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, trashed)
}

func TestRestoreAndPurgeUnknownIDAreNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/trash/nope/restore", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/trash/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestThumbnailToggleOverHTTP(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.UpsertRemotePhotos(ctx, index.RemotePhoto{
		RemoteID: "abc", MediaKind: "jpg", UploadedAt: 1,
	}))

	rec := f.do(t, http.MethodPut, "/api/remote-photos/abc/thumbnail", map[string]any{"cached": true})
	require.Equal(t, http.StatusOK, rec.Code)

	remote, err := f.store.RemotePhoto(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.True(t, remote.ThumbnailCached)

	rec = f.do(t, http.MethodPut, "/api/remote-photos/abc/thumbnail", map[string]any{"cached": false})
	require.Equal(t, http.StatusOK, rec.Code)

	remote, err = f.store.RemotePhoto(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, remote.ThumbnailCached)

	rec = f.do(t, http.MethodPut, "/api/remote-photos/nope/thumbnail", map[string]any{"cached": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/remote-photos/abc/thumbnail", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrashRequiresRemoteIDs(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/trash", map[string]any{"remoteIds": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackupExportOverHTTP(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/backup/export", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap := f.awaitTask(t, rec)
	assert.Equal(t, tasks.StatusDone, snap.Status)

	f.client.mu.Lock()
	stored := len(f.client.blobs)
	f.client.mu.Unlock()
	assert.Equal(t, 1, stored)
}

func TestTaskLookup(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/scan", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap := f.awaitTask(t, rec)

	rec = f.do(t, http.MethodGet, "/api/tasks/"+snap.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "channel-scan")
}
