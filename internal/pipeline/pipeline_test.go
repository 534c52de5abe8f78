package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akslabs/cloudgallery/internal/blob"
	"github.com/akslabs/cloudgallery/internal/index"
	"github.com/akslabs/cloudgallery/internal/media"
	"github.com/akslabs/cloudgallery/internal/tasks"
)

type recordedUpload struct {
	fileName string
	caption  string
	size     int
}

// fakeClient is an in-memory blob.Client for pipeline tests.
type fakeClient struct {
	mu        sync.Mutex
	uploads   []recordedUpload
	blobs     map[string][]byte
	deleted   []int64
	pages     []blob.Page
	cursors   []string
	uploadErr error
	nextID    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{blobs: make(map[string][]byte)}
}

func (f *fakeClient) Upload(ctx context.Context, payload []byte, fileName, caption string) (*blob.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.nextID++
	remoteID := fmt.Sprintf("remote-%d", f.nextID)
	f.blobs[remoteID] = append([]byte(nil), payload...)
	f.uploads = append(f.uploads, recordedUpload{fileName: fileName, caption: caption, size: len(payload)})
	return &blob.UploadResult{RemoteID: remoteID, MessageID: int64(f.nextID + 100)}, nil
}

func (f *fakeClient) Download(ctx context.Context, remoteID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[remoteID]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeClient) DeleteMessage(ctx context.Context, messageID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return true, nil
}

func (f *fakeClient) ListRecentAttachments(ctx context.Context, limit int, cursor string) (*blob.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	if len(f.pages) == 0 {
		return &blob.Page{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return &page, nil
}

func (f *fakeClient) ValidateDestination(ctx context.Context) error { return nil }

func (f *fakeClient) deletedMessages() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.deleted...)
}

func newTestStore(t *testing.T) *index.Store {
	t.Helper()
	store := index.NewStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func seedPhotoFile(t *testing.T, dir, localID string) index.LocalPhoto {
	t.Helper()
	path := filepath.Join(dir, "photo_"+localID+".jpg")
	img := imaging.New(8, 8, color.NRGBA{R: 40, G: 80, B: 120, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return index.LocalPhoto{
		LocalID:      localID,
		MediaKind:    "jpg",
		LocationRef:  path,
		DateModified: 1000,
	}
}

func TestUploadPhotoCommitsLink(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()
	dir := t.TempDir()

	photo := seedPhotoFile(t, dir, "42")
	require.NoError(t, store.UpsertLocalPhotos(ctx, photo))

	uploader := NewUploader(store, client, 0, nil)
	require.NoError(t, uploader.UploadPhoto(ctx, "42", index.ChannelInstant))

	local, err := store.LocalPhoto(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.Equal(t, "remote-1", local.RemoteID)

	remote, err := store.RemotePhoto(ctx, "remote-1")
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.Equal(t, int64(101), remote.MessageID)
	assert.Equal(t, index.ChannelInstant, remote.UploadChannel)
	require.NotNil(t, remote.FileSize)
	assert.Equal(t, int64(client.uploads[0].size), *remote.FileSize)
}

func TestUploadPhotoTransportFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()
	client.uploadErr = &blob.TransportError{Op: "upload", Err: fmt.Errorf("timeout")}

	photo := seedPhotoFile(t, t.TempDir(), "42")
	require.NoError(t, store.UpsertLocalPhotos(ctx, photo))

	uploader := NewUploader(store, client, 0, nil)
	err := uploader.UploadPhoto(ctx, "42", index.ChannelInstant)
	require.Error(t, err)
	assert.True(t, blob.IsTransient(err))

	local, err := store.LocalPhoto(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, local.RemoteID)
	count, err := store.CountRemotePhotos(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUploadPhotoTruncatesCaption(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()

	photo := seedPhotoFile(t, t.TempDir(), "42")
	require.NoError(t, store.UpsertLocalPhotos(ctx, photo))

	long := strings.Repeat("x", blob.CaptionLimit+200)
	uploader := NewUploader(store, client, 0, func(ctx context.Context, p index.LocalPhoto) (string, error) {
		return long, nil
	})
	require.NoError(t, uploader.UploadPhoto(ctx, "42", index.ChannelInstant))
	assert.Len(t, client.uploads[0].caption, blob.CaptionLimit)
}

func TestUploadPendingSkipsTerminalItems(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()
	dir := t.TempDir()

	good := seedPhotoFile(t, dir, "1")
	broken := index.LocalPhoto{
		LocalID:      "2",
		MediaKind:    "jpg",
		LocationRef:  filepath.Join(dir, "does-not-exist.jpg"),
		DateModified: 1000,
	}
	require.NoError(t, store.UpsertLocalPhotos(ctx, good, broken))

	uploader := NewUploader(store, client, 0, nil)
	progress := &tasks.Progress{}
	require.NoError(t, uploader.UploadPending(ctx, progress))

	pending, err := store.ListNotBackedUp(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "2", pending[0].LocalID)

	remote, err := store.RemotePhoto(ctx, "remote-1")
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.Equal(t, index.ChannelPeriodic, remote.UploadChannel)
}

func TestTrashDeletesCarryingMessage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()

	photo := seedPhotoFile(t, t.TempDir(), "42")
	require.NoError(t, store.UpsertLocalPhotos(ctx, photo))
	require.NoError(t, store.CommitUpload(ctx, "42", index.RemotePhoto{
		RemoteID:   "abc",
		MediaKind:  "jpg",
		UploadedAt: 2000,
		MessageID:  7,
	}))

	trash := NewTrash(store, client)
	require.NoError(t, trash.MoveToTrash(ctx, &tasks.Progress{}, "abc"))

	assert.Equal(t, []int64{7}, client.deletedMessages())
	remote, err := store.RemotePhoto(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, remote)
	trashed, err := store.TrashedPhoto(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, trashed)

	// Purge re-attempts the remote delete before dropping the row.
	require.NoError(t, trash.Purge(ctx, "abc"))
	assert.Equal(t, []int64{7, 7}, client.deletedMessages())
	trashed, err = store.TrashedPhoto(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, trashed)
}

func TestRestoreMissingSkipsGoneBlobs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()
	dir := t.TempDir()
	library := media.NewLibrary(dir, store)

	client.blobs["alive"] = []byte("jpeg-bytes")
	require.NoError(t, store.UpsertRemotePhotos(ctx,
		index.RemotePhoto{RemoteID: "alive", MediaKind: "jpg", UploadedAt: 1},
		index.RemotePhoto{RemoteID: "gone", MediaKind: "jpg", UploadedAt: 2},
	))

	downloader := NewDownloader(store, client, library)
	progress := &tasks.Progress{}
	require.NoError(t, downloader.RestoreMissing(ctx, progress))

	data, err := os.ReadFile(filepath.Join(dir, "CloudGallery_alive.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	missing, err := store.MissingOnDevice(ctx)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "gone", missing[0].RemoteID)
}

func TestScanPersistsCursorAndDiscovers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()

	size := int64(512)
	client.pages = []blob.Page{{
		Items: []blob.Attachment{
			{RemoteID: "r1", MessageID: 11, FileName: "a.jpg", FileSize: &size, MimeType: "image/jpeg", Timestamp: 1000},
			{RemoteID: "r2", MessageID: 12, FileName: "b.png", Timestamp: 2000},
		},
		HasMore:    false,
		NextCursor: "101",
	}}

	scanner := NewScanner(store, client, 100, 10)
	report, err := scanner.Scan(ctx, &tasks.Progress{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 2, report.Seen)
	assert.Equal(t, 2, report.Discovered)
	// r2 was listed without a size, so the backfill has not converged.
	assert.Equal(t, 1, report.SizesPending)

	mark, err := store.SyncMark(ctx, index.MarkScanCursor)
	require.NoError(t, err)
	assert.Equal(t, "101", mark)

	remote, err := store.RemotePhoto(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.Equal(t, index.ChannelDiscovered, remote.UploadChannel)
	assert.Equal(t, int64(11), remote.MessageID)

	// The next run resumes from the persisted cursor.
	_, err = scanner.Scan(ctx, &tasks.Progress{})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "101"}, client.cursors)
}

func TestScanStopsAtPageBudget(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()
	for i := 0; i < 5; i++ {
		client.pages = append(client.pages, blob.Page{
			Items:      []blob.Attachment{{RemoteID: fmt.Sprintf("r%d", i), MessageID: int64(i + 1), FileName: "x.jpg", Timestamp: int64(i)}},
			HasMore:    true,
			NextCursor: fmt.Sprintf("%d", i+1),
		})
	}

	scanner := NewScanner(store, client, 100, 10)
	scanner.SetPaging(100, 2)
	report, err := scanner.Scan(ctx, &tasks.Progress{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pages)
	assert.Len(t, client.cursors, 2)
}

func TestBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()
	uploader := NewUploader(store, client, 0, nil)
	backup := NewBackup(store, uploader, client)

	// An empty index still exports both collections.
	data, err := backup.Export(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"photos":[],"remotePhotos":[]}`, string(data))

	size := int64(1234)
	require.NoError(t, store.UpsertLocalPhotos(ctx, index.LocalPhoto{
		LocalID: "1", RemoteID: "r1", MediaKind: "jpg", LocationRef: "/dev/photos/a.jpg", DateModified: 5,
	}))
	require.NoError(t, store.UpsertRemotePhotos(ctx, index.RemotePhoto{
		RemoteID: "r1", MediaKind: "jpg", FileName: "a.jpg", FileSize: &size, UploadedAt: 6, MessageID: 9, UploadChannel: index.ChannelInstant,
	}))

	data, err = backup.Export(ctx)
	require.NoError(t, err)

	fresh := newTestStore(t)
	freshBackup := NewBackup(fresh, NewUploader(fresh, client, 0, nil), client)
	require.NoError(t, freshBackup.Import(ctx, data))

	locals, err := fresh.AllLocalPhotos(ctx)
	require.NoError(t, err)
	remotes, err := fresh.AllRemotePhotos(ctx)
	require.NoError(t, err)
	require.Len(t, locals, 1)
	require.Len(t, remotes, 1)
	assert.Equal(t, "r1", locals[0].RemoteID)
	assert.Equal(t, int64(9), remotes[0].MessageID)
}

func TestImportOldBackupKeepsTrashedPhotosOut(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()
	uploader := NewUploader(store, client, 0, nil)
	backup := NewBackup(store, uploader, client)

	photo := seedPhotoFile(t, t.TempDir(), "42")
	require.NoError(t, store.UpsertLocalPhotos(ctx, photo))
	require.NoError(t, store.CommitUpload(ctx, "42", index.RemotePhoto{
		RemoteID:   "abc",
		MediaKind:  "jpg",
		UploadedAt: 2000,
		MessageID:  7,
	}))

	// Snapshot taken while "abc" was still live.
	data, err := backup.Export(ctx)
	require.NoError(t, err)

	trash := NewTrash(store, client)
	require.NoError(t, trash.MoveToTrash(ctx, &tasks.Progress{}, "abc"))

	// Importing the stale document must not resurrect the trashed photo or
	// put its id in both collections.
	require.NoError(t, backup.Import(ctx, data))

	remote, err := store.RemotePhoto(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, remote)
	trashed, err := store.TrashedPhoto(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, trashed)
}

func TestSetThresholdAppliesToNextUpload(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()
	dir := t.TempDir()

	path := filepath.Join(dir, "photo_42.png")
	rng := rand.New(rand.NewSource(2))
	img := image.NewNRGBA(image.Rect(0, 0, 128, 128))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	require.NoError(t, store.UpsertLocalPhotos(ctx, index.LocalPhoto{
		LocalID: "42", MediaKind: "png", LocationRef: path, DateModified: 1000,
	}))

	uploader := NewUploader(store, client, 0, nil)
	uploader.SetThreshold(1)
	require.NoError(t, uploader.UploadPhoto(ctx, "42", index.ChannelInstant))

	// The lowered threshold forced recompression to jpeg.
	remote, err := store.RemotePhoto(ctx, "remote-1")
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.Equal(t, "jpg", remote.MediaKind)
}

func TestBackupExportToRemote(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()
	uploader := NewUploader(store, client, 0, nil)
	backup := NewBackup(store, uploader, client)

	upToDate, err := backup.IsUpToDate(ctx)
	require.NoError(t, err)
	assert.False(t, upToDate)

	result, err := backup.ExportToRemote(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(client.uploads[0].fileName, "cloudgallery_backup_"))
	assert.True(t, strings.HasSuffix(client.uploads[0].fileName, ".json"))

	// A document upload must not create photo rows.
	count, err := store.CountRemotePhotos(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	upToDate, err = backup.IsUpToDate(ctx)
	require.NoError(t, err)
	assert.True(t, upToDate)

	// The exported document round-trips through the channel.
	require.NoError(t, backup.ImportFromRemote(ctx, result.RemoteID))
}

func TestRecompressShrinksOversizedImage(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	img := image.NewNRGBA(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	original := buf.Bytes()

	out, ext, err := recompress(original, "png", 1)
	require.NoError(t, err)
	assert.Equal(t, "jpg", ext)
	assert.Less(t, len(out), len(original))
}
