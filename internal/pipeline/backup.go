package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/akslabs/cloudgallery/internal/blob"
	"github.com/akslabs/cloudgallery/internal/index"
)

// Document is the portable serialization of the whole index: both photo
// collections in one JSON object. Trashed rows are deliberately absent, a
// restored index starts with an empty trash.
type Document struct {
	Photos       []index.LocalPhoto  `json:"photos"`
	RemotePhotos []index.RemotePhoto `json:"remotePhotos"`
}

// Backup exports and imports the index itself, locally or through the blob
// channel.
type Backup struct {
	store    *index.Store
	uploader *Uploader
	client   blob.Client
}

// NewBackup wires a backup manager.
func NewBackup(store *index.Store, uploader *Uploader, client blob.Client) *Backup {
	return &Backup{store: store, uploader: uploader, client: client}
}

// Export serializes the full index to JSON.
func (b *Backup) Export(ctx context.Context) ([]byte, error) {
	locals, err := b.store.AllLocalPhotos(ctx)
	if err != nil {
		return nil, err
	}
	remotes, err := b.store.AllRemotePhotos(ctx)
	if err != nil {
		return nil, err
	}
	if locals == nil {
		locals = []index.LocalPhoto{}
	}
	if remotes == nil {
		remotes = []index.RemotePhoto{}
	}
	doc := Document{Photos: locals, RemotePhotos: remotes}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize index: %w", err)
	}
	return data, nil
}

// ExportToFile writes the serialized index to the given path.
func (b *Backup) ExportToFile(ctx context.Context, path string) error {
	data, err := b.Export(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	return nil
}

// ExportToRemote pushes the serialized index into the blob channel as a
// document and records the backup timestamp, so periodic runs can tell when
// the last snapshot is still current.
func (b *Backup) ExportToRemote(ctx context.Context) (*blob.UploadResult, error) {
	data, err := b.Export(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	fileName := fmt.Sprintf("cloudgallery_backup_%d.json", now.Unix())
	result, err := b.uploader.UploadDocument(ctx, data, fileName)
	if err != nil {
		return nil, err
	}
	mark := strconv.FormatInt(now.UnixMilli(), 10)
	if err := b.store.SaveSyncMark(ctx, index.MarkLastBackup, mark); err != nil {
		return nil, err
	}
	return result, nil
}

// Import merges a serialized index into the live one. Both collections are
// upserted, so importing over existing rows converges rather than duplicating.
// Remote rows whose id has since moved to the trash stay skipped, importing a
// document older than a trash operation must not resurrect the photo.
func (b *Backup) Import(ctx context.Context, data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse backup document: %w", err)
	}
	if len(doc.RemotePhotos) > 0 {
		if _, err := b.store.ImportRemotePhotos(ctx, doc.RemotePhotos...); err != nil {
			return err
		}
	}
	if len(doc.Photos) > 0 {
		if err := b.store.UpsertLocalPhotos(ctx, doc.Photos...); err != nil {
			return err
		}
	}
	return nil
}

// ImportFromFile reads a backup document from disk and merges it.
func (b *Backup) ImportFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	return b.Import(ctx, data)
}

// ImportFromRemote downloads a previously exported document by its remote id
// and merges it.
func (b *Backup) ImportFromRemote(ctx context.Context, remoteID string) error {
	data, err := b.client.Download(ctx, remoteID)
	if err != nil {
		return fmt.Errorf("download backup %s: %w", remoteID, err)
	}
	return b.Import(ctx, data)
}

// IsUpToDate reports whether the newest index mutation predates the last
// remote export. A fresh index with no backup mark is not up to date.
func (b *Backup) IsUpToDate(ctx context.Context) (bool, error) {
	mark, err := b.store.SyncMark(ctx, index.MarkLastBackup)
	if err != nil {
		return false, err
	}
	if mark == "" {
		return false, nil
	}
	backedUpAt, err := strconv.ParseInt(mark, 10, 64)
	if err != nil {
		return false, fmt.Errorf("corrupt backup mark %q: %w", mark, err)
	}
	latest, err := b.store.LatestMutation(ctx)
	if err != nil {
		return false, err
	}
	return latest <= backedUpAt, nil
}
