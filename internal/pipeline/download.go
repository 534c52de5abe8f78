package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/akslabs/cloudgallery/internal/blob"
	"github.com/akslabs/cloudgallery/internal/index"
	"github.com/akslabs/cloudgallery/internal/media"
	"github.com/akslabs/cloudgallery/internal/tasks"
)

// Downloader restores remote photos that are absent from the device media
// collection.
type Downloader struct {
	store   *index.Store
	client  blob.Client
	library *media.Library
}

// NewDownloader wires a downloader.
func NewDownloader(store *index.Store, client blob.Client, library *media.Library) *Downloader {
	return &Downloader{store: store, client: client, library: library}
}

// RestoreMissing fetches every remote photo with no local counterpart and
// writes it into the media directory under a deterministic name, recording
// the new local-to-remote linkage. A blob gone from the remote side is
// skipped without aborting the batch; transport failures abort so the
// scheduler can retry, and already restored items drop out of the missing
// set on the next pass.
func (d *Downloader) RestoreMissing(ctx context.Context, p *tasks.Progress) error {
	missing, err := d.store.MissingOnDevice(ctx)
	if err != nil {
		return err
	}
	p.Set(0, len(missing))
	for i, remote := range missing {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Set(i+1, len(missing))

		data, err := d.client.Download(ctx, remote.RemoteID)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				log.Printf("restore: remote blob %s is gone, skipping", remote.RemoteID)
				p.Fail(err)
				continue
			}
			return fmt.Errorf("download %s: %w", remote.RemoteID, err)
		}

		item, err := d.library.Write(remote.RemoteID, remote.MediaKind, data)
		if err != nil {
			return err
		}
		err = d.store.UpsertLocalPhotos(ctx, index.LocalPhoto{
			LocalID:      item.LocalID,
			RemoteID:     remote.RemoteID,
			MediaKind:    remote.MediaKind,
			LocationRef:  item.LocationRef,
			DateModified: time.Now().UnixMilli(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
