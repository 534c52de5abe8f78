// Package pipeline contains the mutating flows that keep the local index
// and the remote blob channel convergent: upload, download, trash, channel
// scan and whole-index backup.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/akslabs/cloudgallery/internal/blob"
	"github.com/akslabs/cloudgallery/internal/index"
	"github.com/akslabs/cloudgallery/internal/tasks"
)

// DefaultCompressionThreshold is the payload size above which images are
// recompressed before transmission.
const DefaultCompressionThreshold = 50 * 1024 * 1024

// CaptionFunc produces the optional metadata caption attached to an upload.
// Caption generation is an external collaborator; the pipeline only bounds
// the result to the protocol limit.
type CaptionFunc func(ctx context.Context, photo index.LocalPhoto) (string, error)

// Uploader moves device photos into the remote blob channel and commits the
// result to the index. Network calls happen outside any index transaction;
// the commit is the single mutation point, so a cancelled or crashed upload
// never leaves a half-applied row and a retried one converges by upsert.
type Uploader struct {
	store     *index.Store
	client    blob.Client
	threshold atomic.Int64
	caption   CaptionFunc
}

// NewUploader wires an uploader. caption may be nil; threshold <= 0 selects
// the default.
func NewUploader(store *index.Store, client blob.Client, threshold int64, caption CaptionFunc) *Uploader {
	u := &Uploader{store: store, client: client, caption: caption}
	u.SetThreshold(threshold)
	return u
}

// SetThreshold replaces the compression threshold. Safe to call while
// uploads are running; in-flight items keep the value they started with.
// threshold <= 0 selects the default.
func (u *Uploader) SetThreshold(threshold int64) {
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	u.threshold.Store(threshold)
}

// UploadPhoto runs one photo through the pipeline: resolve type, compress if
// oversized, transmit, commit. Transport failures propagate so the task
// scheduler leaves the item pending and retries; rejections and unresolvable
// types are terminal for the item.
func (u *Uploader) UploadPhoto(ctx context.Context, localID, channel string) error {
	photo, err := u.store.LocalPhoto(ctx, localID)
	if err != nil {
		return err
	}
	if photo == nil {
		return fmt.Errorf("local photo %s not found in index", localID)
	}

	mimeType, ext, err := resolveType(photo.LocationRef)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(photo.LocationRef)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", photo.LocationRef, err)
	}

	threshold := u.threshold.Load()
	if int64(len(data)) > threshold {
		data, ext, err = recompress(data, ext, threshold)
		if err != nil {
			return err
		}
	}

	caption := ""
	if u.caption != nil {
		caption, err = u.caption(ctx, *photo)
		if err != nil {
			// The caption is decoration; a formatter fault must not block
			// the backup itself.
			log.Printf("caption formatter failed for %s: %v", localID, err)
			caption = ""
		}
	}

	fileName := filepath.Base(photo.LocationRef)
	result, err := u.client.Upload(ctx, data, fileName, blob.TruncateCaption(caption))
	if err != nil {
		return fmt.Errorf("upload %s (%s): %w", localID, mimeType, err)
	}

	size := int64(len(data))
	remote := index.RemotePhoto{
		RemoteID:      result.RemoteID,
		MediaKind:     ext,
		FileName:      fileName,
		FileSize:      &size,
		UploadedAt:    time.Now().UnixMilli(),
		MessageID:     result.MessageID,
		UploadChannel: channel,
	}
	if err := u.store.CommitUpload(ctx, localID, remote); err != nil {
		return fmt.Errorf("failed to commit upload of %s: %w", localID, err)
	}
	return nil
}

// UploadPending runs the periodic batch: every local photo without a live
// remote counterpart, sequentially to bound peak memory and keep progress
// meaningful. Item-terminal failures are counted and skipped; a transport
// failure aborts the batch so the scheduler can retry it. Already committed
// items drop out of the pending set, so the retry converges.
func (u *Uploader) UploadPending(ctx context.Context, p *tasks.Progress) error {
	pending, err := u.store.ListNotBackedUp(ctx)
	if err != nil {
		return err
	}
	p.Set(0, len(pending))
	for i, photo := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Set(i+1, len(pending))
		if err := u.UploadPhoto(ctx, photo.LocalID, index.ChannelPeriodic); err != nil {
			if blob.IsTransient(err) {
				return err
			}
			log.Printf("periodic backup: skipping %s: %v", photo.LocalID, err)
			p.Fail(err)
		}
	}
	return nil
}

// UploadDocument pushes an arbitrary payload (the serialized index) through
// the same transmit path, without touching photo rows.
func (u *Uploader) UploadDocument(ctx context.Context, data []byte, fileName string) (*blob.UploadResult, error) {
	result, err := u.client.Upload(ctx, data, fileName, "")
	if err != nil {
		return nil, fmt.Errorf("upload document %s: %w", fileName, err)
	}
	return result, nil
}

// resolveType derives the MIME type and extension for a device locator. The
// extension is tried first, then content sniffing; an item with neither is
// terminally unresolvable.
func resolveType(locationRef string) (mimeType, ext string, err error) {
	ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(locationRef)), ".")
	if ext != "" {
		if byExt := mime.TypeByExtension("." + ext); byExt != "" {
			return byExt, ext, nil
		}
	}
	detected, detectErr := mimetype.DetectFile(locationRef)
	if detectErr == nil && detected.String() != "application/octet-stream" {
		return detected.String(), strings.TrimPrefix(detected.Extension(), "."), nil
	}
	if ext != "" {
		return "application/octet-stream", ext, nil
	}
	return "", "", &blob.UnresolvedTypeError{Ref: locationRef}
}
