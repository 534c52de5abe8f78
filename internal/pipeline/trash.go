package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/akslabs/cloudgallery/internal/blob"
	"github.com/akslabs/cloudgallery/internal/index"
	"github.com/akslabs/cloudgallery/internal/tasks"
)

// Trash moves photos between the uploaded and trashed collections. The
// local move is the authoritative, transactional step; remote message
// deletion is best effort and attempted idempotently at both trash time and
// purge time, so a failure on either attempt leaves at worst an orphaned
// remote blob that is locally invisible.
type Trash struct {
	store  *index.Store
	client blob.Client
}

// NewTrash wires a trash manager.
func NewTrash(store *index.Store, client blob.Client) *Trash {
	return &Trash{store: store, client: client}
}

// MoveToTrash soft-deletes the given remote photos. Each id is moved in its
// own index transaction; per-item failures are counted without aborting the
// rest of the set.
func (t *Trash) MoveToTrash(ctx context.Context, p *tasks.Progress, remoteIDs ...string) error {
	p.Set(0, len(remoteIDs))
	for i, remoteID := range remoteIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Set(i+1, len(remoteIDs))

		trashed, err := t.store.MoveToTrash(ctx, remoteID, time.Now().UnixMilli())
		if err != nil {
			log.Printf("trash: cannot move %s: %v", remoteID, err)
			p.Fail(err)
			continue
		}
		t.deleteRemote(ctx, trashed.RemoteID, trashed.MessageID)
	}
	return nil
}

// Restore moves a trashed photo back to the uploaded collection. Purely an
// index repair: if the earlier remote delete succeeded the blob itself is
// not resurrected.
func (t *Trash) Restore(ctx context.Context, remoteID string) error {
	if _, err := t.store.RestoreFromTrash(ctx, remoteID); err != nil {
		return fmt.Errorf("restore %s: %w", remoteID, err)
	}
	return nil
}

// Purge permanently drops a trashed row, re-attempting the remote delete
// first in case the attempt at trash time failed.
func (t *Trash) Purge(ctx context.Context, remoteID string) error {
	trashed, err := t.store.TrashedPhoto(ctx, remoteID)
	if err != nil {
		return err
	}
	if trashed == nil {
		return fmt.Errorf("trashed photo %s not found", remoteID)
	}
	t.deleteRemote(ctx, trashed.RemoteID, trashed.MessageID)
	return t.store.PurgeTrashedPhoto(ctx, remoteID)
}

// deleteRemote is the best-effort remote-side deletion. Without a message id
// the carrying message is unknown and nothing can be deleted.
func (t *Trash) deleteRemote(ctx context.Context, remoteID string, messageID int64) {
	if messageID == 0 {
		log.Printf("trash: no message id for %s, remote copy left in place", remoteID)
		return
	}
	ok, err := t.client.DeleteMessage(ctx, messageID)
	if err != nil {
		log.Printf("trash: remote delete of message %d failed: %v", messageID, err)
		return
	}
	if !ok {
		log.Printf("trash: remote message %d already gone", messageID)
	}
}
