// Package media provides paginated read access to the device photo
// directory and writes restored blobs back into it.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/akslabs/cloudgallery/internal/index"
)

// imageExtensions are the file types treated as photos.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".heic": true,
	".bmp":  true,
	".tiff": true,
}

// Item is one device photo page entry. RemoteID is attached from the index
// so a single listing pass distinguishes backed-up from pending items.
type Item struct {
	LocalID     string `json:"localId"`
	LocationRef string `json:"locationRef"`
	MediaKind   string `json:"mediaKind"`
	Modified    int64  `json:"modified"`
	Size        int64  `json:"size"`
	RemoteID    string `json:"remoteId,omitempty"`
}

// Library reads and writes the photo directory. The file name is the stable
// local identifier; the absolute path is the device-resolvable locator.
type Library struct {
	dir   string
	store *index.Store
}

// NewLibrary binds a photo directory to the index store.
func NewLibrary(dir string, store *index.Store) *Library {
	return &Library{dir: dir, store: store}
}

// Dir returns the library root.
func (l *Library) Dir() string { return l.dir }

// List returns one page of device photos sorted by most recently modified
// first. Offset is random-access, not forward-only; the remote id of each
// entry is resolved with one batched index join.
func (l *Library) List(ctx context.Context, offset, limit int) ([]Item, error) {
	all, err := l.scan()
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[offset:end]

	localIDs := make([]string, len(page))
	for i, item := range page {
		localIDs[i] = item.LocalID
	}
	remoteIDs, err := l.store.RemoteIDsForLocals(ctx, localIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup status: %w", err)
	}
	for i := range page {
		page[i].RemoteID = remoteIDs[page[i].LocalID]
	}
	return page, nil
}

// Count returns the number of photos in the directory.
func (l *Library) Count() (int, error) {
	all, err := l.scan()
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// SyncToIndex refreshes the index's local photo rows from the directory, one
// of the two sources of truth feeding the index. Assigned remote ids are
// preserved.
func (l *Library) SyncToIndex(ctx context.Context) (int, error) {
	all, err := l.scan()
	if err != nil {
		return 0, err
	}
	photos := make([]index.LocalPhoto, len(all))
	for i, item := range all {
		photos[i] = index.LocalPhoto{
			LocalID:      item.LocalID,
			MediaKind:    item.MediaKind,
			LocationRef:  item.LocationRef,
			DateModified: item.Modified,
		}
	}
	if err := l.store.RefreshLocalPhotos(ctx, photos...); err != nil {
		return 0, fmt.Errorf("failed to refresh index from media scan: %w", err)
	}
	return len(photos), nil
}

// Write stores downloaded blob bytes under a deterministic synthesized name
// and returns the resulting item. Re-downloading the same remote id
// overwrites the same file.
func (l *Library) Write(remoteID, ext string, data []byte) (*Item, error) {
	name := fmt.Sprintf("CloudGallery_%s.%s", remoteID, strings.TrimPrefix(ext, "."))
	path := filepath.Join(l.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write media file %s: %w", name, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat written file: %w", err)
	}
	return &Item{
		LocalID:     name,
		LocationRef: path,
		MediaKind:   strings.TrimPrefix(ext, "."),
		Modified:    info.ModTime().UnixMilli(),
		Size:        info.Size(),
	}, nil
}

// scan reads the directory and sorts photos newest first. Ties break on name
// so pagination is stable.
func (l *Library) scan() ([]Item, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read media directory: %w", err)
	}
	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !imageExtensions[ext] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, Item{
			LocalID:     entry.Name(),
			LocationRef: filepath.Join(l.dir, entry.Name()),
			MediaKind:   strings.TrimPrefix(ext, "."),
			Modified:    info.ModTime().UnixMilli(),
			Size:        info.Size(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Modified != items[j].Modified {
			return items[i].Modified > items[j].Modified
		}
		return items[i].LocalID < items[j].LocalID
	})
	return items, nil
}
