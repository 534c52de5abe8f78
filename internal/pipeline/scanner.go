package pipeline

import (
	"context"
	"fmt"
	"log"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"github.com/akslabs/cloudgallery/internal/blob"
	"github.com/akslabs/cloudgallery/internal/index"
	"github.com/akslabs/cloudgallery/internal/tasks"
)

// Scanner pages through the remote channel history to discover files the
// index does not know about (uploads from another device) and to backfill
// sizes on rows that are missing them. The cursor is persisted after every
// page, so a crashed scan resumes where it stopped instead of rescanning
// the full history.
type Scanner struct {
	store  *index.Store
	client blob.Client

	mu         sync.Mutex
	pageSize   int
	pageBudget int
}

// Report summarizes one scan run. SizesPending counts index rows whose byte
// size is still unknown after the run; a non-zero value means another scan
// pass is needed to finish the size backfill.
type Report struct {
	Pages        int `json:"pages"`
	Seen         int `json:"seen"`
	Discovered   int `json:"discovered"`
	SizesPending int `json:"sizesPending"`
}

// NewScanner wires a scanner. pageSize and pageBudget fall back to sane
// defaults when non-positive.
func NewScanner(store *index.Store, client blob.Client, pageSize, pageBudget int) *Scanner {
	if pageSize <= 0 {
		pageSize = 100
	}
	if pageBudget <= 0 {
		pageBudget = 10
	}
	return &Scanner{store: store, client: client, pageSize: pageSize, pageBudget: pageBudget}
}

// SetPaging replaces the page size and budget for subsequent runs.
// Non-positive values keep the current setting.
func (s *Scanner) SetPaging(pageSize, pageBudget int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pageSize > 0 {
		s.pageSize = pageSize
	}
	if pageBudget > 0 {
		s.pageBudget = pageBudget
	}
}

func (s *Scanner) paging() (pageSize, pageBudget int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageSize, s.pageBudget
}

// Scan walks channel history from the persisted cursor until the remote
// reports no more data or the page budget is exhausted. Merged pages backfill
// missing sizes on known rows; the rows still lacking one afterwards are
// counted in the report so callers can tell whether the backfill converged.
func (s *Scanner) Scan(ctx context.Context, p *tasks.Progress) (*Report, error) {
	cursor, err := s.store.SyncMark(ctx, index.MarkScanCursor)
	if err != nil {
		return nil, err
	}

	pageSize, pageBudget := s.paging()
	report := &Report{}
	for report.Pages < pageBudget {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, err := s.client.ListRecentAttachments(ctx, pageSize, cursor)
		if err != nil {
			return report, fmt.Errorf("channel scan: %w", err)
		}
		report.Pages++
		report.Seen += len(page.Items)
		p.Set(report.Pages, pageBudget)

		if len(page.Items) > 0 {
			photos := make([]index.RemotePhoto, len(page.Items))
			for i, item := range page.Items {
				photos[i] = attachmentToRemote(item)
			}
			discovered, err := s.store.MergeScanned(ctx, photos...)
			if err != nil {
				return report, err
			}
			report.Discovered += discovered
		}

		if page.NextCursor != "" && page.NextCursor != cursor {
			cursor = page.NextCursor
			if err := s.store.SaveSyncMark(ctx, index.MarkScanCursor, cursor); err != nil {
				return report, err
			}
		}
		if !page.HasMore {
			break
		}
	}

	withoutSize, err := s.store.RemotePhotosWithoutSize(ctx)
	if err != nil {
		return report, err
	}
	report.SizesPending = len(withoutSize)
	if report.SizesPending > 0 {
		log.Printf("channel scan: %d rows still missing size after %d pages", report.SizesPending, report.Pages)
	}
	return report, nil
}

// attachmentToRemote maps a listed attachment onto an index row. The media
// kind comes from the MIME type when present, else the file name.
func attachmentToRemote(item blob.Attachment) index.RemotePhoto {
	kind := ""
	if item.MimeType != "" {
		if exts, err := mime.ExtensionsByType(item.MimeType); err == nil && len(exts) > 0 {
			kind = strings.TrimPrefix(exts[0], ".")
		}
	}
	if kind == "" && item.FileName != "" {
		kind = strings.TrimPrefix(strings.ToLower(filepath.Ext(item.FileName)), ".")
	}
	if kind == "" {
		kind = "bin"
	}
	return index.RemotePhoto{
		RemoteID:   item.RemoteID,
		MediaKind:  kind,
		FileName:   item.FileName,
		FileSize:   item.FileSize,
		UploadedAt: item.Timestamp,
		MessageID:  item.MessageID,
	}
}
