package blob

import (
	"context"
	"unicode/utf8"
)

// CaptionLimit is the remote protocol's documented caption length bound,
// counted in characters, not bytes. Longer captions must be truncated
// before upload.
const CaptionLimit = 1024

// UploadResult identifies a stored blob and the message carrying it.
type UploadResult struct {
	RemoteID  string
	MessageID int64
}

// Attachment is one remote file seen while listing channel history. FileSize
// is nil when the listing did not expose it.
type Attachment struct {
	RemoteID  string
	MessageID int64
	FileName  string
	FileSize  *int64
	MimeType  string
	Timestamp int64
}

// Page is one slice of channel history. NextCursor is strictly monotonic so
// repeated scans make forward progress; an empty cursor means "from the
// beginning of the retained history".
type Page struct {
	Items      []Attachment
	HasMore    bool
	NextCursor string
}

// Client is the coarse remote blob surface the sync engine runs against.
// Implementations carry their destination (chat) and credentials; they
// enforce per-call timeouts themselves. Errors follow the package taxonomy:
// *TransportError for transient failures, *RejectedError for terminal ones,
// ErrNotFound for missing blobs on download.
type Client interface {
	Upload(ctx context.Context, payload []byte, fileName, caption string) (*UploadResult, error)
	Download(ctx context.Context, remoteID string) ([]byte, error)
	DeleteMessage(ctx context.Context, messageID int64) (bool, error)
	ListRecentAttachments(ctx context.Context, limit int, cursor string) (*Page, error)
	ValidateDestination(ctx context.Context) error
}

// TruncateCaption bounds a caption to the protocol limit. The cut falls on
// a rune boundary so a multi-byte caption never ends mid-sequence.
func TruncateCaption(caption string) string {
	if utf8.RuneCountInString(caption) <= CaptionLimit {
		return caption
	}
	runes := []rune(caption)
	return string(runes[:CaptionLimit])
}
