package index

// Upload channel tags recorded on remote photo rows.
const (
	ChannelInstant    = "instant"
	ChannelPeriodic   = "periodic"
	ChannelDiscovered = "discovered"
)

// LocalPhoto is a photo known to exist in the device media collection.
// RemoteID is empty until the photo has been uploaded. A RemoteID that no
// longer matches a RemotePhoto row (because the photo was trashed) is
// dangling and readers must treat the photo as not backed up.
type LocalPhoto struct {
	LocalID      string `json:"localId"`
	RemoteID     string `json:"remoteId,omitempty"`
	MediaKind    string `json:"mediaKind"`
	LocationRef  string `json:"locationRef"`
	DateModified int64  `json:"dateModified"`
}

// RemotePhoto is a photo stored in the remote blob channel. FileSize is nil
// until backfilled by a channel scan. MessageID is zero when the carrying
// message is unknown, in which case the remote copy cannot be deleted.
type RemotePhoto struct {
	RemoteID        string `json:"remoteId"`
	MediaKind       string `json:"mediaKind"`
	FileName        string `json:"fileName,omitempty"`
	FileSize        *int64 `json:"fileSize,omitempty"`
	UploadedAt      int64  `json:"uploadedAt"`
	ThumbnailCached bool   `json:"thumbnailCached"`
	MessageID       int64  `json:"messageId,omitempty"`
	UploadChannel   string `json:"uploadChannel,omitempty"`
}

// TrashedPhoto mirrors RemotePhoto for soft-deleted items. A remote id lives
// in remote_photos or deleted_photos, never both.
type TrashedPhoto struct {
	RemoteID        string `json:"remoteId"`
	MediaKind       string `json:"mediaKind"`
	FileName        string `json:"fileName,omitempty"`
	FileSize        *int64 `json:"fileSize,omitempty"`
	UploadedAt      int64  `json:"uploadedAt"`
	ThumbnailCached bool   `json:"thumbnailCached"`
	MessageID       int64  `json:"messageId,omitempty"`
	UploadChannel   string `json:"uploadChannel,omitempty"`
	DeletedAt       int64  `json:"deletedAt"`
}

// Remote converts a trashed row back to its pre-trash shape.
func (t *TrashedPhoto) Remote() RemotePhoto {
	return RemotePhoto{
		RemoteID:        t.RemoteID,
		MediaKind:       t.MediaKind,
		FileName:        t.FileName,
		FileSize:        t.FileSize,
		UploadedAt:      t.UploadedAt,
		ThumbnailCached: t.ThumbnailCached,
		MessageID:       t.MessageID,
		UploadChannel:   t.UploadChannel,
	}
}

// Trashed converts a remote row to its trash-bin shape.
func (r *RemotePhoto) Trashed(deletedAt int64) TrashedPhoto {
	return TrashedPhoto{
		RemoteID:        r.RemoteID,
		MediaKind:       r.MediaKind,
		FileName:        r.FileName,
		FileSize:        r.FileSize,
		UploadedAt:      r.UploadedAt,
		ThumbnailCached: r.ThumbnailCached,
		MessageID:       r.MessageID,
		UploadChannel:   r.UploadChannel,
		DeletedAt:       deletedAt,
	}
}

// Stats is the aggregate snapshot emitted to observers.
type Stats struct {
	LocalCount   int   `json:"localCount"`
	RemoteCount  int   `json:"remoteCount"`
	TrashedCount int   `json:"trashedCount"`
	RemoteBytes  int64 `json:"remoteBytes"`
	TrashedBytes int64 `json:"trashedBytes"`
}
