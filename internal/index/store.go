package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Sync marks persisted in the sync_state table.
const (
	MarkScanCursor = "channel_scan_cursor"
	MarkLastBackup = "last_backup_at"
)

// Store is the local relational index of sync state. Every mutation is a
// single self-contained transaction; no transaction spans a network call.
type Store struct {
	dbPath string
	db     *sql.DB
	hub    *Hub
	ready  bool
}

// NewStore creates an index store for the given sqlite file.
func NewStore(dbPath string) *Store {
	return &Store{
		dbPath: dbPath,
		hub:    newHub(),
	}
}

// Initialize opens the database, verifies the connection and applies any
// pending schema migrations.
func (s *Store) Initialize(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.dbPath+"?cache=shared&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return fmt.Errorf("failed to ping database: %w", err)
	}
	s.db = db

	if err := migrateToLatest(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	s.hub.start(s)
	s.ready = true
	return nil
}

// Close stops the observer hub and closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.ready = false
		s.hub.stop()
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// IsReady returns whether the store accepts operations.
func (s *Store) IsReady() bool {
	return s.ready && s.db != nil
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if !s.IsReady() {
		return 0, fmt.Errorf("index not ready")
	}
	return schemaVersion(ctx, s.db)
}

// --- local photos ---

// UpsertLocalPhotos inserts or fully replaces local photo rows.
func (s *Store) UpsertLocalPhotos(ctx context.Context, photos ...LocalPhoto) error {
	if !s.IsReady() {
		return fmt.Errorf("index not ready")
	}
	if len(photos) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range photos {
		if p.LocalID == "" {
			return fmt.Errorf("local photo ID cannot be empty")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO photos (local_id, remote_id, media_kind, location_ref, date_modified)
			VALUES (?, ?, ?, ?, ?)`,
			p.LocalID, nullable(p.RemoteID), p.MediaKind, p.LocationRef, p.DateModified)
		if err != nil {
			return fmt.Errorf("failed to upsert local photo %s: %w", p.LocalID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.hub.notify()
	return nil
}

// RefreshLocalPhotos upserts rows from a device media scan without touching
// an already-assigned remote_id.
func (s *Store) RefreshLocalPhotos(ctx context.Context, photos ...LocalPhoto) error {
	if !s.IsReady() {
		return fmt.Errorf("index not ready")
	}
	if len(photos) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range photos {
		if p.LocalID == "" {
			return fmt.Errorf("local photo ID cannot be empty")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO photos (local_id, remote_id, media_kind, location_ref, date_modified)
			VALUES (?, NULL, ?, ?, ?)
			ON CONFLICT(local_id) DO UPDATE SET
				media_kind = excluded.media_kind,
				location_ref = excluded.location_ref,
				date_modified = excluded.date_modified`,
			p.LocalID, p.MediaKind, p.LocationRef, p.DateModified)
		if err != nil {
			return fmt.Errorf("failed to refresh local photo %s: %w", p.LocalID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.hub.notify()
	return nil
}

// LocalPhoto returns the row for localID, or nil when absent.
func (s *Store) LocalPhoto(ctx context.Context, localID string) (*LocalPhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT local_id, remote_id, media_kind, location_ref, date_modified
		FROM photos WHERE local_id = ?`, localID)
	p, err := scanLocalPhoto(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get local photo: %w", err)
	}
	return p, nil
}

// ListLocalPhotos returns one page ordered by most recently modified first.
func (s *Store) ListLocalPhotos(ctx context.Context, offset, limit int) ([]LocalPhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, remote_id, media_kind, location_ref, date_modified
		FROM photos ORDER BY date_modified DESC, local_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list local photos: %w", err)
	}
	return collectLocalPhotos(rows)
}

// AllLocalPhotos returns every local photo row, for backup export.
func (s *Store) AllLocalPhotos(ctx context.Context) ([]LocalPhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, remote_id, media_kind, location_ref, date_modified
		FROM photos ORDER BY date_modified DESC, local_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list local photos: %w", err)
	}
	return collectLocalPhotos(rows)
}

// CountLocalPhotos returns the number of local photo rows.
func (s *Store) CountLocalPhotos(ctx context.Context) (int, error) {
	return s.countQuery(ctx, "SELECT COUNT(*) FROM photos")
}

// RemoteIDsForLocals resolves, in one batched join, which of the given local
// ids are backed up. Dangling remote ids (photo trashed after upload) are
// excluded so callers see them as not backed up.
func (s *Store) RemoteIDsForLocals(ctx context.Context, localIDs []string) (map[string]string, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	result := make(map[string]string, len(localIDs))
	if len(localIDs) == 0 {
		return result, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(localIDs)), ",")
	args := make([]interface{}, len(localIDs))
	for i, id := range localIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.local_id, p.remote_id
		FROM photos p INNER JOIN remote_photos rp ON p.remote_id = rp.remote_id
		WHERE p.local_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve remote ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var localID, remoteID string
		if err := rows.Scan(&localID, &remoteID); err != nil {
			return nil, fmt.Errorf("failed to scan remote id row: %w", err)
		}
		result[localID] = remoteID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return result, nil
}

// ListNotBackedUp returns local photos with no live remote counterpart,
// including photos whose remote id dangles after a trash operation.
func (s *Store) ListNotBackedUp(ctx context.Context) ([]LocalPhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, remote_id, media_kind, location_ref, date_modified
		FROM photos
		WHERE remote_id IS NULL
		   OR remote_id NOT IN (SELECT remote_id FROM remote_photos)
		ORDER BY date_modified DESC, local_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos pending upload: %w", err)
	}
	return collectLocalPhotos(rows)
}

// --- remote photos ---

// UpsertRemotePhotos inserts or fully replaces remote photo rows, making
// upload commits idempotent under retry.
func (s *Store) UpsertRemotePhotos(ctx context.Context, photos ...RemotePhoto) error {
	if !s.IsReady() {
		return fmt.Errorf("index not ready")
	}
	if len(photos) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range photos {
		if err := upsertRemoteTx(ctx, tx, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.hub.notify()
	return nil
}

// CommitUpload records an upload result: the remote photo row and the local
// photo's remote_id link are written in one transaction so the two writes
// cannot be observed half-applied. localID may be empty for document uploads
// that have no device-side counterpart.
func (s *Store) CommitUpload(ctx context.Context, localID string, remote RemotePhoto) error {
	if !s.IsReady() {
		return fmt.Errorf("index not ready")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertRemoteTx(ctx, tx, remote); err != nil {
		return err
	}
	if localID != "" {
		_, err = tx.ExecContext(ctx,
			"UPDATE photos SET remote_id = ? WHERE local_id = ?", remote.RemoteID, localID)
		if err != nil {
			return fmt.Errorf("failed to link local photo %s: %w", localID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upload: %w", err)
	}
	s.hub.notify()
	return nil
}

// RemotePhoto returns the row for remoteID, or nil when absent.
func (s *Store) RemotePhoto(ctx context.Context, remoteID string) (*RemotePhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT remote_id, media_kind, file_name, file_size, uploaded_at,
		       thumbnail_cached, message_id, upload_channel
		FROM remote_photos WHERE remote_id = ?`, remoteID)
	p, err := scanRemotePhoto(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get remote photo: %w", err)
	}
	return p, nil
}

// ListRemotePhotos returns one page ordered by upload time descending.
func (s *Store) ListRemotePhotos(ctx context.Context, offset, limit int) ([]RemotePhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote_id, media_kind, file_name, file_size, uploaded_at,
		       thumbnail_cached, message_id, upload_channel
		FROM remote_photos ORDER BY uploaded_at DESC, remote_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote photos: %w", err)
	}
	return collectRemotePhotos(rows)
}

// AllRemotePhotos returns every remote photo row, for backup export.
func (s *Store) AllRemotePhotos(ctx context.Context) ([]RemotePhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote_id, media_kind, file_name, file_size, uploaded_at,
		       thumbnail_cached, message_id, upload_channel
		FROM remote_photos ORDER BY uploaded_at DESC, remote_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote photos: %w", err)
	}
	return collectRemotePhotos(rows)
}

// DeleteRemotePhoto removes a remote photo row.
func (s *Store) DeleteRemotePhoto(ctx context.Context, remoteID string) error {
	if !s.IsReady() {
		return fmt.Errorf("index not ready")
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM remote_photos WHERE remote_id = ?", remoteID)
	if err != nil {
		return fmt.Errorf("failed to delete remote photo: %w", err)
	}
	s.hub.notify()
	return nil
}

// CountRemotePhotos returns the number of remote photo rows.
func (s *Store) CountRemotePhotos(ctx context.Context) (int, error) {
	return s.countQuery(ctx, "SELECT COUNT(*) FROM remote_photos")
}

// TotalRemoteSize sums known remote file sizes.
func (s *Store) TotalRemoteSize(ctx context.Context) (int64, error) {
	return s.sumQuery(ctx, "SELECT COALESCE(SUM(file_size), 0) FROM remote_photos")
}

// SetThumbnailCached toggles the presentation hint on a remote photo.
func (s *Store) SetThumbnailCached(ctx context.Context, remoteID string, cached bool) error {
	if !s.IsReady() {
		return fmt.Errorf("index not ready")
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE remote_photos SET thumbnail_cached = ? WHERE remote_id = ?", cached, remoteID)
	if err != nil {
		return fmt.Errorf("failed to update thumbnail flag: %w", err)
	}
	return nil
}

// RemotePhotosWithoutSize returns rows whose byte size is still unknown.
func (s *Store) RemotePhotosWithoutSize(ctx context.Context) ([]RemotePhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote_id, media_kind, file_name, file_size, uploaded_at,
		       thumbnail_cached, message_id, upload_channel
		FROM remote_photos WHERE file_size IS NULL ORDER BY uploaded_at DESC, remote_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote photos without size: %w", err)
	}
	return collectRemotePhotos(rows)
}

// MergeScanned upserts channel-scan results. Known rows keep their upload
// channel and any field the scan could not see; unknown rows are inserted as
// discovered. Rows currently in the trash are left untouched so a scan never
// resurrects a trashed photo.
func (s *Store) MergeScanned(ctx context.Context, photos ...RemotePhoto) (int, error) {
	if !s.IsReady() {
		return 0, fmt.Errorf("index not ready")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	discovered := 0
	for _, p := range photos {
		var trashed int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM deleted_photos WHERE remote_id = ?", p.RemoteID).Scan(&trashed)
		if err != nil {
			return 0, fmt.Errorf("failed to check trash for %s: %w", p.RemoteID, err)
		}
		if trashed > 0 {
			continue
		}

		row := tx.QueryRowContext(ctx, `
			SELECT remote_id, media_kind, file_name, file_size, uploaded_at,
			       thumbnail_cached, message_id, upload_channel
			FROM remote_photos WHERE remote_id = ?`, p.RemoteID)
		existing, err := scanRemotePhoto(row)
		if err != nil && err != sql.ErrNoRows {
			return 0, fmt.Errorf("failed to read remote photo %s: %w", p.RemoteID, err)
		}

		merged := p
		if existing == nil {
			if merged.UploadChannel == "" {
				merged.UploadChannel = ChannelDiscovered
			}
			discovered++
		} else {
			merged.ThumbnailCached = existing.ThumbnailCached
			merged.UploadChannel = existing.UploadChannel
			if merged.FileSize == nil {
				merged.FileSize = existing.FileSize
			}
			if merged.FileName == "" {
				merged.FileName = existing.FileName
			}
			if merged.MessageID == 0 {
				merged.MessageID = existing.MessageID
			}
			merged.UploadedAt = existing.UploadedAt
		}
		if err := upsertRemoteTx(ctx, tx, merged); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.hub.notify()
	return discovered, nil
}

// ImportRemotePhotos upserts rows from a backup document. A remote id
// currently in the trash is skipped entirely, so importing a document
// exported before a trash operation cannot resurrect the photo or put the
// same id in both collections. Returns the number of rows imported.
func (s *Store) ImportRemotePhotos(ctx context.Context, photos ...RemotePhoto) (int, error) {
	if !s.IsReady() {
		return 0, fmt.Errorf("index not ready")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	imported := 0
	for _, p := range photos {
		var trashed int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM deleted_photos WHERE remote_id = ?", p.RemoteID).Scan(&trashed)
		if err != nil {
			return 0, fmt.Errorf("failed to check trash for %s: %w", p.RemoteID, err)
		}
		if trashed > 0 {
			continue
		}
		if err := upsertRemoteTx(ctx, tx, p); err != nil {
			return 0, err
		}
		imported++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.hub.notify()
	return imported, nil
}

// MissingOnDevice returns remote photos with no local counterpart: the set
// difference the download pipeline works through.
func (s *Store) MissingOnDevice(ctx context.Context) ([]RemotePhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT rp.remote_id, rp.media_kind, rp.file_name, rp.file_size, rp.uploaded_at,
		       rp.thumbnail_cached, rp.message_id, rp.upload_channel
		FROM remote_photos rp
		WHERE rp.remote_id NOT IN (SELECT remote_id FROM photos WHERE remote_id IS NOT NULL)
		ORDER BY rp.uploaded_at DESC, rp.remote_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos missing on device: %w", err)
	}
	return collectRemotePhotos(rows)
}

// --- trash ---

// MoveToTrash atomically moves a remote photo row to deleted_photos. The
// returned row carries the message id the caller needs for remote deletion.
func (s *Store) MoveToTrash(ctx context.Context, remoteID string, deletedAt int64) (*TrashedPhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT remote_id, media_kind, file_name, file_size, uploaded_at,
		       thumbnail_cached, message_id, upload_channel
		FROM remote_photos WHERE remote_id = ?`, remoteID)
	remote, err := scanRemotePhoto(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("remote photo %s not found", remoteID)
		}
		return nil, fmt.Errorf("failed to read remote photo: %w", err)
	}

	trashed := remote.Trashed(deletedAt)
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO deleted_photos
			(remote_id, media_kind, file_name, file_size, uploaded_at,
			 thumbnail_cached, message_id, upload_channel, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trashed.RemoteID, trashed.MediaKind, nullable(trashed.FileName), trashed.FileSize,
		trashed.UploadedAt, trashed.ThumbnailCached, nullableID(trashed.MessageID),
		nullable(trashed.UploadChannel), trashed.DeletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert trashed photo: %w", err)
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM remote_photos WHERE remote_id = ?", remoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove remote photo: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit trash move: %w", err)
	}
	s.hub.notify()
	return &trashed, nil
}

// RestoreFromTrash atomically moves a trashed row back to remote_photos.
func (s *Store) RestoreFromTrash(ctx context.Context, remoteID string) (*RemotePhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT remote_id, media_kind, file_name, file_size, uploaded_at,
		       thumbnail_cached, message_id, upload_channel, deleted_at
		FROM deleted_photos WHERE remote_id = ?`, remoteID)
	trashed, err := scanTrashedPhoto(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("trashed photo %s not found", remoteID)
		}
		return nil, fmt.Errorf("failed to read trashed photo: %w", err)
	}

	remote := trashed.Remote()
	if err := upsertRemoteTx(ctx, tx, remote); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM deleted_photos WHERE remote_id = ?", remoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove trashed photo: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit restore: %w", err)
	}
	s.hub.notify()
	return &remote, nil
}

// TrashedPhoto returns the trashed row for remoteID, or nil when absent.
func (s *Store) TrashedPhoto(ctx context.Context, remoteID string) (*TrashedPhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT remote_id, media_kind, file_name, file_size, uploaded_at,
		       thumbnail_cached, message_id, upload_channel, deleted_at
		FROM deleted_photos WHERE remote_id = ?`, remoteID)
	p, err := scanTrashedPhoto(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get trashed photo: %w", err)
	}
	return p, nil
}

// ListTrashedPhotos returns one page ordered by deletion time descending.
func (s *Store) ListTrashedPhotos(ctx context.Context, offset, limit int) ([]TrashedPhoto, error) {
	if !s.IsReady() {
		return nil, fmt.Errorf("index not ready")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote_id, media_kind, file_name, file_size, uploaded_at,
		       thumbnail_cached, message_id, upload_channel, deleted_at
		FROM deleted_photos ORDER BY deleted_at DESC, remote_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list trashed photos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []TrashedPhoto
	for rows.Next() {
		p, err := scanTrashedPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trashed photo: %w", err)
		}
		results = append(results, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return results, nil
}

// PurgeTrashedPhoto permanently removes a trashed row.
func (s *Store) PurgeTrashedPhoto(ctx context.Context, remoteID string) error {
	if !s.IsReady() {
		return fmt.Errorf("index not ready")
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM deleted_photos WHERE remote_id = ?", remoteID)
	if err != nil {
		return fmt.Errorf("failed to purge trashed photo: %w", err)
	}
	s.hub.notify()
	return nil
}

// CountTrashedPhotos returns the number of trashed rows.
func (s *Store) CountTrashedPhotos(ctx context.Context) (int, error) {
	return s.countQuery(ctx, "SELECT COUNT(*) FROM deleted_photos")
}

// TotalTrashedSize sums known trashed file sizes.
func (s *Store) TotalTrashedSize(ctx context.Context) (int64, error) {
	return s.sumQuery(ctx, "SELECT COALESCE(SUM(file_size), 0) FROM deleted_photos")
}

// --- sync marks ---

// SaveSyncMark persists a named progress marker, e.g. the channel scan cursor.
func (s *Store) SaveSyncMark(ctx context.Context, name, value string) error {
	if !s.IsReady() {
		return fmt.Errorf("index not ready")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_state (name, value, updated_at) VALUES (?, ?, ?)`,
		name, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save sync mark %s: %w", name, err)
	}
	return nil
}

// SyncMark returns the persisted marker value, or "" when never set.
func (s *Store) SyncMark(ctx context.Context, name string) (string, error) {
	if !s.IsReady() {
		return "", fmt.Errorf("index not ready")
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM sync_state WHERE name = ?", name).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get sync mark %s: %w", name, err)
	}
	return value, nil
}

// LatestMutation returns the newest timestamp across all three collections,
// used to decide whether the last backup is still current.
func (s *Store) LatestMutation(ctx context.Context) (int64, error) {
	if !s.IsReady() {
		return 0, fmt.Errorf("index not ready")
	}
	var latest int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(ts), 0) FROM (
			SELECT MAX(date_modified) AS ts FROM photos
			UNION ALL SELECT MAX(uploaded_at) FROM remote_photos
			UNION ALL SELECT MAX(deleted_at) FROM deleted_photos
		)`).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("failed to compute latest mutation: %w", err)
	}
	return latest, nil
}

// Stats computes the aggregate snapshot in one consistent read.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if !s.IsReady() {
		return stats, fmt.Errorf("index not ready")
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM photos),
			(SELECT COUNT(*) FROM remote_photos),
			(SELECT COUNT(*) FROM deleted_photos),
			(SELECT COALESCE(SUM(file_size), 0) FROM remote_photos),
			(SELECT COALESCE(SUM(file_size), 0) FROM deleted_photos)`).Scan(
		&stats.LocalCount, &stats.RemoteCount, &stats.TrashedCount,
		&stats.RemoteBytes, &stats.TrashedBytes)
	if err != nil {
		return stats, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

// Subscribe registers an aggregate observer. The returned cancel func must be
// called when the consumer goes away.
func (s *Store) Subscribe() (<-chan Stats, func()) {
	return s.hub.subscribe()
}

// --- helpers ---

func (s *Store) countQuery(ctx context.Context, query string) (int, error) {
	if !s.IsReady() {
		return 0, fmt.Errorf("index not ready")
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return count, nil
}

func (s *Store) sumQuery(ctx context.Context, query string) (int64, error) {
	if !s.IsReady() {
		return 0, fmt.Errorf("index not ready")
	}
	var sum int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum rows: %w", err)
	}
	return sum, nil
}

func upsertRemoteTx(ctx context.Context, tx *sql.Tx, p RemotePhoto) error {
	if p.RemoteID == "" {
		return fmt.Errorf("remote photo ID cannot be empty")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO remote_photos
			(remote_id, media_kind, file_name, file_size, uploaded_at,
			 thumbnail_cached, message_id, upload_channel)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RemoteID, p.MediaKind, nullable(p.FileName), p.FileSize,
		p.UploadedAt, p.ThumbnailCached, nullableID(p.MessageID), nullable(p.UploadChannel))
	if err != nil {
		return fmt.Errorf("failed to upsert remote photo %s: %w", p.RemoteID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLocalPhoto(row rowScanner) (*LocalPhoto, error) {
	p := &LocalPhoto{}
	var remoteID sql.NullString
	if err := row.Scan(&p.LocalID, &remoteID, &p.MediaKind, &p.LocationRef, &p.DateModified); err != nil {
		return nil, err
	}
	p.RemoteID = remoteID.String
	return p, nil
}

func scanRemotePhoto(row rowScanner) (*RemotePhoto, error) {
	p := &RemotePhoto{}
	var fileName, channel sql.NullString
	var fileSize, messageID sql.NullInt64
	err := row.Scan(&p.RemoteID, &p.MediaKind, &fileName, &fileSize,
		&p.UploadedAt, &p.ThumbnailCached, &messageID, &channel)
	if err != nil {
		return nil, err
	}
	p.FileName = fileName.String
	p.UploadChannel = channel.String
	p.MessageID = messageID.Int64
	if fileSize.Valid {
		size := fileSize.Int64
		p.FileSize = &size
	}
	return p, nil
}

func scanTrashedPhoto(row rowScanner) (*TrashedPhoto, error) {
	p := &TrashedPhoto{}
	var fileName, channel sql.NullString
	var fileSize, messageID sql.NullInt64
	err := row.Scan(&p.RemoteID, &p.MediaKind, &fileName, &fileSize, &p.UploadedAt,
		&p.ThumbnailCached, &messageID, &channel, &p.DeletedAt)
	if err != nil {
		return nil, err
	}
	p.FileName = fileName.String
	p.UploadChannel = channel.String
	p.MessageID = messageID.Int64
	if fileSize.Valid {
		size := fileSize.Int64
		p.FileSize = &size
	}
	return p, nil
}

func collectLocalPhotos(rows *sql.Rows) ([]LocalPhoto, error) {
	defer func() { _ = rows.Close() }()
	var results []LocalPhoto
	for rows.Next() {
		p, err := scanLocalPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan local photo: %w", err)
		}
		results = append(results, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return results, nil
}

func collectRemotePhotos(rows *sql.Rows) ([]RemotePhoto, error) {
	defer func() { _ = rows.Close() }()
	var results []RemotePhoto
	for rows.Next() {
		p, err := scanRemotePhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote photo: %w", err)
		}
		results = append(results, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return results, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}
