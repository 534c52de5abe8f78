// Package api exposes the HTTP trigger surface. Mutating endpoints enqueue
// background tasks and answer immediately with a task snapshot; the caller
// polls the task endpoint or watches the stats stream for completion.
package api

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/akslabs/cloudgallery/internal/index"
	"github.com/akslabs/cloudgallery/internal/media"
	"github.com/akslabs/cloudgallery/internal/pipeline"
	"github.com/akslabs/cloudgallery/internal/tasks"
)

// Handler carries the wired pipelines behind the HTTP surface.
type Handler struct {
	store      *index.Store
	library    *media.Library
	uploader   *pipeline.Uploader
	downloader *pipeline.Downloader
	trash      *pipeline.Trash
	scanner    *pipeline.Scanner
	backup     *pipeline.Backup
	scheduler  *tasks.Scheduler
}

// NewHandler wires the HTTP handler.
func NewHandler(store *index.Store, library *media.Library, uploader *pipeline.Uploader,
	downloader *pipeline.Downloader, trash *pipeline.Trash, scanner *pipeline.Scanner,
	backup *pipeline.Backup, scheduler *tasks.Scheduler) *Handler {
	return &Handler{
		store:      store,
		library:    library,
		uploader:   uploader,
		downloader: downloader,
		trash:      trash,
		scanner:    scanner,
		backup:     backup,
		scheduler:  scheduler,
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/photos", h.listPhotos)
		api.GET("/remote-photos", h.listRemotePhotos)
		api.PUT("/remote-photos/:remoteId/thumbnail", h.setThumbnail)
		api.GET("/trash", h.listTrash)
		api.GET("/stats", h.stats)
		api.GET("/stats/stream", h.statsStream)

		api.POST("/uploads/:localId", h.uploadOne)
		api.POST("/uploads", h.uploadPending)
		api.POST("/restore-missing", h.restoreMissing)
		api.POST("/scan", h.scan)

		api.POST("/backup/export", h.exportBackup)
		api.POST("/backup/import", h.importBackup)

		api.POST("/trash", h.moveToTrash)
		api.POST("/trash/:remoteId/restore", h.restoreFromTrash)
		api.DELETE("/trash/:remoteId", h.purge)

		api.GET("/tasks/:id", h.taskStatus)
		api.DELETE("/tasks/:id", h.cancelTask)
	}
	return r
}

func pagination(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

func (h *Handler) listPhotos(c *gin.Context) {
	offset, limit := pagination(c)
	items, err := h.library.List(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if items == nil {
		items = []media.Item{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "offset": offset, "limit": limit})
}

func (h *Handler) listRemotePhotos(c *gin.Context) {
	offset, limit := pagination(c)
	photos, err := h.store.ListRemotePhotos(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if photos == nil {
		photos = []index.RemotePhoto{}
	}
	c.JSON(http.StatusOK, gin.H{"items": photos, "offset": offset, "limit": limit})
}

func (h *Handler) listTrash(c *gin.Context) {
	offset, limit := pagination(c)
	photos, err := h.store.ListTrashedPhotos(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if photos == nil {
		photos = []index.TrashedPhoto{}
	}
	c.JSON(http.StatusOK, gin.H{"items": photos, "offset": offset, "limit": limit})
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// statsStream pushes index stats over SSE whenever the index mutates.
func (h *Handler) statsStream(c *gin.Context) {
	updates, cancel := h.store.Subscribe()
	defer cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case stats, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("stats", stats)
			return true
		}
	})
}

func (h *Handler) uploadOne(c *gin.Context) {
	localID := c.Param("localId")
	photo, err := h.store.LocalPhoto(c.Request.Context(), localID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if photo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown local photo"})
		return
	}
	handle := h.scheduler.Enqueue("upload", func(ctx context.Context, p *tasks.Progress) error {
		p.Set(0, 1)
		if err := h.uploader.UploadPhoto(ctx, localID, index.ChannelInstant); err != nil {
			return err
		}
		p.Set(1, 1)
		return nil
	})
	c.JSON(http.StatusAccepted, handle.Snapshot())
}

func (h *Handler) uploadPending(c *gin.Context) {
	handle := h.scheduler.Enqueue("upload-pending", h.uploader.UploadPending)
	c.JSON(http.StatusAccepted, handle.Snapshot())
}

func (h *Handler) restoreMissing(c *gin.Context) {
	handle := h.scheduler.Enqueue("restore-missing", h.downloader.RestoreMissing)
	c.JSON(http.StatusAccepted, handle.Snapshot())
}

func (h *Handler) scan(c *gin.Context) {
	handle := h.scheduler.Enqueue("channel-scan", func(ctx context.Context, p *tasks.Progress) error {
		_, err := h.scanner.Scan(ctx, p)
		return err
	})
	c.JSON(http.StatusAccepted, handle.Snapshot())
}

func (h *Handler) exportBackup(c *gin.Context) {
	handle := h.scheduler.Enqueue("backup-export", func(ctx context.Context, p *tasks.Progress) error {
		_, err := h.backup.ExportToRemote(ctx)
		return err
	})
	c.JSON(http.StatusAccepted, handle.Snapshot())
}

func (h *Handler) importBackup(c *gin.Context) {
	var input struct {
		RemoteID string `json:"remoteId"`
	}
	if err := c.ShouldBindJSON(&input); err != nil || input.RemoteID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "remoteId is required"})
		return
	}
	handle := h.scheduler.Enqueue("backup-import", func(ctx context.Context, p *tasks.Progress) error {
		return h.backup.ImportFromRemote(ctx, input.RemoteID)
	})
	c.JSON(http.StatusAccepted, handle.Snapshot())
}

func (h *Handler) moveToTrash(c *gin.Context) {
	var input struct {
		RemoteIDs []string `json:"remoteIds"`
	}
	if err := c.ShouldBindJSON(&input); err != nil || len(input.RemoteIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "remoteIds is required"})
		return
	}
	handle := h.scheduler.Enqueue("trash", func(ctx context.Context, p *tasks.Progress) error {
		return h.trash.MoveToTrash(ctx, p, input.RemoteIDs...)
	})
	c.JSON(http.StatusAccepted, handle.Snapshot())
}

func (h *Handler) restoreFromTrash(c *gin.Context) {
	remoteID := c.Param("remoteId")
	trashed, err := h.store.TrashedPhoto(c.Request.Context(), remoteID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if trashed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not in trash"})
		return
	}
	handle := h.scheduler.Enqueue("trash-restore", func(ctx context.Context, p *tasks.Progress) error {
		p.Set(0, 1)
		if err := h.trash.Restore(ctx, remoteID); err != nil {
			return err
		}
		p.Set(1, 1)
		return nil
	})
	c.JSON(http.StatusAccepted, handle.Snapshot())
}

func (h *Handler) purge(c *gin.Context) {
	remoteID := c.Param("remoteId")
	trashed, err := h.store.TrashedPhoto(c.Request.Context(), remoteID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if trashed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not in trash"})
		return
	}
	handle := h.scheduler.Enqueue("trash-purge", func(ctx context.Context, p *tasks.Progress) error {
		p.Set(0, 1)
		if err := h.trash.Purge(ctx, remoteID); err != nil {
			return err
		}
		p.Set(1, 1)
		return nil
	})
	c.JSON(http.StatusAccepted, handle.Snapshot())
}

// setThumbnail toggles the thumbnail-cached presentation hint on a live
// remote photo. A pure index flag, so it answers synchronously.
func (h *Handler) setThumbnail(c *gin.Context) {
	remoteID := c.Param("remoteId")
	var input struct {
		Cached *bool `json:"cached"`
	}
	if err := c.ShouldBindJSON(&input); err != nil || input.Cached == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cached is required"})
		return
	}
	photo, err := h.store.RemotePhoto(c.Request.Context(), remoteID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if photo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown remote photo"})
		return
	}
	if err := h.store.SetThumbnailCached(c.Request.Context(), remoteID, *input.Cached); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"remoteId": remoteID, "thumbnailCached": *input.Cached})
}

func (h *Handler) taskStatus(c *gin.Context) {
	handle, ok := h.scheduler.Handle(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	c.JSON(http.StatusOK, handle.Snapshot())
}

func (h *Handler) cancelTask(c *gin.Context) {
	if !h.scheduler.Cancel(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}
