package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/akslabs/cloudgallery/internal/api"
	"github.com/akslabs/cloudgallery/internal/blob"
	"github.com/akslabs/cloudgallery/internal/config"
	"github.com/akslabs/cloudgallery/internal/index"
	"github.com/akslabs/cloudgallery/internal/media"
	"github.com/akslabs/cloudgallery/internal/pipeline"
	"github.com/akslabs/cloudgallery/internal/tasks"
)

func main() {
	log.Println("Starting cloudgallery daemon...")

	// Optional .env for local development; credentials come through ${VAR}
	// substitution in the config file.
	_ = godotenv.Load()

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := config.NewManager()
	cfg, err := manager.LoadFromFile(ctx, configPath)
	if err != nil {
		log.Fatalf("Configuration load failed: %v", err)
	}

	store := index.NewStore(cfg.Index.DatabasePath)
	if err := store.Initialize(ctx); err != nil {
		log.Fatalf("Index initialization failed: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Index close failed: %v", err)
		}
	}()

	client, err := blob.NewTelegram(cfg.Remote.BotToken, cfg.Remote.ChatID)
	if err != nil {
		log.Fatalf("Remote client setup failed: %v", err)
	}
	if err := client.ValidateDestination(ctx); err != nil {
		log.Fatalf("Remote destination validation failed: %v", err)
	}
	log.Printf("Remote destination validated (chat %d)", cfg.Remote.ChatID)

	library := media.NewLibrary(cfg.Media.Dir, store)
	if synced, err := library.SyncToIndex(ctx); err != nil {
		log.Fatalf("Initial media scan failed: %v", err)
	} else {
		log.Printf("Media directory indexed: %d items", synced)
	}

	var caption pipeline.CaptionFunc
	if cfg.Sync.IncludeMetadataCaption {
		caption = pipeline.MetadataCaption
	}
	threshold := cfg.Sync.CompressionThresholdMiB * 1024 * 1024
	uploader := pipeline.NewUploader(store, client, threshold, caption)
	downloader := pipeline.NewDownloader(store, client, library)
	trash := pipeline.NewTrash(store, client)
	scanner := pipeline.NewScanner(store, client, cfg.Sync.ScanPageSize, cfg.Sync.ScanPageBudget)
	backup := pipeline.NewBackup(store, uploader, client)

	// Hot reload of tunables. Structural settings (paths, credentials,
	// listen address) still need a restart; the reload applies the sync
	// knobs to the running pipelines.
	changes := make(chan config.ChangeEvent, 4)
	if err := manager.WatchForChanges(ctx, configPath, changes); err != nil {
		log.Fatalf("Config watch failed: %v", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-changes:
				if event.Type == "config_error" {
					log.Printf("Config reload rejected, keeping previous settings: %s", event.Error)
					continue
				}
				updated := manager.Current()
				uploader.SetThreshold(updated.Sync.CompressionThresholdMiB * 1024 * 1024)
				scanner.SetPaging(updated.Sync.ScanPageSize, updated.Sync.ScanPageBudget)
				log.Printf("Config reloaded from %s", event.Path)
			}
		}
	}()

	scheduler := tasks.NewScheduler(ctx)

	// Periodic pipelines.
	scheduler.EnqueuePeriodic("upload-pending", time.Duration(cfg.Sync.PeriodicIntervalHours)*time.Hour, uploader.UploadPending)
	scheduler.EnqueuePeriodic("backup-export", time.Duration(cfg.Sync.BackupIntervalHours)*time.Hour,
		func(ctx context.Context, p *tasks.Progress) error {
			upToDate, err := backup.IsUpToDate(ctx)
			if err != nil {
				return err
			}
			if upToDate {
				return nil
			}
			_, err = backup.ExportToRemote(ctx)
			return err
		})

	// Instant uploads for new captures.
	watcher := media.NewWatcher(cfg.Media.Dir)
	if err := watcher.Start(ctx); err != nil {
		log.Fatalf("Media watcher failed: %v", err)
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			log.Printf("Media watcher stop failed: %v", err)
		}
	}()
	go func() {
		for localID := range watcher.Events() {
			id := localID
			if _, err := library.SyncToIndex(ctx); err != nil {
				log.Printf("Media rescan after %s failed: %v", id, err)
				continue
			}
			scheduler.Enqueue("upload", func(ctx context.Context, p *tasks.Progress) error {
				p.Set(0, 1)
				if err := uploader.UploadPhoto(ctx, id, index.ChannelInstant); err != nil {
					return err
				}
				p.Set(1, 1)
				return nil
			})
		}
	}()

	handler := api.NewHandler(store, library, uploader, downloader, trash, scanner, backup, scheduler)
	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: handler.Router(),
	}
	go func() {
		log.Printf("HTTP trigger surface listening on %s", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown failed: %v", err)
	}
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown failed: %v", err)
	}

	log.Println("cloudgallery daemon stopped")
}
