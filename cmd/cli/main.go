package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/akslabs/cloudgallery/internal/blob"
	"github.com/akslabs/cloudgallery/internal/config"
	"github.com/akslabs/cloudgallery/internal/index"
	"github.com/akslabs/cloudgallery/internal/media"
	"github.com/akslabs/cloudgallery/internal/pipeline"
	"github.com/akslabs/cloudgallery/internal/tasks"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	command := os.Args[1]
	if command == "help" {
		printUsage()
		return
	}
	if command == "version" {
		runVersion()
		return
	}

	_ = godotenv.Load()
	configPath := os.Getenv("CLOUDGALLERY_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	app, err := newApp(ctx, configPath)
	if err != nil {
		log.Fatalf("❌ Setup failed: %v", err)
	}
	defer app.close()

	switch command {
	case "validate":
		err = app.runValidate(ctx)
	case "sync-media":
		err = app.runSyncMedia(ctx)
	case "backup":
		err = app.runBackup(ctx)
	case "scan":
		err = app.runScan(ctx)
	case "restore-missing":
		err = app.runRestoreMissing(ctx)
	case "export":
		err = app.runExport(ctx, os.Args[2:])
	case "import":
		err = app.runImport(ctx, os.Args[2:])
	case "trash":
		err = app.runTrash(ctx, os.Args[2:])
	case "restore":
		err = app.runRestore(ctx, os.Args[2:])
	case "purge":
		err = app.runPurge(ctx, os.Args[2:])
	case "stats":
		err = app.runStats(ctx)
	default:
		fmt.Printf("❌ Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ Command %s failed: %v", command, err)
	}
}

func printUsage() {
	fmt.Println("cloudgallery - photo collection sync CLI")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  cloudgallery validate               - Validate credentials and destination")
	fmt.Println("  cloudgallery sync-media             - Refresh the index from the media directory")
	fmt.Println("  cloudgallery backup                 - Upload every photo not yet backed up")
	fmt.Println("  cloudgallery scan                   - Discover remote files from channel history")
	fmt.Println("  cloudgallery restore-missing        - Download photos absent from the device")
	fmt.Println("  cloudgallery export [file]          - Export the index (to the channel, or a file)")
	fmt.Println("  cloudgallery import <file|remoteId> - Merge an exported index")
	fmt.Println("  cloudgallery trash <remoteId>...    - Move remote photos to the trash")
	fmt.Println("  cloudgallery restore <remoteId>     - Restore a trashed photo")
	fmt.Println("  cloudgallery purge <remoteId>       - Permanently delete a trashed photo")
	fmt.Println("  cloudgallery stats                  - Show index statistics")
	fmt.Println("  cloudgallery version                - Show version information")
	fmt.Println("  cloudgallery help                   - Show this help message")
	fmt.Println()
	fmt.Println("Config file path comes from CLOUDGALLERY_CONFIG (default config.yaml).")
}

// app bundles the wired pipelines for one CLI invocation.
type app struct {
	cfg        *config.Config
	store      *index.Store
	client     blob.Client
	library    *media.Library
	uploader   *pipeline.Uploader
	downloader *pipeline.Downloader
	trash      *pipeline.Trash
	scanner    *pipeline.Scanner
	backup     *pipeline.Backup
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.NewManager().LoadFromFile(ctx, configPath)
	if err != nil {
		return nil, err
	}

	store := index.NewStore(cfg.Index.DatabasePath)
	if err := store.Initialize(ctx); err != nil {
		return nil, err
	}

	client, err := blob.NewTelegram(cfg.Remote.BotToken, cfg.Remote.ChatID)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	library := media.NewLibrary(cfg.Media.Dir, store)
	var caption pipeline.CaptionFunc
	if cfg.Sync.IncludeMetadataCaption {
		caption = pipeline.MetadataCaption
	}
	uploader := pipeline.NewUploader(store, client, cfg.Sync.CompressionThresholdMiB*1024*1024, caption)

	return &app{
		cfg:        cfg,
		store:      store,
		client:     client,
		library:    library,
		uploader:   uploader,
		downloader: pipeline.NewDownloader(store, client, library),
		trash:      pipeline.NewTrash(store, client),
		scanner:    pipeline.NewScanner(store, client, cfg.Sync.ScanPageSize, cfg.Sync.ScanPageBudget),
		backup:     pipeline.NewBackup(store, uploader, client),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		log.Printf("Index close failed: %v", err)
	}
}

func (a *app) runValidate(ctx context.Context) error {
	if err := a.client.ValidateDestination(ctx); err != nil {
		return err
	}
	fmt.Printf("✅ Destination chat %d is reachable\n", a.cfg.Remote.ChatID)
	return nil
}

func (a *app) runSyncMedia(ctx context.Context) error {
	synced, err := a.library.SyncToIndex(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Indexed %d media items from %s\n", synced, a.cfg.Media.Dir)
	return nil
}

func (a *app) runBackup(ctx context.Context) error {
	progress := &tasks.Progress{}
	if err := a.uploader.UploadPending(ctx, progress); err != nil {
		return err
	}
	fmt.Println("✅ Pending uploads completed")
	return nil
}

func (a *app) runScan(ctx context.Context) error {
	report, err := a.scanner.Scan(ctx, &tasks.Progress{})
	if err != nil {
		return err
	}
	fmt.Printf("✅ Scanned %d pages, %d attachments seen, %d newly discovered\n",
		report.Pages, report.Seen, report.Discovered)
	if report.SizesPending > 0 {
		fmt.Printf("   %d remote photos still missing a size, run scan again to backfill\n", report.SizesPending)
	}
	return nil
}

func (a *app) runRestoreMissing(ctx context.Context) error {
	if err := a.downloader.RestoreMissing(ctx, &tasks.Progress{}); err != nil {
		return err
	}
	fmt.Println("✅ Missing photos restored")
	return nil
}

func (a *app) runExport(ctx context.Context, args []string) error {
	if len(args) > 0 {
		if err := a.backup.ExportToFile(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✅ Index exported to %s\n", args[0])
		return nil
	}
	result, err := a.backup.ExportToRemote(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Index exported to the channel (remote id %s)\n", result.RemoteID)
	return nil
}

func (a *app) runImport(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("import needs a file path or remote id")
	}
	ref := args[0]
	if _, err := os.Stat(ref); err == nil {
		if err := a.backup.ImportFromFile(ctx, ref); err != nil {
			return err
		}
	} else if err := a.backup.ImportFromRemote(ctx, ref); err != nil {
		return err
	}
	fmt.Println("✅ Index merged")
	return nil
}

func (a *app) runTrash(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("trash needs at least one remote id")
	}
	if err := a.trash.MoveToTrash(ctx, &tasks.Progress{}, args...); err != nil {
		return err
	}
	fmt.Printf("✅ Moved %d photo(s) to the trash\n", len(args))
	return nil
}

func (a *app) runRestore(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("restore needs a remote id")
	}
	if err := a.trash.Restore(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("✅ Restored %s from the trash\n", args[0])
	return nil
}

func (a *app) runPurge(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("purge needs a remote id")
	}
	if err := a.trash.Purge(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("✅ Purged %s\n", args[0])
	return nil
}

func (a *app) runStats(ctx context.Context) error {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runVersion() {
	fmt.Println("cloudgallery version 1.0.0")
	fmt.Println("Photo collection sync engine")
}
