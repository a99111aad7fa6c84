package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/daniddm/padel-canaveral/internal/batch"
	"github.com/daniddm/padel-canaveral/internal/config"
	"github.com/daniddm/padel-canaveral/internal/logging"
	"github.com/daniddm/padel-canaveral/internal/shopify"
	"github.com/daniddm/padel-canaveral/internal/sync"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		sourceDir    = flag.String("source-dir", "", "directory with the batch CSV files (default: latest Extracción_* dir)")
		dryRun       = flag.Bool("dry-run", false, "log every decision without touching the store")
		disablePrune = flag.Bool("disable-prune", false, "skip deleting products absent from the batches")
		skipImages   = flag.Bool("skip-images", false, "skip image uploads")
	)
	flag.Parse()

	log, err := logging.New(os.Getenv("APP_ENV"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		return 1
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration error", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dir := *sourceDir
	if dir == "" {
		dir, err = batch.DiscoverLatestDir(".")
		if err != nil {
			log.Error("no source directory", zap.Error(err))
			return 1
		}
	}
	log.Info("starting catalog sync",
		zap.String("source_dir", dir),
		zap.Bool("dry_run", *dryRun),
		zap.Bool("skip_images", *skipImages))

	files, err := batch.ListFiles(dir)
	if err != nil {
		log.Error("failed to list batch files", zap.Error(err))
		return 1
	}
	if len(files) == 0 {
		log.Error("no CSV batch files found", zap.String("dir", dir))
		return 1
	}

	client := shopify.NewClient(shopify.Options{
		ShopDomain:       cfg.ShopDomain,
		AccessToken:      cfg.AccessToken,
		APIVersion:       cfg.APIVersion,
		RequestTimeout:   cfg.RequestTimeout,
		RateDelay:        cfg.RateDelay,
		MaxRetries:       cfg.MaxRetries,
		ImageMaxRetries:  cfg.ImageMaxRetries,
		ImageSettleDelay: cfg.ImageSettleDelay,
		ImageRetryStep:   cfg.ImageRetryStep,
		Logger:           log,
	})

	reconciler := sync.NewReconciler(client, log, sync.Options{
		ScraperTag:          cfg.ScraperTag,
		KeepDraftTag:        cfg.KeepDraftTag,
		IgnoreTags:          cfg.IgnoreTags,
		LocationName:        cfg.LocationName,
		PlaceholderKeywords: cfg.PlaceholderKeywords,
		DryRun:              *dryRun,
		SkipImages:          *skipImages,
	})
	loader := batch.NewLoader(log)

	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		groups, err := loader.ReadFile(file)
		if err != nil {
			log.Error("skipping unreadable batch file",
				zap.String("file", filepath.Base(file)),
				zap.Error(err))
			continue
		}
		log.Info("processing batch file",
			zap.String("file", filepath.Base(file)),
			zap.Int("products", len(groups)))
		if err := reconciler.Sync(ctx, groups); err != nil {
			break
		}
	}

	// Prune runs in dry-run too; it reports intended deletions without
	// issuing any.
	if ctx.Err() == nil && !*disablePrune {
		if _, err := reconciler.Prune(ctx); err != nil && ctx.Err() == nil {
			log.Error("prune failed", zap.Error(err))
		}
	}

	if failed := reconciler.FailedImages(); len(failed) > 0 {
		path, err := sync.WriteFailedImageReport(dir, failed)
		if err != nil {
			log.Error("failed to write image report", zap.Error(err))
		} else {
			log.Warn("some images could not be uploaded",
				zap.Int("count", len(failed)),
				zap.String("report", path))
		}
	}

	s := reconciler.Summary()
	log.Info("sync finished",
		zap.Int("created", s.Created),
		zap.Int("recreated", s.Recreated),
		zap.Int("updated", s.Updated),
		zap.Int("updated_price", s.UpdatedPrice),
		zap.Int("updated_stock", s.UpdatedStock),
		zap.Int("updated_image", s.UpdatedImage),
		zap.Int("skipped", s.Skipped),
		zap.Int("pruned", s.Pruned))

	if err := ctx.Err(); err != nil && errors.Is(err, context.Canceled) {
		log.Warn("interrupted, stopped between operations")
		return 130
	}
	return 0
}
