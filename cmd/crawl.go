package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/plateful/reviewcrawler/internal/capture"
	clock "github.com/plateful/reviewcrawler/internal/clock/system"
	"github.com/plateful/reviewcrawler/internal/config"
	"github.com/plateful/reviewcrawler/internal/coordinator"
	"github.com/plateful/reviewcrawler/internal/extract"
	collyfetcher "github.com/plateful/reviewcrawler/internal/fetcher/colly"
	"github.com/plateful/reviewcrawler/internal/fetchpool"
	"github.com/plateful/reviewcrawler/internal/fingerprint"
	hashsha256 "github.com/plateful/reviewcrawler/internal/hash/sha256"
	"github.com/plateful/reviewcrawler/internal/imagecheck"
	"github.com/plateful/reviewcrawler/internal/logging"
	"github.com/plateful/reviewcrawler/internal/metrics"
	"github.com/plateful/reviewcrawler/internal/output"
	"github.com/plateful/reviewcrawler/internal/renderer"
)

// newCrawlCmd creates the crawl command, which runs one incremental pass
// over the configured seeds.
func newCrawlCmd() *cobra.Command {
	var (
		rebuild       bool
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one incremental crawl over the configured seeds.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if rebuild {
				cfg.Output.RebuildFingerprints = true
			}
			if metricsListen != "" {
				cfg.Metrics.Listen = metricsListen
			}

			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := runCrawl(ctx, cfg, logger)
			if err != nil {
				return err
			}

			out, _ := json.MarshalIndent(summary, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild-fingerprints", false,
		"discard the fingerprint index and recapture everything")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "",
		"serve Prometheus metrics on this address for the run's duration")

	return cmd
}

// runCrawl wires the engine together and executes one run.
func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger) (coordinator.Summary, error) {
	store, err := fingerprint.Open(cfg.Output.FingerprintFile, cfg.Output.RebuildFingerprints)
	if err != nil {
		return coordinator.Summary{}, err
	}
	defer store.Close() //nolint:errcheck
	logger.Info("fingerprint index loaded",
		zap.String("path", cfg.Output.FingerprintFile),
		zap.Int("entries", store.Len()),
	)

	if cfg.Metrics.Listen != "" {
		msrv, err := metrics.Serve(cfg.Metrics.Listen, logger)
		if err != nil {
			return coordinator.Summary{}, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := msrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics shutdown failed", zap.Error(err))
			}
		}()
	}

	writer, err := output.New(cfg.Output.Dir, store, logger)
	if err != nil {
		return coordinator.Summary{}, err
	}
	if err := writer.SweepStaging(); err != nil {
		logger.Warn("staging sweep failed", zap.Error(err))
	}

	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.RequestTimeout,
	})

	var pages capture.Fetcher = plain
	if cfg.Render.Enabled {
		rend, err := renderer.New(renderer.Config{
			UserAgent:          cfg.Crawler.UserAgent,
			Timeout:            cfg.Render.Timeout,
			MaxConcurrency:     cfg.Render.MaxConcurrency,
			ScrollStableRounds: cfg.Render.ScrollStableRounds,
		}, logger)
		if err != nil {
			return coordinator.Summary{}, err
		}
		defer rend.Close() //nolint:errcheck
		pages = rend
	}

	pool := fetchpool.New(fetchpool.Config{
		Concurrency:          cfg.Crawler.Concurrency,
		PerOriginConcurrency: cfg.Crawler.PerOriginConcurrency,
		PerOriginQPS:         cfg.Crawler.PerOriginQPS,
		RequestTimeout:       cfg.Crawler.RequestTimeout,
		MaxRetries:           cfg.Crawler.MaxRetries,
		BackoffInitial:       cfg.Crawler.BackoffInitial,
		BackoffMax:           cfg.Crawler.BackoffMax,
	}, pages, plain, hashsha256.New(), logger)

	validator := imagecheck.New(imagecheck.Config{
		MinBytes:       cfg.Images.MinBytes,
		MinWidth:       cfg.Images.MinWidth,
		MinHeight:      cfg.Images.MinHeight,
		AllowedFormats: cfg.Images.AllowedFormats,
		MaxAspectRatio: cfg.Images.MaxAspectRatio,
	})

	extractor := extract.New(extract.Config{LinkPattern: cfg.Crawler.LinkPattern})

	coord := coordinator.New(coordinator.Config{
		Concurrency:      cfg.Crawler.Concurrency,
		MaxDepth:         cfg.Crawler.MaxDepth,
		RecaptureChanged: cfg.Crawler.RecaptureChanged,
		StartDate:        cfg.Crawler.StartDate,
		EndDate:          cfg.Crawler.EndDate,
	}, store, pool, validator, extractor, writer, clock.New(), logger)

	summary, err := coord.Run(ctx, cfg.Crawler.Seeds)
	pool.Wait()
	if err != nil {
		return coordinator.Summary{}, err
	}
	return summary, nil
}
