// aucradar ingest-service
//
// Auction ingestion and alert pipeline:
//   - crawl   pulls court and onbid listings into the canonical listing table
//   - refresh re-checks the status of listings whose auction is still open
//   - alerts  sends digest notifications for daily/weekly subscriptions
//   - dispatch delivers queued per-listing notifications
//   - serve   runs all of the above on cron, plus the gRPC ops server,
//     the HTTP admin routes and /health and /metrics
//
// Publishes EVENT_LISTING_CREATED and EVENT_CRAWL_JOB_FINISHED to Redis.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"aucradar/ingest-service/internal/config"
	"aucradar/ingest-service/internal/grpcserver"
	"aucradar/ingest-service/internal/httpapi"
	"aucradar/ingest-service/internal/ingest"
	"aucradar/ingest-service/internal/logging"
	"aucradar/ingest-service/internal/metrics"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/refresh"
	"aucradar/ingest-service/internal/scheduler"
)

const (
	service = "ingest-service"
	version = "1.0.0"
)

const usage = `usage: ingest-service <command> [flags]

commands:
  serve                                       scheduler + gRPC ops server + HTTP health/metrics
  crawl --source S [--days N] [--note T] [--dry-run]
  refresh [--source S] [--note T]
  alerts [--frequency immediate|daily|weekly]
  dispatch [--limit N]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] Config error: %v\n", service, err)
		os.Exit(1)
	}
	logger := logging.Setup(service, cfg.LogLevel, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "crawl":
		err = crawl(ctx, cfg, logger, args)
	case "refresh":
		err = runRefresh(ctx, cfg, logger, args)
	case "alerts":
		err = alerts(ctx, cfg, logger, args)
	case "dispatch":
		err = dispatch(ctx, cfg, logger, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", "command", cmd, "err", err)
		stop()
		os.Exit(1)
	}
}

// ── serve ──────────────────────────────────────────────────────────────────

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	// ── Scheduler ───────────────────────────────────────────────────────────
	var sources []model.Source
	for _, s := range cfg.CrawlSources {
		src, ok := model.ParseSource(s)
		if !ok {
			return fmt.Errorf("CRAWL_SOURCES: unknown source %q", s)
		}
		sources = append(sources, src)
	}
	sched := scheduler.New(a.svc, scheduler.Specs{
		Crawl:       cfg.CrawlSpec,
		Refresh:     cfg.RefreshSpec,
		Dispatch:    cfg.DispatchSpec,
		DailyAlert:  cfg.DailyAlertSpec,
		WeeklyAlert: cfg.WeeklyAlertSpec,
	}, sources, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer sched.Stop()

	// ── HTTP server ─────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	httpapi.NewHandler(a.svc, logger).RegisterRoutes(mux)

	// No write timeout: admin routes block until the triggered job finishes.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── gRPC server ─────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	gs := grpc.NewServer()
	grpcserver.Register(gs, grpcserver.NewServer(a.svc))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP listening", "version", version, "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC listening", "port", cfg.GRPCPort)
		if err := gs.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// ── Graceful shutdown ───────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown error", "err", err)
		}
		gs.GracefulStop()
		return nil
	})

	err = g.Wait()
	logger.Info("Stopped.")
	return err
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": service,
		"version": version,
	})
}

// ── one-shot commands ──────────────────────────────────────────────────────

func crawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	src := fs.String("source", string(model.SourceCourt), "court or onbid")
	days := fs.Int("days", cfg.CrawlDays, "days ahead of today to crawl")
	note := fs.String("note", "", "free-text note stored on the job")
	dryRun := fs.Bool("dry-run", false, "fetch and count only, persist nothing")
	_ = fs.Parse(args)

	a, err := buildApp(ctx, cfg, logger, *dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.svc.RunCrawl(ctx, ingest.CrawlRequest{
		Source: model.Source(*src),
		Days:   *days,
		Note:   *note,
		DryRun: *dryRun,
	})
	if err != nil {
		return err
	}
	return report(logger, job)
}

func runRefresh(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	src := fs.String("source", "", "limit to court or onbid (default all)")
	note := fs.String("note", "", "free-text note stored on the job")
	_ = fs.Parse(args)

	req := refresh.Request{Note: *note}
	if *src != "" {
		s := model.Source(*src)
		req.Source = &s
	}

	a, err := buildApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.svc.RunRefresh(ctx, req)
	if err != nil {
		return err
	}
	return report(logger, job)
}

func alerts(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	freq := fs.String("frequency", "", "immediate, daily or weekly (default all)")
	_ = fs.Parse(args)

	a, err := buildApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.svc.RunAlertBatch(ctx, *freq)
	if err != nil {
		return err
	}
	logger.Info("Alert batch complete", "frequency", *freq, "subscriptions", n)
	return nil
}

func dispatch(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("dispatch", flag.ExitOnError)
	limit := fs.Int("limit", cfg.DispatchLimit, "maximum pending notifications to send")
	_ = fs.Parse(args)

	a, err := buildApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.DispatchPending(ctx, *limit)
	if err != nil {
		return err
	}
	logger.Info("Dispatch complete", "requeued", res.Requeued, "processed", res.Processed,
		"succeeded", res.Succeeded, "failed", res.Failed)
	return nil
}

// report logs a finished job and turns a FAILED job into an error.
func report(logger *slog.Logger, job *model.CrawlJob) error {
	logger.Info("Job finished",
		"job_id", job.ID, "kind", job.Kind, "source", job.Source, "status", job.Status,
		"fetched", job.TotalFetched, "created", job.CreatedCount, "updated", job.UpdatedCount, "failed", job.FailedCount)
	if job.Status == model.JobFailed {
		return fmt.Errorf("job %d failed: %s", job.ID, job.ErrorMessage)
	}
	return nil
}
