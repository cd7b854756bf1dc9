package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"aucradar/ingest-service/internal/events"
	"aucradar/ingest-service/internal/ingest"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/ops"
	"aucradar/ingest-service/internal/refresh"
	"aucradar/ingest-service/internal/scheduler"
)

type fakeOps struct {
	mu      sync.Mutex
	crawled []model.Source
	done    chan struct{}
}

func (f *fakeOps) RunCrawl(_ context.Context, req ingest.CrawlRequest) (*model.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crawled = append(f.crawled, req.Source)
	if req.Source == model.SourceOnbid {
		defer close(f.done)
		return nil, events.ErrLocked
	}
	return &model.CrawlJob{ID: 1, Source: req.Source, Status: model.JobSuccess}, nil
}

func (f *fakeOps) RunRefresh(context.Context, refresh.Request) (*model.CrawlJob, error) {
	return &model.CrawlJob{}, nil
}

func (f *fakeOps) DispatchPending(context.Context, int) (ops.DispatchResult, error) {
	return ops.DispatchResult{}, nil
}

func (f *fakeOps) RunAlertBatch(context.Context, string) (int, error) { return 0, nil }

func TestStart_RunsCrawlImmediately(t *testing.T) {
	f := &fakeOps{done: make(chan struct{})}
	s := scheduler.New(f, scheduler.Specs{
		Crawl:    "@every 6h",
		Dispatch: "@every 5m",
	}, []model.Source{model.SourceCourt, model.SourceOnbid}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("initial crawl did not run")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.crawled) != 2 || f.crawled[0] != model.SourceCourt || f.crawled[1] != model.SourceOnbid {
		t.Errorf("crawled = %v, want every source in order despite the lock error", f.crawled)
	}
}

func TestStart_InvalidSpec(t *testing.T) {
	s := scheduler.New(&fakeOps{}, scheduler.Specs{Refresh: "not a spec"}, nil, nil)
	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatal("Start accepted an invalid cron spec")
	}
}

func TestStart_EmptySpecsDisableJobs(t *testing.T) {
	f := &fakeOps{done: make(chan struct{})}
	s := scheduler.New(f, scheduler.Specs{}, []model.Source{model.SourceCourt}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.crawled) != 0 {
		t.Errorf("crawl ran with crawling disabled: %v", f.crawled)
	}
}
