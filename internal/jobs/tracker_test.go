package jobs_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"aucradar/ingest-service/internal/jobs"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/store/memstore"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []map[string]any
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload["channel"] = channel
	p.events = append(p.events, payload)
}

func TestRun_Success(t *testing.T) {
	st := memstore.New()
	pub := &recordingPublisher{}
	tr := jobs.NewTracker(st, pub, nil)

	job, err := tr.Run(context.Background(), jobs.Spec{Kind: model.KindCrawl, Source: model.SourceOnbid, Note: "n"},
		func(_ context.Context, j *model.CrawlJob) error {
			if j.Status != model.JobRunning || j.StartedAt == nil {
				t.Errorf("job inside run = %s, started %v", j.Status, j.StartedAt)
			}
			j.TotalFetched = 3
			return nil
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	saved, _ := st.GetJob(context.Background(), job.ID)
	if saved.Status != model.JobSuccess || saved.TotalFetched != 3 || saved.FinishedAt == nil {
		t.Errorf("persisted job = %+v", saved)
	}
	if len(pub.events) != 1 || pub.events[0]["channel"] != "EVENT_CRAWL_JOB_FINISHED" || pub.events[0]["status"] != "success" {
		t.Errorf("events = %v", pub.events)
	}
}

func TestRun_ErrorTruncated(t *testing.T) {
	st := memstore.New()
	tr := jobs.NewTracker(st, nil, nil)

	long := strings.Repeat("오류", 800)
	job, err := tr.Run(context.Background(), jobs.Spec{Kind: model.KindRefresh, Source: model.SourceCourt},
		func(context.Context, *model.CrawlJob) error { return errors.New(long) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != model.JobFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if n := utf8.RuneCountInString(job.ErrorMessage); n != model.MaxJobErrorLen {
		t.Errorf("error message runes = %d, want %d", n, model.MaxJobErrorLen)
	}
}

func TestRun_PanicMarksFailed(t *testing.T) {
	st := memstore.New()
	tr := jobs.NewTracker(st, nil, nil)

	job, err := tr.Run(context.Background(), jobs.Spec{Kind: model.KindCrawl, Source: model.SourceCourt},
		func(context.Context, *model.CrawlJob) error { panic("nil map") })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	saved, _ := st.GetJob(context.Background(), job.ID)
	if saved.Status != model.JobFailed || !strings.Contains(saved.ErrorMessage, "nil map") {
		t.Errorf("persisted job = %+v", saved)
	}
}

func TestRun_CancelledContextStillPersists(t *testing.T) {
	st := memstore.New()
	tr := jobs.NewTracker(st, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	job, _ := tr.Run(ctx, jobs.Spec{Kind: model.KindCrawl, Source: model.SourceCourt},
		func(ctx context.Context, _ *model.CrawlJob) error {
			cancel()
			return ctx.Err()
		})
	saved, _ := st.GetJob(context.Background(), job.ID)
	if saved.Status != model.JobFailed || saved.FinishedAt == nil {
		t.Errorf("persisted job = %+v", saved)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to model.JobStatus
		want     bool
	}{
		{model.JobPending, model.JobRunning, true},
		{model.JobPending, model.JobFailed, true},
		{model.JobRunning, model.JobSuccess, true},
		{model.JobRunning, model.JobFailed, true},
		{model.JobPending, model.JobSuccess, false},
		{model.JobSuccess, model.JobFailed, false},
		{model.JobFailed, model.JobRunning, false},
	}
	for _, c := range cases {
		if got := model.CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s → %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
