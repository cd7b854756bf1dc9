package grpcserver_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"aucradar/ingest-service/internal/events"
	"aucradar/ingest-service/internal/grpcserver"
	"aucradar/ingest-service/internal/ingest"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/ops"
	"aucradar/ingest-service/internal/refresh"
	"aucradar/ingest-service/internal/store"
)

type fakeOps struct {
	lastCrawl   ingest.CrawlRequest
	lastRefresh refresh.Request
	crawlErr    error
}

func (f *fakeOps) RunCrawl(_ context.Context, req ingest.CrawlRequest) (*model.CrawlJob, error) {
	f.lastCrawl = req
	if f.crawlErr != nil {
		return nil, f.crawlErr
	}
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return &model.CrawlJob{
		ID: 12, Kind: model.KindCrawl, Source: req.Source, Status: model.JobSuccess,
		StartedAt: &started, TotalFetched: 3, CreatedCount: 2, UpdatedCount: 1,
	}, nil
}

func (f *fakeOps) RunRefresh(_ context.Context, req refresh.Request) (*model.CrawlJob, error) {
	f.lastRefresh = req
	return &model.CrawlJob{ID: 13, Kind: model.KindRefresh, Status: model.JobSuccess}, nil
}

func (f *fakeOps) DispatchPending(context.Context, int) (ops.DispatchResult, error) {
	return ops.DispatchResult{}, fmt.Errorf("dispatch: %w", events.ErrLocked)
}

func (f *fakeOps) RunAlertBatch(_ context.Context, freq string) (int, error) {
	if freq == "hourly" {
		return 0, fmt.Errorf("%w: unknown frequency", ops.ErrInvalidArgument)
	}
	return 4, nil
}

func (f *fakeOps) GetJob(_ context.Context, id int64) (*model.CrawlJob, error) {
	return nil, store.ErrNotFound
}

func dial(t *testing.T, f *fakeOps) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	grpcserver.Register(gs, grpcserver.NewServer(f))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+grpcserver.ServiceName+"/"+method, req, out)
	return out, err
}

func TestRunCrawl(t *testing.T) {
	f := &fakeOps{}
	conn := dial(t, f)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-user-id", "42")

	out, err := invoke(ctx, conn, "RunCrawl", map[string]any{"source": "onbid", "days": 7, "dry_run": true})
	if err != nil {
		t.Fatalf("RunCrawl: %v", err)
	}
	if f.lastCrawl.Source != model.SourceOnbid || f.lastCrawl.Days != 7 || !f.lastCrawl.DryRun {
		t.Errorf("request = %+v", f.lastCrawl)
	}
	if f.lastCrawl.TriggeredBy == nil || *f.lastCrawl.TriggeredBy != 42 {
		t.Errorf("TriggeredBy = %v, want 42", f.lastCrawl.TriggeredBy)
	}
	fields := out.GetFields()
	if fields["id"].GetNumberValue() != 12 || fields["status"].GetStringValue() != "success" {
		t.Errorf("response = %v", out)
	}
	if fields["started_at"].GetStringValue() != "2025-03-01T09:00:00Z" {
		t.Errorf("started_at = %v", fields["started_at"])
	}
	if _, ok := fields["finished_at"]; ok {
		t.Error("unset finished_at should be omitted")
	}
}

func TestRunRefresh_OptionalSource(t *testing.T) {
	f := &fakeOps{}
	conn := dial(t, f)

	if _, err := invoke(context.Background(), conn, "RunRefresh", map[string]any{}); err != nil {
		t.Fatalf("RunRefresh: %v", err)
	}
	if f.lastRefresh.Source != nil || f.lastRefresh.TriggeredBy != nil {
		t.Errorf("request = %+v, want unfiltered system trigger", f.lastRefresh)
	}

	if _, err := invoke(context.Background(), conn, "RunRefresh", map[string]any{"source": "court"}); err != nil {
		t.Fatalf("RunRefresh: %v", err)
	}
	if f.lastRefresh.Source == nil || *f.lastRefresh.Source != model.SourceCourt {
		t.Errorf("source = %v, want court", f.lastRefresh.Source)
	}
}

func TestErrorMapping(t *testing.T) {
	f := &fakeOps{crawlErr: errors.New("pool closed")}
	conn := dial(t, f)
	ctx := context.Background()

	cases := []struct {
		method string
		in     map[string]any
		want   codes.Code
	}{
		{"RunCrawl", map[string]any{"source": "ebay"}, codes.InvalidArgument},
		{"RunCrawl", map[string]any{"source": "court"}, codes.Internal},
		{"RunRefresh", map[string]any{"source": "ebay"}, codes.InvalidArgument},
		{"DispatchPending", map[string]any{}, codes.Aborted},
		{"RunAlertBatch", map[string]any{"frequency": "hourly"}, codes.InvalidArgument},
		{"GetJob", map[string]any{"id": 0}, codes.InvalidArgument},
		{"GetJob", map[string]any{"id": 99}, codes.NotFound},
	}
	for _, c := range cases {
		_, err := invoke(ctx, conn, c.method, c.in)
		if got := status.Code(err); got != c.want {
			t.Errorf("%s(%v) code = %s, want %s", c.method, c.in, got, c.want)
		}
	}
}

func TestRunAlertBatch(t *testing.T) {
	conn := dial(t, &fakeOps{})
	out, err := invoke(context.Background(), conn, "RunAlertBatch", map[string]any{"frequency": "daily"})
	if err != nil {
		t.Fatalf("RunAlertBatch: %v", err)
	}
	if n := out.GetFields()["subscriptions"].GetNumberValue(); n != 4 {
		t.Errorf("subscriptions = %v, want 4", n)
	}
}

func TestHealth(t *testing.T) {
	conn := dial(t, &fakeOps{})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %s", resp.GetStatus())
	}
}

func TestServiceDescMatchesProto(t *testing.T) {
	gs := grpc.NewServer()
	grpcserver.Register(gs, grpcserver.NewServer(&fakeOps{}))
	info, ok := gs.GetServiceInfo()[grpcserver.ServiceName]
	if !ok {
		t.Fatalf("%s not registered", grpcserver.ServiceName)
	}
	file, _ := info.Metadata.(string)
	src, err := os.ReadFile(filepath.Join("..", "..", "proto", filepath.FromSlash(file)))
	if err != nil {
		t.Fatalf("descriptor metadata %q: %v", file, err)
	}
	proto := string(src)

	name := grpcserver.ServiceName
	dot := strings.LastIndex(name, ".")
	pkg, svc := name[:dot], name[dot+1:]
	if !strings.Contains(proto, "package "+pkg+";") || !strings.Contains(proto, "service "+svc+" {") {
		t.Errorf("%s does not declare %s", file, name)
	}
	if got := strings.Count(proto, "  rpc "); got != len(info.Methods) {
		t.Errorf("proto declares %d rpcs, server registers %d", got, len(info.Methods))
	}
	for _, m := range info.Methods {
		want := "rpc " + m.Name + "(google.protobuf.Struct) returns (google.protobuf.Struct);"
		if !strings.Contains(proto, want) {
			t.Errorf("%s missing %q", file, want)
		}
	}
}
