// Package grpcserver implements the OpsService gRPC server used by internal
// tooling to trigger pipeline runs and inspect job records.
//
// It delegates all work to ops.Service and handles only transport concerns:
// metadata extraction, error mapping, and conversion between domain records
// and the structpb messages carried on the wire.
package grpcserver

import (
	"context"
	"errors"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"aucradar/ingest-service/internal/events"
	"aucradar/ingest-service/internal/ingest"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/ops"
	"aucradar/ingest-service/internal/refresh"
	"aucradar/ingest-service/internal/source"
	"aucradar/ingest-service/internal/store"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "aucradar.ops.v1.OpsService"

// Ops is the pipeline surface exposed over gRPC.
type Ops interface {
	RunCrawl(ctx context.Context, req ingest.CrawlRequest) (*model.CrawlJob, error)
	RunRefresh(ctx context.Context, req refresh.Request) (*model.CrawlJob, error)
	DispatchPending(ctx context.Context, limit int) (ops.DispatchResult, error)
	RunAlertBatch(ctx context.Context, frequency string) (int, error)
	GetJob(ctx context.Context, id int64) (*model.CrawlJob, error)
}

// Server implements OpsService.
type Server struct {
	svc Ops
}

// NewServer constructs a gRPC Server backed by svc.
func NewServer(svc Ops) *Server {
	return &Server{svc: svc}
}

// Register adds OpsService and the standard health service to gs.
func Register(gs *grpc.Server, srv *Server) *health.Server {
	gs.RegisterService(&serviceDesc, srv)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return hs
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// RunCrawl runs one crawl job and returns its final record.
// Request fields: source (required), days, note, dry_run.
func (s *Server) RunCrawl(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	src, ok := model.ParseSource(stringField(req, "source"))
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "source must be court or onbid")
	}
	job, err := s.svc.RunCrawl(ctx, ingest.CrawlRequest{
		Source:      src,
		Days:        int(numberField(req, "days")),
		Note:        stringField(req, "note"),
		DryRun:      boolField(req, "dry_run"),
		TriggeredBy: triggeredBy(ctx),
	})
	if err != nil {
		return nil, toGRPCError(err)
	}
	return jobToStruct(job)
}

// RunRefresh runs one status refresh job. Request fields: source, note.
func (s *Server) RunRefresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := refresh.Request{Note: stringField(req, "note"), TriggeredBy: triggeredBy(ctx)}
	if v := stringField(req, "source"); v != "" {
		src, ok := model.ParseSource(v)
		if !ok {
			return nil, status.Error(codes.InvalidArgument, "source must be court or onbid")
		}
		r.Source = &src
	}
	job, err := s.svc.RunRefresh(ctx, r)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return jobToStruct(job)
}

// DispatchPending runs one queued-notification pass. Request fields: limit.
func (s *Server) DispatchPending(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.svc.DispatchPending(ctx, int(numberField(req, "limit")))
	if err != nil {
		return nil, toGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{
		"requeued":  res.Requeued,
		"processed": res.Processed,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
	})
}

// RunAlertBatch sends current matches to subscriptions of one frequency.
// Request fields: frequency (empty selects all).
func (s *Server) RunAlertBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.svc.RunAlertBatch(ctx, stringField(req, "frequency"))
	if err != nil {
		return nil, toGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{"subscriptions": n})
}

// GetJob returns one job record. Request fields: id.
func (s *Server) GetJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := int64(numberField(req, "id"))
	if id <= 0 {
		return nil, status.Error(codes.InvalidArgument, "id must be positive")
	}
	job, err := s.svc.GetJob(ctx, id)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return jobToStruct(job)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// triggeredBy reads the optional x-user-id metadata forwarded by the admin
// gateway. Missing or non-numeric values mean a system trigger.
func triggeredBy(ctx context.Context) *int64 {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	vals := md.Get("x-user-id")
	if len(vals) == 0 {
		return nil
	}
	id, err := strconv.ParseInt(vals[0], 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ops.ErrInvalidArgument), errors.Is(err, source.ErrUnknownSource):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, events.ErrLocked):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "internal server error")
}

// jobToStruct converts a job record to its wire form. Unset timestamps and
// the triggering user are omitted.
func jobToStruct(j *model.CrawlJob) (*structpb.Struct, error) {
	m := map[string]any{
		"id":            j.ID,
		"kind":          string(j.Kind),
		"source":        string(j.Source),
		"status":        string(j.Status),
		"total_fetched": j.TotalFetched,
		"created_count": j.CreatedCount,
		"updated_count": j.UpdatedCount,
		"failed_count":  j.FailedCount,
		"error_message": j.ErrorMessage,
		"note":          j.Note,
	}
	if !j.CreatedAt.IsZero() {
		m["created_at"] = j.CreatedAt.Format(time.RFC3339)
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339)
	}
	if j.TriggeredBy != nil {
		m["triggered_by"] = *j.TriggeredBy
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode job")
	}
	return out, nil
}

func stringField(s *structpb.Struct, key string) string {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func numberField(s *structpb.Struct, key string) float64 {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetNumberValue()
	}
	return 0
}

func boolField(s *structpb.Struct, key string) bool {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetBoolValue()
	}
	return false
}
