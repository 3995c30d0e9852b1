// Package grpc exposes event ingestion and summaries over gRPC.
//
// The service is declared by hand on protobuf well-known types, so clients
// need no generated stubs: an event is a google.protobuf.Struct with the same
// fields as the JSON API, and replies are wrappers or Structs.
package grpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/logging"
	"github.com/arkilian/eventlens/internal/query"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "eventlens.v1.Events"

// Full method names.
const (
	IngestMethod  = "/" + ServiceName + "/Ingest"
	SummaryMethod = "/" + ServiceName + "/Summary"
)

// EventsServer implements the events service on the query façade.
type EventsServer struct {
	svc    *query.Service
	logger *slog.Logger
}

// NewEventsServer creates a new gRPC events server.
func NewEventsServer(svc *query.Service, logger *slog.Logger) *EventsServer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &EventsServer{svc: svc, logger: logger.With("component", "grpc")}
}

// Register adds the service to s.
func (s *EventsServer) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Ingest stores one event and returns its id.
func (s *EventsServer) Ingest(ctx context.Context, in *structpb.Struct) (*wrapperspb.Int64Value, error) {
	requestID := extractRequestID(ctx)

	raw, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid event: %v", err)
	}
	var req query.IngestRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid event: %v", err)
	}
	req.IPAddress = peerIP(ctx)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ua := md.Get("user-agent"); len(ua) > 0 {
			req.UserAgent = ua[0]
		}
	}

	id, err := s.svc.Ingest(ctx, req)
	if err != nil {
		return nil, s.toStatus(err, requestID)
	}
	return wrapperspb.Int64(id), nil
}

// Summary returns the summary of the project named by in; an empty value
// selects the unscoped view.
func (s *EventsServer) Summary(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)

	summary, err := s.svc.GetSummary(ctx, in.GetValue())
	if err != nil {
		return nil, s.toStatus(err, requestID)
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode summary: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode summary: %v", err)
	}
	return out, nil
}

// toStatus maps a service error to a gRPC status.
func (s *EventsServer) toStatus(err error, requestID string) error {
	code := codes.Internal
	switch errors.GetCategory(err) {
	case errors.ErrCategoryValidation:
		code = codes.InvalidArgument
	case errors.ErrCategoryNotFound:
		code = codes.NotFound
	case errors.ErrCategoryPersistence:
		switch errors.GetCode(err) {
		case errors.CodeDuplicateSlug:
			code = codes.AlreadyExists
		case errors.CodeCancelled:
			code = codes.Canceled
		}
	}
	if code == codes.Internal {
		s.logger.Error("grpc request failed", "request_id", requestID, "error", err)
	}

	var ee *errors.EventlensError
	if errors.As(err, &ee) {
		return status.Errorf(code, "%s: %s", ee.Code, ee.Message)
	}
	return status.Error(code, "internal error")
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Ingest",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				s := srv.(*EventsServer)
				if interceptor == nil {
					return s.Ingest(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: IngestMethod}
				return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
					return s.Ingest(ctx, req.(*structpb.Struct))
				})
			},
		},
		{
			MethodName: "Summary",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(wrapperspb.StringValue)
				if err := dec(in); err != nil {
					return nil, err
				}
				s := srv.(*EventsServer)
				if interceptor == nil {
					return s.Summary(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SummaryMethod}
				return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
					return s.Summary(ctx, req.(*wrapperspb.StringValue))
				})
			},
		},
	},
	Streams: []grpc.StreamDesc{},
}
