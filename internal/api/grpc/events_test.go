package grpc

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/arkilian/eventlens/internal/config"
	"github.com/arkilian/eventlens/internal/query"
	"github.com/arkilian/eventlens/internal/query/aggregator"
	"github.com/arkilian/eventlens/internal/scope"
	"github.com/arkilian/eventlens/internal/store/memory"
	"github.com/arkilian/eventlens/pkg/types"
)

func newTestClient(t *testing.T) (*grpc.ClientConn, *query.Service) {
	t.Helper()
	st := memory.New()
	svc := query.NewService(st, scope.NewResolver(st, false), aggregator.NewEngine(nil), config.DefaultConfig().Query)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewEventsServer(svc, nil).Register(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent("eventlens-test"),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, svc
}

func TestIngestAndSummary(t *testing.T) {
	conn, svc := newTestClient(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-request-id", "req-1")

	event, err := structpb.NewStruct(map[string]interface{}{
		"event_name": "signup",
		"user_id":    "u1",
		"properties": map[string]interface{}{"plan": "pro"},
	})
	if err != nil {
		t.Fatal(err)
	}

	id := new(wrapperspb.Int64Value)
	if err := conn.Invoke(ctx, IngestMethod, event, id); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if id.GetValue() != 1 {
		t.Errorf("expected id 1, got %d", id.GetValue())
	}

	page, err := svc.ListEvents(context.Background(), 1, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	ev := page.Events[0]
	if types.StringValue(ev.UserID) != "u1" || types.StringValue(ev.IPAddress) == "" {
		t.Errorf("unexpected stored event %+v", ev)
	}
	if ua := types.StringValue(ev.UserAgent); len(ua) < len("eventlens-test") || ua[:len("eventlens-test")] != "eventlens-test" {
		t.Errorf("user agent not captured: %q", ua)
	}
	if v, ok := ev.Properties.Get("plan"); !ok || v.GetStringValue() != "pro" {
		t.Errorf("properties not stored: %v", ev.Properties.AsMap())
	}

	summary := new(structpb.Struct)
	if err := conn.Invoke(ctx, SummaryMethod, wrapperspb.String(""), summary); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	fields := summary.GetFields()
	if fields["total_events"].GetNumberValue() != 1 || fields["unique_users"].GetNumberValue() != 1 {
		t.Errorf("unexpected summary %v", summary.AsMap())
	}
}

func TestErrorCodes(t *testing.T) {
	conn, _ := newTestClient(t)
	ctx := context.Background()

	empty, _ := structpb.NewStruct(map[string]interface{}{"event_name": ""})
	err := conn.Invoke(ctx, IngestMethod, empty, new(wrapperspb.Int64Value))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}

	err = conn.Invoke(ctx, SummaryMethod, wrapperspb.String("ghost"), new(structpb.Struct))
	if status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}

	bad, _ := structpb.NewStruct(map[string]interface{}{"event_name": "x", "timestamp": "yesterday"})
	err = conn.Invoke(ctx, IngestMethod, bad, new(wrapperspb.Int64Value))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for bad timestamp, got %v", err)
	}
}
