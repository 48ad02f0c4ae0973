// Package admin serves the relay's optional operator surface on one listener.
//
// cmux splits the listener: HTTP/2 requests with a gRPC content type go to a
// gRPC server carrying the standard health service, everything else goes to
// an HTTP server whose routes are registered on a grpc-gateway ServeMux:
//
//	GET /v1/status   relay status as JSON
//	GET /v1/health   health as JSON
//	GET /metrics     Prometheus exposition
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"go.klb.dev/vdclip/internal/relay"
)

// ServiceName is the gRPC health service name that tracks the relay.
const ServiceName = "vdclip.Relay"

const shutdownTimeout = 5 * time.Second

// StatusSource reports relay status.
type StatusSource interface {
	Status() relay.Status
}

// Server is the admin listener.
type Server struct {
	ln      net.Listener
	src     StatusSource
	version string

	health *health.Server
	grpc   *grpc.Server
	http   *http.Server
}

// New builds a Server on ln. metrics may be nil to omit /metrics.
func New(ln net.Listener, src StatusSource, metrics http.Handler, version string) (*Server, error) {
	s := &Server{
		ln:      ln,
		src:     src,
		version: version,
		health:  health.NewServer(),
		grpc:    grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)

	mux := gwruntime.NewServeMux()
	routes := map[string]gwruntime.HandlerFunc{
		"/v1/status": s.handleStatus,
		"/v1/health": s.handleHealth,
	}
	if metrics != nil {
		routes["/metrics"] = func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			metrics.ServeHTTP(w, r)
		}
	}
	for path, h := range routes {
		if err := mux.HandlePath(http.MethodGet, path, h); err != nil {
			return nil, fmt.Errorf("route %s: %w", path, err)
		}
	}
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve runs until ctx is cancelled. The health service reports SERVING for
// the lifetime of the call and NOT_SERVING once shutdown starts.
func (s *Server) Serve(ctx context.Context) error {
	m := cmux.New(s.ln)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	slog.Info("admin listening", "addr", s.ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreClosed(ctx, s.grpc.Serve(grpcL)) })
	g.Go(func() error { return ignoreClosed(ctx, s.http.Serve(httpL)) })
	g.Go(func() error { return ignoreClosed(ctx, m.Serve()) })
	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.http.Shutdown(sctx)
		s.grpc.Stop()
		m.Close()
		return nil
	})
	return g.Wait()
}

func ignoreClosed(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil ||
		errors.Is(err, http.ErrServerClosed) ||
		errors.Is(err, grpc.ErrServerStopped) ||
		errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	st, err := statusStruct(s.src.Status(), s.version)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeProto(w, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.health.Check(r.Context(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	st, _ := structpb.NewStruct(map[string]any{"status": resp.GetStatus().String()})
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeProto(w, st)
}

func writeProto(w http.ResponseWriter, st *structpb.Struct) {
	b, err := protojson.Marshal(st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

// statusStruct renders st as a protobuf Struct.
func statusStruct(st relay.Status, version string) (*structpb.Struct, error) {
	peers := make([]any, 0, len(st.Peers))
	for _, p := range st.Peers {
		peers = append(peers, map[string]any{
			"id":           p.ID,
			"addr":         p.Addr,
			"caps":         p.Caps.String(),
			"connected_at": formatTime(p.ConnectedAt),
			"last_seen":    formatTime(p.LastSeen),
		})
	}
	return structpb.NewStruct(map[string]any{
		"version":    version,
		"addr":       st.Addr,
		"socket":     st.Socket,
		"backend":    st.Backend,
		"started_at": formatTime(st.Started),
		"peers":      peers,
		"clipboard": map[string]any{
			"size":       st.TextSize,
			"source":     st.Source,
			"updated_at": formatTime(st.UpdatedAt),
		},
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
