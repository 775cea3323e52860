package apihttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"filedrop/internal/domain"
	"filedrop/internal/services/negotiation"
	"filedrop/internal/services/status"
	"filedrop/internal/usecase"
)

type SendFileUseCase interface {
	Execute(ctx context.Context, input usecase.SendFileInput) (domain.DropRequest, error)
}

type AcceptRequestUseCase interface {
	Execute(ctx context.Context, input usecase.AcceptRequestInput) (domain.DropRequest, error)
}

type DeclineRequestUseCase interface {
	Execute(ctx context.Context, id domain.RequestID) error
}

type StopTransferUseCase interface {
	Execute(ctx context.Context, id domain.RequestID) error
}

// RequestQueries is the read side of the negotiator plus its live query.
type RequestQueries interface {
	Get(ctx context.Context, id domain.RequestID) (domain.DropRequest, error)
	ListPending(ctx context.Context, receiverAlias string) ([]domain.DropRequest, error)
	Subscribe(ctx context.Context, ownAlias string, onChange func(domain.RequestChange)) (*negotiation.Subscription, error)
}

type TransferQueries interface {
	Session(id domain.RequestID) (domain.TransferSession, bool)
	Sessions() []domain.TransferSession
	Status(id domain.RequestID) (domain.StatusEvent, error)
}

type SnapshotReader interface {
	Latest(ctx context.Context, id domain.RequestID) (domain.StatusEvent, error)
}

type ObserverRegistry interface {
	Attach(screen string, obs status.Observer) (detach func())
}

type AliasNamer interface {
	Alias(accountID string) string
}

type Server struct {
	sendFile       SendFileUseCase
	acceptRequest  AcceptRequestUseCase
	declineRequest DeclineRequestUseCase
	stopTransfer   StopTransferUseCase
	requests       RequestQueries
	transfers      TransferQueries
	snapshots      SnapshotReader
	observers      ObserverRegistry
	namer          AliasNamer
	allowedOrigins []string
	logger         *slog.Logger
	wsHub          *wsHub
	handler        http.Handler
}

type ServerOption func(*Server)

func WithAcceptRequest(uc AcceptRequestUseCase) ServerOption {
	return func(s *Server) {
		s.acceptRequest = uc
	}
}

func WithDeclineRequest(uc DeclineRequestUseCase) ServerOption {
	return func(s *Server) {
		s.declineRequest = uc
	}
}

func WithStopTransfer(uc StopTransferUseCase) ServerOption {
	return func(s *Server) {
		s.stopTransfer = uc
	}
}

func WithRequests(q RequestQueries) ServerOption {
	return func(s *Server) {
		s.requests = q
	}
}

func WithTransfers(q TransferQueries) ServerOption {
	return func(s *Server) {
		s.transfers = q
	}
}

// WithSnapshots enables the fallback to the last recorded status once a
// transfer is no longer tracked.
func WithSnapshots(r SnapshotReader) ServerOption {
	return func(s *Server) {
		s.snapshots = r
	}
}

// WithObservers enables status and error delivery over /ws.
func WithObservers(r ObserverRegistry) ServerOption {
	return func(s *Server) {
		s.observers = r
	}
}

func WithNamer(n AliasNamer) ServerOption {
	return func(s *Server) {
		s.namer = n
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(send SendFileUseCase, opts ...ServerOption) *Server {
	s := &Server{sendFile: send}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/identity/", s.handleIdentity)
	mux.HandleFunc("/requests", s.handleRequests)
	mux.HandleFunc("/requests/", s.handleRequestByID)
	mux.HandleFunc("/transfers", s.handleTransfers)
	mux.HandleFunc("/transfers/", s.handleTransferByID)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "filedrop",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/ws"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, requestIDMiddleware(rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced)))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects all WebSocket clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
