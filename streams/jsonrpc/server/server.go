// Package server exposes the pool system over JSON-RPC 2.0 on HTTP and
// WebSocket, including the state and swap subscriptions.
package server

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/mux"
)

const (
	// RpcNamespace is the namespace every AMM method is registered under.
	RpcNamespace = "amm"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	Backend        Backend
	Tokens         TokenSource
	Publisher      *Publisher
	Metrics        *Metrics
	Logger         Logger
	AllowedOrigins []string
}

func (c *Config) validate() error {
	if c.Backend == nil {
		return errors.New("config: Backend is required")
	}
	if c.Tokens == nil {
		return errors.New("config: Tokens is required")
	}
	if c.Publisher == nil {
		return errors.New("config: Publisher is required")
	}
	if c.Metrics == nil {
		return errors.New("config: Metrics is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

type Server struct {
	rpc    *rpc.Server
	router *mux.Router
	logger Logger
}

func New(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rpcServer := rpc.NewServer()
	api := &API{
		backend:   cfg.Backend,
		tokens:    cfg.Tokens,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if err := rpcServer.RegisterName(RpcNamespace, api); err != nil {
		return nil, err
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := mux.NewRouter()
	router.Handle("/", rpcServer).Methods(http.MethodPost)
	router.Handle("/ws", rpcServer.WebsocketHandler(origins))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Publisher.Latest() == nil {
			http.Error(w, "state not published yet", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return &Server{rpc: rpcServer, router: router, logger: cfg.Logger}, nil
}

// Handler serves JSON-RPC over HTTP POST on "/", WebSocket on "/ws" and a
// readiness probe on "/healthz".
func (s *Server) Handler() http.Handler {
	return s.router
}

// DialInProc returns a client attached directly to the server, without a network.
func (s *Server) DialInProc() *rpc.Client {
	return rpc.DialInProc(s.rpc)
}

// Stop closes all connections and cancels active subscriptions.
func (s *Server) Stop() {
	s.rpc.Stop()
}
