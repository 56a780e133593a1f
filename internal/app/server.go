// Package app assembles and serves the identity core.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tessera-id/tessera/internal/authcode"
	"github.com/tessera-id/tessera/internal/ceremony"
	"github.com/tessera-id/tessera/internal/challenge"
	"github.com/tessera-id/tessera/internal/credential"
	"github.com/tessera-id/tessera/internal/httpapi"
	"github.com/tessera-id/tessera/internal/platform/metrics"
	"github.com/tessera-id/tessera/internal/storage/sqlite"
	"github.com/tessera-id/tessera/internal/token"
)

// Server hosts the HTTP identity service over a sqlite store.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	api        *httpapi.Server
	store      *sqlite.Store
}

// New creates a configured server listening on the provided address.
func New(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	metrics.Init()

	challenges := challenge.NewService(store)
	engine := ceremony.NewEngine(store, store, store, challenges)
	tokens := token.NewService(store, store, store)
	credentials := credential.NewManager(store)
	authcodes := authcode.NewIssuer(store)

	api := httpapi.NewServer(httpapi.LoadConfigFromEnv(), engine, tokens, credentials, authcodes, challenges, store)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		api:        api,
		store:      store,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, addr string) error {
	server, err := New(addr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.api.StartSweep(serveCtx)

	log.Printf("server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func openStore() (*sqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("TESSERA_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "tessera.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}
